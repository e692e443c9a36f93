package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/particlerush/tokenengine/engine/pkg/bridge"
	"github.com/particlerush/tokenengine/engine/pkg/chains"
	"github.com/particlerush/tokenengine/engine/pkg/claim"
	"github.com/particlerush/tokenengine/engine/pkg/earn"
	"github.com/particlerush/tokenengine/engine/pkg/policy"
	"github.com/particlerush/tokenengine/engine/pkg/server"
	"github.com/particlerush/tokenengine/engine/pkg/store"
	enginetesting "github.com/particlerush/tokenengine/utils/pkg/testing"
)

type mockEarn struct {
	RecordEarnFunc func(ctx context.Context, playerID string, amount int64, reason store.EarnReason) (store.EarnEvent, error)
}

func (m *mockEarn) RecordEarn(ctx context.Context, playerID string, amount int64, reason store.EarnReason) (store.EarnEvent, error) {
	return m.RecordEarnFunc(ctx, playerID, amount, reason)
}

type mockClaims struct {
	ClaimFunc    func(ctx context.Context, playerID string) (store.Claim, error)
	GetClaimFunc func(ctx context.Context, claimID uuid.UUID) (store.Claim, error)
}

func (m *mockClaims) Claim(ctx context.Context, playerID string) (store.Claim, error) {
	return m.ClaimFunc(ctx, playerID)
}

func (m *mockClaims) GetClaim(ctx context.Context, claimID uuid.UUID) (store.Claim, error) {
	return m.GetClaimFunc(ctx, claimID)
}

type mockBridger struct {
	BridgeFunc      func(ctx context.Context, playerID string, destChain uint16, destAddress string, amount int64) (store.BridgeTransfer, error)
	GetTransferFunc func(ctx context.Context, transferID uuid.UUID) (store.BridgeTransfer, error)
}

func (m *mockBridger) Bridge(ctx context.Context, playerID string, destChain uint16, destAddress string, amount int64) (store.BridgeTransfer, error) {
	return m.BridgeFunc(ctx, playerID, destChain, destAddress, amount)
}

func (m *mockBridger) GetTransfer(ctx context.Context, transferID uuid.UUID) (store.BridgeTransfer, error) {
	return m.GetTransferFunc(ctx, transferID)
}

type mockCycles struct {
	ListCyclesFunc func(ctx context.Context, limit int) ([]store.MintCycle, error)
}

func (m *mockCycles) ListCycles(ctx context.Context, limit int) ([]store.MintCycle, error) {
	return m.ListCyclesFunc(ctx, limit)
}

type mockBalances struct {
	pool, owner int64
}

func (m *mockBalances) PoolBalance(context.Context) (int64, error)  { return m.pool, nil }
func (m *mockBalances) OwnerBalance(context.Context) (int64, error) { return m.owner, nil }

type testDeps struct {
	earn     *mockEarn
	claims   *mockClaims
	bridger  *mockBridger
	cycles   *mockCycles
	balances *mockBalances
	ready    bool
}

func defaultDeps() *testDeps {
	return &testDeps{
		earn: &mockEarn{
			RecordEarnFunc: func(_ context.Context, playerID string, amount int64, reason store.EarnReason) (store.EarnEvent, error) {
				return store.EarnEvent{EventID: uuid.New(), PlayerID: playerID, Amount: amount, Reason: reason}, nil
			},
		},
		claims: &mockClaims{
			ClaimFunc: func(_ context.Context, playerID string) (store.Claim, error) {
				return store.Claim{ClaimID: uuid.New(), PlayerID: playerID, RequestedAmount: 75, Status: store.ClaimStatusConfirmed}, nil
			},
			GetClaimFunc: func(_ context.Context, claimID uuid.UUID) (store.Claim, error) {
				return store.Claim{}, fmt.Errorf("claim %s: %w", claimID, store.ErrNotFound)
			},
		},
		bridger: &mockBridger{
			BridgeFunc: func(_ context.Context, playerID string, destChain uint16, _ string, amount int64) (store.BridgeTransfer, error) {
				return store.BridgeTransfer{TransferID: uuid.New(), PlayerID: playerID, DestChain: destChain, Amount: amount, Status: store.BridgeStatusMintedDest}, nil
			},
			GetTransferFunc: func(_ context.Context, transferID uuid.UUID) (store.BridgeTransfer, error) {
				return store.BridgeTransfer{}, fmt.Errorf("bridge transfer %s: %w", transferID, store.ErrNotFound)
			},
		},
		cycles: &mockCycles{
			ListCyclesFunc: func(context.Context, int) ([]store.MintCycle, error) {
				return []store.MintCycle{{CycleID: 1, TotalMinted: 1_000, OwnerShare: 200, PoolShare: 800, Status: store.CycleStatusConfirmed}}, nil
			},
		},
		balances: &mockBalances{pool: 800, owner: 200},
		ready:    true,
	}
}

func newTestServer(t *testing.T, deps *testDeps) http.Handler {
	t.Helper()
	s, err := server.New(server.Config{
		Logger:      enginetesting.NewLogger(),
		ListenAddr:  "127.0.0.1:0",
		VersionInfo: server.VersionInfo{Version: "test"},
		Earn:        deps.earn,
		Claims:      deps.claims,
		Bridger:     deps.bridger,
		Cycles:      deps.cycles,
		Balances:    deps.balances,
		Ready:       func(context.Context) bool { return deps.ready },
	})
	require.NoError(t, err)
	return s.Routes()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestEngine_Server_Earn(t *testing.T) {
	t.Parallel()

	t.Run("records an earn event", func(t *testing.T) {
		t.Parallel()

		h := newTestServer(t, defaultDeps())
		rec := doJSON(t, h, http.MethodPost, "/api/earn", map[string]any{
			"player_id": "player-1", "amount": 25, "reason": "particle_collected",
		})
		require.Equal(t, http.StatusCreated, rec.Code)

		var resp struct {
			PlayerID string `json:"player_id"`
			Amount   int64  `json:"amount"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, "player-1", resp.PlayerID)
		require.Equal(t, int64(25), resp.Amount)
	})

	t.Run("maps admission errors to statuses", func(t *testing.T) {
		t.Parallel()

		cases := []struct {
			err  error
			want int
		}{
			{earn.ErrInvalidAmount, http.StatusBadRequest},
			{earn.ErrUnknownReason, http.StatusBadRequest},
			{earn.ErrRateLimited, http.StatusTooManyRequests},
			{earn.ErrPoolExhausted, http.StatusConflict},
		}
		for _, tc := range cases {
			deps := defaultDeps()
			deps.earn.RecordEarnFunc = func(context.Context, string, int64, store.EarnReason) (store.EarnEvent, error) {
				return store.EarnEvent{}, tc.err
			}
			h := newTestServer(t, deps)
			rec := doJSON(t, h, http.MethodPost, "/api/earn", map[string]any{
				"player_id": "player-1", "amount": 25, "reason": "particle_collected",
			})
			require.Equal(t, tc.want, rec.Code, "error %v", tc.err)
		}
	})

	t.Run("rejects a missing player id", func(t *testing.T) {
		t.Parallel()

		h := newTestServer(t, defaultDeps())
		rec := doJSON(t, h, http.MethodPost, "/api/earn", map[string]any{"amount": 25})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestEngine_Server_Claim(t *testing.T) {
	t.Parallel()

	t.Run("returns a confirmed claim", func(t *testing.T) {
		t.Parallel()

		h := newTestServer(t, defaultDeps())
		rec := doJSON(t, h, http.MethodPost, "/api/claim", map[string]any{"player_id": "player-1"})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Status          string `json:"status"`
			RequestedAmount int64  `json:"requested_amount"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, "confirmed", resp.Status)
		require.Equal(t, int64(75), resp.RequestedAmount)
	})

	t.Run("nothing to claim is a conflict", func(t *testing.T) {
		t.Parallel()

		deps := defaultDeps()
		deps.claims.ClaimFunc = func(context.Context, string) (store.Claim, error) {
			return store.Claim{}, claim.ErrNothingToClaim
		}
		h := newTestServer(t, deps)
		rec := doJSON(t, h, http.MethodPost, "/api/claim", map[string]any{"player_id": "player-1"})
		require.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("an unresolved settlement is accepted, not failed", func(t *testing.T) {
		t.Parallel()

		deps := defaultDeps()
		deps.claims.ClaimFunc = func(_ context.Context, playerID string) (store.Claim, error) {
			return store.Claim{ClaimID: uuid.New(), PlayerID: playerID, Status: store.ClaimStatusSubmitted},
				fmt.Errorf("%w: still pending", claim.ErrClaimUnresolved)
		}
		h := newTestServer(t, deps)
		rec := doJSON(t, h, http.MethodPost, "/api/claim", map[string]any{"player_id": "player-1"})
		require.Equal(t, http.StatusAccepted, rec.Code)

		var resp struct {
			Status string `json:"status"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, "submitted", resp.Status)
	})

	t.Run("unknown claim id is not found", func(t *testing.T) {
		t.Parallel()

		h := newTestServer(t, defaultDeps())
		rec := doJSON(t, h, http.MethodGet, "/api/claims/"+uuid.NewString(), nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestEngine_Server_Bridge(t *testing.T) {
	t.Parallel()

	t.Run("returns a completed transfer", func(t *testing.T) {
		t.Parallel()

		h := newTestServer(t, defaultDeps())
		rec := doJSON(t, h, http.MethodPost, "/api/bridge", map[string]any{
			"player_id":    "player-1",
			"dest_chain":   2,
			"dest_address": "0x52908400098527886E0F7030069857D2E4169EE7",
			"amount":       10_000,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Status string `json:"status"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, "minted_dest", resp.Status)
	})

	t.Run("maps admission errors to statuses", func(t *testing.T) {
		t.Parallel()

		cases := []struct {
			err  error
			want int
		}{
			{fmt.Errorf("%w: got -5", policy.ErrInvalidAmount), http.StatusBadRequest},
			{chains.ErrUnsupportedChain, http.StatusBadRequest},
			{chains.ErrInvalidAddress, http.StatusBadRequest},
			{bridge.ErrFeeExceedsAmount, http.StatusBadRequest},
			{bridge.ErrInsufficientSettledBalance, http.StatusConflict},
		}
		for _, tc := range cases {
			deps := defaultDeps()
			deps.bridger.BridgeFunc = func(context.Context, string, uint16, string, int64) (store.BridgeTransfer, error) {
				return store.BridgeTransfer{}, tc.err
			}
			h := newTestServer(t, deps)
			rec := doJSON(t, h, http.MethodPost, "/api/bridge", map[string]any{
				"player_id":    "player-1",
				"dest_chain":   2,
				"dest_address": "0x52908400098527886E0F7030069857D2E4169EE7",
				"amount":       -5,
			})
			require.Equal(t, tc.want, rec.Code, "error %v", tc.err)
		}
	})

	t.Run("unknown transfer id is not found", func(t *testing.T) {
		t.Parallel()

		h := newTestServer(t, defaultDeps())
		rec := doJSON(t, h, http.MethodGet, "/api/bridges/"+uuid.NewString(), nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestEngine_Server_Infra(t *testing.T) {
	t.Parallel()

	t.Run("healthz is always ok", func(t *testing.T) {
		t.Parallel()

		h := newTestServer(t, defaultDeps())
		rec := doJSON(t, h, http.MethodGet, "/healthz", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("readyz follows the engine readiness", func(t *testing.T) {
		t.Parallel()

		deps := defaultDeps()
		deps.ready = false
		h := newTestServer(t, deps)
		rec := doJSON(t, h, http.MethodGet, "/readyz", nil)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("version reports build info", func(t *testing.T) {
		t.Parallel()

		h := newTestServer(t, defaultDeps())
		rec := doJSON(t, h, http.MethodGet, "/version", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp server.VersionInfo
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, "test", resp.Version)
	})

	t.Run("cycles and balances read endpoints", func(t *testing.T) {
		t.Parallel()

		h := newTestServer(t, defaultDeps())

		rec := doJSON(t, h, http.MethodGet, "/api/cycles?limit=10", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var cycles []struct {
			CycleID int64 `json:"cycle_id"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cycles))
		require.Len(t, cycles, 1)

		rec = doJSON(t, h, http.MethodGet, "/api/balances", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var balances struct {
			Pool  int64 `json:"pool"`
			Owner int64 `json:"owner"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &balances))
		require.Equal(t, int64(800), balances.Pool)
		require.Equal(t, int64(200), balances.Owner)
	})
}
