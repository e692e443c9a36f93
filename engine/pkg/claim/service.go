// Package claim settles a player's accrued earn events into one on-ledger
// pool-to-player transfer. Claims are idempotent by construction: the claim
// id is derived from the exact set of covered events, so replaying a claim
// for the same coverage yields the same id instead of a second payout. A
// settlement whose outcome is unknown is reconciled against the ledger, never
// blindly resubmitted.
package claim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/particlerush/tokenengine/engine/pkg/accounts"
	"github.com/particlerush/tokenengine/engine/pkg/ledger"
	"github.com/particlerush/tokenengine/engine/pkg/metrics"
	"github.com/particlerush/tokenengine/engine/pkg/store"
)

var (
	// ErrNothingToClaim means the player has no uncovered unsettled events.
	ErrNothingToClaim = errors.New("nothing to claim")
	// ErrClaimUnresolved means a submitted settlement could not be
	// confirmed or refuted yet. The claim stays open and the next request
	// resumes reconciliation.
	ErrClaimUnresolved = errors.New("claim settlement unresolved")
)

// claimNamespace seeds deterministic claim id derivation.
var claimNamespace = uuid.MustParse("7c9e6679-7425-40de-944b-e07fc1f90ae7")

// Store is the slice of the record store the claim service needs.
type Store interface {
	OpenClaim(ctx context.Context, playerID string, deriveID func(eventIDs []uuid.UUID) uuid.UUID) (store.Claim, []store.EarnEvent, error)
	OpenClaimByPlayer(ctx context.Context, playerID string) (store.Claim, bool, error)
	GetClaim(ctx context.Context, claimID uuid.UUID) (store.Claim, error)
	MarkClaimSubmitted(ctx context.Context, claimID uuid.UUID, txRef string) error
	ConfirmClaimAndSettle(ctx context.Context, claimID uuid.UUID) error
	MarkClaimFailed(ctx context.Context, claimID uuid.UUID, reason string) error
	RevertClaimCoverage(ctx context.Context, claimID uuid.UUID) error
}

type Config struct {
	Logger   *slog.Logger
	Clock    clockwork.Clock
	Ledger   ledger.Client
	Store    Store
	Accounts *accounts.Cache

	// Confirmation polling: exponential backoff from PollBase capped at
	// PollCap, bounded overall by SettleTimeout.
	PollBase      time.Duration
	PollCap       time.Duration
	SettleTimeout time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Ledger == nil {
		return errors.New("ledger client is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Accounts == nil {
		return errors.New("accounts cache is required")
	}
	if cfg.PollBase <= 0 {
		cfg.PollBase = time.Second
	}
	if cfg.PollCap <= 0 {
		cfg.PollCap = 30 * time.Second
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = 2 * time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

type Service struct {
	log *slog.Logger
	cfg Config

	// One in-flight settlement per player. The second of two concurrent
	// claims waits here, then finds either nothing left to claim or an
	// open claim to resume.
	playersMu sync.Mutex
	players   map[string]*sync.Mutex
}

func NewService(cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Service{
		log:     cfg.Logger,
		cfg:     cfg,
		players: make(map[string]*sync.Mutex),
	}, nil
}

// DeriveClaimID computes the deterministic claim id for a coverage set. The
// input order does not matter; the same events always map to the same id.
func DeriveClaimID(playerID string, eventIDs []uuid.UUID) uuid.UUID {
	ids := make([]string, len(eventIDs))
	for i, id := range eventIDs {
		ids[i] = id.String()
	}
	sort.Strings(ids)
	return uuid.NewSHA1(claimNamespace, []byte(playerID+":"+strings.Join(ids, ",")))
}

// Claim settles everything the player has accrued. The player id doubles as
// the destination ledger address. On success the returned claim is confirmed;
// a definitive ledger rejection returns the failed claim and its cause; an
// unknown outcome returns ErrClaimUnresolved with the claim left open.
func (s *Service) Claim(ctx context.Context, playerID string) (store.Claim, error) {
	if playerID == "" {
		return store.Claim{}, errors.New("player id is required")
	}

	lock := s.playerLock(playerID)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()

	// An open claim from a previous request (crash, timeout, concurrent
	// caller) is resumed before any new coverage is considered.
	if open, ok, err := s.cfg.Store.OpenClaimByPlayer(ctx, playerID); err != nil {
		return store.Claim{}, err
	} else if ok {
		s.log.Info("claim: resuming open claim", "claim_id", open.ClaimID, "player_id", playerID, "status", string(open.Status))
		return s.resume(ctx, open, start)
	}

	claim, events, err := s.cfg.Store.OpenClaim(ctx, playerID, func(eventIDs []uuid.UUID) uuid.UUID {
		return DeriveClaimID(playerID, eventIDs)
	})
	if err != nil {
		return store.Claim{}, err
	}
	if len(events) == 0 {
		return store.Claim{}, fmt.Errorf("%w: player %s", ErrNothingToClaim, playerID)
	}

	s.log.Info("claim: opened",
		"claim_id", claim.ClaimID,
		"player_id", playerID,
		"amount", claim.RequestedAmount,
		"events", len(events))

	return s.settle(ctx, claim, start)
}

// GetClaim returns the current state of a claim.
func (s *Service) GetClaim(ctx context.Context, claimID uuid.UUID) (store.Claim, error) {
	return s.cfg.Store.GetClaim(ctx, claimID)
}

func (s *Service) resume(ctx context.Context, claim store.Claim, start time.Time) (store.Claim, error) {
	switch claim.Status {
	case store.ClaimStatusPending:
		// Opened but never submitted; settle it now.
		return s.settle(ctx, claim, start)
	case store.ClaimStatusSubmitted:
		return s.reconcile(ctx, claim, start)
	default:
		return claim, nil
	}
}

func (s *Service) settle(ctx context.Context, claim store.Claim, start time.Time) (store.Claim, error) {
	ref, err := s.cfg.Ledger.SubmitTransfer(ctx, s.cfg.Accounts.PoolAddress(), claim.PlayerID, claim.RequestedAmount)
	if err != nil {
		if errors.Is(err, ledger.ErrNetwork) {
			// Outcome unknown and no reference to reconcile against.
			// The claim stays pending; a later request resubmits.
			s.log.Warn("claim: submission outcome unknown", "claim_id", claim.ClaimID, "error", err)
			return claim, fmt.Errorf("%w: %v", ErrClaimUnresolved, err)
		}
		return s.fail(ctx, claim, fmt.Sprintf("ledger rejected settlement: %v", err), err)
	}

	if err := s.cfg.Store.MarkClaimSubmitted(ctx, claim.ClaimID, string(ref)); err != nil {
		return store.Claim{}, err
	}
	claim.Status = store.ClaimStatusSubmitted
	refStr := string(ref)
	claim.TxRef = &refStr

	status, err := s.awaitConfirmation(ctx, ref)
	if err == nil {
		switch status {
		case ledger.TxStatusConfirmed:
			return s.confirm(ctx, claim, start)
		case ledger.TxStatusFailed:
			return s.fail(ctx, claim, "settlement transaction failed on ledger", ledger.ErrRejectedByLedger)
		}
	}

	// Confirmation window elapsed without a verdict; reconcile instead of
	// resubmitting a transfer that may still land.
	return s.reconcile(ctx, claim, start)
}

func (s *Service) reconcile(ctx context.Context, claim store.Claim, start time.Time) (store.Claim, error) {
	if claim.TxRef == nil {
		return s.settle(ctx, claim, start)
	}

	status, err := s.cfg.Ledger.TransactionStatus(ctx, ledger.TxRef(*claim.TxRef))
	if err != nil {
		return claim, fmt.Errorf("%w: reconciliation failed for claim %s: %v", ErrClaimUnresolved, claim.ClaimID, err)
	}

	switch status {
	case ledger.TxStatusConfirmed:
		return s.confirm(ctx, claim, start)
	case ledger.TxStatusFailed:
		return s.fail(ctx, claim, "settlement transaction failed on ledger", ledger.ErrRejectedByLedger)
	case ledger.TxStatusNotFound:
		// The ledger never saw the transfer; the claim is safe to fail
		// and its coverage safe to release.
		return s.fail(ctx, claim, "settlement transaction never reached the ledger", nil)
	default:
		return claim, fmt.Errorf("%w: claim %s still pending on ledger", ErrClaimUnresolved, claim.ClaimID)
	}
}

func (s *Service) confirm(ctx context.Context, claim store.Claim, start time.Time) (store.Claim, error) {
	// One store transaction: a confirmed claim with unsettled coverage
	// would inflate the liability total forever.
	if err := s.cfg.Store.ConfirmClaimAndSettle(ctx, claim.ClaimID); err != nil {
		return store.Claim{}, err
	}
	s.cfg.Accounts.ApplyDelta(ctx, s.cfg.Accounts.PoolAddress(), -claim.RequestedAmount)

	claim.Status = store.ClaimStatusConfirmed
	metrics.ClaimsTotal.WithLabelValues("confirmed").Inc()
	metrics.ClaimSettlementDuration.Observe(time.Since(start).Seconds())
	s.log.Info("claim: confirmed", "claim_id", claim.ClaimID, "player_id", claim.PlayerID, "amount", claim.RequestedAmount)
	return claim, nil
}

func (s *Service) fail(ctx context.Context, claim store.Claim, reason string, cause error) (store.Claim, error) {
	if err := s.cfg.Store.MarkClaimFailed(ctx, claim.ClaimID, reason); err != nil {
		return store.Claim{}, err
	}
	// Release the coverage so the events remain claimable.
	if err := s.cfg.Store.RevertClaimCoverage(ctx, claim.ClaimID); err != nil {
		return store.Claim{}, err
	}

	claim.Status = store.ClaimStatusFailed
	claim.FailReason = &reason
	metrics.ClaimsTotal.WithLabelValues("failed").Inc()
	s.log.Warn("claim: failed", "claim_id", claim.ClaimID, "player_id", claim.PlayerID, "reason", reason)
	if cause != nil {
		return claim, fmt.Errorf("claim %s failed: %s: %w", claim.ClaimID, reason, cause)
	}
	return claim, fmt.Errorf("claim %s failed: %s", claim.ClaimID, reason)
}

func (s *Service) awaitConfirmation(ctx context.Context, ref ledger.TxRef) (ledger.TxStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SettleTimeout)
	defer cancel()

	backoff := s.cfg.PollBase
	for {
		status, err := s.cfg.Ledger.TransactionStatus(ctx, ref)
		if err == nil && (status == ledger.TxStatusConfirmed || status == ledger.TxStatusFailed) {
			return status, nil
		}
		if err != nil && !errors.Is(err, ledger.ErrNetwork) {
			return "", err
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("confirmation window elapsed for %s: %w", ref, ctx.Err())
		case <-s.cfg.Clock.After(backoff):
		}
		if backoff *= 2; backoff > s.cfg.PollCap {
			backoff = s.cfg.PollCap
		}
	}
}

func (s *Service) playerLock(playerID string) *sync.Mutex {
	s.playersMu.Lock()
	defer s.playersMu.Unlock()
	lock, ok := s.players[playerID]
	if !ok {
		lock = &sync.Mutex{}
		s.players[playerID] = lock
	}
	return lock
}
