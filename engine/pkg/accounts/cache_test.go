package accounts_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/particlerush/tokenengine/engine/pkg/accounts"
	"github.com/particlerush/tokenengine/engine/pkg/ledger"
	"github.com/particlerush/tokenengine/engine/pkg/store"
	enginetesting "github.com/particlerush/tokenengine/utils/pkg/testing"
)

const (
	poolAddr  = "pool-account"
	ownerAddr = "owner-account"
)

type memAccountStore struct {
	mu   sync.Mutex
	rows map[string]store.Account
}

func newMemAccountStore() *memAccountStore {
	return &memAccountStore{rows: make(map[string]store.Account)}
}

func (m *memAccountStore) GetAccount(_ context.Context, address string) (store.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[address]
	if !ok {
		return store.Account{}, store.ErrNotFound
	}
	return row, nil
}

func (m *memAccountStore) UpsertAccount(_ context.Context, address string, kind store.AccountKind, balance int64, syncedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[address] = store.Account{Address: address, Kind: kind, Balance: balance, SyncedAt: syncedAt}
	return nil
}

func (m *memAccountStore) AdjustAccountBalance(_ context.Context, address string, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[address]
	if !ok {
		return store.ErrNotFound
	}
	row.Balance += delta
	m.rows[address] = row
	return nil
}

// countingLedger counts authoritative balance reads.
type countingLedger struct {
	ledger.Client
	reads atomic.Int64
}

func (c *countingLedger) GetBalance(ctx context.Context, address string) (int64, error) {
	c.reads.Add(1)
	return c.Client.GetBalance(ctx, address)
}

func newTestCache(t *testing.T, lc ledger.Client, clock clockwork.Clock, ttl time.Duration) (*accounts.Cache, *memAccountStore) {
	t.Helper()
	ms := newMemAccountStore()
	cache, err := accounts.New(accounts.Config{
		Logger:       enginetesting.NewLogger(),
		Clock:        clock,
		Ledger:       lc,
		Store:        ms,
		PoolAddress:  poolAddr,
		OwnerAddress: ownerAddr,
		RefreshTTL:   ttl,
	})
	require.NoError(t, err)
	return cache, ms
}

func TestEngine_Accounts_Cache(t *testing.T) {
	t.Parallel()

	t.Run("reads through to the ledger on first access", func(t *testing.T) {
		t.Parallel()

		lc := &countingLedger{Client: ledger.NewMemoryClient(map[string]int64{poolAddr: 800})}
		clock := clockwork.NewFakeClock()
		cache, _ := newTestCache(t, lc, clock, 30*time.Second)

		balance, err := cache.PoolBalance(context.Background())
		require.NoError(t, err)
		require.Equal(t, int64(800), balance)
		require.Equal(t, int64(1), lc.reads.Load())

		// Within the TTL the cached row answers.
		balance, err = cache.PoolBalance(context.Background())
		require.NoError(t, err)
		require.Equal(t, int64(800), balance)
		require.Equal(t, int64(1), lc.reads.Load())
	})

	t.Run("refreshes once the row is stale", func(t *testing.T) {
		t.Parallel()

		mem := ledger.NewMemoryClient(map[string]int64{poolAddr: 800})
		lc := &countingLedger{Client: mem}
		clock := clockwork.NewFakeClock()
		cache, _ := newTestCache(t, lc, clock, 30*time.Second)

		_, err := cache.PoolBalance(context.Background())
		require.NoError(t, err)

		// The ledger moves while the cache holds the old value.
		_, err = mem.SubmitMint(context.Background(), poolAddr, 200)
		require.NoError(t, err)

		clock.Advance(31 * time.Second)

		balance, err := cache.PoolBalance(context.Background())
		require.NoError(t, err)
		require.Equal(t, int64(1_000), balance)
		require.Equal(t, int64(2), lc.reads.Load())
	})

	t.Run("optimistic delta is reconciled by the next refresh", func(t *testing.T) {
		t.Parallel()

		mem := ledger.NewMemoryClient(map[string]int64{poolAddr: 800, "player-1": 0})
		lc := &countingLedger{Client: mem}
		clock := clockwork.NewFakeClock()
		cache, ms := newTestCache(t, lc, clock, 30*time.Second)

		_, err := cache.PoolBalance(context.Background())
		require.NoError(t, err)

		// A confirmed settlement moves 75 out of the pool; the cache is
		// told and the ledger follows.
		_, err = mem.SubmitTransfer(context.Background(), poolAddr, "player-1", 75)
		require.NoError(t, err)
		cache.ApplyDelta(context.Background(), poolAddr, -75)

		row, err := ms.GetAccount(context.Background(), poolAddr)
		require.NoError(t, err)
		require.Equal(t, int64(725), row.Balance)

		balance, err := cache.PoolBalance(context.Background())
		require.NoError(t, err)
		require.Equal(t, int64(725), balance)
		require.Equal(t, int64(1), lc.reads.Load(), "delta keeps the row fresh enough")
	})

	t.Run("owner and pool are cached independently", func(t *testing.T) {
		t.Parallel()

		lc := &countingLedger{Client: ledger.NewMemoryClient(map[string]int64{poolAddr: 800, ownerAddr: 200})}
		clock := clockwork.NewFakeClock()
		cache, _ := newTestCache(t, lc, clock, 30*time.Second)

		pool, err := cache.PoolBalance(context.Background())
		require.NoError(t, err)
		owner, err := cache.OwnerBalance(context.Background())
		require.NoError(t, err)
		require.Equal(t, int64(800), pool)
		require.Equal(t, int64(200), owner)
		require.Equal(t, int64(2), lc.reads.Load())
	})
}
