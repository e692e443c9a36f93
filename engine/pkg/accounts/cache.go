// Package accounts maintains the advisory cached balances of the pool and
// owner accounts. The ledger is the source of truth; the cache exists so
// admission checks on the gameplay hot path do not pay a network round-trip.
// Reads go through the record store row and are refreshed from the ledger
// once the row is older than the TTL, which also self-heals any drift.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/particlerush/tokenengine/engine/pkg/ledger"
	"github.com/particlerush/tokenengine/engine/pkg/metrics"
	"github.com/particlerush/tokenengine/engine/pkg/store"
	"github.com/particlerush/tokenengine/utils/pkg/retry"
)

// Store is the slice of the record store the cache needs.
type Store interface {
	GetAccount(ctx context.Context, address string) (store.Account, error)
	UpsertAccount(ctx context.Context, address string, kind store.AccountKind, balance int64, syncedAt time.Time) error
	AdjustAccountBalance(ctx context.Context, address string, delta int64) error
}

type Config struct {
	Logger       *slog.Logger
	Clock        clockwork.Clock
	Ledger       ledger.Client
	Store        Store
	PoolAddress  string
	OwnerAddress string
	// RefreshTTL bounds how stale a cached balance may get before an
	// admission check forces an authoritative ledger read.
	RefreshTTL time.Duration
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
	if cfg.PoolAddress == "" {
		return errors.New("pool address is required")
	}
	if cfg.OwnerAddress == "" {
		return errors.New("owner address is required")
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 30 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

type Cache struct {
	log *slog.Logger
	cfg Config

	// Serializes authoritative refreshes per address so a stampede of
	// stale admission checks issues one ledger read, not many.
	refreshMu sync.Mutex
}

func New(cfg Config) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Cache{log: cfg.Logger, cfg: cfg}, nil
}

func (c *Cache) PoolAddress() string  { return c.cfg.PoolAddress }
func (c *Cache) OwnerAddress() string { return c.cfg.OwnerAddress }

// PoolBalance returns the cached pool balance, refreshing from the ledger if
// the cache is stale or missing.
func (c *Cache) PoolBalance(ctx context.Context) (int64, error) {
	return c.balance(ctx, c.cfg.PoolAddress, store.AccountKindPool)
}

// OwnerBalance returns the cached owner balance, refreshing if stale.
func (c *Cache) OwnerBalance(ctx context.Context) (int64, error) {
	return c.balance(ctx, c.cfg.OwnerAddress, store.AccountKindOwner)
}

func (c *Cache) balance(ctx context.Context, address string, kind store.AccountKind) (int64, error) {
	acct, err := c.cfg.Store.GetAccount(ctx, address)
	if err == nil && c.cfg.Clock.Since(acct.SyncedAt) < c.cfg.RefreshTTL {
		return acct.Balance, nil
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return 0, err
	}
	return c.Refresh(ctx, address, kind)
}

// Refresh performs an authoritative ledger read and rewrites the cache row.
// Drift between the cached and observed balance is logged, never fatal.
func (c *Cache) Refresh(ctx context.Context, address string, kind store.AccountKind) (int64, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// Another waiter may have refreshed while we held the lock.
	if acct, err := c.cfg.Store.GetAccount(ctx, address); err == nil && c.cfg.Clock.Since(acct.SyncedAt) < c.cfg.RefreshTTL {
		return acct.Balance, nil
	}

	// Balance reads are idempotent, so transient RPC trouble is retried
	// here rather than surfaced to every admission check.
	var observed int64
	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		var err error
		observed, err = c.cfg.Ledger.GetBalance(ctx, address)
		return err
	})
	if err != nil {
		metrics.BalanceRefreshTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("failed to refresh %s balance from ledger: %w", kind, err)
	}

	if acct, err := c.cfg.Store.GetAccount(ctx, address); err == nil && acct.Balance != observed {
		c.log.Warn("accounts: cached balance drifted from ledger",
			"account", string(kind),
			"cached", acct.Balance,
			"observed", observed)
	}

	if err := c.cfg.Store.UpsertAccount(ctx, address, kind, observed, c.cfg.Clock.Now()); err != nil {
		return 0, err
	}
	metrics.BalanceRefreshTotal.WithLabelValues("ok").Inc()
	metrics.AccountBalance.WithLabelValues(string(kind)).Set(float64(observed))
	return observed, nil
}

// ApplyDelta optimistically adjusts the cached balance after a confirmed
// ledger operation. The next TTL refresh reconciles any divergence.
func (c *Cache) ApplyDelta(ctx context.Context, address string, delta int64) {
	if err := c.cfg.Store.AdjustAccountBalance(ctx, address, delta); err != nil {
		// The cache row may not exist yet; a later read-through creates it.
		c.log.Debug("accounts: optimistic balance adjust skipped", "address", address, "error", err)
	}
}
