// Package earn records gameplay rewards as off-ledger accrual events. An
// earn event is cheap bookkeeping, not a ledger transaction; admission is
// gated so the pool's outstanding liability can never exceed what the pool
// actually holds, which keeps every later claim coverable.
package earn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/particlerush/tokenengine/engine/pkg/metrics"
	"github.com/particlerush/tokenengine/engine/pkg/store"
)

var (
	// ErrInvalidAmount rejects non-positive earn amounts.
	ErrInvalidAmount = errors.New("earn amount must be positive")
	// ErrUnknownReason rejects reasons outside the accepted gameplay set.
	ErrUnknownReason = errors.New("unknown earn reason")
	// ErrRateLimited rejects a player exceeding the per-player earn rate.
	ErrRateLimited = errors.New("earn rate limit exceeded")
	// ErrPoolExhausted rejects an earn the pool could not cover on top of
	// its existing unsettled liability.
	ErrPoolExhausted = errors.New("reward pool exhausted")
)

// Store is the slice of the record store the earn ledger needs.
type Store interface {
	InsertEarnEvent(ctx context.Context, eventID uuid.UUID, playerID string, amount int64, reason store.EarnReason) (store.EarnEvent, error)
	TotalUnsettled(ctx context.Context) (int64, error)
}

// Balances provides the pool balance used for admission.
type Balances interface {
	PoolBalance(ctx context.Context) (int64, error)
}

type Config struct {
	Logger   *slog.Logger
	Store    Store
	Balances Balances

	// RatePerMinute caps how many earn events a single player may record
	// per minute.
	RatePerMinute int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Balances == nil {
		return errors.New("balances are required")
	}
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = 10
	}
	return nil
}

type Ledger struct {
	log *slog.Logger
	cfg Config

	// Serializes admission so two concurrent earns cannot both pass the
	// liability check against the same headroom.
	admitMu sync.Mutex

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter
}

func NewLedger(cfg Config) (*Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Ledger{
		log:      cfg.Logger,
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
	}, nil
}

// RecordEarn validates and admits one gameplay reward for a player. The
// admission invariant is that pool balance minus total unsettled liability
// still covers the new amount; an earn that passes is guaranteed claimable
// against the pool as of admission time.
func (l *Ledger) RecordEarn(ctx context.Context, playerID string, amount int64, reason store.EarnReason) (store.EarnEvent, error) {
	if playerID == "" {
		metrics.EarnEventsTotal.WithLabelValues("invalid").Inc()
		return store.EarnEvent{}, errors.New("player id is required")
	}
	if amount <= 0 {
		metrics.EarnEventsTotal.WithLabelValues("invalid").Inc()
		return store.EarnEvent{}, fmt.Errorf("%w: got %d", ErrInvalidAmount, amount)
	}
	if !store.KnownEarnReason(reason) {
		metrics.EarnEventsTotal.WithLabelValues("invalid").Inc()
		return store.EarnEvent{}, fmt.Errorf("%w: %q", ErrUnknownReason, reason)
	}
	if !l.limiter(playerID).Allow() {
		metrics.EarnEventsTotal.WithLabelValues("rate_limited").Inc()
		return store.EarnEvent{}, fmt.Errorf("%w: player %s", ErrRateLimited, playerID)
	}

	// The balance read can trigger a ledger refresh on a stale cache; it
	// stays outside the admission lock so one slow refresh does not stall
	// every player's admission.
	poolBalance, err := l.cfg.Balances.PoolBalance(ctx)
	if err != nil {
		return store.EarnEvent{}, fmt.Errorf("failed to read pool balance for admission: %w", err)
	}

	l.admitMu.Lock()
	defer l.admitMu.Unlock()

	unsettled, err := l.cfg.Store.TotalUnsettled(ctx)
	if err != nil {
		return store.EarnEvent{}, err
	}
	if poolBalance-unsettled < amount {
		metrics.EarnEventsTotal.WithLabelValues("pool_exhausted").Inc()
		l.log.Warn("earn: admission rejected, pool exhausted",
			"player_id", playerID,
			"amount", amount,
			"pool_balance", poolBalance,
			"unsettled", unsettled)
		return store.EarnEvent{}, fmt.Errorf("%w: pool %d, unsettled %d, requested %d", ErrPoolExhausted, poolBalance, unsettled, amount)
	}

	event, err := l.cfg.Store.InsertEarnEvent(ctx, uuid.New(), playerID, amount, reason)
	if err != nil {
		return store.EarnEvent{}, err
	}

	metrics.EarnEventsTotal.WithLabelValues("recorded").Inc()
	l.log.Debug("earn: event recorded",
		"event_id", event.EventID,
		"player_id", playerID,
		"amount", amount,
		"reason", string(reason))
	return event, nil
}

func (l *Ledger) limiter(playerID string) *rate.Limiter {
	l.limitersMu.Lock()
	defer l.limitersMu.Unlock()
	lim, ok := l.limiters[playerID]
	if !ok {
		perSecond := rate.Limit(float64(l.cfg.RatePerMinute) / 60.0)
		lim = rate.NewLimiter(perSecond, l.cfg.RatePerMinute)
		l.limiters[playerID] = lim
	}
	return lim
}
