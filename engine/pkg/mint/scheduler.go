// Package mint runs the recurring token-creation job. Once per interval the
// scheduler opens a mint cycle, splits the fixed cycle amount between owner
// and pool via the distribution policy, submits both mint legs to the ledger,
// and confirms them as one logical operation. A cycle that fails for any
// reason is terminal: it is alerted to the operator channel and never
// retried, so a ledger outage can never compound into a double mint.
package mint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/particlerush/tokenengine/engine/pkg/accounts"
	"github.com/particlerush/tokenengine/engine/pkg/alert"
	"github.com/particlerush/tokenengine/engine/pkg/ledger"
	"github.com/particlerush/tokenengine/engine/pkg/metrics"
	"github.com/particlerush/tokenengine/engine/pkg/policy"
	"github.com/particlerush/tokenengine/engine/pkg/store"
)

// Store is the slice of the record store the scheduler needs.
type Store interface {
	CreatePendingCycle(ctx context.Context, totalMinted, ownerShare, poolShare int64) (store.MintCycle, error)
	ConfirmCycle(ctx context.Context, cycleID int64, ownerTxRef, poolTxRef string) error
	FailCycle(ctx context.Context, cycleID int64, ownerTxRef, poolTxRef *string, reason string) error
	PendingCycle(ctx context.Context) (store.MintCycle, bool, error)
}

type Config struct {
	Logger   *slog.Logger
	Clock    clockwork.Clock
	Ledger   ledger.Client
	Store    Store
	Accounts *accounts.Cache
	Alerter  alert.Notifier

	// Interval between cycles and the fixed amount minted per cycle.
	Interval   time.Duration
	MintAmount int64
	// ConfirmTimeout bounds how long a cycle waits for both legs to
	// confirm before it is marked failed.
	ConfirmTimeout time.Duration
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
	if cfg.Alerter == nil {
		return errors.New("alerter is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.MintAmount <= 0 {
		cfg.MintAmount = 100_000_000 // 100 tokens at 6 decimals
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 90 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

type Scheduler struct {
	log *slog.Logger
	cfg Config

	// Serializes cycles within the process; the store's partial unique
	// index enforces the same across restarts and replicas.
	cycleMu sync.Mutex

	startedOnce sync.Once
	startedCh   chan struct{}
}

func NewScheduler(cfg Config) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{
		log:       cfg.Logger,
		cfg:       cfg,
		startedCh: make(chan struct{}),
	}, nil
}

// Started reports whether the scheduler loop is running.
func (s *Scheduler) Started() bool {
	select {
	case <-s.startedCh:
		return true
	default:
		return false
	}
}

// Start launches the scheduler loop. A pending cycle left behind by a crash
// is failed on startup and surfaced to the operator: its legs may or may not
// have landed, and only a human with the ledger history can say which.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		if err := s.failOrphanedCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("mint: failed to resolve orphaned cycle", "error", err)
		}

		s.startedOnce.Do(func() { close(s.startedCh) })
		s.log.Info("mint: scheduler started", "interval", s.cfg.Interval, "amount", s.cfg.MintAmount)

		ticker := s.cfg.Clock.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.log.Info("mint: scheduler stopped", "reason", ctx.Err())
				return
			case <-ticker.Chan():
				s.safeRunCycle(ctx)
			}
		}
	}()
}

func (s *Scheduler) failOrphanedCycle(ctx context.Context) error {
	c, ok, err := s.cfg.Store.PendingCycle(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	reason := "orphaned pending cycle found at startup; outcome unknown, requires operator reconciliation"
	if err := s.cfg.Store.FailCycle(ctx, c.CycleID, c.OwnerTxRef, c.PoolTxRef, reason); err != nil {
		return err
	}
	metrics.MintCyclesTotal.WithLabelValues("failed").Inc()
	s.cfg.Alerter.Notify(ctx, "Mint cycle orphaned",
		fmt.Sprintf("cycle %d was pending at startup and has been marked failed; verify its legs against the ledger before the next audit (total=%d)", c.CycleID, c.TotalMinted))
	return nil
}

func (s *Scheduler) safeRunCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("mint: cycle panicked", "panic", r)
		}
	}()

	if err := s.RunCycle(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.log.Error("mint: cycle failed", "error", err)
	}
}

// RunCycle executes one mint cycle. It is a no-op when a prior cycle is
// still pending, which bounds concurrency under scheduler jitter or slow
// ledger confirmation.
func (s *Scheduler) RunCycle(ctx context.Context) error {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	start := time.Now()

	split, err := policy.SplitMint(s.cfg.MintAmount)
	if err != nil {
		return fmt.Errorf("failed to split mint amount: %w", err)
	}

	cycle, err := s.cfg.Store.CreatePendingCycle(ctx, s.cfg.MintAmount, split.OwnerShare, split.PoolShare)
	if errors.Is(err, store.ErrCycleInFlight) {
		metrics.MintCyclesTotal.WithLabelValues("skipped").Inc()
		s.log.Warn("mint: previous cycle still pending, skipping tick")
		return nil
	}
	if err != nil {
		return err
	}

	s.log.Debug("mint: cycle opened",
		"cycle_id", cycle.CycleID,
		"total", cycle.TotalMinted,
		"owner_share", cycle.OwnerShare,
		"pool_share", cycle.PoolShare)

	// Both legs are one logical operation: the cycle confirms only when
	// both confirm, and a partial success is a failed cycle for the
	// operator to reconcile.
	var ownerRef, poolRef ledger.TxRef
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ownerRef, err = s.submitAndConfirm(gctx, s.cfg.Accounts.OwnerAddress(), split.OwnerShare)
		if err != nil {
			return fmt.Errorf("owner leg: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		poolRef, err = s.submitAndConfirm(gctx, s.cfg.Accounts.PoolAddress(), split.PoolShare)
		if err != nil {
			return fmt.Errorf("pool leg: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		s.failCycle(ctx, cycle, ownerRef, poolRef, err)
		metrics.MintCyclesTotal.WithLabelValues("failed").Inc()
		metrics.MintCycleDuration.Observe(time.Since(start).Seconds())
		return fmt.Errorf("mint cycle %d failed: %w", cycle.CycleID, err)
	}

	if err := s.cfg.Store.ConfirmCycle(ctx, cycle.CycleID, string(ownerRef), string(poolRef)); err != nil {
		return err
	}

	// Read-through refresh rather than trusting the local increment, so
	// any drift self-heals here.
	if _, err := s.cfg.Accounts.Refresh(ctx, s.cfg.Accounts.PoolAddress(), store.AccountKindPool); err != nil {
		s.log.Warn("mint: pool balance refresh failed after confirm", "error", err)
	}
	if _, err := s.cfg.Accounts.Refresh(ctx, s.cfg.Accounts.OwnerAddress(), store.AccountKindOwner); err != nil {
		s.log.Warn("mint: owner balance refresh failed after confirm", "error", err)
	}

	metrics.MintCyclesTotal.WithLabelValues("confirmed").Inc()
	metrics.MintCycleDuration.Observe(time.Since(start).Seconds())
	s.log.Info("mint: cycle confirmed",
		"cycle_id", cycle.CycleID,
		"total", cycle.TotalMinted,
		"owner_tx", string(ownerRef),
		"pool_tx", string(poolRef))
	return nil
}

func (s *Scheduler) submitAndConfirm(ctx context.Context, to string, amount int64) (ledger.TxRef, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConfirmTimeout)
	defer cancel()

	ref, err := s.cfg.Ledger.SubmitMint(ctx, to, amount)
	if err != nil {
		return "", err
	}

	backoff := time.Second
	for {
		status, err := s.cfg.Ledger.TransactionStatus(ctx, ref)
		if err == nil {
			switch status {
			case ledger.TxStatusConfirmed:
				return ref, nil
			case ledger.TxStatusFailed:
				return ref, fmt.Errorf("%w: mint transaction %s failed", ledger.ErrRejectedByLedger, ref)
			}
		} else if !errors.Is(err, ledger.ErrNetwork) {
			return ref, err
		}

		select {
		case <-ctx.Done():
			return ref, fmt.Errorf("%w: confirmation timed out for %s", ledger.ErrNetwork, ref)
		case <-s.cfg.Clock.After(backoff):
		}
		if backoff *= 2; backoff > 10*time.Second {
			backoff = 10 * time.Second
		}
	}
}

func (s *Scheduler) failCycle(ctx context.Context, cycle store.MintCycle, ownerRef, poolRef ledger.TxRef, cause error) {
	var ownerPtr, poolPtr *string
	if ownerRef != "" {
		v := string(ownerRef)
		ownerPtr = &v
	}
	if poolRef != "" {
		v := string(poolRef)
		poolPtr = &v
	}
	if err := s.cfg.Store.FailCycle(ctx, cycle.CycleID, ownerPtr, poolPtr, cause.Error()); err != nil {
		s.log.Error("mint: failed to record cycle failure", "cycle_id", cycle.CycleID, "error", err)
	}
	s.cfg.Alerter.Notify(ctx, "Mint cycle failed",
		fmt.Sprintf("cycle %d (total=%d) failed and will not be retried: %v", cycle.CycleID, cycle.TotalMinted, cause))
}
