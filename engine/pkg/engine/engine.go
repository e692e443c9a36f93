// Package engine wires the token distribution components into one runnable
// unit: the record store, the ledger clients, the balance cache, the mint
// scheduler, and the earn, claim, and bridge services. The HTTP layer talks
// to the engine, never to the components directly.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/particlerush/tokenengine/engine/pkg/accounts"
	"github.com/particlerush/tokenengine/engine/pkg/alert"
	"github.com/particlerush/tokenengine/engine/pkg/bridge"
	"github.com/particlerush/tokenengine/engine/pkg/chains"
	"github.com/particlerush/tokenengine/engine/pkg/claim"
	"github.com/particlerush/tokenengine/engine/pkg/earn"
	"github.com/particlerush/tokenengine/engine/pkg/ledger"
	"github.com/particlerush/tokenengine/engine/pkg/mint"
	"github.com/particlerush/tokenengine/engine/pkg/store"
)

type Engine struct {
	log *slog.Logger
	cfg Config

	store     *store.Store
	registry  *chains.Registry
	accounts  *accounts.Cache
	scheduler *mint.Scheduler
	earn      *earn.Ledger
	claims    *claim.Service
	bridger   *bridge.Coordinator

	startedAt time.Time
}

func New(ctx context.Context, cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := store.New(ctx, store.Config{
		Logger:           cfg.Logger,
		ConnStr:          cfg.DatabaseURL,
		MigrationsEnable: cfg.MigrationsEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	registry, err := chains.New(chains.DefaultConfigs())
	if err != nil {
		return nil, fmt.Errorf("failed to create chain registry: %w", err)
	}

	clients, err := buildLedgerClients(cfg, registry)
	if err != nil {
		return nil, err
	}
	home := clients[chains.ChainIDSolana]

	var notifier alert.Notifier
	if cfg.SlackBotToken != "" {
		notifier, err = alert.NewSlackNotifier(alert.SlackConfig{
			Logger:   cfg.Logger,
			BotToken: cfg.SlackBotToken,
			Channel:  cfg.SlackChannel,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create slack notifier: %w", err)
		}
	} else {
		notifier = &alert.LogNotifier{Log: cfg.Logger}
	}

	cache, err := accounts.New(accounts.Config{
		Logger:       cfg.Logger,
		Clock:        cfg.Clock,
		Ledger:       home,
		Store:        db,
		PoolAddress:  cfg.PoolAddress,
		OwnerAddress: cfg.OwnerAddress,
		RefreshTTL:   cfg.BalanceRefreshTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create balance cache: %w", err)
	}

	scheduler, err := mint.NewScheduler(mint.Config{
		Logger:     cfg.Logger,
		Clock:      cfg.Clock,
		Ledger:     home,
		Store:      db,
		Accounts:   cache,
		Alerter:    notifier,
		Interval:   cfg.MintInterval,
		MintAmount: cfg.MintAmount,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create mint scheduler: %w", err)
	}

	earnLedger, err := earn.NewLedger(earn.Config{
		Logger:        cfg.Logger,
		Store:         db,
		Balances:      cache,
		RatePerMinute: cfg.EarnRatePerMinute,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create earn ledger: %w", err)
	}

	claims, err := claim.NewService(claim.Config{
		Logger:   cfg.Logger,
		Clock:    cfg.Clock,
		Ledger:   home,
		Store:    db,
		Accounts: cache,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create claim service: %w", err)
	}

	bridger, err := bridge.NewCoordinator(bridge.Config{
		Logger:        cfg.Logger,
		Clock:         cfg.Clock,
		Registry:      registry,
		Store:         db,
		Alerter:       notifier,
		Clients:       clients,
		SourceChain:   chains.ChainIDSolana,
		EscrowAddress: cfg.EscrowAddress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bridge coordinator: %w", err)
	}

	return &Engine{
		log:       cfg.Logger,
		cfg:       cfg,
		store:     db,
		registry:  registry,
		accounts:  cache,
		scheduler: scheduler,
		earn:      earnLedger,
		claims:    claims,
		bridger:   bridger,
	}, nil
}

func buildLedgerClients(cfg Config, registry *chains.Registry) (map[uint16]ledger.Client, error) {
	clients := make(map[uint16]ledger.Client)

	if cfg.DevLedger {
		// Seed the pool so the dev loop (earn, claim, bridge) works
		// before the first mint cycle lands.
		clients[chains.ChainIDSolana] = ledger.NewMemoryClient(map[string]int64{
			cfg.PoolAddress: 1_000_000_000,
		})
		for _, c := range chains.DefaultConfigs() {
			if c.ChainID != chains.ChainIDSolana {
				clients[c.ChainID] = ledger.NewMemoryClient(nil)
			}
		}
		return clients, nil
	}

	mintKey, err := parsePrivateKey("mint authority", cfg.MintAuthorityKey)
	if err != nil {
		return nil, err
	}
	poolKey, err := parsePrivateKey("pool signer", cfg.PoolSignerKey)
	if err != nil {
		return nil, err
	}
	escrowKey, err := parsePrivateKey("escrow signer", cfg.EscrowSignerKey)
	if err != nil {
		return nil, err
	}
	tokenMint, err := solana.PublicKeyFromBase58(cfg.TokenMint)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token mint: %w", err)
	}

	sol, err := ledger.NewSolanaClient(ledger.SolanaConfig{
		Logger:        cfg.Logger,
		RPCEndpoint:   cfg.SolanaRPCEndpoint,
		TokenMint:     tokenMint,
		MintAuthority: mintKey,
		Signers: map[string]solana.PrivateKey{
			cfg.PoolAddress:   poolKey,
			cfg.EscrowAddress: escrowKey,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create solana client: %w", err)
	}
	clients[chains.ChainIDSolana] = sol
	return clients, nil
}

func (e *Engine) Start(ctx context.Context) {
	e.startedAt = e.cfg.Clock.Now()
	e.scheduler.Start(ctx)
}

// Ready reports whether the engine can serve traffic: the record store is
// reachable and the mint scheduler loop is running.
func (e *Engine) Ready(ctx context.Context) bool {
	if err := e.store.Ping(ctx); err != nil {
		e.log.Debug("engine: store not reachable", "error", err)
		return false
	}
	return e.scheduler.Started()
}

func (e *Engine) Earn() *earn.Ledger           { return e.earn }
func (e *Engine) Claims() *claim.Service       { return e.claims }
func (e *Engine) Bridger() *bridge.Coordinator { return e.bridger }
func (e *Engine) Store() *store.Store          { return e.store }
func (e *Engine) Registry() *chains.Registry   { return e.registry }
func (e *Engine) Accounts() *accounts.Cache    { return e.accounts }

func (e *Engine) Close() error {
	e.store.Close()
	return nil
}
