package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
)

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock

	// Record store.
	DatabaseURL      string
	MigrationsEnable bool

	// Engine-controlled accounts on the home network. The pool funds
	// claim settlements, the owner receives its mint share, the escrow
	// holds bridge locks.
	PoolAddress   string
	OwnerAddress  string
	EscrowAddress string

	// DevLedger swaps the Solana client for the in-memory ledger. Dev
	// deployments also get in-memory destination ledgers so the bridge
	// path is exercisable end to end.
	DevLedger         bool
	SolanaRPCEndpoint string
	TokenMint         string
	// Base58-encoded private keys. MintAuthority signs mints; the pool
	// and escrow keys sign outbound transfers from those accounts.
	MintAuthorityKey string
	PoolSignerKey    string
	EscrowSignerKey  string

	// Mint scheduling.
	MintInterval time.Duration
	MintAmount   int64

	// Earn admission.
	EarnRatePerMinute int

	// Balance cache staleness bound.
	BalanceRefreshTTL time.Duration

	// Operator alerting. Without a token, alerts go to the log.
	SlackBotToken string
	SlackChannel  string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("database url is required")
	}
	if cfg.PoolAddress == "" {
		return errors.New("pool address is required")
	}
	if cfg.OwnerAddress == "" {
		return errors.New("owner address is required")
	}
	if cfg.EscrowAddress == "" {
		return errors.New("escrow address is required")
	}
	if !cfg.DevLedger {
		if cfg.SolanaRPCEndpoint == "" {
			return errors.New("solana rpc endpoint is required outside dev mode")
		}
		if cfg.TokenMint == "" {
			return errors.New("token mint is required outside dev mode")
		}
		if cfg.MintAuthorityKey == "" {
			return errors.New("mint authority key is required outside dev mode")
		}
		if cfg.PoolSignerKey == "" {
			return errors.New("pool signer key is required outside dev mode")
		}
		if cfg.EscrowSignerKey == "" {
			return errors.New("escrow signer key is required outside dev mode")
		}
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

func parsePrivateKey(name, encoded string) (solana.PrivateKey, error) {
	key, err := solana.PrivateKeyFromBase58(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s private key: %w", name, err)
	}
	return key, nil
}
