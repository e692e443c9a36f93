package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/particlerush/tokenengine/engine/pkg/engine"
	"github.com/particlerush/tokenengine/engine/pkg/metrics"
	"github.com/particlerush/tokenengine/engine/pkg/server"
	"github.com/particlerush/tokenengine/utils/pkg/logger"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultListenAddr = "0.0.0.0:8080"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	listenAddrFlag := flag.String("listen-addr", defaultListenAddr, "HTTP listen address")

	databaseURLFlag := flag.String("database-url", "", "Postgres connection string (or set DATABASE_URL env var)")
	migrateFlag := flag.Bool("migrate", true, "Run embedded database migrations on startup")

	poolAddrFlag := flag.String("pool-address", "", "Reward pool token account address (or set POOL_ADDRESS env var)")
	ownerAddrFlag := flag.String("owner-address", "", "Owner token account address (or set OWNER_ADDRESS env var)")
	escrowAddrFlag := flag.String("escrow-address", "", "Bridge escrow token account address (or set ESCROW_ADDRESS env var)")

	devLedgerFlag := flag.Bool("dev-ledger", false, "Use the in-memory ledger instead of Solana")
	solanaRPCFlag := flag.String("solana-rpc", "", "Solana RPC endpoint (or set SOLANA_RPC_ENDPOINT env var)")
	tokenMintFlag := flag.String("token-mint", "", "SPL token mint address (or set TOKEN_MINT env var)")

	mintIntervalFlag := flag.Duration("mint-interval", 60*time.Second, "Interval between mint cycles")
	mintAmountFlag := flag.Int64("mint-amount", 100_000_000, "Amount minted per cycle, in smallest token units")
	earnRateFlag := flag.Int("earn-rate-per-minute", 10, "Per-player earn events allowed per minute")
	refreshTTLFlag := flag.Duration("balance-refresh-ttl", 30*time.Second, "Staleness bound on cached account balances")

	shutdownTimeoutFlag := flag.Duration("shutdown-timeout", 15*time.Second, "Maximum time for graceful shutdown")

	flag.Parse()

	// Local development convenience; missing .env is fine.
	_ = godotenv.Load()

	log := logger.New(*verboseFlag)

	if env := os.Getenv("DATABASE_URL"); env != "" {
		*databaseURLFlag = env
	}
	if env := os.Getenv("POOL_ADDRESS"); env != "" {
		*poolAddrFlag = env
	}
	if env := os.Getenv("OWNER_ADDRESS"); env != "" {
		*ownerAddrFlag = env
	}
	if env := os.Getenv("ESCROW_ADDRESS"); env != "" {
		*escrowAddrFlag = env
	}
	if env := os.Getenv("SOLANA_RPC_ENDPOINT"); env != "" {
		*solanaRPCFlag = env
	}
	if env := os.Getenv("TOKEN_MINT"); env != "" {
		*tokenMintFlag = env
	}
	if os.Getenv("DEV_LEDGER") == "true" {
		*devLedgerFlag = true
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	eng, err := engine.New(ctx, engine.Config{
		Logger:            log,
		DatabaseURL:       *databaseURLFlag,
		MigrationsEnable:  *migrateFlag,
		PoolAddress:       *poolAddrFlag,
		OwnerAddress:      *ownerAddrFlag,
		EscrowAddress:     *escrowAddrFlag,
		DevLedger:         *devLedgerFlag,
		SolanaRPCEndpoint: *solanaRPCFlag,
		TokenMint:         *tokenMintFlag,
		// Signing keys only ever come from the environment.
		MintAuthorityKey:  os.Getenv("MINT_AUTHORITY_KEY"),
		PoolSignerKey:     os.Getenv("POOL_SIGNER_KEY"),
		EscrowSignerKey:   os.Getenv("ESCROW_SIGNER_KEY"),
		MintInterval:      *mintIntervalFlag,
		MintAmount:        *mintAmountFlag,
		EarnRatePerMinute: *earnRateFlag,
		BalanceRefreshTTL: *refreshTTLFlag,
		SlackBotToken:     os.Getenv("SLACK_BOT_TOKEN"),
		SlackChannel:      os.Getenv("SLACK_ALERT_CHANNEL"),
	})
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	defer func() {
		if err := eng.Close(); err != nil {
			log.Error("failed to close engine", "error", err)
		}
	}()

	srv, err := server.New(server.Config{
		Logger:          log,
		ListenAddr:      *listenAddrFlag,
		VersionInfo:     server.VersionInfo{Version: version, Commit: commit, Date: date},
		Earn:            eng.Earn(),
		Claims:          eng.Claims(),
		Bridger:         eng.Bridger(),
		Cycles:          eng.Store(),
		Balances:        eng.Accounts(),
		Ready:           eng.Ready,
		ShutdownTimeout: *shutdownTimeoutFlag,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	eng.Start(ctx)
	log.Info("engine started", "version", version, "dev_ledger", *devLedgerFlag)

	return srv.Run(ctx)
}
