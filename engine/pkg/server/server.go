// Package server exposes the engine over HTTP: gameplay endpoints for earn,
// claim, and bridge requests, read endpoints for records, and the usual
// health, readiness, version, and metrics surfaces.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/particlerush/tokenengine/engine/pkg/store"
)

// EarnService records gameplay rewards.
type EarnService interface {
	RecordEarn(ctx context.Context, playerID string, amount int64, reason store.EarnReason) (store.EarnEvent, error)
}

// ClaimService settles accrued rewards.
type ClaimService interface {
	Claim(ctx context.Context, playerID string) (store.Claim, error)
	GetClaim(ctx context.Context, claimID uuid.UUID) (store.Claim, error)
}

// BridgeService moves settled tokens to another network.
type BridgeService interface {
	Bridge(ctx context.Context, playerID string, destChain uint16, destAddress string, amount int64) (store.BridgeTransfer, error)
	GetTransfer(ctx context.Context, transferID uuid.UUID) (store.BridgeTransfer, error)
}

// CycleReader lists mint cycle history.
type CycleReader interface {
	ListCycles(ctx context.Context, limit int) ([]store.MintCycle, error)
}

// BalanceReader reports the cached engine account balances.
type BalanceReader interface {
	PoolBalance(ctx context.Context) (int64, error)
	OwnerBalance(ctx context.Context) (int64, error)
}

// VersionInfo is reported by the version endpoint.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

type Config struct {
	Logger *slog.Logger

	ListenAddr  string
	VersionInfo VersionInfo

	Earn     EarnService
	Claims   ClaimService
	Bridger  BridgeService
	Cycles   CycleReader
	Balances BalanceReader
	// Ready gates the readiness endpoint.
	Ready func(ctx context.Context) bool

	CORSAllowedOrigins []string
	ReadHeaderTimeout  time.Duration
	ShutdownTimeout    time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ListenAddr == "" {
		return errors.New("listen address is required")
	}
	if cfg.Earn == nil || cfg.Claims == nil || cfg.Bridger == nil {
		return errors.New("earn, claim, and bridge services are required")
	}
	if cfg.Cycles == nil {
		return errors.New("cycle reader is required")
	}
	if cfg.Balances == nil {
		return errors.New("balance reader is required")
	}
	if cfg.Ready == nil {
		cfg.Ready = func(context.Context) bool { return true }
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	return nil
}

type Server struct {
	log     *slog.Logger
	cfg     Config
	httpSrv *http.Server
}

func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{log: cfg.Logger, cfg: cfg}

	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return s, nil
}

// Routes builds the router. Exposed so tests can drive handlers through
// httptest without binding a port.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/version", s.handleVersion)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/earn", s.handleEarn)
		r.Post("/claim", s.handleClaim)
		r.Post("/bridge", s.handleBridge)
		r.Get("/claims/{id}", s.handleGetClaim)
		r.Get("/bridges/{id}", s.handleGetBridge)
		r.Get("/cycles", s.handleListCycles)
		r.Get("/balances", s.handleBalances)
	})

	return r
}

func (s *Server) Run(ctx context.Context) error {
	serveErrCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrCh <- fmt.Errorf("failed to listen and serve: %w", err)
		}
	}()

	s.log.Info("server: http listening", "address", s.cfg.ListenAddr)

	select {
	case <-ctx.Done():
		s.log.Info("server: stopping", "reason", ctx.Err())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		return nil
	case err := <-serveErrCh:
		return err
	}
}
