package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	bolt "go.etcd.io/bbolt"
	"golang.org/x/sync/errgroup"

	"github.com/foxzi/copymode/internal/api"
	"github.com/foxzi/copymode/internal/campaign"
	"github.com/foxzi/copymode/internal/config"
	"github.com/foxzi/copymode/internal/editor"
	"github.com/foxzi/copymode/internal/history"
	"github.com/foxzi/copymode/internal/ipfilter"
	"github.com/foxzi/copymode/internal/metrics"
	"github.com/foxzi/copymode/internal/proof"
	"github.com/foxzi/copymode/internal/tracker"
)

// Stores are the bbolt-backed stores sharing one database file
type Stores struct {
	DB        *bolt.DB
	Campaigns *campaign.Storage
	Histories *history.Storage
}

// OpenStores opens the database at path and prepares every bucket
func OpenStores(path string) (*Stores, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	campaigns, err := campaign.NewStorage(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	histories, err := history.NewStorage(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Stores{DB: db, Campaigns: campaigns, Histories: histories}, nil
}

// Close closes the database
func (s *Stores) Close() error {
	return s.DB.Close()
}

// NewEditors builds the session manager. Tracker sync is only wired when a
// token is configured.
func NewEditors(cfg *config.Config, stores *Stores, logger *slog.Logger) *editor.Manager {
	var tr editor.Tracker
	if cfg.HasTracker() {
		tr = tracker.NewClient(cfg.Tracker.BaseURL, cfg.Tracker.Token, cfg.Tracker.Timeout)
	}
	return editor.NewManager(stores.Campaigns, stores.Histories, tr,
		editor.Options{MaxVersions: cfg.History.MaxVersions}, logger)
}

// NewProofSender returns nil when proofs are disabled
func NewProofSender(cfg config.ProofConfig, logger *slog.Logger) *proof.Sender {
	if !cfg.Enabled {
		return nil
	}
	return proof.NewSender(proof.Options{
		Addr:               cfg.Addr,
		Username:           cfg.Username,
		Password:           cfg.Password,
		From:               cfg.From,
		Timeout:            cfg.Timeout,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}, logger)
}

// App is the main application
type App struct {
	config        *config.Config
	stores        *Stores
	apiServer     *api.Server
	metricsServer *metrics.Server
	collector     *metrics.Collector
	logger        *slog.Logger
}

// New creates a new application
func New(cfg *config.Config, version string) (*App, error) {
	logger := SetupLogger(cfg.Logging)

	stores, err := OpenStores(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	a := &App{config: cfg, stores: stores, logger: logger}

	if cfg.Metrics.Enabled {
		m := metrics.New()
		metrics.SetGlobal(m)

		a.collector, err = metrics.NewCollector(stores.DB, m, stores.Campaigns, cfg.Storage.Path, cfg.Metrics.FlushInterval, logger)
		if err != nil {
			stores.Close()
			return nil, fmt.Errorf("failed to create metrics collector: %w", err)
		}

		filter, err := ipfilter.Parse(cfg.Metrics.AllowedIPs, logger.With("component", "metrics"))
		if err != nil {
			stores.Close()
			return nil, fmt.Errorf("metrics allowed_ips: %w", err)
		}
		a.metricsServer = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path, filter, logger.With("component", "metrics"))
		logger.Info("metrics enabled", "addr", cfg.Metrics.ListenAddr)
	}

	if !cfg.HasTracker() {
		logger.Warn("tracker token not configured, pull and save are disabled")
	}

	deps := api.Deps{
		Campaigns: stores.Campaigns,
		Editors:   NewEditors(cfg, stores, logger),
		Version:   version,
	}
	// Only a non-nil sender may go into the interface
	if sender := NewProofSender(cfg.Proof, logger); sender != nil {
		deps.Proofs = sender
		logger.Info("proof e-mails enabled", "addr", cfg.Proof.Addr)
	}

	a.apiServer, err = api.NewServer(deps, &cfg.API, logger)
	if err != nil {
		stores.Close()
		return nil, fmt.Errorf("failed to create API server: %w", err)
	}

	return a, nil
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting copymode",
		"api_addr", a.config.API.ListenAddr,
		"storage", a.config.Storage.Path,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if a.collector != nil {
		a.collector.Start(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	if a.metricsServer != nil {
		g.Go(func() error {
			if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			a.logger.Info("shutdown signal received")
		}
		return a.Shutdown(context.Background())
	})

	err := g.Wait()
	if err != nil {
		a.logger.Error("server error", "error", err)
	}
	return err
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	// Persists counters, so it must run before the database closes
	if a.collector != nil {
		if err := a.collector.Stop(); err != nil {
			a.logger.Error("metrics collector stop error", "error", err)
		}
	}

	if err := a.stores.Close(); err != nil {
		a.logger.Error("storage close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// SetupLogger creates a logger based on configuration
func SetupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
