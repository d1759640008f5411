package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/foxzi/copymode/internal/campaign"
	"github.com/foxzi/copymode/internal/config"
	"github.com/foxzi/copymode/internal/editor"
	"github.com/foxzi/copymode/internal/ipfilter"
	"github.com/foxzi/copymode/internal/metrics"
	"github.com/foxzi/copymode/internal/proof"
)

// ProofSender delivers rendered proofs
type ProofSender interface {
	Send(ctx context.Context, to []string, msg proof.Message) error
}

// Deps are the services the API serves
type Deps struct {
	Campaigns *campaign.Storage
	Editors   *editor.Manager
	// Proofs is nil when proof e-mails are disabled
	Proofs  ProofSender
	Version string
}

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	campaigns  *campaign.Storage
	editors    *editor.Manager
	proofs     ProofSender
	config     *config.APIConfig
	filter     *ipfilter.Filter
	version    string
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates a new API server
func NewServer(deps Deps, cfg *config.APIConfig, logger *slog.Logger) (*Server, error) {
	filter, err := ipfilter.Parse(cfg.AllowedIPs, logger)
	if err != nil {
		return nil, fmt.Errorf("api allowed_ips: %w", err)
	}

	s := &Server{
		router:    chi.NewRouter(),
		campaigns: deps.Campaigns,
		editors:   deps.Editors,
		proofs:    deps.Proofs,
		config:    cfg,
		filter:    filter,
		version:   deps.Version,
		logger:    logger.With("component", "api"),
		startTime: time.Now(),
	}

	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:           cfg.ListenAddr,
		Handler:        s.router,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
	}
	return s, nil
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(requestLogger(s.logger))
	s.router.Use(metrics.HTTPMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.filter.Middleware)

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(requireAPIKey(s.config.APIKey, s.logger))

		r.Get("/tools", s.handleTools)
		r.Post("/convert/markdown-to-html", s.handleMarkdownToHTML)
		r.Post("/convert/html-to-markdown", s.handleHTMLToMarkdown)

		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", s.handleCampaignList)
			r.Post("/", s.handleCampaignCreate)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleCampaignGet)
				r.Patch("/", s.handleCampaignUpdate)
				r.Delete("/", s.handleCampaignDelete)

				r.Get("/content", s.handleContentGet)
				r.Put("/content", s.handleContentPut)

				r.Post("/rows", s.handleRowAdd)
				r.Put("/rows/order", s.handleRowReorder)
				r.Patch("/rows/{rowID}", s.handleRowUpdate)
				r.Delete("/rows/{rowID}", s.handleRowRemove)

				r.Post("/sections", s.handleSections)
				r.Post("/patch", s.handlePatch)
				r.Post("/tools/{tool}", s.handleToolCall)

				r.Get("/history", s.handleHistory)
				r.Post("/history/undo", s.handleUndo)
				r.Post("/history/redo", s.handleRedo)
				r.Post("/history/{index}/view", s.handleView)
				r.Post("/history/{index}/restore", s.handleRestore)

				r.Post("/save", s.handleSave)
				r.Post("/pull", s.handlePull)
				r.Post("/proof", s.handleProof)
			})
		})
	})
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	return s.httpServer.Shutdown(ctx)
}
