// Package server provides the public entry point for initializing the
// governance core server.
//
// This package exists in pkg/ (not internal/) so embedding platforms can
// import it and compose the full server with their own overrides:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/arbiterhq/arbiter/governance-core/internal/api"
	"github.com/arbiterhq/arbiter/governance-core/internal/api/handlers"
	"github.com/arbiterhq/arbiter/governance-core/internal/appeal"
	"github.com/arbiterhq/arbiter/governance-core/internal/arbitration"
	"github.com/arbiterhq/arbiter/governance-core/internal/config"
	"github.com/arbiterhq/arbiter/governance-core/internal/debate"
	"github.com/arbiterhq/arbiter/governance-core/internal/notify"
	"github.com/arbiterhq/arbiter/governance-core/internal/precedent"
	"github.com/arbiterhq/arbiter/governance-core/internal/registry"
	"github.com/arbiterhq/arbiter/governance-core/internal/retention"
	"github.com/arbiterhq/arbiter/governance-core/internal/rules"
	"github.com/arbiterhq/arbiter/governance-core/internal/selector"
	"github.com/arbiterhq/arbiter/governance-core/internal/store"
	"github.com/arbiterhq/arbiter/governance-core/internal/telemetry"
	"github.com/arbiterhq/arbiter/governance-core/internal/verdict"
	"github.com/arbiterhq/arbiter/governance-core/internal/waiver"

	"github.com/rs/zerolog/log"
)

// Server holds the initialized governance core.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the hot data store.
	Store store.Store

	// Archive is the durable append-only archive, nil when unconfigured.
	Archive store.Archiver

	// Config is the loaded configuration.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	// Janitor is the retention sweeper; run it with Janitor.Start(ctx).
	Janitor *retention.Janitor

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes all governance components and returns a ready Server.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the governance core with an explicit configuration.
func NewWithConfig(_ context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	hot := store.NewMemoryStore()
	log.Info().Msg("Hot store initialized")

	var archive store.Archiver
	if cfg.Archive.Path != "" {
		archive, err = store.NewSQLiteArchive(cfg.Archive.Path)
		if err != nil {
			return nil, fmt.Errorf("init archive: %w", err)
		}
		log.Info().Str("path", cfg.Archive.Path).Msg("Archive initialized")
	}

	reg := registry.New(cfg.Registry.MaxAgents)
	sel := selector.New(reg)
	ruleEngine := rules.NewEngine()
	debateEngine := debate.NewEngine(debate.Config{
		MinParticipants: cfg.Debate.MinParticipants,
		MaxDuration:     cfg.Debate.MaxDuration,
	})
	precedents := precedent.NewStore()
	waivers := waiver.NewManager(cfg.Waiver.MaxPendingPerRequester)
	appeals := appeal.NewHandler(cfg.Arbitration.MaxAppealLevel)
	verdicts := verdict.NewGenerator(precedents, waivers)
	notifier := notify.NewService()

	orch := arbitration.New(cfg.Arbitration, arbitration.Deps{
		Store:     hot,
		Archive:   archive,
		Rules:     ruleEngine,
		Debate:    debateEngine,
		Verdicts:  verdicts,
		Appeals:   appeals,
		Registry:  reg,
		Publisher: notifier,
	})

	janitor := retention.NewJanitor(hot, archive, reg, waivers, orch,
		retention.DefaultInterval, cfg.Arbitration.RetentionWindow, cfg.Registry.AgentTTL)

	h := &handlers.Handlers{
		Store:        hot,
		Archive:      archive,
		Registry:     reg,
		Selector:     sel,
		Orchestrator: orch,
		Debate:       debateEngine,
		Waivers:      waivers,
		Appeals:      appeals,
		Precedents:   precedents,
		Notify:       notifier,
	}
	router := api.NewRouter(cfg, h)

	return &Server{
		Handler:      router,
		Store:        hot,
		Archive:      archive,
		Config:       cfg,
		Port:         cfg.Port,
		Janitor:      janitor,
		ShutdownFunc: shutdown,
	}, nil
}

// Close releases the stores.
func (s *Server) Close() {
	if err := s.Store.Close(); err != nil {
		log.Warn().Err(err).Msg("Hot store close failed")
	}
	if s.Archive != nil {
		if err := s.Archive.Close(); err != nil {
			log.Warn().Err(err).Msg("Archive close failed")
		}
	}
}
