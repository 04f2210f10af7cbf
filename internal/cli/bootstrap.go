// Package cli wires the shared bootstrap sequence (config, logging,
// tracing, metrics, backend, schema registry, stores, primitives) common to
// every cmd/ entry point, so each binary's main only adds the pieces
// specific to its role. Grounded on the teacher's cmd/worker/main.go
// wiring order: config -> logger -> metrics server -> tracing -> domain
// dependencies.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/auditflow/internal/config"
	"github.com/fairyhunter13/auditflow/internal/dedup"
	"github.com/fairyhunter13/auditflow/internal/dlq"
	"github.com/fairyhunter13/auditflow/internal/grounding"
	"github.com/fairyhunter13/auditflow/internal/httpserver"
	"github.com/fairyhunter13/auditflow/internal/kv"
	"github.com/fairyhunter13/auditflow/internal/notify"
	"github.com/fairyhunter13/auditflow/internal/observability"
	"github.com/fairyhunter13/auditflow/internal/schema"
	"github.com/fairyhunter13/auditflow/internal/store"
	"github.com/fairyhunter13/auditflow/internal/trace"
)

// Deps bundles everything every service binary builds on top of.
type Deps struct {
	Config    config.Config
	Logger    *slog.Logger
	Backend   kv.Backend
	Schemas   *schema.Registry
	Backlog   *store.BacklogStore
	Question  *store.QuestionStore
	Project   *store.ProjectStore
	Journal   *store.StateJournal
	Dedup     *dedup.Dedup
	Locker    *dedup.Locker
	DLQ       *dlq.Writer
	Trace     *trace.Logger
	Notifier  *notify.Notifier
	Admin     *httpserver.Server
	Grounding *grounding.GroundingEngine

	ShutdownTracing func(context.Context) error
}

// Bootstrap runs the ambient wiring sequence shared by every binary.
// configPath may be empty, in which case only environment variables apply.
func Bootstrap(ctx context.Context, configPath string) (*Deps, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("op=cli.Bootstrap: load config: %w", err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Warn("metrics server stopped", slog.Any("error", err))
		}
	}()

	shutdownTracing, err := observability.SetupTracing(cfg)
	if err != nil {
		logger.Warn("tracing setup failed, continuing without it", slog.Any("error", err))
	}

	backend, err := kv.NewRedisBackend(ctx, cfg.RedisAddr(), cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("op=cli.Bootstrap: connect backend: %w", err)
	}

	dir, dirFS, err := schema.ResolveDir(cfg.SchemaDir, cfg.SchemaDirEnv)
	if err != nil {
		return nil, fmt.Errorf("op=cli.Bootstrap: resolve schema dir: %w", err)
	}
	registry, err := schema.Load(dirFS)
	if err != nil {
		return nil, fmt.Errorf("op=cli.Bootstrap: load schemas: %w", err)
	}
	logger.Info("schemas loaded", slog.String("dir", dir), slog.Any("event_types", registry.KnownEventTypes()))
	if dir != "<bundled>" {
		go func() {
			if err := schema.Watch(ctx, dir, logger, func(reloaded *schema.Registry) { registry = reloaded }); err != nil {
				logger.Warn("schema watch stopped", slog.Any("error", err))
			}
		}()
	}

	backlog := store.NewBacklogStore(backend, cfg.KeyPrefix)
	question := store.NewQuestionStore(backend, cfg.KeyPrefix)
	project := store.NewProjectStore(backend, cfg.KeyPrefix, backlog)
	journal := store.NewStateJournal(backend, cfg.KeyPrefix+":agent_manager:state", "./data/agent_manager_journal.jsonl", logger)

	admin := httpserver.NewServer(backend, cfg.DLQStream, cfg.StreamName, cfg.StreamMaxLen, cfg.AdminRateLimit, httpserver.ParseOrigins(cfg.CORSAllowOrigins))

	return &Deps{
		Config:          cfg,
		Logger:          logger,
		Backend:         backend,
		Schemas:         registry,
		Backlog:         backlog,
		Question:        question,
		Project:         project,
		Journal:         journal,
		Dedup:           dedup.New(backend),
		Locker:          dedup.NewLocker(backend),
		DLQ:             dlq.New(backend, cfg.DLQStream, cfg.StreamMaxLen),
		Trace:           trace.NewLogger(backend, cfg.KeyPrefix+":trace"),
		Notifier:        notify.New(cfg.SlackWebhookURL, cfg.SlackChannel, logger),
		Admin:           admin,
		Grounding:       grounding.NewGroundingEngine(grounding.NewFactLedger(cfg.LedgerDir)),
		ShutdownTracing: shutdownTracing,
	}, nil
}

// ServeAdmin starts the admin HTTP surface on cfg.AdminAddr; intended to
// run in its own goroutine.
func (d *Deps) ServeAdmin(ctx context.Context) {
	server := &http.Server{Addr: d.Config.AdminAddr, Handler: d.Admin.Router(d.Logger)}
	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		d.Logger.Warn("admin server stopped", slog.Any("error", err))
	}
}
