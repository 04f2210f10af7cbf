// Package main is the generic worker service entry point (C9), bound at
// startup to one AGENT_NAME's concrete process(context) implementation.
// Grounded on the teacher's cmd/worker/main.go wiring order; the AGENT_NAME
// dispatch and re-exec'd phase dispatch are original to this module's
// worker-template/phase-runner design (spec §4.9/§4.10).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fairyhunter13/auditflow/internal/agentmanager"
	"github.com/fairyhunter13/auditflow/internal/cli"
	"github.com/fairyhunter13/auditflow/internal/config"
	"github.com/fairyhunter13/auditflow/internal/domain"
	"github.com/fairyhunter13/auditflow/internal/kv"
	"github.com/fairyhunter13/auditflow/internal/phaserunner"
	"github.com/fairyhunter13/auditflow/internal/stream"
	"github.com/fairyhunter13/auditflow/internal/worker"
	"github.com/fairyhunter13/auditflow/internal/worker/costtime"
	"github.com/fairyhunter13/auditflow/internal/worker/llmdev"
	"github.com/fairyhunter13/auditflow/internal/worker/requirements"
)

func main() {
	if phase, ok := phaserunner.IsReexec(); ok {
		os.Exit(runPhaseChild(phase))
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}
}

// runPhaseChild is the re-exec'd child path (see internal/phaserunner):
// it must do the minimum needed to run exactly one phase handler and exit,
// never starting the normal consumer loop.
func runPhaseChild(phase string) int {
	ctx := context.Background()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "worker phase child: load config: %v\n", err)
		return 1
	}
	backend, err := kv.NewRedisBackend(ctx, cfg.RedisAddr(), cfg.RedisDB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "worker phase child: connect backend: %v\n", err)
		return 1
	}
	defer backend.Close()

	registry := llmdev.BuildRegistry(backend)
	if err := phaserunner.RunReexecChild(ctx, registry, phase, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	return 0
}

func run() error {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "worker",
		Short: "Runs an auditflow agent worker",
		Long:  "Consumes WORK.ITEM_DISPATCHED events targeted at AGENT_NAME and publishes the resulting deliverable or clarification request.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config overlay")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return rootCmd.ExecuteContext(ctx)
}

func serve(ctx context.Context, configPath string) error {
	deps, err := cli.Bootstrap(ctx, configPath)
	if err != nil {
		return err
	}
	defer deps.Backend.Close()
	if deps.ShutdownTracing != nil {
		defer deps.ShutdownTracing(context.Background())
	}

	if deps.Config.AgentName == "" {
		return fmt.Errorf("op=main.serve: AGENT_NAME must be set")
	}

	process, err := selectProcess(deps)
	if err != nil {
		return err
	}

	w := &worker.Worker{
		Backend:      deps.Backend,
		Locker:       deps.Locker,
		Logger:       deps.Logger,
		Process:      process,
		AgentName:    deps.Config.AgentName,
		StreamName:   deps.Config.StreamName,
		MaxLenApprox: deps.Config.StreamMaxLen,
		ConsumerName: deps.Config.ConsumerName,
		LockTTL:      10 * time.Second,
	}

	group := deps.Config.AgentName + "_workers"
	processor := &stream.Processor{
		Backend:      deps.Backend,
		Schemas:      deps.Schemas,
		DLQ:          deps.DLQ,
		Dedup:        deps.Dedup,
		Logger:       deps.Logger,
		Stream:       deps.Config.StreamName,
		Group:        group,
		Consumer:     deps.Config.ConsumerName,
		ReadCount:    int64(deps.Config.ReadCount),
		BlockFor:     deps.Config.BlockDuration(),
		IdleReclaim:  deps.Config.IdleReclaimDuration(),
		ReclaimCount: int64(deps.Config.ReclaimCount),
		MaxAttempts:  int64(deps.Config.MaxAttempts),
		DedupeTTL:    deps.Config.DedupeTTL(),
		Handle:       w.Handle,
	}

	if err := processor.EnsureGroup(ctx); err != nil {
		return fmt.Errorf("op=main.serve: ensure consumer group: %w", err)
	}

	go deps.ServeAdmin(ctx)

	deps.Logger.Info("worker listening",
		slog.String("agent", deps.Config.AgentName),
		slog.String("stream", deps.Config.StreamName),
		slog.String("group", group),
		slog.String("consumer", deps.Config.ConsumerName),
	)

	err = processor.Run(ctx)
	if err != nil && ctx.Err() != nil {
		deps.Logger.Info("worker shutting down")
		return nil
	}
	return err
}

// selectProcess binds AGENT_NAME to its concrete domain logic: the
// cost/time analysis for test_worker/time_waste_worker, the KPI extraction
// for requirements_manager, or the agent-manager-driven phase pipeline for
// dev_worker/llm_dev_worker.
func selectProcess(deps *cli.Deps) (worker.ProcessFunc, error) {
	switch deps.Config.AgentName {
	case "test_worker", "time_waste_worker":
		return costtime.NewProcess(deps.Grounding), nil
	case "requirements_manager":
		return requirements.NewProcess(), nil
	case "dev_worker", "llm_dev_worker":
		timeouts := agentmanager.Timeouts{
			Analyze:      time.Duration(deps.Config.AnalyzeTimeoutS) * time.Second,
			Architecture: time.Duration(deps.Config.ArchitectureTimeoutS) * time.Second,
			Code:         time.Duration(deps.Config.CodeTimeoutS) * time.Second,
			Review:       time.Duration(deps.Config.ReviewTimeoutS) * time.Second,
		}
		manager := agentmanager.New(
			deps.Journal, timeouts, deps.Config.ReviewMaxRetries,
			republishDispatch(deps), incident(deps), deps.Logger,
		)
		return llmdev.NewProcess(deps.Backend, manager), nil
	default:
		return nil, fmt.Errorf("op=main.selectProcess: unknown AGENT_NAME %q", deps.Config.AgentName)
	}
}

// republishDispatch re-emits WORK.ITEM_DISPATCHED for messageID so the
// normal worker loop attempts the stalled phase again, per spec §4.11's
// exactly-once republish step.
func republishDispatch(deps *cli.Deps) agentmanager.RepublishHandler {
	return func(ctx context.Context, messageID, phase string) error {
		env := domain.EventEnvelope{
			EventID:       uuid.NewString(),
			EventType:     domain.EventWorkItemDispatched,
			EventVersion:  domain.EventVersion1,
			Timestamp:     time.Now().UTC().Format(time.RFC3339),
			Source:        domain.EventSource{Service: deps.Config.AgentName, Instance: deps.Config.ConsumerName},
			CorrelationID: uuid.NewString(),
			Payload: map[string]any{
				"project_id":      "",
				"backlog_item_id": messageID,
				"agent_target":    deps.Config.AgentName,
				"work_context":    map[string]any{"retried_phase": phase},
			},
		}
		encoded, err := json.Marshal(env)
		if err != nil {
			return err
		}
		_, err = deps.Backend.XAdd(ctx, deps.Config.StreamName, map[string]string{"event": string(encoded)}, deps.Config.StreamMaxLen)
		return err
	}
}

func incident(deps *cli.Deps) agentmanager.IncidentHandler {
	return func(ctx context.Context, messageID, phase, reason string) {
		deps.Logger.Error("agent manager incident",
			slog.String("message_id", messageID), slog.String("phase", phase), slog.String("reason", reason))
		if err := deps.Notifier.Incident(ctx, messageID, phase, reason); err != nil {
			deps.Logger.Warn("incident notification failed", slog.Any("error", err))
		}
	}
}
