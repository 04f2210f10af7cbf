// Package main is the orchestrator service entry point: the event
// interpreter (C8) consuming PROJECT/QUESTION/WORK/HUMAN events and driving
// backlog, dispatch, and approval state. Grounded on the teacher's
// cmd/worker/main.go wiring order and C360Studio-semspec's cobra root
// command construction.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fairyhunter13/auditflow/internal/cli"
	"github.com/fairyhunter13/auditflow/internal/orchestrator"
	"github.com/fairyhunter13/auditflow/internal/stream"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "orchestrator: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "orchestrator",
		Short: "Runs the auditflow orchestrator",
		Long:  "Consumes the event stream, maintains backlog/question/project state, and dispatches work items.",
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

	orch := orchestrator.New(
		deps.Backend, deps.Backlog, deps.Question, deps.Project, deps.Locker,
		deps.Trace, deps.Notifier, deps.Logger,
		deps.Config.StreamName, deps.Config.StreamMaxLen, deps.Config.ConsumerName,
	)

	processor := &stream.Processor{
		Backend:      deps.Backend,
		Schemas:      deps.Schemas,
		DLQ:          deps.DLQ,
		Dedup:        deps.Dedup,
		Logger:       deps.Logger,
		Stream:       deps.Config.StreamName,
		Group:        deps.Config.ConsumerGroup,
		Consumer:     deps.Config.ConsumerName,
		ReadCount:    int64(deps.Config.ReadCount),
		BlockFor:     deps.Config.BlockDuration(),
		IdleReclaim:  deps.Config.IdleReclaimDuration(),
		ReclaimCount: int64(deps.Config.ReclaimCount),
		MaxAttempts:  int64(deps.Config.MaxAttempts),
		DedupeTTL:    deps.Config.DedupeTTL(),
		Handle:       orch.Handle,
	}

	if err := processor.EnsureGroup(ctx); err != nil {
		return fmt.Errorf("op=main.serve: ensure consumer group: %w", err)
	}

	go deps.ServeAdmin(ctx)

	deps.Logger.Info("orchestrator listening",
		slog.String("stream", deps.Config.StreamName),
		slog.String("group", deps.Config.ConsumerGroup),
		slog.String("consumer", deps.Config.ConsumerName),
	)

	err = processor.Run(ctx)
	if err != nil && ctx.Err() != nil {
		deps.Logger.Info("orchestrator shutting down")
		return nil
	}
	return err
}
