// Package main stands up just the admin HTTP surface (health, metrics, DLQ
// browse/replay, manual event injection) without a stream consumer loop of
// its own, for operating on a deployment's DLQ out-of-band.
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
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "dlqadmin: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "dlqadmin",
		Short: "Runs the auditflow DLQ admin HTTP surface",
		Long:  "Exposes /healthz, /metrics, and DLQ browse/replay endpoints without joining the main consumer groups.",
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

	deps.Logger.Info("dlqadmin listening", slog.String("addr", deps.Config.AdminAddr))
	deps.ServeAdmin(ctx)
	deps.Logger.Info("dlqadmin shutting down")
	return nil
}
