package observability

import (
	"log/slog"
	"os"

	"github.com/fairyhunter13/auditflow/internal/config"
)

// SetupLogger configures a JSON slog logger tagged with this process's
// service identity (orchestrator, or service/AgentName for a worker), its
// consumer name, and environment, so entries from different AgentName
// workers sharing one stream can be told apart.
func SetupLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{}
	// In dev, show debug level; in prod, default to info
	if cfg.IsDev() {
		opts.Level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(os.Stdout, opts)
	logger := slog.New(h).With(
		slog.String("service", serviceIdentity(cfg)),
		slog.String("env", cfg.AppEnv),
		slog.String("consumer", cfg.ConsumerName),
	)
	return logger
}
