package observability

import "github.com/fairyhunter13/auditflow/internal/config"

// serviceIdentity names the running process for logs and traces. The
// orchestrator binary carries no AgentName, so it reports under the bare
// service name; every worker binary reports under service/agent so the
// test_worker, requirements_manager, and dev_worker consumers are
// distinguishable in a shared log/trace backend.
func serviceIdentity(cfg config.Config) string {
	if cfg.AgentName == "" {
		return cfg.OTELServiceName
	}
	return cfg.OTELServiceName + "/" + cfg.AgentName
}
