package observability

import (
	"testing"

	"github.com/fairyhunter13/auditflow/internal/config"
)

func TestServiceIdentity_OrchestratorHasNoAgentSuffix(t *testing.T) {
	got := serviceIdentity(config.Config{OTELServiceName: "auditflow"})
	if got != "auditflow" {
		t.Fatalf("serviceIdentity = %q, want auditflow", got)
	}
}

func TestServiceIdentity_WorkerSuffixesAgentName(t *testing.T) {
	got := serviceIdentity(config.Config{OTELServiceName: "auditflow", AgentName: "test_worker"})
	if got != "auditflow/test_worker" {
		t.Fatalf("serviceIdentity = %q, want auditflow/test_worker", got)
	}
}
