package domain

import "testing"

func TestAssertTransition_AllowsAdjacencyLegalMoves(t *testing.T) {
	tests := []struct {
		from BacklogStatus
		to   BacklogStatus
	}{
		{BacklogCreated, BacklogReady},
		{BacklogCreated, BacklogBlocked},
		{BacklogReady, BacklogInProgress},
		{BacklogBlocked, BacklogReady},
		{BacklogInProgress, BacklogDone},
		{BacklogInProgress, BacklogFailed},
		{BacklogInProgress, BacklogBlocked},
	}
	for _, tt := range tests {
		if err := AssertTransition("item-1", tt.from, tt.to); err != nil {
			t.Errorf("AssertTransition(%s -> %s) = %v, want nil", tt.from, tt.to, err)
		}
	}
}

func TestAssertTransition_RejectsIllegalMoves(t *testing.T) {
	tests := []struct {
		from BacklogStatus
		to   BacklogStatus
	}{
		{BacklogCreated, BacklogDone},
		{BacklogDone, BacklogReady},
		{BacklogFailed, BacklogInProgress},
		{BacklogReady, BacklogDone},
	}
	for _, tt := range tests {
		err := AssertTransition("item-1", tt.from, tt.to)
		if err == nil {
			t.Errorf("AssertTransition(%s -> %s) = nil, want IllegalTransition", tt.from, tt.to)
			continue
		}
		var illegal *IllegalTransition
		if !errorsAsIllegal(err, &illegal) {
			t.Errorf("unexpected error type %T", err)
		}
	}
}

func errorsAsIllegal(err error, target **IllegalTransition) bool {
	it, ok := err.(*IllegalTransition)
	if ok {
		*target = it
	}
	return ok
}

func TestAllowedTransitions_TerminalStatesAreEmpty(t *testing.T) {
	if len(AllowedTransitions(BacklogDone)) != 0 {
		t.Fatal("expected DONE to have no outbound transitions")
	}
	if len(AllowedTransitions(BacklogFailed)) != 0 {
		t.Fatal("expected FAILED to have no outbound transitions")
	}
}

func TestParseBacklogStatus(t *testing.T) {
	if _, ok := ParseBacklogStatus("READY"); !ok {
		t.Fatal("expected READY to parse")
	}
	if _, ok := ParseBacklogStatus("NOT_A_STATUS"); ok {
		t.Fatal("expected an unknown status string to fail to parse")
	}
}
