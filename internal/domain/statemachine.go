package domain

// transitions is the explicit adjacency table for BacklogStatus, carried
// unchanged from the specification.
var transitions = map[BacklogStatus][]BacklogStatus{
	BacklogCreated:    {BacklogReady, BacklogBlocked},
	BacklogReady:      {BacklogInProgress, BacklogBlocked},
	BacklogBlocked:    {BacklogReady},
	BacklogInProgress: {BacklogDone, BacklogFailed, BacklogBlocked},
	BacklogDone:       {},
	BacklogFailed:     {},
}

// AssertTransition is the sole authority for backlog status changes. It
// accepts enum or raw string form (string form is coerced via
// ParseBacklogStatus by the caller) and returns an *IllegalTransition when
// the move is not adjacency-legal.
func AssertTransition(itemID string, from, to BacklogStatus) error {
	allowed, ok := transitions[from]
	if !ok {
		return &IllegalTransition{ItemID: itemID, From: from, To: to, Allowed: nil}
	}
	for _, candidate := range allowed {
		if candidate == to {
			return nil
		}
	}
	return &IllegalTransition{ItemID: itemID, From: from, To: to, Allowed: allowed}
}

// AllowedTransitions returns the set of states reachable directly from from.
func AllowedTransitions(from BacklogStatus) []BacklogStatus {
	return transitions[from]
}

// ParseBacklogStatus validates a raw string against the known status set.
func ParseBacklogStatus(s string) (BacklogStatus, bool) {
	switch BacklogStatus(s) {
	case BacklogCreated, BacklogReady, BacklogBlocked, BacklogInProgress, BacklogDone, BacklogFailed:
		return BacklogStatus(s), true
	default:
		return "", false
	}
}
