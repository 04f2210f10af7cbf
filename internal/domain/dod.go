package domain

import (
	"fmt"
	"sync"
)

// ValidatorFunc inspects a WORK.ITEM_COMPLETED payload and reports whether
// it satisfies the agent's definition of done.
type ValidatorFunc func(payload map[string]any) (ok bool, reason string)

// DoDRegistry holds one validator per known agent name, falling back to
// DefaultValidator for agents that never registered one (spec §9: "unknown
// agents route to a default validator that requires non-empty evidence").
type DoDRegistry struct {
	mu         sync.RWMutex
	validators map[string]ValidatorFunc
}

// NewDoDRegistry builds an empty registry.
func NewDoDRegistry() *DoDRegistry {
	return &DoDRegistry{validators: make(map[string]ValidatorFunc)}
}

// Register installs the validator for agentName, replacing any existing one.
func (r *DoDRegistry) Register(agentName string, v ValidatorFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators[agentName] = v
}

// Validate runs the agent's validator, or DefaultValidator if none is
// registered, then additionally runs the outcome evaluator whenever the
// payload carries declarative facts.
func (r *DoDRegistry) Validate(agentName string, payload map[string]any) (ok bool, reason string) {
	r.mu.RLock()
	v, found := r.validators[agentName]
	r.mu.RUnlock()
	if !found {
		v = DefaultValidator
	}
	ok, reason = v(payload)
	if !ok {
		return ok, reason
	}
	facts, _ := toFactList(payload["facts"])
	claims, _ := toClaimList(payload["claims"])
	if len(facts) == 0 && len(claims) == 0 {
		return true, ""
	}
	return EvaluateOutcome(facts, claims, defaultTaskMinutesCap)
}

// DefaultValidator requires a non-empty evidence object, per spec §4.6.
func DefaultValidator(payload map[string]any) (bool, string) {
	evidence, ok := payload["evidence"].(map[string]any)
	if !ok || len(evidence) == 0 {
		return false, "evidence must exist and be non-empty"
	}
	return true, ""
}

const defaultTaskMinutesCap = 480

// FactClaim is one declarative fact record in a WORK.ITEM_COMPLETED
// payload's "facts" list; grounded on core/evaluation.py's per-fact
// field/value/provenance shape. A fact with Field == "task_minutes"
// contributes Value to the aggregate time-spent check; a fact whose
// provenance has a non-empty "unit" feeds the cross-fact unit-consistency
// check.
type FactClaim struct {
	Field string
	Value float64
	Unit  string
}

// Claim is one entry of a deliverable's top-level "claims" list: an
// assertion that must cite at least one source, or the outcome evaluator
// treats the whole completion as an unverifiable contradiction; grounded
// on core/evaluation.py's deliverable["claims"] handling.
type Claim struct {
	Sources []string
}

func toFactList(raw any) ([]FactClaim, bool) {
	items, ok := raw.([]any)
	if !ok {
		return nil, false
	}
	out := make([]FactClaim, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		fc := FactClaim{}
		fc.Field, _ = m["field"].(string)
		if v, ok := m["value"].(float64); ok {
			fc.Value = v
		}
		if prov, ok := m["provenance"].(map[string]any); ok {
			fc.Unit, _ = prov["unit"].(string)
		}
		out = append(out, fc)
	}
	return out, true
}

func toClaimList(raw any) ([]Claim, bool) {
	items, ok := raw.([]any)
	if !ok {
		return nil, false
	}
	out := make([]Claim, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, Claim{Sources: toStringSlice(m["sources"])})
	}
	return out, true
}

func toStringSlice(raw any) []string {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// EvaluateOutcome implements the outcome evaluator, in the same order and
// with the same precedence as core/evaluation.py's OutcomeEvaluator:
//  1. any top-level claim lacking sources is a hard contradiction, checked
//     (and returned) before anything else;
//  2. otherwise, the sum of every fact with Field == "task_minutes" over
//     cap fails the outcome;
//  3. otherwise, facts carrying more than one distinct provenance unit
//     across the whole set (not per field) fails the outcome.
func EvaluateOutcome(facts []FactClaim, claims []Claim, cap int) (bool, string) {
	for _, c := range claims {
		if len(c.Sources) == 0 {
			return false, "unverifiable claim: no sources provided"
		}
	}

	var totalMinutes float64
	units := make(map[string]struct{})
	for _, f := range facts {
		if f.Field == "task_minutes" {
			totalMinutes += f.Value
		}
		if f.Unit != "" {
			units[f.Unit] = struct{}{}
		}
	}
	if cap > 0 && totalMinutes > float64(cap) {
		return false, fmt.Sprintf("task_minutes total %.0f exceeds cap %d", totalMinutes, cap)
	}
	if len(units) > 1 {
		return false, "unit mismatch across facts"
	}
	return true, ""
}
