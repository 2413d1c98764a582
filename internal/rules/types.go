// Package rules holds the versioned transition rule registry.
//
// Rules are loaded into immutable snapshots. Reload builds a new
// snapshot and swaps an atomic pointer; a snapshot is never mutated in
// place, so in-flight evaluations always observe one consistent rule
// set.
package rules

import (
	"fmt"
	"slices"
	"strings"
)

// State names referenced by rule conditions and effects. The rules
// package deliberately speaks in strings so it stays independent of the
// state machine; CompileRules and Snapshot validation reject names
// outside these sets.
var (
	ThreatStates = []string{"none", "suspected", "elevated", "pending", "triggered"}

	WorkflowStates = []string{"idle", "notified", "verifying", "escalated", "resolved", "closed"}

	Dimensions = []string{"threat", "workflow"}

	JudgeStates = []string{"available", "degraded"}
)

// When is the predicate half of a transition rule. Empty slices match
// anything; populated slices are exact-membership checks.
type When struct {
	SignalKinds   []string `json:"signal_kinds,omitempty" yaml:"signal_kinds,omitempty"`
	ThreatIn      []string `json:"threat_in,omitempty" yaml:"threat_in,omitempty"`
	ZoneTypes     []string `json:"zone_types,omitempty" yaml:"zone_types,omitempty"`
	JudgeIn       []string `json:"judge_in,omitempty" yaml:"judge_in,omitempty"`
	RequiredGates []string `json:"required_gates,omitempty" yaml:"required_gates,omitempty"`
	MinConfidence int64    `json:"min_confidence,omitempty" yaml:"min_confidence,omitempty"`
	MinHardCount  int64    `json:"min_hard_count,omitempty" yaml:"min_hard_count,omitempty"`
	MinSoftCount  int64    `json:"min_soft_count,omitempty" yaml:"min_soft_count,omitempty"`
}

// Then is the effect half: advance one dimension to a target state,
// optionally after a dwell. GatedDwellMS is the accelerated dwell used
// while every gate in AccelGates is active; it may only shorten the
// dwell, never lengthen it, and never changes the target state.
type Then struct {
	Dimension    string   `json:"dimension" yaml:"dimension"`
	To           string   `json:"to" yaml:"to"`
	Reason       string   `json:"reason" yaml:"reason"`
	DwellMS      int64    `json:"dwell_ms,omitempty" yaml:"dwell_ms,omitempty"`
	GatedDwellMS int64    `json:"gated_dwell_ms,omitempty" yaml:"gated_dwell_ms,omitempty"`
	AccelGates   []string `json:"accel_gates,omitempty" yaml:"accel_gates,omitempty"`
}

// Rule is one versioned, priority-ordered transition rule.
type Rule struct {
	ID       string `json:"id" yaml:"id"`
	Version  int64  `json:"version" yaml:"version"`
	Priority int64  `json:"priority" yaml:"priority"`
	When     When   `json:"when" yaml:"when"`
	Then     Then   `json:"then" yaml:"then"`
}

// Validate checks structural soundness of a single rule.
func (r Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule with empty id")
	}
	if r.Version <= 0 {
		return fmt.Errorf("rule %s: version must be positive", r.ID)
	}
	if !slices.Contains(Dimensions, r.Then.Dimension) {
		return fmt.Errorf("rule %s: unknown dimension %q", r.ID, r.Then.Dimension)
	}
	valid := ThreatStates
	if r.Then.Dimension == "workflow" {
		valid = WorkflowStates
	}
	if !slices.Contains(valid, r.Then.To) {
		return fmt.Errorf("rule %s: unknown target state %q for %s", r.ID, r.Then.To, r.Then.Dimension)
	}
	if r.Then.Reason == "" {
		return fmt.Errorf("rule %s: empty reason code", r.ID)
	}
	for _, ts := range r.When.ThreatIn {
		if !slices.Contains(ThreatStates, ts) {
			return fmt.Errorf("rule %s: unknown threat state %q in condition", r.ID, ts)
		}
	}
	for _, js := range r.When.JudgeIn {
		if !slices.Contains(JudgeStates, js) {
			return fmt.Errorf("rule %s: unknown judge state %q in condition", r.ID, js)
		}
	}
	if r.Then.GatedDwellMS > 0 && r.Then.GatedDwellMS > r.Then.DwellMS {
		return fmt.Errorf("rule %s: gated dwell %d exceeds base dwell %d (gates only shorten dwell)",
			r.ID, r.Then.GatedDwellMS, r.Then.DwellMS)
	}
	if r.Then.GatedDwellMS > 0 && len(r.Then.AccelGates) == 0 {
		return fmt.Errorf("rule %s: gated dwell without accel gates", r.ID)
	}
	return nil
}

// Snapshot is an immutable, validated, prioritized rule set.
type Snapshot struct {
	Version string // registry version tag, e.g. "2026-08-30.3"
	rules   []Rule // sorted: priority desc, then id asc
}

// NewSnapshot validates rules and freezes them into evaluation order:
// priority descending, ties broken by ascending rule id. The tie-break
// is the documented deterministic total order for equally-eligible
// rules at the same priority.
func NewSnapshot(version string, rs []Rule) (*Snapshot, error) {
	if version == "" {
		return nil, fmt.Errorf("snapshot version is required")
	}
	seen := make(map[string]bool, len(rs))
	for _, r := range rs {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("duplicate rule id: %s", r.ID)
		}
		seen[r.ID] = true
	}

	sorted := make([]Rule, len(rs))
	copy(sorted, rs)
	slices.SortFunc(sorted, func(a, b Rule) int {
		if a.Priority != b.Priority {
			if a.Priority > b.Priority {
				return -1
			}
			return 1
		}
		return strings.Compare(a.ID, b.ID)
	})

	return &Snapshot{Version: version, rules: sorted}, nil
}

// Rules returns the frozen evaluation order. Callers must not mutate
// the returned slice.
func (s *Snapshot) Rules() []Rule {
	return s.rules
}

// Len returns the number of rules in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.rules)
}
