package rules

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"slices"
	"sync/atomic"
)

// MatchInput is the evaluation context for one (incident, signal) pair.
// The caller flattens its view of the world into plain values so the
// registry stays free of domain imports.
type MatchInput struct {
	SignalKind  string
	ZoneType    string
	Confidence  int64
	ThreatState string
	JudgeState  string
	ActiveGates []string
	HardCount   int64
	SoftCount   int64
}

// Match is the selected rule plus the snapshot it came from.
type Match struct {
	Rule            Rule
	SnapshotVersion string
	Canary          bool
}

// Registry holds the active snapshot, an optional canary snapshot, and
// the canary percentage. The snapshot pointers are the only shared
// mutable state in the engine; they are swapped atomically and read
// without locks.
type Registry struct {
	active    atomic.Pointer[Snapshot]
	canary    atomic.Pointer[Snapshot]
	canaryPct atomic.Int64 // 0..100

	// lastGood is the fallback for rejected pushes. Only touched by
	// ApplyPush, which the engine serializes.
	lastGood *Snapshot

	logger *slog.Logger
}

// NewRegistry creates a registry with an initial active snapshot.
func NewRegistry(initial *Snapshot, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{logger: logger}
	r.active.Store(initial)
	r.lastGood = initial
	return r
}

// Active returns the current snapshot. Never nil.
func (r *Registry) Active() *Snapshot {
	return r.active.Load()
}

// Canary returns the canary snapshot and percentage, or nil when no
// canary is configured.
func (r *Registry) Canary() (*Snapshot, int64) {
	return r.canary.Load(), r.canaryPct.Load()
}

// Swap atomically replaces the active snapshot. In-flight evaluations
// holding the old pointer finish against the old snapshot; new
// evaluations see the new one. There is no partially-applied state.
func (r *Registry) Swap(next *Snapshot) {
	prev := r.active.Swap(next)
	r.lastGood = next
	prevVersion := ""
	if prev != nil {
		prevVersion = prev.Version
	}
	r.logger.Info("rule snapshot swapped",
		"from", prevVersion,
		"to", next.Version,
		"rules", next.Len(),
	)
}

// SetCanary installs a canary snapshot routed to pct percent of
// eligible incidents. pct 0 clears the canary.
func (r *Registry) SetCanary(snap *Snapshot, pct int64) error {
	if pct < 0 || pct > 100 {
		return fmt.Errorf("canary percentage %d outside [0,100]", pct)
	}
	if pct == 0 || snap == nil {
		r.canary.Store(nil)
		r.canaryPct.Store(0)
		return nil
	}
	r.canary.Store(snap)
	r.canaryPct.Store(pct)
	r.logger.Info("canary snapshot installed", "version", snap.Version, "pct", pct)
	return nil
}

// CanaryBucket computes the stable bucket (0..99) for an incident.
// Computed once per incident at creation and carried on the incident,
// never re-rolled per signal.
func CanaryBucket(incidentID string) int64 {
	h := fnv.New32a()
	h.Write([]byte(incidentID))
	return int64(h.Sum32() % 100)
}

// SnapshotFor picks the snapshot an incident evaluates against, based
// on its stable canary bucket.
func (r *Registry) SnapshotFor(canaryBucket int64) (*Snapshot, bool) {
	if c := r.canary.Load(); c != nil && canaryBucket < r.canaryPct.Load() {
		return c, true
	}
	return r.active.Load(), false
}

// Eval selects the highest-priority matching rule for the input from
// the snapshot chosen by the incident's canary bucket. Ties on priority
// resolve by ascending rule id (the snapshot's frozen order). Returns
// false when no rule matches.
func (r *Registry) Eval(in MatchInput, canaryBucket int64) (Match, bool) {
	snap, canary := r.SnapshotFor(canaryBucket)
	for _, rule := range snap.Rules() {
		if ruleMatches(rule.When, in) {
			return Match{Rule: rule, SnapshotVersion: snap.Version, Canary: canary}, true
		}
	}
	return Match{}, false
}

func ruleMatches(w When, in MatchInput) bool {
	if len(w.SignalKinds) > 0 && !slices.Contains(w.SignalKinds, in.SignalKind) {
		return false
	}
	if len(w.ThreatIn) > 0 && !slices.Contains(w.ThreatIn, in.ThreatState) {
		return false
	}
	if len(w.ZoneTypes) > 0 && !slices.Contains(w.ZoneTypes, in.ZoneType) {
		return false
	}
	if len(w.JudgeIn) > 0 && !slices.Contains(w.JudgeIn, in.JudgeState) {
		return false
	}
	for _, g := range w.RequiredGates {
		if !slices.Contains(in.ActiveGates, g) {
			return false
		}
	}
	if w.MinConfidence > 0 && in.Confidence < w.MinConfidence {
		return false
	}
	if w.MinHardCount > 0 && in.HardCount < w.MinHardCount {
		return false
	}
	if w.MinSoftCount > 0 && in.SoftCount < w.MinSoftCount {
		return false
	}
	return true
}

// DwellFor resolves the effective dwell for a matched rule: the
// accelerated dwell while every accel gate is active, the base dwell
// otherwise. Gates shorten dwell only; absent or stale context always
// yields the conservative base dwell.
func DwellFor(m Match, activeGates []string) int64 {
	t := m.Rule.Then
	if t.GatedDwellMS == 0 || len(t.AccelGates) == 0 {
		return t.DwellMS
	}
	for _, g := range t.AccelGates {
		if !slices.Contains(activeGates, g) {
			return t.DwellMS
		}
	}
	return t.GatedDwellMS
}
