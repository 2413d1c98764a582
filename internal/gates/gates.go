// Package gates tracks short-lived binary context flags.
//
// A context gate only ever shortens escalation dwell thresholds. It
// never raises the escalation ceiling and never triggers a transition
// by itself. Expiry is the designed fail-open path: an expired gate
// silently reverts behavior to the conservative default and emits
// nothing.
package gates

import (
	"log/slog"

	"github.com/wardenhq/warden/internal/envelope"
)

// GateType names the context condition a gate asserts.
type GateType string

const (
	// GateSubjectInYard is an approach-style gate: a tracked subject was
	// confirmed on the property. Longer TTL.
	GateSubjectInYard GateType = "subject_in_yard"
	// GateSubjectAtThreshold is an at-threshold gate: the subject was
	// confirmed directly at an entry point. Shorter TTL.
	GateSubjectAtThreshold GateType = "subject_at_threshold"
)

// TTLs per gate type, in logical milliseconds. Approach gates outlive
// at-threshold gates.
var gateTTL = map[GateType]int64{
	GateSubjectInYard:      120_000,
	GateSubjectAtThreshold: 30_000,
}

// kindToGate maps context signal kinds onto gate types.
var kindToGate = map[envelope.Kind]GateType{
	envelope.KindSubjectInYard: GateSubjectInYard,
	envelope.KindSubjectAtDoor: GateSubjectAtThreshold,
}

// Gate is a named binary flag with a computed expiry.
type Gate struct {
	Type     GateType
	HomeID   string
	SourceID string // signal id that armed the gate
	ArmedMS  int64
	ExpiryMS int64 // ArmedMS + ttl
}

// Manager holds the active gates for all homes. Expiry is evaluated
// lazily against logical ingest time, never against wall clock, so the
// live engine and the replay engine observe identical gate lifetimes.
//
// Not safe for concurrent use; called from the single-writer loop.
type Manager struct {
	active map[string]map[GateType]Gate // home id -> type -> gate
	logger *slog.Logger

	expiredTotal int64
}

// NewManager creates an empty gate manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		active: make(map[string]map[GateType]Gate),
		logger: logger,
	}
}

// GateTypeFor returns the gate type armed by a context signal kind.
func GateTypeFor(kind envelope.Kind) (GateType, bool) {
	gt, ok := kindToGate[kind]
	return gt, ok
}

// TTLFor returns the configured TTL for a gate type.
func TTLFor(gt GateType) int64 {
	return gateTTL[gt]
}

// Arm activates (or refreshes) a gate from a context signal. Re-arming
// an active gate extends its expiry from the new signal's ingest time.
// Returns the armed gate and true, or false for non-context kinds.
func (m *Manager) Arm(s *envelope.Signal) (Gate, bool) {
	gt, ok := kindToGate[s.Kind]
	if !ok {
		return Gate{}, false
	}

	g := Gate{
		Type:     gt,
		HomeID:   s.HomeID,
		SourceID: s.ID,
		ArmedMS:  s.IngestMS,
		ExpiryMS: s.IngestMS + gateTTL[gt],
	}
	if m.active[s.HomeID] == nil {
		m.active[s.HomeID] = make(map[GateType]Gate)
	}
	m.active[s.HomeID][gt] = g

	m.logger.Debug("context gate armed",
		"home", s.HomeID,
		"gate", gt,
		"expiry_ms", g.ExpiryMS,
	)
	return g, true
}

// Active returns the gate types valid for a home at logical time nowMS,
// in deterministic (lexicographic) order. Expired gates are pruned as a
// side effect; pruning is silent by design.
func (m *Manager) Active(homeID string, nowMS int64) []GateType {
	byType := m.active[homeID]
	if len(byType) == 0 {
		return nil
	}

	out := make([]GateType, 0, len(byType))
	for gt, g := range byType {
		if nowMS >= g.ExpiryMS {
			delete(byType, gt)
			m.expiredTotal++
			continue
		}
		out = append(out, gt)
	}
	if len(out) == 0 {
		return nil
	}
	// Deterministic order for record snapshots.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Has reports whether a specific gate is valid at nowMS.
func (m *Manager) Has(homeID string, gt GateType, nowMS int64) bool {
	g, ok := m.active[homeID][gt]
	if !ok {
		return false
	}
	if nowMS >= g.ExpiryMS {
		delete(m.active[homeID], gt)
		m.expiredTotal++
		return false
	}
	return true
}

// ActiveCount returns the number of unexpired gates for all homes at
// nowMS. Used by metrics.
func (m *Manager) ActiveCount(nowMS int64) int {
	count := 0
	for home := range m.active {
		count += len(m.Active(home, nowMS))
	}
	return count
}

// ExpiredTotal returns the running count of silent expirations.
func (m *Manager) ExpiredTotal() int64 {
	return m.expiredTotal
}
