package incident

import (
	"fmt"

	"github.com/wardenhq/warden/internal/envelope"
)

// Record is the append-only audit entry for one state mutation. Exactly
// one record is emitted per mutation across any dimension; its ID is a
// content hash over the canonical encoding, so a replay of the same
// signal sequence reproduces byte-identical records.
type Record struct {
	IncidentID string `json:"incident_id"`
	Seq        int64  `json:"seq"`
	IngestMS   int64  `json:"ingest_ms"`

	Dimension Dimension `json:"dimension"`
	From      string    `json:"from"`
	To        string    `json:"to"`

	// RuleID is the matched rule, or a builtin/ prefixed policy name
	// when the machine itself drove the mutation (timers, commands).
	RuleID          string `json:"rule_id"`
	RuleVersion     int64  `json:"rule_version,omitempty"`
	SnapshotVersion string `json:"snapshot_version,omitempty"`
	Canary          bool   `json:"canary,omitempty"`

	Reason    string   `json:"reason"`
	SignalIDs []string `json:"signal_ids,omitempty"`
	Gates     []string `json:"gates,omitempty"`
	Judge     string   `json:"judge"`
	SubPhase  string   `json:"sub_phase,omitempty"`
}

// CanonicalJSON renders the record in canonical form (sorted keys, NFC,
// no floats). The encoding goes through a plain map so omitted fields
// stay omitted deterministically.
func (r Record) CanonicalJSON() ([]byte, error) {
	m := map[string]any{
		"incident_id": r.IncidentID,
		"seq":         r.Seq,
		"ingest_ms":   r.IngestMS,
		"dimension":   string(r.Dimension),
		"from":        r.From,
		"to":          r.To,
		"rule_id":     r.RuleID,
		"reason":      r.Reason,
		"judge":       r.Judge,
	}
	if r.RuleVersion != 0 {
		m["rule_version"] = r.RuleVersion
	}
	if r.SnapshotVersion != "" {
		m["snapshot_version"] = r.SnapshotVersion
	}
	if r.Canary {
		m["canary"] = true
	}
	if len(r.SignalIDs) > 0 {
		ids := make([]any, len(r.SignalIDs))
		for i, id := range r.SignalIDs {
			ids[i] = id
		}
		m["signal_ids"] = ids
	}
	if len(r.Gates) > 0 {
		gs := make([]any, len(r.Gates))
		for i, g := range r.Gates {
			gs[i] = g
		}
		m["gates"] = gs
	}
	if r.SubPhase != "" {
		m["sub_phase"] = r.SubPhase
	}
	return envelope.MarshalCanonical(m)
}

// ID returns the content-addressed identifier of the record.
func (r Record) ID() (string, error) {
	b, err := r.CanonicalJSON()
	if err != nil {
		return "", fmt.Errorf("canonicalize transition: %w", err)
	}
	return envelope.HashWithDomain(envelope.DomainTransition, b), nil
}
