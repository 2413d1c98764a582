// Package evidence manages retention holds on the media referenced by
// an incident. A hold is committed once when an incident first leaves
// the none tier, extended once when it escalates, and promoted to
// permanent retention when it triggers. Everything else expires on TTL.
package evidence

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/wardenhq/warden/internal/envelope"
	"github.com/wardenhq/warden/internal/incident"
)

// Status is the retention lifecycle of one hold.
type Status string

const (
	StatusHeld     Status = "held"
	StatusExtended Status = "extended"
	StatusPromoted Status = "promoted"
	StatusExpired  Status = "expired"
)

// Hold is the retention record for one incident's evidence.
type Hold struct {
	IncidentID  string   `json:"incident_id"`
	Status      Status   `json:"status"`
	CommittedMS int64    `json:"committed_ms"`
	ExpiresMS   int64    `json:"expires_ms,omitempty"` // zero once promoted
	TierRank    int      `json:"tier_rank"`            // highest threat rank reached
	Refs        []string `json:"refs,omitempty"`
}

// PromotedID returns the content-addressed identity of a promoted hold.
func (h *Hold) PromotedID() (string, error) {
	if h.Status != StatusPromoted {
		return "", fmt.Errorf("hold %s: not promoted", h.IncidentID)
	}
	refs := make([]string, len(h.Refs))
	copy(refs, h.Refs)
	sort.Strings(refs)
	b, err := envelope.MarshalCanonical(map[string]any{
		"incident_id":  h.IncidentID,
		"committed_ms": h.CommittedMS,
		"refs":         refs,
	})
	if err != nil {
		return "", fmt.Errorf("canonicalize hold: %w", err)
	}
	return envelope.HashWithDomain(envelope.DomainEvidence, b), nil
}

// Config carries the retention windows.
type Config struct {
	HoldTTLMS   int64 // initial hold from first commit
	ExtendTTLMS int64 // extension granted on escalation
}

// DefaultConfig holds 24h initially, 72h once escalated.
func DefaultConfig() Config {
	return Config{
		HoldTTLMS:   24 * 60 * 60 * 1000,
		ExtendTTLMS: 72 * 60 * 60 * 1000,
	}
}

// Manager owns all holds. Single-writer, driven by the engine off the
// transition record stream.
type Manager struct {
	cfg    Config
	holds  map[string]*Hold
	logger *slog.Logger

	expiredTotal int64
}

func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{cfg: cfg, holds: make(map[string]*Hold), logger: logger}
}

// OnTransition observes one threat-dimension record and applies the
// retention policy. Non-threat records are ignored.
func (m *Manager) OnTransition(rec incident.Record, nowMS int64) {
	if rec.Dimension != incident.DimThreat {
		return
	}
	to := incident.ThreatState(rec.To)
	rank := to.Rank()
	if rank == 0 {
		return
	}

	h, ok := m.holds[rec.IncidentID]
	if !ok {
		// Commit-once: the first advance out of none opens the hold.
		h = &Hold{
			IncidentID:  rec.IncidentID,
			Status:      StatusHeld,
			CommittedMS: nowMS,
			ExpiresMS:   nowMS + m.cfg.HoldTTLMS,
			TierRank:    rank,
			Refs:        append([]string(nil), rec.SignalIDs...),
		}
		m.holds[rec.IncidentID] = h
		m.logger.Debug("evidence hold committed", "incident", rec.IncidentID, "expires_ms", h.ExpiresMS)
	}
	if rank > h.TierRank {
		h.TierRank = rank
	}
	h.Refs = mergeRefs(h.Refs, rec.SignalIDs)

	switch {
	case to == incident.ThreatTriggered && h.Status != StatusPromoted:
		h.Status = StatusPromoted
		h.ExpiresMS = 0
		m.logger.Info("evidence hold promoted", "incident", rec.IncidentID)
	case rank >= incident.ThreatPending.Rank() && h.Status == StatusHeld:
		// Extend-once: escalation buys the longer window exactly once.
		h.Status = StatusExtended
		h.ExpiresMS = h.CommittedMS + m.cfg.ExtendTTLMS
		m.logger.Debug("evidence hold extended", "incident", rec.IncidentID, "expires_ms", h.ExpiresMS)
	}
}

// AddRefs attaches additional media references to an existing hold.
// Unknown incidents are ignored; there is nothing to hold against.
func (m *Manager) AddRefs(incidentID string, refs []string) {
	if h, ok := m.holds[incidentID]; ok {
		h.Refs = mergeRefs(h.Refs, refs)
	}
}

// Get returns the hold for an incident, or nil.
func (m *Manager) Get(incidentID string) *Hold {
	return m.holds[incidentID]
}

// Sweep expires every non-promoted hold whose TTL elapsed at nowMS and
// returns the expired holds in deterministic incident-id order.
func (m *Manager) Sweep(nowMS int64) []*Hold {
	var expired []*Hold
	for _, h := range m.holds {
		if h.Status == StatusPromoted || h.ExpiresMS == 0 {
			continue
		}
		if nowMS >= h.ExpiresMS {
			h.Status = StatusExpired
			expired = append(expired, h)
		}
	}
	for _, h := range expired {
		delete(m.holds, h.IncidentID)
		m.expiredTotal++
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].IncidentID < expired[j].IncidentID })
	if len(expired) > 0 {
		m.logger.Debug("evidence holds expired", "count", len(expired))
	}
	return expired
}

// DropBelow releases non-promoted holds whose highest tier stayed under
// minRank. The noise controller uses this as its second degradation
// step; promoted and escalated evidence is never dropped.
func (m *Manager) DropBelow(minRank int, nowMS int64) []*Hold {
	var dropped []*Hold
	for _, h := range m.holds {
		if h.Status != StatusHeld || h.TierRank >= minRank {
			continue
		}
		h.Status = StatusExpired
		dropped = append(dropped, h)
	}
	for _, h := range dropped {
		delete(m.holds, h.IncidentID)
	}
	sort.Slice(dropped, func(i, j int) bool { return dropped[i].IncidentID < dropped[j].IncidentID })
	return dropped
}

// ExpiredTotal reports how many holds have lapsed since start.
func (m *Manager) ExpiredTotal() int64 {
	return m.expiredTotal
}

// Len reports the number of live holds.
func (m *Manager) Len() int {
	return len(m.holds)
}

func mergeRefs(dst, src []string) []string {
	const limit = 256
	for _, r := range src {
		if len(dst) >= limit {
			return dst
		}
		found := false
		for _, have := range dst {
			if have == r {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, r)
		}
	}
	return dst
}
