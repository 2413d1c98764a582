// Package report emits revision-keyed incident reports. Each mutation
// batch produces the next revision for its incident; the revision key
// makes redelivery to the store a no-op, so downstream consumers see
// every revision exactly once however often the engine retries.
package report

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wardenhq/warden/internal/envelope"
	"github.com/wardenhq/warden/internal/incident"
	"github.com/wardenhq/warden/internal/store"
)

// Builder renders and persists report revisions.
type Builder struct {
	store  *store.Store
	logger *slog.Logger
}

func NewBuilder(st *store.Store, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{store: st, logger: logger}
}

// Payload renders the canonical report body for an incident at its
// current revision.
func Payload(inc *incident.Incident, recs []incident.Record) ([]byte, error) {
	recordIDs := make([]any, 0, len(recs))
	for _, r := range recs {
		id, err := r.ID()
		if err != nil {
			return nil, fmt.Errorf("report payload: %w", err)
		}
		recordIDs = append(recordIDs, id)
	}
	m := map[string]any{
		"incident_id": inc.ID,
		"revision":    inc.Revision,
		"home_id":     inc.HomeID,
		"zone":        inc.Zone,
		"threat":      string(inc.Threat),
		"workflow":    string(inc.Workflow),
		"judge":       string(inc.Judge),
		"updated_ms":  inc.UpdatedMS,
	}
	if inc.SubPhase != incident.SubPhaseNone {
		m["sub_phase"] = string(inc.SubPhase)
	}
	if inc.TriggerReason != "" {
		m["trigger_reason"] = inc.TriggerReason
	}
	if len(inc.Tags) > 0 {
		m["tags"] = inc.Tags
	}
	if len(recordIDs) > 0 {
		m["record_ids"] = recordIDs
	}
	return envelope.MarshalCanonical(m)
}

// Emit persists the incident's current revision. Returns whether a new
// revision row landed; false means this revision was already stored.
func (b *Builder) Emit(ctx context.Context, inc *incident.Incident, recs []incident.Record, nowMS int64) (bool, error) {
	payload, err := Payload(inc, recs)
	if err != nil {
		return false, err
	}
	inserted, err := b.store.WriteReportRevision(ctx, inc.ID, inc.Revision, payload, nowMS)
	if err != nil {
		return false, err
	}
	if inserted {
		b.logger.Debug("report revision emitted",
			"incident", inc.ID, "revision", inc.Revision)
	}
	return inserted, nil
}
