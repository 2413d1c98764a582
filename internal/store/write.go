package store

import (
	"context"
	"fmt"

	"github.com/wardenhq/warden/internal/envelope"
	"github.com/wardenhq/warden/internal/evidence"
	"github.com/wardenhq/warden/internal/incident"
)

// WriteSignal appends a signal to the ingest log. ON CONFLICT DO NOTHING
// on both id and fingerprint: redelivery of the same physical signal,
// under the same or a fresh delivery id, is silently absorbed. Returns
// whether a new row was inserted.
func (s *Store) WriteSignal(ctx context.Context, sig *envelope.Signal) (bool, error) {
	fp, err := envelope.Fingerprint(sig)
	if err != nil {
		return false, fmt.Errorf("write signal: %w", err)
	}
	attrs, err := marshalAttrs(sig.Attrs)
	if err != nil {
		return false, fmt.Errorf("write signal: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO signals
		(id, fingerprint, seq, source, kind, hardness, home_id, zone, zone_type,
		 entry_point, confidence, device_ms, ingest_ms, device_id, camera_role,
		 subject_id, attrs, evidence_refs)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		sig.ID, fp, sig.Seq, string(sig.Source), string(sig.Kind), string(sig.Hardness),
		sig.HomeID, sig.Zone, string(sig.ZoneType), sig.EntryPoint, sig.Confidence,
		sig.DeviceMS, sig.IngestMS, sig.DeviceID, string(sig.CameraRole),
		sig.SubjectID, attrs, joinList(sig.EvidenceRefs),
	)
	if err != nil {
		return false, fmt.Errorf("write signal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write signal: %w", err)
	}
	return n > 0, nil
}

// WriteTransition appends a transition record. The row id is the content
// hash of the canonical encoding, so a duplicate write of the same
// record is a no-op.
func (s *Store) WriteTransition(ctx context.Context, rec incident.Record) error {
	canonical, err := rec.CanonicalJSON()
	if err != nil {
		return fmt.Errorf("write transition: %w", err)
	}
	id, err := rec.ID()
	if err != nil {
		return fmt.Errorf("write transition: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transitions
		(id, incident_id, seq, ingest_ms, dimension, from_state, to_state,
		 rule_id, rule_version, snapshot_version, canary, reason,
		 signal_ids, gates, judge, sub_phase, canonical)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		id, rec.IncidentID, rec.Seq, rec.IngestMS, string(rec.Dimension),
		rec.From, rec.To, rec.RuleID, rec.RuleVersion, rec.SnapshotVersion,
		boolInt(rec.Canary), rec.Reason, joinList(rec.SignalIDs),
		joinList(rec.Gates), rec.Judge, rec.SubPhase, string(canonical),
	)
	if err != nil {
		return fmt.Errorf("write transition: %w", err)
	}
	return nil
}

// UpsertIncident writes the latest projection of an incident.
func (s *Store) UpsertIncident(ctx context.Context, inc *incident.Incident) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO incidents
		(id, home_id, zone, zone_type, entry_point, threat, workflow, sub_phase,
		 judge, canary_bucket, created_ms, updated_ms, trigger_reason,
		 hard_triggered, revision, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			threat = excluded.threat,
			workflow = excluded.workflow,
			sub_phase = excluded.sub_phase,
			judge = excluded.judge,
			updated_ms = excluded.updated_ms,
			trigger_reason = excluded.trigger_reason,
			hard_triggered = excluded.hard_triggered,
			revision = excluded.revision,
			tags = excluded.tags
	`,
		inc.ID, inc.HomeID, inc.Zone, string(inc.ZoneType), inc.EntryPoint,
		string(inc.Threat), string(inc.Workflow), string(inc.SubPhase),
		string(inc.Judge), inc.CanaryBucket, inc.CreatedMS, inc.UpdatedMS,
		inc.TriggerReason, boolInt(inc.HardTriggered), inc.Revision,
		joinList(inc.Tags),
	)
	if err != nil {
		return fmt.Errorf("upsert incident %s: %w", inc.ID, err)
	}
	return nil
}

// UpsertEvidenceHold persists one retention hold.
func (s *Store) UpsertEvidenceHold(ctx context.Context, h *evidence.Hold) error {
	promotedID := ""
	if h.Status == evidence.StatusPromoted {
		id, err := h.PromotedID()
		if err != nil {
			return fmt.Errorf("upsert hold %s: %w", h.IncidentID, err)
		}
		promotedID = id
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO evidence_holds
		(incident_id, status, committed_ms, expires_ms, tier_rank, refs, promoted_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(incident_id) DO UPDATE SET
			status = excluded.status,
			expires_ms = excluded.expires_ms,
			tier_rank = excluded.tier_rank,
			refs = excluded.refs,
			promoted_id = excluded.promoted_id
	`,
		h.IncidentID, string(h.Status), h.CommittedMS, h.ExpiresMS,
		h.TierRank, joinList(h.Refs), promotedID,
	)
	if err != nil {
		return fmt.Errorf("upsert hold %s: %w", h.IncidentID, err)
	}
	return nil
}

// DeleteEvidenceHold removes a lapsed hold.
func (s *Store) DeleteEvidenceHold(ctx context.Context, incidentID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM evidence_holds WHERE incident_id = ?`, incidentID); err != nil {
		return fmt.Errorf("delete hold %s: %w", incidentID, err)
	}
	return nil
}

// CommandRow is the persisted form of an external mutation. Commands
// share the signal clock's sequence space so replay can interleave the
// two logs in original order.
type CommandRow struct {
	ID            string
	Type          string
	HomeID        string
	IncidentID    string
	Authenticated bool
	Seq           int64
	AtMS          int64
}

// WriteCommand appends a command to the mutation log, idempotent on the
// transport-assigned id. Returns whether a new row was inserted.
func (s *Store) WriteCommand(ctx context.Context, row CommandRow) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO commands
		(id, type, home_id, incident_id, authenticated, seq, at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		row.ID, row.Type, row.HomeID, row.IncidentID,
		boolInt(row.Authenticated), row.Seq, row.AtMS,
	)
	if err != nil {
		return false, fmt.Errorf("write command %s: %w", row.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write command %s: %w", row.ID, err)
	}
	return n > 0, nil
}

// WriteReportRevision appends one report revision. Revision-keyed: a
// redelivered (incident, revision) pair is silently ignored, so the
// consumer sees each revision at most once from this table.
func (s *Store) WriteReportRevision(ctx context.Context, incidentID string, revision int64, payload []byte, createdMS int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO report_revisions (incident_id, revision, payload, created_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(incident_id, revision) DO NOTHING
	`, incidentID, revision, string(payload), createdMS)
	if err != nil {
		return false, fmt.Errorf("write report revision %s/%d: %w", incidentID, revision, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write report revision %s/%d: %w", incidentID, revision, err)
	}
	return n > 0, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
