package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/wardenhq/warden/internal/envelope"
	"github.com/wardenhq/warden/internal/incident"
)

// ErrNotFound is returned for lookups that match nothing.
var ErrNotFound = errors.New("not found")

// ReadSignals streams the full signal log in (ingest_ms, seq) order,
// the replay engine's input order.
func (s *Store) ReadSignals(ctx context.Context) ([]*envelope.Signal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, source, kind, hardness, home_id, zone, zone_type,
		       entry_point, confidence, device_ms, ingest_ms, device_id,
		       camera_role, subject_id, attrs, evidence_refs
		FROM signals
		ORDER BY ingest_ms, seq
	`)
	if err != nil {
		return nil, fmt.Errorf("read signals: %w", err)
	}
	defer rows.Close()

	var out []*envelope.Signal
	for rows.Next() {
		var sig envelope.Signal
		var source, kind, hardness, zoneType, cameraRole, attrs, refs string
		if err := rows.Scan(
			&sig.ID, &sig.Seq, &source, &kind, &hardness, &sig.HomeID,
			&sig.Zone, &zoneType, &sig.EntryPoint, &sig.Confidence,
			&sig.DeviceMS, &sig.IngestMS, &sig.DeviceID, &cameraRole,
			&sig.SubjectID, &attrs, &refs,
		); err != nil {
			return nil, fmt.Errorf("read signals: scan: %w", err)
		}
		sig.Source = envelope.Source(source)
		sig.Kind = envelope.Kind(kind)
		sig.Hardness = envelope.Hardness(hardness)
		sig.ZoneType = envelope.ZoneType(zoneType)
		sig.CameraRole = envelope.CameraRole(cameraRole)
		sig.EvidenceRefs = splitList(refs)
		if sig.Attrs, err = unmarshalAttrs(attrs); err != nil {
			return nil, fmt.Errorf("read signals: %s: %w", sig.ID, err)
		}
		out = append(out, &sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read signals: %w", err)
	}
	return out, nil
}

// ReadTransitions returns an incident's records in seq order.
func (s *Store) ReadTransitions(ctx context.Context, incidentID string) ([]incident.Record, error) {
	return s.readTransitionsWhere(ctx, `WHERE incident_id = ? ORDER BY seq`, incidentID)
}

// ReadAllTransitions returns the entire transition log in seq order.
func (s *Store) ReadAllTransitions(ctx context.Context) ([]incident.Record, error) {
	return s.readTransitionsWhere(ctx, `ORDER BY seq`)
}

func (s *Store) readTransitionsWhere(ctx context.Context, clause string, args ...any) ([]incident.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT incident_id, seq, ingest_ms, dimension, from_state, to_state,
		       rule_id, rule_version, snapshot_version, canary, reason,
		       signal_ids, gates, judge, sub_phase
		FROM transitions `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("read transitions: %w", err)
	}
	defer rows.Close()

	var out []incident.Record
	for rows.Next() {
		var rec incident.Record
		var dim, sigIDs, gates string
		var canary int
		if err := rows.Scan(
			&rec.IncidentID, &rec.Seq, &rec.IngestMS, &dim, &rec.From, &rec.To,
			&rec.RuleID, &rec.RuleVersion, &rec.SnapshotVersion, &canary,
			&rec.Reason, &sigIDs, &gates, &rec.Judge, &rec.SubPhase,
		); err != nil {
			return nil, fmt.Errorf("read transitions: scan: %w", err)
		}
		rec.Dimension = incident.Dimension(dim)
		rec.Canary = canary != 0
		rec.SignalIDs = splitList(sigIDs)
		rec.Gates = splitList(gates)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read transitions: %w", err)
	}
	return out, nil
}

// ReadTransitionCanonicals returns the stored canonical encodings in seq
// order, the byte stream replay verification compares against.
func (s *Store) ReadTransitionCanonicals(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT canonical FROM transitions ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("read transition canonicals: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("read transition canonicals: scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read transition canonicals: %w", err)
	}
	return out, nil
}

// ReadIncident loads one incident projection.
func (s *Store) ReadIncident(ctx context.Context, id string) (*incident.Incident, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, home_id, zone, zone_type, entry_point, threat, workflow,
		       sub_phase, judge, canary_bucket, created_ms, updated_ms,
		       trigger_reason, hard_triggered, revision, tags
		FROM incidents WHERE id = ?
	`, id)

	var inc incident.Incident
	var zoneType, threat, workflow, subPhase, judge, tags string
	var hardTriggered int
	err := row.Scan(
		&inc.ID, &inc.HomeID, &inc.Zone, &zoneType, &inc.EntryPoint,
		&threat, &workflow, &subPhase, &judge, &inc.CanaryBucket,
		&inc.CreatedMS, &inc.UpdatedMS, &inc.TriggerReason,
		&hardTriggered, &inc.Revision, &tags,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("incident %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read incident %s: %w", id, err)
	}
	inc.ZoneType = envelope.ZoneType(zoneType)
	inc.Threat = incident.ThreatState(threat)
	inc.Workflow = incident.WorkflowState(workflow)
	inc.SubPhase = incident.SubPhase(subPhase)
	inc.Judge = incident.JudgeState(judge)
	inc.HardTriggered = hardTriggered != 0
	inc.Tags = splitList(tags)
	return &inc, nil
}

// ReadOpenIncidents lists incidents not yet closed, ordered by id.
func (s *Store) ReadOpenIncidents(ctx context.Context) ([]*incident.Incident, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM incidents WHERE workflow != 'closed' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("read open incidents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("read open incidents: scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read open incidents: %w", err)
	}

	out := make([]*incident.Incident, 0, len(ids))
	for _, id := range ids {
		inc, err := s.ReadIncident(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	return out, nil
}

// ReadCommands returns the command log in seq order.
func (s *Store) ReadCommands(ctx context.Context) ([]CommandRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, home_id, incident_id, authenticated, seq, at_ms
		FROM commands ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("read commands: %w", err)
	}
	defer rows.Close()

	var out []CommandRow
	for rows.Next() {
		var row CommandRow
		var auth int
		if err := rows.Scan(
			&row.ID, &row.Type, &row.HomeID, &row.IncidentID,
			&auth, &row.Seq, &row.AtMS,
		); err != nil {
			return nil, fmt.Errorf("read commands: scan: %w", err)
		}
		row.Authenticated = auth != 0
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read commands: %w", err)
	}
	return out, nil
}

// ReportRevisionCount returns the number of stored revisions for an
// incident.
func (s *Store) ReportRevisionCount(ctx context.Context, incidentID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM report_revisions WHERE incident_id = ?`, incidentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count report revisions %s: %w", incidentID, err)
	}
	return n, nil
}

// MaxSeq returns the highest logical sequence number in the event and
// transition logs, so a restarted engine can resume its clock past
// everything already stored. Zero for an empty database.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM (
			SELECT seq FROM signals
			UNION ALL SELECT seq FROM commands
			UNION ALL SELECT seq FROM transitions
		)
	`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("read max seq: %w", err)
	}
	return n, nil
}
