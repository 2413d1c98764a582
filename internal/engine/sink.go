package engine

import (
	"context"

	"github.com/wardenhq/warden/internal/envelope"
	"github.com/wardenhq/warden/internal/evidence"
	"github.com/wardenhq/warden/internal/incident"
	"github.com/wardenhq/warden/internal/metrics"
	"github.com/wardenhq/warden/internal/report"
	"github.com/wardenhq/warden/internal/store"
)

// storeSink is the live sink: durable writes to the store, report
// revisions through the builder, instrument updates on the side.
type storeSink struct {
	store   *store.Store
	reports *report.Builder
	met     *metrics.Metrics
}

// NewStoreSink backs a core with the SQLite store. met may be nil.
func NewStoreSink(st *store.Store, reports *report.Builder, met *metrics.Metrics) Sink {
	return &storeSink{store: st, reports: reports, met: met}
}

func (s *storeSink) PersistSignal(ctx context.Context, sig *envelope.Signal) (bool, error) {
	inserted, err := s.store.WriteSignal(ctx, sig)
	if err != nil {
		return false, err
	}
	if s.met != nil {
		if inserted {
			s.met.SignalsIngested.Add(ctx, 1)
		} else {
			s.met.SignalsDeduped.Add(ctx, 1)
		}
	}
	return inserted, nil
}

func (s *storeSink) PersistCommand(ctx context.Context, cmd *Command) (bool, error) {
	return s.store.WriteCommand(ctx, store.CommandRow{
		ID:            cmd.ID,
		Type:          string(cmd.Type),
		HomeID:        cmd.HomeID,
		IncidentID:    cmd.IncidentID,
		Authenticated: cmd.Authenticated,
		Seq:           cmd.Seq,
		AtMS:          cmd.AtMS,
	})
}

func (s *storeSink) PersistRecord(ctx context.Context, rec incident.Record) error {
	if err := s.store.WriteTransition(ctx, rec); err != nil {
		return err
	}
	if s.met != nil {
		s.met.RecordTransition(ctx, string(rec.Dimension), rec.Reason)
	}
	return nil
}

func (s *storeSink) PersistIncident(ctx context.Context, inc *incident.Incident) error {
	return s.store.UpsertIncident(ctx, inc)
}

func (s *storeSink) PersistHold(ctx context.Context, h *evidence.Hold) error {
	return s.store.UpsertEvidenceHold(ctx, h)
}

func (s *storeSink) DeleteHold(ctx context.Context, incidentID string) error {
	if err := s.store.DeleteEvidenceHold(ctx, incidentID); err != nil {
		return err
	}
	if s.met != nil {
		s.met.EvidenceExpired.Add(ctx, 1)
	}
	return nil
}

func (s *storeSink) EmitReport(ctx context.Context, inc *incident.Incident, recs []incident.Record, nowMS int64) error {
	_, err := s.reports.Emit(ctx, inc, recs, nowMS)
	return err
}
