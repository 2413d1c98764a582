package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/envelope"
	"github.com/wardenhq/warden/internal/evidence"
	"github.com/wardenhq/warden/internal/incident"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testSignal(id string, seq, ingestMS int64) *envelope.Signal {
	return &envelope.Signal{
		ID:       id,
		Source:   envelope.SourceHardware,
		Kind:     envelope.KindMotion,
		Hardness: envelope.HardnessSoft,
		HomeID:   "home-1",
		Zone:     "backyard",
		ZoneType: envelope.ZonePerimeter,
		DeviceMS: ingestMS - 5,
		IngestMS: ingestMS,
		DeviceID: "cam-" + id,
		Seq:      seq,
	}
}

func TestOpenAppliesPragmas(t *testing.T) {
	s := openTestStore(t)
	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Close())
	s2, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s2.Close())
}

func TestWriteSignalIdempotentOnID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	inserted, err := s.WriteSignal(ctx, testSignal("sig-1", 1, 1000))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.WriteSignal(ctx, testSignal("sig-1", 2, 1000))
	require.NoError(t, err)
	assert.False(t, inserted, "duplicate id absorbed")
}

func TestWriteSignalIdempotentOnFingerprint(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := testSignal("sig-1", 1, 1000)
	_, err := s.WriteSignal(ctx, first)
	require.NoError(t, err)

	// Same physical signal redelivered under a fresh delivery id.
	redelivered := testSignal("sig-1-redelivery", 2, 1000)
	redelivered.DeviceID = first.DeviceID
	inserted, err := s.WriteSignal(ctx, redelivered)
	require.NoError(t, err)
	assert.False(t, inserted, "fingerprint collision absorbed")
}

func TestReadSignalsOrdered(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, sig := range []*envelope.Signal{
		testSignal("sig-c", 3, 3000),
		testSignal("sig-a", 1, 1000),
		testSignal("sig-b", 2, 1000),
	} {
		_, err := s.WriteSignal(ctx, sig)
		require.NoError(t, err)
	}

	sigs, err := s.ReadSignals(ctx)
	require.NoError(t, err)
	require.Len(t, sigs, 3)
	assert.Equal(t, "sig-a", sigs[0].ID, "ingest_ms then seq")
	assert.Equal(t, "sig-b", sigs[1].ID)
	assert.Equal(t, "sig-c", sigs[2].ID)
}

func TestSignalAttrsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sig := testSignal("sig-1", 1, 1000)
	sig.Attrs = envelope.AttrObject{
		"battery": envelope.AttrInt(87),
		"label":   envelope.AttrString("north fence"),
	}
	sig.EvidenceRefs = []string{"clip-1", "clip-2"}
	_, err := s.WriteSignal(ctx, sig)
	require.NoError(t, err)

	sigs, err := s.ReadSignals(ctx)
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	assert.Equal(t, sig.Attrs, sigs[0].Attrs)
	assert.Equal(t, sig.EvidenceRefs, sigs[0].EvidenceRefs)
}

func testRecord(incID string, seq int64, to string) incident.Record {
	return incident.Record{
		IncidentID: incID,
		Seq:        seq,
		IngestMS:   1000 + seq,
		Dimension:  incident.DimThreat,
		From:       "none",
		To:         to,
		RuleID:     "soft-first-detection",
		Reason:     "soft_detection",
		Judge:      "available",
	}
}

func TestWriteTransitionIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := testRecord("inc-1", 1, "suspected")
	require.NoError(t, s.WriteTransition(ctx, rec))
	require.NoError(t, s.WriteTransition(ctx, rec), "content-addressed duplicate is a no-op")

	recs, err := s.ReadTransitions(ctx, "inc-1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, rec, recs[0])
}

func TestReadTransitionCanonicalsInSeqOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r1 := testRecord("inc-1", 1, "suspected")
	r2 := testRecord("inc-1", 2, "elevated")
	require.NoError(t, s.WriteTransition(ctx, r2))
	require.NoError(t, s.WriteTransition(ctx, r1))

	canon, err := s.ReadTransitionCanonicals(ctx)
	require.NoError(t, err)
	require.Len(t, canon, 2)
	want1, err := r1.CanonicalJSON()
	require.NoError(t, err)
	assert.Equal(t, string(want1), canon[0])
}

func TestUpsertIncidentProjection(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	inc := incident.NewIncident("inc-1", testSignal("sig-1", 1, 1000), incident.JudgeAvailable, 1000)
	require.NoError(t, s.UpsertIncident(ctx, inc))

	inc.Threat = incident.ThreatTriggered
	inc.Workflow = incident.WorkflowEscalated
	inc.SubPhase = incident.SubPhaseAlarmActive
	inc.HardTriggered = true
	inc.Revision = 4
	inc.Tag("verify_timeout")
	require.NoError(t, s.UpsertIncident(ctx, inc))

	got, err := s.ReadIncident(ctx, "inc-1")
	require.NoError(t, err)
	assert.Equal(t, incident.ThreatTriggered, got.Threat)
	assert.Equal(t, incident.SubPhaseAlarmActive, got.SubPhase)
	assert.True(t, got.HardTriggered)
	assert.Equal(t, int64(4), got.Revision)
	assert.Equal(t, []string{"verify_timeout"}, got.Tags)
}

func TestReadIncidentNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.ReadIncident(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReadOpenIncidentsSkipsClosed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	open := incident.NewIncident("inc-open", testSignal("s1", 1, 1000), incident.JudgeAvailable, 1000)
	closed := incident.NewIncident("inc-closed", testSignal("s2", 2, 1000), incident.JudgeAvailable, 1000)
	closed.Workflow = incident.WorkflowClosed
	require.NoError(t, s.UpsertIncident(ctx, open))
	require.NoError(t, s.UpsertIncident(ctx, closed))

	got, err := s.ReadOpenIncidents(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "inc-open", got[0].ID)
}

func TestEvidenceHoldRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	h := &evidence.Hold{
		IncidentID:  "inc-1",
		Status:      evidence.StatusPromoted,
		CommittedMS: 1000,
		TierRank:    4,
		Refs:        []string{"clip-1"},
	}
	require.NoError(t, s.UpsertEvidenceHold(ctx, h))
	require.NoError(t, s.DeleteEvidenceHold(ctx, "inc-1"))
}

func TestReportRevisionKeyedWrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	inserted, err := s.WriteReportRevision(ctx, "inc-1", 1, []byte(`{"threat":"suspected"}`), 1000)
	require.NoError(t, err)
	assert.True(t, inserted)

	// Redelivery of the same revision is a no-op.
	inserted, err = s.WriteReportRevision(ctx, "inc-1", 1, []byte(`{"threat":"suspected"}`), 2000)
	require.NoError(t, err)
	assert.False(t, inserted)

	// A new revision is a new row.
	inserted, err = s.WriteReportRevision(ctx, "inc-1", 2, []byte(`{"threat":"elevated"}`), 3000)
	require.NoError(t, err)
	assert.True(t, inserted)

	n, err := s.ReportRevisionCount(ctx, "inc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
