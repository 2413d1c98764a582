package correlate

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/envelope"
)

func newTestLayer(cfg Config) *Layer {
	return NewLayer(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func sig(id string, kind envelope.Kind, zone, entry string, ingestMS int64) *envelope.Signal {
	hardness := envelope.HardnessSoft
	if kind == envelope.KindBoundaryOpen || kind == envelope.KindBoundaryClose {
		hardness = envelope.HardnessHard
	}
	return &envelope.Signal{
		ID: id, Source: envelope.SourceHardware, Kind: kind, Hardness: hardness,
		HomeID: "h1", Zone: zone, EntryPoint: entry, DeviceID: "d1",
		DeviceMS: ingestMS, IngestMS: ingestMS,
	}
}

func TestObserve_CreatesAndMerges(t *testing.T) {
	l := newTestLayer(DefaultConfig())

	c1, created := l.Observe(sig("s1", envelope.KindMotion, "yard", "", 1000))
	require.True(t, created)
	assert.Equal(t, int64(1), c1.SoftCount)

	c2, created := l.Observe(sig("s2", envelope.KindBoundaryOpen, "yard", "", 5000))
	assert.False(t, created)
	assert.Same(t, c1, c2)
	assert.Equal(t, int64(1), c2.HardCount)
	assert.Equal(t, []string{"s1", "s2"}, c2.SignalIDs)
}

func TestObserve_GapBeyondWindowSplits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ActiveWindowMS = 10_000
	l := newTestLayer(cfg)

	c1, _ := l.Observe(sig("s1", envelope.KindMotion, "yard", "", 1000))
	c2, created := l.Observe(sig("s2", envelope.KindMotion, "yard", "", 20_001))

	assert.True(t, created, "gap beyond the active window must open a new candidate")
	assert.NotSame(t, c1, c2)
	assert.True(t, c1.Closed)
	assert.Equal(t, "window_elapsed", c1.CloseReason)
}

func TestObserve_DifferentEntryPointsNeverMergeWithoutContinuity(t *testing.T) {
	l := newTestLayer(DefaultConfig())

	c1, _ := l.Observe(sig("s1", envelope.KindBoundaryOpen, "front", "front-door", 1000))
	c2, created := l.Observe(sig("s2", envelope.KindBoundaryOpen, "front", "side-door", 2000))

	assert.True(t, created)
	assert.NotSame(t, c1, c2)
}

func TestObserve_SubjectContinuityMergesAdjacentZones(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Adjacency = map[string][]string{"porch": {"yard"}}
	l := newTestLayer(cfg)

	s1 := sig("s1", envelope.KindSubjectEnter, "yard", "", 1000)
	s1.SubjectID = "subject-a"
	c1, _ := l.Observe(s1)

	s2 := sig("s2", envelope.KindPersonDetected, "porch", "", 5000)
	s2.SubjectID = "subject-a"
	c2, created := l.Observe(s2)

	assert.False(t, created, "same subject in adjacent zone must merge")
	assert.Same(t, c1, c2)
}

func TestObserve_NoContinuityWithoutSubject(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Adjacency = map[string][]string{"porch": {"yard"}}
	l := newTestLayer(cfg)

	l.Observe(sig("s1", envelope.KindMotion, "yard", "", 1000))
	_, created := l.Observe(sig("s2", envelope.KindMotion, "porch", "", 2000))

	assert.True(t, created, "adjacency alone is not continuity")
}

func TestSplitDue_BoundarySilence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BoundarySilenceMS = 10_000
	l := newTestLayer(cfg)

	l.Observe(sig("s1", envelope.KindBoundaryOpen, "front", "front-door", 1000))
	l.Observe(sig("s2", envelope.KindBoundaryClose, "front", "front-door", 5000))
	lease := LeaseKey{HomeID: "h1", Zone: "front", EntryPoint: "front-door"}

	assert.Nil(t, l.SplitDue(lease, 14_999), "silence window not yet elapsed")
	closed := l.SplitDue(lease, 15_000)
	require.NotNil(t, closed)
	assert.Equal(t, "boundary_silence", closed.CloseReason)
}

func TestSplitDue_ReopenResetsBoundarySilence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BoundarySilenceMS = 10_000
	l := newTestLayer(cfg)

	l.Observe(sig("s1", envelope.KindBoundaryClose, "front", "front-door", 1000))
	l.Observe(sig("s2", envelope.KindBoundaryOpen, "front", "front-door", 5000))
	lease := LeaseKey{HomeID: "h1", Zone: "front", EntryPoint: "front-door"}

	assert.Nil(t, l.SplitDue(lease, 20_000), "reopened boundary must not split")
}

func TestSplitDue_SubjectDecay(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SubjectDecayMS = 10_000
	l := newTestLayer(cfg)

	enter := sig("s1", envelope.KindSubjectEnter, "yard", "", 1000)
	enter.SubjectID = "subject-a"
	l.Observe(enter)

	exit := sig("s2", envelope.KindSubjectExit, "yard", "", 5000)
	exit.SubjectID = "subject-a"
	l.Observe(exit)
	lease := LeaseKey{HomeID: "h1", Zone: "yard"}

	assert.Nil(t, l.SplitDue(lease, 14_000))
	closed := l.SplitDue(lease, 15_000)
	require.NotNil(t, closed)
	assert.Equal(t, "subject_decay", closed.CloseReason)
}

func TestCloseExplicit(t *testing.T) {
	l := newTestLayer(DefaultConfig())
	l.Observe(sig("s1", envelope.KindMotion, "yard", "", 1000))
	lease := LeaseKey{HomeID: "h1", Zone: "yard"}

	closed := l.CloseExplicit(lease)
	require.NotNil(t, closed)
	assert.Equal(t, "explicit_close", closed.CloseReason)
	assert.Nil(t, l.CloseExplicit(lease), "second close is a no-op")
	assert.Equal(t, 0, l.LiveCount())
}

func TestScoreHint_NonBindingAggregate(t *testing.T) {
	l := newTestLayer(DefaultConfig())
	c, _ := l.Observe(sig("s1", envelope.KindMotion, "yard", "", 1000))
	l.Observe(sig("s2", envelope.KindBoundaryOpen, "yard", "", 2000))

	assert.Equal(t, int64(11), c.ScoreHint())
}
