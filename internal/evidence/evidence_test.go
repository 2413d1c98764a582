package evidence

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/incident"
)

func newTestManager() *Manager {
	return NewManager(DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func threatRec(incidentID, to string, sigIDs []string) incident.Record {
	return incident.Record{
		IncidentID: incidentID,
		Dimension:  incident.DimThreat,
		From:       "none",
		To:         to,
		SignalIDs:  sigIDs,
		Judge:      "available",
	}
}

func TestCommitOnceOnFirstSuspectedEntry(t *testing.T) {
	m := newTestManager()
	m.OnTransition(threatRec("inc-1", "suspected", []string{"sig-a"}), 1000)

	h := m.Get("inc-1")
	require.NotNil(t, h)
	assert.Equal(t, StatusHeld, h.Status)
	assert.Equal(t, int64(1000), h.CommittedMS)
	assert.Equal(t, int64(1000)+DefaultConfig().HoldTTLMS, h.ExpiresMS)

	// Re-entering a tier does not re-commit or move the clock.
	m.OnTransition(threatRec("inc-1", "suspected", []string{"sig-b"}), 50_000)
	h = m.Get("inc-1")
	assert.Equal(t, int64(1000), h.CommittedMS)
	assert.ElementsMatch(t, []string{"sig-a", "sig-b"}, h.Refs)
}

func TestExtendOnceOnEscalation(t *testing.T) {
	m := newTestManager()
	m.OnTransition(threatRec("inc-1", "suspected", nil), 1000)
	m.OnTransition(threatRec("inc-1", "pending", nil), 5000)

	h := m.Get("inc-1")
	require.NotNil(t, h)
	assert.Equal(t, StatusExtended, h.Status)
	assert.Equal(t, int64(1000)+DefaultConfig().ExtendTTLMS, h.ExpiresMS,
		"extension anchors on the original commit")

	// A second escalation does not extend again.
	first := h.ExpiresMS
	m.OnTransition(threatRec("inc-1", "pending", nil), 500_000)
	assert.Equal(t, first, m.Get("inc-1").ExpiresMS)
}

func TestPromoteOnTriggeredNeverExpires(t *testing.T) {
	m := newTestManager()
	m.OnTransition(threatRec("inc-1", "suspected", []string{"sig-a"}), 1000)
	m.OnTransition(threatRec("inc-1", "triggered", []string{"sig-b"}), 2000)

	h := m.Get("inc-1")
	require.NotNil(t, h)
	assert.Equal(t, StatusPromoted, h.Status)
	assert.Zero(t, h.ExpiresMS)

	expired := m.Sweep(1 << 50)
	assert.Empty(t, expired, "promoted holds survive any sweep")
	require.NotNil(t, m.Get("inc-1"))

	id, err := h.PromotedID()
	require.NoError(t, err)
	assert.Len(t, id, 64)
}

func TestDirectTriggerCommitsAndPromotes(t *testing.T) {
	m := newTestManager()
	// Hard safety signal: none -> triggered in one record.
	m.OnTransition(threatRec("inc-1", "triggered", []string{"sig-fire"}), 1000)
	h := m.Get("inc-1")
	require.NotNil(t, h)
	assert.Equal(t, StatusPromoted, h.Status)
}

func TestSweepExpiresLapsedHolds(t *testing.T) {
	m := newTestManager()
	m.OnTransition(threatRec("inc-a", "suspected", nil), 1000)
	m.OnTransition(threatRec("inc-b", "suspected", nil), 2000)

	ttl := DefaultConfig().HoldTTLMS
	expired := m.Sweep(1000 + ttl)
	require.Len(t, expired, 1)
	assert.Equal(t, "inc-a", expired[0].IncidentID)
	assert.Equal(t, StatusExpired, expired[0].Status)
	assert.Nil(t, m.Get("inc-a"))
	assert.NotNil(t, m.Get("inc-b"))
	assert.Equal(t, int64(1), m.ExpiredTotal())
}

func TestDropBelowSparesEscalatedHolds(t *testing.T) {
	m := newTestManager()
	m.OnTransition(threatRec("inc-low", "suspected", nil), 1000)
	m.OnTransition(threatRec("inc-high", "suspected", nil), 1000)
	m.OnTransition(threatRec("inc-high", "pending", nil), 2000)

	dropped := m.DropBelow(incident.ThreatElevated.Rank(), 3000)
	require.Len(t, dropped, 1)
	assert.Equal(t, "inc-low", dropped[0].IncidentID)
	assert.NotNil(t, m.Get("inc-high"), "extended holds are never load-shed")
}

func TestPromotedIDStableAcrossRefOrder(t *testing.T) {
	a := &Hold{IncidentID: "inc-1", Status: StatusPromoted, CommittedMS: 1000, Refs: []string{"r2", "r1"}}
	b := &Hold{IncidentID: "inc-1", Status: StatusPromoted, CommittedMS: 1000, Refs: []string{"r1", "r2"}}
	idA, err := a.PromotedID()
	require.NoError(t, err)
	idB, err := b.PromotedID()
	require.NoError(t, err)
	assert.Equal(t, idA, idB)
}
