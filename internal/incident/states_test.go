package incident

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThreatRankOrdering(t *testing.T) {
	ladder := []ThreatState{ThreatNone, ThreatSuspected, ThreatElevated, ThreatPending, ThreatTriggered}
	for i := 1; i < len(ladder); i++ {
		assert.Greater(t, ladder[i].Rank(), ladder[i-1].Rank())
		assert.Equal(t, ladder[i], threatByRank[ladder[i].Rank()])
	}
}

func TestComboTableRejectsNonsensePairs(t *testing.T) {
	assert.False(t, ComboValid(ThreatNone, WorkflowEscalated))
	assert.False(t, ComboValid(ThreatSuspected, WorkflowEscalated))
	assert.False(t, ComboValid(ThreatPending, WorkflowEscalated), "escalation requires a committed trigger")
	assert.False(t, ComboValid(ThreatSuspected, WorkflowResolved))
	assert.False(t, ComboValid(ThreatPending, WorkflowClosed))
}

func TestComboTableCoversMachinePaths(t *testing.T) {
	// Pairs the machine's coupled transitions pass through.
	for _, pair := range []struct {
		threat   ThreatState
		workflow WorkflowState
	}{
		{ThreatNone, WorkflowIdle},
		{ThreatNone, WorkflowVerifying},
		{ThreatNone, WorkflowNotified}, // stood down with notification outstanding
		{ThreatNone, WorkflowResolved},
		{ThreatNone, WorkflowClosed},
		{ThreatSuspected, WorkflowIdle},
		{ThreatSuspected, WorkflowNotified},
		{ThreatElevated, WorkflowNotified},
		{ThreatPending, WorkflowIdle}, // transient before the coupled notify
		{ThreatPending, WorkflowNotified},
		{ThreatTriggered, WorkflowIdle}, // transient before the coupled escalate
		{ThreatTriggered, WorkflowNotified},
		{ThreatTriggered, WorkflowEscalated},
		{ThreatTriggered, WorkflowResolved},
	} {
		assert.True(t, ComboValid(pair.threat, pair.workflow),
			"(%s, %s) must be valid", pair.threat, pair.workflow)
	}
}

func TestSubPhaseOrderTerminal(t *testing.T) {
	assert.Equal(t, subPhaseOrder[SubPhaseDispatchConfirm], subPhaseOrder[SubPhaseDispatchCancel])
	assert.Less(t, subPhaseOrder[SubPhaseAlarmActive], subPhaseOrder[SubPhaseAlarmStopped])
	assert.Less(t, subPhaseOrder[SubPhaseAlarmStopped], subPhaseOrder[SubPhaseAwaitingResponse])
	assert.Less(t, subPhaseOrder[SubPhaseAwaitingResponse], subPhaseOrder[SubPhaseDispatchRequest])
}
