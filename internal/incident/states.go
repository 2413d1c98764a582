// Package incident implements the three-dimensional incident state
// machine: threat progression, human workflow, and sensor-availability
// health. The machine is the sole writer of incident state; every other
// component references incidents read-only.
package incident

// ThreatState is the ordered escalation ladder. Monotonic except for
// explicit time-based decay; soft signals cap below Pending, and only
// hard boundary/safety signals cross into Pending or Triggered.
type ThreatState string

const (
	ThreatNone      ThreatState = "none"
	ThreatSuspected ThreatState = "suspected"
	ThreatElevated  ThreatState = "elevated"
	ThreatPending   ThreatState = "pending"
	ThreatTriggered ThreatState = "triggered"
)

var threatRank = map[ThreatState]int{
	ThreatNone:      0,
	ThreatSuspected: 1,
	ThreatElevated:  2,
	ThreatPending:   3,
	ThreatTriggered: 4,
}

// Rank returns the ladder position, 0 for ThreatNone.
func (t ThreatState) Rank() int {
	return threatRank[t]
}

// threatByRank is the inverse of threatRank, for decay stepping.
var threatByRank = []ThreatState{
	ThreatNone, ThreatSuspected, ThreatElevated, ThreatPending, ThreatTriggered,
}

// SoftCeiling is the highest tier soft/corroborating evidence can
// reach. DegradedCeiling is the cap while the zone's primary judge is
// degraded, regardless of signal volume.
const (
	SoftCeiling     = ThreatElevated
	DegradedCeiling = ThreatSuspected
)

// WorkflowState is the human/operational dimension.
type WorkflowState string

const (
	WorkflowIdle      WorkflowState = "idle"
	WorkflowNotified  WorkflowState = "notified"
	WorkflowVerifying WorkflowState = "verifying"
	WorkflowEscalated WorkflowState = "escalated"
	WorkflowResolved  WorkflowState = "resolved"
	WorkflowClosed    WorkflowState = "closed"
)

// SubPhase refines WorkflowEscalated. Ordered; empty outside escalated.
type SubPhase string

const (
	SubPhaseNone             SubPhase = ""
	SubPhaseAlarmActive      SubPhase = "alarm_active"
	SubPhaseAlarmStopped     SubPhase = "alarm_stopped"
	SubPhaseAwaitingResponse SubPhase = "awaiting_response"
	SubPhaseDispatchRequest  SubPhase = "dispatch_requested"
	SubPhaseDispatchConfirm  SubPhase = "dispatch_confirmed"
	SubPhaseDispatchCancel   SubPhase = "dispatch_cancelled"
)

var subPhaseOrder = map[SubPhase]int{
	SubPhaseAlarmActive:      1,
	SubPhaseAlarmStopped:     2,
	SubPhaseAwaitingResponse: 3,
	SubPhaseDispatchRequest:  4,
	SubPhaseDispatchConfirm:  5,
	SubPhaseDispatchCancel:   5, // terminal alternative to confirm
}

// JudgeState is the sensor-availability health gate for a zone's
// designated primary judge.
type JudgeState string

const (
	JudgeAvailable JudgeState = "available"
	JudgeDegraded  JudgeState = "degraded"
)

// Dimension names the axis a transition record mutated.
type Dimension string

const (
	DimThreat   Dimension = "threat"
	DimWorkflow Dimension = "workflow"
	DimJudge    Dimension = "judge"
)

// validCombos is the statically declared valid-combination table. Any
// runtime (ThreatState, WorkflowState) pair outside this table is a
// programming error, raised and logged, never coerced. The table
// includes the transient pairs that exist between the two records of a
// coupled threat+workflow advance.
var validCombos = map[ThreatState]map[WorkflowState]bool{
	ThreatNone: {
		WorkflowIdle: true, WorkflowNotified: true, WorkflowVerifying: true,
		WorkflowResolved: true, WorkflowClosed: true,
	},
	ThreatSuspected: {
		WorkflowIdle: true, WorkflowNotified: true, WorkflowVerifying: true,
	},
	ThreatElevated: {
		WorkflowIdle: true, WorkflowNotified: true, WorkflowVerifying: true,
	},
	ThreatPending: {
		WorkflowIdle: true, WorkflowNotified: true, WorkflowVerifying: true,
	},
	ThreatTriggered: {
		WorkflowIdle: true, WorkflowNotified: true, WorkflowVerifying: true,
		WorkflowEscalated: true, WorkflowResolved: true, WorkflowClosed: true,
	},
}

// ComboValid reports whether the pair belongs to the table.
func ComboValid(t ThreatState, w WorkflowState) bool {
	return validCombos[t][w]
}

// ValidCombos returns a copy of the table for test coverage checks.
func ValidCombos() map[ThreatState]map[WorkflowState]bool {
	out := make(map[ThreatState]map[WorkflowState]bool, len(validCombos))
	for t, ws := range validCombos {
		inner := make(map[WorkflowState]bool, len(ws))
		for w, ok := range ws {
			inner[w] = ok
		}
		out[t] = inner
	}
	return out
}
