package incident

import (
	"slices"

	"github.com/wardenhq/warden/internal/envelope"
	"github.com/wardenhq/warden/internal/rules"
)

// Incident is the mutable aggregate owned by the engine's per-lease
// writer. All mutation happens through Machine; every mutation emits
// exactly one Record.
type Incident struct {
	ID         string            `json:"id"`
	HomeID     string            `json:"home_id"`
	Zone       string            `json:"zone"`
	ZoneType   envelope.ZoneType `json:"zone_type"`
	EntryPoint string            `json:"entry_point,omitempty"`

	Threat   ThreatState   `json:"threat"`
	Workflow WorkflowState `json:"workflow"`
	SubPhase SubPhase      `json:"sub_phase,omitempty"`
	Judge    JudgeState    `json:"judge"`

	// CanaryBucket is computed once at creation and never re-rolled, so
	// an incident sticks with one rule snapshot for its whole life.
	CanaryBucket int64 `json:"canary_bucket"`

	CreatedMS      int64 `json:"created_ms"`
	UpdatedMS      int64 `json:"updated_ms"`
	ThreatSinceMS  int64 `json:"threat_since_ms"`
	LastSignalMS   int64 `json:"last_signal_ms"`
	PendingSinceMS int64 `json:"pending_since_ms,omitempty"`

	TriggerReason string `json:"trigger_reason,omitempty"`

	// HardTriggered marks a top-tier entry driven by a hard signal or an
	// expired entry delay. Once set, nothing implicit walks the threat
	// back down; only an authenticated resolve does.
	HardTriggered bool `json:"hard_triggered,omitempty"`

	Tags []string `json:"tags,omitempty"`

	// Revision counts emitted report revisions for this incident.
	Revision int64 `json:"revision"`

	// Timer due times. A timer firing is live only while the incident
	// still carries the matching due; clearing the field cancels the
	// timer without touching the scheduler.
	EntryDelayDueMS int64 `json:"entry_delay_due_ms,omitempty"`
	DecayDueMS      int64 `json:"decay_due_ms,omitempty"`
	VerifyDueMS     int64 `json:"verify_due_ms,omitempty"`
	SirenStopDueMS  int64 `json:"siren_stop_due_ms,omitempty"`

	// Dwell in flight: the threat advance waiting out its dwell window.
	DwellDueMS       int64       `json:"dwell_due_ms,omitempty"`
	DwellStartMS     int64       `json:"dwell_start_ms,omitempty"`
	DwellTo          ThreatState `json:"dwell_to,omitempty"`
	DwellReason      string      `json:"dwell_reason,omitempty"`
	DwellRuleID      string      `json:"dwell_rule_id,omitempty"`
	DwellRuleVersion int64       `json:"dwell_rule_version,omitempty"`
	DwellSnapshot    string      `json:"dwell_snapshot,omitempty"`
	DwellCanary      bool        `json:"dwell_canary,omitempty"`
	DwellSignalIDs   []string    `json:"dwell_signal_ids,omitempty"`
}

// NewIncident opens an incident for a correlation lease at (none, idle).
func NewIncident(id string, sig *envelope.Signal, judge JudgeState, nowMS int64) *Incident {
	return &Incident{
		ID:            id,
		HomeID:        sig.HomeID,
		Zone:          sig.Zone,
		ZoneType:      sig.ZoneType,
		EntryPoint:    sig.EntryPoint,
		Threat:        ThreatNone,
		Workflow:      WorkflowIdle,
		Judge:         judge,
		CanaryBucket:  rules.CanaryBucket(id),
		CreatedMS:     nowMS,
		UpdatedMS:     nowMS,
		ThreatSinceMS: nowMS,
		LastSignalMS:  nowMS,
	}
}

// Tag appends an audit tag once.
func (inc *Incident) Tag(tag string) {
	if !slices.Contains(inc.Tags, tag) {
		inc.Tags = append(inc.Tags, tag)
	}
}

// Active reports whether the incident still accepts signal-driven
// evaluation.
func (inc *Incident) Active() bool {
	return inc.Workflow != WorkflowClosed
}

func (inc *Incident) clearDwell() {
	inc.DwellDueMS = 0
	inc.DwellStartMS = 0
	inc.DwellTo = ThreatState("")
	inc.DwellReason = ""
	inc.DwellRuleID = ""
	inc.DwellRuleVersion = 0
	inc.DwellSnapshot = ""
	inc.DwellCanary = false
	inc.DwellSignalIDs = nil
}
