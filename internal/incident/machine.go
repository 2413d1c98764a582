package incident

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/wardenhq/warden/internal/envelope"
	"github.com/wardenhq/warden/internal/rules"
)

// TimerKind names a scheduled follow-up the machine asked for.
type TimerKind string

const (
	TimerEntryDelay TimerKind = "entry_delay"
	TimerDwell      TimerKind = "dwell"
	TimerDecay      TimerKind = "decay"
	TimerVerify     TimerKind = "verify_timeout"
	TimerSirenStop  TimerKind = "siren_stop"
)

// TimerRequest asks the engine scheduler to deliver OnTimer at DueMS in
// logical time. The machine validates liveness against the incident's
// stored due on firing, so the scheduler never needs to cancel.
type TimerRequest struct {
	Kind       TimerKind
	IncidentID string
	DueMS      int64
}

// Effect is the output of one machine operation: the records to append
// and persist, and the timers to schedule. State on the incident is
// already mutated when Effect returns without error.
type Effect struct {
	Records []Record
	Timers  []TimerRequest
}

func (e *Effect) merge(other Effect) {
	e.Records = append(e.Records, other.Records...)
	e.Timers = append(e.Timers, other.Timers...)
}

// ErrRefused marks a command the machine rejects by policy; the
// incident state is untouched.
var ErrRefused = errors.New("refused")

// InvalidComboError reports a transition that would land outside the
// valid-combination table. The incident is left untouched.
type InvalidComboError struct {
	IncidentID string
	Threat     ThreatState
	Workflow   WorkflowState
}

func (e *InvalidComboError) Error() string {
	return fmt.Sprintf("incident %s: invalid state combination (%s, %s)",
		e.IncidentID, e.Threat, e.Workflow)
}

// Config carries the machine's built-in timing policy.
type Config struct {
	EntryDelayMS    int64 // boundary-open grace before pending commits to triggered
	GraceWindowMS   int64 // open/close pair window that cancels the entry delay
	VerifyTimeoutMS int64 // verifying falls back to idle after this silence
	SirenAutoStopMS int64 // alarm_active auto-advances to alarm_stopped

	// DecayMS is the signal-silence window per tier before the threat
	// steps down one tier. Windows grow with severity; triggered never
	// decays.
	DecayMS map[ThreatState]int64
}

// DefaultConfig returns the stock residential timing policy.
func DefaultConfig() Config {
	return Config{
		EntryDelayMS:    30_000,
		GraceWindowMS:   3_000,
		VerifyTimeoutMS: 60_000,
		SirenAutoStopMS: 240_000,
		DecayMS: map[ThreatState]int64{
			ThreatSuspected: 120_000,
			ThreatElevated:  300_000,
			ThreatPending:   0,
			ThreatTriggered: 0,
		},
	}
}

// Machine drives all incident mutation. It is not safe for concurrent
// use on the same incident; the engine serializes per lease.
type Machine struct {
	registry *rules.Registry
	cfg      Config
	logger   *slog.Logger
	nextSeq  func() int64

	// softDowngrade caps soft-reachable advances one tier lower while
	// the noise controller's deepest level is engaged. Only touched by
	// the engine's single writer.
	softDowngrade bool
}

// SetSoftDowngrade engages or releases the load-shed ceiling for
// soft-signal advances.
func (m *Machine) SetSoftDowngrade(engaged bool) {
	m.softDowngrade = engaged
}

// NewMachine wires the machine to a rule registry and the engine's
// logical sequence source.
func NewMachine(registry *rules.Registry, cfg Config, logger *slog.Logger, nextSeq func() int64) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{registry: registry, cfg: cfg, logger: logger, nextSeq: nextSeq}
}

// Builtin rule ids for machine-driven mutations. Rules own signal-driven
// advances; everything time- or command-driven carries one of these.
const (
	builtinEntryDelay = "builtin/entry_delay"
	builtinGrace      = "builtin/grace_cancel"
	builtinDecay      = "builtin/decay"
	builtinVerify     = "builtin/verify_timeout"
	builtinSiren      = "builtin/siren_stop"
	builtinNotify     = "builtin/notify"
	builtinEscalate   = "builtin/escalate"
	builtinClose      = "builtin/close"
	builtinDisarm     = "builtin/disarm"
	builtinSilence    = "builtin/silence"
	builtinResolve    = "builtin/resolve"
	builtinDispatch   = "builtin/dispatch"
	builtinJudge      = "builtin/judge_health"
)

// OnSignal evaluates one normalized, correlated signal against the
// incident. hardCount/softCount are the correlation candidate's running
// counts, activeGates the home's live context gates at nowMS.
func (m *Machine) OnSignal(inc *Incident, sig *envelope.Signal, hardCount, softCount int64, activeGates []string, nowMS int64) (Effect, error) {
	var eff Effect
	inc.LastSignalMS = nowMS

	// Boundary close inside the grace window cancels a pending entry
	// delay. Never after a hard-signal trigger.
	if sig.Kind == envelope.KindBoundaryClose &&
		inc.Threat == ThreatPending && !inc.HardTriggered &&
		nowMS-inc.PendingSinceMS <= m.cfg.GraceWindowMS {
		return m.standDown(inc, builtinGrace, "grace_cancel", []string{sig.ID}, nowMS)
	}

	match, ok := m.registry.Eval(rules.MatchInput{
		SignalKind:  string(sig.Kind),
		ZoneType:    string(sig.ZoneType),
		Confidence:  sig.Confidence,
		ThreatState: string(inc.Threat),
		JudgeState:  string(inc.Judge),
		ActiveGates: activeGates,
		HardCount:   hardCount,
		SoftCount:   softCount,
	}, inc.CanaryBucket)
	if !ok {
		return eff, nil
	}

	prov := provenance{
		ruleID:          match.Rule.ID,
		ruleVersion:     match.Rule.Version,
		snapshotVersion: match.SnapshotVersion,
		canary:          match.Canary,
		reason:          match.Rule.Then.Reason,
		signalIDs:       []string{sig.ID},
		gates:           activeGates,
	}

	switch match.Rule.Then.Dimension {
	case "workflow":
		wf := WorkflowState(match.Rule.Then.To)
		if wf == inc.Workflow {
			return eff, nil
		}
		wfEff, err := m.applyWorkflow(inc, wf, SubPhaseNone, prov, nowMS)
		if err != nil {
			return eff, err
		}
		eff.merge(wfEff)
		if wf == WorkflowVerifying {
			inc.VerifyDueMS = nowMS + m.cfg.VerifyTimeoutMS
			eff.Timers = append(eff.Timers, TimerRequest{
				Kind: TimerVerify, IncidentID: inc.ID, DueMS: inc.VerifyDueMS,
			})
		}
		return eff, nil

	case "threat":
		target := ThreatState(match.Rule.Then.To)
		target = m.capTarget(inc, sig, target)
		if target.Rank() <= inc.Threat.Rank() {
			return eff, nil
		}

		if dwell := rules.DwellFor(match, activeGates); dwell > 0 {
			m.armDwell(inc, target, prov, dwell, nowMS, &eff)
			return eff, nil
		}

		commitEff, err := m.commitThreat(inc, target, sig.IsHard(), prov, nowMS)
		if err != nil {
			return eff, err
		}
		eff.merge(commitEff)
		return eff, nil
	}
	return eff, fmt.Errorf("rule %s: unknown dimension %q", match.Rule.ID, match.Rule.Then.Dimension)
}

// capTarget clamps a threat target to the applicable ceiling: soft
// signals stop at elevated, and any signal judged under a degraded
// primary stops at suspected unless the signal itself is hard.
func (m *Machine) capTarget(inc *Incident, sig *envelope.Signal, target ThreatState) ThreatState {
	if sig.IsHard() {
		return target
	}
	ceiling := SoftCeiling
	if inc.Judge == JudgeDegraded || m.softDowngrade {
		ceiling = DegradedCeiling
	}
	if target.Rank() > ceiling.Rank() {
		return ceiling
	}
	return target
}

// armDwell schedules or accelerates the pending dwell commit. The dwell
// clock starts at the first qualifying evaluation; later evaluations may
// only shorten the due time (gate acceleration), never push it out.
func (m *Machine) armDwell(inc *Incident, target ThreatState, prov provenance, dwellMS, nowMS int64, eff *Effect) {
	if inc.DwellTo != target || inc.DwellDueMS == 0 {
		inc.DwellStartMS = nowMS
		inc.DwellDueMS = nowMS + dwellMS
		inc.DwellTo = target
		inc.DwellReason = prov.reason
		inc.DwellRuleID = prov.ruleID
		inc.DwellRuleVersion = prov.ruleVersion
		inc.DwellSnapshot = prov.snapshotVersion
		inc.DwellCanary = prov.canary
		inc.DwellSignalIDs = append([]string(nil), prov.signalIDs...)
		eff.Timers = append(eff.Timers, TimerRequest{
			Kind: TimerDwell, IncidentID: inc.ID, DueMS: inc.DwellDueMS,
		})
		return
	}
	inc.DwellSignalIDs = appendBounded(inc.DwellSignalIDs, prov.signalIDs...)
	if due := inc.DwellStartMS + dwellMS; due < inc.DwellDueMS {
		inc.DwellDueMS = due
		eff.Timers = append(eff.Timers, TimerRequest{
			Kind: TimerDwell, IncidentID: inc.ID, DueMS: inc.DwellDueMS,
		})
	}
}

// OnTimer delivers a scheduled follow-up. Stale firings, where the
// incident's stored due no longer matches, are silent no-ops.
func (m *Machine) OnTimer(inc *Incident, kind TimerKind, dueMS, nowMS int64) (Effect, error) {
	var eff Effect
	switch kind {
	case TimerEntryDelay:
		if inc.EntryDelayDueMS == 0 || inc.EntryDelayDueMS != dueMS || inc.Threat != ThreatPending {
			return eff, nil
		}
		inc.EntryDelayDueMS = 0
		return m.commitThreat(inc, ThreatTriggered, true, provenance{
			ruleID: builtinEntryDelay, reason: "delay_expired",
		}, nowMS)

	case TimerDwell:
		if inc.DwellDueMS == 0 || inc.DwellDueMS != dueMS {
			return eff, nil
		}
		target, prov := inc.DwellTo, provenance{
			ruleID:          inc.DwellRuleID,
			ruleVersion:     inc.DwellRuleVersion,
			snapshotVersion: inc.DwellSnapshot,
			canary:          inc.DwellCanary,
			reason:          inc.DwellReason,
			signalIDs:       inc.DwellSignalIDs,
		}
		inc.clearDwell()
		if target.Rank() <= inc.Threat.Rank() {
			return eff, nil
		}
		if (inc.Judge == JudgeDegraded || m.softDowngrade) && target.Rank() > DegradedCeiling.Rank() {
			target = DegradedCeiling
			if target.Rank() <= inc.Threat.Rank() {
				return eff, nil
			}
		}
		return m.commitThreat(inc, target, false, prov, nowMS)

	case TimerDecay:
		if inc.DecayDueMS == 0 || inc.DecayDueMS != dueMS {
			return eff, nil
		}
		inc.DecayDueMS = 0
		window := m.cfg.DecayMS[inc.Threat]
		if window <= 0 {
			return eff, nil
		}
		if due := inc.LastSignalMS + window; due > nowMS {
			// A signal landed since scheduling; push the decay out.
			inc.DecayDueMS = due
			eff.Timers = append(eff.Timers, TimerRequest{
				Kind: TimerDecay, IncidentID: inc.ID, DueMS: due,
			})
			return eff, nil
		}
		return m.decayStep(inc, nowMS)

	case TimerVerify:
		if inc.VerifyDueMS == 0 || inc.VerifyDueMS != dueMS || inc.Workflow != WorkflowVerifying {
			return eff, nil
		}
		inc.VerifyDueMS = 0
		inc.Tag("verify_timeout")
		return m.applyWorkflow(inc, WorkflowIdle, SubPhaseNone, provenance{
			ruleID: builtinVerify, reason: "verify_timeout",
		}, nowMS)

	case TimerSirenStop:
		if inc.SirenStopDueMS == 0 || inc.SirenStopDueMS != dueMS || inc.SubPhase != SubPhaseAlarmActive {
			return eff, nil
		}
		inc.SirenStopDueMS = 0
		return m.advanceSubPhase(inc, SubPhaseAlarmStopped, provenance{
			ruleID: builtinSiren, reason: "siren_auto_stop",
		}, nowMS)
	}
	return eff, fmt.Errorf("unknown timer kind %q", kind)
}

// decayStep walks the threat down one tier and either closes the
// incident (reached none) or schedules the next decay window.
func (m *Machine) decayStep(inc *Incident, nowMS int64) (Effect, error) {
	down := threatByRank[inc.Threat.Rank()-1]
	prov := provenance{ruleID: builtinDecay, reason: "signal_silence_decay"}
	eff, err := m.applyThreat(inc, down, prov, nowMS)
	if err != nil {
		return eff, err
	}
	if down == ThreatNone {
		if inc.Workflow == WorkflowIdle || inc.Workflow == WorkflowNotified {
			closeEff, err := m.applyWorkflow(inc, WorkflowClosed, SubPhaseNone, provenance{
				ruleID: builtinClose, reason: "auto_closed",
			}, nowMS)
			if err != nil {
				return eff, err
			}
			eff.merge(closeEff)
		}
		return eff, nil
	}
	if window := m.cfg.DecayMS[down]; window > 0 {
		inc.DecayDueMS = nowMS + window
		eff.Timers = append(eff.Timers, TimerRequest{
			Kind: TimerDecay, IncidentID: inc.ID, DueMS: inc.DecayDueMS,
		})
	}
	return eff, nil
}

// Disarm cancels a pending entry delay or stands a lower-tier incident
// down. It never touches a hard-triggered alarm.
func (m *Machine) Disarm(inc *Incident, nowMS int64) (Effect, error) {
	if inc.Threat == ThreatTriggered || inc.HardTriggered {
		return Effect{}, fmt.Errorf("incident %s: disarm cannot clear a triggered alarm: %w", inc.ID, ErrRefused)
	}
	if inc.Threat == ThreatNone {
		return Effect{}, nil
	}
	return m.standDown(inc, builtinDisarm, "disarmed", nil, nowMS)
}

// standDown clears timers, drops the threat to none, and closes the
// workflow when nothing human is still in flight.
func (m *Machine) standDown(inc *Incident, ruleID, reason string, signalIDs []string, nowMS int64) (Effect, error) {
	inc.EntryDelayDueMS = 0
	inc.DecayDueMS = 0
	inc.clearDwell()

	eff, err := m.applyThreat(inc, ThreatNone, provenance{
		ruleID: ruleID, reason: reason, signalIDs: signalIDs,
	}, nowMS)
	if err != nil {
		return eff, err
	}
	if inc.Workflow == WorkflowIdle || inc.Workflow == WorkflowNotified {
		closeEff, err := m.applyWorkflow(inc, WorkflowClosed, SubPhaseNone, provenance{
			ruleID: ruleID, reason: reason,
		}, nowMS)
		if err != nil {
			return eff, err
		}
		eff.merge(closeEff)
	}
	return eff, nil
}

// Silence stops an active siren without resolving anything.
func (m *Machine) Silence(inc *Incident, nowMS int64) (Effect, error) {
	if inc.SubPhase != SubPhaseAlarmActive {
		return Effect{}, nil
	}
	inc.SirenStopDueMS = 0
	return m.advanceSubPhase(inc, SubPhaseAlarmStopped, provenance{
		ruleID: builtinSilence, reason: "silenced",
	}, nowMS)
}

// Acknowledge moves a stopped alarm to awaiting human response.
func (m *Machine) Acknowledge(inc *Incident, nowMS int64) (Effect, error) {
	if inc.SubPhase != SubPhaseAlarmStopped {
		return Effect{}, nil
	}
	return m.advanceSubPhase(inc, SubPhaseAwaitingResponse, provenance{
		ruleID: builtinDispatch, reason: "acknowledged",
	}, nowMS)
}

// RequestDispatch, ConfirmDispatch and CancelDispatch advance the
// escalated sub-phase through the dispatch leg.
func (m *Machine) RequestDispatch(inc *Incident, nowMS int64) (Effect, error) {
	return m.advanceSubPhase(inc, SubPhaseDispatchRequest, provenance{
		ruleID: builtinDispatch, reason: "dispatch_requested",
	}, nowMS)
}

func (m *Machine) ConfirmDispatch(inc *Incident, nowMS int64) (Effect, error) {
	return m.advanceSubPhase(inc, SubPhaseDispatchConfirm, provenance{
		ruleID: builtinDispatch, reason: "dispatch_confirmed",
	}, nowMS)
}

func (m *Machine) CancelDispatch(inc *Incident, nowMS int64) (Effect, error) {
	return m.advanceSubPhase(inc, SubPhaseDispatchCancel, provenance{
		ruleID: builtinDispatch, reason: "dispatch_cancelled",
	}, nowMS)
}

// Resolve closes out the incident. A triggered alarm demands an
// authenticated human; everything below resolves freely.
func (m *Machine) Resolve(inc *Incident, authenticated bool, nowMS int64) (Effect, error) {
	if inc.Workflow == WorkflowResolved || inc.Workflow == WorkflowClosed {
		return Effect{}, nil
	}
	if (inc.Threat == ThreatTriggered || inc.HardTriggered) && !authenticated {
		return Effect{}, fmt.Errorf("incident %s: resolving a triggered alarm requires authentication: %w", inc.ID, ErrRefused)
	}
	inc.EntryDelayDueMS = 0
	inc.DecayDueMS = 0
	inc.VerifyDueMS = 0
	inc.SirenStopDueMS = 0
	inc.clearDwell()

	eff, err := m.applyWorkflow(inc, WorkflowResolved, SubPhaseNone, provenance{
		ruleID: builtinResolve, reason: "resolved",
	}, nowMS)
	if err != nil {
		return eff, err
	}
	if inc.Threat != ThreatNone {
		threatEff, err := m.applyThreat(inc, ThreatNone, provenance{
			ruleID: builtinResolve, reason: "resolved",
		}, nowMS)
		if err != nil {
			return eff, err
		}
		eff.merge(threatEff)
	}
	inc.HardTriggered = false
	return eff, nil
}

// Close archives a resolved incident.
func (m *Machine) Close(inc *Incident, nowMS int64) (Effect, error) {
	if inc.Workflow != WorkflowResolved {
		return Effect{}, fmt.Errorf("incident %s: close requires resolved workflow, have %s: %w", inc.ID, inc.Workflow, ErrRefused)
	}
	return m.applyWorkflow(inc, WorkflowClosed, SubPhaseNone, provenance{
		ruleID: builtinClose, reason: "closed",
	}, nowMS)
}

// SetJudge records a change in the zone's primary-judge health. The
// current threat is untouched; the cap applies only to future advances.
func (m *Machine) SetJudge(inc *Incident, judge JudgeState, nowMS int64) (Effect, error) {
	var eff Effect
	if inc.Judge == judge {
		return eff, nil
	}
	reason := "heartbeat_loss"
	if judge == JudgeAvailable {
		reason = "heartbeat_restored"
	}
	rec := m.newRecord(inc, DimJudge, string(inc.Judge), string(judge), provenance{
		ruleID: builtinJudge, reason: reason,
	}, nowMS)
	inc.Judge = judge
	inc.UpdatedMS = nowMS
	eff.Records = append(eff.Records, rec)
	return eff, nil
}

// provenance carries the rule attribution threaded into records.
type provenance struct {
	ruleID          string
	ruleVersion     int64
	snapshotVersion string
	canary          bool
	reason          string
	signalIDs       []string
	gates           []string
}

// commitThreat performs an upward threat commit plus the coupled
// workflow policy: notify on first advance, escalate with a sub-phase on
// trigger, entry delay on pending.
func (m *Machine) commitThreat(inc *Incident, target ThreatState, hard bool, prov provenance, nowMS int64) (Effect, error) {
	eff, err := m.applyThreat(inc, target, prov, nowMS)
	if err != nil {
		return eff, err
	}
	if target.Rank() >= inc.DwellTo.Rank() {
		inc.clearDwell()
	}

	switch target {
	case ThreatSuspected, ThreatElevated:
		if inc.Workflow == WorkflowIdle {
			wfEff, err := m.applyWorkflow(inc, WorkflowNotified, SubPhaseNone, provenance{
				ruleID: builtinNotify, reason: "user_notified", signalIDs: prov.signalIDs,
			}, nowMS)
			if err != nil {
				return eff, err
			}
			eff.merge(wfEff)
		}
		if window := m.cfg.DecayMS[target]; window > 0 {
			inc.DecayDueMS = nowMS + window
			eff.Timers = append(eff.Timers, TimerRequest{
				Kind: TimerDecay, IncidentID: inc.ID, DueMS: inc.DecayDueMS,
			})
		}

	case ThreatPending:
		inc.PendingSinceMS = nowMS
		inc.DecayDueMS = 0
		inc.EntryDelayDueMS = nowMS + m.cfg.EntryDelayMS
		eff.Timers = append(eff.Timers, TimerRequest{
			Kind: TimerEntryDelay, IncidentID: inc.ID, DueMS: inc.EntryDelayDueMS,
		})
		if inc.Workflow == WorkflowIdle {
			wfEff, err := m.applyWorkflow(inc, WorkflowNotified, SubPhaseNone, provenance{
				ruleID: builtinNotify, reason: "user_notified", signalIDs: prov.signalIDs,
			}, nowMS)
			if err != nil {
				return eff, err
			}
			eff.merge(wfEff)
		}

	case ThreatTriggered:
		inc.TriggerReason = prov.reason
		inc.HardTriggered = hard
		inc.EntryDelayDueMS = 0
		inc.DecayDueMS = 0
		inc.VerifyDueMS = 0
		wfEff, err := m.applyWorkflow(inc, WorkflowEscalated, SubPhaseAlarmActive, provenance{
			ruleID: builtinEscalate, reason: prov.reason, signalIDs: prov.signalIDs,
		}, nowMS)
		if err != nil {
			return eff, err
		}
		eff.merge(wfEff)
		inc.SirenStopDueMS = nowMS + m.cfg.SirenAutoStopMS
		eff.Timers = append(eff.Timers, TimerRequest{
			Kind: TimerSirenStop, IncidentID: inc.ID, DueMS: inc.SirenStopDueMS,
		})
	}
	return eff, nil
}

// applyThreat mutates the threat dimension after a combo check and emits
// the record.
func (m *Machine) applyThreat(inc *Incident, to ThreatState, prov provenance, nowMS int64) (Effect, error) {
	var eff Effect
	if !ComboValid(to, inc.Workflow) {
		err := &InvalidComboError{IncidentID: inc.ID, Threat: to, Workflow: inc.Workflow}
		m.logger.Error("rejected invalid state combination",
			"incident", inc.ID, "threat", to, "workflow", inc.Workflow, "rule", prov.ruleID)
		return eff, err
	}
	rec := m.newRecord(inc, DimThreat, string(inc.Threat), string(to), prov, nowMS)
	inc.Threat = to
	inc.ThreatSinceMS = nowMS
	inc.UpdatedMS = nowMS
	eff.Records = append(eff.Records, rec)
	return eff, nil
}

// applyWorkflow mutates the workflow dimension after a combo check.
// Leaving escalated always clears the sub-phase.
func (m *Machine) applyWorkflow(inc *Incident, to WorkflowState, sub SubPhase, prov provenance, nowMS int64) (Effect, error) {
	var eff Effect
	if !ComboValid(inc.Threat, to) {
		err := &InvalidComboError{IncidentID: inc.ID, Threat: inc.Threat, Workflow: to}
		m.logger.Error("rejected invalid state combination",
			"incident", inc.ID, "threat", inc.Threat, "workflow", to, "rule", prov.ruleID)
		return eff, err
	}
	from := workflowLabel(inc.Workflow, inc.SubPhase)
	rec := m.newRecord(inc, DimWorkflow, from, workflowLabel(to, sub), prov, nowMS)
	if sub != SubPhaseNone {
		rec.SubPhase = string(sub)
	}
	inc.Workflow = to
	inc.SubPhase = sub
	inc.UpdatedMS = nowMS
	eff.Records = append(eff.Records, rec)
	return eff, nil
}

// advanceSubPhase moves the escalated sub-phase strictly forward.
func (m *Machine) advanceSubPhase(inc *Incident, to SubPhase, prov provenance, nowMS int64) (Effect, error) {
	var eff Effect
	if inc.Workflow != WorkflowEscalated {
		return eff, fmt.Errorf("incident %s: sub-phase %s outside escalated workflow: %w", inc.ID, to, ErrRefused)
	}
	if subPhaseOrder[to] <= subPhaseOrder[inc.SubPhase] {
		return eff, fmt.Errorf("incident %s: sub-phase cannot move %s -> %s: %w", inc.ID, inc.SubPhase, to, ErrRefused)
	}
	from := workflowLabel(inc.Workflow, inc.SubPhase)
	rec := m.newRecord(inc, DimWorkflow, from, workflowLabel(inc.Workflow, to), prov, nowMS)
	rec.SubPhase = string(to)
	inc.SubPhase = to
	inc.UpdatedMS = nowMS
	eff.Records = append(eff.Records, rec)
	return eff, nil
}

func (m *Machine) newRecord(inc *Incident, dim Dimension, from, to string, prov provenance, nowMS int64) Record {
	inc.Revision++
	return Record{
		IncidentID:      inc.ID,
		Seq:             m.nextSeq(),
		IngestMS:        nowMS,
		Dimension:       dim,
		From:            from,
		To:              to,
		RuleID:          prov.ruleID,
		RuleVersion:     prov.ruleVersion,
		SnapshotVersion: prov.snapshotVersion,
		Canary:          prov.canary,
		Reason:          prov.reason,
		SignalIDs:       prov.signalIDs,
		Gates:           prov.gates,
		Judge:           string(inc.Judge),
	}
}

// workflowLabel renders a workflow state with its sub-phase qualifier,
// e.g. "escalated/alarm_active".
func workflowLabel(w WorkflowState, sub SubPhase) string {
	if sub == SubPhaseNone {
		return string(w)
	}
	return string(w) + "/" + string(sub)
}

func appendBounded(dst []string, src ...string) []string {
	const limit = 64
	for _, s := range src {
		if len(dst) >= limit {
			return dst
		}
		dst = append(dst, s)
	}
	return dst
}
