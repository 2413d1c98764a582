package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/wardenhq/warden/internal/action"
	"github.com/wardenhq/warden/internal/correlate"
	"github.com/wardenhq/warden/internal/envelope"
	"github.com/wardenhq/warden/internal/evidence"
	"github.com/wardenhq/warden/internal/gates"
	"github.com/wardenhq/warden/internal/incident"
	"github.com/wardenhq/warden/internal/rules"
)

// Sink receives everything the core decides to persist or publish. The
// live engine backs it with the store and report builder; replay backs
// it with a canonical-bytes collector.
type Sink interface {
	PersistSignal(ctx context.Context, sig *envelope.Signal) (bool, error)
	PersistCommand(ctx context.Context, cmd *Command) (bool, error)
	PersistRecord(ctx context.Context, rec incident.Record) error
	PersistIncident(ctx context.Context, inc *incident.Incident) error
	PersistHold(ctx context.Context, h *evidence.Hold) error
	DeleteHold(ctx context.Context, incidentID string) error
	EmitReport(ctx context.Context, inc *incident.Incident, recs []incident.Record, nowMS int64) error
}

// CoreConfig bundles the policy configs the core hands to its parts.
type CoreConfig struct {
	Machine            incident.Config
	Correlation        correlate.Config
	Evidence           evidence.Config
	HeartbeatTimeoutMS int64

	// Replay runs the core against an already-admitted event log:
	// boundary filtering (normalize, debounce) is bypassed, because the
	// log only contains signals that already passed it.
	Replay bool
}

// Core is the deterministic evaluation pipeline: normalize, debounce,
// gate, correlate, evaluate, commit. One instance serves either the
// live run loop or a replay; both drive it from a single goroutine,
// which is the engine's single-writer guarantee.
type Core struct {
	cfg        CoreConfig
	clock      *Clock
	normalizer *envelope.Normalizer
	debouncer  *envelope.Debouncer
	gates      *gates.Manager
	correlator *correlate.Layer
	machine    *incident.Machine
	evid       *evidence.Manager
	executor   *action.Executor
	sched      *Scheduler
	health     *healthTracker
	sink       Sink
	logger     *slog.Logger

	incidents map[string]*incident.Incident

	rejectedTotal  int64
	dedupedTotal   int64
	debouncedTotal int64
}

// NewCore assembles the pipeline around a rule registry, an action
// executor and a sink.
func NewCore(registry *rules.Registry, executor *action.Executor, sink Sink, cfg CoreConfig, clock *Clock, logger *slog.Logger) *Core {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Core{
		cfg:        cfg,
		clock:      clock,
		normalizer: envelope.NewNormalizer(),
		debouncer:  envelope.NewDebouncer(envelope.DefaultDebounceConfig),
		gates:      gates.NewManager(logger),
		correlator: correlate.NewLayer(cfg.Correlation, logger),
		evid:       evidence.NewManager(cfg.Evidence, logger),
		executor:   executor,
		sched:      NewScheduler(),
		health:     newHealthTracker(cfg.HeartbeatTimeoutMS),
		sink:       sink,
		logger:     logger,
		incidents:  make(map[string]*incident.Incident),
	}
	c.machine = incident.NewMachine(registry, cfg.Machine, logger, clock.Next)
	return c
}

// HandleSignal runs one signal through the full pipeline. Boundary
// rejections and duplicates are absorbed here, not surfaced as errors;
// only infrastructure failures propagate.
func (c *Core) HandleSignal(ctx context.Context, sig *envelope.Signal) error {
	if !c.cfg.Replay {
		duplicate, err := c.normalizer.Normalize(sig)
		if err != nil {
			var reject *envelope.RejectError
			if errors.As(err, &reject) {
				c.rejectedTotal++
				c.logger.Warn("signal rejected at boundary",
					"signal", sig.ID, "kind", sig.Kind, "reason", reject.Reason)
				return nil
			}
			return fmt.Errorf("normalize signal %s: %w", sig.ID, err)
		}
		if duplicate {
			c.dedupedTotal++
			return nil
		}
		if reason, ok := c.debouncer.Admit(sig); !ok {
			c.debouncedTotal++
			c.logger.Debug("signal debounced",
				"signal", sig.ID, "kind", sig.Kind, "reason", reason)
			return nil
		}
	}

	sig.Seq = c.clock.Next()

	stored, err := c.sink.PersistSignal(ctx, sig)
	if err != nil {
		return fmt.Errorf("persist signal %s: %w", sig.ID, err)
	}
	if !stored {
		// Fingerprint collision: same physical signal under a fresh
		// delivery id.
		c.dedupedTotal++
		return nil
	}

	nowMS := c.clock.Advance(sig.IngestMS)

	// Timers due at or before this signal's time fire first: at equal
	// timestamps, deadlines win over arrivals.
	if err := c.fireDueTimers(ctx, nowMS); err != nil {
		return err
	}

	switch {
	case envelope.IsContextKind(sig.Kind):
		c.gates.Arm(sig)
		return nil
	case sig.Kind == envelope.KindHeartbeat:
		return c.handleHeartbeat(ctx, sig, nowMS)
	}
	return c.evaluate(ctx, sig, nowMS)
}

// handleHeartbeat feeds the health tracker and propagates a restored or
// degraded judge onto the zone's open incident immediately.
func (c *Core) handleHeartbeat(ctx context.Context, sig *envelope.Signal, nowMS int64) error {
	c.health.Observe(sig)
	for _, inc := range c.incidentsInZone(sig.HomeID, sig.Zone) {
		if err := c.syncJudge(ctx, inc, nowMS); err != nil {
			return err
		}
	}
	return nil
}

// evaluate runs correlation and the state machine for one signal.
func (c *Core) evaluate(ctx context.Context, sig *envelope.Signal, nowMS int64) error {
	lease := correlate.LeaseFor(sig)
	if split := c.correlator.SplitDue(lease, nowMS); split != nil && split.IncidentID != "" {
		// The candidate split away; its incident rides out its timers.
		c.logger.Debug("correlation split",
			"lease", lease.String(), "incident", split.IncidentID, "reason", split.CloseReason)
	}

	cand, created := c.correlator.Observe(sig)
	inc, ok := c.incidents[cand.IncidentID]
	if !ok {
		judge := c.health.JudgeAt(sig.HomeID, sig.Zone, nowMS)
		id := deriveIncidentID(cand.Lease, sig)
		inc = incident.NewIncident(id, sig, judge, nowMS)
		cand.IncidentID = id
		c.incidents[id] = inc
		if created {
			c.logger.Info("incident opened",
				"incident", id, "lease", cand.Lease.String(), "signal", sig.ID)
		}
	}

	if err := c.syncJudge(ctx, inc, nowMS); err != nil {
		return err
	}

	activeGates := gateNames(c.gates.Active(sig.HomeID, nowMS))
	eff, err := c.machine.OnSignal(inc, sig, cand.HardCount, cand.SoftCount, activeGates, nowMS)
	if err != nil {
		var combo *incident.InvalidComboError
		if errors.As(err, &combo) {
			// Defect: logged by the machine, state untouched, stream
			// continues.
			return nil
		}
		return fmt.Errorf("evaluate signal %s: %w", sig.ID, err)
	}
	return c.commit(ctx, inc, eff, nowMS)
}

// syncJudge aligns the incident's judge dimension with the health
// tracker before evaluation.
func (c *Core) syncJudge(ctx context.Context, inc *incident.Incident, nowMS int64) error {
	judge := c.health.JudgeAt(inc.HomeID, inc.Zone, nowMS)
	if judge == inc.Judge {
		return nil
	}
	eff, err := c.machine.SetJudge(inc, judge, nowMS)
	if err != nil {
		return err
	}
	return c.commit(ctx, inc, eff, nowMS)
}

// fireDueTimers delivers every scheduled timer due at or before nowMS,
// in due order. Each timer evaluates at its own due time, not at the
// time of the signal that advanced the clock past it.
func (c *Core) fireDueTimers(ctx context.Context, nowMS int64) error {
	for _, req := range c.sched.Due(nowMS) {
		inc, ok := c.incidents[req.IncidentID]
		if !ok {
			continue
		}
		eff, err := c.machine.OnTimer(inc, req.Kind, req.DueMS, req.DueMS)
		if err != nil {
			var combo *incident.InvalidComboError
			if errors.As(err, &combo) {
				continue
			}
			return fmt.Errorf("timer %s for incident %s: %w", req.Kind, req.IncidentID, err)
		}
		if err := c.commit(ctx, inc, eff, req.DueMS); err != nil {
			return err
		}
	}
	return nil
}

// commit persists one mutation batch: records, projection, evidence,
// report revision, follow-up timers and outbound actions.
func (c *Core) commit(ctx context.Context, inc *incident.Incident, eff incident.Effect, nowMS int64) error {
	for _, rec := range eff.Records {
		if err := c.sink.PersistRecord(ctx, rec); err != nil {
			return fmt.Errorf("persist record for %s: %w", inc.ID, err)
		}
		c.evid.OnTransition(rec, nowMS)
	}
	for _, t := range eff.Timers {
		c.sched.Schedule(t)
	}
	if len(eff.Records) == 0 {
		return nil
	}

	if err := c.sink.PersistIncident(ctx, inc); err != nil {
		return err
	}
	if h := c.evid.Get(inc.ID); h != nil {
		if err := c.sink.PersistHold(ctx, h); err != nil {
			return err
		}
	}
	if err := c.sink.EmitReport(ctx, inc, eff.Records, nowMS); err != nil {
		return err
	}
	c.dispatchActions(ctx, inc, eff.Records, nowMS)

	if !inc.Active() {
		delete(c.incidents, inc.ID)
		c.correlator.CloseExplicit(correlate.LeaseKey{
			HomeID: inc.HomeID, Zone: inc.Zone, EntryPoint: inc.EntryPoint,
		})
	}

	for _, h := range c.evid.Sweep(nowMS) {
		if err := c.sink.DeleteHold(ctx, h.IncidentID); err != nil {
			return err
		}
	}
	return nil
}

// dispatchActions maps committed records onto outbound actions. Action
// failures are logged and never fail the commit; the record stream is
// already durable.
func (c *Core) dispatchActions(ctx context.Context, inc *incident.Incident, recs []incident.Record, nowMS int64) {
	for _, rec := range recs {
		for _, kind := range actionsFor(rec) {
			if kind == action.KindSirenStop {
				if err := c.executor.StopDeterrents(ctx, inc, nowMS); err != nil {
					c.logger.Error("deterrent stop failed", "incident", inc.ID, "error", err)
				}
				continue
			}
			out, err := c.executor.Dispatch(ctx, inc, kind, rec.Reason, nowMS)
			if err != nil {
				c.logger.Error("action failed",
					"incident", inc.ID, "kind", kind, "error", err)
				continue
			}
			if out.Suppressed == "" {
				c.logger.Debug("action fired",
					"incident", inc.ID, "kind", out.Kind, "fellback", out.FellBack)
			}
		}
	}
}

// actionsFor is the record-to-action policy table.
func actionsFor(rec incident.Record) []action.Kind {
	if rec.Dimension == incident.DimWorkflow {
		switch rec.To {
		case string(incident.WorkflowNotified):
			return []action.Kind{action.KindNotifyPush}
		case "escalated/alarm_active":
			return []action.Kind{
				action.KindSiren, action.KindStrobe,
				action.KindNotifyPush, action.KindNotifySMS,
				action.KindRecordClip,
			}
		case "escalated/alarm_stopped":
			return []action.Kind{action.KindSirenStop}
		}
		return nil
	}
	if rec.Dimension != incident.DimThreat {
		return nil
	}
	switch incident.ThreatState(rec.To) {
	case incident.ThreatSuspected, incident.ThreatElevated:
		return []action.Kind{action.KindRecordClip}
	case incident.ThreatPending:
		return []action.Kind{action.KindNotifyPush, action.KindNotifySMS}
	}
	return nil
}

// incidentsInZone lists open incidents for a (home, zone), id-sorted
// for deterministic iteration.
func (c *Core) incidentsInZone(homeID, zone string) []*incident.Incident {
	var ids []string
	for id, inc := range c.incidents {
		if inc.HomeID == homeID && inc.Zone == zone {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := make([]*incident.Incident, len(ids))
	for i, id := range ids {
		out[i] = c.incidents[id]
	}
	return out
}

// Incident returns an open incident by id, for commands and tests.
func (c *Core) Incident(id string) (*incident.Incident, bool) {
	inc, ok := c.incidents[id]
	return inc, ok
}

// OpenIncidents returns the open incidents for a home, id-sorted.
func (c *Core) OpenIncidents(homeID string) []*incident.Incident {
	var ids []string
	for id, inc := range c.incidents {
		if inc.HomeID == homeID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := make([]*incident.Incident, len(ids))
	for i, id := range ids {
		out[i] = c.incidents[id]
	}
	return out
}

// BoundaryStats reports the absorbed-input counters.
func (c *Core) BoundaryStats() (rejected, deduped, debounced int64) {
	return c.rejectedTotal, c.dedupedTotal, c.debouncedTotal
}

// GateStats exposes the context-gate manager counters.
func (c *Core) GateStats() int64 {
	return c.gates.ExpiredTotal()
}

// deriveIncidentID builds a deterministic incident id from the lease
// and the opening signal, so replay recreates the same ids.
func deriveIncidentID(lease correlate.LeaseKey, sig *envelope.Signal) string {
	b, err := envelope.MarshalCanonical(map[string]any{
		"home_id":     lease.HomeID,
		"zone":        lease.Zone,
		"entry_point": lease.EntryPoint,
		"signal_id":   sig.ID,
	})
	if err != nil {
		// Lease and id fields are plain strings; canonicalization of a
		// string-only object cannot fail.
		panic("derive incident id: " + err.Error())
	}
	return "inc-" + envelope.HashWithDomain(envelope.DomainIncident, b)[:24]
}

func gateNames(gs []gates.GateType) []string {
	if len(gs) == 0 {
		return nil
	}
	out := make([]string, len(gs))
	for i, g := range gs {
		out[i] = string(g)
	}
	return out
}
