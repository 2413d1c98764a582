// Package harness runs YAML signal scenarios through the full
// evaluation pipeline and checks the resulting transition trace against
// golden files. Scenarios are the conformance suite for the state
// machine: each one pins down a timing or policy behavior that unit
// tests on individual packages cannot cover end to end.
package harness

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/wardenhq/warden/internal/action"
	"github.com/wardenhq/warden/internal/engine"
	"github.com/wardenhq/warden/internal/envelope"
	"github.com/wardenhq/warden/internal/evidence"
	"github.com/wardenhq/warden/internal/incident"
	"github.com/wardenhq/warden/internal/rules"
)

// Outcome is everything a finished scenario run exposes to assertions
// and trace rendering.
type Outcome struct {
	// Records is the full transition trace in commit order.
	Records []incident.Record

	// Incidents holds the last persisted state of every incident the
	// run touched, closed ones included.
	Incidents map[string]*incident.Incident

	// Open lists the incidents still active when the run ended.
	Open []*incident.Incident
}

// traceSink collects what the core commits; nothing is persisted.
type traceSink struct {
	records   []incident.Record
	incidents map[string]*incident.Incident
}

func newTraceSink() *traceSink {
	return &traceSink{incidents: make(map[string]*incident.Incident)}
}

func (s *traceSink) PersistSignal(context.Context, *envelope.Signal) (bool, error) {
	return true, nil
}

func (s *traceSink) PersistCommand(context.Context, *engine.Command) (bool, error) {
	return true, nil
}

func (s *traceSink) PersistRecord(_ context.Context, rec incident.Record) error {
	s.records = append(s.records, rec)
	return nil
}

func (s *traceSink) PersistIncident(_ context.Context, inc *incident.Incident) error {
	snap := *inc
	s.incidents[inc.ID] = &snap
	return nil
}

func (s *traceSink) PersistHold(context.Context, *evidence.Hold) error { return nil }
func (s *traceSink) DeleteHold(context.Context, string) error          { return nil }
func (s *traceSink) EmitReport(context.Context, *incident.Incident, []incident.Record, int64) error {
	return nil
}

type noopActuator struct{}

func (noopActuator) Execute(context.Context, action.Request) error { return nil }

// step merges signals and commands into one timeline.
type step struct {
	atMS int64
	sig  *SignalStep
	cmd  *CommandStep
}

// Run executes the scenario against a fresh pipeline and returns the
// outcome. Signals and commands are interleaved by at_ms; a command
// tied with a signal applies after it, matching real delivery where the
// app reacts to what it was notified about.
func Run(ctx context.Context, sc *Scenario, logger *slog.Logger) (*Outcome, error) {
	if logger == nil {
		logger = slog.Default()
	}

	source := sc.Rules
	if source == "" {
		source = rules.DefaultRuleSource
	}
	active, canary, canaryPct, err := rules.CompileRules([]byte(source))
	if err != nil {
		return nil, fmt.Errorf("harness: compile rules: %w", err)
	}
	registry := rules.NewRegistry(active, logger)
	if canary != nil {
		if err := registry.SetCanary(canary, canaryPct); err != nil {
			return nil, fmt.Errorf("harness: %w", err)
		}
	}

	sink := newTraceSink()
	exec := action.NewExecutor(action.DefaultConfig(), noopActuator{}, logger)
	exec.SetDryRun(true)

	cfg := engine.CoreConfig{
		Machine:            incident.DefaultConfig(),
		Evidence:           evidence.DefaultConfig(),
		HeartbeatTimeoutMS: 240_000,
	}
	core := engine.NewCore(registry, exec, sink, cfg, engine.NewClock(), logger)

	for _, st := range mergeSteps(sc) {
		switch {
		case st.sig != nil:
			err = core.HandleSignal(ctx, st.sig.Signal())
		case st.cmd != nil:
			cmd, cerr := resolveCommand(core, st.cmd)
			if cerr != nil {
				return nil, cerr
			}
			err = core.HandleCommand(ctx, cmd)
		}
		if err != nil {
			return nil, fmt.Errorf("harness: step at %dms: %w", st.atMS, err)
		}
	}

	out := &Outcome{
		Records:   sink.records,
		Incidents: sink.incidents,
	}
	for _, inc := range sink.incidents {
		if _, ok := core.Incident(inc.ID); ok {
			out.Open = append(out.Open, inc)
		}
	}
	sort.Slice(out.Open, func(i, j int) bool { return out.Open[i].ID < out.Open[j].ID })
	return out, nil
}

// mergeSteps interleaves signals and commands by at_ms, commands after
// signals on ties, preserving declaration order within each stream.
func mergeSteps(sc *Scenario) []step {
	steps := make([]step, 0, len(sc.Signals)+len(sc.Commands))
	for i := range sc.Signals {
		steps = append(steps, step{atMS: sc.Signals[i].AtMS, sig: &sc.Signals[i]})
	}
	for i := range sc.Commands {
		steps = append(steps, step{atMS: sc.Commands[i].AtMS, cmd: &sc.Commands[i]})
	}
	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].atMS != steps[j].atMS {
			return steps[i].atMS < steps[j].atMS
		}
		return steps[i].sig != nil && steps[j].cmd != nil
	})
	return steps
}

// resolveCommand binds an incident-scoped command step to the home's
// single open incident. Disarm is home-wide and needs no target.
func resolveCommand(core *engine.Core, cs *CommandStep) (*engine.Command, error) {
	cmd := &engine.Command{
		ID:            cs.ID,
		Type:          engine.CommandType(cs.Type),
		HomeID:        cs.Home,
		Authenticated: cs.Authenticated,
	}
	if cmd.Type == engine.CmdDisarm {
		return cmd, nil
	}
	open := core.OpenIncidents(cs.Home)
	switch len(open) {
	case 0:
		return nil, fmt.Errorf("harness: command %s at %dms: no open incident in home %s", cs.ID, cs.AtMS, cs.Home)
	case 1:
		cmd.IncidentID = open[0].ID
		return cmd, nil
	}
	return nil, fmt.Errorf("harness: command %s at %dms: %d open incidents in home %s, cannot target", cs.ID, cs.AtMS, len(open), cs.Home)
}
