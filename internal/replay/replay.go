// Package replay re-derives the transition log from the stored event
// log and verifies the result byte for byte against what the live run
// persisted.
//
// The replayed pipeline is the live pipeline: the same core, the same
// rule compilation path, the same logical clock, started from zero and
// fed the admitted event log in original order. The replay sink never
// touches the store and the action executor runs dry, so a replay has
// no side effects.
package replay

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
	"github.com/wardenhq/warden/internal/store"
)

// Divergence pinpoints the first transition where the replayed log
// departs from the stored one.
type Divergence struct {
	Index    int    // position in the seq-ordered transition log
	Stored   string // canonical bytes on disk, empty past the end
	Replayed string // canonical bytes the replay produced, empty past the end
}

func (d *Divergence) String() string {
	switch {
	case d.Stored == "":
		return fmt.Sprintf("transition %d: replay produced an extra record: %s", d.Index, d.Replayed)
	case d.Replayed == "":
		return fmt.Sprintf("transition %d: replay missing stored record: %s", d.Index, d.Stored)
	}
	return fmt.Sprintf("transition %d:\n  stored:   %s\n  replayed: %s", d.Index, d.Stored, d.Replayed)
}

// Result summarizes one verification run.
type Result struct {
	Signals     int
	Commands    int
	Transitions int
	Divergence  *Divergence // nil when the logs are byte-identical
}

// Verified reports whether the replayed log matched the stored one.
func (r *Result) Verified() bool {
	return r.Divergence == nil
}

// Options configures a replay.
type Options struct {
	// RuleSource is the CUE rule file the log was produced under.
	// Verification is only meaningful against the same frozen snapshot;
	// empty means the shipped base rules.
	RuleSource []byte

	// Core overrides the pipeline policy configs. Zero values take the
	// same defaults the live engine uses.
	Machine  incident.Config
	Evidence evidence.Config

	HeartbeatTimeoutMS int64

	Logger *slog.Logger
}

// collectSink gathers the replayed canonical record stream and drops
// everything else on the floor.
type collectSink struct {
	canonicals []string
}

func (s *collectSink) PersistSignal(context.Context, *envelope.Signal) (bool, error) {
	return true, nil
}

func (s *collectSink) PersistCommand(context.Context, *engine.Command) (bool, error) {
	return true, nil
}

func (s *collectSink) PersistRecord(_ context.Context, rec incident.Record) error {
	b, err := rec.CanonicalJSON()
	if err != nil {
		return err
	}
	s.canonicals = append(s.canonicals, string(b))
	return nil
}

func (s *collectSink) PersistIncident(context.Context, *incident.Incident) error { return nil }
func (s *collectSink) PersistHold(context.Context, *evidence.Hold) error         { return nil }
func (s *collectSink) DeleteHold(context.Context, string) error                  { return nil }
func (s *collectSink) EmitReport(context.Context, *incident.Incident, []incident.Record, int64) error {
	return nil
}

// event is one entry of the merged signal+command log.
type event struct {
	seq int64
	sig *envelope.Signal
	cmd *engine.Command
}

// Run replays the stored event log and compares the derived transition
// stream against the stored canonicals.
func Run(ctx context.Context, st *store.Store, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	source := opts.RuleSource
	if len(source) == 0 {
		source = []byte(rules.DefaultRuleSource)
	}
	active, canary, canaryPct, err := rules.CompileRules(source)
	if err != nil {
		return nil, fmt.Errorf("replay: compile rules: %w", err)
	}
	registry := rules.NewRegistry(active, logger)
	if canary != nil {
		if err := registry.SetCanary(canary, canaryPct); err != nil {
			return nil, fmt.Errorf("replay: %w", err)
		}
	}

	events, nSignals, nCommands, err := loadEvents(ctx, st)
	if err != nil {
		return nil, err
	}

	sink := &collectSink{}
	exec := action.NewExecutor(action.DefaultConfig(), noopActuator{}, logger)
	exec.SetDryRun(true)

	cfg := engine.CoreConfig{
		Machine:            orMachine(opts.Machine),
		Evidence:           orEvidence(opts.Evidence),
		HeartbeatTimeoutMS: opts.HeartbeatTimeoutMS,
		Replay:             true,
	}
	if cfg.HeartbeatTimeoutMS == 0 {
		cfg.HeartbeatTimeoutMS = 240_000
	}
	core := engine.NewCore(registry, exec, sink, cfg, engine.NewClock(), logger)

	for _, ev := range events {
		if ev.sig != nil {
			err = core.HandleSignal(ctx, ev.sig)
		} else {
			err = core.HandleCommand(ctx, ev.cmd)
		}
		if err != nil {
			return nil, fmt.Errorf("replay: event seq %d: %w", ev.seq, err)
		}
	}

	stored, err := st.ReadTransitionCanonicals(ctx)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}

	res := &Result{
		Signals:     nSignals,
		Commands:    nCommands,
		Transitions: len(sink.canonicals),
		Divergence:  compare(stored, sink.canonicals),
	}
	return res, nil
}

// loadEvents merges the signal and command logs by stored sequence
// number, which is the original processing order.
func loadEvents(ctx context.Context, st *store.Store) ([]event, int, int, error) {
	sigs, err := st.ReadSignals(ctx)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("replay: %w", err)
	}
	cmds, err := st.ReadCommands(ctx)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("replay: %w", err)
	}

	events := make([]event, 0, len(sigs)+len(cmds))
	for _, s := range sigs {
		events = append(events, event{seq: s.Seq, sig: s})
	}
	for _, row := range cmds {
		events = append(events, event{seq: row.Seq, cmd: &engine.Command{
			ID:            row.ID,
			Type:          engine.CommandType(row.Type),
			HomeID:        row.HomeID,
			IncidentID:    row.IncidentID,
			Authenticated: row.Authenticated,
		}})
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].seq < events[j].seq })
	return events, len(sigs), len(cmds), nil
}

func compare(stored, replayed []string) *Divergence {
	n := len(stored)
	if len(replayed) > n {
		n = len(replayed)
	}
	for i := 0; i < n; i++ {
		var s, r string
		if i < len(stored) {
			s = stored[i]
		}
		if i < len(replayed) {
			r = replayed[i]
		}
		if s != r {
			return &Divergence{Index: i, Stored: s, Replayed: r}
		}
	}
	return nil
}

type noopActuator struct{}

func (noopActuator) Execute(context.Context, action.Request) error { return nil }

func orMachine(cfg incident.Config) incident.Config {
	if cfg.EntryDelayMS == 0 {
		return incident.DefaultConfig()
	}
	return cfg
}

func orEvidence(cfg evidence.Config) evidence.Config {
	if cfg.HoldTTLMS == 0 {
		return evidence.DefaultConfig()
	}
	return cfg
}
