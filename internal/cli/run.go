package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wardenhq/warden/internal/action"
	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/engine"
	"github.com/wardenhq/warden/internal/envelope"
	"github.com/wardenhq/warden/internal/metrics"
	"github.com/wardenhq/warden/internal/report"
	"github.com/wardenhq/warden/internal/rules"
	"github.com/wardenhq/warden/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	Rules    string

	// Feed overrides the event source; nil means stdin.
	Feed io.Reader
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the engine on an event feed",
		Long: `Start the correlation engine against a SQLite event log.

Events arrive as NDJSON on stdin, one object per line:

  {"signal": {"id": "sig-1", "kind": "boundary.open", ...}}
  {"command": {"type": "silence", "incident_id": "inc-..."}}
  {"rule_push": "registry: { ... }"}

The engine resumes its logical clock past everything already stored, so
restarting against an existing database continues the same log.

Settings come from WARDEN_* environment variables; --db and --rules
override their environment counterparts.

Examples:
  warden run --db ./warden.db < feed.ndjson
  warden run --db ./warden.db --rules ./rules.cue --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default: $WARDEN_DB_PATH)")
	cmd.Flags().StringVar(&opts.Rules, "rules", "", "CUE rule file (default: $WARDEN_RULES_PATH or shipped base rules)")

	return cmd
}

// feedEvent is one NDJSON line of the inbound feed.
type feedEvent struct {
	Signal   *envelope.Signal `json:"signal,omitempty"`
	Command  *feedCommand     `json:"command,omitempty"`
	RulePush string           `json:"rule_push,omitempty"`
}

type feedCommand struct {
	ID            string `json:"id,omitempty"`
	Type          string `json:"type"`
	HomeID        string `json:"home_id,omitempty"`
	IncidentID    string `json:"incident_id,omitempty"`
	Authenticated bool   `json:"authenticated,omitempty"`
}

// logActuator is the shipped default: it logs every action instead of
// driving real sirens and notification gateways.
type logActuator struct {
	logger *slog.Logger
}

func (a logActuator) Execute(_ context.Context, req action.Request) error {
	a.logger.Info("action fired",
		"kind", req.Kind, "incident", req.IncidentID, "zone", req.Zone, "reason", req.Reason)
	return nil
}

func runEngine(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load environment", err)
	}
	dbPath := opts.Database
	if dbPath == "" {
		dbPath = cfg.DBPath
	}
	rulesPath := opts.Rules
	if rulesPath == "" {
		rulesPath = cfg.RulesPath
	}

	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: logLevel}))

	registry, err := loadRegistry(rulesPath, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load rules", err)
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("closing database", "error", closeErr)
		}
	}()

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	maxSeq, err := st.MaxSeq(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read stored clock", err)
	}

	met, err := metrics.New()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to init metrics", err)
	}
	reports := report.NewBuilder(st, logger)
	sink := engine.NewStoreSink(st, reports, met)
	exec := action.NewExecutor(cfg.Actions(), logActuator{logger: logger}, logger)

	core := engine.NewCore(registry, exec, sink, engine.CoreConfig{
		Machine:            cfg.Machine(),
		Correlation:        cfg.Correlation(),
		Evidence:           cfg.Evidence(),
		HeartbeatTimeoutMS: cfg.HeartbeatTimeoutMS,
	}, engine.NewClockAt(maxSeq), logger)
	eng := engine.New(core, registry, logger,
		engine.WithMetrics(met), engine.WithNoiseConfig(cfg.Noise()))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case s := <-sigChan:
			logger.Info("received signal, shutting down", "signal", s)
			cancel()
		case <-ctx.Done():
		}
	}()

	feed := opts.Feed
	if feed == nil {
		feed = cmd.InOrStdin()
	}
	go feedEvents(feed, eng, logger)

	logger.Info("engine starting", "db", dbPath, "resume_seq", maxSeq)
	if err := eng.Run(ctx); err != nil && err != context.Canceled {
		return WrapExitError(ExitFailure, "engine error", err)
	}
	logger.Info("engine stopped")
	return nil
}

// feedEvents pumps NDJSON lines into the queue; malformed lines are
// logged and skipped. EOF drains the queue and stops the engine.
func feedEvents(r io.Reader, eng *engine.Engine, logger *slog.Logger) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev feedEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			logger.Warn("malformed feed line", "error", err)
			continue
		}
		switch {
		case ev.Signal != nil:
			eng.Enqueue(engine.Event{Type: engine.EventTypeSignal, Signal: ev.Signal})
		case ev.Command != nil:
			id := ev.Command.ID
			if id == "" {
				id = eng.NewCommandID()
			}
			eng.Enqueue(engine.Event{Type: engine.EventTypeCommand, Command: &engine.Command{
				ID:            id,
				Type:          engine.CommandType(ev.Command.Type),
				HomeID:        ev.Command.HomeID,
				IncidentID:    ev.Command.IncidentID,
				Authenticated: ev.Command.Authenticated,
			}})
		case ev.RulePush != "":
			eng.Enqueue(engine.Event{Type: engine.EventTypeRulePush, Push: []byte(ev.RulePush)})
		default:
			logger.Warn("feed line carries no event")
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Error("feed read failed", "error", err)
	}
	eng.Stop()
}

// loadRegistry compiles the rule file, or the shipped base rules when
// path is empty.
func loadRegistry(path string, logger *slog.Logger) (*rules.Registry, error) {
	source, err := ruleSource(path)
	if err != nil {
		return nil, err
	}
	return buildRegistry(source, logger)
}

func ruleSource(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule file: %w", err)
	}
	return source, nil
}
