package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/replay"
	"github.com/wardenhq/warden/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	Rules    string
}

// ReplayReport is the replay command's result payload.
type ReplayReport struct {
	Signals     int    `json:"signals"`
	Commands    int    `json:"commands"`
	Transitions int    `json:"transitions"`
	Verified    bool   `json:"verified"`
	Divergence  string `json:"divergence,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the event log and verify determinism",
		Long: `Re-derive the transition log from the stored signals and commands and
compare it byte for byte against what the live run persisted.

Verification is only meaningful under the policy the log was produced
with: pass the same rule file with --rules and run with the same
WARDEN_* environment as the live engine.

Exit codes:
  0 - replayed log matches the stored log
  1 - divergence detected (tampered log, rule drift, or a defect)
  2 - command error (database not found, invalid rules)

Examples:
  warden replay --db ./warden.db
  warden replay --db ./warden.db --rules ./rules.cue --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Rules, "rules", "", "CUE rule file the log was produced under")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load environment", err)
	}
	rulesPath := opts.Rules
	if rulesPath == "" {
		rulesPath = cfg.RulesPath
	}
	source, err := ruleSource(rulesPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read rules", err)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if opts.Verbose {
		logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	res, err := replay.Run(ctx, st, replay.Options{
		RuleSource:         source,
		Machine:            cfg.Machine(),
		Evidence:           cfg.Evidence(),
		HeartbeatTimeoutMS: cfg.HeartbeatTimeoutMS,
		Logger:             logger,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "replay failed", err)
	}

	rep := ReplayReport{
		Signals:     res.Signals,
		Commands:    res.Commands,
		Transitions: res.Transitions,
		Verified:    res.Verified(),
	}
	if res.Divergence != nil {
		rep.Divergence = res.Divergence.String()
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if out.JSON() {
		if err := out.Success(rep); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Replayed %d signals, %d commands -> %d transitions\n",
			rep.Signals, rep.Commands, rep.Transitions)
		if rep.Verified {
			fmt.Fprintln(cmd.OutOrStdout(), "Verified: replayed log is byte-identical to the stored log.")
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "DIVERGENCE\n%s\n", rep.Divergence)
		}
	}

	if !rep.Verified {
		return NewExitError(ExitFailure, "replay diverged from the stored log")
	}
	return nil
}
