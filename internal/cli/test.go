package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/wardenhq/warden/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Filter string
}

// ScenarioResult is the outcome of one scenario.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// TestReport is the test command's result payload.
type TestReport struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run scenario conformance checks",
		Long: `Run every YAML scenario in a directory through the full pipeline and
evaluate its assertions. Scenarios run against the shipped base rules
unless they embed their own.

Exit codes:
  0 - all scenarios passed
  1 - one or more scenarios failed
  2 - command error (directory not found, malformed scenario)

Examples:
  warden test ./scenarios
  warden test ./scenarios --filter 'entry-*' --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "run only scenarios whose name matches this glob")

	return cmd
}

func runScenarios(opts *TestOptions, dir string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list scenarios", err)
	}
	if len(paths) == 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("no scenario files in %s", dir))
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if opts.Verbose {
		logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	rep := TestReport{}
	for _, path := range paths {
		sc, err := harness.LoadScenario(path)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load scenario", err)
		}
		if opts.Filter != "" {
			if match, _ := filepath.Match(opts.Filter, sc.Name); !match {
				continue
			}
		}

		res := ScenarioResult{Name: sc.Name, Pass: true}
		out, err := harness.Run(ctx, sc, logger)
		if err != nil {
			res.Pass = false
			res.Errors = append(res.Errors, err.Error())
		} else if err := harness.Check(sc, out); err != nil {
			res.Pass = false
			res.Errors = append(res.Errors, err.Error())
		}

		if res.Pass {
			rep.Passed++
		} else {
			rep.Failed++
		}
		rep.Scenarios = append(rep.Scenarios, res)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if formatter.JSON() {
		if err := formatter.Success(rep); err != nil {
			return err
		}
	} else {
		for _, res := range rep.Scenarios {
			status := "PASS"
			if !res.Pass {
				status = "FAIL"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", status, res.Name)
			for _, e := range res.Errors {
				fmt.Fprintf(cmd.OutOrStdout(), "      %s\n", e)
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d passed, %d failed\n", rep.Passed, rep.Failed)
	}

	if rep.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenarios failed", rep.Failed))
	}
	return nil
}
