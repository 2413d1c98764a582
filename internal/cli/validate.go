package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wardenhq/warden/internal/rules"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
}

// ValidateReport is the validate command's result payload.
type ValidateReport struct {
	Version     string   `json:"version"`
	Rules       int      `json:"rules"`
	RuleIDs     []string `json:"rule_ids,omitempty"`
	CanaryPct   int64    `json:"canary_pct,omitempty"`
	CanaryRules int      `json:"canary_rules,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <rules.cue>",
		Short: "Compile and validate a CUE rule file",
		Long: `Compile a CUE rule file through the same path the engine uses for rule
pushes, without touching any database. A file that validates here will
be accepted by a running engine.

Exit codes:
  0 - rule file is valid
  1 - rule file failed to compile or validate
  2 - command error (file not found)

Examples:
  warden validate ./rules.cue
  warden validate ./rules.cue --format json --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *ValidateOptions, path string, cmd *cobra.Command) error {
	source, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read rule file", err)
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	active, canary, canaryPct, err := rules.CompileRules(source)
	if err != nil {
		if ferr := out.Failure(err.Error(), nil); ferr != nil {
			return ferr
		}
		return NewExitError(ExitFailure, "rule file is invalid")
	}

	rep := ValidateReport{
		Version: active.Version,
		Rules:   active.Len(),
	}
	if opts.Verbose {
		for _, r := range active.Rules() {
			rep.RuleIDs = append(rep.RuleIDs, r.ID)
		}
	}
	if canary != nil {
		rep.CanaryPct = canaryPct
		rep.CanaryRules = canary.Len()
	}

	if out.JSON() {
		return out.Success(rep)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Valid: version %s, %d rules", rep.Version, rep.Rules)
	if canary != nil {
		fmt.Fprintf(cmd.OutOrStdout(), ", canary %d%% (%d rules)", rep.CanaryPct, rep.CanaryRules)
	}
	fmt.Fprintln(cmd.OutOrStdout())
	for _, id := range rep.RuleIDs {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", id)
	}
	return nil
}
