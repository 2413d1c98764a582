package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wardenhq/warden/internal/incident"
	"github.com/wardenhq/warden/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Incident string
}

// TraceLine is one transition in the JSON payload.
type TraceLine struct {
	IncidentID string `json:"incident_id"`
	Seq        int64  `json:"seq"`
	AtMS       int64  `json:"at_ms"`
	Dimension  string `json:"dimension"`
	From       string `json:"from"`
	To         string `json:"to"`
	RuleID     string `json:"rule_id"`
	Reason     string `json:"reason"`
	Judge      string `json:"judge"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Print the stored transition log",
		Long: `Print the transition log in seq order, the full provenance chain the
engine recorded: which rule, which reason, which judge state, at what
logical time.

Examples:
  warden trace --db ./warden.db
  warden trace --db ./warden.db --incident inc-4f1c...
  warden trace --db ./warden.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Incident, "incident", "", "restrict to one incident")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	var recs []incident.Record
	if opts.Incident != "" {
		recs, err = st.ReadTransitions(ctx, opts.Incident)
	} else {
		recs, err = st.ReadAllTransitions(ctx)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read transitions", err)
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if out.JSON() {
		lines := make([]TraceLine, 0, len(recs))
		for _, r := range recs {
			lines = append(lines, TraceLine{
				IncidentID: r.IncidentID,
				Seq:        r.Seq,
				AtMS:       r.IngestMS,
				Dimension:  string(r.Dimension),
				From:       r.From,
				To:         r.To,
				RuleID:     r.RuleID,
				Reason:     r.Reason,
				Judge:      r.Judge,
			})
		}
		return out.Success(lines)
	}

	if len(recs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No transitions stored.")
		return nil
	}
	for _, r := range recs {
		fmt.Fprintf(cmd.OutOrStdout(), "t=%-9d %s %s %s -> %s rule=%s reason=%s judge=%s\n",
			r.IngestMS, short(r.IncidentID), r.Dimension, r.From, r.To, r.RuleID, r.Reason, r.Judge)
	}
	return nil
}

// short trims incident ids for the text view; JSON carries them whole.
func short(id string) string {
	const keep = 12
	if len(id) <= keep {
		return id
	}
	return id[:keep]
}
