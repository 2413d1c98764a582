package harness

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/wardenhq/warden/internal/incident"
)

// FormatTrace renders the transition trace in the stable line format
// the golden files use. Judge is appended only while degraded, which
// keeps the common case readable.
func FormatTrace(recs []incident.Record) string {
	var b strings.Builder
	for _, r := range recs {
		fmt.Fprintf(&b, "t=%d %s %s -> %s rule=%s reason=%s",
			r.IngestMS, r.Dimension, r.From, r.To, r.RuleID, r.Reason)
		if r.Judge != string(incident.JudgeAvailable) {
			fmt.Fprintf(&b, " judge=%s", r.Judge)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// AssertGolden compares the scenario's trace against its golden file,
// testdata/golden/<name>.golden. Run with -update to regenerate.
func AssertGolden(t *testing.T, sc *Scenario, out *Outcome) {
	t.Helper()
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, sc.Name, []byte(FormatTrace(out.Records)))
}
