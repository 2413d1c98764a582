package harness

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/incident"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestScenarios runs every YAML scenario in testdata and checks both
// its assertions and its golden trace.
func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths, "no scenario files found")

	for _, path := range paths {
		path := path
		sc, err := LoadScenario(path)
		require.NoError(t, err, path)

		t.Run(sc.Name, func(t *testing.T) {
			out, err := Run(context.Background(), sc, discardLogger())
			require.NoError(t, err)
			require.NoError(t, Check(sc, out))
			AssertGolden(t, sc, out)
		})
	}
}

func TestLoadScenarioRejectsUnknownKind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	raw := `
name: bad-kind
signals:
  - id: sig-1
    kind: not.a.kind
    source: hardware
    home: home-1
    zone: z
    at_ms: 1000
assertions: []
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown kind")
}

func TestLoadScenarioRejectsMissingSignals(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: empty\nassertions: []\n"), 0o644))

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no signals")
}

func TestFormatTraceAppendsJudgeOnlyWhenDegraded(t *testing.T) {
	recs := []incident.Record{
		{
			IngestMS: 1000, Dimension: incident.DimThreat,
			From: "none", To: "suspected",
			RuleID: "soft-first-detection", Reason: "soft_detection",
			Judge: string(incident.JudgeAvailable),
		},
		{
			IngestMS: 2000, Dimension: incident.DimThreat,
			From: "suspected", To: "suspected",
			RuleID: "soft-first-detection", Reason: "soft_detection",
			Judge: string(incident.JudgeDegraded),
		},
	}

	lines := strings.Split(strings.TrimSuffix(FormatTrace(recs), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.NotContains(t, lines[0], "judge=")
	assert.Contains(t, lines[1], "judge=degraded")
}

func TestMergeStepsOrdersCommandsAfterTiedSignals(t *testing.T) {
	sc := &Scenario{
		Signals: []SignalStep{
			{ID: "sig-1", AtMS: 1000},
			{ID: "sig-2", AtMS: 5000},
		},
		Commands: []CommandStep{
			{ID: "cmd-1", AtMS: 1000},
			{ID: "cmd-2", AtMS: 1000},
		},
	}

	steps := mergeSteps(sc)
	require.Len(t, steps, 4)
	assert.Equal(t, "sig-1", steps[0].sig.ID)
	assert.Equal(t, "cmd-1", steps[1].cmd.ID)
	assert.Equal(t, "cmd-2", steps[2].cmd.ID)
	assert.Equal(t, "sig-2", steps[3].sig.ID)
}

func TestCheckReportsStateMismatch(t *testing.T) {
	out := &Outcome{
		Incidents: map[string]*incident.Incident{
			"inc-1": {ID: "inc-1", Threat: incident.ThreatSuspected},
		},
	}
	sc := &Scenario{Assertions: []Assertion{{Type: "threat", Value: "triggered"}}}

	err := Check(sc, out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "threat is suspected")
}
