package rules

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustSnapshot(t *testing.T, version string, rs []Rule) *Snapshot {
	t.Helper()
	s, err := NewSnapshot(version, rs)
	require.NoError(t, err)
	return s
}

func threatRule(id string, priority int64, kinds []string, to, reason string) Rule {
	return Rule{
		ID: id, Version: 1, Priority: priority,
		When: When{SignalKinds: kinds},
		Then: Then{Dimension: "threat", To: to, Reason: reason},
	}
}

func TestNewSnapshot_Validation(t *testing.T) {
	_, err := NewSnapshot("v1", []Rule{{ID: "", Version: 1}})
	assert.Error(t, err)

	_, err = NewSnapshot("v1", []Rule{
		threatRule("a", 1, nil, "suspected", "x"),
		threatRule("a", 2, nil, "elevated", "y"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate rule id")

	bad := threatRule("b", 1, nil, "vaporized", "x")
	_, err = NewSnapshot("v1", []Rule{bad})
	assert.Error(t, err)

	gated := threatRule("c", 1, nil, "elevated", "x")
	gated.Then.DwellMS = 1000
	gated.Then.GatedDwellMS = 2000
	gated.Then.AccelGates = []string{"subject_in_yard"}
	_, err = NewSnapshot("v1", []Rule{gated})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gates only shorten dwell")
}

func TestEval_PriorityThenIDTieBreak(t *testing.T) {
	snap := mustSnapshot(t, "v1", []Rule{
		threatRule("zzz-low", 10, []string{"motion"}, "suspected", "low"),
		threatRule("bbb-tie", 50, []string{"motion"}, "elevated", "tie-b"),
		threatRule("aaa-tie", 50, []string{"motion"}, "elevated", "tie-a"),
	})
	r := NewRegistry(snap, discardLogger())

	m, ok := r.Eval(MatchInput{SignalKind: "motion"}, 50)
	require.True(t, ok)
	assert.Equal(t, "aaa-tie", m.Rule.ID, "equal priority resolves by ascending rule id")
	assert.False(t, m.Canary)
}

func TestEval_ConditionMatching(t *testing.T) {
	rule := Rule{
		ID: "guarded", Version: 1, Priority: 1,
		When: When{
			SignalKinds:   []string{"motion"},
			ThreatIn:      []string{"suspected"},
			JudgeIn:       []string{"available"},
			RequiredGates: []string{"subject_in_yard"},
			MinConfidence: 60,
			MinSoftCount:  2,
		},
		Then: Then{Dimension: "threat", To: "elevated", Reason: "r"},
	}
	r := NewRegistry(mustSnapshot(t, "v1", []Rule{rule}), discardLogger())

	base := MatchInput{
		SignalKind: "motion", ThreatState: "suspected", JudgeState: "available",
		ActiveGates: []string{"subject_in_yard"}, Confidence: 80, SoftCount: 3,
	}

	_, ok := r.Eval(base, 0)
	assert.True(t, ok)

	for name, mutate := range map[string]func(*MatchInput){
		"wrong kind":     func(m *MatchInput) { m.SignalKind = "glass.break" },
		"wrong threat":   func(m *MatchInput) { m.ThreatState = "none" },
		"judge degraded": func(m *MatchInput) { m.JudgeState = "degraded" },
		"gate missing":   func(m *MatchInput) { m.ActiveGates = nil },
		"low confidence": func(m *MatchInput) { m.Confidence = 40 },
		"few soft":       func(m *MatchInput) { m.SoftCount = 1 },
	} {
		in := base
		mutate(&in)
		_, ok := r.Eval(in, 0)
		assert.False(t, ok, name)
	}
}

func TestSwap_AtomicAndLastGood(t *testing.T) {
	first := mustSnapshot(t, "v1", []Rule{threatRule("a", 1, nil, "suspected", "r")})
	r := NewRegistry(first, discardLogger())

	second := mustSnapshot(t, "v2", []Rule{threatRule("b", 1, nil, "elevated", "r")})
	r.Swap(second)
	assert.Equal(t, "v2", r.Active().Version)

	// Rejected push falls back to last known good.
	err := r.ApplyPush(&Push{Version: "v3", Mode: PushFull, Rules: []Rule{{ID: "broken"}}})
	require.Error(t, err)
	assert.Equal(t, "v2", r.Active().Version)
}

func TestApplyPush_PartialMergesByID(t *testing.T) {
	r := NewRegistry(mustSnapshot(t, "v1", []Rule{
		threatRule("keep", 10, []string{"motion"}, "suspected", "keep-v1"),
		threatRule("replace", 20, []string{"motion"}, "suspected", "old"),
	}), discardLogger())

	replacement := threatRule("replace", 20, []string{"motion"}, "elevated", "new")
	replacement.Version = 2
	added := threatRule("added", 5, []string{"person.detected"}, "suspected", "add")

	err := r.ApplyPush(&Push{Version: "v2", Mode: PushPartial, Rules: []Rule{replacement, added}})
	require.NoError(t, err)

	snap := r.Active()
	assert.Equal(t, "v2", snap.Version)
	assert.Equal(t, 3, snap.Len())
	byID := make(map[string]Rule)
	for _, rule := range snap.Rules() {
		byID[rule.ID] = rule
	}
	assert.Equal(t, "new", byID["replace"].Then.Reason)
	assert.Equal(t, "keep-v1", byID["keep"].Then.Reason)
}

func TestCanary_StablePerIncident(t *testing.T) {
	active := mustSnapshot(t, "v1", []Rule{threatRule("base", 1, nil, "suspected", "base")})
	canary := mustSnapshot(t, "v1-canary", []Rule{threatRule("canary", 1, nil, "suspected", "canary")})

	r := NewRegistry(active, discardLogger())
	require.NoError(t, r.SetCanary(canary, 30))

	bucket := CanaryBucket("incident-42")
	m1, ok := r.Eval(MatchInput{}, bucket)
	require.True(t, ok)
	for i := 0; i < 20; i++ {
		m, ok := r.Eval(MatchInput{}, bucket)
		require.True(t, ok)
		assert.Equal(t, m1.Canary, m.Canary, "selection must be stable per incident")
		assert.Equal(t, m1.Rule.ID, m.Rule.ID)
	}

	// Buckets below pct route to canary, at or above stay on active.
	m, _ := r.Eval(MatchInput{}, 10)
	assert.True(t, m.Canary)
	m, _ = r.Eval(MatchInput{}, 30)
	assert.False(t, m.Canary)
}

func TestCanaryBucket_Deterministic(t *testing.T) {
	b := CanaryBucket("incident-1")
	assert.Equal(t, b, CanaryBucket("incident-1"))
	assert.GreaterOrEqual(t, b, int64(0))
	assert.Less(t, b, int64(100))
}

func TestDwellFor_GatesOnlyShortenDwell(t *testing.T) {
	m := Match{Rule: Rule{Then: Then{
		DwellMS: 60_000, GatedDwellMS: 20_000, AccelGates: []string{"subject_in_yard"},
	}}}

	assert.Equal(t, int64(20_000), DwellFor(m, []string{"subject_in_yard"}))
	assert.Equal(t, int64(60_000), DwellFor(m, nil), "no gate reverts to the conservative dwell")
	assert.Equal(t, int64(60_000), DwellFor(m, []string{"subject_at_threshold"}))
}
