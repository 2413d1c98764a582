package gates

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/envelope"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func contextSignal(kind envelope.Kind, ingestMS int64) *envelope.Signal {
	return &envelope.Signal{
		ID: "ctx-1", Source: envelope.SourceContext, Kind: kind,
		HomeID: "h1", IngestMS: ingestMS,
	}
}

func TestArm_ContextKinds(t *testing.T) {
	m := NewManager(discardLogger())

	g, ok := m.Arm(contextSignal(envelope.KindSubjectInYard, 1000))
	require.True(t, ok)
	assert.Equal(t, GateSubjectInYard, g.Type)
	assert.Equal(t, int64(1000+120_000), g.ExpiryMS)

	_, ok = m.Arm(&envelope.Signal{Kind: envelope.KindMotion, HomeID: "h1", IngestMS: 1000})
	assert.False(t, ok, "hardware kinds do not arm gates")
}

func TestActive_ExpiryIsSilentAndLazy(t *testing.T) {
	m := NewManager(discardLogger())
	m.Arm(contextSignal(envelope.KindSubjectAtDoor, 1000))

	assert.Equal(t, []GateType{GateSubjectAtThreshold}, m.Active("h1", 1000+29_999))
	assert.Nil(t, m.Active("h1", 1000+30_000), "expiry boundary is inclusive")
	assert.Equal(t, int64(1), m.ExpiredTotal())
}

func TestArm_RefreshExtendsExpiry(t *testing.T) {
	m := NewManager(discardLogger())
	m.Arm(contextSignal(envelope.KindSubjectAtDoor, 1000))
	m.Arm(contextSignal(envelope.KindSubjectAtDoor, 20_000))

	assert.True(t, m.Has("h1", GateSubjectAtThreshold, 45_000),
		"refresh must extend expiry from the new ingest time")
}

func TestActive_DeterministicOrder(t *testing.T) {
	m := NewManager(discardLogger())
	m.Arm(contextSignal(envelope.KindSubjectInYard, 1000))
	m.Arm(contextSignal(envelope.KindSubjectAtDoor, 1000))

	first := m.Active("h1", 2000)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, m.Active("h1", 2000))
	}
	assert.Equal(t, []GateType{GateSubjectAtThreshold, GateSubjectInYard}, first)
}

func TestHas_ScopedPerHome(t *testing.T) {
	m := NewManager(discardLogger())
	m.Arm(contextSignal(envelope.KindSubjectInYard, 1000))

	assert.True(t, m.Has("h1", GateSubjectInYard, 2000))
	assert.False(t, m.Has("h2", GateSubjectInYard, 2000))
}
