package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewBuildsAllInstruments(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	require.NotNil(t, m.SignalsIngested)
	require.NotNil(t, m.Transitions)
	require.NotNil(t, m.QueueDepth)

	// With no provider installed the instruments are no-ops; recording
	// must still be safe.
	ctx := context.Background()
	m.SignalsIngested.Add(ctx, 1)
	m.QueueDepth.Record(ctx, 42)
	m.RecordTransition(ctx, "threat", "soft_detection")
	m.RecordReject(ctx, "unknown_kind")
}
