package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/incident"
)

func TestSchedulerDeliversInDueOrder(t *testing.T) {
	s := NewScheduler()
	s.Schedule(incident.TimerRequest{Kind: incident.TimerDecay, IncidentID: "b", DueMS: 3000})
	s.Schedule(incident.TimerRequest{Kind: incident.TimerDwell, IncidentID: "a", DueMS: 1000})
	s.Schedule(incident.TimerRequest{Kind: incident.TimerEntryDelay, IncidentID: "c", DueMS: 2000})

	due := s.Due(5000)
	require.Len(t, due, 3)
	assert.Equal(t, "a", due[0].IncidentID)
	assert.Equal(t, "c", due[1].IncidentID)
	assert.Equal(t, "b", due[2].IncidentID)
	assert.Zero(t, s.Len())
}

func TestSchedulerStopsAtNow(t *testing.T) {
	s := NewScheduler()
	s.Schedule(incident.TimerRequest{Kind: incident.TimerDwell, IncidentID: "a", DueMS: 1000})
	s.Schedule(incident.TimerRequest{Kind: incident.TimerDecay, IncidentID: "b", DueMS: 2000})

	due := s.Due(1000)
	require.Len(t, due, 1)
	assert.Equal(t, "a", due[0].IncidentID)

	next, ok := s.NextDue()
	require.True(t, ok)
	assert.Equal(t, int64(2000), next)
}

func TestSchedulerSameDueKeepsInsertionOrder(t *testing.T) {
	s := NewScheduler()
	s.Schedule(incident.TimerRequest{Kind: incident.TimerDwell, IncidentID: "first", DueMS: 1000})
	s.Schedule(incident.TimerRequest{Kind: incident.TimerDecay, IncidentID: "second", DueMS: 1000})

	due := s.Due(1000)
	require.Len(t, due, 2)
	assert.Equal(t, "first", due[0].IncidentID)
	assert.Equal(t, "second", due[1].IncidentID)
}

func TestSchedulerEmpty(t *testing.T) {
	s := NewScheduler()
	assert.Empty(t, s.Due(1000))
	_, ok := s.NextDue()
	assert.False(t, ok)
}
