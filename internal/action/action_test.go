package action

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/incident"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingActuator struct {
	reqs []Request
	fail map[Kind]int // remaining failures per kind
}

func (a *recordingActuator) Execute(_ context.Context, req Request) error {
	a.reqs = append(a.reqs, req)
	if n := a.fail[req.Kind]; n > 0 {
		a.fail[req.Kind] = n - 1
		return errors.New("provider unavailable")
	}
	return nil
}

func testIncident(threat incident.ThreatState, sub incident.SubPhase) *incident.Incident {
	return &incident.Incident{
		ID: "inc-1", HomeID: "home-1", Zone: "front-door",
		Threat: threat, Workflow: incident.WorkflowNotified, SubPhase: sub,
		Judge: incident.JudgeAvailable,
	}
}

func TestGateByThreatTier(t *testing.T) {
	assert.Empty(t, Permitted(incident.ThreatNone, incident.SubPhaseNone))
	assert.Equal(t, []Kind{KindRecordClip}, Permitted(incident.ThreatSuspected, incident.SubPhaseNone))
	assert.False(t, Allowed(KindSiren, incident.ThreatPending, incident.SubPhaseNone),
		"deterrents need a committed trigger")
	assert.True(t, Allowed(KindNotifySMS, incident.ThreatPending, incident.SubPhaseNone))
}

func TestGateSubPhaseRefinement(t *testing.T) {
	assert.True(t, Allowed(KindSiren, incident.ThreatTriggered, incident.SubPhaseAlarmActive))
	assert.False(t, Allowed(KindSiren, incident.ThreatTriggered, incident.SubPhaseAlarmStopped),
		"siren only while the alarm is active")
	assert.True(t, Allowed(KindDispatchRequest, incident.ThreatTriggered, incident.SubPhaseAwaitingResponse))
	assert.False(t, Allowed(KindDispatchRequest, incident.ThreatTriggered, incident.SubPhaseDispatchConfirm),
		"no dispatch after a dispatch decision")
}

func TestDispatchFiresPermittedAction(t *testing.T) {
	act := &recordingActuator{}
	e := NewExecutor(DefaultConfig(), act, discardLogger())
	inc := testIncident(incident.ThreatTriggered, incident.SubPhaseAlarmActive)

	out, err := e.Dispatch(context.Background(), inc, KindSiren, "hard_safety_signal", 1000)
	require.NoError(t, err)
	assert.Empty(t, out.Suppressed)
	assert.Equal(t, 1, out.Attempts)
	require.Len(t, act.reqs, 1)
	assert.Equal(t, "inc-1", act.reqs[0].IncidentID)
}

func TestDispatchSuppressesUnpermitted(t *testing.T) {
	act := &recordingActuator{}
	e := NewExecutor(DefaultConfig(), act, discardLogger())
	inc := testIncident(incident.ThreatSuspected, incident.SubPhaseNone)

	out, err := e.Dispatch(context.Background(), inc, KindSiren, "x", 1000)
	require.NoError(t, err)
	assert.Equal(t, SuppressNotPermitted, out.Suppressed)
	assert.Empty(t, act.reqs, "gate stops the call before the actuator")
}

func TestDispatchCooldown(t *testing.T) {
	act := &recordingActuator{}
	e := NewExecutor(DefaultConfig(), act, discardLogger())
	inc := testIncident(incident.ThreatElevated, incident.SubPhaseNone)

	_, err := e.Dispatch(context.Background(), inc, KindNotifyPush, "x", 1000)
	require.NoError(t, err)

	out, err := e.Dispatch(context.Background(), inc, KindNotifyPush, "x", 30_000)
	require.NoError(t, err)
	assert.Equal(t, SuppressCooldown, out.Suppressed)

	out, err = e.Dispatch(context.Background(), inc, KindNotifyPush, "x", 61_000)
	require.NoError(t, err)
	assert.Empty(t, out.Suppressed, "cooldown elapsed")
	assert.Len(t, act.reqs, 2)
}

func TestRetryThenFallback(t *testing.T) {
	act := &recordingActuator{fail: map[Kind]int{KindNotifyPush: 10}}
	e := NewExecutor(DefaultConfig(), act, discardLogger())
	inc := testIncident(incident.ThreatPending, incident.SubPhaseNone)

	out, err := e.Dispatch(context.Background(), inc, KindNotifyPush, "boundary_open_armed", 1000)
	require.NoError(t, err)
	assert.True(t, out.FellBack)
	assert.Equal(t, KindNotifySMS, out.Kind)
	assert.Equal(t, 4, out.Attempts, "three push attempts plus one sms")
}

func TestFallbackRespectsGate(t *testing.T) {
	act := &recordingActuator{fail: map[Kind]int{KindNotifyPush: 10}}
	e := NewExecutor(DefaultConfig(), act, discardLogger())
	// elevated permits push but not sms, so the fallback is refused.
	inc := testIncident(incident.ThreatElevated, incident.SubPhaseNone)

	_, err := e.Dispatch(context.Background(), inc, KindNotifyPush, "x", 1000)
	require.Error(t, err)
	for _, req := range act.reqs {
		assert.Equal(t, KindNotifyPush, req.Kind)
	}
}

func TestTierSuppressionSparesDeterrents(t *testing.T) {
	act := &recordingActuator{}
	e := NewExecutor(DefaultConfig(), act, discardLogger())
	e.SetMinNotifyRank(incident.ThreatPending.Rank())

	low := testIncident(incident.ThreatElevated, incident.SubPhaseNone)
	out, err := e.Dispatch(context.Background(), low, KindNotifyPush, "x", 1000)
	require.NoError(t, err)
	assert.Equal(t, SuppressTier, out.Suppressed)

	hot := testIncident(incident.ThreatTriggered, incident.SubPhaseAlarmActive)
	out, err = e.Dispatch(context.Background(), hot, KindSiren, "x", 1000)
	require.NoError(t, err)
	assert.Empty(t, out.Suppressed, "suppression floor never reaches deterrents")
}

func TestDryRunSuppressesEverything(t *testing.T) {
	act := &recordingActuator{}
	e := NewExecutor(DefaultConfig(), act, discardLogger())
	e.SetDryRun(true)

	inc := testIncident(incident.ThreatTriggered, incident.SubPhaseAlarmActive)
	out, err := e.Dispatch(context.Background(), inc, KindSiren, "x", 1000)
	require.NoError(t, err)
	assert.Equal(t, SuppressReplay, out.Suppressed)
	require.NoError(t, e.StopDeterrents(context.Background(), inc, 2000))
	assert.Empty(t, act.reqs)
}

func TestStopDeterrentsBypassesCooldown(t *testing.T) {
	act := &recordingActuator{}
	e := NewExecutor(DefaultConfig(), act, discardLogger())
	inc := testIncident(incident.ThreatTriggered, incident.SubPhaseAlarmStopped)

	require.NoError(t, e.StopDeterrents(context.Background(), inc, 1000))
	require.NoError(t, e.StopDeterrents(context.Background(), inc, 1001))
	assert.Len(t, act.reqs, 2)
}
