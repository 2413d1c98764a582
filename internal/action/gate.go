// Package action decides which outbound actions an incident state
// permits, and executes them with cooldown, retry and fallback policy.
// The gate is pure; only the executor touches the outside world.
package action

import (
	"slices"

	"github.com/wardenhq/warden/internal/incident"
)

// Kind names an outbound action.
type Kind string

const (
	KindNotifyPush      Kind = "notify_push"
	KindNotifySMS       Kind = "notify_sms"
	KindRecordClip      Kind = "record_clip"
	KindSiren           Kind = "siren"
	KindStrobe          Kind = "strobe"
	KindSirenStop       Kind = "siren_stop"
	KindDispatchRequest Kind = "dispatch_request"
)

// deterrents are the sensory actions with an auto-stop obligation.
var deterrents = []Kind{KindSiren, KindStrobe}

// IsDeterrent reports whether k is a siren-class action.
func IsDeterrent(k Kind) bool {
	return slices.Contains(deterrents, k)
}

// permitted is the static action table keyed by threat tier. Escalated
// sub-phases refine the triggered row: deterrents only while the alarm
// is active, dispatch only until a dispatch decision lands.
var permitted = map[incident.ThreatState][]Kind{
	incident.ThreatNone:      {},
	incident.ThreatSuspected: {KindRecordClip},
	incident.ThreatElevated:  {KindRecordClip, KindNotifyPush},
	incident.ThreatPending:   {KindRecordClip, KindNotifyPush, KindNotifySMS},
	incident.ThreatTriggered: {
		KindRecordClip, KindNotifyPush, KindNotifySMS,
		KindSiren, KindStrobe, KindSirenStop, KindDispatchRequest,
	},
}

// Permitted returns the action set for a state pair, in table order.
func Permitted(threat incident.ThreatState, sub incident.SubPhase) []Kind {
	base := permitted[threat]
	if threat != incident.ThreatTriggered {
		return slices.Clone(base)
	}
	out := make([]Kind, 0, len(base))
	for _, k := range base {
		if allowedInSubPhase(k, sub) {
			out = append(out, k)
		}
	}
	return out
}

// Allowed reports whether one action is permitted for the state pair.
func Allowed(k Kind, threat incident.ThreatState, sub incident.SubPhase) bool {
	return slices.Contains(Permitted(threat, sub), k)
}

func allowedInSubPhase(k Kind, sub incident.SubPhase) bool {
	switch k {
	case KindSiren, KindStrobe:
		return sub == incident.SubPhaseAlarmActive
	case KindSirenStop:
		return sub == incident.SubPhaseAlarmActive || sub == incident.SubPhaseAlarmStopped
	case KindDispatchRequest:
		switch sub {
		case incident.SubPhaseDispatchRequest, incident.SubPhaseDispatchConfirm, incident.SubPhaseDispatchCancel:
			return false
		}
		return true
	}
	return true
}
