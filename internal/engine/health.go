package engine

import (
	"github.com/wardenhq/warden/internal/envelope"
	"github.com/wardenhq/warden/internal/incident"
)

// healthTracker derives per-zone judge availability from the heartbeat
// stream. A zone's primary judge is degraded once its heartbeat gap
// exceeds the timeout at evaluation time; a fresh heartbeat restores
// it. The judgement is a pure function of the signal stream and logical
// time, so replay reproduces it.
type healthTracker struct {
	timeoutMS int64
	lastBeat  map[zoneKey]int64
}

type zoneKey struct {
	homeID string
	zone   string
}

func newHealthTracker(timeoutMS int64) *healthTracker {
	return &healthTracker{
		timeoutMS: timeoutMS,
		lastBeat:  make(map[zoneKey]int64),
	}
}

// Observe records a heartbeat from a zone's primary judge. Witness
// heartbeats are ignored; only the designated primary gates judgement.
func (h *healthTracker) Observe(s *envelope.Signal) {
	if s.Kind != envelope.KindHeartbeat || s.CameraRole != envelope.RolePrimary {
		return
	}
	key := zoneKey{s.HomeID, s.Zone}
	if s.IngestMS > h.lastBeat[key] {
		h.lastBeat[key] = s.IngestMS
	}
}

// JudgeAt returns the zone's judge state at logical time nowMS. A zone
// that has never reported is treated as available: absence of health
// data is not evidence of failure.
func (h *healthTracker) JudgeAt(homeID, zone string, nowMS int64) incident.JudgeState {
	last, ok := h.lastBeat[zoneKey{homeID, zone}]
	if !ok {
		return incident.JudgeAvailable
	}
	if nowMS-last > h.timeoutMS {
		return incident.JudgeDegraded
	}
	return incident.JudgeAvailable
}
