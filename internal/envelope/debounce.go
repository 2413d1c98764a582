package envelope

import "fmt"

// SuppressReason documents why debounce held a signal back. Suppression
// is an expected outcome, never a silent drop: every suppressed signal
// produces a reason the caller can log and count.
type SuppressReason string

const (
	SuppressContactBounce SuppressReason = "contact_bounce"
	SuppressSoftCooldown  SuppressReason = "soft_cooldown"
)

// DebounceConfig holds the class-specific windows, in logical
// milliseconds of ingest time.
type DebounceConfig struct {
	// ContactSustainMS is the minimum sustained state duration for
	// contact kinds. An open/close flip inside this window is chatter.
	ContactSustainMS int64
	// SoftCooldownMS is the per-device cooldown between repeated soft
	// detections of the same kind.
	SoftCooldownMS int64
}

// DefaultDebounceConfig mirrors typical contact-bounce and PIR retrigger
// characteristics.
var DefaultDebounceConfig = DebounceConfig{
	ContactSustainMS: 500,
	SoftCooldownMS:   5000,
}

// Debouncer applies class-specific chatter suppression. Safety-critical
// kinds pass through unconditionally. Hard contact kinds are only
// subject to the sustain window; soft kinds to the cooldown window.
//
// Not safe for concurrent use; called from the single-writer loop.
type Debouncer struct {
	cfg DebounceConfig

	// lastContact tracks the previous contact state flip per
	// (home, zone, entry point) so a flip inside the sustain window can
	// be recognized as bounce.
	lastContact map[string]contactState

	// lastSoft tracks the last passed soft detection per (device, kind).
	lastSoft map[string]int64
}

type contactState struct {
	kind     Kind
	ingestMS int64
}

// NewDebouncer creates a debouncer with the given windows.
func NewDebouncer(cfg DebounceConfig) *Debouncer {
	return &Debouncer{
		cfg:         cfg,
		lastContact: make(map[string]contactState),
		lastSoft:    make(map[string]int64),
	}
}

// Admit decides whether a normalized signal proceeds to correlation.
// Returns ("", true) to pass, or a reason and false when suppressed.
func (d *Debouncer) Admit(s *Signal) (SuppressReason, bool) {
	if IsSafety(s.Kind) {
		// Safety kinds are never suppressed, only de-duplicated
		// upstream by the normalizer.
		return "", true
	}

	if IsContact(s.Kind) {
		key := contactKey(s)
		prev, ok := d.lastContact[key]
		d.lastContact[key] = contactState{kind: s.Kind, ingestMS: s.IngestMS}
		if ok && prev.kind != s.Kind && s.IngestMS-prev.ingestMS < d.cfg.ContactSustainMS {
			return SuppressContactBounce, false
		}
		return "", true
	}

	if s.Hardness == HardnessSoft && s.Source == SourceHardware {
		key := fmt.Sprintf("%s|%s", s.DeviceID, s.Kind)
		if last, ok := d.lastSoft[key]; ok && s.IngestMS-last < d.cfg.SoftCooldownMS {
			return SuppressSoftCooldown, false
		}
		d.lastSoft[key] = s.IngestMS
	}

	return "", true
}

func contactKey(s *Signal) string {
	return fmt.Sprintf("%s|%s|%s", s.HomeID, s.Zone, s.EntryPoint)
}
