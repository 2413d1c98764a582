package envelope

import (
	"fmt"
)

// RejectReason documents why a raw signal was refused at the boundary.
// Rejections are malformed envelopes; they are errors, unlike debounce
// suppressions which are expected outcomes.
type RejectReason string

const (
	RejectMissingID       RejectReason = "missing_id"
	RejectUnknownKind     RejectReason = "unknown_kind"
	RejectSourceMismatch  RejectReason = "source_mismatch"
	RejectHardnessInvalid RejectReason = "hardness_mismatch"
	RejectMissingHome     RejectReason = "missing_home"
	RejectMissingZone     RejectReason = "missing_zone"
	RejectBadTimestamp    RejectReason = "bad_timestamp"
	RejectBadConfidence   RejectReason = "bad_confidence"
)

// RejectError is returned for envelopes that fail validation.
type RejectError struct {
	Reason   RejectReason
	SignalID string
	Detail   string
}

func (e *RejectError) Error() string {
	if e.SignalID != "" {
		return fmt.Sprintf("signal %s rejected (%s): %s", e.SignalID, e.Reason, e.Detail)
	}
	return fmt.Sprintf("signal rejected (%s): %s", e.Reason, e.Detail)
}

// Normalizer validates raw envelopes and absorbs duplicate delivery.
// It tracks both delivery ids and content fingerprints: the feed is
// at-least-once and may redeliver under the same id or under a fresh id
// with identical content.
//
// Not safe for concurrent use; the engine calls it from the
// single-writer loop only.
type Normalizer struct {
	seenIDs          map[string]bool
	seenFingerprints map[string]bool

	// Bounded history: oldest entries are evicted once maxSeen is
	// exceeded. Eviction order does not need to be exact; duplicate
	// delivery windows are short relative to the history size.
	idOrder []string
	fpOrder []string
	maxSeen int
}

// DefaultMaxSeen bounds the dedup history per normalizer.
const DefaultMaxSeen = 4096

// NewNormalizer creates a normalizer with the default history bound.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		seenIDs:          make(map[string]bool),
		seenFingerprints: make(map[string]bool),
		maxSeen:          DefaultMaxSeen,
	}
}

// Normalize validates a raw signal and reports duplicate delivery.
// Returns (duplicate=false, nil) for a fresh valid signal,
// (duplicate=true, nil) for an absorbed redelivery, and a RejectError
// for malformed envelopes. The signal is never mutated except that a
// missing hardness tag is filled from the kind table.
func (n *Normalizer) Normalize(s *Signal) (duplicate bool, err error) {
	if s.ID == "" {
		return false, &RejectError{Reason: RejectMissingID, Detail: "empty signal id"}
	}

	info, ok := kindTable[s.Kind]
	if !ok {
		return false, &RejectError{Reason: RejectUnknownKind, SignalID: s.ID, Detail: string(s.Kind)}
	}
	if s.Source != info.source {
		return false, &RejectError{
			Reason:   RejectSourceMismatch,
			SignalID: s.ID,
			Detail:   fmt.Sprintf("kind %s requires source %s, got %s", s.Kind, info.source, s.Source),
		}
	}
	if s.Hardness == "" {
		s.Hardness = info.hardness
	} else if s.Hardness != info.hardness {
		return false, &RejectError{
			Reason:   RejectHardnessInvalid,
			SignalID: s.ID,
			Detail:   fmt.Sprintf("kind %s is %s, envelope claims %s", s.Kind, info.hardness, s.Hardness),
		}
	}
	if s.HomeID == "" {
		return false, &RejectError{Reason: RejectMissingHome, SignalID: s.ID, Detail: "empty home id"}
	}
	if s.Zone == "" && s.Source == SourceHardware {
		return false, &RejectError{Reason: RejectMissingZone, SignalID: s.ID, Detail: "hardware signal without zone"}
	}
	if s.IngestMS <= 0 {
		return false, &RejectError{Reason: RejectBadTimestamp, SignalID: s.ID, Detail: "ingest timestamp missing"}
	}
	if s.Confidence < 0 || s.Confidence > 100 {
		return false, &RejectError{
			Reason:   RejectBadConfidence,
			SignalID: s.ID,
			Detail:   fmt.Sprintf("confidence %d outside [0,100]", s.Confidence),
		}
	}

	if n.seenIDs[s.ID] {
		return true, nil
	}

	fp, err := Fingerprint(s)
	if err != nil {
		return false, fmt.Errorf("normalize %s: %w", s.ID, err)
	}
	if n.seenFingerprints[fp] {
		n.remember(s.ID, "")
		return true, nil
	}

	n.remember(s.ID, fp)
	return false, nil
}

func (n *Normalizer) remember(id, fp string) {
	n.seenIDs[id] = true
	n.idOrder = append(n.idOrder, id)
	if fp != "" {
		n.seenFingerprints[fp] = true
		n.fpOrder = append(n.fpOrder, fp)
	}
	for len(n.idOrder) > n.maxSeen {
		delete(n.seenIDs, n.idOrder[0])
		n.idOrder = n.idOrder[1:]
	}
	for len(n.fpOrder) > n.maxSeen {
		delete(n.seenFingerprints, n.fpOrder[0])
		n.fpOrder = n.fpOrder[1:]
	}
}
