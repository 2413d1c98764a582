package envelope

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity. The version suffix
// allows the hash layout to change without colliding with old records.
const (
	DomainSignal     = "warden/signal/v1"
	DomainTransition = "warden/transition/v1"
	DomainEvidence   = "warden/evidence/v1"
	DomainIncident   = "warden/incident/v1"
)

// HashWithDomain computes SHA-256 with domain separation. The null-byte
// separator prevents domain/data boundary ambiguity.
func HashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint computes the content-addressed fingerprint of a signal.
// Two deliveries of the same physical signal produce the same
// fingerprint even when the feed assigns fresh delivery ids, which lets
// the deduper absorb at-least-once redelivery.
func Fingerprint(s *Signal) (string, error) {
	obj := AttrObject{
		"kind":      AttrString(string(s.Kind)),
		"home_id":   AttrString(s.HomeID),
		"zone":      AttrString(s.Zone),
		"device_id": AttrString(s.DeviceID),
		"device_ms": AttrInt(s.DeviceMS),
	}
	if s.EntryPoint != "" {
		obj["entry_point"] = AttrString(s.EntryPoint)
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("fingerprint: marshal: %w", err)
	}
	return HashWithDomain(DomainSignal, canonical), nil
}
