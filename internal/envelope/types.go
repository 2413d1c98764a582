package envelope

// Source classifies where a signal originated.
type Source string

const (
	// SourceHardware is a physical sensor reading (contact, motion, camera).
	SourceHardware Source = "hardware"
	// SourceHealth is a sensor liveness report (heartbeat, battery).
	SourceHealth Source = "health"
	// SourceContext is a short-lived context observation (subject seen in
	// yard, subject at threshold). Context signals only ever arm context
	// gates; they never advance threat state directly.
	SourceContext Source = "context"
)

// Kind is the closed set of signal kinds the engine accepts. Unknown
// kinds are rejected at the ingestion boundary, not coerced.
type Kind string

const (
	KindBoundaryOpen    Kind = "boundary.open"
	KindBoundaryClose   Kind = "boundary.close"
	KindGlassBreak      Kind = "glass.break"
	KindFire            Kind = "safety.fire"
	KindCO              Kind = "safety.co"
	KindTamper          Kind = "tamper.suspected"
	KindTamperConfirmed Kind = "tamper.confirmed"
	KindMotion          Kind = "motion"
	KindPersonDetected  Kind = "person.detected"
	KindSubjectEnter    Kind = "subject.enter"
	KindSubjectExit     Kind = "subject.exit"
	KindHeartbeat       Kind = "health.heartbeat"
	KindSubjectInYard   Kind = "context.subject_in_yard"
	KindSubjectAtDoor   Kind = "context.subject_at_threshold"
)

// Hardness tags a signal's assurance level. Hard signals are never
// dropped, sampled, or suppressed by debounce; soft signals are
// eligible for all three.
type Hardness string

const (
	HardnessSoft Hardness = "soft"
	HardnessHard Hardness = "hard"
)

// CameraRole distinguishes the designated primary judge for a zone from
// corroborating witnesses. Primary assignment lives in a per-zone lease
// table, not on camera objects.
type CameraRole string

const (
	RoleNone    CameraRole = ""
	RolePrimary CameraRole = "primary"
	RoleWitness CameraRole = "witness"
)

// ZoneType categorizes the spatial reference for rule matching.
type ZoneType string

const (
	ZonePerimeter ZoneType = "perimeter"
	ZoneEntry     ZoneType = "entry"
	ZoneInterior  ZoneType = "interior"
)

// Signal is the canonical envelope every raw signal is normalized into.
// Immutable once ingested. ID is the idempotency key; IngestMS is the
// authoritative ordering timestamp (logical milliseconds), DeviceMS is
// advisory only.
type Signal struct {
	ID           string     `json:"id"`
	Source       Source     `json:"source"`
	Kind         Kind       `json:"kind"`
	Hardness     Hardness   `json:"hardness"`
	HomeID       string     `json:"home_id"`
	Zone         string     `json:"zone"`
	ZoneType     ZoneType   `json:"zone_type"`
	EntryPoint   string     `json:"entry_point,omitempty"`
	Confidence   int64      `json:"confidence"` // 0-100, integer by construction
	DeviceMS     int64      `json:"device_ms"`
	IngestMS     int64      `json:"ingest_ms"`
	DeviceID     string     `json:"device_id"`
	CameraRole   CameraRole `json:"camera_role,omitempty"`
	SubjectID    string     `json:"subject_id,omitempty"`
	Attrs        AttrObject `json:"attrs,omitempty"`
	EvidenceRefs []string   `json:"evidence_refs,omitempty"`

	// Seq is the logical clock stamp assigned by the engine at ingest.
	// Zero until the signal passes normalization.
	Seq int64 `json:"seq"`
}

// kindInfo drives boundary validation: which source class and hardness a
// kind requires, and which debounce class applies.
type kindInfo struct {
	source     Source
	hardness   Hardness
	safety     bool // never suppressed by debounce, only de-duplicated
	contact    bool // subject to contact-bounce sustain windows
	contextTag bool // arms a context gate instead of feeding correlation
}

var kindTable = map[Kind]kindInfo{
	KindBoundaryOpen:    {source: SourceHardware, hardness: HardnessHard, contact: true},
	KindBoundaryClose:   {source: SourceHardware, hardness: HardnessHard, contact: true},
	KindGlassBreak:      {source: SourceHardware, hardness: HardnessHard, safety: true},
	KindFire:            {source: SourceHardware, hardness: HardnessHard, safety: true},
	KindCO:              {source: SourceHardware, hardness: HardnessHard, safety: true},
	KindTamper:          {source: SourceHardware, hardness: HardnessSoft},
	KindTamperConfirmed: {source: SourceHardware, hardness: HardnessHard, safety: true},
	KindMotion:          {source: SourceHardware, hardness: HardnessSoft},
	KindPersonDetected:  {source: SourceHardware, hardness: HardnessSoft},
	KindSubjectEnter:    {source: SourceHardware, hardness: HardnessSoft},
	KindSubjectExit:     {source: SourceHardware, hardness: HardnessSoft},
	KindHeartbeat:       {source: SourceHealth, hardness: HardnessSoft},
	KindSubjectInYard:   {source: SourceContext, hardness: HardnessSoft, contextTag: true},
	KindSubjectAtDoor:   {source: SourceContext, hardness: HardnessSoft, contextTag: true},
}

// KnownKind reports whether k belongs to the closed kind set.
func KnownKind(k Kind) bool {
	_, ok := kindTable[k]
	return ok
}

// IsSafety reports whether k is a safety-critical kind that debounce may
// only de-duplicate, never suppress.
func IsSafety(k Kind) bool {
	return kindTable[k].safety
}

// IsContact reports whether k is a contact (boundary) kind subject to
// sustain-window debounce.
func IsContact(k Kind) bool {
	return kindTable[k].contact
}

// IsContextKind reports whether k arms a context gate.
func IsContextKind(k Kind) bool {
	return kindTable[k].contextTag
}

// IsHard reports whether the signal carries a hard assurance tag.
func (s *Signal) IsHard() bool {
	return s.Hardness == HardnessHard
}
