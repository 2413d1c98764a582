package harness

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wardenhq/warden/internal/envelope"
)

// Scenario is a recorded-signal conformance case: a signal stream, an
// optional command stream, and assertions over the resulting incident
// and transition trace.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what behavior the scenario pins down.
	Description string `yaml:"description"`

	// Rules optionally replaces the shipped base rule set with an
	// inline CUE source.
	Rules string `yaml:"rules,omitempty"`

	// Signals is the ingest stream, in delivery order.
	Signals []SignalStep `yaml:"signals"`

	// Commands are applied interleaved with signals by at_ms; a command
	// tied with a signal applies after it.
	Commands []CommandStep `yaml:"commands,omitempty"`

	// Assertions validate the final incident state and the trace.
	Assertions []Assertion `yaml:"assertions"`
}

// SignalStep is one raw signal delivery.
type SignalStep struct {
	ID         string `yaml:"id"`
	Kind       string `yaml:"kind"`
	Source     string `yaml:"source"`
	Home       string `yaml:"home"`
	Zone       string `yaml:"zone,omitempty"`
	ZoneType   string `yaml:"zone_type,omitempty"`
	EntryPoint string `yaml:"entry_point,omitempty"`
	Device     string `yaml:"device,omitempty"`
	CameraRole string `yaml:"camera_role,omitempty"`
	SubjectID  string `yaml:"subject_id,omitempty"`
	Confidence int64  `yaml:"confidence,omitempty"`
	AtMS       int64  `yaml:"at_ms"`
}

// Signal converts the step to an envelope.
func (s SignalStep) Signal() *envelope.Signal {
	return &envelope.Signal{
		ID:         s.ID,
		Source:     envelope.Source(s.Source),
		Kind:       envelope.Kind(s.Kind),
		HomeID:     s.Home,
		Zone:       s.Zone,
		ZoneType:   envelope.ZoneType(s.ZoneType),
		EntryPoint: s.EntryPoint,
		DeviceID:   s.Device,
		CameraRole: envelope.CameraRole(s.CameraRole),
		SubjectID:  s.SubjectID,
		Confidence: s.Confidence,
		DeviceMS:   s.AtMS,
		IngestMS:   s.AtMS,
	}
}

// CommandStep is one external mutation. Incident-scoped commands target
// the home's single open incident; scenarios with command steps must
// not fan out to multiple incidents.
type CommandStep struct {
	ID            string `yaml:"id"`
	Type          string `yaml:"type"`
	Home          string `yaml:"home"`
	Authenticated bool   `yaml:"authenticated,omitempty"`
	AtMS          int64  `yaml:"at_ms"`
}

// Assertion is one check on the outcome. Type selects the check:
//
//	threat       final threat state of the open (or last) incident
//	workflow     final workflow label, sub-phase qualified
//	judge        final judge state
//	open         whether an incident is still open ("true"/"false")
//	tag          incident tags contain the value
//	trace_count  total number of transition records
type Assertion struct {
	Type  string `yaml:"type"`
	Value string `yaml:"value"`
}

// LoadScenario reads and validates one scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load scenario: %w", err)
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("load scenario %s: %w", path, err)
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return &sc, nil
}

// Validate checks the scenario's shape before running it.
func (sc *Scenario) Validate() error {
	if sc.Name == "" {
		return fmt.Errorf("missing name")
	}
	if len(sc.Signals) == 0 {
		return fmt.Errorf("no signals")
	}
	for i, s := range sc.Signals {
		if s.ID == "" {
			return fmt.Errorf("signal %d: missing id", i)
		}
		if !envelope.KnownKind(envelope.Kind(s.Kind)) {
			return fmt.Errorf("signal %s: unknown kind %q", s.ID, s.Kind)
		}
		if s.AtMS <= 0 {
			return fmt.Errorf("signal %s: at_ms must be positive", s.ID)
		}
	}
	for i, c := range sc.Commands {
		if c.ID == "" {
			return fmt.Errorf("command %d: missing id", i)
		}
		if c.Type == "" {
			return fmt.Errorf("command %s: missing type", c.ID)
		}
	}
	return nil
}
