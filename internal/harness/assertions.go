package harness

import (
	"fmt"
	"strconv"

	"github.com/wardenhq/warden/internal/incident"
)

// Check evaluates every assertion in the scenario against the outcome.
// Incident-state assertions (threat, workflow, judge, tag) target the
// run's single incident; scenarios asserting on state must not fan out.
func Check(sc *Scenario, out *Outcome) error {
	for i, a := range sc.Assertions {
		if err := checkOne(a, out); err != nil {
			return fmt.Errorf("assertion %d (%s=%s): %w", i, a.Type, a.Value, err)
		}
	}
	return nil
}

func checkOne(a Assertion, out *Outcome) error {
	switch a.Type {
	case "threat":
		inc, err := soleIncident(out)
		if err != nil {
			return err
		}
		if string(inc.Threat) != a.Value {
			return fmt.Errorf("threat is %s", inc.Threat)
		}
	case "workflow":
		inc, err := soleIncident(out)
		if err != nil {
			return err
		}
		if got := workflowLabel(inc); got != a.Value {
			return fmt.Errorf("workflow is %s", got)
		}
	case "judge":
		inc, err := soleIncident(out)
		if err != nil {
			return err
		}
		if string(inc.Judge) != a.Value {
			return fmt.Errorf("judge is %s", inc.Judge)
		}
	case "tag":
		inc, err := soleIncident(out)
		if err != nil {
			return err
		}
		if !hasTag(inc, a.Value) {
			return fmt.Errorf("tags are %v", inc.Tags)
		}
	case "open":
		want, err := strconv.ParseBool(a.Value)
		if err != nil {
			return fmt.Errorf("open wants true or false: %w", err)
		}
		if got := len(out.Open) > 0; got != want {
			return fmt.Errorf("%d incidents open", len(out.Open))
		}
	case "trace_count":
		want, err := strconv.Atoi(a.Value)
		if err != nil {
			return fmt.Errorf("trace_count wants an integer: %w", err)
		}
		if len(out.Records) != want {
			return fmt.Errorf("trace has %d records", len(out.Records))
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

func soleIncident(out *Outcome) (*incident.Incident, error) {
	switch len(out.Incidents) {
	case 0:
		return nil, fmt.Errorf("no incident was created")
	case 1:
		for _, inc := range out.Incidents {
			return inc, nil
		}
	}
	return nil, fmt.Errorf("%d incidents were created, state assertions need exactly one", len(out.Incidents))
}

func workflowLabel(inc *incident.Incident) string {
	if inc.SubPhase == "" {
		return string(inc.Workflow)
	}
	return string(inc.Workflow) + "/" + string(inc.SubPhase)
}

func hasTag(inc *incident.Incident, tag string) bool {
	for _, t := range inc.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
