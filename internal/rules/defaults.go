package rules

// DefaultRuleSource is the base rule set shipped with the engine,
// authored in CUE and compiled through the same path as pushed rule
// files. Priorities: safety > boundary > tamper > soft escalation.
const DefaultRuleSource = `
registry: {
	version: "base-1"
	rules: [
		{
			id:       "safety-immediate-trigger"
			version:  1
			priority: 1000
			when: {
				signal_kinds: ["safety.fire", "safety.co", "glass.break", "tamper.confirmed"]
			}
			then: {
				dimension: "threat"
				to:        "triggered"
				reason:    "hard_safety_signal"
			}
		},
		{
			id:       "boundary-open-pending"
			version:  1
			priority: 900
			when: {
				signal_kinds: ["boundary.open"]
				threat_in: ["none", "suspected", "elevated"]
				zone_types: ["entry", "perimeter"]
			}
			then: {
				dimension: "threat"
				to:        "pending"
				reason:    "boundary_open_armed"
			}
		},
		{
			id:       "tamper-verify"
			version:  1
			priority: 800
			when: {
				signal_kinds: ["tamper.suspected"]
				threat_in: ["none", "suspected", "elevated"]
			}
			then: {
				dimension: "workflow"
				to:        "verifying"
				reason:    "tamper_suspected"
			}
		},
		{
			id:       "soft-first-detection"
			version:  1
			priority: 500
			when: {
				signal_kinds: ["motion", "person.detected", "subject.enter"]
				threat_in: ["none"]
			}
			then: {
				dimension: "threat"
				to:        "suspected"
				reason:    "soft_detection"
			}
		},
		{
			id:       "soft-corroborated-elevate"
			version:  1
			priority: 400
			when: {
				signal_kinds: ["motion", "person.detected"]
				threat_in: ["suspected"]
				judge_in: ["available"]
				min_soft_count: 3
			}
			then: {
				dimension: "threat"
				to:        "elevated"
				reason:    "soft_corroborated"
				dwell_ms:       60000
				gated_dwell_ms: 20000
				accel_gates: ["subject_in_yard"]
			}
		},
	]
}
`

// DefaultSnapshot compiles the shipped base rules. Panics on error: the
// embedded source is compiled in tests and must always be valid.
func DefaultSnapshot() *Snapshot {
	snap, _, _, err := CompileRules([]byte(DefaultRuleSource))
	if err != nil {
		panic("invalid embedded rule source: " + err.Error())
	}
	return snap
}
