package rules

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// ruleSchema constrains rule files at compile time, before Go-side
// validation runs. Authoring errors surface with CUE positions instead
// of opaque decode failures.
const ruleSchema = `
#When: {
	signal_kinds?: [...string]
	threat_in?: [...string]
	zone_types?: [...string]
	judge_in?: [...string]
	required_gates?: [...string]
	min_confidence?: int & >=0 & <=100
	min_hard_count?: int & >=0
	min_soft_count?: int & >=0
}

#Then: {
	dimension: "threat" | "workflow"
	to:        string
	reason:    string
	dwell_ms?:       int & >=0
	gated_dwell_ms?: int & >=0
	accel_gates?: [...string]
}

#Rule: {
	id:       string & !=""
	version:  int & >0
	priority: int
	when:  #When
	then:  #Then
}

registry: {
	version: string & !=""
	rules: [...#Rule]
	canary_pct?: int & >=0 & <=100
	canary?: [...#Rule]
}
`

type compiledRegistry struct {
	Version   string `json:"version"`
	Rules     []Rule `json:"rules"`
	CanaryPct int64  `json:"canary_pct"`
	Canary    []Rule `json:"canary"`
}

// CompileRules compiles a CUE rule file into a validated snapshot plus
// an optional canary snapshot. The CUE source must define a `registry`
// struct conforming to the embedded schema.
func CompileRules(source []byte) (active *Snapshot, canary *Snapshot, canaryPct int64, err error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(ruleSchema)
	if schema.Err() != nil {
		return nil, nil, 0, fmt.Errorf("compile rule schema: %w", schema.Err())
	}

	val := ctx.CompileBytes(source, cue.Scope(schema))
	if val.Err() != nil {
		return nil, nil, 0, fmt.Errorf("compile rules: %s", cueerrors.Details(val.Err(), nil))
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return nil, nil, 0, fmt.Errorf("validate rules: %s", cueerrors.Details(err, nil))
	}

	reg := unified.LookupPath(cue.ParsePath("registry"))
	if !reg.Exists() {
		return nil, nil, 0, fmt.Errorf("rule file missing registry struct")
	}

	var out compiledRegistry
	if err := reg.Decode(&out); err != nil {
		return nil, nil, 0, fmt.Errorf("decode registry: %s", cueerrors.Details(err, nil))
	}

	active, err = NewSnapshot(out.Version, out.Rules)
	if err != nil {
		return nil, nil, 0, err
	}
	if len(out.Canary) > 0 {
		canary, err = NewSnapshot(out.Version+"-canary", out.Canary)
		if err != nil {
			return nil, nil, 0, err
		}
	}
	return active, canary, out.CanaryPct, nil
}
