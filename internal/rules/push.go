package rules

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// PushMode selects full or partial rule-set replacement.
type PushMode string

const (
	PushFull    PushMode = "full"
	PushPartial PushMode = "partial"
)

// Push is the management-plane payload for a rule-set update. Either
// mode results in one atomic snapshot swap; a partial push merges over
// the active snapshot by rule id before building the new snapshot.
type Push struct {
	Version   string   `yaml:"version"`
	Mode      PushMode `yaml:"mode"`
	Rules     []Rule   `yaml:"rules"`
	CanaryPct int64    `yaml:"canary_pct,omitempty"`
	Canary    []Rule   `yaml:"canary,omitempty"`
}

// DecodePush parses a YAML push payload.
func DecodePush(payload []byte) (*Push, error) {
	var p Push
	if err := yaml.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode rule push: %w", err)
	}
	if p.Mode == "" {
		p.Mode = PushFull
	}
	if p.Mode != PushFull && p.Mode != PushPartial {
		return nil, fmt.Errorf("decode rule push: unknown mode %q", p.Mode)
	}
	return &p, nil
}

// ApplyPush validates and applies a push. A rejected push leaves the
// registry on its last-known-good snapshot and returns the validation
// error; nothing is partially applied.
func (r *Registry) ApplyPush(p *Push) error {
	var merged []Rule
	switch p.Mode {
	case PushPartial:
		current := r.Active().Rules()
		replaced := make(map[string]Rule, len(p.Rules))
		for _, rule := range p.Rules {
			replaced[rule.ID] = rule
		}
		for _, rule := range current {
			if nr, ok := replaced[rule.ID]; ok {
				merged = append(merged, nr)
				delete(replaced, rule.ID)
				continue
			}
			merged = append(merged, rule)
		}
		for _, rule := range p.Rules {
			if _, pending := replaced[rule.ID]; pending {
				merged = append(merged, rule)
			}
		}
	default:
		merged = p.Rules
	}

	next, err := NewSnapshot(p.Version, merged)
	if err != nil {
		r.logger.Warn("rule push rejected, keeping last known good",
			"push_version", p.Version,
			"active_version", r.Active().Version,
			"error", err,
		)
		return fmt.Errorf("rule push %s rejected: %w", p.Version, err)
	}

	if len(p.Canary) > 0 {
		canarySnap, err := NewSnapshot(p.Version+"-canary", p.Canary)
		if err != nil {
			r.logger.Warn("canary push rejected, keeping last known good",
				"push_version", p.Version,
				"error", err,
			)
			return fmt.Errorf("canary push %s rejected: %w", p.Version, err)
		}
		if err := r.SetCanary(canarySnap, p.CanaryPct); err != nil {
			return fmt.Errorf("canary push %s rejected: %w", p.Version, err)
		}
	} else if p.CanaryPct == 0 {
		_ = r.SetCanary(nil, 0)
	}

	r.Swap(next)
	return nil
}
