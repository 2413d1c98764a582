package cli

import (
	"log/slog"

	"github.com/wardenhq/warden/internal/rules"
)

// buildRegistry compiles a CUE rule source into a registry, installing
// the canary block when present. Empty source means the shipped base
// rules.
func buildRegistry(source []byte, logger *slog.Logger) (*rules.Registry, error) {
	if len(source) == 0 {
		source = []byte(rules.DefaultRuleSource)
	}
	active, canary, canaryPct, err := rules.CompileRules(source)
	if err != nil {
		return nil, err
	}
	registry := rules.NewRegistry(active, logger)
	if canary != nil {
		if err := registry.SetCanary(canary, canaryPct); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
