package config

import (
	"fmt"

	"github.com/polisai/kvcopy/pkg/directive"
	"github.com/polisai/kvcopy/pkg/domain"
	"github.com/polisai/kvcopy/pkg/transform"
)

// KeyTransform names a registered transform inside a directive.
const KeyTransform = "transform"

// StageConfigs converts the stage specs into engine configurations, resolving
// named transforms through registry.
func (c *Config) StageConfigs(registry *transform.Registry) ([]domain.StageConfig, error) {
	out := make([]domain.StageConfig, 0, len(c.Stages))
	for i, spec := range c.Stages {
		stage, err := spec.ToDomain(registry)
		if err != nil {
			return nil, fmt.Errorf("stages[%d] %q: %w", i, spec.ID, err)
		}
		out = append(out, stage)
	}
	return out, nil
}

// ToDomain converts the stage into an engine configuration. Directive
// candidates are copied, never modified in place.
func (s StageSpec) ToDomain(registry *transform.Registry) (domain.StageConfig, error) {
	if registry == nil {
		registry = transform.Default()
	}

	directives, err := resolveTransforms(s.Directives, registry)
	if err != nil {
		return domain.StageConfig{}, err
	}

	return domain.StageConfig{
		ID:         s.ID,
		Match:      s.Match,
		Directives: directives,
	}, nil
}

func resolveTransforms(raw any, registry *transform.Registry) (any, error) {
	switch v := raw.(type) {
	case map[string]any:
		return resolveCandidate(0, v, registry)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			candidate, ok := item.(map[string]any)
			if !ok {
				// Left for directive validation to report.
				out[i] = item
				continue
			}
			resolved, err := resolveCandidate(i, candidate, registry)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return raw, nil
	}
}

func resolveCandidate(idx int, candidate map[string]any, registry *transform.Registry) (map[string]any, error) {
	rawName, ok := candidate[KeyTransform]
	if !ok {
		return candidate, nil
	}

	name, ok := rawName.(string)
	if !ok {
		return nil, fmt.Errorf("%w: directive %d: transform must be a string", domain.ErrConfigInvalid, idx)
	}
	if _, hasFn := candidate[directive.KeyFn]; hasFn {
		return nil, fmt.Errorf("%w: directive %d: transform and fn are mutually exclusive", domain.ErrConfigInvalid, idx)
	}
	fn, ok := registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: directive %d: unknown transform %q (known: %v)", domain.ErrConfigInvalid, idx, name, registry.Names())
	}

	resolved := make(map[string]any, len(candidate))
	for k, v := range candidate {
		if k == KeyTransform {
			continue
		}
		resolved[k] = v
	}
	resolved[directive.KeyFn] = fn
	return resolved, nil
}
