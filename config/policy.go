package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Policy holds the tunable heuristics: classifier keywords and confidence weights.
type Policy struct {
	Keywords   []string         `yaml:"keywords"`
	Confidence ConfidencePolicy `yaml:"confidence"`
}

type ConfidencePolicy struct {
	Version        string  `yaml:"version"`
	RequiredWeight float64 `yaml:"required_weight"`
	OptionalWeight float64 `yaml:"optional_weight"`
	PerItemBonus   float64 `yaml:"per_item_bonus"`
	MaxItemBonus   float64 `yaml:"max_item_bonus"`
	Ceiling        float64 `yaml:"ceiling"`
}

// LoadPolicy reads the YAML policy file. An empty path yields a zero Policy, consumers
// fall back to their built-in defaults for every unset field.
func LoadPolicy(path string) (*Policy, error) {
	policy := &Policy{}
	if path == "" {
		return policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read policy file %s", path)
	}
	if err := yaml.Unmarshal(data, policy); err != nil {
		return nil, errors.Wrapf(err, "failed to parse policy file %s", path)
	}
	if policy.Confidence.Ceiling < 0 || policy.Confidence.Ceiling > 1 {
		return nil, errors.Errorf("confidence ceiling must be within [0,1], got %v", policy.Confidence.Ceiling)
	}

	return policy, nil
}
