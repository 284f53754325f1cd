package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/georgepadayatti/sigvalidate/sign/ades"
	"github.com/georgepadayatti/sigvalidate/sign/validation"
)

type policyDocument struct {
	Name        string                            `yaml:"name"`
	Corroborate []string                          `yaml:"corroborate"`
	Constraints map[string]*validation.Constraint `yaml:"constraints"`
}

// LoadPolicy reads a validation policy from a YAML file.
func LoadPolicy(filename string) (*validation.Policy, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy parses a validation policy from YAML data. An absent
// corroborate list keeps the default upgrades, an empty one disables them.
func ParsePolicy(data []byte) (*validation.Policy, error) {
	if err := validateDocument(policySchema, "policy", data); err != nil {
		return nil, err
	}
	var doc policyDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	policy := &validation.Policy{
		Name:        doc.Name,
		Constraints: doc.Constraints,
	}
	if doc.Corroborate != nil {
		policy.Corroborate = make([]ades.SubIndication, 0, len(doc.Corroborate))
		for i, s := range doc.Corroborate {
			sub, err := ades.ParseSubIndication(s)
			if err != nil {
				return nil, &ConfigError{Field: fmt.Sprintf("corroborate.%d", i), Message: err.Error(), Err: err}
			}
			policy.Corroborate = append(policy.Corroborate, sub)
		}
	}
	return policy, nil
}

// LoadPolicy returns the configured policy, or the default one when no
// policy file is set.
func (c *Config) LoadPolicy() (*validation.Policy, error) {
	if c.Policy == "" {
		return validation.DefaultPolicy(), nil
	}
	return LoadPolicy(c.Policy)
}
