package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Policy is the scheduling policy: slot capacity per office and the services
// that always get the priority lane.
type Policy struct {
	DefaultCapacity  int                     `yaml:"default_capacity"`
	Offices          map[string]OfficePolicy `yaml:"offices"`
	PriorityServices []PriorityRule          `yaml:"priority_services"`
}

type OfficePolicy struct {
	Capacity int `yaml:"capacity"`
}

// PriorityRule matches a service name in one office, or in all offices when
// Office is "*" or empty.
type PriorityRule struct {
	Office  string `yaml:"office"`
	Service string `yaml:"service"`
}

// LoadPolicy reads the YAML policy at path. An empty path yields a policy
// with only the default capacity.
func LoadPolicy(path string, defaultCapacity int) (Policy, error) {
	policy := Policy{DefaultCapacity: defaultCapacity}
	if path == "" {
		return policy, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy: %w", err)
	}
	if err := yaml.Unmarshal(raw, &policy); err != nil {
		return Policy{}, fmt.Errorf("parse policy %s: %w", path, err)
	}
	if policy.DefaultCapacity <= 0 {
		policy.DefaultCapacity = defaultCapacity
	}
	for office, override := range policy.Offices {
		if override.Capacity < 0 {
			return Policy{}, fmt.Errorf("policy: negative capacity for office %q", office)
		}
	}
	for i, rule := range policy.PriorityServices {
		if strings.TrimSpace(rule.Service) == "" {
			return Policy{}, fmt.Errorf("policy: priority rule %d has no service", i)
		}
	}
	return policy, nil
}

// Capacity returns the per-hour limit for office. Office names match
// exactly, the same way the stores bucket slots.
func (p Policy) Capacity(office string) int {
	if override, ok := p.Offices[office]; ok && override.Capacity > 0 {
		return override.Capacity
	}
	return p.DefaultCapacity
}

func (p Policy) IsPriority(office, service string) bool {
	service = strings.TrimSpace(service)
	for _, rule := range p.PriorityServices {
		if rule.Office != "" && rule.Office != "*" && rule.Office != office {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(rule.Service), service) {
			return true
		}
	}
	return false
}
