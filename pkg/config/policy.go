package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/marketplace/pkg/market"
)

// Policy is the marketplace's tunable business configuration.
type Policy struct {
	Currency     string                     `yaml:"currency" json:"currency"`
	Scale        int                        `yaml:"scale" json:"scale"`
	DefaultPrice int64                      `yaml:"default_price" json:"default_price"`
	Services     []market.ServiceDefinition `yaml:"services" json:"services"`
	Categories   []string                   `yaml:"categories" json:"categories"`
	LockTTL      time.Duration              `yaml:"lock_ttl" json:"lock_ttl"`
}

// DefaultPolicy is used when no policy file is configured.
func DefaultPolicy() *Policy {
	return &Policy{
		Currency:     "USD",
		Scale:        2,
		DefaultPrice: 5000,
		Services:     market.DefaultServices(),
		Categories:   market.DefaultCategories(),
		LockTTL:      10 * time.Second,
	}
}

// LoadPolicy reads a YAML policy. Fields left out keep their defaults; an
// empty path returns DefaultPolicy.
func LoadPolicy(path string) (*Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load policy %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse policy %q: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("policy %q: %w", path, err)
	}
	return p, nil
}

// Validate checks the policy for values the engines cannot run with.
func (p *Policy) Validate() error {
	var errs []error
	if p.Currency == "" {
		errs = append(errs, errors.New("currency is required"))
	}
	if p.Scale < 0 || p.Scale > 4 {
		errs = append(errs, fmt.Errorf("scale %d out of range 0-4", p.Scale))
	}
	if p.DefaultPrice <= 0 {
		errs = append(errs, errors.New("default_price must be positive"))
	}
	if p.LockTTL <= 0 {
		errs = append(errs, errors.New("lock_ttl must be positive"))
	}
	seen := make(map[string]bool, len(p.Services))
	for _, s := range p.Services {
		if s.ID == "" || s.Name == "" {
			errs = append(errs, fmt.Errorf("service %q needs id and name", s.ID))
		}
		if seen[s.ID] {
			errs = append(errs, fmt.Errorf("duplicate service %q", s.ID))
		}
		seen[s.ID] = true
	}
	if slices.Contains(p.Categories, "") {
		errs = append(errs, errors.New("empty category name"))
	}
	return errors.Join(errs...)
}

// FormatPrice renders a minor-unit amount in the policy currency.
func (p *Policy) FormatPrice(amount int64) string {
	return p.Currency + " " + market.FormatAmount(amount, p.Scale)
}
