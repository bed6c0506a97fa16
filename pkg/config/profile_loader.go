package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/contracts"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/governor"
	"github.com/jcbdelo26/chiefaiofficer-alpha-swarm-sub004/pkg/policy"
)

// Profile is the YAML operator surface: approval policies per action type and
// governor tuning per integration.
type Profile struct {
	Policies     map[string]policy.ApprovalPolicy `yaml:"policies"`
	Defaults     IntegrationProfile               `yaml:"defaults"`
	Integrations map[string]IntegrationProfile    `yaml:"integrations"`
}

// IntegrationProfile is the YAML shape of one integration's governor tuning.
// Durations are "30s"-style strings.
type IntegrationProfile struct {
	Windows governor.WindowConfig `yaml:"windows"`
	Breaker BreakerProfile        `yaml:"breaker"`
}

// BreakerProfile mirrors governor.BreakerConfig with YAML-parseable
// durations.
type BreakerProfile struct {
	FailureThreshold  int             `yaml:"failure_threshold"`
	CoolDown          policy.Duration `yaml:"cool_down"`
	BackoffMultiplier float64         `yaml:"backoff_multiplier"`
	MaxCoolDown       policy.Duration `yaml:"max_cool_down"`
}

func (b BreakerProfile) toConfig() governor.BreakerConfig {
	cfg := governor.DefaultBreakerConfig()
	if b.FailureThreshold > 0 {
		cfg.FailureThreshold = b.FailureThreshold
	}
	if b.CoolDown > 0 {
		cfg.CoolDown = b.CoolDown.Std()
	}
	if b.BackoffMultiplier > 0 {
		cfg.BackoffMultiplier = b.BackoffMultiplier
	}
	if b.MaxCoolDown > 0 {
		cfg.MaxCoolDown = b.MaxCoolDown.Std()
	}
	return cfg
}

func (p IntegrationProfile) toConfig() governor.IntegrationConfig {
	return governor.IntegrationConfig{
		Windows: p.Windows,
		Breaker: p.Breaker.toConfig(),
	}
}

// LoadProfile reads and validates the policy profile YAML.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	return ParseProfile(data)
}

// ParseProfile parses a policy profile from raw YAML.
func ParseProfile(data []byte) (*Profile, error) {
	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	for name, p := range profile.Policies {
		if p.Kind == "" {
			continue
		}
		if _, err := policy.ParseKind(string(p.Kind)); err != nil {
			return nil, fmt.Errorf("profile policy %q: %w", name, err)
		}
	}
	return &profile, nil
}

// PolicySet builds the router's policy set from the profile.
func (p *Profile) PolicySet() *policy.Set {
	policies := make(map[contracts.ActionType]policy.ApprovalPolicy, len(p.Policies))
	for name, pol := range p.Policies {
		policies[contracts.ActionType(name)] = pol
	}
	return policy.NewSet(policies)
}

// GovernorDefaults returns the fallback integration tuning.
func (p *Profile) GovernorDefaults() governor.IntegrationConfig {
	return p.Defaults.toConfig()
}

// GovernorConfigs returns the per-integration tuning map.
func (p *Profile) GovernorConfigs() map[string]governor.IntegrationConfig {
	out := make(map[string]governor.IntegrationConfig, len(p.Integrations))
	for name, ip := range p.Integrations {
		out[name] = ip.toConfig()
	}
	return out
}
