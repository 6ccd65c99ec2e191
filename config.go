package guard

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// ============================================================================
// CONFIGURATION
// ============================================================================

// Config is the declarative form of an engine's entire state: roles,
// subjects, resources, policies and engine tuning. It loads from YAML or
// JSON and round-trips back out for inspection tooling.
type Config struct {
	Version   int                `json:"version" yaml:"version"`
	Roles     []*Role            `json:"roles" yaml:"roles"`
	Subjects  []*Subject         `json:"subjects" yaml:"subjects"`
	Resources []*Resource        `json:"resources" yaml:"resources"`
	Policies  []*AttributePolicy `json:"policies" yaml:"policies"`
	Engine    EngineConfig       `json:"engine" yaml:"engine"`
}

type EngineConfig struct {
	DecisionCacheTTL       int64    `json:"decision_cache_ttl_ms" yaml:"decision_cache_ttl_ms"`
	RistrettoNumCounter    int64    `json:"ristretto_num_counter" yaml:"ristretto_num_counter"`
	RistrettoMaxCost       int64    `json:"ristretto_max_cost" yaml:"ristretto_max_cost"`
	RistrettoBuffer        int64    `json:"ristretto_buffer" yaml:"ristretto_buffer"`
	SensitiveResourceTypes []string `json:"sensitive_resource_types" yaml:"sensitive_resource_types"`
	ElevatedActions        []string `json:"elevated_actions" yaml:"elevated_actions"`
	RiskThreshold          float64  `json:"risk_threshold" yaml:"risk_threshold"`
	RiskTimeout            int64    `json:"risk_timeout_ms" yaml:"risk_timeout_ms"`
	RiskFailMode           string   `json:"risk_fail_mode" yaml:"risk_fail_mode"` // "open" or "closed"
	AuditBuffer            int      `json:"audit_buffer" yaml:"audit_buffer"`
}

// Options translates the engine tuning into constructor options, for
// building an engine directly from a loaded config. AuditBuffer sizes
// the audit channel, which exists only at construction; it is the one
// field ApplyConfig cannot apply to a running engine.
func (c EngineConfig) Options() []Option {
	opts := make([]Option, 0, 8)
	if c.DecisionCacheTTL > 0 {
		opts = append(opts, WithDecisionCacheTTL(time.Duration(c.DecisionCacheTTL)*time.Millisecond))
	}
	if c.RiskThreshold > 0 {
		opts = append(opts, WithRiskThreshold(c.RiskThreshold))
	}
	if c.RiskTimeout > 0 {
		opts = append(opts, WithRiskTimeout(time.Duration(c.RiskTimeout)*time.Millisecond))
	}
	if c.RiskFailMode != "" {
		opts = append(opts, WithRiskFailClosed(c.RiskFailMode == "closed"))
	}
	if c.AuditBuffer > 0 {
		opts = append(opts, WithAuditBuffer(c.AuditBuffer))
	}
	if len(c.SensitiveResourceTypes) > 0 {
		opts = append(opts, WithSensitiveResourceTypes(c.SensitiveResourceTypes...))
	}
	if len(c.ElevatedActions) > 0 {
		actions := make([]Action, len(c.ElevatedActions))
		for i, a := range c.ElevatedActions {
			actions[i] = Action(a)
		}
		opts = append(opts, WithElevatedActions(actions...))
	}
	return opts
}

// ConfigLoader loads configuration from supported formats.
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ToYAML exports config to YAML.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ToJSON exports config to JSON.
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Validate checks the config standalone, without an engine: role graph
// integrity, policy shapes and condition syntax. Used by guardctl before
// a config is shipped anywhere.
func (c *Config) Validate() error {
	known := make(map[string]bool, len(c.Roles))
	for _, r := range c.Roles {
		if r.Name == "" {
			return configErrf("role with empty name")
		}
		if known[r.Name] {
			return configErrf("duplicate role %q", r.Name)
		}
		known[r.Name] = true
	}
	for _, r := range c.Roles {
		for _, parent := range r.Parents {
			if !known[parent] {
				return configErrf("role %q inherits unknown role %q", r.Name, parent)
			}
		}
	}
	if err := detectConfigCycles(c.Roles); err != nil {
		return err
	}

	subjects := make(map[string]bool, len(c.Subjects))
	for _, s := range c.Subjects {
		if subjects[s.ID] {
			return configErrf("duplicate subject %q", s.ID)
		}
		subjects[s.ID] = true
		for _, role := range s.Roles {
			if !known[role] {
				return configErrf("subject %q references unknown role %q", s.ID, role)
			}
		}
	}

	resources := make(map[string]bool, len(c.Resources))
	for _, r := range c.Resources {
		if resources[r.ID] {
			return configErrf("duplicate resource %q", r.ID)
		}
		resources[r.ID] = true
	}

	policies := make(map[string]bool, len(c.Policies))
	for _, p := range c.Policies {
		if policies[p.ID] {
			return configErrf("duplicate policy %q", p.ID)
		}
		policies[p.ID] = true
		if err := validatePolicy(p); err != nil {
			return err
		}
		if _, err := ParseCondition(p.Condition); err != nil {
			return configErrf("policy %q condition: %v", p.ID, err)
		}
	}
	return nil
}

// detectConfigCycles runs the same coloring walk as role creation, but
// over the in-memory config graph.
func detectConfigCycles(roles []*Role) error {
	byName := make(map[string]*Role, len(roles))
	for _, r := range roles {
		byName[r.Name] = r
	}
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(roles))
	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case grey:
			return configErrf("role hierarchy cycle through %q", name)
		case black:
			return nil
		}
		color[name] = grey
		if r := byName[name]; r != nil {
			for _, parent := range r.Parents {
				if err := visit(parent); err != nil {
					return err
				}
			}
		}
		color[name] = black
		return nil
	}
	for _, r := range roles {
		if err := visit(r.Name); err != nil {
			return err
		}
	}
	return nil
}

// ApplyConfig loads a validated config into the engine: tuning first,
// then roles in dependency order, subjects, resources and policies.
// Already-present entries are left in place. Construction-only tuning
// (AuditBuffer) is applied through EngineConfig.Options instead.
func (e *Engine) ApplyConfig(ctx context.Context, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.Engine.DecisionCacheTTL > 0 {
		e.mu.Lock()
		e.cacheTTL = time.Duration(cfg.Engine.DecisionCacheTTL) * time.Millisecond
		e.mu.Unlock()
	}
	if cfg.Engine.RiskThreshold > 0 {
		e.mu.Lock()
		e.riskThreshold = cfg.Engine.RiskThreshold
		e.mu.Unlock()
	}
	if cfg.Engine.RiskTimeout > 0 {
		e.mu.Lock()
		e.riskTimeout = time.Duration(cfg.Engine.RiskTimeout) * time.Millisecond
		e.mu.Unlock()
	}
	if cfg.Engine.RiskFailMode != "" {
		e.mu.Lock()
		e.riskFailClosed = cfg.Engine.RiskFailMode == "closed"
		e.mu.Unlock()
	}
	if cfg.Engine.RistrettoNumCounter > 0 && cfg.Engine.RistrettoMaxCost > 0 {
		buffer := cfg.Engine.RistrettoBuffer
		if buffer <= 0 {
			buffer = 64
		}
		cache, err := NewRistrettoDecisionCache(cfg.Engine.RistrettoNumCounter, cfg.Engine.RistrettoMaxCost, buffer)
		if err != nil {
			return configErrf("ristretto cache: %v", err)
		}
		e.mu.Lock()
		e.cache = cache
		e.mu.Unlock()
	}
	if len(cfg.Engine.SensitiveResourceTypes) > 0 || len(cfg.Engine.ElevatedActions) > 0 {
		e.mu.Lock()
		for _, t := range cfg.Engine.SensitiveResourceTypes {
			e.sensitiveTypes[t] = true
		}
		for _, a := range cfg.Engine.ElevatedActions {
			e.elevatedActions[Action(a)] = true
		}
		e.mu.Unlock()
	}

	for _, r := range sortRolesByDependency(cfg.Roles) {
		if _, err := e.roles.GetRole(ctx, r.Name); err == nil {
			continue
		}
		if err := e.CreateRole(ctx, r); err != nil {
			return fmt.Errorf("create role %s: %w", r.Name, err)
		}
	}
	for _, s := range cfg.Subjects {
		if _, err := e.subjects.GetSubject(ctx, s.ID); err == nil {
			continue
		}
		if err := e.CreateSubject(ctx, s); err != nil {
			return fmt.Errorf("create subject %s: %w", s.ID, err)
		}
	}
	for _, r := range cfg.Resources {
		if _, err := e.resources.GetResource(ctx, r.ID); err == nil {
			continue
		}
		if err := e.CreateResource(ctx, r); err != nil {
			return fmt.Errorf("create resource %s: %w", r.ID, err)
		}
	}
	for _, p := range cfg.Policies {
		if _, err := e.policies.GetPolicy(ctx, p.ID); err == nil {
			continue
		}
		if err := e.CreatePolicy(ctx, p); err != nil {
			return fmt.Errorf("create policy %s: %w", p.ID, err)
		}
	}
	return nil
}

// sortRolesByDependency orders roles parents-first so creation-time
// graph validation never sees a forward reference.
func sortRolesByDependency(roles []*Role) []*Role {
	byName := make(map[string]*Role, len(roles))
	for _, r := range roles {
		byName[r.Name] = r
	}
	out := make([]*Role, 0, len(roles))
	placed := make(map[string]bool, len(roles))
	var place func(r *Role)
	place = func(r *Role) {
		if placed[r.Name] {
			return
		}
		placed[r.Name] = true
		for _, parent := range r.Parents {
			if p := byName[parent]; p != nil {
				place(p)
			}
		}
		out = append(out, r)
	}
	for _, r := range roles {
		place(r)
	}
	return out
}
