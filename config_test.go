package guard

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/oarkflow/guard/logger"
)

const sampleConfigYAML = `
version: 1
engine:
  decision_cache_ttl_ms: 30000
  sensitive_resource_types: [SECURITY]
  elevated_actions: [DELETE]
  risk_threshold: 0.8
  risk_fail_mode: closed
roles:
  - name: operator
    permissions:
      - resource_type: SYSTEM
        action: READ
  - name: systemAdmin
    parents: [operator]
    permissions:
      - resource_type: SYSTEM
        action: WRITE
subjects:
  - id: admin-001
    type: user
    roles: [systemAdmin]
    attrs:
      location:
        country: US
resources:
  - id: sys-config
    type: SYSTEM
policies:
  - id: geoRestriction
    effect: deny
    priority: 200
    target:
      subject.location.country:
        op: notIn
        values: [US, CA, GB, DE, FR]
  - id: dormant
    effect: permit
    priority: 10
    disabled: true
    target:
      action:
        op: equals
        value: READ
`

func TestLoadYAMLAndValidate(t *testing.T) {
	loader := NewConfigLoader()
	cfg, err := loader.LoadYAML([]byte(sampleConfigYAML))
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(cfg.Roles) != 2 || len(cfg.Policies) != 2 {
		t.Fatalf("unexpected counts: %d roles, %d policies", len(cfg.Roles), len(cfg.Policies))
	}
	if !cfg.Policies[1].Disabled {
		t.Fatalf("disabled flag not parsed")
	}
	crit := cfg.Policies[0].Target["subject.location.country"]
	if crit.Op != OpNotIn || len(crit.Values) != 5 {
		t.Fatalf("target criterion not parsed: %+v", crit)
	}
}

func TestValidateRejectsBrokenConfigs(t *testing.T) {
	base := func() *Config {
		loader := NewConfigLoader()
		cfg, err := loader.LoadYAML([]byte(sampleConfigYAML))
		if err != nil {
			t.Fatalf("load yaml: %v", err)
		}
		return cfg
	}

	cfg := base()
	cfg.Roles[1].Parents = []string{"ghost"}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "unknown role") {
		t.Fatalf("expected unknown parent rejection, got %v", err)
	}

	cfg = base()
	cfg.Roles[0].Parents = []string{"systemAdmin"}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected cycle rejection, got %v", err)
	}

	cfg = base()
	cfg.Policies[0].Effect = "block"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected invalid effect rejection")
	}

	cfg = base()
	cfg.Policies[0].Condition = `resource.type >`
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected condition syntax rejection")
	}

	cfg = base()
	cfg.Subjects[0].Roles = []string{"ghost"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unknown subject role rejection")
	}
}

func TestApplyConfigEndToEnd(t *testing.T) {
	ctx := context.Background()
	loader := NewConfigLoader()
	cfg, err := loader.LoadYAML([]byte(sampleConfigYAML))
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}

	eng, err := NewEngine(
		NewMemoryRoleStore(),
		NewMemorySubjectStore(),
		NewMemoryResourceStore(),
		NewMemoryPolicyStore(),
		NewMemoryAuditStore(),
		WithLogger(logger.NewNullLogger()),
	)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer eng.Close()

	if err := eng.ApplyConfig(ctx, cfg); err != nil {
		t.Fatalf("apply config: %v", err)
	}

	dec, err := eng.CheckAccess(ctx, "admin-001", "sys-config", "WRITE", nil)
	if err != nil {
		t.Fatalf("check access: %v", err)
	}
	if !dec.Allowed() {
		t.Fatalf("expected allow from applied config, got %s (%s)", dec.Decision, dec.Reason)
	}

	// engine tuning picked up from the config
	if eng.cacheTTL.Milliseconds() != 30000 {
		t.Fatalf("cache ttl not applied: %v", eng.cacheTTL)
	}
	if !eng.riskFailClosed || eng.riskThreshold != 0.8 {
		t.Fatalf("risk settings not applied")
	}
	if !eng.sensitiveTypes["SECURITY"] || !eng.elevatedActions["DELETE"] {
		t.Fatalf("risk classification sets not applied")
	}

	// applying the same config twice is idempotent
	if err := eng.ApplyConfig(ctx, cfg); err != nil {
		t.Fatalf("re-apply config: %v", err)
	}
}

func TestEngineConfigOptionsAtConstruction(t *testing.T) {
	cfg := EngineConfig{
		DecisionCacheTTL: 15000,
		RiskThreshold:    0.6,
		RiskFailMode:     "closed",
		AuditBuffer:      8,
	}

	opts := append([]Option{WithLogger(logger.NewNullLogger())}, cfg.Options()...)
	eng, err := NewEngine(
		NewMemoryRoleStore(),
		NewMemorySubjectStore(),
		NewMemoryResourceStore(),
		NewMemoryPolicyStore(),
		NewMemoryAuditStore(),
		opts...,
	)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer eng.Close()

	if eng.cacheTTL != 15*time.Second {
		t.Fatalf("cache ttl not applied: %v", eng.cacheTTL)
	}
	if !eng.riskFailClosed || eng.riskThreshold != 0.6 {
		t.Fatalf("risk settings not applied")
	}
	// the audit channel is sized at construction only
	if got := cap(eng.dispatcher.ch); got != 8 {
		t.Fatalf("audit buffer not applied: %d", got)
	}
}

func TestConfigRoundtrip(t *testing.T) {
	loader := NewConfigLoader()
	cfg, err := loader.LoadYAML([]byte(sampleConfigYAML))
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}

	out, err := cfg.ToJSON()
	if err != nil {
		t.Fatalf("to json: %v", err)
	}
	back, err := loader.LoadJSON(out)
	if err != nil {
		t.Fatalf("load json: %v", err)
	}
	if err := back.Validate(); err != nil {
		t.Fatalf("roundtripped config invalid: %v", err)
	}
	if len(back.Policies) != len(cfg.Policies) || len(back.Roles) != len(cfg.Roles) {
		t.Fatalf("roundtrip lost entries")
	}

	y, err := back.ToYAML()
	if err != nil {
		t.Fatalf("to yaml: %v", err)
	}
	if !strings.Contains(string(y), "geoRestriction") {
		t.Fatalf("yaml export missing policy")
	}
}
