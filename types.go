package guard

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// ============================================================================
// DOMAIN OBJECTS
// ============================================================================

// Subject represents who is requesting access
type Subject struct {
	ID    string         `json:"id" yaml:"id"`
	Type  string         `json:"type" yaml:"type"` // user, service, system
	Roles []string       `json:"roles" yaml:"roles"`
	Attrs map[string]any `json:"attrs,omitempty" yaml:"attrs,omitempty"`
}

// Resource represents what is being accessed
type Resource struct {
	ID      string         `json:"id" yaml:"id"`
	Type    string         `json:"type" yaml:"type"`
	OwnerID string         `json:"owner_id,omitempty" yaml:"owner_id,omitempty"`
	Attrs   map[string]any `json:"attrs,omitempty" yaml:"attrs,omitempty"`
}

// Action represents how the resource is being accessed
type Action string

// Role is a named collection of permissions. Parents form a directed
// acyclic graph; acyclicity is enforced at creation time.
type Role struct {
	Name        string       `json:"name" yaml:"name"`
	Permissions []Permission `json:"permissions" yaml:"permissions"`
	Parents     []string     `json:"parents,omitempty" yaml:"parents,omitempty"`
	CreatedAt   time.Time    `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// Permission grants an action on resources of a type. ResourcePattern is a
// glob matched against the resource id ("*" matches everything).
type Permission struct {
	ResourceType    string         `json:"resource_type" yaml:"resource_type"`
	Action          Action         `json:"action" yaml:"action"`
	ResourcePattern string         `json:"resource_pattern,omitempty" yaml:"resource_pattern,omitempty"`
	Conditions      map[string]any `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// Permission condition keys understood by the resolver.
const (
	CondSelfOnly     = "selfOnly"
	CondOwnerOnly    = "ownerOnly"
	CondRoleRequired = "roleRequired"
	CondTimeWindow   = "timeWindow" // map with "start"/"end" hours
)

// Key returns a short human-readable identity for audit and decision output.
func (p Permission) Key() string {
	pattern := p.ResourcePattern
	if pattern == "" {
		pattern = "*"
	}
	return p.ResourceType + ":" + pattern + "#" + string(p.Action)
}

// Effect is the outcome a matched attribute policy contributes.
type Effect string

const (
	EffectPermit Effect = "permit"
	EffectDeny   Effect = "deny"
)

// Criterion matches one flattened attribute path inside a policy target.
type Criterion struct {
	Op     string `json:"op" yaml:"op"`
	Value  any    `json:"value,omitempty" yaml:"value,omitempty"`
	Values []any  `json:"values,omitempty" yaml:"values,omitempty"`
}

// Criterion operators.
const (
	OpEquals         = "equals"
	OpNotEquals      = "notEquals"
	OpIn             = "in"
	OpNotIn          = "notIn"
	OpContains       = "contains"
	OpNotContains    = "notContains"
	OpMatchesPattern = "matchesPattern"
	OpRangeInclusive = "rangeInclusive"
)

// AttributePolicy is an attribute-matching policy. Target maps flattened
// attribute paths (e.g. "subject.location.country") to criteria; all
// criteria must match for the policy to apply. Condition is an optional
// expression in the restricted grammar parsed by ParseCondition.
type AttributePolicy struct {
	ID        string               `json:"id" yaml:"id"`
	Effect    Effect               `json:"effect" yaml:"effect"`
	Priority  int                  `json:"priority" yaml:"priority"`
	Target    map[string]Criterion `json:"target" yaml:"target"`
	Condition string               `json:"condition,omitempty" yaml:"condition,omitempty"`
	Disabled  bool                 `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	CreatedAt time.Time            `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// Checksum returns a deterministic hash of the policy content.
func (p *AttributePolicy) Checksum() string {
	data, _ := json.Marshal(struct {
		Effect    Effect
		Priority  int
		Target    map[string]Criterion
		Condition string
	}{p.Effect, p.Priority, p.Target, p.Condition})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DecisionOutcome is the final verdict of an access check.
type DecisionOutcome string

const (
	DecisionAllow   DecisionOutcome = "allow"
	DecisionDeny    DecisionOutcome = "deny"
	DecisionAbstain DecisionOutcome = "abstain"
)

// Well-known decision reasons.
const (
	ReasonNotFound        = "NotFound"
	ReasonNoMatch         = "NoMatchingPolicyOrPermission"
	ReasonRiskOverride    = "RiskOverride"
	ReasonRiskUnavailable = "RiskEvaluatorUnavailable"
	reasonPolicyDeny      = "DeniedByPolicy"
	reasonPolicyPermit    = "PermittedByPolicy"
	reasonPermission      = "PermittedByPermission"
)

// AccessDecision is the immutable result of a CheckAccess call.
type AccessDecision struct {
	Decision           DecisionOutcome `json:"decision"`
	Reason             string          `json:"reason"`
	MatchedPolicyIDs   []string        `json:"matched_policy_ids,omitempty"`
	MatchedPermissions []string        `json:"matched_permissions,omitempty"`
	Confidence         float64         `json:"confidence"`
	EvaluationTimeMs   float64         `json:"evaluation_time_ms"`
	Warnings           []string        `json:"warnings,omitempty"`
	Cached             bool            `json:"cached"`
	Trace              []string        `json:"trace,omitempty"`
	Timestamp          time.Time       `json:"timestamp"`
}

// Allowed reports whether the decision grants access.
func (d *AccessDecision) Allowed() bool { return d.Decision == DecisionAllow }

// AccessRequest bundles the inputs of one evaluation.
type AccessRequest struct {
	Subject  *Subject
	Resource *Resource
	Action   Action
	Context  map[string]any
	Now      time.Time
}

// flatten produces the flattened attribute view policies are matched
// against: subject/resource fields and attributes plus the request
// context under the "env." prefix.
func (r *AccessRequest) flatten() map[string]any {
	flat := make(map[string]any, 16)
	flat["action"] = string(r.Action)
	if s := r.Subject; s != nil {
		flat["subject.id"] = s.ID
		flat["subject.type"] = s.Type
		flat["subject.roles"] = s.Roles
		flattenInto(flat, "subject.", s.Attrs)
	}
	if res := r.Resource; res != nil {
		flat["resource.id"] = res.ID
		flat["resource.type"] = res.Type
		flat["resource.owner"] = res.OwnerID
		flattenInto(flat, "resource.", res.Attrs)
	}
	flattenInto(flat, "env.", r.Context)
	return flat
}

func flattenInto(dst map[string]any, prefix string, src map[string]any) {
	for k, v := range src {
		switch nested := v.(type) {
		case map[string]any:
			flattenInto(dst, prefix+k+".", nested)
		default:
			dst[prefix+k] = v
		}
	}
}

// cacheKey returns a stable hash of the full request shape. Context is
// normalized by sorting keys so map iteration order cannot split entries.
func cacheKey(subjectID, resourceID string, action Action, reqCtx map[string]any) string {
	h := sha256.New()
	h.Write([]byte(subjectID))
	h.Write([]byte{0})
	h.Write([]byte(resourceID))
	h.Write([]byte{0})
	h.Write([]byte(action))
	h.Write([]byte{0})
	keys := make([]string, 0, len(reqCtx))
	for k := range reqCtx {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%v;", k, reqCtx[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}
