package guard

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/oarkflow/guard/utils"
)

// ============================================================================
// ATTRIBUTE POLICY EVALUATOR (ABAC)
// ============================================================================

// policyVerdict is the outcome of evaluating all active policies against
// one request.
type policyVerdict struct {
	matchedDeny  []*AttributePolicy
	matchedAllow []*AttributePolicy
	matchedIDs   []string
	warnings     []string
	evaluated    int
	total        int
}

func (v *policyVerdict) outcome() DecisionOutcome {
	if len(v.matchedDeny) > 0 {
		return DecisionDeny
	}
	if len(v.matchedAllow) > 0 {
		return DecisionAllow
	}
	return DecisionAbstain
}

// topDeny returns the highest-priority matched deny policy. Policies are
// evaluated in descending priority order, so it is the first one.
func (v *policyVerdict) topDeny() *AttributePolicy {
	if len(v.matchedDeny) == 0 {
		return nil
	}
	return v.matchedDeny[0]
}

// policyEvaluator matches attribute policies against flattened requests.
// Compiled conditions are cached by policy checksum so a policy is parsed
// once per version, not once per request.
type policyEvaluator struct {
	mu       sync.Mutex
	compiled map[string]compiledCondition
}

type compiledCondition struct {
	expr Expr
	err  error
}

func newPolicyEvaluator() *policyEvaluator {
	return &policyEvaluator{compiled: make(map[string]compiledCondition)}
}

// Evaluate walks policies sorted by descending priority and collects the
// matching permits and denies. A malformed condition turns that single
// policy into a non-match with a warning; it never aborts evaluation and
// never becomes an implicit allow.
func (pe *policyEvaluator) Evaluate(policies []*AttributePolicy, req *AccessRequest, flat map[string]any, trace *[]string) *policyVerdict {
	sorted := make([]*AttributePolicy, len(policies))
	copy(sorted, policies)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })

	verdict := &policyVerdict{total: len(sorted)}
	for _, p := range sorted {
		if p.Disabled {
			continue
		}
		verdict.evaluated++
		matched, err := pe.policyMatches(p, flat)
		if err != nil {
			verdict.warnings = append(verdict.warnings, err.Error())
			if trace != nil {
				*trace = append(*trace, fmt.Sprintf("policy=%s condition_error=%v", p.ID, err))
			}
			continue
		}
		if trace != nil {
			*trace = append(*trace, fmt.Sprintf("policy=%s priority=%d effect=%s matched=%v", p.ID, p.Priority, p.Effect, matched))
		}
		if !matched {
			continue
		}
		verdict.matchedIDs = append(verdict.matchedIDs, p.ID)
		if p.Effect == EffectDeny {
			verdict.matchedDeny = append(verdict.matchedDeny, p)
		} else {
			verdict.matchedAllow = append(verdict.matchedAllow, p)
		}
	}
	return verdict
}

func (pe *policyEvaluator) policyMatches(p *AttributePolicy, flat map[string]any) (bool, error) {
	for path, crit := range p.Target {
		ok, err := matchCriterion(crit, flat[path])
		if err != nil {
			return false, &ConditionEvaluationError{PolicyID: p.ID, Detail: fmt.Sprintf("target %s: %v", path, err)}
		}
		if !ok {
			return false, nil
		}
	}
	if p.Condition == "" {
		return true, nil
	}
	expr, err := pe.compile(p)
	if err != nil {
		return false, &ConditionEvaluationError{PolicyID: p.ID, Detail: err.Error()}
	}
	ok, err := expr.Eval(flat)
	if err != nil {
		return false, &ConditionEvaluationError{PolicyID: p.ID, Detail: err.Error()}
	}
	return ok, nil
}

func (pe *policyEvaluator) compile(p *AttributePolicy) (Expr, error) {
	key := p.ID + ":" + p.Checksum()
	pe.mu.Lock()
	defer pe.mu.Unlock()
	if cc, ok := pe.compiled[key]; ok {
		return cc.expr, cc.err
	}
	expr, err := ParseCondition(p.Condition)
	pe.compiled[key] = compiledCondition{expr: expr, err: err}
	return expr, err
}

// Purge drops the compiled-condition cache. Called when policies change.
func (pe *policyEvaluator) Purge() {
	pe.mu.Lock()
	pe.compiled = make(map[string]compiledCondition)
	pe.mu.Unlock()
}

// matchCriterion applies one target criterion to a resolved value.
func matchCriterion(c Criterion, actual any) (bool, error) {
	switch c.Op {
	case OpEquals:
		cmp, ok := compareValues(actual, c.Value)
		return ok && cmp == 0, nil
	case OpNotEquals:
		cmp, ok := compareValues(actual, c.Value)
		return !ok || cmp != 0, nil
	case OpIn:
		return valueIn(actual, c.Values), nil
	case OpNotIn:
		return !valueIn(actual, c.Values), nil
	case OpContains:
		return containsValue(actual, c.Value), nil
	case OpNotContains:
		return !containsValue(actual, c.Value), nil
	case OpMatchesPattern:
		pattern, ok := c.Value.(string)
		if !ok {
			return false, fmt.Errorf("matchesPattern requires a string pattern")
		}
		s, ok := actual.(string)
		if !ok {
			return false, nil
		}
		return utils.MatchPattern(s, pattern), nil
	case OpRangeInclusive:
		if len(c.Values) != 2 {
			return false, fmt.Errorf("rangeInclusive requires [min, max]")
		}
		v, ok := toFloat(actual)
		if !ok {
			return false, nil
		}
		lo, ok1 := toFloat(c.Values[0])
		hi, ok2 := toFloat(c.Values[1])
		if !ok1 || !ok2 {
			return false, fmt.Errorf("rangeInclusive bounds must be numeric")
		}
		return v >= lo && v <= hi, nil
	}
	return false, fmt.Errorf("unknown criterion operator %q", c.Op)
}

func valueIn(actual any, values []any) bool {
	for _, v := range values {
		if cmp, ok := compareValues(actual, v); ok && cmp == 0 {
			return true
		}
	}
	return false
}

func containsValue(actual, want any) bool {
	switch a := actual.(type) {
	case string:
		if w, ok := want.(string); ok {
			return strings.Contains(a, w)
		}
	case []string:
		for _, item := range a {
			if cmp, ok := compareValues(item, want); ok && cmp == 0 {
				return true
			}
		}
	case []any:
		for _, item := range a {
			if cmp, ok := compareValues(item, want); ok && cmp == 0 {
				return true
			}
		}
	}
	return false
}
