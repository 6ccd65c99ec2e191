package guard

import (
	"fmt"
	"strconv"
	"strings"
)

// ============================================================================
// RESTRICTED CONDITION EXPRESSIONS
// ============================================================================

// Expr is a compiled policy condition. Conditions are evaluated against
// the flattened request view only; there are no function calls and no
// attribute traversal beyond the pre-resolved paths in vars.
type Expr interface {
	Eval(vars map[string]any) (bool, error)
	String() string
}

// operand is either a literal or a reference to a flattened path.
type operand struct {
	field string
	lit   any
	ref   bool
}

func fieldRef(path string) operand { return operand{field: path, ref: true} }
func literal(v any) operand        { return operand{lit: v} }

func (o operand) resolve(vars map[string]any) any {
	if o.ref {
		return vars[o.field]
	}
	return o.lit
}

func (o operand) String() string {
	if o.ref {
		return o.field
	}
	if s, ok := o.lit.(string); ok {
		return strconv.Quote(s)
	}
	return fmt.Sprint(o.lit)
}

// andExpr / orExpr short-circuit left to right.
type andExpr struct{ left, right Expr }

func (e *andExpr) Eval(vars map[string]any) (bool, error) {
	l, err := e.left.Eval(vars)
	if err != nil || !l {
		return false, err
	}
	return e.right.Eval(vars)
}

func (e *andExpr) String() string {
	return fmt.Sprintf("(%s and %s)", e.left, e.right)
}

type orExpr struct{ left, right Expr }

func (e *orExpr) Eval(vars map[string]any) (bool, error) {
	l, err := e.left.Eval(vars)
	if err != nil {
		return false, err
	}
	if l {
		return true, nil
	}
	return e.right.Eval(vars)
}

func (e *orExpr) String() string {
	return fmt.Sprintf("(%s or %s)", e.left, e.right)
}

type notExpr struct{ inner Expr }

func (e *notExpr) Eval(vars map[string]any) (bool, error) {
	v, err := e.inner.Eval(vars)
	if err != nil {
		return false, err
	}
	return !v, nil
}

func (e *notExpr) String() string { return "not " + e.inner.String() }

// cmpExpr covers ==, !=, <, <=, >, >=.
type cmpExpr struct {
	op          string
	left, right operand
}

func (e *cmpExpr) Eval(vars map[string]any) (bool, error) {
	l := e.left.resolve(vars)
	r := e.right.resolve(vars)
	c, comparable := compareValues(l, r)
	if !comparable {
		// incomparable values never satisfy a comparison; "!=" is the
		// one operator where that still counts as a difference
		return e.op == "!=", nil
	}
	switch e.op {
	case "==":
		return c == 0, nil
	case "!=":
		return c != 0, nil
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	case ">=":
		return c >= 0, nil
	}
	return false, fmt.Errorf("unknown comparison operator %q", e.op)
}

func (e *cmpExpr) String() string {
	return fmt.Sprintf("%s %s %s", e.left, e.op, e.right)
}

// inExpr covers "in" and "not in" over a literal list or a list-valued
// attribute on either side.
type inExpr struct {
	needle operand
	values []operand
	negate bool
}

func (e *inExpr) Eval(vars map[string]any) (bool, error) {
	needle := e.needle.resolve(vars)
	found := false
	for _, v := range e.values {
		candidate := v.resolve(vars)
		if c, ok := compareValues(needle, candidate); ok && c == 0 {
			found = true
			break
		}
	}
	if e.negate {
		return !found, nil
	}
	return found, nil
}

func (e *inExpr) String() string {
	parts := make([]string, len(e.values))
	for i, v := range e.values {
		parts[i] = v.String()
	}
	op := "in"
	if e.negate {
		op = "not in"
	}
	return fmt.Sprintf("%s %s [%s]", e.needle, op, strings.Join(parts, ", "))
}

// compareValues compares two already-resolved values. The second return
// is false when the values are not comparable (including nil on either
// side). String slices compare against a string via membership, which
// makes "subject.roles == \"admin\"" behave as role membership.
func compareValues(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	if as, ok := toStringSlice(a); ok {
		if bs, ok2 := b.(string); ok2 {
			for _, v := range as {
				if v == bs {
					return 0, true
				}
			}
			return -1, true
		}
		return 0, false
	}
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv), true
		}
	case bool:
		if bv, ok := b.(bool); ok {
			if av == bv {
				return 0, true
			}
			return -1, true
		}
	}
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			switch {
			case af == bf:
				return 0, true
			case af < bf:
				return -1, true
			default:
				return 1, true
			}
		}
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func toStringSlice(v any) ([]string, bool) {
	switch s := v.(type) {
	case []string:
		return s, true
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	}
	return nil, false
}
