package guard

import (
	"testing"
)

func evalCondition(t *testing.T, src string, vars map[string]any) bool {
	t.Helper()
	expr, err := ParseCondition(src)
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	got, err := expr.Eval(vars)
	if err != nil {
		t.Fatalf("eval %q: %v", src, err)
	}
	return got
}

func TestParseConditionEvaluation(t *testing.T) {
	vars := map[string]any{
		"subject.id":               "user-001",
		"subject.clearance":        3,
		"subject.roles":            []string{"analyst", "viewer"},
		"subject.location.country": "DE",
		"resource.type":            "DATA",
		"resource.owner":           "user-001",
		"env.mfa":                  true,
		"action":                   "READ",
	}

	cases := []struct {
		src  string
		want bool
	}{
		{`subject.clearance >= 3`, true},
		{`subject.clearance > 3`, false},
		{`resource.type == "DATA"`, true},
		{`resource.type == 'DATA'`, true},
		{`resource.type != "DATA"`, false},
		{`subject.location.country in ["US", "DE", "FR"]`, true},
		{`subject.location.country not in ["US", "CA"]`, true},
		{`subject.location.country not in ["DE"]`, false},
		{`subject.id == resource.owner`, true},
		{`env.mfa == true`, true},
		{`not env.mfa == false`, true},
		{`subject.clearance >= 3 and resource.type == "DATA"`, true},
		{`subject.clearance >= 5 or resource.type == "DATA"`, true},
		{`subject.clearance >= 5 and resource.type == "DATA"`, false},
		{`(subject.clearance >= 5 or env.mfa == true) and action == "READ"`, true},
		// list membership against a list-valued attribute
		{`subject.roles == "analyst"`, true},
		{`subject.roles == "admin"`, false},
		// missing attributes never satisfy comparisons, except !=
		{`env.missing == "x"`, false},
		{`env.missing != "x"`, true},
		{`env.missing in ["x"]`, false},
		{`env.missing not in ["x"]`, true},
	}
	for _, tc := range cases {
		if got := evalCondition(t, tc.src, vars); got != tc.want {
			t.Fatalf("%q: expected %v, got %v", tc.src, tc.want, got)
		}
	}
}

func TestParseConditionRejectsUnsafeInput(t *testing.T) {
	bad := []string{
		`subject.clearance >`,
		`subject.clearance === 3`,
		`resource.type = "DATA"`,
		`resource.type == "DATA`,
		`(resource.type == "DATA"`,
		`resource.type == "DATA")`,
		`subject.id in "not-a-list"`,
		`and == 3`,
		`len(subject.roles) > 0`,
		`subject.id; drop`,
		`resource.type ~= "DATA"`,
	}
	for _, src := range bad {
		if _, err := ParseCondition(src); err == nil {
			t.Fatalf("expected parse error for %q", src)
		}
	}
}

func TestParseConditionEmpty(t *testing.T) {
	expr, err := ParseCondition("   ")
	if err != nil {
		t.Fatalf("blank condition: %v", err)
	}
	if expr != nil {
		t.Fatalf("blank condition should compile to nil")
	}
}

func TestConditionStringRoundtrip(t *testing.T) {
	src := `subject.clearance >= 3 and subject.location.country not in ["RU", "KP"]`
	expr, err := ParseCondition(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	reparsed, err := ParseCondition(expr.String())
	if err != nil {
		t.Fatalf("reparse printed form %q: %v", expr.String(), err)
	}
	vars := map[string]any{"subject.clearance": 4, "subject.location.country": "DE"}
	a, _ := expr.Eval(vars)
	b, _ := reparsed.Eval(vars)
	if a != b || !a {
		t.Fatalf("printed form changed semantics: %v vs %v", a, b)
	}
}
