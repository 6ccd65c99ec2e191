package utils

import "testing"

func TestMatchPattern(t *testing.T) {
	if !MatchPattern("user-001", "user-*") {
		t.Fatalf("expected user-* to match user-001")
	}
	if MatchPattern("admin-001", "user-*") {
		t.Fatalf("expected user-* not to match admin-001")
	}
	if !MatchPattern("anything", "*") {
		t.Fatalf("expected * to match anything")
	}
	if !MatchPattern("doc-12-final", "doc-*-final") {
		t.Fatalf("expected infix star to match")
	}
	if MatchPattern("doc-12-draft", "doc-*-final") {
		t.Fatalf("expected infix star mismatch")
	}
	if !MatchPattern("abc", "a*b*c") {
		t.Fatalf("expected multiple stars to match empty runs")
	}
	if MatchPattern("", "a*") {
		t.Fatalf("expected empty value not to match a*")
	}
	if !MatchPattern("", "*") {
		t.Fatalf("expected * to match empty value")
	}
	if !MatchPattern("exact", "exact") {
		t.Fatalf("expected literal match")
	}
}
