package stores

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/oarkflow/squealx"
	_ "modernc.org/sqlite"

	"github.com/oarkflow/guard"
)

func newTestDB(t *testing.T) *squealx.DB {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	db := squealx.NewDb(sqlDB, "sqlite", "testdb")
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestSQLRoleStoreRoundtrip(t *testing.T) {
	db := newTestDB(t)
	store := NewSQLRoleStore(db)
	ctx := context.Background()

	role := &guard.Role{
		Name: "auditor",
		Permissions: []guard.Permission{
			{ResourceType: "AUDIT", Action: "READ"},
			{ResourceType: "DATA", Action: "READ", Conditions: map[string]any{"ownerOnly": true}},
		},
		Parents: []string{"viewer"},
	}
	if err := store.CreateRole(ctx, role); err != nil {
		t.Fatalf("create role: %v", err)
	}

	got, err := store.GetRole(ctx, "auditor")
	if err != nil {
		t.Fatalf("get role: %v", err)
	}
	if len(got.Permissions) != 2 {
		t.Fatalf("expected 2 permissions, got %d", len(got.Permissions))
	}
	if got.Permissions[1].Conditions["ownerOnly"] != true {
		t.Fatalf("ownerOnly condition lost in roundtrip: %#v", got.Permissions[1].Conditions)
	}
	if len(got.Parents) != 1 || got.Parents[0] != "viewer" {
		t.Fatalf("parents lost in roundtrip: %#v", got.Parents)
	}
	if got.CreatedAt.IsZero() {
		t.Fatalf("created_at not persisted")
	}

	if _, err := store.GetRole(ctx, "missing"); err == nil {
		t.Fatalf("expected not-found error for missing role")
	}

	if err := store.DeleteRole(ctx, "auditor"); err != nil {
		t.Fatalf("delete role: %v", err)
	}
	if _, err := store.GetRole(ctx, "auditor"); err == nil {
		t.Fatalf("expected not-found error after delete")
	}
}

func TestSQLSubjectStoreUpdate(t *testing.T) {
	db := newTestDB(t)
	store := NewSQLSubjectStore(db)
	ctx := context.Background()

	sub := &guard.Subject{
		ID:    "user-001",
		Type:  "user",
		Roles: []string{"user"},
		Attrs: map[string]any{"location": map[string]any{"country": "US"}},
	}
	if err := store.CreateSubject(ctx, sub); err != nil {
		t.Fatalf("create subject: %v", err)
	}

	sub.Roles = append(sub.Roles, "auditor")
	if err := store.UpdateSubject(ctx, sub); err != nil {
		t.Fatalf("update subject: %v", err)
	}

	got, err := store.GetSubject(ctx, "user-001")
	if err != nil {
		t.Fatalf("get subject: %v", err)
	}
	if len(got.Roles) != 2 {
		t.Fatalf("expected 2 roles, got %v", got.Roles)
	}
	loc, ok := got.Attrs["location"].(map[string]any)
	if !ok || loc["country"] != "US" {
		t.Fatalf("nested attrs lost in roundtrip: %#v", got.Attrs)
	}

	if err := store.UpdateSubject(ctx, &guard.Subject{ID: "ghost"}); err == nil {
		t.Fatalf("expected not-found error updating missing subject")
	}
}

func TestSQLPolicyStoreRoundtrip(t *testing.T) {
	db := newTestDB(t)
	store := NewSQLPolicyStore(db)
	ctx := context.Background()

	p := &guard.AttributePolicy{
		ID:       "geoRestriction",
		Effect:   guard.EffectDeny,
		Priority: 200,
		Target: map[string]guard.Criterion{
			"subject.location.country": {Op: guard.OpNotIn, Values: []any{"US", "CA", "GB", "DE", "FR"}},
		},
		Condition: `resource.type == "SECURITY"`,
	}
	if err := store.CreatePolicy(ctx, p); err != nil {
		t.Fatalf("create policy: %v", err)
	}

	got, err := store.GetPolicy(ctx, "geoRestriction")
	if err != nil {
		t.Fatalf("get policy: %v", err)
	}
	if got.Effect != guard.EffectDeny || got.Priority != 200 {
		t.Fatalf("effect/priority lost: %s %d", got.Effect, got.Priority)
	}
	crit, ok := got.Target["subject.location.country"]
	if !ok || crit.Op != guard.OpNotIn || len(crit.Values) != 5 {
		t.Fatalf("target criterion lost in roundtrip: %#v", got.Target)
	}
	if got.Condition != p.Condition {
		t.Fatalf("condition lost: %q", got.Condition)
	}
	if got.Disabled {
		t.Fatalf("policy should not be disabled by default")
	}

	got.Disabled = true
	if err := store.UpdatePolicy(ctx, got); err != nil {
		t.Fatalf("update policy: %v", err)
	}
	again, err := store.GetPolicy(ctx, "geoRestriction")
	if err != nil {
		t.Fatalf("get policy after update: %v", err)
	}
	if !again.Disabled {
		t.Fatalf("disabled flag not persisted")
	}

	all, err := store.ListPolicies(ctx)
	if err != nil {
		t.Fatalf("list policies: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 policy, got %d", len(all))
	}
}

func TestSQLAuditStoreQueryFilters(t *testing.T) {
	db := newTestDB(t)
	store := NewSQLAuditStore(db)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	records := []*guard.AuditRecord{
		{ID: "a-1", Timestamp: base, SubjectID: "user-001", ResourceID: "doc-1", Action: "READ", Decision: guard.DecisionAllow, Reason: "PermittedByPermission"},
		{ID: "a-2", Timestamp: base.Add(time.Minute), SubjectID: "user-002", ResourceID: "doc-1", Action: "WRITE", Decision: guard.DecisionDeny, Reason: "NoMatchingPolicyOrPermission"},
		{ID: "a-3", Timestamp: base.Add(2 * time.Minute), SubjectID: "user-001", ResourceID: "doc-2", Action: "READ", Decision: guard.DecisionDeny, Reason: "DeniedByPolicy:geoRestriction", MatchedPolicyIDs: []string{"geoRestriction"}},
	}
	for _, rec := range records {
		if err := store.Append(ctx, rec); err != nil {
			t.Fatalf("append %s: %v", rec.ID, err)
		}
	}

	bySubject, err := store.Query(ctx, guard.AuditFilter{SubjectID: "user-001"})
	if err != nil {
		t.Fatalf("query by subject: %v", err)
	}
	if len(bySubject) != 2 {
		t.Fatalf("expected 2 records for user-001, got %d", len(bySubject))
	}

	byAction, err := store.Query(ctx, guard.AuditFilter{Action: "WRITE"})
	if err != nil {
		t.Fatalf("query by action: %v", err)
	}
	if len(byAction) != 1 || byAction[0].ID != "a-2" {
		t.Fatalf("expected a-2 for WRITE, got %#v", byAction)
	}

	limited, err := store.Query(ctx, guard.AuditFilter{Limit: 1})
	if err != nil {
		t.Fatalf("query with limit: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected 1 record with limit, got %d", len(limited))
	}

	got, err := store.Query(ctx, guard.AuditFilter{ResourceID: "doc-2"})
	if err != nil {
		t.Fatalf("query by resource: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 record for doc-2, got %d", len(got))
	}
	if len(got[0].MatchedPolicyIDs) != 1 || got[0].MatchedPolicyIDs[0] != "geoRestriction" {
		t.Fatalf("matched policy ids lost in roundtrip: %#v", got[0].MatchedPolicyIDs)
	}
}
