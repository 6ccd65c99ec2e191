package guard

import (
	"context"
	"testing"
	"time"
)

func seedRoles(t *testing.T, store RoleStore, roles ...*Role) {
	t.Helper()
	ctx := context.Background()
	for _, r := range roles {
		if err := store.CreateRole(ctx, r); err != nil {
			t.Fatalf("seed role %s: %v", r.Name, err)
		}
	}
}

func TestResolveUnionsInheritedPermissions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRoleStore()
	seedRoles(t, store,
		&Role{Name: "viewer", Permissions: []Permission{{ResourceType: "DATA", Action: "READ"}}},
		&Role{Name: "editor", Permissions: []Permission{{ResourceType: "DATA", Action: "WRITE"}}, Parents: []string{"viewer"}},
		&Role{Name: "lead", Permissions: []Permission{{ResourceType: "DATA", Action: "DELETE"}}, Parents: []string{"editor", "viewer"}},
	)
	r := newPermissionResolver(store)

	perms, err := r.Resolve(ctx, &Subject{ID: "s1", Roles: []string{"lead"}})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// diamond: viewer reached twice, counted once
	if len(perms) != 3 {
		t.Fatalf("expected 3 permissions, got %d: %v", len(perms), perms)
	}
}

func TestResolveMemoizesAndInvalidates(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRoleStore()
	seedRoles(t, store, &Role{Name: "viewer", Permissions: []Permission{{ResourceType: "DATA", Action: "READ"}}})
	r := newPermissionResolver(store)

	sub := &Subject{ID: "s1", Roles: []string{"viewer"}}
	if _, err := r.Resolve(ctx, sub); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// mutate the store behind the memo; a stale read is expected until
	// invalidation
	if err := store.CreateRole(ctx, &Role{Name: "admin", Permissions: []Permission{{ResourceType: "DATA", Action: "WRITE"}}}); err != nil {
		t.Fatalf("create role: %v", err)
	}
	sub.Roles = append(sub.Roles, "admin")
	perms, _ := r.Resolve(ctx, sub)
	if len(perms) != 1 {
		t.Fatalf("expected memoized result, got %d perms", len(perms))
	}

	r.InvalidateSubject("s1")
	perms, _ = r.Resolve(ctx, sub)
	if len(perms) != 2 {
		t.Fatalf("expected fresh result after invalidation, got %d perms", len(perms))
	}
}

func TestResolveTerminatesOnStoredCycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRoleStore()
	// a cycle written directly to the store, bypassing engine validation
	seedRoles(t, store,
		&Role{Name: "a", Parents: []string{"b"}},
		&Role{Name: "b", Parents: []string{"a"}},
	)
	r := newPermissionResolver(store)
	if _, err := r.Resolve(ctx, &Subject{ID: "s1", Roles: []string{"a"}}); err != nil {
		t.Fatalf("resolve must terminate on cycles: %v", err)
	}
}

func TestValidateRoleGraphDetectsCycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRoleStore()
	seedRoles(t, store,
		&Role{Name: "a", Parents: []string{"b"}},
		&Role{Name: "b"},
	)

	// re-pointing b at a closes the loop a -> b -> a
	err := validateRoleGraph(ctx, store, &Role{Name: "b", Parents: []string{"a"}})
	if err == nil {
		t.Fatalf("expected cycle rejection")
	}
	if _, ok := err.(*ConfigurationError); !ok {
		t.Fatalf("expected ConfigurationError, got %T", err)
	}

	if err := validateRoleGraph(ctx, store, &Role{Name: "c", Parents: []string{"ghost"}}); err == nil {
		t.Fatalf("expected unknown parent rejection")
	}
	if err := validateRoleGraph(ctx, store, &Role{Name: "c", Parents: []string{"a"}}); err != nil {
		t.Fatalf("valid extension rejected: %v", err)
	}
}

func TestPermissionMatching(t *testing.T) {
	req := &AccessRequest{
		Subject:  &Subject{ID: "user-001", Roles: []string{"auditor"}},
		Resource: &Resource{ID: "doc-42", Type: "DATA", OwnerID: "user-001"},
		Action:   "READ",
		Now:      time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC),
	}

	cases := []struct {
		name string
		perm Permission
		want bool
	}{
		{"exact", Permission{ResourceType: "DATA", Action: "READ"}, true},
		{"wrong type", Permission{ResourceType: "SYSTEM", Action: "READ"}, false},
		{"wrong action", Permission{ResourceType: "DATA", Action: "WRITE"}, false},
		{"wildcard action", Permission{ResourceType: "DATA", Action: "*"}, true},
		{"pattern match", Permission{ResourceType: "DATA", Action: "READ", ResourcePattern: "doc-*"}, true},
		{"pattern miss", Permission{ResourceType: "DATA", Action: "READ", ResourcePattern: "img-*"}, false},
		{"owner only holds", Permission{ResourceType: "DATA", Action: "READ", Conditions: map[string]any{CondOwnerOnly: true}}, true},
		{"role required holds", Permission{ResourceType: "DATA", Action: "READ", Conditions: map[string]any{CondRoleRequired: "auditor"}}, true},
		{"role required fails", Permission{ResourceType: "DATA", Action: "READ", Conditions: map[string]any{CondRoleRequired: "admin"}}, false},
		{"time window holds", Permission{ResourceType: "DATA", Action: "READ", Conditions: map[string]any{CondTimeWindow: map[string]any{"start": 9, "end": 17}}}, true},
		{"time window fails", Permission{ResourceType: "DATA", Action: "READ", Conditions: map[string]any{CondTimeWindow: map[string]any{"start": 18, "end": 23}}}, false},
		{"unknown condition never holds", Permission{ResourceType: "DATA", Action: "READ", Conditions: map[string]any{"approvedBy": "manager"}}, false},
	}
	for _, tc := range cases {
		if got := permissionMatches(tc.perm, req); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestOwnerOnlyFailsForNonOwner(t *testing.T) {
	req := &AccessRequest{
		Subject:  &Subject{ID: "user-002"},
		Resource: &Resource{ID: "doc-42", Type: "DATA", OwnerID: "user-001"},
		Action:   "READ",
		Now:      time.Now(),
	}
	perm := Permission{ResourceType: "DATA", Action: "READ", Conditions: map[string]any{CondOwnerOnly: true}}
	if permissionMatches(perm, req) {
		t.Fatalf("ownerOnly must fail for a non-owner")
	}

	// ownership cannot be established for an unowned resource
	req.Resource.OwnerID = ""
	req.Subject.ID = ""
	if permissionMatches(perm, req) {
		t.Fatalf("ownerOnly must fail when the resource has no owner")
	}
}

func TestTimeWindowWrapsMidnight(t *testing.T) {
	perm := Permission{ResourceType: "DATA", Action: "READ", Conditions: map[string]any{CondTimeWindow: map[string]any{"start": 22, "end": 6}}}
	mk := func(hour int) *AccessRequest {
		return &AccessRequest{
			Subject:  &Subject{ID: "s"},
			Resource: &Resource{ID: "r", Type: "DATA"},
			Action:   "READ",
			Now:      time.Date(2026, 3, 10, hour, 30, 0, 0, time.UTC),
		}
	}
	if !permissionMatches(perm, mk(23)) {
		t.Fatalf("23:30 should be inside a 22-6 window")
	}
	if !permissionMatches(perm, mk(3)) {
		t.Fatalf("03:30 should be inside a 22-6 window")
	}
	if permissionMatches(perm, mk(12)) {
		t.Fatalf("12:30 should be outside a 22-6 window")
	}
}
