package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/oarkflow/guard/utils"
)

// ============================================================================
// PERMISSION RESOLVER (RBAC)
// ============================================================================

// permissionResolver computes effective permission sets over the role
// hierarchy and memoizes them per subject. The memo is invalidated only
// by administrative mutations, never by time.
type permissionResolver struct {
	roles RoleStore

	mu   sync.RWMutex
	memo map[string][]Permission
}

func newPermissionResolver(roles RoleStore) *permissionResolver {
	return &permissionResolver{roles: roles, memo: make(map[string][]Permission)}
}

// Resolve returns the subject's effective permissions: a breadth-first
// walk from the subject's roles through parent links, accumulating each
// visited role's permissions. The visited set guarantees termination
// even if a cycle slipped past creation-time validation.
func (r *permissionResolver) Resolve(ctx context.Context, sub *Subject) ([]Permission, error) {
	r.mu.RLock()
	if perms, ok := r.memo[sub.ID]; ok {
		r.mu.RUnlock()
		return perms, nil
	}
	r.mu.RUnlock()

	visited := make(map[string]bool, len(sub.Roles))
	queue := make([]string, 0, len(sub.Roles))
	queue = append(queue, sub.Roles...)
	perms := make([]Permission, 0, 8)
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if visited[name] {
			continue
		}
		visited[name] = true
		role, err := r.roles.GetRole(ctx, name)
		if err != nil {
			var nf *NotFoundError
			if errors.As(err, &nf) {
				// role assignments are validated at creation time; a
				// role deleted afterwards simply contributes nothing
				continue
			}
			return nil, err
		}
		perms = append(perms, role.Permissions...)
		queue = append(queue, role.Parents...)
	}

	r.mu.Lock()
	r.memo[sub.ID] = perms
	r.mu.Unlock()
	return perms, nil
}

// InvalidateAll drops every memoized permission set. Called whenever any
// role's permission or parent list changes.
func (r *permissionResolver) InvalidateAll() {
	r.mu.Lock()
	r.memo = make(map[string][]Permission)
	r.mu.Unlock()
}

// InvalidateSubject drops one subject's memo, used when only that
// subject's role assignment changed.
func (r *permissionResolver) InvalidateSubject(id string) {
	r.mu.Lock()
	delete(r.memo, id)
	r.mu.Unlock()
}

// permissionMatches reports whether a permission covers the request and
// all of its conditions hold.
func permissionMatches(p Permission, req *AccessRequest) bool {
	if p.ResourceType != req.Resource.Type {
		return false
	}
	if p.Action != req.Action && p.Action != "*" {
		return false
	}
	pattern := p.ResourcePattern
	if pattern == "" {
		pattern = "*"
	}
	if !utils.MatchPattern(req.Resource.ID, pattern) {
		return false
	}
	for key, want := range p.Conditions {
		if !permissionConditionHolds(key, want, req) {
			return false
		}
	}
	return true
}

func permissionConditionHolds(key string, want any, req *AccessRequest) bool {
	switch key {
	case CondSelfOnly, CondOwnerOnly:
		if b, ok := want.(bool); ok && !b {
			return true
		}
		return req.Resource.OwnerID != "" && req.Subject.ID == req.Resource.OwnerID
	case CondRoleRequired:
		required, ok := want.(string)
		if !ok {
			return false
		}
		for _, role := range req.Subject.Roles {
			if role == required {
				return true
			}
		}
		return false
	case CondTimeWindow:
		start, end, err := timeWindowBounds(want)
		if err != nil {
			return false
		}
		hour := req.Now.Hour()
		if start <= end {
			return hour >= start && hour <= end
		}
		// window wraps midnight
		return hour >= start || hour <= end
	}
	// unknown condition keys never hold: permissions must not widen
	// because of a typo
	return false
}

func timeWindowBounds(v any) (int, int, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return 0, 0, fmt.Errorf("timeWindow must be a map with start/end")
	}
	start, ok1 := toFloat(m["start"])
	end, ok2 := toFloat(m["end"])
	if !ok1 || !ok2 {
		return 0, 0, fmt.Errorf("timeWindow start/end must be hours")
	}
	return int(start), int(end), nil
}

// validateRoleGraph checks the role graph that would result from adding
// candidate: every parent must exist and no directed cycle may form.
// Detection is depth-first coloring done once here, not just defended
// against at traversal time.
func validateRoleGraph(ctx context.Context, store RoleStore, candidate *Role) error {
	existing, err := store.ListRoles(ctx)
	if err != nil {
		return err
	}
	graph := make(map[string][]string, len(existing)+1)
	for _, r := range existing {
		graph[r.Name] = r.Parents
	}
	graph[candidate.Name] = candidate.Parents

	for _, parent := range candidate.Parents {
		if _, ok := graph[parent]; !ok {
			return configErrf("role %q references unknown parent role %q", candidate.Name, parent)
		}
	}

	const (
		white = 0 // unvisited
		grey  = 1 // on the current DFS path
		black = 2 // fully explored
	)
	color := make(map[string]int, len(graph))
	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case grey:
			return configErrf("role graph cycle detected through role %q", name)
		case black:
			return nil
		}
		color[name] = grey
		for _, parent := range graph[name] {
			if _, ok := graph[parent]; !ok {
				continue
			}
			if err := visit(parent); err != nil {
				return err
			}
		}
		color[name] = black
		return nil
	}
	return visit(candidate.Name)
}
