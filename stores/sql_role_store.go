package stores

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/guard"
)

// SQLRoleStore persists roles in SQL (squealx)
type SQLRoleStore struct {
	db *squealx.DB
}

func NewSQLRoleStore(db *squealx.DB) *SQLRoleStore {
	return &SQLRoleStore{db: db}
}

func (s *SQLRoleStore) CreateRole(ctx context.Context, r *guard.Role) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	perms, _ := json.Marshal(r.Permissions)
	parents, _ := json.Marshal(r.Parents)
	q := `INSERT INTO roles(name, permissions_json, parents_json, created_at) VALUES(:name, :permissions_json, :parents_json, :created_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"name":             r.Name,
		"permissions_json": string(perms),
		"parents_json":     string(parents),
		"created_at":       r.CreatedAt,
	})
	return err
}

func (s *SQLRoleStore) DeleteRole(ctx context.Context, name string) error {
	q := `DELETE FROM roles WHERE name = :name`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"name": name})
	return err
}

func (s *SQLRoleStore) GetRole(ctx context.Context, name string) (*guard.Role, error) {
	q := `SELECT name, permissions_json, parents_json, created_at FROM roles WHERE name = :name`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"name": name})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, &guard.NotFoundError{Kind: "role", ID: name}
	}
	return scanRole(r)
}

func (s *SQLRoleStore) ListRoles(ctx context.Context) ([]*guard.Role, error) {
	q := `SELECT name, permissions_json, parents_json, created_at FROM roles`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*guard.Role, 0)
	for r.Next() {
		role, err := scanRole(r)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, nil
}

func scanRole(r rowScanner) (*guard.Role, error) {
	var name, permsJSON, parentsJSON string
	var createdRaw any
	if err := r.Scan(&name, &permsJSON, &parentsJSON, &createdRaw); err != nil {
		return nil, err
	}
	role := &guard.Role{Name: name, CreatedAt: scanTime(createdRaw)}
	_ = json.Unmarshal([]byte(permsJSON), &role.Permissions)
	_ = json.Unmarshal([]byte(parentsJSON), &role.Parents)
	return role, nil
}
