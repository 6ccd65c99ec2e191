package stores

import (
	"context"
	"encoding/json"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/guard"
)

// SQLResourceStore persists resources in SQL (squealx)
type SQLResourceStore struct {
	db *squealx.DB
}

func NewSQLResourceStore(db *squealx.DB) *SQLResourceStore {
	return &SQLResourceStore{db: db}
}

func (s *SQLResourceStore) CreateResource(ctx context.Context, res *guard.Resource) error {
	attrs, _ := json.Marshal(res.Attrs)
	q := `INSERT INTO resources(id, type, owner_id, attrs_json) VALUES(:id, :type, :owner_id, :attrs_json)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":         res.ID,
		"type":       res.Type,
		"owner_id":   res.OwnerID,
		"attrs_json": string(attrs),
	})
	return err
}

func (s *SQLResourceStore) DeleteResource(ctx context.Context, id string) error {
	q := `DELETE FROM resources WHERE id = :id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": id})
	return err
}

func (s *SQLResourceStore) GetResource(ctx context.Context, id string) (*guard.Resource, error) {
	q := `SELECT id, type, owner_id, attrs_json FROM resources WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, &guard.NotFoundError{Kind: "resource", ID: id}
	}
	var idv, typ, owner, attrsJSON string
	if err := r.Scan(&idv, &typ, &owner, &attrsJSON); err != nil {
		return nil, err
	}
	res := &guard.Resource{ID: idv, Type: typ, OwnerID: owner}
	_ = json.Unmarshal([]byte(attrsJSON), &res.Attrs)
	return res, nil
}
