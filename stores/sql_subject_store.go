package stores

import (
	"context"
	"encoding/json"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/guard"
)

// SQLSubjectStore persists subjects in SQL (squealx)
type SQLSubjectStore struct {
	db *squealx.DB
}

func NewSQLSubjectStore(db *squealx.DB) *SQLSubjectStore {
	return &SQLSubjectStore{db: db}
}

func (s *SQLSubjectStore) CreateSubject(ctx context.Context, sub *guard.Subject) error {
	roles, _ := json.Marshal(sub.Roles)
	attrs, _ := json.Marshal(sub.Attrs)
	q := `INSERT INTO subjects(id, type, roles_json, attrs_json) VALUES(:id, :type, :roles_json, :attrs_json)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":         sub.ID,
		"type":       sub.Type,
		"roles_json": string(roles),
		"attrs_json": string(attrs),
	})
	return err
}

func (s *SQLSubjectStore) UpdateSubject(ctx context.Context, sub *guard.Subject) error {
	if _, err := s.GetSubject(ctx, sub.ID); err != nil {
		return err
	}
	roles, _ := json.Marshal(sub.Roles)
	attrs, _ := json.Marshal(sub.Attrs)
	q := `UPDATE subjects SET type=:type, roles_json=:roles_json, attrs_json=:attrs_json WHERE id=:id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":         sub.ID,
		"type":       sub.Type,
		"roles_json": string(roles),
		"attrs_json": string(attrs),
	})
	return err
}

func (s *SQLSubjectStore) DeleteSubject(ctx context.Context, id string) error {
	q := `DELETE FROM subjects WHERE id = :id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": id})
	return err
}

func (s *SQLSubjectStore) GetSubject(ctx context.Context, id string) (*guard.Subject, error) {
	q := `SELECT id, type, roles_json, attrs_json FROM subjects WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, &guard.NotFoundError{Kind: "subject", ID: id}
	}
	var idv, typ, rolesJSON, attrsJSON string
	if err := r.Scan(&idv, &typ, &rolesJSON, &attrsJSON); err != nil {
		return nil, err
	}
	sub := &guard.Subject{ID: idv, Type: typ}
	_ = json.Unmarshal([]byte(rolesJSON), &sub.Roles)
	_ = json.Unmarshal([]byte(attrsJSON), &sub.Attrs)
	return sub, nil
}
