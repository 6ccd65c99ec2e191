package stores

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/guard"
)

// SQLPolicyStore persists attribute policies in SQL (squealx)
type SQLPolicyStore struct {
	db *squealx.DB
}

func NewSQLPolicyStore(db *squealx.DB) *SQLPolicyStore {
	return &SQLPolicyStore{db: db}
}

func (s *SQLPolicyStore) CreatePolicy(ctx context.Context, p *guard.AttributePolicy) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	target, _ := json.Marshal(p.Target)
	q := `INSERT INTO policies(id, effect, priority, target_json, condition_text, disabled, created_at) VALUES(:id, :effect, :priority, :target_json, :condition_text, :disabled, :created_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":             p.ID,
		"effect":         string(p.Effect),
		"priority":       p.Priority,
		"target_json":    string(target),
		"condition_text": p.Condition,
		"disabled":       boolToInt(p.Disabled),
		"created_at":     p.CreatedAt,
	})
	return err
}

func (s *SQLPolicyStore) UpdatePolicy(ctx context.Context, p *guard.AttributePolicy) error {
	if _, err := s.GetPolicy(ctx, p.ID); err != nil {
		return err
	}
	target, _ := json.Marshal(p.Target)
	q := `UPDATE policies SET effect=:effect, priority=:priority, target_json=:target_json, condition_text=:condition_text, disabled=:disabled WHERE id=:id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":             p.ID,
		"effect":         string(p.Effect),
		"priority":       p.Priority,
		"target_json":    string(target),
		"condition_text": p.Condition,
		"disabled":       boolToInt(p.Disabled),
	})
	return err
}

func (s *SQLPolicyStore) DeletePolicy(ctx context.Context, id string) error {
	q := `DELETE FROM policies WHERE id = :id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": id})
	return err
}

func (s *SQLPolicyStore) GetPolicy(ctx context.Context, id string) (*guard.AttributePolicy, error) {
	q := `SELECT id, effect, priority, target_json, condition_text, disabled, created_at FROM policies WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, &guard.NotFoundError{Kind: "policy", ID: id}
	}
	return scanPolicy(r)
}

func (s *SQLPolicyStore) ListPolicies(ctx context.Context) ([]*guard.AttributePolicy, error) {
	q := `SELECT id, effect, priority, target_json, condition_text, disabled, created_at FROM policies`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*guard.AttributePolicy, 0)
	for r.Next() {
		p, err := scanPolicy(r)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func scanPolicy(r rowScanner) (*guard.AttributePolicy, error) {
	var id, effect, targetJSON, cond string
	var priority, disabledInt int
	var createdRaw any
	if err := r.Scan(&id, &effect, &priority, &targetJSON, &cond, &disabledInt, &createdRaw); err != nil {
		return nil, err
	}
	p := &guard.AttributePolicy{
		ID:        id,
		Effect:    guard.Effect(effect),
		Priority:  priority,
		Condition: cond,
		Disabled:  disabledInt != 0,
		CreatedAt: scanTime(createdRaw),
	}
	_ = json.Unmarshal([]byte(targetJSON), &p.Target)
	return p, nil
}
