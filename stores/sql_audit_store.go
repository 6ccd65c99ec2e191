package stores

import (
	"context"
	"encoding/json"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/guard"
)

// SQLAuditStore persists decision records in SQL
type SQLAuditStore struct {
	db *squealx.DB
}

func NewSQLAuditStore(db *squealx.DB) *SQLAuditStore {
	return &SQLAuditStore{db: db}
}

func (s *SQLAuditStore) Append(ctx context.Context, rec *guard.AuditRecord) error {
	matched, _ := json.Marshal(rec.MatchedPolicyIDs)
	q := `INSERT INTO audit_log(id, timestamp, subject_id, resource_id, action, decision, reason, matched_json, evaluation_time_ms, cached) VALUES(:id, :timestamp, :subject_id, :resource_id, :action, :decision, :reason, :matched_json, :evaluation_time_ms, :cached)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":                 rec.ID,
		"timestamp":          rec.Timestamp,
		"subject_id":         rec.SubjectID,
		"resource_id":        rec.ResourceID,
		"action":             string(rec.Action),
		"decision":           string(rec.Decision),
		"reason":             rec.Reason,
		"matched_json":       string(matched),
		"evaluation_time_ms": rec.EvaluationTimeMs,
		"cached":             boolToInt(rec.Cached),
	})
	return err
}

func (s *SQLAuditStore) Query(ctx context.Context, filter guard.AuditFilter) ([]*guard.AuditRecord, error) {
	q := `SELECT id, timestamp, subject_id, resource_id, action, decision, reason, matched_json, evaluation_time_ms, cached FROM audit_log WHERE 1=1`
	params := map[string]any{}
	if filter.SubjectID != "" {
		q += " AND subject_id = :subject_id"
		params["subject_id"] = filter.SubjectID
	}
	if filter.ResourceID != "" {
		q += " AND resource_id = :resource_id"
		params["resource_id"] = filter.ResourceID
	}
	if filter.Action != "" {
		q += " AND action = :action"
		params["action"] = string(filter.Action)
	}
	if !filter.StartTime.IsZero() {
		q += " AND timestamp >= :start"
		params["start"] = filter.StartTime
	}
	if !filter.EndTime.IsZero() {
		q += " AND timestamp <= :end"
		params["end"] = filter.EndTime
	}
	q += " ORDER BY timestamp ASC"
	if filter.Limit > 0 {
		q += " LIMIT :limit"
		params["limit"] = filter.Limit
	} else {
		q += " LIMIT 100"
	}
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*guard.AuditRecord, 0)
	for r.Next() {
		var id, subject, resource, action, decision, reason, matchedJSON string
		var timestampRaw any
		var evalMs float64
		var cachedInt int
		if err := r.Scan(&id, &timestampRaw, &subject, &resource, &action, &decision, &reason, &matchedJSON, &evalMs, &cachedInt); err != nil {
			return nil, err
		}
		rec := &guard.AuditRecord{
			ID:               id,
			Timestamp:        scanTime(timestampRaw),
			SubjectID:        subject,
			ResourceID:       resource,
			Action:           guard.Action(action),
			Decision:         guard.DecisionOutcome(decision),
			Reason:           reason,
			EvaluationTimeMs: evalMs,
			Cached:           cachedInt != 0,
		}
		_ = json.Unmarshal([]byte(matchedJSON), &rec.MatchedPolicyIDs)
		out = append(out, rec)
	}
	return out, nil
}
