package guard

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/oarkflow/guard/logger"
)

func TestNDJSONSinkShape(t *testing.T) {
	var buf bytes.Buffer
	sink := NewNDJSONSink(&buf)

	rec := &AuditRecord{
		ID:               "rec-1",
		Timestamp:        time.Now(),
		SubjectID:        "user-001",
		ResourceID:       "doc-1",
		Action:           "READ",
		Decision:         DecisionDeny,
		Reason:           "DeniedByPolicy:geoRestriction",
		MatchedPolicyIDs: []string{"geoRestriction"},
	}
	if err := sink.Write(context.Background(), rec); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := sink.Write(context.Background(), rec); err != nil {
		t.Fatalf("write: %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var parsed AuditRecord
	if err := json.Unmarshal([]byte(lines[0]), &parsed); err != nil {
		t.Fatalf("line is not valid JSON: %v", err)
	}
	if parsed.Reason != rec.Reason || parsed.Decision != DecisionDeny {
		t.Fatalf("record fields lost: %+v", parsed)
	}
}

func TestDispatcherFansOutAndDrains(t *testing.T) {
	store := NewMemoryAuditStore()
	var buf bytes.Buffer
	d := newAuditDispatcher(16, []AuditSink{NewStoreSink(store), NewNDJSONSink(&buf)}, logger.NewNullLogger(), nil)

	for i := 0; i < 5; i++ {
		d.Emit(&AuditRecord{ID: "rec", Timestamp: time.Now(), Decision: DecisionAllow})
	}
	d.Close()

	recs, err := store.Query(context.Background(), AuditFilter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(recs) != 5 {
		t.Fatalf("expected 5 records in store, got %d", len(recs))
	}
	if got := strings.Count(buf.String(), "\n"); got != 5 {
		t.Fatalf("expected 5 ndjson lines, got %d", got)
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	dropped := 0
	// no goroutine gets a chance to drain a closed-over blocked sink;
	// use a buffer of 1 and a sink that blocks until released
	release := make(chan struct{})
	blocking := AuditSinkFunc(func(ctx context.Context, rec *AuditRecord) error {
		<-release
		return nil
	})
	d := newAuditDispatcher(1, []AuditSink{blocking}, logger.NewNullLogger(), func() { dropped++ })

	// first record occupies the worker, second fills the buffer, the
	// rest are dropped
	for i := 0; i < 5; i++ {
		d.Emit(&AuditRecord{ID: "rec"})
	}
	close(release)
	d.Close()

	if dropped == 0 {
		t.Fatalf("expected drops when the buffer is full")
	}
}

func TestEmitAfterCloseDrops(t *testing.T) {
	store := NewMemoryAuditStore()
	dropped := 0
	d := newAuditDispatcher(4, []AuditSink{NewStoreSink(store)}, logger.NewNullLogger(), func() { dropped++ })

	d.Emit(&AuditRecord{ID: "rec-1", Timestamp: time.Now()})
	d.Close()
	// must not panic, must count as a drop
	d.Emit(&AuditRecord{ID: "rec-2", Timestamp: time.Now()})

	if dropped != 1 {
		t.Fatalf("expected the post-close record to drop, got %d drops", dropped)
	}
	recs, err := store.Query(context.Background(), AuditFilter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "rec-1" {
		t.Fatalf("expected only the pre-close record, got %v", recs)
	}
}
