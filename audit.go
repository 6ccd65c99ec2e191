package guard

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oarkflow/guard/logger"
)

// ============================================================================
// AUDIT
// ============================================================================

// AuditRecord is one structured entry per decision, delivered as
// newline-delimited JSON to append-only sinks.
type AuditRecord struct {
	ID               string          `json:"id"`
	Timestamp        time.Time       `json:"timestamp"`
	SubjectID        string          `json:"subject_id"`
	ResourceID       string          `json:"resource_id"`
	Action           Action          `json:"action"`
	Decision         DecisionOutcome `json:"decision"`
	Reason           string          `json:"reason"`
	MatchedPolicyIDs []string        `json:"matched_policy_ids,omitempty"`
	EvaluationTimeMs float64         `json:"evaluation_time_ms"`
	Cached           bool            `json:"cached"`
}

// AuditSink receives decision records. Sinks run on the dispatcher
// goroutine, off the decision path; a slow sink delays other sinks but
// never a caller.
type AuditSink interface {
	Write(ctx context.Context, rec *AuditRecord) error
}

// AuditSinkFunc adapts a function to the AuditSink interface.
type AuditSinkFunc func(ctx context.Context, rec *AuditRecord) error

func (f AuditSinkFunc) Write(ctx context.Context, rec *AuditRecord) error { return f(ctx, rec) }

// NDJSONSink writes one JSON object per line to an append-only stream.
type NDJSONSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewNDJSONSink(w io.Writer) *NDJSONSink {
	return &NDJSONSink{w: w}
}

func (s *NDJSONSink) Write(ctx context.Context, rec *AuditRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(data); err != nil {
		return err
	}
	_, err = s.w.Write([]byte{'\n'})
	return err
}

// StoreSink appends records to an AuditStore.
type StoreSink struct {
	store AuditStore
}

func NewStoreSink(store AuditStore) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Write(ctx context.Context, rec *AuditRecord) error {
	return s.store.Append(ctx, rec)
}

// LoggerSink emits one structured log line per record, for deployments
// that ship audit through the log pipeline instead of a store.
type LoggerSink struct {
	log logger.Logger
}

func NewLoggerSink(log logger.Logger) *LoggerSink {
	return &LoggerSink{log: log}
}

func (s *LoggerSink) Write(ctx context.Context, rec *AuditRecord) error {
	s.log.Info("audit",
		"record_id", rec.ID,
		"subject", rec.SubjectID,
		"resource", rec.ResourceID,
		"action", string(rec.Action),
		"decision", string(rec.Decision),
		"reason", rec.Reason,
		"cached", rec.Cached,
	)
	return nil
}

// auditDispatcher fans records out to sinks asynchronously. Emit never
// blocks: when the buffer is full, or after Close, the record is dropped
// and counted.
type auditDispatcher struct {
	ch      chan *AuditRecord
	sinks   []AuditSink
	log     logger.Logger
	dropped func()
	wg      sync.WaitGroup
	once    sync.Once

	mu     sync.RWMutex
	closed bool
}

func newAuditDispatcher(buffer int, sinks []AuditSink, log logger.Logger, dropped func()) *auditDispatcher {
	if buffer <= 0 {
		buffer = 1024
	}
	d := &auditDispatcher{
		ch:      make(chan *AuditRecord, buffer),
		sinks:   sinks,
		log:     log,
		dropped: dropped,
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *auditDispatcher) run() {
	defer d.wg.Done()
	bg := context.Background()
	for rec := range d.ch {
		for _, sink := range d.sinks {
			if err := sink.Write(bg, rec); err != nil {
				d.log.Warn("audit sink write failed", "sink_error", err.Error(), "record_id", rec.ID)
			}
		}
	}
}

func (d *auditDispatcher) Emit(rec *AuditRecord) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		if d.dropped != nil {
			d.dropped()
		}
		d.log.Warn("audit dispatcher closed, dropping record", "record_id", rec.ID)
		return
	}
	select {
	case d.ch <- rec:
	default:
		if d.dropped != nil {
			d.dropped()
		}
		d.log.Warn("audit buffer full, dropping record", "record_id", rec.ID)
	}
}

// Close drains pending records and stops the dispatcher. Emits arriving
// afterwards degrade to counted drops.
func (d *auditDispatcher) Close() {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.ch)
		d.wg.Wait()
	})
}

func newAuditRecord(dec *AccessDecision, subjectID, resourceID string, action Action) *AuditRecord {
	return &AuditRecord{
		ID:               uuid.NewString(),
		Timestamp:        dec.Timestamp,
		SubjectID:        subjectID,
		ResourceID:       resourceID,
		Action:           action,
		Decision:         dec.Decision,
		Reason:           dec.Reason,
		MatchedPolicyIDs: dec.MatchedPolicyIDs,
		EvaluationTimeMs: dec.EvaluationTimeMs,
		Cached:           dec.Cached,
	}
}
