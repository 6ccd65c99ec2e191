package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/oarkflow/guard/logger"
)

// ============================================================================
// DECISION COORDINATOR
// ============================================================================

// Engine coordinates both evaluation models: role-hierarchy permission
// resolution and attribute policy matching, merged under
// deny-overrides-allow, with a risk-override hook, TTL-cached decisions
// and asynchronous audit emission. All caches are owned by the engine
// instance and invalidated through its administrative operations; there
// is no process-wide hidden state.
type Engine struct {
	roles     RoleStore
	subjects  SubjectStore
	resources ResourceStore
	policies  PolicyStore
	audit     AuditStore

	// mu serializes administrative mutations against evaluation
	// snapshots: writers hold it exclusively while mutating stores and
	// invalidating caches, readers hold it shared only while
	// snapshotting, then evaluate off-lock.
	mu sync.RWMutex

	// generation advances on every decision-cache purge. Evaluations
	// snapshot it with the stores and skip the cache write when it has
	// moved, so a result computed before a mutation cannot be written
	// back after the purge and outlive it.
	generation uint64

	resolver  *permissionResolver
	evaluator *policyEvaluator

	cache    DecisionCache
	cacheTTL time.Duration

	flightMu sync.Mutex
	flights  map[string]*inflightCall

	risk            RiskEvaluator
	riskTimeout     time.Duration
	riskThreshold   float64
	riskFailClosed  bool
	sensitiveTypes  map[string]bool
	elevatedActions map[Action]bool

	dispatcher *auditDispatcher
	metrics    *engineMetrics
	log        logger.Logger
	now        func() time.Time
}

type inflightCall struct {
	done chan struct{}
	dec  *AccessDecision
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	log             logger.Logger
	cache           DecisionCache
	cacheTTL        time.Duration
	risk            RiskEvaluator
	riskTimeout     time.Duration
	riskThreshold   float64
	riskFailClosed  bool
	sensitiveTypes  []string
	elevatedActions []Action
	extraSinks      []AuditSink
	auditBuffer     int
	promRegisterer  prometheus.Registerer
	now             func() time.Time
}

func WithLogger(l logger.Logger) Option { return func(o *engineOptions) { o.log = l } }

func WithDecisionCache(c DecisionCache) Option { return func(o *engineOptions) { o.cache = c } }

func WithDecisionCacheTTL(ttl time.Duration) Option {
	return func(o *engineOptions) { o.cacheTTL = ttl }
}

func WithRiskEvaluator(r RiskEvaluator) Option { return func(o *engineOptions) { o.risk = r } }

func WithRiskTimeout(d time.Duration) Option { return func(o *engineOptions) { o.riskTimeout = d } }

func WithRiskThreshold(t float64) Option { return func(o *engineOptions) { o.riskThreshold = t } }

// WithRiskFailClosed flips the documented fail-open default: when the
// risk evaluator is unavailable, deny instead of letting the prior
// verdict stand.
func WithRiskFailClosed(closed bool) Option {
	return func(o *engineOptions) { o.riskFailClosed = closed }
}

func WithSensitiveResourceTypes(types ...string) Option {
	return func(o *engineOptions) { o.sensitiveTypes = append(o.sensitiveTypes, types...) }
}

func WithElevatedActions(actions ...Action) Option {
	return func(o *engineOptions) { o.elevatedActions = append(o.elevatedActions, actions...) }
}

func WithAuditSinks(sinks ...AuditSink) Option {
	return func(o *engineOptions) { o.extraSinks = append(o.extraSinks, sinks...) }
}

func WithAuditBuffer(n int) Option { return func(o *engineOptions) { o.auditBuffer = n } }

func WithPrometheus(reg prometheus.Registerer) Option {
	return func(o *engineOptions) { o.promRegisterer = reg }
}

// WithClock overrides the engine's time source, used by tests exercising
// time-window conditions and off-hours risk factors.
func WithClock(now func() time.Time) Option { return func(o *engineOptions) { o.now = now } }

func NewEngine(
	roles RoleStore,
	subjects SubjectStore,
	resources ResourceStore,
	policies PolicyStore,
	audit AuditStore,
	opts ...Option,
) (*Engine, error) {
	o := &engineOptions{
		cacheTTL:      time.Minute,
		riskTimeout:   5 * time.Millisecond,
		riskThreshold: 0.7,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = logger.NewPhusluLogger()
	}
	if o.cache == nil {
		o.cache = NewMemoryDecisionCache()
	}

	e := &Engine{
		roles:           roles,
		subjects:        subjects,
		resources:       resources,
		policies:        policies,
		audit:           audit,
		resolver:        newPermissionResolver(roles),
		evaluator:       newPolicyEvaluator(),
		cache:           o.cache,
		cacheTTL:        o.cacheTTL,
		flights:         make(map[string]*inflightCall),
		risk:            o.risk,
		riskTimeout:     o.riskTimeout,
		riskThreshold:   o.riskThreshold,
		riskFailClosed:  o.riskFailClosed,
		sensitiveTypes:  make(map[string]bool, len(o.sensitiveTypes)),
		elevatedActions: make(map[Action]bool, len(o.elevatedActions)),
		metrics:         newEngineMetrics(),
		log:             o.log,
		now:             o.now,
	}
	for _, t := range o.sensitiveTypes {
		e.sensitiveTypes[t] = true
	}
	for _, a := range o.elevatedActions {
		e.elevatedActions[a] = true
	}
	if o.promRegisterer != nil {
		if err := e.metrics.registerPrometheus(o.promRegisterer); err != nil {
			return nil, err
		}
	}

	sinks := make([]AuditSink, 0, 1+len(o.extraSinks))
	if audit != nil {
		sinks = append(sinks, NewStoreSink(audit))
	}
	sinks = append(sinks, o.extraSinks...)
	e.dispatcher = newAuditDispatcher(o.auditBuffer, sinks, e.log, e.metrics.recordAuditDrop)
	return e, nil
}

// Close drains the audit buffer and stops background work.
func (e *Engine) Close() {
	e.dispatcher.Close()
}

// Metrics returns a snapshot of the engine counters.
func (e *Engine) Metrics() MetricsSnapshot { return e.metrics.snapshot() }

// GetAuditLog queries the audit store.
func (e *Engine) GetAuditLog(ctx context.Context, filter AuditFilter) ([]*AuditRecord, error) {
	if e.audit == nil {
		return nil, fmt.Errorf("no audit store configured")
	}
	return e.audit.Query(ctx, filter)
}

// ============================================================================
// CHECK ACCESS
// ============================================================================

// CheckAccess evaluates one request and returns the decision. Missing
// subjects or resources yield a terminal Deny, not an error; the error
// return is reserved for caller cancellation and infrastructure failures.
func (e *Engine) CheckAccess(ctx context.Context, subjectID, resourceID string, action Action, reqCtx map[string]any) (*AccessDecision, error) {
	return e.checkAccess(ctx, subjectID, resourceID, action, reqCtx, false)
}

// Explain is CheckAccess with a step-by-step trace. It always performs a
// full evaluation so the trace is complete.
func (e *Engine) Explain(ctx context.Context, subjectID, resourceID string, action Action, reqCtx map[string]any) (*AccessDecision, error) {
	return e.checkAccess(ctx, subjectID, resourceID, action, reqCtx, true)
}

// CheckRequest bundles one BatchCheck item.
type CheckRequest struct {
	SubjectID  string
	ResourceID string
	Action     Action
	Context    map[string]any
}

// BatchCheck evaluates requests in order, stopping on the first
// infrastructure error.
func (e *Engine) BatchCheck(ctx context.Context, requests []CheckRequest) ([]*AccessDecision, error) {
	decisions := make([]*AccessDecision, len(requests))
	for i, req := range requests {
		dec, err := e.CheckAccess(ctx, req.SubjectID, req.ResourceID, req.Action, req.Context)
		if err != nil {
			return nil, err
		}
		decisions[i] = dec
	}
	return decisions, nil
}

func (e *Engine) checkAccess(ctx context.Context, subjectID, resourceID string, action Action, reqCtx map[string]any, trace bool) (*AccessDecision, error) {
	start := e.now()

	e.mu.RLock()
	gen := e.generation
	sub, subErr := e.subjects.GetSubject(ctx, subjectID)
	res, resErr := e.resources.GetResource(ctx, resourceID)
	e.mu.RUnlock()

	if subErr != nil || resErr != nil {
		dec := &AccessDecision{
			Decision:   DecisionDeny,
			Reason:     ReasonNotFound,
			Confidence: 1,
			Timestamp:  start,
		}
		if subErr != nil {
			dec.Warnings = append(dec.Warnings, subErr.Error())
		}
		if resErr != nil {
			dec.Warnings = append(dec.Warnings, resErr.Error())
		}
		if trace {
			dec.Trace = []string{"DENY: subject or resource not found"}
		}
		e.finish(dec, subjectID, resourceID, action, start)
		return dec, nil
	}

	key := cacheKey(subjectID, resourceID, action, reqCtx)
	if !trace {
		if cached, ok := e.decisionCache().Get(ctx, key); ok {
			hit := *cached
			hit.Cached = true
			e.metrics.recordCacheHit()
			e.finish(&hit, subjectID, resourceID, action, start)
			return &hit, nil
		}
		e.metrics.recordCacheMiss()
	}

	req := &AccessRequest{
		Subject:  sub,
		Resource: res,
		Action:   action,
		Context:  reqCtx,
		Now:      start,
	}

	if trace {
		// trace evaluations bypass single-flight so the trail reflects
		// this call, not a concurrent one
		dec, err := e.evaluate(ctx, req, key, gen, start, true)
		if err != nil {
			return nil, err
		}
		e.finish(dec, subjectID, resourceID, action, start)
		return dec, nil
	}

	dec, err := e.singleFlight(ctx, key, func(ctx context.Context) (*AccessDecision, error) {
		return e.evaluate(ctx, req, key, gen, start, false)
	})
	if err != nil {
		return nil, err
	}
	e.finish(dec, subjectID, resourceID, action, start)
	return dec, nil
}

// singleFlight ensures at most one in-flight evaluation populates the
// cache per key, so a stampede cannot duplicate risk-evaluator calls.
func (e *Engine) singleFlight(ctx context.Context, key string, fn func(context.Context) (*AccessDecision, error)) (*AccessDecision, error) {
	e.flightMu.Lock()
	if call, ok := e.flights[key]; ok {
		e.flightMu.Unlock()
		select {
		case <-call.done:
			if call.dec != nil {
				shared := *call.dec
				return &shared, nil
			}
			// the leader was cancelled; evaluate independently
			return fn(ctx)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &inflightCall{done: make(chan struct{})}
	e.flights[key] = call
	e.flightMu.Unlock()

	dec, err := fn(ctx)
	call.dec = dec
	e.flightMu.Lock()
	delete(e.flights, key)
	e.flightMu.Unlock()
	close(call.done)
	return dec, err
}

// evaluate runs the full pipeline: attribute policies, role permissions,
// merge, risk check, then cache write. The caller's cancellation is
// honored before any state is written so a cancelled call leaves no
// partial cache or audit entries.
func (e *Engine) evaluate(ctx context.Context, req *AccessRequest, key string, gen uint64, start time.Time, trace bool) (*AccessDecision, error) {
	dec := &AccessDecision{Timestamp: start}
	var tracePtr *[]string
	if trace {
		dec.Trace = make([]string, 0, 8)
		tracePtr = &dec.Trace
	}

	flat := req.flatten()

	e.mu.RLock()
	policies, polErr := e.policies.ListPolicies(ctx)
	perms, permErr := e.resolver.Resolve(ctx, req.Subject)
	e.mu.RUnlock()
	if polErr != nil {
		return nil, polErr
	}
	if permErr != nil {
		return nil, permErr
	}

	verdict := e.evaluator.Evaluate(policies, req, flat, tracePtr)
	dec.Warnings = append(dec.Warnings, verdict.warnings...)
	for _, w := range verdict.warnings {
		e.log.Warn("policy condition skipped", "detail", w)
	}
	dec.MatchedPolicyIDs = verdict.matchedIDs

	// RBAC runs only when no policy denied: deny overrides everything,
	// so there is nothing a permission match could change.
	attr := verdict.outcome()
	if attr != DecisionDeny {
		for _, p := range perms {
			if permissionMatches(p, req) {
				dec.MatchedPermissions = append(dec.MatchedPermissions, p.Key())
			}
		}
		if tracePtr != nil {
			*tracePtr = append(*tracePtr, fmt.Sprintf("rbac matched_permissions=%d", len(dec.MatchedPermissions)))
		}
	}

	switch {
	case attr == DecisionDeny:
		dec.Decision = DecisionDeny
		dec.Reason = reasonPolicyDeny + ":" + verdict.topDeny().ID
	case attr == DecisionAllow:
		dec.Decision = DecisionAllow
		dec.Reason = reasonPolicyPermit + ":" + verdict.matchedAllow[0].ID
	case len(dec.MatchedPermissions) > 0:
		dec.Decision = DecisionAllow
		dec.Reason = reasonPermission
	default:
		dec.Decision = DecisionDeny
		dec.Reason = ReasonNoMatch
	}
	dec.Confidence = confidenceFor(verdict)
	if tracePtr != nil {
		*tracePtr = append(*tracePtr, fmt.Sprintf("merge decision=%s reason=%s", dec.Decision, dec.Reason))
	}

	if dec.Decision == DecisionAllow && e.risk != nil && e.isHighRisk(req) {
		e.applyRiskCheck(ctx, req, dec, tracePtr)
	}

	// write nothing for cancelled callers
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dec.EvaluationTimeMs = float64(time.Since(start).Microseconds()) / 1000.0

	cached := *dec
	cached.Trace = nil
	e.mu.RLock()
	cache, ttl := e.cache, e.cacheTTL
	stale := e.generation != gen
	e.mu.RUnlock()
	if stale {
		// a mutation landed mid-evaluation; this decision may predate
		// it and must not be written back after the purge
		return dec, nil
	}
	if err := cache.Set(ctx, key, &cached, ttl); err != nil {
		// best-effort: the decision is still returned
		e.log.Warn("decision cache write failed", "error", err.Error())
	}
	return dec, nil
}

func (e *Engine) decisionCache() DecisionCache {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cache
}

// isHighRisk classifies a request by configured sensitive resource types
// and elevated actions.
func (e *Engine) isHighRisk(req *AccessRequest) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sensitiveTypes[req.Resource.Type] || e.elevatedActions[req.Action]
}

func (e *Engine) applyRiskCheck(ctx context.Context, req *AccessRequest, dec *AccessDecision, tracePtr *[]string) {
	e.mu.RLock()
	timeout, threshold, failClosed := e.riskTimeout, e.riskThreshold, e.riskFailClosed
	e.mu.RUnlock()

	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	score, err := e.risk.Score(rctx, e.riskFactorsFor(req))
	if err != nil {
		unavail := &RiskEvaluatorUnavailableError{Cause: err}
		dec.Warnings = append(dec.Warnings, unavail.Error())
		e.log.Warn("risk evaluator call failed", "error", err.Error(), "fail_closed", failClosed)
		if failClosed {
			dec.Decision = DecisionDeny
			dec.Reason = ReasonRiskUnavailable
			dec.Confidence *= 0.5
		}
		if tracePtr != nil {
			*tracePtr = append(*tracePtr, "risk evaluator unavailable: "+err.Error())
		}
		return
	}
	if tracePtr != nil {
		*tracePtr = append(*tracePtr, fmt.Sprintf("risk score=%.3f threshold=%.3f", score.Score, threshold))
	}
	if score.Score > threshold {
		dec.Decision = DecisionDeny
		dec.Reason = ReasonRiskOverride
		dec.Confidence *= 0.6
	}
}

// confidenceFor scores how confident the engine is in a decision: a base
// scaled by the fraction of configured policies actually evaluated,
// reduced per deny-causing match proportional to its priority.
func confidenceFor(verdict *policyVerdict) float64 {
	const base = 0.95
	coverage := 1.0
	if verdict.total > 0 {
		coverage = float64(verdict.evaluated) / float64(verdict.total)
	}
	conf := base * coverage
	for _, p := range verdict.matchedDeny {
		severity := float64(p.Priority) / 1000.0
		if severity > 1 {
			severity = 1
		}
		if severity < 0.1 {
			severity = 0.1
		}
		conf -= 0.1 * severity
	}
	if conf < 0.05 {
		conf = 0.05
	}
	return conf
}

// finish records metrics and emits the audit record for a decision.
func (e *Engine) finish(dec *AccessDecision, subjectID, resourceID string, action Action, start time.Time) {
	if dec.EvaluationTimeMs == 0 && !dec.Cached {
		dec.EvaluationTimeMs = float64(time.Since(start).Microseconds()) / 1000.0
	}
	e.metrics.recordDecision(dec, time.Since(start))
	e.dispatcher.Emit(newAuditRecord(dec, subjectID, resourceID, action))
	e.log.Debug("access decision",
		"subject", subjectID,
		"resource", resourceID,
		"action", string(action),
		"decision", string(dec.Decision),
		"reason", dec.Reason,
		"cached", dec.Cached,
	)
}

// ============================================================================
// ADMINISTRATIVE OPERATIONS
// ============================================================================

// invalidateCaches drops the permission memo, compiled conditions and the
// decision cache. Callers must hold e.mu exclusively so readers cannot
// observe fresh data with stale cache entries.
func (e *Engine) invalidateCaches(ctx context.Context) {
	e.resolver.InvalidateAll()
	e.evaluator.Purge()
	e.purgeDecisions(ctx)
}

// purgeDecisions drops cached decisions and advances the generation.
// Callers must hold e.mu exclusively.
func (e *Engine) purgeDecisions(ctx context.Context) {
	e.generation++
	if err := e.cache.Purge(ctx); err != nil {
		e.log.Warn("decision cache purge failed", "error", err.Error())
	}
}

// CreateRole validates the role against the current graph and stores it.
// Unknown parents and cycles are rejected here, at creation time.
func (e *Engine) CreateRole(ctx context.Context, role *Role) error {
	if role == nil || role.Name == "" {
		return configErrf("role name is required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.roles.GetRole(ctx, role.Name); err == nil {
		return configErrf("duplicate role %q", role.Name)
	}
	if err := validateRoleGraph(ctx, e.roles, role); err != nil {
		return err
	}
	if err := e.roles.CreateRole(ctx, role); err != nil {
		return err
	}
	e.invalidateCaches(ctx)
	return nil
}

func (e *Engine) RemoveRole(ctx context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.roles.DeleteRole(ctx, name); err != nil {
		return err
	}
	e.invalidateCaches(ctx)
	return nil
}

// CreateSubject stores a subject snapshot from the identity registry.
// Referenced roles must already exist.
func (e *Engine) CreateSubject(ctx context.Context, sub *Subject) error {
	if sub == nil || sub.ID == "" {
		return configErrf("subject id is required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.subjects.GetSubject(ctx, sub.ID); err == nil {
		return configErrf("duplicate subject %q", sub.ID)
	}
	for _, role := range sub.Roles {
		if _, err := e.roles.GetRole(ctx, role); err != nil {
			return configErrf("subject %q references unknown role %q", sub.ID, role)
		}
	}
	if err := e.subjects.CreateSubject(ctx, sub); err != nil {
		return err
	}
	e.resolver.InvalidateSubject(sub.ID)
	return nil
}

func (e *Engine) RemoveSubject(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.subjects.DeleteSubject(ctx, id); err != nil {
		return err
	}
	e.resolver.InvalidateSubject(id)
	e.purgeDecisions(ctx)
	return nil
}

// AssignRole adds a role to a subject's assignment.
func (e *Engine) AssignRole(ctx context.Context, subjectID, roleName string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	sub, err := e.subjects.GetSubject(ctx, subjectID)
	if err != nil {
		return err
	}
	if _, err := e.roles.GetRole(ctx, roleName); err != nil {
		return configErrf("unknown role %q", roleName)
	}
	for _, r := range sub.Roles {
		if r == roleName {
			return nil
		}
	}
	updated := *sub
	updated.Roles = append(append([]string{}, sub.Roles...), roleName)
	if err := e.subjects.UpdateSubject(ctx, &updated); err != nil {
		return err
	}
	e.resolver.InvalidateSubject(subjectID)
	e.purgeDecisions(ctx)
	return nil
}

// RevokeRole removes a role from a subject's assignment.
func (e *Engine) RevokeRole(ctx context.Context, subjectID, roleName string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	sub, err := e.subjects.GetSubject(ctx, subjectID)
	if err != nil {
		return err
	}
	updated := *sub
	updated.Roles = make([]string, 0, len(sub.Roles))
	for _, r := range sub.Roles {
		if r != roleName {
			updated.Roles = append(updated.Roles, r)
		}
	}
	if err := e.subjects.UpdateSubject(ctx, &updated); err != nil {
		return err
	}
	e.resolver.InvalidateSubject(subjectID)
	e.purgeDecisions(ctx)
	return nil
}

func (e *Engine) CreateResource(ctx context.Context, res *Resource) error {
	if res == nil || res.ID == "" {
		return configErrf("resource id is required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.resources.GetResource(ctx, res.ID); err == nil {
		return configErrf("duplicate resource %q", res.ID)
	}
	return e.resources.CreateResource(ctx, res)
}

func (e *Engine) RemoveResource(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.resources.DeleteResource(ctx, id); err != nil {
		return err
	}
	e.purgeDecisions(ctx)
	return nil
}

// CreatePolicy validates and stores an attribute policy. Conditions are
// compiled lazily; a condition that fails to parse surfaces as a warning
// at evaluation time, not an error here.
func (e *Engine) CreatePolicy(ctx context.Context, p *AttributePolicy) error {
	if err := validatePolicy(p); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.policies.GetPolicy(ctx, p.ID); err == nil {
		return configErrf("duplicate policy %q", p.ID)
	}
	if err := e.policies.CreatePolicy(ctx, p); err != nil {
		return err
	}
	e.invalidateCaches(ctx)
	return nil
}

func (e *Engine) RemovePolicy(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.policies.DeletePolicy(ctx, id); err != nil {
		return err
	}
	e.invalidateCaches(ctx)
	return nil
}

// SetPolicyEnabled toggles a policy without removing it.
func (e *Engine) SetPolicyEnabled(ctx context.Context, id string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.policies.GetPolicy(ctx, id)
	if err != nil {
		return err
	}
	updated := *p
	updated.Disabled = !enabled
	if err := e.policies.UpdatePolicy(ctx, &updated); err != nil {
		return err
	}
	e.invalidateCaches(ctx)
	return nil
}

func validatePolicy(p *AttributePolicy) error {
	if p == nil || p.ID == "" {
		return configErrf("policy id is required")
	}
	if p.Effect != EffectPermit && p.Effect != EffectDeny {
		return configErrf("policy %q has invalid effect %q", p.ID, p.Effect)
	}
	for path, crit := range p.Target {
		switch crit.Op {
		case OpEquals, OpNotEquals, OpIn, OpNotIn, OpContains, OpNotContains, OpMatchesPattern, OpRangeInclusive:
		default:
			return configErrf("policy %q target %q has unknown operator %q", p.ID, path, crit.Op)
		}
	}
	return nil
}

// InvalidateDecisionCache drops every cached decision explicitly.
func (e *Engine) InvalidateDecisionCache(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.invalidateCaches(ctx)
}

// ListEffectivePermissions exposes the resolver output for admin tooling.
func (e *Engine) ListEffectivePermissions(ctx context.Context, subjectID string) ([]Permission, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	sub, err := e.subjects.GetSubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	perms, err := e.resolver.Resolve(ctx, sub)
	if err != nil {
		return nil, err
	}
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out, nil
}

// SimulatePolicy dry-runs a policy against a request without storing it.
func (e *Engine) SimulatePolicy(ctx context.Context, p *AttributePolicy, subjectID, resourceID string, action Action, reqCtx map[string]any) (bool, error) {
	if err := validatePolicy(p); err != nil {
		return false, err
	}
	e.mu.RLock()
	sub, subErr := e.subjects.GetSubject(ctx, subjectID)
	res, resErr := e.resources.GetResource(ctx, resourceID)
	e.mu.RUnlock()
	if subErr != nil {
		return false, subErr
	}
	if resErr != nil {
		return false, resErr
	}
	req := &AccessRequest{Subject: sub, Resource: res, Action: action, Context: reqCtx, Now: e.now()}
	return e.evaluator.policyMatches(p, req.flatten())
}
