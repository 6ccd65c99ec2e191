package guard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ============================================================================
// RISK EVALUATOR (external collaborator)
// ============================================================================

// RiskFactors describe a permitted high-risk request for external scoring.
type RiskFactors struct {
	OffHoursAccess      bool    `json:"off_hours_access"`
	ResourceSensitivity float64 `json:"resource_sensitivity"`
	ActionSeverity      float64 `json:"action_severity"`
	SubjectTrustTier    string  `json:"subject_trust_tier"`
}

// RiskScore is the evaluator's verdict, Score in [0,1].
type RiskScore struct {
	Score     float64   `json:"score"`
	Timestamp time.Time `json:"timestamp"`
}

// RiskEvaluator scores residual risk for Allow decisions on high-risk
// requests. Implementations must honor the context deadline; the engine
// calls Score with a bounded timeout and treats errors per RiskFailMode.
type RiskEvaluator interface {
	Score(ctx context.Context, factors RiskFactors) (RiskScore, error)
}

// RiskEvaluatorFunc adapts a function to the RiskEvaluator interface.
type RiskEvaluatorFunc func(ctx context.Context, factors RiskFactors) (RiskScore, error)

func (f RiskEvaluatorFunc) Score(ctx context.Context, factors RiskFactors) (RiskScore, error) {
	return f(ctx, factors)
}

// HTTPRiskEvaluator posts risk factors to a scoring endpoint.
type HTTPRiskEvaluator struct {
	endpoint string
	client   *http.Client
}

func NewHTTPRiskEvaluator(endpoint string, client *http.Client) *HTTPRiskEvaluator {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Second}
	}
	return &HTTPRiskEvaluator{endpoint: endpoint, client: client}
}

func (h *HTTPRiskEvaluator) Score(ctx context.Context, factors RiskFactors) (RiskScore, error) {
	body, err := json.Marshal(factors)
	if err != nil {
		return RiskScore{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return RiskScore{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.client.Do(req)
	if err != nil {
		return RiskScore{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return RiskScore{}, fmt.Errorf("risk endpoint returned status %d", resp.StatusCode)
	}
	var score RiskScore
	if err := json.NewDecoder(resp.Body).Decode(&score); err != nil {
		return RiskScore{}, err
	}
	if score.Score < 0 || score.Score > 1 {
		return RiskScore{}, fmt.Errorf("risk score %.3f outside [0,1]", score.Score)
	}
	if score.Timestamp.IsZero() {
		score.Timestamp = time.Now()
	}
	return score, nil
}

// BreakerRiskEvaluator wraps an evaluator in a circuit breaker so a
// flapping scoring service stops costing the full risk timeout on every
// request; while the breaker is open, calls fail immediately and the
// engine's fail mode takes over.
type BreakerRiskEvaluator struct {
	inner RiskEvaluator
	cb    *gobreaker.CircuitBreaker[RiskScore]
}

func NewBreakerRiskEvaluator(inner RiskEvaluator, openTimeout time.Duration) *BreakerRiskEvaluator {
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}
	cb := gobreaker.NewCircuitBreaker[RiskScore](gobreaker.Settings{
		Name:    "risk-evaluator",
		Timeout: openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &BreakerRiskEvaluator{inner: inner, cb: cb}
}

func (b *BreakerRiskEvaluator) Score(ctx context.Context, factors RiskFactors) (RiskScore, error) {
	return b.cb.Execute(func() (RiskScore, error) {
		return b.inner.Score(ctx, factors)
	})
}

// riskFactorsFor derives the factor vector the engine submits for a
// request it has classified high-risk.
func (e *Engine) riskFactorsFor(req *AccessRequest) RiskFactors {
	hour := req.Now.Hour()
	factors := RiskFactors{
		OffHoursAccess:   hour < 8 || hour >= 18,
		SubjectTrustTier: "standard",
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.sensitiveTypes[req.Resource.Type] {
		factors.ResourceSensitivity = 1.0
	} else {
		factors.ResourceSensitivity = 0.4
	}
	if e.elevatedActions[req.Action] {
		factors.ActionSeverity = 1.0
	} else {
		factors.ActionSeverity = 0.3
	}
	if tier, ok := req.Subject.Attrs["trust_tier"].(string); ok && tier != "" {
		factors.SubjectTrustTier = tier
	} else if req.Subject.Type == "system" {
		factors.SubjectTrustTier = "system"
	}
	return factors
}
