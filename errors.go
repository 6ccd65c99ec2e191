package guard

import "fmt"

// NotFoundError reports an unknown subject or resource id. CheckAccess
// converts it into a terminal Deny; it never propagates as a call error.
type NotFoundError struct {
	Kind string // "subject", "resource", "role", "policy"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// ConfigurationError reports an invalid administrative mutation: duplicate
// ids, missing parent roles, role-graph cycles. It is returned to the
// admin caller at creation time, never raised during evaluation.
type ConfigurationError struct {
	Detail string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Detail
}

func configErrf(format string, args ...any) error {
	return &ConfigurationError{Detail: fmt.Sprintf(format, args...)}
}

// ConditionEvaluationError reports a malformed or unsafe policy condition.
// The affected policy is treated as a non-match and a warning is recorded.
type ConditionEvaluationError struct {
	PolicyID string
	Detail   string
}

func (e *ConditionEvaluationError) Error() string {
	return fmt.Sprintf("condition evaluation failed for policy %s: %s", e.PolicyID, e.Detail)
}

// RiskEvaluatorUnavailableError reports a failed or timed-out risk
// evaluator call. Depending on RiskFailMode the prior decision either
// stands (fail-open) or is overridden to Deny (fail-closed).
type RiskEvaluatorUnavailableError struct {
	Cause error
}

func (e *RiskEvaluatorUnavailableError) Error() string {
	return fmt.Sprintf("risk evaluator unavailable: %v", e.Cause)
}

func (e *RiskEvaluatorUnavailableError) Unwrap() error { return e.Cause }
