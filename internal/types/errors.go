package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
//
// The prefix carries the handling contract:
//
//	gate_*        expected control-flow outcome; the event failed an
//	              admission criterion. Logged, never escalated.
//	timeout_*     an external poll exhausted its budget. Terminal for the
//	              current pass; the cadence pass may reconsider later.
//	transient_*   a collaborator call failed with a retryable status.
//	              Retried with backoff inside the client, never indefinitely.
//	consistency_* the persisted record contradicts the collaborator's state.
//	              Fatal for the record; automated progress stops pending
//	              manual inspection.
//	internal_*    infrastructure faults (database, unexpected).
type ErrorCode string

const (
	// Gate failures (expected control flow).
	ErrCodeGateMalformedID     ErrorCode = "gate_malformed_event_id"
	ErrCodeGateRetraction      ErrorCode = "gate_retraction"
	ErrCodeGateNotSignificant  ErrorCode = "gate_not_significant"
	ErrCodeGateWrongGroup      ErrorCode = "gate_wrong_group"
	ErrCodeGateClassProb       ErrorCode = "gate_class_probability"
	ErrCodeGateNoDistance      ErrorCode = "gate_distance_unavailable"
	ErrCodeGateFalseAlarmRate  ErrorCode = "gate_false_alarm_rate"
	ErrCodeGateSkyArea         ErrorCode = "gate_sky_area"
	ErrCodeGateLowConfidence   ErrorCode = "gate_low_confidence_preliminary"
	ErrCodeGateMass            ErrorCode = "gate_mass_threshold"
	ErrCodeGatePlanStats       ErrorCode = "gate_plan_statistics"
	ErrCodeGateEventAge        ErrorCode = "gate_event_too_old"
	ErrCodeGateForeignTrigger  ErrorCode = "gate_foreign_trigger"
	ErrCodeGateAfterCutoff     ErrorCode = "gate_after_daily_cutoff"

	// Timeouts.
	ErrCodeTimeoutPlanStats ErrorCode = "timeout_plan_statistics"
	ErrCodeTimeoutMass      ErrorCode = "timeout_mass_estimate"

	// Transient upstream failures.
	ErrCodeTransientPlanning ErrorCode = "transient_planning_service"
	ErrCodeTransientCoverage ErrorCode = "transient_coverage_service"
	ErrCodeTransientBatch    ErrorCode = "transient_batch_service"
	ErrCodeTransientUpstream ErrorCode = "transient_upstream"

	// Consistency violations (fatal for the record).
	ErrCodeConsistencyMultiplePlans ErrorCode = "consistency_multiple_plans"
	ErrCodeConsistencyBatchCount    ErrorCode = "consistency_batch_count_mismatch"
	ErrCodeConsistencyStaleRecord   ErrorCode = "consistency_stale_record"

	// Internal.
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
)

// AppError is the standard application error type. All domain errors are
// expressed as AppError so callers can branch on the handling contract via
// the code prefix instead of string matching.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError with the given code, message, and
// optional underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// GateFailure builds a gate_* AppError. Gate failures are values threaded
// through the decision pipeline, not faults.
func GateFailure(code ErrorCode, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func codeHasPrefix(err error, prefix string) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return strings.HasPrefix(string(appErr.Code), prefix)
}

// IsGateFailure reports whether err is an expected admission-gate outcome.
func IsGateFailure(err error) bool { return codeHasPrefix(err, "gate_") }

// IsTimeout reports whether err is an exhausted poll budget.
func IsTimeout(err error) bool { return codeHasPrefix(err, "timeout_") }

// IsTransient reports whether err is a retryable upstream failure.
func IsTransient(err error) bool { return codeHasPrefix(err, "transient_") }

// IsConsistency reports whether err is fatal for the record it concerns.
func IsConsistency(err error) bool { return codeHasPrefix(err, "consistency_") }
