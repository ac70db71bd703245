/*
errors.go - Centralized error types for the refund decision engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every rejected operation leaves the decision unchanged and reports
  which rule blocked it.

ERROR CATEGORIES:
  1. Input errors      - InvalidAssessment (caller must fix data)
  2. State errors      - InvalidTransition (re-read state first)
  3. Business rules    - DuplicateActiveDecision, SelfApprovalForbidden,
                         AlreadyReviewed, AlreadySet
  4. Retryable errors  - ConcurrentModification, StorageUnavailable

USAGE:
  if errors.Is(err, deposit.ErrConcurrentModification) {
      // re-read the decision and retry
  }

  var te *deposit.TransitionError
  if errors.As(err, &te) {
      log.Printf("blocked in %s: %s", te.From, te.Reason)
  }

SEE ALSO:
  - workflow.go: Produces transition errors
  - calculator.go: Produces assessment errors
  - api/handlers.go: Maps errors to HTTP status codes
*/
package deposit

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAssessment is returned for malformed calculator input.
	ErrInvalidAssessment = errors.New("invalid assessment")

	// ErrInvalidTransition is returned when a state-machine precondition fails.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrDuplicateActiveDecision is returned when a deposit already has a
	// non-terminal decision.
	ErrDuplicateActiveDecision = errors.New("deposit already has an active refund decision")

	// ErrSelfApprovalForbidden enforces separation of duties between the
	// submitter and the finance approver.
	ErrSelfApprovalForbidden = errors.New("submitter may not approve their own decision")

	// ErrAlreadyReviewed is returned on a second HR review.
	ErrAlreadyReviewed = errors.New("hr review already completed")

	// ErrAlreadySet is returned when a once-only flag is set twice.
	ErrAlreadySet = errors.New("flag already set")

	// ErrConcurrentModification is returned when optimistic locking detects a conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrStorageUnavailable wraps backing-store failures. Retry with backoff.
	ErrStorageUnavailable = errors.New("storage unavailable")

	ErrDecisionNotFound = errors.New("refund decision not found")
	ErrDepositNotFound  = errors.New("deposit not found")

	// ErrInvalidRequest covers malformed operation arguments (missing actor,
	// empty recipient list).
	ErrInvalidRequest = errors.New("invalid request")

	// ErrReservedAuditAction is returned when a manual audit entry tries to
	// use an action type owned by the workflow.
	ErrReservedAuditAction = errors.New("audit action is reserved for workflow transitions")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// AssessmentError explains why an assessment was rejected.
type AssessmentError struct {
	Field  string
	Reason string
}

func (e *AssessmentError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid assessment: %s", e.Reason)
	}
	return fmt.Sprintf("invalid assessment: %s: %s", e.Field, e.Reason)
}

func (e *AssessmentError) Unwrap() error {
	return ErrInvalidAssessment
}

func invalidAssessment(field, format string, args ...any) error {
	return &AssessmentError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// TransitionError reports a blocked operation on a decision. Err is one of
// the business-rule sentinels and is what errors.Is matches against.
type TransitionError struct {
	DecisionID DecisionID
	Operation  string
	From       Status
	Reason     string
	Err        error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s on decision %s (status %s): %s: %v",
		e.Operation, e.DecisionID, e.From, e.Reason, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrStorageUnavailable)
}

// IsClientError returns true if the error is due to invalid caller input or
// a business rule the caller violated.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAssessment) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrDuplicateActiveDecision) ||
		errors.Is(err, ErrSelfApprovalForbidden) ||
		errors.Is(err, ErrAlreadyReviewed) ||
		errors.Is(err, ErrAlreadySet) ||
		errors.Is(err, ErrReservedAuditAction) ||
		errors.Is(err, ErrInvalidRequest)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDecisionNotFound) ||
		errors.Is(err, ErrDepositNotFound)
}

// Code returns a stable machine-readable code for an error.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidAssessment):
		return "invalid_assessment"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrDuplicateActiveDecision):
		return "duplicate_active_decision"
	case errors.Is(err, ErrSelfApprovalForbidden):
		return "self_approval_forbidden"
	case errors.Is(err, ErrAlreadyReviewed):
		return "already_reviewed"
	case errors.Is(err, ErrAlreadySet):
		return "already_set"
	case errors.Is(err, ErrConcurrentModification):
		return "concurrent_modification"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage_unavailable"
	case errors.Is(err, ErrDecisionNotFound), errors.Is(err, ErrDepositNotFound):
		return "not_found"
	case errors.Is(err, ErrReservedAuditAction):
		return "reserved_audit_action"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		return "internal"
	}
}
