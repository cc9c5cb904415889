package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry and recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on retry.
	// Examples: connection drops, index lookup timeouts.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassBlocked indicates the run was stopped by policy.
	// Retrying without changing the configuration will not help.
	ErrorClassBlocked ErrorClass = "blocked"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: invalid configuration, authentication failures.
	ErrorClassPermanent ErrorClass = "permanent"
)

// EngineError represents a classified error with reconciliation context.
type EngineError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// MinionID is the machine being reconciled when the error occurred.
	MinionID string `json:"minion_id,omitempty"`

	// Stage is the reconciliation stage (grains, resolve, policy, render,
	// drift, apply) the error belongs to.
	Stage string `json:"stage,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.MinionID != "" && e.Stage != "" {
		return fmt.Sprintf("[%s] %s (minion=%s, stage=%s): %s",
			e.Class, e.Message, e.MinionID, e.Stage, e.unwrapMessage())
	}
	if e.Stage != "" {
		return fmt.Sprintf("[%s] %s (stage=%s): %s",
			e.Class, e.Message, e.Stage, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// unwrapMessage returns the error message from the underlying error chain.
func (e *EngineError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassTransient,
		Message: message,
		Err:     err,
	}
}

// NewBlockedError creates a new policy-blocked error.
func NewBlockedError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassBlocked,
		Message: message,
		Code:    ErrCodePolicyBlocked,
		Err:     err,
	}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// WithMinion adds machine context to an error.
func (e *EngineError) WithMinion(minionID string) *EngineError {
	e.MinionID = minionID
	return e
}

// WithStage adds stage context to an error.
func (e *EngineError) WithStage(stage string) *EngineError {
	e.Stage = stage
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsBlocked returns true if the error is a policy block.
func IsBlocked(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassBlocked
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsRetryable returns true if the error can be retried.
func IsRetryable(err error) bool {
	return IsTransient(err)
}

// Common error codes.
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodePolicyBlocked = "POLICY_BLOCKED"
	ErrCodeTransport     = "TRANSPORT_FAILED"
	ErrCodeResolution    = "RESOLUTION_FAILED"
	ErrCodeDrift         = "DRIFT_CHECK_FAILED"
	ErrCodeStore         = "STORE_FAILED"
	ErrCodeApply         = "APPLY_FAILED"
)
