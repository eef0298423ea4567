package types

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeConflict     ErrorType = "conflict"
	ErrorTypeInvalidState ErrorType = "invalid_state"
	ErrorTypeInternal     ErrorType = "internal"
)

// MedrexError represents a structured error returned by the engine
type MedrexError struct {
	Type    ErrorType              `json:"type"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *MedrexError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error
func (e *MedrexError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a new validation error
func NewValidationError(code, message string, details map[string]interface{}) *MedrexError {
	return &MedrexError{
		Type:    ErrorTypeValidation,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(code, message string) *MedrexError {
	return &MedrexError{
		Type:    ErrorTypeNotFound,
		Code:    code,
		Message: message,
	}
}

// NewConflictError creates a slot conflict error naming the blocking clinician
func NewConflictError(blockingClinicianID, blockingClinicianName string) *MedrexError {
	return &MedrexError{
		Type:    ErrorTypeConflict,
		Code:    ErrCodeSlotConflict,
		Message: fmt.Sprintf("unavailable - conflicts with %s", blockingClinicianName),
		Details: map[string]interface{}{
			"blocking_clinician_id":   blockingClinicianID,
			"blocking_clinician_name": blockingClinicianName,
		},
	}
}

// NewInvalidStateError creates a new invalid state error
func NewInvalidStateError(code, message string) *MedrexError {
	return &MedrexError{
		Type:    ErrorTypeInvalidState,
		Code:    code,
		Message: message,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(code, message string, cause error) *MedrexError {
	return &MedrexError{
		Type:    ErrorTypeInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// ErrorTypeOf returns the type of the first MedrexError in err's chain,
// or ErrorTypeInternal when there is none
func ErrorTypeOf(err error) ErrorType {
	var me *MedrexError
	if errors.As(err, &me) {
		return me.Type
	}
	return ErrorTypeInternal
}

// IsErrorType reports whether err carries a MedrexError of type t
func IsErrorType(err error, t ErrorType) bool {
	var me *MedrexError
	return errors.As(err, &me) && me.Type == t
}

// BlockingClinicianName extracts the blocking party from a conflict error
func BlockingClinicianName(err error) string {
	var me *MedrexError
	if !errors.As(err, &me) || me.Type != ErrorTypeConflict {
		return ""
	}
	name, _ := me.Details["blocking_clinician_name"].(string)
	return name
}

// Common error codes
const (
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeInvalidTimeOfDay  = "INVALID_TIME_OF_DAY"
	ErrCodeInvalidDate       = "INVALID_DATE"
	ErrCodeSelfReferral      = "SELF_REFERRAL"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeSlotConflict      = "SLOT_CONFLICT"
	ErrCodeAlreadyResponded  = "REFERRAL_ALREADY_RESPONDED"
	ErrCodeAppointmentClosed = "APPOINTMENT_CLOSED"
	ErrCodeNotStartable      = "APPOINTMENT_NOT_STARTABLE"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeTransactionFailed = "TRANSACTION_FAILED"
)
