package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func Validation(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// NotFoundError names the entity and, when known, the missing ids.
type NotFoundError struct {
	Entity string
	IDs    []int64
}

func (e *NotFoundError) Error() string {
	if len(e.IDs) == 0 {
		return fmt.Sprintf("%s not found", e.Entity)
	}
	parts := make([]string, len(e.IDs))
	for i, id := range e.IDs {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return fmt.Sprintf("%s not found: %s", e.Entity, strings.Join(parts, ", "))
}

type AuthorizationError struct {
	Message string
}

func (e *AuthorizationError) Error() string {
	if e.Message == "" {
		return "access denied"
	}
	return e.Message
}

func Forbidden(format string, args ...interface{}) error {
	return &AuthorizationError{Message: fmt.Sprintf(format, args...)}
}

// UnauthenticatedError means no credentials were presented or none were
// recognized.
type UnauthenticatedError struct {
	Message string
}

func (e *UnauthenticatedError) Error() string {
	if e.Message == "" {
		return "authentication required"
	}
	return e.Message
}

func Unauthenticated(message string) error {
	return &UnauthenticatedError{Message: message}
}

// ConflictResolutionFailedError reports a write phase that was rolled back.
type ConflictResolutionFailedError struct {
	Cause error
}

func (e *ConflictResolutionFailedError) Error() string {
	return fmt.Sprintf("conflict resolution failed: %v", e.Cause)
}

func (e *ConflictResolutionFailedError) Unwrap() error {
	return e.Cause
}

type DataIntegrityError struct {
	SessionID int64
	Message   string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("session %d: %s", e.SessionID, e.Message)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsAuthorization(err error) bool {
	var ae *AuthorizationError
	return errors.As(err, &ae)
}

func IsUnauthenticated(err error) bool {
	var ue *UnauthenticatedError
	return errors.As(err, &ue)
}

func IsDataIntegrity(err error) bool {
	var de *DataIntegrityError
	return errors.As(err, &de)
}

// IsClientFacing reports errors detected before any mutation that the
// caller can correct.
func IsClientFacing(err error) bool {
	return IsValidation(err) || IsNotFound(err) || IsAuthorization(err) || IsUnauthenticated(err)
}
