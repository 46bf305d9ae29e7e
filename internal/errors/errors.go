// Package errors provides structured error handling for lanscout operations.
// It defines error codes and typed errors for scanning, discovery, storage
// and notification failures so callers can branch on the failure class
// instead of matching message strings.
package errors

import (
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeCanceled      ErrorCode = "CANCELED"
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeConflict      ErrorCode = "CONFLICT"

	// Discovery and probing errors.
	CodeRestricted      ErrorCode = "RESTRICTED"
	CodeTargetInvalid   ErrorCode = "TARGET_INVALID"
	CodeDiscoveryFailed ErrorCode = "DISCOVERY_FAILED"
	CodeScanFailed      ErrorCode = "SCAN_FAILED"
	CodeScanTerminal    ErrorCode = "SCAN_TERMINAL"

	// Database errors.
	CodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION"
	CodeDatabaseQuery      ErrorCode = "DATABASE_QUERY"
	CodeDatabaseMigration  ErrorCode = "DATABASE_MIGRATION"

	// Notification errors.
	CodeNotifyFailed ErrorCode = "NOTIFY_FAILED"
)

// ScanError represents an error that occurred while executing a scan job.
type ScanError struct {
	Code    ErrorCode
	Message string
	ScanID  string
	Target  string
	Cause   error
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("[%s] %s (target: %s)", e.Code, e.Message, e.Target)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ScanError) Unwrap() error {
	return e.Cause
}

// NewScanError creates a new scan error with the specified code and message.
func NewScanError(code ErrorCode, message string) *ScanError {
	return &ScanError{Code: code, Message: message}
}

// WrapScanError wraps an existing error as a scan error.
func WrapScanError(code ErrorCode, message string, err error) *ScanError {
	return &ScanError{Code: code, Message: message, Cause: err}
}

// WrapScanErrorWithTarget wraps an error with target information.
func WrapScanErrorWithTarget(code ErrorCode, message, target string, err error) *ScanError {
	return &ScanError{Code: code, Message: message, Target: target, Cause: err}
}

// DiscoveryError represents network discovery errors.
type DiscoveryError struct {
	Code    ErrorCode
	Message string
	Network string
	Cause   error
}

// Error implements the error interface.
func (e *DiscoveryError) Error() string {
	if e.Network != "" {
		return fmt.Sprintf("[%s] %s (network: %s)", e.Code, e.Message, e.Network)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *DiscoveryError) Unwrap() error {
	return e.Cause
}

// NewDiscoveryError creates a new discovery error.
func NewDiscoveryError(code ErrorCode, message string) *DiscoveryError {
	return &DiscoveryError{Code: code, Message: message}
}

// WrapDiscoveryError wraps an existing error as a discovery error.
func WrapDiscoveryError(code ErrorCode, message, network string, err error) *DiscoveryError {
	return &DiscoveryError{Code: code, Message: message, Network: network, Cause: err}
}

// DatabaseError represents database-related errors.
type DatabaseError struct {
	Code      ErrorCode
	Message   string
	Operation string
	Cause     error
}

// Error implements the error interface.
func (e *DatabaseError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("[%s] %s (operation: %s)", e.Code, e.Message, e.Operation)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *DatabaseError) Unwrap() error {
	return e.Cause
}

// NewDatabaseError creates a new database error.
func NewDatabaseError(code ErrorCode, message string) *DatabaseError {
	return &DatabaseError{Code: code, Message: message}
}

// WrapDatabaseError wraps an existing error as a database error.
func WrapDatabaseError(code ErrorCode, message string, err error) *DatabaseError {
	return &DatabaseError{Code: code, Message: message, Cause: err}
}

// NotifyError represents event publication errors. These are always
// best-effort: callers log them and move on.
type NotifyError struct {
	Code    ErrorCode
	Message string
	Topic   string
	Cause   error
}

// Error implements the error interface.
func (e *NotifyError) Error() string {
	if e.Topic != "" {
		return fmt.Sprintf("[%s] %s (topic: %s)", e.Code, e.Message, e.Topic)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *NotifyError) Unwrap() error {
	return e.Cause
}

// WrapNotifyError wraps an existing error as a notification error.
func WrapNotifyError(message, topic string, err error) *NotifyError {
	return &NotifyError{Code: CodeNotifyFailed, Message: message, Topic: topic, Cause: err}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string) *ConfigError {
	return &ConfigError{Code: code, Message: message, Field: field}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(message string, err error) *ConfigError {
	return &ConfigError{Code: CodeConfiguration, Message: message, Cause: err}
}

// GetCode extracts the error code from an error if it has one.
func GetCode(err error) ErrorCode {
	switch e := err.(type) {
	case *ScanError:
		return e.Code
	case *DiscoveryError:
		return e.Code
	case *DatabaseError:
		return e.Code
	case *NotifyError:
		return e.Code
	case *ConfigError:
		return e.Code
	}
	return CodeUnknown
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// IsRestricted reports whether an error indicates missing link-layer
// privileges. Discovery treats this as a degradation, not a failure.
func IsRestricted(err error) bool {
	return IsCode(err, CodeRestricted)
}

// IsTerminal reports whether an error was caused by attempting to modify
// a scan already in a terminal state.
func IsTerminal(err error) bool {
	return IsCode(err, CodeScanTerminal)
}

// ErrScanTerminal creates an error for updates against a finished scan.
func ErrScanTerminal(scanID, status string) *ScanError {
	return &ScanError{
		Code:    CodeScanTerminal,
		Message: fmt.Sprintf("scan is already %s and cannot be modified", status),
		ScanID:  scanID,
	}
}

// ErrInvalidTarget creates an error for invalid scan targets.
func ErrInvalidTarget(target string) *ScanError {
	return &ScanError{Code: CodeTargetInvalid, Message: "invalid target specification", Target: target}
}

// ErrDatabaseConnection creates an error for database connection failures.
func ErrDatabaseConnection(err error) *DatabaseError {
	return WrapDatabaseError(CodeDatabaseConnection, "failed to connect to database", err)
}
