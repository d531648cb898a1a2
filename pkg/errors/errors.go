package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation       ErrorType = "validation"
	ErrorTypeNotFound         ErrorType = "not_found"
	ErrorTypeConflict         ErrorType = "conflict"
	ErrorTypeProcess          ErrorType = "process"
	ErrorTypeTimeout          ErrorType = "timeout"
	ErrorTypePermission       ErrorType = "permission"
	ErrorTypeIO               ErrorType = "io"
	ErrorTypeNetwork          ErrorType = "network"
	ErrorTypeInternal         ErrorType = "internal"
	ErrorTypeCancelled        ErrorType = "cancelled"
	ErrorTypeConfiguration    ErrorType = "configuration"
	ErrorTypeDownload         ErrorType = "download"
	ErrorTypeExtensionLoad    ErrorType = "extension_load"
	ErrorTypeExtensionRuntime ErrorType = "extension_runtime"
)

// Reason further classifies configuration and extension load errors.
type Reason string

const (
	ReasonMalformedDocument     Reason = "malformed_document"
	ReasonMissingRequiredField  Reason = "missing_required_field"
	ReasonDuplicateExtensionID  Reason = "duplicate_extension_id"
	ReasonInvalidEnumValue      Reason = "invalid_enum_value"
	ReasonInvalidValue          Reason = "invalid_value"
	ReasonUnsupportedExtension  Reason = "unsupported_extension"
	ReasonDuplicateExtension    Reason = "duplicate_extension"
	ReasonExtensionConstruction Reason = "extension_construction"
)

const reasonKey = "reason"

// DomainError represents a structured error with type and context
type DomainError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *DomainError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Type))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if reason, ok := e.Context[reasonKey]; ok {
		fmt.Fprintf(&b, " (%v)", reason)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if the error is of a specific type
func (e *DomainError) Is(target error) bool {
	if other, ok := target.(*DomainError); ok {
		return e.Type == other.Type
	}
	return false
}

// WithContext adds context information to the error
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Reason returns the classification attached with WithReason, if any.
func (e *DomainError) Reason() Reason {
	if r, ok := e.Context[reasonKey].(Reason); ok {
		return r
	}
	return ""
}

// WithReason attaches a reason to the error.
func (e *DomainError) WithReason(reason Reason) *DomainError {
	return e.WithContext(reasonKey, reason)
}

// NewDomainError creates a new domain error
func NewDomainError(errorType ErrorType, message string, cause error) *DomainError {
	return &DomainError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

func NewValidationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, cause)
}

func NewNotFoundError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNotFound, message, cause)
}

func NewConflictError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeConflict, message, cause)
}

func NewProcessError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeProcess, message, cause)
}

func NewTimeoutError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeTimeout, message, cause)
}

func NewPermissionError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypePermission, message, cause)
}

func NewIOError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeIO, message, cause)
}

func NewNetworkError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNetwork, message, cause)
}

func NewInternalError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInternal, message, cause)
}

func NewCancelledError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeCancelled, message, cause)
}

// NewConfigurationError reports a descriptor that cannot be used. Always fatal.
func NewConfigurationError(reason Reason, message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeConfiguration, message, cause).WithReason(reason)
}

// NewDownloadError reports a failed transfer. Fatal only under failOnError.
func NewDownloadError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeDownload, message, cause)
}

// NewExtensionLoadError reports an extension declaration that cannot be instantiated. Always fatal.
func NewExtensionLoadError(reason Reason, message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeExtensionLoad, message, cause).WithReason(reason)
}

// NewExtensionRuntimeError reports a hook failure, usually surfaced as a warning.
func NewExtensionRuntimeError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeExtensionRuntime, message, cause)
}

// isType walks every DomainError in the chain, so a runtime error caused by
// a permission error satisfies both checks.
func isType(err error, errorType ErrorType) bool {
	for err != nil {
		var domainErr *DomainError
		if !errors.As(err, &domainErr) {
			return false
		}
		if domainErr.Type == errorType {
			return true
		}
		err = domainErr.Cause
	}
	return false
}

func IsValidationError(err error) bool { return isType(err, ErrorTypeValidation) }

func IsNotFoundError(err error) bool { return isType(err, ErrorTypeNotFound) }

func IsConflictError(err error) bool { return isType(err, ErrorTypeConflict) }

func IsProcessError(err error) bool { return isType(err, ErrorTypeProcess) }

func IsTimeoutError(err error) bool { return isType(err, ErrorTypeTimeout) }

func IsPermissionError(err error) bool { return isType(err, ErrorTypePermission) }

func IsIOError(err error) bool { return isType(err, ErrorTypeIO) }

func IsNetworkError(err error) bool { return isType(err, ErrorTypeNetwork) }

func IsInternalError(err error) bool { return isType(err, ErrorTypeInternal) }

func IsCancelledError(err error) bool { return isType(err, ErrorTypeCancelled) }

func IsConfigurationError(err error) bool { return isType(err, ErrorTypeConfiguration) }

func IsDownloadError(err error) bool { return isType(err, ErrorTypeDownload) }

func IsExtensionLoadError(err error) bool { return isType(err, ErrorTypeExtensionLoad) }

func IsExtensionRuntimeError(err error) bool { return isType(err, ErrorTypeExtensionRuntime) }

// ReasonOf returns the reason of the first DomainError in the chain that carries one.
func ReasonOf(err error) Reason {
	for err != nil {
		var domainErr *DomainError
		if !errors.As(err, &domainErr) {
			return ""
		}
		if r := domainErr.Reason(); r != "" {
			return r
		}
		err = domainErr.Cause
	}
	return ""
}

// ErrorCollection aggregates errors from bulk operations
type ErrorCollection struct {
	Errors []error
}

func (e *ErrorCollection) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred: %v", len(e.Errors), e.Errors[0])
}

func (e *ErrorCollection) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

func (e *ErrorCollection) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ErrorCollection) ToError() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

// NewErrorCollection creates a new error collection
func NewErrorCollection() *ErrorCollection {
	return &ErrorCollection{
		Errors: make([]error, 0),
	}
}
