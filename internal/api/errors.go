// Package api defines the error taxonomy shared by the registry, cache,
// watcher, and HTTP layer. Each error type carries enough context for
// logging; the transport layer maps types to status codes (NotFound and
// unauthenticated requests become 401, issuer and internal failures 500).
package api

import (
	"errors"
	"fmt"
)

// NotFoundError reports an unknown token or service name. It is a normal
// negative result, not an exceptional condition.
type NotFoundError struct {
	// ResourceType categorizes the resource that was not found
	// (e.g., "service", "token").
	ResourceType string

	// ResourceName is the identifier that was looked up.
	ResourceName string
}

// Error implements the error interface for NotFoundError.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.ResourceType, e.ResourceName)
}

// IsNotFound checks if an error is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var notFoundErr *NotFoundError
	return errors.As(err, &notFoundErr)
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceName string) *NotFoundError {
	return &NotFoundError{
		ResourceType: resourceType,
		ResourceName: resourceName,
	}
}

// NewServiceNotFoundError creates a service not found error.
func NewServiceNotFoundError(name string) *NotFoundError {
	return NewNotFoundError("service", name)
}

// ConflictError reports a registry add or update rejected because of a
// name, token, or provenance collision. The operation is a no-op and the
// previously registered definition is left untouched.
type ConflictError struct {
	// ServiceName is the name that collided.
	ServiceName string

	// Reason describes which rule rejected the operation.
	Reason string
}

// Error implements the error interface for ConflictError.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("service %s: %s", e.ServiceName, e.Reason)
}

// IsConflict checks if an error is or wraps a ConflictError.
func IsConflict(err error) bool {
	var conflictErr *ConflictError
	return errors.As(err, &conflictErr)
}

// NewConflictError creates a new ConflictError.
func NewConflictError(serviceName, reason string) *ConflictError {
	return &ConflictError{ServiceName: serviceName, Reason: reason}
}

// ParseError reports a configuration fragment that could not be decoded.
// The offending file is skipped; other pending work continues.
type ParseError struct {
	// FilePath is the fragment that failed to decode.
	FilePath string

	// Err is the underlying decode error.
	Err error
}

// Error implements the error interface for ParseError.
func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing %s: %v", e.FilePath, e.Err)
}

// Unwrap returns the underlying decode error.
func (e *ParseError) Unwrap() error { return e.Err }

// IsParseError checks if an error is or wraps a ParseError.
func IsParseError(err error) bool {
	var parseErr *ParseError
	return errors.As(err, &parseErr)
}

// NewParseError creates a new ParseError.
func NewParseError(filePath string, err error) *ParseError {
	return &ParseError{FilePath: filePath, Err: err}
}

// ValidationError reports a structurally valid document whose contents
// violate the service schema.
type ValidationError struct {
	// FilePath is the source of the invalid document, when known.
	FilePath string

	// Message describes the violated constraint.
	Message string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if e.FilePath == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.FilePath, e.Message)
}

// IsValidationError checks if an error is or wraps a ValidationError.
func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(filePath, message string) *ValidationError {
	return &ValidationError{FilePath: filePath, Message: message}
}

// IssuerError reports a failed assume-role call. It is propagated to the
// caller of GetCredentials, never cached, and never retried by the core.
type IssuerError struct {
	// ServiceName is the service the credentials were requested for.
	ServiceName string

	// Err is the underlying issuer failure.
	Err error
}

// Error implements the error interface for IssuerError.
func (e *IssuerError) Error() string {
	return fmt.Sprintf("issuing credentials for %s: %v", e.ServiceName, e.Err)
}

// Unwrap returns the underlying issuer failure.
func (e *IssuerError) Unwrap() error { return e.Err }

// IsIssuerError checks if an error is or wraps an IssuerError.
func IsIssuerError(err error) bool {
	var issuerErr *IssuerError
	return errors.As(err, &issuerErr)
}

// NewIssuerError creates a new IssuerError.
func NewIssuerError(serviceName string, err error) *IssuerError {
	return &IssuerError{ServiceName: serviceName, Err: err}
}

// IOError reports a filesystem failure during watch setup or fragment
// reading. Startup-time occurrences are fatal to that directory's watch
// only; per-file occurrences are logged and skipped.
type IOError struct {
	// Path is the file or directory that could not be accessed.
	Path string

	// Err is the underlying I/O failure.
	Err error
}

// Error implements the error interface for IOError.
func (e *IOError) Error() string {
	return fmt.Sprintf("accessing %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying I/O failure.
func (e *IOError) Unwrap() error { return e.Err }

// IsIOError checks if an error is or wraps an IOError.
func IsIOError(err error) bool {
	var ioErr *IOError
	return errors.As(err, &ioErr)
}

// NewIOError creates a new IOError.
func NewIOError(path string, err error) *IOError {
	return &IOError{Path: path, Err: err}
}
