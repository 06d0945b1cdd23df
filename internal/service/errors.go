package service

import (
	"errors"
	"fmt"
)

// ErrorType classifies service-level failures for type switches.
type ErrorType int

const (
	ErrorTypeProviderCall ErrorType = iota
	ErrorTypeProviderRateLimited
	ErrorTypeAllProvidersFailed
	ErrorTypeCacheUnavailable
	ErrorTypeRateLimited
	ErrorTypeInvalidRequest
)

// ServiceError is a service-specific error with type information.
type ServiceError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error { return e.Cause }

// allProvidersFailed builds the terminal fetch error. It is non-fatal for
// the service: only this single fetch failed.
func allProvidersFailed(kind, id string, cause error) *ServiceError {
	return &ServiceError{
		Type:    ErrorTypeAllProvidersFailed,
		Message: fmt.Sprintf("all providers failed for %s %s", kind, id),
		Cause:   cause,
	}
}

// IsAllProvidersFailed reports whether err is the terminal fetch failure.
func IsAllProvidersFailed(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr) && serviceErr.Type == ErrorTypeAllProvidersFailed
}
