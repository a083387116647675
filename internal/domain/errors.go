package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrDataSource marks raw input that is missing or unreadable.
	ErrDataSource = errors.New("data source error")
	// ErrRateLimited marks a capability call rejected by the provider's rate limit.
	ErrRateLimited = errors.New("capability rate limited")
	// ErrAuth marks a credential rejected by the capability provider. Fatal for a run.
	ErrAuth = errors.New("capability authentication failed")
	// ErrTransient marks any other capability failure.
	ErrTransient = errors.New("capability transient error")
	// ErrMalformedResponse marks capability output that failed validation.
	ErrMalformedResponse = errors.New("malformed capability response")
	// ErrPersistence marks a failed store operation.
	ErrPersistence = errors.New("persistence error")
	// ErrRunNotFound is returned when a run id has no audit record.
	ErrRunNotFound = errors.New("run not found")
)

// CapabilityError wraps a provider failure with its classification.
type CapabilityError struct {
	Kind       error
	StatusCode int
	Err        error
}

func (e *CapabilityError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%v (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *CapabilityError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// ClassifyStatus maps an HTTP status code of a failed capability call to its kind.
func ClassifyStatus(status int) error {
	switch {
	case status == 401 || status == 403:
		return ErrAuth
	case status == 429:
		return ErrRateLimited
	default:
		return ErrTransient
	}
}

// IsFatal reports whether err must abort the whole run rather than skip one product.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuth) || errors.Is(err, ErrPersistence) || errors.Is(err, ErrDataSource)
}
