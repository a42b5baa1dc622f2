package providers

import (
	"errors"
	"fmt"
	"strings"
	"time"

	dErrors "cepfinder/pkg/domain-errors"
)

// ErrorCategory is the normalized provider failure taxonomy.
type ErrorCategory string

const (
	// ErrorTimeout indicates the provider exceeded its configured timeout
	ErrorTimeout ErrorCategory = "timeout"

	// ErrorNotFound indicates the provider has no address for a well-formed CEP
	ErrorNotFound ErrorCategory = "not_found"

	// ErrorBadData indicates the response could not be parsed
	ErrorBadData ErrorCategory = "bad_data"

	// ErrorProviderOutage indicates a transport failure or non-2xx status
	ErrorProviderOutage ErrorCategory = "provider_outage"

	// ErrorCanceled indicates the branch was aborted because the race ended
	ErrorCanceled ErrorCategory = "canceled"
)

// Sentinels matched by errors.Is against a *ProviderError of the same category.
var (
	ErrTimeout            = errors.New("provider timeout")
	ErrNotFound           = errors.New("cep not found")
	ErrBadData            = errors.New("malformed provider response")
	ErrOutage             = errors.New("provider unavailable")
	ErrCanceled           = errors.New("provider request canceled")
	ErrAllProvidersFailed = errors.New("all providers failed")
)

var categorySentinels = map[ErrorCategory]error{
	ErrorTimeout:        ErrTimeout,
	ErrorNotFound:       ErrNotFound,
	ErrorBadData:        ErrBadData,
	ErrorProviderOutage: ErrOutage,
	ErrorCanceled:       ErrCanceled,
}

// ProviderError wraps a single provider's failure with its category.
type ProviderError struct {
	Category   ErrorCategory
	Provider   string
	Message    string
	Underlying error
}

func (e *ProviderError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("provider %s [%s]: %s: %v", e.Provider, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("provider %s [%s]: %s", e.Provider, e.Category, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Underlying
}

// Is lets errors.Is(err, ErrTimeout) and friends match by category.
func (e *ProviderError) Is(target error) bool {
	return categorySentinels[e.Category] == target
}

// DomainCode maps the category for the transport boundary.
func (e *ProviderError) DomainCode() dErrors.Code {
	switch e.Category {
	case ErrorNotFound:
		return dErrors.CodeNotFound
	case ErrorTimeout:
		return dErrors.CodeTimeout
	case ErrorCanceled:
		return dErrors.CodeUnavailable
	default:
		return dErrors.CodeBadGateway
	}
}

// NewProviderError creates a categorized provider error.
func NewProviderError(category ErrorCategory, provider, message string, underlying error) *ProviderError {
	return &ProviderError{
		Category:   category,
		Provider:   provider,
		Message:    message,
		Underlying: underlying,
	}
}

// NewTimeoutError reports a provider that did not settle within timeout.
func NewTimeoutError(provider string, timeout time.Duration) *ProviderError {
	return NewProviderError(ErrorTimeout, provider, fmt.Sprintf("no response within %s", timeout), nil)
}

// NotFound is a helper for Transform implementations.
func NotFound(provider, cep string) *ProviderError {
	return NewProviderError(ErrorNotFound, provider, fmt.Sprintf("no address for %s", cep), nil)
}

// BadData is a helper for Transform implementations.
func BadData(provider string, err error) *ProviderError {
	return NewProviderError(ErrorBadData, provider, "cannot decode response", err)
}

// GetCategory extracts the category, or ErrorProviderOutage for foreign errors.
func GetCategory(err error) ErrorCategory {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ErrorProviderOutage
}

// AllFailedError aggregates the final error of every provider in one race,
// in priority order.
type AllFailedError struct {
	Errors []error
}

func (e *AllFailedError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		if err != nil {
			parts = append(parts, err.Error())
		}
	}
	return fmt.Sprintf("all providers failed: %s", strings.Join(parts, "; "))
}

// Unwrap exposes every branch error to errors.Is/As.
func (e *AllFailedError) Unwrap() []error {
	return e.Errors
}

func (e *AllFailedError) Is(target error) bool {
	return target == ErrAllProvidersFailed
}

// AllNotFound reports whether every provider explicitly had no data.
func (e *AllFailedError) AllNotFound() bool {
	if len(e.Errors) == 0 {
		return false
	}
	for _, err := range e.Errors {
		if !errors.Is(err, ErrNotFound) {
			return false
		}
	}
	return true
}

// DomainCode is not found when every provider agreed, bad gateway otherwise.
func (e *AllFailedError) DomainCode() dErrors.Code {
	if e.AllNotFound() {
		return dErrors.CodeNotFound
	}
	return dErrors.CodeBadGateway
}
