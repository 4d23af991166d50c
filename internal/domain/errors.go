package domain

import "errors"

var (
	// Feed errors
	ErrMalformedSymbol       = errors.New("malformed symbol")
	ErrUnsupportedResolution = errors.New("unsupported resolution")
	ErrInvalidSeries         = errors.New("bar series is not strictly increasing")

	// Distribution errors
	ErrInconsistentDistribution = errors.New("distribution residual would be negative")

	// Refresh errors
	ErrStaleSourceDiscarded = errors.New("stale source response discarded")
	ErrSessionChanged       = errors.New("session changed before refresh completed")
	ErrSnapshotNotReady     = errors.New("no snapshot computed yet")

	// Source errors
	ErrSourceUnavailable = errors.New("data source unavailable")
	ErrRateLimited       = errors.New("rate limited by data source")
	ErrInvalidResponse   = errors.New("invalid response from data source")

	// Database errors
	ErrDatabaseConnection = errors.New("database connection error")
	ErrDatabaseQuery      = errors.New("database query error")

	// General errors
	ErrNotFound = errors.New("not found")
	ErrInternal = errors.New("internal server error")
)

// DomainError wraps domain errors with additional context
type DomainError struct {
	Err     error
	Message string
	Code    string
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error with context
func NewDomainError(err error, message, code string) *DomainError {
	return &DomainError{
		Err:     err,
		Message: message,
		Code:    code,
	}
}

// IsDomainError checks if the error is a domain error
func IsDomainError(err error) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr)
}
