package provider

import "fmt"

// ErrorKind classifies a provider failure so callers can decide between
// retry and abort without inspecting transport details.
type ErrorKind int

const (
	// KindTransient covers network failures and provider 5xx responses.
	KindTransient ErrorKind = iota
	// KindRateLimited means the provider rejected the call for quota reasons.
	KindRateLimited
	// KindUnauthorized means the API key is missing or invalid.
	KindUnauthorized
	// KindBadRequest means the query itself is malformed.
	KindBadRequest
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindUnauthorized:
		return "unauthorized"
	case KindBadRequest:
		return "bad_request"
	default:
		return "transient"
	}
}

// Error is a structured provider failure.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("provider %s: %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("provider %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("provider %s (status %d)", e.Kind, e.StatusCode)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller may retry with backoff. Bad
// credentials and malformed queries require operator intervention instead.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransient || e.Kind == KindRateLimited
}
