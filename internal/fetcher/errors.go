package fetcher

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindAuth      Kind = "auth"
	KindNotFound  Kind = "not_found"
	KindTransport Kind = "transport"
	KindMalformed Kind = "malformed"
)

var (
	ErrAuth      = errors.New("invalid API key or unauthorized access")
	ErrNotFound  = errors.New("website not found")
	ErrTransport = errors.New("transport failure")
	ErrMalformed = errors.New("malformed response")
)

func (k Kind) sentinel() error {
	switch k {
	case KindAuth:
		return ErrAuth
	case KindNotFound:
		return ErrNotFound
	case KindMalformed:
		return ErrMalformed
	default:
		return ErrTransport
	}
}

// Error is returned for every failed fetch. It matches the sentinel of its
// Kind with errors.Is.
type Error struct {
	Kind       Kind
	Domain     string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("%s: %s (status %d): %v", e.Domain, e.Kind.sentinel(), e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: %s (status %d)", e.Domain, e.Kind.sentinel(), e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Domain, e.Kind.sentinel(), e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Domain, e.Kind.sentinel())
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// KindOf classifies err. Unclassified errors are reported as transport
// failures.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindTransport
}

// Message is the short user-facing text for err.
func Message(err error) string {
	switch KindOf(err) {
	case KindAuth:
		return "Invalid API key or unauthorized access"
	case KindNotFound:
		return "Website not found. Check the domain name."
	case KindMalformed:
		return "Unexpected response from the analytics API"
	}
	var fe *Error
	if errors.As(err, &fe) && fe.StatusCode != 0 {
		return fmt.Sprintf("API error: %d", fe.StatusCode)
	}
	return "Could not reach the analytics API"
}

// NewTransportError wraps err as a transport failure for domain.
func NewTransportError(domain string, err error) *Error {
	return &Error{Kind: KindTransport, Domain: domain, Err: err}
}
