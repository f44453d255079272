package session

import (
	"errors"
	"fmt"

	"github.com/aelexs/session-gateway/internal/domain"
)

// Error is the normalized failure returned to callers of the Gateway.
// It unwraps to the domain sentinel for its classification, and to the
// underlying transport failure when there was one.
type Error struct {
	Classification Classification `json:"classification"`
	HTTPStatus     int            `json:"httpStatus"`
	Code           string         `json:"code,omitempty"`
	Message        string         `json:"message"`
	IsAuthError    bool           `json:"isAuthError"`

	cause error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (status %d, code %s): %s", e.Classification, e.HTTPStatus, e.Code, e.Message)
	}
	return fmt.Sprintf("%s (status %d): %s", e.Classification, e.HTTPStatus, e.Message)
}

// Unwrap exposes the classification sentinel and the cause to errors.Is.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Classification.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.cause != nil {
		errs = append(errs, e.cause)
	}
	return errs
}

func (e *Error) clone() *Error {
	c := *e
	return &c
}

// AsError extracts a normalized *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func (c Classification) sentinel() error {
	switch c {
	case SoftAuthExpiry:
		return domain.ErrUnauthorized
	case HardAuthFailure:
		return domain.ErrSessionRevoked
	case RefreshFailure:
		return domain.ErrRefreshFailed
	case ApplicationError:
		return domain.ErrApplication
	default:
		return nil
	}
}

func newRefreshError(status int, msg string, cause error) *Error {
	return &Error{
		Classification: RefreshFailure,
		HTTPStatus:     status,
		Message:        msg,
		IsAuthError:    true,
		cause:          cause,
	}
}

// unavailable marks a refresh failure that left the credential unjudged.
// The session survives it, so it is not reported as an auth error.
func (e *Error) unavailable() *Error {
	e.IsAuthError = false
	if e.cause == nil {
		e.cause = domain.ErrRefreshUnavailable
	} else {
		e.cause = fmt.Errorf("%w: %w", domain.ErrRefreshUnavailable, e.cause)
	}
	return e
}
