package platforms

import (
	"errors"
	"fmt"

	"social-gateway/helpers"
	"social-gateway/models"
)

// ErrorKind classifies a provider failure for the caller: reconnect,
// retry later, or fix the request.
type ErrorKind string

const (
	KindAuth       ErrorKind = "auth"
	KindTransient  ErrorKind = "transient"
	KindValidation ErrorKind = "validation"
)

// PublishError is any provider-side failure surfaced by an adapter.
type PublishError struct {
	Platform models.Platform
	Kind     ErrorKind
	Err      error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("%s publish failed (%s): %v", e.Platform, e.Kind, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

func (e *PublishError) Is(target error) bool {
	t, ok := target.(*PublishError)
	if !ok {
		return false
	}
	return (t.Platform == "" || t.Platform == e.Platform) &&
		(t.Kind == "" || t.Kind == e.Kind)
}

func newValidationError(platform models.Platform, format string, args ...interface{}) *PublishError {
	return &PublishError{Platform: platform, Kind: KindValidation, Err: fmt.Errorf(format, args...)}
}

// classifyError maps a raw provider error into the taxonomy: 401/403 mean
// the credential is bad, 429/5xx and transport failures may be retried,
// anything else the caller sent wrong.
func classifyError(platform models.Platform, err error) *PublishError {
	var pubErr *PublishError
	if errors.As(err, &pubErr) {
		return pubErr
	}

	var httpErr *helpers.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.IsAuthStatus():
			return &PublishError{Platform: platform, Kind: KindAuth, Err: err}
		case httpErr.IsTransientStatus():
			return &PublishError{Platform: platform, Kind: KindTransient, Err: err}
		default:
			return &PublishError{Platform: platform, Kind: KindValidation, Err: err}
		}
	}

	// Network-level failure: the provider may be fine, retry later.
	return &PublishError{Platform: platform, Kind: KindTransient, Err: err}
}

// IsAuthError reports whether err is an auth-kind provider failure.
func IsAuthError(err error) bool {
	return errors.Is(err, &PublishError{Kind: KindAuth})
}
