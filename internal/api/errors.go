package api

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNoToken is returned by calls that need a bearer token when none is set.
var ErrNoToken = errors.New("not authenticated")

// RequestError describes a failed API call. Status is zero when the request
// never produced a response.
type RequestError struct {
	Op     string
	Status int
	Body   string
	Cause  error
}

func (e *RequestError) Error() string {
	switch {
	case e.Status >= 200 && e.Status < 300:
		return fmt.Sprintf("%s: %v", e.Op, e.Cause)
	case e.Status != 0 && e.Body != "":
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Body)
	case e.Status != 0:
		return fmt.Sprintf("%s: status %d", e.Op, e.Status)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Cause)
	}
}

func (e *RequestError) Unwrap() error { return e.Cause }

// statusUnknownToken is Laravel's "page expired" response.
const statusUnknownToken = 419

// IsAuth reports whether err means the session is no longer valid.
func IsAuth(err error) bool {
	if errors.Is(err, ErrNoToken) {
		return true
	}
	var re *RequestError
	if errors.As(err, &re) {
		return re.Status == http.StatusUnauthorized || re.Status == statusUnknownToken
	}
	return false
}

// AuthError is returned by Login when the credentials are rejected.
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	if e.Message != "" {
		return "invalid credentials: " + e.Message
	}
	return "invalid credentials"
}
