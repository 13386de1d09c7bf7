package userapi

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized means the token was missing or rejected. The stored
	// token has been cleared; the caller should send the user to login.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden means the user lacks the privilege; send them home.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound means the resource does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict means the dashboard revision did not match.
	ErrConflict = errors.New("revision conflict")
)

// APIError is a non-2xx response from the user API.
type APIError struct {
	Method string
	Path   string
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Status)
}

// Is maps the status code onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrForbidden:
		return e.Status == http.StatusForbidden
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrConflict:
		return e.Status == http.StatusConflict
	}
	return false
}
