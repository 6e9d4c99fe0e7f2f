package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"golang.org/x/oauth2"
)

// ErrNotConnected aborts a network-touching operation before any call
// is attempted.
var ErrNotConnected = errors.New("not connected to Dropbox")

// ConnectivityMessage is the single remediation line shown to the user
// for any connectivity failure.
const ConnectivityMessage = "Cannot connect to Dropbox servers. Please check your internet connection and try again later."

// AuthRequiredError means there are no usable credentials: nothing is
// linked, or the stored token was revoked.
type AuthRequiredError struct {
	Email string
	Cause error
}

func (e *AuthRequiredError) Error() string {
	if e.Email != "" {
		return fmt.Sprintf("auth required for %s (run `maestral link`)", e.Email)
	}
	return "auth required (run `maestral link`)"
}

func (e *AuthRequiredError) Unwrap() error { return e.Cause }

// APIError is a non-success RPC response.
type APIError struct {
	Status  int
	Summary string
}

func (e *APIError) Error() string {
	if e.Summary != "" {
		return fmt.Sprintf("dropbox: %s (http %d)", e.Summary, e.Status)
	}
	return fmt.Sprintf("dropbox: http %d", e.Status)
}

// IsTransient reports whether err is a temporary network or server
// condition. The connectivity guard converts these into a clean failure
// instead of letting them propagate as faults.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotConnected) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == http.StatusTooManyRequests:
			return true
		case apiErr.Status == http.StatusRequestTimeout:
			return true
		case apiErr.Status >= 500:
			return true
		}
		return false
	}

	// Token refresh against an unreachable endpoint surfaces as a
	// RetrieveError only once the server answered; a transport-level
	// failure during refresh stays a plain url.Error below.
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= 500
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
