package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"

	"golang.org/x/oauth2"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"not connected", ErrNotConnected, true},
		{"deadline", context.DeadlineExceeded, true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"rate limited", &APIError{Status: http.StatusTooManyRequests}, true},
		{"request timeout", &APIError{Status: http.StatusRequestTimeout}, true},
		{"server error", &APIError{Status: http.StatusServiceUnavailable}, true},
		{"wrapped server error", fmt.Errorf("call /2/files/list_folder: %w", &APIError{Status: 500}), true},
		{"conflict", &APIError{Status: http.StatusConflict}, false},
		{"bad request", &APIError{Status: http.StatusBadRequest}, false},
		{"plain error", errors.New("boom"), false},
		{"dns timeout", &net.DNSError{IsTimeout: true}, true},
		{"refresh 5xx", &oauth2.RetrieveError{Response: &http.Response{StatusCode: 503}}, true},
		{"refresh denied", &oauth2.RetrieveError{Response: &http.Response{StatusCode: 400}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestAuthRequiredErrorMessage(t *testing.T) {
	err := &AuthRequiredError{Email: "a@b.c"}
	if got := err.Error(); !strings.Contains(got, "a@b.c") || !strings.Contains(got, "maestral link") {
		t.Errorf("Error() = %q, want the account and the link hint", got)
	}

	cause := errors.New("expired_access_token")
	wrapped := &AuthRequiredError{Cause: cause}
	if !errors.Is(wrapped, cause) {
		t.Error("AuthRequiredError does not unwrap to its cause")
	}
}

func TestAPIErrorMessage(t *testing.T) {
	err := &APIError{Status: 409, Summary: "path/not_found/..."}
	if got := err.Error(); !strings.Contains(got, "path/not_found") || !strings.Contains(got, "409") {
		t.Errorf("Error() = %q, want summary and status", got)
	}
	bare := &APIError{Status: 500}
	if got := bare.Error(); got != "dropbox: http 500" {
		t.Errorf("Error() = %q, want %q", got, "dropbox: http 500")
	}
}
