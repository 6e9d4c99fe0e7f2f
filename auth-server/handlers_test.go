package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestHealthEndpoint(t *testing.T) {
	limits := NewLimiterStore(10, 5, 15*time.Minute)
	server := NewServer(limits, "app-key", "app-secret", DefaultTokenURL, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	server.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if resp.Status != "ok" {
		t.Errorf("Expected status 'ok', got '%s'", resp.Status)
	}
}

func TestHealthEndpoint_WrongMethod(t *testing.T) {
	limits := NewLimiterStore(10, 5, 15*time.Minute)
	server := NewServer(limits, "app-key", "app-secret", DefaultTokenURL, nil)

	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	w := httptest.NewRecorder()

	server.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestExchangeEndpoint_WrongMethod(t *testing.T) {
	limits := NewLimiterStore(10, 5, 15*time.Minute)
	server := NewServer(limits, "app-key", "app-secret", DefaultTokenURL, nil)

	req := httptest.NewRequest(http.MethodGet, "/exchange", nil)
	w := httptest.NewRecorder()

	server.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestExchangeEndpoint_BadJSON(t *testing.T) {
	limits := NewLimiterStore(10, 5, 15*time.Minute)
	server := NewServer(limits, "app-key", "app-secret", DefaultTokenURL, nil)

	req := httptest.NewRequest(http.MethodPost, "/exchange", strings.NewReader("{not json"))
	w := httptest.NewRecorder()

	server.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestExchangeEndpoint_MissingCode(t *testing.T) {
	limits := NewLimiterStore(10, 5, 15*time.Minute)
	server := NewServer(limits, "app-key", "app-secret", DefaultTokenURL, nil)

	body := `{"code_verifier": "verifier-123"}`
	req := httptest.NewRequest(http.MethodPost, "/exchange", strings.NewReader(body))
	w := httptest.NewRecorder()

	server.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestExchangeEndpoint_MissingVerifier(t *testing.T) {
	limits := NewLimiterStore(10, 5, 15*time.Minute)
	server := NewServer(limits, "app-key", "app-secret", DefaultTokenURL, nil)

	body := `{"code": "auth-code"}`
	req := httptest.NewRequest(http.MethodPost, "/exchange", strings.NewReader(body))
	w := httptest.NewRecorder()

	server.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestExchangeEndpoint_Success(t *testing.T) {
	limits := NewLimiterStore(10, 5, 15*time.Minute)
	server := NewServer(limits, "app-key", "app-secret", DefaultTokenURL, nil)

	// Mock the exchange function and capture what it receives.
	var got ExchangeRequest
	expiry := time.Now().Add(4 * time.Hour).UTC().Truncate(time.Second)
	server.exchangeFunc = func(ctx context.Context, req ExchangeRequest) (*oauth2.Token, error) {
		got = req
		return &oauth2.Token{
			AccessToken:  "exchanged-access-token",
			RefreshToken: "exchanged-refresh-token",
			TokenType:    "Bearer",
			Expiry:       expiry,
		}, nil
	}

	body := `{"code": "auth-code", "code_verifier": "verifier-123", "redirect_uri": "http://127.0.0.1:4321/callback"}`
	req := httptest.NewRequest(http.MethodPost, "/exchange", strings.NewReader(body))
	w := httptest.NewRecorder()

	server.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	if got.Code != "auth-code" {
		t.Errorf("Expected code 'auth-code', got '%s'", got.Code)
	}
	if got.CodeVerifier != "verifier-123" {
		t.Errorf("Expected verifier 'verifier-123', got '%s'", got.CodeVerifier)
	}
	if got.RedirectURI != "http://127.0.0.1:4321/callback" {
		t.Errorf("Expected redirect URI to pass through, got '%s'", got.RedirectURI)
	}

	var resp ExchangeResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if resp.AccessToken != "exchanged-access-token" {
		t.Errorf("Expected access token 'exchanged-access-token', got '%s'", resp.AccessToken)
	}
	if resp.RefreshToken != "exchanged-refresh-token" {
		t.Errorf("Expected refresh token 'exchanged-refresh-token', got '%s'", resp.RefreshToken)
	}
	if !resp.Expiry.Equal(expiry) {
		t.Errorf("Expected expiry %v, got %v", expiry, resp.Expiry)
	}

	contentType := w.Header().Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("Expected Content-Type 'application/json', got '%s'", contentType)
	}
}

func TestExchangeEndpoint_UpstreamRejected(t *testing.T) {
	limits := NewLimiterStore(10, 5, 15*time.Minute)
	server := NewServer(limits, "app-key", "app-secret", DefaultTokenURL, nil)

	server.exchangeFunc = func(ctx context.Context, req ExchangeRequest) (*oauth2.Token, error) {
		return nil, &oauth2.RetrieveError{
			Response: &http.Response{StatusCode: http.StatusBadRequest},
			Body:     []byte(`{"error": "invalid_grant"}`),
		}
	}

	body := `{"code": "stale-code", "code_verifier": "verifier-123"}`
	req := httptest.NewRequest(http.MethodPost, "/exchange", strings.NewReader(body))
	w := httptest.NewRecorder()

	server.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp["error"] != "exchange_rejected" {
		t.Errorf("Expected error 'exchange_rejected', got '%s'", resp["error"])
	}
}

func TestExchangeEndpoint_UpstreamDown(t *testing.T) {
	limits := NewLimiterStore(10, 5, 15*time.Minute)
	server := NewServer(limits, "app-key", "app-secret", DefaultTokenURL, nil)

	server.exchangeFunc = func(ctx context.Context, req ExchangeRequest) (*oauth2.Token, error) {
		return nil, context.DeadlineExceeded
	}

	body := `{"code": "auth-code", "code_verifier": "verifier-123"}`
	req := httptest.NewRequest(http.MethodPost, "/exchange", strings.NewReader(body))
	w := httptest.NewRecorder()

	server.ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Errorf("Expected status 502, got %d", w.Code)
	}
}

func TestExchangeEndpoint_MissingRefreshToken(t *testing.T) {
	limits := NewLimiterStore(10, 5, 15*time.Minute)
	server := NewServer(limits, "app-key", "app-secret", DefaultTokenURL, nil)

	server.exchangeFunc = func(ctx context.Context, req ExchangeRequest) (*oauth2.Token, error) {
		return &oauth2.Token{AccessToken: "short-lived-only"}, nil
	}

	body := `{"code": "auth-code", "code_verifier": "verifier-123"}`
	req := httptest.NewRequest(http.MethodPost, "/exchange", strings.NewReader(body))
	w := httptest.NewRecorder()

	server.ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Errorf("Expected status 502, got %d", w.Code)
	}
}

func TestExchangeEndpoint_RateLimited(t *testing.T) {
	// Burst of one and a negligible refill rate: the second request from
	// the same client must be rejected.
	limits := NewLimiterStore(0.001, 1, 15*time.Minute)
	server := NewServer(limits, "app-key", "app-secret", DefaultTokenURL, nil)

	server.exchangeFunc = func(ctx context.Context, req ExchangeRequest) (*oauth2.Token, error) {
		return &oauth2.Token{
			AccessToken:  "access",
			RefreshToken: "refresh",
		}, nil
	}

	body := `{"code": "auth-code", "code_verifier": "verifier-123"}`

	req1 := httptest.NewRequest(http.MethodPost, "/exchange", strings.NewReader(body))
	w1 := httptest.NewRecorder()
	server.ServeHTTP(w1, req1)

	if w1.Code != http.StatusOK {
		t.Errorf("First request: expected status 200, got %d", w1.Code)
	}

	req2 := httptest.NewRequest(http.MethodPost, "/exchange", strings.NewReader(body))
	w2 := httptest.NewRecorder()
	server.ServeHTTP(w2, req2)

	if w2.Code != http.StatusTooManyRequests {
		t.Errorf("Second request: expected status 429, got %d", w2.Code)
	}
}
