package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// Server holds the HTTP server configuration and dependencies.
type Server struct {
	limits       *LimiterStore
	oauthConfig  *oauth2.Config
	mux          *http.ServeMux
	logger       *slog.Logger
	exchangeFunc func(ctx context.Context, req ExchangeRequest) (*oauth2.Token, error)
}

// NewServer creates a new Server with the given configuration. An empty
// app secret is fine: PKCE-only Dropbox apps have none.
func NewServer(limits *LimiterStore, appKey, appSecret, tokenURL string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	config := &oauth2.Config{
		ClientID:     appKey,
		ClientSecret: appSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
	}

	s := &Server{
		limits:      limits,
		oauthConfig: config,
		mux:         http.NewServeMux(),
		logger:      logger,
	}

	// Default exchange function calls the real token endpoint. The
	// redirect URI must repeat whatever the authorize request used, so it
	// travels with each request rather than living in the config.
	s.exchangeFunc = func(ctx context.Context, req ExchangeRequest) (*oauth2.Token, error) {
		cfg := *config
		cfg.RedirectURL = req.RedirectURI
		return cfg.Exchange(ctx, req.Code, oauth2.VerifierOption(req.CodeVerifier))
	}

	s.registerRoutes()
	return s
}

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/exchange", s.handleExchange)
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// HealthResponse represents the JSON response from /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("encode health response", "error", err)
	}
}

// ExchangeRequest is what the CLI sends: the authorization code from
// the browser redirect plus the PKCE verifier that proves the code was
// issued to it.
type ExchangeRequest struct {
	Code         string `json:"code"`
	CodeVerifier string `json:"code_verifier"`
	RedirectURI  string `json:"redirect_uri,omitempty"`
}

// ExchangeResponse carries the exchanged tokens back to the CLI.
type ExchangeResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry"`
}

// handleExchange performs the code-for-token exchange on behalf of the
// CLI, attaching the app credentials this relay holds.
func (s *Server) handleExchange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.limits.Allow(clientKey(r)) {
		s.writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many exchange requests, slow down")
		return
	}

	var req ExchangeRequest
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "Invalid JSON body")
		return
	}
	if req.Code == "" {
		s.writeError(w, http.StatusBadRequest, "bad_request", "Missing authorization code")
		return
	}
	if req.CodeVerifier == "" {
		s.writeError(w, http.StatusBadRequest, "bad_request", "Missing code verifier")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	token, err := s.exchangeFunc(ctx, req)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			// The token endpoint rejected the code; the client gets to know
			// that, without the upstream response details.
			s.logger.Warn("exchange rejected", "status", retrieveErr.Response.StatusCode)
			s.writeError(w, http.StatusBadRequest, "exchange_rejected", "Authorization code was rejected")
			return
		}
		s.logger.Error("exchange failed", "error", err)
		s.writeError(w, http.StatusBadGateway, "exchange_failed", "Could not reach the token endpoint")
		return
	}
	if token.RefreshToken == "" {
		s.logger.Error("exchange returned no refresh token")
		s.writeError(w, http.StatusBadGateway, "exchange_failed", "Token endpoint returned no refresh token")
		return
	}

	resp := ExchangeResponse{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("encode exchange response", "error", err)
	}
}

// writeError sends a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	}); err != nil {
		s.logger.Error("encode error response", "error", err)
	}
}

// clientKey identifies the caller for rate limiting. The port changes
// per connection, so only the host part counts.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
