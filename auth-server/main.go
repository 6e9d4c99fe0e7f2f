// Package main implements the OAuth exchange relay for maestral
// deployments that register their own Dropbox app. The CLI sends the
// authorization code and PKCE verifier here, and the relay performs the
// token exchange with the app credentials attached, so the app secret
// never ships inside the client binary.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

const (
	// DefaultPort is the default port the server listens on.
	DefaultPort = 8080
	// DefaultTokenURL is the Dropbox token endpoint.
	DefaultTokenURL = "https://api.dropboxapi.com/oauth2/token"
	// DefaultIdleTTL is how long an idle client keeps its rate limiter.
	DefaultIdleTTL = 15 * time.Minute
	// CleanupInterval is how often idle rate limiters are evicted.
	CleanupInterval = 1 * time.Minute
)

func main() {
	port := flag.Int("port", DefaultPort, "Port to listen on")
	appKey := flag.String("app-key", "", "Dropbox app key")
	appSecret := flag.String("app-secret", "", "Dropbox app secret")
	appSecretFile := flag.String("app-secret-file", "", "Path to a file holding the Dropbox app secret")
	tokenURL := flag.String("token-url", DefaultTokenURL, "OAuth token endpoint")
	rps := flag.Float64("rps", 1, "Allowed exchange requests per second per client")
	burst := flag.Int("burst", 5, "Allowed burst of exchange requests per client")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	// Environment variables fill in whatever the flags left empty.
	if *appKey == "" {
		*appKey = os.Getenv("MAESTRAL_APP_KEY")
	}
	if *appSecret == "" {
		*appSecret = os.Getenv("MAESTRAL_APP_SECRET")
	}

	// Secret mounts hand the credential over as a file.
	if *appSecret == "" && *appSecretFile != "" {
		secret, err := loadSecretFile(*appSecretFile)
		if err != nil {
			logger.Error("load app secret", "path", *appSecretFile, "error", err)
			os.Exit(1)
		}
		*appSecret = secret
	}

	if *appKey == "" {
		logger.Error("Dropbox app key is required (--app-key or MAESTRAL_APP_KEY)")
		os.Exit(1)
	}

	limits := NewLimiterStore(*rps, *burst, DefaultIdleTTL)
	limits.StartCleanup(CleanupInterval)
	defer limits.StopCleanup()

	server := NewServer(limits, *appKey, *appSecret, *tokenURL, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan bool, 1)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Info("shutting down")
		if err := httpServer.Close(); err != nil {
			logger.Error("close server", "error", err)
		}
		close(done)
	}()

	logger.Info("auth relay starting", "port", *port, "token_url", *tokenURL)

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	<-done
	logger.Info("server stopped")
}

func loadSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // secret file path from flag
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	secret := strings.TrimSpace(string(data))
	if secret == "" {
		return "", fmt.Errorf("file is empty")
	}
	return secret, nil
}
