package config

import "os"

// Build-time injected defaults via -ldflags.
// Example:
//
//	go build -ldflags "\
//	  -X 'github.com/takapai/maestral/internal/config.DefaultClientID=...' \
//	  -X 'github.com/takapai/maestral/internal/config.DefaultRelayServer=...'"
var (
	DefaultClientID    string
	DefaultRelayServer string
)

// publicClientID is the app key shipped with release builds. The PKCE
// code flow needs no client secret, so the key is not sensitive.
const publicClientID = "2jmbq42w7vof78h"

// ClientID resolves the OAuth app key: build-time default, then the
// MAESTRAL_CLIENT_ID environment variable, then the baked-in public key.
func ClientID() string {
	if DefaultClientID != "" {
		return DefaultClientID
	}
	if id := os.Getenv("MAESTRAL_CLIENT_ID"); id != "" {
		return id
	}
	return publicClientID
}

// RelayServer resolves the headless-auth relay URL, empty when unset.
func RelayServer() string {
	if DefaultRelayServer != "" {
		return DefaultRelayServer
	}
	return os.Getenv("MAESTRAL_RELAY_SERVER")
}
