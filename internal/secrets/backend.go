package secrets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/99designs/keyring"
	"golang.org/x/term"

	"github.com/takapai/maestral/internal/config"
)

// Environment variables steering keyring selection.
const (
	EnvKeyringBackend  = "MAESTRAL_KEYRING_BACKEND"
	EnvKeyringPassword = "MAESTRAL_KEYRING_PASSWORD"
)

var errNoTTY = errors.New("keyring password required: set " + EnvKeyringPassword + " or run on a terminal")

// KeyringBackendInfo records the selected backend and where the choice
// came from.
type KeyringBackendInfo struct {
	Value  string
	Source string // "env" or "default"
}

func ResolveKeyringBackendInfo() (KeyringBackendInfo, error) {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(EnvKeyringBackend)))
	if v == "" {
		return KeyringBackendInfo{Value: "auto", Source: "default"}, nil
	}
	switch v {
	case "auto", "keychain", "secret-service", "kwallet", "wincred", "file":
		return KeyringBackendInfo{Value: v, Source: "env"}, nil
	}
	return KeyringBackendInfo{}, fmt.Errorf("invalid %s %q (want auto, keychain, secret-service, kwallet, wincred or file)", EnvKeyringBackend, v)
}

func allowedBackends(info KeyringBackendInfo) ([]keyring.BackendType, error) {
	switch info.Value {
	case "auto", "":
		// nil lets keyring probe in its platform order.
		return nil, nil
	case "keychain":
		return []keyring.BackendType{keyring.KeychainBackend}, nil
	case "secret-service":
		return []keyring.BackendType{keyring.SecretServiceBackend}, nil
	case "kwallet":
		return []keyring.BackendType{keyring.KWalletBackend}, nil
	case "wincred":
		return []keyring.BackendType{keyring.WinCredBackend}, nil
	case "file":
		return []keyring.BackendType{keyring.FileBackend}, nil
	}
	return nil, fmt.Errorf("unsupported keyring backend %q", info.Value)
}

func keyringFileDir() (string, error) {
	dir, err := config.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "keyring"), nil
}

func fileKeyringPasswordFunc() keyring.PromptFunc {
	password, passwordSet := os.LookupEnv(EnvKeyringPassword)
	isTTY := term.IsTerminal(int(os.Stdin.Fd()))
	return fileKeyringPasswordFuncFrom(password, passwordSet, isTTY)
}

func fileKeyringPasswordFuncFrom(password string, passwordSet, isTTY bool) keyring.PromptFunc {
	return func(prompt string) (string, error) {
		if passwordSet {
			return password, nil
		}
		if !isTTY {
			return "", errNoTTY
		}
		fmt.Fprintf(os.Stderr, "%s: ", prompt)
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read keyring password: %w", err)
		}
		return string(b), nil
	}
}
