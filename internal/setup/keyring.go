// Package setup prepares maestral's runtime environment, mainly the
// keyring password generation needed on headless Linux systems where no
// Secret Service is available.
package setup

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/takapai/maestral/internal/config"
	"github.com/takapai/maestral/internal/secrets"
)

const (
	keyringKeyFile     = "keyring.key"
	credentialsEnvFile = "credentials.env"
	passwordBytes      = 32 // 32 bytes = 64 hex chars
)

// Stubs for testability.
var (
	resolveBackendInfo = secrets.ResolveKeyringBackendInfo
	ensureConfigDir    = config.EnsureDir
	runtimeGOOS        = runtime.GOOS
	getenv             = os.Getenv
	setenv             = os.Setenv
	userHomeDir        = os.UserHomeDir
)

// NeedsFileBackendSetup reports whether the current environment will
// fall back to the keyring file backend and therefore needs a password
// set up: Linux, backend left on auto, and no D-Bus session around.
func NeedsFileBackendSetup(goos string, dbusAddr string) (bool, error) {
	if goos != "linux" {
		return false, nil
	}

	info, err := resolveBackendInfo()
	if err != nil {
		return false, fmt.Errorf("resolve keyring backend: %w", err)
	}

	// An explicit backend choice is respected, whatever it is.
	if info.Value != "auto" {
		return false, nil
	}

	// D-Bus present means SecretService/gnome-keyring is likely available.
	if dbusAddr != "" {
		return false, nil
	}

	return true, nil
}

// SetupKeyringIfNeeded detects whether the file keyring backend will be
// used and, if so, generates a random password, saves it to keyring.key,
// writes credentials.env, and adds a source line to the user's shell
// profile. On macOS, Windows, or Linux with D-Bus this is a no-op. An
// existing keyring.key is reused.
//
// Status messages are written to w (typically os.Stderr).
func SetupKeyringIfNeeded(w io.Writer) error {
	needed, err := NeedsFileBackendSetup(runtimeGOOS, getenv("DBUS_SESSION_BUS_ADDRESS"))
	if err != nil {
		return err
	}
	if !needed {
		return nil
	}

	// Already configured via environment? Skip.
	if getenv(secrets.EnvKeyringPassword) != "" {
		return nil
	}

	configDir, err := ensureConfigDir()
	if err != nil {
		return fmt.Errorf("ensure config dir: %w", err)
	}

	password, err := ensureKeyringKey(configDir)
	if err != nil {
		return fmt.Errorf("ensure keyring key: %w", err)
	}

	credPath := filepath.Join(configDir, credentialsEnvFile)
	if err := writeCredentialsEnv(configDir, password); err != nil {
		return fmt.Errorf("write credentials.env: %w", err)
	}

	// Export into the current process too, so the keyring opens in this
	// same session without a shell restart.
	if err := setenv(secrets.EnvKeyringPassword, password); err != nil {
		return fmt.Errorf("setenv %s: %w", secrets.EnvKeyringPassword, err)
	}
	if err := setenv(secrets.EnvKeyringBackend, "file"); err != nil {
		return fmt.Errorf("setenv %s: %w", secrets.EnvKeyringBackend, err)
	}

	if err := configureShellProfile(credPath); err != nil {
		// Non-fatal: user can source manually.
		fmt.Fprintf(w, "Warning: could not update shell profile: %v\n", err)
	}

	fmt.Fprintf(w, "Keyring auto-setup complete.\n")
	fmt.Fprintf(w, "  Password saved to: %s\n", filepath.Join(configDir, keyringKeyFile))
	fmt.Fprintf(w, "  Environment file:  %s\n", credPath)
	fmt.Fprintf(w, "\n  Run: source %s\n\n", credPath)

	return nil
}

// generatePassword creates a random hex password of passwordBytes length.
func generatePassword() (string, error) {
	b := make([]byte, passwordBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate random password: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// ensureKeyringKey reads or creates the keyring.key file in configDir.
// An existing non-empty file wins; otherwise a fresh password is
// generated and saved with 0600 permissions.
func ensureKeyringKey(configDir string) (string, error) {
	path := filepath.Join(configDir, keyringKeyFile)

	data, err := os.ReadFile(path)
	if err == nil {
		pw := strings.TrimSpace(string(data))
		if pw != "" {
			return pw, nil
		}
	}

	password, err := generatePassword()
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(password+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write keyring key: %w", err)
	}
	return password, nil
}

// writeCredentialsEnv writes (or rewrites) the credentials.env file
// exporting the keyring password and backend.
func writeCredentialsEnv(configDir, password string) error {
	path := filepath.Join(configDir, credentialsEnvFile)

	var sb strings.Builder
	sb.WriteString("# maestral keyring credentials (auto-generated)\n")
	sb.WriteString("# Source this file in your shell: source " + path + "\n")
	sb.WriteString(fmt.Sprintf("export %s=%s\n", secrets.EnvKeyringPassword, password))
	sb.WriteString(fmt.Sprintf("export %s=file\n", secrets.EnvKeyringBackend))

	if err := os.WriteFile(path, []byte(sb.String()), 0o600); err != nil {
		return fmt.Errorf("write credentials env: %w", err)
	}
	return nil
}

// configureShellProfile finds the user's shell profile and appends a
// source line for credentials.env if not already present.
func configureShellProfile(credentialsEnvPath string) error {
	profilePath, err := detectShellProfile()
	if err != nil {
		return err
	}
	if profilePath == "" {
		return nil // No profile found; user must source manually.
	}

	sourceDirective := fmt.Sprintf("source %s", credentialsEnvPath)
	sourceDirectiveQuoted := fmt.Sprintf("source %q", credentialsEnvPath)

	data, err := os.ReadFile(profilePath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read shell profile %s: %w", profilePath, err)
	}
	content := string(data)
	if strings.Contains(content, sourceDirective) || strings.Contains(content, sourceDirectiveQuoted) {
		return nil // Already configured.
	}

	line := fmt.Sprintf("\n# maestral keyring credentials\n%s\n", sourceDirective)

	f, err := os.OpenFile(profilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open shell profile %s: %w", profilePath, err)
	}
	defer f.Close()

	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write to shell profile %s: %w", profilePath, err)
	}
	return nil
}

// detectShellProfile returns the path to the user's shell profile file.
// Detection order: $SHELL, then existing ~/.bashrc or ~/.profile, then
// ~/.profile as the create-if-missing fallback.
func detectShellProfile() (string, error) {
	home, err := userHomeDir()
	if err != nil {
		return "", fmt.Errorf("detect home dir: %w", err)
	}

	shell := getenv("SHELL")
	switch {
	case strings.HasSuffix(shell, "/zsh"):
		return filepath.Join(home, ".zshrc"), nil
	case strings.HasSuffix(shell, "/bash"):
		return filepath.Join(home, ".bashrc"), nil
	}

	for _, name := range []string{".bashrc", ".profile"} {
		path := filepath.Join(home, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return filepath.Join(home, ".profile"), nil
}

// readSourcedEnv reads credentials.env back, returning the exported
// variables. The daemon start path uses this because it does not run
// through the user's shell.
func readSourcedEnv(configDir string) (map[string]string, error) {
	path := filepath.Join(configDir, credentialsEnvFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	vars := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "export ") {
			continue
		}
		kv := strings.SplitN(strings.TrimPrefix(line, "export "), "=", 2)
		if len(kv) == 2 {
			vars[kv[0]] = kv[1]
		}
	}
	return vars, scanner.Err()
}

// LoadCredentialsEnv applies the credentials.env variables to the
// current process when they are not already set. A missing file is not
// an error: the environment scheme only exists on headless setups.
func LoadCredentialsEnv() error {
	configDir, err := config.Dir()
	if err != nil {
		return fmt.Errorf("resolve config dir: %w", err)
	}
	vars, err := readSourcedEnv(configDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read credentials env: %w", err)
	}
	for k, v := range vars {
		if getenv(k) == "" {
			if err := setenv(k, v); err != nil {
				return fmt.Errorf("setenv %s: %w", k, err)
			}
		}
	}
	return nil
}
