package setup

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/takapai/maestral/internal/secrets"
)

func TestNeedsFileBackendSetup(t *testing.T) {
	origResolve := resolveBackendInfo
	t.Cleanup(func() { resolveBackendInfo = origResolve })

	resolveBackendInfo = func() (secrets.KeyringBackendInfo, error) {
		return secrets.KeyringBackendInfo{Value: "auto", Source: "default"}, nil
	}

	tests := []struct {
		name     string
		goos     string
		dbusAddr string
		want     bool
	}{
		{"linux headless", "linux", "", true},
		{"linux with dbus", "linux", "/run/user/1000/bus", false},
		{"darwin", "darwin", "", false},
		{"windows", "windows", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NeedsFileBackendSetup(tt.goos, tt.dbusAddr)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("NeedsFileBackendSetup(%q, %q) = %v, want %v", tt.goos, tt.dbusAddr, got, tt.want)
			}
		})
	}
}

func TestNeedsFileBackendSetupExplicitBackend(t *testing.T) {
	origResolve := resolveBackendInfo
	t.Cleanup(func() { resolveBackendInfo = origResolve })

	tests := []struct {
		name    string
		backend string
		want    bool
	}{
		{"explicit file", "file", false}, // user already configured, don't interfere
		{"explicit keychain", "keychain", false},
		{"auto", "auto", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolveBackendInfo = func() (secrets.KeyringBackendInfo, error) {
				return secrets.KeyringBackendInfo{Value: tt.backend, Source: "env"}, nil
			}
			got, err := NeedsFileBackendSetup("linux", "")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGeneratePassword(t *testing.T) {
	pw1, err := generatePassword()
	if err != nil {
		t.Fatalf("generatePassword: %v", err)
	}
	if len(pw1) != passwordBytes*2 {
		t.Errorf("password length = %d, want %d", len(pw1), passwordBytes*2)
	}

	pw2, err := generatePassword()
	if err != nil {
		t.Fatalf("generatePassword: %v", err)
	}
	if pw1 == pw2 {
		t.Error("two generated passwords are identical")
	}
}

func TestEnsureKeyringKey(t *testing.T) {
	dir := t.TempDir()

	pw1, err := ensureKeyringKey(dir)
	if err != nil {
		t.Fatalf("ensureKeyringKey: %v", err)
	}
	if pw1 == "" {
		t.Fatal("password is empty")
	}

	path := filepath.Join(dir, keyringKeyFile)
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat keyring.key: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("permissions = %o, want 600", perm)
	}

	// Second call returns the same password.
	pw2, err := ensureKeyringKey(dir)
	if err != nil {
		t.Fatalf("ensureKeyringKey (idempotent): %v", err)
	}
	if pw1 != pw2 {
		t.Errorf("password changed on second call: %q vs %q", pw1, pw2)
	}
}

func TestWriteCredentialsEnv(t *testing.T) {
	dir := t.TempDir()
	password := "abc123def456"

	if err := writeCredentialsEnv(dir, password); err != nil {
		t.Fatalf("writeCredentialsEnv: %v", err)
	}

	path := filepath.Join(dir, credentialsEnvFile)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read credentials.env: %v", err)
	}

	content := string(data)
	if !strings.Contains(content, "export "+secrets.EnvKeyringPassword+"=abc123def456") {
		t.Error("missing keyring password line")
	}
	if !strings.Contains(content, "export "+secrets.EnvKeyringBackend+"=file") {
		t.Error("missing keyring backend line")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat credentials.env: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("permissions = %o, want 600", perm)
	}
}

func TestConfigureShellProfile(t *testing.T) {
	dir := t.TempDir()
	rcFile := filepath.Join(dir, ".bashrc")
	credPath := filepath.Join(dir, "credentials.env")

	if err := os.WriteFile(rcFile, []byte("# existing content\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	origHome, origGetenv := userHomeDir, getenv
	t.Cleanup(func() { userHomeDir, getenv = origHome, origGetenv })
	userHomeDir = func() (string, error) { return dir, nil }
	getenv = func(key string) string {
		if key == "SHELL" {
			return "/bin/bash"
		}
		return ""
	}

	if err := configureShellProfile(credPath); err != nil {
		t.Fatalf("configureShellProfile: %v", err)
	}

	data, err := os.ReadFile(rcFile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "source "+credPath) {
		t.Errorf("source line missing from profile:\n%s", data)
	}

	// Running again must not duplicate the line.
	if err := configureShellProfile(credPath); err != nil {
		t.Fatalf("configureShellProfile (repeat): %v", err)
	}
	data, err = os.ReadFile(rcFile)
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(data), "source "+credPath); n != 1 {
		t.Errorf("source line appears %d times, want 1", n)
	}
}

func TestReadSourcedEnv(t *testing.T) {
	dir := t.TempDir()
	if err := writeCredentialsEnv(dir, "pw123"); err != nil {
		t.Fatalf("writeCredentialsEnv: %v", err)
	}

	vars, err := readSourcedEnv(dir)
	if err != nil {
		t.Fatalf("readSourcedEnv: %v", err)
	}
	if got := vars[secrets.EnvKeyringPassword]; got != "pw123" {
		t.Errorf("password = %q, want pw123", got)
	}
	if got := vars[secrets.EnvKeyringBackend]; got != "file" {
		t.Errorf("backend = %q, want file", got)
	}
}
