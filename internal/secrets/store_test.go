package secrets

import (
	"errors"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/99designs/keyring"
)

var errTestKeychain = errors.New("test -25308 error")

func TestKeyringStore_RoundTrip(t *testing.T) {
	store := NewStore(keyring.NewArrayKeyring(nil))

	tok := Token{Email: "a@b.com", AccountID: "dbid:abc", RefreshToken: "rt1", CreatedAt: time.Now().UTC()}
	if err := store.SetToken(tok); err != nil {
		t.Fatalf("SetToken: %v", err)
	}

	got, err := store.GetToken()
	if err != nil {
		t.Fatalf("GetToken: %v", err)
	}
	if got.Email != tok.Email || got.RefreshToken != tok.RefreshToken || got.AccountID != tok.AccountID {
		t.Fatalf("unexpected token: %#v", got)
	}

	if err := store.DeleteToken(); err != nil {
		t.Fatalf("DeleteToken: %v", err)
	}
	if _, err := store.GetToken(); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken after delete, got %v", err)
	}
}

func TestKeyringStore_DeleteIdempotent(t *testing.T) {
	store := NewStore(keyring.NewArrayKeyring(nil))

	if err := store.DeleteToken(); err != nil {
		t.Fatalf("DeleteToken on empty ring: %v", err)
	}
}

func TestKeyringStore_SetTokenErrors(t *testing.T) {
	store := NewStore(keyring.NewArrayKeyring(nil))

	if err := store.SetToken(Token{Email: " ", RefreshToken: "rt"}); !errors.Is(err, errMissingEmail) {
		t.Fatalf("expected missing email, got %v", err)
	}
	if err := store.SetToken(Token{Email: "a@b.com"}); !errors.Is(err, errMissingRefreshToken) {
		t.Fatalf("expected missing refresh token, got %v", err)
	}
}

func TestKeyringStore_SetTokenFillsCreatedAt(t *testing.T) {
	store := NewStore(keyring.NewArrayKeyring(nil))

	if err := store.SetToken(Token{Email: "a@b.com", RefreshToken: "rt"}); err != nil {
		t.Fatalf("SetToken: %v", err)
	}

	got, err := store.GetToken()
	if err != nil {
		t.Fatalf("GetToken: %v", err)
	}
	if got.CreatedAt.IsZero() {
		t.Fatalf("expected CreatedAt to be filled")
	}
}

func TestResolveKeyringBackendInfo(t *testing.T) {
	t.Setenv(EnvKeyringBackend, "")
	info, err := ResolveKeyringBackendInfo()
	if err != nil {
		t.Fatalf("ResolveKeyringBackendInfo: %v", err)
	}
	if info.Value != "auto" || info.Source != "default" {
		t.Fatalf("unexpected default info: %#v", info)
	}

	t.Setenv(EnvKeyringBackend, "File")
	info, err = ResolveKeyringBackendInfo()
	if err != nil {
		t.Fatalf("ResolveKeyringBackendInfo: %v", err)
	}
	if info.Value != "file" || info.Source != "env" {
		t.Fatalf("unexpected env info: %#v", info)
	}

	t.Setenv(EnvKeyringBackend, "vault")
	if _, err := ResolveKeyringBackendInfo(); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestAllowedBackends(t *testing.T) {
	if got, err := allowedBackends(KeyringBackendInfo{Value: "auto"}); err != nil || got != nil {
		t.Fatalf("auto: got %v, %v", got, err)
	}
	if got, err := allowedBackends(KeyringBackendInfo{Value: "keychain"}); err != nil || len(got) != 1 || got[0] != keyring.KeychainBackend {
		t.Fatalf("keychain: got %v, %v", got, err)
	}
	if got, err := allowedBackends(KeyringBackendInfo{Value: "file"}); err != nil || len(got) != 1 || got[0] != keyring.FileBackend {
		t.Fatalf("file: got %v, %v", got, err)
	}
}

func TestFileKeyringPasswordFuncFrom(t *testing.T) {
	// Password from the environment wins, even when empty.
	fn := fileKeyringPasswordFuncFrom("pw", true, false)
	if got, err := fn("prompt"); err != nil || got != "pw" {
		t.Fatalf("expected pw, got %q err=%v", got, err)
	}

	fn = fileKeyringPasswordFuncFrom("", true, false)
	if got, err := fn("prompt"); err != nil || got != "" {
		t.Fatalf("expected empty password, got %q err=%v", got, err)
	}

	// No env var and no TTY cannot prompt.
	fn = fileKeyringPasswordFuncFrom("", false, false)
	if _, err := fn("prompt"); !errors.Is(err, errNoTTY) {
		t.Fatalf("expected errNoTTY, got %v", err)
	}
}

func TestWrapKeychainError(t *testing.T) {
	wrapped := wrapKeychainError(errTestKeychain)
	if runtime.GOOS == "darwin" {
		if !errors.Is(wrapped, errTestKeychain) || !strings.Contains(wrapped.Error(), "keychain is locked") {
			t.Fatalf("expected wrapped keychain error, got: %v", wrapped)
		}
		return
	}
	if !errors.Is(wrapped, errTestKeychain) || wrapped.Error() != errTestKeychain.Error() {
		t.Fatalf("expected passthrough error, got: %v", wrapped)
	}
}

func TestOpenDefaultUsesStub(t *testing.T) {
	orig := openKeyringFunc
	defer func() { openKeyringFunc = orig }()

	var gotService string
	openKeyringFunc = func(cfg keyring.Config) (keyring.Keyring, error) {
		gotService = cfg.ServiceName
		return keyring.NewArrayKeyring(nil), nil
	}

	t.Setenv(EnvKeyringBackend, "file")
	store, err := OpenDefault()
	if err != nil {
		t.Fatalf("OpenDefault: %v", err)
	}
	if store == nil || gotService != "maestral" {
		t.Fatalf("unexpected open: store=%v service=%q", store, gotService)
	}
}
