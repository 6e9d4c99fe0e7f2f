// Package secrets stores the linked account's OAuth credentials in the
// OS keyring. Only the refresh token lives here; everything else about
// the account goes to the regular config file.
package secrets

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/99designs/keyring"

	"github.com/takapai/maestral/internal/config"
)

const tokenKey = "dropbox-token"

var (
	errMissingEmail        = errors.New("token is missing the account email")
	errMissingRefreshToken = errors.New("token is missing the refresh token")
)

// ErrNoToken is returned when no account is linked.
var ErrNoToken = errors.New("no linked account")

// Token is the stored credential of the linked account.
type Token struct {
	AccountID    string    `json:"account_id,omitempty"`
	Email        string    `json:"email"`
	RefreshToken string    `json:"refresh_token"`
	CreatedAt    time.Time `json:"created_at"`
}

// KeyringStore keeps the token in the resolved keyring backend.
type KeyringStore struct {
	ring keyring.Keyring
}

// openKeyringFunc is stubbed in tests.
var openKeyringFunc = keyring.Open

// OpenDefault opens the keyring selected by MAESTRAL_KEYRING_BACKEND,
// the platform default when unset.
func OpenDefault() (*KeyringStore, error) {
	info, err := ResolveKeyringBackendInfo()
	if err != nil {
		return nil, err
	}
	backends, err := allowedBackends(info)
	if err != nil {
		return nil, err
	}
	fileDir, err := keyringFileDir()
	if err != nil {
		return nil, fmt.Errorf("resolve keyring dir: %w", err)
	}

	ring, err := openKeyringFunc(keyring.Config{
		ServiceName:              config.AppName,
		AllowedBackends:          backends,
		FileDir:                  fileDir,
		FilePasswordFunc:         fileKeyringPasswordFunc(),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, wrapKeychainError(fmt.Errorf("open keyring: %w", err))
	}
	return &KeyringStore{ring: ring}, nil
}

// NewStore wraps an already-open keyring, used by tests with
// keyring.NewArrayKeyring.
func NewStore(ring keyring.Keyring) *KeyringStore {
	return &KeyringStore{ring: ring}
}

func (s *KeyringStore) SetToken(t Token) error {
	if strings.TrimSpace(t.Email) == "" {
		return errMissingEmail
	}
	if strings.TrimSpace(t.RefreshToken) == "" {
		return errMissingRefreshToken
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	b, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if err := s.ring.Set(keyring.Item{Key: tokenKey, Data: b, Label: config.AppName}); err != nil {
		return wrapKeychainError(fmt.Errorf("store token: %w", err))
	}
	return nil
}

func (s *KeyringStore) GetToken() (Token, error) {
	item, err := s.ring.Get(tokenKey)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return Token{}, ErrNoToken
	}
	if err != nil {
		return Token{}, wrapKeychainError(fmt.Errorf("read token: %w", err))
	}

	var t Token
	if err := json.Unmarshal(item.Data, &t); err != nil {
		return Token{}, fmt.Errorf("decode token: %w", err)
	}
	return t, nil
}

// DeleteToken removes the stored token. Deleting an absent token is not
// an error so unlink stays idempotent.
func (s *KeyringStore) DeleteToken() error {
	err := s.ring.Remove(tokenKey)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return wrapKeychainError(fmt.Errorf("delete token: %w", err))
	}
	return nil
}

// wrapKeychainError adds the unlock hint for the macOS locked-keychain
// error; everything else passes through untouched.
func wrapKeychainError(err error) error {
	if err == nil || runtime.GOOS != "darwin" {
		return err
	}
	if strings.Contains(err.Error(), "-25308") {
		return fmt.Errorf("%w (the keychain is locked; unlock it and try again)", err)
	}
	return err
}
