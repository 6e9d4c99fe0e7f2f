package config

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Section names of the persisted client state.
const (
	SectionMain     = "main"
	SectionInternal = "internal"
	SectionAccount  = "account"
)

// Keys used by the sync core and the CLI.
const (
	KeyPath            = "path"
	KeyExcludedFolders = "excluded_folders"
	KeyCursor          = "cursor"
	KeyLastSync        = "lastsync"
	KeyEmail           = "email"
	KeyDisplayName     = "display_name"
	KeyAccountType     = "account_type"
	KeyUsage           = "usage"
)

// Store persists keyed sections of client state. Mutating calls on a
// durable implementation have committed to disk when they return.
type Store interface {
	Get(section, key string) (string, bool)
	Set(section, key, value string) error
	Strings(section, key string) []string
	SetStrings(section, key string, values []string) error
	Delete(section, key string) error
}

type sections map[string]map[string]any

func (s sections) get(section, key string) (string, bool) {
	v, ok := s[section][key]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case []any, map[string]any:
		return "", false
	default:
		return fmt.Sprint(t), true
	}
}

func (s sections) strings(section, key string) []string {
	switch t := s[section][key].(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, v := range t {
			out = append(out, fmt.Sprint(v))
		}
		return out
	case []string:
		return slices.Clone(t)
	default:
		return nil
	}
}

func (s sections) set(section, key string, value any) {
	m, ok := s[section]
	if !ok {
		m = make(map[string]any)
		s[section] = m
	}
	m[key] = value
}

func (s sections) delete(section, key string) {
	m, ok := s[section]
	if !ok {
		return
	}
	delete(m, key)
	if len(m) == 0 {
		delete(s, section)
	}
}

// FileStore is the YAML-backed Store. Every mutation rewrites the file
// atomically (temp file, fsync, rename) so a crash never leaves a
// half-written config behind.
type FileStore struct {
	path string
	data sections
}

// Open loads the store at path, or starts an empty one if the file does
// not exist yet.
func Open(path string) (*FileStore, error) {
	st := &FileStore{path: path, data: sections{}}
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &st.data); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return st, nil
}

// OpenDefault opens the store at the resolved default location.
func OpenDefault() (*FileStore, error) {
	p, err := FilePath()
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	return Open(p)
}

func (f *FileStore) Path() string { return f.path }

func (f *FileStore) Get(section, key string) (string, bool) {
	return f.data.get(section, key)
}

func (f *FileStore) Set(section, key, value string) error {
	f.data.set(section, key, value)
	return f.save()
}

func (f *FileStore) Strings(section, key string) []string {
	return f.data.strings(section, key)
}

func (f *FileStore) SetStrings(section, key string, values []string) error {
	f.data.set(section, key, slices.Clone(values))
	return f.save()
}

func (f *FileStore) Delete(section, key string) error {
	f.data.delete(section, key)
	return f.save()
}

func (f *FileStore) save() error {
	b, err := yaml.Marshal(f.data)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("ensure config dir: %w", err)
	}
	if err := writeFileAtomic(f.path, b, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// MemStore is the in-memory Store used by tests.
type MemStore struct {
	data sections
}

func NewMemStore() *MemStore {
	return &MemStore{data: sections{}}
}

func (m *MemStore) Get(section, key string) (string, bool) {
	return m.data.get(section, key)
}

func (m *MemStore) Set(section, key, value string) error {
	m.data.set(section, key, value)
	return nil
}

func (m *MemStore) Strings(section, key string) []string {
	return m.data.strings(section, key)
}

func (m *MemStore) SetStrings(section, key string, values []string) error {
	m.data.set(section, key, slices.Clone(values))
	return nil
}

func (m *MemStore) Delete(section, key string) error {
	m.data.delete(section, key)
	return nil
}

// NormalizeFolder canonicalizes a remote folder path to the stored form:
// leading slash, cleaned, lower-cased.
func NormalizeFolder(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = "/" + strings.Trim(strings.ReplaceAll(p, "\\", "/"), "/")
	return strings.ToLower(path.Clean(p))
}

// SyncPath returns the configured local sync root, empty when unset.
func SyncPath(st Store) string {
	p, _ := st.Get(SectionMain, KeyPath)
	return p
}

func SetSyncPath(st Store, p string) error {
	return st.Set(SectionMain, KeyPath, p)
}

// ExcludedFolders returns the persisted excluded set, sorted.
func ExcludedFolders(st Store) []string {
	return st.Strings(SectionMain, KeyExcludedFolders)
}

// SetExcludedFolders persists the excluded set, enforcing the stored
// invariant: entries normalized, deduplicated, sorted.
func SetExcludedFolders(st Store, folders []string) error {
	norm := make([]string, 0, len(folders))
	for _, f := range folders {
		n := NormalizeFolder(f)
		if n == "" || slices.Contains(norm, n) {
			continue
		}
		norm = append(norm, n)
	}
	slices.Sort(norm)
	return st.SetStrings(SectionMain, KeyExcludedFolders, norm)
}

func IsExcluded(st Store, folder string) bool {
	return slices.Contains(ExcludedFolders(st), NormalizeFolder(folder))
}

// Cursor returns the remote-listing continuation token, "" when none.
func Cursor(st Store) string {
	c, _ := st.Get(SectionInternal, KeyCursor)
	return c
}

func SetCursor(st Store, cursor string) error {
	return st.Set(SectionInternal, KeyCursor, cursor)
}

// LastSync reports the time of the last successful full sync. A missing
// or unparseable value means never.
func LastSync(st Store) (time.Time, bool) {
	v, ok := st.Get(SectionInternal, KeyLastSync)
	if !ok || v == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func SetLastSync(st Store, t time.Time) error {
	return st.Set(SectionInternal, KeyLastSync, t.UTC().Format(time.RFC3339))
}

func ClearLastSync(st Store) error {
	return st.Delete(SectionInternal, KeyLastSync)
}
