package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/takapai/maestral/internal/config"
	"github.com/takapai/maestral/internal/secrets"
)

const (
	defaultAPIBase     = "https://api.dropboxapi.com"
	defaultContentBase = "https://content.dropboxapi.com"
)

// Options configures a Client.
type Options struct {
	// TokenSource supplies OAuth access tokens. Required for every call
	// except Ping.
	TokenSource oauth2.TokenSource

	// Secrets is where Unlink drops the stored credentials. Optional.
	Secrets *secrets.KeyringStore

	// Root is the local sync root. May be empty until bootstrap picks
	// one; SetLocalRoot installs it later.
	Root string

	Logger *slog.Logger

	// APIBase and ContentBase override the service endpoints in tests.
	APIBase     string
	ContentBase string

	// RequestsPerSecond caps outgoing calls. 0 means the default of 8.
	RequestsPerSecond float64
}

// Client talks to the Dropbox API and owns the revision cache of the
// current sync root.
type Client struct {
	httpClient  *http.Client
	probeClient *http.Client
	limiter     *rate.Limiter
	logger      *slog.Logger
	secrets     *secrets.KeyringStore
	apiBase     string
	contentBase string

	mu   sync.Mutex
	root string
	revs *RevCache
}

func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	apiBase := opts.APIBase
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	contentBase := opts.ContentBase
	if contentBase == "" {
		contentBase = defaultContentBase
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 8
	}

	// Long transfers are bounded by the request context, not a client
	// timeout.
	hc := &http.Client{}
	if opts.TokenSource != nil {
		hc.Transport = &oauth2.Transport{Source: opts.TokenSource}
	}

	return &Client{
		httpClient:  hc,
		probeClient: &http.Client{Timeout: 10 * time.Second},
		limiter:     rate.NewLimiter(rate.Limit(rps), int(rps)*2),
		logger:      logger,
		secrets:     opts.Secrets,
		apiBase:     apiBase,
		contentBase: contentBase,
		root:        opts.Root,
	}
}

// Close releases the revision cache.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.revs == nil {
		return nil
	}
	err := c.revs.Close()
	c.revs = nil
	return err
}

// LocalRoot returns the current sync root.
func (c *Client) LocalRoot() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.root
}

// SetLocalRoot repoints the client at a new sync root. The revision
// cache travels with the root directory and reopens lazily at the new
// location.
func (c *Client) SetLocalRoot(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.revs != nil {
		if err := c.revs.Close(); err != nil {
			return fmt.Errorf("close rev cache: %w", err)
		}
		c.revs = nil
	}
	c.root = path
	return nil
}

// cache returns the revision cache for the current root, opening it on
// first use.
func (c *Client) cache() (*RevCache, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.revs != nil {
		return c.revs, nil
	}
	if c.root == "" {
		return nil, errors.New("sync root not set")
	}
	if err := os.MkdirAll(c.root, 0o755); err != nil {
		return nil, fmt.Errorf("ensure sync root: %w", err)
	}
	revs, err := OpenRevCache(c.root)
	if err != nil {
		return nil, err
	}
	c.revs = revs
	return revs, nil
}

// Ping reports whether the API host answers at the transport level.
// Any HTTP status counts as reachable.
func (c *Client) Ping(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.apiBase+"/", nil)
	if err != nil {
		return false
	}
	res, err := c.probeClient.Do(req)
	if err != nil {
		return false
	}
	io.Copy(io.Discard, res.Body)
	res.Body.Close()
	return true
}

// rpc performs one JSON call against the api host.
func (c *Client) rpc(ctx context.Context, endpoint string, args, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	body, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode %s args: %w", endpoint, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransport(endpoint, err)
	}
	defer res.Body.Close()

	if err := checkStatus(res); err != nil {
		return err
	}
	if result == nil {
		io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(result); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

// classifyTransport maps a failed token refresh to AuthRequiredError;
// everything else keeps its transport flavor for IsTransient.
func classifyTransport(endpoint string, err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) && rerr.Response != nil && rerr.Response.StatusCode < 500 {
		return &AuthRequiredError{Cause: err}
	}
	return fmt.Errorf("call %s: %w", endpoint, err)
}

func checkStatus(res *http.Response) error {
	if res.StatusCode == http.StatusOK {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	if res.StatusCode == http.StatusUnauthorized {
		return &AuthRequiredError{Cause: &APIError{Status: res.StatusCode, Summary: errorSummary(b)}}
	}
	return &APIError{Status: res.StatusCode, Summary: errorSummary(b)}
}

func errorSummary(b []byte) string {
	var e struct {
		ErrorSummary string `json:"error_summary"`
	}
	if json.Unmarshal(b, &e) == nil && e.ErrorSummary != "" {
		return e.ErrorSummary
	}
	return strings.TrimSpace(string(b))
}

type listFolderArgs struct {
	Path           string `json:"path"`
	Recursive      bool   `json:"recursive"`
	IncludeDeleted bool   `json:"include_deleted,omitempty"`
}

// ListFolder lists entries under path. The API addresses the root as
// "", so "/" is mapped before the call.
func (c *Client) ListFolder(ctx context.Context, path string, recursive bool) (ListResult, error) {
	if path == "/" {
		path = ""
	}
	var res ListResult
	err := c.rpc(ctx, "/2/files/list_folder", listFolderArgs{Path: path, Recursive: recursive}, &res)
	return res, err
}

// ListFolderContinue fetches the next page for a cursor.
func (c *Client) ListFolderContinue(ctx context.Context, cursor string) (ListResult, error) {
	var res ListResult
	err := c.rpc(ctx, "/2/files/list_folder/continue", struct {
		Cursor string `json:"cursor"`
	}{cursor}, &res)
	return res, err
}

// LatestCursor returns a cursor for the current state of the whole
// account, for pollers that only care about changes from now on.
func (c *Client) LatestCursor(ctx context.Context) (string, error) {
	var res struct {
		Cursor string `json:"cursor"`
	}
	err := c.rpc(ctx, "/2/files/list_folder/get_latest_cursor",
		listFolderArgs{Path: "", Recursive: true, IncludeDeleted: true}, &res)
	return res.Cursor, err
}

// IsCursorReset reports whether err is the server telling us the cursor
// is no longer valid and listing must restart.
func IsCursorReset(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && strings.Contains(apiErr.Summary, "reset")
}

// ListTopLevelFolders returns the folders directly under the account
// root, for the folder-selection prompts.
func (c *Client) ListTopLevelFolders(ctx context.Context) ([]FolderEntry, error) {
	var out []FolderEntry
	res, err := c.ListFolder(ctx, "", false)
	for {
		if err != nil {
			return nil, err
		}
		for _, e := range res.Entries {
			if !e.IsFolder() {
				continue
			}
			out = append(out, FolderEntry{PathDisplay: e.PathDisplay, PathLower: e.PathLower, IsFolder: true})
		}
		if !res.HasMore {
			break
		}
		res, err = c.ListFolderContinue(ctx, res.Cursor)
	}
	return out, nil
}

// localPath maps a remote display path into the sync root.
func (c *Client) localPath(remotePath string) string {
	return filepath.Join(c.LocalRoot(), filepath.FromSlash(strings.TrimPrefix(remotePath, "/")))
}

// UnderAny reports whether pathLower equals or lies below any of the
// normalized folder paths.
func UnderAny(pathLower string, folders []string) bool {
	for _, f := range folders {
		if pathLower == f || strings.HasPrefix(pathLower, f+"/") {
			return true
		}
	}
	return false
}

// DownloadTree mirrors the entire remote tree into the sync root,
// skipping the excluded folders, and returns the listing cursor that
// captures the downloaded state.
func (c *Client) DownloadTree(ctx context.Context, excluding []string) (string, error) {
	excluded := make([]string, 0, len(excluding))
	for _, f := range excluding {
		if n := config.NormalizeFolder(f); n != "" {
			excluded = append(excluded, n)
		}
	}

	res, err := c.ListFolder(ctx, "", true)
	var cursor string
	for {
		if err != nil {
			return "", err
		}
		cursor = res.Cursor
		for _, md := range res.Entries {
			if UnderAny(md.PathLower, excluded) {
				continue
			}
			if err := c.ApplyChange(ctx, md); err != nil {
				return "", err
			}
		}
		if !res.HasMore {
			break
		}
		res, err = c.ListFolderContinue(ctx, cursor)
	}
	c.logger.Info("full download finished", "cursor_len", len(cursor))
	return cursor, nil
}

// DownloadFolder mirrors a single remote folder into the sync root.
func (c *Client) DownloadFolder(ctx context.Context, folder string) error {
	folder = config.NormalizeFolder(folder)
	if err := os.MkdirAll(c.localPath(folder), 0o755); err != nil {
		return fmt.Errorf("create folder: %w", err)
	}

	res, err := c.ListFolder(ctx, folder, true)
	for {
		if err != nil {
			return err
		}
		for _, md := range res.Entries {
			if err := c.ApplyChange(ctx, md); err != nil {
				return err
			}
		}
		if !res.HasMore {
			return nil
		}
		res, err = c.ListFolderContinue(ctx, res.Cursor)
	}
}

// ApplyChange applies one remote entry to the local tree: folders are
// created, files downloaded, deletions removed, and the revision cache
// updated to match.
func (c *Client) ApplyChange(ctx context.Context, md Metadata) error {
	cache, err := c.cache()
	if err != nil {
		return err
	}
	switch {
	case md.IsFolder():
		if err := os.MkdirAll(c.localPath(md.PathDisplay), 0o755); err != nil {
			return fmt.Errorf("create folder: %w", err)
		}
		return cache.SetRev(md.PathLower, FolderRev)
	case md.IsFile():
		return c.downloadFile(ctx, md)
	case md.IsDeleted():
		local := c.localPath(md.PathDisplay)
		if err := os.RemoveAll(local); err != nil {
			return fmt.Errorf("remove %s: %w", local, err)
		}
		return cache.ClearTree(md.PathLower)
	}
	return nil
}

func (c *Client) downloadFile(ctx context.Context, md Metadata) error {
	cache, err := c.cache()
	if err != nil {
		return err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	arg, err := json.Marshal(struct {
		Path string `json:"path"`
	}{md.PathLower})
	if err != nil {
		return fmt.Errorf("encode download arg: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.contentBase+"/2/files/download", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Dropbox-API-Arg", string(arg))

	res, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransport("/2/files/download", err)
	}
	defer res.Body.Close()
	if err := checkStatus(res); err != nil {
		return err
	}

	local := c.localPath(md.PathDisplay)
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(local), ".maestral-dl-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, res.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("write file content: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	hash, err := FileContentHash(tmp.Name())
	if err != nil {
		return err
	}
	if md.ContentHash != "" && hash != md.ContentHash {
		return fmt.Errorf("content hash mismatch for %s: local=%s remote=%s", md.PathDisplay, hash, md.ContentHash)
	}

	if !md.ServerModified.IsZero() {
		_ = os.Chtimes(tmp.Name(), time.Now(), md.ServerModified)
	}
	if err := os.Rename(tmp.Name(), local); err != nil {
		return fmt.Errorf("move into place: %w", err)
	}

	c.logger.Debug("downloaded", "path", md.PathDisplay, "size", md.Size, "rev", md.Rev)
	return cache.SetFileState(md.PathLower, md.Rev, hash)
}

// UploadFile sends a local file to its mirrored remote path, replacing
// whatever is there.
func (c *Client) UploadFile(ctx context.Context, localPath string) error {
	cache, err := c.cache()
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(c.LocalRoot(), localPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("path %s is outside the sync root", localPath)
	}
	remotePath := "/" + filepath.ToSlash(rel)

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open upload source: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat upload source: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	arg, err := json.Marshal(struct {
		Path           string `json:"path"`
		Mode           string `json:"mode"`
		Mute           bool   `json:"mute"`
		ClientModified string `json:"client_modified"`
	}{remotePath, "overwrite", true, info.ModTime().UTC().Format("2006-01-02T15:04:05Z")})
	if err != nil {
		return fmt.Errorf("encode upload arg: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.contentBase+"/2/files/upload", f)
	if err != nil {
		return err
	}
	req.Header.Set("Dropbox-API-Arg", string(arg))
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = info.Size()

	res, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransport("/2/files/upload", err)
	}
	defer res.Body.Close()
	if err := checkStatus(res); err != nil {
		return err
	}

	var md Metadata
	if err := json.NewDecoder(res.Body).Decode(&md); err != nil {
		return fmt.Errorf("decode upload response: %w", err)
	}
	key := md.PathLower
	if key == "" {
		key = strings.ToLower(remotePath)
	}
	hash := md.ContentHash
	if hash == "" {
		hash, _ = FileContentHash(localPath)
	}
	c.logger.Debug("uploaded", "path", remotePath, "size", info.Size(), "rev", md.Rev)
	return cache.SetFileState(key, md.Rev, hash)
}

// DeleteRemote removes a remote path. A path already gone remotely is
// treated as success.
func (c *Client) DeleteRemote(ctx context.Context, remotePath string) error {
	err := c.rpc(ctx, "/2/files/delete_v2", struct {
		Path string `json:"path"`
	}{remotePath}, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && strings.Contains(apiErr.Summary, "not_found") {
		err = nil
	}
	if err != nil {
		return err
	}
	cache, cerr := c.cache()
	if cerr != nil {
		return cerr
	}
	return cache.ClearTree(remotePath)
}

// CreateRemoteFolder creates a remote folder. An existing folder at the
// path is treated as success.
func (c *Client) CreateRemoteFolder(ctx context.Context, remotePath string) error {
	err := c.rpc(ctx, "/2/files/create_folder_v2", struct {
		Path string `json:"path"`
	}{remotePath}, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && strings.Contains(apiErr.Summary, "conflict") {
		err = nil
	}
	if err != nil {
		return err
	}
	cache, cerr := c.cache()
	if cerr != nil {
		return cerr
	}
	return cache.SetRev(remotePath, FolderRev)
}

// ClearRevision drops the stored revision markers for a path and its
// subtree.
func (c *Client) ClearRevision(path string) error {
	cache, err := c.cache()
	if err != nil {
		return err
	}
	return cache.ClearTree(path)
}

// Revision returns the stored revision for a path, "" when untracked.
func (c *Client) Revision(path string) (string, error) {
	cache, err := c.cache()
	if err != nil {
		return "", err
	}
	return cache.Rev(path)
}

// StoredHash returns the content hash recorded for a path, "" when
// unknown.
func (c *Client) StoredHash(path string) (string, error) {
	cache, err := c.cache()
	if err != nil {
		return "", err
	}
	return cache.Hash(path)
}

// TrackedFiles returns how many files the revision cache knows about.
func (c *Client) TrackedFiles() (int64, error) {
	cache, err := c.cache()
	if err != nil {
		return 0, err
	}
	return cache.Count()
}

// CurrentAccount fetches the linked account's identity and space usage.
func (c *Client) CurrentAccount(ctx context.Context) (AccountInfo, error) {
	var acct struct {
		AccountID string `json:"account_id"`
		Email     string `json:"email"`
		Name      struct {
			DisplayName string `json:"display_name"`
		} `json:"name"`
		AccountType struct {
			Tag string `json:".tag"`
		} `json:"account_type"`
	}
	if err := c.rpc(ctx, "/2/users/get_current_account", nil, &acct); err != nil {
		return AccountInfo{}, err
	}

	var usage struct {
		Used       int64 `json:"used"`
		Allocation struct {
			Allocated int64 `json:"allocated"`
		} `json:"allocation"`
	}
	if err := c.rpc(ctx, "/2/users/get_space_usage", nil, &usage); err != nil {
		return AccountInfo{}, err
	}

	return AccountInfo{
		AccountID:      acct.AccountID,
		Email:          acct.Email,
		DisplayName:    acct.Name.DisplayName,
		AccountType:    acct.AccountType.Tag,
		UsedBytes:      usage.Used,
		AllocatedBytes: usage.Allocation.Allocated,
	}, nil
}

// Unlink revokes the access token and drops the stored credentials.
// Revocation is best effort: when the server cannot be reached the
// local credentials are still removed so the account ends up unlinked.
func (c *Client) Unlink(ctx context.Context) error {
	err := c.rpc(ctx, "/2/auth/token/revoke", nil, nil)
	switch {
	case err == nil:
	case errors.As(err, new(*AuthRequiredError)):
		// Token already invalid server-side.
	case IsTransient(err):
		c.logger.Warn("token revoke skipped", "error", err)
	default:
		return err
	}
	if c.secrets != nil {
		if err := c.secrets.DeleteToken(); err != nil {
			return err
		}
	}
	return nil
}

// TokenSourceFromKeyring builds a self-refreshing token source from the
// stored refresh token.
func TokenSourceFromKeyring(ctx context.Context, store *secrets.KeyringStore, clientID string) (oauth2.TokenSource, error) {
	tok, err := store.GetToken()
	if errors.Is(err, secrets.ErrNoToken) {
		return nil, &AuthRequiredError{Cause: err}
	}
	if err != nil {
		return nil, err
	}
	cfg := &oauth2.Config{ClientID: clientID, Endpoint: Endpoint()}
	base := &oauth2.Token{RefreshToken: tok.RefreshToken}
	return oauth2.ReuseTokenSource(nil, cfg.TokenSource(ctx, base)), nil
}
