package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/takapai/maestral/internal/config"
	"github.com/takapai/maestral/internal/remote"
)

const probeTimeout = 5 * time.Second

// EngineClient is the remote surface the engine drives. *remote.Client
// implements it.
type EngineClient interface {
	LatestCursor(ctx context.Context) (string, error)
	ListFolderContinue(ctx context.Context, cursor string) (remote.ListResult, error)
	ApplyChange(ctx context.Context, md remote.Metadata) error
	Ping(ctx context.Context) bool
	LocalRoot() string
	UploadFile(ctx context.Context, localPath string) error
	DeleteRemote(ctx context.Context, remotePath string) error
	CreateRemoteFolder(ctx context.Context, remotePath string) error
	Revision(path string) (string, error)
	StoredHash(path string) (string, error)
}

// Engine is the running half of the client: a filesystem watcher that
// uploads local changes, a poller that applies remote ones, and a
// connectivity probe. It is the Monitor the controller pauses and
// resumes.
type Engine struct {
	client EngineClient
	store  config.Store
	logger *slog.Logger

	debounce      time.Duration
	pollInterval  time.Duration
	probeInterval time.Duration

	mu      gosync.Mutex
	cancel  context.CancelFunc
	wg      gosync.WaitGroup
	running bool

	connected atomic.Bool
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	Client EngineClient
	Store  config.Store
	Logger *slog.Logger

	Debounce      time.Duration
	PollInterval  time.Duration
	ProbeInterval time.Duration
}

// NewEngine creates an engine. Nothing runs until Start.
func NewEngine(opts EngineOptions) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = time.Second
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = PollInterval()
	}
	probe := opts.ProbeInterval
	if probe <= 0 {
		probe = 30 * time.Second
	}
	return &Engine{
		client:        opts.Client,
		store:         opts.Store,
		logger:        logger,
		debounce:      debounce,
		pollInterval:  poll,
		probeInterval: probe,
	}
}

// Start brings the sync loops up. Starting a running engine is a
// no-op.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}

	root := e.client.LocalRoot()
	if root == "" {
		return errors.New("no sync folder configured")
	}
	watcher, err := NewWatcher(root, e.debounce)
	if err != nil {
		return fmt.Errorf("watch %s: %w", root, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.running = true

	// Each run gets its own id so interleaved log lines from an old,
	// still-draining session stay tellable apart.
	logger := e.logger.With("session", uuid.NewString()[:8])

	poller := NewRemotePoller(RemotePollerOptions{
		Source:    e.client,
		Store:     e.store,
		Logger:    logger,
		Interval:  e.pollInterval,
		Connected: e.connected.Load,
	})

	e.wg.Add(4)
	go func() {
		defer e.wg.Done()
		if err := watcher.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("watcher stopped", "error", err)
		}
		watcher.Stop()
	}()
	go func() {
		defer e.wg.Done()
		e.uploadLoop(ctx, watcher, logger)
	}()
	go func() {
		defer e.wg.Done()
		if err := poller.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("poller stopped", "error", err)
		}
	}()
	go func() {
		defer e.wg.Done()
		e.probeLoop(ctx, logger)
	}()

	logger.Info("sync engine started", "path", root)
	return nil
}

// Stop shuts the loops down and waits for them to drain. Stopping a
// stopped engine is a no-op.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	cancel := e.cancel
	e.running = false
	e.cancel = nil
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
	e.logger.Info("sync engine stopped")
	return nil
}

// Running reports whether the sync loops are up.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Connected reports whether the Dropbox servers are reachable. While
// running the cached probe result answers; otherwise a one-shot probe
// runs.
func (e *Engine) Connected() bool {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	if running {
		return e.connected.Load()
	}

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	ok := e.client.Ping(ctx)
	e.connected.Store(ok)
	return ok
}

func (e *Engine) probeLoop(ctx context.Context, logger *slog.Logger) {
	e.probe(ctx, logger)
	ticker := time.NewTicker(e.probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.probe(ctx, logger)
		}
	}
}

func (e *Engine) probe(ctx context.Context, logger *slog.Logger) {
	pctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	now := e.client.Ping(pctx)
	if was := e.connected.Swap(now); was != now {
		if now {
			logger.Info("connection to dropbox established")
		} else {
			logger.Warn("connection to dropbox lost")
		}
	}
}

// uploadLoop forwards debounced local events to the uploader.
func (e *Engine) uploadLoop(ctx context.Context, w *Watcher, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events():
			if !ok {
				return
			}
			e.handleLocalEvent(ctx, ev, logger)
		case err, ok := <-w.Errors():
			if !ok {
				return
			}
			logger.Error("watcher error", "error", err)
		}
	}
}

// handleLocalEvent mirrors one local change to the account. Events that
// merely echo the engine's own downloads are dropped.
func (e *Engine) handleLocalEvent(ctx context.Context, ev WatchEvent, logger *slog.Logger) {
	remotePath := "/" + filepath.ToSlash(ev.RelPath)
	lower := strings.ToLower(remotePath)
	if remote.UnderAny(lower, config.ExcludedFolders(e.store)) {
		return
	}

	switch ev.Op {
	case OpCreate, OpWrite:
		info, err := os.Stat(ev.Path)
		if err != nil {
			// Gone again before we got to it.
			if os.IsNotExist(err) {
				return
			}
			logger.Error("stat changed path", "path", ev.Path, "error", err)
			return
		}
		if info.IsDir() {
			if rev, _ := e.client.Revision(lower); rev == remote.FolderRev {
				return
			}
			if err := e.client.CreateRemoteFolder(ctx, remotePath); err != nil {
				logger.Error("create remote folder", "path", remotePath, "error", err)
				return
			}
			logger.Info("created remote folder", "path", remotePath)
			return
		}
		if e.isOwnWrite(lower, ev.Path) {
			return
		}
		if err := e.client.UploadFile(ctx, ev.Path); err != nil {
			logger.Error("upload", "path", remotePath, "error", err)
			return
		}
		logger.Info("uploaded", "path", remotePath)

	case OpDelete, OpRename:
		rev, _ := e.client.Revision(lower)
		hash, _ := e.client.StoredHash(lower)
		if rev == "" && hash == "" {
			// Never tracked, nothing to remove remotely.
			return
		}
		if err := e.client.DeleteRemote(ctx, remotePath); err != nil {
			logger.Error("delete remote", "path", remotePath, "error", err)
			return
		}
		logger.Info("deleted remote", "path", remotePath)
	}
}

// isOwnWrite reports whether the file on disk matches the last state
// the engine itself downloaded or uploaded.
func (e *Engine) isOwnWrite(lower, localPath string) bool {
	stored, err := e.client.StoredHash(lower)
	if err != nil || stored == "" {
		return false
	}
	current, err := remote.FileContentHash(localPath)
	if err != nil {
		return false
	}
	return current == stored
}
