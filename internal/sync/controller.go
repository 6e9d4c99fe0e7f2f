// Package sync orchestrates syncing between the local Dropbox folder
// and the linked account: a controller for the user-facing operations,
// an engine running the watch/poll loops, and the daemon plumbing.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	gosync "sync"
	"time"

	"github.com/takapai/maestral/internal/config"
	"github.com/takapai/maestral/internal/remote"
	"github.com/takapai/maestral/internal/ui"
)

// RemoteClient is the surface of the Dropbox client the controller
// drives.
type RemoteClient interface {
	ListTopLevelFolders(ctx context.Context) ([]remote.FolderEntry, error)
	DownloadTree(ctx context.Context, excluding []string) (cursor string, err error)
	DownloadFolder(ctx context.Context, folder string) error
	ClearRevision(path string) error
	Unlink(ctx context.Context) error
	LocalRoot() string
	SetLocalRoot(path string) error
}

// Monitor is the running sync machinery the controller pauses and
// resumes.
type Monitor interface {
	Start() error
	Stop() error
	Running() bool
	Connected() bool
}

// Controller implements the user-facing sync operations on top of the
// config store, the Dropbox client and the monitor.
type Controller struct {
	cfg     config.Store
	client  RemoteClient
	monitor Monitor
	ui      *ui.UI
	logger  *slog.Logger

	firstRun bool

	mu     gosync.Mutex
	paused bool
}

// ControllerOptions wires a Controller together.
type ControllerOptions struct {
	Config  config.Store
	Client  RemoteClient
	Monitor Monitor
	UI      *ui.UI
	Logger  *slog.Logger
}

// NewController builds a controller. Whether the account still needs
// its first full sync is decided here, once, from the persisted state.
func NewController(opts ControllerOptions) (*Controller, error) {
	if opts.Config == nil || opts.Client == nil || opts.Monitor == nil || opts.UI == nil {
		return nil, errors.New("config, client, monitor and ui are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		cfg:     opts.Config,
		client:  opts.Client,
		monitor: opts.Monitor,
		ui:      opts.UI,
		logger:  logger,
	}
	c.firstRun = c.pendingFirstSync()
	return c, nil
}

// pendingFirstSync reports whether a full download has never completed:
// no last-sync timestamp, no listing cursor, or a missing local folder
// all mean the account starts from scratch.
func (c *Controller) pendingFirstSync() bool {
	if _, ok := config.LastSync(c.cfg); !ok {
		return true
	}
	if config.Cursor(c.cfg) == "" {
		return true
	}
	path := config.SyncPath(c.cfg)
	if path == "" {
		return true
	}
	if _, err := os.Stat(path); err != nil {
		return true
	}
	return false
}

// FirstRun reports whether the interactive first-sync setup still has
// to happen. The answer is fixed at construction time.
func (c *Controller) FirstRun() bool { return c.firstRun }

// StartSync brings the monitor up.
func (c *Controller) StartSync() error {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
	if err := c.monitor.Start(); err != nil {
		return fmt.Errorf("start sync: %w", err)
	}
	c.logger.Info("syncing started")
	return nil
}

// PauseSync stops the monitor and records that the user asked for the
// pause, so paused operations do not restart it behind their back.
func (c *Controller) PauseSync() error {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
	if err := c.monitor.Stop(); err != nil {
		return fmt.Errorf("pause sync: %w", err)
	}
	c.logger.Info("syncing paused")
	return nil
}

// ResumeSync restarts the monitor after a pause.
func (c *Controller) ResumeSync() error {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
	if err := c.monitor.Start(); err != nil {
		return fmt.Errorf("resume sync: %w", err)
	}
	c.logger.Info("syncing resumed")
	return nil
}

// Paused reports whether the user paused syncing.
func (c *Controller) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Syncing reports whether the monitor is running.
func (c *Controller) Syncing() bool { return c.monitor.Running() }

// Connected reports whether the Dropbox servers are reachable.
func (c *Controller) Connected() bool { return c.monitor.Connected() }

// Unlink stops syncing, revokes the stored credentials and clears the
// account state. The sync folder and its contents stay on disk.
func (c *Controller) Unlink(ctx context.Context) error {
	if err := c.monitor.Stop(); err != nil {
		return fmt.Errorf("stop sync: %w", err)
	}
	if err := c.client.Unlink(ctx); err != nil {
		return fmt.Errorf("unlink account: %w", err)
	}
	for _, key := range []string{config.KeyEmail, config.KeyDisplayName, config.KeyAccountType, config.KeyUsage} {
		if err := c.cfg.Delete(config.SectionAccount, key); err != nil {
			return err
		}
	}
	if err := config.SetCursor(c.cfg, ""); err != nil {
		return err
	}
	if err := config.ClearLastSync(c.cfg); err != nil {
		return err
	}
	c.logger.Info("account unlinked")
	return nil
}

// Bootstrap runs the interactive first-sync setup: pick the local
// folder, pick the folders to leave out, then mirror the account.
func (c *Controller) Bootstrap(ctx context.Context) error {
	if err := c.SelectDirectory(); err != nil {
		return err
	}
	if err := c.SelectExcludedFolders(ctx); err != nil {
		return err
	}

	// State from an earlier aborted attempt is discarded up front, so
	// an interrupted download keeps counting as first run.
	if err := config.SetCursor(c.cfg, ""); err != nil {
		return err
	}
	if err := config.ClearLastSync(c.cfg); err != nil {
		return err
	}

	err := c.ifConnected("download", func() error {
		c.ui.Out().Print("Downloading your Dropbox...")
		cursor, err := c.client.DownloadTree(ctx, config.ExcludedFolders(c.cfg))
		if err != nil {
			return err
		}
		if err := config.SetCursor(c.cfg, cursor); err != nil {
			return err
		}
		return config.SetLastSync(c.cfg, time.Now())
	})
	if err != nil {
		return err
	}
	c.firstRun = false
	c.logger.Info("initial download complete")
	return nil
}

// SelectDirectory asks for the local sync folder location, creates it
// fresh and repoints the client at it.
func (c *Controller) SelectDirectory() error {
	def := config.SyncPath(c.cfg)
	if def == "" {
		d, err := config.DefaultSyncDir()
		if err != nil {
			return fmt.Errorf("resolve default folder: %w", err)
		}
		def = d
	}
	path, err := c.ui.AskPath("Please give Dropbox folder location, or press enter for default", def)
	if err != nil {
		return err
	}

	// AskPath already had the user confirm replacing an existing path.
	if _, err := os.Stat(path); err == nil {
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("clear existing folder: %w", err)
		}
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create sync folder: %w", err)
	}
	if err := config.SetSyncPath(c.cfg, path); err != nil {
		return err
	}
	if err := c.client.SetLocalRoot(path); err != nil {
		return err
	}
	c.logger.Info("dropbox folder set", "path", path)
	return nil
}

// SelectExcludedFolders walks the account's top-level folders asking
// which to leave out, then reconciles the answers against the current
// exclusion set: newly excluded folders are removed locally first,
// folders no longer excluded are downloaded after.
func (c *Controller) SelectExcludedFolders(ctx context.Context) error {
	return c.withSyncPaused(func() error {
		return c.ifConnected("select excluded folders", func() error {
			folders, err := c.client.ListTopLevelFolders(ctx)
			if err != nil {
				return err
			}

			old := config.ExcludedFolders(c.cfg)
			var selected []string
			for _, f := range folders {
				exclude, err := c.ui.YesNo(fmt.Sprintf("Exclude %q from sync?", f.PathDisplay), false)
				if err != nil {
					return err
				}
				if exclude {
					selected = append(selected, config.NormalizeFolder(f.PathLower))
				}
			}

			for _, f := range selected {
				if err := c.removeLocal(f); err != nil {
					return err
				}
			}
			for _, f := range old {
				if slices.Contains(selected, f) {
					continue
				}
				if err := c.client.DownloadFolder(ctx, f); err != nil {
					return err
				}
				c.logger.Info("included folder", "path", f)
			}
			return config.SetExcludedFolders(c.cfg, selected)
		})
	})
}

// ExcludeFolder takes a top-level folder out of syncing. The local copy
// is deleted; the remote copy is untouched. Excluding an already
// excluded folder is a no-op that still clears local leftovers.
func (c *Controller) ExcludeFolder(folder string) error {
	norm := config.NormalizeFolder(folder)
	if norm == "" || norm == "/" {
		return fmt.Errorf("invalid folder path %q", folder)
	}
	return c.withSyncPaused(func() error {
		excluded := config.ExcludedFolders(c.cfg)
		if !slices.Contains(excluded, norm) {
			excluded = append(excluded, norm)
			if err := config.SetExcludedFolders(c.cfg, excluded); err != nil {
				return err
			}
		}
		return c.removeLocal(norm)
	})
}

// removeLocal deletes the local copy of a folder and forgets its
// revisions, so a later inclusion downloads it from scratch.
func (c *Controller) removeLocal(folder string) error {
	local := resolveLocalCase(c.client.LocalRoot(), folder)
	if err := os.RemoveAll(local); err != nil {
		return fmt.Errorf("remove local folder: %w", err)
	}
	if err := c.client.ClearRevision(folder); err != nil {
		return err
	}
	c.logger.Info("excluded folder", "path", folder)
	return nil
}

// IncludeFolder puts a previously excluded folder back into sync and
// downloads it. Including a folder that is not excluded does nothing.
func (c *Controller) IncludeFolder(ctx context.Context, folder string) error {
	norm := config.NormalizeFolder(folder)
	if !config.IsExcluded(c.cfg, norm) {
		c.logger.Info("folder is not excluded, nothing to include", "path", norm)
		return nil
	}
	return c.withSyncPaused(func() error {
		return c.ifConnected("include folder", func() error {
			excluded := slices.DeleteFunc(config.ExcludedFolders(c.cfg), func(f string) bool { return f == norm })
			if err := config.SetExcludedFolders(c.cfg, excluded); err != nil {
				return err
			}
			if err := c.client.DownloadFolder(ctx, norm); err != nil {
				return err
			}
			c.logger.Info("included folder", "path", norm)
			return nil
		})
	})
}

// DropboxDirectory returns the configured local sync folder.
func (c *Controller) DropboxDirectory() string {
	return config.SyncPath(c.cfg)
}

// MoveDropboxDirectory relocates the sync folder, carrying the synced
// tree and its revision cache along. An existing target is replaced; a
// vanished source yields a fresh empty folder at the new location.
func (c *Controller) MoveDropboxDirectory(path string) error {
	abs, err := ui.AbsPath(path)
	if err != nil {
		return err
	}
	return c.withSyncPaused(func() error {
		old := c.client.LocalRoot()
		if old == "" {
			old = config.SyncPath(c.cfg)
		}

		oldInfo, oldErr := os.Stat(old)
		if newInfo, err := os.Stat(abs); err == nil && oldErr == nil && os.SameFile(oldInfo, newInfo) {
			c.logger.Info("sync folder unchanged", "path", abs)
			return nil
		}

		switch {
		case oldErr == nil:
			if _, err := os.Stat(abs); err == nil {
				if err := os.RemoveAll(abs); err != nil {
					return fmt.Errorf("replace target folder: %w", err)
				}
			}
			if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
				return fmt.Errorf("create parent folder: %w", err)
			}
			if err := os.Rename(old, abs); err != nil {
				return fmt.Errorf("move sync folder: %w", err)
			}
		case os.IsNotExist(oldErr):
			if err := os.MkdirAll(abs, 0o755); err != nil {
				return fmt.Errorf("create sync folder: %w", err)
			}
		default:
			return fmt.Errorf("stat sync folder: %w", oldErr)
		}

		if err := config.SetSyncPath(c.cfg, abs); err != nil {
			return err
		}
		if err := c.client.SetLocalRoot(abs); err != nil {
			return err
		}
		c.logger.Info("moved dropbox folder", "from", old, "to", abs)
		return nil
	})
}
