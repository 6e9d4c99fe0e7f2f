package cmd

import (
	"context"
	"os"
	"strings"

	"github.com/takapai/maestral/internal/config"
	"github.com/takapai/maestral/internal/outfmt"
	"github.com/takapai/maestral/internal/ui"
)

// DirCmd prints the configured local Dropbox folder.
type DirCmd struct{}

func (c *DirCmd) Run(ctx context.Context, flags *RootFlags) error {
	cfg, err := openConfig(flags)
	if err != nil {
		return err
	}
	path := config.SyncPath(cfg)

	if outfmt.IsJSON(ctx) {
		return outfmt.WriteJSON(ctx, os.Stdout, map[string]any{"path": path})
	}
	u := ui.FromContext(ctx)
	if path == "" {
		u.Err().Println("No sync folder configured yet")
		return nil
	}
	u.Out().Println(path)
	return nil
}

// MoveDirCmd relocates the local Dropbox folder, carrying the synced
// files and sync state along.
type MoveDirCmd struct {
	Path string `arg:"" help:"New location of the Dropbox folder"`
}

func (c *MoveDirCmd) Run(ctx context.Context, flags *RootFlags) error {
	path := strings.TrimSpace(c.Path)
	if path == "" {
		return usage("empty path")
	}

	a, err := newApp(ctx, flags, false)
	if err != nil {
		return err
	}
	defer a.Close()

	err = withDaemonStopped(flags, func() error {
		return a.ctrl.MoveDropboxDirectory(path)
	})
	if err != nil {
		return err
	}
	moved := a.ctrl.DropboxDirectory()

	if outfmt.IsJSON(ctx) {
		return outfmt.WriteJSON(ctx, os.Stdout, map[string]any{
			"moved": true,
			"path":  moved,
		})
	}
	u := ui.FromContext(ctx)
	u.Out().Printf("moved\ttrue")
	u.Out().Printf("path\t%s", moved)
	return nil
}
