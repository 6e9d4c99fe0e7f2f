package cmd

import (
	"context"
	"os"
	"strings"

	"github.com/takapai/maestral/internal/config"
	"github.com/takapai/maestral/internal/outfmt"
	"github.com/takapai/maestral/internal/ui"
)

// ExcludedCmd manages the folders left out of syncing.
type ExcludedCmd struct {
	List   ExcludedListCmd   `cmd:"" help:"List excluded folders"`
	Add    ExcludedAddCmd    `cmd:"" help:"Exclude a folder from syncing and delete its local copy"`
	Remove ExcludedRemoveCmd `cmd:"" help:"Sync a folder again and download it"`
	Select ExcludedSelectCmd `cmd:"" help:"Choose synced folders interactively"`
}

// ExcludedListCmd lists the excluded folders.
type ExcludedListCmd struct{}

func (c *ExcludedListCmd) Run(ctx context.Context, flags *RootFlags) error {
	cfg, err := openConfig(flags)
	if err != nil {
		return err
	}
	excluded := config.ExcludedFolders(cfg)

	if outfmt.IsJSON(ctx) {
		return outfmt.WriteJSON(ctx, os.Stdout, map[string]any{"excluded": excluded})
	}
	u := ui.FromContext(ctx)
	if len(excluded) == 0 {
		u.Err().Println("No folders are excluded")
		return nil
	}
	for _, f := range excluded {
		u.Out().Println(f)
	}
	return nil
}

// ExcludedAddCmd excludes one folder. The remote copy stays; the local
// copy is deleted.
type ExcludedAddCmd struct {
	Folder string `arg:"" help:"Dropbox folder path, e.g. /Photos"`
}

func (c *ExcludedAddCmd) Run(ctx context.Context, flags *RootFlags) error {
	folder := strings.TrimSpace(c.Folder)
	if folder == "" {
		return usage("empty folder")
	}

	a, err := newApp(ctx, flags, false)
	if err != nil {
		return err
	}
	defer a.Close()

	err = withDaemonStopped(flags, func() error {
		return a.ctrl.ExcludeFolder(folder)
	})
	if err != nil {
		return err
	}

	if outfmt.IsJSON(ctx) {
		return outfmt.WriteJSON(ctx, os.Stdout, map[string]any{
			"excluded": config.NormalizeFolder(folder),
		})
	}
	ui.FromContext(ctx).Out().Printf("excluded\t%s", config.NormalizeFolder(folder))
	return nil
}

// ExcludedRemoveCmd puts an excluded folder back into sync and
// downloads it.
type ExcludedRemoveCmd struct {
	Folder string `arg:"" help:"Dropbox folder path, e.g. /Photos"`
}

func (c *ExcludedRemoveCmd) Run(ctx context.Context, flags *RootFlags) error {
	folder := strings.TrimSpace(c.Folder)
	if folder == "" {
		return usage("empty folder")
	}

	a, err := newApp(ctx, flags, true)
	if err != nil {
		return err
	}
	defer a.Close()

	err = withDaemonStopped(flags, func() error {
		return a.ctrl.IncludeFolder(ctx, folder)
	})
	if err != nil {
		return err
	}

	if outfmt.IsJSON(ctx) {
		return outfmt.WriteJSON(ctx, os.Stdout, map[string]any{
			"included": config.NormalizeFolder(folder),
		})
	}
	ui.FromContext(ctx).Out().Printf("included\t%s", config.NormalizeFolder(folder))
	return nil
}

// ExcludedSelectCmd walks through all top-level folders and asks which
// to sync, then reconciles local state with the answers.
type ExcludedSelectCmd struct{}

func (c *ExcludedSelectCmd) Run(ctx context.Context, flags *RootFlags) error {
	a, err := newApp(ctx, flags, true)
	if err != nil {
		return err
	}
	defer a.Close()

	err = withDaemonStopped(flags, func() error {
		return a.ctrl.SelectExcludedFolders(ctx)
	})
	if err != nil {
		return err
	}

	excluded := config.ExcludedFolders(a.cfg)
	if outfmt.IsJSON(ctx) {
		return outfmt.WriteJSON(ctx, os.Stdout, map[string]any{"excluded": excluded})
	}
	u := ui.FromContext(ctx)
	u.Out().Printf("excluded\t%d", len(excluded))
	for _, f := range excluded {
		u.Out().Println(f)
	}
	return nil
}
