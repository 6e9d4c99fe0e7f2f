package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/takapai/maestral/internal/outfmt"
	"github.com/takapai/maestral/internal/sync"
	"github.com/takapai/maestral/internal/ui"
)

// withDaemonStopped runs fn with the background daemon out of the way.
// The daemon loads its config at startup, so mutating shared state
// under a live daemon would be lost or clobbered; a stopped-and-
// restarted daemon rereads everything. The restart happens even when
// fn fails; a restart failure only surfaces when fn itself succeeded.
func withDaemonStopped(flags *RootFlags, fn func() error) error {
	status, err := sync.GetDaemonStatus()
	if err != nil {
		return fmt.Errorf("get daemon status: %w", err)
	}
	wasRunning := status.Running
	if wasRunning {
		if err := sync.StopDaemon(); err != nil {
			return fmt.Errorf("stop daemon: %w", err)
		}
	}

	opErr := fn()

	if wasRunning {
		if _, err := sync.StartDaemon(flags.Config); err != nil {
			if opErr == nil {
				return fmt.Errorf("restart daemon: %w", err)
			}
			slog.Error("restart daemon after operation", "error", err)
		}
	}
	return opErr
}

// StartCmd starts syncing. By default the process daemonizes; the
// first run walks through the interactive setup before that happens so
// the prompts still have a terminal.
type StartCmd struct {
	Foreground bool `help:"Run in the foreground instead of daemonizing" short:"f"`
}

func (c *StartCmd) Run(ctx context.Context, flags *RootFlags) error {
	if c.Foreground {
		return c.runForeground(ctx, flags)
	}

	a, err := newApp(ctx, flags, true)
	if err != nil {
		return err
	}

	if a.ctrl.FirstRun() {
		if err := a.ctrl.Bootstrap(ctx); err != nil {
			a.Close()
			return err
		}
	}
	// Release the revision cache before the daemon takes it over.
	if err := a.Close(); err != nil {
		return err
	}

	pid, err := sync.StartDaemon(flags.Config)
	if err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	if outfmt.IsJSON(ctx) {
		return outfmt.WriteJSON(ctx, os.Stdout, map[string]any{
			"started": true,
			"pid":     pid,
		})
	}
	u := ui.FromContext(ctx)
	u.Out().Printf("started\ttrue")
	u.Out().Printf("pid\t%d", pid)
	return nil
}

func (c *StartCmd) runForeground(ctx context.Context, flags *RootFlags) error {
	if err := sync.CheckNotAlreadyRunning(); err != nil {
		return err
	}

	a, err := newApp(ctx, flags, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := sync.WritePIDFile(); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}
	defer func() { _ = sync.RemovePIDFile() }()

	if a.ctrl.FirstRun() {
		if err := a.ctrl.Bootstrap(ctx); err != nil {
			return err
		}
	}

	if err := a.ctrl.StartSync(); err != nil {
		return err
	}
	return sync.RunUntilSignalled(ctx, a.ctrl)
}

// StopCmd stops the sync daemon.
type StopCmd struct{}

func (c *StopCmd) Run(ctx context.Context, flags *RootFlags) error {
	u := ui.FromContext(ctx)

	status, err := sync.GetDaemonStatus()
	if err != nil {
		return fmt.Errorf("get daemon status: %w", err)
	}
	if !status.Running {
		if outfmt.IsJSON(ctx) {
			return outfmt.WriteJSON(ctx, os.Stdout, map[string]any{
				"stopped": false,
				"error":   "daemon not running",
			})
		}
		u.Err().Println("Daemon is not running")
		return nil
	}

	pid := status.PID
	if err := sync.StopDaemon(); err != nil {
		return fmt.Errorf("stop daemon: %w", err)
	}

	if outfmt.IsJSON(ctx) {
		return outfmt.WriteJSON(ctx, os.Stdout, map[string]any{
			"stopped": true,
			"pid":     pid,
		})
	}
	u.Out().Printf("stopped\ttrue")
	u.Out().Printf("pid\t%d", pid)
	return nil
}

// PauseCmd asks the running daemon to pause syncing.
type PauseCmd struct{}

func (c *PauseCmd) Run(ctx context.Context, flags *RootFlags) error {
	if err := sync.PauseDaemon(); err != nil {
		return err
	}
	if outfmt.IsJSON(ctx) {
		return outfmt.WriteJSON(ctx, os.Stdout, map[string]any{"paused": true})
	}
	ui.FromContext(ctx).Out().Printf("paused\ttrue")
	return nil
}

// ResumeCmd asks the running daemon to resume syncing.
type ResumeCmd struct{}

func (c *ResumeCmd) Run(ctx context.Context, flags *RootFlags) error {
	if err := sync.ResumeDaemon(); err != nil {
		return err
	}
	if outfmt.IsJSON(ctx) {
		return outfmt.WriteJSON(ctx, os.Stdout, map[string]any{"resumed": true})
	}
	ui.FromContext(ctx).Out().Printf("resumed\ttrue")
	return nil
}
