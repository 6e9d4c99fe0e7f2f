package sync

import (
	"errors"
	"fmt"

	"github.com/takapai/maestral/internal/remote"
	"github.com/takapai/maestral/internal/ui"
)

// withSyncPaused runs fn with the monitor stopped and restores the
// previous running state afterwards, error or not. If the user paused
// syncing beforehand it stays paused: only a monitor that was running
// on entry is restarted.
func (c *Controller) withSyncPaused(fn func() error) (err error) {
	wasRunning := c.monitor.Running()
	if wasRunning {
		if perr := c.monitor.Stop(); perr != nil {
			return fmt.Errorf("pause sync: %w", perr)
		}
	}
	defer func() {
		if !wasRunning {
			return
		}
		if rerr := c.monitor.Start(); rerr != nil {
			if err == nil {
				err = fmt.Errorf("resume sync: %w", rerr)
			} else {
				c.logger.Error("resume sync after operation", "error", rerr)
			}
		}
	}()
	return fn()
}

// ifConnected runs fn only when the API host is reachable, and turns
// transient transport failures into remote.ErrNotConnected after
// telling the user once. Callers map the sentinel to an exit code
// without printing the message again.
func (c *Controller) ifConnected(op string, fn func() error) error {
	if !c.monitor.Connected() {
		c.ui.Err().Error(remote.ConnectivityMessage)
		return remote.ErrNotConnected
	}
	err := fn()
	if err == nil {
		return nil
	}
	if errors.Is(err, ui.ErrQuit) {
		return err
	}
	if remote.IsTransient(err) {
		c.logger.Warn(op+" interrupted", "error", err)
		c.ui.Err().Error(remote.ConnectivityMessage)
		return remote.ErrNotConnected
	}
	return fmt.Errorf("%s: %w", op, err)
}
