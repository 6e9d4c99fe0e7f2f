//go:build windows

package sync

import (
	"context"
	"fmt"
	"os"
	"os/signal"
)

// GetDaemonStatus checks if the daemon is running.
// Not supported on Windows.
func GetDaemonStatus() (*DaemonStatus, error) {
	return nil, fmt.Errorf("sync daemon is not supported on Windows")
}

// WritePIDFile writes the current process ID to the PID file.
// Not supported on Windows.
func WritePIDFile() error {
	return fmt.Errorf("sync daemon is not supported on Windows")
}

// RemovePIDFile removes the PID file.
// Not supported on Windows.
func RemovePIDFile() error {
	return fmt.Errorf("sync daemon is not supported on Windows")
}

// StopDaemon stops the running daemon.
// Not supported on Windows.
func StopDaemon() error {
	return fmt.Errorf("sync daemon is not supported on Windows")
}

// PauseDaemon signals the running daemon to pause syncing.
// Not supported on Windows.
func PauseDaemon() error {
	return fmt.Errorf("sync daemon is not supported on Windows")
}

// ResumeDaemon signals the running daemon to resume syncing.
// Not supported on Windows.
func ResumeDaemon() error {
	return fmt.Errorf("sync daemon is not supported on Windows")
}

// CheckNotAlreadyRunning returns an error if the daemon is already running.
// Not supported on Windows.
func CheckNotAlreadyRunning() error {
	return fmt.Errorf("sync daemon is not supported on Windows")
}

// StartDaemon starts the sync daemon in the background.
// Not supported on Windows.
func StartDaemon(configPath string) (int, error) {
	return 0, fmt.Errorf("sync daemon is not supported on Windows")
}

// RunUntilSignalled blocks until the context is cancelled or the process is
// interrupted, then stops the controller. Pause and resume signals are a
// Unix-only feature.
func RunUntilSignalled(ctx context.Context, ctrl *Controller) error {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	defer signal.Stop(sig)

	select {
	case <-ctx.Done():
	case s := <-sig:
		ctrl.logger.Info("shutting down", "signal", s.String())
	}
	return ctrl.monitor.Stop()
}
