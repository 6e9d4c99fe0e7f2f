//go:build !windows

package sync

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/takapai/maestral/internal/config"
)

// GetDaemonStatus checks whether the daemon is running. A stale PID
// file is cleaned up along the way.
func GetDaemonStatus() (*DaemonStatus, error) {
	pidPath, err := PIDFilePath()
	if err != nil {
		return nil, fmt.Errorf("get PID file path: %w", err)
	}

	status := &DaemonStatus{}

	data, err := os.ReadFile(pidPath)
	if err != nil {
		if os.IsNotExist(err) {
			return status, nil
		}
		return nil, fmt.Errorf("read PID file: %w", err)
	}

	pid, err := strconv.Atoi(string(data))
	if err != nil {
		status.Error = "invalid PID in file"
		return status, nil
	}
	status.PID = pid

	process, err := os.FindProcess(pid)
	if err != nil {
		return status, nil
	}

	// On Unix FindProcess always succeeds; signal 0 tells the truth.
	if err := process.Signal(syscall.Signal(0)); err != nil {
		_ = os.Remove(pidPath)
		return status, nil
	}

	status.Running = true
	return status, nil
}

// WritePIDFile records the current process id for the control commands.
func WritePIDFile() error {
	pidPath, err := PIDFilePath()
	if err != nil {
		return fmt.Errorf("get PID file path: %w", err)
	}
	if _, err := config.EnsureDir(); err != nil {
		return fmt.Errorf("ensure config dir: %w", err)
	}
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}
	return nil
}

// RemovePIDFile removes the PID file.
func RemovePIDFile() error {
	pidPath, err := PIDFilePath()
	if err != nil {
		return fmt.Errorf("get PID file path: %w", err)
	}
	if err := os.Remove(pidPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove PID file: %w", err)
	}
	return nil
}

// CheckNotAlreadyRunning returns an error when a daemon already runs.
func CheckNotAlreadyRunning() error {
	status, err := GetDaemonStatus()
	if err != nil {
		return err
	}
	if status.Running {
		return fmt.Errorf("daemon already running with PID %d", status.PID)
	}
	return nil
}

func signalDaemon(sig syscall.Signal) error {
	status, err := GetDaemonStatus()
	if err != nil {
		return err
	}
	if !status.Running {
		return fmt.Errorf("daemon is not running")
	}
	process, err := os.FindProcess(status.PID)
	if err != nil {
		return fmt.Errorf("find process: %w", err)
	}
	if err := process.Signal(sig); err != nil {
		return fmt.Errorf("signal daemon: %w", err)
	}
	return nil
}

// StopDaemon asks the daemon to shut down, escalating to SIGKILL when
// it does not exit in time.
func StopDaemon() error {
	status, err := GetDaemonStatus()
	if err != nil {
		return err
	}
	if !status.Running {
		return fmt.Errorf("daemon is not running")
	}

	process, err := os.FindProcess(status.PID)
	if err != nil {
		return fmt.Errorf("find process: %w", err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("send SIGTERM: %w", err)
	}

	for i := 0; i < 30; i++ {
		time.Sleep(100 * time.Millisecond)
		if err := process.Signal(syscall.Signal(0)); err != nil {
			_ = RemovePIDFile()
			return nil
		}
	}

	_ = process.Signal(syscall.SIGKILL)
	_ = RemovePIDFile()
	return nil
}

// PauseDaemon asks the running daemon to pause syncing.
func PauseDaemon() error {
	return signalDaemon(syscall.SIGUSR1)
}

// ResumeDaemon asks the running daemon to resume syncing.
func ResumeDaemon() error {
	return signalDaemon(syscall.SIGUSR2)
}

// StartDaemon launches the sync daemon in the background by re-running
// the current binary with `start --foreground`, detached from the
// terminal and logging to the daemon log file.
func StartDaemon(configPath string) (int, error) {
	if err := CheckNotAlreadyRunning(); err != nil {
		return 0, err
	}

	executable, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("get executable: %w", err)
	}

	logPath, err := LogFilePath()
	if err != nil {
		return 0, fmt.Errorf("get log file path: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	args := []string{"start", "--foreground"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}

	cmd := exec.Command(executable, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
		Pgid:    0,
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start daemon: %w", err)
	}
	pid := cmd.Process.Pid

	go func() {
		_ = cmd.Wait()
	}()

	return pid, nil
}

// RunUntilSignalled blocks running the controller until told to stop:
// SIGTERM and SIGINT shut down, SIGUSR1 pauses, SIGUSR2 resumes.
func RunUntilSignalled(ctx context.Context, ctrl *Controller) error {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGTERM, os.Interrupt, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sig)

	for {
		select {
		case <-ctx.Done():
			return ctrl.monitor.Stop()
		case s := <-sig:
			switch s {
			case syscall.SIGUSR1:
				if err := ctrl.PauseSync(); err != nil {
					ctrl.logger.Error("pause via signal", "error", err)
				}
			case syscall.SIGUSR2:
				if err := ctrl.ResumeSync(); err != nil {
					ctrl.logger.Error("resume via signal", "error", err)
				}
			default:
				ctrl.logger.Info("shutting down", "signal", s.String())
				return ctrl.monitor.Stop()
			}
		}
	}
}
