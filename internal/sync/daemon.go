package sync

import (
	"path/filepath"

	"github.com/takapai/maestral/internal/config"
)

const (
	// PIDFileName is the name of the daemon PID file.
	PIDFileName = "maestral.pid"
	// LogFileName is the name of the daemon log file.
	LogFileName = "maestral.log"
)

// PIDFilePath returns the path to the PID file.
func PIDFilePath() (string, error) {
	dir, err := config.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, PIDFileName), nil
}

// LogFilePath returns the path to the daemon log file.
func LogFilePath() (string, error) {
	dir, err := config.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, LogFileName), nil
}

// DaemonStatus describes the state of the background sync daemon.
type DaemonStatus struct {
	Running bool   `json:"running"`
	PID     int    `json:"pid,omitempty"`
	Error   string `json:"error,omitempty"`
}
