package cmd

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestExecute_StopNotRunningJSON(t *testing.T) {
	seedSyncConfig(t)

	out := captureStdout(t, func() {
		if err := Execute([]string{"stop", "--json"}); err != nil {
			t.Fatalf("Execute: %v", err)
		}
	})
	var parsed struct {
		Stopped bool   `json:"stopped"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("json parse: %v (output %q)", err, out)
	}
	if parsed.Stopped {
		t.Fatalf("stopped = true, want false")
	}
	if parsed.Error != "daemon not running" {
		t.Fatalf("error = %q, want %q", parsed.Error, "daemon not running")
	}
}

func TestExecute_StopNotRunningPlain(t *testing.T) {
	seedSyncConfig(t)

	errText := captureStderr(t, func() {
		if err := Execute([]string{"stop"}); err != nil {
			t.Fatalf("Execute: %v", err)
		}
	})
	if !strings.Contains(errText, "Daemon is not running") {
		t.Fatalf("unexpected stderr: %q", errText)
	}
}

func TestExecute_PauseNotRunning(t *testing.T) {
	seedSyncConfig(t)

	errText := captureStderr(t, func() {
		err := Execute([]string{"pause"})
		if err == nil {
			t.Fatalf("expected error")
		}
		if got := ExitCode(err); got != 1 {
			t.Fatalf("ExitCode = %d, want 1", got)
		}
	})
	if !strings.Contains(errText, "daemon is not running") {
		t.Fatalf("unexpected stderr: %q", errText)
	}
}

func TestExecute_ResumeNotRunning(t *testing.T) {
	seedSyncConfig(t)

	err := Execute([]string{"resume"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if got := ExitCode(err); got != 1 {
		t.Fatalf("ExitCode = %d, want 1", got)
	}
}

func TestExecute_StartUnlinked(t *testing.T) {
	seedSyncConfig(t)

	errText := captureStderr(t, func() {
		err := Execute([]string{"start"})
		if err == nil {
			t.Fatalf("expected error")
		}
		if got := ExitCode(err); got != exitAuth {
			t.Fatalf("ExitCode = %d, want %d", got, exitAuth)
		}
	})
	if !strings.Contains(errText, "no Dropbox account linked") {
		t.Fatalf("unexpected stderr: %q", errText)
	}
}

func TestWithDaemonStopped_NoDaemon(t *testing.T) {
	seedSyncConfig(t)

	calls := 0
	err := withDaemonStopped(&RootFlags{}, func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("withDaemonStopped: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
