package cmd

import (
	"errors"
	"fmt"

	"github.com/takapai/maestral/internal/remote"
)

// Exit codes, stable for scripting:
//
//	0  success (including a quit at a prompt)
//	1  generic failure
//	2  usage error
//	3  no linked account
//	4  Dropbox servers unreachable
const (
	exitUsage        = 2
	exitAuth         = 3
	exitNotConnected = 4
)

// ExitError carries a process exit code alongside the error.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit code %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode translates an Execute error into the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return 1
}

func newUsageError(err error) error {
	if err == nil {
		return nil
	}
	return &ExitError{Code: exitUsage, Err: err}
}

func usage(msg string) error {
	return &ExitError{Code: exitUsage, Err: errors.New(msg)}
}

// stableExitCode attaches the documented exit codes to well-known
// failure classes; everything else keeps the default of 1.
func stableExitCode(err error) error {
	if err == nil {
		return nil
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return err
	}
	var authErr *remote.AuthRequiredError
	if errors.As(err, &authErr) || errors.Is(err, errNotLinked) {
		return &ExitError{Code: exitAuth, Err: err}
	}
	if errors.Is(err, remote.ErrNotConnected) {
		return &ExitError{Code: exitNotConnected, Err: err}
	}
	return err
}
