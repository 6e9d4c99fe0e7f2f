package ui

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrQuit is returned when the user answers a prompt with q/quit. Callers
// treat it as a clean abort of the whole command.
var ErrQuit = errors.New("quit requested")

var errNoInput = errors.New("interactive input required but --no-input is set")

func (u *UI) readLine() (string, error) {
	line, err := u.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// YesNo asks a yes/no question and returns the answer. Blank input
// selects def, q or quit returns ErrQuit, anything unrecognized asks
// again.
func (u *UI) YesNo(question string, def bool) (bool, error) {
	if u.noInput {
		return false, errNoInput
	}

	hint := "[y/N]"
	if def {
		hint = "[Y/n]"
	}

	for {
		u.out.Print(question + " " + hint + " ")
		answer, err := u.readLine()
		if err != nil {
			return false, err
		}
		switch strings.ToLower(answer) {
		case "":
			return def, nil
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		case "q", "quit":
			return false, ErrQuit
		}
		u.err.Println("Please answer yes, no or quit.")
	}
}

// AskPath asks for a filesystem path, offering def for blank input. The
// answer is tilde-expanded and made absolute. When something already
// exists at the chosen path the user must confirm replacing it;
// declining asks again.
func (u *UI) AskPath(question, def string) (string, error) {
	if u.noInput {
		return "", errNoInput
	}

	for {
		u.out.Print(fmt.Sprintf("%s [%s]: ", question, def))
		answer, err := u.readLine()
		if err != nil {
			return "", err
		}

		chosen := def
		if answer != "" {
			chosen = answer
		}
		chosen, err = AbsPath(chosen)
		if err != nil {
			u.err.Println(err.Error())
			continue
		}

		if _, err := os.Stat(chosen); err == nil {
			ok, err := u.YesNo(fmt.Sprintf("%q already exists. Replace it?", chosen), false)
			if err != nil {
				return "", err
			}
			if !ok {
				continue
			}
		}
		return chosen, nil
	}
}

// AbsPath tilde-expands p and makes it absolute.
func AbsPath(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", p, err)
	}
	return abs, nil
}
