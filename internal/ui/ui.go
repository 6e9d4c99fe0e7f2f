// Package ui owns terminal output and the interactive prompts. Commands
// reach the UI through the context so output routing stays consistent
// across the whole invocation.
package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// Options configures a UI. Zero writers default to the process streams.
type Options struct {
	Stdout io.Writer
	Stderr io.Writer
	Stdin  io.Reader

	// Color is one of "auto", "always", "never". Empty means auto.
	Color string

	// NoInput makes every prompt fail instead of reading stdin.
	NoInput bool
}

type UI struct {
	out     *Printer
	err     *Printer
	in      *bufio.Reader
	noInput bool
}

func New(opts Options) (*UI, error) {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}

	var colorOut, colorErr bool
	switch opts.Color {
	case "always":
		colorOut, colorErr = true, true
	case "never":
		colorOut, colorErr = false, false
	case "auto", "":
		colorOut = isTerminal(opts.Stdout)
		colorErr = isTerminal(opts.Stderr)
	default:
		return nil, fmt.Errorf("invalid color mode %q (want auto, always or never)", opts.Color)
	}

	return &UI{
		out:     &Printer{w: opts.Stdout, color: colorOut},
		err:     &Printer{w: opts.Stderr, color: colorErr},
		in:      bufio.NewReader(opts.Stdin),
		noInput: opts.NoInput,
	}, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (u *UI) Out() *Printer { return u.out }
func (u *UI) Err() *Printer { return u.err }

// Printer writes user-facing lines to one stream.
type Printer struct {
	w     io.Writer
	color bool
}

func (p *Printer) Print(args ...any) {
	fmt.Fprint(p.w, args...)
}

// Printf writes one formatted, newline-terminated line.
func (p *Printer) Printf(format string, args ...any) {
	fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *Printer) Println(args ...any) {
	fmt.Fprintln(p.w, args...)
}

// Error writes a prefixed error line, red when color is on.
func (p *Printer) Error(args ...any) {
	msg := fmt.Sprint(args...)
	if p.color {
		fmt.Fprintf(p.w, "\x1b[31mError:\x1b[0m %s\n", msg)
		return
	}
	fmt.Fprintf(p.w, "Error: %s\n", msg)
}

type ctxKey struct{}

func WithUI(ctx context.Context, u *UI) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// FromContext returns the UI carried by ctx, nil when absent.
func FromContext(ctx context.Context) *UI {
	u, _ := ctx.Value(ctxKey{}).(*UI)
	return u
}
