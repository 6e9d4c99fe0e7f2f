// Package outfmt carries the output mode (text, plain, json) through the
// context and renders JSON results, optionally post-filtered by a jq
// expression.
package outfmt

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
)

// Mode selects how command results are rendered. The zero value is
// human-readable text.
type Mode struct {
	JSON  bool
	Plain bool
}

type ParseError struct {
	msg string
}

func (e *ParseError) Error() string { return e.msg }

// FromFlags builds the mode from the --json/--plain flags.
func FromFlags(jsonFlag, plainFlag bool) (Mode, error) {
	if jsonFlag && plainFlag {
		return Mode{}, &ParseError{msg: "--json and --plain are mutually exclusive"}
	}
	return Mode{JSON: jsonFlag, Plain: plainFlag}, nil
}

// FromEnv builds the mode from MAESTRAL_JSON / MAESTRAL_PLAIN, for
// scripted use without flags. JSON wins when both are set.
func FromEnv() Mode {
	if envBool("MAESTRAL_JSON") {
		return Mode{JSON: true}
	}
	if envBool("MAESTRAL_PLAIN") {
		return Mode{Plain: true}
	}
	return Mode{}
}

func envBool(name string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

type ctxKey struct{}

func WithMode(ctx context.Context, mode Mode) context.Context {
	return context.WithValue(ctx, ctxKey{}, mode)
}

func FromContext(ctx context.Context) Mode {
	if m, ok := ctx.Value(ctxKey{}).(Mode); ok {
		return m
	}
	return Mode{}
}

func IsJSON(ctx context.Context) bool { return FromContext(ctx).JSON }

func IsPlain(ctx context.Context) bool { return FromContext(ctx).Plain }

// WriteJSON renders v to w. With a jq filter on the context the filter
// output is written one compact value per line; otherwise v is encoded
// indented.
func WriteJSON(ctx context.Context, w io.Writer, v any) error {
	if q := jqFromContext(ctx); q != nil {
		return runJQ(q, v, w)
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
