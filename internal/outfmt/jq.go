package outfmt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/itchyny/gojq"
)

type jqKey struct{}

// WithJQ compiles expr and attaches it to the context for WriteJSON to
// apply. Compiling here surfaces a bad expression before the command
// does any work. An empty expr leaves the context unchanged.
func WithJQ(ctx context.Context, expr string) (context.Context, error) {
	if expr == "" {
		return ctx, nil
	}
	q, err := gojq.Parse(expr)
	if err != nil {
		return ctx, fmt.Errorf("invalid jq expression %q: %w", expr, err)
	}
	return context.WithValue(ctx, jqKey{}, q), nil
}

func jqFromContext(ctx context.Context) *gojq.Query {
	q, _ := ctx.Value(jqKey{}).(*gojq.Query)
	return q
}

// runJQ feeds v through the query and writes each produced value as one
// compact JSON line. v is round-tripped through encoding/json first so
// the query operates on plain maps and slices regardless of the Go type.
func runJQ(q *gojq.Query, v any, w io.Writer) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal for jq: %w", err)
	}
	var input any
	if err := json.Unmarshal(b, &input); err != nil {
		return fmt.Errorf("reparse for jq: %w", err)
	}

	iter := q.Run(input)
	for {
		out, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, isErr := out.(error); isErr {
			return fmt.Errorf("jq: %w", err)
		}
		line, err := json.Marshal(out)
		if err != nil {
			return fmt.Errorf("marshal jq result: %w", err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return err
		}
	}
}
