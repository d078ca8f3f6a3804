package sink

import (
	"context"

	"github.com/szibis/tsloadgen/internal/gen"
)

// Noop acknowledges every batch without writing anywhere. Dry runs use
// it to exercise the full generation pipeline at memory speed.
type Noop struct{}

// Insert acknowledges the whole batch.
func (Noop) Insert(ctx context.Context, docs []gen.Document) (Result, error) {
	return Result{Acknowledged: len(docs)}, nil
}

// Close is a no-op.
func (Noop) Close(ctx context.Context) error { return nil }
