package workspace

import (
	"context"
	"errors"
)

// Run creates a Store at root, hands it to fn and disposes it on every exit
// path, including panics. A dispose failure is joined with fn's error so it is
// never lost.
func Run(ctx context.Context, root string, fn func(ctx context.Context, ws *Store) error) error {
	ws, err := New(root)
	if err != nil {
		return err
	}
	return run(ctx, ws, fn)
}

// RunTemp is Run with a fresh directory under the system temp dir.
func RunTemp(ctx context.Context, pattern string, fn func(ctx context.Context, ws *Store) error) error {
	ws, err := NewTemp(pattern)
	if err != nil {
		return err
	}
	return run(ctx, ws, fn)
}

func run(ctx context.Context, ws *Store, fn func(ctx context.Context, ws *Store) error) (err error) {
	defer func() {
		if derr := ws.Dispose(); derr != nil {
			err = errors.Join(err, derr)
		}
	}()
	return fn(ctx, ws)
}
