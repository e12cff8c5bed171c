package crawler

import (
	"context"
	"log/slog"
	"time"
)

// tryStep runs fn and turns its failure into a logged warning. It returns the
// error so callers can record it, but callers only abort when the parent
// context itself is done.
func tryStep(ctx context.Context, log *slog.Logger, step string, attrs []any, fn func(context.Context) error) error {
	err := fn(ctx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	log.Warn("crawler: "+step+" failed", append(attrs, "error", err)...)
	return err
}

// withTimeout runs fn under a deadline derived from ctx.
func withTimeout(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(ctx)
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
