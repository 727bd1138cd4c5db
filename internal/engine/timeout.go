package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// WithStageTimeout bounds one stage. A zero or negative timeout leaves the
// stage unbounded; the returned context is still cancellable.
func WithStageTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// annotateDeadline marks err as a deadline expiry when stageCtx ran out of
// time while the parent context is still live.
func annotateDeadline(parent, stageCtx context.Context, timeout time.Duration, err error) error {
	if err == nil || parent.Err() != nil {
		return err
	}
	if errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("exceeded stage deadline of %s: %w", timeout, err)
	}
	return err
}
