package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"broadcaster/internal/model"
)

// ErrSendTimeout marks an attempt that did not complete within its timeout.
var ErrSendTimeout = errors.New("send timed out")

// SendError is returned once every attempt for a recipient has failed.
type SendError struct {
	Target   string
	Attempts int
	Err      error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s failed after %d attempt(s): %v", e.Target, e.Attempts, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// sendWithRetry tries up to maxRetries times with a fixed delay between
// attempts. It returns the number of attempts made.
func (e *Engine) sendWithRetry(ctx context.Context, target, message string, media *model.Media, maxRetries int, timeout time.Duration) (int, error) {
	if maxRetries <= 0 {
		maxRetries = e.opts.MaxRetries
	}
	if timeout <= 0 {
		timeout = e.opts.Timeout
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		lastErr = e.attempt(ctx, target, message, media, timeout)
		if lastErr == nil {
			return attempt, nil
		}
		e.log.Warn().Err(lastErr).Str("target", target).Int("attempt", attempt).Int("max", maxRetries).Msg("send attempt failed")
		if attempt >= maxRetries || ctx.Err() != nil {
			return attempt, &SendError{Target: target, Attempts: attempt, Err: lastErr}
		}
		t := time.NewTimer(e.opts.RetryDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return attempt, &SendError{Target: target, Attempts: attempt, Err: ctx.Err()}
		}
	}
}

// attempt races one transport call against timeout.
func (e *Engine) attempt(ctx context.Context, target, message string, media *model.Media, timeout time.Duration) error {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- e.transport.Send(actx, target, message, media)
	}()

	select {
	case err := <-done:
		return err
	case <-actx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w after %s", ErrSendTimeout, timeout)
	}
}
