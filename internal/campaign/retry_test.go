package campaign

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"broadcaster/internal/model"
)

func TestSendWithRetry(t *testing.T) {
	const target = "50255551234"

	t.Run("succeeds after transient failures", func(t *testing.T) {
		tr := newFakeTransport()
		tr.failFor[target] = 2
		e := newTestEngine(t, tr, &staticContacts{}, testOptions())

		attempts, err := e.sendWithRetry(context.Background(), target, "hi", nil, 3, time.Second)
		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
		assert.Equal(t, []string{target}, tr.targets())
	})

	t.Run("exhausts attempts", func(t *testing.T) {
		tr := newFakeTransport()
		tr.failFor[target] = -1
		e := newTestEngine(t, tr, &staticContacts{}, testOptions())

		attempts, err := e.sendWithRetry(context.Background(), target, "hi", nil, 4, time.Second)
		require.Error(t, err)
		assert.Equal(t, 4, attempts)
		assert.Equal(t, 4, tr.callCount(target))

		var se *SendError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, target, se.Target)
		assert.Equal(t, 4, se.Attempts)
	})

	t.Run("times out a hanging attempt", func(t *testing.T) {
		tr := newFakeTransport()
		tr.onSend = func(ctx context.Context, _ string) error {
			<-ctx.Done()
			return ctx.Err()
		}
		e := newTestEngine(t, tr, &staticContacts{}, testOptions())

		start := time.Now()
		attempts, err := e.sendWithRetry(context.Background(), target, "hi", nil, 2, 20*time.Millisecond)
		require.ErrorIs(t, err, ErrSendTimeout)
		assert.Equal(t, 2, attempts)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("defaults apply to zero values", func(t *testing.T) {
		tr := newFakeTransport()
		tr.failFor[target] = -1
		e := newTestEngine(t, tr, &staticContacts{}, testOptions())

		attempts, err := e.sendWithRetry(context.Background(), target, "hi", nil, 0, 0)
		require.Error(t, err)
		assert.Equal(t, testOptions().MaxRetries, attempts)
	})

	t.Run("stops retrying when cancelled", func(t *testing.T) {
		tr := newFakeTransport()
		tr.failFor[target] = -1
		opts := testOptions()
		opts.RetryDelay = time.Minute
		e := newTestEngine(t, tr, &staticContacts{}, opts)

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()
		attempts, err := e.sendWithRetry(ctx, target, "hi", nil, 5, time.Second)
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, attempts)
	})
}

func TestSendWithRetryPassesMedia(t *testing.T) {
	tr := newFakeTransport()
	e := newTestEngine(t, tr, &staticContacts{}, testOptions())
	media := &model.Media{Path: "/tmp/flyer.jpg", Kind: model.KindImage}

	_, err := e.sendWithRetry(context.Background(), "50255551234", "hi", media, 1, time.Second)
	require.NoError(t, err)
	require.Len(t, tr.messages(), 1)
	assert.Equal(t, media, tr.messages()[0].Media)
}

func TestSendErrorUnwraps(t *testing.T) {
	base := errors.New("socket closed")
	err := &SendError{Target: "x", Attempts: 2, Err: base}
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "send to x failed after 2 attempt(s): socket closed", err.Error())
}
