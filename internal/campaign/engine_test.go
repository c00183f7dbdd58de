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

func TestRunSendsEveryValidRecipient(t *testing.T) {
	recs := phones(4)
	recs[1] = model.Recipient{"numero": "12345", "nombre": "Short"}
	src := &staticContacts{recs: recs}
	tr := newFakeTransport()
	rec := &recorder{}
	e := newTestEngine(t, tr, src, testOptions(), rec)

	id, err := e.Start(baseConfig(), nil, "")
	require.NoError(t, err)
	require.Contains(t, id, "campaign-")
	waitDone(t, e)

	st := e.Status()
	assert.Equal(t, model.StatusFinished, st.Status)
	assert.Equal(t, 3, st.Sent)
	assert.Equal(t, 4, st.Total)
	assert.Equal(t, 4, st.Config.CurrentIndex)
	assert.Equal(t, []string{phone(0), phone(2), phone(3)}, tr.targets())
	assert.Equal(t, 0, tr.callCount("12345"))
	assert.Equal(t, "Hola C0", tr.messages()[0].Message)

	require.Len(t, rec.sends, 4)
	assert.Equal(t, model.SendSkipped, rec.sends[1].Status)
	assert.Equal(t, model.StatusFinished, rec.progress[len(rec.progress)-1].Status)
}

func TestValidTargetIsAttemptedOnce(t *testing.T) {
	src := &staticContacts{recs: []model.Recipient{
		{"Phone": "12345"},
		{"Phone": "50255551234"},
	}}
	tr := newFakeTransport()
	e := newTestEngine(t, tr, src, testOptions())

	_, err := e.Start(baseConfig(), nil, "")
	require.NoError(t, err)
	waitDone(t, e)

	assert.Equal(t, 0, tr.callCount("12345"))
	assert.Equal(t, 1, tr.callCount("50255551234"))
	assert.Equal(t, 1, e.Status().Sent)
	assert.Equal(t, 2, e.Status().Config.CurrentIndex)
}

func TestStartHonorsStartIndex(t *testing.T) {
	src := &staticContacts{recs: phones(5)}
	tr := newFakeTransport()
	e := newTestEngine(t, tr, src, testOptions())

	start := 3
	_, err := e.Start(baseConfig(), &start, "")
	require.NoError(t, err)
	waitDone(t, e)

	assert.Equal(t, []string{phone(3), phone(4)}, tr.targets())
	assert.Equal(t, 5, e.Status().Config.CurrentIndex)
	assert.Equal(t, 2, e.Status().Sent)
}

func TestStartRejectedWhileRunning(t *testing.T) {
	src := &staticContacts{recs: phones(3)}
	tr := newFakeTransport()
	release := make(chan struct{})
	tr.onSend = func(ctx context.Context, target string) error {
		if target == phone(1) {
			<-release
		}
		return nil
	}
	e := newTestEngine(t, tr, src, testOptions())

	cfg := baseConfig()
	cfg.Timeout = 30
	id, err := e.Start(cfg, nil, "")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return tr.callCount(phone(1)) == 1 }, time.Second, time.Millisecond)

	_, err = e.Start(baseConfig(), nil, "")
	require.ErrorIs(t, err, ErrCampaignActive)

	st := e.Status()
	assert.Equal(t, id, st.ID)
	assert.Equal(t, 1, st.Sent)
	assert.Equal(t, 1, st.Config.CurrentIndex)

	// Same id while the loop is live is the idempotent path.
	again, err := e.Start(baseConfig(), nil, id)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	close(release)
	waitDone(t, e)
	assert.Equal(t, 3, e.Status().Sent)
}

func pauseOn(tr *fakeTransport, e **Engine, target string) {
	tr.onSend = func(ctx context.Context, tg string) error {
		if tg == target {
			eng := *e
			eng.Pause(eng.Status().ID)
		}
		return nil
	}
}

func TestPauseThenResumeContinuesInFlightIteration(t *testing.T) {
	src := &staticContacts{recs: phones(5)}
	tr := newFakeTransport()
	var e *Engine
	pauseOn(tr, &e, phone(1))
	e = newTestEngine(t, tr, src, testOptions())

	id, err := e.Start(baseConfig(), nil, "")
	require.NoError(t, err)
	waitBlockedOnResume(t, e)

	st := e.Status()
	assert.Equal(t, model.StatusPaused, st.Status)
	assert.Equal(t, 2, st.Config.CurrentIndex)
	assert.Equal(t, []string{phone(0), phone(1)}, tr.targets())

	require.True(t, e.Resume(id))
	waitDone(t, e)

	assert.Equal(t, model.StatusFinished, e.Status().Status)
	assert.Equal(t, []string{phone(0), phone(1), phone(2), phone(3), phone(4)}, tr.targets())
}

func TestResumeRealignsToEditedIndex(t *testing.T) {
	src := &staticContacts{recs: phones(6)}
	tr := newFakeTransport()
	var e *Engine
	pauseOn(tr, &e, phone(1))
	e = newTestEngine(t, tr, src, testOptions())

	id, err := e.Start(baseConfig(), nil, "")
	require.NoError(t, err)
	waitBlockedOnResume(t, e)

	cfg := e.Status().Config
	cfg.CurrentIndex = 4
	require.NoError(t, e.UpdateConfig(cfg))
	assert.Equal(t, 4, e.Status().Sent, "sent follows the edited cursor")

	require.True(t, e.Resume(id))
	waitDone(t, e)

	assert.Equal(t, []string{phone(0), phone(1), phone(4), phone(5)}, tr.targets())
	st := e.Status()
	assert.Equal(t, 6, st.Config.CurrentIndex)
	assert.Equal(t, 6, st.Sent)
}

func TestPauseResumeIgnoreMismatchedID(t *testing.T) {
	src := &staticContacts{recs: phones(2)}
	tr := newFakeTransport()
	var e *Engine
	pauseOn(tr, &e, phone(0))
	e = newTestEngine(t, tr, src, testOptions())

	id, err := e.Start(baseConfig(), nil, "")
	require.NoError(t, err)
	waitBlockedOnResume(t, e)

	assert.False(t, e.Pause(id), "already paused")
	assert.False(t, e.Resume("campaign-other"))
	assert.False(t, e.Stop("campaign-other", "nope"))
	assert.Equal(t, model.StatusPaused, e.Status().Status)

	require.True(t, e.Resume(id))
	waitDone(t, e)
}

func TestStopWhilePausedReleasesLoop(t *testing.T) {
	src := &staticContacts{recs: phones(4)}
	tr := newFakeTransport()
	var e *Engine
	pauseOn(tr, &e, phone(1))
	e = newTestEngine(t, tr, src, testOptions())

	id, err := e.Start(baseConfig(), nil, "")
	require.NoError(t, err)
	waitBlockedOnResume(t, e)

	require.True(t, e.Stop(id, "user request"))
	waitDone(t, e)

	st := e.Status()
	assert.Equal(t, model.StatusStopped, st.Status)
	assert.Equal(t, 2, st.Config.CurrentIndex)
	assert.Len(t, tr.targets(), 2)
	assert.False(t, e.Stop(id, "again"), "stop on a terminal campaign is a no-op")
}

func TestStopDuringDelayAbortsWithinTick(t *testing.T) {
	src := &staticContacts{recs: phones(3)}
	tr := newFakeTransport()
	rec := &recorder{}
	e := newTestEngine(t, tr, src, testOptions(), rec)

	cfg := baseConfig()
	cfg.SendDelay = 60
	id, err := e.Start(cfg, nil, "")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return e.Countdown().IsActive }, time.Second, time.Millisecond)

	require.True(t, e.Stop(id, "user request"))
	waitDone(t, e)

	assert.Equal(t, model.StatusStopped, e.Status().Status)
	assert.Equal(t, model.CountdownIdle, rec.lastCountdown().Type)
	assert.Equal(t, []string{phone(0)}, tr.targets())
}

func TestFailedRecipientNotifiesSupervisorsAndContinues(t *testing.T) {
	src := &staticContacts{recs: phones(2)}
	tr := newFakeTransport()
	tr.failFor[phone(0)] = -1
	rec := &recorder{}
	e := newTestEngine(t, tr, src, testOptions(), rec)

	cfg := baseConfig()
	cfg.MaxRetries = 2
	cfg.SupervisorNumbers = []string{"50299998888"}
	_, err := e.Start(cfg, nil, "")
	require.NoError(t, err)
	waitDone(t, e)

	assert.Equal(t, 2, tr.callCount(phone(0)))
	st := e.Status()
	assert.Equal(t, model.StatusFinished, st.Status)
	assert.Equal(t, 1, st.Sent)
	assert.Equal(t, 2, st.Config.CurrentIndex)

	var notices []string
	for _, m := range tr.messages() {
		if m.Target == "50299998888" {
			notices = append(notices, m.Message)
		}
	}
	require.NotEmpty(t, notices)
	assert.Contains(t, notices, "Campaign "+st.ID+": could not send to "+phone(0)+" (#1): send to "+phone(0)+" failed after 2 attempt(s): transport rejected message")
	assert.Contains(t, notices[len(notices)-1], "finished: 1 of 2")

	var failed []model.SendResult
	for _, s := range rec.sends {
		if s.Status == model.SendFailed {
			failed = append(failed, s)
		}
	}
	require.Len(t, failed, 1)
	assert.Equal(t, 2, failed[0].Attempts)
}

func TestPacingPauseAfterEveryNSends(t *testing.T) {
	src := &staticContacts{recs: phones(3)}
	tr := newFakeTransport()
	rec := &recorder{}
	opts := testOptions()
	opts.MinPause = 30 * time.Millisecond
	e := newTestEngine(t, tr, src, opts, rec)

	cfg := baseConfig()
	cfg.PausaCada = 2
	_, err := e.Start(cfg, nil, "")
	require.NoError(t, err)
	waitDone(t, e)

	types := rec.countdownTypes()
	require.Contains(t, types, model.CountdownPausing)
	// A pacing pause ends by announcing that sending resumes.
	last := -1
	for i, typ := range types {
		if typ == model.CountdownPausing {
			last = i
		}
	}
	require.Less(t, last+1, len(types))
	assert.Equal(t, model.CountdownSending, types[last+1])
	assert.Equal(t, 3, e.Status().Sent)
}

func TestLongPauseBounds(t *testing.T) {
	e := newTestEngine(t, newFakeTransport(), &staticContacts{}, testOptions())
	cfg := model.Config{PausaMinima: 1, PausaMaxima: 3}
	lo := time.Minute - 2*time.Second
	hi := 3*time.Minute - 2*time.Second
	for i := 0; i < 500; i++ {
		d := e.longPause(cfg)
		require.GreaterOrEqual(t, d, lo)
		require.LessOrEqual(t, d, hi)
	}

	assert.Equal(t, 2*time.Second, e.longPause(model.Config{}), "floored after grace")
	assert.Equal(t, 2*time.Minute-2*time.Second, e.longPause(model.Config{PausaMinima: 2, PausaMaxima: 2}))
	reversed := e.longPause(model.Config{PausaMinima: 3, PausaMaxima: 1})
	assert.GreaterOrEqual(t, reversed, lo)
	assert.LessOrEqual(t, reversed, hi)
}

func TestUpdateConfigRequiresPause(t *testing.T) {
	e := newTestEngine(t, newFakeTransport(), &staticContacts{}, testOptions())
	require.ErrorIs(t, e.UpdateConfig(baseConfig()), ErrNotPaused)
	assert.Equal(t, model.StatusInactive, e.Status().Status)
}

func TestContactsFailureStopsCampaign(t *testing.T) {
	src := &staticContacts{err: errors.New("file not found")}
	rec := &recorder{}
	cfg := baseConfig()
	cfg.SupervisorNumbers = []string{"50299998888"}
	tr := newFakeTransport()
	e := newTestEngine(t, tr, src, testOptions(), rec)

	_, err := e.Start(cfg, nil, "")
	require.NoError(t, err)
	waitDone(t, e)

	assert.Equal(t, model.StatusStopped, e.Status().Status)
	logs := rec.logLines()
	require.NotEmpty(t, logs)
	assert.Contains(t, logs[len(logs)-1], "stopped by error")
	require.Len(t, tr.messages(), 1)
	assert.Contains(t, tr.messages()[0].Message, "file not found")
}

func TestTransportNeverReadyStopsCampaign(t *testing.T) {
	tr := newFakeTransport()
	tr.readyErr = errors.New("logged out")
	e := newTestEngine(t, tr, &staticContacts{recs: phones(1)}, testOptions())

	_, err := e.Start(baseConfig(), nil, "")
	require.NoError(t, err)
	waitDone(t, e)
	assert.Equal(t, model.StatusStopped, e.Status().Status)
	assert.Empty(t, tr.targets())
}

func TestHandleDisconnectPausesRunningCampaign(t *testing.T) {
	src := &staticContacts{recs: phones(3)}
	tr := newFakeTransport()
	var e *Engine
	tr.onSend = func(ctx context.Context, target string) error {
		if target == phone(0) {
			e.HandleDisconnect("stream error")
		}
		return nil
	}
	e = newTestEngine(t, tr, src, testOptions())

	id, err := e.Start(baseConfig(), nil, "")
	require.NoError(t, err)
	waitBlockedOnResume(t, e)
	assert.Equal(t, model.StatusPaused, e.Status().Status)
	assert.False(t, e.HandleDisconnect("again"), "only running campaigns are paused")

	require.True(t, e.Stop(id, "test done"))
	waitDone(t, e)
}

func TestClearResetsEverything(t *testing.T) {
	src := &staticContacts{recs: phones(3)}
	tr := newFakeTransport()
	release := make(chan struct{})
	tr.onSend = func(ctx context.Context, target string) error {
		<-release
		return nil
	}
	rec := &recorder{}
	e := newTestEngine(t, tr, src, testOptions(), rec)

	cfg := baseConfig()
	cfg.Timeout = 30
	_, err := e.Start(cfg, nil, "")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return tr.callCount(phone(0)) == 1 }, time.Second, time.Millisecond)

	e.Clear()
	st := e.Status()
	assert.Equal(t, model.StatusInactive, st.Status)
	assert.Empty(t, st.ID)
	assert.Zero(t, st.Sent)
	assert.Equal(t, model.CountdownIdle, e.Countdown().Type)

	close(release)
	waitDone(t, e)

	// The drained loop must not leak its state into the cleared engine.
	assert.Equal(t, model.StatusInactive, e.Status().Status)
	rec.mu.Lock()
	last := rec.progress[len(rec.progress)-1]
	rec.mu.Unlock()
	assert.Equal(t, model.StatusInactive, last.Status)

	_, err = e.Start(baseConfig(), nil, "")
	require.NoError(t, err)
	waitDone(t, e)
}
