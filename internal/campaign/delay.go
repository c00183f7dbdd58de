package campaign

import (
	"context"
	"time"

	"broadcaster/internal/model"
)

type delayMode int

const (
	delaySend delayMode = iota
	delayPause
)

// controlledDelay waits d in ticks, publishing the countdown on every tick.
// It returns early, with an idle countdown, as soon as the campaign leaves
// the running state or ctx is done.
func (e *Engine) controlledDelay(ctx context.Context, s *session, d time.Duration, mode delayMode) {
	if d <= 0 {
		return
	}
	typ := model.CountdownSending
	if mode == delayPause {
		typ = model.CountdownPausing
	}
	e.setCountdown(s, model.Countdown{IsActive: true, RemainingTime: d, TotalTime: d, Type: typ})

	deadline := time.Now().Add(d)
	for {
		if st := e.status(s); st != model.StatusRunning {
			e.setCountdown(s, model.Countdown{Type: model.CountdownIdle})
			return
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		step := e.opts.Tick
		if remaining < step {
			step = remaining
		}
		timer := time.NewTimer(step)
		select {
		case <-ctx.Done():
			timer.Stop()
			e.setCountdown(s, model.Countdown{Type: model.CountdownIdle})
			return
		case <-timer.C:
		}
		remaining = time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		e.setCountdown(s, model.Countdown{IsActive: remaining > 0, RemainingTime: remaining, TotalTime: d, Type: typ})
	}

	if mode == delayPause {
		e.setCountdown(s, model.Countdown{Type: model.CountdownSending})
		return
	}
	e.setCountdown(s, model.Countdown{Type: model.CountdownIdle})
}
