package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"broadcaster/internal/model"
)

var errStoppedBeforeReady = errors.New("stopped before transport was ready")

func (e *Engine) run(s *session, readyCtx context.Context) {
	defer e.wg.Done()
	err := e.sendLoop(s, readyCtx)
	if errors.Is(err, errStoppedBeforeReady) {
		err = nil
	}
	e.finish(s, err)
}

// sendLoop processes recipients from the cursor to the end of the list. A
// returned error is a critical failure that stops the campaign.
func (e *Engine) sendLoop(s *session, readyCtx context.Context) error {
	ctx := e.ctx

	err := e.transport.Ready(readyCtx)
	e.mu.Lock()
	if s.cancelReady != nil {
		s.cancelReady()
		s.cancelReady = nil
	}
	stopping := s.status == model.StatusStopping
	e.mu.Unlock()
	if err != nil {
		if stopping {
			return errStoppedBeforeReady
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("transport not ready: %w", err)
	}

	if err := e.ensureContacts(s); err != nil {
		return err
	}

	e.mu.Lock()
	total, start := s.total, s.cfg.CurrentIndex
	e.mu.Unlock()
	e.notifySupervisors(ctx, s, fmt.Sprintf("Campaign %s running: %d contacts, starting at #%d.", s.id, total, start+1))

	for i := start; i < total; i++ {
		e.mu.Lock()
		status := s.status
		cfg := s.cfg.Clone()
		contacts := s.contacts
		e.mu.Unlock()

		if status == model.StatusPaused {
			e.publishProgress(s)
			if !e.awaitResume(ctx, s) {
				return ctx.Err()
			}
			// A config edit may point at a different contacts file.
			if err := e.ensureContacts(s); err != nil {
				return err
			}
			e.mu.Lock()
			total = s.total
			i = s.cfg.CurrentIndex - 1
			e.mu.Unlock()
			continue
		}
		if status != model.StatusRunning {
			break
		}

		// The cursor is authoritative; it may have been edited while paused.
		i = cfg.CurrentIndex
		if i >= total || i >= len(contacts) {
			break
		}
		rec := contacts[i]

		target, ok := rec.Target()
		if !ok {
			e.advance(s, i, false)
			e.notify.Send(model.SendResult{
				CampaignID: s.id, Index: i, Target: target, Status: model.SendSkipped,
				Error: "invalid target", At: e.opts.Now(),
			})
			e.log.Debug().Str("campaign", s.id).Int("index", i).Msg("skipping recipient without valid number")
			e.publishProgress(s)
			continue
		}

		msg := Render(cfg.Message, rec)
		timeout := time.Duration(cfg.Timeout) * time.Second
		attempts, err := e.sendWithRetry(ctx, target, msg, cfg.Media(), cfg.MaxRetries, timeout)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		longPause := false
		result := model.SendResult{
			CampaignID: s.id, Index: i, Target: target, Preview: preview(msg),
			Attempts: attempts, At: e.opts.Now(),
		}
		if err == nil {
			sent := e.advance(s, i, true)
			result.Status = model.SendSent
			e.notify.Send(result)
			e.logf(s, "Sent %d/%d to %s", i+1, total, target)
			longPause = cfg.PausaCada > 0 && sent > 0 && sent%cfg.PausaCada == 0
		} else {
			// Exhausted recipients are skipped; the audit log keeps them.
			e.advance(s, i, false)
			result.Status = model.SendFailed
			result.Error = err.Error()
			e.notify.Send(result)
			e.logf(s, "Failed to send to %s after %d attempts: %v", target, attempts, err)
			e.notifySupervisors(ctx, s, fmt.Sprintf("Campaign %s: could not send to %s (#%d): %v", s.id, target, i+1, err))
		}
		e.publishProgress(s)

		if i+1 >= total {
			continue
		}
		if longPause {
			d := e.longPause(cfg)
			e.logf(s, "Pacing pause of %s after %d messages", d.Round(time.Second), e.sentCount(s))
			e.notifySupervisors(ctx, s, fmt.Sprintf("Campaign %s: pausing for %s after %d messages.", s.id, d.Round(time.Second), e.sentCount(s)))
			e.controlledDelay(ctx, s, d, delayPause)
		} else {
			e.controlledDelay(ctx, s, time.Duration(cfg.SendDelay)*time.Second, delaySend)
		}
	}
	return nil
}

// advance moves the cursor past idx and returns the sent count. Nothing
// changes if the cursor was edited while the send was in flight.
func (e *Engine) advance(s *session, idx int, sent bool) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s.cfg.CurrentIndex != idx {
		return s.sent
	}
	s.cfg.CurrentIndex = idx + 1
	if sent {
		s.sent++
	}
	return s.sent
}

func (e *Engine) sentCount(s *session) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return s.sent
}

func (e *Engine) ensureContacts(s *session) error {
	e.mu.Lock()
	loaded := len(s.contacts) > 0
	path := s.cfg.ContactsPath
	e.mu.Unlock()
	if loaded {
		return nil
	}
	if e.contacts == nil {
		return errors.New("no contact source configured")
	}
	recs, err := e.contacts.Load(path)
	if err != nil {
		return fmt.Errorf("load contacts %q: %w", path, err)
	}
	if len(recs) == 0 {
		return fmt.Errorf("load contacts %q: file has no recipients", path)
	}
	e.mu.Lock()
	s.contacts = recs
	s.total = len(recs)
	e.mu.Unlock()
	e.logf(s, "Loaded %d contacts from %s", len(recs), path)
	return nil
}

// awaitResume blocks on the resume signal. It returns false if the engine is
// shutting down.
func (e *Engine) awaitResume(ctx context.Context, s *session) bool {
	e.mu.Lock()
	s.waiting = true
	ch := s.resume
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		s.waiting = false
		e.mu.Unlock()
	}()

	select {
	case <-ch:
		return true
	case <-ctx.Done():
		return false
	}
}

// longPause picks the pacing pause duration uniformly in
// [PausaMinima, PausaMaxima] minutes, minus the grace period.
func (e *Engine) longPause(cfg model.Config) time.Duration {
	lo, hi := cfg.PausaMinima, cfg.PausaMaxima
	if hi < lo {
		lo, hi = hi, lo
	}
	e.mu.Lock()
	f := lo + e.opts.Rand.Float64()*(hi-lo)
	e.mu.Unlock()
	d := time.Duration(f*float64(time.Minute)) - e.opts.PauseGrace
	if d < e.opts.MinPause {
		d = e.opts.MinPause
	}
	return d
}

// finish records the loop's exit. When the engine itself is shutting down the
// state is left as is so the persisted snapshot can be resumed.
func (e *Engine) finish(s *session, err error) {
	e.mu.Lock()
	s.loopLive = false
	s.waiting = false
	if s.cancelReady != nil {
		s.cancelReady()
		s.cancelReady = nil
	}
	if e.ctx.Err() != nil {
		e.mu.Unlock()
		e.log.Info().Str("campaign", s.id).Msg("send loop interrupted by shutdown")
		return
	}
	final := model.StatusFinished
	if err != nil || s.status == model.StatusStopping {
		final = model.StatusStopped
	}
	s.status = final
	sent, total := s.sent, s.total
	e.mu.Unlock()

	switch {
	case err != nil:
		e.log.Error().Err(err).Str("campaign", s.id).Msg("campaign aborted")
		e.logf(s, "Campaign %s stopped by error: %v", s.id, err)
		e.notifySupervisors(context.Background(), s, fmt.Sprintf("Campaign %s stopped by error: %v", s.id, err))
	case final == model.StatusFinished:
		e.logf(s, "Campaign %s finished: %d of %d sent", s.id, sent, total)
		e.notifySupervisors(context.Background(), s, fmt.Sprintf("Campaign %s finished: %d of %d messages sent.", s.id, sent, total))
	default:
		e.logf(s, "Campaign %s stopped: %d of %d sent", s.id, sent, total)
	}
	e.setCountdown(s, model.Countdown{Type: model.CountdownIdle})
	e.publishProgress(s)
}

// notifySupervisors sends text to every supervisor number once, without
// retries. Failures are only logged.
func (e *Engine) notifySupervisors(ctx context.Context, s *session, text string) {
	e.mu.Lock()
	numbers := append([]string(nil), s.cfg.SupervisorNumbers...)
	current := s == e.cur
	e.mu.Unlock()
	if !current {
		return
	}
	for _, n := range numbers {
		target, ok := model.Recipient{"phone": n}.Target()
		if !ok {
			continue
		}
		sctx, cancel := context.WithTimeout(ctx, e.opts.SupervisorTimeout)
		err := e.attempt(sctx, target, text, nil, e.opts.SupervisorTimeout)
		cancel()
		if err != nil {
			e.log.Warn().Err(err).Str("campaign", s.id).Str("supervisor", target).Msg("supervisor notice failed")
		}
	}
}
