// Package campaign drives a single bulk-send campaign: the status state
// machine, the send loop, the interruptible countdown between sends and the
// retry policy around each send.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"broadcaster/internal/model"
)

var (
	// ErrCampaignActive is returned when a new campaign is started while
	// another one is still running, paused or stopping.
	ErrCampaignActive = errors.New("a campaign is already active")
	// ErrNotPaused is returned by UpdateConfig outside the paused state.
	ErrNotPaused = errors.New("campaign must be paused to update its configuration")
	// ErrClosed is returned after the engine has been closed.
	ErrClosed = errors.New("campaign engine closed")
)

// Transport dispatches one message. Send must honor ctx cancellation where it
// can; Ready blocks until the transport can send or ctx is done.
type Transport interface {
	Send(ctx context.Context, target, message string, media *model.Media) error
	Ready(ctx context.Context) error
}

// ContactSource loads the ordered recipient list. Load must be side-effect
// free so it can be repeated after a restart.
type ContactSource interface {
	Load(path string) ([]model.Recipient, error)
}

// Options tunes timing. Zero values are replaced with defaults.
type Options struct {
	// Tick is the countdown polling granularity.
	Tick time.Duration
	// RetryDelay is the fixed wait between send attempts.
	RetryDelay time.Duration
	// PauseGrace is subtracted from every long pacing pause.
	PauseGrace time.Duration
	// MinPause floors the long pause after the grace is subtracted.
	MinPause time.Duration
	// Timeout applies when Config.Timeout is not set.
	Timeout time.Duration
	// MaxRetries applies when Config.MaxRetries is not set.
	MaxRetries int
	// SupervisorTimeout bounds each supervisor notice.
	SupervisorTimeout time.Duration
	Rand              *rand.Rand
	Now               func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Tick <= 0 {
		o.Tick = time.Second
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 3 * time.Second
	}
	if o.PauseGrace <= 0 {
		o.PauseGrace = 2 * time.Second
	}
	if o.MinPause <= 0 {
		o.MinPause = 2 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.SupervisorTimeout <= 0 {
		o.SupervisorTimeout = 30 * time.Second
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// session is the state of one campaign. Every field is guarded by Engine.mu.
type session struct {
	id        string
	status    model.Status
	cfg       model.Config
	contacts  []model.Recipient
	total     int
	sent      int
	countdown model.Countdown

	// resume wakes a loop blocked in the pause branch. Capacity one.
	resume      chan struct{}
	loopLive    bool
	waiting     bool
	cancelReady context.CancelFunc
}

func newSession(id string) *session {
	return &session{
		id:        id,
		status:    model.StatusInactive,
		resume:    make(chan struct{}, 1),
		countdown: model.Countdown{Type: model.CountdownIdle, CampaignID: id},
	}
}

func (s *session) progress() model.Progress {
	return model.Progress{
		ID:     s.id,
		Status: s.status,
		Sent:   s.sent,
		Total:  s.total,
		Config: s.cfg.Clone(),
	}
}

func (s *session) signal() {
	select {
	case s.resume <- struct{}{}:
	default:
	}
}

func (s *session) drain() {
	select {
	case <-s.resume:
	default:
	}
}

// Engine owns the single campaign and the goroutine running its send loop.
type Engine struct {
	transport Transport
	contacts  ContactSource
	notify    *Notifier
	log       zerolog.Logger
	opts      Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu  sync.Mutex
	cur *session
}

// New creates an engine. Loops started by the engine stop when ctx is done or
// Close is called; their last persisted state stays resumable.
func New(ctx context.Context, transport Transport, contacts ContactSource, notifier *Notifier, log zerolog.Logger, opts Options) *Engine {
	if notifier == nil {
		notifier = NewNotifier()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Engine{
		transport: transport,
		contacts:  contacts,
		notify:    notifier,
		log:       log.With().Str("component", "campaign").Logger(),
		opts:      opts.withDefaults(),
		ctx:       ctx,
		cancel:    cancel,
		cur:       newSession(""),
	}
}

// Notifier returns the notifier observers register with.
func (e *Engine) Notifier() *Notifier { return e.notify }

// Close cancels any live loop and waits for it to return.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}

// Wait blocks until no send loop is live.
func (e *Engine) Wait() { e.wg.Wait() }

// Start launches a campaign. With an empty resumeID a new campaign is created
// and rejected while another is active. A resumeID equal to the current
// campaign continues it from its cursor; if its loop is already live the call
// is a no-op. startIndex, when set, overrides cfg.CurrentIndex.
func (e *Engine) Start(cfg model.Config, startIndex *int, resumeID string) (string, error) {
	e.mu.Lock()
	if e.ctx.Err() != nil {
		e.mu.Unlock()
		return "", ErrClosed
	}
	s := e.cur
	if s.loopLive {
		e.mu.Unlock()
		if resumeID != "" && resumeID == s.id {
			return resumeID, nil
		}
		return "", ErrCampaignActive
	}
	if resumeID == "" && s.status.Active() {
		e.mu.Unlock()
		return "", ErrCampaignActive
	}

	cfg = cfg.Clone()
	if startIndex != nil {
		cfg.CurrentIndex = *startIndex
	}
	if cfg.CurrentIndex < 0 {
		cfg.CurrentIndex = 0
	}
	switch {
	case resumeID == "":
		s = newSession(fmt.Sprintf("campaign-%d", e.opts.Now().UnixMilli()))
		e.cur = s
	case resumeID != s.id:
		s = newSession(resumeID)
		s.sent = cfg.CurrentIndex
		e.cur = s
	default:
		// Resuming the hydrated campaign keeps its counters; contacts are
		// reloaded only if they were never loaded.
		if cfg.ContactsPath != s.cfg.ContactsPath {
			s.contacts = nil
		}
	}
	s.cfg = cfg
	s.status = model.StatusRunning
	e.launch(s)
	id := s.id
	e.mu.Unlock()

	e.logf(s, "Campaign %s started at index %d", id, cfg.CurrentIndex)
	e.publishProgress(s)
	return id, nil
}

// launch starts the send loop for s. Caller holds e.mu.
func (e *Engine) launch(s *session) {
	rctx, cancel := context.WithCancel(e.ctx)
	s.loopLive = true
	s.cancelReady = cancel
	s.drain()
	e.wg.Add(1)
	go e.run(s, rctx)
}

// Pause moves a running campaign to paused. The loop notices at its next
// checkpoint.
func (e *Engine) Pause(id string) bool {
	e.mu.Lock()
	s := e.cur
	if id == "" || s.id != id || s.status != model.StatusRunning {
		e.mu.Unlock()
		return false
	}
	s.status = model.StatusPaused
	s.drain()
	s.countdown = model.Countdown{Type: model.CountdownIdle, CampaignID: s.id}
	cd := s.countdown
	e.mu.Unlock()

	e.notify.Countdown(cd)
	e.logf(s, "Campaign %s paused at index %d", id, e.cursor(s))
	e.publishProgress(s)
	return true
}

// Resume continues a paused campaign, either by releasing the live loop or,
// after a restart, by starting a new loop from the cursor.
func (e *Engine) Resume(id string) bool {
	e.mu.Lock()
	s := e.cur
	if id == "" || s.id != id || s.status != model.StatusPaused {
		e.mu.Unlock()
		return false
	}
	if e.ctx.Err() != nil {
		e.mu.Unlock()
		return false
	}
	s.status = model.StatusRunning
	cold := !s.loopLive
	var cd model.Countdown
	if cold {
		e.launch(s)
	} else {
		s.signal()
		s.countdown = model.Countdown{Type: model.CountdownSending, CampaignID: s.id}
		cd = s.countdown
	}
	idx := s.cfg.CurrentIndex
	e.mu.Unlock()

	if cold {
		e.logf(s, "Campaign %s resumed from index %d", id, idx)
	} else {
		e.notify.Countdown(cd)
		e.logf(s, "Campaign %s resumed at index %d", id, idx)
	}
	e.publishProgress(s)
	return true
}

// Stop asks the campaign to stop. A blocked pause wait is released so the
// loop can exit; a send in flight finishes first.
func (e *Engine) Stop(id, reason string) bool {
	e.mu.Lock()
	s := e.cur
	if id == "" || s.id != id || s.status.Terminal() || s.status == model.StatusStopping {
		e.mu.Unlock()
		return false
	}
	if s.loopLive {
		s.status = model.StatusStopping
		s.signal()
		if s.cancelReady != nil {
			s.cancelReady()
		}
	} else {
		s.status = model.StatusStopped
		s.countdown = model.Countdown{Type: model.CountdownIdle, CampaignID: s.id}
	}
	e.mu.Unlock()

	if reason == "" {
		reason = "requested"
	}
	e.logf(s, "Campaign %s stopping: %s", id, reason)
	e.publishProgress(s)
	return true
}

// UpdateConfig replaces the configuration of a paused campaign. The sent
// counter is resynchronized to the new cursor.
func (e *Engine) UpdateConfig(cfg model.Config) error {
	e.mu.Lock()
	s := e.cur
	if s.status != model.StatusPaused {
		e.mu.Unlock()
		return ErrNotPaused
	}
	cfg = cfg.Clone()
	if cfg.CurrentIndex < 0 {
		cfg.CurrentIndex = 0
	}
	if cfg.ContactsPath != s.cfg.ContactsPath {
		s.contacts = nil
	}
	s.cfg = cfg
	s.sent = cfg.CurrentIndex
	e.mu.Unlock()

	e.logf(s, "Configuration updated, next index %d", cfg.CurrentIndex)
	e.publishProgress(s)
	return nil
}

// Status returns the current campaign state.
func (e *Engine) Status() model.Progress {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cur.progress()
}

// Countdown returns the last published countdown state.
func (e *Engine) Countdown() model.Countdown {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cur.countdown
}

// Clear stops an active campaign and resets the engine to the empty
// inactive state without waiting for the loop to drain.
func (e *Engine) Clear() {
	e.mu.Lock()
	s := e.cur
	id, active := s.id, s.status.Active()
	e.mu.Unlock()

	if active {
		e.Stop(id, "cleared")
	}

	e.mu.Lock()
	e.cur = newSession("")
	cd := e.cur.countdown
	p := e.cur.progress()
	e.mu.Unlock()

	e.notify.Countdown(cd)
	e.notify.Progress(p)
	e.log.Info().Str("campaign", id).Msg("campaign cleared")
}

// HandleDisconnect pauses a running campaign after the transport dropped.
func (e *Engine) HandleDisconnect(reason string) bool {
	e.mu.Lock()
	id, status := e.cur.id, e.cur.status
	e.mu.Unlock()
	if status != model.StatusRunning {
		return false
	}
	if !e.Pause(id) {
		return false
	}
	e.logf(e.current(), "Transport disconnected (%s); campaign paused", reason)
	return true
}

func (e *Engine) current() *session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cur
}

func (e *Engine) cursor(s *session) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return s.cfg.CurrentIndex
}

func (e *Engine) status(s *session) model.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return s.status
}

// publishProgress notifies observers if s is still the engine's campaign.
func (e *Engine) publishProgress(s *session) {
	e.mu.Lock()
	if s != e.cur {
		e.mu.Unlock()
		return
	}
	p := s.progress()
	e.mu.Unlock()
	e.notify.Progress(p)
}

func (e *Engine) setCountdown(s *session, cd model.Countdown) {
	e.mu.Lock()
	if s != e.cur {
		e.mu.Unlock()
		return
	}
	cd.CampaignID = s.id
	s.countdown = cd
	e.mu.Unlock()
	e.notify.Countdown(cd)
}

func (e *Engine) logf(s *session, format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	e.log.Info().Str("campaign", s.id).Msg(text)
	e.mu.Lock()
	current := s == e.cur
	e.mu.Unlock()
	if current {
		e.notify.Log(text)
	}
}
