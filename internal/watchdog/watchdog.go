// Package watchdog pauses the running campaign when the WhatsApp session
// drops, from state-change events and from a periodic connectivity check.
package watchdog

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Campaign is the engine side the watchdog acts on.
type Campaign interface {
	HandleDisconnect(reason string) bool
}

// Link reports and restores connectivity.
type Link interface {
	IsOnline() bool
	ConnectIfPaired() error
}

type signal struct {
	online bool
	reason string
}

type Watchdog struct {
	campaign Campaign
	link     Link
	log      zerolog.Logger
	interval time.Duration

	events chan signal

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// New creates a watchdog polling every interval; zero means 30s.
func New(campaign Campaign, link Link, log zerolog.Logger, interval time.Duration) *Watchdog {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Watchdog{
		campaign: campaign,
		link:     link,
		log:      log.With().Str("component", "watchdog").Logger(),
		interval: interval,
		events:   make(chan signal, 16),
	}
}

// Notify feeds a connection state change. It never blocks; when the queue
// is full the periodic check catches up.
func (w *Watchdog) Notify(online bool, reason string) {
	select {
	case w.events <- signal{online: online, reason: reason}:
	default:
	}
}

// Start runs the loop in a goroutine. Call Stop to end it.
func (w *Watchdog) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	go w.loop(ctx, w.stop, w.done)
}

// Stop ends the loop and waits for it to return.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.stop)
	done := w.done
	w.running = false
	w.mu.Unlock()
	<-done
}

func (w *Watchdog) loop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	tick := time.NewTicker(w.interval)
	defer tick.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case ev := <-w.events:
			if !ev.online {
				w.pause(ev.reason)
			}
		case <-tick.C:
			if w.link.IsOnline() {
				continue
			}
			w.pause("connectivity check failed")
			if err := w.link.ConnectIfPaired(); err != nil {
				w.log.Debug().Err(err).Msg("reconnect skipped")
			}
		}
	}
}

func (w *Watchdog) pause(reason string) {
	if w.campaign.HandleDisconnect(reason) {
		w.log.Warn().Str("reason", reason).Msg("campaign paused after disconnect")
	}
}
