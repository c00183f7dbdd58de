package storage

import (
	"sync"

	"github.com/rs/zerolog"

	"broadcaster/internal/model"
)

// Observer persists campaign events: progress as the resumable snapshot, log
// lines and per-recipient outcomes as audit rows. Countdown ticks are not
// stored. Write failures are logged and never reach the send loop.
type Observer struct {
	store *Store
	log   zerolog.Logger

	mu     sync.Mutex
	lastID string
}

func NewObserver(store *Store, log zerolog.Logger) *Observer {
	return &Observer{store: store, log: log.With().Str("component", "storage").Logger()}
}

func (o *Observer) OnProgress(p model.Progress) {
	o.mu.Lock()
	o.lastID = p.ID
	o.mu.Unlock()

	if p.ID == "" && (p.Status == model.StatusInactive || p.Status == "") {
		if err := o.store.ClearSnapshot(); err != nil {
			o.log.Error().Err(err).Msg("clear snapshot failed")
		}
		return
	}
	snap := model.Snapshot{
		ID:     p.ID,
		Status: p.Status,
		Config: p.Config,
		Sent:   p.Sent,
		Total:  p.Total,
	}
	if err := o.store.SetSnapshot(snap); err != nil {
		o.log.Error().Err(err).Str("campaign", p.ID).Msg("save snapshot failed")
	}
}

func (o *Observer) OnLog(text string) {
	o.mu.Lock()
	id := o.lastID
	o.mu.Unlock()
	if err := o.store.AppendLog(id, text); err != nil {
		o.log.Error().Err(err).Msg("append campaign log failed")
	}
}

func (o *Observer) OnCountdown(model.Countdown) {}

func (o *Observer) OnSend(r model.SendResult) {
	if err := o.store.LogSend(r); err != nil {
		o.log.Error().Err(err).Str("campaign", r.CampaignID).Int("index", r.Index).Msg("record send failed")
	}
}
