package campaign

import (
	"fmt"

	"broadcaster/internal/model"
)

// Hydrate rebuilds the campaign from a persisted snapshot. The campaign comes
// back paused and no loop is started; contacts are loaded on the first
// Resume. It fails if a send loop is live.
func (e *Engine) Hydrate(snap model.Snapshot) error {
	e.mu.Lock()
	if e.cur.loopLive {
		e.mu.Unlock()
		return ErrCampaignActive
	}
	cfg := snap.Config.Clone()
	if cfg.CurrentIndex == 0 && snap.LegacyCurrentIndex != nil {
		cfg.CurrentIndex = *snap.LegacyCurrentIndex
	}
	if cfg.CurrentIndex < 0 {
		cfg.CurrentIndex = 0
	}
	id := snap.ID
	if id == "" {
		id = fmt.Sprintf("campaign-%d", e.opts.Now().UnixMilli())
	}
	s := newSession(id)
	s.status = model.StatusPaused
	s.cfg = cfg
	s.sent = snap.Sent
	s.total = snap.Total
	e.cur = s
	e.mu.Unlock()

	e.log.Info().Str("campaign", id).Int("index", cfg.CurrentIndex).Int("sent", snap.Sent).Msg("campaign hydrated")
	e.publishProgress(s)
	return nil
}
