package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"broadcaster/internal/campaign"
	"broadcaster/internal/model"
)

type campaignStatusResp struct {
	model.Progress
	Countdown model.Countdown `json:"countdown"`
}

func (a *API) handleCampaignStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, campaignStatusResp{
		Progress:  a.Campaign.Status(),
		Countdown: a.Campaign.Countdown(),
	})
}

type startReq struct {
	Config     model.Config `json:"config"`
	StartIndex *int         `json:"startIndex"`
	ResumeID   string       `json:"resumeId"`
}

func (a *API) handleCampaignStart(w http.ResponseWriter, r *http.Request) {
	var req startReq
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Config.ContactsPath == "" {
		writeErr(w, http.StatusBadRequest, "config.contactsPath required")
		return
	}
	if req.Config.Message == "" && req.Config.MediaPath == "" {
		writeErr(w, http.StatusBadRequest, "config.message or config.mediaPath required")
		return
	}
	if req.StartIndex != nil && *req.StartIndex < 0 {
		writeErr(w, http.StatusBadRequest, "startIndex must be >= 0")
		return
	}
	id, err := a.Campaign.Start(req.Config, req.StartIndex, req.ResumeID)
	if err != nil {
		switch {
		case errors.Is(err, campaign.ErrCampaignActive):
			writeErr(w, http.StatusConflict, err.Error())
		case errors.Is(err, campaign.ErrClosed):
			writeErr(w, http.StatusServiceUnavailable, err.Error())
		default:
			writeErr(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": id})
}

type idReq struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// transition applies op to the requested campaign; a mismatched id or state
// is reported as a conflict.
func (a *API) transition(w http.ResponseWriter, r *http.Request, op func(idReq) bool) {
	var req idReq
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeErr(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ID == "" {
		req.ID = a.Campaign.Status().ID
	}
	if !op(req) {
		writeJSON(w, http.StatusConflict, map[string]any{"ok": false, "status": a.Campaign.Status().Status})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": a.Campaign.Status().Status})
}

func (a *API) handleCampaignPause(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, func(req idReq) bool { return a.Campaign.Pause(req.ID) })
}

func (a *API) handleCampaignResume(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, func(req idReq) bool { return a.Campaign.Resume(req.ID) })
}

func (a *API) handleCampaignStop(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, func(req idReq) bool {
		reason := req.Reason
		if reason == "" {
			reason = "stopped by operator"
		}
		return a.Campaign.Stop(req.ID, reason)
	})
}

func (a *API) handleCampaignConfig(w http.ResponseWriter, r *http.Request) {
	var cfg model.Config
	if err := decodeJSON(r, &cfg); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := a.Campaign.UpdateConfig(cfg); err != nil {
		if errors.Is(err, campaign.ErrNotPaused) {
			writeErr(w, http.StatusConflict, err.Error())
			return
		}
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a.Campaign.Status())
}

func (a *API) handleCampaignClear(w http.ResponseWriter, r *http.Request) {
	a.Campaign.Clear()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// campaignID reads ?id=, defaulting to the current campaign.
func (a *API) campaignID(r *http.Request) string {
	if id := r.URL.Query().Get("id"); id != "" {
		return id
	}
	return a.Campaign.Status().ID
}

func (a *API) handleCampaignFailed(w http.ResponseWriter, r *http.Request) {
	list, err := a.Store.FailedSends(a.campaignID(r))
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []model.LogEntry{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) handleCampaignLogs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	logs, err := a.Store.RecentLogs(r.URL.Query().Get("id"), limit)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if logs == nil {
		logs = []model.CampaignLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (a *API) handleCampaignStats(w http.ResponseWriter, r *http.Request) {
	id := a.campaignID(r)
	st, err := a.Store.CampaignStats(id)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	total, success, failed, err := a.Store.StatsToday()
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":       id,
		"campaign": st,
		"today": map[string]int64{
			"total":   total,
			"success": success,
			"failed":  failed,
		},
	})
}
