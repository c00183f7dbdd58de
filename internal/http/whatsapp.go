package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"broadcaster/internal/wa"
)

func (a *API) handleWAStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.WhatsApp.Status())
}

func (a *API) handleWAPairQR(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 90*time.Second)
	defer cancel()
	png, code, err := a.WhatsApp.StartPairing(ctx)
	if err != nil {
		if errors.Is(err, wa.ErrAlreadyPaired) {
			writeErr(w, http.StatusConflict, err.Error())
			return
		}
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if r.URL.Query().Get("format") == "json" {
		writeJSON(w, http.StatusOK, map[string]any{"code": code})
		return
	}
	w.Header().Set("Content-Type", "image/png")
	// Stale QR codes must not be cached.
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

type pairByNumberReq struct {
	Msisdn string `json:"msisdn"`
}

func (a *API) handleWAPairByNumber(w http.ResponseWriter, r *http.Request) {
	var req pairByNumberReq
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Msisdn == "" {
		writeErr(w, http.StatusBadRequest, "msisdn required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 90*time.Second)
	defer cancel()
	code, err := a.WhatsApp.RequestPairingCode(ctx, req.Msisdn)
	if err != nil {
		if errors.Is(err, wa.ErrAlreadyPaired) {
			writeErr(w, http.StatusConflict, err.Error())
			return
		}
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if code == "" {
		writeErr(w, http.StatusBadRequest, "empty pairing code")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"code": code})
}

func (a *API) handleWAConnect(w http.ResponseWriter, r *http.Request) {
	if err := a.WhatsApp.ConnectIfPaired(); err != nil {
		if errors.Is(err, wa.ErrNotPaired) {
			writeErr(w, http.StatusConflict, err.Error())
			return
		}
		writeErr(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a.WhatsApp.Status())
}

func (a *API) handleWALogout(w http.ResponseWriter, r *http.Request) {
	if err := a.WhatsApp.Logout(r.Context()); err != nil {
		if errors.Is(err, wa.ErrNotPaired) {
			writeErr(w, http.StatusConflict, err.Error())
			return
		}
		writeErr(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
