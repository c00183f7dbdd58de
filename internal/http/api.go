package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"broadcaster/internal/contacts"
	"broadcaster/internal/model"
	"broadcaster/internal/sse"
	"broadcaster/internal/storage"
	"broadcaster/internal/wa"
)

// Campaign is the engine surface the API drives.
type Campaign interface {
	Start(cfg model.Config, startIndex *int, resumeID string) (string, error)
	Pause(id string) bool
	Resume(id string) bool
	Stop(id, reason string) bool
	UpdateConfig(cfg model.Config) error
	Status() model.Progress
	Countdown() model.Countdown
	Clear()
}

// WhatsApp is the session surface the API drives.
type WhatsApp interface {
	Status() wa.Status
	StartPairing(ctx context.Context) ([]byte, string, error)
	RequestPairingCode(ctx context.Context, msisdn string) (string, error)
	ConnectIfPaired() error
	Logout(ctx context.Context) error
}

type Deps struct {
	Campaign Campaign
	WhatsApp WhatsApp
	Store    *storage.Store
	Contacts *contacts.Loader
	Hub      *sse.Hub
	Log      zerolog.Logger

	UploadDir      string
	ContactsDir    string
	MaxUploadBytes int64
	RateLimit      rate.Limit
	RateBurst      int
}

type API struct {
	Deps
	Router  *chi.Mux
	limiter *RateLimiter
}

func New(d Deps) *API {
	if d.UploadDir == "" {
		d.UploadDir = "uploads"
	}
	if d.ContactsDir == "" {
		d.ContactsDir = d.UploadDir + "/contacts"
	}
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = 50 << 20
	}
	if d.RateLimit <= 0 {
		d.RateLimit = 20
	}
	if d.RateBurst <= 0 {
		d.RateBurst = 40
	}
	d.Log = d.Log.With().Str("component", "http").Logger()
	api := &API{
		Deps:    d,
		Router:  chi.NewRouter(),
		limiter: NewRateLimiter(d.RateLimit, d.RateBurst),
	}
	r := api.Router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors)
	r.Use(api.limiter.Middleware)

	api.routes()
	return api
}

// Close stops background work owned by the API.
func (a *API) Close() { a.limiter.Stop() }

func (a *API) routes() {
	// Streams must not be cut by the request timeout.
	a.Router.Get("/api/events", a.handleEvents)

	a.Router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(120 * time.Second))

		r.Get("/api/health", a.handleHealth)

		r.Route("/api/campaign", func(r chi.Router) {
			r.Get("/", a.handleCampaignStatus)
			r.Post("/start", a.handleCampaignStart)
			r.Post("/pause", a.handleCampaignPause)
			r.Post("/resume", a.handleCampaignResume)
			r.Post("/stop", a.handleCampaignStop)
			r.Put("/config", a.handleCampaignConfig)
			r.Post("/clear", a.handleCampaignClear)
			r.Get("/failed", a.handleCampaignFailed)
			r.Get("/logs", a.handleCampaignLogs)
			r.Get("/stats", a.handleCampaignStats)
		})

		r.Post("/api/contacts", a.handleContactsUpload)
		r.Get("/api/contacts/preview", a.handleContactsPreview)
		r.Post("/api/media", a.handleMediaUpload)

		r.Route("/api/wa", func(r chi.Router) {
			r.Get("/status", a.handleWAStatus)
			r.Get("/pair/qr", a.handleWAPairQR)
			r.Post("/pair/number", a.handleWAPairByNumber)
			r.Post("/connect", a.handleWAConnect)
			r.Post("/logout", a.handleWALogout)
		})

		r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(a.UploadDir))))
	})
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"ok":       true,
		"time":     time.Now().Format(time.RFC3339),
		"campaign": a.Campaign.Status().Status,
	}
	if a.WhatsApp != nil {
		resp["whatsapp"] = a.WhatsApp.Status().State
	}
	writeJSON(w, http.StatusOK, resp)
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(v)
}
