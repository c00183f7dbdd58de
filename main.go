package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"broadcaster/internal/campaign"
	"broadcaster/internal/config"
	"broadcaster/internal/contacts"
	httpapi "broadcaster/internal/http"
	"broadcaster/internal/logging"
	"broadcaster/internal/model"
	"broadcaster/internal/sender"
	"broadcaster/internal/sse"
	"broadcaster/internal/storage"
	"broadcaster/internal/wa"
	"broadcaster/internal/watchdog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zerolog.New(os.Stderr).Fatal().Err(err).Msg("load config")
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Pretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Database.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer store.Close()

	manager, err := wa.NewManager(ctx, cfg.Database.DSN, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init whatsapp")
	}
	defer manager.Close()

	snd := sender.New(manager.Client(), manager, log)
	snd.MediaDir = cfg.Storage.UploadDir
	loader := contacts.NewLoader(cfg.Storage.ContactsDir)
	hub := sse.New()

	notifier := campaign.NewNotifier(storage.NewObserver(store, log), sse.Observer{Hub: hub})
	engine := campaign.New(ctx, snd, loader, notifier, log, campaign.Options{
		Tick:       cfg.Campaign.Tick,
		RetryDelay: cfg.Campaign.RetryDelay,
		PauseGrace: cfg.Campaign.PauseGrace,
		MinPause:   cfg.Campaign.MinPause,
		Timeout:    cfg.Campaign.DefaultTimeout,
		MaxRetries: cfg.Campaign.DefaultMaxRetries,
	})
	restore(engine, store, cfg.Campaign.ResumeOnBoot, log)

	// The watchdog pauses the campaign on disconnect and reconnects a
	// paired device; the operator resumes explicitly.
	wd := watchdog.New(engine, manager, log, cfg.Campaign.WatchdogInterval)
	manager.OnStateChange(func(s wa.State) { wd.Notify(s.Online(), string(s)) })
	wd.Start(ctx)

	if err := manager.ConnectIfPaired(); err != nil {
		if errors.Is(err, wa.ErrNotPaired) {
			log.Info().Msg("no linked device, pair via /api/wa/pair/qr or /api/wa/pair/number")
		} else {
			log.Error().Err(err).Msg("connect whatsapp")
		}
	}

	api := httpapi.New(httpapi.Deps{
		Campaign:       engine,
		WhatsApp:       manager,
		Store:          store,
		Contacts:       loader,
		Hub:            hub,
		Log:            log,
		UploadDir:      cfg.Storage.UploadDir,
		ContactsDir:    cfg.Storage.ContactsDir,
		MaxUploadBytes: cfg.Storage.MaxUploadMB << 20,
		RateLimit:      rate.Limit(cfg.HTTP.RateLimit),
		RateBurst:      cfg.HTTP.RateBurst,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           api.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	api.Close()
	wd.Stop()
	engine.Close()
}

// restore brings back a campaign that was live when the process stopped. It
// comes back paused unless resumeOnBoot is set.
func restore(engine *campaign.Engine, store *storage.Store, resumeOnBoot bool, log zerolog.Logger) {
	snap, err := store.GetSnapshot()
	if err != nil {
		log.Error().Err(err).Msg("read campaign snapshot")
		return
	}
	if snap == nil || !snap.Status.Active() {
		return
	}
	if err := engine.Hydrate(*snap); err != nil {
		log.Error().Err(err).Str("campaign", snap.ID).Msg("restore campaign")
		return
	}
	log.Info().Str("campaign", snap.ID).Int("sent", snap.Sent).Int("total", snap.Total).Msg("campaign restored as paused")
	if resumeOnBoot && snap.Status == model.StatusRunning {
		engine.Resume(snap.ID)
	}
}
