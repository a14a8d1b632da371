package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"litrank-web/internal/api"
	"litrank-web/internal/config"
	"litrank-web/internal/handlers"
	"litrank-web/internal/logger"
	"litrank-web/internal/storage"

	"github.com/rs/zerolog/log"
)

const sweepInterval = 10 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(cfg.App.Environment, cfg.App.LogLevel)

	if cfg.Storage.SecretGenerated {
		log.Warn().Msg("SESSION_SECRET not set, using a per-process secret; visitors are logged out on restart")
	}
	if cfg.InsecureCookie() {
		log.Warn().Msg("SECURE_COOKIE is off in production")
	}

	db, err := storage.NewDB(cfg.Storage.Path, cfg.Storage.Secret)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Storage.Path).Msg("failed to open database")
	}
	defer db.Close()

	client := api.NewClient(cfg.API.BaseURL, api.Options{
		Timeout: cfg.API.Timeout,
		RPS:     cfg.API.RPS,
	})

	h := handlers.NewHandlers(client, db, cfg.Web.TemplateDir, handlers.Options{
		SecureCookie:    cfg.Web.SecureCookie,
		VisitorDuration: cfg.Web.VisitorDuration,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handlers.Chain(setupRouter(h, cfg.Web.StaticDir)),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sweep(ctx, h)

	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("api", client.BaseURL()).
			Str("env", cfg.App.Environment).
			Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func setupRouter(h *handlers.Handlers, staticDir string) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok"))
	})

	h.Register(mux)
	return mux
}

// sweep periodically drops expired visitors and idle view states.
func sweep(ctx context.Context, h *handlers.Handlers) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			h.Sweep(ctx, now)
		}
	}
}
