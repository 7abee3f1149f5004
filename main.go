package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/mafia/server/internal/archive"
	"github.com/robalobadob/mafia/server/internal/httpserver"
	"github.com/robalobadob/mafia/server/internal/realtime"
	"github.com/robalobadob/mafia/server/internal/seat"
	"github.com/robalobadob/mafia/server/internal/store"
	"github.com/robalobadob/mafia/server/internal/timer"
)

func main() {
	_ = godotenv.Load()
	cfg, rules, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	hub := realtime.NewHub()
	opts := []store.Option{
		store.WithBroadcaster(hub),
		store.WithTickInterval(cfg.TickInterval),
	}
	deps := httpserver.Deps{
		Hub:          hub,
		Seats:        seat.NewIssuer(cfg.SeatSecret, cfg.SeatTTL),
		ClientOrigin: cfg.ClientOrigin,
	}
	if cfg.DBPath != "" {
		db, err := archive.Open(cfg.DBPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open archive")
		}
		defer db.Close()
		opts = append(opts, store.WithArchive(db))
		deps.Archive = db
	}
	sessions := store.New(rules, opts...)
	deps.Store = sessions

	// Drop idle lobbies and finished games, and their connections.
	pruner := timer.Start(time.Minute, func(time.Time) bool {
		for _, code := range sessions.Prune(context.Background(), cfg.IdleTimeout) {
			hub.CloseSession(code)
		}
		return true
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpserver.New(deps).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("port", cfg.Port).Bool("archive", cfg.DBPath != "").Msg("starting mafia server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server exited")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	pruner.Stop()
	pruner.Wait()
	sessions.Close()
}
