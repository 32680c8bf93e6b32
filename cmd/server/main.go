// Command server is the exchange's entrypoint: it wires the Persistence
// Boundary, Order Store, Price-Level Book, Matching Engine, Book
// Projector, and Subscription Hub together behind an HTTP+websocket
// transport, recovers any resting orders and interrupted resolutions from
// the database, and serves until interrupted.
package main

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"predmkt-exchange/internal/accounts"
	"predmkt-exchange/internal/book"
	"predmkt-exchange/internal/config"
	"predmkt-exchange/internal/engine"
	"predmkt-exchange/internal/hub"
	"predmkt-exchange/internal/persistence"
	"predmkt-exchange/internal/projector"
	"predmkt-exchange/internal/store"
	"predmkt-exchange/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	db, err := persistence.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open persistence boundary")
	}
	defer db.Close()

	if err := accounts.Bootstrap(ctx, db, cfg.OperatorBalance); err != nil {
		log.Fatal().Err(err).Msg("failed to bootstrap operator account")
	}

	st := store.New()
	bk := book.New(cfg.LockTimeout, cfg.LockRetries)
	proj := projector.New(bk, st)
	h := hub.New(proj)
	eng := engine.New(db, st, bk, accounts.OperatorUserID, h.NotifyBookChanged)

	h.Start(ctx, cfg.HubWorkers)
	defer func() {
		if err := h.Stop(); err != nil {
			log.Error().Err(err).Msg("hub worker pool stop returned error")
		}
	}()

	if err := eng.Recover(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to recover engine state from persistence")
	}

	srv := transport.New(eng, h, proj, db)
	httpServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.ListenAddr, strconv.Itoa(cfg.ListenPort)),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server exited unexpectedly")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
}
