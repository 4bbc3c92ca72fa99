package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/wavepoint/roomcast/internal/alarm"
	"github.com/wavepoint/roomcast/internal/config"
	"github.com/wavepoint/roomcast/internal/handler"
	"github.com/wavepoint/roomcast/internal/room"
	"github.com/wavepoint/roomcast/internal/store"
	"github.com/wavepoint/roomcast/pkg/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(log.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty,
		ServiceName: "roomcast",
	})
	l := log.L()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Durable store backing history and the cleanup alarm.
	st, err := store.NewRedisStore(cfg.Redis)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to initialize redis store")
	}
	defer st.Close()
	l.Info().Str("address", cfg.Redis.Address).Msg("connected to redis")

	scheduler := alarm.NewScheduler(st)

	// The coordinator refuses to serve if history cannot be restored.
	coordinator, err := room.NewCoordinator(ctx, st, scheduler, cfg.Room)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to initialize room coordinator")
	}

	wsHandler := handler.NewWSHandler(coordinator, cfg.WebSocket)

	router := mux.NewRouter()
	router.Use(log.HTTPMiddleware(l))
	wsHandler.RegisterRoutes(router)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		l.Info().Str("address", server.Addr).Msg("roomcast listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		err := scheduler.Run(gctx, coordinator)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()

		l.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			l.Error().Err(err).Msg("server forced to shutdown")
		}
		coordinator.Close(shutdownCtx)
		return nil
	})

	if err := g.Wait(); err != nil {
		l.Fatal().Err(err).Msg("roomcast exited with error")
	}
	l.Info().Msg("roomcast stopped")
}
