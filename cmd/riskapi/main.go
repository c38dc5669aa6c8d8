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
	"github.com/rs/zerolog/log"

	"credit-risk-api/internal/api"
	"credit-risk-api/internal/cfg"
	"credit-risk-api/internal/metrics"
	"credit-risk-api/internal/ml"
	"credit-risk-api/internal/model"
	"credit-risk-api/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	setupLogging(c)

	m := metrics.New()
	mw := metrics.NewWrapper(m)

	store := initializeStorage(c)
	if store != nil {
		defer store.Close()
	}

	reg, err := model.OpenRegistry(c.RegistryPath())
	if err != nil {
		log.Warn().Err(err).Str("path", c.RegistryPath()).Msg("model registry unreadable, discovering newest artifact")
		reg = nil
	}

	mc, loaded := model.NewContext(c.ModelDir, reg, c.LoadOptions(), c.ContextOptions(mw))
	defer loaded.Close()
	if !mc.Available() {
		log.Warn().Str("reason", mc.Health().LastError).Msg("no model loaded, scoring routes will answer 503")
	}

	// A typed nil *storage.Store must not reach the server as a non-nil
	// interface.
	var reference ml.ReferenceCohortProvider
	if store != nil {
		reference = store
	}

	srv := api.NewServer(mc, reference, m, api.Options{
		Port:           c.Port,
		ReadTimeout:    c.ReadTimeout,
		WriteTimeout:   c.WriteTimeout,
		MaxBodyBytes:   c.MaxBodyBytes,
		ReferenceLimit: c.ReferenceLimit,
	})

	errs := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	waitForShutdown(srv, errs)
}

func setupLogging(c cfg.Settings) {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if c.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// initializeStorage opens the reference and run store if DATA_PATH is set.
func initializeStorage(c cfg.Settings) *storage.Store {
	if c.DataPath == "" {
		return nil
	}
	store, err := storage.New(c.DataPath)
	if err != nil {
		log.Warn().Err(err).Msg("storage initialization failed, attribution by client id disabled")
		return nil
	}
	return store
}

// waitForShutdown blocks until a signal or a server error, then drains
// in-flight requests.
func waitForShutdown(srv *api.Server, errs <-chan error) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errs:
		log.Error().Err(err).Msg("server failed")
	}

	log.Info().Msg("shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("shutdown timeout, forcing exit")
		return
	}
	log.Info().Msg("server stopped")
}
