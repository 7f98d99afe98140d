package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/seanblong/newsrag/internal/api"
	"github.com/seanblong/newsrag/internal/app"
	"github.com/seanblong/newsrag/internal/config"
	"github.com/spf13/pflag"
)

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	// Create flagset for configuration
	fs := pflag.NewFlagSet("newsrag-api", pflag.ExitOnError)

	// Load configuration
	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	// Set up logging
	logger, err := app.NewLogger(cfg.LogLevel, os.Stdout)
	if err != nil {
		log.Fatal(err)
	}
	logger.Info().
		Str("provider", cfg.Provider).
		Str("generator", cfg.Generator).
		Str("index_store", cfg.Index.Store).
		Str("log_level", cfg.LogLevel).
		Msg("starting newsrag api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error().Err(err).Msg("shutdown")
		}
	}()
	stats := a.Index.Stats()
	logger.Info().Bool("index_built", a.Index.Built()).Int("articles", stats.Articles).Int("chunks", stats.Chunks).Msg("index state")

	srv := api.NewServer(a.Query, a.Rebuild, cfg.CORSOrigins)
	address := fmt.Sprintf(":%d", cfg.Port)
	s := &http.Server{
		Addr:              address,
		Handler:           srv.Handler(logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown")
		}
	}()

	logger.Info().Str("addr", s.Addr).Msg("api server listening")
	err = s.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		_ = a.Close()
		log.Fatalf("server failed: %v", err)
	}
	logger.Info().Msg("api server stopped")
}
