package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/seanblong/newsrag/internal/app"
	"github.com/seanblong/newsrag/internal/config"
	"github.com/spf13/pflag"
)

func main() {
	_ = godotenv.Load()

	fs := pflag.NewFlagSet("newsrag-indexer", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	logger, err := app.NewLogger(cfg.LogLevel, os.Stdout)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	logger.Info().Int("feeds", len(cfg.Fetch.Feeds)).Str("article_dir", cfg.Fetch.ArticleDir).Msg("rebuilding index")
	start := time.Now()
	stats, err := a.Rebuild.Run(ctx)
	if err != nil {
		_ = a.Close()
		log.Fatalf("rebuild failed: %v", err)
	}
	logger.Info().
		Int("articles", stats.Articles).
		Int("chunks", stats.Chunks).
		Dur("dur", time.Since(start)).
		Msg("index rebuilt")
}
