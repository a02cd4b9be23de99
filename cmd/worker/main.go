package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"mailprobe/internal/blocklist"
	"mailprobe/internal/config"
	"mailprobe/internal/lookup"
	"mailprobe/internal/queue"
	"mailprobe/internal/store"
	"mailprobe/internal/validator"
	"mailprobe/internal/worker"
)

func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	log := logrus.WithField("component", "worker-main")

	cfg := config.Load()

	if err := queue.Init(cfg.RedisAddr); err != nil {
		log.WithError(err).Fatal("failed to connect to Redis")
	}
	log.Info("connected to Redis")

	if cfg.DBURL == "" {
		log.Fatal("DB_URL environment variable is required")
	}
	if err := store.Init(cfg.DBURL); err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	log.Info("connected to PostgreSQL")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bl := blocklist.NewClient(queue.Client, cfg.BlocklistTimeout)
	blocklist.NewRefresher(queue.Client, cfg.DisposableListURL, 24*time.Hour).Start(ctx)

	resolver := lookup.NewDoHResolver(cfg.DoHEndpoint, cfg.DNSTimeout)
	prober := lookup.NewProber(cfg.HeloDomain, cfg.ProbeEmail, cfg.SMTPTimeout, cfg.SMTPPort)
	registry := validator.NewRegistry(cfg, bl, resolver, prober)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
		<-quit
		log.Info("shutdown signal received")
		cancel()
	}()

	worker.NewRunner(cfg, registry).Start(ctx)
	log.Info("worker stopped")
}
