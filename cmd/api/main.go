package main

import (
	"context"
	"net/http"
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
)

var registry *validator.Registry

func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	log := logrus.WithField("component", "api")

	cfg := config.Load()

	if err := queue.Init(cfg.RedisAddr); err != nil {
		log.WithError(err).Fatal("failed to connect to Redis")
	}
	log.WithField("addr", cfg.RedisAddr).Info("connected to Redis")

	if err := store.Init(cfg.DBURL); err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	log.Info("connected to PostgreSQL, migrations applied")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bl := blocklist.NewClient(queue.Client, cfg.BlocklistTimeout)
	blocklist.NewRefresher(queue.Client, cfg.DisposableListURL, 24*time.Hour).Start(ctx)

	resolver := lookup.NewDoHResolver(cfg.DoHEndpoint, cfg.DNSTimeout)
	prober := lookup.NewProber(cfg.HeloDomain, cfg.ProbeEmail, cfg.SMTPTimeout, cfg.SMTPPort)
	registry = validator.NewRegistry(cfg, bl, resolver, prober)

	mux := http.NewServeMux()
	mux.HandleFunc("/verify", enableCORS(requireAPIKey(verifyHandler(cfg))))
	mux.HandleFunc("/upload", enableCORS(requireAPIKey(uploadHandler)))
	mux.HandleFunc("/status", enableCORS(requireAPIKey(statusHandler)))
	mux.HandleFunc("/results", enableCORS(requireAPIKey(resultsHandler)))
	mux.HandleFunc("/info", enableCORS(infoHandler))

	server := &http.Server{
		Addr:         cfg.APIAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		log.WithField("addr", cfg.APIAddr).Info("mailprobe API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server error")
		}
	}()

	<-quit
	log.Info("shutdown signal received, draining in-flight requests")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Fatal("graceful shutdown failed")
	}
	log.Info("server shut down cleanly")
}

// enableCORS sets permissive CORS headers for browser clients. Restrict
// the origin before exposing this to the public internet.
func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}
