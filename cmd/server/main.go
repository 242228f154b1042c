package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/twmb/franz-go/pkg/kgo"

	"fieldtrack/internal/bus"
	"fieldtrack/internal/ledger"
	"fieldtrack/internal/location"
	"fieldtrack/internal/platform/config"
	"fieldtrack/internal/platform/httpserver"
	"fieldtrack/internal/platform/logger"
	"fieldtrack/internal/platform/metrics"
	platformredis "fieldtrack/internal/platform/redis"
	"fieldtrack/internal/reconciler"
	"fieldtrack/internal/session"
	"fieldtrack/internal/storage"
	"fieldtrack/internal/storage/postgres"
	"fieldtrack/internal/stream"
	httptransport "fieldtrack/internal/transport/http"
)

// main wires the core services together and keeps the server lifecycle
// small. Business logic lives in the internal service packages; every
// external dependency (postgres, redis, kafka) is optional and degrades to
// an in-process default.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openVisitStore(ctx, cfg, log)
	if err != nil {
		log.Error("visit store init failed", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	registry := location.NewInMemoryRegistry()
	feed := bus.New(cfg.BusBuffer, log, m)
	led := ledger.NewService(store, registry, feed, log, m)

	tokens, closeTokens, err := openTokenStore(cfg, log)
	if err != nil {
		log.Error("token store init failed", "error", err)
		os.Exit(1)
	}
	defer closeTokens()

	rec := reconciler.NewService(led, tokens, log, m, cfg.DedupeTTL, cfg.EventTimeout)

	tracker := session.NewTracker(led, log, m)
	go func() {
		if err := tracker.Follow(ctx, feed); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("session tracker stopped", "error", err)
		}
	}()

	if cfg.Kafka.Brokers != "" {
		producer, err := kgo.NewClient(
			kgo.SeedBrokers(strings.Split(cfg.Kafka.Brokers, ",")...),
			kgo.DefaultProduceTopic(cfg.Kafka.Topic),
		)
		if err != nil {
			log.Error("kafka client init failed", "error", err)
			os.Exit(1)
		}
		defer producer.Close()

		relay := stream.NewRelay(producer, cfg.Kafka.Topic, log, m)
		go func() {
			if err := relay.Run(ctx, feed.Subscribe()); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("transition relay stopped", "error", err)
			}
		}()
		log.Info("transition relay enabled", "topic", cfg.Kafka.Topic)
	}

	handler := httptransport.NewHandler(rec, led, tracker, registry, log)
	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(handler, log))

	go func() {
		log.Info("starting fieldtrack", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}

// openVisitStore picks postgres when a DSN is configured, in-memory
// otherwise.
func openVisitStore(ctx context.Context, cfg config.Config, log *slog.Logger) (storage.VisitStore, func(), error) {
	if cfg.PostgresDSN == "" {
		log.Info("using in-memory visit store")
		return storage.NewInMemoryVisitStore(), func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}

	store := postgres.New(db)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	log.Info("using postgres visit store")
	return store, func() { db.Close() }, nil
}

// openTokenStore picks redis when configured, in-memory otherwise.
func openTokenStore(cfg config.Config, log *slog.Logger) (reconciler.TokenStore, func(), error) {
	client, err := platformredis.New(cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	if client == nil {
		log.Info("using in-memory dedupe store")
		return reconciler.NewInMemoryTokenStore(), func() {}, nil
	}
	log.Info("using redis dedupe store")
	return reconciler.NewRedisTokenStore(client.Client), func() { client.Close() }, nil
}
