package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/driver-companion/internal/clock"
	"github.com/example/driver-companion/internal/config"
	"github.com/example/driver-companion/internal/dispatch"
	httpapi "github.com/example/driver-companion/internal/http"
	"github.com/example/driver-companion/internal/ingest"
	"github.com/example/driver-companion/internal/logging"
	"github.com/example/driver-companion/internal/models"
	"github.com/example/driver-companion/internal/navigation"
	"github.com/example/driver-companion/internal/observability"
	"github.com/example/driver-companion/internal/requests"
	"github.com/example/driver-companion/internal/storage"
	"github.com/example/driver-companion/internal/tracking"
	"github.com/example/driver-companion/internal/trip"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	repo := storage.NewRepository(store)

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	base := models.Coord{Lat: cfg.BaseLat, Lng: cfg.BaseLng}
	clk := clock.Real{}

	var producer *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		producer = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTripTopic, cfg.KafkaPositionTopic, logging.Component(logger, "kafka"))
		logger.Info("kafka publishing enabled", "brokers", cfg.KafkaBrokers, "trip_topic", cfg.KafkaTripTopic, "position_topic", cfg.KafkaPositionTopic)
	}
	defer func() {
		if err := producer.Close(); err != nil {
			logger.Warn("close kafka producer", "error", err)
		}
	}()

	hub := dispatch.NewHub(logging.Component(logger, "ws"))
	defer hub.Close()

	sinks := trip.Sinks{observability.SessionRecorder{}, hub}
	if producer != nil {
		sinks = append(sinks, producer)
	}
	if cfg.PushWebhookURL != "" {
		sinks = append(sinks, dispatch.NewPushNotifier(cfg.PushWebhookURL, repo, logging.Component(logger, "push")))
	}

	genCfg := requests.DefaultConfig()
	genCfg.Probability = cfg.RequestProbability
	genCfg.Base = base
	session, err := trip.NewSession(ctx, trip.Config{
		RequestInterval: cfg.RequestInterval,
		Countdown:       cfg.RequestCountdown,
	}, trip.Deps{
		Clock:     clk,
		Generator: requests.NewGenerator(genCfg, rand.New(rand.NewSource(seed))),
		Repo:      repo,
		Sink:      sinks,
		Logger:    logging.Component(logger, "session"),
	})
	if err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	defer session.Close()

	sim := tracking.NewSimulator(clk, base, cfg.TrackingInterval, rand.New(rand.NewSource(seed+1)))
	tracker := tracking.NewTracker(sim, repo, cfg.PositionHistoryCap, logging.Component(logger, "tracking"))
	current, history, err := repo.LoadPositions(ctx)
	if err != nil {
		logger.Warn("restore positions failed", "error", err)
	} else {
		tracker.Restore(current, history)
	}
	defer tracker.Stop()

	navCfg := navigation.Config{
		SpeedKmh:         cfg.AssumedSpeedKmh,
		ArrivalThreshold: cfg.ArrivalThresholdMeters,
		VoiceThreshold:   cfg.VoiceLegThresholdMeters,
	}
	api := httpapi.NewServer(httpapi.Deps{
		Session:   session,
		Tracker:   tracker,
		Navigator: navigation.NewEstimator(navCfg, clk, rand.New(rand.NewSource(seed+2))),
		Announcer: navigation.NewAnnouncer(navCfg.VoiceThreshold),
		Settings:  repo,
		Hub:       hub,
		Positions: producer,
		Logger:    logging.Component(logger, "http"),
	})
	tracker.Subscribe(api.OnPosition)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("driver companion listening", "addr", cfg.HTTPAddr, "store", cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openStore selects the key-value backend named by the configuration.
func openStore(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (storage.Store, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendRedis:
		rs := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisPrefix)
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close()
			return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		return rs, func() { _ = rs.Close() }, nil
	case config.BackendPostgres:
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if cfg.RunMigrations {
			if err := ps.Migrate(ctx); err != nil {
				_ = ps.Close()
				return nil, nil, err
			}
			logger.Info("migration applied", "table", "kv_store")
		}
		return ps, func() { _ = ps.Close() }, nil
	default:
		return storage.NewMemoryStore(), func() {}, nil
	}
}
