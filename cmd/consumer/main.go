package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/driver-companion/internal/config"
	"github.com/example/driver-companion/internal/ingest"
	"github.com/example/driver-companion/internal/logging"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total driver position messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	redisUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_updates_total",
		Help: "Total successful redis updates",
	})
	redisErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_errors_total",
		Help: "Total redis errors",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, redisUpdates, redisErrors)
}

func main() {
	cfg, err := config.LoadConsumerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.Component(logging.NewLogger(cfg.LogLevel), "position-mirror")

	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	mirror := &positionMirror{rc: &redisAdapter{c: rc}, geoKey: cfg.RedisGeoKey, attempts: 3, delay: 200 * time.Millisecond}

	go serveMetrics(cfg.MetricsAddr, rc, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, GroupID: cfg.KafkaGroup, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	logger.Info("consumer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff.String())
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		msgsConsumed.Inc()

		if err := mirror.handle(ctx, m.Value); err != nil {
			var invalid *invalidMessageError
			if errors.As(err, &invalid) {
				msgsInvalid.Inc()
				logger.Warn("invalid message", "offset", m.Offset, "error", err)
				continue
			}
			redisErrors.Inc()
			logger.Error("redis update failed", "key", string(m.Key), "error", err)
			continue
		}
		redisUpdates.Inc()
	}
}

func serveMetrics(addr string, rc *redis.Client, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := rc.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	logger.Info("metrics/health listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}

type invalidMessageError struct{ err error }

func (e *invalidMessageError) Error() string { return "invalid position message: " + e.err.Error() }
func (e *invalidMessageError) Unwrap() error { return e.err }

// positionMirror keeps the latest published position of each driver in Redis.
type positionMirror struct {
	rc       RedisUpdater
	geoKey   string
	attempts int
	delay    time.Duration
}

func (p *positionMirror) handle(ctx context.Context, value []byte) error {
	var msg ingest.PositionMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return &invalidMessageError{err}
	}
	if msg.DriverID == "" {
		return &invalidMessageError{errors.New("missing driver_id")}
	}
	if msg.Coord.Lat < -85.05112878 || msg.Coord.Lat > 85.05112878 || msg.Coord.Lng < -180 || msg.Coord.Lng > 180 {
		return &invalidMessageError{fmt.Errorf("coordinate %v outside geo index range", msg.Coord)}
	}
	return updateRedisWithRetry(ctx, p.rc, p.geoKey, &msg, p.attempts, p.delay)
}

// RedisUpdater defines the small subset of redis operations we need for tests and production.
type RedisUpdater interface {
	GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error
	HSet(ctx context.Context, key string, values map[string]interface{}) error
}

type redisAdapter struct{ c *redis.Client }

func (r *redisAdapter) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	_, err := r.c.GeoAdd(ctx, key, loc).Result()
	return err
}

func (r *redisAdapter) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	_, err := r.c.HSet(ctx, key, values).Result()
	return err
}

func metaKey(driverID string) string { return "driver:position:" + driverID }

// updateRedisWithRetry writes the position into the geo set and the
// driver's meta hash, retrying each step with doubling delay.
func updateRedisWithRetry(ctx context.Context, rc RedisUpdater, geoKey string, msg *ingest.PositionMessage, attempts int, delay time.Duration) error {
	meta := map[string]interface{}{
		"lat":       msg.Coord.Lat,
		"lng":       msg.Coord.Lng,
		"geohash":   msg.Geohash,
		"timestamp": msg.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if msg.Speed != nil {
		meta["speed"] = *msg.Speed
	}
	if msg.Heading != nil {
		meta["heading"] = *msg.Heading
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = rc.GeoAdd(ctx, geoKey, &redis.GeoLocation{Longitude: msg.Coord.Lng, Latitude: msg.Coord.Lat, Name: msg.DriverID})
		if err == nil {
			err = rc.HSet(ctx, metaKey(msg.DriverID), meta)
		}
		if err == nil {
			return nil
		}
		if i < attempts-1 && !sleepCtx(ctx, delay) {
			return ctx.Err()
		}
		delay *= 2
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
