package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the driver session
// process. Values are loaded from environment variables with defaults that
// reproduce the simulated app so the binary runs without any setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RequestInterval    time.Duration
	RequestProbability float64
	RequestCountdown   time.Duration
	BaseLat            float64
	BaseLng            float64
	Seed               int64

	AssumedSpeedKmh         float64
	ArrivalThresholdMeters  float64
	VoiceLegThresholdMeters float64

	PositionHistoryCap int
	TrackingInterval   time.Duration

	StoreBackend  string
	RedisAddr     string
	RedisPassword string
	RedisPrefix   string
	PGDSN         string

	KafkaBrokers       []string
	KafkaTripTopic     string
	KafkaPositionTopic string

	PushWebhookURL string

	LogLevel      string
	RunMigrations bool
}

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,

		RequestInterval:    10 * time.Second,
		RequestProbability: 0.3,
		RequestCountdown:   30 * time.Second,
		BaseLat:            40.7128,
		BaseLng:            -74.0060,

		AssumedSpeedKmh:         30,
		ArrivalThresholdMeters:  50,
		VoiceLegThresholdMeters: 500,

		PositionHistoryCap: 100,
		TrackingInterval:   2 * time.Second,

		StoreBackend:       BackendMemory,
		RedisPrefix:        "driver:",
		KafkaTripTopic:     "trip-events",
		KafkaPositionTopic: "driver-positions",
		LogLevel:           "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setDurationFromEnv(&cfg.RequestInterval, "REQUEST_INTERVAL", &errs)
	setFloatFromEnv(&cfg.RequestProbability, "REQUEST_PROBABILITY", &errs)
	setDurationFromEnv(&cfg.RequestCountdown, "REQUEST_COUNTDOWN", &errs)
	setFloatFromEnv(&cfg.BaseLat, "BASE_LAT", &errs)
	setFloatFromEnv(&cfg.BaseLng, "BASE_LNG", &errs)
	setInt64FromEnv(&cfg.Seed, "SIM_SEED", &errs)

	setFloatFromEnv(&cfg.AssumedSpeedKmh, "NAV_SPEED_KMH", &errs)
	setFloatFromEnv(&cfg.ArrivalThresholdMeters, "NAV_ARRIVAL_THRESHOLD_M", &errs)
	setFloatFromEnv(&cfg.VoiceLegThresholdMeters, "NAV_VOICE_THRESHOLD_M", &errs)

	setIntFromEnv(&cfg.PositionHistoryCap, "POSITION_HISTORY_CAP", &errs)
	setDurationFromEnv(&cfg.TrackingInterval, "TRACKING_INTERVAL", &errs)

	if v := os.Getenv("STORE_BACKEND"); v != "" {
		cfg.StoreBackend = strings.ToLower(strings.TrimSpace(v))
	}
	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisPrefix, "REDIS_PREFIX")
	cfg.PGDSN = os.Getenv("PG_DSN")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTripTopic, "KAFKA_TRIP_TOPIC")
	setStringFromEnv(&cfg.KafkaPositionTopic, "KAFKA_POSITION_TOPIC")
	cfg.PushWebhookURL = strings.TrimSpace(os.Getenv("PUSH_WEBHOOK_URL"))

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	errs = append(errs, cfg.validate()...)
	return cfg, errors.Join(errs...)
}

func (c ServerConfig) validate() []error {
	var errs []error
	if c.RequestProbability < 0 || c.RequestProbability > 1 {
		errs = append(errs, fmt.Errorf("REQUEST_PROBABILITY must be within [0,1]"))
	}
	if c.RequestInterval <= 0 {
		errs = append(errs, fmt.Errorf("REQUEST_INTERVAL must be > 0"))
	}
	if c.RequestCountdown <= 0 {
		errs = append(errs, fmt.Errorf("REQUEST_COUNTDOWN must be > 0"))
	}
	if c.TrackingInterval <= 0 {
		errs = append(errs, fmt.Errorf("TRACKING_INTERVAL must be > 0"))
	}
	if c.AssumedSpeedKmh <= 0 {
		errs = append(errs, fmt.Errorf("NAV_SPEED_KMH must be > 0"))
	}
	if c.PositionHistoryCap <= 0 {
		errs = append(errs, fmt.Errorf("POSITION_HISTORY_CAP must be > 0"))
	}
	switch c.StoreBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisAddr == "" {
			errs = append(errs, fmt.Errorf("REDIS_ADDR is required for the redis backend"))
		}
	case BackendPostgres:
		if c.PGDSN == "" {
			errs = append(errs, fmt.Errorf("PG_DSN is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}
	return errs
}

// ConsumerConfig configures the position mirror consumer.
type ConsumerConfig struct {
	MetricsAddr   string
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaGroup    string
	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string
	LogLevel      string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		MetricsAddr:  ":2112",
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "driver-positions",
		KafkaGroup:   "driver-position-mirror",
		RedisAddr:    "localhost:6379",
		RedisGeoKey:  "drivers_geo",
		LogLevel:     "info",
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_POSITION_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if len(cfg.KafkaBrokers) == 0 {
		return cfg, fmt.Errorf("KAFKA_BROKERS must list at least one broker")
	}
	return cfg, nil
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setInt64FromEnv(target *int64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
