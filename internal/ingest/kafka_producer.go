package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/driver-companion/internal/geo"
	"github.com/example/driver-companion/internal/models"
	"github.com/example/driver-companion/internal/trip"
)

// GeohashPrecision is the cell size carried on position messages (~150m).
const GeohashPrecision = 7

// PositionMessage is the value written to the position topic.
type PositionMessage struct {
	DriverID  string       `json:"driver_id"`
	Coord     models.Coord `json:"coord"`
	Geohash   string       `json:"geohash"`
	Speed     *float64     `json:"speed,omitempty"`
	Heading   *float64     `json:"heading,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// TripMessage is the value written to the trip topic.
type TripMessage struct {
	Type     trip.EventType      `json:"type"`
	DriverID string              `json:"driver_id"`
	At       time.Time           `json:"at"`
	History  *models.TripHistory `json:"history,omitempty"`
	Credited float64             `json:"credited,omitempty"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer publishes completed trips and position samples. A nil
// *KafkaProducer is valid and drops everything.
type KafkaProducer struct {
	trips     messageWriter
	positions messageWriter
	timeout   time.Duration
	logger    *slog.Logger
}

func NewKafkaProducer(brokers []string, tripTopic, positionTopic string, logger *slog.Logger) *KafkaProducer {
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{Addr: kafka.TCP(brokers...), Topic: topic, Balancer: &kafka.Hash{}}
	}
	return newKafkaProducer(newWriter(tripTopic), newWriter(positionTopic), logger)
}

func newKafkaProducer(trips, positions messageWriter, logger *slog.Logger) *KafkaProducer {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaProducer{trips: trips, positions: positions, timeout: 2 * time.Second, logger: logger}
}

// Publish forwards completed trips and credited tips to the trip topic.
// Other session events are not part of the stream.
func (k *KafkaProducer) Publish(ctx context.Context, ev trip.Event) {
	if k == nil {
		return
	}
	switch ev.Type {
	case trip.EventTripCompleted, trip.EventFeedbackAttached:
	default:
		return
	}
	msg := TripMessage{Type: ev.Type, DriverID: ev.DriverID, At: ev.At, History: ev.History, Credited: ev.Credited}
	key := ev.DriverID
	if ev.History != nil {
		key = ev.History.ID
	}
	if err := k.write(ctx, k.trips, key, msg); err != nil {
		k.logger.Warn("publish trip event failed", "type", ev.Type, "error", err)
	}
}

// PublishPosition writes one sample keyed by driver id.
func (k *KafkaProducer) PublishPosition(ctx context.Context, driverID string, s models.GPSSample) error {
	if k == nil {
		return nil
	}
	msg := PositionMessage{
		DriverID:  driverID,
		Coord:     s.Coord,
		Geohash:   geo.Geohash(s.Coord, GeohashPrecision),
		Speed:     s.Speed,
		Heading:   s.Heading,
		Timestamp: s.Timestamp,
	}
	return k.write(ctx, k.positions, driverID, msg)
}

func (k *KafkaProducer) write(ctx context.Context, w messageWriter, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	return w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b})
}

func (k *KafkaProducer) Close() error {
	if k == nil {
		return nil
	}
	var firstErr error
	for _, w := range []messageWriter{k.trips, k.positions} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
