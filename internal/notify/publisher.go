// Package notify delivers payment notifications to real-time subscribers.
// RedisPublisher fans events out over Redis Pub/Sub; LogPublisher only logs
// them and is used when Redis is not configured.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-payments-backend/internal/services"
)

var published = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "payment_notifications_total",
		Help: "Payment notifications by publisher and result.",
	},
	[]string{"publisher", "result"},
)

func init() { prometheus.MustRegister(published) }

// RedisPublisher publishes JSON events on a Redis channel named after the
// topic.
type RedisPublisher struct {
	client redis.UniversalClient
	log    zerolog.Logger
}

// NewRedisPublisher returns a publisher backed by client.
func NewRedisPublisher(client redis.UniversalClient, log zerolog.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, log: log.With().Str("component", "notify").Logger()}
}

// Publish sends event to topic. Having no subscribers is not an error.
func (p *RedisPublisher) Publish(ctx context.Context, topic string, event services.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	n, err := p.client.Publish(ctx, topic, payload).Result()
	if err != nil {
		published.WithLabelValues("redis", "error").Inc()
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	published.WithLabelValues("redis", "ok").Inc()
	p.log.Debug().
		Str("topic", topic).
		Str("transaction_id", event.TransactionID).
		Int64("receivers", n).
		Msg("notification published")
	return nil
}

// LogPublisher writes events to the log.
type LogPublisher struct {
	Log zerolog.Logger
}

// Publish logs event and never fails.
func (p LogPublisher) Publish(_ context.Context, topic string, event services.Event) error {
	published.WithLabelValues("log", "ok").Inc()
	p.Log.Info().
		Str("topic", topic).
		Str("type", event.Type).
		Str("transaction_id", event.TransactionID).
		Str("status", event.Status).
		Str("amount", event.Amount).
		Msg(event.Message)
	return nil
}
