// Package cache wraps the go-redis client shared by the distributed lock and
// the notification publisher.
package cache

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Config defines connection parameters for Redis.
type Config struct {
	Addr     string
	Password string
	DB       int
	UseTLS   bool
}

// Enabled reports whether an address is configured.
func (c Config) Enabled() bool { return c.Addr != "" }

// Redis wraps a go-redis client with logging helpers.
type Redis struct {
	client *redis.Client
	log    zerolog.Logger
}

// New returns a Redis client based on the provided configuration. It does not
// dial; call Ping to verify connectivity.
func New(cfg Config, log zerolog.Logger) *Redis {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.UseTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return &Redis{
		client: redis.NewClient(opts),
		log:    log.With().Str("component", "redis").Logger(),
	}
}

// Client exposes the underlying go-redis client.
func (r *Redis) Client() *redis.Client { return r.client }

// Ping verifies Redis connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close releases Redis resources.
func (r *Redis) Close() error {
	if err := r.client.Close(); err != nil {
		r.log.Warn().Err(err).Msg("redis close")
		return err
	}
	return nil
}
