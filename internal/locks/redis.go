package locks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	defaultTTL   = 30 * time.Second
	defaultRetry = 50 * time.Millisecond
	keyPrefix    = "lock:"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a lease-based lock on SET NX PX. A holder that outlives TTL loses
// the lease.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
	retry  time.Duration
	log    zerolog.Logger
}

// NewRedis returns a lock backed by client. Zero durations use 30s leases
// and 50ms polling.
func NewRedis(client redis.UniversalClient, ttl, retry time.Duration, log zerolog.Logger) *Redis {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if retry <= 0 {
		retry = defaultRetry
	}
	return &Redis{
		client: client,
		ttl:    ttl,
		retry:  retry,
		log:    log.With().Str("component", "redis_lock").Logger(),
	}
}

// Lock polls until the lease on key is acquired or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	name := keyPrefix + key
	token := uuid.NewString()

	t := time.NewTicker(r.retry)
	defer t.Stop()
	for {
		ok, err := r.client.SetNX(ctx, name, token, r.ttl).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, r.client, []string{name}, token).Err(); err != nil {
				r.log.Warn().Err(err).Str("key", name).Msg("lock release failed")
			}
		})
	}, nil
}
