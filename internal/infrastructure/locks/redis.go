package locks

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/rueidis"
)

// releaseScript deletes the lock only when the caller still owns it, so a
// lock that expired and was re-acquired elsewhere is never released by the
// old holder.
var releaseScript = rueidis.NewLuaScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements the sync lock on Redis with SET NX PX, for
// deployments running more than one sync instance.
type RedisLocker struct {
	client rueidis.Client
	prefix string
}

func NewRedisLocker(addr, password string) (*RedisLocker, error) {
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{addr},
		Password:    password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &RedisLocker{client: client, prefix: "ledgerline:lock:"}, nil
}

// Acquire takes the lock with SET NX PX. acquired=false means another
// instance holds it.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	fullKey := l.prefix + key
	token := uuid.NewString()

	cmd := l.client.B().Set().Key(fullKey).Value(token).Nx().Px(ttl).Build()
	if err := l.client.Do(ctx, cmd).Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}

	release := func() {
		// Release must not inherit the sync's (possibly expired) context.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Exec(rctx, l.client, []string{fullKey}, []string{token}).Error(); err != nil {
			log.Printf("Failed to release lock %s: %v", key, err)
		}
	}
	return release, true, nil
}

func (l *RedisLocker) Close() {
	l.client.Close()
}
