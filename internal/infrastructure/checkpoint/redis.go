package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/catalogsync/importer/internal/domain"
)

const keyPrefix = "catalog-import"

// NewRedisClient parses a redis:// URL and verifies the connection
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	zap.L().Info("connected to redis", zap.String("addr", opts.Addr))
	return client, nil
}

// RedisStore keeps each job's checkpoint as one JSON string value.
// A single SET replaces the value atomically.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func checkpointKey(jobID string) string {
	return fmt.Sprintf("%s:checkpoint:%s", keyPrefix, jobID)
}

func (s *RedisStore) Load(ctx context.Context, jobID string) (*domain.Checkpoint, error) {
	data, err := s.client.Get(ctx, checkpointKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCheckpointCorrupt, err)
	}
	return decode(data, jobID)
}

func (s *RedisStore) Save(ctx context.Context, cp domain.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}
	if err := s.client.Set(ctx, checkpointKey(cp.JobID), data, 0).Err(); err != nil {
		return fmt.Errorf("saving checkpoint: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, jobID string) error {
	if err := s.client.Del(ctx, checkpointKey(jobID)).Err(); err != nil {
		return fmt.Errorf("clearing checkpoint: %w", err)
	}
	return nil
}

// releaseScript deletes the lock only if it still carries our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the lock only if it still carries our token
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLock is a SET NX PX lock with an owner token and a refresh loop
type RedisLock struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisLock(client redis.UniversalClient, ttl time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisLock{client: client, ttl: ttl}
}

func lockKey(jobID string) string {
	return fmt.Sprintf("%s:lock:%s", keyPrefix, jobID)
}

// Acquire takes the lock and refreshes it at a third of the TTL. The lock is
// marked lost as soon as a refresh finds another token or no key.
func (l *RedisLock) Acquire(ctx context.Context, jobID string) (*domain.JobLock, error) {
	key := lockKey(jobID)
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobAlreadyRunning, key)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	lock := domain.NewJobLock(func() error {
		close(stop)
		<-done
		n, err := releaseScript.Run(context.Background(), l.client, []string{key}, token).Int()
		switch {
		case err != nil:
			return fmt.Errorf("releasing lock: %w", err)
		case n == 0:
			return domain.ErrLockNotHeld
		}
		return nil
	})

	go func() {
		defer close(done)
		interval := l.ttl / 3
		if interval <= 0 {
			interval = l.ttl
		}
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				n, err := refreshScript.Run(context.Background(), l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
				if err != nil {
					zap.L().Warn("job lock refresh failed", zap.String("key", key), zap.Error(err))
					continue
				}
				if n == 0 {
					zap.L().Error("job lock lost", zap.String("key", key))
					lock.MarkLost()
					return
				}
			}
		}
	}()

	return lock, nil
}
