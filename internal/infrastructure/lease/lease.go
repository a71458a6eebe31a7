package lease

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	domain "github.com/mohammadpnp/contact-import/internal/domain/importing"
	"github.com/mohammadpnp/contact-import/internal/logging"
)

// MemoryLease grants at most one holder per session inside this process.
type MemoryLease struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryLease() *MemoryLease {
	return &MemoryLease{held: map[string]struct{}{}}
}

func (l *MemoryLease) Acquire(ctx context.Context, sessionID string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[sessionID]; busy {
		return nil, fmt.Errorf("%w: %s", domain.ErrSyncInProgress, sessionID)
	}
	l.held[sessionID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, sessionID)
			l.mu.Unlock()
		})
	}, nil
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

type RedisLeaseConfig struct {
	Prefix            string
	TTL               time.Duration
	HeartbeatInterval time.Duration
}

// RedisLease grants one holder per session across processes with SET NX PX.
// A held lease is extended on every heartbeat until released.
type RedisLease struct {
	client *redis.Client
	cfg    RedisLeaseConfig
	logger *slog.Logger
}

func NewRedisLease(client *redis.Client, cfg RedisLeaseConfig, logger *slog.Logger) *RedisLease {
	cfg.Prefix = strings.TrimSpace(cfg.Prefix)
	if cfg.Prefix == "" {
		cfg.Prefix = "contact-import:lease"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 60 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = cfg.TTL / 3
	}
	return &RedisLease{client: client, cfg: cfg, logger: logging.OrDefault(logger)}
}

func (l *RedisLease) key(sessionID string) string {
	return l.cfg.Prefix + ":" + sessionID
}

func (l *RedisLease) Acquire(ctx context.Context, sessionID string) (func(), error) {
	key := l.key(sessionID)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.cfg.TTL).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSyncInProgress, sessionID)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.heartbeat(key, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil {
				l.logger.Warn("release session lease failed", "key", key, "err", err)
			}
		})
	}, nil
}

func (l *RedisLease) heartbeat(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			extended, err := extendScript.Run(ctx, l.client, []string{key}, token, l.cfg.TTL.Milliseconds()).Int64()
			cancel()
			if err != nil {
				l.logger.Warn("extend session lease failed", "key", key, "err", err)
				continue
			}
			if extended == 0 {
				l.logger.Error("session lease lost", "key", key)
				return
			}
		}
	}
}
