package lease_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	domain "github.com/mohammadpnp/contact-import/internal/domain/importing"
	"github.com/mohammadpnp/contact-import/internal/infrastructure/lease"
	"github.com/mohammadpnp/contact-import/internal/logging"
)

type acquirer interface {
	Acquire(ctx context.Context, sessionID string) (func(), error)
}

func assertSingleFlight(t *testing.T, l acquirer) {
	t.Helper()
	ctx := context.Background()

	release, err := l.Acquire(ctx, "s-1")
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if _, err := l.Acquire(ctx, "s-1"); !errors.Is(err, domain.ErrSyncInProgress) {
		t.Fatalf("expected ErrSyncInProgress, got %v", err)
	}
	other, err := l.Acquire(ctx, "s-2")
	if err != nil {
		t.Fatalf("other session must not be blocked: %v", err)
	}
	other()

	release()
	release()
	again, err := l.Acquire(ctx, "s-1")
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	again()
}

func TestMemoryLeaseSingleFlight(t *testing.T) {
	t.Parallel()
	assertSingleFlight(t, lease.NewMemoryLease())
}

func TestRedisLeaseSingleFlight(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	assertSingleFlight(t, lease.NewRedisLease(client, lease.RedisLeaseConfig{TTL: time.Minute}, logging.Discard()))
}

func TestRedisLeaseSetsTTL(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l := lease.NewRedisLease(client, lease.RedisLeaseConfig{Prefix: "test", TTL: 30 * time.Second}, logging.Discard())
	release, err := l.Acquire(context.Background(), "s-9")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	if ttl := srv.TTL("test:s-9"); ttl <= 0 || ttl > 30*time.Second {
		t.Fatalf("unexpected lease ttl %v", ttl)
	}
	srv.FastForward(31 * time.Second)
	if srv.Exists("test:s-9") {
		t.Fatal("lease must expire when its holder stops extending it")
	}
}
