package cache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/mohammadpnp/contact-import/internal/domain/importing"
	"github.com/mohammadpnp/contact-import/internal/infrastructure/cache"
	"github.com/mohammadpnp/contact-import/internal/logging"
)

type stubLoader struct {
	calls atomic.Int32
	names []string
	err   error
}

func (l *stubLoader) ListContactProperties(ctx context.Context) ([]string, error) {
	l.calls.Add(1)
	return l.names, l.err
}

type stubStore struct {
	mu    sync.Mutex
	names []string
}

func (s *stubStore) Load(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.names, nil
}

func (s *stubStore) Save(ctx context.Context, names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = append([]string(nil), names...)
	return nil
}

type authFailure struct{}

func (authFailure) Error() string   { return "unauthorized" }
func (authFailure) StatusCode() int { return 401 }

func TestPropertiesCacheRedisHitAndInvalidate(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	loader := &stubLoader{names: []string{"email", "firstname"}}
	store := &stubStore{}
	c := cache.NewPropertiesCache(cache.Options{
		Backend: cache.NewRedisBackend(client, "test:props"),
		Loader:  loader,
		Store:   store,
		TTL:     time.Minute,
		Logger:  logging.Discard(),
	})
	ctx := context.Background()

	props, err := c.ContactProperties(ctx)
	require.NoError(t, err)
	assert.Contains(t, props, "firstname")

	_, err = c.ContactProperties(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, loader.calls.Load(), "second read must hit redis")
	assert.Equal(t, []string{"email", "firstname"}, store.names)
	assert.True(t, mr.Exists("test:props"))

	mr.FastForward(2 * time.Minute)
	_, err = c.ContactProperties(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, loader.calls.Load(), "expired entry must reload")

	require.NoError(t, c.Invalidate(ctx))
	assert.False(t, mr.Exists("test:props"))
	_, err = c.ContactProperties(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, loader.calls.Load())
}

func TestPropertiesCacheFallsBackToStore(t *testing.T) {
	loader := &stubLoader{err: errors.New("connection refused")}
	store := &stubStore{names: []string{"email", "company"}}
	c := cache.NewPropertiesCache(cache.Options{Loader: loader, Store: store, Logger: logging.Discard()})

	props, err := c.ContactProperties(context.Background())
	require.NoError(t, err)
	assert.Contains(t, props, "company")
}

func TestPropertiesCacheColdWithoutFallback(t *testing.T) {
	loader := &stubLoader{err: errors.New("connection refused")}
	c := cache.NewPropertiesCache(cache.Options{Loader: loader, Store: &stubStore{}, Logger: logging.Discard()})

	_, err := c.ContactProperties(context.Background())
	assert.ErrorIs(t, err, domain.ErrPropertiesNotFound)
}

func TestPropertiesCacheAuthErrorPropagates(t *testing.T) {
	loader := &stubLoader{err: authFailure{}}
	store := &stubStore{names: []string{"email"}}
	c := cache.NewPropertiesCache(cache.Options{Loader: loader, Store: store, Logger: logging.Discard()})

	_, err := c.ContactProperties(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsAuthError(err))
}

func TestMemoryBackendExpires(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := cache.NewMemoryBackend(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, []string{"email"}, time.Minute))
	_, ok, err := b.Get(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(time.Minute)
	_, ok, err = b.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}
