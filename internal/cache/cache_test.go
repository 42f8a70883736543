package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskmarket/internal/domain"
)

const testRedisAddr = "localhost:6379"

type memStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	failGet error
}

func newMemStore() *memStore {
	return &memStore{data: map[string][]byte{}}
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet != nil {
		return nil, false, m.failGet
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memStore) Set(_ context.Context, key string, data []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = data
	return nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func countingLoader(calls *int32, skills []domain.Skill) func(context.Context) ([]domain.Skill, error) {
	return func(context.Context) ([]domain.Skill, error) {
		atomic.AddInt32(calls, 1)
		return skills, nil
	}
}

var testSkills = []domain.Skill{{ID: "1", Code: "gardening", Title: "Gardening"}, {ID: "2", Code: "cleaning", Title: "Cleaning"}}

func TestCatalogCachesUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	c := NewCatalog(newMemStore(), time.Minute, nil)
	var calls int32
	load := countingLoader(&calls, testSkills)

	got, err := c.List(ctx, load)
	require.NoError(t, err)
	assert.Equal(t, testSkills, got)

	got, err = c.List(ctx, load)
	require.NoError(t, err)
	assert.Equal(t, testSkills, got)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "second list should be served from the cache")

	require.NoError(t, c.Invalidate(ctx))
	_, err = c.List(ctx, load)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestCatalogFallsBackOnStoreError(t *testing.T) {
	store := newMemStore()
	store.failGet = errors.New("connection refused")
	c := NewCatalog(store, time.Minute, nil)
	var calls int32

	got, err := c.List(context.Background(), countingLoader(&calls, testSkills))
	require.NoError(t, err)
	assert.Equal(t, testSkills, got)
	assert.Equal(t, int32(1), calls)
}

func TestCatalogPropagatesLoadError(t *testing.T) {
	c := NewCatalog(newMemStore(), time.Minute, nil)
	boom := errors.New("db closed")
	_, err := c.List(context.Background(), func(context.Context) ([]domain.Skill, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
}

func TestCatalogReloadsUnreadableEntry(t *testing.T) {
	store := newMemStore()
	store.data[skillsKey] = []byte("{not json")
	c := NewCatalog(store, time.Minute, nil)
	var calls int32

	got, err := c.List(context.Background(), countingLoader(&calls, testSkills))
	require.NoError(t, err)
	assert.Equal(t, testSkills, got)
	assert.Equal(t, int32(1), calls)
}

func setupRedis(t *testing.T, prefix string) *Redis {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: testRedisAddr})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("Redis not available at %s: %v", testRedisAddr, err)
	}
	r := NewRedis(client, prefix)
	t.Cleanup(func() {
		_ = r.Delete(ctx, skillsKey)
		r.Close()
	})
	return r
}

func TestRedisStore(t *testing.T) {
	r := setupRedis(t, "taskmarket-test:")
	ctx := context.Background()

	_, ok, err := r.Get(ctx, skillsKey)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.Set(ctx, skillsKey, []byte(`[]`), time.Minute))
	data, ok, err := r.Get(ctx, skillsKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte(`[]`), data)

	require.NoError(t, r.Delete(ctx, skillsKey))
	_, ok, err = r.Get(ctx, skillsKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCatalog(t *testing.T) {
	r := setupRedis(t, "taskmarket-test:")
	ctx := context.Background()
	require.NoError(t, r.Delete(ctx, skillsKey))

	c := NewCatalog(r, time.Minute, nil)
	var calls int32
	load := countingLoader(&calls, testSkills)
	for i := 0; i < 3; i++ {
		got, err := c.List(ctx, load)
		require.NoError(t, err)
		assert.Equal(t, testSkills, got)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
