package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	mr := miniredis.RunT(t)
	c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { c.Close() })
	return mr, NewRedisStore(c, "hospadmin:")
}

func TestRedisStore_SetGet(t *testing.T) {
	mr, s := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "complaints:list", []byte(`[{"id":1}]`), time.Minute))

	got, err := s.Get(ctx, "complaints:list")
	require.NoError(t, err)
	assert.Equal(t, `[{"id":1}]`, string(got))
	assert.True(t, mr.Exists("hospadmin:complaints:list"))
}

func TestRedisStore_MissAndExpiry(t *testing.T) {
	mr, s := setupRedis(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "feedback:list")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, s.Set(ctx, "feedback:list", []byte("x"), time.Second))
	mr.FastForward(2 * time.Second)

	_, err = s.Get(ctx, "feedback:list")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedisStore_Delete(t *testing.T) {
	_, s := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, s.Set(ctx, "b", []byte("2"), time.Minute))
	require.NoError(t, s.Delete(ctx, "a", "b"))
	require.NoError(t, s.Delete(ctx))

	_, err := s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrMiss)
	_, err = s.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedisStore_BackendError(t *testing.T) {
	mr, s := setupRedis(t)
	mr.Close()

	_, err := s.Get(context.Background(), "a")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMiss)
}

func TestDial(t *testing.T) {
	mr := miniredis.RunT(t)

	c, err := Dial(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	c.Close()

	_, err = Dial(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestMemoryStore_Expiry(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))

	now = now.Add(2 * time.Minute)
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryStore_Delete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, s.Delete(ctx, "k", "missing"))

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestNoop(t *testing.T) {
	var s Store = Noop{}
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestJSONHelpers(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var out []int
	assert.ErrorIs(t, GetJSON(ctx, s, "ids", &out), ErrMiss)

	require.NoError(t, SetJSON(ctx, s, "ids", []int{3, 2, 1}, time.Minute))
	require.NoError(t, GetJSON(ctx, s, "ids", &out))
	assert.Equal(t, []int{3, 2, 1}, out)

	require.NoError(t, s.Set(ctx, "bad", []byte("{"), time.Minute))
	assert.Error(t, GetJSON(ctx, s, "bad", &out))
}

func TestGeneration(t *testing.T) {
	_, redisStore := setupRedis(t)
	stores := map[string]Store{"redis": redisStore, "memory": NewMemoryStore()}
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			gen, err := s.Generation(ctx, "feedback:gen")
			require.NoError(t, err)
			assert.Equal(t, int64(0), gen)

			key, err := VersionedKey(ctx, s, "feedback:gen", "feedback:list")
			require.NoError(t, err)
			assert.Equal(t, "feedback:list:0", key)

			n, err := s.Bump(ctx, "feedback:gen")
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			next, err := VersionedKey(ctx, s, "feedback:gen", "feedback:list")
			require.NoError(t, err)
			assert.Equal(t, "feedback:list:1", next)
		})
	}
}

func TestGeneration_BackendError(t *testing.T) {
	mr, s := setupRedis(t)
	mr.Close()

	_, err := VersionedKey(context.Background(), s, "gen", "list")
	assert.Error(t, err)
	_, err = s.Bump(context.Background(), "gen")
	assert.Error(t, err)
}
