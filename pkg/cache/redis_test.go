package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()})), mr
}

func TestLockIsExclusiveUntilReleased(t *testing.T) {
	ctx := context.Background()
	rc, mr := newTestCache(t)

	unlock, err := rc.Lock(ctx, "job:settle", time.Minute)
	require.NoError(t, err)

	_, err = rc.Lock(ctx, "job:settle", time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("job:settle"))

	unlock, err = rc.Lock(ctx, "job:settle", time.Minute)
	require.NoError(t, err)
	require.NoError(t, unlock(ctx))
}

func TestLockReleaseKeepsForeignOwner(t *testing.T) {
	ctx := context.Background()
	rc, mr := newTestCache(t)

	unlock, err := rc.Lock(ctx, "job:release", time.Second)
	require.NoError(t, err)

	// 锁过期后被其它实例拿走，原持有者释放时不能删掉别人的锁
	mr.FastForward(2 * time.Second)
	other, err := rc.Lock(ctx, "job:release", time.Minute)
	require.NoError(t, err)

	require.NoError(t, unlock(ctx))
	assert.True(t, mr.Exists("job:release"))
	require.NoError(t, other(ctx))
	assert.False(t, mr.Exists("job:release"))
}

func TestJSONRoundTrip(t *testing.T) {
	ctx := context.Background()
	rc, _ := newTestCache(t)

	type entry struct {
		Version int    `json:"version"`
		Note    string `json:"note"`
	}
	var got entry
	hit, err := rc.GetJSON(ctx, "missing", &got)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, rc.SetJSON(ctx, "k", entry{Version: 2, Note: "x"}, time.Minute))
	hit, err = rc.GetJSON(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, entry{Version: 2, Note: "x"}, got)

	require.NoError(t, rc.Delete(ctx, "k"))
	hit, err = rc.GetJSON(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}
