package rediscache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/feedpulse/internal/domain"
)

func testCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()})), mr
}

func TestGetSetJSON(t *testing.T) {
	c, _ := testCache(t)
	ctx := context.Background()

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	require.NoError(t, c.SetJSON(ctx, "k1", payload{Name: "x", Count: 3}, time.Minute))

	var got payload
	require.NoError(t, c.GetJSON(ctx, "k1", &got))
	assert.Equal(t, payload{Name: "x", Count: 3}, got)
}

func TestGetJSONMiss(t *testing.T) {
	c, _ := testCache(t)
	var dst map[string]any
	err := c.GetJSON(context.Background(), "absent", &dst)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestTTLExpiry(t *testing.T) {
	c, mr := testCache(t)
	ctx := context.Background()
	require.NoError(t, c.SetJSON(ctx, "k1", "v", time.Minute))

	mr.FastForward(2 * time.Minute)

	var dst string
	err := c.GetJSON(ctx, "k1", &dst)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestInvalidateTag(t *testing.T) {
	c, _ := testCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetJSON(ctx, "fetch:s1", "a", time.Minute, "source:s1"))
	require.NoError(t, c.SetJSON(ctx, "fetch:s2", "b", time.Minute, "source:s2"))

	require.NoError(t, c.InvalidateTag(ctx, "source:s1"))

	var dst string
	err := c.GetJSON(ctx, "fetch:s1", &dst)
	assert.True(t, errors.Is(err, domain.ErrNotFound), "tagged key dropped")
	require.NoError(t, c.GetJSON(ctx, "fetch:s2", &dst), "other tags untouched")
	assert.Equal(t, "b", dst)
}

func TestInvalidateUnknownTag(t *testing.T) {
	c, _ := testCache(t)
	assert.NoError(t, c.InvalidateTag(context.Background(), "source:ghost"))
}
