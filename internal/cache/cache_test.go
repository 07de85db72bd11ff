package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestInMemoryCache_GetSet verifies that Set stores values and Get retrieves them.
func TestInMemoryCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	val := []byte("\x89PNG fake")
	require.NoError(t, c.Set(ctx, "abc:0:png", val, time.Minute))

	got, ok, err := c.Get(ctx, "abc:0:png")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, val, got)
}

// TestInMemoryCache_Get_Miss verifies that Get returns ok=false for an unknown key.
func TestInMemoryCache_Get_Miss(t *testing.T) {
	c := NewInMemoryCache()

	got, ok, err := c.Get(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
}

// TestInMemoryCache_Get_Expired verifies that expired entries miss and are removed.
func TestInMemoryCache_Get_Expired(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	c := NewInMemoryCacheWithClock(clock)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	clock.Advance(59 * time.Second)
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok, "entry should still be live before TTL")

	clock.Advance(time.Second)
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "entry should expire at TTL")
	assert.Equal(t, 0, c.Len(), "expired entry should be deleted on access")
}

func TestInMemoryCache_Overwrite(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()
	require.NoError(t, c.Set(ctx, "k", []byte("one"), time.Minute))
	require.NoError(t, c.Set(ctx, "k", []byte("two"), time.Minute))

	got, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "two", string(got))
	assert.Equal(t, 1, c.Len())
}

func TestInMemoryCache_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewInMemoryCache()

	assert.ErrorIs(t, c.Set(ctx, "k", []byte("v"), time.Minute), context.Canceled)
	_, _, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInMemoryCache_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := []string{"a", "b", "c"}[i%3]
			_ = c.Set(ctx, key, []byte{byte(i)}, time.Minute)
			_, _, _ = c.Get(ctx, key)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 3, c.Len())
}

func TestParseAddrs(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"localhost:11211", []string{"localhost:11211"}},
		{" a:1 , ,b:2 ", []string{"a:1", "b:2"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseAddrs(tt.in), tt.in)
	}
}

func TestExpirationSeconds(t *testing.T) {
	assert.Equal(t, int32(600), expirationSeconds(10*time.Minute))
	assert.Equal(t, int32(3600), expirationSeconds(0))
	assert.Equal(t, int32(3600), expirationSeconds(-time.Second))
	assert.Equal(t, int32(3600), expirationSeconds(31*24*time.Hour))
}

func TestMemcachedCache_KeyPrefix(t *testing.T) {
	c, err := NewMemcachedCache("", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "heatmap:abc:3:png", c.key("abc:3:png"))
}

func TestMemcachedCache_SetRejectsOversizeValue(t *testing.T) {
	c, err := NewMemcachedCache("localhost:1", 10*time.Millisecond, 1)
	require.NoError(t, err)
	err = c.Set(context.Background(), "big", make([]byte, maxItemSize+1), time.Minute)
	assert.ErrorIs(t, err, ErrValueTooLarge)
}
