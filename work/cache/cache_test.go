package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategoryTTLPresets(t *testing.T) {
	tests := []struct {
		name     string
		category Category
		want     time.Duration
	}{
		{"epg", Epg, 10 * time.Minute},
		{"stream url", StreamURL, 30 * time.Minute},
		{"categories", Categories, 12 * time.Hour},
		{"metadata", Metadata, 24 * time.Hour},
		{"channel lists", ChannelLists, 6 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.category.TTL(true))
			assert.Equal(t, shortTTL, tt.category.TTL(false), "disabled extended cache degrades to the flat TTL")
		})
	}
}

func TestGetOrCreateCachesValue(t *testing.T) {
	c, err := New(true)
	require.NoError(t, err)
	defer c.Close()

	calls := 0
	factory := func(context.Context) ([]string, error) {
		calls++
		return []string{"news", "sports"}, nil
	}

	got, err := GetOrCreate(context.Background(), c, "live-categories", Categories, factory)
	require.NoError(t, err)
	assert.Equal(t, []string{"news", "sports"}, got)
	assert.Equal(t, 1, calls)
	assert.Equal(t, int64(1), c.Misses())

	c.Wait()

	got, err = GetOrCreate(context.Background(), c, "live-categories", Categories, factory)
	require.NoError(t, err)
	assert.Equal(t, []string{"news", "sports"}, got)
	assert.Equal(t, 1, calls, "second lookup must be served from cache")
	assert.Equal(t, int64(1), c.Hits())
}

func TestGetOrCreateFactoryErrorNotCached(t *testing.T) {
	c, err := New(true)
	require.NoError(t, err)
	defer c.Close()

	wantErr := errors.New("upstream failure")
	_, err = GetOrCreate(context.Background(), c, "k", Metadata, func(context.Context) (int, error) {
		return 0, wantErr
	})
	assert.ErrorIs(t, err, wantErr)

	c.Wait()

	calls := 0
	v, err := GetOrCreate(context.Background(), c, "k", Metadata, func(context.Context) (int, error) {
		calls++
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 1, calls, "failed fetch must not poison the key")
}

func TestRemoveAndClear(t *testing.T) {
	c, err := New(true)
	require.NoError(t, err)
	defer c.Close()

	seed := func(key string) {
		_, err := GetOrCreate(context.Background(), c, key, Categories, func(context.Context) (string, error) {
			return "v-" + key, nil
		})
		require.NoError(t, err)
	}

	seed("a")
	seed("b")
	c.Wait()

	c.Remove("a")
	c.Wait()

	_, _ = GetOrCreate(context.Background(), c, "a", Categories, func(context.Context) (string, error) {
		return "v2-a", nil
	})
	assert.Equal(t, int64(2), c.Misses(), "removed key must miss")

	c.Clear()
	c.Wait()

	_, _ = GetOrCreate(context.Background(), c, "b", Categories, func(context.Context) (string, error) {
		return "v2-b", nil
	})
	assert.Equal(t, int64(3), c.Misses(), "cleared cache must miss on every key")
}

func TestStatisticsReset(t *testing.T) {
	c, err := New(true)
	require.NoError(t, err)
	defer c.Close()

	_, _ = GetOrCreate(context.Background(), c, "x", Epg, func(context.Context) (int, error) { return 1, nil })
	c.Wait()
	_, _ = GetOrCreate(context.Background(), c, "x", Epg, func(context.Context) (int, error) { return 1, nil })

	assert.Equal(t, int64(1), c.Hits())
	assert.Equal(t, int64(1), c.Misses())
	assert.InDelta(t, 50.0, c.HitRate(), 0.01)

	c.ResetStatistics()
	assert.Equal(t, int64(0), c.Hits())
	assert.Equal(t, int64(0), c.Misses())
	assert.Zero(t, c.HitRate())
}
