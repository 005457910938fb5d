package source

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/feedpulse/internal/domain"
)

func TestDecodeConfig(t *testing.T) {
	t.Run("syndicated", func(t *testing.T) {
		var cfg SyndicatedConfig
		err := DecodeConfig(map[string]any{
			"extract_full_content": true,
			"content_selectors":    []any{".article"},
			"update_frequency":     "hourly",
			"max_items":            10,
			"unknown_key":          "ignored",
		}, &cfg)
		require.NoError(t, err)
		assert.True(t, cfg.ExtractFullContent)
		assert.Equal(t, []string{".article"}, cfg.ContentSelectors)
		assert.Equal(t, 10, cfg.ItemCap(20))
	})

	t.Run("bad update_frequency", func(t *testing.T) {
		var cfg SyndicatedConfig
		err := DecodeConfig(map[string]any{"update_frequency": "sometimes"}, &cfg)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
	})

	t.Run("priority out of range", func(t *testing.T) {
		var cfg AudioConfig
		err := DecodeConfig(map[string]any{"priority": 11}, &cfg)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
	})

	t.Run("aggregate requires sources", func(t *testing.T) {
		var cfg AggregateConfig
		err := DecodeConfig(map[string]any{"deduplication": true}, &cfg)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
	})

	t.Run("aggregate sub kind validated", func(t *testing.T) {
		var cfg AggregateConfig
		err := DecodeConfig(map[string]any{
			"sources": []any{
				map[string]any{"kind": "carrier-pigeon", "url": "http://x", "enabled": true},
			},
		}, &cfg)
		require.Error(t, err)
	})
}

func TestCommonConfigFetchTTL(t *testing.T) {
	def := 4 * time.Hour
	assert.Equal(t, 5*time.Minute, CommonConfig{UpdateFrequency: "realtime"}.FetchTTL(def))
	assert.Equal(t, time.Hour, CommonConfig{UpdateFrequency: "hourly"}.FetchTTL(def))
	assert.Equal(t, 24*time.Hour, CommonConfig{UpdateFrequency: "daily"}.FetchTTL(def))
	assert.Equal(t, 7*24*time.Hour, CommonConfig{UpdateFrequency: "weekly"}.FetchTTL(def))
	assert.Equal(t, def, CommonConfig{}.FetchTTL(def))
}

func TestAudioConfigDurations(t *testing.T) {
	min, max := AudioConfig{}.Durations()
	assert.Equal(t, 60, min)
	assert.Equal(t, 7200, max)

	min, max = AudioConfig{MinDuration: 300, MaxDuration: 3600}.Durations()
	assert.Equal(t, 300, min)
	assert.Equal(t, 3600, max)
}

func TestValidateItem(t *testing.T) {
	good := domain.RawItem{
		ExternalID:  "x1",
		Title:       "Markets rally on rate cut hopes",
		PublishedAt: time.Now().Add(-time.Hour),
	}
	assert.True(t, validateItem(good))

	assert.False(t, validateItem(domain.RawItem{Title: "no id", PublishedAt: time.Now()}))
	assert.False(t, validateItem(domain.RawItem{ExternalID: "x", PublishedAt: time.Now()}))

	future := good
	future.PublishedAt = time.Now().Add(48 * time.Hour)
	assert.False(t, validateItem(future))

	tiny := good
	tiny.Title = "hi"
	assert.False(t, validateItem(tiny))
}
