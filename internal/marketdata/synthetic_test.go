package marketdata

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynthetic_History(t *testing.T) {
	src := NewSynthetic()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(48 * time.Hour)

	first, err := src.History(context.Background(), "BTC", start, end)
	require.NoError(t, err)
	second, err := src.History(context.Background(), "BTC", start, end)
	require.NoError(t, err)

	assert.Len(t, first, 49)
	assert.Equal(t, first, second, "series must be deterministic")

	for i, s := range first {
		assert.Equal(t, "BTC", s.Symbol)
		assert.Greater(t, s.Price, 0.0)
		assert.GreaterOrEqual(t, s.High, s.Price)
		assert.LessOrEqual(t, s.Low, s.Price)
		assert.GreaterOrEqual(t, s.RSI, 0.0)
		assert.LessOrEqual(t, s.RSI, 100.0)
		if i > 0 {
			assert.True(t, s.Timestamp.After(first[i-1].Timestamp))
		}
	}

	other, err := src.History(context.Background(), "ETH", start, end)
	require.NoError(t, err)
	assert.NotEqual(t, first[10].Price, other[10].Price)
}

func TestSynthetic_EmptyWindow(t *testing.T) {
	src := NewSynthetic()
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	samples, err := src.History(context.Background(), "BTC", start, start.Add(-time.Hour))

	assert.NoError(t, err)
	assert.Empty(t, samples)
}

func TestSynthetic_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSynthetic().History(ctx, "BTC", time.Now(), time.Now().Add(time.Hour))

	assert.ErrorIs(t, err, context.Canceled)
}

func TestSynthetic_Latest(t *testing.T) {
	now := time.Date(2024, 3, 5, 13, 30, 0, 0, time.UTC)
	src := &Synthetic{Interval: time.Hour, Now: func() time.Time { return now }}

	sample, err := src.Latest(context.Background(), "BTC")

	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 5, 13, 0, 0, 0, time.UTC), sample.Timestamp)
}
