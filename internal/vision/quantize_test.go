package vision

import (
	"context"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuantizeColors_TwoTone(t *testing.T) {
	data := solidPNG(t, 200, 100, func(x, _ int) color.Color {
		if x < 100 {
			return color.RGBA{R: 30, G: 90, B: 210, A: 255}
		}
		return color.RGBA{R: 250, G: 250, B: 250, A: 255}
	})

	got := QuantizeColors(context.Background(), data, 3, time.Second)
	require.NotEmpty(t, got)

	byName := map[string]float64{}
	total := 0.0
	for _, s := range got {
		byName[s.Name] += s.Pct
		total += s.Pct
	}
	assert.InDelta(t, 50, byName[ColorBlue], 5)
	assert.InDelta(t, 50, byName[ColorWhite], 5)
	assert.LessOrEqual(t, total, 100.0)
}

func TestQuantizeColors_Deterministic(t *testing.T) {
	data := solidPNG(t, 90, 90, func(x, y int) color.Color {
		return color.RGBA{R: uint8(x * 2), G: uint8(y * 2), B: 120, A: 255}
	})
	first := QuantizeColors(context.Background(), data, 5, time.Second)
	second := QuantizeColors(context.Background(), data, 5, time.Second)
	assert.Equal(t, first, second)
}

func TestQuantizeColors_Undecodable(t *testing.T) {
	assert.Empty(t, QuantizeColors(context.Background(), []byte("not an image"), 5, time.Second))
}

func TestQuantizeColors_CanceledReturnsEmpty(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	data := solidPNG(t, 10, 10, func(int, int) color.Color { return color.Black })
	assert.Empty(t, QuantizeColors(ctx, data, 5, time.Second))
}

func TestSamplePixels_Downscales(t *testing.T) {
	data := solidPNG(t, 256, 128, func(int, int) color.Color { return color.White })
	got := QuantizeColors(context.Background(), data, 2, time.Second)
	require.Len(t, got, 1)
	assert.Equal(t, ColorWhite, got[0].Name)
}
