package vision

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"time"

	"go.uber.org/zap"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register decoder

	"github.com/sells-group/vision-cli/internal/model"
)

const (
	quantizeMaxEdge    = 64
	quantizeMaxIter    = 10
	quantizeMinOpacity = 0x8000
)

type rgb struct {
	r, g, b float64
}

func (c rgb) dist(o rgb) float64 {
	dr, dg, db := c.r-o.r, c.g-o.g, c.b-o.b
	return dr*dr + dg*dg + db*db
}

// QuantizeColors derives dominant colors locally with k-means over a
// downscaled raster. It returns an empty set when the image cannot be
// decoded or the timeout elapses first.
func QuantizeColors(ctx context.Context, data []byte, k int, timeout time.Duration) []model.ColorSwatch {
	if k <= 0 {
		k = 5
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan []model.ColorSwatch, 1)
	go func() {
		done <- quantize(ctx, data, k)
	}()

	select {
	case out := <-done:
		return out
	case <-ctx.Done():
		zap.L().Debug("vision: color quantization timed out", zap.Duration("timeout", timeout))
		return nil
	}
}

func quantize(ctx context.Context, data []byte, k int) []model.ColorSwatch {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		zap.L().Debug("vision: color quantization decode failed", zap.Error(err))
		return nil
	}
	pixels := samplePixels(img)
	if len(pixels) == 0 {
		return nil
	}

	centroids, counts := kmeans(ctx, pixels, 2*k)
	if centroids == nil {
		return nil
	}

	raw := make([]RawColor, 0, len(centroids))
	for i, c := range centroids {
		if counts[i] == 0 {
			continue
		}
		raw = append(raw, RawColor{
			R:        clamp8(c.r),
			G:        clamp8(c.g),
			B:        clamp8(c.b),
			Fraction: float64(counts[i]) / float64(len(pixels)),
		})
	}
	return NormalizeColors(SwatchesFromRaw(raw), k)
}

// samplePixels downscales img so its longest edge is at most 64px and
// returns the opaque pixels.
func samplePixels(img image.Image) []rgb {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil
	}
	if w > quantizeMaxEdge || h > quantizeMaxEdge {
		if w >= h {
			h = max(1, h*quantizeMaxEdge/w)
			w = quantizeMaxEdge
		} else {
			w = max(1, w*quantizeMaxEdge/h)
			h = quantizeMaxEdge
		}
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)

	out := make([]rgb, 0, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, a := dst.At(x, y).RGBA()
			if a < quantizeMinOpacity {
				continue
			}
			out = append(out, rgb{float64(r >> 8), float64(g >> 8), float64(bl >> 8)})
		}
	}
	return out
}

// kmeans clusters pixels into at most n groups seeded at evenly spaced
// pixels, so results are deterministic. It returns nil if ctx ends first.
func kmeans(ctx context.Context, pixels []rgb, n int) ([]rgb, []int) {
	n = min(n, len(pixels))
	centroids := make([]rgb, n)
	for i := range centroids {
		centroids[i] = pixels[i*len(pixels)/n]
	}
	assign := make([]int, len(pixels))
	for i := range assign {
		assign[i] = -1
	}
	counts := make([]int, n)

	for iter := 0; iter < quantizeMaxIter; iter++ {
		if ctx.Err() != nil {
			return nil, nil
		}
		changed := false
		for i, p := range pixels {
			best, bestDist := 0, p.dist(centroids[0])
			for c := 1; c < n; c++ {
				if d := p.dist(centroids[c]); d < bestDist {
					best, bestDist = c, d
				}
			}
			if assign[i] != best {
				assign[i] = best
				changed = true
			}
		}

		sums := make([]rgb, n)
		for i := range counts {
			counts[i] = 0
		}
		for i, p := range pixels {
			c := assign[i]
			sums[c].r += p.r
			sums[c].g += p.g
			sums[c].b += p.b
			counts[c]++
		}
		for c := range centroids {
			if counts[c] > 0 {
				centroids[c] = rgb{sums[c].r / float64(counts[c]), sums[c].g / float64(counts[c]), sums[c].b / float64(counts[c])}
			}
		}
		if !changed {
			break
		}
	}
	return centroids, counts
}
