package vision

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/vision-cli/internal/model"
	"github.com/sells-group/vision-cli/internal/resilience"
)

type funcProvider struct {
	calls atomic.Int64
	fn    func(ctx context.Context, req AnnotateRequest) (*Annotation, error)
}

func (p *funcProvider) Name() string { return "func" }

func (p *funcProvider) Annotate(ctx context.Context, req AnnotateRequest) (*Annotation, error) {
	p.calls.Add(1)
	return p.fn(ctx, req)
}

func testExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		Timeout: time.Second,
		Retry: resilience.RetryConfig{
			MaxRetries:     2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
			JitterFraction: -1,
		},
		ColorTimeout:      time.Second,
		MaxParallelImages: 2,
	}
}

func solidPNG(t *testing.T, w, h int, fill func(x, y int) color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, fill(x, y))
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestProviderExtractor_MergesImages(t *testing.T) {
	p := &funcProvider{fn: func(_ context.Context, req AnnotateRequest) (*Annotation, error) {
		switch string(req.Image.Data) {
		case "a":
			return &Annotation{
				Tokens: []TextToken{{Text: "IKEA", Confidence: 0.9}},
				Logos:  []Scored{{Name: "IKEA", Score: 0.8}},
				Colors: []RawColor{{R: 30, G: 90, B: 210, Fraction: 0.6}},
			}, nil
		default:
			return &Annotation{
				Tokens: []TextToken{{Text: "ikea", Confidence: 0.7}, {Text: "Made in Poland", Confidence: 0.8}},
				Logos:  []Scored{{Name: "Ikea", Score: 0.95}},
				Colors: []RawColor{{R: 30, G: 90, B: 210, Fraction: 0.4}, {R: 255, G: 255, B: 255, Fraction: 0.4}},
			}, nil
		}
	}}

	ext := NewProviderExtractor(p, testExtractorConfig())
	images := []Image{{Data: []byte("a")}, {Data: []byte("b")}}
	facts, err := ext.Extract(context.Background(), "item-1", images, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, "item-1", facts.ItemID)
	assert.Equal(t, []string{"IKEA", "Made in Poland"}, facts.OCRTexts())
	assert.Equal(t, []model.LogoHint{{Brand: "Ikea", Score: 0.95}}, facts.LogoHints)
	require.Len(t, facts.DominantColors, 2)
	assert.Equal(t, ColorBlue, facts.DominantColors[0].Name)
	assert.InDelta(t, 50, facts.DominantColors[0].Pct, 0.11)
	assert.Equal(t, ColorWhite, facts.DominantColors[1].Name)
	assert.InDelta(t, 20, facts.DominantColors[1].Pct, 0.11)

	meta := facts.ExtractionMeta
	assert.Equal(t, "func", meta.Provider)
	assert.Equal(t, 2, meta.ImageCount)
	assert.Equal(t, Hashes(images), meta.ImageHashes)
	assert.False(t, meta.CacheHit)
	assert.Contains(t, meta.TimingsMs, "total")
	assert.EqualValues(t, 2, p.calls.Load())
}

func TestProviderExtractor_RetriesTransient(t *testing.T) {
	p := &funcProvider{}
	p.fn = func(context.Context, AnnotateRequest) (*Annotation, error) {
		if p.calls.Load() == 1 {
			return nil, newExtractionError("func", model.ErrVisionUnavailable, nil)
		}
		return &Annotation{Labels: []Scored{{Name: "Chair", Score: 0.9}}}, nil
	}

	facts, err := NewProviderExtractor(p, testExtractorConfig()).
		Extract(context.Background(), "item", []Image{{Data: []byte("x")}}, DefaultOptions())
	require.NoError(t, err)
	assert.Len(t, facts.LabelHints, 1)
	assert.EqualValues(t, 2, p.calls.Load())
}

func TestProviderExtractor_NoRetryOnQuotaOrInvalid(t *testing.T) {
	for _, code := range []model.ErrorCode{model.ErrQuotaExceeded, model.ErrInvalidImage} {
		t.Run(string(code), func(t *testing.T) {
			p := &funcProvider{fn: func(context.Context, AnnotateRequest) (*Annotation, error) {
				return nil, newExtractionError("func", code, nil)
			}}

			_, err := NewProviderExtractor(p, testExtractorConfig()).
				Extract(context.Background(), "item", []Image{{Data: []byte("x")}}, DefaultOptions())
			require.Error(t, err)
			assert.Equal(t, code, model.CodeOf(err))
			assert.EqualValues(t, 1, p.calls.Load())
		})
	}
}

func TestProviderExtractor_TimeoutRace(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	p := &funcProvider{fn: func(context.Context, AnnotateRequest) (*Annotation, error) {
		<-release
		return &Annotation{}, nil
	}}

	cfg := testExtractorConfig()
	cfg.Timeout = 20 * time.Millisecond
	cfg.Retry.MaxRetries = 1

	start := time.Now()
	_, err := NewProviderExtractor(p, cfg).
		Extract(context.Background(), "item", []Image{{Data: []byte("x")}}, DefaultOptions())
	require.Error(t, err)
	assert.Equal(t, model.ErrTimeout, model.CodeOf(err))
	assert.EqualValues(t, 2, p.calls.Load())
	assert.Less(t, time.Since(start), time.Second)
}

func TestProviderExtractor_UnclassifiedErrorsBecomeUnavailable(t *testing.T) {
	p := &MockProvider{Err: assert.AnError}
	cfg := testExtractorConfig()
	cfg.Retry.MaxRetries = 0

	_, err := NewProviderExtractor(p, cfg).
		Extract(context.Background(), "item", []Image{{Data: []byte("x")}}, DefaultOptions())
	var ee *ExtractionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, model.ErrVisionUnavailable, ee.Code)
}

func TestProviderExtractor_NoFeaturesSkipsProvider(t *testing.T) {
	p := &MockProvider{}
	facts, err := NewProviderExtractor(p, testExtractorConfig()).
		Extract(context.Background(), "item", []Image{{Data: []byte("x")}}, Options{})
	require.NoError(t, err)
	assert.Zero(t, p.Calls())
	assert.Empty(t, facts.OCRSnippets)
	assert.Empty(t, facts.DominantColors)
	assert.Equal(t, 1, facts.ExtractionMeta.ImageCount)
}

func TestProviderExtractor_LocalColorFallback(t *testing.T) {
	p := &MockProvider{Annotation: &Annotation{Labels: []Scored{{Name: "Mug", Score: 0.9}}}}
	red := solidPNG(t, 80, 40, func(int, int) color.Color { return color.RGBA{R: 220, G: 20, B: 20, A: 255} })

	facts, err := NewProviderExtractor(p, testExtractorConfig()).
		Extract(context.Background(), "item", []Image{{Data: red, MIMEType: "image/png"}}, DefaultOptions())
	require.NoError(t, err)
	require.NotEmpty(t, facts.DominantColors)
	assert.Equal(t, ColorRed, facts.DominantColors[0].Name)
	assert.InDelta(t, 100, facts.DominantColors[0].Pct, 0.2)
}

func TestFeaturesFromOptions(t *testing.T) {
	opts := DefaultOptions()
	opts.EnableOCR = false
	opts.OCRMode = OCRModeDocument

	f := FeaturesFromOptions(opts)
	assert.False(t, f.OCR)
	assert.True(t, f.Labels)
	assert.True(t, f.DocumentMode)
	assert.Equal(t, 20, f.MaxLabels)
	assert.Equal(t, 10, f.MaxLogos)
	assert.True(t, f.Any())
	assert.False(t, Features{}.Any())
}

func TestProviderExtractor_CallerCancelNotRetried(t *testing.T) {
	p := &funcProvider{fn: func(ctx context.Context, _ AnnotateRequest) (*Annotation, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := NewProviderExtractor(p, testExtractorConfig()).
		Extract(ctx, "item", []Image{{Data: []byte("x")}}, DefaultOptions())
	require.ErrorIs(t, err, context.Canceled)

	var ee *ExtractionError
	assert.False(t, errors.As(err, &ee))
	assert.EqualValues(t, 1, p.calls.Load())
}

func TestAsExtractionError_PassesCancellationThrough(t *testing.T) {
	assert.Equal(t, context.Canceled, asExtractionError("func", context.Canceled))
	assert.Equal(t, model.ErrTimeout, model.CodeOf(asExtractionError("func", context.DeadlineExceeded)))
}
