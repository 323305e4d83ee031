package vision

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/vision-cli/internal/config"
	"github.com/sells-group/vision-cli/internal/model"
	"github.com/sells-group/vision-cli/internal/monitoring"
	"github.com/sells-group/vision-cli/internal/resilience"
)

// ExtractorConfig controls how a ProviderExtractor calls its provider.
type ExtractorConfig struct {
	Timeout           time.Duration
	Retry             resilience.RetryConfig
	QPS               float64
	ColorTimeout      time.Duration
	MaxParallelImages int
}

// ExtractorConfigFrom builds an ExtractorConfig from the vision section.
func ExtractorConfigFrom(cfg config.VisionConfig) ExtractorConfig {
	return ExtractorConfig{
		Timeout:           time.Duration(cfg.TimeoutMs) * time.Millisecond,
		Retry:             resilience.FromRetryConfig(cfg),
		QPS:               cfg.ProviderQPS,
		ColorTimeout:      time.Duration(cfg.ColorTimeoutMs) * time.Millisecond,
		MaxParallelImages: cfg.MaxParallelImages,
	}
}

// ProviderExtractor implements Extractor on top of a Provider: one request
// per image, a bounded timeout per call, retries for transient failures,
// then normalization of the merged signals.
type ProviderExtractor struct {
	provider Provider
	cfg      ExtractorConfig
	limiter  *rate.Limiter
	log      *zap.Logger
}

// NewProviderExtractor creates an extractor for p.
func NewProviderExtractor(p Provider, cfg ExtractorConfig) *ProviderExtractor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxParallelImages <= 0 {
		cfg.MaxParallelImages = 3
	}
	limit := rate.Inf
	if cfg.QPS > 0 {
		limit = rate.Limit(cfg.QPS)
	}
	retry := cfg.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger(p.Name(), "annotate")
	}
	cfg.Retry = retry
	return &ProviderExtractor{
		provider: p,
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, max(1, int(cfg.QPS))),
		log:      zap.L().With(zap.String("component", "vision"), zap.String("provider", p.Name())),
	}
}

// Name implements Extractor.
func (e *ProviderExtractor) Name() string { return e.provider.Name() }

// Extract implements Extractor.
func (e *ProviderExtractor) Extract(ctx context.Context, itemID string, images []Image, opts Options) (*model.VisualFacts, error) {
	start := time.Now()
	features := FeaturesFromOptions(opts)
	annotations := make([]*Annotation, len(images))

	providerStart := time.Now()
	if features.Any() {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.cfg.MaxParallelImages)
		for i, img := range images {
			g.Go(func() error {
				ann, err := e.annotate(gctx, AnnotateRequest{Image: img, Features: features})
				if err != nil {
					return err
				}
				annotations[i] = ann
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			code := model.CodeOf(err)
			monitoring.Extractions.WithLabelValues(e.provider.Name(), string(code)).Inc()
			e.log.Warn("vision: extraction failed",
				zap.String("item_id", itemID),
				zap.String("code", string(code)),
				zap.Int("images", len(images)),
			)
			return nil, err
		}
	}
	providerMs := time.Since(providerStart).Milliseconds()

	colorStart := time.Now()
	if opts.EnableColors {
		e.fillColors(ctx, images, annotations, opts)
	}
	colorMs := time.Since(colorStart).Milliseconds()

	facts := mergeAnnotations(annotations, opts)
	facts.ItemID = itemID
	facts.ExtractionMeta = model.ExtractionMeta{
		Provider:    e.provider.Name(),
		ImageCount:  len(images),
		ImageHashes: Hashes(images),
		TimingsMs: map[string]int64{
			"provider": providerMs,
			"colors":   colorMs,
			"total":    time.Since(start).Milliseconds(),
		},
	}
	monitoring.Extractions.WithLabelValues(e.provider.Name(), "ok").Inc()
	e.log.Debug("vision: extracted",
		zap.String("item_id", itemID),
		zap.Int("ocr", len(facts.OCRSnippets)),
		zap.Int("labels", len(facts.LabelHints)),
		zap.Int("logos", len(facts.LogoHints)),
		zap.Int("colors", len(facts.DominantColors)),
	)
	return facts, nil
}

// annotate runs one provider call behind the outbound QPS limiter, racing
// each attempt against the configured timeout.
func (e *ProviderExtractor) annotate(ctx context.Context, req AnnotateRequest) (*Annotation, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, asExtractionError(e.provider.Name(), err)
	}
	return resilience.DoVal(ctx, e.cfg.Retry, func(ctx context.Context) (*Annotation, error) {
		return e.attempt(ctx, req)
	})
}

type annotateResult struct {
	ann *Annotation
	err error
}

func (e *ProviderExtractor) attempt(ctx context.Context, req AnnotateRequest) (*Annotation, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	done := make(chan annotateResult, 1)
	go func() {
		ann, err := e.provider.Annotate(ctx, req)
		done <- annotateResult{ann: ann, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, asExtractionError(e.provider.Name(), res.err)
		}
		if res.ann == nil {
			res.ann = &Annotation{}
		}
		return res.ann, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, newExtractionError(e.provider.Name(), model.ErrTimeout, ctx.Err())
	}
}

// fillColors quantizes locally for images whose provider returned no colors.
func (e *ProviderExtractor) fillColors(ctx context.Context, images []Image, annotations []*Annotation, opts Options) {
	for i, ann := range annotations {
		if ann == nil {
			ann = &Annotation{}
			annotations[i] = ann
		}
		if len(ann.Colors) > 0 {
			continue
		}
		swatches := QuantizeColors(ctx, images[i].Data, opts.MaxColors, e.cfg.ColorTimeout)
		for _, s := range swatches {
			r, g, b, ok := parseHex(s.Hex)
			if !ok {
				continue
			}
			ann.Colors = append(ann.Colors, RawColor{R: r, G: g, B: b, Fraction: s.Pct / 100})
		}
	}
}

// mergeAnnotations combines per-image annotations and normalizes them.
// Color shares are averaged over the images.
func mergeAnnotations(annotations []*Annotation, opts Options) *model.VisualFacts {
	var (
		tokens, lines []TextToken
		labels, logos []Scored
		swatches      []model.ColorSwatch
	)
	n := 0
	for _, a := range annotations {
		if a == nil {
			continue
		}
		n++
		tokens = append(tokens, a.Tokens...)
		lines = append(lines, a.Lines...)
		labels = append(labels, a.Labels...)
		logos = append(logos, a.Logos...)
		swatches = append(swatches, SwatchesFromRaw(a.Colors)...)
	}
	if n > 1 {
		for i := range swatches {
			swatches[i].Pct /= float64(n)
		}
	}

	facts := &model.VisualFacts{
		DominantColors: []model.ColorSwatch{},
		OCRSnippets:    []model.OCRSnippet{},
		LabelHints:     []model.LabelHint{},
	}
	if opts.EnableOCR {
		facts.OCRSnippets = NormalizeOCR(tokens, lines, opts)
	}
	if opts.EnableLabels {
		facts.LabelHints = NormalizeLabels(labels, opts)
	}
	if opts.EnableLogos {
		facts.LogoHints = NormalizeLogos(logos, opts)
	}
	if opts.EnableColors {
		facts.DominantColors = NormalizeColors(swatches, opts.MaxColors)
	}
	return facts
}
