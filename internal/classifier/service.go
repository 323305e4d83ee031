// Package classifier orchestrates classification and visual enrichment of
// item photos: provider selection behind a circuit breaker, result and
// facts caching, category mapping and attribute resolution.
package classifier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vision-cli/internal/cache"
	"github.com/sells-group/vision-cli/internal/config"
	"github.com/sells-group/vision-cli/internal/model"
	"github.com/sells-group/vision-cli/internal/monitoring"
	"github.com/sells-group/vision-cli/internal/resilience"
	"github.com/sells-group/vision-cli/internal/resolve"
	"github.com/sells-group/vision-cli/internal/vision"
)

// Cache names used in metrics and status output.
const (
	CacheResults = "results"
	CacheFacts   = "facts"
)

const enrichMode = "enrich"

// Config controls the service.
type Config struct {
	// EnrichOptions is the feature set requested for enrichment.
	EnrichOptions     vision.Options
	FeatureVersion    string
	DefaultDomainPack string
	Breaker           resilience.CircuitBreakerConfig
	ResultsTTL        time.Duration
	ResultsMaxEntries int
	FactsTTL          time.Duration
	FactsMaxEntries   int
}

// ConfigFrom builds a service Config from application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		EnrichOptions:     vision.OptionsFromConfig(cfg.Vision),
		FeatureVersion:    cfg.Cache.FeatureVersion,
		DefaultDomainPack: cfg.Mapper.DefaultDomainID,
		Breaker:           resilience.FromBreakerConfig(cfg.Breaker),
		ResultsTTL:        time.Duration(cfg.Cache.Results.TTLMs) * time.Millisecond,
		ResultsMaxEntries: cfg.Cache.Results.MaxEntries,
		FactsTTL:          time.Duration(cfg.Cache.Facts.TTLMs) * time.Millisecond,
		FactsMaxEntries:   cfg.Cache.Facts.MaxEntries,
	}
}

// Request is one classification request.
type Request struct {
	RequestID     string
	CorrelationID string
	ItemID        string
	Images        []vision.Image
	DomainPackID  string
	Enrich        bool
	IncludeFacts  bool
}

// classification is the cached outcome of the classification stage.
type classification struct {
	mapped   model.MappedCategory
	provider string
	signals  *model.VisualFacts
}

// Service classifies and enriches item photos.
type Service struct {
	cfg      Config
	primary  vision.Extractor
	fallback vision.Extractor
	breaker  *resilience.CircuitBreaker
	mapper   Mapper
	resolver *resolve.Resolver
	results  *cache.Bounded[*classification]
	facts    *cache.Bounded[*model.VisualFacts]
	log      *zap.Logger
}

// NewService creates a Service. primary is protected by a circuit breaker;
// fallback serves requests while the breaker is open.
func NewService(cfg Config, primary, fallback vision.Extractor, mapper Mapper, resolver *resolve.Resolver) *Service {
	if cfg.DefaultDomainPack == "" {
		cfg.DefaultDomainPack = "home_resale"
	}
	if cfg.FeatureVersion == "" {
		cfg.FeatureVersion = "v1"
	}
	return &Service{
		cfg:      cfg,
		primary:  primary,
		fallback: fallback,
		breaker:  NewBreaker(primary.Name(), cfg.Breaker),
		mapper:   mapper,
		resolver: resolver,
		results:  cache.New[*classification](cfg.ResultsTTL, cfg.ResultsMaxEntries),
		facts:    cache.New[*model.VisualFacts](cfg.FactsTTL, cfg.FactsMaxEntries),
		log:      zap.L().With(zap.String("component", "classifier")),
	}
}

// NewBreaker creates the primary-provider breaker and mirrors its state
// into the breaker gauge.
func NewBreaker(name string, cfg resilience.CircuitBreakerConfig) *resilience.CircuitBreaker {
	gauge := monitoring.BreakerState.WithLabelValues(name)
	gauge.Set(0)
	cfg.OnStateChange = func(from, to resilience.CircuitState) {
		gauge.Set(breakerGaugeValue(to))
		zap.L().Warn("classifier: breaker state change",
			zap.String("breaker", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	return resilience.NewCircuitBreaker(name, cfg)
}

func breakerGaugeValue(s resilience.CircuitState) float64 {
	switch s {
	case resilience.CircuitHalfOpen:
		return 1
	case resilience.CircuitOpen:
		return 2
	default:
		return 0
	}
}

// Breaker returns the primary-provider breaker.
func (s *Service) Breaker() *resilience.CircuitBreaker { return s.breaker }

// CacheStats returns counters for both caches.
func (s *Service) CacheStats() map[string]cache.Stats {
	return map[string]cache.Stats{
		CacheResults: s.results.Stats(),
		CacheFacts:   s.facts.Stats(),
	}
}

// classifyOptions requests only the signals the category mapper consumes.
func (s *Service) classifyOptions() vision.Options {
	opts := s.cfg.EnrichOptions
	opts.EnableOCR = false
	opts.EnableColors = false
	opts.EnableLabels = true
	opts.EnableLogos = true
	return opts
}

// requestState tracks provider use across the stages of one request.
type requestState struct {
	providerUnavailable bool
}

// Classify runs classification and, when requested, enrichment.
func (s *Service) Classify(ctx context.Context, req Request) (*model.ClassificationResult, error) {
	start := time.Now()
	if len(req.Images) == 0 {
		return nil, model.NewError(model.ErrValidation, "at least one image is required", nil)
	}
	if req.DomainPackID == "" {
		req.DomainPackID = s.cfg.DefaultDomainPack
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.CorrelationID == "" {
		req.CorrelationID = req.RequestID
	}
	log := s.log.With(zap.String("request_id", req.RequestID), zap.String("correlation_id", req.CorrelationID))

	hashes := vision.Hashes(req.Images)
	result := &model.ClassificationResult{
		RequestID:     req.RequestID,
		CorrelationID: req.CorrelationID,
	}
	st := &requestState{}

	cls, cached, err := s.classify(ctx, req, hashes, st, result)
	if err != nil {
		monitoring.ClassifyRequests.WithLabelValues(s.primary.Name(), "error").Inc()
		log.Warn("classifier: classification failed", zap.String("code", string(model.CodeOf(err))))
		return nil, err
	}
	result.DomainCategoryID = cls.mapped.CategoryID
	result.Confidence = cls.mapped.Confidence
	result.Label = cls.mapped.Label
	result.Attributes = cls.mapped.Attributes
	result.Provider = cls.provider
	result.CacheHit = cached
	if req.IncludeFacts {
		result.VisionAttributes = cls.signals.Clone()
	}

	if req.Enrich {
		enrichStart := time.Now()
		s.enrich(ctx, req, hashes, st, result, log)
		result.TimingsMs.Enrichment = time.Since(enrichStart).Milliseconds()
		monitoring.StageDuration.WithLabelValues("enrichment").Observe(time.Since(enrichStart).Seconds())
	}

	result.ProviderUnavailable = st.providerUnavailable
	result.TimingsMs.Total = time.Since(start).Milliseconds()
	monitoring.StageDuration.WithLabelValues("total").Observe(time.Since(start).Seconds())

	outcome := "ok"
	if cached {
		outcome = "cached"
	}
	monitoring.ClassifyRequests.WithLabelValues(result.Provider, outcome).Inc()
	log.Info("classifier: classified",
		zap.String("item_id", req.ItemID),
		zap.String("category", result.DomainCategoryID),
		zap.String("provider", result.Provider),
		zap.Bool("provider_unavailable", result.ProviderUnavailable),
		zap.Bool("cache_hit", result.CacheHit),
		zap.Int64("total_ms", result.TimingsMs.Total),
	)
	return result, nil
}

// classify returns the category for the request, from the results cache
// when possible.
func (s *Service) classify(ctx context.Context, req Request, hashes []string, st *requestState, result *model.ClassificationResult) (*classification, bool, error) {
	provider := s.primary.Name()
	if s.breaker.State() == resilience.CircuitOpen {
		provider = s.fallback.Name()
	}
	key := cache.ResultKey(provider, req.DomainPackID, combinedHash(hashes))
	if cls, ok := s.results.Get(key); ok {
		monitoring.CacheLookups.WithLabelValues(CacheResults, monitoring.CacheResult(true)).Inc()
		if provider != s.primary.Name() {
			st.providerUnavailable = true
		}
		return cls, true, nil
	}
	monitoring.CacheLookups.WithLabelValues(CacheResults, monitoring.CacheResult(false)).Inc()

	visionStart := time.Now()
	signals, used, err := s.extract(ctx, req, s.classifyOptions(), st)
	result.TimingsMs.Vision = time.Since(visionStart).Milliseconds()
	monitoring.StageDuration.WithLabelValues("vision").Observe(time.Since(visionStart).Seconds())
	if err != nil {
		return nil, false, err
	}

	mapStart := time.Now()
	mapped, err := s.mapper.Map(req.DomainPackID, Signals{Labels: signals.LabelHints, Logos: signals.LogoHints})
	result.TimingsMs.Mapping = time.Since(mapStart).Milliseconds()
	monitoring.StageDuration.WithLabelValues("mapping").Observe(time.Since(mapStart).Seconds())
	if err != nil {
		return nil, false, err
	}

	cls := &classification{mapped: mapped, provider: used, signals: signals}
	s.results.Set(cache.ResultKey(used, req.DomainPackID, combinedHash(hashes)), cls)
	return cls, false, nil
}

// extract calls the primary extractor when the breaker allows it and falls
// back otherwise. Provider-side failures of the primary count against the
// breaker and are recovered with the fallback.
func (s *Service) extract(ctx context.Context, req Request, opts vision.Options, st *requestState) (*model.VisualFacts, string, error) {
	if s.breaker.CanRequest() {
		facts, err := s.primary.Extract(ctx, req.ItemID, req.Images, opts)
		if err == nil {
			s.breaker.RecordSuccess()
			return facts, s.primary.Name(), nil
		}
		if errors.Is(err, context.Canceled) {
			// The caller gave up; this says nothing about provider health.
			s.breaker.Release()
			return nil, "", err
		}
		code := model.CodeOf(err)
		if !code.ProviderSide() {
			// The provider answered; the input was at fault.
			s.breaker.RecordSuccess()
			return nil, "", model.NewError(code, "image rejected by vision provider", err)
		}
		s.breaker.RecordFailure()
		s.log.Warn("classifier: primary provider failed, using fallback",
			zap.String("provider", s.primary.Name()),
			zap.String("code", string(code)),
			zap.String("correlation_id", req.CorrelationID),
		)
	}

	st.providerUnavailable = true
	facts, err := s.fallback.Extract(ctx, req.ItemID, req.Images, opts)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, "", err
		}
		return nil, "", model.NewError(model.ErrVisionUnavailable, "no vision provider available", err)
	}
	return facts, s.fallback.Name(), nil
}

// enrich fills the enrichment fields of result. Failures leave the result
// without enrichment. Only facts from the primary provider are cached, so a
// fallback answer is not served after the primary recovers.
func (s *Service) enrich(ctx context.Context, req Request, hashes []string, st *requestState, result *model.ClassificationResult, log *zap.Logger) {
	stats := &model.VisionStats{Attempted: true}
	result.VisionStats = stats

	key := cache.FactsKey(hashes, s.cfg.EnrichOptions.FeatureVersion(s.cfg.FeatureVersion), enrichMode)
	facts, ok := s.facts.Get(key)
	monitoring.CacheLookups.WithLabelValues(CacheFacts, monitoring.CacheResult(ok)).Inc()
	if ok {
		facts = facts.Clone()
		facts.ExtractionMeta.CacheHit = true
		stats.VisionCacheHits++
		stats.VisionProvider = facts.ExtractionMeta.Provider
	} else {
		extracted, used, err := s.extract(ctx, req, s.cfg.EnrichOptions, st)
		if err != nil {
			stats.VisionErrors++
			log.Warn("classifier: enrichment skipped", zap.String("code", string(model.CodeOf(err))))
			return
		}
		stats.VisionExtractions++
		stats.VisionProvider = used
		if used == s.primary.Name() {
			s.facts.Set(key, extracted)
		}
		facts = extracted.Clone()
	}

	res := s.resolver.Resolve(facts)
	result.EnrichedAttributes = toEnriched(res)
	if req.IncludeFacts {
		result.VisualFacts = facts
	}
	for name, attr := range res.Slots() {
		monitoring.AttributesResolved.WithLabelValues(name, string(attr.ConfidenceTier)).Inc()
		log.Debug("classifier: resolved attribute",
			zap.String("attribute", name),
			zap.String("value", attr.Value),
			zap.String("tier", string(attr.ConfidenceTier)),
		)
	}
	log.Info("classifier: enriched",
		zap.Strings("attributes", slotNames(res)),
		zap.Bool("facts_cache_hit", ok),
	)
}

func slotNames(res resolve.Result) []string {
	slots := res.Slots()
	names := make([]string, 0, len(slots))
	for name, attr := range slots {
		names = append(names, name+":"+string(attr.ConfidenceTier))
	}
	sort.Strings(names)
	return names
}

func toEnriched(res resolve.Result) *model.EnrichedAttributes {
	return &model.EnrichedAttributes{
		Brand:              enrichedAttr(res.Brand),
		Model:              enrichedAttr(res.Model),
		Color:              enrichedAttr(res.Color),
		SecondaryColor:     enrichedAttr(res.SecondaryColor),
		Material:           enrichedAttr(res.Material),
		SuggestedNextPhoto: res.SuggestedNextPhoto,
	}
}

func enrichedAttr(a *model.ResolvedAttribute) *model.EnrichedAttribute {
	if a == nil {
		return nil
	}
	return &model.EnrichedAttribute{
		Value:           a.Value,
		Confidence:      a.ConfidenceTier,
		ConfidenceScore: a.ConfidenceTier.Score(),
		Evidence:        a.EvidenceRefs,
	}
}

// combinedHash identifies a set of images independent of their order.
func combinedHash(hashes []string) string {
	if len(hashes) == 1 {
		return hashes[0]
	}
	sorted := append([]string(nil), hashes...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, ",")))
	return hex.EncodeToString(sum[:])
}

// Build wires a Service from application config.
func Build(cfg *config.Config) (*Service, error) {
	primary, err := vision.NewProvider(cfg.Vision.Primary, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "classifier: primary provider")
	}
	fallback, err := vision.NewProvider(cfg.Vision.Fallback, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "classifier: fallback provider")
	}
	extCfg := vision.ExtractorConfigFrom(cfg.Vision)

	mapper, err := LoadLabelMapper(cfg.Mapper.Path)
	if err != nil {
		return nil, err
	}
	if !mapper.HasPack(cfg.Mapper.DefaultDomainID) {
		return nil, eris.Errorf("classifier: default domain pack %q is not defined", cfg.Mapper.DefaultDomainID)
	}
	lex, err := resolve.LoadLexicon(cfg.Resolve.LexiconPath)
	if err != nil {
		return nil, err
	}
	resolver, err := resolve.New(lex)
	if err != nil {
		return nil, err
	}

	return NewService(ConfigFrom(cfg),
		vision.NewProviderExtractor(primary, extCfg),
		vision.NewProviderExtractor(fallback, extCfg),
		mapper, resolver), nil
}
