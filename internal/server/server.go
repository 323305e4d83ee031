// Package server is the HTTP boundary: authentication, per-dimension rate
// limiting, per-credential concurrency admission, upload validation and the
// classification and attribute editing endpoints.
package server

import (
	"context"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/vision-cli/internal/classifier"
	"github.com/sells-group/vision-cli/internal/config"
	"github.com/sells-group/vision-cli/internal/model"
	"github.com/sells-group/vision-cli/internal/monitoring"
	"github.com/sells-group/vision-cli/internal/resilience"
)

// Rate limit dimensions.
const (
	DimensionIP         = "ip"
	DimensionCredential = "credential"
	DimensionDevice     = "device"
)

// Classifier runs classification requests.
type Classifier interface {
	Classify(ctx context.Context, req classifier.Request) (*model.ClassificationResult, error)
}

// Config controls the HTTP boundary.
type Config struct {
	MaxUploadBytes int64
	MaxImages      int
	// APIKeys lists accepted X-API-Key values. Empty disables
	// authentication.
	APIKeys        []string
	CORSOrigins    []string
	MaxInFlight    int
	RequestTimeout time.Duration
	// TrustedProxies are the peers allowed to report the client address in
	// forwarding headers. Requests from any other peer are keyed by the
	// peer address.
	TrustedProxies []netip.Prefix
}

// ConfigFrom builds a server Config from application config.
func ConfigFrom(cfg *config.Config) Config {
	// Entries are checked by config.Validate; unparsable lists trust nobody.
	trusted, _ := config.ParsePrefixes(cfg.Server.TrustedProxies)
	return Config{
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		MaxImages:      cfg.Server.MaxImages,
		APIKeys:        cfg.Server.APIKeys,
		CORSOrigins:    cfg.Server.CORSOrigins,
		MaxInFlight:    cfg.Server.MaxInFlight,
		RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSec) * time.Second,
		TrustedProxies: trusted,
	}
}

// Limiters holds one rate limiter per dimension.
type Limiters struct {
	IP         *resilience.RateLimiter
	Credential *resilience.RateLimiter
	Device     *resilience.RateLimiter
}

// NewLimiters creates the three limiters over an optional shared store and
// counts denials in the rate limit metric.
func NewLimiters(cfg config.RateLimitConfig, shared resilience.WindowStore) Limiters {
	l := Limiters{
		IP:         resilience.NewRateLimiter(resilience.FromRateLimitConfig(DimensionIP, cfg.IP), shared),
		Credential: resilience.NewRateLimiter(resilience.FromRateLimitConfig(DimensionCredential, cfg.Credential), shared),
		Device:     resilience.NewRateLimiter(resilience.FromRateLimitConfig(DimensionDevice, cfg.Device), shared),
	}
	for _, rl := range l.all() {
		rl.OnDenied = func(dimension string) {
			monitoring.RateLimitDenied.WithLabelValues(dimension).Inc()
		}
	}
	return l
}

// Sweep drops idle keys from every limiter.
func (l Limiters) Sweep() {
	for _, rl := range l.all() {
		if rl != nil {
			rl.Sweep()
		}
	}
}

func (l Limiters) all() []*resilience.RateLimiter {
	return []*resilience.RateLimiter{l.IP, l.Credential, l.Device}
}

// Sources returns the limiters as monitoring sources.
func (l Limiters) Sources() []monitoring.LimiterSource {
	out := make([]monitoring.LimiterSource, 0, 3)
	for _, rl := range l.all() {
		if rl != nil {
			out = append(out, rl)
		}
	}
	return out
}

// Server routes HTTP requests to the classifier and the attribute editing
// operations.
type Server struct {
	cfg       Config
	svc       Classifier
	limiters  Limiters
	inflight  *resilience.InFlight
	collector *monitoring.Collector
	router    chi.Router
	nowFunc   func() time.Time
	log       *zap.Logger
}

// New creates a Server. collector may be nil, which disables /v1/status.
func New(cfg Config, svc Classifier, limiters Limiters, collector *monitoring.Collector) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	if cfg.MaxImages <= 0 {
		cfg.MaxImages = 5
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	s := &Server{
		cfg:       cfg,
		svc:       svc,
		limiters:  limiters,
		inflight:  resilience.NewInFlight(cfg.MaxInFlight),
		collector: collector,
		nowFunc:   time.Now,
		log:       zap.L().With(zap.String("component", "server")),
	}
	s.router = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.realIP)
	r.Use(s.requestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", headerAPIKey, headerDeviceID, headerCorrelationID},
			ExposedHeaders: []string{"Retry-After", headerRequestID},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.Use(s.rateLimit(s.limiters.IP, clientIP))
		r.Use(s.rateLimit(s.limiters.Credential, credential))
		r.Use(s.rateLimit(s.limiters.Device, deviceID))
		r.Use(s.admit)

		r.Get("/status", s.handleStatus)
		r.Post("/classify", s.handleClassify)
		r.Route("/attributes", func(r chi.Router) {
			r.Post("/merge", s.handleMerge)
			r.Post("/suggestions/{key}/accept", s.handleAcceptSuggestion)
			r.Post("/suggestions/{key}/dismiss", s.handleDismissSuggestion)
			r.Post("/summary", s.handleSummaryEdit)
			r.Post("/summary/parse", s.handleSummaryParse)
			r.Post("/summary/format", s.handleSummaryFormat)
		})
	})
	return r
}
