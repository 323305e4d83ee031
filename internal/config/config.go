package config

import (
	"fmt"
	"net/netip"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Vision     VisionConfig     `yaml:"vision" mapstructure:"vision"`
	Google     GoogleConfig     `yaml:"google" mapstructure:"google"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Breaker    BreakerConfig    `yaml:"breaker" mapstructure:"breaker"`
	RateLimit  RateLimitConfig  `yaml:"ratelimit" mapstructure:"ratelimit"`
	Mapper     MapperConfig     `yaml:"mapper" mapstructure:"mapper"`
	Resolve    ResolveConfig    `yaml:"resolve" mapstructure:"resolve"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// ServerConfig configures the HTTP boundary.
type ServerConfig struct {
	Port              int      `yaml:"port" mapstructure:"port"`
	MaxUploadBytes    int64    `yaml:"max_upload_bytes" mapstructure:"max_upload_bytes"`
	MaxImages         int      `yaml:"max_images" mapstructure:"max_images"`
	APIKeys           []string `yaml:"api_keys" mapstructure:"api_keys"`
	CORSOrigins       []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	MaxInFlight       int      `yaml:"max_in_flight" mapstructure:"max_in_flight"`
	RequestTimeoutSec int      `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	// TrustedProxies lists proxy addresses or CIDRs whose X-Forwarded-For
	// and X-Real-IP headers are believed. Empty means the peer address is
	// always the client address.
	TrustedProxies []string `yaml:"trusted_proxies" mapstructure:"trusted_proxies"`
}

// VisionConfig configures extraction and the provider calls behind it.
type VisionConfig struct {
	Primary  string `yaml:"primary" mapstructure:"primary"`
	Fallback string `yaml:"fallback" mapstructure:"fallback"`

	EnableOCR    bool   `yaml:"enable_ocr" mapstructure:"enable_ocr"`
	EnableLabels bool   `yaml:"enable_labels" mapstructure:"enable_labels"`
	EnableLogos  bool   `yaml:"enable_logos" mapstructure:"enable_logos"`
	EnableColors bool   `yaml:"enable_colors" mapstructure:"enable_colors"`
	OCRMode      string `yaml:"ocr_mode" mapstructure:"ocr_mode"`

	MaxOCRSnippets int `yaml:"max_ocr_snippets" mapstructure:"max_ocr_snippets"`
	MaxLabelHints  int `yaml:"max_label_hints" mapstructure:"max_label_hints"`
	MaxLogoHints   int `yaml:"max_logo_hints" mapstructure:"max_logo_hints"`
	MaxColors      int `yaml:"max_colors" mapstructure:"max_colors"`
	MaxSnippetLen  int `yaml:"max_snippet_len" mapstructure:"max_snippet_len"`

	MinOCRConfidence   float64 `yaml:"min_ocr_confidence" mapstructure:"min_ocr_confidence"`
	MinLabelConfidence float64 `yaml:"min_label_confidence" mapstructure:"min_label_confidence"`
	MinLogoConfidence  float64 `yaml:"min_logo_confidence" mapstructure:"min_logo_confidence"`

	TimeoutMs         int     `yaml:"timeout_ms" mapstructure:"timeout_ms"`
	MaxRetries        int     `yaml:"max_retries" mapstructure:"max_retries"`
	BackoffBaseMs     int     `yaml:"backoff_base_ms" mapstructure:"backoff_base_ms"`
	BackoffMaxMs      int     `yaml:"backoff_max_ms" mapstructure:"backoff_max_ms"`
	ProviderQPS       float64 `yaml:"provider_qps" mapstructure:"provider_qps"`
	ColorTimeoutMs    int     `yaml:"color_timeout_ms" mapstructure:"color_timeout_ms"`
	MaxParallelImages int     `yaml:"max_parallel_images" mapstructure:"max_parallel_images"`
}

// GoogleConfig holds Cloud Vision API settings.
type GoogleConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// AnthropicConfig holds Anthropic API settings for the Claude vision provider.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// CacheConfig configures the two bounded caches.
type CacheConfig struct {
	Results CacheInstanceConfig `yaml:"results" mapstructure:"results"`
	Facts   CacheInstanceConfig `yaml:"facts" mapstructure:"facts"`
	// FeatureVersion is bumped whenever the requested feature set or its
	// normalization changes, invalidating cached VisualFacts.
	FeatureVersion string `yaml:"feature_version" mapstructure:"feature_version"`
}

// CacheInstanceConfig configures one bounded cache.
type CacheInstanceConfig struct {
	TTLMs      int `yaml:"ttl_ms" mapstructure:"ttl_ms"`
	MaxEntries int `yaml:"max_entries" mapstructure:"max_entries"`
}

// BreakerConfig configures the primary-provider circuit breaker.
type BreakerConfig struct {
	FailureThreshold float64 `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	CooldownMs       int     `yaml:"cooldown_ms" mapstructure:"cooldown_ms"`
	MinimumRequests  int     `yaml:"minimum_requests" mapstructure:"minimum_requests"`
	WindowMs         int     `yaml:"window_ms" mapstructure:"window_ms"`
}

// RateLimitConfig configures the three rate-limit dimensions and their store.
type RateLimitConfig struct {
	IP         RateLimitDimension `yaml:"ip" mapstructure:"ip"`
	Credential RateLimitDimension `yaml:"credential" mapstructure:"credential"`
	Device     RateLimitDimension `yaml:"device" mapstructure:"device"`
	Store      StoreConfig        `yaml:"store" mapstructure:"store"`
}

// RateLimitDimension configures one sliding window.
type RateLimitDimension struct {
	WindowMs      int `yaml:"window_ms" mapstructure:"window_ms"`
	MaxRequests   int `yaml:"max_requests" mapstructure:"max_requests"`
	BaseBackoffMs int `yaml:"base_backoff_ms" mapstructure:"base_backoff_ms"`
	MaxBackoffMs  int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// StoreConfig selects the shared window store backend.
type StoreConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	URL    string `yaml:"url" mapstructure:"url"`
}

// MapperConfig configures the domain-category mapper.
type MapperConfig struct {
	Path            string `yaml:"path" mapstructure:"path"`
	DefaultDomainID string `yaml:"default_domain_pack" mapstructure:"default_domain_pack"`
}

// ResolveConfig configures the attribute resolver.
type ResolveConfig struct {
	LexiconPath string `yaml:"lexicon_path" mapstructure:"lexicon_path"`
}

// MonitoringConfig configures the background alert checker.
type MonitoringConfig struct {
	Enabled           bool   `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL        string `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	// DeniedThreshold is the number of rate-limit denials per dimension
	// between two checks that raises an alert. Zero disables the alert.
	DeniedThreshold int64 `yaml:"denied_threshold" mapstructure:"denied_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("VISION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_upload_bytes", 10<<20)
	v.SetDefault("server.max_images", 5)
	v.SetDefault("server.max_in_flight", 4)
	v.SetDefault("server.request_timeout_secs", 30)
	v.SetDefault("vision.primary", "google")
	v.SetDefault("vision.fallback", "mock")
	v.SetDefault("vision.enable_ocr", true)
	v.SetDefault("vision.enable_labels", true)
	v.SetDefault("vision.enable_logos", true)
	v.SetDefault("vision.enable_colors", true)
	v.SetDefault("vision.ocr_mode", "text")
	v.SetDefault("vision.max_ocr_snippets", 10)
	v.SetDefault("vision.max_label_hints", 10)
	v.SetDefault("vision.max_logo_hints", 5)
	v.SetDefault("vision.max_colors", 5)
	v.SetDefault("vision.max_snippet_len", 100)
	v.SetDefault("vision.min_ocr_confidence", 0.5)
	v.SetDefault("vision.min_label_confidence", 0.5)
	v.SetDefault("vision.min_logo_confidence", 0.5)
	v.SetDefault("vision.timeout_ms", 10000)
	v.SetDefault("vision.max_retries", 2)
	v.SetDefault("vision.backoff_base_ms", 250)
	v.SetDefault("vision.backoff_max_ms", 5000)
	v.SetDefault("vision.provider_qps", 10.0)
	v.SetDefault("vision.color_timeout_ms", 1500)
	v.SetDefault("vision.max_parallel_images", 3)
	v.SetDefault("google.base_url", "https://vision.googleapis.com/v1")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("cache.results.ttl_ms", 10*60*1000)
	v.SetDefault("cache.results.max_entries", 500)
	v.SetDefault("cache.facts.ttl_ms", 30*60*1000)
	v.SetDefault("cache.facts.max_entries", 1000)
	v.SetDefault("cache.feature_version", "v1")
	v.SetDefault("breaker.failure_threshold", 0.5)
	v.SetDefault("breaker.cooldown_ms", 30000)
	v.SetDefault("breaker.minimum_requests", 5)
	v.SetDefault("breaker.window_ms", 60000)
	v.SetDefault("ratelimit.ip.window_ms", 60000)
	v.SetDefault("ratelimit.ip.max_requests", 60)
	v.SetDefault("ratelimit.ip.base_backoff_ms", 1000)
	v.SetDefault("ratelimit.ip.max_backoff_ms", 300000)
	v.SetDefault("ratelimit.credential.window_ms", 60000)
	v.SetDefault("ratelimit.credential.max_requests", 120)
	v.SetDefault("ratelimit.credential.base_backoff_ms", 1000)
	v.SetDefault("ratelimit.credential.max_backoff_ms", 300000)
	v.SetDefault("ratelimit.device.window_ms", 60000)
	v.SetDefault("ratelimit.device.max_requests", 30)
	v.SetDefault("ratelimit.device.base_backoff_ms", 1000)
	v.SetDefault("ratelimit.device.max_backoff_ms", 300000)
	v.SetDefault("ratelimit.store.driver", "memory")
	v.SetDefault("mapper.default_domain_pack", "home_resale")
	v.SetDefault("monitoring.check_interval_secs", 60)
	v.SetDefault("monitoring.denied_threshold", 100)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

var (
	knownProviders = map[string]bool{"google": true, "claude": true, "mock": true}
	knownDrivers   = map[string]bool{"memory": true, "redis": true, "postgres": true, "sqlite": true}
)

// Validate checks the fields a command mode depends on. Modes are "serve"
// and "extract". All problems are reported together.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Server.MaxImages < 1 {
			errs = append(errs, "server.max_images must be >= 1")
		}
		if _, err := ParsePrefixes(c.Server.TrustedProxies); err != nil {
			errs = append(errs, "server.trusted_proxies: "+err.Error())
		}
		if !knownDrivers[c.RateLimit.Store.Driver] {
			errs = append(errs, fmt.Sprintf("ratelimit.store.driver %q is not one of memory, redis, postgres, sqlite", c.RateLimit.Store.Driver))
		} else if c.RateLimit.Store.Driver != "memory" && c.RateLimit.Store.URL == "" {
			errs = append(errs, fmt.Sprintf("ratelimit.store.url is required for driver %s", c.RateLimit.Store.Driver))
		}
		if c.Cache.Results.MaxEntries <= 0 || c.Cache.Facts.MaxEntries <= 0 {
			errs = append(errs, "cache max_entries must be > 0")
		}
		if c.Breaker.FailureThreshold <= 0 || c.Breaker.FailureThreshold >= 1 {
			errs = append(errs, "breaker.failure_threshold must be between 0 and 1")
		}
	case "extract":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	errs = append(errs, c.validateVision()...)

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateVision() []string {
	var errs []string
	if !knownProviders[c.Vision.Primary] {
		errs = append(errs, fmt.Sprintf("vision.primary %q is not one of google, claude, mock", c.Vision.Primary))
	}
	if !knownProviders[c.Vision.Fallback] {
		errs = append(errs, fmt.Sprintf("vision.fallback %q is not one of google, claude, mock", c.Vision.Fallback))
	}
	if (c.Vision.Primary == "google" || c.Vision.Fallback == "google") && c.Google.Key == "" {
		errs = append(errs, "google.key is required for the google provider")
	}
	if (c.Vision.Primary == "claude" || c.Vision.Fallback == "claude") && c.Anthropic.Key == "" {
		errs = append(errs, "anthropic.key is required for the claude provider")
	}
	if c.Vision.OCRMode != "text" && c.Vision.OCRMode != "document" {
		errs = append(errs, fmt.Sprintf("vision.ocr_mode must be text or document, got %q", c.Vision.OCRMode))
	}
	for name, v := range map[string]float64{
		"min_ocr_confidence":   c.Vision.MinOCRConfidence,
		"min_label_confidence": c.Vision.MinLabelConfidence,
		"min_logo_confidence":  c.Vision.MinLogoConfidence,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Sprintf("vision.%s must be between 0 and 1", name))
		}
	}
	sort.Strings(errs)
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

// ParsePrefixes parses addresses and CIDRs. A bare address becomes a
// single-host prefix.
func ParsePrefixes(entries []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, eris.Wrapf(err, "config: parse prefix %q", e)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(e)
		if err != nil {
			return nil, eris.Wrapf(err, "config: parse address %q", e)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}
