package resilience

import (
	"time"

	"github.com/sells-group/vision-cli/internal/config"
)

// FromRetryConfig converts provider config values to a RetryConfig.
func FromRetryConfig(cfg config.VisionConfig) RetryConfig {
	out := DefaultRetryConfig()
	if cfg.MaxRetries >= 0 {
		out.MaxRetries = cfg.MaxRetries
	}
	if cfg.BackoffBaseMs > 0 {
		out.InitialBackoff = time.Duration(cfg.BackoffBaseMs) * time.Millisecond
	}
	if cfg.BackoffMaxMs > 0 {
		out.MaxBackoff = time.Duration(cfg.BackoffMaxMs) * time.Millisecond
	}
	return out
}

// FromBreakerConfig converts config values to a CircuitBreakerConfig.
func FromBreakerConfig(cfg config.BreakerConfig) CircuitBreakerConfig {
	out := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold > 0 {
		out.FailureThreshold = cfg.FailureThreshold
	}
	if cfg.MinimumRequests > 0 {
		out.MinimumRequests = cfg.MinimumRequests
	}
	if cfg.CooldownMs > 0 {
		out.Cooldown = time.Duration(cfg.CooldownMs) * time.Millisecond
	}
	if cfg.WindowMs > 0 {
		out.Window = time.Duration(cfg.WindowMs) * time.Millisecond
	}
	return out
}

// FromRateLimitConfig converts one dimension's config to a RateLimitConfig.
func FromRateLimitConfig(dimension string, cfg config.RateLimitDimension) RateLimitConfig {
	out := DefaultRateLimitConfig(dimension)
	if cfg.WindowMs > 0 {
		out.Window = time.Duration(cfg.WindowMs) * time.Millisecond
	}
	if cfg.MaxRequests > 0 {
		out.MaxRequests = cfg.MaxRequests
	}
	if cfg.BaseBackoffMs > 0 {
		out.BaseBackoff = time.Duration(cfg.BaseBackoffMs) * time.Millisecond
	}
	if cfg.MaxBackoffMs > 0 {
		out.MaxBackoff = time.Duration(cfg.MaxBackoffMs) * time.Millisecond
	}
	return out
}
