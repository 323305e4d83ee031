package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vision-cli/internal/config"
	"github.com/sells-group/vision-cli/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertBreakerOpen     AlertType = "breaker_open"
	AlertLimiterDegraded AlertType = "limiter_degraded"
	AlertRateLimitSpike  AlertType = "rate_limit_spike"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a Snapshot against configured thresholds and sends
// alerts via webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if b := snap.Breaker; b != nil && b.State == resilience.CircuitOpen.String() {
		alerts = append(alerts, Alert{
			Type:     AlertBreakerOpen,
			Severity: "high",
			Message: fmt.Sprintf(
				"Vision provider %s breaker is open (%d failures / %d successes in window); serving from fallback",
				b.Name, b.Failures, b.Successes,
			),
			Details: map[string]any{
				"breaker":   b.Name,
				"failures":  b.Failures,
				"successes": b.Successes,
			},
			Timestamp: now,
		})
	}

	for _, l := range snap.RateLimits {
		if l.Degraded {
			alerts = append(alerts, Alert{
				Type:     AlertLimiterDegraded,
				Severity: "medium",
				Message:  fmt.Sprintf("Rate limiter %s lost its shared store and is counting locally", l.Dimension),
				Details: map[string]any{
					"dimension": l.Dimension,
				},
				Timestamp: now,
			})
		}
		if a.cfg.DeniedThreshold > 0 && l.DeniedSinceLast >= a.cfg.DeniedThreshold {
			alerts = append(alerts, Alert{
				Type:     AlertRateLimitSpike,
				Severity: "medium",
				Message: fmt.Sprintf(
					"Rate limiter %s denied %d requests since last check (threshold %d, %d keys in backoff)",
					l.Dimension, l.DeniedSinceLast, a.cfg.DeniedThreshold, l.ViolatingKeys,
				),
				Details: map[string]any{
					"dimension":      l.Dimension,
					"denied":         l.DeniedSinceLast,
					"threshold":      a.cfg.DeniedThreshold,
					"violating_keys": l.ViolatingKeys,
				},
				Timestamp: now,
			})
		}
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if len(alerts) == 0 {
		return 0
	}
	if a.cfg.WebhookURL == "" {
		for _, alert := range alerts {
			zap.L().Warn("monitoring: alert", zap.String("type", string(alert.Type)), zap.String("message", alert.Message))
		}
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
