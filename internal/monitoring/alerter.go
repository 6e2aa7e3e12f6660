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

	"github.com/sells-group/prefetch/internal/config"
	"github.com/sells-group/prefetch/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertLowAccuracy         AlertType = "low_accuracy"
	AlertWarningRate         AlertType = "warning_rate"
	AlertThresholdSaturation AlertType = "threshold_saturation"
	AlertStoreUnavailable    AlertType = "store_unavailable"
	AlertWriteBacklog        AlertType = "write_backlog"
)

// minInteractions gates the warning-rate alert on a meaningful sample.
const minInteractions = 20

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  resilience.DefaultRetryConfig(),
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if snap.Outcomes >= a.cfg.MinOutcomes && snap.Outcomes > 0 && snap.Accuracy < a.cfg.MinAccuracy {
		alerts = append(alerts, Alert{
			Type:     AlertLowAccuracy,
			Severity: "high",
			Message: fmt.Sprintf(
				"Prediction accuracy %.1f%% is below %.1f%% (%d correct / %d outcomes across %d sessions)",
				snap.Accuracy*100, a.cfg.MinAccuracy*100, snap.Correct, snap.Outcomes, snap.Sessions,
			),
			Details: map[string]any{
				"accuracy":  snap.Accuracy,
				"threshold": a.cfg.MinAccuracy,
				"outcomes":  snap.Outcomes,
			},
			Timestamp: now,
		})
	}

	if a.cfg.MaxWarningRate > 0 && snap.Interactions >= minInteractions && snap.WarningRate > a.cfg.MaxWarningRate {
		alerts = append(alerts, Alert{
			Type:     AlertWarningRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d degenerate-state warnings over %d interactions (rate %.2f > %.2f)",
				snap.Warnings, snap.Interactions, snap.WarningRate, a.cfg.MaxWarningRate,
			),
			Details: map[string]any{
				"warnings":     snap.Warnings,
				"interactions": snap.Interactions,
				"rate":         snap.WarningRate,
			},
			Timestamp: now,
		})
	}

	if snap.WarmSessions > 0 && snap.SaturatedSessions*2 >= snap.WarmSessions {
		alerts = append(alerts, Alert{
			Type:     AlertThresholdSaturation,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d of %d warm sessions have thresholds pinned at a bound",
				snap.SaturatedSessions, snap.WarmSessions,
			),
			Details: map[string]any{
				"saturated":      snap.SaturatedSessions,
				"warm_sessions":  snap.WarmSessions,
				"avg_thresholds": snap.AvgThresholds,
			},
			Timestamp: now,
		})
	}

	if snap.StoreCircuit == resilience.CircuitOpen.String() {
		alerts = append(alerts, Alert{
			Type:      AlertStoreUnavailable,
			Severity:  "high",
			Message:   "Session store circuit breaker is open",
			Details:   map[string]any{"dlq_depth": snap.DLQDepth},
			Timestamp: now,
		})
	}

	if snap.DLQDepth > 0 {
		alerts = append(alerts, Alert{
			Type:      AlertWriteBacklog,
			Severity:  "medium",
			Message:   fmt.Sprintf("%d session write(s) waiting for retry", snap.DLQDepth),
			Details:   map[string]any{"dlq_depth": snap.DLQDepth},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		retry := a.retry
		retry.OnRetry = resilience.RetryLogger("webhook", zap.String("type", string(alert.Type)))
		if err := resilience.Do(ctx, retry, func(ctx context.Context) error {
			return a.sendWebhook(ctx, alert)
		}); err != nil {
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
		err := eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(err, resp.StatusCode)
		}
		return err
	}
	return nil
}
