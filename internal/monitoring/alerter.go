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

	"github.com/sells-group/auction-ocr/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertFailureRate  AlertType = "failure_rate"
	AlertReviewDepth  AlertType = "review_depth"
	AlertAutoPassDrop AlertType = "auto_pass_drop"
)

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
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// minDecided is the smallest decided-record count worth alerting on; rate
// alerts on a handful of records are noise.
const minDecided = 5

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	decided := snap.AutoPass + snap.NeedsReview + snap.Verified + snap.Failed
	if decided >= minDecided && a.cfg.FailureRateThreshold > 0 && snap.FailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"extraction failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d decided)",
				snap.FailRate*100, a.cfg.FailureRateThreshold*100, snap.Failed, decided,
			),
			Details: map[string]any{
				"fail_rate": snap.FailRate,
				"threshold": a.cfg.FailureRateThreshold,
				"failed":    snap.Failed,
				"decided":   decided,
			},
			Timestamp: now,
		})
	}

	if a.cfg.ReviewDepthThreshold > 0 && snap.ReviewDepth > a.cfg.ReviewDepthThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertReviewDepth,
			Severity: "medium",
			Message: fmt.Sprintf(
				"review queue depth %d exceeds threshold %d",
				snap.ReviewDepth, a.cfg.ReviewDepthThreshold,
			),
			Details: map[string]any{
				"review_depth": snap.ReviewDepth,
				"threshold":    a.cfg.ReviewDepthThreshold,
			},
			Timestamp: now,
		})
	}

	if decided >= minDecided && a.cfg.AutoPassFloor > 0 && snap.AutoPassRate < a.cfg.AutoPassFloor {
		alerts = append(alerts, Alert{
			Type:     AlertAutoPassDrop,
			Severity: "medium",
			Message: fmt.Sprintf(
				"auto-pass rate %.1f%% is below floor %.1f%%, likely a template or scan-quality regression",
				snap.AutoPassRate*100, a.cfg.AutoPassFloor*100,
			),
			Details: map[string]any{
				"auto_pass_rate": snap.AutoPassRate,
				"floor":          a.cfg.AutoPassFloor,
			},
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
