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

	"github.com/talentsift/harvest-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertSyncFailureRate AlertType = "sync_failure_rate"
	AlertSessionExpired  AlertType = "session_expired"
	AlertHarvestStalled  AlertType = "harvest_stalled"
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

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// Sync failure rate.
	attempts := snap.RecordsSynced + snap.SyncFailures
	if attempts >= 20 && snap.SyncFailRate > a.cfg.SyncFailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertSyncFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Sync failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d attempts in last %dh)",
				snap.SyncFailRate*100, a.cfg.SyncFailureRateThreshold*100,
				snap.SyncFailures, attempts, snap.LookbackHours,
			),
			Details: map[string]any{
				"fail_rate": snap.SyncFailRate,
				"threshold": a.cfg.SyncFailureRateThreshold,
				"failed":    snap.SyncFailures,
				"attempts":  attempts,
			},
			Timestamp: now,
		})
	}

	// Consecutive login walls mean the session cookies are dead; no amount
	// of re-running fixes that without a fresh export.
	if a.cfg.LoginWallStreak > 0 && snap.WallStreak >= a.cfg.LoginWallStreak {
		alerts = append(alerts, Alert{
			Type:     AlertSessionExpired,
			Severity: "high",
			Message: fmt.Sprintf(
				"Last %d run(s) ended on a login wall; session cookies have likely expired",
				snap.WallStreak,
			),
			Details: map[string]any{
				"wall_streak": snap.WallStreak,
				"last_run_at": snap.LastRunAt,
			},
			Timestamp: now,
		})
	}

	// No runs inside the window while history exists at all.
	if snap.RunsTotal == 0 && !snap.LastRunAt.IsZero() {
		alerts = append(alerts, Alert{
			Type:     AlertHarvestStalled,
			Severity: "medium",
			Message: fmt.Sprintf(
				"No harvest runs in the last %dh (most recent started %s)",
				snap.LookbackHours, snap.LastRunAt.Format(time.RFC3339),
			),
			Details: map[string]any{
				"last_run_at": snap.LastRunAt,
				"last_status": snap.LastStatus,
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
