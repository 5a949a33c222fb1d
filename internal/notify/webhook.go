package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/soundwatch/noisemeter/internal/util"
)

// webhookTimeout bounds a single delivery attempt.
const webhookTimeout = 10 * time.Second

// WebhookPayload represents the data sent to webhook endpoints.
type WebhookPayload struct {
	Event       string  `json:"event"`
	LevelDB     float64 `json:"level_db,omitempty"`
	ThresholdDB float64 `json:"threshold_db,omitempty"`
	DurationMs  int64   `json:"duration_ms,omitempty"`
	Message     string  `json:"message,omitempty"`
	Timestamp   string  `json:"timestamp"`
}

// SendAlertWebhook notifies the configured webhook that dangerous sound
// levels have been sustained past the trigger window.
func SendAlertWebhook(webhookURL string, levelDB, thresholdDB float64) error {
	return sendWebhook(webhookURL, &WebhookPayload{
		Event:       "noise_alert",
		LevelDB:     levelDB,
		ThresholdDB: thresholdDB,
		Timestamp:   timestampUTC(),
	})
}

// SendRecoveryWebhook notifies the configured webhook that levels dropped
// back below the threshold.
func SendRecoveryWebhook(webhookURL string, levelDB, thresholdDB float64, durationMs int64) error {
	return sendWebhook(webhookURL, &WebhookPayload{
		Event:       "noise_recovered",
		LevelDB:     levelDB,
		ThresholdDB: thresholdDB,
		DurationMs:  durationMs,
		Message:     fmt.Sprintf("Loud environment lasted %s", util.FormatDuration(durationMs)),
		Timestamp:   timestampUTC(),
	})
}

// SendTestWebhook sends a test notification to verify configuration.
func SendTestWebhook(webhookURL string) error {
	if webhookURL == "" {
		return fmt.Errorf("webhook URL not configured")
	}
	return sendWebhook(webhookURL, &WebhookPayload{
		Event:     "test",
		Message:   "This is a test notification from noisemeter",
		Timestamp: timestampUTC(),
	})
}

// sendWebhook delivers a notification to the configured webhook endpoint.
func sendWebhook(webhookURL string, payload *WebhookPayload) error {
	if !util.IsConfigured(webhookURL) {
		return nil // Silently skip if not configured
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal payload", err)
	}

	client := &http.Client{Timeout: webhookTimeout}
	resp, err := client.Post(webhookURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return util.WrapError("send webhook request", err)
	}
	defer util.SafeClose(resp.Body, "webhook response body")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func timestampUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}
