package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/oszuidwest/zwfm-capture/internal/types"
	"github.com/oszuidwest/zwfm-capture/internal/util"
)

// webhookTimeout bounds a single webhook delivery.
const webhookTimeout = 10 * time.Second

var webhookClient = &http.Client{Timeout: webhookTimeout}

// WebhookPayload is the JSON body posted to the webhook.
type WebhookPayload struct {
	Event     string `json:"event"`
	Station   string `json:"station,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error,omitempty"`
	Filename  string `json:"filename,omitempty"`
	Attempts  int    `json:"attempts,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp"` // RFC3339, UTC
}

func newPayload(event, station string, at time.Time) *WebhookPayload {
	return &WebhookPayload{
		Event:     event,
		Station:   station,
		Timestamp: at.UTC().Format(time.RFC3339),
	}
}

// SendFailureWebhook reports a failed session, stamped with the failure time.
func SendFailureWebhook(webhookURL, station string, ev types.StateEvent) error {
	at := ev.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	p := newPayload("capture_failed", station, at)
	p.SessionID = ev.SessionID
	p.Error = ev.Error
	return postWebhook(webhookURL, p)
}

// SendUploadAbandonedWebhook reports a recording that could not be archived.
func SendUploadAbandonedWebhook(webhookURL, station, sessionID, filename, errMsg string, attempts int) error {
	p := newPayload("upload_abandoned", station, time.Now())
	p.SessionID = sessionID
	p.Filename = filename
	p.Error = errMsg
	p.Attempts = attempts
	return postWebhook(webhookURL, p)
}

// SendTestWebhook posts a test payload. Unlike the alerts it fails when no URL is set.
func SendTestWebhook(webhookURL, station string) error {
	if webhookURL == "" {
		return fmt.Errorf("webhook URL not configured")
	}
	p := newPayload("test", station, time.Now())
	p.Message = "This is a test notification from " + AppName
	return postWebhook(webhookURL, p)
}

// postWebhook posts payload and treats any non-2xx response as failure.
// An empty URL is a no-op.
func postWebhook(webhookURL string, payload *WebhookPayload) error {
	if !util.IsConfigured(webhookURL) {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal payload", err)
	}

	resp, err := webhookClient.Post(webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return util.WrapError("send webhook request", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
