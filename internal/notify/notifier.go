// Package notify delivers alerts about failed capture sessions and
// abandoned uploads by webhook and Microsoft Graph email.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-capture/internal/archive"
	"github.com/oszuidwest/zwfm-capture/internal/config"
	"github.com/oszuidwest/zwfm-capture/internal/types"
	"github.com/oszuidwest/zwfm-capture/internal/util"
)

// AppName is the application name used in notifications.
const AppName = "ZuidWest FM Capture"

// emailTimeout bounds delivery of one email, retries included.
const emailTimeout = 2 * time.Minute

// Notifier sends at most one alert per failed session on every configured channel.
type Notifier struct {
	cfg *config.Config

	// mu protects the fields below
	mu           sync.Mutex
	lastNotified string // session ID of the last failure alert

	// Cached Graph client for email notifications
	graphClient *GraphClient
	graphKey    types.GraphConfig

	wg sync.WaitGroup
}

// NewNotifier returns a Notifier configured with the given config.
func NewNotifier(cfg *config.Config) *Notifier {
	return &Notifier{cfg: cfg}
}

// HandleState alerts on failed sessions. Other states are ignored.
func (n *Notifier) HandleState(ev types.StateEvent) {
	if ev.State != types.StateFailed {
		return
	}

	n.mu.Lock()
	if n.lastNotified == ev.SessionID {
		n.mu.Unlock()
		return
	}
	n.lastNotified = ev.SessionID
	n.mu.Unlock()

	cfg := n.cfg.Snapshot()
	if cfg.HasWebhook() {
		n.send("Failure webhook", func() error {
			return SendFailureWebhook(cfg.WebhookURL, cfg.StationName, ev)
		})
	}
	if cfg.HasGraph() {
		subject, body := failureEmail(cfg.StationName, ev)
		n.send("Failure email", func() error { return n.sendEmail(&cfg.Graph, subject, body) })
	}
}

// UploadAbandoned alerts that a recording could not be archived.
func (n *Notifier) UploadAbandoned(a archive.AbandonedUpload) {
	cfg := n.cfg.Snapshot()
	if cfg.HasWebhook() {
		n.send("Upload abandoned webhook", func() error {
			return SendUploadAbandonedWebhook(cfg.WebhookURL, cfg.StationName, a.SessionID, a.Filename, a.LastError, a.Attempts)
		})
	}
	if cfg.HasGraph() {
		subject, body := uploadAbandonedEmail(cfg.StationName, a)
		n.send("Upload abandoned email", func() error { return n.sendEmail(&cfg.Graph, subject, body) })
	}
}

// SendTest sends a test notification on every configured channel and reports the first error.
func (n *Notifier) SendTest() error {
	cfg := n.cfg.Snapshot()
	if !cfg.HasWebhook() && !cfg.HasGraph() {
		return fmt.Errorf("no notification channel configured")
	}
	if cfg.HasWebhook() {
		if err := SendTestWebhook(cfg.WebhookURL, cfg.StationName); err != nil {
			return err
		}
	}
	if cfg.HasGraph() {
		subject, body := testEmail(cfg.StationName)
		if err := n.sendEmail(&cfg.Graph, subject, body); err != nil {
			return err
		}
	}
	return nil
}

// Wait blocks until in-flight notifications finish.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// send delivers a notification in the background and logs the result.
func (n *Notifier) send(notifyType string, fn func() error) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := fn(); err != nil {
			slog.Error("notification failed", "type", notifyType, "error", err)
			return
		}
		slog.Info("notification sent", "type", notifyType)
	}()
}

// getOrCreateGraphClient returns the cached Graph client, recreating it when the config changed.
func (n *Notifier) getOrCreateGraphClient(cfg *types.GraphConfig) (*GraphClient, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.graphClient != nil && n.graphKey == *cfg {
		return n.graphClient, nil
	}

	client, err := NewGraphClient(cfg)
	if err != nil {
		return nil, err
	}
	n.graphClient = client
	n.graphKey = *cfg
	return client, nil
}

// sendEmail handles the common email sending infrastructure.
func (n *Notifier) sendEmail(cfg *types.GraphConfig, subject, body string) error {
	if !cfg.IsConfigured() {
		return nil
	}

	client, err := n.getOrCreateGraphClient(cfg)
	if err != nil {
		return util.WrapError("create Graph client", err)
	}

	recipients := ParseRecipients(cfg.Recipients)
	if len(recipients) == 0 {
		return fmt.Errorf("no valid recipients")
	}

	ctx, cancel := context.WithTimeout(context.Background(), emailTimeout)
	defer cancel()

	if err := client.SendMail(ctx, recipients, subject, body); err != nil {
		return util.WrapError("send email via Graph", err)
	}
	return nil
}
