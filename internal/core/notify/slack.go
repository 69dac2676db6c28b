// Package notify sends operational notifications to Slack. A missing
// webhook URL disables notifications with a logged skip rather than an
// error: notification is an observability concern, never a sync blocker.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cbroglie/mustache"
	"github.com/rs/zerolog"
)

// Notifier posts to a Slack incoming webhook.
type Notifier struct {
	WebhookURL string
	Client     *http.Client
	Log        zerolog.Logger
}

// New creates a notifier. An empty webhook URL makes every send a no-op.
func New(webhookURL string, log zerolog.Logger) *Notifier {
	return &Notifier{
		WebhookURL: webhookURL,
		Client:     &http.Client{Timeout: 10 * time.Second},
		Log:        log,
	}
}

type attachment struct {
	Color  string `json:"color"`
	Title  string `json:"title"`
	Text   string `json:"text"`
	Footer string `json:"footer"`
	TS     int64  `json:"ts"`
}

type payload struct {
	Attachments []attachment `json:"attachments"`
}

const (
	colorOK    = "#36a64f"
	colorError = "#ff0000"
)

const (
	successTemplate = "*Platform:* {{platform}}\n" +
		"*Window:* {{window}}\n" +
		"*Entities:* {{entities}}\n" +
		"*Files downloaded:* {{files}}\n" +
		"*Orders imported:* {{orders}}\n" +
		"*Duration:* {{duration}}"

	failureTemplate = "*Platform:* {{platform}}\n" +
		"*Stage:* {{stage}}\n" +
		"*Error:* {{error}}"

	reauthTemplate = "*Platform:* {{platform}}\n" +
		"*Reason:* {{reason}}\n" +
		"*Action Required:* Manual login needed\n\n" +
		"Run: `deliverydash login {{platform}}`"
)

// SyncSuccess reports a completed run.
func (n *Notifier) SyncSuccess(ctx context.Context, platform, window string, entities, files, ordersImported int, duration time.Duration) {
	text, err := mustache.Render(successTemplate, map[string]interface{}{
		"platform": platform,
		"window":   window,
		"entities": entities,
		"files":    files,
		"orders":   ordersImported,
		"duration": fmt.Sprintf("%.1fs", duration.Seconds()),
	})
	if err != nil {
		n.Log.Error().Err(err).Msg("render success notification")
		return
	}
	n.send(ctx, ":white_check_mark: Delivery Sync Complete", text, colorOK)
}

// SyncFailure reports a failed run.
func (n *Notifier) SyncFailure(ctx context.Context, platform, stage, errMsg string) {
	text, err := mustache.Render(failureTemplate, map[string]interface{}{
		"platform": platform,
		"stage":    stage,
		"error":    errMsg,
	})
	if err != nil {
		n.Log.Error().Err(err).Msg("render failure notification")
		return
	}
	n.send(ctx, ":x: Delivery Sync Failed", text, colorError)
}

// ReauthNeeded reports that the session cannot be recovered silently and
// an operator must log in.
func (n *Notifier) ReauthNeeded(ctx context.Context, platform, reason string) {
	text, err := mustache.Render(reauthTemplate, map[string]interface{}{
		"platform": platform,
		"reason":   reason,
	})
	if err != nil {
		n.Log.Error().Err(err).Msg("render reauth notification")
		return
	}
	n.send(ctx, fmt.Sprintf(":rotating_light: %s Re-Authentication Required", platform), text, colorError)
}

func (n *Notifier) send(ctx context.Context, title, text, color string) {
	if n.WebhookURL == "" {
		n.Log.Warn().Msg("slack webhook not configured, skipping notification")
		return
	}

	body, err := json.Marshal(payload{Attachments: []attachment{{
		Color:  color,
		Title:  title,
		Text:   text,
		Footer: "deliverydash",
		TS:     time.Now().Unix(),
	}}})
	if err != nil {
		n.Log.Error().Err(err).Msg("encode notification")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.WebhookURL, bytes.NewReader(body))
	if err != nil {
		n.Log.Error().Err(err).Msg("build notification request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.Client.Do(req)
	if err != nil {
		n.Log.Error().Err(err).Msg("send slack notification")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		n.Log.Error().Int("status", resp.StatusCode).Msg("slack webhook rejected notification")
		return
	}
	n.Log.Info().Str("title", title).Msg("slack notification sent")
}
