// Package notify delivers formatted verification messages to external chat
// channels. Delivery is best-effort: callers log failures and move on.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alfredjeanlab/verifyd/internal/model"
)

// Channels notified when a verification starts.
const (
	ChannelLeadVendor = "lead_vendor"
	ChannelTransfer   = "transfer"
)

// Notification types.
const (
	TypeVerificationStarted = "verification_started"
	TypeTransferredToLA     = "transferred_to_la"
)

// Notification is the lead context and type handed to a channel.
type Notification struct {
	// Key deduplicates retries on the receiving side.
	Key       string
	Type      string
	SessionID string
	Lead      model.LeadInfo
	AgentName string
}

// FromPayload builds a Notification from an outbox payload.
func FromPayload(key string, p model.NotificationPayload) Notification {
	return Notification{
		Key:       key,
		Type:      p.Type,
		SessionID: p.SessionID,
		Lead:      p.Lead,
		AgentName: p.AgentName,
	}
}

// Notifier delivers a notification to one channel.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Format renders the human-readable message text for a notification.
func Format(n Notification) string {
	customer := n.Lead.CustomerName
	if customer == "" {
		customer = "Unknown customer"
	}
	vendor := n.Lead.LeadVendor
	if vendor == "" {
		vendor = "unknown vendor"
	}

	var b strings.Builder
	switch n.Type {
	case TypeVerificationStarted:
		fmt.Fprintf(&b, "Verification started: %s (%s)", customer, vendor)
	case TypeTransferredToLA:
		fmt.Fprintf(&b, "Transferred to licensed agent: %s (%s)", customer, vendor)
	default:
		fmt.Fprintf(&b, "%s: %s (%s)", n.Type, customer, vendor)
	}
	if n.AgentName != "" {
		fmt.Fprintf(&b, ", agent %s", n.AgentName)
	}
	fmt.Fprintf(&b, "\nSubmission %s", n.Lead.SubmissionID)
	if n.SessionID != "" {
		fmt.Fprintf(&b, ", session %s", n.SessionID)
	}
	return b.String()
}

// Webhook posts notifications as JSON to an incoming-webhook URL.
type Webhook struct {
	Channel string
	URL     string
	Client  *http.Client
}

// NewWebhook returns a Webhook notifier for channel with a 10s client timeout.
func NewWebhook(channel, url string) *Webhook {
	return &Webhook{
		Channel: channel,
		URL:     url,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type webhookBody struct {
	Text             string `json:"text"`
	NotificationType string `json:"notification_type"`
	SubmissionID     string `json:"submission_id"`
	SessionID        string `json:"session_id,omitempty"`
	CustomerName     string `json:"customer_name"`
	LeadVendor       string `json:"lead_vendor"`
}

// Notify posts n. Any transport failure or non-2xx response is returned as a
// *model.NotificationError.
func (w *Webhook) Notify(ctx context.Context, n Notification) error {
	body, err := json.Marshal(webhookBody{
		Text:             Format(n),
		NotificationType: n.Type,
		SubmissionID:     n.Lead.SubmissionID,
		SessionID:        n.SessionID,
		CustomerName:     n.Lead.CustomerName,
		LeadVendor:       n.Lead.LeadVendor,
	})
	if err != nil {
		return &model.NotificationError{Channel: w.Channel, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return &model.NotificationError{Channel: w.Channel, Err: err}
	}
	key := n.Key
	if key == "" {
		key = uuid.NewString()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", key)

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return &model.NotificationError{Channel: w.Channel, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &model.NotificationError{
			Channel: w.Channel,
			Err:     fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
		}
	}
	return nil
}

// Noop discards notifications. Used when a channel has no URL configured.
type Noop struct{}

func (Noop) Notify(context.Context, Notification) error { return nil }

// ForURL returns a Webhook for url, or Noop when url is empty.
func ForURL(channel, url string) Notifier {
	if url == "" {
		return Noop{}
	}
	return NewWebhook(channel, url)
}
