package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alfredjeanlab/verifyd/internal/model"
	"github.com/alfredjeanlab/verifyd/internal/notify"
	"github.com/alfredjeanlab/verifyd/internal/presence"
)

// PresenceHandler marks the payload's agent in the tracker.
func PresenceHandler(t *presence.Tracker) Handler {
	return func(_ context.Context, msg *model.OutboxMessage) error {
		var p model.PresencePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("decode presence payload: %w", err)
		}
		t.Record(presence.Update{AgentID: p.AgentID, Status: p.Status, SessionID: p.SessionID})
		return nil
	}
}

// NotifyHandler sends the payload through n, using the message key for
// receiver-side deduplication.
func NotifyHandler(n notify.Notifier) Handler {
	return func(ctx context.Context, msg *model.OutboxMessage) error {
		var p model.NotificationPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("decode notification payload: %w", err)
		}
		return n.Notify(ctx, notify.FromPayload(msg.Key, p))
	}
}

// Handlers returns the standard handler set for every outbox kind.
func Handlers(t *presence.Tracker, leadVendor, transfer notify.Notifier) map[string]Handler {
	return map[string]Handler{
		model.OutboxPresenceOnCall:   PresenceHandler(t),
		model.OutboxNotifyLeadVendor: NotifyHandler(leadVendor),
		model.OutboxNotifyTransfer:   NotifyHandler(transfer),
	}
}
