// Package audit records lifecycle events on a lead's append-only call log.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/verifyd/internal/model"
	"github.com/alfredjeanlab/verifyd/internal/store"
)

// Event is one lifecycle event to append to a submission's call log.
type Event struct {
	SubmissionID string
	Actor        model.Actor
	Type         string
	Details      map[string]any
	At           time.Time
}

// Emitter appends audit records and resolves lead context for them.
type Emitter struct {
	store  store.Store
	logger *slog.Logger
}

// New returns an Emitter writing to s. A nil logger uses slog.Default().
func New(s store.Store, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{store: s, logger: logger}
}

// LogCallUpdate appends ev to the call log. It never returns an error: any
// failure is logged and dropped. It reports whether the record was written.
func (e *Emitter) LogCallUpdate(ctx context.Context, ev Event) bool {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	var details json.RawMessage
	if len(ev.Details) > 0 {
		b, err := json.Marshal(ev.Details)
		if err != nil {
			e.logger.Warn("audit: encode details", "submission_id", ev.SubmissionID, "event_type", ev.Type, "error", err)
		} else {
			details = b
		}
	}
	actorType := ev.Actor.Type
	if actorType == "" {
		actorType = model.ActorLicensedAgent
	}

	u := &model.CallUpdate{
		SubmissionID: ev.SubmissionID,
		ActorID:      ev.Actor.ID,
		ActorType:    actorType,
		ActorName:    ev.Actor.Name,
		EventType:    ev.Type,
		EventDetails: details,
		CreatedAt:    ev.At,
	}
	if err := e.store.AppendCallUpdate(ctx, u); err != nil {
		e.logger.Warn("audit: append call update failed",
			"submission_id", ev.SubmissionID,
			"event_type", ev.Type,
			"error", err,
		)
		return false
	}
	return true
}

// GetLeadInfo resolves the customer name and lead vendor for a submission.
func (e *Emitter) GetLeadInfo(ctx context.Context, submissionID string) (model.LeadInfo, error) {
	lead, err := e.store.GetLead(ctx, submissionID)
	if err != nil {
		return model.LeadInfo{SubmissionID: submissionID}, fmt.Errorf("get lead info: %w", err)
	}
	return lead.Info(), nil
}

// History returns the call log for a submission, oldest first.
func (e *Emitter) History(ctx context.Context, submissionID string) ([]*model.CallUpdate, error) {
	return e.store.ListCallUpdates(ctx, submissionID)
}
