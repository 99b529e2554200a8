// Package verify implements the verification handoff workflow: starting a
// session from a lead snapshot, the two item mutations, and the transfer gate.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alfredjeanlab/verifyd/internal/audit"
	"github.com/alfredjeanlab/verifyd/internal/events"
	"github.com/alfredjeanlab/verifyd/internal/idgen"
	"github.com/alfredjeanlab/verifyd/internal/metrics"
	"github.com/alfredjeanlab/verifyd/internal/model"
	"github.com/alfredjeanlab/verifyd/internal/notify"
	"github.com/alfredjeanlab/verifyd/internal/outbox"
	"github.com/alfredjeanlab/verifyd/internal/presence"
	"github.com/alfredjeanlab/verifyd/internal/store"
)

// Service runs verification sessions against a store. Every write takes the
// acting model.Actor explicitly.
type Service struct {
	store     store.Store
	publisher events.Publisher
	audit     *audit.Emitter
	policy    model.TransferPolicy
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithPolicy overrides the transfer policy.
func WithPolicy(p model.TransferPolicy) Option {
	return func(s *Service) { s.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New returns a Service. A nil publisher disables change publishing.
func New(s store.Store, pub events.Publisher, opts ...Option) *Service {
	svc := &Service{
		store:     s,
		publisher: pub,
		policy:    model.DefaultTransferPolicy(),
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(svc)
	}
	if svc.publisher == nil {
		svc.publisher = &events.NoopPublisher{}
	}
	svc.audit = audit.New(s, svc.logger)
	return svc
}

// Policy returns the transfer policy in effect.
func (s *Service) Policy() model.TransferPolicy { return s.policy }

// Audit returns the emitter used for call log records.
func (s *Service) Audit() *audit.Emitter { return s.audit }

// CreateInput holds the parameters for starting a verification session.
type CreateInput struct {
	SubmissionID    string
	LicensedAgentID string
	// BufferAgentID overrides the buffer agent recorded on the lead.
	BufferAgentID string
	// Lead is an optional snapshot; when nil the lead is loaded by SubmissionID.
	Lead *model.Lead
}

// CreateSession starts a verification session for a lead. The session, its
// items, and the presence and notification outbox messages commit together.
// The audit record and change event are best-effort.
func (s *Service) CreateSession(ctx context.Context, actor model.Actor, in CreateInput) (*model.SessionDetail, error) {
	if !actor.Valid() {
		return nil, model.ErrNoActor
	}
	if strings.TrimSpace(in.LicensedAgentID) == "" {
		return nil, model.NewValidationError("licensed_agent_id", "a licensed agent must be selected")
	}
	if in.SubmissionID == "" && in.Lead != nil {
		in.SubmissionID = in.Lead.SubmissionID
	}
	if in.SubmissionID == "" {
		return nil, model.NewValidationError("submission_id", "is required")
	}

	lead := in.Lead
	if lead == nil {
		var err error
		lead, err = s.store.GetLead(ctx, in.SubmissionID)
		if err != nil {
			return nil, model.Persistence("get lead", err)
		}
	}

	now := s.now()
	id, err := idgen.SessionID()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}
	items, err := BuildItems(id, lead, now)
	if err != nil {
		return nil, err
	}

	bufferAgent := in.BufferAgentID
	if bufferAgent == "" {
		bufferAgent = lead.BufferAgentID
	}
	sess := &model.Session{
		ID:              id,
		SubmissionID:    in.SubmissionID,
		BufferAgentID:   bufferAgent,
		LicensedAgentID: in.LicensedAgentID,
		Status:          model.StatusInProgress,
		StartedAt:       now,
		TotalFields:     len(items),
		UpdatedAt:       now,
	}
	if err := model.ValidateSession(sess); err != nil {
		return nil, err
	}
	if err := model.ValidateItems(sess, items); err != nil {
		return nil, err
	}

	info := lead.Info()
	msgs, err := startMessages(sess, info, actor)
	if err != nil {
		return nil, err
	}

	err = s.store.RunInTransaction(ctx, func(tx store.Store) error {
		if err := tx.CreateSession(ctx, sess); err != nil {
			return err
		}
		if err := tx.CreateItems(ctx, items); err != nil {
			return err
		}
		for _, m := range msgs {
			if err := tx.EnqueueOutbox(ctx, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, model.Persistence("create session", err)
	}
	metrics.SessionCreated()

	s.audit.LogCallUpdate(ctx, audit.Event{
		SubmissionID: sess.SubmissionID,
		Actor:        actor,
		Type:         model.AuditVerificationStarted,
		Details: map[string]any{
			"session_id":        sess.ID,
			"licensed_agent_id": sess.LicensedAgentID,
			"buffer_agent_id":   sess.BufferAgentID,
			"total_fields":      sess.TotalFields,
			"customer_name":     info.CustomerName,
			"lead_vendor":       info.LeadVendor,
		},
		At: now,
	})
	s.publish(ctx, events.Change{
		Kind:      events.KindCreated,
		SessionID: sess.ID,
		Session:   sess,
		ActorID:   actor.ID,
		At:        now,
	})

	return s.detail(sess, items), nil
}

// startMessages builds the outbox messages a new session produces: presence
// for the licensed agent, then one notification per channel.
func startMessages(sess *model.Session, info model.LeadInfo, actor model.Actor) ([]*model.OutboxMessage, error) {
	presenceMsg, err := outbox.NewMessage(model.OutboxPresenceOnCall, model.PresencePayload{
		AgentID:   sess.LicensedAgentID,
		SessionID: sess.ID,
		Status:    presence.StatusOnCall,
	})
	if err != nil {
		return nil, err
	}
	payload := model.NotificationPayload{
		Type:      notify.TypeVerificationStarted,
		SessionID: sess.ID,
		Lead:      info,
		AgentName: actor.Name,
	}
	vendorMsg, err := outbox.NewMessage(model.OutboxNotifyLeadVendor, payload)
	if err != nil {
		return nil, err
	}
	transferMsg, err := outbox.NewMessage(model.OutboxNotifyTransfer, payload)
	if err != nil {
		return nil, err
	}
	return []*model.OutboxMessage{presenceMsg, vendorMsg, transferMsg}, nil
}

// GetSession returns a session with its items and derived progress.
func (s *Service) GetSession(ctx context.Context, id string) (*model.SessionDetail, error) {
	sess, items, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.detail(sess, items), nil
}

func (s *Service) load(ctx context.Context, id string) (*model.Session, []*model.Item, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, nil, model.Persistence("get session", err)
	}
	items, err := s.store.ListItems(ctx, id)
	if err != nil {
		return nil, nil, model.Persistence("list items", err)
	}
	return sess, items, nil
}

func (s *Service) detail(sess *model.Session, items []*model.Item) *model.SessionDetail {
	if items == nil {
		items = []*model.Item{}
	}
	p := model.ItemProgress(items)
	return &model.SessionDetail{
		Session:     sess,
		Items:       items,
		Progress:    p,
		CanTransfer: s.policy.Allows(sess, p),
	}
}

// ProgressReport is the derived completion state of a session.
type ProgressReport struct {
	SessionID   string   `json:"session_id"`
	Verified    int      `json:"verified"`
	Total       int      `json:"total"`
	Progress    int      `json:"progress"`
	Threshold   int      `json:"threshold"`
	CanTransfer bool     `json:"can_transfer"`
	Reasons     []string `json:"reasons,omitempty"`
}

// Progress computes the completion percentage and transfer availability.
func (s *Service) Progress(ctx context.Context, id string) (*ProgressReport, error) {
	sess, items, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.report(sess, items), nil
}

func (s *Service) report(sess *model.Session, items []*model.Item) *ProgressReport {
	verified := 0
	for _, it := range items {
		if it.IsVerified {
			verified++
		}
	}
	r := &ProgressReport{
		SessionID: sess.ID,
		Verified:  verified,
		Total:     len(items),
		Progress:  model.Progress(verified, len(items)),
		Threshold: s.policy.Threshold,
	}
	var ge *model.GateError
	if err := s.policy.Check(sess, r.Progress); errors.As(err, &ge) {
		r.Reasons = ge.Reasons
	} else {
		r.CanTransfer = true
	}
	return r
}

// UpdateValue sets an item's verified value. is_modified is recomputed
// against the original value; is_verified is untouched.
func (s *Service) UpdateValue(ctx context.Context, actor model.Actor, itemID, value string) (*model.Item, error) {
	if !actor.Valid() {
		return nil, model.ErrNoActor
	}
	it, err := s.store.UpdateItemValue(ctx, itemID, value, actor.ID)
	if err != nil {
		return nil, model.Persistence("update item value", err)
	}
	metrics.ItemWrite(events.OpValue)
	s.publishItem(ctx, actor, it, events.OpValue)
	return it, nil
}

// ToggleVerified sets an item's confirmation flag. The value and is_modified
// are untouched.
func (s *Service) ToggleVerified(ctx context.Context, actor model.Actor, itemID string, checked bool) (*model.Item, error) {
	if !actor.Valid() {
		return nil, model.ErrNoActor
	}
	it, err := s.store.SetItemVerified(ctx, itemID, checked, actor.ID)
	if err != nil {
		return nil, model.Persistence("toggle item verified", err)
	}
	metrics.ItemWrite(events.OpVerified)
	s.publishItem(ctx, actor, it, events.OpVerified)
	return it, nil
}

func (s *Service) publishItem(ctx context.Context, actor model.Actor, it *model.Item, op string) {
	s.publish(ctx, events.Change{
		Kind:      events.KindItemUpdated,
		SessionID: it.SessionID,
		Item:      it,
		Op:        op,
		ActorID:   actor.ID,
		At:        it.UpdatedAt,
	})
}

// TransferResult is the outcome of a successful transfer.
type TransferResult struct {
	Session         *model.Session `json:"session"`
	BufferAgentName string         `json:"buffer_agent_name"`
	Progress        int            `json:"progress"`
}

// TransferToLicensed hands the session to the licensed agent. It returns a
// *model.GateError, with no status change, audit record, or notification,
// unless the transfer policy allows it.
func (s *Service) TransferToLicensed(ctx context.Context, actor model.Actor, sessionID string) (*TransferResult, error) {
	if !actor.Valid() {
		return nil, model.ErrNoActor
	}
	sess, items, err := s.load(ctx, sessionID)
	if err != nil {
		metrics.Transfer("error")
		return nil, err
	}
	progress := model.ItemProgress(items)
	if err := s.policy.Check(sess, progress); err != nil {
		metrics.Transfer("rejected")
		return nil, err
	}

	name := s.agentName(ctx, sess.BufferAgentID)
	info, err := s.audit.GetLeadInfo(ctx, sess.SubmissionID)
	if err != nil {
		s.logger.Warn("resolve lead info for transfer", "session_id", sess.ID, "error", err)
	}
	msg, err := outbox.NewMessage(model.OutboxNotifyTransfer, model.NotificationPayload{
		Type:      notify.TypeTransferredToLA,
		SessionID: sess.ID,
		Lead:      info,
		AgentName: name,
	})
	if err != nil {
		metrics.Transfer("error")
		return nil, err
	}

	// The status flip and its notification commit together.
	var updated *model.Session
	err = s.store.RunInTransaction(ctx, func(tx store.Store) error {
		var err error
		updated, err = tx.TransitionSession(ctx, sess.ID, model.StatusInProgress, model.StatusTransferred)
		if err != nil {
			return err
		}
		return tx.EnqueueOutbox(ctx, msg)
	})
	if model.IsNotFound(err) {
		// Another writer moved the session first.
		metrics.Transfer("rejected")
		return nil, &model.GateError{
			SessionID: sess.ID,
			Progress:  progress,
			Threshold: s.policy.Threshold,
			Reasons:   []string{"session is no longer in progress"},
		}
	}
	if err != nil {
		metrics.Transfer("error")
		return nil, model.Persistence("transfer session", err)
	}
	metrics.Transfer("ok")

	at := s.now()
	if updated.TransferredAt != nil {
		at = *updated.TransferredAt
	}

	s.audit.LogCallUpdate(ctx, audit.Event{
		SubmissionID: updated.SubmissionID,
		Actor:        actor,
		Type:         model.AuditTransferredToLA,
		Details: map[string]any{
			"session_id":        updated.ID,
			"transferred_at":    at.Format(time.RFC3339Nano),
			"buffer_agent_id":   updated.BufferAgentID,
			"buffer_agent_name": name,
			"progress":          progress,
		},
		At: at,
	})
	s.publish(ctx, events.Change{
		Kind:            events.KindTransferred,
		SessionID:       updated.ID,
		Session:         updated,
		ActorID:         actor.ID,
		BufferAgentName: name,
		At:              at,
	})

	return &TransferResult{Session: updated, BufferAgentName: name, Progress: progress}, nil
}

// agentName resolves a display name, falling back to the id.
func (s *Service) agentName(ctx context.Context, id string) string {
	a, err := s.store.GetAgent(ctx, id)
	if err != nil {
		s.logger.Warn("resolve agent name", "agent_id", id, "error", err)
		return id
	}
	if a.DisplayName == "" {
		return id
	}
	return a.DisplayName
}

// publish is best-effort; observers recover missed changes on the next fetch.
func (s *Service) publish(ctx context.Context, c events.Change) {
	if err := s.publisher.Publish(ctx, c.Topic(), c); err != nil {
		s.logger.Warn("failed to publish change", "topic", c.Topic(), "session_id", c.SessionID, "error", err)
	}
}
