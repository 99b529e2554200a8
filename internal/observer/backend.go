package observer

import (
	"context"

	"github.com/alfredjeanlab/verifyd/internal/model"
	"github.com/alfredjeanlab/verifyd/internal/verify"
)

// serviceBackend binds an in-process service to one actor.
type serviceBackend struct {
	svc   *verify.Service
	actor model.Actor
}

// ServiceBackend returns a Backend that calls svc directly as actor.
func ServiceBackend(svc *verify.Service, actor model.Actor) Backend {
	return serviceBackend{svc: svc, actor: actor}
}

func (b serviceBackend) GetSession(ctx context.Context, id string) (*model.SessionDetail, error) {
	return b.svc.GetSession(ctx, id)
}

func (b serviceBackend) UpdateValue(ctx context.Context, itemID, value string) (*model.Item, error) {
	return b.svc.UpdateValue(ctx, b.actor, itemID, value)
}

func (b serviceBackend) ToggleVerified(ctx context.Context, itemID string, checked bool) (*model.Item, error) {
	return b.svc.ToggleVerified(ctx, b.actor, itemID, checked)
}
