// Package server exposes the verification service over HTTP/JSON, an SSE
// change stream, and gRPC.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/alfredjeanlab/verifyd/internal/model"
	"github.com/alfredjeanlab/verifyd/internal/presence"
	"github.com/alfredjeanlab/verifyd/internal/verify"
)

// Actor headers and gRPC metadata keys.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorType = "X-Actor-Type"
	HeaderActorName = "X-Actor-Name"

	mdActorID   = "x-actor-id"
	mdActorType = "x-actor-type"
	mdActorName = "x-actor-name"
)

// Server serves the verification API.
type Server struct {
	svc      *verify.Service
	hub      *sseHub
	Presence *presence.Tracker
	logger   *slog.Logger
}

// New returns a Server for svc. stream must also be among the service's
// publishers so stream clients see changes.
func New(svc *verify.Service, stream *SSEPublisher, tracker *presence.Tracker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if stream == nil {
		stream = NewSSEPublisher()
	}
	return &Server{
		svc:      svc,
		hub:      stream.hub,
		Presence: tracker,
		logger:   logger,
	}
}

// inputError indicates invalid user input.
// Transport layers map this to 400 / InvalidArgument.
type inputError string

func (e inputError) Error() string { return string(e) }

// actorFromRequest reads the acting identity from request headers.
func actorFromRequest(r *http.Request) (model.Actor, error) {
	a := model.Actor{
		ID:   strings.TrimSpace(r.Header.Get(HeaderActorID)),
		Type: model.ActorType(strings.TrimSpace(r.Header.Get(HeaderActorType))),
		Name: r.Header.Get(HeaderActorName),
	}
	return checkActor(a)
}

// actorFromContext reads the acting identity from incoming gRPC metadata.
func actorFromContext(ctx context.Context) (model.Actor, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	first := func(k string) string {
		if v := md.Get(k); len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}
	a := model.Actor{
		ID:   first(mdActorID),
		Type: model.ActorType(first(mdActorType)),
		Name: first(mdActorName),
	}
	return checkActor(a)
}

func checkActor(a model.Actor) (model.Actor, error) {
	if a.Type == "" {
		a.Type = model.ActorLicensedAgent
	}
	if !a.Valid() {
		return a, model.ErrNoActor
	}
	return a, nil
}

// httpStatus maps the error taxonomy onto HTTP status codes.
func httpStatus(err error) int {
	var ie inputError
	switch {
	case errors.As(err, &ie), model.IsValidation(err):
		return http.StatusBadRequest
	case model.IsAuth(err):
		return http.StatusUnauthorized
	case model.IsNotFound(err):
		return http.StatusNotFound
	case model.IsGate(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// grpcError maps the error taxonomy onto gRPC status errors.
func grpcError(err error) error {
	var ie inputError
	switch {
	case errors.As(err, &ie), model.IsValidation(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case model.IsAuth(err):
		return status.Error(codes.Unauthenticated, err.Error())
	case model.IsNotFound(err):
		return status.Error(codes.NotFound, err.Error())
	case model.IsGate(err):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
