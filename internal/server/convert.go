package server

import (
	"context"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alfredjeanlab/verifyd/internal/rpc"
	"github.com/alfredjeanlab/verifyd/internal/verify"
)

var _ rpc.VerificationServer = (*Server)(nil)

type getSessionRequest struct {
	ID string `json:"id"`
}

type itemValueRequest struct {
	ItemID string  `json:"item_id"`
	Value  *string `json:"value"`
}

type itemVerifiedRequest struct {
	ItemID  string `json:"item_id"`
	Checked *bool  `json:"checked"`
}

type transferRequest struct {
	SessionID string `json:"session_id"`
}

// decode unpacks a request Struct, mapping malformed input to InvalidArgument.
func decode(in *structpb.Struct, dst any) error {
	if err := rpc.FromStruct(in, dst); err != nil {
		return grpcError(inputError(err.Error()))
	}
	return nil
}

// encode packs a response, mapping service errors to gRPC status codes.
func encode(v any, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, grpcError(err)
	}
	out, err := rpc.ToStruct(v)
	if err != nil {
		return nil, grpcError(err)
	}
	return out, nil
}

// CreateSession starts a verification session.
func (s *Server) CreateSession(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFromContext(ctx)
	if err != nil {
		return nil, grpcError(err)
	}
	var req createSessionRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	return encode(s.svc.CreateSession(ctx, actor, verify.CreateInput{
		SubmissionID:    req.SubmissionID,
		LicensedAgentID: req.LicensedAgentID,
		BufferAgentID:   req.BufferAgentID,
		Lead:            req.LeadSnapshot,
	}))
}

// GetSession returns a session with its items and progress.
func (s *Server) GetSession(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req getSessionRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.ID == "" {
		return nil, grpcError(inputError("id is required"))
	}
	return encode(s.svc.GetSession(ctx, req.ID))
}

// UpdateItemValue sets an item's verified value.
func (s *Server) UpdateItemValue(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFromContext(ctx)
	if err != nil {
		return nil, grpcError(err)
	}
	var req itemValueRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.ItemID == "" || req.Value == nil {
		return nil, grpcError(inputError("item_id and value are required"))
	}
	return encode(s.svc.UpdateValue(ctx, actor, req.ItemID, *req.Value))
}

// ToggleItemVerified sets an item's confirmation flag.
func (s *Server) ToggleItemVerified(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFromContext(ctx)
	if err != nil {
		return nil, grpcError(err)
	}
	var req itemVerifiedRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.ItemID == "" || req.Checked == nil {
		return nil, grpcError(inputError("item_id and checked are required"))
	}
	return encode(s.svc.ToggleVerified(ctx, actor, req.ItemID, *req.Checked))
}

// TransferSession hands a session to the licensed agent.
func (s *Server) TransferSession(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	actor, err := actorFromContext(ctx)
	if err != nil {
		return nil, grpcError(err)
	}
	var req transferRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.SessionID == "" {
		return nil, grpcError(inputError("session_id is required"))
	}
	return encode(s.svc.TransferToLicensed(ctx, actor, req.SessionID))
}

// Health returns the service health status.
func (s *Server) Health(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return encode(map[string]string{"status": "ok"}, nil)
}
