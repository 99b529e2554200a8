// Package rpc defines the verify.v1.VerificationService gRPC contract. Every
// method takes and returns a google.protobuf.Struct whose fields mirror the
// HTTP JSON bodies.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "verify.v1.VerificationService"

// Method names.
const (
	MethodCreateSession      = "CreateSession"
	MethodGetSession         = "GetSession"
	MethodUpdateItemValue    = "UpdateItemValue"
	MethodToggleItemVerified = "ToggleItemVerified"
	MethodTransferSession    = "TransferSession"
	MethodHealth             = "Health"
)

// FullMethod returns the "/service/method" path for name.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// VerificationServer is the server API for VerificationService.
type VerificationServer interface {
	CreateSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateItemValue(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ToggleItemVerified(context.Context, *structpb.Struct) (*structpb.Struct, error)
	TransferSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Health(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(VerificationServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func handler(name string, m unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return m(srv.(VerificationServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return m(srv.(VerificationServer), ctx, req.(*structpb.Struct))
		})
	}
}

// ServiceDesc is the grpc.ServiceDesc for VerificationService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*VerificationServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: MethodCreateSession, Handler: handler(MethodCreateSession, VerificationServer.CreateSession)},
		{MethodName: MethodGetSession, Handler: handler(MethodGetSession, VerificationServer.GetSession)},
		{MethodName: MethodUpdateItemValue, Handler: handler(MethodUpdateItemValue, VerificationServer.UpdateItemValue)},
		{MethodName: MethodToggleItemVerified, Handler: handler(MethodToggleItemVerified, VerificationServer.ToggleItemVerified)},
		{MethodName: MethodTransferSession, Handler: handler(MethodTransferSession, VerificationServer.TransferSession)},
		{MethodName: MethodHealth, Handler: handler(MethodHealth, VerificationServer.Health)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "verify/v1/verify.proto",
}

// RegisterVerificationServer registers srv with s.
func RegisterVerificationServer(s grpc.ServiceRegistrar, srv VerificationServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// VerificationClient calls VerificationService methods on a connection.
type VerificationClient struct {
	cc grpc.ClientConnInterface
}

// NewVerificationClient returns a client bound to cc.
func NewVerificationClient(cc grpc.ClientConnInterface) *VerificationClient {
	return &VerificationClient{cc: cc}
}

// Call invokes method with in and decodes the response into out when out is
// non-nil.
func (c *VerificationClient) Call(ctx context.Context, method string, in any, out any, opts ...grpc.CallOption) error {
	req, err := ToStruct(in)
	if err != nil {
		return err
	}
	resp := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), req, resp, opts...); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return FromStruct(resp, out)
}

// ToStruct converts any JSON-encodable value into a Struct. A nil value
// yields an empty Struct.
func ToStruct(v any) (*structpb.Struct, error) {
	if v == nil {
		return &structpb.Struct{Fields: map[string]*structpb.Value{}}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode struct: %w", err)
	}
	m := make(map[string]any)
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("encode struct: value is not a JSON object: %w", err)
	}
	return structpb.NewStruct(m)
}

// FromStruct decodes s into dst using JSON field names.
func FromStruct(s *structpb.Struct, dst any) error {
	b, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode struct: %w", err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("decode struct: %w", err)
	}
	return nil
}
