package client

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/alfredjeanlab/verifyd/internal/model"
	"github.com/alfredjeanlab/verifyd/internal/rpc"
	"github.com/alfredjeanlab/verifyd/internal/verify"
)

// GRPCClient implements Client using the gRPC transport.
type GRPCClient struct {
	conn   *grpc.ClientConn
	client *rpc.VerificationClient
	token  string
	actor  model.Actor
}

var _ Client = (*GRPCClient)(nil)

// NewGRPCClient connects to the given gRPC address and returns a client.
func NewGRPCClient(addr, token string, actor model.Actor, opts ...grpc.DialOption) (*GRPCClient, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	return &GRPCClient{
		conn:   conn,
		client: rpc.NewVerificationClient(conn),
		token:  token,
		actor:  actor,
	}, nil
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

// outgoing attaches auth and actor metadata to ctx.
func (c *GRPCClient) outgoing(ctx context.Context) context.Context {
	var kv []string
	if c.token != "" {
		kv = append(kv, "authorization", "Bearer "+c.token)
	}
	if c.actor.ID != "" {
		kv = append(kv, "x-actor-id", c.actor.ID, "x-actor-type", string(c.actor.Type))
		if c.actor.Name != "" {
			kv = append(kv, "x-actor-name", c.actor.Name)
		}
	}
	if len(kv) == 0 {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, kv...)
}

func (c *GRPCClient) call(ctx context.Context, method string, in, out any) error {
	return c.client.Call(c.outgoing(ctx), method, in, out)
}

func (c *GRPCClient) CreateSession(ctx context.Context, req *CreateSessionRequest) (*model.SessionDetail, error) {
	var d model.SessionDetail
	if err := c.call(ctx, rpc.MethodCreateSession, req, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *GRPCClient) GetSession(ctx context.Context, id string) (*model.SessionDetail, error) {
	var d model.SessionDetail
	if err := c.call(ctx, rpc.MethodGetSession, map[string]string{"id": id}, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *GRPCClient) UpdateValue(ctx context.Context, itemID, value string) (*model.Item, error) {
	var it model.Item
	if err := c.call(ctx, rpc.MethodUpdateItemValue, map[string]string{"item_id": itemID, "value": value}, &it); err != nil {
		return nil, err
	}
	return &it, nil
}

func (c *GRPCClient) ToggleVerified(ctx context.Context, itemID string, checked bool) (*model.Item, error) {
	var it model.Item
	if err := c.call(ctx, rpc.MethodToggleItemVerified, map[string]any{"item_id": itemID, "checked": checked}, &it); err != nil {
		return nil, err
	}
	return &it, nil
}

func (c *GRPCClient) Transfer(ctx context.Context, sessionID string) (*verify.TransferResult, error) {
	var res verify.TransferResult
	if err := c.call(ctx, rpc.MethodTransferSession, map[string]string{"session_id": sessionID}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *GRPCClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.call(ctx, rpc.MethodHealth, nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}
