package client

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alfredjeanlab/sentinel/internal/model"
)

const fleetService = "/sentinel.v1.FleetService/"

// GRPCClient implements FleetClient using the gRPC transport.
type GRPCClient struct {
	conn  *grpc.ClientConn
	token string
}

var _ FleetClient = (*GRPCClient)(nil)

// NewGRPCClient connects to the given gRPC address and returns a client.
func NewGRPCClient(addr, token string, opts ...grpc.DialOption) (*GRPCClient, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	return &GRPCClient{conn: conn, token: token}, nil
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

func (c *GRPCClient) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.invoke(ctx, "Health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *GRPCClient) ListAgents(ctx context.Context) ([]*model.Agent, error) {
	var resp struct {
		Agents []*model.Agent `json:"agents"`
	}
	if err := c.invoke(ctx, "ListAgents", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Agents, nil
}

func (c *GRPCClient) Register(ctx context.Context, req *RegisterRequest) (*model.Agent, error) {
	var resp struct {
		Agent *model.Agent `json:"agent"`
	}
	if err := c.invoke(ctx, "Register", req, &resp); err != nil {
		return nil, err
	}
	return resp.Agent, nil
}

func (c *GRPCClient) SubmitCommand(ctx context.Context, req *CommandRequest) (*CommandResult, error) {
	var res CommandResult
	if err := c.invoke(ctx, "SubmitCommand", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// invoke sends req as a Struct and decodes the Struct reply into result.
func (c *GRPCClient) invoke(ctx context.Context, method string, req, result any) error {
	fields := map[string]any{}
	if req != nil {
		data, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		if err := json.Unmarshal(data, &fields); err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
	}

	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, fleetService+method, in, out); err != nil {
		return err
	}
	data, err := json.Marshal(out.AsMap())
	if err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
