package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alfredjeanlab/sentinel/internal/dispatch"
)

const (
	fleetServiceName = "sentinel.v1.FleetService"
	healthMethod     = "/" + fleetServiceName + "/Health"
)

// FleetServiceServer is the gRPC request surface. Requests and responses
// are google.protobuf.Struct values carrying the same JSON shapes as the
// HTTP API.
type FleetServiceServer interface {
	Health(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListAgents(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Register(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SubmitCommand(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type fleetCall func(FleetServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call fleetCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(FleetServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + fleetServiceName + "/" + method}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(FleetServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// FleetServiceDesc describes sentinel.v1.FleetService.
var FleetServiceDesc = grpc.ServiceDesc{
	ServiceName: fleetServiceName,
	HandlerType: (*FleetServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("Health", FleetServiceServer.Health),
		unaryHandler("ListAgents", FleetServiceServer.ListAgents),
		unaryHandler("Register", FleetServiceServer.Register),
		unaryHandler("SubmitCommand", FleetServiceServer.SubmitCommand),
	},
	Metadata: "sentinel/v1/fleet.proto",
}

// NewGRPCServer creates a gRPC server with standard interceptors and
// registers the FleetService.
func NewGRPCServer(s *Server, authToken string) *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			recoveryInterceptor(s.logger),
			loggingInterceptor(s.logger),
			authInterceptor(authToken),
		),
	)
	srv.RegisterService(&FleetServiceDesc, &grpcFleet{s: s})
	return srv
}

// grpcFleet adapts Server to FleetServiceServer.
type grpcFleet struct {
	s *Server
}

func (g *grpcFleet) Health(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return toStruct(g.s.Health())
}

func (g *grpcFleet) ListAgents(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	agents := g.s.d.Registry.Snapshot()
	return toStruct(map[string]any{"agents": agents, "total": len(agents)})
}

func (g *grpcFleet) Register(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req registerRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	agent, err := g.s.Register(ctx, &req)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(map[string]any{"status": "registered", "agent": agent})
}

func (g *grpcFleet) SubmitCommand(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req commandRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	res, err := g.s.SubmitCommand(ctx, &req)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(res)
}

// grpcError maps control-plane errors to gRPC status codes.
func grpcError(err error) error {
	switch {
	case isInputError(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case notFound(err):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, dispatch.ErrPublishFailed):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Errorf(codes.Internal, "%v", err)
	}
}

// toStruct converts v to a Struct through its JSON encoding.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// fromStruct strictly decodes a Struct into dst through its JSON encoding.
func fromStruct(in *structpb.Struct, dst any) error {
	data, err := json.Marshal(in.AsMap())
	if err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return decodeStrict(data, dst)
}
