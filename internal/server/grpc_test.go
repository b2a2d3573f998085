package server

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func startGRPC(t *testing.T, e *testEnv, token string) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer(e.srv, token)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func invoke(ctx context.Context, conn *grpc.ClientConn, method string, in map[string]any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	err = conn.Invoke(ctx, "/"+fleetServiceName+"/"+method, req, out)
	return out, err
}

func TestGRPC_RegisterAndList(t *testing.T) {
	e := newTestEnv(t)
	conn := startGRPC(t, e, "")
	ctx := t.Context()

	out, err := invoke(ctx, conn, "Register", map[string]any{"agent_id": "g1", "address": "10.2.0.1", "generation": 2})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if got := out.GetFields()["status"].GetStringValue(); got != "registered" {
		t.Fatalf("status = %q", got)
	}

	out, err = invoke(ctx, conn, "ListAgents", nil)
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	if n := out.GetFields()["total"].GetNumberValue(); n != 1 {
		t.Fatalf("total = %v", n)
	}

	_, err = invoke(ctx, conn, "Register", map[string]any{"agent_id": "bad id"})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestGRPC_SubmitCommand(t *testing.T) {
	e := newTestEnv(t)
	conn := startGRPC(t, e, "")
	ctx := t.Context()

	out, err := invoke(ctx, conn, "SubmitCommand", map[string]any{"agent_id": "*", "action": "enter_safe_mode"})
	if err != nil {
		t.Fatalf("SubmitCommand: %v", err)
	}
	if got := out.GetFields()["status"].GetStringValue(); got != "sent" {
		t.Fatalf("status = %q", got)
	}

	out, err = invoke(ctx, conn, "SubmitCommand", map[string]any{"agent_id": "a1", "action": "self_destruct"})
	if err != nil {
		t.Fatalf("rejection must not be an RPC error: %v", err)
	}
	if got := out.GetFields()["status"].GetStringValue(); got != "rejected" {
		t.Fatalf("status = %q", got)
	}

	e.bus.setDown(true)
	_, err = invoke(ctx, conn, "SubmitCommand", map[string]any{"agent_id": "a1", "action": "collect_data"})
	if status.Code(err) != codes.Unavailable {
		t.Fatalf("expected Unavailable, got %v", err)
	}
}

func TestGRPC_Auth(t *testing.T) {
	e := newTestEnv(t)
	conn := startGRPC(t, e, "secret")
	ctx := t.Context()

	if _, err := invoke(ctx, conn, "Health", nil); err != nil {
		t.Fatalf("Health must be exempt: %v", err)
	}
	if _, err := invoke(ctx, conn, "ListAgents", nil); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
	authed := metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer secret")
	if _, err := invoke(authed, conn, "ListAgents", nil); err != nil {
		t.Fatalf("ListAgents with token: %v", err)
	}
}
