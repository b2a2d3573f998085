package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const listAgentsMethod = "/" + fleetServiceName + "/ListAgents"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubHandler is a no-op gRPC handler used in interceptor tests.
func stubHandler(_ context.Context, _ any) (any, error) {
	return "ok", nil
}

func TestAuthInterceptor(t *testing.T) {
	for _, tc := range []struct {
		name     string
		token    string
		method   string
		md       metadata.MD
		wantCode codes.Code
	}{
		{name: "Disabled", token: "", method: listAgentsMethod, wantCode: codes.OK},
		{name: "HealthExempt", token: "secret", method: healthMethod, wantCode: codes.OK},
		{name: "MissingMetadata", token: "secret", method: listAgentsMethod, wantCode: codes.Unauthenticated},
		{name: "MissingHeader", token: "secret", method: listAgentsMethod, md: metadata.Pairs("other", "value"), wantCode: codes.Unauthenticated},
		{name: "WrongToken", token: "secret", method: listAgentsMethod, md: metadata.Pairs("authorization", "Bearer wrong"), wantCode: codes.Unauthenticated},
		{name: "InvalidScheme", token: "secret", method: listAgentsMethod, md: metadata.Pairs("authorization", "Basic secret"), wantCode: codes.Unauthenticated},
		{name: "CorrectToken", token: "secret", method: listAgentsMethod, md: metadata.Pairs("authorization", "Bearer secret"), wantCode: codes.OK},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			if tc.md != nil {
				ctx = metadata.NewIncomingContext(ctx, tc.md)
			}
			resp, err := authInterceptor(tc.token)(ctx, nil, &grpc.UnaryServerInfo{FullMethod: tc.method}, stubHandler)
			if got := status.Code(err); got != tc.wantCode {
				t.Fatalf("code = %v, want %v (err %v)", got, tc.wantCode, err)
			}
			if tc.wantCode == codes.OK && resp != "ok" {
				t.Fatalf("expected 'ok', got %v", resp)
			}
		})
	}
}

func TestRecoveryInterceptor(t *testing.T) {
	panicking := func(context.Context, any) (any, error) { panic("boom") }
	_, err := recoveryInterceptor(discardLogger())(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: listAgentsMethod}, panicking)
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected Internal, got %v", err)
	}
}

func TestRecoverMiddleware(t *testing.T) {
	panicking := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })
	rec := httptest.NewRecorder()
	recoverMiddleware(discardLogger(), panicking).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/agents", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestCheckBearer(t *testing.T) {
	for header, want := range map[string]error{
		"":              errNoCredentials,
		"Basic secret":  errAuthScheme,
		"Bearer":        errAuthScheme,
		"Bearer wrong":  errBadToken,
		"Bearer secret": nil,
	} {
		if got := checkBearer(header, "secret"); got != want {
			t.Errorf("checkBearer(%q) = %v, want %v", header, got, want)
		}
	}
}

func TestAuthMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	for _, tc := range []struct {
		name   string
		token  string
		path   string
		header string
		want   int
	}{
		{name: "NoHeader", token: "secret", path: "/v1/agents", want: http.StatusUnauthorized},
		{name: "WrongToken", token: "secret", path: "/v1/agents", header: "Bearer wrong", want: http.StatusUnauthorized},
		{name: "InvalidScheme", token: "secret", path: "/v1/agents", header: "Basic secret", want: http.StatusUnauthorized},
		{name: "CorrectToken", token: "secret", path: "/v1/agents", header: "Bearer secret", want: http.StatusOK},
		{name: "HealthExempt", token: "secret", path: "/v1/health", want: http.StatusOK},
		{name: "MetricsExempt", token: "secret", path: "/metrics", want: http.StatusOK},
		{name: "Disabled", token: "", path: "/v1/agents", want: http.StatusOK},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			authMiddleware(tc.token, ok).ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d; body: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}
