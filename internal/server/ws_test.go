package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alfredjeanlab/sentinel/internal/hub"
	"github.com/alfredjeanlab/sentinel/internal/model"
)

func dialWS(t *testing.T, e *testEnv, query string) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(e.handler)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for e.hub.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("observer never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func TestWebSocket_ReceivesEvents(t *testing.T) {
	e := newTestEnv(t)
	conn := dialWS(t, e, "?types=report")

	e.hub.Publish(hub.EventCommand, map[string]string{"skip": "me"})
	e.hub.Publish(hub.EventReport, map[string]string{"agent_id": "a1"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt hub.Event
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read: %v", err)
	}
	if evt.Type != hub.EventReport {
		t.Fatalf("expected filtered report event, got %q", evt.Type)
	}
}

func TestWebSocket_SubmitsCommands(t *testing.T) {
	e := newTestEnv(t)
	conn := dialWS(t, e, "?types=none")

	if err := conn.WriteJSON(map[string]any{
		"type":       "command",
		"request_id": "r1",
		"command":    map[string]any{"agent_id": "a1", "action": "block_ip", "target": "10.0.0.9"},
	}); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply wsReply
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read: %v", err)
	}
	if reply.Type != "command_result" || reply.RequestID != "r1" {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if reply.Result == nil || reply.Result.Status != model.CommandSent {
		t.Fatalf("expected sent result, got %+v", reply.Result)
	}
	if len(e.store.Commands()) != 1 {
		t.Fatal("expected command persisted")
	}
}

func TestWebSocket_RejectsUnexpectedInput(t *testing.T) {
	e := newTestEnv(t)
	conn := dialWS(t, e, "?types=none")

	for _, msg := range []string{
		`{"type":"command","command":{"agent_id":"a1","action":"shell","target":"x"}}`,
		`{"type":"eval","code":"process.exit()"}`,
		`not json`,
	} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatalf("write: %v", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var reply wsReply
		if err := conn.ReadJSON(&reply); err != nil {
			t.Fatalf("read: %v", err)
		}
		switch reply.Type {
		case "error":
		case "command_result":
			if reply.Result.Status != model.CommandRejected {
				t.Fatalf("%s: expected rejection, got %+v", msg, reply.Result)
			}
		default:
			t.Fatalf("%s: unexpected reply %+v", msg, reply)
		}
	}
	if len(e.store.Commands()) != 0 {
		t.Fatal("no command should be persisted")
	}
}

func TestWebSocket_DisconnectDeregisters(t *testing.T) {
	e := newTestEnv(t)
	conn := dialWS(t, e, "")
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for e.hub.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("observer still registered after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
	e.hub.Publish(hub.EventReport, map[string]string{"agent_id": "a1"})
}

func TestOriginChecker(t *testing.T) {
	for _, tc := range []struct {
		name    string
		allowed []string
		host    string
		origin  string
		want    bool
	}{
		{name: "NoOrigin", host: "ctl:8080", want: true},
		{name: "SameOrigin", host: "ctl:8080", origin: "http://ctl:8080", want: true},
		{name: "SameOriginCase", host: "CTL:8080", origin: "https://ctl:8080", want: true},
		{name: "CrossOrigin", host: "ctl:8080", origin: "https://evil.example", want: false},
		{name: "OtherPort", host: "ctl:8080", origin: "http://ctl:9999", want: false},
		{name: "AllowListed", allowed: []string{"https://ops.example.com/"}, host: "ctl:8080", origin: "https://ops.example.com", want: true},
		{name: "NotOnAllowList", allowed: []string{"https://ops.example.com"}, host: "ctl:8080", origin: "https://evil.example", want: false},
		{name: "Wildcard", allowed: []string{"*"}, host: "ctl:8080", origin: "https://anything.example", want: true},
		{name: "Unparseable", host: "ctl:8080", origin: "http://%zz", want: false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/v1/ws", nil)
			r.Host = tc.host
			if tc.origin != "" {
				r.Header.Set("Origin", tc.origin)
			}
			if got := originChecker(tc.allowed)(r); got != tc.want {
				t.Fatalf("originChecker(%q) = %v, want %v", tc.origin, got, tc.want)
			}
		})
	}
}

func TestWebSocket_RejectsCrossOrigin(t *testing.T) {
	e := newTestEnv(t)
	d := e.srv.d
	d.AllowedOrigins = []string{"https://ops.example.com"}
	e.srv = New(d)
	ts := httptest.NewServer(e.srv.NewHTTPHandler(""))
	t.Cleanup(ts.Close)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	if err == nil {
		t.Fatal("expected cross-origin handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %+v", resp)
	}

	for _, origin := range []string{"https://ops.example.com", ts.URL} {
		conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {origin}})
		if err != nil {
			t.Fatalf("origin %s: dial: %v", origin, err)
		}
		conn.Close()
	}
}
