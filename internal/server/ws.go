package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alfredjeanlab/sentinel/internal/dispatch"
	"github.com/alfredjeanlab/sentinel/internal/hub"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = wsPongWait * 9 / 10
	wsMaxMessageSize = 64 << 10
	wsReplyQueue     = 16
)

// wsRequest is an inbound observer message. Only the fields below are
// accepted; anything else is rejected.
type wsRequest struct {
	Type      string          `json:"type"` // "command" or "ping"
	RequestID string          `json:"request_id,omitempty"`
	Command   *commandRequest `json:"command,omitempty"`
}

// wsReply answers one wsRequest. Hub events are written as hub.Event.
type wsReply struct {
	Type      string           `json:"type"` // "command_result", "pong" or "error"
	RequestID string           `json:"request_id,omitempty"`
	Result    *dispatch.Result `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// originChecker accepts requests without an Origin header, same-origin
// requests, and origins on the allow-list.
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimRight(o, "/"))] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if set["*"] || set[strings.ToLower(origin)] {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}

// handleWebSocket handles GET /v1/ws. The connection receives hub events
// (filtered by ?types=) and may submit commands.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	s.touch()

	client := s.d.Hub.Register(splitList(r.URL.Query().Get("types")))
	defer s.d.Hub.Unregister(client)
	s.logger.Debug("observer connected", "client_id", client.ID, "remote", r.RemoteAddr)

	replies := make(chan *wsReply, wsReplyQueue)
	readDone := make(chan struct{})
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		s.wsWriteLoop(conn, client, replies, readDone)
	}()

	s.wsReadLoop(r.Context(), conn, replies, writeDone)
	close(readDone)
	<-writeDone
	s.logger.Debug("observer disconnected", "client_id", client.ID)
}

// wsReadLoop owns reads on conn until the peer goes away.
func (s *Server) wsReadLoop(ctx context.Context, conn *websocket.Conn, replies chan<- *wsReply, writeDone <-chan struct{}) {
	conn.SetReadLimit(wsMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Info("websocket read failed", "err", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

		reply := s.handleWSMessage(ctx, data)
		select {
		case replies <- reply:
		case <-writeDone:
			return
		}
	}
}

// wsWriteLoop owns writes on conn. A failed send removes the observer.
func (s *Server) wsWriteLoop(conn *websocket.Conn, client *hub.Client, replies <-chan *wsReply, readDone <-chan struct{}) {
	defer conn.Close()
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-readDone:
			wsClose(conn, websocket.CloseNormalClosure, "")
			return
		case <-client.Done():
			wsClose(conn, websocket.CloseTryAgainLater, "observer queue overflow")
			return
		case evt := <-client.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			err = conn.WriteJSON(evt)
		case reply := <-replies:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			err = conn.WriteJSON(reply)
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			err = conn.WriteMessage(websocket.PingMessage, nil)
		}
		if err != nil {
			client.Fail(err)
			return
		}
	}
}

func wsClose(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text),
		time.Now().Add(wsWriteWait))
}

// handleWSMessage decodes one inbound message as data and answers it.
func (s *Server) handleWSMessage(ctx context.Context, data []byte) *wsReply {
	var req wsRequest
	if err := decodeStrict(data, &req); err != nil {
		return &wsReply{Type: "error", Error: err.Error()}
	}
	switch req.Type {
	case "ping":
		s.touch()
		return &wsReply{Type: "pong", RequestID: req.RequestID}
	case "command":
		if req.Command == nil {
			return &wsReply{Type: "error", RequestID: req.RequestID, Error: "command is required"}
		}
		res, err := s.SubmitCommand(ctx, req.Command)
		reply := &wsReply{Type: "command_result", RequestID: req.RequestID, Result: res}
		if err != nil {
			if !errors.Is(err, dispatch.ErrPublishFailed) {
				s.logger.Error("websocket command failed", "agent_id", req.Command.AgentID, "err", err)
				return &wsReply{Type: "error", RequestID: req.RequestID, Error: "failed to submit command"}
			}
			reply.Error = err.Error()
		}
		return reply
	default:
		return &wsReply{Type: "error", RequestID: req.RequestID, Error: "unknown message type " + req.Type}
	}
}
