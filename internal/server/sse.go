package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/alfredjeanlab/sentinel/internal/hub"
)

var (
	// sseKeepaliveInterval spaces comment frames on idle streams.
	sseKeepaliveInterval = 15 * time.Second
	// sseRetry is the reconnect delay suggested to EventSource clients.
	sseRetry = 3 * time.Second
)

// sseStream writes text/event-stream frames and flushes after each one.
type sseStream struct {
	w http.ResponseWriter
	f http.Flusher
}

func (s sseStream) event(evt *hub.Event) error {
	if _, err := fmt.Fprintf(s.w, "id:%d\nevent:%s\ndata:%s\n\n", evt.ID, evt.Type, evt.Data); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

func (s sseStream) comment(text string) error {
	if _, err := fmt.Fprintf(s.w, ":%s\n\n", text); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

// handleEventStream serves GET /v1/events/stream. ?types= filters event
// types and a Last-Event-ID header replays what the hub still buffers.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	f, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	stream := sseStream{w: w, f: f}

	s.touch()
	client := s.d.Hub.Register(splitList(r.URL.Query().Get("types")))
	defer s.d.Hub.Unregister(client)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprintf(w, "retry:%d\n\n", sseRetry.Milliseconds()); err != nil {
		return
	}
	f.Flush()

	if err := s.replay(stream, client, r.Header.Get("Last-Event-ID")); err != nil {
		client.Fail(err)
		return
	}

	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()
	for {
		var err error
		select {
		case <-r.Context().Done():
			return
		case <-client.Done():
			return
		case evt := <-client.Events():
			err = stream.event(evt)
		case <-keepalive.C:
			err = stream.comment("keepalive")
		}
		if err != nil {
			client.Fail(err)
			return
		}
	}
}

// replay sends buffered events newer than lastID that pass the client's
// filter. An absent or malformed id replays nothing.
func (s *Server) replay(stream sseStream, client *hub.Client, lastID string) error {
	if lastID == "" {
		return nil
	}
	id, err := strconv.ParseUint(lastID, 10, 64)
	if err != nil {
		return nil
	}
	for _, evt := range s.d.Hub.EventsSince(id) {
		if !client.Matches(evt.Type) {
			continue
		}
		if err := stream.event(evt); err != nil {
			return err
		}
	}
	return nil
}
