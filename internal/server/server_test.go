package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alfredjeanlab/sentinel/internal/deadman"
	"github.com/alfredjeanlab/sentinel/internal/dispatch"
	"github.com/alfredjeanlab/sentinel/internal/events"
	"github.com/alfredjeanlab/sentinel/internal/hub"
	"github.com/alfredjeanlab/sentinel/internal/ingest"
	"github.com/alfredjeanlab/sentinel/internal/model"
	"github.com/alfredjeanlab/sentinel/internal/registry"
	"github.com/alfredjeanlab/sentinel/internal/scorer"
	"github.com/alfredjeanlab/sentinel/internal/store/storetest"
)

// recordingBus records publishes and fails while down is set.
type recordingBus struct {
	mu     sync.Mutex
	topics []string
	down   bool
	// failTopic fails publishes on one topic only.
	failTopic string
}

func (b *recordingBus) Publish(_ context.Context, topic string, _ any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down || topic == b.failTopic {
		return events.ErrBusDisconnected
	}
	b.topics = append(b.topics, topic)
	return nil
}

func (b *recordingBus) Close() error { return nil }

func (b *recordingBus) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.down
}

func (b *recordingBus) setDown(down bool) {
	b.mu.Lock()
	b.down = down
	b.mu.Unlock()
}

func (b *recordingBus) published() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.topics...)
}

type nopEmitter struct{}

func (nopEmitter) EmitDirective(context.Context, *model.Directive) error { return nil }

type testEnv struct {
	srv     *Server
	store   *storetest.MemStore
	reg     *registry.Registry
	hub     *hub.Hub
	book    *scorer.TacticBook
	bus     *recordingBus
	deadman *deadman.Supervisor
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	e := &testEnv{
		store: storetest.New(),
		reg:   registry.New(nil),
		hub:   hub.New(hub.Options{QueueSize: 256}),
		book:  scorer.NewTacticBook(),
		bus:   &recordingBus{},
	}
	e.deadman = deadman.New(deadman.Config{Timeout: time.Hour}, nopEmitter{}, nil, nil)
	disp := dispatch.New(e.store, e.bus, e.hub, nil, nil)
	ing := ingest.New(ingest.Config{}, ingest.Deps{
		Store:      e.store,
		Registry:   e.reg,
		Scorer:     scorer.New(scorer.Config{Seed: 3}, e.book, nil, nil),
		Hub:        e.hub,
		Dispatcher: disp,
		Deadman:    e.deadman,
	})
	e.srv = New(Deps{
		Store:      e.store,
		Registry:   e.reg,
		Ingestor:   ing,
		Dispatcher: disp,
		Hub:        e.hub,
		Tactics:    e.book,
		Deadman:    e.deadman,
		Bus:        e.bus,
	})
	e.handler = e.srv.NewHTTPHandler("")
	return e
}

// do sends a request to the handler and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v; body: %s", err, rec.Body.String())
	}
}
