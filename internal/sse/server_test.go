package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkora/realtime/internal/registry"
)

type fakePresence struct {
	mu    sync.Mutex
	calls []bool
}

func (p *fakePresence) SetOnline(_ context.Context, _ string, online bool) error {
	p.mu.Lock()
	p.calls = append(p.calls, online)
	p.mu.Unlock()
	return nil
}

func (p *fakePresence) snapshot() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bool(nil), p.calls...)
}

// syncRecorder — потокобезопасный ResponseRecorder: handshake и ping пишет
// горутина Serve, push — тестовая.
type syncRecorder struct {
	mu  sync.Mutex
	rec *httptest.ResponseRecorder
}

func newSyncRecorder() *syncRecorder {
	return &syncRecorder{rec: httptest.NewRecorder()}
}

func (w *syncRecorder) Header() http.Header {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rec.Header()
}

func (w *syncRecorder) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rec.Write(b)
}

func (w *syncRecorder) WriteHeader(code int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rec.WriteHeader(code)
}

func (w *syncRecorder) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rec.Flush()
}

func (w *syncRecorder) body() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rec.Body.String()
}

func serveAsync(t *testing.T, s *Server, userID string) (*syncRecorder, context.CancelFunc, chan struct{}) {
	t.Helper()
	rec := newSyncRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/stream/"+userID, nil).WithContext(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Serve(rec, req, userID)
	}()
	return rec, cancel, done
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestServeHandshakeAndPush(t *testing.T) {
	reg := registry.New()
	presence := &fakePresence{}
	s := NewServer(reg, presence, time.Hour)

	rec, cancel, done := serveAsync(t, s, "alice")
	waitFor(t, func() bool { return reg.Len() == 1 }, "stream not registered")

	waitFor(t, func() bool {
		return strings.Contains(rec.body(), `event: log`)
	}, "handshake frame not written")
	assert.Contains(t, rec.body(), `"status":"connected"`)

	ev, err := registry.NewEvent(registry.EventMessage, map[string]string{"text": "hi"})
	require.NoError(t, err)
	require.True(t, reg.Push("alice", ev))
	assert.Contains(t, rec.body(), "event: message\ndata: {\"text\":\"hi\"}\n\n")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not exit on client disconnect")
	}
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, []bool{true, false}, presence.snapshot())
}

func TestServeHeartbeat(t *testing.T) {
	reg := registry.New()
	s := NewServer(reg, nil, 20*time.Millisecond)

	rec, cancel, done := serveAsync(t, s, "alice")
	defer func() { cancel(); <-done }()

	waitFor(t, func() bool {
		return strings.Count(rec.body(), "event: ping") >= 2
	}, "pings not delivered")
	assert.Contains(t, rec.body(), `"ts":`)
}

// Reconnect вытесняет прежний стрим: его Serve завершается, push уходит
// только в свежее соединение.
func TestServeReconnectEvictsStale(t *testing.T) {
	reg := registry.New()
	s := NewServer(reg, nil, time.Hour)

	rec1, cancel1, done1 := serveAsync(t, s, "alice")
	waitFor(t, func() bool { return reg.Len() == 1 }, "first stream not registered")

	rec2, cancel2, done2 := serveAsync(t, s, "alice")
	defer func() { cancel2(); <-done2 }()

	select {
	case <-done1:
	case <-time.After(2 * time.Second):
		t.Fatal("stale stream not evicted")
	}
	cancel1()

	assert.Equal(t, 1, reg.Len())
	waitFor(t, func() bool {
		return strings.Contains(rec2.body(), "event: log")
	}, "fresh stream handshake missing")

	before := rec1.body()
	ev, err := registry.NewEvent(registry.EventMessage, map[string]string{"n": "1"})
	require.NoError(t, err)
	require.True(t, reg.Push("alice", ev))
	assert.Contains(t, rec2.body(), `data: {"n":"1"}`)
	assert.Equal(t, before, rec1.body())
}

func TestServeDefaultHeartbeat(t *testing.T) {
	s := NewServer(registry.New(), nil, 0)
	assert.Equal(t, DefaultHeartbeat, s.Heartbeat())
	assert.Equal(t, 30*time.Second, DefaultHeartbeat)
}
