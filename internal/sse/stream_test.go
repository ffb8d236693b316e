package sse

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkora/realtime/internal/registry"
)

func TestNewStreamHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	s, err := NewStream(rec)
	require.NoError(t, err)
	require.NotNil(t, s)

	h := rec.Header()
	assert.Equal(t, "text/event-stream", h.Get("Content-Type"))
	assert.Equal(t, "no-cache", h.Get("Cache-Control"))
	assert.Equal(t, "keep-alive", h.Get("Connection"))
	assert.Equal(t, "no", h.Get("X-Accel-Buffering"))
}

// plainWriter — ResponseWriter без http.Flusher.
type plainWriter struct {
	header http.Header
}

func (w *plainWriter) Header() http.Header {
	if w.header == nil {
		w.header = http.Header{}
	}
	return w.header
}
func (w *plainWriter) Write(b []byte) (int, error) { return len(b), nil }
func (w *plainWriter) WriteHeader(int)             {}

func TestNewStreamRequiresFlusher(t *testing.T) {
	_, err := NewStream(&plainWriter{})
	assert.ErrorIs(t, err, ErrNoFlusher)
}

func TestStreamWriteFrame(t *testing.T) {
	rec := httptest.NewRecorder()
	s, err := NewStream(rec)
	require.NoError(t, err)

	ev, err := registry.NewEvent(registry.EventMessage, map[string]string{"id": "m1"})
	require.NoError(t, err)
	require.NoError(t, s.Write(ev))

	assert.Equal(t, "event: message\ndata: {\"id\":\"m1\"}\n\n", rec.Body.String())
	assert.True(t, rec.Flushed)
}

func TestStreamWriteNamedEvents(t *testing.T) {
	for _, typ := range []registry.EventType{
		registry.EventLog, registry.EventPing, registry.EventMessage,
		registry.EventReaction, registry.EventReadReceipt,
	} {
		rec := httptest.NewRecorder()
		s, err := NewStream(rec)
		require.NoError(t, err)
		require.NoError(t, s.Write(registry.Event{Type: typ, Data: []byte("{}")}))
		assert.Equal(t, "event: "+string(typ)+"\ndata: {}\n\n", rec.Body.String())
	}
}
