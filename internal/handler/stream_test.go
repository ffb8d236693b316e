package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/linkora/realtime/internal/middleware"
	"github.com/linkora/realtime/internal/registry"
	"github.com/linkora/realtime/internal/sse"
)

func streamRequest(target, sessionUser string) *http.Request {
	req := httptest.NewRequest("GET", target, nil)
	ctx, cancel := context.WithCancel(req.Context())
	cancel() // стрим закрывается сразу после handshake
	return req.WithContext(middleware.WithUserID(ctx, sessionUser))
}

func newStreamRouter(reg *registry.Registry) http.Handler {
	h := NewStreamHandler(sse.NewServer(reg, nil, time.Hour))
	r := chi.NewRouter()
	r.Get("/stream/{userId}", h.Stream)
	return r
}

func TestStreamForbiddenForOtherUser(t *testing.T) {
	reg := registry.New()
	router := newStreamRouter(reg)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, streamRequest("/stream/bob", "alice"))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, 0, reg.Len())
}

func TestStreamServesOwnUser(t *testing.T) {
	reg := registry.New()
	router := newStreamRouter(reg)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, streamRequest("/stream/alice", "alice"))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "event: log")
	assert.Contains(t, rec.Body.String(), `"user_id":"alice"`)
	// Контекст запроса отменён: соединение снято перед возвратом.
	assert.Equal(t, 0, reg.Len())
}
