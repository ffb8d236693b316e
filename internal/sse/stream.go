// Package sse реализует долгоживущий SSE-стрим на пользователя: handshake,
// heartbeat с фиксированным интервалом и запись fan-out-событий в формате
// `event: <type>\ndata: <JSON>\n\n`.
package sse

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/linkora/realtime/internal/registry"
)

// ErrNoFlusher — ResponseWriter не поддерживает порционную отдачу (SSE невозможен).
var ErrNoFlusher = errors.New("response writer does not support flushing")

// Stream пишет события в HTTP-ответ. Реализует registry.Transport;
// синхронизацию записей обеспечивает registry.Conn.
type Stream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewStream проверяет, что ответ можно стримить, и выставляет SSE-заголовки.
func NewStream(w http.ResponseWriter) (*Stream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrNoFlusher
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	// Отключает буферизацию nginx, иначе события копятся на прокси.
	h.Set("X-Accel-Buffering", "no")
	return &Stream{w: w, flusher: flusher}, nil
}

// Write отправляет один SSE-фрейм и сразу сбрасывает буфер.
func (s *Stream) Write(ev registry.Event) error {
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Type, ev.Data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
