package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linkora/realtime/internal/middleware"
	"github.com/linkora/realtime/internal/sse"
)

type StreamHandler struct {
	srv *sse.Server
}

func NewStreamHandler(srv *sse.Server) *StreamHandler {
	return &StreamHandler{srv: srv}
}

// Stream открывает SSE-поток GET /stream/{userId}. Путь обязан совпадать с
// владельцем сессии: чужой стрим открыть нельзя.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	pathUser := chi.URLParam(r, "userId")
	sessionUser := middleware.GetUserID(r.Context())
	if pathUser == "" {
		writeError(w, http.StatusBadRequest, "user id required")
		return
	}
	if pathUser != sessionUser {
		writeError(w, http.StatusForbidden, "stream belongs to another user")
		return
	}
	h.srv.Serve(w, r, pathUser)
}
