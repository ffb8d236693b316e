package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/linkora/realtime/internal/storage"
)

// SessionAuth проверяет сессию, выданную внешним auth-сервисом, и кладёт
// user_id в контекст. Session id берётся из заголовка X-Session-Id либо из
// query-параметра session_id (EventSource не умеет заголовки, поэтому
// SSE-стримы передают сессию в query).
func SessionAuth(store storage.SessionStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := strings.TrimSpace(r.Header.Get("X-Session-Id"))
			if sessionID == "" {
				sessionID = strings.TrimSpace(r.URL.Query().Get("session_id"))
			}
			if sessionID == "" {
				unauthorized(w)
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			userID, err := store.GetSessionUser(ctx, sessionID)
			cancel()
			if err != nil {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "session store unavailable"})
				return
			}
			if userID == "" {
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), UserIDKey, userID)))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
}
