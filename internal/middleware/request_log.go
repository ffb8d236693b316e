package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/linkora/realtime/internal/logger"
)

// RequestLog логирует каждый HTTP-запрос: method, path и время выполнения
// (асинхронно, не блокирует). Live-маршруты (/stream/, /ws) живут часами, их
// длительность ничего не значит — для них логируются открытие и закрытие.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := "http " + r.Method + " " + r.URL.Path
		if strings.HasPrefix(r.URL.Path, "/stream/") || r.URL.Path == "/ws" {
			logger.Debugf("%s opened", name)
			next.ServeHTTP(w, r)
			logger.Debugf("%s closed", name)
			return
		}
		defer logger.DeferLogDuration(name, time.Now())()
		next.ServeHTTP(w, r)
	})
}
