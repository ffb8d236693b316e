package startup

import (
	"context"
	"time"

	"github.com/linkora/realtime/internal/logger"
	"github.com/linkora/realtime/internal/storage"
	"github.com/linkora/realtime/internal/storage/memory"
	redisstore "github.com/linkora/realtime/internal/storage/redis"
)

// ConnectSessionStore подключается к Redis с повторами. Если redisURL пуст,
// возвращает in-memory хранилище (режим разработки).
func ConnectSessionStore(redisURL string, maxWait time.Duration) storage.SessionStore {
	if redisURL == "" {
		logger.Info("redis url not set, using in-memory session store")
		return memory.New()
	}
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		client, err := redisstore.New(ctx, redisURL)
		cancel()
		if err == nil {
			return client
		}
		if time.Now().After(deadline) {
			logger.Errorf("redis unavailable after %v, falling back to in-memory sessions: %v", maxWait, err)
			return memory.New()
		}
		logger.Errorf("redis connect failed, retry in %v: %v", backoff, err)
		time.Sleep(backoff)
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}
