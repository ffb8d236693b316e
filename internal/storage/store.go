package storage

import (
	"context"
	"time"
)

// SessionStore — доступ к сессиям, выданным внешним auth-сервисом. Ядро доставки
// только читает соответствие session_id -> user_id; выпуск и отзыв сессий —
// зона ответственности auth-коллаборатора.
// Реализации: redis.Client, memory.Client (для -dev без Redis).
type SessionStore interface {
	GetSessionUser(ctx context.Context, sessionID string) (string, error)
	SetSessionUser(ctx context.Context, sessionID, userID string, ttl time.Duration) error
	DeleteSession(ctx context.Context, sessionID string) error
	Close() error
}
