package sse

import (
	"context"
	"net/http"
	"time"

	"github.com/linkora/realtime/internal/logger"
	"github.com/linkora/realtime/internal/registry"
)

const DefaultHeartbeat = 30 * time.Second

// Presence уведомляется о появлении/уходе пользователя (бухгалтерия is_online
// в профиле; само состояние presence живёт только в реестре).
type Presence interface {
	SetOnline(ctx context.Context, userID string, online bool) error
}

type handshakePayload struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

type pingPayload struct {
	TS int64 `json:"ts"`
}

// Server обслуживает SSE-стримы и ведёт heartbeat каждого соединения.
type Server struct {
	reg       *registry.Registry
	presence  Presence
	heartbeat time.Duration
}

// NewServer создаёт SSE-сервер. presence может быть nil. heartbeat <= 0
// заменяется DefaultHeartbeat.
func NewServer(reg *registry.Registry, presence Presence, heartbeat time.Duration) *Server {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &Server{reg: reg, presence: presence, heartbeat: heartbeat}
}

// Heartbeat возвращает интервал heartbeat (для тестов и конфигурационных ручек).
func (s *Server) Heartbeat() time.Duration { return s.heartbeat }

// Serve держит стрим пользователя открытым до отключения клиента или вытеснения
// новым соединением. Порядок закрытия фиксирован: сначала останавливается
// heartbeat-таймер, затем снимается регистрация — ping никогда не планируется
// после unregister, а повторная очистка (ошибка записи + close-сигнал) — no-op.
func (s *Server) Serve(w http.ResponseWriter, r *http.Request, userID string) {
	stream, err := NewStream(w)
	if err != nil {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	conn := registry.NewConn(userID, stream)
	if !conn.Open() {
		return
	}
	s.reg.Register(userID, conn)
	defer func() {
		// Conn уже Closed к этому моменту либо закроется здесь; Unregister
		// снимает запись, только если слот всё ещё наш.
		s.reg.Unregister(userID, conn)
		s.setOnline(userID, false)
	}()
	s.setOnline(userID, true)

	if err := conn.Send(mustEvent(registry.EventLog, handshakePayload{UserID: userID, Status: "connected"})); err != nil {
		return
	}

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			// Закрытие TCP/HTTP-соединения — единственный клиентский сигнал
			// отключения.
			conn.Close()
			return
		case <-conn.Done():
			// Вытеснен reconnect-ом или закрыт по ошибке записи.
			return
		case <-ticker.C:
			if err := conn.Send(mustEvent(registry.EventPing, pingPayload{TS: time.Now().Unix()})); err != nil {
				// Транспорт умер: Send уже закрыл соединение, клиент ушёл.
				return
			}
		}
	}
}

func (s *Server) setOnline(userID string, online bool) {
	if s.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.presence.SetOnline(ctx, userID, online); err != nil {
		logger.Errorf("sse: set online=%v user=%s: %v", online, userID, err)
	}
}

func mustEvent(t registry.EventType, payload any) registry.Event {
	ev, err := registry.NewEvent(t, payload)
	if err != nil {
		// Payload-структуры выше всегда сериализуемы.
		logger.Errorf("sse: encode %s: %v", t, err)
		return registry.Event{Type: t, Data: []byte("{}")}
	}
	return ev
}
