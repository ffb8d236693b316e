// Package registry хранит in-memory-карту «кто сейчас доступен и по какому
// live-каналу». Реестр локален для процесса: деплой с несколькими инстансами
// требует либо sticky-роутинга, либо внешнего pub/sub-брокера — это граница
// масштабирования, а не деталь реализации.
package registry

import (
	"sync"

	"github.com/linkora/realtime/internal/logger"
)

// Registry — единственная разделяемая изменяемая структура ядра доставки.
// Все мутации — атомарные операции по одному ключу (user id) под мьютексом.
// Создаётся явно и передаётся обработчикам, без package-level состояния.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

func New() *Registry {
	return &Registry{conns: make(map[string]*Conn)}
}

// Register сохраняет соединение пользователя, вытесняя предыдущее: на пользователя
// удерживается не больше одного SSE-входа, и push получает только самое свежее
// соединение (reconnect заменяет зависший стрим). Старое соединение закрывается.
func (r *Registry) Register(userID string, c *Conn) {
	r.mu.Lock()
	old := r.conns[userID]
	r.conns[userID] = c
	r.mu.Unlock()

	if old != nil && old != c {
		logger.Debugf("registry: user=%s reconnected, closing stale stream", userID)
		old.Close()
	}
}

// Unregister удаляет запись пользователя. Идемпотентна: повторный вызов или вызов
// после того, как ошибка записи уже убрала запись, — no-op. Если передано c,
// запись снимается только когда слот всё ещё занят этим соединением: устаревшее
// соединение, уже вытесненное новым, не должно выселить новое.
func (r *Registry) Unregister(userID string, c *Conn) {
	r.mu.Lock()
	cur, ok := r.conns[userID]
	if ok && (c == nil || cur == c) {
		delete(r.conns, userID)
	} else {
		cur = nil
	}
	r.mu.Unlock()

	if cur != nil {
		cur.Close()
	}
}

// Lookup возвращает live-соединение пользователя. Отсутствие — не ошибка:
// получатель offline и узнает о событии из сохранённой истории.
func (r *Registry) Lookup(userID string) (*Conn, bool) {
	r.mu.RLock()
	c, ok := r.conns[userID]
	r.mu.RUnlock()
	return c, ok
}

// Push доставляет событие в live-канал пользователя, если он есть.
// Ошибка записи означает молча умерший транспорт: запись немедленно снимается
// с учёта, чтобы последующие fan-out не ретраили мёртвый канал.
// Возвращает true, если событие принято каналом.
func (r *Registry) Push(userID string, ev Event) bool {
	c, ok := r.Lookup(userID)
	if !ok {
		return false
	}
	if err := c.Send(ev); err != nil {
		logger.Debugf("registry: push to user=%s failed: %v", userID, err)
		r.Unregister(userID, c)
		return false
	}
	return true
}

// Len возвращает число live-соединений (метрики и тесты).
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Shutdown закрывает все соединения и очищает реестр.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.conns = make(map[string]*Conn)
	r.mu.Unlock()

	// Закрытие вне блокировки: Close может дёргать транспорт.
	for _, c := range conns {
		c.Close()
	}
}
