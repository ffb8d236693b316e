package registry

import (
	"errors"
	"sync"
	"sync/atomic"
)

// State — состояние live-соединения. Переходы только вперёд:
// Connecting -> Open -> Closed. Closed — терминальное.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// ErrClosed возвращается при записи в соединение вне состояния Open.
var ErrClosed = errors.New("connection closed")

// Transport — нижележащий канал вывода (SSE-стрим). Write вызывается
// последовательно; ошибка записи означает смерть транспорта.
type Transport interface {
	Write(ev Event) error
}

// Conn — одно live-соединение пользователя с явным конечным автоматом.
// События принимает только Open-соединение; Close срабатывает ровно один раз,
// сколько бы сигналов (ошибка записи, закрытие клиентом, вытеснение новым
// соединением) ни пришло.
type Conn struct {
	userID string
	tr     Transport

	state atomic.Int32

	closeOnce sync.Once
	done      chan struct{}

	// writeMu сериализует записи в транспорт: heartbeat и fan-out могут
	// приходить из разных горутин.
	writeMu sync.Mutex
}

// NewConn создаёт соединение в состоянии Connecting.
func NewConn(userID string, tr Transport) *Conn {
	c := &Conn{
		userID: userID,
		tr:     tr,
		done:   make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

func (c *Conn) UserID() string { return c.userID }

func (c *Conn) State() State { return State(c.state.Load()) }

// Open переводит Connecting -> Open. Возврат false — соединение уже закрыто.
func (c *Conn) Open() bool {
	return c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen))
}

// Send пишет событие в транспорт. Вне состояния Open — ErrClosed без записи
// (ping после закрытия — no-op, не паника). Ошибка транспорта закрывает
// соединение: дальнейшие отправки не предпринимаются.
func (c *Conn) Send(ev Event) error {
	if c.State() != StateOpen {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.State() != StateOpen {
		return ErrClosed
	}
	if err := c.tr.Write(ev); err != nil {
		c.Close()
		return err
	}
	return nil
}

// Close переводит соединение в Closed (однократно, из любого состояния).
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		close(c.done)
	})
}

// Done закрывается при переходе в Closed; используется обработчиком стрима,
// чтобы завершить long-lived ответ, когда соединение вытеснено новым.
func (c *Conn) Done() <-chan struct{} { return c.done }
