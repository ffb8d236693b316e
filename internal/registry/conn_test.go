package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport записывает события в память; failAfter > 0 включает ошибку
// записи начиная с (failAfter+1)-й отправки.
type fakeTransport struct {
	mu        sync.Mutex
	events    []Event
	failAfter int
	writes    int
}

func (t *fakeTransport) Write(ev Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writes++
	if t.failAfter > 0 && t.writes > t.failAfter {
		return errors.New("broken pipe")
	}
	t.events = append(t.events, ev)
	return nil
}

func (t *fakeTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.events)
}

func TestConnLifecycle(t *testing.T) {
	c := NewConn("u1", &fakeTransport{})
	assert.Equal(t, StateConnecting, c.State())

	require.True(t, c.Open())
	assert.Equal(t, StateOpen, c.State())

	// Повторный Open из Open невозможен.
	assert.False(t, c.Open())

	c.Close()
	assert.Equal(t, StateClosed, c.State())

	// Closed — терминальное: открыть заново нельзя.
	assert.False(t, c.Open())
}

func TestConnSendBeforeOpen(t *testing.T) {
	tr := &fakeTransport{}
	c := NewConn("u1", tr)

	err := c.Send(Event{Type: EventPing, Data: []byte("{}")})
	assert.ErrorIs(t, err, ErrClosed)
	assert.Zero(t, tr.count())
}

func TestConnSendAfterClose(t *testing.T) {
	tr := &fakeTransport{}
	c := NewConn("u1", tr)
	require.True(t, c.Open())
	c.Close()

	// Опоздавший heartbeat после закрытия — no-op, не паника и не запись.
	err := c.Send(Event{Type: EventPing, Data: []byte("{}")})
	assert.ErrorIs(t, err, ErrClosed)
	assert.Zero(t, tr.count())
}

func TestConnWriteErrorCloses(t *testing.T) {
	tr := &fakeTransport{failAfter: 1}
	c := NewConn("u1", tr)
	require.True(t, c.Open())

	require.NoError(t, c.Send(Event{Type: EventPing, Data: []byte("{}")}))

	err := c.Send(Event{Type: EventPing, Data: []byte("{}")})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrClosed)
	assert.Equal(t, StateClosed, c.State())

	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed after write error")
	}

	// Последующие отправки в мёртвый транспорт не предпринимаются.
	writesBefore := tr.writes
	assert.ErrorIs(t, c.Send(Event{Type: EventPing, Data: []byte("{}")}), ErrClosed)
	assert.Equal(t, writesBefore, tr.writes)
}

// Закрытие может прийти одновременно с нескольких сторон: ошибка записи,
// закрытие клиентом, вытеснение reconnect-ом. Очистка должна сработать ровно
// один раз без паник на повторном close(done).
func TestConnCloseConcurrent(t *testing.T) {
	c := NewConn("u1", &fakeTransport{})
	require.True(t, c.Open())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Close()
		}()
	}
	wg.Wait()
	assert.Equal(t, StateClosed, c.State())
}

func TestConnConcurrentSend(t *testing.T) {
	tr := &fakeTransport{}
	c := NewConn("u1", tr)
	require.True(t, c.Open())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = c.Send(Event{Type: EventMessage, Data: []byte(`{"n":1}`)})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 400, tr.count())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(42).String())
}
