package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openConn(t *testing.T, userID string, tr Transport) *Conn {
	t.Helper()
	c := NewConn(userID, tr)
	require.True(t, c.Open())
	return c
}

func TestRegisterOverwritesStale(t *testing.T) {
	r := New()
	oldTr, newTr := &fakeTransport{}, &fakeTransport{}
	oldConn := openConn(t, "u1", oldTr)
	newConn := openConn(t, "u1", newTr)

	r.Register("u1", oldConn)
	require.Equal(t, 1, r.Len())

	// Reconnect вытесняет прежний вход: запись одна, push идёт в свежее
	// соединение, устаревшее закрыто.
	r.Register("u1", newConn)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, StateClosed, oldConn.State())

	require.True(t, r.Push("u1", Event{Type: EventMessage, Data: []byte("{}")}))
	assert.Zero(t, oldTr.count())
	assert.Equal(t, 1, newTr.count())
}

func TestUnregisterIdempotent(t *testing.T) {
	r := New()
	c := openConn(t, "u1", &fakeTransport{})
	r.Register("u1", c)

	r.Unregister("u1", c)
	assert.Equal(t, 0, r.Len())

	// Повторный вызов и вызов для незнакомого пользователя — no-op.
	r.Unregister("u1", c)
	r.Unregister("nobody", nil)
	assert.Equal(t, 0, r.Len())
}

// Очистка устаревшего соединения (отработавший defer старого стрима) не должна
// выселить соединение, успевшее занять слот при reconnect-е.
func TestUnregisterStaleKeepsFresh(t *testing.T) {
	r := New()
	oldConn := openConn(t, "u1", &fakeTransport{})
	newConn := openConn(t, "u1", &fakeTransport{})

	r.Register("u1", oldConn)
	r.Register("u1", newConn)

	r.Unregister("u1", oldConn)
	assert.Equal(t, 1, r.Len())

	got, ok := r.Lookup("u1")
	require.True(t, ok)
	assert.Same(t, newConn, got)
	assert.Equal(t, StateOpen, newConn.State())
}

func TestPushOffline(t *testing.T) {
	r := New()
	assert.False(t, r.Push("ghost", Event{Type: EventMessage, Data: []byte("{}")}))
}

func TestPushDeadTransportUnregisters(t *testing.T) {
	r := New()
	c := NewConn("u1", &failingTransport{})
	require.True(t, c.Open())
	r.Register("u1", c)

	assert.False(t, r.Push("u1", Event{Type: EventMessage, Data: []byte("{}")}))
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, StateClosed, c.State())
}

type failingTransport struct{}

func (failingTransport) Write(Event) error { return assert.AnError }

func TestShutdown(t *testing.T) {
	r := New()
	c1 := openConn(t, "u1", &fakeTransport{})
	c2 := openConn(t, "u2", &fakeTransport{})
	r.Register("u1", c1)
	r.Register("u2", c2)

	r.Shutdown()
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, StateClosed, c1.State())
	assert.Equal(t, StateClosed, c2.State())
}
