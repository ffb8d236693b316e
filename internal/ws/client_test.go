package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// dialTestSocket поднимает сервер с настоящим апгрейдом, запускает пумпы
// клиента userID и возвращает вторую сторону соединения.
func dialTestSocket(t *testing.T, h *Hub, userID string) *websocket.Conn {
	t.Helper()

	hubCtx, hubCancel := context.WithCancel(context.Background())
	go h.Run(hubCtx)
	t.Cleanup(hubCancel)

	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		client := NewClient(h, conn, userID)
		client.joined.Store(true)
		ctx, cancel := context.WithCancel(context.Background())
		client.Start(ctx, cancel)
		client.Wait()
	}))
	t.Cleanup(srv.Close)

	peer, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { peer.Close() })
	require.NoError(t, peer.SetReadDeadline(time.Now().Add(3*time.Second)))
	return peer
}

type ackFrame struct {
	Type    EventType    `json:"type"`
	Payload ErrorPayload `json:"payload"`
}

func TestReadPumpMalformedPayload(t *testing.T) {
	h := NewHub(nil, nil, nil, nil, nil, nil, 10)
	peer := dialTestSocket(t, h, "alice")

	require.NoError(t, peer.WriteMessage(websocket.TextMessage, []byte(`{"type":`)))

	var out ackFrame
	require.NoError(t, peer.ReadJSON(&out))
	require.Equal(t, EventMessageError, out.Type)
	require.Equal(t, "malformed event payload", out.Payload.Error)

	// Соединение живо: следующее событие обрабатывается как обычно.
	require.NoError(t, peer.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`)))
	require.NoError(t, peer.ReadJSON(&out))
	require.Equal(t, EventMessageError, out.Type)
	require.Equal(t, "unknown event type", out.Payload.Error)
}
