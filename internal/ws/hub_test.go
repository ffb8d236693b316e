package ws

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkora/realtime/internal/fanout"
	"github.com/linkora/realtime/internal/model"
	"github.com/linkora/realtime/internal/registry"
)

// fakeMessageStore реализует MessageStore для проверки веток ошибок хранилища.
type fakeMessageStore struct {
	err        error
	seenFrom   [][2]string // sender, reader
	seenGroups [][2]string // groupID, userID
}

func (s *fakeMessageStore) Create(ctx context.Context, m *model.Message) error { return s.err }

func (s *fakeMessageStore) GetByID(ctx context.Context, id string) (*model.Message, error) {
	return nil, assert.AnError
}

func (s *fakeMessageStore) MarkSeenFrom(ctx context.Context, sender, reader string) error {
	s.seenFrom = append(s.seenFrom, [2]string{sender, reader})
	return s.err
}

func (s *fakeMessageStore) MarkSeenGroup(ctx context.Context, groupID, userID string) error {
	s.seenGroups = append(s.seenGroups, [2]string{groupID, userID})
	return s.err
}

// newJoinedClient — клиент без сетевого соединения: хватает send/done,
// которыми пользуется sendToClient.
func newJoinedClient(userID string) *Client {
	c := &Client{send: make(chan OutgoingMessage, 8), done: make(chan struct{}), userID: userID}
	c.joined.Store(true)
	return c
}

func recvAck(t *testing.T, c *Client) OutgoingMessage {
	t.Helper()
	select {
	case out := <-c.send:
		return out
	default:
		t.Fatal("no ack sent to client")
		return OutgoingMessage{}
	}
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		name     string
		in       registry.EventType
		want     EventType
		expectOK bool
	}{
		{name: "message becomes newMessage", in: registry.EventMessage, want: EventNewMessage, expectOK: true},
		{name: "reaction becomes reactionAdded", in: registry.EventReaction, want: EventReactionAdded, expectOK: true},
		{name: "read receipt becomes messagesRead", in: registry.EventReadReceipt, want: EventMessagesRead, expectOK: true},
		{name: "typing becomes userTyping", in: registry.EventTyping, want: EventUserTyping, expectOK: true},
		{name: "stop typing becomes userStopTyping", in: registry.EventStopTyping, want: EventUserStopTyping, expectOK: true},
		{name: "ai reply passes through", in: registry.EventAIReply, want: EventAIReply, expectOK: true},
		{name: "log frame not forwarded", in: registry.EventLog, expectOK: false},
		{name: "ping frame not forwarded", in: registry.EventPing, expectOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, ok := translate(registry.Event{Type: tt.in, Data: []byte(`{"x":1}`)})
			require.Equal(t, tt.expectOK, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.want, out.Type)
			assert.Equal(t, json.RawMessage(`{"x":1}`), out.Payload)
		})
	}
}

func TestHubPushOffline(t *testing.T) {
	h := NewHub(nil, nil, nil, nil, nil, nil, 10)
	ev, err := registry.NewEvent(registry.EventMessage, map[string]string{"id": "m1"})
	require.NoError(t, err)
	assert.False(t, h.Push("nobody", ev))
}

func TestMarkAsReadStoreErrorAcksSender(t *testing.T) {
	store := &fakeMessageStore{err: assert.AnError}
	h := NewHub(store, nil, nil, nil, fanout.New(nil), nil, 10)

	c := newJoinedClient("alice")
	h.HandleMessage(context.Background(), c, IncomingMessage{Type: EventMarkAsRead, From: "bob"})
	out := recvAck(t, c)
	assert.Equal(t, EventMessageError, out.Type)
	require.Len(t, store.seenFrom, 1)
	assert.Equal(t, [2]string{"bob", "alice"}, store.seenFrom[0])

	c2 := newJoinedClient("alice")
	h.HandleMessage(context.Background(), c2, IncomingMessage{Type: EventMarkAsRead, GroupID: "g1"})
	out = recvAck(t, c2)
	assert.Equal(t, EventMessageError, out.Type)
	require.Len(t, store.seenGroups, 1)
	assert.Equal(t, [2]string{"g1", "alice"}, store.seenGroups[0])
}

func TestMarkAsReadAcksSender(t *testing.T) {
	store := &fakeMessageStore{}
	h := NewHub(store, nil, nil, nil, fanout.New(nil), nil, 10)

	c := newJoinedClient("alice")
	h.HandleMessage(context.Background(), c, IncomingMessage{Type: EventMarkAsRead, From: "bob"})
	out := recvAck(t, c)
	require.Equal(t, EventMessagesRead, out.Type)
	assert.Equal(t, ReadAckPayload{From: "bob"}, out.Payload)
}

func TestIncomingMessageDecoding(t *testing.T) {
	raw := []byte(`{"type":"sendMessage","to":"bob","kind":"text","text":"hi","reply_to_id":"m0"}`)
	var msg IncomingMessage
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, EventSendMessage, msg.Type)
	assert.Equal(t, "bob", msg.To)
	assert.Equal(t, "hi", msg.Text)
	assert.Equal(t, "m0", msg.ReplyToID)
	assert.Empty(t, msg.GroupID)
}

func TestOutgoingMessageEncoding(t *testing.T) {
	out := OutgoingMessage{Type: EventMessageError, Payload: ErrorPayload{Error: "join required"}}
	data, err := json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"messageError","payload":{"error":"join required"}}`, string(data))
}
