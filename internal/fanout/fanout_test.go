package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkora/realtime/internal/model"
	"github.com/linkora/realtime/internal/registry"
)

type fakeMembers struct {
	members map[string][]string
	err     error
}

func (f *fakeMembers) GetMemberIDs(_ context.Context, groupID string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.members[groupID], nil
}

// fakeSink принимает события только для пользователей из online.
type fakeSink struct {
	mu     sync.Mutex
	online map[string]bool
	got    map[string][]registry.Event
}

func newFakeSink(online ...string) *fakeSink {
	s := &fakeSink{online: make(map[string]bool), got: make(map[string][]registry.Event)}
	for _, u := range online {
		s.online[u] = true
	}
	return s
}

func (s *fakeSink) Push(userID string, ev registry.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.online[userID] {
		return false
	}
	s.got[userID] = append(s.got[userID], ev)
	return true
}

func (s *fakeSink) eventsFor(userID string) []registry.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.got[userID]
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []string
	done  chan struct{}
}

func (n *fakeNotifier) Notify(_ context.Context, userID, _, _ string, _ map[string]string) {
	n.mu.Lock()
	n.calls = append(n.calls, userID)
	n.mu.Unlock()
	if n.done != nil {
		n.done <- struct{}{}
	}
}

type fakeMarker struct {
	mu  sync.Mutex
	ids []string
}

func (m *fakeMarker) MarkDelivered(_ context.Context, id string) error {
	m.mu.Lock()
	m.ids = append(m.ids, id)
	m.mu.Unlock()
	return nil
}

func directMessage(id, from, to string) *model.Message {
	return &model.Message{ID: id, FromUser: from, ToUser: to, Kind: model.KindText, Text: "hi", CreatedAt: time.Now().UTC()}
}

func groupMessage(id, from, groupID string) *model.Message {
	return &model.Message{ID: id, FromUser: from, GroupID: groupID, Kind: model.KindText, Text: "hi all", CreatedAt: time.Now().UTC()}
}

func TestDeliverMessageDirect(t *testing.T) {
	sink := newFakeSink("bob")
	marker := &fakeMarker{}
	e := New(&fakeMembers{})
	e.AddSink(sink)
	e.SetDeliveryMarker(marker)

	e.DeliverMessage(context.Background(), directMessage("m1", "alice", "bob"))

	events := sink.eventsFor("bob")
	require.Len(t, events, 1)
	assert.Equal(t, registry.EventMessage, events[0].Type)

	var got model.Message
	require.NoError(t, json.Unmarshal(events[0].Data, &got))
	assert.Equal(t, "m1", got.ID)
	assert.Equal(t, "alice", got.FromUser)

	assert.Equal(t, []string{"m1"}, marker.ids)
}

// Сообщение самому себе — обычная доставка, без подавления.
func TestDeliverMessageToSelf(t *testing.T) {
	sink := newFakeSink("alice")
	e := New(&fakeMembers{})
	e.AddSink(sink)

	e.DeliverMessage(context.Background(), directMessage("m1", "alice", "alice"))
	assert.Len(t, sink.eventsFor("alice"), 1)
}

func TestDeliverMessageGroupExcludesSender(t *testing.T) {
	members := &fakeMembers{members: map[string][]string{"g1": {"alice", "bob", "carol"}}}
	sink := newFakeSink("alice", "bob", "carol")
	e := New(members)
	e.AddSink(sink)

	e.DeliverMessage(context.Background(), groupMessage("m1", "alice", "g1"))

	assert.Empty(t, sink.eventsFor("alice"))
	assert.Len(t, sink.eventsFor("bob"), 1)
	assert.Len(t, sink.eventsFor("carol"), 1)
}

// Offline-получатель не валит доставку остальным: best-effort, без ошибок
// наружу; для него уходит push-уведомление.
func TestDeliverMessageOfflineNotifies(t *testing.T) {
	members := &fakeMembers{members: map[string][]string{"g1": {"alice", "bob", "carol"}}}
	sink := newFakeSink("bob")
	notifier := &fakeNotifier{done: make(chan struct{}, 4)}
	marker := &fakeMarker{}
	e := New(members)
	e.AddSink(sink)
	e.SetNotifier(notifier)
	e.SetDeliveryMarker(marker)

	e.DeliverMessage(context.Background(), groupMessage("m1", "alice", "g1"))

	assert.Len(t, sink.eventsFor("bob"), 1)

	select {
	case <-notifier.done:
	case <-time.After(2 * time.Second):
		t.Fatal("notifier not called for offline recipient")
	}
	notifier.mu.Lock()
	assert.Equal(t, []string{"carol"}, notifier.calls)
	notifier.mu.Unlock()

	// Хотя бы один live-канал принял — delivered ставится.
	assert.Equal(t, []string{"m1"}, marker.ids)
}

func TestDeliverMessageMemberLookupFails(t *testing.T) {
	e := New(&fakeMembers{err: errors.New("db down")})
	sink := newFakeSink("bob")
	e.AddSink(sink)

	// Ошибка чтения состава группы поглощается: вызов не паникует и не пушит.
	e.DeliverMessage(context.Background(), groupMessage("m1", "alice", "g1"))
	assert.Empty(t, sink.eventsFor("bob"))
}

func TestDeliverReactionExcludesActor(t *testing.T) {
	sink := newFakeSink("alice", "bob")
	e := New(&fakeMembers{})
	e.AddSink(sink)

	m := directMessage("m1", "alice", "bob")
	// Реагирует получатель: событие уходит автору сообщения, не актору.
	e.DeliverReaction(context.Background(), m, model.Reaction{MessageID: "m1", UserID: "bob", Emoji: "👍"})

	require.Len(t, sink.eventsFor("alice"), 1)
	assert.Empty(t, sink.eventsFor("bob"))

	var ev ReactionEvent
	require.NoError(t, json.Unmarshal(sink.eventsFor("alice")[0].Data, &ev))
	assert.Equal(t, "bob", ev.UserID)
	assert.Equal(t, "👍", ev.Emoji)
}

func TestDeliverReadReceipt(t *testing.T) {
	sink := newFakeSink("alice")
	e := New(&fakeMembers{})
	e.AddSink(sink)

	e.DeliverReadReceipt(context.Background(), "alice", "bob")

	events := sink.eventsFor("alice")
	require.Len(t, events, 1)
	assert.Equal(t, registry.EventReadReceipt, events[0].Type)

	var ev ReadReceiptEvent
	require.NoError(t, json.Unmarshal(events[0].Data, &ev))
	assert.Equal(t, "bob", ev.Reader)
}

func TestDeliverTyping(t *testing.T) {
	members := &fakeMembers{members: map[string][]string{"g1": {"alice", "bob", "carol"}}}
	sink := newFakeSink("alice", "bob", "carol")
	e := New(members)
	e.AddSink(sink)

	e.DeliverTyping(context.Background(), "alice", "bob", "", true)
	require.Len(t, sink.eventsFor("bob"), 1)
	assert.Equal(t, registry.EventTyping, sink.eventsFor("bob")[0].Type)

	e.DeliverTyping(context.Background(), "alice", "bob", "", false)
	require.Len(t, sink.eventsFor("bob"), 2)
	assert.Equal(t, registry.EventStopTyping, sink.eventsFor("bob")[1].Type)

	// Групповой typing: все участники, кроме печатающего.
	e.DeliverTyping(context.Background(), "alice", "", "g1", true)
	assert.Empty(t, sink.eventsFor("alice"))
	assert.Len(t, sink.eventsFor("carol"), 1)
}

func TestDeliverAIReplyOnlyInitiator(t *testing.T) {
	sink := newFakeSink("alice", "bob")
	e := New(&fakeMembers{})
	e.AddSink(sink)

	e.DeliverAIReply(context.Background(), "alice", "hello from assistant")

	require.Len(t, sink.eventsFor("alice"), 1)
	assert.Equal(t, registry.EventAIReply, sink.eventsFor("alice")[0].Type)
	assert.Empty(t, sink.eventsFor("bob"))
}

// Несколько live-каналов: событие уходит во все, доставка засчитывается, если
// принял любой.
func TestPushAllMultipleSinks(t *testing.T) {
	sseSink := newFakeSink("bob")
	socketSink := newFakeSink()
	e := New(&fakeMembers{})
	e.AddSink(sseSink)
	e.AddSink(socketSink)
	marker := &fakeMarker{}
	e.SetDeliveryMarker(marker)

	e.DeliverMessage(context.Background(), directMessage("m1", "alice", "bob"))

	assert.Len(t, sseSink.eventsFor("bob"), 1)
	assert.Empty(t, socketSink.eventsFor("bob"))
	assert.Equal(t, []string{"m1"}, marker.ids)
}

func TestNotifyBody(t *testing.T) {
	m := directMessage("m1", "alice", "bob")
	assert.Equal(t, "hi", notifyBody(m))

	m.Text = ""
	assert.Equal(t, "Attachment", notifyBody(m))

	m.Kind = model.KindImage
	m.Text = "caption"
	assert.Equal(t, "Attachment", notifyBody(m))
}

func TestNotifyBodyTruncatesOnRuneBoundary(t *testing.T) {
	m := directMessage("m1", "alice", "bob")
	m.Text = strings.Repeat("ж", 130)

	got := notifyBody(m)
	assert.Equal(t, strings.Repeat("ж", 117)+"...", got)
	assert.True(t, utf8.ValidString(got))
}
