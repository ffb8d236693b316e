// Package ws — второй live-транспорт: двунаправленный командный канал поверх
// websocket. Работает против тех же абстракций хранилища и fan-out, что и
// SSE-путь; членство в комнатах — собственный реестр сокет-транспорта,
// параллельный SSE-реестру и независимый от него.
package ws

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/linkora/realtime/internal/fanout"
	"github.com/linkora/realtime/internal/logger"
	"github.com/linkora/realtime/internal/model"
	"github.com/linkora/realtime/internal/registry"
)

// AIClient — внешний коллаборатор генерации ответов ассистента.
type AIClient interface {
	Reply(ctx context.Context, userID, text string) (string, error)
}

// Presence — бухгалтерия is_online (см. sse.Presence).
type Presence interface {
	SetOnline(ctx context.Context, userID string, online bool) error
}

// MessageStore — подмножество хранилища сообщений, которое нужно хабу.
type MessageStore interface {
	Create(ctx context.Context, m *model.Message) error
	GetByID(ctx context.Context, id string) (*model.Message, error)
	MarkSeenFrom(ctx context.Context, sender, reader string) error
	MarkSeenGroup(ctx context.Context, groupID, userID string) error
}

// MembershipChecker проверяет участие в группе перед отправкой.
type MembershipChecker interface {
	IsMember(ctx context.Context, groupID, userID string) (bool, error)
}

// UserSource отдаёт профиль отправителя и ведёт присутствие.
type UserSource interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	SetOnline(ctx context.Context, userID string, online bool) error
}

// ReactionStore ставит реакцию (повторная заменяет прежнюю).
type ReactionStore interface {
	Set(ctx context.Context, messageID, userID, emoji string) error
}

type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]map[*Client]struct{}
	total    int
	maxConns int

	msgRepo   MessageStore
	groupRepo MembershipChecker
	userRepo  UserSource
	reactRepo ReactionStore
	engine    *fanout.Engine
	ai        AIClient
	presence  Presence

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(
	msgRepo MessageStore,
	groupRepo MembershipChecker,
	userRepo UserSource,
	reactRepo ReactionStore,
	engine *fanout.Engine,
	ai AIClient,
	maxConns int,
) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		rooms:      make(map[string]map[*Client]struct{}),
		maxConns:   maxConns,
		msgRepo:    msgRepo,
		groupRepo:  groupRepo,
		userRepo:   userRepo,
		reactRepo:  reactRepo,
		engine:     engine,
		ai:         ai,
		presence:   userRepo,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.rooms {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.rooms = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	// Close connections outside the lock (network I/O).
	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	if _, ok := h.rooms[c.userID]; !ok {
		h.rooms[c.userID] = make(map[*Client]struct{})
	}
	h.rooms[c.userID][c] = struct{}{}
	h.total++
	h.mu.Unlock()

	if h.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.presence.SetOnline(ctx, c.userID, true); err != nil {
			logger.Errorf("ws set online user=%s: %v", c.userID, err)
		}
	}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.rooms[c.userID]
	if !ok {
		h.mu.Unlock()
		c.Close()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		c.Close()
		return
	}
	delete(clients, c)
	h.total--
	lastClient := len(clients) == 0
	if lastClient {
		delete(h.rooms, c.userID)
	}
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()

	if lastClient && h.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.presence.SetOnline(ctx, c.userID, false); err != nil {
			logger.Errorf("ws set offline user=%s: %v", c.userID, err)
		}
	}
}

// Push реализует fanout.Sink: событие fan-out транслируется в исходящее
// событие сокет-транспорта и доставляется во все соединения комнаты
// пользователя. false — пользователь не в комнате (это нормально).
func (h *Hub) Push(userID string, ev registry.Event) bool {
	out, ok := translate(ev)
	if !ok {
		return false
	}
	return h.sendToUser(userID, out)
}

// translate сопоставляет типы fan-out-событий именам сокет-событий.
// log и ping — служебные фреймы SSE, в сокет не идут (у него свой ping/pong).
func translate(ev registry.Event) (OutgoingMessage, bool) {
	var t EventType
	switch ev.Type {
	case registry.EventMessage:
		t = EventNewMessage
	case registry.EventReaction:
		t = EventReactionAdded
	case registry.EventReadReceipt:
		t = EventMessagesRead
	case registry.EventTyping:
		t = EventUserTyping
	case registry.EventStopTyping:
		t = EventUserStopTyping
	case registry.EventAIReply:
		t = EventAIReply
	default:
		return OutgoingMessage{}, false
	}
	return OutgoingMessage{Type: t, Payload: ev.Data}, true
}

// HandleMessage dispatches incoming socket events.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	if msg.Type != EventJoin && !c.joined.Load() {
		h.sendToClient(c, OutgoingMessage{Type: EventMessageError, Payload: ErrorPayload{Error: "join required"}})
		return
	}
	switch msg.Type {
	case EventJoin:
		h.handleJoin(c, msg)
	case EventSendMessage:
		h.handleSendMessage(ctx, c, msg)
	case EventTyping:
		h.handleTyping(ctx, c, msg, true)
	case EventStopTyping:
		h.handleTyping(ctx, c, msg, false)
	case EventAddReaction:
		h.handleAddReaction(ctx, c, msg)
	case EventMarkAsRead:
		h.handleMarkAsRead(ctx, c, msg)
	case EventSendAIMessage:
		h.handleSendAIMessage(c, msg)
	default:
		h.sendToClient(c, OutgoingMessage{Type: EventMessageError, Payload: ErrorPayload{Error: "unknown event type"}})
	}
}

// handleJoin привязывает соединение к комнате пользователя. user_id обязан
// совпадать с владельцем сессии, под которой открыт сокет.
func (h *Hub) handleJoin(c *Client, msg IncomingMessage) {
	if msg.UserID != "" && msg.UserID != c.userID {
		h.sendToClient(c, OutgoingMessage{Type: EventMessageError, Payload: ErrorPayload{Error: "user_id mismatch"}})
		return
	}
	if c.joined.CompareAndSwap(false, true) {
		h.Register(c)
	}
}

func (h *Hub) handleSendMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleSendMessage", time.Now())()

	if (msg.To == "") == (msg.GroupID == "") {
		h.sendToClient(c, OutgoingMessage{Type: EventMessageError, Payload: ErrorPayload{Error: "exactly one of to or group_id required"}})
		return
	}
	kind := msg.Kind
	if kind == "" {
		kind = model.KindText
	}
	if !kind.Valid() {
		h.sendToClient(c, OutgoingMessage{Type: EventMessageError, Payload: ErrorPayload{Error: "unknown message kind"}})
		return
	}
	if strings.TrimSpace(msg.Text) == "" && msg.Media == nil && msg.Shared == nil && msg.Location == nil && msg.Contact == nil {
		h.sendToClient(c, OutgoingMessage{Type: EventMessageError, Payload: ErrorPayload{Error: "empty message"}})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if msg.GroupID != "" {
		isMember, err := h.groupRepo.IsMember(ctx, msg.GroupID, c.userID)
		if err != nil {
			logger.Errorf("ws check membership group=%s user=%s: %v", msg.GroupID, c.userID, err)
			h.sendToClient(c, OutgoingMessage{Type: EventMessageError, Payload: ErrorPayload{Error: "internal error"}})
			return
		}
		if !isMember {
			h.sendToClient(c, OutgoingMessage{Type: EventMessageError, Payload: ErrorPayload{Error: "not a member"}})
			return
		}
	}

	var replyToID, forwardedFrom *string
	if msg.ReplyToID != "" {
		replyToID = &msg.ReplyToID
	}
	if msg.ForwardedFrom != "" {
		forwardedFrom = &msg.ForwardedFrom
	}

	m := &model.Message{
		ID:            uuid.New().String(),
		FromUser:      c.userID,
		ToUser:        msg.To,
		GroupID:       msg.GroupID,
		Kind:          kind,
		Text:          msg.Text,
		Media:         msg.Media,
		Shared:        msg.Shared,
		Location:      msg.Location,
		Contact:       msg.Contact,
		ReplyToID:     replyToID,
		ForwardedFrom: forwardedFrom,
		CreatedAt:     time.Now().UTC(),
	}

	// Persist до fan-out: сохранённая запись — единственный источник истины,
	// push никогда не опережает запись.
	if err := h.msgRepo.Create(ctx, m); err != nil {
		logger.Errorf("ws save message from=%s: %v", c.userID, err)
		h.sendToClient(c, OutgoingMessage{Type: EventMessageError, Payload: ErrorPayload{Error: "failed to save message"}})
		return
	}

	sender, err := h.userRepo.GetByID(ctx, c.userID)
	if err != nil {
		logger.Errorf("ws get sender user=%s: %v", c.userID, err)
	} else {
		pub := sender.ToPublic()
		m.Sender = &pub
	}

	if replyToID != nil {
		replyMsg, err := h.msgRepo.GetByID(ctx, *replyToID)
		if err == nil {
			m.ReplyTo = &model.Message{
				ID:       replyMsg.ID,
				FromUser: replyMsg.FromUser,
				Kind:     replyMsg.Kind,
				Text:     replyMsg.Text,
				Sender:   replyMsg.Sender,
			}
		}
	}

	// Отправитель получает определённый ответ о своей операции;
	// уведомление получателя — best-effort поверх этого.
	h.sendToClient(c, OutgoingMessage{Type: EventMessageSent, Payload: m})
	h.engine.DeliverMessage(ctx, m)
}

func (h *Hub) handleTyping(ctx context.Context, c *Client, msg IncomingMessage, typing bool) {
	if (msg.To == "") == (msg.GroupID == "") {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	h.engine.DeliverTyping(ctx, c.userID, msg.To, msg.GroupID, typing)
}

func (h *Hub) handleAddReaction(ctx context.Context, c *Client, msg IncomingMessage) {
	if msg.MessageID == "" || msg.Emoji == "" {
		h.sendToClient(c, OutgoingMessage{Type: EventMessageError, Payload: ErrorPayload{Error: "message_id and emoji required"}})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	original, err := h.msgRepo.GetByID(ctx, msg.MessageID)
	if err != nil {
		h.sendToClient(c, OutgoingMessage{Type: EventMessageError, Payload: ErrorPayload{Error: "message not found"}})
		return
	}

	if err := h.reactRepo.Set(ctx, msg.MessageID, c.userID, msg.Emoji); err != nil {
		logger.Errorf("ws set reaction %s: %v", msg.MessageID, err)
		h.sendToClient(c, OutgoingMessage{Type: EventMessageError, Payload: ErrorPayload{Error: "failed to add reaction"}})
		return
	}

	rc := model.Reaction{MessageID: msg.MessageID, UserID: c.userID, Emoji: msg.Emoji, CreatedAt: time.Now().UTC()}
	h.sendToClient(c, OutgoingMessage{Type: EventReactionAdded, Payload: fanout.ReactionEvent{
		MessageID: rc.MessageID,
		UserID:    rc.UserID,
		Emoji:     rc.Emoji,
		GroupID:   original.GroupID,
	}})
	h.engine.DeliverReaction(ctx, original, rc)
}

func (h *Hub) handleMarkAsRead(ctx context.Context, c *Client, msg IncomingMessage) {
	if msg.From == "" && msg.GroupID == "" {
		h.sendToClient(c, OutgoingMessage{Type: EventMessageError, Payload: ErrorPayload{Error: "from or group_id required"}})
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Ошибка хранилища — определённый ответ вызвавшему, как и в REST-пути.
	if msg.GroupID != "" {
		if err := h.msgRepo.MarkSeenGroup(ctx, msg.GroupID, c.userID); err != nil {
			logger.Errorf("ws mark read group=%s user=%s: %v", msg.GroupID, c.userID, err)
			h.sendToClient(c, OutgoingMessage{Type: EventMessageError, Payload: ErrorPayload{Error: "failed to mark as read"}})
			return
		}
	} else {
		if err := h.msgRepo.MarkSeenFrom(ctx, msg.From, c.userID); err != nil {
			logger.Errorf("ws mark read from=%s user=%s: %v", msg.From, c.userID, err)
			h.sendToClient(c, OutgoingMessage{Type: EventMessageError, Payload: ErrorPayload{Error: "failed to mark as read"}})
			return
		}
	}

	h.sendToClient(c, OutgoingMessage{Type: EventMessagesRead, Payload: ReadAckPayload{From: msg.From, GroupID: msg.GroupID}})
	if msg.From != "" {
		h.engine.DeliverReadReceipt(ctx, msg.From, c.userID)
	}
}

// handleSendAIMessage пересылает текст внешнему генератору ответов и пушит
// ответ только инициатору — без fan-out. Вызов медленный, поэтому уходит в
// отдельную горутину и не блокирует чтение следующих событий.
func (h *Hub) handleSendAIMessage(c *Client, msg IncomingMessage) {
	if h.ai == nil {
		h.sendToClient(c, OutgoingMessage{Type: EventAIError, Payload: ErrorPayload{Error: "assistant is not configured"}})
		return
	}
	if strings.TrimSpace(msg.Text) == "" {
		h.sendToClient(c, OutgoingMessage{Type: EventAIError, Payload: ErrorPayload{Error: "text required"}})
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		reply, err := h.ai.Reply(ctx, c.userID, msg.Text)
		if err != nil {
			logger.Errorf("ws ai reply user=%s: %v", c.userID, err)
			h.sendToClient(c, OutgoingMessage{Type: EventAIError, Payload: ErrorPayload{Error: "assistant unavailable"}})
			return
		}
		h.engine.DeliverAIReply(ctx, c.userID, reply)
	}()
}

// sendToUser доставляет событие во все соединения комнаты пользователя.
func (h *Hub) sendToUser(userID string, msg OutgoingMessage) bool {
	h.mu.RLock()
	clients, ok := h.rooms[userID]
	if !ok {
		h.mu.RUnlock()
		return false
	}
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := false
	for _, c := range targets {
		if h.sendToClient(c, msg) {
			delivered = true
		}
	}
	return delivered
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) bool {
	select {
	case c.send <- msg:
		return true
	case <-c.done:
		return false
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
		return false
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
