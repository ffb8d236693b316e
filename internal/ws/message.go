package ws

import (
	"github.com/linkora/realtime/internal/model"
)

type EventType string

// Входящие события (клиент -> сервер).
const (
	EventJoin          EventType = "join"
	EventSendMessage   EventType = "sendMessage"
	EventTyping        EventType = "typing"
	EventStopTyping    EventType = "stopTyping"
	EventAddReaction   EventType = "addReaction"
	EventMarkAsRead    EventType = "markAsRead"
	EventSendAIMessage EventType = "sendAIMessage"
)

// Исходящие события (сервер -> клиент).
const (
	EventNewMessage     EventType = "newMessage"
	EventMessageSent    EventType = "messageSent"
	EventMessageError   EventType = "messageError"
	EventUserTyping     EventType = "userTyping"
	EventUserStopTyping EventType = "userStopTyping"
	EventReactionAdded  EventType = "reactionAdded"
	EventMessagesRead   EventType = "messagesRead"
	EventAIReply        EventType = "aiReply"
	EventAIError        EventType = "aiError"
)

// IncomingMessage — событие от клиента.
type IncomingMessage struct {
	Type EventType `json:"type"`

	// join
	UserID string `json:"user_id,omitempty"`

	// Адресат: ровно одно из to / group_id.
	To      string `json:"to,omitempty"`
	GroupID string `json:"group_id,omitempty"`

	// sendMessage
	Kind     model.MessageKind `json:"kind,omitempty"`
	Text     string            `json:"text,omitempty"`
	Media    *model.Media      `json:"media,omitempty"`
	Shared   *model.SharedRef  `json:"shared,omitempty"`
	Location *model.Location   `json:"location,omitempty"`
	Contact  *model.Contact    `json:"contact,omitempty"`

	ReplyToID     string `json:"reply_to_id,omitempty"`
	ForwardedFrom string `json:"forwarded_from,omitempty"`

	// addReaction
	MessageID string `json:"message_id,omitempty"`
	Emoji     string `json:"emoji,omitempty"`

	// markAsRead: автор прочитанных сообщений
	From string `json:"from,omitempty"`
}

// OutgoingMessage — событие клиенту. Payload — типизированные структуры либо
// json.RawMessage из fan-out (кодируется один раз на событие).
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// ErrorPayload — ack об ошибке обработки одного события. Не влияет на
// состояние соединения и других клиентов.
type ErrorPayload struct {
	Error string `json:"error"`
}

// ReadAckPayload — подтверждение markAsRead вызвавшей стороне.
type ReadAckPayload struct {
	From    string `json:"from,omitempty"`
	GroupID string `json:"group_id,omitempty"`
}
