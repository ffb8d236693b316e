// Package fanout транслирует доменные события (создано сообщение, реакция,
// прочитано, typing) в push-и по live-каналам получателей. Доставка best-effort
// и at-most-once: offline-получатель ничего не теряет — он прочитает событие из
// сохранённой истории при следующем запросе. Очередей и ретраев нет намеренно.
package fanout

import (
	"context"
	"time"

	"github.com/linkora/realtime/internal/logger"
	"github.com/linkora/realtime/internal/model"
	"github.com/linkora/realtime/internal/registry"
)

// MemberSource отдаёт актуальный состав группы. Читается в момент fan-out,
// не кешируется.
type MemberSource interface {
	GetMemberIDs(ctx context.Context, groupID string) ([]string, error)
}

// Sink — один вид live-канала (SSE-реестр, websocket-хаб). Push возвращает
// true, если событие принято каналом получателя.
type Sink interface {
	Push(userID string, ev registry.Event) bool
}

// Notifier отправляет пуш-уведомление offline-получателю. nil — пуши отключены.
type Notifier interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string)
}

// DeliveryMarker помечает сообщение доставленным в хранилище.
type DeliveryMarker interface {
	MarkDelivered(ctx context.Context, id string) error
}

// Engine — движок fan-out. Никогда не блокирует путь записи: persist уже
// завершился до вызова Deliver*, а любые ошибки доставки логируются и
// поглощаются, не поднимаясь к вызывающему.
type Engine struct {
	groups MemberSource
	sinks  []Sink
	notify Notifier
	marker DeliveryMarker
}

func New(groups MemberSource) *Engine {
	return &Engine{groups: groups}
}

// AddSink подключает live-канал. Вызывается на старте, до обработки запросов.
func (e *Engine) AddSink(s Sink) {
	e.sinks = append(e.sinks, s)
}

// SetNotifier включает web-push для offline-получателей.
func (e *Engine) SetNotifier(n Notifier) { e.notify = n }

// SetDeliveryMarker включает отметку delivered после успешного push.
func (e *Engine) SetDeliveryMarker(m DeliveryMarker) { e.marker = m }

// ReactionEvent — payload события reaction.
type ReactionEvent struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Emoji     string `json:"emoji"`
	GroupID   string `json:"group_id,omitempty"`
}

// ReadReceiptEvent — payload события read-receipt: reader прочитал все
// сообщения sender-а.
type ReadReceiptEvent struct {
	Reader string `json:"reader"`
}

// TypingEvent — payload событий typing / stop-typing.
type TypingEvent struct {
	UserID  string `json:"user_id"`
	GroupID string `json:"group_id,omitempty"`
}

// AIReplyEvent — payload события ai-reply (только для инициатора).
type AIReplyEvent struct {
	Text string `json:"text"`
}

// DeliverMessage доставляет свежесохранённое сообщение получателям.
// Личное сообщение — единственному to_user (самому себе — тоже, без
// подавления); групповое — всем текущим участникам, кроме автора.
func (e *Engine) DeliverMessage(ctx context.Context, m *model.Message) {
	defer logger.DeferLogDuration("fanout.DeliverMessage", time.Now())()

	recipients := e.messageRecipients(ctx, m)
	ev, err := registry.NewEvent(registry.EventMessage, m)
	if err != nil {
		logger.Errorf("fanout: encode message %s: %v", m.ID, err)
		return
	}

	anyDelivered := false
	for _, uid := range recipients {
		if e.pushAll(uid, ev) {
			anyDelivered = true
			continue
		}
		if e.notify != nil {
			uid := uid
			go e.notify.Notify(context.Background(), uid, senderTitle(m), notifyBody(m),
				map[string]string{"message_id": m.ID, "from_user": m.FromUser})
		}
	}

	if anyDelivered && e.marker != nil {
		if err := e.marker.MarkDelivered(ctx, m.ID); err != nil {
			logger.Errorf("fanout: mark delivered %s: %v", m.ID, err)
		}
	}
}

// DeliverReaction доставляет событие реакции остальным участникам переписки.
func (e *Engine) DeliverReaction(ctx context.Context, m *model.Message, rc model.Reaction) {
	ev, err := registry.NewEvent(registry.EventReaction, ReactionEvent{
		MessageID: rc.MessageID,
		UserID:    rc.UserID,
		Emoji:     rc.Emoji,
		GroupID:   m.GroupID,
	})
	if err != nil {
		logger.Errorf("fanout: encode reaction %s: %v", rc.MessageID, err)
		return
	}
	for _, uid := range e.conversationRecipients(ctx, m, rc.UserID) {
		e.pushAll(uid, ev)
	}
}

// DeliverReadReceipt сообщает sender-у, что reader прочитал его сообщения.
func (e *Engine) DeliverReadReceipt(ctx context.Context, sender, reader string) {
	ev, err := registry.NewEvent(registry.EventReadReceipt, ReadReceiptEvent{Reader: reader})
	if err != nil {
		logger.Errorf("fanout: encode read receipt: %v", err)
		return
	}
	e.pushAll(sender, ev)
}

// DeliverTyping — чисто эфемерный сигнал: не сохраняется, offline-получатель
// его просто не увидит.
func (e *Engine) DeliverTyping(ctx context.Context, from, to, groupID string, typing bool) {
	t := registry.EventTyping
	if !typing {
		t = registry.EventStopTyping
	}
	ev, err := registry.NewEvent(t, TypingEvent{UserID: from, GroupID: groupID})
	if err != nil {
		logger.Errorf("fanout: encode typing: %v", err)
		return
	}
	if groupID == "" {
		e.pushAll(to, ev)
		return
	}
	memberIDs, err := e.groups.GetMemberIDs(ctx, groupID)
	if err != nil {
		logger.Errorf("fanout: typing members group=%s: %v", groupID, err)
		return
	}
	for _, uid := range memberIDs {
		if uid != from {
			e.pushAll(uid, ev)
		}
	}
}

// DeliverAIReply пушит ответ ассистента только инициатору, без fan-out.
func (e *Engine) DeliverAIReply(ctx context.Context, userID, text string) {
	ev, err := registry.NewEvent(registry.EventAIReply, AIReplyEvent{Text: text})
	if err != nil {
		logger.Errorf("fanout: encode ai reply: %v", err)
		return
	}
	e.pushAll(userID, ev)
}

// messageRecipients — адресаты нового сообщения.
func (e *Engine) messageRecipients(ctx context.Context, m *model.Message) []string {
	if !m.IsGroup() {
		return []string{m.ToUser}
	}
	memberIDs, err := e.groups.GetMemberIDs(ctx, m.GroupID)
	if err != nil {
		logger.Errorf("fanout: members group=%s: %v", m.GroupID, err)
		return nil
	}
	recipients := make([]string, 0, len(memberIDs))
	for _, uid := range memberIDs {
		if uid != m.FromUser {
			recipients = append(recipients, uid)
		}
	}
	return recipients
}

// conversationRecipients — все участники переписки сообщения, кроме actor-а.
// Для реакций и подобных событий, где актор может быть любой из сторон.
func (e *Engine) conversationRecipients(ctx context.Context, m *model.Message, actor string) []string {
	if m.IsGroup() {
		memberIDs, err := e.groups.GetMemberIDs(ctx, m.GroupID)
		if err != nil {
			logger.Errorf("fanout: members group=%s: %v", m.GroupID, err)
			return nil
		}
		recipients := make([]string, 0, len(memberIDs))
		for _, uid := range memberIDs {
			if uid != actor {
				recipients = append(recipients, uid)
			}
		}
		return recipients
	}
	recipients := make([]string, 0, 2)
	if m.FromUser != actor {
		recipients = append(recipients, m.FromUser)
	}
	if m.ToUser != actor && m.ToUser != m.FromUser {
		recipients = append(recipients, m.ToUser)
	}
	return recipients
}

// pushAll пишет событие во все live-каналы получателя (SSE и socket могут
// удерживаться одновременно). true — хотя бы один канал принял.
func (e *Engine) pushAll(userID string, ev registry.Event) bool {
	delivered := false
	for _, s := range e.sinks {
		if s.Push(userID, ev) {
			delivered = true
		}
	}
	return delivered
}

func senderTitle(m *model.Message) string {
	if m.Sender != nil && m.Sender.Username != "" {
		return m.Sender.Username
	}
	return "New message"
}

func notifyBody(m *model.Message) string {
	body := m.Text
	if m.Kind != model.KindText || body == "" {
		body = "Attachment"
	}
	// Обрезка по рунам: срез по байтам мог бы разорвать multi-byte символ.
	if r := []rune(body); len(r) > 120 {
		body = string(r[:117]) + "..."
	}
	return body
}
