package registry

import "encoding/json"

// EventType — дискриминатор события на live-канале. Совпадает с именем
// SSE-события (`event: <type>`).
type EventType string

const (
	EventLog         EventType = "log"  // handshake при открытии стрима
	EventPing        EventType = "ping" // heartbeat
	EventMessage     EventType = "message"
	EventReaction    EventType = "reaction"
	EventReadReceipt EventType = "read-receipt"
	EventTyping      EventType = "typing"
	EventStopTyping  EventType = "stop-typing"
	EventAIReply     EventType = "ai-reply"
)

// Event — сериализованное событие для записи в live-канал получателя.
// Payload кодируется один раз, до fan-out по каналам.
type Event struct {
	Type EventType
	Data json.RawMessage
}

// NewEvent сериализует payload в Event.
func NewEvent(t EventType, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: t, Data: data}, nil
}
