package domain

import "time"

// EventKind: закрытое множество видов входящих событий.
type EventKind string

const (
	KindCommand        EventKind = "command"
	KindCallbackAction EventKind = "callback-action"
)

// Ключи полезной нагрузки события.
const (
	PayloadText       = "text"
	PayloadArgs       = "args"
	PayloadData       = "data"
	PayloadCallbackID = "callback_id"
	PayloadMessageID  = "message_id"
)

// InboundEvent: разобранное уведомление платформы о действии пользователя.
type InboundEvent struct {
	ID         string
	Kind       EventKind
	Name       string
	ChatID     int64
	UserID     int64
	ReceivedAt time.Time
	payload    map[string]string
}

func NewInboundEvent(id string, kind EventKind, name string, chatID, userID int64, receivedAt time.Time, payload map[string]string) InboundEvent {
	p := make(map[string]string, len(payload))
	for k, v := range payload {
		p[k] = v
	}
	return InboundEvent{
		ID:         id,
		Kind:       kind,
		Name:       name,
		ChatID:     chatID,
		UserID:     userID,
		ReceivedAt: receivedAt,
		payload:    p,
	}
}

func (e InboundEvent) Value(key string) string {
	return e.payload[key]
}

// Payload возвращает копию полезной нагрузки.
func (e InboundEvent) Payload() map[string]string {
	p := make(map[string]string, len(e.payload))
	for k, v := range e.payload {
		p[k] = v
	}
	return p
}

func (e InboundEvent) Buyer() Buyer {
	return Buyer{UserID: e.UserID, ChatID: e.ChatID}
}
