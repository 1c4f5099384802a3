package event

import (
	"time"

	"chat-relay/domain"
)

type Type string

const (
	MessageDeliveredType Type = "MESSAGE_DELIVERED"
	ErrorRaisedType      Type = "ERROR_RAISED"
)

// Event is anything pushed to a live connection.
type Event interface {
	Type() Type
}

// MessageDelivered is fanned out to every connection admitted to the room,
// the sender's own connection included.
type MessageDelivered struct {
	ID        int64
	Room      domain.RoomID
	Username  string
	Message   string
	Timestamp time.Time
}

func (MessageDelivered) Type() Type { return MessageDeliveredType }

func NewMessageDelivered(m domain.Message) MessageDelivered {
	return MessageDelivered{
		ID:        m.ID,
		Room:      m.Room,
		Username:  m.SenderUsername,
		Message:   m.Content,
		Timestamp: m.CreatedAt.UTC(),
	}
}

// ErrorRaised is only ever sent to the connection that caused it.
type ErrorRaised struct {
	Error string
}

func (ErrorRaised) Type() Type { return ErrorRaisedType }
