package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"chat-relay/domain"
	"chat-relay/domain/event"

	"github.com/samber/lo"
)

// MessageFrame is how a persisted message is shown to clients, over the
// socket and in history pages alike.
type MessageFrame struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type errorFrame struct {
	Error string `json:"error"`
}

// Encode renders an outbound event as the JSON frame written to the client.
func Encode(evt event.Event) ([]byte, error) {
	switch e := evt.(type) {
	case event.MessageDelivered:
		return json.Marshal(NewMessageFrame(e))
	case event.ErrorRaised:
		return json.Marshal(errorFrame{Error: e.Error})
	default:
		return nil, fmt.Errorf("unsupported event type %T", evt)
	}
}

func NewMessageFrame(e event.MessageDelivered) MessageFrame {
	return MessageFrame{
		ID:        e.ID,
		Username:  e.Username,
		Message:   e.Message,
		Timestamp: FormatTimestamp(e.Timestamp),
	}
}

// HistoryPage is one page of a conversation, oldest message first.
// NextBefore is the cursor of the previous page, absent on the last one.
type HistoryPage struct {
	Messages   []MessageFrame `json:"messages"`
	NextBefore int64          `json:"next_before,omitempty"`
}

// NewHistoryPage renders messages, oldest first. When more is set the page
// carries the cursor for the one before it.
func NewHistoryPage(messages []domain.Message, more bool) HistoryPage {
	page := HistoryPage{
		Messages: lo.Map(messages, func(m domain.Message, _ int) MessageFrame {
			return NewMessageFrame(event.NewMessageDelivered(m))
		}),
	}
	if more && len(messages) > 0 {
		page.NextBefore = messages[0].ID
	}
	return page
}

// FormatTimestamp renders t as ISO-8601 in UTC.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
