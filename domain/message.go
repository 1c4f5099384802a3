// Package domain contains core concepts of the chat system.
// This file defines Message records and their ordering rule.
// Messages are immutable once the store has assigned ID and CreatedAt.
package domain

import "time"

// Message represents a persisted chat message.
type Message struct {
	ID             int64
	Room           RoomID
	SenderID       UserID
	SenderUsername string
	Content        string
	CreatedAt      time.Time
}

// Before reports whether m precedes other within a room:
// timestamp first, identifier breaks ties.
func (m Message) Before(other Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}
