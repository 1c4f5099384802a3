package domain

import (
	"time"

	"chat-relay/errors"
)

// RoomID identifies a conversation. It is opaque to the core.
type RoomID string

type ConversationKind string

const (
	KindDirect ConversationKind = "direct"
	KindGroup  ConversationKind = "group"
)

// Conversation is the authoritative membership record owned by the directory.
type Conversation struct {
	ID        RoomID
	Name      string
	IsGroup   bool
	MemberIDs []UserID
	CreatedAt time.Time
}

func (c Conversation) Kind() ConversationKind {
	if c.IsGroup {
		return KindGroup
	}
	return KindDirect
}

// Validate enforces that a direct conversation has exactly two distinct members.
func (c Conversation) Validate() error {
	if c.IsGroup {
		return nil
	}
	seen := make(map[UserID]struct{}, len(c.MemberIDs))
	for _, id := range c.MemberIDs {
		seen[id] = struct{}{}
	}
	if len(seen) != 2 {
		return errors.ErrInvalidDirect
	}
	return nil
}
