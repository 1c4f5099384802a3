package repositories

import (
	"context"
	"fmt"
	"time"

	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"

	"github.com/go-playground/validator/v10"
)

const (
	DriverBadger   = "badger"
	DriverPostgres = "postgres"
)

// Store is a conversation directory and message log backed by one database.
// Seeding methods exist for tooling and tests; the relay itself only reads
// membership and appends messages.
type Store interface {
	contract.ConversationDirectory
	contract.MessageStore
	SaveUser(ctx context.Context, identity domain.Identity) error
	SaveConversation(ctx context.Context, conversation domain.Conversation) error
	Close() error
}

var validate = validator.New()

// ':' is the key separator of the embedded store and is refused in IDs everywhere.
type userRecord struct {
	ID       string `json:"id" validate:"required,max=64,excludes=:"`
	Username string `json:"username" validate:"required,max=150"`
}

type conversationRecord struct {
	ID        string    `json:"id" validate:"required,max=64,excludes=:"`
	Name      string    `json:"name" validate:"max=255"`
	IsGroup   bool      `json:"is_group"`
	MemberIDs []string  `json:"member_ids" validate:"min=1,dive,required,max=64,excludes=:"`
	CreatedAt time.Time `json:"created_at"`
}

type messageRecord struct {
	ID        int64     `json:"id"`
	Room      string    `json:"room"`
	SenderID  string    `json:"sender_id"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func newUserRecord(identity domain.Identity) (userRecord, error) {
	record := userRecord{ID: string(identity.ID), Username: identity.Username}
	if err := validate.Struct(record); err != nil {
		return userRecord{}, fmt.Errorf("%w: %v", errors.ErrValidation, err)
	}
	return record, nil
}

func newConversationRecord(conversation domain.Conversation) (conversationRecord, error) {
	if err := conversation.Validate(); err != nil {
		return conversationRecord{}, err
	}
	members := make([]string, 0, len(conversation.MemberIDs))
	seen := make(map[domain.UserID]struct{}, len(conversation.MemberIDs))
	for _, id := range conversation.MemberIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		members = append(members, string(id))
	}
	createdAt := conversation.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	record := conversationRecord{
		ID:        string(conversation.ID),
		Name:      conversation.Name,
		IsGroup:   conversation.IsGroup,
		MemberIDs: members,
		CreatedAt: createdAt.UTC(),
	}
	if err := validate.Struct(record); err != nil {
		return conversationRecord{}, fmt.Errorf("%w: %v", errors.ErrValidation, err)
	}
	return record, nil
}

func (r messageRecord) toMessage() domain.Message {
	return domain.Message{
		ID:             r.ID,
		Room:           domain.RoomID(r.Room),
		SenderID:       domain.UserID(r.SenderID),
		SenderUsername: r.Username,
		Content:        r.Content,
		CreatedAt:      r.CreatedAt.UTC(),
	}
}

// monotonic never lets a room clock go backwards.
func monotonic(now, last time.Time) time.Time {
	if now.Before(last) {
		return last
	}
	return now
}
