package services

import (
	"context"
	"fmt"
	"slices"

	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/runtime"
)

// IChatService is the request/response side of the relay: what the HTTP API
// can do without holding a real-time connection.
type IChatService interface {
	PostMessage(ctx context.Context, cmd domain.PostMessageCommand) (domain.Message, error)
	GetMessages(ctx context.Context, cmd domain.GetMessagesCommand) (messages []domain.Message, more bool, err error)
}

type ChatService struct {
	directory    contract.ConversationDirectory
	store        contract.MessageStore
	engine       *runtime.Engine
	historyLimit int
}

func NewChatService(directory contract.ConversationDirectory, store contract.MessageStore,
	engine *runtime.Engine, historyLimit int) *ChatService {
	return &ChatService{directory: directory, store: store, engine: engine, historyLimit: historyLimit}
}

// PostMessage persists and fans out a message exactly like a frame received
// on a live connection would be.
func (s *ChatService) PostMessage(ctx context.Context, cmd domain.PostMessageCommand) (domain.Message, error) {
	if err := s.authorize(ctx, cmd.RoomID(), cmd.Sender.ID); err != nil {
		return domain.Message{}, err
	}
	outcome := s.engine.Post(ctx, cmd)
	if outcome.Status != runtime.Delivered {
		return domain.Message{}, outcome.Err
	}
	return outcome.Message, nil
}

// GetMessages returns one page of a conversation, oldest first, to one of its
// members, and whether older messages remain. Limit is clamped to the
// configured history limit.
func (s *ChatService) GetMessages(ctx context.Context, cmd domain.GetMessagesCommand) ([]domain.Message, bool, error) {
	if cmd.Before < 0 {
		return nil, false, fmt.Errorf("%w: negative cursor", errors.ErrValidation)
	}
	if err := s.authorize(ctx, cmd.RoomID(), cmd.UserID); err != nil {
		return nil, false, err
	}
	limit := cmd.Limit
	if limit <= 0 || limit > s.historyLimit {
		limit = s.historyLimit
	}

	// one extra row tells whether another page exists
	messages, err := s.store.History(ctx, cmd.RoomID(), cmd.Before, limit+1)
	if err != nil {
		return nil, false, err
	}
	slices.SortStableFunc(messages, roomOrder)
	if len(messages) > limit {
		return messages[len(messages)-limit:], true, nil
	}
	return messages, false, nil
}

func roomOrder(a, b domain.Message) int {
	switch {
	case a.Before(b):
		return -1
	case b.Before(a):
		return 1
	default:
		return 0
	}
}

func (s *ChatService) authorize(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	exists, err := s.directory.Exists(ctx, roomID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: conversation %s", errors.ErrNotFound, roomID)
	}
	member, err := s.directory.IsMember(ctx, roomID, userID)
	if err != nil {
		return err
	}
	if !member {
		return fmt.Errorf("%w: user %s in conversation %s", errors.ErrForbidden, userID, roomID)
	}
	return nil
}
