package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"chat-relay/domain"
	"chat-relay/repositories"

	"github.com/samber/lo"
)

type seedUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type seedConversation struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	IsGroup bool     `json:"is_group"`
	Members []string `json:"members"`
}

// Seed is the fixture format accepted by `chatctl seed`.
type Seed struct {
	Users         []seedUser         `json:"users"`
	Conversations []seedConversation `json:"conversations"`
}

func ReadSeed(r io.Reader) (Seed, error) {
	var seed Seed
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&seed); err != nil {
		return Seed{}, fmt.Errorf("decode seed: %w", err)
	}
	return seed, nil
}

func (s Seed) Identities() []domain.Identity {
	return lo.Map(s.Users, func(u seedUser, _ int) domain.Identity {
		return domain.Identity{ID: domain.UserID(u.ID), Username: u.Username}
	})
}

func (s Seed) ConversationList() []domain.Conversation {
	return lo.Map(s.Conversations, func(c seedConversation, _ int) domain.Conversation {
		return domain.Conversation{
			ID:      domain.RoomID(c.ID),
			Name:    c.Name,
			IsGroup: c.IsGroup,
			MemberIDs: lo.Map(c.Members, func(id string, _ int) domain.UserID {
				return domain.UserID(id)
			}),
		}
	})
}

// Apply writes users first so conversations can reference them, and reports
// each saved conversation on out.
func (s Seed) Apply(ctx context.Context, store repositories.Store, out io.Writer) error {
	for _, identity := range s.Identities() {
		if err := store.SaveUser(ctx, identity); err != nil {
			return fmt.Errorf("user %s: %w", identity.ID, err)
		}
	}
	for _, conversation := range s.ConversationList() {
		if err := conversation.Validate(); err != nil {
			return fmt.Errorf("conversation %s: %w", conversation.ID, err)
		}
		if err := store.SaveConversation(ctx, conversation); err != nil {
			return fmt.Errorf("conversation %s: %w", conversation.ID, err)
		}
		fmt.Fprintf(out, "%s\t%s\t%d members\n", conversation.ID, conversation.Kind(), len(conversation.MemberIDs))
	}
	return nil
}
