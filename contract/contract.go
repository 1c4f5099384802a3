//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"

	"chat-relay/domain"
	"chat-relay/domain/event"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// AuthProvider resolves the identity behind a connection attempt.
// It returns errors.ErrUnauthenticated (or a wrapped form) when there is none.
type AuthProvider interface {
	CurrentUser(ctx context.Context, handshake domain.Handshake) (domain.Identity, error)
}

// ConversationDirectory is the authoritative membership source.
type ConversationDirectory interface {
	Exists(ctx context.Context, roomID domain.RoomID) (bool, error)
	IsMember(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (bool, error)
}

// MessageStore is the durable, per-room ordered message log.
// Append assigns ID and CreatedAt and fails with errors.ErrNotFound when the
// conversation is gone, errors.ErrForbidden when the sender is no longer a member.
type MessageStore interface {
	Append(ctx context.Context, roomID domain.RoomID, senderID domain.UserID, text string) (domain.Message, error)
	History(ctx context.Context, roomID domain.RoomID, before int64, limit int) ([]domain.Message, error)
}

// Connection is the registry's view of a live session.
// Send must not block on network I/O.
type Connection interface {
	ID() domain.ConnectionID
	Send(ctx context.Context, evt event.Event) error
	Close() error
	Done() <-chan struct{}
}

// Transport is a Connection the lifecycle manager can still accept and read from.
type Transport interface {
	Connection
	Accept() error
	Receive(ctx context.Context) ([]byte, error)
}

type IRegistry interface {
	Admit(roomID domain.RoomID, conn Connection)
	Remove(roomID domain.RoomID, conn Connection)
	Broadcast(ctx context.Context, roomID domain.RoomID, evt event.Event) int
}
