package runtime

import (
	"context"
	"io"
	"sync"
	"time"

	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
)

// fakeTransport records everything sent to it and feeds Receive from a channel.
type fakeTransport struct {
	id      domain.ConnectionID
	inbound chan []byte
	// readErrs makes Receive fail once per value, as a dropped frame does
	readErrs chan error
	done     chan struct{}

	mu        sync.Mutex
	received  []event.Event
	accepted  bool
	closes    int
	sendErr   error
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		id:      domain.NewConnectionID(),
		inbound:  make(chan []byte, 16),
		readErrs: make(chan error, 16),
		done:     make(chan struct{}),
	}
}

func (f *fakeTransport) ID() domain.ConnectionID { return f.id }

func (f *fakeTransport) Accept() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepted = true
	return nil
}

func (f *fakeTransport) Send(_ context.Context, evt event.Event) error {
	select {
	case <-f.done:
		return errors.ErrConnectionClosed
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.received = append(f.received, evt)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

func (f *fakeTransport) Done() <-chan struct{} { return f.done }

func (f *fakeTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case raw, ok := <-f.inbound:
		if !ok {
			return nil, io.EOF
		}
		return raw, nil
	case err := <-f.readErrs:
		return nil, err
	case <-f.done:
		return nil, errors.ErrConnectionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) failWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *fakeTransport) Events() []event.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]event.Event(nil), f.received...)
}

func (f *fakeTransport) Delivered() []event.MessageDelivered {
	var out []event.MessageDelivered
	for _, evt := range f.Events() {
		if d, ok := evt.(event.MessageDelivered); ok {
			out = append(out, d)
		}
	}
	return out
}

func (f *fakeTransport) Errors() []event.ErrorRaised {
	var out []event.ErrorRaised
	for _, evt := range f.Events() {
		if e, ok := evt.(event.ErrorRaised); ok {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeTransport) IsClosed() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func (f *fakeTransport) WasAccepted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accepted
}

// memoryStore is both a directory and a message store.
type memoryStore struct {
	mu       sync.Mutex
	nextID   int64
	members  map[domain.RoomID]map[domain.UserID]string
	messages map[domain.RoomID][]domain.Message
	appends  int
	delay    time.Duration
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		members:  make(map[domain.RoomID]map[domain.UserID]string),
		messages: make(map[domain.RoomID][]domain.Message),
	}
}

func (s *memoryStore) addRoom(roomID domain.RoomID, members ...domain.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[domain.UserID]string)
	for _, m := range members {
		set[m.ID] = m.Username
	}
	s.members[roomID] = set
}

func (s *memoryStore) kick(roomID domain.RoomID, userID domain.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members[roomID], userID)
}

func (s *memoryStore) Exists(_ context.Context, roomID domain.RoomID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.members[roomID]
	return ok, nil
}

func (s *memoryStore) IsMember(_ context.Context, roomID domain.RoomID, userID domain.UserID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.members[roomID][userID]
	return ok, nil
}

func (s *memoryStore) Append(_ context.Context, roomID domain.RoomID, senderID domain.UserID, text string) (domain.Message, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appends++
	members, ok := s.members[roomID]
	if !ok {
		return domain.Message{}, errors.ErrNotFound
	}
	username, ok := members[senderID]
	if !ok {
		return domain.Message{}, errors.ErrForbidden
	}
	s.nextID++
	msg := domain.Message{
		ID:             s.nextID,
		Room:           roomID,
		SenderID:       senderID,
		SenderUsername: username,
		Content:        text,
		CreatedAt:      time.Now().UTC(),
	}
	s.messages[roomID] = append(s.messages[roomID], msg)
	return msg, nil
}

func (s *memoryStore) History(_ context.Context, roomID domain.RoomID, _ int64, _ int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.messages[roomID]...), nil
}

func (s *memoryStore) Appends() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appends
}

// staticAuth maps tokens to identities.
type staticAuth map[string]domain.Identity

func (a staticAuth) CurrentUser(_ context.Context, handshake domain.Handshake) (domain.Identity, error) {
	identity, ok := a[handshake.Token]
	if !ok {
		return domain.Identity{}, errors.ErrUnauthenticated
	}
	return identity, nil
}

func (f *fakeTransport) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}
