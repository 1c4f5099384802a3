package runtime

import (
	"sync"

	"chat-relay/domain"
)

type roomLock struct {
	mu   sync.Mutex
	refs int
}

// Sequencer serializes the persist-then-broadcast step per room.
// Locks are reference counted and dropped when no caller holds or waits on
// them, so idle rooms cost nothing.
type Sequencer struct {
	mu    sync.Mutex
	locks map[domain.RoomID]*roomLock
}

func NewSequencer() *Sequencer {
	return &Sequencer{locks: make(map[domain.RoomID]*roomLock)}
}

// Lock blocks until the caller owns the room and returns the matching unlock.
func (s *Sequencer) Lock(roomID domain.RoomID) func() {
	s.mu.Lock()
	l, ok := s.locks[roomID]
	if !ok {
		l = &roomLock{}
		s.locks[roomID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()

			s.mu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(s.locks, roomID)
			}
			s.mu.Unlock()
		})
	}
}

// Len is the number of rooms currently held or awaited.
func (s *Sequencer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
