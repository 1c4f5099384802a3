package runtime

import (
	"context"
	"log/slog"
	"sync"

	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/observability"

	"github.com/samber/lo"
)

type roomSet map[domain.ConnectionID]contract.Connection

// Registry is the room membership index: which live connections are admitted
// to which room. It is the only owner of that index.
//
// Admitting a connection ID that is already present replaces the slot, so a
// duplicate admit never doubles delivery. Rooms are evicted as soon as their
// last connection leaves.
type Registry struct {
	mu         sync.RWMutex
	log        *slog.Logger
	monitoring *observability.Monitoring
	rooms      map[domain.RoomID]roomSet
}

func NewRegistry(log *slog.Logger, monitoring *observability.Monitoring) *Registry {
	return &Registry{
		log:        log,
		monitoring: monitoring,
		rooms:      make(map[domain.RoomID]roomSet),
	}
}

// Admit adds conn to the room, replacing any entry with the same ID.
func (r *Registry) Admit(roomID domain.RoomID, conn contract.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(roomSet)
		r.rooms[roomID] = members
	}
	members[conn.ID()] = conn
}

// Remove drops conn from the room. Unknown rooms and connections are ignored.
func (r *Registry) Remove(roomID domain.RoomID, conn contract.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(roomID, conn)
}

func (r *Registry) removeLocked(roomID domain.RoomID, conn contract.Connection) {
	members, ok := r.rooms[roomID]
	if !ok {
		return
	}
	// only drop the slot if it still holds this very connection
	if current, ok := members[conn.ID()]; ok && current == conn {
		delete(members, conn.ID())
	}
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
}

// Broadcast hands evt to every connection admitted to the room and returns how
// many accepted it. Recipients are snapshotted under the read lock and the lock
// is released before any Send. A connection that fails to accept the event is
// removed and closed; the others are unaffected.
func (r *Registry) Broadcast(ctx context.Context, roomID domain.RoomID, evt event.Event) int {
	recipients := r.snapshot(roomID)

	delivered := 0
	for _, conn := range recipients {
		if err := conn.Send(ctx, evt); err != nil {
			r.log.Debug("dropping connection after failed delivery",
				"room_id", roomID,
				"connection_id", conn.ID(),
				"error", err)
			r.monitoring.IncrDeliveryFailures()
			r.Remove(roomID, conn)
			_ = conn.Close()
			continue
		}
		delivered++
	}
	r.monitoring.AddDeliveries(delivered)
	return delivered
}

func (r *Registry) snapshot(roomID domain.RoomID) []contract.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	return lo.Values(members)
}

// Contains reports whether conn is currently admitted to the room.
func (r *Registry) Contains(roomID domain.RoomID, conn contract.Connection) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	current, ok := r.rooms[roomID][conn.ID()]
	return ok && current == conn
}

func (r *Registry) ConnectionCount(roomID domain.RoomID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// TotalConnections counts admitted connections across all rooms.
func (r *Registry) TotalConnections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, members := range r.rooms {
		total += len(members)
	}
	return total
}
