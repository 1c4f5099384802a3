package runtime

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/observability"

	"github.com/stretchr/testify/require"
)

func sampleDelivered(room domain.RoomID, id int64, text string) event.MessageDelivered {
	return event.NewMessageDelivered(domain.Message{
		ID:             id,
		Room:           room,
		SenderID:       "u-alice",
		SenderUsername: "alice",
		Content:        text,
		CreatedAt:      time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
	})
}

func TestRegistry_Broadcast_Reaches_Every_Member_Including_Sender(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(slog.Default(), nil)
	alice, bob := newFakeTransport(), newFakeTransport()
	roomID := domain.RoomID("r1")

	// Given two connections admitted to the same room
	registry.Admit(roomID, alice)
	registry.Admit(roomID, bob)

	// When a message is broadcast
	delivered := registry.Broadcast(context.Background(), roomID, sampleDelivered(roomID, 1, "hi"))

	// Then both of them get exactly one copy
	req.Equal(2, delivered)
	req.Len(alice.Delivered(), 1)
	req.Len(bob.Delivered(), 1)
	req.Equal("hi", bob.Delivered()[0].Message)
}

func TestRegistry_Broadcast_Does_Not_Leak_Across_Rooms(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(slog.Default(), nil)
	inside, outside := newFakeTransport(), newFakeTransport()

	// Given connections in two different rooms
	registry.Admit("r1", inside)
	registry.Admit("r2", outside)

	// When r1 receives a message
	delivered := registry.Broadcast(context.Background(), "r1", sampleDelivered("r1", 1, "private"))

	// Then r2 sees nothing
	req.Equal(1, delivered)
	req.Len(inside.Delivered(), 1)
	req.Empty(outside.Events())
}

func TestRegistry_Broadcast_Unknown_Room_Is_A_Noop(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(slog.Default(), nil)

	delivered := registry.Broadcast(context.Background(), "nowhere", sampleDelivered("nowhere", 1, "hi"))

	req.Zero(delivered)
	req.Zero(registry.RoomCount())
}

func TestRegistry_Duplicate_Admit_Replaces_The_Slot(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(slog.Default(), nil)
	conn := newFakeTransport()

	// Given the same connection admitted twice
	registry.Admit("r1", conn)
	registry.Admit("r1", conn)

	// When a message is broadcast
	registry.Broadcast(context.Background(), "r1", sampleDelivered("r1", 1, "once"))

	// Then it is delivered once
	req.Equal(1, registry.ConnectionCount("r1"))
	req.Len(conn.Delivered(), 1)
}

func TestRegistry_Remove_Unknown_Is_A_Noop(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(slog.Default(), nil)
	admitted, stranger := newFakeTransport(), newFakeTransport()
	registry.Admit("r1", admitted)

	// When removing a connection that was never admitted, from both a known and an unknown room
	registry.Remove("r1", stranger)
	registry.Remove("r2", stranger)

	// Then nothing changes
	req.Equal(1, registry.ConnectionCount("r1"))
	req.True(registry.Contains("r1", admitted))
}

func TestRegistry_Remove_Evicts_Empty_Room(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(slog.Default(), nil)
	conn := newFakeTransport()

	// Given a room with a single connection
	registry.Admit("r1", conn)
	req.Equal(1, registry.RoomCount())

	// When that connection leaves
	registry.Remove("r1", conn)

	// Then the room is gone
	req.Zero(registry.RoomCount())
	req.False(registry.Contains("r1", conn))

	// And a later message reaches nobody
	req.Zero(registry.Broadcast(context.Background(), "r1", sampleDelivered("r1", 2, "late")))
	req.Empty(conn.Events())
}

func TestRegistry_Failed_Delivery_Drops_Only_That_Connection(t *testing.T) {
	req := require.New(t)
	monitoring := observability.NewMonitoring(slog.Default())
	registry := NewRegistry(slog.Default(), monitoring)
	healthy, slow := newFakeTransport(), newFakeTransport()
	slow.failWith(errors.ErrSlowConsumer)

	// Given one healthy and one saturated connection
	registry.Admit("r1", healthy)
	registry.Admit("r1", slow)

	// When a message is broadcast
	delivered := registry.Broadcast(context.Background(), "r1", sampleDelivered("r1", 1, "hi"))

	// Then the healthy one still receives it
	req.Equal(1, delivered)
	req.Len(healthy.Delivered(), 1)

	// And the failing one is removed and closed
	req.False(registry.Contains("r1", slow))
	req.True(slow.IsClosed())
	req.True(registry.Contains("r1", healthy))

	stats := monitoring.Snapshot()
	req.Equal(uint64(1), stats.DeliveryFailures)
	req.Equal(uint64(1), stats.Deliveries)
}

func TestRegistry_Broadcast_Races_With_Remove(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(slog.Default(), nil)
	stable := newFakeTransport()
	registry.Admit("r1", stable)

	churn := make([]*fakeTransport, 50)
	for i := range churn {
		churn[i] = newFakeTransport()
		registry.Admit("r1", churn[i])
	}

	// When connections leave while messages are being broadcast
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := int64(1); i <= 100; i++ {
			registry.Broadcast(context.Background(), "r1", sampleDelivered("r1", i, "tick"))
		}
	}()
	go func() {
		defer wg.Done()
		for _, conn := range churn {
			registry.Remove("r1", conn)
			_ = conn.Close()
		}
	}()
	wg.Wait()

	// Then the stable member got everything and the leavers are gone
	req.Len(stable.Delivered(), 100)
	req.Equal(1, registry.ConnectionCount("r1"))
	for _, conn := range churn {
		req.LessOrEqual(len(conn.Delivered()), 100)
	}
}

func TestRegistry_Counts(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(slog.Default(), nil)

	registry.Admit("r1", newFakeTransport())
	registry.Admit("r1", newFakeTransport())
	registry.Admit("r2", newFakeTransport())

	req.Equal(2, registry.RoomCount())
	req.Equal(3, registry.TotalConnections())
	req.Equal(2, registry.ConnectionCount("r1"))
}
