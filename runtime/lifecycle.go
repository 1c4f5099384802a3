package runtime

import (
	"context"
	goerrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/observability"
)

type State int32

const (
	Pending State = iota
	Admitted
	Closed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Admitted:
		return "admitted"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Session binds one transport to one identity and one room for its whole life.
type Session struct {
	room       domain.RoomID
	identity   domain.Identity
	transport  contract.Transport
	registry   contract.IRegistry
	monitoring *observability.Monitoring
	state      atomic.Int32
	closeOnce  sync.Once
}

func (s *Session) ID() domain.ConnectionID { return s.transport.ID() }

func (s *Session) Room() domain.RoomID { return s.room }

func (s *Session) Identity() domain.Identity { return s.identity }

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) Done() <-chan struct{} { return s.transport.Done() }

// Notify sends evt to this session only.
func (s *Session) Notify(ctx context.Context, evt event.Event) error {
	return s.transport.Send(ctx, evt)
}

// Close moves the session to Closed. Only the first call has an effect.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		previous := State(s.state.Swap(int32(Closed)))
		s.registry.Remove(s.room, s.transport)
		_ = s.transport.Close()
		if previous == Admitted {
			s.monitoring.IncrClosed()
		}
	})
}

// Manager runs admission and teardown for every connection and routes
// inbound frames of admitted sessions to the Engine.
//
// Admission is all or nothing. The identity, the conversation and the
// membership are checked before the transport is accepted, and a refused
// connection is closed without a word on the wire: the client cannot tell a
// missing conversation from one it may not see. Only an accepted transport
// is put in the Registry, so a broadcast never races the handshake.
//
// After admission the room and identity of a session are fixed. Nothing a
// client sends can move it to another room or speak as someone else.
type Manager struct {
	log        *slog.Logger
	auth       contract.AuthProvider
	directory  contract.ConversationDirectory
	registry   contract.IRegistry
	engine     *Engine
	monitoring *observability.Monitoring
}

func NewManager(log *slog.Logger, auth contract.AuthProvider, directory contract.ConversationDirectory,
	registry contract.IRegistry, engine *Engine, monitoring *observability.Monitoring) *Manager {
	return &Manager{
		log:        log,
		auth:       auth,
		directory:  directory,
		registry:   registry,
		engine:     engine,
		monitoring: monitoring,
	}
}

// Connect admits transport to the room. Checks run in order and the first
// failure closes the transport without any payload:
//  1. the handshake carries an authenticated identity (errors.ErrUnauthenticated)
//  2. the conversation exists (errors.ErrNotFound)
//  3. the identity is a member (errors.ErrForbidden)
func (m *Manager) Connect(ctx context.Context, roomID domain.RoomID, handshake domain.Handshake,
	transport contract.Transport) (*Session, error) {
	session := &Session{
		room:       roomID,
		transport:  transport,
		registry:   m.registry,
		monitoring: m.monitoring,
	}

	identity, err := m.admit(ctx, roomID, handshake)
	if err != nil {
		// never admitted: the registry is left untouched
		session.state.Store(int32(Closed))
		_ = transport.Close()
		m.monitoring.IncrRefused()
		m.log.Debug("connection refused",
			"room_id", roomID,
			"connection_id", transport.ID(),
			"remote_addr", handshake.RemoteAddr,
			"error", err)
		return nil, err
	}
	session.identity = identity

	// the transport is open before broadcasts can see it
	if err = transport.Accept(); err != nil {
		session.state.Store(int32(Closed))
		_ = transport.Close()
		return nil, fmt.Errorf("accept connection: %w", err)
	}
	session.state.Store(int32(Admitted))
	m.registry.Admit(roomID, transport)

	m.monitoring.IncrAdmitted()
	m.log.Info("connection admitted",
		"room_id", roomID,
		"connection_id", transport.ID(),
		"user_id", identity.ID)
	return session, nil
}

func (m *Manager) admit(ctx context.Context, roomID domain.RoomID, handshake domain.Handshake) (domain.Identity, error) {
	identity, err := m.auth.CurrentUser(ctx, handshake)
	if err != nil {
		if goerrors.Is(err, errors.ErrUnauthenticated) {
			return domain.Identity{}, err
		}
		return domain.Identity{}, fmt.Errorf("%w: %v", errors.ErrUnauthenticated, err)
	}

	exists, err := m.directory.Exists(ctx, roomID)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("conversation lookup: %w", err)
	}
	if !exists {
		return domain.Identity{}, fmt.Errorf("%w: conversation %s", errors.ErrNotFound, roomID)
	}

	member, err := m.directory.IsMember(ctx, roomID, identity.ID)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("membership lookup: %w", err)
	}
	if !member {
		return domain.Identity{}, fmt.Errorf("%w: user %s in conversation %s", errors.ErrForbidden, identity.ID, roomID)
	}
	return identity, nil
}

// Serve drives a connection from admission to close. Inbound frames are
// handed to the Engine one at a time; malformed or oversized ones never end
// the session.
// It returns the admission error, or nil once an admitted session is closed.
func (m *Manager) Serve(ctx context.Context, roomID domain.RoomID, handshake domain.Handshake,
	transport contract.Transport) error {
	session, err := m.Connect(ctx, roomID, handshake, transport)
	if err != nil {
		return err
	}
	defer session.Close()

	go func() {
		select {
		case <-ctx.Done():
			session.Close()
		case <-session.Done():
		}
	}()

	for {
		raw, err := transport.Receive(ctx)
		if goerrors.Is(err, errors.ErrFrameTooLarge) {
			m.engine.RefuseOversized(ctx, session, err)
			continue
		}
		if err != nil {
			m.log.Debug("connection ended",
				"room_id", roomID,
				"connection_id", session.ID(),
				"error", err)
			return nil
		}
		m.engine.Submit(ctx, session, raw)
	}
}
