// Package runtime holds the real-time core: the room registry, the fan-out
// engine and the connection lifecycle. It contains no transport or storage code.
package runtime

import (
	"context"
	goerrors "errors"
	"log/slog"

	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/observability"
	"chat-relay/protocol"
)

const (
	reasonConversationGone = "Conversation not found"
	reasonNotParticipant   = "You are not a participant of this conversation"
	reasonStoreFailure     = "Failed to send message"
)

// TextFilter rewrites message content before it is persisted.
type TextFilter interface {
	Censor(original string) string
}

type Status int

const (
	Rejected Status = iota
	Delivered
)

// Outcome reports what happened to one submitted message. Reason is the
// client-facing text of a rejection.
type Outcome struct {
	Status     Status
	Message    domain.Message
	Recipients int
	Reason     string
	Err        error
}

// Engine is the single path from an inbound frame to every admitted
// connection of the room: parse, persist, broadcast.
//
// Persist and broadcast run under the room's Sequencer lock, so the order in
// which members observe messages is the order in which the store accepted them.
// Rooms never wait on each other; only messages of the same room queue up.
//
// A frame that fails validation, or that the store refuses, never reaches the
// registry. The sender alone gets an ErrorRaised frame and keeps its session.
// The store is the authority on membership at write time: a member removed
// after admission is answered "You are not a participant of this conversation"
// rather than disconnected.
//
// Once the store has accepted a message the Engine finishes the broadcast even
// if the sender's context ends, so a message that is in history is also a
// message every live member has been handed.
type Engine struct {
	log              *slog.Logger
	store            contract.MessageStore
	registry         contract.IRegistry
	sequencer        *Sequencer
	filter           TextFilter
	maxContentLength int
	monitoring       *observability.Monitoring
}

func NewEngine(log *slog.Logger, store contract.MessageStore, registry contract.IRegistry,
	sequencer *Sequencer, filter TextFilter, maxContentLength int,
	monitoring *observability.Monitoring) *Engine {
	return &Engine{
		log:              log,
		store:            store,
		registry:         registry,
		sequencer:        sequencer,
		filter:           filter,
		maxContentLength: maxContentLength,
		monitoring:       monitoring,
	}
}

// Submit handles one raw frame received on session.
// Room and sender always come from the session, never from the frame.
// A rejection is reported to the session only.
func (e *Engine) Submit(ctx context.Context, session *Session, raw []byte) Outcome {
	var outcome Outcome
	switch in := protocol.Parse(raw, e.maxContentLength).(type) {
	case protocol.ValidMessage:
		outcome = e.publish(ctx, session.Room(), session.Identity(), in.Text)
	case protocol.Invalid:
		e.monitoring.IncrValidationErrors()
		outcome = Outcome{Status: Rejected, Reason: in.Reason, Err: in.Err}
	default:
		outcome = Outcome{Status: Rejected, Reason: protocol.ReasonInvalidJSON, Err: errors.ErrInvalidJSON}
	}

	if outcome.Status == Rejected {
		e.notify(ctx, session, outcome.Reason)
	}
	return outcome
}

// RefuseOversized answers a frame the transport dropped for exceeding its
// read limit. The content never reached the relay, so only the sender hears
// about it and the session stays open.
func (e *Engine) RefuseOversized(ctx context.Context, session *Session, err error) Outcome {
	e.monitoring.IncrValidationErrors()
	e.notify(ctx, session, protocol.ReasonTooLong)
	return Outcome{Status: Rejected, Reason: protocol.ReasonTooLong, Err: err}
}

func (e *Engine) notify(ctx context.Context, session *Session, reason string) {
	if err := session.Notify(ctx, event.ErrorRaised{Error: reason}); err != nil {
		e.log.Debug("could not report error to sender",
			"connection_id", session.ID(),
			"error", err)
	}
}

// Post publishes on behalf of a sender that has no live connection, as the
// HTTP API does. It goes through the same validation, store and room order
// as Submit.
func (e *Engine) Post(ctx context.Context, cmd domain.PostMessageCommand) Outcome {
	switch in := protocol.CheckText(cmd.Content, e.maxContentLength).(type) {
	case protocol.ValidMessage:
		return e.publish(ctx, cmd.RoomID(), cmd.Sender, in.Text)
	case protocol.Invalid:
		e.monitoring.IncrValidationErrors()
		return Outcome{Status: Rejected, Reason: in.Reason, Err: in.Err}
	default:
		return Outcome{Status: Rejected, Reason: protocol.ReasonEmptyMessage, Err: errors.ErrEmptyMessage}
	}
}

func (e *Engine) publish(ctx context.Context, roomID domain.RoomID, sender domain.Identity, text string) Outcome {
	// the sender leaving must not abort a write it already handed us,
	// nor the delivery to everybody else
	ctx = context.WithoutCancel(ctx)

	if e.filter != nil {
		text = e.filter.Censor(text)
	}

	unlock := e.sequencer.Lock(roomID)
	defer unlock()

	msg, err := e.store.Append(ctx, roomID, sender.ID, text)
	if err != nil {
		switch {
		case goerrors.Is(err, errors.ErrNotFound):
			return Outcome{Status: Rejected, Reason: reasonConversationGone, Err: err}
		case goerrors.Is(err, errors.ErrForbidden):
			return Outcome{Status: Rejected, Reason: reasonNotParticipant, Err: err}
		default:
			e.monitoring.IncrStoreErrors()
			e.log.Error("failed to persist message",
				"room_id", roomID,
				"user_id", sender.ID,
				"error", err)
			return Outcome{Status: Rejected, Reason: reasonStoreFailure, Err: err}
		}
	}
	e.monitoring.IncrPersisted()

	recipients := e.registry.Broadcast(ctx, roomID, event.NewMessageDelivered(msg))
	e.log.Debug("message fanned out",
		"room_id", roomID,
		"message_id", msg.ID,
		"recipients", recipients)

	return Outcome{Status: Delivered, Message: msg, Recipients: recipients}
}
