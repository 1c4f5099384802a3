// Package domain contains core concepts of the chat system.
// This file defines the identities bound to a live connection.
// No runtime, network, or UI logic should be added here.
package domain

import "github.com/google/uuid"

type UserID string

type ConnectionID string

func NewConnectionID() ConnectionID {
	return ConnectionID(uuid.NewString())
}

// Identity is an authenticated user. It is resolved once at admission
// and never taken from client-supplied frames.
type Identity struct {
	ID       UserID
	Username string
}

// Handshake is what the transport knows about a connection attempt.
type Handshake struct {
	Token      string
	RemoteAddr string
}
