package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"chat-relay/auth"
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/repositories"

	"github.com/stretchr/testify/require"
)

const fixture = `{
  "users": [
    {"id": "u-alice", "username": "alice"},
    {"id": "u-bob", "username": "bob"}
  ],
  "conversations": [
    {"id": "r1", "name": "alice & bob", "members": ["u-alice", "u-bob"]}
  ]
}`

func TestSeed_Apply(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()

	// Given a fixture and an empty store
	seed, err := ReadSeed(strings.NewReader(fixture))
	req.NoError(err)
	store, err := repositories.OpenBadgerStore(t.TempDir(), slog.Default())
	req.NoError(err)
	defer store.Close()

	// When it is applied
	var out bytes.Buffer
	req.NoError(seed.Apply(ctx, store, &out))
	req.Equal("r1\tdirect\t2 members\n", out.String())

	// Then users can post in the seeded conversation
	member, err := store.IsMember(ctx, "r1", "u-bob")
	req.NoError(err)
	req.True(member)
	msg, err := store.Append(ctx, "r1", "u-alice", "hello")
	req.NoError(err)
	req.Equal("alice", msg.SenderUsername)
}

func TestSeed_RejectsBrokenDirectConversation(t *testing.T) {
	req := require.New(t)
	seed, err := ReadSeed(strings.NewReader(`{"conversations":[{"id":"r1","members":["u-alice"]}]}`))
	req.NoError(err)
	store, err := repositories.OpenBadgerStore(t.TempDir(), slog.Default())
	req.NoError(err)
	defer store.Close()

	err = seed.Apply(context.Background(), store, io.Discard)
	req.ErrorIs(err, errors.ErrInvalidDirect)
}

func TestReadSeed_UnknownField(t *testing.T) {
	_, err := ReadSeed(strings.NewReader(`{"rooms": []}`))
	require.Error(t, err)
}

func TestRenderHistory(t *testing.T) {
	req := require.New(t)
	var out bytes.Buffer
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	renderHistory(&out, []domain.Message{
		{ID: 1, SenderUsername: "alice", Content: "hi", CreatedAt: at},
		{ID: 2, SenderUsername: "bob", Content: "hello", CreatedAt: at.Add(time.Second)},
	})

	req.Contains(out.String(), "alice")
	req.Contains(out.String(), "2026-03-01 10:00:01")
	req.Less(strings.Index(out.String(), "hi"), strings.Index(out.String(), "hello"))
}

func TestRunToken(t *testing.T) {
	req := require.New(t)
	cfg := Config{JWTSecret: "0123456789abcdef", JWTIssuer: "chat-relay", TokenDuration: time.Hour}
	var out bytes.Buffer

	req.NoError(runToken(cfg, []string{"-user", "u-alice", "-name", "alice"}, &out))

	claims, err := auth.NewTokenIssuer([]byte(cfg.JWTSecret), cfg.JWTIssuer, time.Hour).
		Validate(strings.TrimSpace(out.String()))
	req.NoError(err)
	req.Equal("u-alice", claims.UserID)
}

func TestRunToken_MissingSecret(t *testing.T) {
	err := runToken(Config{}, []string{"-user", "u-alice", "-name", "alice"}, &bytes.Buffer{})
	require.Error(t, err)
}
