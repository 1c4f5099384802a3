package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"

	"github.com/stretchr/testify/require"
)

func TestParse_ValidMessage(t *testing.T) {
	req := require.New(t)

	result := Parse([]byte(`{"message":"hi"}`), 0)

	msg, ok := result.(ValidMessage)
	req.True(ok)
	req.Equal("hi", msg.Text)
}

func TestParse_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		raw    string
		reason string
		err    error
	}{
		{"empty frame", "", ReasonEmptyMessage, errors.ErrEmptyMessage},
		{"whitespace frame", "   \n", ReasonEmptyMessage, errors.ErrEmptyMessage},
		{"not json", "hello", ReasonInvalidJSON, errors.ErrInvalidJSON},
		{"broken json", `{"message":`, ReasonInvalidJSON, errors.ErrInvalidJSON},
		{"json array", `["hi"]`, ReasonInvalidJSON, errors.ErrInvalidJSON},
		{"missing field", `{"text":"hi"}`, ReasonEmptyMessage, errors.ErrEmptyMessage},
		{"null field", `{"message":null}`, ReasonEmptyMessage, errors.ErrEmptyMessage},
		{"number field", `{"message":42}`, ReasonEmptyMessage, errors.ErrEmptyMessage},
		{"blank field", `{"message":"  \t "}`, ReasonEmptyMessage, errors.ErrEmptyMessage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := require.New(t)
			invalid, ok := Parse([]byte(tc.raw), 0).(Invalid)
			req.True(ok)
			req.Equal(tc.reason, invalid.Reason)
			req.ErrorIs(invalid.Err, tc.err)
			req.ErrorIs(invalid.Err, errors.ErrValidation)
		})
	}
}

func TestParse_MaxLength_CountsRunes(t *testing.T) {
	req := require.New(t)

	// Given a limit of 3 characters, multibyte runes count once
	_, ok := Parse([]byte(`{"message":"été"}`), 3).(ValidMessage)
	req.True(ok)

	invalid, ok := Parse([]byte(`{"message":"hello"}`), 3).(Invalid)
	req.True(ok)
	req.Equal(ReasonTooLong, invalid.Reason)
	req.ErrorIs(invalid.Err, errors.ErrMessageTooLong)
}

func TestEncode_MessageDelivered(t *testing.T) {
	req := require.New(t)
	at := time.Date(2026, 3, 1, 10, 30, 0, 123000000, time.FixedZone("CET", 3600))

	raw, err := Encode(event.MessageDelivered{ID: 7, Username: "alice", Message: "hi", Timestamp: at})
	req.NoError(err)

	var frame map[string]any
	req.NoError(json.Unmarshal(raw, &frame))
	req.Len(frame, 4)
	req.EqualValues(7, frame["id"])
	req.Equal("alice", frame["username"])
	req.Equal("hi", frame["message"])
	req.Equal("2026-03-01T09:30:00.123Z", frame["timestamp"])
}

func TestEncode_ErrorRaised(t *testing.T) {
	req := require.New(t)

	raw, err := Encode(event.ErrorRaised{Error: ReasonInvalidJSON})
	req.NoError(err)
	req.JSONEq(`{"error":"Invalid JSON payload"}`, string(raw))
}

func TestCheckText_Keeps_Content_Verbatim(t *testing.T) {
	req := require.New(t)

	msg, ok := CheckText("  spaced out  ", 0).(ValidMessage)
	req.True(ok)
	req.Equal("  spaced out  ", msg.Text)

	invalid, ok := CheckText(" \n\t", 10).(Invalid)
	req.True(ok)
	req.Equal(ReasonEmptyMessage, invalid.Reason)
}

func TestNewHistoryPage(t *testing.T) {
	req := require.New(t)
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	messages := []domain.Message{
		{ID: 4, SenderUsername: "alice", Content: "older", CreatedAt: at},
		{ID: 5, SenderUsername: "bob", Content: "newer", CreatedAt: at.Add(time.Second)},
	}

	full := NewHistoryPage(messages, true)
	req.Len(full.Messages, 2)
	req.Equal(int64(4), full.NextBefore)
	req.Equal("bob", full.Messages[1].Username)
	req.Equal("2026-03-01T09:30:01Z", full.Messages[1].Timestamp)

	last := NewHistoryPage(messages, false)
	req.Zero(last.NextBefore)

	raw, err := json.Marshal(NewHistoryPage(nil, true))
	req.NoError(err)
	req.JSONEq(`{"messages":[]}`, string(raw))
}
