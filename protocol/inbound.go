// Package protocol owns the JSON frames exchanged over the real-time channel.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"chat-relay/errors"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

const (
	ReasonInvalidJSON  = "Invalid JSON payload"
	ReasonEmptyMessage = "Message content required"
	ReasonTooLong      = "Message too long"
)

// Inbound is the result of parsing a client frame: either ValidMessage or Invalid.
type Inbound interface {
	inbound()
}

type ValidMessage struct {
	Text string
}

func (ValidMessage) inbound() {}

// Invalid carries a human-readable reason for the sender and the matching sentinel.
type Invalid struct {
	Reason string
	Err    error
}

func (Invalid) inbound() {}

type clientFrame struct {
	Message *json.RawMessage `json:"message"`
}

// Parse turns a raw client frame into a typed result. A non-positive maxLen
// disables the length check.
func Parse(raw []byte, maxLen int) Inbound {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Invalid{Reason: ReasonEmptyMessage, Err: errors.ErrEmptyMessage}
	}
	if trimmed[0] != '{' {
		return Invalid{Reason: ReasonInvalidJSON, Err: errors.ErrInvalidJSON}
	}

	var frame clientFrame
	if err := json.Unmarshal(trimmed, &frame); err != nil {
		return Invalid{Reason: ReasonInvalidJSON, Err: fmt.Errorf("%w: %v", errors.ErrInvalidJSON, err)}
	}
	if frame.Message == nil {
		return Invalid{Reason: ReasonEmptyMessage, Err: errors.ErrEmptyMessage}
	}

	var text string
	if err := json.Unmarshal(*frame.Message, &text); err != nil {
		// present but not a string: null, number, object...
		return Invalid{Reason: ReasonEmptyMessage, Err: errors.ErrEmptyMessage}
	}
	return CheckText(text, maxLen)
}

// CheckText applies the content rules to text that did not come from a frame.
// Accepted text is kept verbatim, surrounding whitespace included.
func CheckText(text string, maxLen int) Inbound {
	if strings.TrimSpace(text) == "" {
		return Invalid{Reason: ReasonEmptyMessage, Err: errors.ErrEmptyMessage}
	}

	if maxLen > 0 {
		if err := validate.Var(text, fmt.Sprintf("max=%d", maxLen)); err != nil {
			return Invalid{Reason: ReasonTooLong, Err: errors.ErrMessageTooLong}
		}
	}
	return ValidMessage{Text: text}
}
