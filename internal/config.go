package internal

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// CharacterRune turns the CHARACTER_REPLACEMENT setting into the masking rune.
func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}

// ParseOrigins splits a comma separated ALLOWED_ORIGINS value.
func ParseOrigins(raw string) []string {
	return lo.Compact(lo.Map(strings.Split(raw, ","), func(origin string, _ int) string {
		return strings.TrimSpace(origin)
	}))
}

// escapedRuneSize is the worst JSON encoding of one character: a
// surrogate pair written as two \uXXXX escapes.
const escapedRuneSize = 12

// MaxFrameSize bounds an inbound WebSocket frame for a content limit given
// in characters, so that any text within the limit fits however the client
// escapes it, plus room for the JSON envelope.
func MaxFrameSize(maxContentLength int) int64 {
	if maxContentLength <= 0 {
		return 0
	}
	return int64(maxContentLength)*escapedRuneSize + 1024
}
