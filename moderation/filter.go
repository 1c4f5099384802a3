package moderation

import (
	"log/slog"
	"strings"
	"unicode"

	"chat-relay/errors"

	goahocorasick "github.com/anknown/ahocorasick"
)

// Filter masks blacklisted words in outgoing chat messages.
// Matching ignores case, punctuation, spacing and common leet substitutions,
// so "B.4.d g€r" is caught by "badger". Masking keeps the original length.
type Filter struct {
	log     *slog.Logger
	machine *goahocorasick.Machine
	mask    rune
}

// projection is the searchable form of a message: normalized runes plus, for
// each of them, its index in the original text.
type projection struct {
	runes  []rune
	origin []int
}

func NewFilter(words []string, mask rune, log *slog.Logger) (*Filter, error) {
	patterns := make([][]rune, 0, len(words))
	for _, word := range words {
		// leet folding turns "!!" into "ii": a word needs a real letter or digit
		if !strings.ContainsFunc(word, isWordRune) {
			continue
		}
		if p := project([]rune(word)).runes; len(p) > 0 {
			patterns = append(patterns, p)
		}
	}
	if len(patterns) == 0 {
		return nil, errors.ErrEmptyWords
	}

	machine := new(goahocorasick.Machine)
	if err := machine.Build(patterns); err != nil {
		return nil, err
	}
	log.Debug("moderation filter ready", "patterns", len(patterns))
	return &Filter{log: log, machine: machine, mask: mask}, nil
}

func (f *Filter) Censor(original string) string {
	text := []rune(original)
	p := project(text)
	if len(p.runes) == 0 {
		return original
	}

	hits := f.machine.MultiPatternSearch(p.runes, false)
	if len(hits) == 0 {
		return original
	}
	for _, hit := range hits {
		end := hit.Pos + len(hit.Word)
		if hit.Pos < 0 || end > len(p.origin) {
			continue
		}
		for i := p.origin[hit.Pos]; i <= p.origin[end-1]; i++ {
			text[i] = f.mask
		}
	}
	return string(text)
}

func project(text []rune) projection {
	p := projection{
		runes:  make([]rune, 0, len(text)),
		origin: make([]int, 0, len(text)),
	}
	for i, r := range text {
		r = unleet(r)
		if unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r) {
			continue
		}
		p.runes = append(p.runes, unicode.ToLower(r))
		p.origin = append(p.origin, i)
	}
	return p
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func unleet(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3', '€':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	default:
		return r
	}
}
