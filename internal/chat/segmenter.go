// Package chat turns streamed model output into discrete sentences and keeps
// the conversational framing sent to the chat model.
package chat

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	terminators = ".?!"
	closers     = "\")]"
)

// Emission is one output of the Segmenter. A preview (Complete false)
// replaces the previous preview; a complete sentence is emitted once.
type Emission struct {
	Text     string `json:"text"`
	Complete bool   `json:"complete"`
}

// Segmenter cuts a token stream into sentences. Not safe for concurrent use.
type Segmenter struct {
	current string
}

// Feed appends chunk and returns either a committed sentence or a preview of
// the text buffered so far. At most one sentence is committed per call; when
// a chunk completes several, they are committed together.
func (s *Segmenter) Feed(chunk string) Emission {
	s.current += chunk

	cut := boundary(s.current)
	if cut == 0 {
		return Emission{Text: s.current}
	}
	sentence := s.current[:cut]
	s.current = strings.TrimLeftFunc(s.current[cut:], unicode.IsSpace)
	return Emission{Text: sentence, Complete: true}
}

// Flush commits whatever is buffered, punctuated or not. ok is false when
// nothing is buffered.
func (s *Segmenter) Flush() (Emission, bool) {
	if s.current == "" {
		return Emission{}, false
	}
	e := Emission{Text: s.current, Complete: true}
	s.current = ""
	return e, true
}

// boundary returns the length of the committable prefix of buf, or 0.
//
// A boundary needs a terminator somewhere in buf and a last character that
// is neither a terminator nor a closer, so a sentence still being written at
// the live edge is never cut. The cut is the last terminator, plus any
// closers right after it, that is followed by whitespace.
func boundary(buf string) int {
	if buf == "" || !strings.ContainsAny(buf, terminators) {
		return 0
	}
	last := buf[len(buf)-1]
	if strings.IndexByte(terminators, last) >= 0 || strings.IndexByte(closers, last) >= 0 {
		return 0
	}

	for i := len(buf) - 1; i >= 0; i-- {
		if strings.IndexByte(terminators, buf[i]) < 0 {
			continue
		}
		end := i + 1
		for end < len(buf) && strings.IndexByte(closers, buf[end]) >= 0 {
			end++
		}
		if end >= len(buf) {
			continue
		}
		if r, _ := utf8.DecodeRuneInString(buf[end:]); unicode.IsSpace(r) {
			return end
		}
	}
	return 0
}

// IsIgnorable reports whether text carries nothing worth speaking: it is
// blank or has neither letters nor digits.
func IsIgnorable(text string) bool {
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
