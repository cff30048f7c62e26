// Package sensory records the timestamped events the agent perceives:
// user messages, its own spoken sentences, and anything else worth noting.
package sensory

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Message prefixes used by the append helpers.
const (
	UserPrefix      = "User: "
	AssistantPrefix = "Assistant: "
)

// Event is one entry of the stream.
type Event struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Stream is an append-only, time-ordered event log. Safe for concurrent use.
type Stream struct {
	mu     sync.RWMutex
	events []Event
	now    func() time.Time
}

// NewStream returns an empty stream stamped with the wall clock.
func NewStream() *Stream {
	return &Stream{now: time.Now}
}

// NewStreamWithClock returns a stream that reads time from now. Used by tests.
func NewStreamWithClock(now func() time.Time) *Stream {
	return &Stream{now: now}
}

// AppendEvent records text at the current time.
func (s *Stream) AppendEvent(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, Event{Text: text, Timestamp: s.now()})
}

// AppendUserMessage records text said by the user.
func (s *Stream) AppendUserMessage(text string) {
	s.AppendEvent(UserPrefix + text)
}

// AppendAssistantMessage records text said by the assistant.
func (s *Stream) AppendAssistantMessage(text string) {
	s.AppendEvent(AssistantPrefix + text)
}

// Len returns the number of events.
func (s *Stream) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Events returns a copy of the events in insertion order.
func (s *Stream) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// PrettyPrint renders every event, most recent first, one per line as
// "<text> - <age>".
func (s *Stream) PrettyPrint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	return render(s.events, now)
}

// PrettyPrintSplit renders the events before ref and the events at or after
// ref separately, each most recent first.
func (s *Stream) PrettyPrintSplit(ref time.Time) (before, after string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()

	var early, late []Event
	for _, e := range s.events {
		if e.Timestamp.Before(ref) {
			early = append(early, e)
		} else {
			late = append(late, e)
		}
	}
	return render(early, now), render(late, now)
}

func render(events []Event, now time.Time) string {
	lines := make([]string, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		lines = append(lines, fmt.Sprintf("%s - %s", e.Text, Age(now.Sub(e.Timestamp))))
	}
	return strings.Join(lines, "\n")
}

// Age formats an elapsed duration using floor buckets: "just now" under a
// second, then whole seconds, minutes, hours and days.
func Age(d time.Duration) string {
	secs := d.Seconds()
	switch {
	case secs < 1:
		return "just now"
	case secs < 60:
		return fmt.Sprintf("%d seconds ago", int(secs))
	case secs < 3600:
		return fmt.Sprintf("%d minutes ago", int(secs/60))
	case secs < 86400:
		return fmt.Sprintf("%d hours ago", int(secs/3600))
	default:
		return fmt.Sprintf("%d days ago", int(secs/86400))
	}
}
