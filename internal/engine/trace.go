package engine

import (
	"context"
	"sync"
	"time"
)

// TraceEventKind classifies each trace event by type.
type TraceEventKind string

const (
	// KindStepStarted is emitted at the beginning of a control-loop step.
	KindStepStarted TraceEventKind = "step_started"

	// KindPolicySelected is emitted when a policy is adopted.
	KindPolicySelected TraceEventKind = "policy_selected"

	// KindIndexCorrected is emitted when the proposed selection index was out of range.
	KindIndexCorrected TraceEventKind = "index_corrected"

	// KindPolicyUpdated is emitted after a policy update step.
	KindPolicyUpdated TraceEventKind = "policy_updated"

	// KindPolicyCleared is emitted when a policy completes or is interrupted.
	KindPolicyCleared TraceEventKind = "policy_cleared"

	// KindBeliefAdded, KindBeliefDeleted and KindBeliefEdited record model edits.
	KindBeliefAdded   TraceEventKind = "belief_added"
	KindBeliefDeleted TraceEventKind = "belief_deleted"
	KindBeliefEdited  TraceEventKind = "belief_edited"

	// KindObservationSampled is emitted for every prior pulled in by Populate.
	KindObservationSampled TraceEventKind = "observation_sampled"
)

// TraceEvent is a single structured event emitted during a step.
type TraceEvent struct {
	Kind TraceEventKind `json:"kind"`
	At   time.Time      `json:"at"`

	// Text carries the policy or belief text the event is about.
	Text string `json:"text,omitempty"`

	// Previous carries the old text for edits.
	Previous string `json:"previous,omitempty"`

	// Count is the number of observations touched, or the step number.
	Count int `json:"count,omitempty"`

	// Detail is a short free-form annotation (completion state, category, index).
	Detail string `json:"detail,omitempty"`
}

// TraceCollector accumulates TraceEvents for a single step. Safe for concurrent use.
type TraceCollector struct {
	mu        sync.Mutex
	events    []TraceEvent
	startedAt time.Time
}

// NewTraceCollector returns a fresh collector.
func NewTraceCollector() *TraceCollector {
	return &TraceCollector{startedAt: time.Now()}
}

// Emit appends an event to the collector.
func (tc *TraceCollector) Emit(e TraceEvent) {
	tc.mu.Lock()
	tc.events = append(tc.events, e)
	tc.mu.Unlock()
}

// Events returns the collected events in emission order.
func (tc *TraceCollector) Events() []TraceEvent {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	out := make([]TraceEvent, len(tc.events))
	copy(out, tc.events)
	return out
}

// ElapsedMS returns the elapsed time since the collector was created, in milliseconds.
func (tc *TraceCollector) ElapsedMS() int64 {
	return time.Since(tc.startedAt).Milliseconds()
}

type contextKey string

const traceKey contextKey = "step_trace"

// WithTraceCollector stores a collector in the context.
func WithTraceCollector(ctx context.Context, tc *TraceCollector) context.Context {
	return context.WithValue(ctx, traceKey, tc)
}

// TraceCollectorFromContext retrieves the collector from the context.
func TraceCollectorFromContext(ctx context.Context) (*TraceCollector, bool) {
	tc, ok := ctx.Value(traceKey).(*TraceCollector)
	return tc, ok
}

// emitToContext emits e only when a collector is present in ctx.
func emitToContext(ctx context.Context, e TraceEvent) {
	if tc, ok := TraceCollectorFromContext(ctx); ok {
		tc.Emit(e)
	}
}

func newTraceEvent(kind TraceEventKind, text string) TraceEvent {
	return TraceEvent{Kind: kind, At: time.Now(), Text: text}
}
