package agent

import (
	"context"
	"log/slog"
	"time"
)

// ProgressEventType identifies a progress notification.
type ProgressEventType string

const (
	// EventIteration is emitted at the start of every iteration.
	EventIteration ProgressEventType = "iteration"

	// EventToolCalls is emitted before an iteration's tool calls execute.
	EventToolCalls ProgressEventType = "tool_calls"

	// EventMaxIterations is emitted when the iteration cap is exhausted.
	EventMaxIterations ProgressEventType = "max_iterations"
)

// ProgressEvent is an observational notification about a run. Sinks have no
// control over the run.
type ProgressEvent struct {
	Type          ProgressEventType `json:"type"`
	RunID         string            `json:"run_id,omitempty"`
	Agent         string            `json:"agent,omitempty"`
	Iteration     int               `json:"iteration,omitempty"`
	MaxIterations int               `json:"max_iterations,omitempty"`
	Tools         []string          `json:"tools,omitempty"`
	Time          time.Time         `json:"time"`
}

// ProgressSink receives progress events during a run.
// Implementations should be fast and must be safe to call from multiple
// goroutines, since delegated sub-runs share their parent's sink.
type ProgressSink interface {
	Emit(ctx context.Context, e ProgressEvent)
}

// ProgressFunc adapts a function to the ProgressSink interface.
type ProgressFunc func(ctx context.Context, e ProgressEvent)

// Emit calls f.
func (f ProgressFunc) Emit(ctx context.Context, e ProgressEvent) {
	if f != nil {
		f(ctx, e)
	}
}

// ChanSink sends events to a channel without blocking when the channel is full.
type ChanSink struct {
	ch chan<- ProgressEvent
}

// NewChanSink creates a sink that sends to a channel.
// The channel should be buffered to avoid dropping events.
func NewChanSink(ch chan<- ProgressEvent) *ChanSink {
	return &ChanSink{ch: ch}
}

// Emit sends the event to the channel (non-blocking if full or context cancelled).
func (s *ChanSink) Emit(ctx context.Context, e ProgressEvent) {
	select {
	case s.ch <- e:
	case <-ctx.Done():
	default:
		// Channel full - drop event rather than block
	}
}

// MultiSink fans events out to several sinks in order. A panicking sink is
// logged and skipped.
type MultiSink struct {
	sinks  []ProgressSink
	logger *slog.Logger
}

// NewMultiSink creates a fan-out sink. Nil sinks are filtered out.
func NewMultiSink(sinks ...ProgressSink) *MultiSink {
	filtered := make([]ProgressSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &MultiSink{sinks: filtered, logger: slog.Default()}
}

// Emit dispatches the event to all sinks.
func (s *MultiSink) Emit(ctx context.Context, e ProgressEvent) {
	for _, sink := range s.sinks {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					s.logger.Error("progress sink panicked", "event", e.Type, "panic", rec)
				}
			}()
			sink.Emit(ctx, e)
		}()
	}
}

// Len returns the number of wrapped sinks.
func (s *MultiSink) Len() int {
	return len(s.sinks)
}

// AgentSink tags every event with an agent name before forwarding it.
type AgentSink struct {
	Agent string
	Next  ProgressSink
}

// Emit forwards the tagged event.
func (s AgentSink) Emit(ctx context.Context, e ProgressEvent) {
	if s.Next == nil {
		return
	}
	if e.Agent == "" {
		e.Agent = s.Agent
	}
	s.Next.Emit(ctx, e)
}

// NopSink discards all events.
type NopSink struct{}

// Emit does nothing.
func (NopSink) Emit(ctx context.Context, e ProgressEvent) {}
