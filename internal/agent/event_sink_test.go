package agent

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestChanSink_Emit(t *testing.T) {
	ch := make(chan ProgressEvent, 10)
	sink := NewChanSink(ch)

	sink.Emit(context.Background(), ProgressEvent{Type: EventIteration, RunID: "test"})

	select {
	case received := <-ch:
		if received.RunID != "test" {
			t.Errorf("RunID = %q, want %q", received.RunID, "test")
		}
	default:
		t.Error("expected event in channel")
	}
}

func TestChanSink_FullChannel(t *testing.T) {
	ch := make(chan ProgressEvent, 1)
	sink := NewChanSink(ch)

	sink.Emit(context.Background(), ProgressEvent{RunID: "first"})

	done := make(chan struct{})
	go func() {
		sink.Emit(context.Background(), ProgressEvent{RunID: "second"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full channel")
	}

	if got := <-ch; got.RunID != "first" {
		t.Errorf("RunID = %q, want first", got.RunID)
	}
}

func TestMultiSink_FanOutAndPanicIsolation(t *testing.T) {
	var mu sync.Mutex
	var got []string

	record := func(tag string) ProgressSink {
		return ProgressFunc(func(ctx context.Context, e ProgressEvent) {
			mu.Lock()
			got = append(got, tag+":"+string(e.Type))
			mu.Unlock()
		})
	}
	panicky := ProgressFunc(func(ctx context.Context, e ProgressEvent) {
		panic("boom")
	})

	sink := NewMultiSink(record("a"), nil, panicky, record("b"))
	if sink.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", sink.Len())
	}

	sink.Emit(context.Background(), ProgressEvent{Type: EventToolCalls})

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != "a:tool_calls" || got[1] != "b:tool_calls" {
		t.Errorf("got %v", got)
	}
}

func TestAgentSink_TagsEvents(t *testing.T) {
	var last ProgressEvent
	sink := AgentSink{Agent: "researcher", Next: ProgressFunc(func(ctx context.Context, e ProgressEvent) {
		last = e
	})}

	sink.Emit(context.Background(), ProgressEvent{Type: EventIteration})
	if last.Agent != "researcher" {
		t.Errorf("Agent = %q, want researcher", last.Agent)
	}

	sink.Emit(context.Background(), ProgressEvent{Type: EventIteration, Agent: "child"})
	if last.Agent != "child" {
		t.Errorf("Agent = %q, want existing tag preserved", last.Agent)
	}

	// Nil next is a no-op.
	AgentSink{Agent: "x"}.Emit(context.Background(), ProgressEvent{})
}

func TestNopSink(t *testing.T) {
	NopSink{}.Emit(context.Background(), ProgressEvent{Type: EventMaxIterations})
	var f ProgressFunc
	f.Emit(context.Background(), ProgressEvent{})
}
