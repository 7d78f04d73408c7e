// Package events is an in-process publish/subscribe bus for dispatcher
// lifecycle events. Publishing never blocks and a nil *Bus accepts
// publishes as no-ops, so components publish unconditionally.
package events

import (
	"sync"
	"time"
)

// Sources.
const (
	SourceDispatch = "dispatch"
	SourceListener = "listener"
	SourceIndex    = "index"
)

// Kinds published by the dispatcher. Data keys are listed per kind.
const (
	// KindRequestStart: request_id, transcript, discovery.
	KindRequestStart = "request_start"
	// KindLLMCall: request_id, provider, tools.
	KindLLMCall = "llm_call"
	// KindLLMResponse: request_id, provider, response, tokens_in, tokens_out, elapsed_ms.
	KindLLMResponse = "llm_response"
	// KindToolCall: request_id, tool, risk_level.
	KindToolCall = "tool_call"
	// KindToolDone: request_id, tool, status, exit_code, elapsed_ms.
	KindToolDone = "tool_done"
	// KindRequestComplete: request_id, response, ok, elapsed_ms.
	KindRequestComplete = "request_complete"
)

// Kinds published by the listener and the script watcher.
const (
	// KindConnected: url.
	KindConnected = "connected"
	// KindDisconnected: url, error.
	KindDisconnected = "disconnected"
	// KindRebuilt: scripts, tools.
	KindRebuilt = "rebuilt"
)

// Event is one published occurrence.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus broadcasts events to buffered subscriber channels. A subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu   sync.RWMutex
	subs map[<-chan Event]chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[<-chan Event]chan Event)}
}

// Publish delivers e to every subscriber with room for it.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Emit is shorthand for publishing a freshly stamped event.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	b.Publish(Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data})
}

// Subscribe registers a subscriber with the given buffer size. Release
// it with Unsubscribe.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	b.subs[ch] = ch
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscription. Unknown channels are
// ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if send, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(send)
	}
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
