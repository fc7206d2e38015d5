package vigil

import (
	"log/slog"
	"sync"
	"time"
)

// EventKind enumerates broadcast event types.
type EventKind string

const (
	EventLog          EventKind = "log"
	EventStatus       EventKind = "status"
	EventRound        EventKind = "round"
	EventThought      EventKind = "thought"
	EventThoughtChunk EventKind = "thought_chunk"
	EventThoughtDone  EventKind = "thought_done"
	EventLoading      EventKind = "loading"
	EventToolCall     EventKind = "tool_call"
	EventToolResult   EventKind = "tool_result"
)

// Envelope is the wire format delivered to subscribers.
type Envelope struct {
	Type      EventKind      `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp"` // UTC, RFC 3339
}

// Subscriber is one live consumer of broadcast events, owning a bounded
// queue of pending envelopes. Created by Bus.Subscribe, never revived
// after removal: a closed Events channel means the subscription is over.
type Subscriber struct {
	id  string
	ch  chan Envelope
	bus *Bus
}

// Events returns the subscriber's delivery channel. Closed on removal.
func (s *Subscriber) Events() <-chan Envelope { return s.ch }

// Close detaches the subscriber from the bus.
func (s *Subscriber) Close() { s.bus.remove(s.id) }

// Bus is an ordered fan-out channel for lifecycle events. Ordered
// events block the producer per subscriber (bounded by sendTimeout, a
// slow consumer is dropped); high-frequency events (thought_chunk,
// loading) are fire-and-forget and may be coalesced or lost. New
// subscribers receive only events emitted after they join.
type Bus struct {
	mu     sync.Mutex
	subs   map[string]*Subscriber
	logger *slog.Logger

	queueSize   int
	sendTimeout time.Duration
}

// NewBus creates a broadcast bus. logger may be nil.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Bus{
		subs:        make(map[string]*Subscriber),
		logger:      logger,
		queueSize:   64,
		sendTimeout: 5 * time.Second,
	}
}

// Subscribe attaches a new consumer.
func (b *Bus) Subscribe() *Subscriber {
	s := &Subscriber{id: NewID(), ch: make(chan Envelope, b.queueSize), bus: b}
	b.mu.Lock()
	b.subs[s.id] = s
	b.mu.Unlock()
	return s
}

// SubscriberCount returns the number of attached consumers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Bus) remove(id string) {
	b.mu.Lock()
	s, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		close(s.ch)
	}
}

func (b *Bus) snapshot() []*Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		out = append(out, s)
	}
	return out
}

func newEnvelope(kind EventKind, data map[string]any) Envelope {
	return Envelope{
		Type:      kind,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// Publish delivers an ordered event. The call returns once every
// subscriber has accepted the envelope or been dropped for not keeping
// up within the send timeout. This preserves per-subscriber ordering
// and the natural pacing of the round.
func (b *Bus) Publish(kind EventKind, data map[string]any) {
	env := newEnvelope(kind, data)
	for _, s := range b.snapshot() {
		select {
		case s.ch <- env:
		default:
			timer := time.NewTimer(b.sendTimeout)
			select {
			case s.ch <- env:
				timer.Stop()
			case <-timer.C:
				b.logger.Warn("dropping slow subscriber", "subscriber", s.id, "event", string(kind))
				b.remove(s.id)
			}
		}
	}
}

// PublishAsync delivers a high-frequency event without waiting. A full
// subscriber queue drops the envelope; ordered events are unaffected.
func (b *Bus) PublishAsync(kind EventKind, data map[string]any) {
	env := newEnvelope(kind, data)
	for _, s := range b.snapshot() {
		select {
		case s.ch <- env:
		default:
		}
	}
}

// --- Convenience emitters (envelope shapes from the console protocol) ---

func (b *Bus) Log(text string) {
	b.Publish(EventLog, map[string]any{"text": text})
}

func (b *Bus) Status(state State, message string) {
	data := map[string]any{"status": string(state)}
	if message != "" {
		data["message"] = message
	}
	b.Publish(EventStatus, data)
}

func (b *Bus) Round(step int, event string, details map[string]any) {
	data := map[string]any{"step": step, "event": event}
	for k, v := range details {
		data[k] = v
	}
	b.Publish(EventRound, data)
}

func (b *Bus) Thought(text string) {
	b.Publish(EventThought, map[string]any{"text": text})
}

func (b *Bus) ThoughtChunk(text string) {
	b.PublishAsync(EventThoughtChunk, map[string]any{"text": text})
}

func (b *Bus) ThoughtDone(text string) {
	b.Publish(EventThoughtDone, map[string]any{"text": text})
}

func (b *Bus) Loading(message string) {
	b.PublishAsync(EventLoading, map[string]any{"message": message})
}

func (b *Bus) ToolCallEvent(name string, args string) {
	b.Publish(EventToolCall, map[string]any{"name": name, "arguments": args})
}

func (b *Bus) ToolResultEvent(name string, result string) {
	b.Publish(EventToolResult, map[string]any{"name": name, "result": result})
}
