package events

import (
	"context"
	"sync"
)

// Logger is the minimal logging surface the emitters need.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

// LogEmitter writes events to the structured log. Useful on its own in
// tests and CLIs, and as the fallback leg of a Multi.
type LogEmitter struct {
	logger Logger
}

func NewLogEmitter(logger Logger) *LogEmitter {
	return &LogEmitter{logger: logger}
}

func (l *LogEmitter) Emit(_ context.Context, e Event) {
	l.logger.Debug("execution event",
		"channel", e.Channel,
		"kind", string(e.Kind),
		"ts", e.Timestamp,
	)
}

// BufferEmitter collects events in memory. Tests use it to assert on
// ordering and payloads without a broker.
type BufferEmitter struct {
	mu     sync.Mutex
	events []Event
}

func NewBufferEmitter() *BufferEmitter {
	return &BufferEmitter{}
}

func (b *BufferEmitter) Emit(_ context.Context, e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

// Events returns a copy of everything emitted so far.
func (b *BufferEmitter) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// Kinds returns the emitted kinds in order.
func (b *BufferEmitter) Kinds() []Kind {
	b.mu.Lock()
	defer b.mu.Unlock()
	kinds := make([]Kind, len(b.events))
	for i, e := range b.events {
		kinds[i] = e.Kind
	}
	return kinds
}

// Last returns the most recent event of the given kind, if any.
func (b *BufferEmitter) Last(kind Kind) (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.events) - 1; i >= 0; i-- {
		if b.events[i].Kind == kind {
			return b.events[i], true
		}
	}
	return Event{}, false
}

// MultiEmitter fans one event out to several emitters in order.
type MultiEmitter struct {
	emitters []Emitter
}

func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	return &MultiEmitter{emitters: emitters}
}

func (m *MultiEmitter) Emit(ctx context.Context, e Event) {
	for _, em := range m.emitters {
		em.Emit(ctx, e)
	}
}
