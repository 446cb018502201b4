package engine

import (
	"sync"

	"github.com/rs/zerolog"
)

// Event represents a model lifecycle event.
type Event struct {
	Name    string
	ModelID string
	Fields  map[string]any
}

// EventPublisher receives events from the orchestrator. Publish must be
// non-blocking and must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// MemoryPublisher keeps every published event so it can be read back with
// Events.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(e Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// LogPublisher writes events to a logger at debug level.
type LogPublisher struct {
	log zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) LogPublisher {
	return LogPublisher{log: logger.With().Str("component", "events").Logger()}
}

func (p LogPublisher) Publish(e Event) {
	ev := p.log.Debug().Str("event", e.Name).Str("model", e.ModelID)
	if len(e.Fields) > 0 {
		ev = ev.Fields(e.Fields)
	}
	ev.Msg("engine event")
}
