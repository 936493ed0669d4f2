package events

import (
	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers of its concrete type.
// Usage: bus.Publish(BufferDoneEvent{...})
func (b *Bus) Publish(ev Event) {
	switch e := ev.(type) {
	case BufferDoneEvent:
		event.Publish(b.dispatcher, e)
	case OutputStateChangedEvent:
		event.Publish(b.dispatcher, e)
	case StreamStateChangedEvent:
		event.Publish(b.dispatcher, e)
	case DummyBufferEvent:
		event.Publish(b.dispatcher, e)
	case LineFaultEvent:
		event.Publish(b.dispatcher, e)
	case CaptureSessionEvent:
		event.Publish(b.dispatcher, e)
	case LogEntryEvent:
		event.Publish(b.dispatcher, e)
	case LineStatsEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function.
// The handler's parameter type selects the events it receives.
// Returns an unsubscribe function; unknown handler types get a no-op.
// Usage: unsub := bus.Subscribe(func(e LineFaultEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(BufferDoneEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(OutputStateChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(StreamStateChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(DummyBufferEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(LineFaultEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(CaptureSessionEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(LogEntryEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(LineStatsEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}
