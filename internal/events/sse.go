package events

import "github.com/kelindar/event"

// LineEvent is implemented by events that concern a single capture line.
type LineEvent interface {
	Event
	LineName() string
}

// Filter decides whether an event reaches a channel subscriber.
type Filter func(Event) bool

// ForLine keeps events of line. Events not tied to a line, such as engine
// dummy buffer changes, always pass. An empty line keeps everything.
func ForLine(line string) Filter {
	return func(e Event) bool {
		if line == "" {
			return true
		}
		le, ok := e.(LineEvent)
		return !ok || le.LineName() == line
	}
}

// SubscribeToChannel forwards events of type T that pass every filter to ch,
// for the SSE select loop. Events are dropped when ch is full so a slow
// client never stalls the capture path.
func SubscribeToChannel[T Event](bus *Bus, ch chan<- any, filters ...Filter) func() {
	return event.Subscribe(bus.dispatcher, func(e T) {
		for _, keep := range filters {
			if !keep(e) {
				return
			}
		}
		select {
		case ch <- e:
		default:
		}
	})
}
