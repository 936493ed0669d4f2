package led

import (
	"log/slog"
	"sync"

	"github.com/smazurov/camss/internal/events"
)

// Subscriber is the part of the event bus the indicator uses.
type Subscriber interface {
	Subscribe(handler any) func()
}

// Indicator shows aggregate capture state on one LED: off while nothing
// streams, on while any line streams, blinking once a streaming line
// reported a fault. A line's fault clears when it stops streaming.
type Indicator struct {
	controller Controller
	bus        Subscriber
	led        string
	logger     *slog.Logger

	mu        sync.Mutex
	streaming map[string]bool
	faulted   map[string]bool
	state     State
	unsubs    []func()
}

// NewIndicator creates an indicator driving led on controller.
func NewIndicator(controller Controller, bus Subscriber, led string, logger *slog.Logger) *Indicator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indicator{
		controller: controller,
		bus:        bus,
		led:        led,
		logger:     logger,
		streaming:  make(map[string]bool),
		faulted:    make(map[string]bool),
	}
}

// Start switches the LED off and begins following pipeline events.
func (i *Indicator) Start() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.unsubs != nil {
		return
	}
	i.unsubs = []func(){
		i.bus.Subscribe(func(e events.StreamStateChangedEvent) { i.onStream(e) }),
		i.bus.Subscribe(func(e events.LineFaultEvent) { i.onFault(e) }),
	}
	i.applyLocked(Off)
	i.logger.Info("LED indicator started", "led", i.led)
}

// Stop unsubscribes and switches the LED off.
func (i *Indicator) Stop() {
	i.mu.Lock()
	unsubs := i.unsubs
	i.unsubs = nil
	i.mu.Unlock()

	// Handlers take mu, so unsubscribe without it.
	for _, unsub := range unsubs {
		unsub()
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.streaming = make(map[string]bool)
	i.faulted = make(map[string]bool)
	i.applyLocked(Off)
	i.logger.Info("LED indicator stopped")
}

// State returns what the LED currently shows.
func (i *Indicator) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

func (i *Indicator) onStream(e events.StreamStateChangedEvent) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if e.Streaming {
		i.streaming[e.Line] = true
	} else {
		delete(i.streaming, e.Line)
		delete(i.faulted, e.Line)
	}
	i.updateLocked()
}

func (i *Indicator) onFault(e events.LineFaultEvent) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.streaming[e.Line] {
		return
	}
	i.faulted[e.Line] = true
	i.updateLocked()
}

func (i *Indicator) updateLocked() {
	switch {
	case len(i.faulted) > 0:
		i.applyLocked(Blink)
	case len(i.streaming) > 0:
		i.applyLocked(On)
	default:
		i.applyLocked(Off)
	}
}

func (i *Indicator) applyLocked(state State) {
	if state == i.state {
		return
	}
	if err := i.controller.Set(i.led, state); err != nil {
		i.logger.Warn("Failed to set LED", "led", i.led, "state", state, "error", err)
		return
	}
	i.logger.Debug("LED state changed", "led", i.led, "from", i.state, "to", state)
	i.state = state
}
