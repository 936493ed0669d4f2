// Package telemetry fans capture pipeline activity out to the event bus and
// Prometheus metrics.
package telemetry

import (
	"time"

	"github.com/smazurov/camss/internal/events"
	"github.com/smazurov/camss/internal/metrics"
	"github.com/smazurov/camss/internal/vin"
)

// Publisher is the subset of the event bus used here.
type Publisher interface {
	Publish(ev events.Event)
}

// Options controls which pipeline activity is forwarded.
type Options struct {
	// BufferEvents publishes an event per delivered buffer. Off by default
	// since it fires once per frame per line.
	BufferEvents bool
}

// Hooks returns pipeline hooks that update metrics and publish to bus.
// bus may be nil to record metrics only.
func Hooks(bus Publisher, opts Options) vin.Hooks {
	publish := func(ev events.Event) {
		if bus != nil {
			bus.Publish(ev)
		}
	}

	return vin.Hooks{
		OnBufferDone: func(line string, b *vin.Buffer) {
			metrics.ObserveBuffer(line, string(b.Outcome), b.Sequence)
			if !opts.BufferEvents {
				return
			}
			publish(events.BufferDoneEvent{
				Line:        line,
				Index:       b.Index,
				Sequence:    b.Sequence,
				Outcome:     string(b.Outcome),
				TimestampNs: b.Timestamp.Nanoseconds(),
				Timestamp:   now(),
			})
		},
		OnStateChange: func(line string, from, to vin.OutputState) {
			metrics.ObserveTransition(line, string(from), string(to))
			publish(events.OutputStateChangedEvent{
				Line:      line,
				From:      string(from),
				To:        string(to),
				Timestamp: now(),
			})
		},
		OnStreamChange: func(line string, streaming bool) {
			metrics.SetStreaming(line, streaming)
			publish(events.StreamStateChangedEvent{
				Line:      line,
				Streaming: streaming,
				Timestamp: now(),
			})
		},
		OnDummyChange: func(engine string, allocated bool, bytes int) {
			delta := bytes
			if !allocated {
				delta = -bytes
			}
			metrics.AddDummyBytes(engine, delta)
			publish(events.DummyBufferEvent{
				Engine:    engine,
				Allocated: allocated,
				Bytes:     bytes,
				Timestamp: now(),
			})
		},
		OnFault: func(line string, fault vin.Fault) {
			metrics.ObserveFault(line, string(fault))
			publish(events.LineFaultEvent{
				Line:      line,
				Fault:     string(fault),
				Timestamp: now(),
			})
		},
	}
}

func now() string {
	return time.Now().Format(time.RFC3339)
}
