// Package metrics provides Prometheus metrics for the capture pipeline.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "camss"

var (
	buffersDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "vin",
		Name:      "buffers_delivered_total",
		Help:      "Buffers handed back to consumers, by outcome",
	}, []string{"line", "outcome"})

	lastSequence = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "vin",
		Name:      "last_sequence",
		Help:      "Sequence number of the last completed frame",
	}, []string{"line"})

	stateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "vin",
		Name:      "state_transitions_total",
		Help:      "Output state machine transitions",
	}, []string{"line", "from", "to"})

	streaming = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "vin",
		Name:      "streaming",
		Help:      "1 while the line is streaming",
	}, []string{"line"})

	faults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "vin",
		Name:      "faults_total",
		Help:      "Absorbed hardware inconsistencies",
	}, []string{"line", "fault"})

	dummyBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "vin",
		Name:      "dummy_buffer_bytes",
		Help:      "Dummy buffer memory held by the engine",
	}, []string{"engine"})

	// Local cache for API access without scraping the registry.
	lineCache   = make(map[string]*LineCounters)
	lineCacheMu sync.RWMutex
)

// LineCounters holds the current counter values of a line.
type LineCounters struct {
	Done         uint64
	Errored      uint64
	Queued       uint64
	LastSequence uint32
	Faults       map[string]uint64
}

// ObserveBuffer records a delivered buffer.
func ObserveBuffer(line, outcome string, sequence uint32) {
	buffersDelivered.WithLabelValues(line, outcome).Inc()
	if outcome == "done" {
		lastSequence.WithLabelValues(line).Set(float64(sequence))
	}
	updateCache(line, func(c *LineCounters) {
		switch outcome {
		case "done":
			c.Done++
			c.LastSequence = sequence
		case "error":
			c.Errored++
		case "queued":
			c.Queued++
		}
	})
}

// ObserveTransition records an output state change.
func ObserveTransition(line, from, to string) {
	stateTransitions.WithLabelValues(line, from, to).Inc()
}

// SetStreaming records whether a line streams.
func SetStreaming(line string, on bool) {
	v := 0.0
	if on {
		v = 1
	}
	streaming.WithLabelValues(line).Set(v)
}

// ObserveFault records an absorbed fault.
func ObserveFault(line, fault string) {
	faults.WithLabelValues(line, fault).Inc()
	updateCache(line, func(c *LineCounters) { c.Faults[fault]++ })
}

// AddDummyBytes adjusts the dummy memory held by an engine.
func AddDummyBytes(engine string, delta int) {
	dummyBytes.WithLabelValues(engine).Add(float64(delta))
}

// GetLineCounters returns a copy of the cached counters for line, or nil.
func GetLineCounters(line string) *LineCounters {
	lineCacheMu.RLock()
	defer lineCacheMu.RUnlock()
	c, ok := lineCache[line]
	if !ok {
		return nil
	}
	cp := *c
	cp.Faults = make(map[string]uint64, len(c.Faults))
	for k, v := range c.Faults {
		cp.Faults[k] = v
	}
	return &cp
}

// GetAllLineCounters returns a copy of the cached counters of every line.
func GetAllLineCounters() map[string]*LineCounters {
	lineCacheMu.RLock()
	names := make([]string, 0, len(lineCache))
	for name := range lineCache {
		names = append(names, name)
	}
	lineCacheMu.RUnlock()

	result := make(map[string]*LineCounters, len(names))
	for _, name := range names {
		if c := GetLineCounters(name); c != nil {
			result[name] = c
		}
	}
	return result
}

// DeleteLineMetrics removes every series of line.
func DeleteLineMetrics(line string) {
	buffersDelivered.DeletePartialMatch(prometheus.Labels{"line": line})
	stateTransitions.DeletePartialMatch(prometheus.Labels{"line": line})
	faults.DeletePartialMatch(prometheus.Labels{"line": line})
	lastSequence.DeleteLabelValues(line)
	streaming.DeleteLabelValues(line)

	lineCacheMu.Lock()
	delete(lineCache, line)
	lineCacheMu.Unlock()
}

func updateCache(line string, fn func(*LineCounters)) {
	lineCacheMu.Lock()
	defer lineCacheMu.Unlock()
	c, ok := lineCache[line]
	if !ok {
		c = &LineCounters{Faults: make(map[string]uint64)}
		lineCache[line] = c
	}
	fn(c)
}
