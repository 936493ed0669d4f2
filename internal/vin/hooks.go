package vin

// Fault names a condition absorbed by the pipeline.
type Fault string

// Faults.
const (
	FaultMissingReady Fault = "missing-ready" // both slots empty on buffer change, dropped
	FaultRecovered    Fault = "recovered"     // active slot empty, other slot used
	FaultUnderflow    Fault = "underflow"     // engine reported a write underflow
	FaultNoDummy      Fault = "no-dummy"      // streaming without dummy memory
)

// Hooks are optional callbacks fired on pipeline activity. They run without
// the output lock held, on the interrupt path for buffer and fault events.
type Hooks struct {
	// OnBufferDone is called for every buffer handed back to the consumer.
	OnBufferDone func(line string, b *Buffer)

	// OnStateChange is called when a line's output state changes.
	OnStateChange func(line string, from, to OutputState)

	// OnStreamChange is called on the outermost stream start and stop.
	OnStreamChange func(line string, streaming bool)

	// OnDummyChange is called when dummy memory is allocated or freed.
	OnDummyChange func(engine string, allocated bool, bytes int)

	// OnFault is called for absorbed hardware inconsistencies.
	OnFault func(line string, fault Fault)
}

func (h Hooks) bufferDone(line string, b *Buffer) {
	if h.OnBufferDone != nil {
		h.OnBufferDone(line, b)
	}
}

func (h Hooks) stateChange(line string, from, to OutputState) {
	if h.OnStateChange != nil {
		h.OnStateChange(line, from, to)
	}
}

func (h Hooks) streamChange(line string, streaming bool) {
	if h.OnStreamChange != nil {
		h.OnStreamChange(line, streaming)
	}
}

func (h Hooks) dummyChange(engine string, allocated bool, bytes int) {
	if h.OnDummyChange != nil {
		h.OnDummyChange(engine, allocated, bytes)
	}
}

func (h Hooks) fault(line string, f Fault) {
	if h.OnFault != nil {
		h.OnFault(line, f)
	}
}
