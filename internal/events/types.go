package events

// Event type constants for kelindar/event.
const (
	TypeBufferDone uint32 = iota + 1
	TypeOutputStateChanged
	TypeStreamStateChanged
	TypeDummyBuffer
	TypeLineFault
	TypeCaptureSession
	TypeLogEntry
	TypeLineStats
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// BufferDoneEvent is published for every buffer handed back to a consumer.
type BufferDoneEvent struct {
	Line        string `json:"line" example:"wr" doc:"Capture line name"`
	Index       int    `json:"index" example:"0" doc:"Consumer buffer index"`
	Sequence    uint32 `json:"sequence" example:"42" doc:"Frame sequence within the stream session"`
	Outcome     string `json:"outcome" example:"done" enum:"done,error,queued" doc:"Delivery outcome"`
	TimestampNs int64  `json:"timestamp_ns" example:"1500000000" doc:"Monotonic capture timestamp in nanoseconds"`
	Timestamp   string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for BufferDoneEvent.
func (e BufferDoneEvent) Type() uint32 { return TypeBufferDone }

func (e BufferDoneEvent) LineName() string { return e.Line }

// OutputStateChangedEvent is published when a line's output changes state.
type OutputStateChangedEvent struct {
	Line      string `json:"line" example:"wr" doc:"Capture line name"`
	From      string `json:"from" example:"idle" doc:"Previous output state"`
	To        string `json:"to" example:"single" doc:"New output state"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for OutputStateChangedEvent.
func (e OutputStateChangedEvent) Type() uint32 { return TypeOutputStateChanged }

func (e OutputStateChangedEvent) LineName() string { return e.Line }

// StreamStateChangedEvent is published on the outermost stream start and stop
// of a line.
type StreamStateChangedEvent struct {
	Line      string `json:"line" example:"wr" doc:"Capture line name"`
	Streaming bool   `json:"streaming" example:"true" doc:"Whether the line is streaming"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for StreamStateChangedEvent.
func (e StreamStateChangedEvent) Type() uint32 { return TypeStreamStateChanged }

func (e StreamStateChangedEvent) LineName() string { return e.Line }

// DummyBufferEvent is published when an engine's dummy memory is allocated
// or freed.
type DummyBufferEvent struct {
	Engine    string `json:"engine" example:"vin" doc:"Capture engine"`
	Allocated bool   `json:"allocated" example:"true" doc:"True on allocation, false on free"`
	Bytes     int    `json:"bytes" example:"1228800" doc:"Bytes allocated or freed"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for DummyBufferEvent.
func (e DummyBufferEvent) Type() uint32 { return TypeDummyBuffer }

// LineFaultEvent is published for hardware inconsistencies the pipeline
// absorbed.
type LineFaultEvent struct {
	Line      string `json:"line" example:"wr" doc:"Capture line name"`
	Fault     string `json:"fault" example:"underflow" enum:"missing-ready,recovered,underflow,no-dummy" doc:"Fault kind"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for LineFaultEvent.
func (e LineFaultEvent) Type() uint32 { return TypeLineFault }

func (e LineFaultEvent) LineName() string { return e.Line }

// CaptureSessionEvent is published when a capture session starts or stops.
type CaptureSessionEvent struct {
	Line      string `json:"line" example:"wr" doc:"Capture line name"`
	Session   string `json:"session" example:"0d4f3a6e-5b8c-4f0e-9d2a-1c7b6e5f4a3b" doc:"Stream session identifier"`
	Action    string `json:"action" example:"started" enum:"started,stopped" doc:"Action type"`
	Buffers   int    `json:"buffers" example:"3" doc:"Buffers cycled by the session"`
	Delivered uint64 `json:"delivered" example:"300" doc:"Frames delivered so far"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CaptureSessionEvent.
func (e CaptureSessionEvent) Type() uint32 { return TypeCaptureSession }

func (e CaptureSessionEvent) LineName() string { return e.Line }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"vin" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }

// LineStatsEvent is published periodically with the counters of each line.
type LineStatsEvent struct {
	Line         string            `json:"line" example:"wr" doc:"Capture line name"`
	Done         uint64            `json:"done" example:"300" doc:"Buffers delivered with a frame"`
	Errored      uint64            `json:"errored" example:"3" doc:"Buffers returned with an error"`
	Queued       uint64            `json:"queued" example:"0" doc:"Buffers returned unused"`
	LastSequence uint32            `json:"last_sequence" example:"299" doc:"Sequence of the last completed frame"`
	Faults       map[string]uint64 `json:"faults" doc:"Absorbed faults by kind"`
	Timestamp    string            `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for LineStatsEvent.
func (e LineStatsEvent) Type() uint32 { return TypeLineStats }

func (e LineStatsEvent) LineName() string { return e.Line }
