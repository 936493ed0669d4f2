package models

// OutputData is the state of a line's frame output.
type OutputData struct {
	State    string `json:"state" example:"single" enum:"off,reserved,idle,single,continuous,stopping" doc:"Output state"`
	Active   int    `json:"active" example:"0" doc:"Slot the engine is writing"`
	Slots    [2]int `json:"slots" doc:"Consumer buffer index per slot, -1 when empty"`
	Pending  int    `json:"pending" example:"2" doc:"Buffers queued but not yet installed"`
	Ready    int    `json:"ready" example:"0" doc:"Completed buffers awaiting delivery"`
	HasLast  bool   `json:"has_last" example:"false" doc:"Whether the engine is rewriting the last buffer"`
	Sequence uint32 `json:"sequence" example:"42" doc:"Next frame sequence number"`
	Session  string `json:"session,omitempty" example:"0d4f3a6e-5b8c-4f0e-9d2a-1c7b6e5f4a3b" doc:"Stream session identifier"`
}

// CaptureData summarises the capture session running on a line.
type CaptureData struct {
	Buffers      int    `json:"buffers" example:"3" doc:"Buffers cycled by the session"`
	Delivered    uint64 `json:"delivered" example:"300" doc:"Frames delivered"`
	Errored      uint64 `json:"errored" example:"0" doc:"Buffers returned with an error"`
	Requeued     uint64 `json:"requeued" example:"297" doc:"Buffers handed back to the line"`
	Gaps         uint64 `json:"gaps" example:"0" doc:"Sequence discontinuities seen"`
	LastSequence uint32 `json:"last_sequence" example:"299" doc:"Sequence of the last frame"`
	Started      string `json:"started" example:"2025-01-27T10:30:00Z" doc:"Session start time"`
}

// CountersData holds the lifetime counters of a line.
type CountersData struct {
	Done         uint64            `json:"done" example:"300" doc:"Buffers delivered with a frame"`
	Errored      uint64            `json:"errored" example:"3" doc:"Buffers returned with an error"`
	Queued       uint64            `json:"queued" example:"0" doc:"Buffers returned unused"`
	LastSequence uint32            `json:"last_sequence" example:"299" doc:"Sequence of the last completed frame"`
	Faults       map[string]uint64 `json:"faults,omitempty" doc:"Absorbed faults by kind"`
}

// LineData is the status of one line.
type LineData struct {
	ID            int           `json:"id" example:"0" doc:"Line identifier"`
	Name          string        `json:"name" example:"wr" doc:"Line name"`
	Engine        string        `json:"engine" example:"vin" doc:"Capture engine"`
	Channel       string        `json:"channel" example:"raw" doc:"Hardware channel"`
	Layout        string        `json:"layout" example:"raw" enum:"raw,yuv" doc:"Memory layout"`
	Width         int           `json:"width" example:"1920" doc:"Active format width"`
	Height        int           `json:"height" example:"1080" doc:"Active format height"`
	Code          string        `json:"code,omitempty" example:"SRGGB10" doc:"Active format code"`
	StreamCount   int           `json:"stream_count" example:"1" doc:"Stream references held"`
	PowerCount    int           `json:"power_count" example:"1" doc:"Power references held"`
	EngineStreams int           `json:"engine_streams" example:"1" doc:"Streams open on the engine"`
	Attached      bool          `json:"attached" example:"true" doc:"Whether a consumer is attached"`
	Output        OutputData    `json:"output" doc:"Frame output state"`
	Capture       *CaptureData  `json:"capture,omitempty" doc:"Running capture session, if any"`
	Counters      *CountersData `json:"counters,omitempty" doc:"Lifetime counters"`
}

type LineRequest struct {
	Name string `path:"name" example:"wr" doc:"Line name"`
}

type LineResponse struct {
	Body LineData
}

type LineListData struct {
	Lines []LineData `json:"lines" doc:"All lines in topology order"`
	Count int        `json:"count" example:"2" doc:"Number of lines"`
}

type LineListResponse struct {
	Body LineListData
}

// StreamRequestData starts or stops capture on a line.
type StreamRequestData struct {
	Enable  bool `json:"enable" example:"true" doc:"Start (true) or stop (false) capture"`
	Buffers int  `json:"buffers,omitempty" minimum:"0" maximum:"32" example:"3" doc:"DMA buffers to cycle, 0 for the default"`
	HoldMs  int  `json:"hold_ms,omitempty" minimum:"0" maximum:"60000" example:"0" doc:"Delay before a completed buffer is requeued"`
}

type StreamRequest struct {
	Name string `path:"name" example:"wr" doc:"Line name"`
	Body StreamRequestData
}

type StreamResponseData struct {
	Line    string       `json:"line" example:"wr" doc:"Line name"`
	Enabled bool         `json:"enabled" example:"true" doc:"Whether capture is running"`
	Session string       `json:"session,omitempty" example:"0d4f3a6e-5b8c-4f0e-9d2a-1c7b6e5f4a3b" doc:"Stream session identifier"`
	Capture *CaptureData `json:"capture,omitempty" doc:"Session counters; final values when stopping"`
}

type StreamResponse struct {
	Body StreamResponseData
}

// FlushRequestData returns the queued buffers of a line.
type FlushRequestData struct {
	Outcome string `json:"outcome,omitempty" example:"error" enum:"error,queued" default:"error" doc:"Outcome reported for flushed buffers"`
}

type FlushRequest struct {
	Name string `path:"name" example:"wr" doc:"Line name"`
	Body FlushRequestData
}

type FlushResponse struct {
	Body struct {
		Line    string `json:"line" example:"wr" doc:"Line name"`
		Flushed int    `json:"flushed" example:"3" doc:"Buffers returned"`
	}
}
