package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/camss/internal/events"
)

// sseBuffer is the per-connection backlog; slow clients drop events.
const sseBuffer = 64

// EventsRequest narrows the event stream.
type EventsRequest struct {
	Line string `query:"line" doc:"Only events of this line, plus engine-wide events"`
}

// ConnectedEvent is sent once when an event stream opens.
type ConnectedEvent struct {
	Lines     []string `json:"lines" doc:"Capture lines known to the pipeline"`
	Timestamp string   `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Connection time"`
}

func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time pipeline events: output state, streaming, dummy buffers, faults, capture sessions and line statistics",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"connected":            ConnectedEvent{},
		"buffer-done":          events.BufferDoneEvent{},
		"output-state-changed": events.OutputStateChangedEvent{},
		"stream-state-changed": events.StreamStateChangedEvent{},
		"dummy-buffer":         events.DummyBufferEvent{},
		"line-fault":           events.LineFaultEvent{},
		"capture-session":      events.CaptureSessionEvent{},
		"line-stats":           events.LineStatsEvent{},
	}, func(ctx context.Context, input *EventsRequest, send sse.Sender) {
		eventCh := make(chan any, sseBuffer)
		only := events.ForLine(input.Line)

		unsubscribers := []func(){
			events.SubscribeToChannel[events.BufferDoneEvent](s.eventBus, eventCh, only),
			events.SubscribeToChannel[events.OutputStateChangedEvent](s.eventBus, eventCh, only),
			events.SubscribeToChannel[events.StreamStateChangedEvent](s.eventBus, eventCh, only),
			events.SubscribeToChannel[events.DummyBufferEvent](s.eventBus, eventCh, only),
			events.SubscribeToChannel[events.LineFaultEvent](s.eventBus, eventCh, only),
			events.SubscribeToChannel[events.CaptureSessionEvent](s.eventBus, eventCh, only),
			events.SubscribeToChannel[events.LineStatsEvent](s.eventBus, eventCh, only),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		hello := ConnectedEvent{Timestamp: time.Now().Format(time.RFC3339)}
		for _, l := range s.device.Lines() {
			hello.Lines = append(hello.Lines, l.Name)
		}
		if err := send.Data(hello); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
