package exporters

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/smazurov/camss/internal/events"
	"github.com/smazurov/camss/internal/metrics"
)

// DefaultInterval is how often line counters are published.
const DefaultInterval = time.Second

// EventPublisher interface for publishing events.
type EventPublisher interface {
	Publish(ev events.Event)
}

// SSEExporter publishes line counters as events for SSE clients.
type SSEExporter struct {
	eventBus EventPublisher
	interval time.Duration
	mu       sync.Mutex
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewSSEExporter creates a new SSE exporter.
func NewSSEExporter(eventBus EventPublisher, interval time.Duration) *SSEExporter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &SSEExporter{
		eventBus: eventBus,
		interval: interval,
	}
}

// Start begins the export loop.
func (s *SSEExporter) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop stops the exporter and waits for the goroutine to finish.
func (s *SSEExporter) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *SSEExporter) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.publish()
		}
	}
}

func (s *SSEExporter) publish() {
	all := metrics.GetAllLineCounters()
	lines := make([]string, 0, len(all))
	for line := range all {
		lines = append(lines, line)
	}
	sort.Strings(lines)

	now := time.Now().Format(time.RFC3339)
	for _, line := range lines {
		c := all[line]
		s.eventBus.Publish(events.LineStatsEvent{
			Line:         line,
			Done:         c.Done,
			Errored:      c.Errored,
			Queued:       c.Queued,
			LastSequence: c.LastSequence,
			Faults:       c.Faults,
			Timestamp:    now,
		})
	}
}
