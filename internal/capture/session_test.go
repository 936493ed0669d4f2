package capture

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/camss/internal/events"
	"github.com/smazurov/camss/internal/hw"
	"github.com/smazurov/camss/internal/vin"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testFormats() vin.FormatTable {
	return vin.FormatTable{
		0: {Width: 320, Height: 240},
		1: {Width: 320, Height: 240},
	}
}

func newTestDevice(t *testing.T, sim *hw.Sim) *vin.Device {
	t.Helper()
	topo := vin.Topology{
		Engines: []vin.EngineConfig{{ID: "vin"}, {ID: "isp"}},
		Lines: []vin.LineConfig{
			{ID: 0, Name: "wr", Engine: "vin", Channel: hw.ChannelRaw, Layout: vin.LayoutRaw},
			{ID: 1, Name: "isp0", Engine: "isp", Channel: hw.ChannelYUV, Layout: vin.LayoutYUV},
		},
	}
	d, err := vin.NewDevice(topo, vin.Options{
		Registers: sim,
		Allocator: sim,
		Clock:     sim,
		Formats:   testFormats(),
		Logger:    testLogger(),
	})
	if err != nil {
		t.Fatalf("NewDevice failed: %v", err)
	}
	sim.SetHandler(d)
	return d
}

func TestStart_Validation(t *testing.T) {
	sim := hw.NewSim(hw.SimConfig{Logger: testLogger()})
	d := newTestDevice(t, sim)

	tests := []struct {
		name string
		line string
		opts Options
	}{
		{"too few buffers", "wr", Options{Buffers: 1}},
		{"too many buffers", "wr", Options{Buffers: MaxBuffers + 1}},
		{"negative hold", "wr", Options{Hold: -time.Second}},
		{"unknown line", "csi0", Options{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Start(context.Background(), d, sim, testFormats(), tt.line, tt.opts); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestStart_NoMemory(t *testing.T) {
	sim := hw.NewSim(hw.SimConfig{MemoryBytes: 320 * 240 * 4, Logger: testLogger()})
	d := newTestDevice(t, sim)

	_, err := Start(context.Background(), d, sim, testFormats(), "wr", Options{Buffers: 3, Logger: testLogger()})
	if !errors.Is(err, hw.ErrNoMemory) {
		t.Fatalf("Start error = %v, want ErrNoMemory", err)
	}
	if n, _ := sim.Outstanding(); n != 0 {
		t.Fatalf("outstanding allocations = %d after failed start", n)
	}
	if st := d.Lines()[0].Status(); st.Attached || st.PowerCount != 0 {
		t.Fatalf("line left attached or powered: %+v", st)
	}
}

func TestSession_CyclesBuffers(t *testing.T) {
	sim := hw.NewSim(hw.SimConfig{Logger: testLogger()})
	d := newTestDevice(t, sim)

	s, err := Start(context.Background(), d, sim, testFormats(), "isp0", Options{Buffers: 3, Logger: testLogger()})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 0; i < 20; i++ {
		sim.Frame(hw.ChannelYUV)
	}
	st := s.Stats()
	if st.Delivered != 20 || st.Gaps != 0 || st.LastSequence != 19 {
		t.Fatalf("stats = %+v, want 20 frames without gaps", st)
	}
	if st.Session == "" {
		t.Fatal("session id not recorded")
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	st = s.Stats()
	if st.Errored != 3 {
		t.Fatalf("errored = %d, want the 3 buffers flushed on stop", st.Errored)
	}
	if n, _ := sim.Outstanding(); n != 0 {
		t.Fatalf("outstanding allocations = %d after stop", n)
	}
	if acquires, releases := sim.ClockStats(); acquires != 1 || releases != 1 {
		t.Fatalf("clock acquires=%d releases=%d", acquires, releases)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
}

func TestSession_HoldStarvesLine(t *testing.T) {
	sim := hw.NewSim(hw.SimConfig{Logger: testLogger()})
	d := newTestDevice(t, sim)

	s, err := Start(context.Background(), d, sim, testFormats(), "wr",
		Options{Buffers: 2, Hold: time.Hour, Logger: testLogger()})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		sim.Frame(hw.ChannelRaw)
	}
	if got := s.Stats().Delivered; got != 1 {
		t.Fatalf("delivered = %d, want 1 before the line starves", got)
	}
	if st := d.Lines()[0].Status(); st.Output.State != vin.OutputStopping {
		t.Fatalf("state = %s, want stopping", st.Output.State)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if n, _ := sim.Outstanding(); n != 0 {
		t.Fatalf("outstanding allocations = %d after stop", n)
	}
}

func TestSession_ContextCancelStops(t *testing.T) {
	sim := hw.NewSim(hw.SimConfig{Logger: testLogger()})
	d := newTestDevice(t, sim)
	ctx, cancel := context.WithCancel(context.Background())

	s, err := Start(ctx, d, sim, testFormats(), "wr", Options{Logger: testLogger()})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	cancel()

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop on cancel")
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if d.Lines()[0].Status().StreamCount != 0 {
		t.Fatal("line still streaming")
	}
}

func TestSession_WaitFrames(t *testing.T) {
	sim := hw.NewSim(hw.SimConfig{FPS: 500, Logger: testLogger()})
	d := newTestDevice(t, sim)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go sim.Run(ctx)

	s, err := Start(ctx, d, sim, testFormats(), "wr", Options{Logger: testLogger()})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.WaitFrames(ctx, 10); err != nil {
		t.Fatalf("WaitFrames failed: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := s.WaitFrames(ctx, 1_000_000); err == nil {
		t.Fatal("WaitFrames on a stopped session succeeded")
	}
}

type recorder struct {
	mu     sync.Mutex
	events []events.CaptureSessionEvent
}

func (r *recorder) Publish(ev events.Event) {
	if e, ok := ev.(events.CaptureSessionEvent); ok {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
	}
}

func TestSession_Flush(t *testing.T) {
	sim := hw.NewSim(hw.SimConfig{Logger: testLogger()})
	d := newTestDevice(t, sim)

	s, err := Start(context.Background(), d, sim, testFormats(), "wr", Options{Buffers: 4, Logger: testLogger()})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	if n := s.Flush(vin.OutcomeQueued); n != 4 {
		t.Fatalf("flushed %d buffers, want 4", n)
	}
	if st := s.Stats(); st.Errored != 4 || st.Requeued != 0 {
		t.Fatalf("stats = %+v, want 4 errored and nothing requeued", st)
	}
	if st := d.Lines()[0].Status(); st.Output.State != vin.OutputIdle {
		t.Fatalf("state = %s, want idle after flush", st.Output.State)
	}

	sim.Frame(hw.ChannelRaw)
	if got := s.Stats().Delivered; got != 0 {
		t.Fatalf("delivered = %d after flush, want 0", got)
	}
}

func TestManager(t *testing.T) {
	sim := hw.NewSim(hw.SimConfig{Logger: testLogger()})
	d := newTestDevice(t, sim)
	rec := &recorder{}
	m := NewManager(d, sim, testFormats(), testLogger(), WithPublisher(rec))
	ctx := context.Background()

	if _, err := m.Start(ctx, "wr", Options{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := m.Start(ctx, "wr", Options{}); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("second Start error = %v, want ErrSessionActive", err)
	}
	if _, err := m.Start(ctx, "isp0", Options{}); err != nil {
		t.Fatalf("Start isp0 failed: %v", err)
	}
	if got := m.Lines(); len(got) != 2 || got[0] != "isp0" || got[1] != "wr" {
		t.Fatalf("Lines = %v", got)
	}
	if _, ok := m.Get("wr"); !ok {
		t.Fatal("Get(wr) found nothing")
	}

	if _, err := m.Stop("wr"); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if _, err := m.Stop("wr"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("second Stop error = %v, want ErrNoSession", err)
	}
	if err := m.StopAll(); err != nil {
		t.Fatalf("StopAll failed: %v", err)
	}
	if n, _ := sim.Outstanding(); n != 0 {
		t.Fatalf("outstanding allocations = %d", n)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	var started, stopped int
	for _, e := range rec.events {
		switch e.Action {
		case "started":
			started++
		case "stopped":
			stopped++
		}
		if e.Session == "" {
			t.Errorf("event %+v has no session id", e)
		}
	}
	if started != 2 || stopped != 2 {
		t.Fatalf("started=%d stopped=%d, want 2 each", started, stopped)
	}
}
