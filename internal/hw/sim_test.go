package hw

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func simTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countingHandler struct {
	mu      sync.Mutex
	changed map[Channel]int
	done    map[Channel]int
}

func newCountingHandler() *countingHandler {
	return &countingHandler{changed: make(map[Channel]int), done: make(map[Channel]int)}
}

func (h *countingHandler) BufferChanged(ch Channel) {
	h.mu.Lock()
	h.changed[ch]++
	h.mu.Unlock()
}

func (h *countingHandler) FrameDone(ch Channel) {
	h.mu.Lock()
	h.done[ch]++
	h.mu.Unlock()
}

func (h *countingHandler) counts(ch Channel) (changed, done int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.changed[ch], h.done[ch]
}

func TestParseChannel(t *testing.T) {
	tests := []struct {
		in      string
		want    Channel
		wantErr bool
	}{
		{"raw", ChannelRaw, false},
		{"WR", ChannelRaw, false},
		{"yuv", ChannelYUV, false},
		{" isp ", ChannelYUV, false},
		{"hdmi", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseChannel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseChannel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseChannel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSimInterruptsGatedByEnable(t *testing.T) {
	sim := NewSim(SimConfig{FieldsPerFrame: 2, Logger: simTestLogger()})
	h := newCountingHandler()
	sim.SetHandler(h)

	sim.Frame(ChannelRaw)
	if changed, done := h.counts(ChannelRaw); changed != 0 || done != 0 {
		t.Fatalf("expected no interrupts while disabled, got changed=%d done=%d", changed, done)
	}

	sim.EnableInterrupts(ChannelRaw, true)
	sim.Frame(ChannelRaw)
	changed, done := h.counts(ChannelRaw)
	if changed != 2 {
		t.Errorf("expected 2 BufferChanged per interlaced frame, got %d", changed)
	}
	if done != 1 {
		t.Errorf("expected 1 FrameDone, got %d", done)
	}
}

func TestSimUnderflowOnZeroAddress(t *testing.T) {
	sim := NewSim(SimConfig{Logger: simTestLogger()})

	sim.Field(ChannelYUV)
	if !sim.IsUnderflowed(ChannelYUV) {
		t.Fatal("expected underflow when writing to a zero address")
	}
	if sim.IsUnderflowed(ChannelYUV) {
		t.Error("underflow status should clear on read")
	}

	sim.SetPrimaryAddress(ChannelYUV, 0x1000)
	sim.Field(ChannelYUV)
	if sim.IsUnderflowed(ChannelYUV) {
		t.Error("unexpected underflow with a programmed address")
	}
}

func TestSimAllocator(t *testing.T) {
	sim := NewSim(SimConfig{MemoryBytes: 3 * simPageSize, Logger: simTestLogger()})

	a, err := sim.Alloc(100)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	b, err := sim.Alloc(simPageSize + 1)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	if b-a != simPageSize {
		t.Errorf("expected page aligned regions, got %#x and %#x", a, b)
	}

	if _, err := sim.Alloc(simPageSize); !errors.Is(err, ErrNoMemory) {
		t.Fatalf("expected ErrNoMemory, got %v", err)
	}

	sim.Free(b)
	if count, bytes := sim.Outstanding(); count != 1 || bytes != simPageSize {
		t.Errorf("expected 1 region of %d bytes, got %d regions of %d bytes", simPageSize, count, bytes)
	}

	if _, err := sim.Alloc(0); err == nil {
		t.Error("expected error for zero sized allocation")
	}
}

func TestSimClock(t *testing.T) {
	sim := NewSim(SimConfig{Logger: simTestLogger()})

	if err := sim.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	sim.Release()
	sim.Release() // not held, ignored

	acquires, releases := sim.ClockStats()
	if acquires != 1 || releases != 1 {
		t.Errorf("expected 1/1, got %d/%d", acquires, releases)
	}

	failure := errors.New("pm runtime failed")
	sim.FailClock(failure)
	if err := sim.Acquire(); !errors.Is(err, failure) {
		t.Errorf("expected injected failure, got %v", err)
	}
}

func TestSimRun(t *testing.T) {
	sim := NewSim(SimConfig{FPS: 200, Logger: simTestLogger()})
	h := newCountingHandler()
	sim.SetHandler(h)
	sim.EnableInterrupts(ChannelRaw, true)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	sim.Run(ctx)

	if _, done := h.counts(ChannelRaw); done == 0 {
		t.Error("expected Run to raise FrameDone")
	}
	if changed, _ := h.counts(ChannelYUV); changed != 0 {
		t.Error("disabled channel must stay silent")
	}
}
