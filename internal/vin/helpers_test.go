package vin

import (
	"io"
	"log/slog"
	"testing"

	"github.com/smazurov/camss/internal/hw"
)

const testFallback = 0xd000_0000

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSim() *hw.Sim {
	return hw.NewSim(hw.SimConfig{Logger: testLogger()})
}

// newBuf creates a buffer with a distinct address per index.
func newBuf(t *testing.T, idx, planes int) *Buffer {
	t.Helper()
	addrs := []uint64{0x1000_0000 + uint64(idx)*0x10_0000}
	if planes == 2 {
		addrs = append(addrs, addrs[0]+0x8_0000)
	}
	b, err := NewBuffer(idx, addrs...)
	if err != nil {
		t.Fatalf("NewBuffer(%d) failed: %v", idx, err)
	}
	return b
}

// newTestOutput returns a raw output backed by a simulated register file,
// enabled with a dummy fallback.
func newTestOutput(t *testing.T) (*output, *hw.Sim) {
	t.Helper()
	sim := newSim()
	o := newOutput(programmer{regs: sim, ch: hw.ChannelRaw, planes: 1})
	o.setFallback([2]uint64{testFallback})
	return o, sim
}

func primary(sim *hw.Sim) uint64 {
	p, _ := sim.Addresses(hw.ChannelRaw)
	return p
}

// checkOwnership verifies that every buffer is recorded where it actually is
// and that no buffer is held twice.
func checkOwnership(t *testing.T, o *output, bufs []*Buffer) {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()

	seen := make(map[*Buffer]Location)
	mark := func(b *Buffer, l Location) {
		if prev, dup := seen[b]; dup {
			t.Fatalf("buffer %d held at %s and %s", b.Index, prev, l)
		}
		seen[b] = l
	}
	for _, b := range o.pending.items {
		mark(b, AtPending)
	}
	for _, b := range o.ready.items {
		mark(b, AtReady)
	}
	for i, b := range o.buf {
		if b != nil {
			mark(b, slotLocation(i))
		}
	}
	if o.last != nil {
		mark(o.last, AtLast)
	}

	for _, b := range bufs {
		want, held := seen[b]
		if !held {
			want = AtConsumer
		}
		if got := b.Location(); got != want {
			t.Fatalf("buffer %d: location %s, want %s", b.Index, got, want)
		}
	}

	if (o.state == OutputSingle || o.state == OutputContinuous) && o.buf[o.active] == nil {
		t.Fatalf("state %s with empty active slot %d", o.state, o.active)
	}
}
