package vin

import (
	"errors"
	"slices"
	"testing"
	"time"
)

func TestOutput_QueueTable(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(o *output, t *testing.T)
		wantState   OutputState
		wantLoc     Location
		wantPending int
	}{
		{
			name:      "idle with empty slot installs",
			setup:     func(o *output, _ *testing.T) { o.state = OutputIdle },
			wantState: OutputSingle,
			wantLoc:   AtSlot0,
		},
		{
			name: "idle with occupied slot appends",
			setup: func(o *output, t *testing.T) {
				o.state = OutputIdle
				o.install(0, newBuf(t, 90, 1))
			},
			wantState:   OutputIdle,
			wantLoc:     AtPending,
			wantPending: 1,
		},
		{
			name: "single appends",
			setup: func(o *output, t *testing.T) {
				o.state = OutputSingle
				o.install(0, newBuf(t, 90, 1))
			},
			wantState:   OutputSingle,
			wantLoc:     AtPending,
			wantPending: 1,
		},
		{
			name: "continuous appends",
			setup: func(o *output, t *testing.T) {
				o.state = OutputContinuous
				o.install(0, newBuf(t, 90, 1))
				o.install(1, newBuf(t, 91, 1))
			},
			wantState:   OutputContinuous,
			wantLoc:     AtPending,
			wantPending: 1,
		},
		{
			name: "stopping restores last",
			setup: func(o *output, t *testing.T) {
				o.state = OutputStopping
				o.last = newBuf(t, 90, 1)
				o.last.moveTo(AtLast)
			},
			wantState:   OutputSingle,
			wantLoc:     AtPending,
			wantPending: 1,
		},
		{
			name:        "off appends",
			setup:       func(*output, *testing.T) {},
			wantState:   OutputOff,
			wantLoc:     AtPending,
			wantPending: 1,
		},
		{
			name:        "reserved appends",
			setup:       func(o *output, _ *testing.T) { o.state = OutputReserved },
			wantState:   OutputReserved,
			wantLoc:     AtPending,
			wantPending: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, _ := newTestOutput(t)
			tt.setup(o, t)
			b := newBuf(t, 1, 1)

			if _, err := o.queue(b); err != nil {
				t.Fatalf("queue failed: %v", err)
			}

			st := o.status()
			if st.State != tt.wantState {
				t.Errorf("state = %s, want %s", st.State, tt.wantState)
			}
			if b.Location() != tt.wantLoc {
				t.Errorf("location = %s, want %s", b.Location(), tt.wantLoc)
			}
			if st.Pending != tt.wantPending {
				t.Errorf("pending = %d, want %d", st.Pending, tt.wantPending)
			}
		})
	}
}

func TestOutput_QueueStoppingRestoresLastIntoActiveSlot(t *testing.T) {
	o, _ := newTestOutput(t)
	last := newBuf(t, 7, 1)
	o.state = OutputStopping
	o.active = 1
	o.last = last
	last.moveTo(AtLast)

	if _, err := o.queue(newBuf(t, 8, 1)); err != nil {
		t.Fatalf("queue failed: %v", err)
	}

	if last.Location() != AtSlot1 {
		t.Errorf("last buffer location = %s, want slot1", last.Location())
	}
	if st := o.status(); st.HasLast || st.Slots[1] != 7 {
		t.Errorf("status = %+v, want last restored into slot 1", st)
	}
}

func TestOutput_QueueRefusesOwnedBuffer(t *testing.T) {
	o, _ := newTestOutput(t)
	o.enable("s")
	b := newBuf(t, 1, 1)

	if _, err := o.queue(b); err != nil {
		t.Fatalf("first queue failed: %v", err)
	}
	_, err := o.queue(b)
	if !errors.Is(err, ErrBufferBusy) {
		t.Fatalf("second queue error = %v, want ErrBufferBusy", err)
	}
	checkOwnership(t, o, []*Buffer{b})
}

func TestOutput_ChangeBufferTable(t *testing.T) {
	tests := []struct {
		name string
		// setup returns buffers: index 0 is the one expected to retire.
		setup         func(o *output, t *testing.T) []*Buffer
		wantHandled   bool
		wantState     OutputState
		wantReady     int
		wantLast      bool
		wantRecovered bool
		wantMissing   bool
		wantActive    int
		wantPrimary   func(bufs []*Buffer) uint64
	}{
		{
			name: "idle ignored",
			setup: func(o *output, _ *testing.T) []*Buffer {
				o.state = OutputIdle
				o.prog.program(o.fallback)
				return nil
			},
			wantState:   OutputIdle,
			wantPrimary: func([]*Buffer) uint64 { return testFallback },
		},
		{
			name: "stopping ignored",
			setup: func(o *output, t *testing.T) []*Buffer {
				o.state = OutputStopping
				o.last = newBuf(t, 1, 1)
				o.last.moveTo(AtLast)
				o.prog.programBuffer(o.last)
				return []*Buffer{o.last}
			},
			wantState:   OutputStopping,
			wantLast:    true,
			wantPrimary: func(b []*Buffer) uint64 { return b[0].Addr(0) },
		},
		{
			name: "single with pending installs next",
			setup: func(o *output, t *testing.T) []*Buffer {
				a, b := newBuf(t, 1, 1), newBuf(t, 2, 1)
				o.state = OutputSingle
				o.install(0, a)
				o.pending.push(b)
				return []*Buffer{a, b}
			},
			wantHandled: true,
			wantState:   OutputSingle,
			wantReady:   1,
			wantPrimary: func(b []*Buffer) uint64 { return b[1].Addr(0) },
		},
		{
			name: "single without pending stops",
			setup: func(o *output, t *testing.T) []*Buffer {
				a := newBuf(t, 1, 1)
				o.state = OutputSingle
				o.install(0, a)
				o.prog.programBuffer(a)
				return []*Buffer{a}
			},
			wantHandled: true,
			wantState:   OutputStopping,
			wantLast:    true,
			wantPrimary: func(b []*Buffer) uint64 { return b[0].Addr(0) },
		},
		{
			name: "continuous with pending flips",
			setup: func(o *output, t *testing.T) []*Buffer {
				a, b, c := newBuf(t, 1, 1), newBuf(t, 2, 1), newBuf(t, 3, 1)
				o.state = OutputContinuous
				o.install(0, a)
				o.install(1, b)
				o.pending.push(c)
				return []*Buffer{a, b, c}
			},
			wantHandled: true,
			wantState:   OutputContinuous,
			wantReady:   1,
			wantActive:  1,
			wantPrimary: func(b []*Buffer) uint64 { return b[2].Addr(0) },
		},
		{
			name: "continuous without pending keeps other slot",
			setup: func(o *output, t *testing.T) []*Buffer {
				a, b := newBuf(t, 1, 1), newBuf(t, 2, 1)
				o.state = OutputContinuous
				o.install(0, a)
				o.install(1, b)
				o.prog.programBuffer(a)
				return []*Buffer{a, b}
			},
			wantHandled: true,
			wantState:   OutputSingle,
			wantReady:   1,
			wantActive:  1,
			wantPrimary: func(b []*Buffer) uint64 { return b[1].Addr(0) },
		},
		{
			name: "empty active slot recovers from other",
			setup: func(o *output, t *testing.T) []*Buffer {
				a, b := newBuf(t, 1, 1), newBuf(t, 2, 1)
				o.state = OutputSingle
				o.install(1, a)
				o.pending.push(b)
				return []*Buffer{a, b}
			},
			wantHandled:   true,
			wantState:     OutputSingle,
			wantReady:     1,
			wantRecovered: true,
			wantActive:    1,
			wantPrimary:   func(b []*Buffer) uint64 { return b[1].Addr(0) },
		},
		{
			name: "both slots empty drops notification",
			setup: func(o *output, t *testing.T) []*Buffer {
				b := newBuf(t, 2, 1)
				o.state = OutputSingle
				o.pending.push(b)
				return []*Buffer{b}
			},
			wantHandled: true,
			wantState:   OutputSingle,
			wantMissing: true,
			wantPrimary: func([]*Buffer) uint64 { return 0 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, sim := newTestOutput(t)
			bufs := tt.setup(o, t)

			res := o.changeBuffer()

			if res.handled != tt.wantHandled {
				t.Errorf("handled = %v, want %v", res.handled, tt.wantHandled)
			}
			if res.recovered != tt.wantRecovered {
				t.Errorf("recovered = %v, want %v", res.recovered, tt.wantRecovered)
			}
			if res.missing != tt.wantMissing {
				t.Errorf("missing = %v, want %v", res.missing, tt.wantMissing)
			}
			st := o.status()
			if st.State != tt.wantState {
				t.Errorf("state = %s, want %s", st.State, tt.wantState)
			}
			if st.Ready != tt.wantReady {
				t.Errorf("ready = %d, want %d", st.Ready, tt.wantReady)
			}
			if st.HasLast != tt.wantLast {
				t.Errorf("has last = %v, want %v", st.HasLast, tt.wantLast)
			}
			if st.Active != tt.wantActive {
				t.Errorf("active = %d, want %d", st.Active, tt.wantActive)
			}
			if got, want := primary(sim), tt.wantPrimary(bufs); got != want {
				t.Errorf("primary = %#x, want %#x", got, want)
			}
			if !tt.wantMissing {
				checkOwnership(t, o, bufs)
			}
		})
	}
}

func TestOutput_ChangeBufferNeverProgramsRetiredBuffer(t *testing.T) {
	o, sim := newTestOutput(t)
	a, b := newBuf(t, 1, 1), newBuf(t, 2, 1)
	o.state = OutputContinuous
	o.install(0, a)
	o.install(1, b)

	o.changeBuffer()

	if primary(sim) == a.Addr(0) {
		t.Fatal("engine addressed at the buffer moved to the ready queue")
	}
}

func TestOutput_FrameDone(t *testing.T) {
	t.Run("off and reserved are no-ops", func(t *testing.T) {
		for _, state := range []OutputState{OutputOff, OutputReserved} {
			o, _ := newTestOutput(t)
			o.state = state
			o.ready.push(newBuf(t, 1, 1))
			if got := o.frameDone(time.Second); got != nil {
				t.Errorf("%s: frameDone delivered %d buffers", state, len(got))
			}
			if o.status().Ready != 1 {
				t.Errorf("%s: ready queue drained", state)
			}
		}
	})

	t.Run("drains ready in order", func(t *testing.T) {
		o, _ := newTestOutput(t)
		o.state = OutputIdle
		a, b := newBuf(t, 1, 1), newBuf(t, 2, 1)
		o.ready.push(a)
		o.ready.push(b)

		got := o.frameDone(42 * time.Millisecond)
		if len(got) != 2 || got[0] != a || got[1] != b {
			t.Fatalf("frameDone = %v, want [a b]", got)
		}
		for i, buf := range got {
			if buf.Sequence != uint32(i) {
				t.Errorf("buffer %d sequence = %d, want %d", buf.Index, buf.Sequence, i)
			}
			if buf.Timestamp != 42*time.Millisecond {
				t.Errorf("buffer %d timestamp = %v", buf.Index, buf.Timestamp)
			}
			if buf.Outcome != OutcomeDone || buf.Location() != AtConsumer {
				t.Errorf("buffer %d outcome %s at %s", buf.Index, buf.Outcome, buf.Location())
			}
		}
		if o.status().Sequence != 2 {
			t.Errorf("sequence = %d, want 2", o.status().Sequence)
		}
	})
}

func TestOutput_Enable(t *testing.T) {
	t.Run("no buffers programs fallback", func(t *testing.T) {
		o, sim := newTestOutput(t)
		o.reserve()
		tr := o.enable("s1")
		if tr.from != OutputReserved || tr.to != OutputIdle {
			t.Errorf("transition = %+v, want reserved -> idle", tr)
		}
		if primary(sim) != testFallback {
			t.Errorf("primary = %#x, want fallback", primary(sim))
		}
	})

	t.Run("no fallback parks", func(t *testing.T) {
		o, sim := newTestOutput(t)
		o.setFallback([2]uint64{})
		o.prog.program([2]uint64{0x1234})
		o.enable("s1")
		if primary(sim) != 0 {
			t.Errorf("primary = %#x, want 0", primary(sim))
		}
	})

	t.Run("pending buffer installs", func(t *testing.T) {
		o, sim := newTestOutput(t)
		a := newBuf(t, 1, 1)
		if _, err := o.queue(a); err != nil {
			t.Fatal(err)
		}
		o.enable("s1")
		if st := o.status(); st.State != OutputSingle || st.Slots[0] != 1 {
			t.Errorf("status = %+v, want single with buffer 1 in slot 0", st)
		}
		if primary(sim) != a.Addr(0) {
			t.Errorf("primary = %#x, want %#x", primary(sim), a.Addr(0))
		}
	})

	t.Run("slot one promoted", func(t *testing.T) {
		o, _ := newTestOutput(t)
		a := newBuf(t, 1, 1)
		o.install(1, a)
		o.enable("s1")
		if a.Location() != AtSlot0 {
			t.Errorf("location = %s, want slot0", a.Location())
		}
		checkOwnership(t, o, []*Buffer{a})
	})

	t.Run("carried over buffers kept", func(t *testing.T) {
		o, _ := newTestOutput(t)
		a, b, c := newBuf(t, 1, 1), newBuf(t, 2, 1), newBuf(t, 3, 1)
		o.install(1, a)
		o.last = b
		b.moveTo(AtLast)
		o.pending.push(c)

		o.enable("s1")

		st := o.status()
		if st.State != OutputSingle || st.Slots != [2]int{2, -1} || st.Pending != 2 || st.HasLast {
			t.Errorf("status = %+v", st)
		}
		checkOwnership(t, o, []*Buffer{a, b, c})
	})

	t.Run("carried over buffers replay in capture order", func(t *testing.T) {
		o, sim := newTestOutput(t)
		x, a, b, c := newBuf(t, 9, 1), newBuf(t, 1, 1), newBuf(t, 2, 1), newBuf(t, 3, 1)
		o.install(0, x)
		o.install(1, a)
		o.last = b
		b.moveTo(AtLast)
		o.pending.push(c)

		o.enable("s1")

		o.mu.Lock()
		var order []int
		for _, buf := range o.pending.items {
			order = append(order, buf.Index)
		}
		o.mu.Unlock()
		if want := []int{2, 1, 3}; !slices.Equal(order, want) {
			t.Errorf("pending order = %v, want %v", order, want)
		}
		if primary(sim) != x.Addr(0) {
			t.Errorf("primary = %#x, want slot 0 buffer", primary(sim))
		}
		checkOwnership(t, o, []*Buffer{x, a, b, c})
	})

	t.Run("resets sequence", func(t *testing.T) {
		o, _ := newTestOutput(t)
		o.sequence = 17
		o.enable("s2")
		if st := o.status(); st.Sequence != 0 || st.Session != "s2" {
			t.Errorf("status = %+v, want sequence 0 session s2", st)
		}
	})
}

func TestOutput_DisableKeepsBuffers(t *testing.T) {
	o, _ := newTestOutput(t)
	o.enable("s")
	a, b := newBuf(t, 1, 1), newBuf(t, 2, 1)
	for _, buf := range []*Buffer{a, b} {
		if _, err := o.queue(buf); err != nil {
			t.Fatal(err)
		}
	}

	o.disable()

	if st := o.status(); st.State != OutputOff || st.Slots[0] != 1 || st.Pending != 1 {
		t.Errorf("status = %+v", st)
	}
	checkOwnership(t, o, []*Buffer{a, b})
}

func TestOutput_Flush(t *testing.T) {
	states := []OutputState{OutputOff, OutputReserved, OutputIdle, OutputSingle, OutputContinuous, OutputStopping}
	for _, state := range states {
		t.Run(string(state), func(t *testing.T) {
			o, sim := newTestOutput(t)
			a, b, c, d, e := newBuf(t, 1, 1), newBuf(t, 2, 1), newBuf(t, 3, 1), newBuf(t, 4, 1), newBuf(t, 5, 1)
			o.state = state
			o.install(0, a)
			o.install(1, b)
			o.pending.push(c)
			o.ready.push(d)
			o.last = e
			e.moveTo(AtLast)

			got, _ := o.flush(OutcomeQueued)

			if len(got) != 5 {
				t.Fatalf("flush returned %d buffers, want 5", len(got))
			}
			for _, buf := range got {
				if buf.Outcome != OutcomeQueued {
					t.Errorf("buffer %d outcome = %s", buf.Index, buf.Outcome)
				}
			}
			checkOwnership(t, o, []*Buffer{a, b, c, d, e})

			st := o.status()
			switch state {
			case OutputSingle, OutputContinuous, OutputStopping:
				if st.State != OutputIdle {
					t.Errorf("state = %s, want idle", st.State)
				}
				if primary(sim) != testFallback {
					t.Errorf("primary = %#x, want fallback", primary(sim))
				}
			default:
				if st.State != state {
					t.Errorf("state = %s, want %s", st.State, state)
				}
			}
		})
	}
}

func TestOutput_FlushEmpty(t *testing.T) {
	o, _ := newTestOutput(t)
	got, tr := o.flush(OutcomeError)
	if len(got) != 0 || tr.changed() {
		t.Errorf("flush of empty output returned %d buffers, transition %+v", len(got), tr)
	}
}

// Queue A and B while idle, one buffer change, one frame done.
func TestOutput_Scenario(t *testing.T) {
	o, sim := newTestOutput(t)
	o.reserve()
	o.enable("s")
	a, b := newBuf(t, 1, 1), newBuf(t, 2, 1)

	if _, err := o.queue(a); err != nil {
		t.Fatal(err)
	}
	if st := o.status(); st.State != OutputSingle || st.Slots[0] != 1 {
		t.Fatalf("after A: %+v", st)
	}
	if primary(sim) != a.Addr(0) {
		t.Fatalf("primary = %#x, want A", primary(sim))
	}

	if _, err := o.queue(b); err != nil {
		t.Fatal(err)
	}
	if b.Location() != AtPending {
		t.Fatalf("B at %s, want pending", b.Location())
	}

	o.changeBuffer()
	if a.Location() != AtReady {
		t.Fatalf("A at %s, want ready", a.Location())
	}
	if b.Location() != AtSlot0 {
		t.Fatalf("B at %s, want slot0", b.Location())
	}
	if st := o.status(); st.State != OutputSingle {
		t.Fatalf("state = %s, want single", st.State)
	}
	if primary(sim) != b.Addr(0) {
		t.Fatalf("primary = %#x, want B", primary(sim))
	}

	got := o.frameDone(time.Millisecond)
	if len(got) != 1 || got[0] != a || a.Sequence != 0 || a.Outcome != OutcomeDone {
		t.Fatalf("frameDone = %v, want A with sequence 0", got)
	}
}

func TestOutput_DummyBackpressure(t *testing.T) {
	o, sim := newTestOutput(t)
	o.reserve()
	o.enable("s")

	if primary(sim) != testFallback {
		t.Fatalf("primary = %#x, want fallback", primary(sim))
	}
	for i := 0; i < 5; i++ {
		o.changeBuffer()
	}
	if st := o.status(); st.Ready != 0 || st.State != OutputIdle {
		t.Fatalf("status = %+v, want idle with empty ready queue", st)
	}
	if got := o.frameDone(0); len(got) != 0 {
		t.Fatalf("frameDone delivered %d buffers", len(got))
	}
}

func TestOutput_ResetReturnsEverything(t *testing.T) {
	o, _ := newTestOutput(t)
	o.enable("s")
	a, b := newBuf(t, 1, 1), newBuf(t, 2, 1)
	for _, buf := range []*Buffer{a, b} {
		if _, err := o.queue(buf); err != nil {
			t.Fatal(err)
		}
	}

	left := o.reset()

	if len(left) != 2 {
		t.Fatalf("reset returned %d buffers, want 2", len(left))
	}
	if st := o.status(); st.State != OutputOff || st.Slots != [2]int{-1, -1} || st.Pending != 0 {
		t.Errorf("status after reset = %+v", st)
	}
	checkOwnership(t, o, []*Buffer{a, b})
}
