package vin

import (
	"sync"
	"time"
)

// OutputState is the state of a line's buffer output.
type OutputState string

// Output states.
const (
	OutputOff        OutputState = "off"        // not streaming
	OutputReserved   OutputState = "reserved"   // stream requested, hardware not primed yet
	OutputIdle       OutputState = "idle"       // streaming into the dummy buffer
	OutputSingle     OutputState = "single"     // one consumer buffer installed
	OutputContinuous OutputState = "continuous" // both slots installed
	OutputStopping   OutputState = "stopping"   // starved, engine rewriting the last buffer
)

// transition is a state change produced by one output operation.
type transition struct {
	from OutputState
	to   OutputState
}

func (t transition) changed() bool {
	return t.from != t.to
}

// changeResult reports what a buffer-changed notification did.
type changeResult struct {
	transition
	handled   bool // notification acted on
	recovered bool // active slot was empty, the other slot was used
	missing   bool // both slots empty, notification dropped
	stashed   bool // retired buffer kept as the last buffer
}

// OutputStatus is a consistent snapshot of an output.
type OutputStatus struct {
	State    OutputState
	Active   int
	Slots    [2]int // consumer index per slot, -1 when empty
	Pending  int
	Ready    int
	HasLast  bool
	Sequence uint32
	Session  string
}

// output is the double-buffered frame output of one line. Every field is
// guarded by mu, which the interrupt path and the consumer API both take.
// Nothing under mu blocks or allocates beyond queue growth.
type output struct {
	mu sync.Mutex

	state    OutputState
	buf      [2]*Buffer
	active   int
	pending  bufQueue
	ready    bufQueue
	last     *Buffer
	sequence uint32
	session  string

	prog     programmer
	fallback [2]uint64
}

func newOutput(prog programmer) *output {
	o := &output{prog: prog}
	o.resetLocked()
	return o
}

// resetLocked empties the output and returns whatever it still held.
func (o *output) resetLocked() []*Buffer {
	left := o.collectLocked()
	o.state = OutputOff
	o.active = 0
	o.sequence = 0
	o.session = ""
	o.pending = bufQueue{loc: AtPending}
	o.ready = bufQueue{loc: AtReady}
	return left
}

// reset reinitialises the output on line power up.
func (o *output) reset() []*Buffer {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.resetLocked()
}

// collectLocked takes every buffer out of the queues, the slots and the last
// buffer, in that order, and hands them back to the consumer.
func (o *output) collectLocked() []*Buffer {
	var bufs []*Buffer
	bufs = append(bufs, o.pending.drain()...)
	bufs = append(bufs, o.ready.drain()...)
	for i := range o.buf {
		if o.buf[i] != nil {
			bufs = append(bufs, o.buf[i])
			o.buf[i] = nil
		}
	}
	if o.last != nil {
		bufs = append(bufs, o.last)
		o.last = nil
	}
	for _, b := range bufs {
		b.moveTo(AtConsumer)
	}
	return bufs
}

// install puts b into slot idx.
func (o *output) install(idx int, b *Buffer) {
	o.buf[idx] = b
	b.moveTo(slotLocation(idx))
}

// setFallback records the dummy buffer addresses used when no consumer
// buffer is installed. Zero addresses mean no dummy memory is available.
func (o *output) setFallback(addr [2]uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fallback = addr
}

// programFallbackLocked points the engine at the dummy buffer. It reports
// false when there is no dummy memory to point at.
func (o *output) programFallbackLocked() bool {
	if o.fallback[0] == 0 {
		return false
	}
	o.prog.program(o.fallback)
	return true
}

// programFallback points the engine at the dummy buffer, or parks it when
// no dummy memory is left.
func (o *output) programFallback() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.programFallbackLocked() {
		o.prog.park()
		return false
	}
	return true
}

// initAddrsLocked points the engine at slot 0, or at the dummy buffer if
// slot 0 is empty, or nowhere.
func (o *output) initAddrsLocked() {
	o.active = 0
	if o.buf[0] != nil {
		o.prog.programBuffer(o.buf[0])
		return
	}
	if !o.programFallbackLocked() {
		o.prog.park()
	}
}

// reserve marks a stream request on an output that is off.
func (o *output) reserve() transition {
	o.mu.Lock()
	defer o.mu.Unlock()
	t := transition{from: o.state, to: o.state}
	if o.state == OutputOff {
		o.state = OutputReserved
		t.to = o.state
	}
	return t
}

// enable starts delivery for a new stream session. Buffers carried over from
// a disable without flush are kept; at most one is installed.
func (o *output) enable(session string) transition {
	o.mu.Lock()
	defer o.mu.Unlock()

	t := transition{from: o.state}
	o.state = OutputIdle

	// Buffers left from an earlier session go back to the head of the
	// pending queue in capture order: the last buffer, then slot 1.
	if o.buf[1] != nil {
		o.pending.pushFront(o.buf[1])
		o.buf[1] = nil
	}
	if o.last != nil {
		o.pending.pushFront(o.last)
		o.last = nil
	}
	if o.buf[0] == nil {
		o.buf[0] = o.pending.pop()
		if o.buf[0] != nil {
			o.install(0, o.buf[0])
		}
	}

	if o.buf[0] != nil {
		o.state = OutputSingle
	}

	o.sequence = 0
	o.session = session
	o.initAddrsLocked()

	t.to = o.state
	return t
}

// disable stops delivery. Installed and queued buffers stay where they are.
func (o *output) disable() transition {
	o.mu.Lock()
	defer o.mu.Unlock()
	t := transition{from: o.state, to: OutputOff}
	o.state = OutputOff
	return t
}

// queue hands a consumer buffer to the output. A buffer the pipeline
// already owns is refused so it can never be linked twice.
func (o *output) queue(b *Buffer) (transition, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t := transition{from: o.state, to: o.state}
	if b.Location() != AtConsumer {
		return t, ErrBufferBusy
	}
	newBufferAction(o.state)(o, b)
	t.to = o.state
	return t, nil
}

// flush hands every buffer back tagged with outcome. A streaming output
// falls back to idle and the dummy buffer.
func (o *output) flush(outcome Outcome) ([]*Buffer, transition) {
	o.mu.Lock()
	defer o.mu.Unlock()

	t := transition{from: o.state}
	bufs := o.collectLocked()
	for _, b := range bufs {
		b.Outcome = outcome
	}

	switch o.state {
	case OutputSingle, OutputContinuous, OutputStopping:
		o.state = OutputIdle
		o.active = 0
		if !o.programFallbackLocked() {
			o.prog.park()
		}
	}

	t.to = o.state
	return bufs, t
}

// changeBuffer handles a buffer-changed notification: retire the buffer the
// engine just finished, install the next pending one and reprogram.
func (o *output) changeBuffer() changeResult {
	o.mu.Lock()
	defer o.mu.Unlock()

	res := changeResult{transition: transition{from: o.state, to: o.state}}
	if !changeBufferStates[o.state] {
		return res
	}
	res.handled = true

	idx := o.active
	retired := o.buf[idx]
	if retired == nil {
		res.recovered = true
		idx ^= 1
		retired = o.buf[idx]
		if retired == nil {
			res.recovered = false
			res.missing = true
			return res
		}
	}

	o.buf[idx] = nil
	if next := o.pending.pop(); next != nil {
		o.install(idx, next)
		o.prog.programBuffer(next)
		nextBufferAction(o.state)(o)
	} else {
		// The retired buffer is never reprogrammed: it is about to be
		// handed out.
		lastBufferAction(o.state)(o)
	}
	o.repairActiveLocked()
	if o.buf[0] == nil && o.buf[1] == nil {
		// Only the retired buffer is left and the engine keeps writing it.
		o.state = OutputStopping
	}

	if o.state == OutputStopping {
		o.last = retired
		retired.moveTo(AtLast)
		res.stashed = true
	} else {
		o.ready.push(retired)
	}

	res.to = o.state
	return res
}

// repairActiveLocked makes the active index designate an installed buffer
// whenever one is installed.
func (o *output) repairActiveLocked() {
	if o.buf[o.active] == nil && o.buf[o.active^1] != nil {
		o.active ^= 1
	}
}

// frameDone takes every ready buffer out of the output, stamped with ts and
// the next sequence numbers. It does nothing while off or reserved.
func (o *output) frameDone(ts time.Duration) []*Buffer {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state == OutputOff || o.state == OutputReserved {
		return nil
	}

	bufs := o.ready.drain()
	for _, b := range bufs {
		b.Timestamp = ts
		b.Sequence = o.sequence
		o.sequence++
		b.Outcome = OutcomeDone
		b.moveTo(AtConsumer)
	}
	return bufs
}

// status returns a snapshot of the output.
func (o *output) status() OutputStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := OutputStatus{
		State:    o.state,
		Active:   o.active,
		Slots:    [2]int{-1, -1},
		Pending:  o.pending.len(),
		Ready:    o.ready.len(),
		HasLast:  o.last != nil,
		Sequence: o.sequence,
		Session:  o.session,
	}
	for i, b := range o.buf {
		if b != nil {
			st.Slots[i] = b.Index
		}
	}
	return st
}
