package vin

// Transition tables of the output state machine. Each table is keyed by the
// current state; states without an entry take the default action.

// changeBufferStates are the states in which a buffer-changed notification
// is acted on. In every other state the engine is writing to the dummy
// buffer or to the stashed last buffer and nothing moves.
var changeBufferStates = map[OutputState]bool{
	OutputSingle:     true,
	OutputContinuous: true,
}

// onNew handles a buffer queued by the consumer.
var onNew = map[OutputState]func(o *output, b *Buffer){
	OutputIdle: queueIdle,
	OutputStopping: func(o *output, b *Buffer) {
		if o.last == nil {
			queueIdle(o, b)
			return
		}
		o.install(o.active, o.last)
		o.last = nil
		o.state = OutputSingle
		o.pending.push(b)
	},
}

// queueIdle installs b into slot 0 when it is free.
func queueIdle(o *output, b *Buffer) {
	if o.buf[0] != nil {
		o.pending.push(b)
		o.state = OutputIdle
		return
	}
	o.install(0, b)
	o.initAddrsLocked()
	o.state = OutputSingle
}

// onLast handles a buffer-changed notification with nothing pending.
var onLast = map[OutputState]func(o *output){
	OutputContinuous: func(o *output) {
		o.state = OutputSingle
		o.active ^= 1
		o.prog.programBuffer(o.buf[o.active])
	},
	OutputSingle: func(o *output) {
		o.state = OutputStopping
	},
}

// onNext handles a buffer-changed notification that installed a pending buffer.
var onNext = map[OutputState]func(o *output){
	OutputContinuous: func(o *output) {
		o.active ^= 1
	},
}

func newBufferAction(s OutputState) func(o *output, b *Buffer) {
	if fn, ok := onNew[s]; ok {
		return fn
	}
	return func(o *output, b *Buffer) { o.pending.push(b) }
}

func lastBufferAction(s OutputState) func(o *output) {
	if fn, ok := onLast[s]; ok {
		return fn
	}
	return func(*output) {}
}

func nextBufferAction(s OutputState) func(o *output) {
	if fn, ok := onNext[s]; ok {
		return fn
	}
	return func(*output) {}
}
