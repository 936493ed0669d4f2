package vin

import "sync/atomic"

// Video is the consumer handle of one line, returned by Device.Attach.
type Video struct {
	line   *Line
	done   *DoneFunc
	closed atomic.Bool
}

// Line returns the line the consumer is attached to.
func (v *Video) Line() *Line {
	return v.line
}

// Queue hands b to the pipeline. It never blocks on the engine; a buffer the
// pipeline already owns is refused with ErrBufferBusy.
func (v *Video) Queue(b *Buffer) error {
	if v.closed.Load() {
		return lineError(v.line.Name, "queue", ErrDetached)
	}
	if b.Planes() != v.line.Layout.Planes() {
		return lineError(v.line.Name, "queue", ErrBadPlanes)
	}
	t, err := v.line.out.queue(b)
	if err != nil {
		return lineError(v.line.Name, "queue", err)
	}
	v.line.notify(t)
	return nil
}

// Flush returns every buffer held by the line tagged with outcome.
// It returns the number of buffers delivered.
func (v *Video) Flush(outcome Outcome) int {
	bufs, t := v.line.out.flush(outcome)
	v.line.notify(t)
	v.line.deliver(bufs)
	return len(bufs)
}

// StreamOn starts streaming on the line.
func (v *Video) StreamOn() error {
	if v.closed.Load() {
		return lineError(v.line.Name, "stream on", ErrDetached)
	}
	return v.line.SetStream(true)
}

// StreamOff stops streaming on the line. Buffers stay queued until Flush.
func (v *Video) StreamOff() error {
	return v.line.SetStream(false)
}

// PowerOn takes a power reference on the line.
func (v *Video) PowerOn() error {
	if v.closed.Load() {
		return lineError(v.line.Name, "power on", ErrDetached)
	}
	return v.line.SetPower(true)
}

// PowerOff drops a power reference on the line.
func (v *Video) PowerOff() error {
	return v.line.SetPower(false)
}

// Status returns a snapshot of the line.
func (v *Video) Status() LineStatus {
	return v.line.Status()
}

// Close flushes the line with OutcomeError and detaches the consumer. The
// stream and power references taken through v are not dropped.
func (v *Video) Close() {
	if !v.closed.CompareAndSwap(false, true) {
		return
	}
	v.Flush(OutcomeError)
	v.line.consumer.CompareAndSwap(v.done, nil)
}
