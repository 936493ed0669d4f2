package vin

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/smazurov/camss/internal/hw"
)

// DoneFunc receives every buffer the pipeline hands back to the consumer.
// It runs without any output lock held and may queue buffers again, but it
// must not start or stop streams.
type DoneFunc func(b *Buffer)

// Line is one logical capture output. Several lines may share a capture
// engine and its dummy buffers.
type Line struct {
	ID      int
	Name    string
	Engine  string
	Channel hw.Channel
	Layout  Layout

	dev    *Device
	pool   *dummyPool
	out    *output
	logger *slog.Logger

	consumer atomic.Pointer[DoneFunc]

	streamMu    sync.Mutex
	streamCount int

	powerMu    sync.Mutex
	powerCount int
}

// LineStatus is a snapshot of a line for reporting.
type LineStatus struct {
	ID            int
	Name          string
	Engine        string
	Channel       hw.Channel
	Layout        Layout
	Output        OutputStatus
	StreamCount   int
	PowerCount    int
	EngineStreams int
	Attached      bool
}

// Status returns a snapshot of the line.
func (l *Line) Status() LineStatus {
	l.streamMu.Lock()
	streams := l.streamCount
	l.streamMu.Unlock()

	l.powerMu.Lock()
	power := l.powerCount
	l.powerMu.Unlock()

	return LineStatus{
		ID:            l.ID,
		Name:          l.Name,
		Engine:        l.Engine,
		Channel:       l.Channel,
		Layout:        l.Layout,
		Output:        l.out.status(),
		StreamCount:   streams,
		PowerCount:    power,
		EngineStreams: l.pool.count(),
		Attached:      l.consumer.Load() != nil,
	}
}

// SetPower takes or drops a power reference on the line. The first reference
// reinitialises the output; the device clock follows the device-wide count.
// Power coming up under a running stream restarts the output in a new
// session, so the engine is repointed before the old buffers are returned.
func (l *Line) SetPower(on bool) error {
	var left []*Buffer
	var t, restart transition

	if on {
		l.streamMu.Lock()
		l.powerMu.Lock()
		if l.powerCount == 0 {
			st := l.out.status().State
			left = l.out.reset()
			t = transition{from: st, to: OutputOff}
			if l.streamCount > 0 {
				l.logger.Warn("Line powered up while streaming, restarting output", "line", l.Name)
				restart = l.out.enable(uuid.NewString())
			}
		}
		l.powerCount++
		l.powerMu.Unlock()
		l.streamMu.Unlock()
	} else {
		l.powerMu.Lock()
		if l.powerCount == 0 {
			l.powerMu.Unlock()
			l.logger.Error("Line power off on power_count = 0", "line", l.Name)
			return nil
		}
		l.powerCount--
		l.powerMu.Unlock()
	}

	l.notify(t)
	l.notify(restart)
	if len(left) > 0 {
		l.logger.Warn("Buffers left in output at power up", "line", l.Name, "count", len(left))
		for _, b := range left {
			b.Outcome = OutcomeError
		}
		l.deliver(left)
	}

	if err := l.dev.setPower(on); err != nil {
		if on {
			l.powerMu.Lock()
			l.powerCount--
			l.powerMu.Unlock()
		}
		return lineError(l.Name, "set power", err)
	}
	return nil
}

// SetStream starts or stops streaming. Calls nest; only the outermost start
// and stop touch interrupts and the output.
func (l *Line) SetStream(on bool) error {
	l.streamMu.Lock()
	defer l.streamMu.Unlock()

	if on {
		l.streamOnLocked()
		return nil
	}
	l.streamOffLocked()
	return nil
}

func (l *Line) streamOnLocked() {
	if l.streamCount == 0 {
		l.notify(l.out.reserve())
	}

	acq := l.pool.acquire(l.dev.formats.ActiveFormat(l.ID), l.Layout)
	if acq.bytes > 0 {
		l.dev.hooks.dummyChange(l.Engine, true, acq.bytes)
	}
	if acq.addr[0] == 0 {
		l.dev.hooks.fault(l.Name, FaultNoDummy)
	}
	l.out.setFallback(acq.addr)
	if acq.first {
		l.out.programFallback()
	}

	l.streamCount++
	if l.streamCount > 1 {
		return
	}

	l.dev.regs.EnableInterrupts(l.Channel, true)
	session := uuid.NewString()
	l.notify(l.out.enable(session))
	l.dev.hooks.streamChange(l.Name, true)
	l.logger.Info("Line streaming", "line", l.Name, "session", session, "engine_streams", l.pool.count())
}

func (l *Line) streamOffLocked() {
	if l.streamCount == 0 {
		l.logger.Error("Line stream off on stream_count = 0", "line", l.Name)
		return
	}

	l.streamCount--
	stopped := l.streamCount == 0
	if stopped {
		l.notify(l.out.disable())
		l.dev.regs.EnableInterrupts(l.Channel, false)
	}

	rel := l.pool.release(l.Layout)
	switch {
	case rel.last:
		l.dev.hooks.dummyChange(l.Engine, false, rel.bytes)
		l.dev.parkEngine(l.Engine)
	case rel.ok:
		l.out.setFallback(rel.addr)
		if stopped {
			l.out.programFallback()
		}
	}

	if stopped {
		l.dev.hooks.streamChange(l.Name, false)
		l.logger.Info("Line stopped", "line", l.Name, "engine_streams", l.pool.count())
	}
}

// notify reports a state change.
func (l *Line) notify(t transition) {
	if !t.changed() {
		return
	}
	l.logger.Debug("Output state changed", "line", l.Name, "from", t.from, "to", t.to)
	l.dev.hooks.stateChange(l.Name, t.from, t.to)
}

// deliver hands buffers to the hooks and the attached consumer.
func (l *Line) deliver(bufs []*Buffer) {
	if len(bufs) == 0 {
		return
	}
	done := l.consumer.Load()
	for _, b := range bufs {
		l.dev.hooks.bufferDone(l.Name, b)
		if done != nil {
			(*done)(b)
		}
	}
}

// bufferChanged runs the buffer-changed notification for the line.
func (l *Line) bufferChanged() {
	res := l.out.changeBuffer()
	l.notify(res.transition)

	switch {
	case res.missing:
		l.logger.Error("Missing ready buffer in both slots", "line", l.Name, "state", res.from)
		l.dev.hooks.fault(l.Name, FaultMissingReady)
	case res.recovered:
		l.logger.Warn("Missing ready buffer, used the other slot", "line", l.Name, "state", res.from)
		l.dev.hooks.fault(l.Name, FaultRecovered)
	}
}
