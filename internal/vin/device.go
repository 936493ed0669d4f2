package vin

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/camss/internal/hw"
)

// EngineConfig describes one physical capture engine.
type EngineConfig struct {
	ID string
	// SettleFrames is the number of frame-done notifications ignored after
	// the engine starts streaming.
	SettleFrames int
}

// LineConfig describes one logical line.
type LineConfig struct {
	ID      int
	Name    string
	Engine  string
	Channel hw.Channel
	Layout  Layout
}

// Topology is the set of engines and lines of a device.
type Topology struct {
	Engines []EngineConfig
	Lines   []LineConfig
}

// Validate checks that engines and lines are named uniquely, that every line
// runs on a known engine, and that no two lines share a channel.
func (t Topology) Validate() error {
	if len(t.Lines) == 0 {
		return errors.New("topology has no lines")
	}

	engines := make(map[string]bool, len(t.Engines))
	for _, e := range t.Engines {
		if e.ID == "" {
			return errors.New("engine id is required")
		}
		if engines[e.ID] {
			return fmt.Errorf("duplicate engine %q", e.ID)
		}
		if e.SettleFrames < 0 {
			return fmt.Errorf("engine %q: settle frames must not be negative", e.ID)
		}
		engines[e.ID] = true
	}

	ids := make(map[int]bool, len(t.Lines))
	names := make(map[string]bool, len(t.Lines))
	channels := make(map[hw.Channel]string, len(t.Lines))
	for _, lc := range t.Lines {
		if lc.Name == "" {
			return fmt.Errorf("line %d: name is required", lc.ID)
		}
		if ids[lc.ID] {
			return fmt.Errorf("duplicate line id %d", lc.ID)
		}
		if names[lc.Name] {
			return fmt.Errorf("duplicate line name %q", lc.Name)
		}
		if other, dup := channels[lc.Channel]; dup {
			return fmt.Errorf("line %q: channel %s already used by %q", lc.Name, lc.Channel, other)
		}
		if !engines[lc.Engine] {
			return fmt.Errorf("line %q: unknown engine %q", lc.Name, lc.Engine)
		}
		if _, err := ParseLayout(string(lc.Layout)); err != nil {
			return fmt.Errorf("line %q: %w", lc.Name, err)
		}
		ids[lc.ID] = true
		names[lc.Name] = true
		channels[lc.Channel] = lc.Name
	}
	return nil
}

// Options holds the collaborators of a Device.
type Options struct {
	Registers hw.Registers
	Allocator hw.Allocator
	Clock     hw.Clock
	Formats   FormatSource
	Hooks     Hooks
	Logger    *slog.Logger
	// Now returns the monotonic timestamp stamped on completed buffers.
	// Defaults to the time since the device was created.
	Now func() time.Duration
}

// Device is the capture core: the lines, their engines and the shared power
// reference. It implements hw.Handler.
type Device struct {
	regs    hw.Registers
	clock   hw.Clock
	formats FormatSource
	hooks   Hooks
	logger  *slog.Logger
	now     func() time.Duration

	engines map[string]*dummyPool
	lines   []*Line
	byName  map[string]*Line
	byChan  map[hw.Channel]*Line

	powerMu    sync.Mutex
	powerCount int
}

var _ hw.Handler = (*Device)(nil)

// NewDevice builds a device for topology.
func NewDevice(topo Topology, opts Options) (*Device, error) {
	if opts.Registers == nil || opts.Allocator == nil || opts.Clock == nil {
		return nil, errors.New("registers, allocator and clock are required")
	}
	if opts.Formats == nil {
		return nil, errors.New("format source is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		start := time.Now()
		opts.Now = func() time.Duration { return time.Since(start) }
	}
	if err := topo.Validate(); err != nil {
		return nil, err
	}

	d := &Device{
		regs:    opts.Registers,
		clock:   opts.Clock,
		formats: opts.Formats,
		hooks:   opts.Hooks,
		logger:  opts.Logger,
		now:     opts.Now,
		engines: make(map[string]*dummyPool),
		byName:  make(map[string]*Line),
		byChan:  make(map[hw.Channel]*Line),
	}

	for _, e := range topo.Engines {
		d.engines[e.ID] = newDummyPool(e.ID, opts.Allocator, e.SettleFrames, opts.Logger.With("engine", e.ID))
	}

	for _, lc := range topo.Lines {
		l := &Line{
			ID:      lc.ID,
			Name:    lc.Name,
			Engine:  lc.Engine,
			Channel: lc.Channel,
			Layout:  lc.Layout,
			dev:     d,
			pool:    d.engines[lc.Engine],
			out:     newOutput(programmer{regs: opts.Registers, ch: lc.Channel, planes: lc.Layout.Planes()}),
			logger:  opts.Logger,
		}
		d.lines = append(d.lines, l)
		d.byName[l.Name] = l
		d.byChan[l.Channel] = l
	}

	return d, nil
}

// Lines returns the lines in topology order.
func (d *Device) Lines() []*Line {
	out := make([]*Line, len(d.lines))
	copy(out, d.lines)
	return out
}

// Line returns the line called name.
func (d *Device) Line(name string) (*Line, error) {
	l, ok := d.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLine, name)
	}
	return l, nil
}

// BufferChanged handles the buffer-changed interrupt of ch. It never blocks
// on anything but the line's output lock.
func (d *Device) BufferChanged(ch hw.Channel) {
	l, ok := d.byChan[ch]
	if !ok {
		return
	}
	l.bufferChanged()

	if d.regs.IsUnderflowed(ch) {
		l.logger.Error("Write underflow", "line", l.Name, "channel", ch)
		d.hooks.fault(l.Name, FaultUnderflow)
	}
}

// FrameDone handles the frame-done interrupt of ch and delivers the
// completed buffers.
func (d *Device) FrameDone(ch hw.Channel) {
	l, ok := d.byChan[ch]
	if !ok {
		return
	}
	if l.pool.settling() {
		return
	}
	l.deliver(l.out.frameDone(d.now()))
}

// setPower keeps the device-wide power count. The clock is acquired on the
// first reference and released with the last.
func (d *Device) setPower(on bool) error {
	d.powerMu.Lock()
	defer d.powerMu.Unlock()

	if on {
		if d.powerCount == 0 {
			if err := d.clock.Acquire(); err != nil {
				return fmt.Errorf("acquire clock: %w", err)
			}
			d.logger.Debug("Clock acquired")
		}
		d.powerCount++
		return nil
	}

	if d.powerCount == 0 {
		d.logger.Error("Device power off on power_count = 0")
		return nil
	}
	d.powerCount--
	if d.powerCount == 0 {
		d.clock.Release()
		d.logger.Debug("Clock released")
	}
	return nil
}

// parkEngine drops the dummy fallback of every line sourced from engine once
// its memory is freed.
func (d *Device) parkEngine(engine string) {
	for _, l := range d.lines {
		if l.Engine != engine {
			continue
		}
		l.out.setFallback([2]uint64{})
		l.out.programFallback()
	}
}

// PowerCount returns the device-wide power count.
func (d *Device) PowerCount() int {
	d.powerMu.Lock()
	defer d.powerMu.Unlock()
	return d.powerCount
}

// Attach binds a consumer to the line called name. A line has at most one
// consumer at a time.
func (d *Device) Attach(name string, done DoneFunc) (*Video, error) {
	l, err := d.Line(name)
	if err != nil {
		return nil, err
	}
	if done == nil {
		done = func(*Buffer) {}
	}
	if !l.consumer.CompareAndSwap(nil, &done) {
		return nil, lineError(name, "attach", ErrAttached)
	}
	return &Video{line: l, done: &done}, nil
}
