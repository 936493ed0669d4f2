package hw

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const simPageSize = 4096

// SimConfig configures a simulated capture engine.
type SimConfig struct {
	// FPS is the frame rate used by Run.
	FPS int
	// FieldsPerFrame is the number of BufferChanged notifications raised per
	// frame. 1 for progressive capture, 2 for interlaced.
	FieldsPerFrame int
	// MemoryBytes bounds the DMA pool. Zero means unbounded.
	MemoryBytes int
	// BaseAddress is the bus address of the first allocation.
	BaseAddress uint64
	Logger      *slog.Logger
}

// simChannel is the register state of one capture channel.
type simChannel struct {
	primary   uint64
	secondary uint64
	irq       bool
	underflow bool
	writes    int
	fields    uint64
}

// Sim is a software capture engine. It implements Registers, Allocator and
// Clock, and raises interrupts on a Handler either from Run or from explicit
// Field and Frame calls.
type Sim struct {
	cfg    SimConfig
	logger *slog.Logger

	mu       sync.Mutex
	channels map[Channel]*simChannel
	handler  Handler

	next   uint64
	used   int
	allocs map[uint64]int

	clockUsers    int
	clockAcquires int
	clockReleases int
	clockErr      error
}

// NewSim creates a simulated engine.
func NewSim(cfg SimConfig) *Sim {
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	if cfg.FieldsPerFrame <= 0 {
		cfg.FieldsPerFrame = 1
	}
	if cfg.BaseAddress == 0 {
		cfg.BaseAddress = 0x8000_0000
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sim{
		cfg:      cfg,
		logger:   logger,
		channels: make(map[Channel]*simChannel),
		next:     cfg.BaseAddress,
		allocs:   make(map[uint64]int),
	}
}

// SetHandler installs the interrupt handler.
func (s *Sim) SetHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// channel returns the state of ch (must hold lock).
func (s *Sim) channel(ch Channel) *simChannel {
	c, ok := s.channels[ch]
	if !ok {
		c = &simChannel{}
		s.channels[ch] = c
	}
	return c
}

// SetPrimaryAddress implements Registers.
func (s *Sim) SetPrimaryAddress(ch Channel, addr uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.channel(ch)
	c.primary = addr
	c.writes++
}

// SetSecondaryAddress implements Registers.
func (s *Sim) SetSecondaryAddress(ch Channel, addr uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.channel(ch)
	c.secondary = addr
	c.writes++
}

// EnableInterrupts implements Registers.
func (s *Sim) EnableInterrupts(ch Channel, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channel(ch).irq = on
}

// IsUnderflowed implements Registers.
func (s *Sim) IsUnderflowed(ch Channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.channel(ch)
	u := c.underflow
	c.underflow = false
	return u
}

// Addresses returns the destination registers of ch.
func (s *Sim) Addresses(ch Channel) (primary, secondary uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.channel(ch)
	return c.primary, c.secondary
}

// InterruptsEnabled reports whether ch raises interrupts.
func (s *Sim) InterruptsEnabled(ch Channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel(ch).irq
}

// RegisterWrites returns the number of address register writes on ch.
func (s *Sim) RegisterWrites(ch Channel) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel(ch).writes
}

// Field simulates a field boundary on ch. The engine finishes writing to the
// latched primary address and raises BufferChanged when interrupts are on.
// A zero primary address sets the underflow status.
func (s *Sim) Field(ch Channel) {
	s.mu.Lock()
	c := s.channel(ch)
	if c.primary == 0 {
		c.underflow = true
	}
	c.fields++
	h := s.handler
	irq := c.irq
	s.mu.Unlock()

	if irq && h != nil {
		h.BufferChanged(ch)
	}
}

// Frame simulates the completion of a frame on ch: FieldsPerFrame field
// boundaries followed by FrameDone.
func (s *Sim) Frame(ch Channel) {
	for i := 0; i < s.cfg.FieldsPerFrame; i++ {
		s.Field(ch)
	}

	s.mu.Lock()
	h := s.handler
	irq := s.channel(ch).irq
	s.mu.Unlock()

	if irq && h != nil {
		h.FrameDone(ch)
	}
}

// Run drives every channel with interrupts enabled at the configured frame
// rate until ctx is cancelled.
func (s *Sim) Run(ctx context.Context) {
	interval := time.Second / time.Duration(s.cfg.FPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("Simulated capture engine running", "fps", s.cfg.FPS, "fields_per_frame", s.cfg.FieldsPerFrame)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Simulated capture engine stopped")
			return
		case <-ticker.C:
			for _, ch := range s.activeChannels() {
				s.Frame(ch)
			}
		}
	}
}

// activeChannels returns channels that currently raise interrupts.
func (s *Sim) activeChannels() []Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := make([]Channel, 0, len(s.channels))
	for ch, c := range s.channels {
		if c.irq {
			active = append(active, ch)
		}
	}
	return active
}

// Alloc implements Allocator. Regions are page aligned.
func (s *Sim) Alloc(size int) (uint64, error) {
	if size <= 0 {
		return 0, fmt.Errorf("invalid allocation size %d", size)
	}
	size = (size + simPageSize - 1) &^ (simPageSize - 1)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.MemoryBytes > 0 && s.used+size > s.cfg.MemoryBytes {
		return 0, fmt.Errorf("alloc %d bytes with %d of %d in use: %w", size, s.used, s.cfg.MemoryBytes, ErrNoMemory)
	}

	addr := s.next
	s.next += uint64(size)
	s.used += size
	s.allocs[addr] = size
	return addr, nil
}

// Free implements Allocator.
func (s *Sim) Free(addr uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	size, ok := s.allocs[addr]
	if !ok {
		s.logger.Warn("Free of unknown DMA region", "addr", fmt.Sprintf("%#x", addr))
		return
	}
	delete(s.allocs, addr)
	s.used -= size
}

// Outstanding returns the number of live allocations and their total size.
func (s *Sim) Outstanding() (count, bytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.allocs), s.used
}

// Acquire implements Clock.
func (s *Sim) Acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clockErr != nil {
		return s.clockErr
	}
	s.clockUsers++
	s.clockAcquires++
	return nil
}

// Release implements Clock.
func (s *Sim) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clockUsers == 0 {
		s.logger.Error("Clock released while not held")
		return
	}
	s.clockUsers--
	s.clockReleases++
}

// FailClock makes subsequent Acquire calls return err. Nil clears it.
func (s *Sim) FailClock(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clockErr = err
}

// ClockStats returns how often the clock was acquired and released.
func (s *Sim) ClockStats() (acquires, releases int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clockAcquires, s.clockReleases
}
