package vin

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/smazurov/camss/internal/hw"
)

// scratch is one dummy buffer region.
type scratch struct {
	base uint64
	size int
	addr [2]uint64
}

// dummyPool owns the dummy buffers of one capture engine. The memory lives
// while at least one line sourced from the engine is streaming. mu may be
// held across allocation and is never taken from the interrupt path.
type dummyPool struct {
	engine string
	alloc  hw.Allocator
	logger *slog.Logger

	settleFrames int32
	settle       atomic.Int32

	mu          sync.Mutex
	streamCount int
	buffers     map[Layout]*scratch
}

func newDummyPool(engine string, alloc hw.Allocator, settleFrames int, logger *slog.Logger) *dummyPool {
	return &dummyPool{
		engine:       engine,
		alloc:        alloc,
		logger:       logger,
		settleFrames: int32(settleFrames),
		buffers:      make(map[Layout]*scratch),
	}
}

// dummyAcquire reports the outcome of an acquire.
type dummyAcquire struct {
	addr  [2]uint64 // zero when no memory could be allocated
	first bool      // stream count went 0 -> 1
	bytes int       // bytes newly allocated
}

// acquire takes a stream reference and returns the dummy buffer for layout
// sized for f, allocating it if needed. Allocation failure is not fatal:
// the returned address is zero and the caller skips programming it.
func (p *dummyPool) acquire(f Format, layout Layout) dummyAcquire {
	p.mu.Lock()
	defer p.mu.Unlock()

	var res dummyAcquire
	if p.streamCount == 0 {
		res.first = true
		p.settle.Store(p.settleFrames)
	}
	p.streamCount++

	s, ok := p.buffers[layout]
	if !ok {
		var err error
		s, err = p.allocLocked(f, layout)
		if err != nil {
			p.logger.Warn("Dummy buffer allocation failed, continuing without fallback",
				"engine", p.engine, "layout", layout, "error", err)
			return res
		}
		p.buffers[layout] = s
		res.bytes = s.size
	}
	res.addr = s.addr
	return res
}

func (p *dummyPool) allocLocked(f Format, layout Layout) (*scratch, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	g := layout.Geometry(f)
	base, err := p.alloc.Alloc(g.Size)
	if err != nil {
		return nil, err
	}
	s := &scratch{base: base, size: g.Size}
	s.addr[0] = base + uint64(g.Offsets[0])
	if layout.Planes() > 1 {
		s.addr[1] = base + uint64(g.Offsets[1])
	}
	p.logger.Debug("Dummy buffer allocated", "engine", p.engine, "layout", layout,
		"size", g.Size, "addr", fmt.Sprintf("%#x", base))
	return s, nil
}

// dummyRelease reports the outcome of a release.
type dummyRelease struct {
	ok    bool      // a reference was held
	last  bool      // stream count went 1 -> 0 and memory was freed
	addr  [2]uint64 // dummy buffer still available for the layout
	bytes int       // bytes freed
}

// release drops a stream reference. The memory is freed with the last one.
func (p *dummyPool) release(layout Layout) dummyRelease {
	p.mu.Lock()
	defer p.mu.Unlock()

	var res dummyRelease
	if p.streamCount == 0 {
		p.logger.Error("Dummy buffer release on stream_count = 0", "engine", p.engine)
		return res
	}
	res.ok = true

	if p.streamCount == 1 {
		for l, s := range p.buffers {
			p.alloc.Free(s.base)
			res.bytes += s.size
			delete(p.buffers, l)
		}
		res.last = true
	} else if s, ok := p.buffers[layout]; ok {
		res.addr = s.addr
	}
	p.streamCount--
	return res
}

// settling consumes one settle frame. It reports true while frame-done
// notifications of the engine should still be ignored.
func (p *dummyPool) settling() bool {
	for {
		n := p.settle.Load()
		if n <= 0 {
			return false
		}
		if p.settle.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

// count returns the engine stream count.
func (p *dummyPool) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.streamCount
}
