package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/camss/internal/hw"
	"github.com/smazurov/camss/internal/vin"
)

const (
	// DefaultBuffers is the number of DMA buffers a session allocates.
	DefaultBuffers = 3
	// MinBuffers keeps one buffer installed while another is being delivered.
	MinBuffers = 2
	// MaxBuffers bounds a single session.
	MaxBuffers = 32
)

// ErrInvalidOptions is returned by Start for out-of-range options.
var ErrInvalidOptions = errors.New("invalid capture options")

// Options configures a capture session.
type Options struct {
	// Buffers is the number of DMA buffers cycled through the line.
	Buffers int
	// Hold delays requeueing a completed buffer, simulating a slow consumer.
	Hold   time.Duration
	Logger *slog.Logger
}

// Stats summarises what a session received.
type Stats struct {
	Line         string
	Session      string
	Buffers      int
	Delivered    uint64
	Errored      uint64
	Requeued     uint64
	Gaps         uint64
	LastSequence uint32
	Started      time.Time
	Stopped      time.Time
}

// Session is a consumer of one line: it owns a set of DMA buffers, queues
// them, and requeues every completed frame until stopped.
type Session struct {
	line    string
	video   *vin.Video
	alloc   hw.Allocator
	regions []uint64
	hold    time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	stopping bool
	haveSeq  bool
	stats    Stats

	holds    sync.WaitGroup
	progress chan struct{}
	done     chan struct{}
	stopped  chan struct{}
	stopCtx  func() bool
}

// Start allocates buffers for line, powers it up and starts streaming. The
// session stops when ctx is cancelled or Stop is called.
func Start(ctx context.Context, dev *vin.Device, alloc hw.Allocator, formats vin.FormatSource, line string, opts Options) (*Session, error) {
	if opts.Buffers == 0 {
		opts.Buffers = DefaultBuffers
	}
	if opts.Buffers < MinBuffers || opts.Buffers > MaxBuffers {
		return nil, fmt.Errorf("%w: buffer count %d out of range [%d, %d]", ErrInvalidOptions, opts.Buffers, MinBuffers, MaxBuffers)
	}
	if opts.Hold < 0 {
		return nil, fmt.Errorf("%w: negative hold %s", ErrInvalidOptions, opts.Hold)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	l, err := dev.Line(line)
	if err != nil {
		return nil, err
	}
	format := formats.ActiveFormat(l.ID)
	if format.Width <= 0 || format.Height <= 0 {
		return nil, fmt.Errorf("line %s has no active format", line)
	}
	geom := l.Layout.Geometry(format)

	s := &Session{
		line:     line,
		alloc:    alloc,
		hold:     opts.Hold,
		logger:   opts.Logger.With("line", line),
		progress: make(chan struct{}, 1),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		stats:    Stats{Line: line, Buffers: opts.Buffers, Started: time.Now()},
	}

	bufs := make([]*vin.Buffer, 0, opts.Buffers)
	for i := 0; i < opts.Buffers; i++ {
		base, err := alloc.Alloc(geom.Size)
		if err != nil {
			s.freeRegions()
			return nil, fmt.Errorf("allocate buffer %d of %d bytes: %w", i, geom.Size, err)
		}
		s.regions = append(s.regions, base)

		planes := []uint64{base + uint64(geom.Offsets[0])}
		if l.Layout.Planes() > 1 {
			planes = append(planes, base+uint64(geom.Offsets[1]))
		}
		b, err := vin.NewBuffer(i, planes...)
		if err != nil {
			s.freeRegions()
			return nil, err
		}
		bufs = append(bufs, b)
	}

	video, err := dev.Attach(line, s.onDone)
	if err != nil {
		s.freeRegions()
		return nil, err
	}
	s.video = video

	if err := video.PowerOn(); err != nil {
		video.Close()
		s.freeRegions()
		return nil, err
	}
	if err := video.StreamOn(); err != nil {
		_ = video.PowerOff()
		video.Close()
		s.freeRegions()
		return nil, err
	}
	for _, b := range bufs {
		if err := video.Queue(b); err != nil {
			_ = s.Stop()
			return nil, fmt.Errorf("queue buffer %d: %w", b.Index, err)
		}
	}

	s.mu.Lock()
	s.stats.Session = video.Status().Output.Session
	s.mu.Unlock()

	s.stopCtx = context.AfterFunc(ctx, func() { _ = s.Stop() })

	s.logger.Info("Capture session started", "buffers", opts.Buffers, "size", geom.Size, "hold", opts.Hold)
	return s, nil
}

// onDone is the delivery callback of the line.
func (s *Session) onDone(b *vin.Buffer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.Outcome != vin.OutcomeDone {
		s.stats.Errored++
		return
	}

	s.stats.Delivered++
	if s.haveSeq && b.Sequence != s.stats.LastSequence+1 {
		s.stats.Gaps++
	}
	s.stats.LastSequence = b.Sequence
	s.haveSeq = true

	select {
	case s.progress <- struct{}{}:
	default:
	}

	if s.stopping {
		return
	}
	if s.hold == 0 {
		s.requeueLocked(b)
		return
	}

	s.holds.Add(1)
	go func() {
		defer s.holds.Done()
		select {
		case <-time.After(s.hold):
		case <-s.done:
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.stopping {
			s.requeueLocked(b)
		}
	}()
}

// requeueLocked hands b back to the line. Holding mu keeps it from racing
// the final flush in Stop.
func (s *Session) requeueLocked(b *vin.Buffer) {
	if err := s.video.Queue(b); err != nil {
		s.logger.Warn("Requeue failed", "buffer", b.Index, "error", err)
		return
	}
	s.stats.Requeued++
}

// Stop stops streaming, returns every buffer and frees the DMA memory.
// It is safe to call more than once.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		<-s.stopped
		return nil
	}
	s.stopping = true
	s.mu.Unlock()

	if s.stopCtx != nil {
		s.stopCtx()
	}
	close(s.done)
	s.holds.Wait()

	var errs []error
	if err := s.video.StreamOff(); err != nil {
		errs = append(errs, err)
	}
	flushed := s.video.Flush(vin.OutcomeError)
	if err := s.video.PowerOff(); err != nil {
		errs = append(errs, err)
	}
	s.video.Close()
	s.freeRegions()

	s.mu.Lock()
	s.stats.Stopped = time.Now()
	st := s.stats
	s.mu.Unlock()

	close(s.stopped)

	s.logger.Info("Capture session stopped", "delivered", st.Delivered, "errored", st.Errored,
		"flushed", flushed, "gaps", st.Gaps)
	return errors.Join(errs...)
}

// Flush returns every buffer queued on the line with outcome. Flushed
// buffers are not requeued, so the line runs on its dummy buffer until the
// session is restarted.
func (s *Session) Flush(outcome vin.Outcome) int {
	n := s.video.Flush(outcome)
	s.logger.Info("Capture session flushed", "outcome", outcome, "buffers", n)
	return n
}

// Line returns the name of the line the session captures from.
func (s *Session) Line() string {
	return s.line
}

func (s *Session) freeRegions() {
	for _, base := range s.regions {
		s.alloc.Free(base)
	}
	s.regions = nil
}

// Done is closed once the session has started stopping.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// WaitFrames blocks until n frames were delivered, the session stops or ctx
// is done.
func (s *Session) WaitFrames(ctx context.Context, n uint64) error {
	for {
		if s.Stats().Delivered >= n {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			if s.Stats().Delivered >= n {
				return nil
			}
			return errors.New("session stopped")
		case <-s.progress:
		}
	}
}
