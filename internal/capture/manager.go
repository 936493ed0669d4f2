package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/smazurov/camss/internal/events"
	"github.com/smazurov/camss/internal/hw"
	"github.com/smazurov/camss/internal/vin"
)

// Errors returned by Manager.
var (
	ErrSessionActive = errors.New("capture session already running")
	ErrNoSession     = errors.New("no capture session running")
)

// Publisher receives session lifecycle events.
type Publisher interface {
	Publish(ev events.Event)
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithPublisher publishes a CaptureSessionEvent when sessions start and stop.
func WithPublisher(p Publisher) ManagerOption {
	return func(m *Manager) {
		m.bus = p
	}
}

// Manager runs at most one capture session per line.
type Manager struct {
	dev     *vin.Device
	alloc   hw.Allocator
	formats vin.FormatSource
	logger  *slog.Logger
	bus     Publisher

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session manager for dev.
func NewManager(dev *vin.Device, alloc hw.Allocator, formats vin.FormatSource, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		dev:      dev,
		alloc:    alloc,
		formats:  formats,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start starts a session on line. The session outlives the call; ctx only
// bounds its lifetime.
func (m *Manager) Start(ctx context.Context, line string, opts Options) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[line]; ok {
		select {
		case <-s.Done():
			delete(m.sessions, line)
		default:
			return nil, fmt.Errorf("%w on %s", ErrSessionActive, line)
		}
	}

	if opts.Logger == nil {
		opts.Logger = m.logger
	}
	s, err := Start(ctx, m.dev, m.alloc, m.formats, line, opts)
	if err != nil {
		return nil, err
	}
	m.sessions[line] = s
	m.publish("started", s.Stats())
	return s, nil
}

// Stop stops the session on line and returns its final statistics.
func (m *Manager) Stop(line string) (Stats, error) {
	m.mu.Lock()
	s, ok := m.sessions[line]
	delete(m.sessions, line)
	m.mu.Unlock()

	if !ok {
		return Stats{}, fmt.Errorf("%w on %s", ErrNoSession, line)
	}
	err := s.Stop()
	st := s.Stats()
	m.publish("stopped", st)
	return st, err
}

// Get returns the session on line, if one is running.
func (m *Manager) Get(line string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[line]
	if !ok {
		return nil, false
	}
	select {
	case <-s.Done():
		return nil, false
	default:
		return s, true
	}
}

// Lines returns the lines with a running session, sorted.
func (m *Manager) Lines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	lines := make([]string, 0, len(m.sessions))
	for name := range m.sessions {
		lines = append(lines, name)
	}
	sort.Strings(lines)
	return lines
}

// StopAll stops every session.
func (m *Manager) StopAll() error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var errs []error
	for line, s := range sessions {
		if err := s.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", line, err))
		}
		m.publish("stopped", s.Stats())
	}
	return errors.Join(errs...)
}

func (m *Manager) publish(action string, st Stats) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.CaptureSessionEvent{
		Line:      st.Line,
		Session:   st.Session,
		Action:    action,
		Buffers:   st.Buffers,
		Delivered: st.Delivered,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}
