package vin

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Location records which part of the pipeline currently owns a buffer.
type Location uint32

// Buffer locations.
const (
	AtConsumer Location = iota
	AtPending
	AtReady
	AtSlot0
	AtSlot1
	AtLast
)

func (l Location) String() string {
	switch l {
	case AtConsumer:
		return "consumer"
	case AtPending:
		return "pending"
	case AtReady:
		return "ready"
	case AtSlot0:
		return "slot0"
	case AtSlot1:
		return "slot1"
	case AtLast:
		return "last"
	default:
		return fmt.Sprintf("location(%d)", uint32(l))
	}
}

// slotLocation maps a slot index to its Location.
func slotLocation(idx int) Location {
	if idx == 0 {
		return AtSlot0
	}
	return AtSlot1
}

// Outcome tags a buffer handed back to the consumer.
type Outcome string

// Delivery outcomes.
const (
	OutcomeDone   Outcome = "done"   // frame captured
	OutcomeError  Outcome = "error"  // flushed on stop or failure
	OutcomeQueued Outcome = "queued" // flushed before it was ever used
)

// ParseOutcome converts a string into an Outcome.
func ParseOutcome(s string) (Outcome, error) {
	switch o := Outcome(s); o {
	case OutcomeDone, OutcomeError, OutcomeQueued:
		return o, nil
	default:
		return "", fmt.Errorf("unknown buffer outcome %q", s)
	}
}

// Buffer describes one consumer-owned frame buffer: the bus address of each
// plane plus delivery metadata. Addresses are fixed at creation.
type Buffer struct {
	// Index is the consumer's own identifier for the buffer.
	Index int

	addr   [2]uint64
	planes int
	loc    atomic.Uint32

	// Filled on delivery.
	Sequence  uint32
	Timestamp time.Duration
	Outcome   Outcome
}

// NewBuffer creates a descriptor for a buffer with one or two planes. Every
// plane needs a non-zero bus address; zero is the parked register value.
func NewBuffer(index int, planes ...uint64) (*Buffer, error) {
	if len(planes) == 0 || len(planes) > 2 {
		return nil, fmt.Errorf("buffer %d with %d planes: %w", index, len(planes), ErrBadPlanes)
	}
	for i, addr := range planes {
		if addr == 0 {
			return nil, fmt.Errorf("buffer %d plane %d: %w", index, i, ErrZeroAddress)
		}
	}
	b := &Buffer{Index: index, planes: len(planes)}
	copy(b.addr[:], planes)
	return b, nil
}

// Addr returns the bus address of plane i, or zero if the plane does not exist.
func (b *Buffer) Addr(i int) uint64 {
	if i < 0 || i >= b.planes {
		return 0
	}
	return b.addr[i]
}

// Planes returns the number of planes.
func (b *Buffer) Planes() int {
	return b.planes
}

// Location returns the current owner of the buffer.
func (b *Buffer) Location() Location {
	return Location(b.loc.Load())
}

func (b *Buffer) moveTo(l Location) {
	b.loc.Store(uint32(l))
}

// bufQueue is a FIFO of buffers. Every buffer pushed is moved to the queue's
// location; pop and drain hand ownership back to the caller.
type bufQueue struct {
	items []*Buffer
	loc   Location
}

func (q *bufQueue) push(b *Buffer) {
	b.moveTo(q.loc)
	q.items = append(q.items, b)
}

// pushFront puts b at the head of the queue.
func (q *bufQueue) pushFront(b *Buffer) {
	b.moveTo(q.loc)
	q.items = append(q.items, nil)
	copy(q.items[1:], q.items)
	q.items[0] = b
}

func (q *bufQueue) pop() *Buffer {
	if len(q.items) == 0 {
		return nil
	}
	b := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return b
}

func (q *bufQueue) drain() []*Buffer {
	items := q.items
	q.items = nil
	return items
}

func (q *bufQueue) len() int {
	return len(q.items)
}
