// Package hw defines the boundary between the VIN output pipeline and the
// capture hardware: destination address registers, interrupt delivery,
// DMA memory and the clock gate.
//
// The pipeline only ever talks to these interfaces. Sim implements all of
// them in software so the service and the tests can run without a camera
// subsystem attached.
package hw

import (
	"errors"
	"fmt"
	"strings"
)

// Channel selects one destination register set of a capture engine.
type Channel uint8

// Capture channels.
const (
	ChannelRaw Channel = iota // AXI write of the unprocessed sensor stream
	ChannelYUV                // ISP output, luma plane plus chroma plane
)

// String returns the channel name used in configuration files.
func (c Channel) String() string {
	switch c {
	case ChannelRaw:
		return "raw"
	case ChannelYUV:
		return "yuv"
	default:
		return fmt.Sprintf("channel%d", uint8(c))
	}
}

// ParseChannel converts a configuration name into a Channel.
func ParseChannel(name string) (Channel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "raw", "wr":
		return ChannelRaw, nil
	case "yuv", "isp":
		return ChannelYUV, nil
	default:
		return 0, fmt.Errorf("unknown capture channel %q", name)
	}
}

// ErrNoMemory is returned by an Allocator when the DMA pool is exhausted.
var ErrNoMemory = errors.New("dma pool exhausted")

// Registers is the register window of the capture engines.
//
// The address setters write the current-frame destination registers. An
// engine latches them at the next frame or field boundary.
type Registers interface {
	SetPrimaryAddress(ch Channel, addr uint64)
	SetSecondaryAddress(ch Channel, addr uint64)
	EnableInterrupts(ch Channel, on bool)
	// IsUnderflowed reports and clears the write-underflow status of ch.
	IsUnderflowed(ch Channel) bool
}

// Handler receives interrupt notifications from the register layer.
// Implementations must not block.
type Handler interface {
	// BufferChanged is raised at every frame or field boundary.
	BufferChanged(ch Channel)
	// FrameDone is raised when a full frame has been committed to memory.
	FrameDone(ch Channel)
}

// Allocator hands out DMA-coherent memory regions addressed by bus address.
type Allocator interface {
	Alloc(size int) (uint64, error)
	Free(addr uint64)
}

// Clock gates power and clocks of the capture block.
type Clock interface {
	Acquire() error
	Release()
}
