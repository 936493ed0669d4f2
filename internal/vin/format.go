package vin

import (
	"fmt"
	"strings"
)

const (
	widthAlign = 8
	pageSize   = 4096
)

// Format is the active frame geometry of a line as negotiated upstream.
type Format struct {
	Width  int
	Height int
	Code   string
}

// Validate reports whether f describes a frame that can be captured.
func (f Format) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid format %dx%d", f.Width, f.Height)
	}
	return nil
}

// FormatSource provides the active format of a line. The pipeline only reads it.
type FormatSource interface {
	ActiveFormat(lineID int) Format
}

// FormatTable is a static FormatSource keyed by line ID.
type FormatTable map[int]Format

// ActiveFormat implements FormatSource.
func (t FormatTable) ActiveFormat(lineID int) Format {
	return t[lineID]
}

// Layout is the memory layout a line writes.
type Layout string

// Memory layouts.
const (
	LayoutRaw Layout = "raw" // single plane, 4 bytes per pixel
	LayoutYUV Layout = "yuv" // luma plane followed by half-height chroma plane
)

// ParseLayout converts a configuration name into a Layout.
func ParseLayout(s string) (Layout, error) {
	switch l := Layout(strings.ToLower(strings.TrimSpace(s))); l {
	case LayoutRaw, LayoutYUV:
		return l, nil
	default:
		return "", fmt.Errorf("unknown memory layout %q", s)
	}
}

// Planes returns the number of address planes of the layout.
func (l Layout) Planes() int {
	if l == LayoutYUV {
		return 2
	}
	return 1
}

// Geometry describes a buffer sized for a format in a layout.
type Geometry struct {
	Stride int
	Size   int
	// Offsets of each plane from the start of the region.
	Offsets [2]int
}

// Geometry computes the stride, page aligned size and plane offsets needed to
// hold one frame of f.
func (l Layout) Geometry(f Format) Geometry {
	switch l {
	case LayoutYUV:
		stride := align(f.Width, widthAlign)
		return Geometry{
			Stride:  stride,
			Size:    align(stride*f.Height*3/2, pageSize),
			Offsets: [2]int{0, stride * f.Height},
		}
	default:
		stride := align(f.Width*4, widthAlign)
		return Geometry{
			Stride: stride,
			Size:   align(stride*f.Height, pageSize),
		}
	}
}

func align(v, a int) int {
	return (v + a - 1) / a * a
}
