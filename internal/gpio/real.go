//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealReader reads bed mats from actual hardware using the Linux GPIO
// character device.
type RealReader struct {
	chip  *gpiocdev.Chip
	lines map[int]*gpiocdev.Line
}

// NewRealReader requests every offset as an input with pull-down. With
// activeLow set, a low level counts as occupied (mats wired to ground).
func NewRealReader(chipName string, offsets []int, activeLow bool) (*RealReader, error) {
	if chipName == "" {
		chipName = DefaultChip
	}
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	r := &RealReader{chip: chip, lines: make(map[int]*gpiocdev.Line, len(offsets))}
	opts := []gpiocdev.LineReqOption{gpiocdev.AsInput, gpiocdev.WithPullDown}
	if activeLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	for _, off := range offsets {
		if _, dup := r.lines[off]; dup {
			continue
		}
		line, err := chip.RequestLine(off, opts...)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("request bed line %d: %w", off, err)
		}
		r.lines[off] = line
	}
	return r, nil
}

// Occupied returns the logical value of the line; active means pressed.
func (r *RealReader) Occupied(offset int) (bool, error) {
	line, ok := r.lines[offset]
	if !ok {
		return false, fmt.Errorf("bed line %d not requested", offset)
	}
	v, err := line.Value()
	if err != nil {
		return false, fmt.Errorf("read bed line %d: %w", offset, err)
	}
	return v == 1, nil
}

// Close releases GPIO resources.
// Lines are put back to input with pull-down (the Pi boot default) before
// closing so the mats are left in a clean state.
func (r *RealReader) Close() error {
	var errs []error

	for off, line := range r.lines {
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure line %d: %w", off, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close line %d: %w", off, err))
		}
	}
	r.lines = nil
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		r.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
