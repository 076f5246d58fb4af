// Package gpio reads bed pressure-mat inputs with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Reader reads the occupancy of bed sensor lines.
type Reader interface {
	// Occupied reports whether the mat on the given line offset is pressed.
	Occupied(offset int) (bool, error)

	// Close releases GPIO resources.
	Close() error
}

// DefaultChip is the GPIO chip used when none is configured.
const DefaultChip = "gpiochip0"
