// Package sensor decides whether a participant is asleep by asking a list
// of sensors in order. The first sensor that says "asleep" wins; errors and
// panics from a sensor count as "not asleep".
package sensor

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/sweeney/nightskip/internal/gpio"
	"github.com/sweeney/nightskip/internal/logic"
)

// Sensor inspects one participant.
type Sensor interface {
	Name() string
	Asleep(p logic.Participant) (bool, error)
}

// Chain is a logic.SleepPredicate built from ordered sensors.
type Chain struct {
	sensors []Sensor
	logger  *slog.Logger
}

var _ logic.SleepPredicate = (*Chain)(nil)

// NewChain returns a chain that consults sensors in the given order.
func NewChain(logger *slog.Logger, sensors ...Sensor) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{sensors: sensors, logger: logger}
}

// IsSleeping reports whether any sensor sees p asleep.
func (c *Chain) IsSleeping(p logic.Participant) bool {
	for _, s := range c.sensors {
		asleep, err := c.ask(s, p)
		if err != nil {
			c.logger.Debug("sensor error", "sensor", s.Name(), "participant", p.ID, "error", err)
			continue
		}
		if asleep {
			return true
		}
	}
	return false
}

func (c *Chain) ask(s Sensor, p logic.Participant) (asleep bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			asleep, err = false, fmt.Errorf("sensor panic: %v", r)
		}
	}()
	return s.Asleep(p)
}

// Mount treats a player mounted on any entity as in bed.
type Mount struct{}

func (Mount) Name() string { return "mount" }

func (Mount) Asleep(p logic.Participant) (bool, error) {
	return p.MountID > 0, nil
}

// Somnolence reads the sleep state reported by the host.
type Somnolence struct{}

func (Somnolence) Name() string { return "somnolence" }

// Asleep is true for the Slumber and NoddingOff states.
func (Somnolence) Asleep(p logic.Participant) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(p.SleepState)) {
	case "slumber", "noddingoff", "nodding_off":
		return true, nil
	}
	return false, nil
}

// Bed reads a pressure mat assigned to a participant.
type Bed struct {
	reader gpio.Reader
	lines  map[uuid.UUID]int
}

// NewBed maps participant ids to GPIO line offsets.
func NewBed(reader gpio.Reader, lines map[uuid.UUID]int) *Bed {
	return &Bed{reader: reader, lines: lines}
}

func (b *Bed) Name() string { return "bed" }

// Asleep returns false without error for participants with no mat.
func (b *Bed) Asleep(p logic.Participant) (bool, error) {
	off, ok := b.lines[p.ID]
	if !ok {
		return false, nil
	}
	return b.reader.Occupied(off)
}

// ParseBedLines converts "uuid"→offset pairs from configuration.
func ParseBedLines(raw map[string]int) (map[uuid.UUID]int, error) {
	out := make(map[uuid.UUID]int, len(raw))
	for k, v := range raw {
		id, err := uuid.Parse(strings.TrimSpace(k))
		if err != nil {
			return nil, fmt.Errorf("bed line key %q: %w", k, err)
		}
		if v < 0 {
			return nil, fmt.Errorf("bed line for %s: negative offset %d", id, v)
		}
		out[id] = v
	}
	return out, nil
}

// Offsets returns the distinct line offsets of a bed map.
func Offsets(lines map[uuid.UUID]int) []int {
	seen := make(map[int]bool, len(lines))
	var out []int
	for _, off := range lines {
		if !seen[off] {
			seen[off] = true
			out = append(out, off)
		}
	}
	return out
}
