// Package config loads and saves the persisted sleep settings and reads
// daemon settings from the environment.
package config

import (
	"math"
	"time"

	"github.com/sweeney/nightskip/internal/logic"
)

// Defaults for a missing or damaged file.
const (
	DefaultRequiredPercent = 50.0
	DefaultDelaySeconds    = 2
	DefaultNightStartHour  = 18
	DefaultNightEndHour    = 4
	DefaultNightStartTime  = "18:00"
	DefaultNightEndTime    = "04:47"
	DefaultFileName        = "nonightmare.json"
)

const prefix = "{#6B7280}[{#7C3AED}{bold}NoNightmare{/bold}{#6B7280}] "

// Default message templates.
const (
	DefaultMessageSleepStatus      = prefix + "{#E5E7EB}Durmiendo: {#22C55E}{bold}{sleeping}{/bold}{#9CA3AF}/{#E5E7EB}{total} {#9CA3AF}({#38BDF8}{bold}{percent}{/bold}%{#9CA3AF} / {#F59E0B}{bold}{required}{/bold}%{#9CA3AF})"
	DefaultMessageThresholdReached = prefix + "{#E5E7EB}Umbral alcanzado. Amanecerá en {#F59E0B}{bold}{delay}{/bold}{#F59E0B}s"
	DefaultMessageThresholdLost    = prefix + "{#EF4444}{bold}El umbral dejó de cumplirse.{/bold}"
	DefaultMessageNightSkipped     = prefix + "{#22C55E}{bold}¡Buenos días!{/bold} {#E5E7EB}Se alcanzó {#38BDF8}{bold}{percent}{/bold}% {#9CA3AF}({#22C55E}{bold}{sleeping}{/bold}{#9CA3AF}/{#E5E7EB}{total}{#9CA3AF})"
	DefaultMessageSleepNotAllowed  = prefix + "{#F59E0B}{bold}Solo puedes dormir para hacer de Día durante la noche.{/bold}"
)

// Config is the normalised, in-memory form of the persisted file.
type Config struct {
	RequiredPercent float64
	DelaySeconds    int
	NightStartHour  int
	NightEndHour    int
	NightStart      logic.TimeOfDay
	NightEnd        logic.TimeOfDay
	Templates       logic.Templates
}

// Default returns the built-in configuration.
func Default() Config {
	start, _ := logic.ParseTimeOfDay(DefaultNightStartTime)
	end, _ := logic.ParseTimeOfDay(DefaultNightEndTime)
	return Config{
		RequiredPercent: DefaultRequiredPercent,
		DelaySeconds:    DefaultDelaySeconds,
		NightStartHour:  DefaultNightStartHour,
		NightEndHour:    DefaultNightEndHour,
		NightStart:      start,
		NightEnd:        end,
		Templates: logic.Templates{
			SleepStatus:      DefaultMessageSleepStatus,
			ThresholdReached: DefaultMessageThresholdReached,
			ThresholdLost:    DefaultMessageThresholdLost,
			NightSkipped:     DefaultMessageNightSkipped,
			SleepNotAllowed:  DefaultMessageSleepNotAllowed,
		},
	}
}

// Settings converts the config to controller settings.
func (c Config) Settings() logic.Settings {
	return logic.Settings{
		RequiredFraction: c.RequiredPercent / 100,
		Delay:            time.Duration(c.DelaySeconds) * time.Second,
		NightStart:       c.NightStart,
		NightEnd:         c.NightEnd,
		Templates:        c.Templates,
	}
}

// WithPercent returns a copy with the required percent clamped to [0,100].
func (c Config) WithPercent(p float64) Config {
	c.RequiredPercent = ClampPercent(p)
	return c
}

// WithDelay returns a copy with the delay clamped to >= 0.
func (c Config) WithDelay(seconds int) Config {
	c.DelaySeconds = max(0, seconds)
	return c
}

// ClampPercent clamps p to [0,100]; NaN and infinities become the default.
func ClampPercent(p float64) float64 {
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return DefaultRequiredPercent
	}
	return math.Max(0, math.Min(100, p))
}

// ClampHour returns fallback for hours outside 0–23.
func ClampHour(h, fallback int) int {
	if h < 0 || h > 23 {
		return fallback
	}
	return h
}

// ParseTimeOrFallback parses value, then falls back to hour:00, then to def.
func ParseTimeOrFallback(value string, hour int, def string) logic.TimeOfDay {
	if t, err := logic.ParseTimeOfDay(value); err == nil {
		return t
	}
	if hour >= 0 && hour <= 23 {
		return logic.Clock(hour, 0, 0)
	}
	t, _ := logic.ParseTimeOfDay(def)
	return t
}
