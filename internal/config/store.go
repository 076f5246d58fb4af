package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/nightskip/internal/logic"
)

// fileConfig is the on-disk shape. Message templates are pointers so a
// missing key can be told apart from an intentionally blank template.
type fileConfig struct {
	RequiredSleepPercent    float64 `json:"requiredSleepPercent" yaml:"requiredSleepPercent"`
	SkipDelaySeconds        int     `json:"skipDelaySeconds" yaml:"skipDelaySeconds"`
	NightStartHour          int     `json:"nightStartHour" yaml:"nightStartHour"`
	NightEndHour            int     `json:"nightEndHour" yaml:"nightEndHour"`
	NightStartTime          string  `json:"nightStartTime" yaml:"nightStartTime"`
	NightEndTime            string  `json:"nightEndTime" yaml:"nightEndTime"`
	MessageSleepStatus      *string `json:"messageSleepStatus" yaml:"messageSleepStatus"`
	MessageThresholdReached *string `json:"messageThresholdReached" yaml:"messageThresholdReached"`
	MessageThresholdLost    *string `json:"messageThresholdLost" yaml:"messageThresholdLost"`
	MessageNightSkipped     *string `json:"messageNightSkipped" yaml:"messageNightSkipped"`
	MessageSleepNotAllowed  *string `json:"messageSleepNotAllowed" yaml:"messageSleepNotAllowed"`
}

func defaultFile() fileConfig {
	return fileConfig{
		RequiredSleepPercent: DefaultRequiredPercent,
		SkipDelaySeconds:     DefaultDelaySeconds,
		NightStartHour:       DefaultNightStartHour,
		NightEndHour:         DefaultNightEndHour,
		NightStartTime:       DefaultNightStartTime,
		NightEndTime:         DefaultNightEndTime,
	}
}

func toFile(c Config) fileConfig {
	t := c.Templates
	return fileConfig{
		RequiredSleepPercent:    c.RequiredPercent,
		SkipDelaySeconds:        c.DelaySeconds,
		NightStartHour:          c.NightStartHour,
		NightEndHour:            c.NightEndHour,
		NightStartTime:          c.NightStart.String(),
		NightEndTime:            c.NightEnd.String(),
		MessageSleepStatus:      &t.SleepStatus,
		MessageThresholdReached: &t.ThresholdReached,
		MessageThresholdLost:    &t.ThresholdLost,
		MessageNightSkipped:     &t.NightSkipped,
		MessageSleepNotAllowed:  &t.SleepNotAllowed,
	}
}

// Store reads and writes the config file. JSON is used unless the path
// ends in .yaml or .yml.
type Store struct {
	path   string
	logger *slog.Logger
}

// NewStore creates a store for path.
func NewStore(path string, logger *slog.Logger) *Store {
	if path == "" {
		path = DefaultFileName
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger}
}

// Path returns the config file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) isYAML() bool {
	ext := strings.ToLower(filepath.Ext(s.path))
	return ext == ".yaml" || ext == ".yml"
}

// Load reads the file and normalises it. Problems never fail the load:
// defaults are substituted, and the file is rewritten when it was missing,
// unreadable, invalid or needed a correction. wrote reports a rewrite.
func (s *Store) Load() (cfg Config, wrote bool) {
	raw := defaultFile()
	rewrite := false

	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.logger.Info("config not found, writing defaults", "path", s.path)
		rewrite = true
	case err != nil:
		s.logger.Warn("could not read config", "path", s.path, "error", err)
		rewrite = true
	default:
		if err := s.decode(data, &raw); err != nil {
			s.logger.Warn("invalid config, using defaults", "path", s.path, "error", err)
			raw = defaultFile()
			rewrite = true
		}
	}

	cfg, fixed := normalise(&raw)
	if rewrite || fixed {
		if err := s.write(raw); err != nil {
			s.logger.Warn("could not write config", "path", s.path, "error", err)
			return cfg, false
		}
		return cfg, true
	}
	return cfg, false
}

// Save writes cfg.
func (s *Store) Save(cfg Config) error {
	if err := s.write(toFile(cfg)); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}

func (s *Store) decode(data []byte, raw *fileConfig) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return errors.New("empty file")
	}
	if s.isYAML() {
		return yaml.Unmarshal(data, raw)
	}
	return json.Unmarshal(data, raw)
}

func (s *Store) encode(raw fileConfig) ([]byte, error) {
	if s.isYAML() {
		return yaml.Marshal(raw)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(raw); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Store) write(raw fileConfig) error {
	data, err := s.encode(raw)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// normalise clamps and defaults raw in place so it can be written back,
// and reports whether anything changed.
func normalise(raw *fileConfig) (Config, bool) {
	fixed := false
	cfg := Default()

	pct := ClampPercent(raw.RequiredSleepPercent)
	if pct != raw.RequiredSleepPercent {
		raw.RequiredSleepPercent = pct
		fixed = true
	}
	cfg.RequiredPercent = pct

	if raw.SkipDelaySeconds < 0 {
		raw.SkipDelaySeconds = 0
		fixed = true
	}
	cfg.DelaySeconds = raw.SkipDelaySeconds

	if h := ClampHour(raw.NightStartHour, DefaultNightStartHour); h != raw.NightStartHour {
		raw.NightStartHour = h
		fixed = true
	}
	if h := ClampHour(raw.NightEndHour, DefaultNightEndHour); h != raw.NightEndHour {
		raw.NightEndHour = h
		fixed = true
	}
	cfg.NightStartHour = raw.NightStartHour
	cfg.NightEndHour = raw.NightEndHour
	cfg.NightStart = ParseTimeOrFallback(raw.NightStartTime, raw.NightStartHour, DefaultNightStartTime)
	cfg.NightEnd = ParseTimeOrFallback(raw.NightEndTime, raw.NightEndHour, DefaultNightEndTime)
	if _, err := logic.ParseTimeOfDay(raw.NightStartTime); err != nil {
		raw.NightStartTime = cfg.NightStart.String()
		fixed = true
	}
	if _, err := logic.ParseTimeOfDay(raw.NightEndTime); err != nil {
		raw.NightEndTime = cfg.NightEnd.String()
		fixed = true
	}

	def := cfg.Templates
	fill := func(field **string, def string, dst *string) {
		if *field == nil {
			v := def
			*field = &v
			fixed = true
		}
		*dst = **field
	}
	fill(&raw.MessageSleepStatus, def.SleepStatus, &cfg.Templates.SleepStatus)
	fill(&raw.MessageThresholdReached, def.ThresholdReached, &cfg.Templates.ThresholdReached)
	fill(&raw.MessageThresholdLost, def.ThresholdLost, &cfg.Templates.ThresholdLost)
	fill(&raw.MessageNightSkipped, def.NightSkipped, &cfg.Templates.NightSkipped)
	fill(&raw.MessageSleepNotAllowed, def.SleepNotAllowed, &cfg.Templates.SleepNotAllowed)

	return cfg, fixed
}
