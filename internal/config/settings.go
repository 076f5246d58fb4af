package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Settings are daemon options read from NIGHTSKIP_* environment variables.
// Command-line flags override them.
type Settings struct {
	ConfigPath   string         `env:"NIGHTSKIP_CONFIG" envDefault:"nonightmare.json"`
	Broker       string         `env:"NIGHTSKIP_MQTT_BROKER" envDefault:"tcp://localhost:1883"`
	ClientID     string         `env:"NIGHTSKIP_MQTT_CLIENT_ID" envDefault:"nightskip"`
	TopicPrefix  string         `env:"NIGHTSKIP_TOPIC_PREFIX" envDefault:"nightskip"`
	World        string         `env:"NIGHTSKIP_WORLD" envDefault:"default"`
	HTTPAddr     string         `env:"NIGHTSKIP_HTTP_ADDR" envDefault:":8080"`
	RedisURL     string         `env:"NIGHTSKIP_REDIS_URL"`
	Tick         time.Duration  `env:"NIGHTSKIP_TICK" envDefault:"1s"`
	Heartbeat    time.Duration  `env:"NIGHTSKIP_HEARTBEAT" envDefault:"15m"`
	LogLevel     string         `env:"NIGHTSKIP_LOG_LEVEL" envDefault:"info"`
	LogFormat    string         `env:"NIGHTSKIP_LOG_FORMAT" envDefault:"text"`
	Console      bool           `env:"NIGHTSKIP_CONSOLE"`
	GPIOChip     string         `env:"NIGHTSKIP_GPIO_CHIP" envDefault:"gpiochip0"`
	BedLines     map[string]int `env:"NIGHTSKIP_BED_LINES" envSeparator:"," envKeyValSeparator:"="`
	BedActiveLow bool           `env:"NIGHTSKIP_BED_ACTIVE_LOW"`
}

// LoadSettings parses the environment.
func LoadSettings() (Settings, error) {
	var s Settings
	if err := env.Parse(&s); err != nil {
		return Settings{}, fmt.Errorf("parse env: %w", err)
	}
	if s.Tick <= 0 {
		return Settings{}, fmt.Errorf("NIGHTSKIP_TICK must be positive, got %v", s.Tick)
	}
	return s, nil
}
