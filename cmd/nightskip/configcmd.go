package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/nightskip/internal/config"
	"github.com/sweeney/nightskip/internal/logging"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the settings file",
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Load, repair and print the effective settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := config.NewStore(settings.ConfigPath, logging.FromContext(cmd.Context()))
		cfg, wrote := store.Load()
		out, err := yaml.Marshal(summarize(store.Path(), cfg, wrote))
		if err != nil {
			return fmt.Errorf("encode summary: %w", err)
		}
		_, err = os.Stdout.Write(out)
		return err
	},
}

func init() {
	configCmd.AddCommand(configCheckCmd)
}

// configSummary is the effective configuration as shown by config check.
type configSummary struct {
	Path            string            `yaml:"path"`
	Rewritten       bool              `yaml:"rewritten"`
	RequiredPercent float64           `yaml:"required_percent"`
	Delay           string            `yaml:"delay"`
	NightStart      string            `yaml:"night_start"`
	NightEnd        string            `yaml:"night_end"`
	Templates       map[string]string `yaml:"templates"`
}

func summarize(path string, cfg config.Config, wrote bool) configSummary {
	t := cfg.Templates
	return configSummary{
		Path:            path,
		Rewritten:       wrote,
		RequiredPercent: cfg.RequiredPercent,
		Delay:           (time.Duration(cfg.DelaySeconds) * time.Second).String(),
		NightStart:      cfg.NightStart.String(),
		NightEnd:        cfg.NightEnd.String(),
		Templates: map[string]string{
			"sleep_status":      t.SleepStatus,
			"threshold_reached": t.ThresholdReached,
			"threshold_lost":    t.ThresholdLost,
			"night_skipped":     t.NightSkipped,
			"sleep_not_allowed": t.SleepNotAllowed,
		},
	}
}
