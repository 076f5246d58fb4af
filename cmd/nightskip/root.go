package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sweeney/nightskip/internal/config"
	"github.com/sweeney/nightskip/internal/logging"
)

var (
	flagConfig    string
	flagBroker    string
	flagWorld     string
	flagHTTP      string
	flagLogLevel  string
	flagLogFormat string

	settings config.Settings
)

var rootCmd = &cobra.Command{
	Use:   "nightskip",
	Short: "Sleep quorum night skipper",
	Long: "nightskip follows the players of a game world and skips the night once enough of them\n" +
		"have been asleep for the configured delay. Settings come from NIGHTSKIP_* variables;\n" +
		"flags override them.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, err := config.LoadSettings()
		if err != nil {
			return err
		}
		applyFlags(cmd, &s)
		settings = s

		logger := logging.New(logging.Options{Level: s.LogLevel, Format: s.LogFormat})
		cmd.SetContext(logging.NewContext(cmd.Context(), logger))
		return nil
	},
}

func applyFlags(cmd *cobra.Command, s *config.Settings) {
	f := cmd.Flags()
	if f.Changed("config") {
		s.ConfigPath = flagConfig
	}
	if f.Changed("broker") {
		s.Broker = flagBroker
	}
	if f.Changed("world") {
		s.World = flagWorld
	}
	if f.Changed("http") {
		s.HTTPAddr = flagHTTP
	}
	if f.Changed("log-level") {
		s.LogLevel = flagLogLevel
	}
	if f.Changed("log-format") {
		s.LogFormat = flagLogFormat
	}
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", config.DefaultFileName, "Path to the persisted settings file (.json, .yaml)")
	pf.StringVar(&flagBroker, "broker", "tcp://localhost:1883", "MQTT broker address")
	pf.StringVar(&flagWorld, "world", "default", "World name used in MQTT topics")
	pf.StringVar(&flagHTTP, "http", ":8080", "HTTP status address (empty to disable)")
	pf.StringVar(&flagLogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	pf.StringVar(&flagLogFormat, "log-format", "text", "Log format: text or json")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(ctlCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(historyCmd)
}
