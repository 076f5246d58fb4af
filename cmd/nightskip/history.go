package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/sweeney/nightskip/internal/logging"
	"github.com/sweeney/nightskip/internal/mqtt"
	"github.com/sweeney/nightskip/internal/notify"
	"github.com/sweeney/nightskip/internal/render"
)

var (
	flagHistoryRedis string
	flagHistoryLimit int64
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent chat from the Redis feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		url := settings.RedisURL
		if cmd.Flags().Changed("redis") {
			url = flagHistoryRedis
		}
		if url == "" {
			return errors.New("no redis feed: set --redis or NIGHTSKIP_REDIS_URL")
		}
		ctx := cmd.Context()
		feed, err := notify.NewRedis(ctx, url, redisPrefix(settings.World), logging.FromContext(ctx))
		if err != nil {
			return err
		}
		defer feed.Close()
		return printHistory(ctx, os.Stdout, lipgloss.NewRenderer(os.Stdout), feed, flagHistoryLimit)
	},
}

func init() {
	f := historyCmd.Flags()
	f.StringVar(&flagHistoryRedis, "redis", "", "Redis URL of the chat feed (defaults to NIGHTSKIP_REDIS_URL)")
	f.Int64VarP(&flagHistoryLimit, "limit", "n", 20, "Number of messages to show")
}

// redisPrefix namespaces the chat feed per world.
func redisPrefix(world string) string {
	return "nightskip:" + world
}

type historySource interface {
	History(ctx context.Context, n int64) ([]string, error)
}

// printHistory writes the feed oldest first, one message per line.
func printHistory(ctx context.Context, w io.Writer, re *lipgloss.Renderer, src historySource, n int64) error {
	entries, err := src.History(ctx, n)
	if err != nil {
		return err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		var p mqtt.ChatPayload
		if err := json.Unmarshal([]byte(entries[i]), &p); err != nil {
			fmt.Fprintf(w, "?        ?     %s\n", entries[i])
			continue
		}
		m := p.Message
		stamp := m.Timestamp
		if ts, err := time.Parse(time.RFC3339, m.Timestamp); err == nil {
			stamp = ts.Local().Format("15:04:05")
		}
		target := m.Target
		if target != mqtt.TargetAll {
			target = "@" + target
		}
		fmt.Fprintf(w, "%s %-5s %s\n", stamp, target, notify.Styled(re, render.Message{Runs: m.Runs}))
	}
	return nil
}
