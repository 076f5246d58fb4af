package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/sweeney/nightskip/internal/notify"
	"github.com/sweeney/nightskip/internal/render"
	"github.com/sweeney/nightskip/internal/web"
)

const ctlTimeout = 15 * time.Second

var flagAddr string

var ctlCmd = &cobra.Command{
	Use:   "ctl <help|reload|setpercent|setdelay> [args...]",
	Short: "Send a control command to a running daemon",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := settings.HTTPAddr
		if cmd.Flags().Changed("addr") {
			addr = flagAddr
		}
		if addr == "" {
			return errors.New("no daemon address: set --addr or NIGHTSKIP_HTTP_ADDR")
		}
		resp, err := sendControl(cmd.Context(), http.DefaultClient, addr, args[0], args[1:])
		if err != nil {
			return err
		}
		re := lipgloss.NewRenderer(os.Stdout)
		fmt.Fprintln(os.Stdout, notify.Styled(re, render.Message{Runs: resp.Runs}))
		if !resp.OK {
			return fmt.Errorf("%s failed: %s", args[0], resp.Error)
		}
		return nil
	},
}

func init() {
	ctlCmd.Flags().StringVar(&flagAddr, "addr", "", "Daemon HTTP address (defaults to --http)")
}

// controlURL turns a listen address like ":8080" into the endpoint URL.
func controlURL(addr, command string) string {
	base := addr
	switch {
	case strings.HasPrefix(addr, "http://"), strings.HasPrefix(addr, "https://"):
	case strings.HasPrefix(addr, ":"):
		base = "http://localhost" + addr
	default:
		base = "http://" + addr
	}
	return strings.TrimSuffix(base, "/") + "/control/" + url.PathEscape(command)
}

func sendControl(ctx context.Context, client *http.Client, addr, command string, args []string) (web.ControlResponse, error) {
	if args == nil {
		args = []string{}
	}
	body, err := json.Marshal(web.ControlRequest{Args: args})
	if err != nil {
		return web.ControlResponse{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, ctlTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, controlURL(addr, command), bytes.NewReader(body))
	if err != nil {
		return web.ControlResponse{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return web.ControlResponse{}, fmt.Errorf("contact daemon: %w", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil {
		return web.ControlResponse{}, fmt.Errorf("read reply: %w", err)
	}
	var out web.ControlResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return web.ControlResponse{}, fmt.Errorf("daemon replied %s: %w", res.Status, err)
	}
	return out, nil
}
