// Package control implements the operator commands: reload, setpercent,
// setdelay and help. Commands arrive from HTTP or MQTT and are executed on
// the run loop through a Queue.
package control

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/sweeney/nightskip/internal/render"
)

var (
	// ErrUnknownCommand is reported for a command name that does not exist.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrUsage is reported when arguments are missing or malformed.
	ErrUsage = errors.New("usage")
)

// Reply colours.
const (
	ColorMuted  = "#6B7280"
	ColorBrand  = "#7C3AED"
	ColorOK     = "#22C55E"
	ColorText   = "#E5E7EB"
	ColorFailed = "#EF4444"
)

// Handler applies configuration changes. SetPercent and SetDelay return the
// value actually applied after clamping.
type Handler interface {
	Reload(ctx context.Context) error
	SetPercent(ctx context.Context, percent float64) (float64, error)
	SetDelay(ctx context.Context, seconds int) (int, error)
}

// Reply is the outcome of one command. Err is set for usage mistakes and
// handler failures; Lines are always suitable for showing to the operator.
type Reply struct {
	Lines []render.Message
	Err   error
}

// Message joins the lines into one message separated by newlines.
func (r Reply) Message() render.Message {
	var out render.Message
	for i, l := range r.Lines {
		if i > 0 {
			out = render.Join(out, render.Text("\n", "", false))
		}
		out = render.Join(out, l)
	}
	return out
}

// Plain returns the reply text without styling.
func (r Reply) Plain() string {
	return r.Message().Plain()
}

// Prefix is the branded "[NoNightmare] " lead-in.
func Prefix() render.Message {
	return render.Join(
		render.Text("[", ColorMuted, false),
		render.Text("NoNightmare", ColorBrand, true),
		render.Text("] ", ColorMuted, false),
	)
}

func ok(body string) Reply {
	return Reply{Lines: []render.Message{render.Join(Prefix(), render.Text(body, ColorOK, true))}}
}

func failed(body string, err error) Reply {
	return Reply{
		Lines: []render.Message{render.Join(Prefix(), render.Text(body, ColorFailed, true))},
		Err:   err,
	}
}

// Help lists the commands.
func Help() Reply {
	return Reply{Lines: []render.Message{
		render.Join(Prefix(), render.Text("Commands", ColorText, true)),
		render.Text("help - Show this help.", ColorText, false),
		render.Text("reload - Reload the plugin configuration.", ColorText, false),
		render.Text("setpercent <0-100> - Set required sleep percentage.", ColorText, false),
		render.Text("setdelay <seconds> - Set delay before sunrise (recommend 2-3s max).", ColorText, false),
	}}
}

func usage(err error) Reply {
	r := Help()
	r.Err = err
	return r
}

// Execute runs one command against h. Command names are case-insensitive;
// an empty command shows the help.
func Execute(ctx context.Context, h Handler, command string, args []string) Reply {
	switch strings.ToLower(strings.TrimSpace(command)) {
	case "", "help":
		return Help()

	case "reload":
		if err := h.Reload(ctx); err != nil {
			return failed("Reload failed.", fmt.Errorf("reload: %w", err))
		}
		return ok("Configuración recargada.")

	case "setpercent":
		if len(args) != 1 {
			return usage(fmt.Errorf("%w: setpercent <0-100>", ErrUsage))
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(args[0]), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return usage(fmt.Errorf("%w: setpercent needs a number, got %q", ErrUsage, args[0]))
		}
		applied, err := h.SetPercent(ctx, v)
		if err != nil {
			return failed("Could not save the sleep percent.", fmt.Errorf("setpercent: %w", err))
		}
		return ok(fmt.Sprintf("Sleep percent set to %.1f%%.", applied))

	case "setdelay":
		if len(args) != 1 {
			return usage(fmt.Errorf("%w: setdelay <seconds>", ErrUsage))
		}
		v, err := strconv.Atoi(strings.TrimSpace(args[0]))
		if err != nil {
			return usage(fmt.Errorf("%w: setdelay needs whole seconds, got %q", ErrUsage, args[0]))
		}
		applied, err := h.SetDelay(ctx, v)
		if err != nil {
			return failed("Could not save the delay.", fmt.Errorf("setdelay: %w", err))
		}
		return ok(fmt.Sprintf("Delay set to %ds.", applied))

	default:
		return usage(fmt.Errorf("%w: %q", ErrUnknownCommand, command))
	}
}
