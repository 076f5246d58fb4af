package notify

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/sweeney/nightskip/internal/render"
)

// Styled renders msg for a terminal. Colour is dropped when the renderer's
// output is not a terminal.
func Styled(re *lipgloss.Renderer, msg render.Message) string {
	var b strings.Builder
	for _, r := range msg.Runs {
		if r.Text == "" {
			continue
		}
		st := re.NewStyle().Bold(r.Bold).Italic(r.Italic)
		if r.Color != "" {
			st = st.Foreground(lipgloss.Color(r.Color))
		}
		b.WriteString(st.Render(r.Text))
	}
	return b.String()
}

// Console mirrors chat to a terminal, one line per message.
type Console struct {
	mu    sync.Mutex
	w     io.Writer
	re    *lipgloss.Renderer
	now   func() time.Time
	names func(uuid.UUID) string
	muted lipgloss.Style
}

// NewConsole writes to w. names resolves a player id for private
// messages; nil prints the id.
func NewConsole(w io.Writer, names func(uuid.UUID) string) *Console {
	re := lipgloss.NewRenderer(w)
	return &Console{w: w, re: re, now: time.Now, names: names, muted: re.NewStyle().Faint(true)}
}

// Broadcast prints msg.
func (c *Console) Broadcast(_ context.Context, msg render.Message) error {
	return c.print("all", msg)
}

// Send prints a private message.
func (c *Console) Send(_ context.Context, id uuid.UUID, msg render.Message) error {
	name := id.String()
	if c.names != nil {
		if n := c.names(id); n != "" {
			name = n
		}
	}
	return c.print("@"+name, msg)
}

func (c *Console) print(target string, msg render.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	stamp := c.muted.Render(c.now().Format("15:04:05"))
	_, err := fmt.Fprintf(c.w, "%s %-5s %s\n", stamp, target, Styled(c.re, msg))
	return err
}
