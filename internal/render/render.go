// Package render turns message templates into styled text runs.
//
// A template is plain text with two kinds of {...} tokens:
//
//	{name}      variable, replaced from Vars before styling
//	{#RRGGBB}   set the current colour
//	{bold} {/bold} {italic} {/italic} {mono} {/mono}
//	{reset}     clear colour and all flags
//
// Any other token is kept verbatim, braces included, so a placeholder with no
// matching variable shows up in the output instead of vanishing.
package render

import (
	"sort"
	"strings"
)

// Vars maps variable names (without braces) to their substituted text.
type Vars map[string]string

// Run is a contiguous piece of text with a single style.
type Run struct {
	Text   string `json:"text"`
	Color  string `json:"color,omitempty"`
	Bold   bool   `json:"bold,omitempty"`
	Italic bool   `json:"italic,omitempty"`
	Mono   bool   `json:"mono,omitempty"`
}

// Message is an ordered list of styled runs.
type Message struct {
	Runs []Run `json:"runs"`
}

// Empty reports whether the message has no visible text.
func (m Message) Empty() bool {
	for _, r := range m.Runs {
		if r.Text != "" {
			return false
		}
	}
	return true
}

// Plain returns the text of all runs with styling dropped.
func (m Message) Plain() string {
	var b strings.Builder
	for _, r := range m.Runs {
		b.WriteString(r.Text)
	}
	return b.String()
}

// Join concatenates messages into one.
func Join(msgs ...Message) Message {
	var out Message
	for _, m := range msgs {
		out.Runs = append(out.Runs, m.Runs...)
	}
	return out
}

// Text builds a single-run message.
func Text(text, color string, bold bool) Message {
	return Message{Runs: []Run{{Text: text, Color: color, Bold: bold}}}
}

type style struct {
	color  string
	bold   bool
	italic bool
	mono   bool
}

func (s style) run(text string) Run {
	return Run{Text: text, Color: s.color, Bold: s.bold, Italic: s.italic, Mono: s.mono}
}

// Render substitutes vars into tmpl and parses the style markup.
// Blank templates render as an empty message.
func Render(tmpl string, vars Vars) Message {
	if strings.TrimSpace(tmpl) == "" {
		return Message{}
	}
	return parse(substitute(tmpl, vars))
}

// substitute replaces {name} for every name in vars. Keys are applied in
// sorted order so output does not depend on map iteration.
func substitute(tmpl string, vars Vars) string {
	if len(vars) == 0 {
		return tmpl
	}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, "{"+k+"}", vars[k])
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

func parse(s string) Message {
	var (
		msg Message
		buf strings.Builder
		cur style
	)
	flush := func() {
		if buf.Len() == 0 {
			return
		}
		msg.Runs = append(msg.Runs, cur.run(buf.String()))
		buf.Reset()
	}

	i := 0
	for i < len(s) {
		open := strings.IndexByte(s[i:], '{')
		if open < 0 {
			buf.WriteString(s[i:])
			break
		}
		open += i
		end := strings.IndexByte(s[open:], '}')
		if end < 0 {
			buf.WriteString(s[i:])
			break
		}
		end += open

		buf.WriteString(s[i:open])
		flush()

		token := strings.TrimSpace(s[open+1 : end])
		if !cur.apply(token) {
			buf.WriteByte('{')
			buf.WriteString(token)
			buf.WriteByte('}')
		}
		i = end + 1
	}
	flush()
	return msg
}

// apply updates the style for a markup token and reports whether the token
// was recognised.
func (s *style) apply(token string) bool {
	if strings.HasPrefix(token, "#") {
		s.color = token
		return true
	}
	switch strings.ToLower(token) {
	case "bold":
		s.bold = true
	case "/bold":
		s.bold = false
	case "italic":
		s.italic = true
	case "/italic":
		s.italic = false
	case "mono":
		s.mono = true
	case "/mono":
		s.mono = false
	case "reset":
		*s = style{}
	default:
		return false
	}
	return true
}
