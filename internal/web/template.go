package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/nightskip/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"pct": func(f float64) string {
		return fmt.Sprintf("%.1f%%", f)
	},
	"utc": func(t time.Time) string {
		return t.UTC().Format("2006-01-02T15:04:05Z")
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="5">
<title>Nightskip{{if .Config.World}} · {{.Config.World}}{{end}}</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.night { color: #7C3AED; font-weight: bold; }
.day { color: #F59E0B; }
.asleep { color: green; font-weight: bold; }
.awake { color: #888; }
.armed { color: #F59E0B; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Nightskip{{if .Config.World}} · {{.Config.World}}{{end}}</h1>

<h2>Quorum</h2>
<table>
<tr><th>World time</th><td id="world-time" class="{{if .Night}}night{{else}}day{{end}}">{{if .ClockOK}}{{.WorldTime}}{{else}}unknown{{end}} ({{if .Night}}night{{else}}day{{end}})</td></tr>
<tr><th>Night window</th><td>{{.Rules.NightStart}} – {{.Rules.NightEnd}}</td></tr>
<tr><th>Sleeping</th><td id="sleeping">{{.Sleeping}}/{{.Total}} ({{pct .Percent}})</td></tr>
<tr><th>Required</th><td>{{pct .Rules.RequiredPercent}}</td></tr>
<tr><th>Delay</th><td>{{.Rules.DelaySeconds}}s</td></tr>
<tr><th>Armed</th><td id="armed">{{if .ArmedSince.IsZero}}no{{else}}<span class="armed">since {{utc .ArmedSince}}</span>{{end}}</td></tr>
<tr><th>Last skip</th><td>{{if .LastSkip.IsZero}}never{{else}}{{utc .LastSkip}}{{end}}</td></tr>
</table>

<h2>Players</h2>
<table>
{{range .Players}}<tr><th>{{.Name}}</th><td class="{{if .Asleep}}asleep{{else}}awake{{end}}">{{if .Asleep}}asleep{{else}}awake{{end}}</td></tr>
{{else}}<tr><td>{{if .HostOK}}nobody online{{else}}waiting for host{{end}}</td></tr>
{{end}}</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Host</th><td class="{{if .HostOK}}connected{{else}}disconnected{{end}}">{{if .HostOK}}reporting{{else}}silent{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Status broadcasts</th><td>{{.Counts.SleepStatus}}</td></tr>
<tr><th>Threshold reached</th><td>{{.Counts.ThresholdReached}}</td></tr>
<tr><th>Threshold lost</th><td>{{.Counts.ThresholdLost}}</td></tr>
<tr><th>Nights skipped</th><td>{{.Counts.NightSkipped}}</td></tr>
<tr><th>Skip failures</th><td>{{.Counts.SkipFailed}}</td></tr>
<tr><th>Day-sleep notices</th><td>{{.Counts.SleepNotAllowed}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{utc .StartTime}}</td></tr>
<tr><th>Tick</th><td>{{.Config.TickMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>Sensors</th><td>{{range $i, $s := .Config.Sensors}}{{if $i}}, {{end}}{{$s}}{{end}}</td></tr>
<tr><th>Config</th><td>{{.Config.ConfigPath}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() and Percent() methods but the template reads fields.
	data := struct {
		status.Snapshot
		Uptime  time.Duration
		Percent float64
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Percent:  snap.Percent(),
	}
	indexTmpl.Execute(w, data)
}
