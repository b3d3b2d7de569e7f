package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/keypad-monitor/internal/status"
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
	"ms": func(d time.Duration) int64 {
		return d.Milliseconds()
	},
	"stateOrUnknown": func(s string) string {
		if s == "" {
			return "UNKNOWN"
		}
		return s
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Keypad Monitor</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Keypad Monitor</h1>

<h2>Keypad</h2>
<table>
<tr><th>Enabled</th><td class="{{if .Enabled}}on{{else}}off{{end}}">{{if .Enabled}}yes{{else}}no{{end}}</td></tr>
<tr><th>Controller</th><td class="{{if eq (stateOrUnknown .HealthState) "NORMAL"}}on{{else}}unknown{{end}}">{{stateOrUnknown .HealthState}}</td></tr>
<tr><th>Resets</th><td>{{.ResetCount}}</td></tr>
<tr><th>Keys down</th><td>{{.DownKeys}}</td></tr>
<tr><th>Layout</th><td>{{.DeviceName}}</td></tr>
<tr><th>Last keypress</th><td>{{if .LastKeypress.IsZero}}never{{else}}{{.LastKeypress.UTC.Format "2006-01-02T15:04:05Z"}}{{end}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
</table>

<h2>Counters</h2>
<table>
<tr><th>Interrupts</th><td>{{.Counters.Interrupts}}</td></tr>
<tr><th>Keys pressed</th><td>{{.Counters.KeysPressed}}</td></tr>
<tr><th>Multi-key</th><td>{{.Counters.MultiKey}}</td></tr>
<tr><th>Extra keys</th><td>{{.Counters.ExtraKey}}</td></tr>
<tr><th>Stuck keys</th><td>{{.Counters.StuckKeys}}</td></tr>
<tr><th>Average press</th><td>{{ms .Counters.AvgKeyTime}}ms</td></tr>
<tr><th>Longest press</th><td>{{ms .Counters.HighKeyTime}}ms</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Scan frequency</th><td>{{.Config.ScanFrequency}}</td></tr>
<tr><th>Inadvertent timeout</th><td>{{.Config.InadvertentTimeoutMs}}ms</td></tr>
<tr><th>Health check</th><td>{{if eq .Config.CheckIntervalMs 0}}disabled{{else}}{{.Config.CheckIntervalMs}}ms{{end}}</td></tr>
<tr><th>Slide</th><td>{{if .Config.SlideDevice}}{{.Config.SlideDevice}}{{else}}none{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/keys">keys</a> | <a href="/event_log">event log</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
