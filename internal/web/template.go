package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/sweeney/signal-pairer/internal/status"
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
	"ago": func(t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return humanize.Time(t)
	},
	"comma": func(n int) string {
		return humanize.Comma(int64(n))
	},
	"bound": func(ms int64) string {
		if ms == 0 {
			return "off"
		}
		return humanize.Comma(ms) + " ms"
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Signal Pairer</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.running { color: green; font-weight: bold; }
.idle { color: #888; }
.error { color: red; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Signal Pairer</h1>

<h2>Run</h2>
<table>
<tr><th>State</th><td class="{{if .Running}}running{{else}}idle{{end}}">{{if .Running}}running ({{.Progress}}/{{.Pending}}){{else}}idle{{end}}</td></tr>
<tr><th>Runs</th><td>{{comma .Runs}}</td></tr>
<tr><th>Last run</th><td>{{ago .LastRunAt}}</td></tr>
<tr><th>Last file</th><td>{{.LastFile}}</td></tr>
{{if .LastError}}<tr><th>Last error</th><td class="error">{{.LastError}}</td></tr>{{end}}
{{if .CorruptState}}<tr><th>State files</th><td class="error">corrupt, reset to defaults</td></tr>{{end}}
</table>

<h2>Totals</h2>
<table>
<tr><th>Files committed</th><td>{{comma .FilesCommitted}}</td></tr>
<tr><th>Files skipped</th><td>{{comma .FilesSkipped}}</td></tr>
<tr><th>Pairs</th><td>{{comma .Pairs}}</td></tr>
<tr><th>Input edges</th><td>{{comma .Stats.Inputs}}</td></tr>
<tr><th>Output edges</th><td>{{comma .Stats.Outputs}}</td></tr>
<tr><th>Filtered (short / long)</th><td>{{comma .Stats.FilteredShort}} / {{comma .Stats.FilteredLong}}</td></tr>
<tr><th>Orphan outputs</th><td>{{comma .Stats.Orphans}}</td></tr>
<tr><th>Open inputs</th><td>{{comma .OpenInputs}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Base dir</th><td>{{.Config.BaseDir}}</td></tr>
<tr><th>Output dir</th><td>{{.Config.OutputDir}}</td></tr>
<tr><th>Debounce</th><td>{{.Config.DebounceN}} samples</td></tr>
<tr><th>Duration min</th><td>{{bound .Config.MinDurationMs}}</td></tr>
<tr><th>Duration max</th><td>{{bound .Config.MaxDurationMs}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/metrics">metrics</a></p>
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
