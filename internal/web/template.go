package web

import (
	"fmt"
	"html/template"
	"io"
	"log"
	"time"

	"github.com/sweeney/henny/internal/status"
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
	"clock": func(t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return t.Format("2006-01-02 15:04")
	},
	"hm": func(t time.Time) string {
		return t.Format("15:04")
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Henny</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.done { color: green; }
.pending { color: #888; }
.running { color: orange; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
.warn { color: red; font-weight: bold; }
progress { width: 100%; }
form { display: inline; }
#result { min-height: 1.2em; }
</style>
</head>
<body>
<h1>Henny</h1>
{{with .Snapshot.Feeder}}
{{if not $.Snapshot.Updated}}<p class="pending">waiting for first tick</p>{{end}}
{{if not .Motor.Calibrated}}<p class="warn">Spreader not calibrated: scheduled feeds are skipped.</p>{{end}}

<h2>Today</h2>
<table>
<tr><th>Season</th><td>{{.Season.Title}}{{if not .SeasonFactor}} (factor off){{end}}</td></tr>
<tr><th>Daily target</th><td>{{.DailyTarget}}g</td></tr>
<tr><th>Sessions</th><td>{{.SessionsCompleted}} / {{.SessionsPerDay}} at {{.SessionGrams}}g</td></tr>
<tr><th>Progress</th><td><progress max="100" value="{{.ProgressPercent}}"></progress> {{.ProgressPercent}}%</td></tr>
<tr><th>Dispensed</th><td>{{printf "%.0f" .DispensedToday}}g</td></tr>
<tr><th>Next feed</th><td>{{.NextFeed}}</td></tr>
<tr><th>Last feed</th><td>{{clock .LastFeed}}</td></tr>
</table>

<h2>Schedule</h2>
<table>
{{range .Schedule}}<tr><th>{{.Time}}</th><td class="{{if .Completed}}done{{else}}pending{{end}}">{{.Grams}}g {{if .Completed}}done{{end}}</td></tr>
{{else}}<tr><td>no sessions</td></tr>{{end}}
</table>

<h2>Flock</h2>
<table>
<tr><th>Adults</th><td>{{.Flock.Adults}}</td></tr>
<tr><th>Chicks</th><td>{{.Flock.TotalChicks}}</td></tr>
<tr><th>0-3 weeks</th><td>{{.Flock.Distribution.Weeks0To3}}</td></tr>
<tr><th>3-6 weeks</th><td>{{.Flock.Distribution.Weeks3To6}}</td></tr>
<tr><th>6-12 weeks</th><td>{{.Flock.Distribution.Weeks6To12}}</td></tr>
<tr><th>Young chickens</th><td>{{.Flock.Distribution.YoungChickens}}</td></tr>
{{range .Chicks}}<tr><th>Group {{.Index}}</th><td>{{.Count}} chicks, {{.AgeDays}} days <button onclick="send('DELETE','/api/chicks/{{.Index}}')">remove</button></td></tr>
{{end}}
</table>

<h2>Spreader</h2>
<table>
<tr><th>Motor</th><td class="{{if .Motor.Running}}running{{end}}">{{if .Motor.Running}}running until {{hm .Motor.StopAt}}{{else}}idle{{end}}</td></tr>
<tr><th>Rate</th><td>{{if .Motor.Calibrated}}{{printf "%.1f" .Motor.Rate}}g per 10s{{else}}uncalibrated{{end}}</td></tr>
<tr><th>Calibrated</th><td>{{clock .LastCalibration}}</td></tr>
<tr><th>Safety limit</th><td>{{.Motor.Timeout}}</td></tr>
<tr><th>Runs</th><td>{{.Motor.Activations}}</td></tr>
</table>
{{end}}

<h2>Controls</h2>
<p>
<input id="grams" type="number" min="1" value="{{.Snapshot.Feeder.ManualFeedGrams}}" size="5">g
<button onclick="send('POST','/api/feed',{grams:+val('grams')})">Feed</button>
<button onclick="send('POST','/api/stop')">Stop</button>
<button onclick="send('POST','/api/test')">Test motor</button>
</p>
<p>
<button onclick="send('POST','/api/calibrate')">Calibration run</button>
<input id="measured" type="number" min="0.1" step="0.1" size="5">g
<button onclick="send('POST','/api/calibration',{grams:+val('measured')})">Save calibration</button>
</p>
<p>
<input id="count" type="number" min="1" size="4"> chicks born
<input id="birth" type="date">
<button onclick="send('POST','/api/chicks',{count:+val('count'),birth_date:val('birth')})">Add</button>
<button onclick="send('POST','/api/reset-daily')">Reset today</button>
</p>
<p id="result"></p>

{{with .Snapshot.Daylight}}
<h2>Daylight</h2>
<table>
<tr><th>Civil dawn</th><td>{{hm .CivilDawn}}</td></tr>
<tr><th>Sunrise</th><td>{{hm .Sunrise}}</td></tr>
<tr><th>Sunset</th><td>{{hm .Sunset}}</td></tr>
<tr><th>Civil dusk</th><td>{{hm .CivilDusk}}</td></tr>
</table>
{{end}}

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .Snapshot.MQTT.Connected}}connected{{else}}disconnected{{end}}">{{if .Snapshot.MQTT.Connected}}connected{{else}}disconnected{{end}}{{if .Snapshot.MQTT.Buffered}} ({{.Snapshot.MQTT.Buffered}} queued){{end}}</td></tr>
<tr><th>Broker</th><td>{{.Snapshot.Config.Broker}}</td></tr>
{{with .Snapshot.Network}}<tr><th>Network</th><td>{{.Status}} ({{.Type}}{{if .SSID}}, {{.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.Snapshot.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Button presses</th><td>{{.Snapshot.Buttons.Short}} short, {{.Snapshot.Buttons.Long}} long</td></tr>
<tr><th>Poll</th><td>{{.Snapshot.Config.PollMs}}ms</td></tr>
<tr><th>Schedule check</th><td>{{.Snapshot.Config.TickMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Snapshot.Config.HeartbeatMs 0}}disabled{{else}}{{.Snapshot.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>Config</th><td>{{.Snapshot.Config.StorePath}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> <a href="/metrics">metrics</a></p>
<script>
function val(id) { return document.getElementById(id).value; }
function send(method, url, body) {
  var out = document.getElementById("result");
  fetch(url, {
    method: method,
    headers: body ? {"Content-Type": "application/json"} : {},
    body: body ? JSON.stringify(body) : undefined
  }).then(function(r) { return r.json(); }).then(function(j) {
    out.textContent = j.message + (j.warning ? " (" + j.warning + ")" : "");
    out.className = j.ok ? "done" : "warn";
    if (j.ok) { setTimeout(function() { location.reload(); }, 1500); }
  }).catch(function(e) { out.textContent = e; out.className = "warn"; });
}
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		Snapshot status.Snapshot
		Uptime   time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	if err := indexTmpl.Execute(w, data); err != nil {
		log.Printf("web: render index: %v", err)
	}
}
