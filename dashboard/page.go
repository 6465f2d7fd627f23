package dashboard

import (
	"html/template"
	"net/http"
	"strings"
	"time"

	"wa-console/adminsync"
	"wa-console/types"
	"wa-console/utils"
)

var pageTemplate = template.Must(template.New("fleet").Funcs(template.FuncMap{
	"statusClass": statusClass,
	"errorClass":  errorClass,
	"phone":       phone,
	"ago":         ago,
	"qrImage":     qrImage,
}).Parse(`<html>
<head>
	<title>WhatsApp Clients</title>
	<meta http-equiv="refresh" content="5">
	<style>
		body { font-family: Arial; margin: 20px; background: #f5f5f5; }
		.section { margin: 20px 0; padding: 20px; background: white; border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
		.section-title { font-size: 18px; margin: 0 0 15px 0; color: #333; }
		table { border-collapse: collapse; width: 100%; }
		td, th { padding: 6px 10px; border-bottom: 1px solid #eee; text-align: left; }
		.warning { color: #f44336; }
		.good { color: #4caf50; }
		.neutral { color: #2196f3; }
		.notice { margin: 6px 0; padding: 8px; border-radius: 4px; background: #fafafa; }
	</style>
</head>
<body>
	<h1>WhatsApp Clients</h1>
	{{if .Error}}<div class="section warning">{{.Error}}</div>{{end}}
	{{if .Notices}}
	<div class="section">
		<h2 class="section-title">Notices</h2>
		{{range .Notices}}<div class="notice {{if eq .Level "error"}}warning{{else}}good{{end}}">{{.Message}}</div>{{end}}
	</div>
	{{end}}
	<div class="section">
		<h2 class="section-title">Fleet ({{len .Rows}}) updated {{ago .ListedAt}}</h2>
		<table>
			<tr><th>Name</th><th>Email</th><th>Link</th><th>Status</th><th>Phone</th><th>QR</th></tr>
			{{range .Rows}}
			<tr>
				<td>{{.Client.Name}}</td>
				<td>{{.Client.Email}}</td>
				<td>{{.Client.UniqueURL}}</td>
				<td class="{{statusClass .State}}">{{if .State}}{{.State.Status}}{{else}}unknown{{end}}</td>
				<td>{{phone .}}</td>
				<td>{{with qrImage .State}}<img src="{{.}}" width="120" alt="pairing QR">{{else}}{{if and .State (.State.HasQR)}}waiting for scan{{else}}-{{end}}{{end}}</td>
			</tr>
			{{end}}
		</table>
	</div>
	{{if .Stats}}
	<div class="section">
		<h2 class="section-title">Backend Requests</h2>
		<div>Total: {{.Stats.TotalRequests}}</div>
		<div class="{{errorClass .Stats.ErrorRate}}">Error Rate: {{printf "%.2f" .Stats.ErrorRate}}%</div>
		<div>Average Latency: {{printf "%.2f" .Stats.AvgLatencyMS}} ms</div>
		<div>Timeouts: {{.Stats.Timeouts}}</div>
	</div>
	{{end}}
</body>
</html>
`))

type pageData struct {
	Rows     []adminsync.Row
	Notices  []adminsync.Notice
	Error    string
	ListedAt time.Time
	Stats    *utils.StatsSnapshot
}

func (h *handler) page(w http.ResponseWriter, _ *http.Request) {
	data := pageData{
		Rows:     h.source.Clients(),
		Notices:  h.source.Notices().List(),
		Error:    h.source.ListError(),
		ListedAt: h.source.ListedAt(),
	}
	if h.stats != nil {
		snap := h.stats.Snapshot()
		data.Stats = &snap
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(w, data); err != nil {
		h.logger.Error().Err(err).Msg("render dashboard")
	}
}

func statusClass(state *types.ConnectionState) string {
	if state == nil {
		return "neutral"
	}
	switch state.Status {
	case types.StatusOpen:
		return "good"
	case types.StatusConnecting, types.StatusPending:
		return "neutral"
	default:
		return "warning"
	}
}

func errorClass(rate float64) string {
	if rate > 5 {
		return "warning"
	}
	return "good"
}

func phone(row adminsync.Row) string {
	if row.State != nil && row.State.ConnectedPhone != nil {
		return *row.State.ConnectedPhone
	}
	if row.Client.ConnectedPhone != nil {
		return *row.Client.ConnectedPhone
	}
	return "-"
}

// qrImage returns the QR as an image source when it is an inline image
func qrImage(state *types.ConnectionState) template.URL {
	if state == nil || !state.HasQR() || !strings.HasPrefix(*state.QRCode, "data:image/") {
		return ""
	}
	return template.URL(*state.QRCode)
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return time.Since(t).Round(time.Second).String() + " ago"
}
