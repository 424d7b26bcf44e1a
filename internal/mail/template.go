package mail

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/carverify/carverify/internal/model"
	"github.com/carverify/carverify/internal/valuation"
)

// ReportPayload is everything the report email shows.
type ReportPayload struct {
	OrderID     string
	Report      model.NormalizedReport
	Severity    model.Severity
	Valuation   *valuation.Valuation
	DownloadURL string
}

var funcs = template.FuncMap{
	"money": func(v float64) string { return "$" + groupThousands(int64(v+0.5)) },
	"date": func(t *time.Time) string {
		if t == nil {
			return "unknown"
		}
		return t.Format("2 Jan 2006")
	},
	"deref": func(f *float64) float64 { return *f },
	"orDash": func(s string) string {
		if strings.TrimSpace(s) == "" {
			return "-"
		}
		return s
	},
}

var reportTmpl = template.Must(template.New("report").Funcs(funcs).Parse(`<!doctype html>
<html><body style="font-family:Arial,sans-serif;color:#1f2933">
<h1 style="font-size:20px">Your vehicle report</h1>
<p style="padding:12px;border-radius:6px;background:{{if eq .Severity.Status "alert"}}#fde8e8{{else if eq .Severity.Status "warning"}}#fff4e5{{else}}#e6f6ec{{end}}">
<strong>{{.Severity.Status}}</strong>: {{.Severity.Message}}</p>
{{with .Report.Vehicle}}
<table cellpadding="4">
<tr><td>VIN</td><td>{{orDash .VIN}}</td></tr>
<tr><td>Vehicle</td><td>{{if .Year}}{{.Year}} {{end}}{{orDash .Make}} {{.Model}}</td></tr>
<tr><td>Body</td><td>{{orDash .BodyType}}</td></tr>
<tr><td>Colour</td><td>{{orDash .Colour}}</td></tr>
<tr><td>Registration</td><td>{{orDash .Plate}} {{.State}}</td></tr>
</table>
{{end}}
<h2 style="font-size:16px">Finance</h2>
{{if .Report.SecurityInterests}}<ul>
{{range .Report.SecurityInterests}}<li>{{orDash .RegisteredBy}}{{if .Type}} ({{.Type}}){{end}}, registered {{date .Date}}{{if .Amount}}, {{money (deref .Amount)}}{{end}}</li>
{{end}}</ul>{{else}}<p>No security interests are registered against this vehicle.</p>{{end}}
<h2 style="font-size:16px">Stolen and write-off checks</h2>
<p>Stolen: {{if .Report.Stolen}}<strong>reported stolen</strong>{{else}}not reported{{end}}<br>
Written off: {{if .Report.WriteOff.IsWrittenOff}}<strong>yes</strong>{{with .Report.WriteOff.Category}} ({{.}}){{end}}{{else}}no record{{end}}</p>
{{with .Valuation}}
<h2 style="font-size:16px">Market value</h2>
<p>{{money .Low}} to {{money .High}} ({{.Confidence}} confidence). {{.Summary}}</p>
{{end}}
{{if .DownloadURL}}<p><a href="{{.DownloadURL}}">Download your PPSR certificate</a></p>{{end}}
<p style="font-size:12px;color:#61707d">PPSR search {{.Report.SearchNumber}}, certificate {{.Report.CertificateNumber}}. Order {{.OrderID}}.</p>
</body></html>`))

// RenderReportEmail builds the subject and HTML body for p.
func RenderReportEmail(p ReportPayload) (subject, html string, err error) {
	var buf bytes.Buffer
	if err := reportTmpl.Execute(&buf, p); err != nil {
		return "", "", fmt.Errorf("mail: render report: %w", err)
	}
	return subjectFor(p), buf.String(), nil
}

func subjectFor(p ReportPayload) string {
	name := p.Report.Vehicle.VIN
	if name == "" {
		name = strings.TrimSpace(p.Report.Vehicle.State + " " + p.Report.Vehicle.Plate)
	}
	if name == "" {
		name = p.Report.Identifier.String()
	}
	prefix := "Your vehicle report"
	switch p.Severity.Status {
	case model.SeverityAlert:
		prefix = "Action needed: your vehicle report"
	case model.SeverityWarning:
		prefix = "Your vehicle report (check the details)"
	}
	return prefix + " for " + name
}

func groupThousands(n int64) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
