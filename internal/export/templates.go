package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var reportTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			if t.IsZero() {
				return ""
			}
			return t.Format(layout)
		},
	}

	reportTemplate = template.Must(template.New("report").Funcs(funcMap).Parse(reportTemplateHTML))
}

// RFIRow is one line of the RFI register.
type RFIRow struct {
	Number     int
	Subject    string
	Status     string
	RaisedBy   string
	AssignedTo string
	DueDate    time.Time
	CreatedAt  time.Time
}

// TenderRow is one line of the tender summary.
type TenderRow struct {
	Title     string
	Status    string
	Budget    string
	ClosesAt  time.Time
	AwardedTo string
}

// TemplateData holds data for report template rendering
type TemplateData struct {
	ReportTitle string
	ProjectName string
	GeneratedAt time.Time
	RFIs        []RFIRow
	Tenders     []TenderRow
}

// RenderReportHTML renders the report template with provided data
func RenderReportHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const reportTemplateHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.ReportTitle}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.5; max-width: 900px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    table { width: 100%; border-collapse: collapse; }
    th, td { border: 1px solid #ccc; padding: 6px 10px; text-align: left; font-size: 0.9em; }
    th { background: #f0ede8; }
    .status { text-transform: uppercase; font-size: 0.8em; letter-spacing: 0.05em; }
  </style>
</head>
<body>
  <h1>{{.ReportTitle}}</h1>
  <div class="meta">{{.ProjectName}} | Generated {{formatDate .GeneratedAt "Jan 2, 2006 15:04"}}</div>

  {{if .RFIs}}
  <table>
    <thead>
      <tr><th>No.</th><th>Subject</th><th>Status</th><th>Raised by</th><th>Assigned to</th><th>Due</th><th>Raised</th></tr>
    </thead>
    <tbody>
      {{range .RFIs}}
      <tr>
        <td>{{.Number}}</td>
        <td>{{.Subject}}</td>
        <td class="status">{{.Status}}</td>
        <td>{{.RaisedBy}}</td>
        <td>{{.AssignedTo}}</td>
        <td>{{formatDate .DueDate "Jan 2, 2006"}}</td>
        <td>{{formatDate .CreatedAt "Jan 2, 2006"}}</td>
      </tr>
      {{end}}
    </tbody>
  </table>
  {{end}}

  {{if .Tenders}}
  <table>
    <thead>
      <tr><th>Title</th><th>Status</th><th>Budget</th><th>Closes</th><th>Awarded to</th></tr>
    </thead>
    <tbody>
      {{range .Tenders}}
      <tr>
        <td>{{.Title}}</td>
        <td class="status">{{.Status}}</td>
        <td>{{.Budget}}</td>
        <td>{{formatDate .ClosesAt "Jan 2, 2006"}}</td>
        <td>{{.AwardedTo}}</td>
      </tr>
      {{end}}
    </tbody>
  </table>
  {{end}}

  {{if and (not .RFIs) (not .Tenders)}}
  <p>No entries.</p>
  {{end}}
</body>
</html>`
