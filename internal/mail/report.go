package mail

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/yuin/goldmark"
)

// ReportData describes one delivery package for the email body.
type ReportData struct {
	BatchSequence int64
	ItemSequence  int
	DateFrom      time.Time
	DateTo        time.Time
	EntryCount    int
	Filename      string
}

var reportTemplate = template.Must(template.New("report").Parse(`# Fuel delivery records

Attached is **{{ .Filename }}** with {{ .EntryCount }} delivery record{{ if ne .EntryCount 1 }}s{{ end }}
for {{ .Period }}.

- Batch: B{{ printf "%05d" .BatchSequence }}
- Package: {{ printf "%03d" .ItemSequence }}

This message was sent automatically. Reply to your fuel operations contact if anything looks wrong.
`))

var markdown = goldmark.New()

// BuildReport renders the subject, plain-text and HTML bodies for a delivery package.
func BuildReport(data ReportData) (subject, text, html string, err error) {
	period := formatPeriod(data.DateFrom, data.DateTo)

	var md bytes.Buffer
	err = reportTemplate.Execute(&md, struct {
		ReportData
		Period string
	}{ReportData: data, Period: period})
	if err != nil {
		return "", "", "", fmt.Errorf("execute report template: %w", err)
	}

	var out bytes.Buffer
	if err := markdown.Convert(md.Bytes(), &out); err != nil {
		return "", "", "", fmt.Errorf("convert report markdown: %w", err)
	}

	subject = fmt.Sprintf("Fuel deliveries %s (B%05d-%03d)", period, data.BatchSequence, data.ItemSequence)
	return subject, md.String(), out.String(), nil
}

func formatPeriod(from, to time.Time) string {
	const layout = "2006-01-02"
	if from.Format(layout) == to.Format(layout) {
		return from.Format(layout)
	}
	return from.Format(layout) + " to " + to.Format(layout)
}
