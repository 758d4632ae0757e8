package notify

import (
	"bytes"
	"html/template"
	"strings"
)

var envelopeTemplate = template.Must(template.New("envelope").Parse(`<!DOCTYPE html>
<html><head><meta charset="UTF-8"><title>{{.Subject}}</title></head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
<div style="background: #f8f9fa; padding: 20px; border-radius: 5px; margin-bottom: 20px;">
<h2 style="color: #007cba; margin-top: 0;">{{.Subject}}</h2>
</div>
<div style="background: #fff; padding: 20px; border: 1px solid #ddd; border-radius: 5px;">
{{.Body}}
{{- if .Rows}}
<hr style="margin: 30px 0; border: none; border-top: 1px solid #eee;">
<h3 style="color: #007cba;">Form Data Summary:</h3>
<table style="width: 100%; border-collapse: collapse;">
{{- range .Rows}}
<tr><td style="padding: 8px; border-bottom: 1px solid #eee; font-weight: bold; width: 30%;">{{.Label}}:</td><td style="padding: 8px; border-bottom: 1px solid #eee;">{{.Value}}</td></tr>
{{- end}}
</table>
{{- end}}
</div>
<div style="text-align: center; margin-top: 20px; color: #666; font-size: 12px;">
<p>This email was sent from <a href="{{.SiteURL}}">{{.SiteName}}</a></p>
</div>
</body></html>
`))

type summaryRow struct {
	Label string
	Value string
}

type envelope struct {
	Subject  string
	Body     template.HTML
	Rows     []summaryRow
	SiteName string
	SiteURL  string
}

// bodyHTML escapes the message and turns its line breaks into <br> tags.
func bodyHTML(message string) template.HTML {
	normalized := strings.ReplaceAll(message, "\r\n", "\n")
	escaped := template.HTMLEscapeString(normalized)
	return template.HTML(strings.ReplaceAll(escaped, "\n", "<br>\n"))
}

func renderEnvelope(data envelope) (string, error) {
	var buffer bytes.Buffer
	if err := envelopeTemplate.Execute(&buffer, data); err != nil {
		return "", err
	}
	return buffer.String(), nil
}
