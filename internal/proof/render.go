// Package proof renders a campaign's copy table as an e-mail and sends it to
// reviewers over SMTP.
package proof

import (
	"bytes"
	"fmt"
	htmlTemplate "html/template"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/foxzi/copymode/internal/emailtable"
	"github.com/foxzi/copymode/internal/htmltable"
	"github.com/foxzi/copymode/internal/inline"
)

// Section names with a special place in the proof
const (
	SubjectSection = "SUBJECT LINE"
)

var preheaderSections = []string{"PREHEADER", "PREVIEW TEXT"}

// Message is a rendered proof
type Message struct {
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

type block struct {
	Section string
	Content htmlTemplate.HTML
}

var layout = htmlTemplate.Must(htmlTemplate.New("proof").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Subject}}</title></head>
<body style="margin:0;padding:24px;background:#f6f8fa;font-family:Arial,sans-serif;">
{{- if .Preheader}}
<span style="display:none;max-height:0;overflow:hidden;">{{.Preheader}}</span>
{{- end}}
<div style="max-width:640px;margin:0 auto;background:#ffffff;border:1px solid #d0d7de;padding:24px;">
<p style="margin:0 0 16px;color:#57606a;font-size:12px;">Copy proof: {{.Name}}</p>
{{- range .Blocks}}
<h4 style="margin:16px 0 4px;color:#57606a;font-size:11px;letter-spacing:1px;">{{.Section}}</h4>
<div style="font-size:15px;line-height:1.5;color:#1f2328;">{{.Content}}</div>
{{- end}}
</div>
</body>
</html>`))

var policy = newPolicy()

func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.RequireNoFollowOnLinks(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	return p
}

// Render builds a proof from a campaign's rows. The subject is the first
// SUBJECT LINE row, or the campaign name when there is none.
func Render(name string, rows emailtable.Table) (Message, error) {
	msg := Message{Subject: name}
	var preheader string
	var blocks []block
	var text strings.Builder

	subjectSeen := false
	for _, r := range rows {
		key := emailtable.SectionKey(r.Section)
		switch {
		case key == SubjectSection && !subjectSeen:
			subjectSeen = true
			if s := inline.PlainText(r.Content); s != "" {
				msg.Subject = s
			}
			continue
		case isPreheader(key) && preheader == "":
			preheader = inline.PlainText(r.Content)
			continue
		}

		blocks = append(blocks, block{
			Section: inline.PlainText(r.Section),
			Content: htmlTemplate.HTML(policy.Sanitize(inline.ToHTML(r.Content))),
		})
		fmt.Fprintf(&text, "%s\n%s\n\n", inline.PlainText(r.Section), inline.PlainText(r.Content))
	}

	var buf bytes.Buffer
	err := layout.Execute(&buf, map[string]any{
		"Name":      name,
		"Subject":   msg.Subject,
		"Preheader": preheader,
		"Blocks":    blocks,
	})
	if err != nil {
		return Message{}, fmt.Errorf("failed to render proof: %w", err)
	}
	msg.HTML = buf.String()
	msg.Text = strings.TrimRight(text.String(), "\n") + "\n"
	return msg, nil
}

// RenderContent renders a proof from stored content, markdown or HTML
func RenderContent(name, content string) (Message, error) {
	return Render(name, emailtable.Parse(htmltable.Normalize(content)))
}

func isPreheader(key string) bool {
	for _, s := range preheaderSections {
		if key == s {
			return true
		}
	}
	return false
}
