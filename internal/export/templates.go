package export

import (
	"bytes"
	"html/template"
	"time"
)

var transcriptTemplate = template.Must(template.New("transcript").Funcs(template.FuncMap{
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
	"content": ContentToHTML,
}).Parse(transcriptHTML))

func RenderTranscriptHTML(t Transcript) (string, error) {
	var buf bytes.Buffer
	if err := transcriptTemplate.Execute(&buf, t); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const transcriptHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{if .ThreadName}}{{.ThreadName}}{{else}}Conversation{{end}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; color: #222; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .message { padding: 0.75rem 1rem; margin: 0.75rem 0; border-left: 3px solid #ccc; }
    .message.action { color: #666; font-style: italic; border-left-color: #eee; }
    .author { font-weight: bold; }
    .time { color: #888; font-size: 0.85em; margin-left: 0.5rem; }
    .mention, .assignee { color: #0066cc; }
    .deleted { color: #999; }
    blockquote { border-left: 2px solid #ddd; margin: 0.5rem 0; padding-left: 0.75rem; }
  </style>
</head>
<body>
  <h1>{{if .ThreadName}}{{.ThreadName}}{{else}}Conversation{{end}}</h1>
  <div class="meta">
    {{if .GroupName}}{{.GroupName}} | {{end}}{{if .Resolved}}Resolved{{else}}Open{{end}} | Exported {{formatDate .ExportedAt "Jan 2, 2006 15:04 MST"}}
    {{if .ThreadURL}}<br><a href="{{.ThreadURL}}">{{.ThreadURL}}</a>{{end}}
  </div>
  {{range .Messages}}
  <div class="message{{if ne .Type "user_message"}} action{{end}}">
    <span class="author">{{.AuthorName}}</span><span class="time">{{formatDate .CreatedAt "Jan 2, 2006 15:04"}}{{if .Edited}} (edited){{end}}</span>
    {{if .Deleted}}<p class="deleted">This message was deleted.</p>{{else}}{{content .Content}}{{end}}
  </div>
  {{end}}
</body>
</html>`
