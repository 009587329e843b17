// Package email sends notification emails via SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type Service struct {
	config   Config
	server   string
	auth     smtp.Auth
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewService(config Config) *Service {
	auth := smtp.PlainAuth("", config.Username, config.Password, config.Host)

	return &Service{
		config:   config,
		server:   config.Host + ":" + config.Port,
		auth:     auth,
		sendMail: smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendHTMLEmail sends a multipart email with a plain text fallback.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	boundary := "boundary-cord-notification"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", textBody)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return s.sendMail(s.server, s.auth, s.config.From, to, msg.Bytes())
}

// NotificationData fills the reply and mention templates.
type NotificationData struct {
	AppName       string
	RecipientName string
	SenderName    string
	ThreadName    string
	MessageText   string
	ThreadURL     string
}

func (s *Service) SendReplyNotification(to string, data NotificationData) error {
	subject := fmt.Sprintf("%s replied to %s", data.SenderName, threadLabel(data))
	return s.sendNotification(to, subject, "replied in", data)
}

func (s *Service) SendMentionNotification(to string, data NotificationData) error {
	subject := fmt.Sprintf("%s mentioned you in %s", data.SenderName, threadLabel(data))
	return s.sendNotification(to, subject, "mentioned you in", data)
}

func (s *Service) sendNotification(to, subject, action string, data NotificationData) error {
	if data.AppName == "" {
		data.AppName = "Cord"
	}
	html, err := renderTemplate(notificationEmailTemplate, struct {
		NotificationData
		Action string
	}{data, action})
	if err != nil {
		return fmt.Errorf("render notification template: %w", err)
	}
	text := fmt.Sprintf("%s %s %s:\n\n%s\n\n%s", data.SenderName, action, threadLabel(data), data.MessageText, data.ThreadURL)
	return s.SendHTMLEmail([]string{to}, subject, text, html)
}

func threadLabel(data NotificationData) string {
	if strings.TrimSpace(data.ThreadName) == "" {
		return "a conversation"
	}
	return data.ThreadName
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const notificationEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.SenderName}} {{.Action}} {{if .ThreadName}}{{.ThreadName}}{{else}}a conversation{{end}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .message { border-left: 3px solid #ddd; padding: 8px 16px; margin: 20px 0; white-space: pre-wrap; }
        .button { display: inline-block; padding: 12px 24px; background: #0066cc; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <p>Hi {{.RecipientName}},</p>

    <p><strong>{{.SenderName}}</strong> {{.Action}} {{if .ThreadName}}<strong>{{.ThreadName}}</strong>{{else}}a conversation{{end}}:</p>

    <div class="message">{{.MessageText}}</div>
    {{if .ThreadURL}}
    <p>
        <a href="{{.ThreadURL}}" class="button">View conversation</a>
    </p>
    {{end}}
    <div class="footer">
        <p>You are receiving this because you are subscribed to this conversation.</p>
    </div>
</body>
</html>`
