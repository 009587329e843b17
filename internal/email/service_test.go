package email

import (
	"net/smtp"
	"strings"
	"testing"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{
			name:     "empty config",
			config:   Config{},
			expected: false,
		},
		{
			name: "missing host",
			config: Config{
				Port: "587",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing from",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
			},
			expected: false,
		},
		{
			name: "fully configured",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
				From: "test@example.com",
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

func TestSendWhenNotConfigured(t *testing.T) {
	svc := NewService(Config{})
	if err := svc.SendReplyNotification("bob@example.com", NotificationData{SenderName: "Alice"}); err == nil {
		t.Fatal("expected error when SMTP is not configured")
	}
}

func TestSendMentionNotification(t *testing.T) {
	svc := NewService(Config{Host: "smtp.example.com", Port: "587", From: "cord@example.com", FromName: "Cord"})
	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
	)
	svc.sendMail = func(addr string, _ smtp.Auth, _ string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		return nil
	}

	err := svc.SendMentionNotification("bob@example.com", NotificationData{
		RecipientName: "Bob",
		SenderName:    "Alice",
		ThreadName:    "Launch plan",
		MessageText:   "@Bob <b>can</b> you check?",
		ThreadURL:     "https://app.example.com/t/1",
	})
	if err != nil {
		t.Fatalf("SendMentionNotification() error = %v", err)
	}
	if gotAddr != "smtp.example.com:587" || len(gotTo) != 1 || gotTo[0] != "bob@example.com" {
		t.Fatalf("unexpected envelope %q %v", gotAddr, gotTo)
	}
	if !strings.Contains(gotMsg, "Subject: Alice mentioned you in Launch plan") {
		t.Error("message should carry the mention subject")
	}
	if !strings.Contains(gotMsg, "From: Cord <cord@example.com>") {
		t.Error("message should carry the display name")
	}
	if !strings.Contains(gotMsg, "&lt;b&gt;can&lt;/b&gt;") {
		t.Error("html part should escape message text")
	}
	if !strings.Contains(gotMsg, "https://app.example.com/t/1") {
		t.Error("message should link to the thread")
	}
}

func TestRenderNotificationWithoutThreadName(t *testing.T) {
	html, err := renderTemplate(notificationEmailTemplate, struct {
		NotificationData
		Action string
	}{NotificationData{AppName: "Cord", SenderName: "Alice"}, "replied in"})
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}
	if !strings.Contains(html, "a conversation") {
		t.Error("template should fall back to a generic thread label")
	}
	if strings.Contains(html, "View conversation") {
		t.Error("button should be omitted without a thread url")
	}
}
