package store

import (
	"errors"
	"testing"
	"time"
)

func TestCheckNotification(t *testing.T) {
	cases := []struct {
		name string
		n    Notification
		ok   bool
	}{
		{"reply", Notification{Type: "reply", SenderID: "s", MessageID: "m", ReplyActions: []string{"mention-user"}}, true},
		{"reply without actions", Notification{Type: "reply", SenderID: "s", MessageID: "m"}, true},
		{"reply without sender", Notification{Type: "reply", MessageID: "m"}, false},
		{"reply without message", Notification{Type: "reply", SenderID: "s"}, false},
		{"reaction", Notification{Type: "reaction", SenderID: "s", MessageID: "m", ReactionID: "r"}, true},
		{"reaction without reaction id", Notification{Type: "reaction", SenderID: "s", MessageID: "m"}, false},
		{"reaction with reply actions", Notification{Type: "reaction", SenderID: "s", MessageID: "m", ReactionID: "r", ReplyActions: []string{"x"}}, false},
		{"external", Notification{Type: "external", ExternalTemplate: "t", ExternalURL: "u"}, true},
		{"external missing url", Notification{Type: "external", ExternalTemplate: "t"}, false},
		{"external with message", Notification{Type: "external", ExternalTemplate: "t", ExternalURL: "u", MessageID: "m"}, false},
		{"reply with template", Notification{Type: "reply", SenderID: "s", MessageID: "m", ExternalTemplate: "t"}, false},
		{"unknown type", Notification{Type: "digest"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckNotification(tc.n)
			if tc.ok && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrInvalidNotification) {
				t.Fatalf("expected ErrInvalidNotification, got %v", err)
			}
		})
	}
}

func TestThreadCursorRoundTrip(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 30, 45, 123456000, time.UTC)
	token := EncodeThreadCursor("thread-9", at)

	externalID, decoded, err := DecodeThreadCursor(token)
	if err != nil {
		t.Fatalf("DecodeThreadCursor() error = %v", err)
	}
	if externalID != "thread-9" || !decoded.Equal(at) {
		t.Fatalf("got %q %s", externalID, decoded)
	}

	if _, _, err := DecodeThreadCursor("not-a-token!"); !errors.Is(err, ErrInvalidCursor) {
		t.Fatalf("expected ErrInvalidCursor, got %v", err)
	}
}
