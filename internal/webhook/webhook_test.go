package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"cord/platform/internal/store"
)

func TestBuildPayloadEnvelope(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	payload, timestamp, err := BuildPayload(EventThreadMessageAdded, "app-1", map[string]string{"threadID": "t1"}, now)
	if err != nil {
		t.Fatalf("BuildPayload() error = %v", err)
	}
	if timestamp != "1700000000123" {
		t.Fatalf("unexpected timestamp %q", timestamp)
	}
	want := `{"applicationID":"app-1","event":{"threadID":"t1"},"projectID":"app-1","threadID":"t1","timestamp":"1700000000123","type":"thread-message-added"}`
	if string(payload) != want {
		t.Fatalf("payload = %s\nwant %s", payload, want)
	}
}

func TestBuildPayloadRejectsNonObject(t *testing.T) {
	if _, _, err := BuildPayload(EventThreadMessageAdded, "app-1", []string{"x"}, time.Now()); err == nil {
		t.Fatal("expected error for array event")
	}
}

func TestSignAndVerify(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	body := []byte(`{"a":1}`)
	signature := Sign("secret", "1700000000000", body)

	if err := Verify("secret", "1700000000000", body, signature, 5*time.Minute, now.Add(time.Minute)); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if err := Verify("other", "1700000000000", body, signature, 0, now); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
	if err := Verify("secret", "1700000000000", body, signature, time.Minute, now.Add(time.Hour)); !errors.Is(err, ErrStaleRequest) {
		t.Fatalf("expected ErrStaleRequest, got %v", err)
	}
}

func TestDeliverSignsAndFiltersSubscriptions(t *testing.T) {
	var hits atomic.Int32
	app := store.Application{ID: "app-1", SharedSecret: "shh"}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		body, _ := io.ReadAll(r.Body)
		if err := Verify(app.SharedSecret, r.Header.Get(HeaderTimestamp), body, r.Header.Get(HeaderSignature), 0, time.Now()); err != nil {
			t.Errorf("signature did not verify: %v", err)
		}
		var decoded map[string]any
		if err := json.Unmarshal(body, &decoded); err != nil || decoded["type"] != EventNotificationCreated {
			t.Errorf("unexpected body %s", body)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	targets := []store.WebhookTarget{
		{ID: "app:app-1", URL: server.URL, Subscriptions: []string{EventNotificationCreated}},
		{ID: "w2", URL: server.URL + "/other", Subscriptions: []string{EventThreadMessageAdded}},
	}
	d := NewDeliverer(time.Second, 0)
	if err := d.Deliver(context.Background(), app, targets, EventNotificationCreated, map[string]string{"notificationID": "n1"}); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected one delivery, got %d", hits.Load())
	}
}

func TestDeliverRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	d := NewDeliverer(time.Second, 2)
	d.client.RetryWaitMin = time.Millisecond
	d.client.RetryWaitMax = 5 * time.Millisecond
	targets := []store.WebhookTarget{{URL: server.URL, Subscriptions: []string{EventThreadResolved}}}
	if err := d.Deliver(context.Background(), store.Application{ID: "app-1"}, targets, EventThreadResolved, map[string]string{"threadID": "t1"}); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("expected a retry, got %d hits", hits.Load())
	}
}

func TestDeliverRejectsUnknownEvent(t *testing.T) {
	d := NewDeliverer(time.Second, 0)
	if err := d.Deliver(context.Background(), store.Application{}, nil, "thread-exploded", map[string]string{}); !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
}

func TestVerifyURL(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var decoded map[string]any
		_ = json.Unmarshal(body, &decoded)
		if decoded["type"] != EventURLVerification {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()
	refuse := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer refuse.Close()

	d := NewDeliverer(time.Second, 0)
	app := store.Application{ID: "app-1", SharedSecret: "shh"}
	if err := d.VerifyURL(context.Background(), app, ok.URL); err != nil {
		t.Fatalf("VerifyURL() error = %v", err)
	}
	if err := d.VerifyURL(context.Background(), app, refuse.URL); !errors.Is(err, ErrVerifyRefused) {
		t.Fatalf("expected ErrVerifyRefused, got %v", err)
	}
}
