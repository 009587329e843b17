// Package webhook signs and delivers application event webhooks.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"slices"
	"strconv"
	"time"

	"cord/platform/internal/store"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	EventThreadMessageAdded  = "thread-message-added"
	EventNotificationCreated = "notification-created"
	EventURLVerification     = "url-verification"
	EventThreadResolved      = "thread-resolved"
	EventThreadUnresolved    = "thread-unresolved"
)

const (
	HeaderTimestamp = "X-Cord-Timestamp"
	HeaderSignature = "X-Cord-Signature"
)

var (
	ErrBadSignature  = errors.New("webhook signature mismatch")
	ErrStaleRequest  = errors.New("webhook timestamp outside tolerance")
	ErrUnknownEvent  = errors.New("unknown webhook event type")
	ErrVerifyRefused = errors.New("webhook url did not acknowledge verification")
)

func KnownEvent(eventType string) bool {
	switch eventType {
	case EventThreadMessageAdded, EventNotificationCreated, EventURLVerification, EventThreadResolved, EventThreadUnresolved:
		return true
	}
	return false
}

// BuildPayload wraps an event body in the delivery envelope and returns it
// as JSON with sorted keys. The event's own fields are also copied to the top
// level for older consumers.
func BuildPayload(eventType, appID string, event any, now time.Time) ([]byte, string, error) {
	timestamp := strconv.FormatInt(now.UnixMilli(), 10)

	raw, err := json.Marshal(event)
	if err != nil {
		return nil, "", fmt.Errorf("marshal webhook event: %w", err)
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, "", fmt.Errorf("webhook event must be an object: %w", err)
	}

	envelope := make(map[string]any, len(body)+5)
	for key, value := range body {
		envelope[key] = value
	}
	envelope["type"] = eventType
	envelope["applicationID"] = appID
	envelope["projectID"] = appID
	envelope["timestamp"] = timestamp
	envelope["event"] = body

	payload, err := json.Marshal(envelope)
	if err != nil {
		return nil, "", fmt.Errorf("marshal webhook payload: %w", err)
	}
	return payload, timestamp, nil
}

// Sign returns base64(HMAC-SHA256(secret, timestamp + ":" + body)).
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + ":"))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify checks a received signature. A zero tolerance skips the freshness
// check.
func Verify(secret, timestamp string, body []byte, signature string, tolerance time.Duration, now time.Time) error {
	if tolerance > 0 {
		millis, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return ErrStaleRequest
		}
		age := now.Sub(time.UnixMilli(millis))
		if age < -tolerance || age > tolerance {
			return ErrStaleRequest
		}
	}
	want, err := base64.StdEncoding.DecodeString(Sign(secret, timestamp, body))
	if err != nil {
		return err
	}
	got, err := base64.StdEncoding.DecodeString(signature)
	if err != nil || !hmac.Equal(want, got) {
		return ErrBadSignature
	}
	return nil
}

type Deliverer struct {
	client *retryablehttp.Client
	now    func() time.Time
}

func NewDeliverer(timeout time.Duration, retries int) *Deliverer {
	client := retryablehttp.NewClient()
	client.RetryMax = retries
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.HTTPClient.Timeout = timeout
	client.Logger = nil
	return &Deliverer{client: client, now: time.Now}
}

// Subscribed returns the targets that asked for eventType.
func Subscribed(targets []store.WebhookTarget, eventType string) []store.WebhookTarget {
	out := make([]store.WebhookTarget, 0, len(targets))
	for _, target := range targets {
		if target.URL != "" && slices.Contains(target.Subscriptions, eventType) {
			out = append(out, target)
		}
	}
	return out
}

// Deliver signs event once and posts it to every subscribed target. Failed
// targets are logged and reported together.
func (d *Deliverer) Deliver(ctx context.Context, app store.Application, targets []store.WebhookTarget, eventType string, event any) error {
	if !KnownEvent(eventType) {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, eventType)
	}
	subscribed := Subscribed(targets, eventType)
	if len(subscribed) == 0 {
		return nil
	}
	payload, timestamp, err := BuildPayload(eventType, app.ID, event, d.now())
	if err != nil {
		return err
	}
	signature := Sign(app.SharedSecret, timestamp, payload)

	var errs []error
	for _, target := range subscribed {
		if err := d.post(ctx, target.URL, payload, timestamp, signature); err != nil {
			log.Printf("webhook: deliver %s for app %s to %s: %v", eventType, app.ID, target.URL, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Publish delivers in the background.
func (d *Deliverer) Publish(app store.Application, targets []store.WebhookTarget, eventType string, event any) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		_ = d.Deliver(ctx, app, targets, eventType, event)
	}()
}

// VerifyURL sends the url-verification handshake once; the target must
// answer 200.
func (d *Deliverer) VerifyURL(ctx context.Context, app store.Application, url string) error {
	payload, timestamp, err := BuildPayload(EventURLVerification, app.ID, map[string]string{
		"message": "Please respond with a HTTP 200 status code.",
	}, d.now())
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build verification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderSignature, Sign(app.SharedSecret, timestamp, payload))
	resp, err := d.client.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerifyRefused, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrVerifyRefused, resp.StatusCode)
	}
	return nil
}

func (d *Deliverer) post(ctx context.Context, url string, payload []byte, timestamp, signature string) error {
	req, err := newRequest(ctx, url, payload, timestamp, signature)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("post webhook: status %d", resp.StatusCode)
	}
	return nil
}

func newRequest(ctx context.Context, url string, payload []byte, timestamp, signature string) (*retryablehttp.Request, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderSignature, signature)
	return req, nil
}
