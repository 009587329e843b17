package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTracker(t *testing.T) (*Tracker, *time.Time) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })

	clock := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tracker := New(client)
	tracker.now = func() time.Time { return clock }
	return tracker, &clock
}

func TestTypingExpiresAfterTTL(t *testing.T) {
	tracker, clock := newTracker(t)
	ctx := context.Background()

	if err := tracker.SetTyping(ctx, "t1", "alice", true); err != nil {
		t.Fatalf("SetTyping() error = %v", err)
	}
	*clock = clock.Add(time.Second)
	if err := tracker.SetTyping(ctx, "t1", "bob", true); err != nil {
		t.Fatalf("SetTyping() error = %v", err)
	}

	users, err := tracker.TypingUsers(ctx, "t1")
	if err != nil {
		t.Fatalf("TypingUsers() error = %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected two typers, got %v", users)
	}

	*clock = clock.Add(2500 * time.Millisecond)
	users, err = tracker.TypingUsers(ctx, "t1")
	if err != nil {
		t.Fatalf("TypingUsers() error = %v", err)
	}
	if len(users) != 1 || users[0] != "bob" {
		t.Fatalf("expected only bob after alice expired, got %v", users)
	}
}

func TestStopTypingAndClear(t *testing.T) {
	tracker, _ := newTracker(t)
	ctx := context.Background()

	for _, user := range []string{"alice", "bob"} {
		if err := tracker.SetTyping(ctx, "t1", user, true); err != nil {
			t.Fatalf("SetTyping(%s) error = %v", user, err)
		}
	}
	if err := tracker.SetTyping(ctx, "t1", "alice", false); err != nil {
		t.Fatalf("SetTyping(false) error = %v", err)
	}
	users, _ := tracker.TypingUsers(ctx, "t1")
	if len(users) != 1 || users[0] != "bob" {
		t.Fatalf("expected bob only, got %v", users)
	}

	if err := tracker.ClearThread(ctx, "t1"); err != nil {
		t.Fatalf("ClearThread() error = %v", err)
	}
	users, _ = tracker.TypingUsers(ctx, "t1")
	if len(users) != 0 {
		t.Fatalf("expected nobody typing, got %v", users)
	}
}
