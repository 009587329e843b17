package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"testing"
	"time"

	"cord/platform/internal/config"
	"cord/platform/internal/pubsub"
	"cord/platform/internal/rbac"
	"cord/platform/internal/store"
)

const (
	testAppID  = "2f1d6c1e-8a54-4d0b-9d47-3c2a0b6f9e11"
	testSecret = "app-secret"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(fs *fakeStore) *Service {
	return &Service{
		cfg:   config.Config{SessionSecret: "session-secret", SessionTTL: time.Hour},
		store: fs,
		now:   func() time.Time { return fixedNow },
	}
}

func serverCaller() Caller {
	return Caller{Role: rbac.RoleServer, AppID: testAppID}
}

type recordingBus struct {
	events []pubsub.Event
}

func (b *recordingBus) Publish(_ context.Context, event pubsub.Event) error {
	b.events = append(b.events, event)
	return nil
}

func (b *recordingBus) types() []string {
	out := make([]string, 0, len(b.events))
	for _, event := range b.events {
		out = append(out, event.Type)
	}
	return out
}

func assertDomainError(t *testing.T, err error, status int, code string) {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError %d %s, got %v", status, code, err)
	}
	if domainErr.Status != status || domainErr.Code != code {
		t.Fatalf("expected %d %s, got %d %s (%s)", status, code, domainErr.Status, domainErr.Code, domainErr.Message)
	}
}

// messageFixture is a store with one user "ann" in group "g1" and, when
// withThread is set, an existing thread "t1".
func messageFixture(withThread bool) *fakeStore {
	ann := store.User{ID: "u-ann", ApplicationID: testAppID, ExternalID: "ann", Name: "Ann", State: "active"}
	bob := store.User{ID: "u-bob", ApplicationID: testAppID, ExternalID: "bob", Name: "Bob", State: "active"}
	group := store.Group{ID: "o-1", ApplicationID: testAppID, ExternalID: "g1", Name: "Group"}
	thread := store.Thread{ID: "th-1", ApplicationID: testAppID, OrgID: group.ID, GroupExternalID: "g1", ExternalID: "t1", Name: "Thread", URL: "https://example.com"}
	return &fakeStore{
		getUserByExternalIDFn: func(_ context.Context, _ string, externalID string) (store.User, error) {
			switch externalID {
			case "ann":
				return ann, nil
			case "bob":
				return bob, nil
			}
			return store.User{}, sql.ErrNoRows
		},
		getGroupByExternalIDFn: func(_ context.Context, _ string, externalID string) (store.Group, error) {
			if externalID == group.ExternalID {
				return group, nil
			}
			return store.Group{}, sql.ErrNoRows
		},
		getThreadByExternalIDFn: func(_ context.Context, _ string, externalID string) (store.Thread, error) {
			if withThread && externalID == thread.ExternalID {
				return thread, nil
			}
			return store.Thread{}, sql.ErrNoRows
		},
		insertThreadFn: func(_ context.Context, in store.Thread) (store.Thread, error) {
			in.ID = "th-new"
			in.CreatedAt = fixedNow
			return in, nil
		},
		isGroupMemberFn: func(_ context.Context, orgID, userID string) (bool, error) {
			return orgID == group.ID && userID == ann.ID, nil
		},
		insertMessageFn: func(_ context.Context, msg store.Message) (store.Message, error) {
			msg.ID = "m-1"
			msg.ThreadExternalID = "t1"
			msg.AuthorExternalID = "ann"
			if msg.CreatedAt.IsZero() {
				msg.CreatedAt = fixedNow
			}
			return msg, nil
		},
		resolveUserIDsFn: func(_ context.Context, _ string, externalIDs []string) (map[string]string, error) {
			out := map[string]string{}
			for _, id := range externalIDs {
				if id == "bob" {
					out[id] = bob.ID
				}
			}
			return out, nil
		},
	}
}

var helloContent = json.RawMessage(`[{"type":"p","children":[{"text":"hello"}]}]`)

func TestCreateMessageRequiresCreateThreadForUnknownThread(t *testing.T) {
	svc := newTestService(messageFixture(false))
	_, err := svc.CreateMessage(context.Background(), serverCaller(), "t1", MessageInput{AuthorID: "ann", Content: helloContent})
	assertDomainError(t, err, http.StatusNotFound, "thread_not_found")
}

func TestCreateMessageValidatesCreateThread(t *testing.T) {
	svc := newTestService(messageFixture(false))
	_, err := svc.CreateMessage(context.Background(), serverCaller(), "t1", MessageInput{
		AuthorID:     "ann",
		Content:      helloContent,
		CreateThread: &CreateThreadInput{Location: store.Metadata{"page": "a"}, Name: "T", GroupID: "g1"},
	})
	assertDomainError(t, err, http.StatusBadRequest, "invalid_field")
}

func TestCreateMessageCreatesThreadAndSubscribesMentions(t *testing.T) {
	fs := messageFixture(false)
	var participants []string
	fs.upsertParticipantFn = func(_ context.Context, threadID, orgID, userID string, subscribe bool) error {
		if threadID != "th-new" || orgID != "o-1" || !subscribe {
			t.Fatalf("unexpected participant %s %s %s %v", threadID, orgID, userID, subscribe)
		}
		participants = append(participants, userID)
		return nil
	}
	var notified []store.Notification
	fs.listSubscribersFn = func(context.Context, string) ([]store.Participant, error) {
		return []store.Participant{
			{UserID: "u-ann", UserExternalID: "ann", Subscribed: true},
			{UserID: "u-bob", UserExternalID: "bob", Subscribed: true},
		}, nil
	}
	fs.insertNotificationFn = func(_ context.Context, n store.Notification) (store.Notification, error) {
		notified = append(notified, n)
		return n, nil
	}
	bus := &recordingBus{}
	svc := newTestService(fs)
	svc.bus = bus

	mention := json.RawMessage(`[{"type":"p","children":[{"text":"hi "},{"type":"mention","user":{"id":"bob"},"children":[{"text":"@Bob"}]}]}]`)
	view, err := svc.CreateMessage(context.Background(), serverCaller(), "t1", MessageInput{
		AuthorID: "ann",
		Content:  mention,
		CreateThread: &CreateThreadInput{
			Location: store.Metadata{"page": "a"},
			URL:      "https://example.com/a",
			Name:     "Page A",
			GroupID:  "g1",
		},
	})
	if err != nil {
		t.Fatalf("CreateMessage() error = %v", err)
	}
	if view.AuthorID != "ann" || view.ThreadID != "t1" {
		t.Fatalf("unexpected view %+v", view)
	}
	if !reflect.DeepEqual(participants, []string{"u-ann", "u-bob"}) {
		t.Fatalf("expected author and mention subscribed, got %v", participants)
	}
	if len(notified) != 1 || notified[0].RecipientID != "u-bob" {
		t.Fatalf("expected one notification for bob, got %+v", notified)
	}
	if got := notified[0].ReplyActions; !reflect.DeepEqual(got, []string{"mention-user", "create-thread"}) {
		t.Fatalf("unexpected reply actions %v", got)
	}
	if notified[0].AggregationKey != "th-new" || notified[0].Type != "reply" {
		t.Fatalf("unexpected notification %+v", notified[0])
	}
	want := []string{pubsub.ThreadCreated, pubsub.MessageAdded, pubsub.NotificationCreated}
	if got := bus.types(); !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestCreateMessageRejectsNonMember(t *testing.T) {
	svc := newTestService(messageFixture(true))
	_, err := svc.CreateMessage(context.Background(), serverCaller(), "t1", MessageInput{AuthorID: "bob", Content: helloContent})
	assertDomainError(t, err, http.StatusForbidden, "forbidden")
}

func TestCreateMessageDuplicateID(t *testing.T) {
	fs := messageFixture(true)
	fs.insertMessageFn = func(context.Context, store.Message) (store.Message, error) {
		return store.Message{}, store.ErrConflict
	}
	svc := newTestService(fs)
	_, err := svc.CreateMessage(context.Background(), serverCaller(), "t1", MessageInput{ID: "m1", AuthorID: "ann", Content: helloContent})
	assertDomainError(t, err, http.StatusConflict, "message_already_exists")
}

func TestCreateMessageRejectsInvalidContent(t *testing.T) {
	svc := newTestService(messageFixture(true))
	_, err := svc.CreateMessage(context.Background(), serverCaller(), "t1", MessageInput{AuthorID: "ann", Content: json.RawMessage(`{"text":"x"}`)})
	assertDomainError(t, err, http.StatusBadRequest, "invalid_content")
}

func TestCreateMessageClientPostsAsItself(t *testing.T) {
	fs := messageFixture(true)
	fs.listUserGroupsFn = func(context.Context, string) ([]store.Group, error) {
		return []store.Group{{ID: "o-1"}}, nil
	}
	var author string
	inner := fs.insertMessageFn
	fs.insertMessageFn = func(ctx context.Context, msg store.Message) (store.Message, error) {
		author = msg.SourceID
		return inner(ctx, msg)
	}
	svc := newTestService(fs)
	caller := Caller{Role: rbac.RoleClient, AppID: testAppID, UserID: "u-ann", UserExternalID: "ann"}
	if _, err := svc.CreateMessage(context.Background(), caller, "t1", MessageInput{AuthorID: "bob", Content: helloContent}); err != nil {
		t.Fatalf("CreateMessage() error = %v", err)
	}
	if author != "u-ann" {
		t.Fatalf("expected client to post as ann, got %q", author)
	}
}

func TestClientCannotSeeThreadOutsideGroups(t *testing.T) {
	fs := messageFixture(true)
	fs.listUserGroupsFn = func(context.Context, string) ([]store.Group, error) {
		return []store.Group{{ID: "o-other"}}, nil
	}
	svc := newTestService(fs)
	caller := Caller{Role: rbac.RoleClient, AppID: testAppID, UserID: "u-ann", UserExternalID: "ann"}
	_, err := svc.GetThread(context.Background(), caller, "t1")
	assertDomainError(t, err, http.StatusNotFound, "thread_not_found")
}

func TestListThreadsPaginates(t *testing.T) {
	base := fixedNow
	var gotFilter store.ThreadFilter
	fs := &fakeStore{
		listThreadsFn: func(_ context.Context, filter store.ThreadFilter) ([]store.ThreadSummary, error) {
			gotFilter = filter
			out := make([]store.ThreadSummary, 0, 3)
			for i, id := range []string{"a", "b", "c"} {
				out = append(out, store.ThreadSummary{
					Thread:         store.Thread{ID: "th-" + id, ApplicationID: testAppID, ExternalID: id},
					LastActivityAt: base.Add(-time.Duration(i) * time.Minute),
				})
			}
			return out, nil
		},
	}
	svc := newTestService(fs)
	page, err := svc.ListThreads(context.Background(), serverCaller(), ThreadQuery{Limit: 2, ResolvedStatus: "unresolved"})
	if err != nil {
		t.Fatalf("ListThreads() error = %v", err)
	}
	if gotFilter.Limit != 3 || gotFilter.ResolvedStatus != "unresolved" || gotFilter.OrgIDs != nil {
		t.Fatalf("unexpected filter %+v", gotFilter)
	}
	if len(page.Threads) != 2 || page.Threads[1].ID != "b" {
		t.Fatalf("unexpected page %+v", page.Threads)
	}
	if page.Pagination.Token != store.EncodeThreadCursor("b", base.Add(-time.Minute)) {
		t.Fatalf("unexpected token %q", page.Pagination.Token)
	}

	if _, err := svc.ListThreads(context.Background(), serverCaller(), ThreadQuery{Token: page.Pagination.Token}); err != nil {
		t.Fatalf("ListThreads(token) error = %v", err)
	}
	if gotFilter.CursorExternal != "b" || gotFilter.CursorAt == nil || gotFilter.Limit != defaultThreadLimit+1 {
		t.Fatalf("cursor not applied: %+v", gotFilter)
	}
}

func TestPlanThreadViewReadsEveryPage(t *testing.T) {
	var filters []store.ThreadFilter
	fs := &fakeStore{
		listThreadsFn: func(_ context.Context, filter store.ThreadFilter) ([]store.ThreadSummary, error) {
			filters = append(filters, filter)
			n := filter.Limit
			if filter.CursorAt != nil {
				n = 1
			}
			out := make([]store.ThreadSummary, 0, n)
			for i := 0; i < n; i++ {
				id := fmt.Sprintf("t-%d-%d", len(filters), i)
				out = append(out, store.ThreadSummary{
					Thread:         store.Thread{ID: "th-" + id, ApplicationID: testAppID, ExternalID: id},
					LastActivityAt: fixedNow.Add(-time.Duration(i) * time.Second),
				})
			}
			return out, nil
		},
	}
	svc := newTestService(fs)
	resp, err := svc.PlanThreadView(context.Background(), serverCaller(), ThreadViewRequest{Location: store.Metadata{"page": "docs"}})
	if err != nil {
		t.Fatalf("PlanThreadView() error = %v", err)
	}
	if len(filters) != 2 {
		t.Fatalf("expected two page reads, got %d", len(filters))
	}
	if filters[0].Limit != maxThreadLimit+1 || filters[1].CursorAt == nil {
		t.Fatalf("unexpected filters %+v", filters)
	}
	if got := len(resp.Threads) + len(resp.Resolved); got != maxThreadLimit+1 {
		t.Fatalf("expected %d threads laid out, got %d", maxThreadLimit+1, got)
	}
}

func TestListThreadsRejectsBadInput(t *testing.T) {
	svc := newTestService(&fakeStore{})
	_, err := svc.ListThreads(context.Background(), serverCaller(), ThreadQuery{ResolvedStatus: "open"})
	assertDomainError(t, err, http.StatusBadRequest, "invalid_field")

	_, err = svc.ListThreads(context.Background(), serverCaller(), ThreadQuery{Token: "not-a-cursor"})
	assertDomainError(t, err, http.StatusBadRequest, "invalid_field")
}

func TestUpdateThreadResolvePostsActionMessage(t *testing.T) {
	fs := messageFixture(true)
	var inserted []store.Message
	fs.insertMessageFn = func(_ context.Context, msg store.Message) (store.Message, error) {
		inserted = append(inserted, msg)
		return msg, nil
	}
	resolvedAt := fixedNow
	fs.updateThreadFn = func(_ context.Context, threadID string, patch store.ThreadPatch) (store.Thread, error) {
		if patch.Resolved == nil || !*patch.Resolved || patch.ResolverUserID != "u-ann" {
			t.Fatalf("unexpected patch %+v", patch)
		}
		return store.Thread{ID: threadID, ApplicationID: testAppID, OrgID: "o-1", ExternalID: "t1", ResolvedAt: &resolvedAt}, nil
	}
	var newlyActiveExcept string
	fs.markNewlyActiveForOthersFn = func(_ context.Context, _ string, exceptUserID string) error {
		newlyActiveExcept = exceptUserID
		return nil
	}
	fs.listThreadsFn = func(_ context.Context, filter store.ThreadFilter) ([]store.ThreadSummary, error) {
		return []store.ThreadSummary{{Thread: store.Thread{ID: filter.ThreadID, ExternalID: "t1", ResolvedAt: &resolvedAt}}}, nil
	}
	svc := newTestService(fs)
	resolved := true
	view, err := svc.UpdateThread(context.Background(), serverCaller(), "t1", ThreadUpdate{Resolved: &resolved, UserID: "ann"})
	if err != nil {
		t.Fatalf("UpdateThread() error = %v", err)
	}
	if !view.Resolved {
		t.Fatal("expected resolved view")
	}
	if len(inserted) != 1 || inserted[0].Type != "action_message" || inserted[0].TranslationKey != "thread_resolved" {
		t.Fatalf("unexpected action messages %+v", inserted)
	}
	if newlyActiveExcept != "u-ann" {
		t.Fatalf("expected others marked active except ann, got %q", newlyActiveExcept)
	}
}

func TestUpdateThreadRenameConflict(t *testing.T) {
	fs := messageFixture(true)
	fs.updateThreadFn = func(context.Context, string, store.ThreadPatch) (store.Thread, error) {
		return store.Thread{}, store.ErrConflict
	}
	svc := newTestService(fs)
	newID := "t2"
	_, err := svc.UpdateThread(context.Background(), serverCaller(), "t1", ThreadUpdate{ID: &newID})
	assertDomainError(t, err, http.StatusConflict, "thread_already_exists")
}

func TestAddReactionDuplicate(t *testing.T) {
	fs := messageFixture(true)
	fs.getMessageByExternalIDFn = func(context.Context, string, string) (store.Message, error) {
		return store.Message{ID: "m-1", ThreadExternalID: "t1", ExternalID: "m1", SourceID: "u-bob"}, nil
	}
	fs.addReactionFn = func(context.Context, string, string, string) (store.Reaction, error) {
		return store.Reaction{}, store.ErrConflict
	}
	fs.listUserGroupsFn = func(context.Context, string) ([]store.Group, error) {
		return []store.Group{{ID: "o-1"}}, nil
	}
	svc := newTestService(fs)
	caller := Caller{Role: rbac.RoleClient, AppID: testAppID, UserID: "u-ann", UserExternalID: "ann"}
	_, err := svc.AddReaction(context.Background(), caller, "m1", "👍")
	assertDomainError(t, err, http.StatusConflict, "reaction_exists")
}

func TestBatchLimitAndErrorIndex(t *testing.T) {
	svc := newTestService(&fakeStore{})
	_, err := svc.Batch(context.Background(), serverCaller(), BatchInput{Users: make([]BatchUser, maxBatchEntries+1)})
	assertDomainError(t, err, http.StatusBadRequest, "invalid_request")

	_, err = svc.Batch(context.Background(), serverCaller(), BatchInput{Users: []BatchUser{{ID: "ok"}, {ID: ""}}})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Message != "users[1]: id is required" {
		t.Fatalf("expected indexed batch error, got %v", err)
	}
}

func TestReadinessReportsDatabaseFailure(t *testing.T) {
	svc := newTestService(&fakeStore{pingFn: func(context.Context) error { return errors.New("down") }})
	ready, checks := svc.Readiness(context.Background())
	if ready {
		t.Fatal("expected not ready")
	}
	db := checks["database"].(map[string]any)
	if db["status"] != "error" {
		t.Fatalf("unexpected database check %+v", db)
	}
	if checks["redis"].(map[string]any)["status"] != "disabled" {
		t.Fatalf("expected redis disabled, got %+v", checks["redis"])
	}
}
