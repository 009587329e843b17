package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strings"

	"cord/platform/internal/content"
	"cord/platform/internal/export"
	"cord/platform/internal/pubsub"
	"cord/platform/internal/rbac"
	"cord/platform/internal/store"
	"cord/platform/internal/util"
	"cord/platform/internal/webhook"
)

const (
	defaultThreadLimit = 100
	maxThreadLimit     = store.MaxPageSize
)

type ThreadQuery struct {
	Location       store.Metadata `json:"location"`
	PartialMatch   bool           `json:"partialMatch"`
	GroupID        string         `json:"groupID"`
	ResolvedStatus string         `json:"resolvedStatus"`
	Metadata       store.Metadata `json:"metadata"`
	ViewerID       string         `json:"viewerID"`
	Subscribed     bool           `json:"subscribed"`
	Limit          int            `json:"limit"`
	Token          string         `json:"token"`
}

type ThreadPage struct {
	Threads    []ThreadView `json:"threads"`
	Pagination Pagination   `json:"pagination"`
}

func (s *Service) threadFilter(ctx context.Context, caller Caller, q ThreadQuery) (store.ThreadFilter, error) {
	switch q.ResolvedStatus {
	case "", "any", "resolved", "unresolved":
	default:
		return store.ThreadFilter{}, invalidField("resolvedStatus", "resolvedStatus must be any, resolved or unresolved")
	}
	if err := validateMetadata("metadata", q.Metadata); err != nil {
		return store.ThreadFilter{}, err
	}
	if err := validateMetadata("location", q.Location); err != nil {
		return store.ThreadFilter{}, err
	}
	filter := store.ThreadFilter{
		ApplicationID:      caller.AppID,
		Location:           q.Location,
		PartialMatch:       q.PartialMatch,
		ResolvedStatus:     q.ResolvedStatus,
		Metadata:           q.Metadata,
		ViewerIsSubscribed: q.Subscribed,
	}
	groups, err := s.viewerGroups(ctx, caller)
	if err != nil {
		return store.ThreadFilter{}, err
	}
	filter.OrgIDs = groups
	if q.GroupID != "" {
		group, err := s.lookupGroup(ctx, caller.AppID, q.GroupID)
		if err != nil {
			return store.ThreadFilter{}, err
		}
		filter.OrgID = group.ID
	}
	switch {
	case caller.Role == rbac.RoleClient:
		filter.ViewerUserID = caller.UserID
	case q.ViewerID != "":
		viewer, err := s.lookupUser(ctx, caller.AppID, q.ViewerID)
		if err != nil {
			return store.ThreadFilter{}, err
		}
		filter.ViewerUserID = viewer.ID
	}
	if q.Token != "" {
		externalID, at, err := store.DecodeThreadCursor(q.Token)
		if err != nil {
			return store.ThreadFilter{}, invalidField("token", err.Error())
		}
		filter.CursorAt = &at
		filter.CursorExternal = externalID
	}
	return filter, nil
}

// ListThreads returns one page of threads, most recently active first.
func (s *Service) ListThreads(ctx context.Context, caller Caller, q ThreadQuery) (ThreadPage, error) {
	filter, err := s.threadFilter(ctx, caller, q)
	if err != nil {
		return ThreadPage{}, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultThreadLimit
	}
	if limit > maxThreadLimit {
		limit = maxThreadLimit
	}
	filter.Limit = limit + 1

	summaries, err := s.store.ListThreads(ctx, filter)
	if err != nil {
		return ThreadPage{}, err
	}
	page := ThreadPage{Threads: make([]ThreadView, 0, len(summaries))}
	if len(summaries) > limit {
		last := summaries[limit-1]
		page.Pagination.Token = store.EncodeThreadCursor(last.ExternalID, last.LastActivityAt)
		summaries = summaries[:limit]
	}
	for _, summary := range summaries {
		page.Threads = append(page.Threads, threadView(summary))
	}
	return page, nil
}

func (s *Service) ThreadCounts(ctx context.Context, caller Caller, q ThreadQuery) (store.ThreadCounts, error) {
	filter, err := s.threadFilter(ctx, caller, q)
	if err != nil {
		return store.ThreadCounts{}, err
	}
	filter.CursorAt = nil
	return s.store.ThreadCounts(ctx, filter)
}

// visibleThread loads a thread by external ID. Threads outside the caller's
// groups are reported as missing.
func (s *Service) visibleThread(ctx context.Context, caller Caller, externalID string) (store.Thread, error) {
	thread, err := s.store.GetThreadByExternalID(ctx, caller.AppID, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Thread{}, notFound("thread_not_found", "Thread "+externalID+" not found")
	}
	if err != nil {
		return store.Thread{}, err
	}
	ok, err := s.canSeeThread(ctx, caller, thread)
	if err != nil {
		return store.Thread{}, err
	}
	if !ok {
		return store.Thread{}, notFound("thread_not_found", "Thread "+externalID+" not found")
	}
	return thread, nil
}

func (s *Service) GetThread(ctx context.Context, caller Caller, externalID string) (ThreadView, error) {
	thread, err := s.visibleThread(ctx, caller, externalID)
	if err != nil {
		return ThreadView{}, err
	}
	return s.threadSummaryView(ctx, thread)
}

func (s *Service) threadSummaryView(ctx context.Context, thread store.Thread) (ThreadView, error) {
	summaries, err := s.store.ListThreads(ctx, store.ThreadFilter{ApplicationID: thread.ApplicationID, ThreadID: thread.ID, Limit: 1})
	if err != nil {
		return ThreadView{}, err
	}
	if len(summaries) == 0 {
		return ThreadView{}, notFound("thread_not_found", "Thread "+thread.ExternalID+" not found")
	}
	view := threadView(summaries[0])
	if s.typing != nil {
		typing, err := s.typing.TypingUsers(ctx, thread.ID)
		if err != nil {
			log.Printf("presence: typing users %s: %v", thread.ID, err)
		}
		view.Typing = typing
	}
	return view, nil
}

type ThreadUpdate struct {
	ID              *string        `json:"id"`
	Name            *string        `json:"name"`
	URL             *string        `json:"url"`
	Location        store.Metadata `json:"location"`
	GroupID         *string        `json:"groupID"`
	Metadata        store.Metadata `json:"metadata"`
	ExtraClassnames *string        `json:"extraClassnames"`
	Resolved        *bool          `json:"resolved"`
	// UserID is who resolved or unresolved the thread. With it an action
	// message is posted to the thread.
	UserID string `json:"userID"`
}

func (s *Service) UpdateThread(ctx context.Context, caller Caller, externalID string, input ThreadUpdate) (ThreadView, error) {
	thread, err := s.visibleThread(ctx, caller, externalID)
	if err != nil {
		return ThreadView{}, err
	}
	if err := validateMetadata("metadata", input.Metadata); err != nil {
		return ThreadView{}, err
	}
	if err := validateMetadata("location", input.Location); err != nil {
		return ThreadView{}, err
	}
	if input.ID != nil {
		if err := validateExternalID("id", *input.ID); err != nil {
			return ThreadView{}, err
		}
	}

	patch := store.ThreadPatch{
		ExternalID:      input.ID,
		Name:            input.Name,
		URL:             input.URL,
		Location:        input.Location,
		Metadata:        input.Metadata,
		ExtraClassnames: input.ExtraClassnames,
		Resolved:        input.Resolved,
	}
	if input.GroupID != nil {
		group, err := s.lookupGroup(ctx, caller.AppID, *input.GroupID)
		if err != nil {
			return ThreadView{}, err
		}
		patch.OrgID = &group.ID
	}
	var actor store.User
	if input.UserID != "" {
		actor, err = s.lookupUser(ctx, caller.AppID, input.UserID)
		if err != nil {
			return ThreadView{}, err
		}
		patch.ResolverUserID = actor.ID
	}

	updated, err := s.store.UpdateThread(ctx, thread.ID, patch)
	if errors.Is(err, store.ErrConflict) {
		return ThreadView{}, domainError(http.StatusConflict, "thread_already_exists", "A thread with that ID already exists", nil)
	}
	if err != nil {
		return ThreadView{}, err
	}

	if input.Resolved != nil && *input.Resolved != thread.Resolved() {
		s.threadResolutionChanged(ctx, updated, actor, *input.Resolved)
	}
	s.publish(ctx, pubsub.Event{Type: pubsub.ThreadUpdated, AppID: updated.ApplicationID, ThreadID: updated.ExternalID, GroupID: updated.OrgID})
	return s.threadSummaryView(ctx, updated)
}

type threadEvent struct {
	ThreadID string         `json:"threadID"`
	GroupID  string         `json:"groupID"`
	Name     string         `json:"name"`
	URL      string         `json:"url"`
	Location store.Metadata `json:"location"`
	Metadata store.Metadata `json:"metadata"`
	Resolved bool           `json:"resolved"`
	UserID   string         `json:"userID,omitempty"`
}

// threadResolutionChanged posts the action message for the actor, marks the
// thread as new activity for everyone else and emits the webhook.
func (s *Service) threadResolutionChanged(ctx context.Context, thread store.Thread, actor store.User, resolved bool) {
	key, text, eventType := "thread_unresolved", "reopened this thread", webhook.EventThreadUnresolved
	if resolved {
		key, text, eventType = "thread_resolved", "resolved this thread", webhook.EventThreadResolved
	}
	if actor.ID != "" {
		if _, err := s.insertActionMessage(ctx, thread, actor, key, text); err != nil {
			log.Printf("threads: action message for %s: %v", thread.ID, err)
		}
		if err := s.store.MarkNewlyActiveForOthers(ctx, thread.ID, actor.ID); err != nil {
			log.Printf("threads: mark newly active %s: %v", thread.ID, err)
		}
	}
	s.emitWebhook(ctx, thread.ApplicationID, eventType, threadEvent{
		ThreadID: thread.ExternalID,
		GroupID:  thread.GroupExternalID,
		Name:     thread.Name,
		URL:      thread.URL,
		Location: nonNilMetadata(thread.Location),
		Metadata: nonNilMetadata(thread.Metadata),
		Resolved: resolved,
		UserID:   actor.ExternalID,
	})
}

func (s *Service) insertActionMessage(ctx context.Context, thread store.Thread, actor store.User, key, text string) (store.Message, error) {
	msg, err := s.store.InsertMessage(ctx, store.Message{
		ApplicationID:  thread.ApplicationID,
		OrgID:          thread.OrgID,
		ThreadID:       thread.ID,
		SourceID:       actor.ID,
		ExternalID:     util.NewUUID(),
		Type:           "action_message",
		Content:        content.FromText(text),
		TranslationKey: key,
	})
	if err != nil {
		return store.Message{}, err
	}
	s.publish(ctx, pubsub.Event{
		Type:     pubsub.MessageAdded,
		AppID:    thread.ApplicationID,
		ThreadID: thread.ExternalID,
		GroupID:  thread.OrgID,
		Payload:  eventPayload(messageView(msg)),
	})
	return msg, nil
}

func (s *Service) DeleteThread(ctx context.Context, caller Caller, externalID string) error {
	thread, err := s.visibleThread(ctx, caller, externalID)
	if err != nil {
		return err
	}
	messages, err := s.store.ListMessages(ctx, thread.ID, true)
	if err != nil {
		return err
	}
	if err := s.store.DeleteThread(ctx, thread.ID); err != nil {
		return err
	}
	if s.search != nil {
		for _, msg := range messages {
			s.search.DeleteMessage(msg.ID)
		}
	}
	if s.typing != nil {
		if err := s.typing.ClearThread(ctx, thread.ID); err != nil {
			log.Printf("presence: clear thread %s: %v", thread.ID, err)
		}
	}
	s.publish(ctx, pubsub.Event{Type: pubsub.ThreadDeleted, AppID: thread.ApplicationID, ThreadID: thread.ExternalID, GroupID: thread.OrgID})
	return nil
}

func (s *Service) ExportThread(ctx context.Context, caller Caller, externalID, format string) (*export.Result, error) {
	if s.export == nil {
		return nil, unavailable("export_unavailable", "Export is not configured")
	}
	parsed, err := export.ParseFormat(strings.ToLower(format))
	if err != nil {
		return nil, invalidField("format", "format must be html or pdf")
	}
	thread, err := s.visibleThread(ctx, caller, externalID)
	if err != nil {
		return nil, err
	}
	result, err := s.export.Export(ctx, thread.ID, parsed)
	if errors.Is(err, export.ErrPDFDependencyMissing) {
		return nil, unavailable("export_unavailable", err.Error())
	}
	return result, err
}
