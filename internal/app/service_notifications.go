package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"cord/platform/internal/pubsub"
	"cord/platform/internal/rbac"
	"cord/platform/internal/store"
	"cord/platform/internal/webhook"
)

const defaultNotificationLimit = 50

// ExternalNotificationInput is a notification composed by the customer's
// backend rather than triggered by a message.
type ExternalNotificationInput struct {
	ActorID         string         `json:"actorID"`
	RecipientID     string         `json:"recipientID"`
	Template        string         `json:"template"`
	URL             string         `json:"url"`
	IconURL         string         `json:"iconUrl"`
	Type            string         `json:"type"`
	Metadata        store.Metadata `json:"metadata"`
	ExtraClassnames string         `json:"extraClassnames"`
}

func (s *Service) CreateExternalNotification(ctx context.Context, caller Caller, input ExternalNotificationInput) (NotificationView, error) {
	if input.Type != "" && input.Type != "url" {
		return NotificationView{}, invalidField("type", "type must be url")
	}
	if strings.TrimSpace(input.Template) == "" {
		return NotificationView{}, invalidField("template", "template is required")
	}
	if strings.TrimSpace(input.URL) == "" {
		return NotificationView{}, invalidField("url", "url is required")
	}
	if input.RecipientID == "" {
		return NotificationView{}, invalidField("recipientID", "recipientID is required")
	}
	if err := validateMetadata("metadata", input.Metadata); err != nil {
		return NotificationView{}, err
	}
	recipient, err := s.lookupUser(ctx, caller.AppID, input.RecipientID)
	if err != nil {
		return NotificationView{}, err
	}
	n := store.Notification{
		ApplicationID:    caller.AppID,
		RecipientID:      recipient.ID,
		Type:             "external",
		ExternalTemplate: input.Template,
		ExternalURL:      input.URL,
		IconURL:          input.IconURL,
		Metadata:         input.Metadata,
		ExtraClassnames:  input.ExtraClassnames,
	}
	if input.ActorID != "" {
		actor, err := s.lookupUser(ctx, caller.AppID, input.ActorID)
		if err != nil {
			return NotificationView{}, err
		}
		n.SenderID = actor.ID
	}
	created, err := s.createNotification(ctx, n)
	if err != nil {
		return NotificationView{}, err
	}
	return notificationView(created), nil
}

// createNotification stores a notification and fans it out to the
// recipient's live connections and the application's webhooks.
func (s *Service) createNotification(ctx context.Context, n store.Notification) (store.Notification, error) {
	created, err := s.store.InsertNotification(ctx, n)
	if errors.Is(err, store.ErrInvalidNotification) {
		return store.Notification{}, invalidField("type", err.Error())
	}
	if err != nil {
		return store.Notification{}, err
	}
	view := notificationView(created)
	s.publish(ctx, pubsub.Event{
		Type:    pubsub.NotificationCreated,
		AppID:   created.ApplicationID,
		UserID:  created.RecipientID,
		Payload: eventPayload(view),
	})
	s.emitWebhook(ctx, created.ApplicationID, webhook.EventNotificationCreated, view)
	return created, nil
}

type NotificationQuery struct {
	UserID   string
	ThreadID string
	Metadata store.Metadata
	Limit    int
	Token    string
}

type NotificationPage struct {
	Notifications []NotificationView `json:"notifications"`
	Pagination    Pagination         `json:"pagination"`
}

// notificationRecipient is the caller for clients and the named user for
// server callers.
func (s *Service) notificationRecipient(ctx context.Context, caller Caller, userID string) (string, error) {
	if caller.Role == rbac.RoleClient {
		return caller.UserID, nil
	}
	user, err := s.lookupUser(ctx, caller.AppID, userID)
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

func (s *Service) ListNotifications(ctx context.Context, caller Caller, q NotificationQuery) (NotificationPage, error) {
	recipientID, err := s.notificationRecipient(ctx, caller, q.UserID)
	if err != nil {
		return NotificationPage{}, err
	}
	if err := validateMetadata("metadata", q.Metadata); err != nil {
		return NotificationPage{}, err
	}
	filter := store.NotificationFilter{RecipientID: recipientID, Metadata: q.Metadata}
	if q.ThreadID != "" {
		thread, err := s.visibleThread(ctx, caller, q.ThreadID)
		if err != nil {
			return NotificationPage{}, err
		}
		filter.ThreadID = thread.ID
	}
	if q.Token != "" {
		id, at, err := store.DecodeThreadCursor(q.Token)
		if err != nil {
			return NotificationPage{}, invalidField("token", err.Error())
		}
		filter.CursorAt = &at
		filter.CursorID = id
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultNotificationLimit
	}
	if limit > maxThreadLimit {
		limit = maxThreadLimit
	}
	filter.Limit = limit + 1

	items, err := s.store.ListNotifications(ctx, filter)
	if err != nil {
		return NotificationPage{}, err
	}
	page := NotificationPage{Notifications: make([]NotificationView, 0, len(items))}
	if len(items) > limit {
		last := items[limit-1]
		page.Pagination.Token = store.EncodeThreadCursor(last.ID, last.CreatedAt)
		items = items[:limit]
	}
	for _, item := range items {
		page.Notifications = append(page.Notifications, notificationView(item))
	}
	return page, nil
}

type MarkReadInput struct {
	NotificationID string `json:"notificationID"`
	ThreadID       string `json:"threadID"`
}

// MarkNotificationsRead marks one notification, every notification about a
// thread, or all of them when neither is given.
func (s *Service) MarkNotificationsRead(ctx context.Context, caller Caller, userID string, input MarkReadInput) (int64, error) {
	recipientID, err := s.notificationRecipient(ctx, caller, userID)
	if err != nil {
		return 0, err
	}
	var notificationID, threadID string
	switch {
	case input.NotificationID != "":
		n, err := s.store.GetNotificationByExternalID(ctx, caller.AppID, input.NotificationID)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && n.RecipientID != recipientID) {
			return 0, notFound("notification_not_found", "Notification "+input.NotificationID+" not found")
		}
		if err != nil {
			return 0, err
		}
		notificationID = n.ID
	case input.ThreadID != "":
		thread, err := s.visibleThread(ctx, caller, input.ThreadID)
		if err != nil {
			return 0, err
		}
		threadID = thread.ID
	}
	updated, err := s.store.MarkNotificationsRead(ctx, recipientID, notificationID, threadID)
	if err != nil {
		return 0, err
	}
	if updated > 0 {
		s.publish(ctx, pubsub.Event{
			Type:    pubsub.NotificationRead,
			AppID:   caller.AppID,
			UserID:  recipientID,
			Payload: eventPayload(input),
		})
	}
	return updated, nil
}

func (s *Service) DeleteNotification(ctx context.Context, caller Caller, externalID string) error {
	err := s.store.DeleteNotification(ctx, caller.AppID, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("notification_not_found", "Notification "+externalID+" not found")
	}
	return err
}

type NotificationSummary struct {
	Unread int `json:"unread"`
}

func (s *Service) NotificationSummary(ctx context.Context, caller Caller) (NotificationSummary, error) {
	unread, err := s.store.NotificationSummary(ctx, caller.UserID)
	if err != nil {
		return NotificationSummary{}, err
	}
	return NotificationSummary{Unread: unread}, nil
}
