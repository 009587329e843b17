package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidNotification = errors.New("notification fields do not match its type")

const notificationColumns = `n.id, n.application_id, n.external_id, n.recipient_id, ru.external_id,
	COALESCE(n.sender_id::text, ''), COALESCE(su.external_id, ''), n.type, COALESCE(n.aggregation_key, ''), n.read_status,
	COALESCE(n.message_id::text, ''), COALESCE(m.external_id, ''), COALESCE(t.external_id, ''), COALESCE(n.reaction_id::text, ''),
	n.reply_actions, COALESCE(n.external_template, ''), COALESCE(n.external_url, ''), COALESCE(n.icon_url, ''),
	n.metadata, COALESCE(n.extra_classnames, ''), n.created_timestamp`

const notificationFrom = `
	FROM notifications n
	JOIN users ru ON ru.id = n.recipient_id
	LEFT JOIN users su ON su.id = n.sender_id
	LEFT JOIN messages m ON m.id = n.message_id
	LEFT JOIN threads t ON t.id = m.thread_id`

func scanNotification(row rowScanner) (Notification, error) {
	var n Notification
	var metadata []byte
	err := row.Scan(
		&n.ID, &n.ApplicationID, &n.ExternalID, &n.RecipientID, &n.RecipientExternalID,
		&n.SenderID, &n.SenderExternalID, &n.Type, &n.AggregationKey, &n.ReadStatus,
		&n.MessageID, &n.MessageExternalID, &n.ThreadExternalID, &n.ReactionID,
		textArray(&n.ReplyActions), &n.ExternalTemplate, &n.ExternalURL, &n.IconURL,
		&metadata, &n.ExtraClassnames, &n.CreatedAt,
	)
	if err != nil {
		return Notification{}, err
	}
	n.Metadata = unmarshalMetadata(metadata)
	return n, nil
}

// CheckNotification mirrors the table's CHECK constraints so callers get a
// typed error instead of a constraint violation.
func CheckNotification(n Notification) error {
	switch n.Type {
	case "reply", "reaction", "external":
	default:
		return ErrInvalidNotification
	}
	isExternal := n.Type == "external"
	if !isExternal && n.SenderID == "" {
		return ErrInvalidNotification
	}
	if (n.MessageID != "") != (n.Type == "reply" || n.Type == "reaction") {
		return ErrInvalidNotification
	}
	if (n.ReactionID != "") != (n.Type == "reaction") {
		return ErrInvalidNotification
	}
	if n.Type != "reply" && len(n.ReplyActions) > 0 {
		return ErrInvalidNotification
	}
	if (n.ExternalTemplate != "") != isExternal || (n.ExternalURL != "") != isExternal {
		return ErrInvalidNotification
	}
	return nil
}

func (s *PostgresStore) InsertNotification(ctx context.Context, n Notification) (Notification, error) {
	if err := CheckNotification(n); err != nil {
		return Notification{}, err
	}
	metadata, err := marshalMetadata(n.Metadata)
	if err != nil {
		return Notification{}, err
	}
	var replyActions any
	if n.Type == "reply" {
		actions := n.ReplyActions
		if actions == nil {
			actions = []string{}
		}
		replyActions = actions
	}

	var id string
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO notifications (application_id, external_id, recipient_id, sender_id, type, aggregation_key,
			message_id, reaction_id, reply_actions, external_template, external_url, icon_url, metadata, extra_classnames)
		VALUES ($1, COALESCE(NULLIF($2, ''), gen_random_uuid()::text), $3, $4, $5::notification_type, $6,
			$7, $8, $9::text[], $10, $11, $12, $13::jsonb, $14)
		RETURNING id
	`, n.ApplicationID, n.ExternalID, n.RecipientID, nilIfEmpty(n.SenderID), n.Type, nilIfEmpty(n.AggregationKey),
		nilIfEmpty(n.MessageID), nilIfEmpty(n.ReactionID), replyActions, nilIfEmpty(n.ExternalTemplate),
		nilIfEmpty(n.ExternalURL), nilIfEmpty(n.IconURL), metadata, nilIfEmpty(n.ExtraClassnames)).Scan(&id)
	if isUniqueViolation(err) {
		return Notification{}, ErrConflict
	}
	if err != nil {
		return Notification{}, fmt.Errorf("insert notification: %w", err)
	}
	return scanNotification(s.db.QueryRowContext(ctx, `SELECT `+notificationColumns+notificationFrom+` WHERE n.id = $1`, id))
}

func (s *PostgresStore) GetNotificationByExternalID(ctx context.Context, appID, externalID string) (Notification, error) {
	return scanNotification(s.db.QueryRowContext(ctx, `
		SELECT `+notificationColumns+notificationFrom+`
		WHERE n.application_id = $1 AND n.external_id = $2
	`, appID, externalID))
}

// ListNotifications returns the recipient's notifications newest first.
func (s *PostgresStore) ListNotifications(ctx context.Context, filter NotificationFilter) ([]Notification, error) {
	args := []any{filter.RecipientID}
	conditions := []string{"n.recipient_id = $1"}
	if len(filter.Metadata) > 0 {
		raw, err := marshalMetadata(filter.Metadata)
		if err != nil {
			return nil, err
		}
		args = append(args, raw)
		conditions = append(conditions, fmt.Sprintf("n.metadata @> $%d::jsonb", len(args)))
	}
	if filter.ThreadID != "" {
		args = append(args, filter.ThreadID)
		conditions = append(conditions, fmt.Sprintf("m.thread_id = $%d", len(args)))
	}
	if filter.CursorAt != nil {
		args = append(args, *filter.CursorAt, filter.CursorID)
		conditions = append(conditions, fmt.Sprintf("(n.created_timestamp, n.id) < ($%d, $%d::uuid)", len(args)-1, len(args)))
	}
	args = append(args, pageLimit(filter.Limit, 50))

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+notificationColumns+notificationFrom+`
		WHERE `+strings.Join(conditions, " AND ")+`
		ORDER BY n.created_timestamp DESC, n.id DESC
		LIMIT $`+fmt.Sprint(len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var items []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

// MarkNotificationsRead marks one notification (by internal ID), every
// notification about one thread, or all of the recipient's notifications.
func (s *PostgresStore) MarkNotificationsRead(ctx context.Context, recipientID, notificationID, threadID string) (int64, error) {
	var result sql.Result
	var err error
	switch {
	case notificationID != "":
		result, err = s.db.ExecContext(ctx, `
			UPDATE notifications SET read_status = 'read'
			WHERE recipient_id = $1 AND id = $2 AND read_status = 'unread'
		`, recipientID, notificationID)
	case threadID != "":
		result, err = s.db.ExecContext(ctx, `
			UPDATE notifications n SET read_status = 'read'
			FROM messages m
			WHERE n.recipient_id = $1 AND n.message_id = m.id AND m.thread_id = $2 AND n.read_status = 'unread'
		`, recipientID, threadID)
	default:
		result, err = s.db.ExecContext(ctx, `
			UPDATE notifications SET read_status = 'read' WHERE recipient_id = $1 AND read_status = 'unread'
		`, recipientID)
	}
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	return result.RowsAffected()
}

func (s *PostgresStore) DeleteNotification(ctx context.Context, appID, externalID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE application_id = $1 AND external_id = $2`, appID, externalID)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) NotificationSummary(ctx context.Context, recipientID string) (int, error) {
	var unread int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND read_status = 'unread'
	`, recipientID).Scan(&unread)
	if err != nil {
		return 0, fmt.Errorf("notification summary: %w", err)
	}
	return unread, nil
}
