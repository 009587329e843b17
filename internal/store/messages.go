package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

const messageColumns = `m.id, m.application_id, m.org_id, m.thread_id, t.external_id, m.source_id, u.external_id,
	m.external_id, m.type, m.content, COALESCE(m.url, ''), COALESCE(m.icon_url, ''), COALESCE(m.translation_key, ''),
	m.metadata, COALESCE(m.extra_classnames, ''), m.skip_link_previews, m."timestamp", m.last_updated_timestamp, m.deleted_timestamp`

const messageFrom = `
	FROM messages m
	JOIN threads t ON t.id = m.thread_id
	JOIN users u ON u.id = m.source_id`

func scanMessage(row rowScanner) (Message, error) {
	var msg Message
	var content, metadata []byte
	var updatedAt, deletedAt sql.NullTime
	err := row.Scan(
		&msg.ID, &msg.ApplicationID, &msg.OrgID, &msg.ThreadID, &msg.ThreadExternalID, &msg.SourceID, &msg.AuthorExternalID,
		&msg.ExternalID, &msg.Type, &content, &msg.URL, &msg.IconURL, &msg.TranslationKey,
		&metadata, &msg.ExtraClassnames, &msg.SkipLinkPreviews, &msg.CreatedAt, &updatedAt, &deletedAt,
	)
	if err != nil {
		return Message{}, err
	}
	msg.Content = json.RawMessage(content)
	msg.Metadata = unmarshalMetadata(metadata)
	msg.UpdatedAt = nullTime(updatedAt)
	msg.DeletedAt = nullTime(deletedAt)
	return msg, nil
}

// InsertMessage stores the message with its mentions (external user IDs) and
// attachments. A duplicate external ID returns ErrConflict.
func (s *PostgresStore) InsertMessage(ctx context.Context, msg Message) (Message, error) {
	metadata, err := marshalMetadata(msg.Metadata)
	if err != nil {
		return Message{}, err
	}
	messageType := msg.Type
	if messageType == "" {
		messageType = "user_message"
	}
	var createdAt any
	if !msg.CreatedAt.IsZero() {
		createdAt = msg.CreatedAt
	}
	content := string(msg.Content)
	if content == "" {
		content = "[]"
	}

	var id string
	err = s.withTx(ctx, func(tx txExecer) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO messages (application_id, org_id, thread_id, source_id, external_id, type, content, url, icon_url,
				translation_key, metadata, extra_classnames, skip_link_previews, "timestamp")
			VALUES ($1, $2, $3, $4, $5, $6::message_type, $7::jsonb, $8, $9, $10, $11::jsonb, $12, $13, COALESCE($14::timestamptz, NOW()))
			RETURNING id
		`, msg.ApplicationID, msg.OrgID, msg.ThreadID, msg.SourceID, msg.ExternalID, messageType, content,
			nilIfEmpty(msg.URL), nilIfEmpty(msg.IconURL), nilIfEmpty(msg.TranslationKey), metadata,
			nilIfEmpty(msg.ExtraClassnames), msg.SkipLinkPreviews, createdAt).Scan(&id)
		if isUniqueViolation(err) {
			return ErrConflict
		}
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		if err := replaceMentions(ctx, tx, msg.ApplicationID, id, msg.MentionedUserIDs); err != nil {
			return err
		}
		for _, attachment := range msg.Attachments {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO message_attachments (message_id, type, data) VALUES ($1, $2, $3::jsonb)
			`, id, attachment.Type, string(attachment.Data)); err != nil {
				return fmt.Errorf("insert attachment: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return Message{}, err
	}
	return s.GetMessageByID(ctx, id)
}

func replaceMentions(ctx context.Context, tx txExecer, appID, messageID string, externalIDs []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM message_mentions WHERE message_id = $1`, messageID); err != nil {
		return fmt.Errorf("clear mentions: %w", err)
	}
	if len(externalIDs) == 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO message_mentions (user_id, message_id)
		SELECT id, $2 FROM users WHERE application_id = $1 AND external_id = ANY($3)
		ON CONFLICT DO NOTHING
	`, appID, messageID, externalIDs); err != nil {
		return fmt.Errorf("insert mentions: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMessageByID(ctx context.Context, messageID string) (Message, error) {
	msg, err := scanMessage(s.db.QueryRowContext(ctx, `SELECT `+messageColumns+messageFrom+` WHERE m.id = $1`, messageID))
	if err != nil {
		return Message{}, err
	}
	messages := []Message{msg}
	if err := s.loadMessageExtras(ctx, messages); err != nil {
		return Message{}, err
	}
	return messages[0], nil
}

func (s *PostgresStore) GetMessageByExternalID(ctx context.Context, appID, externalID string) (Message, error) {
	msg, err := scanMessage(s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+messageFrom+`
		WHERE m.application_id = $1 AND m.external_id = $2
	`, appID, externalID))
	if err != nil {
		return Message{}, err
	}
	messages := []Message{msg}
	if err := s.loadMessageExtras(ctx, messages); err != nil {
		return Message{}, err
	}
	return messages[0], nil
}

// ListMessages returns the thread's messages oldest first.
func (s *PostgresStore) ListMessages(ctx context.Context, threadID string, includeDeleted bool) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+messageFrom+`
		WHERE m.thread_id = $1 AND ($2 OR m.deleted_timestamp IS NULL)
		ORDER BY m."timestamp" ASC, m.id ASC
	`, threadID, includeDeleted)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	messages, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	if err := s.loadMessageExtras(ctx, messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func collectMessages(rows *sql.Rows) ([]Message, error) {
	defer rows.Close()
	var messages []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *PostgresStore) UpdateMessage(ctx context.Context, messageID string, patch MessagePatch) (Message, error) {
	var content, metadata any
	if len(patch.Content) > 0 {
		content = string(patch.Content)
	}
	if patch.Metadata != nil {
		raw, err := marshalMetadata(patch.Metadata)
		if err != nil {
			return Message{}, err
		}
		metadata = raw
	}
	err := s.withTx(ctx, func(tx txExecer) error {
		var appID string
		err := tx.QueryRowContext(ctx, `
			UPDATE messages SET
				content = COALESCE($2::jsonb, content),
				metadata = COALESCE($3::jsonb, metadata),
				url = COALESCE($4, url),
				icon_url = COALESCE($5, icon_url),
				extra_classnames = COALESCE($6, extra_classnames),
				deleted_timestamp = CASE
					WHEN $7::boolean IS NULL THEN deleted_timestamp
					WHEN $7::boolean THEN COALESCE(deleted_timestamp, NOW())
					ELSE NULL END,
				last_updated_timestamp = CASE
					WHEN $2::jsonb IS NULL THEN last_updated_timestamp
					ELSE COALESCE($8::timestamptz, NOW()) END
			WHERE id = $1
			RETURNING application_id
		`, messageID, content, metadata, patch.URL, patch.IconURL, patch.ExtraClassnames, patch.Deleted, patch.UpdatedAt).Scan(&appID)
		if err != nil {
			return err
		}
		if patch.MentionedUserIDs != nil {
			return replaceMentions(ctx, tx, appID, messageID, patch.MentionedUserIDs)
		}
		return nil
	})
	if err != nil {
		return Message{}, err
	}
	return s.GetMessageByID(ctx, messageID)
}

func (s *PostgresStore) DeleteMessage(ctx context.Context, messageID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, messageID)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return requireAffected(result)
}

// SearchMessages runs a full-text query over message content restricted to
// the given groups, best match first.
func (s *PostgresStore) SearchMessages(ctx context.Context, appID, query string, orgIDs []string, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+messageFrom+`
		WHERE m.application_id = $1
			AND ($2::uuid[] IS NULL OR m.org_id = ANY($2::uuid[]))
			AND m.deleted_timestamp IS NULL
			AND m.content_ts_vector @@ websearch_to_tsquery('english', $3)
		ORDER BY ts_rank(m.content_ts_vector, websearch_to_tsquery('english', $3)) DESC, m."timestamp" DESC
		LIMIT $4
	`, appID, orgIDs, query, clampLimit(limit, 20, 100))
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	return collectMessages(rows)
}

// ListApplicationMessages pages through live messages for search reindexing,
// ordered by id.
func (s *PostgresStore) ListApplicationMessages(ctx context.Context, appID, afterID string, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+messageFrom+`
		WHERE m.application_id = $1
			AND m.deleted_timestamp IS NULL
			AND m.id > COALESCE(NULLIF($2, '')::uuid, '00000000-0000-0000-0000-000000000000'::uuid)
		ORDER BY m.id
		LIMIT $3
	`, appID, afterID, clampLimit(limit, 500, 1000))
	if err != nil {
		return nil, fmt.Errorf("list application messages: %w", err)
	}
	return collectMessages(rows)
}

func (s *PostgresStore) loadMessageExtras(ctx context.Context, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}
	ids := make([]string, 0, len(messages))
	index := make(map[string]int, len(messages))
	for i, msg := range messages {
		ids = append(ids, msg.ID)
		index[msg.ID] = i
	}

	mentionRows, err := s.db.QueryContext(ctx, `
		SELECT mm.message_id, u.external_id
		FROM message_mentions mm
		JOIN users u ON u.id = mm.user_id
		WHERE mm.message_id = ANY($1::uuid[])
		ORDER BY mm."timestamp" ASC, u.external_id ASC
	`, ids)
	if err != nil {
		return fmt.Errorf("load mentions: %w", err)
	}
	defer mentionRows.Close()
	for mentionRows.Next() {
		var messageID, externalID string
		if err := mentionRows.Scan(&messageID, &externalID); err != nil {
			return fmt.Errorf("scan mention: %w", err)
		}
		i := index[messageID]
		messages[i].MentionedUserIDs = append(messages[i].MentionedUserIDs, externalID)
	}
	if err := mentionRows.Err(); err != nil {
		return err
	}

	attachmentRows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, type, data, "timestamp"
		FROM message_attachments
		WHERE message_id = ANY($1::uuid[])
		ORDER BY "timestamp" ASC
	`, ids)
	if err != nil {
		return fmt.Errorf("load attachments: %w", err)
	}
	defer attachmentRows.Close()
	for attachmentRows.Next() {
		var attachment Attachment
		var data []byte
		if err := attachmentRows.Scan(&attachment.ID, &attachment.MessageID, &attachment.Type, &data, &attachment.CreatedAt); err != nil {
			return fmt.Errorf("scan attachment: %w", err)
		}
		attachment.Data = json.RawMessage(data)
		i := index[attachment.MessageID]
		messages[i].Attachments = append(messages[i].Attachments, attachment)
	}
	if err := attachmentRows.Err(); err != nil {
		return err
	}

	reactions, err := s.listReactions(ctx, ids)
	if err != nil {
		return err
	}
	for _, reaction := range reactions {
		i := index[reaction.MessageID]
		messages[i].Reactions = append(messages[i].Reactions, reaction)
	}
	return nil
}

// AddReaction returns ErrConflict when the user already reacted with the
// same emoji.
func (s *PostgresStore) AddReaction(ctx context.Context, messageID, userID, reaction string) (Reaction, error) {
	created := Reaction{MessageID: messageID, UserID: userID, Reaction: reaction}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO message_reactions (message_id, user_id, unicode_reaction)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id, user_id, unicode_reaction) DO NOTHING
		RETURNING id, "timestamp"
	`, messageID, userID, reaction).Scan(&created.ID, &created.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Reaction{}, ErrConflict
	}
	if err != nil {
		return Reaction{}, fmt.Errorf("insert reaction: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) RemoveReaction(ctx context.Context, messageID, userID, reaction string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM message_reactions WHERE message_id = $1 AND user_id = $2 AND unicode_reaction = $3
	`, messageID, userID, reaction)
	if err != nil {
		return fmt.Errorf("delete reaction: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) ListReactions(ctx context.Context, messageID string) ([]Reaction, error) {
	return s.listReactions(ctx, []string{messageID})
}

func (s *PostgresStore) listReactions(ctx context.Context, messageIDs []string) ([]Reaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.message_id, r.user_id, u.external_id, r.unicode_reaction, r."timestamp"
		FROM message_reactions r
		JOIN users u ON u.id = r.user_id
		WHERE r.message_id = ANY($1::uuid[])
		ORDER BY r."timestamp" ASC
	`, messageIDs)
	if err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}
	defer rows.Close()

	var items []Reaction
	for rows.Next() {
		var reaction Reaction
		if err := rows.Scan(&reaction.ID, &reaction.MessageID, &reaction.UserID, &reaction.UserExternalID, &reaction.Reaction, &reaction.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reaction: %w", err)
		}
		items = append(items, reaction)
	}
	return items, rows.Err()
}
