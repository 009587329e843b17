package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"cord/platform/internal/util"
)

const threadColumns = `t.id, t.application_id, t.org_id, o.external_id, t.external_id, t.name, t.url,
	t.page_context_hash, p.context_data, t.resolved_timestamp, COALESCE(t.resolver_user_id::text, ''),
	t.metadata, COALESCE(t.extra_classnames, ''), t.created_timestamp`

const threadFrom = `
	FROM threads t
	JOIN orgs o ON o.id = t.org_id
	JOIN pages p ON p.org_id = t.org_id AND p.context_hash = t.page_context_hash`

func threadScanTargets(thread *Thread, location, metadata *[]byte, resolvedAt *sql.NullTime) []any {
	return []any{
		&thread.ID, &thread.ApplicationID, &thread.OrgID, &thread.GroupExternalID, &thread.ExternalID, &thread.Name, &thread.URL,
		&thread.PageContextHash, location, resolvedAt, &thread.ResolverUserID,
		metadata, &thread.ExtraClassnames, &thread.CreatedAt,
	}
}

func scanThread(row rowScanner) (Thread, error) {
	var thread Thread
	var location, metadata []byte
	var resolvedAt sql.NullTime
	if err := row.Scan(threadScanTargets(&thread, &location, &metadata, &resolvedAt)...); err != nil {
		return Thread{}, err
	}
	thread.Location = unmarshalMetadata(location)
	thread.Metadata = unmarshalMetadata(metadata)
	thread.ResolvedAt = nullTime(resolvedAt)
	return thread, nil
}

// canonicalLocation serialises a location with sorted keys so equal
// locations always hash to the same page.
func canonicalLocation(location Metadata) (string, error) {
	return marshalMetadata(location)
}

// EnsurePage returns the context hash for the location within the org,
// creating the page row on first use.
func (s *PostgresStore) EnsurePage(ctx context.Context, orgID string, location Metadata) (string, error) {
	return ensurePage(ctx, s.db, orgID, location)
}

func ensurePage(ctx context.Context, exec txExecer, orgID string, location Metadata) (string, error) {
	canonical, err := canonicalLocation(location)
	if err != nil {
		return "", err
	}
	hash := util.ContextHash(orgID, canonical)
	if _, err := exec.ExecContext(ctx, `
		INSERT INTO pages (org_id, context_hash, context_data)
		VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (org_id, context_hash) DO NOTHING
	`, orgID, hash, canonical); err != nil {
		return "", fmt.Errorf("ensure page: %w", err)
	}
	return hash, nil
}

func (s *PostgresStore) InsertThread(ctx context.Context, thread Thread) (Thread, error) {
	metadata, err := marshalMetadata(thread.Metadata)
	if err != nil {
		return Thread{}, err
	}
	var id string
	err = s.withTx(ctx, func(tx txExecer) error {
		hash, err := ensurePage(ctx, tx, thread.OrgID, thread.Location)
		if err != nil {
			return err
		}
		err = tx.QueryRowContext(ctx, `
			INSERT INTO threads (application_id, org_id, external_id, name, url, page_context_hash, metadata, extra_classnames)
			VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)
			RETURNING id
		`, thread.ApplicationID, thread.OrgID, thread.ExternalID, thread.Name, thread.URL, hash, metadata, nilIfEmpty(thread.ExtraClassnames)).Scan(&id)
		if isUniqueViolation(err) {
			return ErrConflict
		}
		if err != nil {
			return fmt.Errorf("insert thread: %w", err)
		}
		return nil
	})
	if err != nil {
		return Thread{}, err
	}
	return s.GetThreadByID(ctx, id)
}

func (s *PostgresStore) GetThreadByID(ctx context.Context, threadID string) (Thread, error) {
	return scanThread(s.db.QueryRowContext(ctx, `SELECT `+threadColumns+threadFrom+` WHERE t.id = $1`, threadID))
}

func (s *PostgresStore) GetThreadByExternalID(ctx context.Context, appID, externalID string) (Thread, error) {
	return scanThread(s.db.QueryRowContext(ctx, `
		SELECT `+threadColumns+threadFrom+`
		WHERE t.application_id = $1 AND t.external_id = $2
	`, appID, externalID))
}

// UpdateThread applies the patch. Moving a thread to another group or
// location re-homes its page, messages and participants.
func (s *PostgresStore) UpdateThread(ctx context.Context, threadID string, patch ThreadPatch) (Thread, error) {
	var metadata any
	if patch.Metadata != nil {
		raw, err := marshalMetadata(patch.Metadata)
		if err != nil {
			return Thread{}, err
		}
		metadata = raw
	}
	var resolverID any
	if patch.ResolverUserID != "" {
		resolverID = patch.ResolverUserID
	}

	err := s.withTx(ctx, func(tx txExecer) error {
		var orgID string
		var locationRaw []byte
		err := tx.QueryRowContext(ctx, `
			SELECT t.org_id, p.context_data
			FROM threads t
			JOIN pages p ON p.org_id = t.org_id AND p.context_hash = t.page_context_hash
			WHERE t.id = $1
			FOR UPDATE OF t
		`, threadID).Scan(&orgID, &locationRaw)
		if err != nil {
			return err
		}
		location := unmarshalMetadata(locationRaw)
		moved := false
		if patch.OrgID != nil && *patch.OrgID != orgID {
			orgID = *patch.OrgID
			moved = true
		}
		if patch.Location != nil {
			location = patch.Location
		}
		hash, err := ensurePage(ctx, tx, orgID, location)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE threads SET
				external_id = COALESCE($2, external_id),
				name = COALESCE($3, name),
				url = COALESCE($4, url),
				org_id = $5,
				page_context_hash = $6,
				metadata = COALESCE($7::jsonb, metadata),
				extra_classnames = COALESCE($8, extra_classnames),
				resolved_timestamp = CASE
					WHEN $9::boolean IS NULL THEN resolved_timestamp
					WHEN $9::boolean THEN COALESCE($10::timestamptz, resolved_timestamp, NOW())
					ELSE NULL END,
				resolver_user_id = CASE
					WHEN $9::boolean IS NULL THEN resolver_user_id
					WHEN $9::boolean THEN COALESCE($11::uuid, resolver_user_id)
					ELSE NULL END
			WHERE id = $1
		`, threadID, patch.ExternalID, patch.Name, patch.URL, orgID, hash, metadata, patch.ExtraClassnames,
			patch.Resolved, patch.ResolvedAt, resolverID)
		if isUniqueViolation(err) {
			return ErrConflict
		}
		if err != nil {
			return fmt.Errorf("update thread: %w", err)
		}
		if moved {
			if _, err := tx.ExecContext(ctx, `UPDATE messages SET org_id = $2 WHERE thread_id = $1`, threadID, orgID); err != nil {
				return fmt.Errorf("move thread messages: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `UPDATE thread_participants SET org_id = $2 WHERE thread_id = $1`, threadID, orgID); err != nil {
				return fmt.Errorf("move thread participants: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return Thread{}, err
	}
	return s.GetThreadByID(ctx, threadID)
}

func (s *PostgresStore) DeleteThread(ctx context.Context, threadID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM threads WHERE id = $1`, threadID)
	if err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	return requireAffected(result)
}

const threadStatsJoin = `
	LEFT JOIN LATERAL (
		SELECT
			COUNT(*) FILTER (WHERE m.deleted_timestamp IS NULL) AS total,
			COUNT(*) FILTER (WHERE m.deleted_timestamp IS NULL AND m.type = 'user_message') AS user_count,
			COUNT(*) FILTER (WHERE m.deleted_timestamp IS NULL AND m.type = 'action_message') AS action_count,
			COUNT(*) FILTER (WHERE m.deleted_timestamp IS NOT NULL) AS deleted_count,
			MIN(m."timestamp") AS first_ts,
			MAX(m."timestamp") AS last_ts
		FROM messages m
		WHERE m.thread_id = t.id
	) c ON TRUE`

const threadActivity = `COALESCE(c.last_ts, t.created_timestamp)`

func threadConditions(filter ThreadFilter, args *[]any) ([]string, error) {
	next := func(value any) string {
		*args = append(*args, value)
		return fmt.Sprintf("$%d", len(*args))
	}
	conditions := []string{"t.application_id = " + next(filter.ApplicationID)}
	if filter.ThreadID != "" {
		conditions = append(conditions, "t.id = "+next(filter.ThreadID))
	}
	if filter.Location != nil {
		raw, err := canonicalLocation(filter.Location)
		if err != nil {
			return nil, err
		}
		if filter.PartialMatch {
			conditions = append(conditions, "p.context_data @> "+next(raw)+"::jsonb")
		} else {
			conditions = append(conditions, "p.context_data = "+next(raw)+"::jsonb")
		}
	}
	if filter.OrgIDs != nil {
		conditions = append(conditions, "t.org_id = ANY("+next(filter.OrgIDs)+"::uuid[])")
	}
	if filter.OrgID != "" {
		conditions = append(conditions, "t.org_id = "+next(filter.OrgID))
	}
	switch filter.ResolvedStatus {
	case "resolved":
		conditions = append(conditions, "t.resolved_timestamp IS NOT NULL")
	case "unresolved":
		conditions = append(conditions, "t.resolved_timestamp IS NULL")
	}
	if len(filter.Metadata) > 0 {
		raw, err := marshalMetadata(filter.Metadata)
		if err != nil {
			return nil, err
		}
		conditions = append(conditions, "t.metadata @> "+next(raw)+"::jsonb")
	}
	if filter.ViewerIsSubscribed && filter.ViewerUserID != "" {
		conditions = append(conditions, `EXISTS (
			SELECT 1 FROM thread_participants sp
			WHERE sp.thread_id = t.id AND sp.user_id = `+next(filter.ViewerUserID)+` AND sp.subscribed
		)`)
	}
	return conditions, nil
}

// ListThreads returns thread summaries ordered by most recent activity,
// newest first. Cursor fields continue after the given activity/external ID.
func (s *PostgresStore) ListThreads(ctx context.Context, filter ThreadFilter) ([]ThreadSummary, error) {
	var args []any
	conditions, err := threadConditions(filter, &args)
	if err != nil {
		return nil, err
	}
	if filter.CursorAt != nil {
		args = append(args, *filter.CursorAt, filter.CursorExternal)
		conditions = append(conditions, fmt.Sprintf("(%s, t.external_id) < ($%d, $%d)", threadActivity, len(args)-1, len(args)))
	}
	args = append(args, pageLimit(filter.Limit, MaxPageSize))

	query := `SELECT ` + threadColumns + `, c.total, c.user_count, c.action_count, c.deleted_count, c.first_ts, ` + threadActivity +
		threadFrom + threadStatsJoin + `
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY ` + threadActivity + ` DESC, t.external_id DESC
		LIMIT $` + fmt.Sprint(len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var summaries []ThreadSummary
	index := map[string]int{}
	for rows.Next() {
		var summary ThreadSummary
		var location, metadata []byte
		var resolvedAt, firstAt sql.NullTime
		targets := threadScanTargets(&summary.Thread, &location, &metadata, &resolvedAt)
		targets = append(targets, &summary.Total, &summary.UserMessages, &summary.ActionMessages, &summary.DeletedMessages, &firstAt, &summary.LastActivityAt)
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		summary.Location = unmarshalMetadata(location)
		summary.Metadata = unmarshalMetadata(metadata)
		summary.ResolvedAt = nullTime(resolvedAt)
		summary.FirstMessageAt = nullTime(firstAt)
		index[summary.ID] = len(summaries)
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return summaries, nil
	}

	ids := make([]string, 0, len(summaries))
	for _, summary := range summaries {
		ids = append(ids, summary.ID)
	}
	participants, err := s.listParticipants(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, participant := range participants {
		i := index[participant.ThreadID]
		summaries[i].Participants = append(summaries[i].Participants, participant)
		if participant.Subscribed {
			summaries[i].Subscribers = append(summaries[i].Subscribers, participant.UserExternalID)
		}
	}
	return summaries, nil
}

// ThreadCounts aggregates the threads matching the filter. Unread counts are
// relative to ViewerUserID and are zero without one.
func (s *PostgresStore) ThreadCounts(ctx context.Context, filter ThreadFilter) (ThreadCounts, error) {
	var args []any
	conditions, err := threadConditions(filter, &args)
	if err != nil {
		return ThreadCounts{}, err
	}
	args = append(args, filter.ViewerUserID)
	viewer := fmt.Sprintf("NULLIF($%d, '')::uuid", len(args))

	unread := `(tp.user_id IS NOT NULL AND (
		COALESCE(tp.last_unseen_message_timestamp > COALESCE(tp.last_seen_timestamp, '-infinity'), FALSE)
		OR EXISTS (
			SELECT 1 FROM messages um
			WHERE um.thread_id = t.id AND um.deleted_timestamp IS NULL AND um.source_id <> tp.user_id
				AND um."timestamp" > COALESCE(tp.last_seen_timestamp, '-infinity')
		)))`

	query := `SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE t.resolved_timestamp IS NOT NULL),
			COUNT(*) FILTER (WHERE ` + unread + `),
			COUNT(*) FILTER (WHERE ` + unread + ` AND tp.subscribed),
			COUNT(*) FILTER (WHERE c.total = 0)` +
		threadFrom + threadStatsJoin + `
		LEFT JOIN thread_participants tp ON tp.thread_id = t.id AND tp.user_id = ` + viewer + `
		WHERE ` + strings.Join(conditions, " AND ")

	var counts ThreadCounts
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&counts.Total, &counts.Resolved, &counts.Unread, &counts.UnreadSubscribed, &counts.Empty); err != nil {
		return ThreadCounts{}, fmt.Errorf("thread counts: %w", err)
	}
	return counts, nil
}

func (s *PostgresStore) listParticipants(ctx context.Context, threadIDs []string) ([]Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tp.thread_id, tp.user_id, u.external_id, tp.last_seen_timestamp, tp.subscribed
		FROM thread_participants tp
		JOIN users u ON u.id = tp.user_id
		WHERE tp.thread_id = ANY($1::uuid[])
		ORDER BY u.external_id ASC
	`, threadIDs)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var items []Participant
	for rows.Next() {
		var participant Participant
		var lastSeen sql.NullTime
		if err := rows.Scan(&participant.ThreadID, &participant.UserID, &participant.UserExternalID, &lastSeen, &participant.Subscribed); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participant.LastSeenAt = nullTime(lastSeen)
		items = append(items, participant)
	}
	return items, rows.Err()
}

// UpsertParticipant records the user on the thread. subscribe=true
// (re)subscribes; false leaves an existing subscription untouched.
func (s *PostgresStore) UpsertParticipant(ctx context.Context, threadID, orgID, userID string, subscribe bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO thread_participants (thread_id, user_id, org_id, subscribed)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (thread_id, user_id) DO UPDATE SET
			subscribed = thread_participants.subscribed OR EXCLUDED.subscribed
	`, threadID, userID, orgID, subscribe)
	if err != nil {
		return fmt.Errorf("upsert participant: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetSubscribed(ctx context.Context, threadID, orgID, userID string, subscribed bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO thread_participants (thread_id, user_id, org_id, subscribed)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (thread_id, user_id) DO UPDATE SET subscribed = EXCLUDED.subscribed
	`, threadID, userID, orgID, subscribed)
	if err != nil {
		return fmt.Errorf("set subscribed: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkSeen(ctx context.Context, threadID, orgID, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO thread_participants (thread_id, user_id, org_id, subscribed, last_seen_timestamp)
		VALUES ($1, $2, $3, FALSE, $4)
		ON CONFLICT (thread_id, user_id) DO UPDATE SET
			last_seen_timestamp = GREATEST(thread_participants.last_seen_timestamp, EXCLUDED.last_seen_timestamp)
	`, threadID, userID, orgID, at)
	if err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	return nil
}

// MarkNewlyActiveForOthers flags the thread unseen for every participant
// except the acting user.
func (s *PostgresStore) MarkNewlyActiveForOthers(ctx context.Context, threadID, exceptUserID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE thread_participants
		SET last_unseen_message_timestamp = NOW()
		WHERE thread_id = $1 AND user_id <> $2
	`, threadID, exceptUserID)
	if err != nil {
		return fmt.Errorf("mark newly active: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSubscribers(ctx context.Context, threadID string) ([]Participant, error) {
	participants, err := s.listParticipants(ctx, []string{threadID})
	if err != nil {
		return nil, err
	}
	subscribed := participants[:0]
	for _, participant := range participants {
		if participant.Subscribed {
			subscribed = append(subscribed, participant)
		}
	}
	return subscribed, nil
}

// EncodeThreadCursor builds the opaque pagination token handed to API
// callers. The timestamp is in milliseconds with microsecond fraction.
func EncodeThreadCursor(externalID string, activity time.Time) string {
	raw, _ := json.Marshal(threadCursor{ExternalID: externalID, NextCursorTimestamp: float64(activity.UnixMicro()) / 1000})
	return base64URL.EncodeToString(raw)
}

func DecodeThreadCursor(token string) (string, time.Time, error) {
	raw, err := base64URL.DecodeString(token)
	if err != nil {
		return "", time.Time{}, ErrInvalidCursor
	}
	var cursor threadCursor
	if err := json.Unmarshal(raw, &cursor); err != nil || cursor.ExternalID == "" {
		return "", time.Time{}, ErrInvalidCursor
	}
	return cursor.ExternalID, time.UnixMicro(int64(math.Round(cursor.NextCursorTimestamp * 1000))).UTC(), nil
}

type threadCursor struct {
	ExternalID          string  `json:"externalID"`
	NextCursorTimestamp float64 `json:"nextCursorTimestamp"`
}

var ErrInvalidCursor = errors.New("invalid pagination token")
