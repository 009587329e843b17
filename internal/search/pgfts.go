package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cord/platform/internal/content"
	"cord/platform/internal/store"
)

type messageStore interface {
	SearchMessages(ctx context.Context, appID, query string, orgIDs []string, limit int) ([]store.Message, error)
	ListApplicationMessages(ctx context.Context, appID, afterID string, limit int) ([]store.Message, error)
}

// PgFTS searches messages with PostgreSQL full-text search.
type PgFTS struct {
	store messageStore
}

func NewPgFTS(s messageStore) *PgFTS {
	return &PgFTS{store: s}
}

// Healthy is always true: without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	if q.GroupIDs != nil && len(q.GroupIDs) == 0 {
		return nil, 0, nil
	}
	messages, err := p.store.SearchMessages(ctx, q.AppID, q.Text, q.GroupIDs, q.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts search: %w", err)
	}
	results := make([]Result, 0, len(messages))
	for _, msg := range messages {
		if q.ThreadID != "" && msg.ThreadExternalID != q.ThreadID {
			continue
		}
		if q.AuthorID != "" && msg.AuthorExternalID != q.AuthorID {
			continue
		}
		results = append(results, Result{
			MessageID: msg.ExternalID,
			ThreadID:  msg.ThreadExternalID,
			GroupID:   msg.OrgID,
			AuthorID:  msg.AuthorExternalID,
			Snippet:   snippet(msg.Content),
			CreatedAt: msg.CreatedAt,
		})
	}
	return results, len(results), nil
}

// LoadRecords returns every live message of an application as index records.
func (p *PgFTS) LoadRecords(ctx context.Context, appID string) ([]MessageRecord, error) {
	records := make([]MessageRecord, 0)
	after := ""
	for {
		page, err := p.store.ListApplicationMessages(ctx, appID, after, 500)
		if err != nil {
			return nil, err
		}
		for _, msg := range page {
			records = append(records, RecordFromMessage(msg, msg.OrgID))
		}
		if len(page) < 500 {
			return records, nil
		}
		after = page[len(page)-1].ID
	}
}

// RecordFromMessage flattens a message into its index record. groupID is the
// value stored in the groupId filter.
func RecordFromMessage(msg store.Message, groupID string) MessageRecord {
	return MessageRecord{
		ID:        msg.ID,
		AppID:     msg.ApplicationID,
		GroupID:   groupID,
		ThreadID:  msg.ThreadExternalID,
		AuthorID:  msg.AuthorExternalID,
		MessageID: msg.ExternalID,
		Text:      snippet(msg.Content),
		CreatedAt: msg.CreatedAt.UnixMilli(),
	}
}

func snippet(raw json.RawMessage) string {
	return content.PlainText(raw)
}
