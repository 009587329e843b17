package export

import (
	"context"
	"fmt"
	"time"

	"cord/platform/internal/store"
)

// DataStore is the read access an export needs.
type DataStore interface {
	GetThreadByID(ctx context.Context, threadID string) (store.Thread, error)
	GetGroupByID(ctx context.Context, orgID string) (store.Group, error)
	ListMessages(ctx context.Context, threadID string, includeDeleted bool) ([]store.Message, error)
	GetUserByExternalID(ctx context.Context, appID, externalID string) (store.User, error)
}

type Service struct {
	store DataStore
	now   func() time.Time
	pdf   func(ctx context.Context, html, title string) (*Result, error)
}

func NewService(store DataStore) *Service {
	return &Service{store: store, now: time.Now, pdf: exportPDF}
}

// Transcript loads a thread and its messages, deleted ones included so the
// export keeps the conversation's shape.
func (s *Service) Transcript(ctx context.Context, threadID string) (Transcript, error) {
	thread, err := s.store.GetThreadByID(ctx, threadID)
	if err != nil {
		return Transcript{}, fmt.Errorf("get thread: %w", err)
	}
	transcript := Transcript{
		ThreadID:   thread.ExternalID,
		ThreadName: thread.Name,
		ThreadURL:  thread.URL,
		Resolved:   thread.Resolved(),
		ExportedAt: s.now().UTC(),
	}
	if group, err := s.store.GetGroupByID(ctx, thread.OrgID); err == nil {
		transcript.GroupName = group.Name
	}

	messages, err := s.store.ListMessages(ctx, thread.ID, true)
	if err != nil {
		return Transcript{}, fmt.Errorf("list messages: %w", err)
	}
	names := map[string]string{}
	for _, msg := range messages {
		name, ok := names[msg.AuthorExternalID]
		if !ok {
			name = msg.AuthorExternalID
			if user, err := s.store.GetUserByExternalID(ctx, thread.ApplicationID, msg.AuthorExternalID); err == nil && user.Name != "" {
				name = user.Name
			}
			names[msg.AuthorExternalID] = name
		}
		transcript.Messages = append(transcript.Messages, Entry{
			AuthorName: name,
			Type:       msg.Type,
			Content:    msg.Content,
			CreatedAt:  msg.CreatedAt,
			Edited:     msg.UpdatedAt != nil,
			Deleted:    msg.DeletedAt != nil,
		})
	}
	return transcript, nil
}

func (s *Service) Export(ctx context.Context, threadID string, format Format) (*Result, error) {
	transcript, err := s.Transcript(ctx, threadID)
	if err != nil {
		return nil, err
	}
	html, err := RenderTranscriptHTML(transcript)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	title := transcript.ThreadName
	if title == "" {
		title = "thread-" + transcript.ThreadID
	}

	switch format {
	case FormatHTML:
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		return s.pdf(ctx, html, title)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}
