package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"cord/platform/internal/content"
	"cord/platform/internal/email"
	"cord/platform/internal/files"
	"cord/platform/internal/pubsub"
	"cord/platform/internal/rbac"
	"cord/platform/internal/search"
	"cord/platform/internal/store"
	"cord/platform/internal/util"
	"cord/platform/internal/webhook"
)

// CreateThreadInput describes the thread to create when a message is posted
// to a thread ID that does not exist yet.
type CreateThreadInput struct {
	Location        store.Metadata `json:"location"`
	URL             string         `json:"url"`
	Name            string         `json:"name"`
	GroupID         string         `json:"groupID"`
	Metadata        store.Metadata `json:"metadata"`
	ExtraClassnames string         `json:"extraClassnames"`
}

type MessageInput struct {
	ID               string             `json:"id"`
	AuthorID         string             `json:"authorID"`
	Content          json.RawMessage    `json:"content"`
	URL              string             `json:"url"`
	IconURL          string             `json:"iconURL"`
	Type             string             `json:"type"`
	TranslationKey   string             `json:"translationKey"`
	Metadata         store.Metadata     `json:"metadata"`
	ExtraClassnames  string             `json:"extraClassnames"`
	CreatedTimestamp *time.Time         `json:"createdTimestamp"`
	SkipLinkPreviews bool               `json:"skipLinkPreviews"`
	AddReactions     []string           `json:"addReactions"`
	FileAttachments  []string           `json:"fileAttachments"`
	CreateThread     *CreateThreadInput `json:"createThread"`
}

func (s *Service) createThread(ctx context.Context, caller Caller, externalID string, input *CreateThreadInput) (store.Thread, error) {
	if input == nil {
		return store.Thread{}, notFound("thread_not_found", "Thread "+externalID+" not found and createThread was not given")
	}
	switch {
	case len(input.Location) == 0:
		return store.Thread{}, invalidField("createThread.location", "location is required")
	case strings.TrimSpace(input.URL) == "":
		return store.Thread{}, invalidField("createThread.url", "url is required")
	case strings.TrimSpace(input.Name) == "":
		return store.Thread{}, invalidField("createThread.name", "name is required")
	case input.GroupID == "":
		return store.Thread{}, invalidField("createThread.groupID", "groupID is required")
	}
	if err := validateMetadata("createThread.location", input.Location); err != nil {
		return store.Thread{}, err
	}
	if err := validateMetadata("createThread.metadata", input.Metadata); err != nil {
		return store.Thread{}, err
	}
	if err := validateExternalID("threadID", externalID); err != nil {
		return store.Thread{}, err
	}
	group, err := s.lookupGroup(ctx, caller.AppID, input.GroupID)
	if err != nil {
		return store.Thread{}, err
	}
	if caller.Role == rbac.RoleClient && caller.GroupScope != "" && caller.GroupScope != group.ID {
		return store.Thread{}, forbidden("Session is restricted to another group")
	}
	thread, err := s.store.InsertThread(ctx, store.Thread{
		ApplicationID:   caller.AppID,
		OrgID:           group.ID,
		ExternalID:      externalID,
		Name:            input.Name,
		URL:             input.URL,
		Location:        input.Location,
		Metadata:        input.Metadata,
		ExtraClassnames: input.ExtraClassnames,
	})
	if errors.Is(err, store.ErrConflict) {
		return s.store.GetThreadByExternalID(ctx, caller.AppID, externalID)
	}
	if err != nil {
		return store.Thread{}, err
	}
	s.publish(ctx, pubsub.Event{Type: pubsub.ThreadCreated, AppID: thread.ApplicationID, ThreadID: thread.ExternalID, GroupID: thread.OrgID})
	return thread, nil
}

// CreateMessage posts a message, creating the thread on first use. Clients
// always post as themselves.
func (s *Service) CreateMessage(ctx context.Context, caller Caller, threadID string, input MessageInput) (MessageView, error) {
	if caller.Role == rbac.RoleClient {
		input.AuthorID = caller.UserExternalID
		input.Type = ""
		input.CreatedTimestamp = nil
	}
	if input.AuthorID == "" {
		return MessageView{}, invalidField("authorID", "authorID is required")
	}
	switch input.Type {
	case "", "user_message", "action_message":
	default:
		return MessageView{}, invalidField("type", "type must be user_message or action_message")
	}
	if err := validateContent(input.Content); err != nil {
		return MessageView{}, err
	}
	if err := validateMetadata("metadata", input.Metadata); err != nil {
		return MessageView{}, err
	}
	if input.ID == "" {
		input.ID = util.NewUUID()
	} else if err := validateExternalID("id", input.ID); err != nil {
		return MessageView{}, err
	}
	author, err := s.lookupUser(ctx, caller.AppID, input.AuthorID)
	if err != nil {
		return MessageView{}, err
	}

	thread, err := s.store.GetThreadByExternalID(ctx, caller.AppID, threadID)
	isNewThread := false
	switch {
	case errors.Is(err, sql.ErrNoRows):
		thread, err = s.createThread(ctx, caller, threadID, input.CreateThread)
		if err != nil {
			return MessageView{}, err
		}
		isNewThread = true
	case err != nil:
		return MessageView{}, err
	default:
		ok, err := s.canSeeThread(ctx, caller, thread)
		if err != nil {
			return MessageView{}, err
		}
		if !ok {
			return MessageView{}, notFound("thread_not_found", "Thread "+threadID+" not found")
		}
	}
	member, err := s.store.IsGroupMember(ctx, thread.OrgID, author.ID)
	if err != nil {
		return MessageView{}, err
	}
	if !member {
		return MessageView{}, forbidden("User " + author.ExternalID + " is not a member of the thread's group")
	}

	attachments, err := s.fileAttachments(ctx, caller.AppID, input.FileAttachments)
	if err != nil {
		return MessageView{}, err
	}
	mentions := content.Mentions(input.Content)
	msg := store.Message{
		ApplicationID:    caller.AppID,
		OrgID:            thread.OrgID,
		ThreadID:         thread.ID,
		SourceID:         author.ID,
		ExternalID:       input.ID,
		Type:             input.Type,
		Content:          input.Content,
		URL:              input.URL,
		IconURL:          input.IconURL,
		TranslationKey:   input.TranslationKey,
		Metadata:         input.Metadata,
		ExtraClassnames:  input.ExtraClassnames,
		SkipLinkPreviews: input.SkipLinkPreviews,
		MentionedUserIDs: mentions,
		Attachments:      attachments,
	}
	if input.CreatedTimestamp != nil {
		msg.CreatedAt = *input.CreatedTimestamp
	}
	created, err := s.store.InsertMessage(ctx, msg)
	if errors.Is(err, store.ErrConflict) {
		return MessageView{}, domainError(http.StatusConflict, "message_already_exists", "Message "+input.ID+" already exists", nil)
	}
	if err != nil {
		return MessageView{}, err
	}

	for _, reaction := range uniqueStrings(input.AddReactions) {
		if _, err := s.store.AddReaction(ctx, created.ID, author.ID, reaction); err != nil && !errors.Is(err, store.ErrConflict) {
			return MessageView{}, err
		}
	}
	if err := s.store.UpsertParticipant(ctx, thread.ID, thread.OrgID, author.ID, true); err != nil {
		return MessageView{}, err
	}
	if err := s.store.MarkSeen(ctx, thread.ID, thread.OrgID, author.ID, s.now()); err != nil {
		return MessageView{}, err
	}
	mentioned, err := s.store.ResolveUserIDs(ctx, caller.AppID, mentions)
	if err != nil {
		return MessageView{}, err
	}
	for _, userID := range mentioned {
		if userID == author.ID {
			continue
		}
		if err := s.store.UpsertParticipant(ctx, thread.ID, thread.OrgID, userID, true); err != nil {
			return MessageView{}, err
		}
	}
	if err := s.store.MarkNewlyActiveForOthers(ctx, thread.ID, author.ID); err != nil {
		return MessageView{}, err
	}
	if len(input.AddReactions) > 0 {
		created, err = s.store.GetMessageByExternalID(ctx, caller.AppID, created.ExternalID)
		if err != nil {
			return MessageView{}, err
		}
	}

	s.messageAdded(ctx, thread, created, author, isNewThread)
	return messageView(created), nil
}

// fileAttachments turns uploaded file IDs into attachment rows.
func (s *Service) fileAttachments(ctx context.Context, appID string, fileIDs []string) ([]store.Attachment, error) {
	var attachments []store.Attachment
	for i, fileID := range uniqueStrings(fileIDs) {
		if !util.IsUUID(fileID) {
			return nil, invalidField("fileAttachments", "fileAttachments must contain file IDs")
		}
		file, err := s.store.GetFile(ctx, appID, fileID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("file_not_found", "File "+fileID+" not found")
		}
		if err != nil {
			return nil, err
		}
		if file.UploadStatus != files.StatusUploaded {
			return nil, domainError(http.StatusBadRequest, "file_not_uploaded", "File "+fileID+" has not finished uploading", map[string]any{"index": i})
		}
		data, err := json.Marshal(map[string]any{"fileID": file.ID, "name": file.Name, "mimeType": file.MimeType, "size": file.Size})
		if err != nil {
			return nil, err
		}
		attachments = append(attachments, store.Attachment{Type: "file", Data: data})
	}
	return attachments, nil
}

type messageEvent struct {
	ThreadID        string          `json:"threadID"`
	MessageID       string          `json:"messageID"`
	GroupID         string          `json:"groupID"`
	URL             string          `json:"url"`
	Title           string          `json:"title"`
	Author          UserView        `json:"author"`
	Content         json.RawMessage `json:"content"`
	Plaintext       string          `json:"plaintext"`
	MessageMetadata store.Metadata  `json:"messageMetadata"`
	ThreadMetadata  store.Metadata  `json:"threadMetadata"`
	Location        store.Metadata  `json:"location"`
	IsFirstMessage  bool            `json:"isFirstMessage"`
}

// messageAdded runs the side effects of a new message. Failures are logged;
// the message itself is already stored.
func (s *Service) messageAdded(ctx context.Context, thread store.Thread, msg store.Message, author store.User, isFirst bool) {
	view := messageView(msg)
	s.publish(ctx, pubsub.Event{
		Type:     pubsub.MessageAdded,
		AppID:    thread.ApplicationID,
		ThreadID: thread.ExternalID,
		GroupID:  thread.OrgID,
		Payload:  eventPayload(view),
	})
	if s.typing != nil {
		if err := s.typing.SetTyping(ctx, thread.ID, author.ExternalID, false); err != nil {
			log.Printf("presence: clear typing %s: %v", thread.ID, err)
		}
	}
	if s.search != nil {
		s.search.IndexMessage(search.RecordFromMessage(msg, msg.OrgID))
	}
	s.emitWebhook(ctx, thread.ApplicationID, webhook.EventThreadMessageAdded, messageEvent{
		ThreadID:        thread.ExternalID,
		MessageID:       msg.ExternalID,
		GroupID:         thread.GroupExternalID,
		URL:             thread.URL,
		Title:           thread.Name,
		Author:          userView(author),
		Content:         view.Content,
		Plaintext:       view.Plaintext,
		MessageMetadata: view.Metadata,
		ThreadMetadata:  nonNilMetadata(thread.Metadata),
		Location:        nonNilMetadata(thread.Location),
		IsFirstMessage:  isFirst,
	})
	if msg.Type == "action_message" {
		return
	}
	s.notifyReply(ctx, thread, msg, author, isFirst)
}

// notifyReply sends a reply notification to every subscriber except the
// author. Reply actions say why the recipient is being told.
func (s *Service) notifyReply(ctx context.Context, thread store.Thread, msg store.Message, author store.User, isFirst bool) {
	subscribers, err := s.store.ListSubscribers(ctx, thread.ID)
	if err != nil {
		log.Printf("notifications: list subscribers %s: %v", thread.ID, err)
		return
	}
	mentioned := toSet(content.Mentions(msg.Content))
	assigned := toSet(content.Assignees(msg.Content))
	mailData := email.NotificationData{
		SenderName:  displayName(author),
		ThreadName:  thread.Name,
		MessageText: content.PlainText(msg.Content),
		ThreadURL:   thread.URL,
	}
	if s.mail != nil && s.mail.IsConfigured() {
		if app, err := s.store.GetApplication(ctx, thread.ApplicationID); err == nil {
			mailData.AppName = app.Name
		}
	}

	for _, subscriber := range subscribers {
		if subscriber.UserID == author.ID {
			continue
		}
		var actions []string
		_, isMention := mentioned[subscriber.UserExternalID]
		if isMention {
			actions = append(actions, "mention-user")
		}
		if isFirst {
			actions = append(actions, "create-thread")
		}
		if _, ok := assigned[subscriber.UserExternalID]; ok {
			actions = append(actions, "assign-task")
		}
		if _, err := s.createNotification(ctx, store.Notification{
			ApplicationID:  thread.ApplicationID,
			RecipientID:    subscriber.UserID,
			SenderID:       author.ID,
			Type:           "reply",
			AggregationKey: thread.ID,
			MessageID:      msg.ID,
			ReplyActions:   actions,
		}); err != nil {
			log.Printf("notifications: reply for %s: %v", subscriber.UserID, err)
			continue
		}
		s.sendNotificationEmail(ctx, subscriber.UserID, isMention, mailData)
	}
}

func (s *Service) sendNotificationEmail(ctx context.Context, userID string, mention bool, data email.NotificationData) {
	if s.mail == nil || !s.mail.IsConfigured() {
		return
	}
	recipient, err := s.store.GetUserByID(ctx, userID)
	if err != nil || recipient.Email == "" {
		return
	}
	data.RecipientName = displayName(recipient)
	send := s.mail.SendReplyNotification
	if mention {
		send = s.mail.SendMentionNotification
	}
	go func() {
		if err := send(recipient.Email, data); err != nil {
			log.Printf("email: notify %s: %v", recipient.ExternalID, err)
		}
	}()
}

func displayName(user store.User) string {
	if user.Name != "" {
		return user.Name
	}
	return user.ExternalID
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		set[value] = struct{}{}
	}
	return set
}

// visibleMessage loads a message the caller can see. A non-empty threadID
// must match the message's thread.
func (s *Service) visibleMessage(ctx context.Context, caller Caller, threadID, messageID string) (store.Thread, store.Message, error) {
	msg, err := s.store.GetMessageByExternalID(ctx, caller.AppID, messageID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && threadID != "" && msg.ThreadExternalID != threadID) {
		return store.Thread{}, store.Message{}, notFound("message_not_found", "Message "+messageID+" not found")
	}
	if err != nil {
		return store.Thread{}, store.Message{}, err
	}
	thread, err := s.visibleThread(ctx, caller, msg.ThreadExternalID)
	if err != nil {
		return store.Thread{}, store.Message{}, err
	}
	return thread, msg, nil
}

func (s *Service) GetMessage(ctx context.Context, caller Caller, threadID, messageID string) (MessageView, error) {
	_, msg, err := s.visibleMessage(ctx, caller, threadID, messageID)
	if err != nil {
		return MessageView{}, err
	}
	return messageView(msg), nil
}

func (s *Service) ListMessages(ctx context.Context, caller Caller, threadID string, includeDeleted bool) ([]MessageView, error) {
	thread, err := s.visibleThread(ctx, caller, threadID)
	if err != nil {
		return nil, err
	}
	messages, err := s.store.ListMessages(ctx, thread.ID, includeDeleted)
	if err != nil {
		return nil, err
	}
	views := make([]MessageView, 0, len(messages))
	for _, msg := range messages {
		views = append(views, messageView(msg))
	}
	return views, nil
}

type MessageUpdate struct {
	Content          json.RawMessage `json:"content"`
	Metadata         store.Metadata  `json:"metadata"`
	URL              *string         `json:"url"`
	IconURL          *string         `json:"iconURL"`
	ExtraClassnames  *string         `json:"extraClassnames"`
	Deleted          *bool           `json:"deleted"`
	UpdatedTimestamp *time.Time      `json:"updatedTimestamp"`
}

// UpdateMessage edits or soft-deletes a message. Clients may only touch
// their own messages.
func (s *Service) UpdateMessage(ctx context.Context, caller Caller, threadID, messageID string, input MessageUpdate) (MessageView, error) {
	thread, msg, err := s.visibleMessage(ctx, caller, threadID, messageID)
	if err != nil {
		return MessageView{}, err
	}
	if caller.Role == rbac.RoleClient {
		if msg.SourceID != caller.UserID {
			return MessageView{}, forbidden("Only the author can edit a message")
		}
		input.UpdatedTimestamp = nil
	}
	patch := store.MessagePatch{
		Metadata:        input.Metadata,
		URL:             input.URL,
		IconURL:         input.IconURL,
		ExtraClassnames: input.ExtraClassnames,
		Deleted:         input.Deleted,
		UpdatedAt:       input.UpdatedTimestamp,
	}
	if err := validateMetadata("metadata", input.Metadata); err != nil {
		return MessageView{}, err
	}
	if len(input.Content) > 0 {
		if err := validateContent(input.Content); err != nil {
			return MessageView{}, err
		}
		patch.Content = input.Content
		patch.MentionedUserIDs = content.Mentions(input.Content)
		if patch.UpdatedAt == nil {
			now := s.now()
			patch.UpdatedAt = &now
		}
	}
	updated, err := s.store.UpdateMessage(ctx, msg.ID, patch)
	if err != nil {
		return MessageView{}, err
	}

	if s.search != nil {
		if updated.DeletedAt != nil {
			s.search.DeleteMessage(updated.ID)
		} else if len(patch.Content) > 0 || input.Deleted != nil {
			s.search.IndexMessage(search.RecordFromMessage(updated, updated.OrgID))
		}
	}
	if len(patch.MentionedUserIDs) > 0 {
		s.subscribeMentioned(ctx, thread, updated)
	}
	view := messageView(updated)
	s.publish(ctx, pubsub.Event{
		Type:     pubsub.MessageUpdated,
		AppID:    thread.ApplicationID,
		ThreadID: thread.ExternalID,
		GroupID:  thread.OrgID,
		Payload:  eventPayload(view),
	})
	return view, nil
}

func (s *Service) subscribeMentioned(ctx context.Context, thread store.Thread, msg store.Message) {
	ids, err := s.store.ResolveUserIDs(ctx, thread.ApplicationID, msg.MentionedUserIDs)
	if err != nil {
		log.Printf("threads: resolve mentions %s: %v", msg.ID, err)
		return
	}
	for _, userID := range ids {
		if err := s.store.UpsertParticipant(ctx, thread.ID, thread.OrgID, userID, true); err != nil {
			log.Printf("threads: subscribe mention %s: %v", userID, err)
		}
	}
}

// DeleteMessage removes a message for good.
func (s *Service) DeleteMessage(ctx context.Context, caller Caller, threadID, messageID string) error {
	thread, msg, err := s.visibleMessage(ctx, caller, threadID, messageID)
	if err != nil {
		return err
	}
	if caller.Role == rbac.RoleClient && msg.SourceID != caller.UserID {
		return forbidden("Only the author can delete a message")
	}
	if err := s.store.DeleteMessage(ctx, msg.ID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteMessage(msg.ID)
	}
	s.publish(ctx, pubsub.Event{
		Type:     pubsub.MessageDeleted,
		AppID:    thread.ApplicationID,
		ThreadID: thread.ExternalID,
		GroupID:  thread.OrgID,
		Payload:  eventPayload(map[string]string{"id": msg.ExternalID}),
	})
	return nil
}

// AddReaction adds the caller's reaction and notifies the message author.
func (s *Service) AddReaction(ctx context.Context, caller Caller, messageID, reaction string) (MessageView, error) {
	reaction = strings.TrimSpace(reaction)
	if reaction == "" {
		return MessageView{}, invalidField("reaction", "reaction is required")
	}
	thread, msg, err := s.visibleMessage(ctx, caller, "", messageID)
	if err != nil {
		return MessageView{}, err
	}
	added, err := s.store.AddReaction(ctx, msg.ID, caller.UserID, reaction)
	if errors.Is(err, store.ErrConflict) {
		return MessageView{}, domainError(http.StatusConflict, "reaction_exists", "Reaction already added", nil)
	}
	if err != nil {
		return MessageView{}, err
	}
	if msg.SourceID != caller.UserID {
		if _, err := s.createNotification(ctx, store.Notification{
			ApplicationID:  caller.AppID,
			RecipientID:    msg.SourceID,
			SenderID:       caller.UserID,
			Type:           "reaction",
			AggregationKey: msg.ID,
			MessageID:      msg.ID,
			ReactionID:     added.ID,
		}); err != nil {
			log.Printf("notifications: reaction for %s: %v", msg.SourceID, err)
		}
	}
	return s.reactionsChanged(ctx, thread, msg)
}

func (s *Service) RemoveReaction(ctx context.Context, caller Caller, messageID, reaction string) (MessageView, error) {
	thread, msg, err := s.visibleMessage(ctx, caller, "", messageID)
	if err != nil {
		return MessageView{}, err
	}
	err = s.store.RemoveReaction(ctx, msg.ID, caller.UserID, reaction)
	if errors.Is(err, sql.ErrNoRows) {
		return MessageView{}, notFound("reaction_not_found", "Reaction not found")
	}
	if err != nil {
		return MessageView{}, err
	}
	return s.reactionsChanged(ctx, thread, msg)
}

func (s *Service) reactionsChanged(ctx context.Context, thread store.Thread, msg store.Message) (MessageView, error) {
	reloaded, err := s.store.GetMessageByExternalID(ctx, thread.ApplicationID, msg.ExternalID)
	if err != nil {
		return MessageView{}, err
	}
	view := messageView(reloaded)
	s.publish(ctx, pubsub.Event{
		Type:     pubsub.MessageUpdated,
		AppID:    thread.ApplicationID,
		ThreadID: thread.ExternalID,
		GroupID:  thread.OrgID,
		Payload:  eventPayload(view),
	})
	return view, nil
}
