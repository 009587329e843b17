package app

import (
	"encoding/json"
	"net/http"
	"time"

	"cord/platform/internal/content"
	"cord/platform/internal/metadata"
	"cord/platform/internal/store"
)

type UserView struct {
	ID                string         `json:"id"`
	Name              string         `json:"name,omitempty"`
	ShortName         string         `json:"shortName,omitempty"`
	Email             string         `json:"email,omitempty"`
	ProfilePictureURL string         `json:"profilePictureURL,omitempty"`
	Status            string         `json:"status"`
	Metadata          store.Metadata `json:"metadata"`
	CreatedTimestamp  time.Time      `json:"createdTimestamp"`
}

func userView(user store.User) UserView {
	return UserView{
		ID:                user.ExternalID,
		Name:              user.Name,
		ShortName:         user.ShortName,
		Email:             user.Email,
		ProfilePictureURL: user.ProfilePictureURL,
		Status:            user.State,
		Metadata:          nonNilMetadata(user.Metadata),
		CreatedTimestamp:  user.CreatedAt,
	}
}

type GroupView struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	ImageURL string         `json:"imageURL,omitempty"`
	Status   string         `json:"status"`
	Metadata store.Metadata `json:"metadata"`
	Members  []string       `json:"members,omitempty"`
}

func groupView(group store.Group, members []store.User) GroupView {
	view := GroupView{
		ID:       group.ExternalID,
		Name:     group.Name,
		ImageURL: group.ImageURL,
		Status:   group.State,
		Metadata: nonNilMetadata(group.Metadata),
	}
	for _, member := range members {
		view.Members = append(view.Members, member.ExternalID)
	}
	return view
}

type ParticipantView struct {
	UserID            string     `json:"userID"`
	LastSeenTimestamp *time.Time `json:"lastSeenTimestamp"`
	Subscribed        bool       `json:"subscribed"`
}

type ThreadView struct {
	ID                    string            `json:"id"`
	GroupID               string            `json:"groupID"`
	Name                  string            `json:"name"`
	URL                   string            `json:"url"`
	Location              store.Metadata    `json:"location"`
	Resolved              bool              `json:"resolved"`
	ResolvedTimestamp     *time.Time        `json:"resolvedTimestamp"`
	Metadata              store.Metadata    `json:"metadata"`
	ExtraClassnames       string            `json:"extraClassnames,omitempty"`
	Total                 int               `json:"total"`
	UserMessages          int               `json:"userMessages"`
	ActionMessages        int               `json:"actionMessages"`
	DeletedMessages       int               `json:"deletedMessages"`
	Participants          []ParticipantView `json:"participants"`
	Subscribers           []string          `json:"subscribers"`
	Typing                []string          `json:"typing,omitempty"`
	CreatedTimestamp      time.Time         `json:"createdTimestamp"`
	FirstMessageTimestamp *time.Time        `json:"firstMessageTimestamp"`
	LastActivityTimestamp time.Time         `json:"lastActivityTimestamp"`
}

func threadView(summary store.ThreadSummary) ThreadView {
	view := ThreadView{
		ID:                    summary.ExternalID,
		GroupID:               summary.GroupExternalID,
		Name:                  summary.Name,
		URL:                   summary.URL,
		Location:              nonNilMetadata(summary.Location),
		Resolved:              summary.Resolved(),
		ResolvedTimestamp:     summary.ResolvedAt,
		Metadata:              nonNilMetadata(summary.Metadata),
		ExtraClassnames:       summary.ExtraClassnames,
		Total:                 summary.Total,
		UserMessages:          summary.UserMessages,
		ActionMessages:        summary.ActionMessages,
		DeletedMessages:       summary.DeletedMessages,
		Participants:          []ParticipantView{},
		Subscribers:           summary.Subscribers,
		CreatedTimestamp:      summary.CreatedAt,
		FirstMessageTimestamp: summary.FirstMessageAt,
		LastActivityTimestamp: summary.LastActivityAt,
	}
	if view.Subscribers == nil {
		view.Subscribers = []string{}
	}
	for _, participant := range summary.Participants {
		view.Participants = append(view.Participants, ParticipantView{
			UserID:            participant.UserExternalID,
			LastSeenTimestamp: participant.LastSeenAt,
			Subscribed:        participant.Subscribed,
		})
	}
	return view
}

type ReactionView struct {
	Reaction  string    `json:"reaction"`
	UserID    string    `json:"userID"`
	Timestamp time.Time `json:"timestamp"`
}

type AttachmentView struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type MessageView struct {
	ID               string           `json:"id"`
	ThreadID         string           `json:"threadID"`
	AuthorID         string           `json:"authorID"`
	Type             string           `json:"type"`
	Content          json.RawMessage  `json:"content"`
	Plaintext        string           `json:"plaintext"`
	URL              string           `json:"url,omitempty"`
	IconURL          string           `json:"iconURL,omitempty"`
	TranslationKey   string           `json:"translationKey,omitempty"`
	Metadata         store.Metadata   `json:"metadata"`
	ExtraClassnames  string           `json:"extraClassnames,omitempty"`
	SkipLinkPreviews bool             `json:"skipLinkPreviews"`
	Reactions        []ReactionView   `json:"reactions"`
	Attachments      []AttachmentView `json:"attachments"`
	CreatedTimestamp time.Time        `json:"createdTimestamp"`
	UpdatedTimestamp *time.Time       `json:"updatedTimestamp"`
	DeletedTimestamp *time.Time       `json:"deletedTimestamp"`
}

func messageView(msg store.Message) MessageView {
	view := MessageView{
		ID:               msg.ExternalID,
		ThreadID:         msg.ThreadExternalID,
		AuthorID:         msg.AuthorExternalID,
		Type:             msg.Type,
		Content:          msg.Content,
		Plaintext:        content.PlainText(msg.Content),
		URL:              msg.URL,
		IconURL:          msg.IconURL,
		TranslationKey:   msg.TranslationKey,
		Metadata:         nonNilMetadata(msg.Metadata),
		ExtraClassnames:  msg.ExtraClassnames,
		SkipLinkPreviews: msg.SkipLinkPreviews,
		Reactions:        []ReactionView{},
		Attachments:      []AttachmentView{},
		CreatedTimestamp: msg.CreatedAt,
		UpdatedTimestamp: msg.UpdatedAt,
		DeletedTimestamp: msg.DeletedAt,
	}
	if len(view.Content) == 0 {
		view.Content = json.RawMessage("[]")
	}
	for _, reaction := range msg.Reactions {
		view.Reactions = append(view.Reactions, ReactionView{Reaction: reaction.Reaction, UserID: reaction.UserExternalID, Timestamp: reaction.CreatedAt})
	}
	for _, attachment := range msg.Attachments {
		view.Attachments = append(view.Attachments, AttachmentView{Type: attachment.Type, Data: attachment.Data})
	}
	return view
}

type NotificationView struct {
	ID               string         `json:"id"`
	Type             string         `json:"type"`
	RecipientID      string         `json:"recipientID"`
	SenderID         string         `json:"senderID,omitempty"`
	ReadStatus       string         `json:"readStatus"`
	MessageID        string         `json:"messageID,omitempty"`
	ThreadID         string         `json:"threadID,omitempty"`
	ReplyActions     []string       `json:"replyActions,omitempty"`
	Template         string         `json:"template,omitempty"`
	URL              string         `json:"url,omitempty"`
	IconURL          string         `json:"iconUrl,omitempty"`
	Metadata         store.Metadata `json:"metadata"`
	ExtraClassnames  string         `json:"extraClassnames,omitempty"`
	CreatedTimestamp time.Time      `json:"createdTimestamp"`
}

func notificationView(n store.Notification) NotificationView {
	return NotificationView{
		ID:               n.ExternalID,
		Type:             n.Type,
		RecipientID:      n.RecipientExternalID,
		SenderID:         n.SenderExternalID,
		ReadStatus:       n.ReadStatus,
		MessageID:        n.MessageExternalID,
		ThreadID:         n.ThreadExternalID,
		ReplyActions:     n.ReplyActions,
		Template:         n.ExternalTemplate,
		URL:              n.ExternalURL,
		IconURL:          n.IconURL,
		Metadata:         nonNilMetadata(n.Metadata),
		ExtraClassnames:  n.ExtraClassnames,
		CreatedTimestamp: n.CreatedAt,
	}
}

type ProjectView struct {
	ID                        string          `json:"id"`
	Name                      string          `json:"name"`
	Secret                    string          `json:"secret,omitempty"`
	IconURL                   string          `json:"iconURL,omitempty"`
	Environment               string          `json:"environment"`
	Tier                      string          `json:"tier"`
	RedirectURI               string          `json:"redirectURI,omitempty"`
	EmailSettings             json.RawMessage `json:"emailSettings,omitempty"`
	EventWebhookURL           string          `json:"eventWebhookURL,omitempty"`
	EventWebhookSubscriptions []string        `json:"eventWebhookSubscriptions"`
	CreatedTimestamp          time.Time       `json:"createdTimestamp"`
}

func projectView(app store.Application, withSecret bool) ProjectView {
	view := ProjectView{
		ID:                        app.ID,
		Name:                      app.Name,
		IconURL:                   app.IconURL,
		Environment:               app.Environment,
		Tier:                      app.Tier,
		RedirectURI:               app.RedirectURI,
		EmailSettings:             app.EmailSettings,
		EventWebhookURL:           app.EventWebhookURL,
		EventWebhookSubscriptions: app.EventWebhookSubscriptions,
		CreatedTimestamp:          app.CreatedAt,
	}
	if view.EventWebhookSubscriptions == nil {
		view.EventWebhookSubscriptions = []string{}
	}
	if withSecret {
		view.Secret = app.SharedSecret
	}
	return view
}

func nonNilMetadata(values store.Metadata) store.Metadata {
	if values == nil {
		return store.Metadata{}
	}
	return values
}

func validateMetadata(field string, values map[string]any) error {
	if err := metadata.Validate(values); err != nil {
		return invalidField(field, err.Error())
	}
	return nil
}

func validateContent(raw json.RawMessage) error {
	if err := content.Validate(raw); err != nil {
		return domainError(http.StatusBadRequest, "invalid_content", err.Error(), nil)
	}
	return nil
}
