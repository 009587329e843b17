package store

import (
	"encoding/json"
	"time"
)

type Metadata map[string]any

type Customer struct {
	ID                  string
	Name                string
	Type                string
	ImplementationStage string
	SharedSecret        string
	CreatedAt           time.Time
}

type Application struct {
	ID                        string
	CustomerID                string
	Name                      string
	SharedSecret              string
	IconURL                   string
	Tier                      string
	Environment               string
	RedirectURI               string
	EmailSettings             json.RawMessage
	EventWebhookURL           string
	EventWebhookSubscriptions []string
	CreatedAt                 time.Time
}

type ConsoleUser struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	CustomerID   string
	Verified     bool
	CreatedAt    time.Time
}

type User struct {
	ID                string
	ApplicationID     string
	ExternalID        string
	UserType          string
	State             string
	Name              string
	ShortName         string
	Email             string
	ProfilePictureURL string
	Metadata          Metadata
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// UserPatch carries optional user fields; nil leaves the column unchanged.
type UserPatch struct {
	Name              *string
	ShortName         *string
	Email             *string
	ProfilePictureURL *string
	State             *string
	Metadata          Metadata
}

type Group struct {
	ID            string
	ApplicationID string
	ExternalID    string
	Name          string
	ImageURL      string
	State         string
	Metadata      Metadata
	CreatedAt     time.Time
}

type GroupPatch struct {
	Name     *string
	ImageURL *string
	State    *string
	Metadata Metadata
}

type Thread struct {
	ID              string
	ApplicationID   string
	OrgID           string
	GroupExternalID string
	ExternalID      string
	Name            string
	URL             string
	PageContextHash string
	Location        Metadata
	ResolvedAt      *time.Time
	ResolverUserID  string
	Metadata        Metadata
	ExtraClassnames string
	CreatedAt       time.Time
}

func (t Thread) Resolved() bool {
	return t.ResolvedAt != nil
}

type ThreadPatch struct {
	ExternalID      *string
	Name            *string
	URL             *string
	Location        Metadata
	OrgID           *string
	Metadata        Metadata
	ExtraClassnames *string
	// Resolved toggles resolution; ResolvedAt overrides the timestamp when set.
	Resolved       *bool
	ResolvedAt     *time.Time
	ResolverUserID string
}

type Participant struct {
	ThreadID       string
	UserID         string
	UserExternalID string
	LastSeenAt     *time.Time
	Subscribed     bool
}

type ThreadSummary struct {
	Thread
	Total           int
	UserMessages    int
	ActionMessages  int
	DeletedMessages int
	FirstMessageAt  *time.Time
	LastActivityAt  time.Time
	Participants    []Participant
	Subscribers     []string
}

type ThreadFilter struct {
	ApplicationID string
	ThreadID      string
	Location      Metadata
	PartialMatch  bool
	// OrgIDs restricts results to these groups; nil means unrestricted.
	OrgIDs             []string
	OrgID              string
	ResolvedStatus     string
	Metadata           Metadata
	ViewerUserID       string
	ViewerIsSubscribed bool
	Limit              int
	CursorAt           *time.Time
	CursorExternal     string
}

type ThreadCounts struct {
	Total            int `json:"total"`
	Resolved         int `json:"resolved"`
	Unread           int `json:"unread"`
	UnreadSubscribed int `json:"unreadSubscribed"`
	Empty            int `json:"empty"`
}

type Message struct {
	ID               string
	ApplicationID    string
	OrgID            string
	ThreadID         string
	ThreadExternalID string
	SourceID         string
	AuthorExternalID string
	ExternalID       string
	Type             string
	Content          json.RawMessage
	URL              string
	IconURL          string
	TranslationKey   string
	Metadata         Metadata
	ExtraClassnames  string
	SkipLinkPreviews bool
	CreatedAt        time.Time
	UpdatedAt        *time.Time
	DeletedAt        *time.Time
	MentionedUserIDs []string
	Attachments      []Attachment
	Reactions        []Reaction
}

type MessagePatch struct {
	Content          json.RawMessage
	Metadata         Metadata
	URL              *string
	IconURL          *string
	ExtraClassnames  *string
	Deleted          *bool
	UpdatedAt        *time.Time
	MentionedUserIDs []string
}

type Attachment struct {
	ID        string
	MessageID string
	Type      string
	Data      json.RawMessage
	CreatedAt time.Time
}

type Reaction struct {
	ID             string
	MessageID      string
	UserID         string
	UserExternalID string
	Reaction       string
	CreatedAt      time.Time
}

type Notification struct {
	ID                  string
	ApplicationID       string
	ExternalID          string
	RecipientID         string
	RecipientExternalID string
	SenderID            string
	SenderExternalID    string
	Type                string
	AggregationKey      string
	ReadStatus          string
	MessageID           string
	MessageExternalID   string
	ThreadExternalID    string
	ReactionID          string
	ReplyActions        []string
	ExternalTemplate    string
	ExternalURL         string
	IconURL             string
	Metadata            Metadata
	ExtraClassnames     string
	CreatedAt           time.Time
}

type NotificationFilter struct {
	RecipientID string
	Metadata    Metadata
	ThreadID    string
	Limit       int
	CursorAt    *time.Time
	CursorID    string
}

type File struct {
	ID            string
	ApplicationID string
	UserID        string
	Name          string
	MimeType      string
	Size          int64
	UploadStatus  string
	CreatedAt     time.Time
}

type Connection struct {
	UserID        string
	OrgID         string
	Type          string
	ExternalID    string
	ExternalEmail string
	ConnectedAt   time.Time
}

type WebhookTarget struct {
	ID            string
	URL           string
	Subscriptions []string
}

type Provider struct {
	ID                            string
	Name                          string
	Domains                       []string
	IconURL                       string
	NuxText                       string
	MergeHashWithLocation         bool
	DisableAnnotations            bool
	VisibleInDiscoverToolsSection bool
	Dirty                         bool
	ClaimingApplication           string
	Rules                         []ProviderRule
}

type ProviderRule struct {
	ID                    string
	Type                  string
	Order                 int
	MatchPatterns         json.RawMessage
	ObserveDOMMutations   bool
	NameTemplate          string
	ContextTransformation json.RawMessage
}

type PublishedProvider struct {
	ProviderID   string
	PublishedAt  time.Time
	RuleProvider json.RawMessage
	CommitHash   string
}
