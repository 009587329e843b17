package app

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"cord/platform/internal/authpw"
	"cord/platform/internal/config"
	"cord/platform/internal/email"
	"cord/platform/internal/export"
	"cord/platform/internal/files"
	"cord/platform/internal/gitrepo"
	"cord/platform/internal/presence"
	"cord/platform/internal/pubsub"
	"cord/platform/internal/realtime"
	"cord/platform/internal/search"
	"cord/platform/internal/session"
	"cord/platform/internal/store"
	"cord/platform/internal/webhook"
)

type dataStore interface {
	Ping(ctx context.Context) error

	InsertCustomer(ctx context.Context, name string) (store.Customer, error)
	GetCustomer(ctx context.Context, customerID string) (store.Customer, error)
	DeleteCustomer(ctx context.Context, customerID string) error
	InsertApplication(ctx context.Context, app store.Application) (store.Application, error)
	GetApplication(ctx context.Context, appID string) (store.Application, error)
	ListApplications(ctx context.Context, customerID string) ([]store.Application, error)
	UpdateApplication(ctx context.Context, app store.Application) error
	DeleteApplication(ctx context.Context, appID string) error
	ListWebhookTargets(ctx context.Context, appID string) ([]store.WebhookTarget, error)
	AddWebhook(ctx context.Context, appID, url string, subscriptions []string) (store.WebhookTarget, error)
	DeleteWebhook(ctx context.Context, appID, webhookID string) error

	UpsertUser(ctx context.Context, appID, externalID string, patch store.UserPatch) (store.User, error)
	GetUserByExternalID(ctx context.Context, appID, externalID string) (store.User, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	ListUsers(ctx context.Context, appID string, limit int, after string) ([]store.User, string, error)
	ResolveUserIDs(ctx context.Context, appID string, externalIDs []string) (map[string]string, error)
	DeleteUser(ctx context.Context, appID, externalID string) error
	UpsertConnection(ctx context.Context, conn store.Connection) error
	ListConnections(ctx context.Context, userID string) ([]store.Connection, error)
	DeleteConnection(ctx context.Context, userID, orgID, connectionType string) error

	UpsertGroup(ctx context.Context, appID, externalID string, patch store.GroupPatch) (store.Group, error)
	GetGroupByExternalID(ctx context.Context, appID, externalID string) (store.Group, error)
	GetGroupByID(ctx context.Context, orgID string) (store.Group, error)
	ListGroups(ctx context.Context, appID string) ([]store.Group, error)
	ListUserGroups(ctx context.Context, userID string) ([]store.Group, error)
	SetGroupMembers(ctx context.Context, appID, orgID string, add, remove []string) error
	ListGroupMembers(ctx context.Context, orgID string) ([]store.User, error)
	IsGroupMember(ctx context.Context, orgID, userID string) (bool, error)
	DeleteGroup(ctx context.Context, appID, externalID string) error

	InsertThread(ctx context.Context, thread store.Thread) (store.Thread, error)
	GetThreadByID(ctx context.Context, threadID string) (store.Thread, error)
	GetThreadByExternalID(ctx context.Context, appID, externalID string) (store.Thread, error)
	UpdateThread(ctx context.Context, threadID string, patch store.ThreadPatch) (store.Thread, error)
	DeleteThread(ctx context.Context, threadID string) error
	ListThreads(ctx context.Context, filter store.ThreadFilter) ([]store.ThreadSummary, error)
	ThreadCounts(ctx context.Context, filter store.ThreadFilter) (store.ThreadCounts, error)
	UpsertParticipant(ctx context.Context, threadID, orgID, userID string, subscribe bool) error
	SetSubscribed(ctx context.Context, threadID, orgID, userID string, subscribed bool) error
	MarkSeen(ctx context.Context, threadID, orgID, userID string, at time.Time) error
	MarkNewlyActiveForOthers(ctx context.Context, threadID, exceptUserID string) error
	ListSubscribers(ctx context.Context, threadID string) ([]store.Participant, error)

	InsertMessage(ctx context.Context, msg store.Message) (store.Message, error)
	GetMessageByExternalID(ctx context.Context, appID, externalID string) (store.Message, error)
	ListMessages(ctx context.Context, threadID string, includeDeleted bool) ([]store.Message, error)
	UpdateMessage(ctx context.Context, messageID string, patch store.MessagePatch) (store.Message, error)
	DeleteMessage(ctx context.Context, messageID string) error
	AddReaction(ctx context.Context, messageID, userID, reaction string) (store.Reaction, error)
	RemoveReaction(ctx context.Context, messageID, userID, reaction string) error

	InsertNotification(ctx context.Context, n store.Notification) (store.Notification, error)
	GetNotificationByExternalID(ctx context.Context, appID, externalID string) (store.Notification, error)
	ListNotifications(ctx context.Context, filter store.NotificationFilter) ([]store.Notification, error)
	MarkNotificationsRead(ctx context.Context, recipientID, notificationID, threadID string) (int64, error)
	DeleteNotification(ctx context.Context, appID, externalID string) error
	NotificationSummary(ctx context.Context, recipientID string) (int, error)

	GetFile(ctx context.Context, appID, fileID string) (store.File, error)

	UpsertProvider(ctx context.Context, p store.Provider) (store.Provider, error)
	GetProvider(ctx context.Context, providerID string) (store.Provider, error)
	ListProviders(ctx context.Context) ([]store.Provider, error)
	PublishProvider(ctx context.Context, providerID string, ruleProvider json.RawMessage, commitHash string) (store.PublishedProvider, error)
}

type sessionStore interface {
	SaveSession(ctx context.Context, jti string, data session.Data) error
	LookupSession(ctx context.Context, jti string) (session.Data, error)
	RevokeSession(ctx context.Context, jti string) error
	Ping(ctx context.Context) error
}

type typingTracker interface {
	SetTyping(ctx context.Context, threadID, userID string, typing bool) error
	TypingUsers(ctx context.Context, threadID string) ([]string, error)
	ClearThread(ctx context.Context, threadID string) error
}

type eventPublisher interface {
	Publish(ctx context.Context, event pubsub.Event) error
}

type messageIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexMessage(record search.MessageRecord)
	DeleteMessage(id string)
	Backend() string
}

type fileStorage interface {
	Create(ctx context.Context, appID, userID, name, mimeType string, size int64) (store.File, string, error)
	Complete(ctx context.Context, appID, fileID string) (store.File, error)
	SetStatus(ctx context.Context, appID, fileID, status string) (store.File, error)
	PresignDownload(ctx context.Context, file store.File) (string, error)
}

type webhookSender interface {
	Publish(app store.Application, targets []store.WebhookTarget, eventType string, event any)
	VerifyURL(ctx context.Context, app store.Application, url string) error
}

type mailer interface {
	IsConfigured() bool
	SendReplyNotification(to string, data email.NotificationData) error
	SendMentionNotification(to string, data email.NotificationData) error
}

type transcriptExporter interface {
	Export(ctx context.Context, threadID string, format export.Format) (*export.Result, error)
}

type providerHistory interface {
	Publish(providerID string, ruleSet json.RawMessage, author, message string) (gitrepo.PublishResult, error)
	History(providerID string, limit int) ([]gitrepo.Commit, error)
}

type eventStream interface {
	Serve(w http.ResponseWriter, r *http.Request, viewer realtime.Viewer)
}

// Deps are the optional collaborators. Nil entries switch the matching
// feature off.
type Deps struct {
	Sessions *session.RedisStore
	Typing   *presence.Tracker
	Bus      *pubsub.Bus
	Events   *realtime.Handler
	Search   *search.Service
	Files    *files.Service
	Webhooks *webhook.Deliverer
	Email    *email.Service
	Export   *export.Service
	Git      *gitrepo.Service
	Console  *authpw.Service
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	typing   typingTracker
	bus      eventPublisher
	events   eventStream
	search   messageIndex
	files    fileStorage
	webhooks webhookSender
	mail     mailer
	export   transcriptExporter
	git      providerHistory
	console  *authpw.Service
	now      func() time.Time
}

func New(cfg config.Config, dataStore *store.PostgresStore, deps Deps) *Service {
	s := &Service{
		cfg:     cfg,
		store:   dataStore,
		console: deps.Console,
		now:     time.Now,
	}
	if deps.Sessions != nil {
		s.sessions = deps.Sessions
	}
	if deps.Typing != nil {
		s.typing = deps.Typing
	}
	if deps.Bus != nil {
		s.bus = deps.Bus
	}
	if deps.Events != nil {
		s.events = deps.Events
	}
	if deps.Search != nil {
		s.search = deps.Search
	}
	if deps.Files != nil {
		s.files = deps.Files
	}
	if deps.Webhooks != nil {
		s.webhooks = deps.Webhooks
	}
	if deps.Email != nil {
		s.mail = deps.Email
	}
	if deps.Export != nil {
		s.export = deps.Export
	}
	if deps.Git != nil {
		s.git = deps.Git
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Readiness reports each backing service. Only the database is required;
// the others degrade features.
func (s *Service) Readiness(ctx context.Context) (bool, map[string]any) {
	checks := map[string]any{}
	ready := true
	if err := s.store.Ping(ctx); err != nil {
		ready = false
		checks["database"] = map[string]any{"status": "error", "error": err.Error()}
	} else {
		checks["database"] = map[string]any{"status": "ok"}
	}
	switch {
	case s.sessions == nil:
		checks["redis"] = map[string]any{"status": "disabled"}
	default:
		if err := s.sessions.Ping(ctx); err != nil {
			ready = false
			checks["redis"] = map[string]any{"status": "error", "error": err.Error()}
		} else {
			checks["redis"] = map[string]any{"status": "ok"}
		}
	}
	if s.search != nil {
		checks["search"] = map[string]any{"status": "ok", "backend": s.search.Backend()}
	} else {
		checks["search"] = map[string]any{"status": "disabled"}
	}
	return ready, checks
}

func (s *Service) publish(ctx context.Context, event pubsub.Event) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		log.Printf("pubsub: publish %s: %v", event.Type, err)
	}
}

// emitWebhook sends eventType to every subscribed target of the app.
func (s *Service) emitWebhook(ctx context.Context, appID, eventType string, event any) {
	if s.webhooks == nil {
		return
	}
	app, err := s.store.GetApplication(ctx, appID)
	if err != nil {
		log.Printf("webhook: load application %s: %v", appID, err)
		return
	}
	targets, err := s.store.ListWebhookTargets(ctx, appID)
	if err != nil {
		log.Printf("webhook: list targets %s: %v", appID, err)
		return
	}
	s.webhooks.Publish(app, targets, eventType, event)
}

func eventPayload(value any) json.RawMessage {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil
	}
	return raw
}
