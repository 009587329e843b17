package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"cord/platform/internal/store"
)

// fakeStore satisfies dataStore. Unset functions return zero values, except
// lookups which report sql.ErrNoRows.
type fakeStore struct {
	pingFn                        func(context.Context) error
	insertCustomerFn              func(context.Context, string) (store.Customer, error)
	getCustomerFn                 func(context.Context, string) (store.Customer, error)
	deleteCustomerFn              func(context.Context, string) error
	insertApplicationFn           func(context.Context, store.Application) (store.Application, error)
	getApplicationFn              func(context.Context, string) (store.Application, error)
	listApplicationsFn            func(context.Context, string) ([]store.Application, error)
	updateApplicationFn           func(context.Context, store.Application) error
	deleteApplicationFn           func(context.Context, string) error
	listWebhookTargetsFn          func(context.Context, string) ([]store.WebhookTarget, error)
	addWebhookFn                  func(context.Context, string, string, []string) (store.WebhookTarget, error)
	deleteWebhookFn               func(context.Context, string, string) error
	upsertUserFn                  func(context.Context, string, string, store.UserPatch) (store.User, error)
	getUserByExternalIDFn         func(context.Context, string, string) (store.User, error)
	getUserByIDFn                 func(context.Context, string) (store.User, error)
	listUsersFn                   func(context.Context, string, int, string) ([]store.User, string, error)
	resolveUserIDsFn              func(context.Context, string, []string) (map[string]string, error)
	deleteUserFn                  func(context.Context, string, string) error
	upsertConnectionFn            func(context.Context, store.Connection) error
	listConnectionsFn             func(context.Context, string) ([]store.Connection, error)
	deleteConnectionFn            func(context.Context, string, string, string) error
	upsertGroupFn                 func(context.Context, string, string, store.GroupPatch) (store.Group, error)
	getGroupByExternalIDFn        func(context.Context, string, string) (store.Group, error)
	getGroupByIDFn                func(context.Context, string) (store.Group, error)
	listGroupsFn                  func(context.Context, string) ([]store.Group, error)
	listUserGroupsFn              func(context.Context, string) ([]store.Group, error)
	setGroupMembersFn             func(context.Context, string, string, []string, []string) error
	listGroupMembersFn            func(context.Context, string) ([]store.User, error)
	isGroupMemberFn               func(context.Context, string, string) (bool, error)
	deleteGroupFn                 func(context.Context, string, string) error
	insertThreadFn                func(context.Context, store.Thread) (store.Thread, error)
	getThreadByIDFn               func(context.Context, string) (store.Thread, error)
	getThreadByExternalIDFn       func(context.Context, string, string) (store.Thread, error)
	updateThreadFn                func(context.Context, string, store.ThreadPatch) (store.Thread, error)
	deleteThreadFn                func(context.Context, string) error
	listThreadsFn                 func(context.Context, store.ThreadFilter) ([]store.ThreadSummary, error)
	threadCountsFn                func(context.Context, store.ThreadFilter) (store.ThreadCounts, error)
	upsertParticipantFn           func(context.Context, string, string, string, bool) error
	setSubscribedFn               func(context.Context, string, string, string, bool) error
	markSeenFn                    func(context.Context, string, string, string, time.Time) error
	markNewlyActiveForOthersFn    func(context.Context, string, string) error
	listSubscribersFn             func(context.Context, string) ([]store.Participant, error)
	insertMessageFn               func(context.Context, store.Message) (store.Message, error)
	getMessageByExternalIDFn      func(context.Context, string, string) (store.Message, error)
	listMessagesFn                func(context.Context, string, bool) ([]store.Message, error)
	updateMessageFn               func(context.Context, string, store.MessagePatch) (store.Message, error)
	deleteMessageFn               func(context.Context, string) error
	addReactionFn                 func(context.Context, string, string, string) (store.Reaction, error)
	removeReactionFn              func(context.Context, string, string, string) error
	insertNotificationFn          func(context.Context, store.Notification) (store.Notification, error)
	getNotificationByExternalIDFn func(context.Context, string, string) (store.Notification, error)
	listNotificationsFn           func(context.Context, store.NotificationFilter) ([]store.Notification, error)
	markNotificationsReadFn       func(context.Context, string, string, string) (int64, error)
	deleteNotificationFn          func(context.Context, string, string) error
	notificationSummaryFn         func(context.Context, string) (int, error)
	getFileFn                     func(context.Context, string, string) (store.File, error)
	upsertProviderFn              func(context.Context, store.Provider) (store.Provider, error)
	getProviderFn                 func(context.Context, string) (store.Provider, error)
	listProvidersFn               func(context.Context) ([]store.Provider, error)
	publishProviderFn             func(context.Context, string, json.RawMessage, string) (store.PublishedProvider, error)
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) InsertCustomer(ctx context.Context, name string) (store.Customer, error) {
	if f.insertCustomerFn != nil {
		return f.insertCustomerFn(ctx, name)
	}
	return store.Customer{}, nil
}

func (f *fakeStore) GetCustomer(ctx context.Context, customerID string) (store.Customer, error) {
	if f.getCustomerFn != nil {
		return f.getCustomerFn(ctx, customerID)
	}
	return store.Customer{}, sql.ErrNoRows
}

func (f *fakeStore) DeleteCustomer(ctx context.Context, customerID string) error {
	if f.deleteCustomerFn != nil {
		return f.deleteCustomerFn(ctx, customerID)
	}
	return nil
}

func (f *fakeStore) InsertApplication(ctx context.Context, app store.Application) (store.Application, error) {
	if f.insertApplicationFn != nil {
		return f.insertApplicationFn(ctx, app)
	}
	return store.Application{}, nil
}

func (f *fakeStore) GetApplication(ctx context.Context, appID string) (store.Application, error) {
	if f.getApplicationFn != nil {
		return f.getApplicationFn(ctx, appID)
	}
	return store.Application{}, sql.ErrNoRows
}

func (f *fakeStore) ListApplications(ctx context.Context, customerID string) ([]store.Application, error) {
	if f.listApplicationsFn != nil {
		return f.listApplicationsFn(ctx, customerID)
	}
	return nil, nil
}

func (f *fakeStore) UpdateApplication(ctx context.Context, app store.Application) error {
	if f.updateApplicationFn != nil {
		return f.updateApplicationFn(ctx, app)
	}
	return nil
}

func (f *fakeStore) DeleteApplication(ctx context.Context, appID string) error {
	if f.deleteApplicationFn != nil {
		return f.deleteApplicationFn(ctx, appID)
	}
	return nil
}

func (f *fakeStore) ListWebhookTargets(ctx context.Context, appID string) ([]store.WebhookTarget, error) {
	if f.listWebhookTargetsFn != nil {
		return f.listWebhookTargetsFn(ctx, appID)
	}
	return nil, nil
}

func (f *fakeStore) AddWebhook(ctx context.Context, appID, url string, subscriptions []string) (store.WebhookTarget, error) {
	if f.addWebhookFn != nil {
		return f.addWebhookFn(ctx, appID, url, subscriptions)
	}
	return store.WebhookTarget{}, nil
}

func (f *fakeStore) DeleteWebhook(ctx context.Context, appID, webhookID string) error {
	if f.deleteWebhookFn != nil {
		return f.deleteWebhookFn(ctx, appID, webhookID)
	}
	return nil
}

func (f *fakeStore) UpsertUser(ctx context.Context, appID, externalID string, patch store.UserPatch) (store.User, error) {
	if f.upsertUserFn != nil {
		return f.upsertUserFn(ctx, appID, externalID, patch)
	}
	return store.User{}, nil
}

func (f *fakeStore) GetUserByExternalID(ctx context.Context, appID, externalID string) (store.User, error) {
	if f.getUserByExternalIDFn != nil {
		return f.getUserByExternalIDFn(ctx, appID, externalID)
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) ListUsers(ctx context.Context, appID string, limit int, after string) ([]store.User, string, error) {
	if f.listUsersFn != nil {
		return f.listUsersFn(ctx, appID, limit, after)
	}
	return nil, "", nil
}

func (f *fakeStore) ResolveUserIDs(ctx context.Context, appID string, externalIDs []string) (map[string]string, error) {
	if f.resolveUserIDsFn != nil {
		return f.resolveUserIDsFn(ctx, appID, externalIDs)
	}
	return nil, nil
}

func (f *fakeStore) DeleteUser(ctx context.Context, appID, externalID string) error {
	if f.deleteUserFn != nil {
		return f.deleteUserFn(ctx, appID, externalID)
	}
	return nil
}

func (f *fakeStore) UpsertConnection(ctx context.Context, conn store.Connection) error {
	if f.upsertConnectionFn != nil {
		return f.upsertConnectionFn(ctx, conn)
	}
	return nil
}

func (f *fakeStore) ListConnections(ctx context.Context, userID string) ([]store.Connection, error) {
	if f.listConnectionsFn != nil {
		return f.listConnectionsFn(ctx, userID)
	}
	return nil, nil
}

func (f *fakeStore) DeleteConnection(ctx context.Context, userID, orgID, connectionType string) error {
	if f.deleteConnectionFn != nil {
		return f.deleteConnectionFn(ctx, userID, orgID, connectionType)
	}
	return nil
}

func (f *fakeStore) UpsertGroup(ctx context.Context, appID, externalID string, patch store.GroupPatch) (store.Group, error) {
	if f.upsertGroupFn != nil {
		return f.upsertGroupFn(ctx, appID, externalID, patch)
	}
	return store.Group{}, nil
}

func (f *fakeStore) GetGroupByExternalID(ctx context.Context, appID, externalID string) (store.Group, error) {
	if f.getGroupByExternalIDFn != nil {
		return f.getGroupByExternalIDFn(ctx, appID, externalID)
	}
	return store.Group{}, sql.ErrNoRows
}

func (f *fakeStore) GetGroupByID(ctx context.Context, orgID string) (store.Group, error) {
	if f.getGroupByIDFn != nil {
		return f.getGroupByIDFn(ctx, orgID)
	}
	return store.Group{}, sql.ErrNoRows
}

func (f *fakeStore) ListGroups(ctx context.Context, appID string) ([]store.Group, error) {
	if f.listGroupsFn != nil {
		return f.listGroupsFn(ctx, appID)
	}
	return nil, nil
}

func (f *fakeStore) ListUserGroups(ctx context.Context, userID string) ([]store.Group, error) {
	if f.listUserGroupsFn != nil {
		return f.listUserGroupsFn(ctx, userID)
	}
	return nil, nil
}

func (f *fakeStore) SetGroupMembers(ctx context.Context, appID, orgID string, add, remove []string) error {
	if f.setGroupMembersFn != nil {
		return f.setGroupMembersFn(ctx, appID, orgID, add, remove)
	}
	return nil
}

func (f *fakeStore) ListGroupMembers(ctx context.Context, orgID string) ([]store.User, error) {
	if f.listGroupMembersFn != nil {
		return f.listGroupMembersFn(ctx, orgID)
	}
	return nil, nil
}

func (f *fakeStore) IsGroupMember(ctx context.Context, orgID, userID string) (bool, error) {
	if f.isGroupMemberFn != nil {
		return f.isGroupMemberFn(ctx, orgID, userID)
	}
	return false, nil
}

func (f *fakeStore) DeleteGroup(ctx context.Context, appID, externalID string) error {
	if f.deleteGroupFn != nil {
		return f.deleteGroupFn(ctx, appID, externalID)
	}
	return nil
}

func (f *fakeStore) InsertThread(ctx context.Context, thread store.Thread) (store.Thread, error) {
	if f.insertThreadFn != nil {
		return f.insertThreadFn(ctx, thread)
	}
	return store.Thread{}, nil
}

func (f *fakeStore) GetThreadByID(ctx context.Context, threadID string) (store.Thread, error) {
	if f.getThreadByIDFn != nil {
		return f.getThreadByIDFn(ctx, threadID)
	}
	return store.Thread{}, sql.ErrNoRows
}

func (f *fakeStore) GetThreadByExternalID(ctx context.Context, appID, externalID string) (store.Thread, error) {
	if f.getThreadByExternalIDFn != nil {
		return f.getThreadByExternalIDFn(ctx, appID, externalID)
	}
	return store.Thread{}, sql.ErrNoRows
}

func (f *fakeStore) UpdateThread(ctx context.Context, threadID string, patch store.ThreadPatch) (store.Thread, error) {
	if f.updateThreadFn != nil {
		return f.updateThreadFn(ctx, threadID, patch)
	}
	return store.Thread{}, nil
}

func (f *fakeStore) DeleteThread(ctx context.Context, threadID string) error {
	if f.deleteThreadFn != nil {
		return f.deleteThreadFn(ctx, threadID)
	}
	return nil
}

func (f *fakeStore) ListThreads(ctx context.Context, filter store.ThreadFilter) ([]store.ThreadSummary, error) {
	if f.listThreadsFn != nil {
		return f.listThreadsFn(ctx, filter)
	}
	return nil, nil
}

func (f *fakeStore) ThreadCounts(ctx context.Context, filter store.ThreadFilter) (store.ThreadCounts, error) {
	if f.threadCountsFn != nil {
		return f.threadCountsFn(ctx, filter)
	}
	return store.ThreadCounts{}, nil
}

func (f *fakeStore) UpsertParticipant(ctx context.Context, threadID, orgID, userID string, subscribe bool) error {
	if f.upsertParticipantFn != nil {
		return f.upsertParticipantFn(ctx, threadID, orgID, userID, subscribe)
	}
	return nil
}

func (f *fakeStore) SetSubscribed(ctx context.Context, threadID, orgID, userID string, subscribed bool) error {
	if f.setSubscribedFn != nil {
		return f.setSubscribedFn(ctx, threadID, orgID, userID, subscribed)
	}
	return nil
}

func (f *fakeStore) MarkSeen(ctx context.Context, threadID, orgID, userID string, at time.Time) error {
	if f.markSeenFn != nil {
		return f.markSeenFn(ctx, threadID, orgID, userID, at)
	}
	return nil
}

func (f *fakeStore) MarkNewlyActiveForOthers(ctx context.Context, threadID, exceptUserID string) error {
	if f.markNewlyActiveForOthersFn != nil {
		return f.markNewlyActiveForOthersFn(ctx, threadID, exceptUserID)
	}
	return nil
}

func (f *fakeStore) ListSubscribers(ctx context.Context, threadID string) ([]store.Participant, error) {
	if f.listSubscribersFn != nil {
		return f.listSubscribersFn(ctx, threadID)
	}
	return nil, nil
}

func (f *fakeStore) InsertMessage(ctx context.Context, msg store.Message) (store.Message, error) {
	if f.insertMessageFn != nil {
		return f.insertMessageFn(ctx, msg)
	}
	return store.Message{}, nil
}

func (f *fakeStore) GetMessageByExternalID(ctx context.Context, appID, externalID string) (store.Message, error) {
	if f.getMessageByExternalIDFn != nil {
		return f.getMessageByExternalIDFn(ctx, appID, externalID)
	}
	return store.Message{}, sql.ErrNoRows
}

func (f *fakeStore) ListMessages(ctx context.Context, threadID string, includeDeleted bool) ([]store.Message, error) {
	if f.listMessagesFn != nil {
		return f.listMessagesFn(ctx, threadID, includeDeleted)
	}
	return nil, nil
}

func (f *fakeStore) UpdateMessage(ctx context.Context, messageID string, patch store.MessagePatch) (store.Message, error) {
	if f.updateMessageFn != nil {
		return f.updateMessageFn(ctx, messageID, patch)
	}
	return store.Message{}, nil
}

func (f *fakeStore) DeleteMessage(ctx context.Context, messageID string) error {
	if f.deleteMessageFn != nil {
		return f.deleteMessageFn(ctx, messageID)
	}
	return nil
}

func (f *fakeStore) AddReaction(ctx context.Context, messageID, userID, reaction string) (store.Reaction, error) {
	if f.addReactionFn != nil {
		return f.addReactionFn(ctx, messageID, userID, reaction)
	}
	return store.Reaction{}, nil
}

func (f *fakeStore) RemoveReaction(ctx context.Context, messageID, userID, reaction string) error {
	if f.removeReactionFn != nil {
		return f.removeReactionFn(ctx, messageID, userID, reaction)
	}
	return nil
}

func (f *fakeStore) InsertNotification(ctx context.Context, n store.Notification) (store.Notification, error) {
	if f.insertNotificationFn != nil {
		return f.insertNotificationFn(ctx, n)
	}
	return store.Notification{}, nil
}

func (f *fakeStore) GetNotificationByExternalID(ctx context.Context, appID, externalID string) (store.Notification, error) {
	if f.getNotificationByExternalIDFn != nil {
		return f.getNotificationByExternalIDFn(ctx, appID, externalID)
	}
	return store.Notification{}, sql.ErrNoRows
}

func (f *fakeStore) ListNotifications(ctx context.Context, filter store.NotificationFilter) ([]store.Notification, error) {
	if f.listNotificationsFn != nil {
		return f.listNotificationsFn(ctx, filter)
	}
	return nil, nil
}

func (f *fakeStore) MarkNotificationsRead(ctx context.Context, recipientID, notificationID, threadID string) (int64, error) {
	if f.markNotificationsReadFn != nil {
		return f.markNotificationsReadFn(ctx, recipientID, notificationID, threadID)
	}
	return 0, nil
}

func (f *fakeStore) DeleteNotification(ctx context.Context, appID, externalID string) error {
	if f.deleteNotificationFn != nil {
		return f.deleteNotificationFn(ctx, appID, externalID)
	}
	return nil
}

func (f *fakeStore) NotificationSummary(ctx context.Context, recipientID string) (int, error) {
	if f.notificationSummaryFn != nil {
		return f.notificationSummaryFn(ctx, recipientID)
	}
	return 0, nil
}

func (f *fakeStore) GetFile(ctx context.Context, appID, fileID string) (store.File, error) {
	if f.getFileFn != nil {
		return f.getFileFn(ctx, appID, fileID)
	}
	return store.File{}, sql.ErrNoRows
}

func (f *fakeStore) UpsertProvider(ctx context.Context, p store.Provider) (store.Provider, error) {
	if f.upsertProviderFn != nil {
		return f.upsertProviderFn(ctx, p)
	}
	return store.Provider{}, nil
}

func (f *fakeStore) GetProvider(ctx context.Context, providerID string) (store.Provider, error) {
	if f.getProviderFn != nil {
		return f.getProviderFn(ctx, providerID)
	}
	return store.Provider{}, sql.ErrNoRows
}

func (f *fakeStore) ListProviders(ctx context.Context) ([]store.Provider, error) {
	if f.listProvidersFn != nil {
		return f.listProvidersFn(ctx)
	}
	return nil, nil
}

func (f *fakeStore) PublishProvider(ctx context.Context, providerID string, ruleProvider json.RawMessage, commitHash string) (store.PublishedProvider, error) {
	if f.publishProviderFn != nil {
		return f.publishProviderFn(ctx, providerID, ruleProvider, commitHash)
	}
	return store.PublishedProvider{}, nil
}
