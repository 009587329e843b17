package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"cord/platform/internal/store"
)

const maxBatchEntries = 10000

type UserInput struct {
	Name              *string        `json:"name"`
	ShortName         *string        `json:"shortName"`
	Email             *string        `json:"email"`
	ProfilePictureURL *string        `json:"profilePictureURL"`
	Status            *string        `json:"status"`
	Metadata          store.Metadata `json:"metadata"`
}

func (in UserInput) patch() (store.UserPatch, error) {
	if in.Status != nil && *in.Status != "active" && *in.Status != "deleted" {
		return store.UserPatch{}, invalidField("status", "status must be active or deleted")
	}
	if in.Email != nil && *in.Email != "" && !strings.Contains(*in.Email, "@") {
		return store.UserPatch{}, invalidField("email", "email is not valid")
	}
	if err := validateMetadata("metadata", in.Metadata); err != nil {
		return store.UserPatch{}, err
	}
	return store.UserPatch{
		Name:              in.Name,
		ShortName:         in.ShortName,
		Email:             in.Email,
		ProfilePictureURL: in.ProfilePictureURL,
		State:             in.Status,
		Metadata:          in.Metadata,
	}, nil
}

func (s *Service) GetUser(ctx context.Context, caller Caller, externalID string) (UserView, error) {
	user, err := s.store.GetUserByExternalID(ctx, caller.AppID, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return UserView{}, notFound("user_not_found", "User "+externalID+" not found")
	}
	if err != nil {
		return UserView{}, err
	}
	return userView(user), nil
}

func (s *Service) UpsertUser(ctx context.Context, caller Caller, externalID string, input UserInput) (UserView, error) {
	if err := validateExternalID("id", externalID); err != nil {
		return UserView{}, err
	}
	patch, err := input.patch()
	if err != nil {
		return UserView{}, err
	}
	user, err := s.store.UpsertUser(ctx, caller.AppID, externalID, patch)
	if err != nil {
		return UserView{}, err
	}
	return userView(user), nil
}

type UserPage struct {
	Users      []UserView `json:"users"`
	Pagination Pagination `json:"pagination"`
}

type Pagination struct {
	Token string `json:"token"`
	Total int    `json:"total,omitempty"`
}

func (s *Service) ListUsers(ctx context.Context, caller Caller, limit int, token string) (UserPage, error) {
	users, next, err := s.store.ListUsers(ctx, caller.AppID, limit, token)
	if err != nil {
		return UserPage{}, err
	}
	page := UserPage{Users: make([]UserView, 0, len(users)), Pagination: Pagination{Token: next}}
	for _, user := range users {
		page.Users = append(page.Users, userView(user))
	}
	return page, nil
}

func (s *Service) DeleteUser(ctx context.Context, caller Caller, externalID string) error {
	err := s.store.DeleteUser(ctx, caller.AppID, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("user_not_found", "User "+externalID+" not found")
	}
	return err
}

type GroupInput struct {
	Name     *string        `json:"name"`
	ImageURL *string        `json:"imageURL"`
	Status   *string        `json:"status"`
	Metadata store.Metadata `json:"metadata"`
	// Members, when present, replaces the membership list.
	Members []string `json:"members"`
}

func (s *Service) GetGroup(ctx context.Context, caller Caller, externalID string) (GroupView, error) {
	group, err := s.lookupGroup(ctx, caller.AppID, externalID)
	if err != nil {
		return GroupView{}, err
	}
	members, err := s.store.ListGroupMembers(ctx, group.ID)
	if err != nil {
		return GroupView{}, err
	}
	return groupView(group, members), nil
}

func (s *Service) UpsertGroup(ctx context.Context, caller Caller, externalID string, input GroupInput) (GroupView, error) {
	if err := validateExternalID("id", externalID); err != nil {
		return GroupView{}, err
	}
	if input.Status != nil && *input.Status != "active" && *input.Status != "inactive" {
		return GroupView{}, invalidField("status", "status must be active or inactive")
	}
	if err := validateMetadata("metadata", input.Metadata); err != nil {
		return GroupView{}, err
	}
	_, err := s.store.GetGroupByExternalID(ctx, caller.AppID, externalID)
	exists := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return GroupView{}, err
	}
	if !exists && (input.Name == nil || strings.TrimSpace(*input.Name) == "") {
		return GroupView{}, invalidField("name", "name is required when creating a group")
	}

	group, err := s.store.UpsertGroup(ctx, caller.AppID, externalID, store.GroupPatch{
		Name:     input.Name,
		ImageURL: input.ImageURL,
		State:    input.Status,
		Metadata: input.Metadata,
	})
	if err != nil {
		return GroupView{}, err
	}

	if input.Members != nil {
		current, err := s.store.ListGroupMembers(ctx, group.ID)
		if err != nil {
			return GroupView{}, err
		}
		wanted := uniqueStrings(input.Members)
		keep := make(map[string]struct{}, len(wanted))
		for _, id := range wanted {
			keep[id] = struct{}{}
		}
		var remove []string
		for _, member := range current {
			if _, ok := keep[member.ExternalID]; !ok {
				remove = append(remove, member.ExternalID)
			}
		}
		if err := s.store.SetGroupMembers(ctx, caller.AppID, group.ID, wanted, remove); err != nil {
			return GroupView{}, err
		}
	}
	members, err := s.store.ListGroupMembers(ctx, group.ID)
	if err != nil {
		return GroupView{}, err
	}
	return groupView(group, members), nil
}

func (s *Service) ListGroups(ctx context.Context, caller Caller) ([]GroupView, error) {
	groups, err := s.store.ListGroups(ctx, caller.AppID)
	if err != nil {
		return nil, err
	}
	views := make([]GroupView, 0, len(groups))
	for _, group := range groups {
		views = append(views, groupView(group, nil))
	}
	return views, nil
}

func (s *Service) DeleteGroup(ctx context.Context, caller Caller, externalID string) error {
	err := s.store.DeleteGroup(ctx, caller.AppID, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("group_not_found", "Group "+externalID+" not found")
	}
	return err
}

type MembersInput struct {
	Add    []string `json:"add"`
	Remove []string `json:"remove"`
}

// UpdateGroupMembers adds and removes members. Users added before they
// exist are created empty.
func (s *Service) UpdateGroupMembers(ctx context.Context, caller Caller, externalID string, input MembersInput) error {
	add := uniqueStrings(input.Add)
	remove := uniqueStrings(input.Remove)
	if len(add) == 0 && len(remove) == 0 {
		return invalidField("add", "add or remove must list at least one user")
	}
	for _, id := range add {
		for _, other := range remove {
			if id == other {
				return domainError(http.StatusBadRequest, "invalid_request", "User "+id+" is both added and removed", nil)
			}
		}
	}
	group, err := s.lookupGroup(ctx, caller.AppID, externalID)
	if err != nil {
		return err
	}
	return s.store.SetGroupMembers(ctx, caller.AppID, group.ID, add, remove)
}

func (s *Service) ListGroupMembers(ctx context.Context, caller Caller, externalID string) ([]UserView, error) {
	group, err := s.lookupGroup(ctx, caller.AppID, externalID)
	if err != nil {
		return nil, err
	}
	members, err := s.store.ListGroupMembers(ctx, group.ID)
	if err != nil {
		return nil, err
	}
	views := make([]UserView, 0, len(members))
	for _, member := range members {
		views = append(views, userView(member))
	}
	return views, nil
}

type BatchUser struct {
	ID string `json:"id"`
	UserInput
}

type BatchGroup struct {
	ID string `json:"id"`
	GroupInput
}

type BatchInput struct {
	Users  []BatchUser  `json:"users"`
	Groups []BatchGroup `json:"groups"`
}

// Batch upserts users first so group member lists can refer to them.
func (s *Service) Batch(ctx context.Context, caller Caller, input BatchInput) (map[string]int, error) {
	if len(input.Users)+len(input.Groups) > maxBatchEntries {
		return nil, domainError(http.StatusBadRequest, "invalid_request", fmt.Sprintf("A batch may contain at most %d entries", maxBatchEntries), nil)
	}
	for i, entry := range input.Users {
		if _, err := s.UpsertUser(ctx, caller, entry.ID, entry.UserInput); err != nil {
			return nil, batchError("users", i, err)
		}
	}
	for i, entry := range input.Groups {
		if _, err := s.UpsertGroup(ctx, caller, entry.ID, entry.GroupInput); err != nil {
			return nil, batchError("groups", i, err)
		}
	}
	return map[string]int{"users": len(input.Users), "groups": len(input.Groups)}, nil
}

func batchError(kind string, index int, err error) error {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainError(domainErr.Status, domainErr.Code, fmt.Sprintf("%s[%d]: %s", kind, index, domainErr.Message), domainErr.Details)
	}
	return fmt.Errorf("%s[%d]: %w", kind, index, err)
}

type ConnectionView struct {
	GroupID       string `json:"groupID"`
	Type          string `json:"type"`
	ExternalID    string `json:"externalID"`
	ExternalEmail string `json:"externalEmail,omitempty"`
}

type ConnectionInput struct {
	GroupID       string `json:"groupID"`
	Type          string `json:"type"`
	ExternalID    string `json:"externalID"`
	ExternalEmail string `json:"externalEmail"`
	Connected     *bool  `json:"connected"`
}

var connectionTypes = map[string]struct{}{
	"jira":   {},
	"asana":  {},
	"linear": {},
	"trello": {},
	"monday": {},
}

func (s *Service) ListConnections(ctx context.Context, caller Caller, userExternalID string) ([]ConnectionView, error) {
	user, err := s.lookupUser(ctx, caller.AppID, userExternalID)
	if err != nil {
		return nil, err
	}
	connections, err := s.store.ListConnections(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	views := make([]ConnectionView, 0, len(connections))
	for _, conn := range connections {
		group, err := s.store.GetGroupByID(ctx, conn.OrgID)
		if err != nil {
			return nil, err
		}
		views = append(views, ConnectionView{GroupID: group.ExternalID, Type: conn.Type, ExternalID: conn.ExternalID, ExternalEmail: conn.ExternalEmail})
	}
	return views, nil
}

// SetConnection records or removes a third-party account link for the user
// within a group.
func (s *Service) SetConnection(ctx context.Context, caller Caller, userExternalID string, input ConnectionInput) error {
	if _, ok := connectionTypes[input.Type]; !ok {
		return invalidField("type", "unknown connection type "+input.Type)
	}
	user, err := s.lookupUser(ctx, caller.AppID, userExternalID)
	if err != nil {
		return err
	}
	group, err := s.lookupGroup(ctx, caller.AppID, input.GroupID)
	if err != nil {
		return err
	}
	if input.Connected != nil && !*input.Connected {
		err := s.store.DeleteConnection(ctx, user.ID, group.ID, input.Type)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}
	if strings.TrimSpace(input.ExternalID) == "" {
		return invalidField("externalID", "externalID is required")
	}
	return s.store.UpsertConnection(ctx, store.Connection{
		UserID:        user.ID,
		OrgID:         group.ID,
		Type:          input.Type,
		ExternalID:    input.ExternalID,
		ExternalEmail: input.ExternalEmail,
	})
}

func (s *Service) lookupUser(ctx context.Context, appID, externalID string) (store.User, error) {
	user, err := s.store.GetUserByExternalID(ctx, appID, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, notFound("user_not_found", "User "+externalID+" not found")
	}
	return user, err
}

func (s *Service) lookupGroup(ctx context.Context, appID, externalID string) (store.Group, error) {
	group, err := s.store.GetGroupByExternalID(ctx, appID, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Group{}, notFound("group_not_found", "Group "+externalID+" not found")
	}
	return group, err
}

func validateExternalID(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return invalidField(field, field+" is required")
	}
	if len(id) > 128 {
		return invalidField(field, field+" must be at most 128 characters")
	}
	return nil
}
