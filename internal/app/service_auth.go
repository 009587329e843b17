package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cord/platform/internal/auth"
	"cord/platform/internal/rbac"
	"cord/platform/internal/session"
	"cord/platform/internal/store"
	"cord/platform/internal/util"
)

// Caller is the authenticated party behind a request. IDs are internal;
// UserExternalID is what API payloads show.
type Caller struct {
	Role           rbac.Role
	AppID          string
	CustomerID     string
	UserID         string
	UserExternalID string
	// GroupScope is set when a client token was restricted to one group.
	GroupScope string
	JTI        string
	Email      string
}

func (c Caller) Can(action rbac.Action) bool {
	return rbac.Can(c.Role, action)
}

// ServerCaller verifies an application server token. The application is
// looked up first because each one signs with its own secret.
func (s *Service) ServerCaller(ctx context.Context, token string) (Caller, error) {
	appID, err := auth.UnverifiedAppID(token)
	if err != nil {
		return Caller{}, err
	}
	if !util.IsUUID(appID) {
		return Caller{}, auth.ErrInvalidToken
	}
	app, err := s.store.GetApplication(ctx, appID)
	if errors.Is(err, sql.ErrNoRows) {
		return Caller{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Caller{}, fmt.Errorf("load application: %w", err)
	}
	if _, err := auth.ParseServerToken([]byte(app.SharedSecret), token); err != nil {
		return Caller{}, err
	}
	return Caller{Role: rbac.RoleServer, AppID: app.ID, CustomerID: app.CustomerID}, nil
}

// ClientCaller resolves a session token issued by CreateClientSession.
func (s *Service) ClientCaller(ctx context.Context, token string) (Caller, error) {
	if s.sessions == nil {
		return Caller{}, unavailable("sessions_unavailable", "Client sessions are not configured")
	}
	claims, err := auth.ParseSessionToken([]byte(s.cfg.SessionSecret), token)
	if err != nil {
		return Caller{}, err
	}
	data, err := s.sessions.LookupSession(ctx, claims.JTI)
	if errors.Is(err, session.ErrSessionNotFound) {
		return Caller{}, auth.ErrExpiredToken
	}
	if err != nil {
		return Caller{}, err
	}
	if data.UserID != claims.Sub || data.AppID != claims.AppID {
		return Caller{}, auth.ErrInvalidToken
	}
	return Caller{
		Role:           rbac.RoleClient,
		AppID:          data.AppID,
		UserID:         data.UserID,
		UserExternalID: data.UserExternalID,
		GroupScope:     data.GroupScope,
		JTI:            claims.JTI,
	}, nil
}

// ProjectCaller accepts either a console session or a customer project token.
func (s *Service) ProjectCaller(ctx context.Context, token string) (Caller, error) {
	if s.console != nil {
		if data, err := s.console.Session(ctx, token); err == nil {
			if data.CustomerID == "" {
				return Caller{}, forbidden("Console user has no customer")
			}
			return Caller{Role: rbac.RoleConsole, CustomerID: data.CustomerID, UserID: data.UserID, Email: data.Email}, nil
		}
	}
	customerID, err := auth.UnverifiedCustomerID(token)
	if err != nil {
		return Caller{}, err
	}
	if !util.IsUUID(customerID) {
		return Caller{}, auth.ErrInvalidToken
	}
	customer, err := s.store.GetCustomer(ctx, customerID)
	if errors.Is(err, sql.ErrNoRows) {
		return Caller{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Caller{}, fmt.Errorf("load customer: %w", err)
	}
	if _, err := auth.ParseProjectToken([]byte(customer.SharedSecret), token); err != nil {
		return Caller{}, err
	}
	return Caller{Role: rbac.RoleProject, CustomerID: customer.ID}, nil
}

type ClientSession struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
	UserID      string    `json:"userID"`
	GroupID     string    `json:"groupID,omitempty"`
}

// CreateClientSession exchanges a client token signed by the customer's
// backend for a session token. User and group details in the token are
// applied first, so the first request already sees a fresh profile.
func (s *Service) CreateClientSession(ctx context.Context, clientToken string) (ClientSession, error) {
	if s.sessions == nil {
		return ClientSession{}, unavailable("sessions_unavailable", "Client sessions are not configured")
	}
	appID, err := auth.UnverifiedAppID(clientToken)
	if err != nil {
		return ClientSession{}, err
	}
	if !util.IsUUID(appID) {
		return ClientSession{}, auth.ErrInvalidToken
	}
	app, err := s.store.GetApplication(ctx, appID)
	if errors.Is(err, sql.ErrNoRows) {
		return ClientSession{}, auth.ErrInvalidToken
	}
	if err != nil {
		return ClientSession{}, fmt.Errorf("load application: %w", err)
	}
	claims, err := auth.ParseClientToken([]byte(app.SharedSecret), clientToken)
	if err != nil {
		return ClientSession{}, err
	}

	var patch store.UserPatch
	if details := claims.UserDetails; details != nil {
		if err := validateMetadata("user_details.metadata", details.Metadata); err != nil {
			return ClientSession{}, err
		}
		patch = store.UserPatch{
			Name:              optional(details.Name),
			ShortName:         optional(details.ShortName),
			Email:             optional(details.Email),
			ProfilePictureURL: optional(details.ProfilePictureURL),
			State:             optional(details.Status),
			Metadata:          details.Metadata,
		}
	}
	user, err := s.store.UpsertUser(ctx, app.ID, claims.UserID, patch)
	if err != nil {
		return ClientSession{}, err
	}
	if user.State == "deleted" {
		return ClientSession{}, domainError(http.StatusUnauthorized, "user_deleted", "User has been deleted", nil)
	}

	groupScope := ""
	if claims.GroupID != "" {
		group, err := s.applyTokenGroup(ctx, app.ID, claims)
		if err != nil {
			return ClientSession{}, err
		}
		groupScope = group.ID
	}

	expiresAt := s.now().Add(s.cfg.SessionTTL)
	signed, sessionClaims, err := auth.IssueSessionToken([]byte(s.cfg.SessionSecret), auth.SessionClaims{
		Sub:   user.ID,
		AppID: app.ID,
		OrgID: groupScope,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return ClientSession{}, err
	}
	if err := s.sessions.SaveSession(ctx, sessionClaims.JTI, session.Data{
		AppID:          app.ID,
		UserID:         user.ID,
		UserExternalID: user.ExternalID,
		GroupScope:     groupScope,
		ExpiresAt:      expiresAt,
	}); err != nil {
		return ClientSession{}, err
	}
	return ClientSession{
		AccessToken: signed,
		ExpiresAt:   expiresAt.UTC(),
		UserID:      user.ExternalID,
		GroupID:     claims.GroupID,
	}, nil
}

// applyTokenGroup makes sure the token's group exists and the user is in it.
// Without group details the group must already exist.
func (s *Service) applyTokenGroup(ctx context.Context, appID string, claims auth.ClientClaims) (store.Group, error) {
	details := claims.GroupDetails
	if details == nil {
		group, err := s.store.GetGroupByExternalID(ctx, appID, claims.GroupID)
		if errors.Is(err, sql.ErrNoRows) {
			return store.Group{}, domainError(http.StatusBadRequest, "group_not_found", "Group "+claims.GroupID+" does not exist and the token has no group_details", nil)
		}
		if err != nil {
			return store.Group{}, err
		}
		if err := s.store.SetGroupMembers(ctx, appID, group.ID, []string{claims.UserID}, nil); err != nil {
			return store.Group{}, err
		}
		return group, nil
	}

	if strings.TrimSpace(details.Name) == "" {
		return store.Group{}, invalidField("group_details.name", "Group name is required")
	}
	if err := validateMetadata("group_details.metadata", details.Metadata); err != nil {
		return store.Group{}, err
	}
	group, err := s.store.UpsertGroup(ctx, appID, claims.GroupID, store.GroupPatch{
		Name:     optional(details.Name),
		State:    groupState(details.Status),
		Metadata: details.Metadata,
	})
	if err != nil {
		return store.Group{}, err
	}
	members := append([]string{claims.UserID}, details.Members...)
	if err := s.store.SetGroupMembers(ctx, appID, group.ID, uniqueStrings(members), nil); err != nil {
		return store.Group{}, err
	}
	return group, nil
}

func (s *Service) RevokeClientSession(ctx context.Context, caller Caller) error {
	if s.sessions == nil || caller.JTI == "" {
		return nil
	}
	return s.sessions.RevokeSession(ctx, caller.JTI)
}

// viewerGroups lists the internal group IDs the caller may read. Nil means
// every group of the application.
func (s *Service) viewerGroups(ctx context.Context, caller Caller) ([]string, error) {
	if caller.Role != rbac.RoleClient {
		return nil, nil
	}
	groups, err := s.store.ListUserGroups(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(groups))
	for _, group := range groups {
		if caller.GroupScope != "" && group.ID != caller.GroupScope {
			continue
		}
		ids = append(ids, group.ID)
	}
	return ids, nil
}

func (s *Service) canSeeThread(ctx context.Context, caller Caller, thread store.Thread) (bool, error) {
	if thread.ApplicationID != caller.AppID {
		return false, nil
	}
	if caller.Role != rbac.RoleClient {
		return true, nil
	}
	groups, err := s.viewerGroups(ctx, caller)
	if err != nil {
		return false, err
	}
	return rbac.CanSeeThread(groups, caller.GroupScope, thread.OrgID), nil
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func groupState(status string) *string {
	switch status {
	case "active", "inactive":
		return &status
	case "deleted":
		inactive := "inactive"
		return &inactive
	}
	return nil
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
