package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cord/platform/internal/authpw"
	"cord/platform/internal/rbac"
	"cord/platform/internal/store"
	"cord/platform/internal/util"
	"cord/platform/internal/webhook"
)

type ProjectInput struct {
	Name                      *string         `json:"name"`
	IconURL                   *string         `json:"iconURL"`
	RedirectURI               *string         `json:"redirectURI"`
	EmailSettings             json.RawMessage `json:"emailSettings"`
	EventWebhookURL           *string         `json:"eventWebhookURL"`
	EventWebhookSubscriptions []string        `json:"eventWebhookSubscriptions"`
	Environment               string          `json:"environment"`
}

func (in ProjectInput) apply(app *store.Application) error {
	if in.Name != nil {
		if strings.TrimSpace(*in.Name) == "" {
			return invalidField("name", "name is required")
		}
		app.Name = strings.TrimSpace(*in.Name)
	}
	if in.IconURL != nil {
		app.IconURL = *in.IconURL
	}
	if in.RedirectURI != nil {
		app.RedirectURI = *in.RedirectURI
	}
	if len(in.EmailSettings) > 0 {
		var settings map[string]any
		if err := json.Unmarshal(in.EmailSettings, &settings); err != nil {
			return invalidField("emailSettings", "emailSettings must be an object")
		}
		app.EmailSettings = in.EmailSettings
	}
	if in.EventWebhookURL != nil {
		if *in.EventWebhookURL != "" {
			if err := validateWebhookURL("eventWebhookURL", *in.EventWebhookURL); err != nil {
				return err
			}
		}
		app.EventWebhookURL = *in.EventWebhookURL
	}
	if in.EventWebhookSubscriptions != nil {
		if err := validateSubscriptions(in.EventWebhookSubscriptions); err != nil {
			return err
		}
		app.EventWebhookSubscriptions = in.EventWebhookSubscriptions
	}
	return nil
}

func validateWebhookURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalidField(field, field+" must be an http(s) URL")
	}
	return nil
}

func validateSubscriptions(events []string) error {
	for _, event := range events {
		if !webhook.KnownEvent(event) || event == webhook.EventURLVerification {
			return invalidField("eventWebhookSubscriptions", "unknown event "+event)
		}
	}
	return nil
}

func (s *Service) ListProjects(ctx context.Context, caller Caller) ([]ProjectView, error) {
	apps, err := s.store.ListApplications(ctx, caller.CustomerID)
	if err != nil {
		return nil, err
	}
	views := make([]ProjectView, 0, len(apps))
	for _, app := range apps {
		views = append(views, projectView(app, false))
	}
	return views, nil
}

// CreateProject creates an application for the caller's customer. A webhook
// URL must pass the verification handshake or the project is rolled back.
func (s *Service) CreateProject(ctx context.Context, caller Caller, input ProjectInput) (ProjectView, error) {
	if input.Name == nil {
		return ProjectView{}, invalidField("name", "name is required")
	}
	switch input.Environment {
	case "", "production", "staging", "sample", "sampletoken", "demo":
	default:
		return ProjectView{}, invalidField("environment", "environment is not valid")
	}
	draft := store.Application{CustomerID: caller.CustomerID, Environment: input.Environment}
	if err := input.apply(&draft); err != nil {
		return ProjectView{}, err
	}
	app, err := s.store.InsertApplication(ctx, draft)
	if err != nil {
		return ProjectView{}, err
	}
	if len(draft.EventWebhookSubscriptions) > 0 {
		app.EventWebhookSubscriptions = draft.EventWebhookSubscriptions
		if err := s.store.UpdateApplication(ctx, app); err != nil {
			return ProjectView{}, err
		}
	}
	if app.EventWebhookURL != "" {
		if err := s.verifyWebhook(ctx, app, app.EventWebhookURL); err != nil {
			if delErr := s.store.DeleteApplication(ctx, app.ID); delErr != nil {
				log.Printf("projects: roll back %s: %v", app.ID, delErr)
			}
			return ProjectView{}, err
		}
	}
	return projectView(app, true), nil
}

func (s *Service) verifyWebhook(ctx context.Context, app store.Application, target string) error {
	if s.webhooks == nil {
		return nil
	}
	if err := s.webhooks.VerifyURL(ctx, app, target); err != nil {
		return domainError(http.StatusBadRequest, "webhook_verification_failed", err.Error(), map[string]any{"url": target})
	}
	return nil
}

// ownedProject loads an application that belongs to the caller's customer.
func (s *Service) ownedProject(ctx context.Context, caller Caller, projectID string) (store.Application, error) {
	if !util.IsUUID(projectID) {
		return store.Application{}, notFound("project_not_found", "Project "+projectID+" not found")
	}
	app, err := s.store.GetApplication(ctx, projectID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && app.CustomerID != caller.CustomerID) {
		return store.Application{}, notFound("project_not_found", "Project "+projectID+" not found")
	}
	return app, err
}

func (s *Service) GetProject(ctx context.Context, caller Caller, projectID string) (ProjectView, error) {
	app, err := s.ownedProject(ctx, caller, projectID)
	if err != nil {
		return ProjectView{}, err
	}
	return projectView(app, true), nil
}

func (s *Service) UpdateProject(ctx context.Context, caller Caller, projectID string, input ProjectInput) (ProjectView, error) {
	app, err := s.ownedProject(ctx, caller, projectID)
	if err != nil {
		return ProjectView{}, err
	}
	previousURL := app.EventWebhookURL
	if err := input.apply(&app); err != nil {
		return ProjectView{}, err
	}
	if app.EventWebhookURL != "" && app.EventWebhookURL != previousURL {
		if err := s.verifyWebhook(ctx, app, app.EventWebhookURL); err != nil {
			return ProjectView{}, err
		}
	}
	if err := s.store.UpdateApplication(ctx, app); err != nil {
		return ProjectView{}, err
	}
	return projectView(app, false), nil
}

func (s *Service) DeleteProject(ctx context.Context, caller Caller, projectID string) error {
	app, err := s.ownedProject(ctx, caller, projectID)
	if err != nil {
		return err
	}
	return s.store.DeleteApplication(ctx, app.ID)
}

type WebhookInput struct {
	URL           string   `json:"url"`
	Subscriptions []string `json:"subscriptions"`
}

type WebhookView struct {
	ID            string   `json:"id"`
	URL           string   `json:"url"`
	Subscriptions []string `json:"subscriptions"`
}

func webhookView(target store.WebhookTarget) WebhookView {
	view := WebhookView{ID: target.ID, URL: target.URL, Subscriptions: target.Subscriptions}
	if view.Subscriptions == nil {
		view.Subscriptions = []string{}
	}
	return view
}

func (s *Service) ListWebhooks(ctx context.Context, caller Caller) ([]WebhookView, error) {
	targets, err := s.store.ListWebhookTargets(ctx, caller.AppID)
	if err != nil {
		return nil, err
	}
	views := make([]WebhookView, 0, len(targets))
	for _, target := range targets {
		views = append(views, webhookView(target))
	}
	return views, nil
}

func (s *Service) AddWebhook(ctx context.Context, caller Caller, input WebhookInput) (WebhookView, error) {
	if err := validateWebhookURL("url", input.URL); err != nil {
		return WebhookView{}, err
	}
	if len(input.Subscriptions) == 0 {
		return WebhookView{}, invalidField("subscriptions", "subscriptions must not be empty")
	}
	if err := validateSubscriptions(input.Subscriptions); err != nil {
		return WebhookView{}, err
	}
	app, err := s.store.GetApplication(ctx, caller.AppID)
	if err != nil {
		return WebhookView{}, err
	}
	if err := s.verifyWebhook(ctx, app, input.URL); err != nil {
		return WebhookView{}, err
	}
	target, err := s.store.AddWebhook(ctx, caller.AppID, input.URL, uniqueStrings(input.Subscriptions))
	if err != nil {
		return WebhookView{}, err
	}
	return webhookView(target), nil
}

func (s *Service) DeleteWebhook(ctx context.Context, caller Caller, webhookID string) error {
	if !util.IsUUID(webhookID) {
		return notFound("webhook_not_found", "Webhook "+webhookID+" not found")
	}
	err := s.store.DeleteWebhook(ctx, caller.AppID, webhookID)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("webhook_not_found", "Webhook "+webhookID+" not found")
	}
	return err
}

type ConsoleSignUpInput struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	Name         string `json:"name"`
	CustomerName string `json:"customerName"`
}

type ConsoleUserView struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name,omitempty"`
	CustomerID string `json:"customerID"`
}

func consoleUserView(user store.ConsoleUser) ConsoleUserView {
	return ConsoleUserView{ID: user.ID, Email: user.Email, Name: user.Name, CustomerID: user.CustomerID}
}

// ConsoleSignUp registers an admin together with a new customer.
func (s *Service) ConsoleSignUp(ctx context.Context, input ConsoleSignUpInput) (ConsoleUserView, error) {
	if s.console == nil {
		return ConsoleUserView{}, unavailable("console_unavailable", "Console accounts are not configured")
	}
	customerName := strings.TrimSpace(input.CustomerName)
	if customerName == "" {
		customerName = strings.TrimSpace(input.Name)
	}
	if customerName == "" {
		customerName = input.Email
	}
	customer, err := s.store.InsertCustomer(ctx, customerName)
	if err != nil {
		return ConsoleUserView{}, err
	}
	user, err := s.console.SignUp(ctx, authpw.SignUpRequest{
		Email:      input.Email,
		Password:   input.Password,
		Name:       input.Name,
		CustomerID: customer.ID,
	})
	if err != nil {
		if delErr := s.store.DeleteCustomer(ctx, customer.ID); delErr != nil {
			log.Printf("console: roll back customer %s: %v", customer.ID, delErr)
		}
		return ConsoleUserView{}, consoleError(err)
	}
	return consoleUserView(user), nil
}

type ConsoleSignInInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ConsoleSession struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expiresAt"`
	User      ConsoleUserView `json:"user"`
}

func (s *Service) ConsoleSignIn(ctx context.Context, input ConsoleSignInInput) (ConsoleSession, error) {
	if s.console == nil {
		return ConsoleSession{}, unavailable("console_unavailable", "Console accounts are not configured")
	}
	resp, err := s.console.SignIn(ctx, input.Email, input.Password)
	if err != nil {
		return ConsoleSession{}, consoleError(err)
	}
	return ConsoleSession{
		Token:     resp.Token,
		ExpiresAt: resp.ExpiresAt,
		User:      consoleUserView(resp.User),
	}, nil
}

type ConsolePasswordInput struct {
	Email       string `json:"email"`
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

func (s *Service) ConsoleChangePassword(ctx context.Context, input ConsolePasswordInput) error {
	if s.console == nil {
		return unavailable("console_unavailable", "Console accounts are not configured")
	}
	err := s.console.ChangePassword(ctx, authpw.ChangePasswordRequest{
		Email:       input.Email,
		OldPassword: input.OldPassword,
		NewPassword: input.NewPassword,
	})
	return consoleError(err)
}

func (s *Service) ConsoleSignOut(ctx context.Context, caller Caller, token string) error {
	if s.console == nil || caller.Role != rbac.RoleConsole {
		return nil
	}
	return s.console.SignOut(ctx, token)
}

func consoleError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, authpw.ErrInvalidInput), errors.Is(err, authpw.ErrWeakPassword):
		return domainError(http.StatusBadRequest, "invalid_field", err.Error(), nil)
	case errors.Is(err, authpw.ErrEmailTaken):
		return domainError(http.StatusConflict, "email_taken", err.Error(), nil)
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return domainError(http.StatusUnauthorized, "invalid_credentials", err.Error(), nil)
	}
	return err
}
