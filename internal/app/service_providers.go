package app

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"cord/platform/internal/gitrepo"
	"cord/platform/internal/providers"
	"cord/platform/internal/store"
	"cord/platform/internal/util"
)

type ProviderView struct {
	providers.Provider
	Dirty               bool   `json:"dirty"`
	ClaimingApplication string `json:"claimingApplication,omitempty"`
}

func providerView(p store.Provider) (ProviderView, error) {
	converted, err := providers.FromStore(p)
	if err != nil {
		return ProviderView{}, err
	}
	if converted.Rules == nil {
		converted.Rules = []providers.Rule{}
	}
	return ProviderView{Provider: converted, Dirty: p.Dirty, ClaimingApplication: p.ClaimingApplication}, nil
}

// ownedProvider loads a provider the caller's application may edit. Unclaimed
// providers are open to every application.
func (s *Service) ownedProvider(ctx context.Context, caller Caller, providerID string) (store.Provider, error) {
	if !util.IsUUID(providerID) {
		return store.Provider{}, notFound("provider_not_found", "Provider "+providerID+" not found")
	}
	p, err := s.store.GetProvider(ctx, providerID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Provider{}, notFound("provider_not_found", "Provider "+providerID+" not found")
	}
	if err != nil {
		return store.Provider{}, err
	}
	if p.ClaimingApplication != "" && p.ClaimingApplication != caller.AppID {
		return store.Provider{}, forbidden("Provider is claimed by another application")
	}
	return p, nil
}

func (s *Service) GetProvider(ctx context.Context, caller Caller, providerID string) (ProviderView, error) {
	p, err := s.ownedProvider(ctx, caller, providerID)
	if err != nil {
		return ProviderView{}, err
	}
	return providerView(p)
}

// PutProvider creates or replaces a provider and its rules. The provider
// stays dirty until it is published.
func (s *Service) PutProvider(ctx context.Context, caller Caller, providerID string, input providers.Provider) (ProviderView, error) {
	if !util.IsUUID(providerID) {
		return ProviderView{}, invalidField("id", "provider id must be a UUID")
	}
	existing, err := s.store.GetProvider(ctx, providerID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return ProviderView{}, err
	case existing.ClaimingApplication != "" && existing.ClaimingApplication != caller.AppID:
		return ProviderView{}, forbidden("Provider is claimed by another application")
	}
	input.ID = providerID
	if err := input.Validate(); err != nil {
		return ProviderView{}, invalidField("rules", err.Error())
	}
	record, err := providers.ToStore(input)
	if err != nil {
		return ProviderView{}, invalidField("rules", err.Error())
	}
	record.ClaimingApplication = caller.AppID
	saved, err := s.store.UpsertProvider(ctx, record)
	if err != nil {
		return ProviderView{}, err
	}
	return providerView(saved)
}

type PublishProviderInput struct {
	Message string `json:"message"`
	Author  string `json:"author"`
}

type PublishProviderView struct {
	Commit      gitrepo.Commit `json:"commit"`
	Unchanged   bool           `json:"unchanged"`
	PublishedAt *time.Time     `json:"publishedAt,omitempty"`
}

// PublishProvider commits the provider's rule set to its history and makes
// it the published version. Publishing an unchanged rule set only returns
// the current head.
func (s *Service) PublishProvider(ctx context.Context, caller Caller, providerID string, input PublishProviderInput) (PublishProviderView, error) {
	if s.git == nil {
		return PublishProviderView{}, unavailable("history_unavailable", "Provider history is not configured")
	}
	p, err := s.ownedProvider(ctx, caller, providerID)
	if err != nil {
		return PublishProviderView{}, err
	}
	converted, err := providers.FromStore(p)
	if err != nil {
		return PublishProviderView{}, err
	}
	ruleSet, err := providers.RuleSet(converted)
	if err != nil {
		return PublishProviderView{}, err
	}
	author := input.Author
	if author == "" {
		author = caller.AppID
	}
	message := input.Message
	if message == "" {
		message = "Publish " + p.Name
	}
	result, err := s.git.Publish(p.ID, ruleSet, author, message)
	if err != nil {
		return PublishProviderView{}, err
	}
	view := PublishProviderView{Commit: result.Commit, Unchanged: result.Unchanged}
	if result.Unchanged && !p.Dirty {
		return view, nil
	}
	published, err := s.store.PublishProvider(ctx, p.ID, ruleSet, result.Commit.FullHash)
	if err != nil {
		return PublishProviderView{}, err
	}
	view.PublishedAt = &published.PublishedAt
	return view, nil
}

func (s *Service) ProviderHistory(ctx context.Context, caller Caller, providerID string, limit int) ([]gitrepo.Commit, error) {
	if s.git == nil {
		return nil, unavailable("history_unavailable", "Provider history is not configured")
	}
	p, err := s.ownedProvider(ctx, caller, providerID)
	if err != nil {
		return nil, err
	}
	return s.git.History(p.ID, limit)
}

type ProviderMatchInput struct {
	URL        string `json:"url"`
	ProviderID string `json:"providerID"`
}

type ProviderMatch struct {
	ProviderID string `json:"providerID"`
	providers.Result
}

// MatchProviders runs url against one provider, or against every provider
// until one allows or denies it.
func (s *Service) MatchProviders(ctx context.Context, caller Caller, input ProviderMatchInput) (ProviderMatch, error) {
	if input.URL == "" {
		return ProviderMatch{}, invalidField("url", "url is required")
	}
	var candidates []store.Provider
	if input.ProviderID != "" {
		p, err := s.ownedProvider(ctx, caller, input.ProviderID)
		if err != nil {
			return ProviderMatch{}, err
		}
		candidates = []store.Provider{p}
	} else {
		all, err := s.store.ListProviders(ctx)
		if err != nil {
			return ProviderMatch{}, err
		}
		candidates = all
	}
	for _, candidate := range candidates {
		converted, err := providers.FromStore(candidate)
		if err != nil {
			return ProviderMatch{}, err
		}
		result, err := providers.Match(converted, input.URL)
		if err != nil {
			return ProviderMatch{}, invalidField("url", err.Error())
		}
		if result.Match != providers.MatchNone {
			return ProviderMatch{ProviderID: candidate.ID, Result: result}, nil
		}
	}
	return ProviderMatch{Result: providers.Result{Match: providers.MatchNone}}, nil
}
