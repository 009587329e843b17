// Package providers matches page URLs against third-party provider rules and
// turns them into page contexts for the browser extension.
package providers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"cord/platform/internal/store"
	"gopkg.in/yaml.v3"
)

var ErrInvalidProvider = errors.New("invalid provider")

const (
	RuleAllow = "allow"
	RuleDeny  = "deny"
)

const (
	TransformDefault  = "default"
	TransformReplace  = "replace"
	TransformExtend   = "extend"
	TransformMetabase = "metabase"
)

const (
	MatchAllow = "allow"
	MatchDeny  = "deny"
	MatchNone  = "none"
)

type MatchPatterns struct {
	Protocol    string            `json:"protocol,omitempty" yaml:"protocol,omitempty"`
	Domain      string            `json:"domain,omitempty" yaml:"domain,omitempty"`
	Path        string            `json:"path,omitempty" yaml:"path,omitempty"`
	Hash        string            `json:"hash,omitempty" yaml:"hash,omitempty"`
	QueryParams map[string]string `json:"queryParams,omitempty" yaml:"queryParams,omitempty"`
}

type Transformation struct {
	Type string         `json:"type" yaml:"type"`
	Data map[string]any `json:"data" yaml:"data"`
}

type Rule struct {
	ID                    string         `json:"id" yaml:"id"`
	Type                  string         `json:"type" yaml:"type"`
	MatchPatterns         MatchPatterns  `json:"matchPatterns" yaml:"matchPatterns"`
	NameTemplate          string         `json:"nameTemplate,omitempty" yaml:"nameTemplate,omitempty"`
	ContextTransformation Transformation `json:"contextTransformation" yaml:"contextTransformation"`
	ObserveDOMMutations   bool           `json:"observeDOMMutations" yaml:"observeDOMMutations"`
}

type Provider struct {
	ID                            string   `json:"id" yaml:"id"`
	Name                          string   `json:"name" yaml:"name"`
	Domains                       []string `json:"domains" yaml:"domains"`
	IconURL                       string   `json:"iconURL,omitempty" yaml:"iconURL,omitempty"`
	NuxText                       string   `json:"nuxText,omitempty" yaml:"nuxText,omitempty"`
	MergeHashWithLocation         bool     `json:"mergeHashWithLocation" yaml:"mergeHashWithLocation"`
	DisableAnnotations            bool     `json:"disableAnnotations" yaml:"disableAnnotations"`
	VisibleInDiscoverToolsSection bool     `json:"visibleInDiscoverToolsSection" yaml:"visibleInDiscoverToolsSection"`
	Rules                         []Rule   `json:"rules" yaml:"rules"`
}

type Result struct {
	Match   string            `json:"match"`
	RuleID  string            `json:"ruleID,omitempty"`
	Context map[string]string `json:"pageContext,omitempty"`
	Name    string            `json:"pageName,omitempty"`
}

func (p Provider) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProvider)
	}
	for i, rule := range p.Rules {
		if rule.Type != RuleAllow && rule.Type != RuleDeny {
			return fmt.Errorf("%w: rule %d has type %q", ErrInvalidProvider, i, rule.Type)
		}
		switch rule.ContextTransformation.Type {
		case "", TransformDefault, TransformReplace, TransformExtend, TransformMetabase:
		default:
			return fmt.Errorf("%w: rule %d has transformation %q", ErrInvalidProvider, i, rule.ContextTransformation.Type)
		}
		for _, source := range []string{rule.MatchPatterns.Domain, rule.MatchPatterns.Path, rule.MatchPatterns.Hash} {
			if _, err := compilePattern(source, pathValue); err != nil {
				return fmt.Errorf("%w: rule %d: %v", ErrInvalidProvider, i, err)
			}
		}
	}
	return nil
}

type seedFile struct {
	Providers []Provider `yaml:"providers"`
}

// LoadYAML reads a provider seed file: a top-level "providers" list.
func LoadYAML(r io.Reader) ([]Provider, error) {
	var file seedFile
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode providers yaml: %w", err)
	}
	for _, provider := range file.Providers {
		if err := provider.Validate(); err != nil {
			return nil, err
		}
	}
	return file.Providers, nil
}

// RuleSet is the JSON document published for a provider and committed to its
// history repository.
func RuleSet(p Provider) (json.RawMessage, error) {
	raw, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal rule set: %w", err)
	}
	return raw, nil
}

func ToStore(p Provider) (store.Provider, error) {
	out := store.Provider{
		ID:                            p.ID,
		Name:                          p.Name,
		Domains:                       p.Domains,
		IconURL:                       p.IconURL,
		NuxText:                       p.NuxText,
		MergeHashWithLocation:         p.MergeHashWithLocation,
		DisableAnnotations:            p.DisableAnnotations,
		VisibleInDiscoverToolsSection: p.VisibleInDiscoverToolsSection,
	}
	for i, rule := range p.Rules {
		patterns, err := json.Marshal(rule.MatchPatterns)
		if err != nil {
			return store.Provider{}, fmt.Errorf("marshal match patterns: %w", err)
		}
		transformation, err := json.Marshal(rule.ContextTransformation)
		if err != nil {
			return store.Provider{}, fmt.Errorf("marshal transformation: %w", err)
		}
		if rule.ContextTransformation.Type == "" {
			transformation = nil
		}
		out.Rules = append(out.Rules, store.ProviderRule{
			ID:                    rule.ID,
			Type:                  rule.Type,
			Order:                 i,
			MatchPatterns:         patterns,
			ObserveDOMMutations:   rule.ObserveDOMMutations,
			NameTemplate:          rule.NameTemplate,
			ContextTransformation: transformation,
		})
	}
	return out, nil
}

func FromStore(p store.Provider) (Provider, error) {
	out := Provider{
		ID:                            p.ID,
		Name:                          p.Name,
		Domains:                       p.Domains,
		IconURL:                       p.IconURL,
		NuxText:                       p.NuxText,
		MergeHashWithLocation:         p.MergeHashWithLocation,
		DisableAnnotations:            p.DisableAnnotations,
		VisibleInDiscoverToolsSection: p.VisibleInDiscoverToolsSection,
	}
	for _, rule := range p.Rules {
		converted := Rule{
			ID:                  rule.ID,
			Type:                rule.Type,
			NameTemplate:        rule.NameTemplate,
			ObserveDOMMutations: rule.ObserveDOMMutations,
		}
		if len(rule.MatchPatterns) > 0 {
			if err := json.Unmarshal(rule.MatchPatterns, &converted.MatchPatterns); err != nil {
				return Provider{}, fmt.Errorf("decode match patterns: %w", err)
			}
		}
		if len(rule.ContextTransformation) > 0 {
			if err := json.Unmarshal(rule.ContextTransformation, &converted.ContextTransformation); err != nil {
				return Provider{}, fmt.Errorf("decode transformation: %w", err)
			}
		}
		out.Rules = append(out.Rules, converted)
	}
	return out, nil
}
