package store

import (
	"context"
	"encoding/json"
	"fmt"
)

const providerColumns = `id, name, domains, icon_url, COALESCE(nux_text, ''), merge_hash_with_location, disable_annotations,
	visible_in_discover_tools_section, dirty, COALESCE(claiming_application::text, '')`

func scanProvider(row rowScanner) (Provider, error) {
	var p Provider
	err := row.Scan(&p.ID, &p.Name, textArray(&p.Domains), &p.IconURL, &p.NuxText, &p.MergeHashWithLocation,
		&p.DisableAnnotations, &p.VisibleInDiscoverToolsSection, &p.Dirty, &p.ClaimingApplication)
	if err != nil {
		return Provider{}, err
	}
	return p, nil
}

// UpsertProvider writes the provider and replaces its rules. Rules are stored
// in slice order; the trigger marks the provider dirty.
func (s *PostgresStore) UpsertProvider(ctx context.Context, p Provider) (Provider, error) {
	domains := p.Domains
	if domains == nil {
		domains = []string{}
	}
	err := s.withTx(ctx, func(tx txExecer) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO providers (id, name, domains, icon_url, nux_text, merge_hash_with_location, disable_annotations,
				visible_in_discover_tools_section, claiming_application, dirty)
			VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8, $9, TRUE)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				domains = EXCLUDED.domains,
				icon_url = EXCLUDED.icon_url,
				nux_text = EXCLUDED.nux_text,
				merge_hash_with_location = EXCLUDED.merge_hash_with_location,
				disable_annotations = EXCLUDED.disable_annotations,
				visible_in_discover_tools_section = EXCLUDED.visible_in_discover_tools_section,
				claiming_application = EXCLUDED.claiming_application,
				dirty = TRUE
			RETURNING id
		`, p.ID, p.Name, domains, p.IconURL, nilIfEmpty(p.NuxText), p.MergeHashWithLocation, p.DisableAnnotations,
			p.VisibleInDiscoverToolsSection, nilIfEmpty(p.ClaimingApplication)).Scan(&p.ID)
		if err != nil {
			return fmt.Errorf("upsert provider: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM provider_rules WHERE provider_id = $1`, p.ID); err != nil {
			return fmt.Errorf("clear provider rules: %w", err)
		}
		for i, rule := range p.Rules {
			transformation := string(rule.ContextTransformation)
			if transformation == "" {
				transformation = `{"type":"default"}`
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO provider_rules (provider_id, type, "order", match_patterns, observe_dom_mutations, name_template, context_transformation)
				VALUES ($1, $2::provider_rule_type, $3, $4::jsonb, $5, $6, $7::jsonb)
			`, p.ID, rule.Type, i, string(rule.MatchPatterns), rule.ObserveDOMMutations, nilIfEmpty(rule.NameTemplate), transformation); err != nil {
				return fmt.Errorf("insert provider rule %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return Provider{}, err
	}
	return s.GetProvider(ctx, p.ID)
}

func (s *PostgresStore) GetProvider(ctx context.Context, providerID string) (Provider, error) {
	p, err := scanProvider(s.db.QueryRowContext(ctx, `SELECT `+providerColumns+` FROM providers WHERE id = $1`, providerID))
	if err != nil {
		return Provider{}, err
	}
	rules, err := s.listProviderRules(ctx, p.ID)
	if err != nil {
		return Provider{}, err
	}
	p.Rules = rules
	return p, nil
}

func (s *PostgresStore) ListProviders(ctx context.Context) ([]Provider, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+providerColumns+` FROM providers ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer rows.Close()

	var items []Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range items {
		rules, err := s.listProviderRules(ctx, items[i].ID)
		if err != nil {
			return nil, err
		}
		items[i].Rules = rules
	}
	return items, nil
}

func (s *PostgresStore) listProviderRules(ctx context.Context, providerID string) ([]ProviderRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, "order", match_patterns, observe_dom_mutations, COALESCE(name_template, ''), context_transformation
		FROM provider_rules
		WHERE provider_id = $1
		ORDER BY "order" ASC
	`, providerID)
	if err != nil {
		return nil, fmt.Errorf("list provider rules: %w", err)
	}
	defer rows.Close()

	var rules []ProviderRule
	for rows.Next() {
		var rule ProviderRule
		var patterns, transformation []byte
		if err := rows.Scan(&rule.ID, &rule.Type, &rule.Order, &patterns, &rule.ObserveDOMMutations, &rule.NameTemplate, &transformation); err != nil {
			return nil, fmt.Errorf("scan provider rule: %w", err)
		}
		rule.MatchPatterns = json.RawMessage(patterns)
		rule.ContextTransformation = json.RawMessage(transformation)
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// PublishProvider records the published rule set and clears the dirty flag.
func (s *PostgresStore) PublishProvider(ctx context.Context, providerID string, ruleProvider json.RawMessage, commitHash string) (PublishedProvider, error) {
	published := PublishedProvider{ProviderID: providerID, RuleProvider: ruleProvider, CommitHash: commitHash}
	err := s.withTx(ctx, func(tx txExecer) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO published_providers (provider_id, rule_provider, commit_hash)
			VALUES ($1, $2::jsonb, $3)
			ON CONFLICT (provider_id) DO UPDATE SET
				rule_provider = EXCLUDED.rule_provider,
				commit_hash = EXCLUDED.commit_hash,
				last_published_timestamp = NOW()
			RETURNING last_published_timestamp
		`, providerID, string(ruleProvider), commitHash).Scan(&published.PublishedAt)
		if err != nil {
			return fmt.Errorf("publish provider: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE providers SET dirty = FALSE WHERE id = $1`, providerID); err != nil {
			return fmt.Errorf("clear provider dirty: %w", err)
		}
		return nil
	})
	if err != nil {
		return PublishedProvider{}, err
	}
	return published, nil
}

func (s *PostgresStore) ListPublishedProviders(ctx context.Context) ([]PublishedProvider, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider_id, last_published_timestamp, rule_provider, commit_hash
		FROM published_providers
		ORDER BY last_published_timestamp DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list published providers: %w", err)
	}
	defer rows.Close()

	var items []PublishedProvider
	for rows.Next() {
		var item PublishedProvider
		var raw []byte
		if err := rows.Scan(&item.ProviderID, &item.PublishedAt, &raw, &item.CommitHash); err != nil {
			return nil, fmt.Errorf("scan published provider: %w", err)
		}
		item.RuleProvider = json.RawMessage(raw)
		items = append(items, item)
	}
	return items, rows.Err()
}

