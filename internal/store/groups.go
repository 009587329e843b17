package store

import (
	"context"
	"fmt"
)

const groupColumns = `id, application_id, external_id, name, COALESCE(image_url, ''), state, metadata, created_timestamp`

func scanGroup(row rowScanner) (Group, error) {
	var group Group
	var metadata []byte
	if err := row.Scan(&group.ID, &group.ApplicationID, &group.ExternalID, &group.Name, &group.ImageURL, &group.State, &metadata, &group.CreatedAt); err != nil {
		return Group{}, err
	}
	group.Metadata = unmarshalMetadata(metadata)
	return group, nil
}

// UpsertGroup creates the group or updates the provided fields. A new group
// needs a name; callers validate that before reaching the store.
func (s *PostgresStore) UpsertGroup(ctx context.Context, appID, externalID string, patch GroupPatch) (Group, error) {
	metadata, err := marshalMetadata(patch.Metadata)
	if err != nil {
		return Group{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO orgs (application_id, external_id, name, image_url, state, metadata)
		VALUES ($1, $2, COALESCE($3, ''), $4, COALESCE($5::org_state, 'active'), $6::jsonb)
		ON CONFLICT (application_id, external_id) DO UPDATE SET
			name = COALESCE($3, orgs.name),
			image_url = COALESCE($4, orgs.image_url),
			state = COALESCE($5::org_state, orgs.state),
			metadata = orgs.metadata || $6::jsonb
		RETURNING `+groupColumns,
		appID, externalID, patch.Name, patch.ImageURL, patch.State, metadata,
	)
	group, err := scanGroup(row)
	if err != nil {
		return Group{}, fmt.Errorf("upsert group: %w", err)
	}
	return group, nil
}

func (s *PostgresStore) GetGroupByExternalID(ctx context.Context, appID, externalID string) (Group, error) {
	return scanGroup(s.db.QueryRowContext(ctx, `
		SELECT `+groupColumns+` FROM orgs WHERE application_id = $1 AND external_id = $2
	`, appID, externalID))
}

func (s *PostgresStore) GetGroupByID(ctx context.Context, orgID string) (Group, error) {
	return scanGroup(s.db.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM orgs WHERE id = $1`, orgID))
}

func (s *PostgresStore) ListGroups(ctx context.Context, appID string) ([]Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+groupColumns+`
		FROM orgs
		WHERE application_id = $1
		ORDER BY external_id ASC
	`, appID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		group, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, group)
	}
	return groups, rows.Err()
}

// ListUserGroups returns the groups the user is a member of.
func (s *PostgresStore) ListUserGroups(ctx context.Context, userID string) ([]Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.id, o.application_id, o.external_id, o.name, COALESCE(o.image_url, ''), o.state, o.metadata, o.created_timestamp
		FROM org_members m
		JOIN orgs o ON o.id = m.org_id
		WHERE m.user_id = $1
		ORDER BY o.external_id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user groups: %w", err)
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		group, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, group)
	}
	return groups, rows.Err()
}

// SetGroupMembers adds and removes members by external user ID. Users to add
// that do not exist yet are created empty so membership can precede profile
// sync.
func (s *PostgresStore) SetGroupMembers(ctx context.Context, appID, orgID string, add, remove []string) error {
	return s.withTx(ctx, func(tx txExecer) error {
		if len(add) > 0 {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO users (application_id, external_id)
				SELECT $1, ext FROM unnest($2::text[]) AS ext
				ON CONFLICT (application_id, external_id) DO NOTHING
			`, appID, add); err != nil {
				return fmt.Errorf("ensure member users: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO org_members (user_id, org_id)
				SELECT id, $3 FROM users WHERE application_id = $1 AND external_id = ANY($2)
				ON CONFLICT DO NOTHING
			`, appID, add, orgID); err != nil {
				return fmt.Errorf("add members: %w", err)
			}
		}
		if len(remove) > 0 {
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM org_members
				WHERE org_id = $3 AND user_id IN (
					SELECT id FROM users WHERE application_id = $1 AND external_id = ANY($2)
				)
			`, appID, remove, orgID); err != nil {
				return fmt.Errorf("remove members: %w", err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) ListGroupMembers(ctx context.Context, orgID string) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.application_id, u.external_id, u.user_type, u.state, COALESCE(u.name, ''), COALESCE(u.short_name, ''),
			COALESCE(u.email, ''), COALESCE(u.profile_picture_url, ''), u.metadata, u.created_timestamp, u.updated_timestamp
		FROM org_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.org_id = $1
		ORDER BY u.external_id ASC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *PostgresStore) IsGroupMember(ctx context.Context, orgID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM org_members WHERE org_id = $1 AND user_id = $2)
	`, orgID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check group member: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) DeleteGroup(ctx context.Context, appID, externalID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM orgs WHERE application_id = $1 AND external_id = $2`, appID, externalID)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	return requireAffected(result)
}
