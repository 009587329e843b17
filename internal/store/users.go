package store

import (
	"context"
	"fmt"
)

const userColumns = `id, application_id, external_id, user_type, state, COALESCE(name, ''), COALESCE(short_name, ''),
	COALESCE(email, ''), COALESCE(profile_picture_url, ''), metadata, created_timestamp, updated_timestamp`

func scanUser(row rowScanner) (User, error) {
	var user User
	var metadata []byte
	err := row.Scan(
		&user.ID, &user.ApplicationID, &user.ExternalID, &user.UserType, &user.State, &user.Name, &user.ShortName,
		&user.Email, &user.ProfilePictureURL, &metadata, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	user.Metadata = unmarshalMetadata(metadata)
	return user, nil
}

// UpsertUser creates the user or updates the provided fields. Metadata keys
// are merged into the existing object.
func (s *PostgresStore) UpsertUser(ctx context.Context, appID, externalID string, patch UserPatch) (User, error) {
	metadata, err := marshalMetadata(patch.Metadata)
	if err != nil {
		return User{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (application_id, external_id, name, short_name, email, profile_picture_url, state, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7::user_state, 'active'), $8::jsonb)
		ON CONFLICT (application_id, external_id) DO UPDATE SET
			name = COALESCE($3, users.name),
			short_name = COALESCE($4, users.short_name),
			email = COALESCE($5, users.email),
			profile_picture_url = COALESCE($6, users.profile_picture_url),
			state = COALESCE($7::user_state, users.state),
			metadata = users.metadata || $8::jsonb
		RETURNING `+userColumns,
		appID, externalID, patch.Name, patch.ShortName, patch.Email, patch.ProfilePictureURL, patch.State, metadata,
	)
	user, err := scanUser(row)
	if err != nil {
		return User{}, fmt.Errorf("upsert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByExternalID(ctx context.Context, appID, externalID string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE application_id = $1 AND external_id = $2
	`, appID, externalID))
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
}

// ListUsers pages through users ordered by external ID. The returned cursor
// is empty on the last page.
func (s *PostgresStore) ListUsers(ctx context.Context, appID string, limit int, after string) ([]User, string, error) {
	limit = clampLimit(limit, 100, MaxPageSize)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE application_id = $1 AND ($2 = '' OR external_id > $2)
		ORDER BY external_id ASC
		LIMIT $3
	`, appID, after, limit+1)
	if err != nil {
		return nil, "", fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, "", fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if len(users) > limit {
		users = users[:limit]
		next = users[limit-1].ExternalID
	}
	return users, next, nil
}

// ResolveUserIDs maps external IDs to internal IDs; unknown IDs are omitted.
func (s *PostgresStore) ResolveUserIDs(ctx context.Context, appID string, externalIDs []string) (map[string]string, error) {
	out := make(map[string]string, len(externalIDs))
	if len(externalIDs) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT external_id, id FROM users WHERE application_id = $1 AND external_id = ANY($2)
	`, appID, externalIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve users: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var externalID, id string
		if err := rows.Scan(&externalID, &id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		out[externalID] = id
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteUser(ctx context.Context, appID, externalID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE application_id = $1 AND external_id = $2`, appID, externalID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) UpsertConnection(ctx context.Context, conn Connection) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO third_party_connections (user_id, org_id, type, external_id, external_email)
		VALUES ($1, $2, $3::third_party_connection_type, $4, $5)
		ON CONFLICT (user_id, org_id, type) DO UPDATE SET
			external_id = EXCLUDED.external_id,
			external_email = EXCLUDED.external_email,
			connected_timestamp = NOW()
	`, conn.UserID, conn.OrgID, conn.Type, conn.ExternalID, conn.ExternalEmail)
	if err != nil {
		return fmt.Errorf("upsert connection: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListConnections(ctx context.Context, userID string) ([]Connection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, org_id, type, external_id, external_email, connected_timestamp
		FROM third_party_connections
		WHERE user_id = $1
		ORDER BY type ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var items []Connection
	for rows.Next() {
		var conn Connection
		if err := rows.Scan(&conn.UserID, &conn.OrgID, &conn.Type, &conn.ExternalID, &conn.ExternalEmail, &conn.ConnectedAt); err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		items = append(items, conn)
	}
	return items, rows.Err()
}

func (s *PostgresStore) DeleteConnection(ctx context.Context, userID, orgID, connectionType string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM third_party_connections WHERE user_id = $1 AND org_id = $2 AND type = $3::third_party_connection_type
	`, userID, orgID, connectionType)
	if err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	return requireAffected(result)
}
