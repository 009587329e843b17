package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

func (s *PostgresStore) InsertCustomer(ctx context.Context, name string) (Customer, error) {
	var customer Customer
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO customers (name) VALUES ($1)
		RETURNING id, name, type, implementation_stage, shared_secret, created_timestamp
	`, name).Scan(&customer.ID, &customer.Name, &customer.Type, &customer.ImplementationStage, &customer.SharedSecret, &customer.CreatedAt)
	if err != nil {
		return Customer{}, fmt.Errorf("insert customer: %w", err)
	}
	return customer, nil
}

func (s *PostgresStore) GetCustomer(ctx context.Context, customerID string) (Customer, error) {
	var customer Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, type, implementation_stage, shared_secret, created_timestamp
		FROM customers WHERE id = $1
	`, customerID).Scan(&customer.ID, &customer.Name, &customer.Type, &customer.ImplementationStage, &customer.SharedSecret, &customer.CreatedAt)
	if err != nil {
		return Customer{}, err
	}
	return customer, nil
}

// DeleteCustomer removes the customer and, through cascades, every
// application, user, group, thread and message it owns.
func (s *PostgresStore) DeleteCustomer(ctx context.Context, customerID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, customerID)
	if err != nil {
		return fmt.Errorf("delete customer: %w", err)
	}
	return requireAffected(result)
}

const applicationColumns = `id, customer_id, name, shared_secret, COALESCE(icon_url, ''), tier, environment,
	COALESCE(redirect_uri, ''), email_settings, COALESCE(event_webhook_url, ''), event_webhook_subscriptions, created_timestamp`

func scanApplication(row rowScanner) (Application, error) {
	var app Application
	var emailSettings []byte
	err := row.Scan(
		&app.ID, &app.CustomerID, &app.Name, &app.SharedSecret, &app.IconURL, &app.Tier, &app.Environment,
		&app.RedirectURI, &emailSettings, &app.EventWebhookURL, textArray(&app.EventWebhookSubscriptions), &app.CreatedAt,
	)
	if err != nil {
		return Application{}, err
	}
	app.EmailSettings = json.RawMessage(emailSettings)
	return app, nil
}

func (s *PostgresStore) InsertApplication(ctx context.Context, app Application) (Application, error) {
	emailSettings := string(app.EmailSettings)
	if emailSettings == "" {
		emailSettings = "{}"
	}
	environment := app.Environment
	if environment == "" {
		environment = "production"
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO applications (customer_id, name, icon_url, environment, redirect_uri, email_settings, event_webhook_url)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
		RETURNING `+applicationColumns,
		app.CustomerID, app.Name, nilIfEmpty(app.IconURL), environment, nilIfEmpty(app.RedirectURI), emailSettings, nilIfEmpty(app.EventWebhookURL),
	)
	created, err := scanApplication(row)
	if err != nil {
		return Application{}, fmt.Errorf("insert application: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetApplication(ctx context.Context, appID string) (Application, error) {
	return scanApplication(s.db.QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id = $1`, appID))
}

func (s *PostgresStore) ListApplications(ctx context.Context, customerID string) ([]Application, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+applicationColumns+`
		FROM applications
		WHERE customer_id = $1
		ORDER BY created_timestamp ASC
	`, customerID)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()

	var items []Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		items = append(items, app)
	}
	return items, rows.Err()
}

func (s *PostgresStore) UpdateApplication(ctx context.Context, app Application) error {
	emailSettings := string(app.EmailSettings)
	if emailSettings == "" {
		emailSettings = "{}"
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE applications
		SET name = $2, icon_url = $3, redirect_uri = $4, email_settings = $5::jsonb,
			event_webhook_url = $6, event_webhook_subscriptions = $7
		WHERE id = $1
	`, app.ID, app.Name, nilIfEmpty(app.IconURL), nilIfEmpty(app.RedirectURI), emailSettings, nilIfEmpty(app.EventWebhookURL), app.EventWebhookSubscriptions)
	if err != nil {
		return fmt.Errorf("update application: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) DeleteApplication(ctx context.Context, appID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM applications WHERE id = $1`, appID)
	if err != nil {
		return fmt.Errorf("delete application: %w", err)
	}
	return requireAffected(result)
}

// ListWebhookTargets returns the application's primary webhook followed by
// any additional registered endpoints.
func (s *PostgresStore) ListWebhookTargets(ctx context.Context, appID string) ([]WebhookTarget, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT 'app:' || id::text, event_webhook_url, event_webhook_subscriptions, 0 AS ord, created_timestamp
		FROM applications
		WHERE id = $1 AND event_webhook_url IS NOT NULL AND event_webhook_url <> ''
		UNION ALL
		SELECT id::text, event_webhook_url, event_webhook_subscriptions, 1 AS ord, created_timestamp
		FROM application_webhooks
		WHERE application_id = $1
		ORDER BY ord, created_timestamp
	`, appID)
	if err != nil {
		return nil, fmt.Errorf("list webhook targets: %w", err)
	}
	defer rows.Close()

	var targets []WebhookTarget
	for rows.Next() {
		var target WebhookTarget
		var ord int
		var createdAt sql.NullTime
		if err := rows.Scan(&target.ID, &target.URL, textArray(&target.Subscriptions), &ord, &createdAt); err != nil {
			return nil, fmt.Errorf("scan webhook target: %w", err)
		}
		targets = append(targets, target)
	}
	return targets, rows.Err()
}

func (s *PostgresStore) AddWebhook(ctx context.Context, appID, url string, subscriptions []string) (WebhookTarget, error) {
	if subscriptions == nil {
		subscriptions = []string{}
	}
	target := WebhookTarget{URL: url, Subscriptions: subscriptions}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO application_webhooks (application_id, event_webhook_url, event_webhook_subscriptions)
		VALUES ($1, $2, $3)
		RETURNING id
	`, appID, url, subscriptions).Scan(&target.ID)
	if err != nil {
		return WebhookTarget{}, fmt.Errorf("insert webhook: %w", err)
	}
	return target, nil
}

func (s *PostgresStore) DeleteWebhook(ctx context.Context, appID, webhookID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM application_webhooks WHERE application_id = $1 AND id = $2`, appID, webhookID)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) InsertSession(ctx context.Context, appID string, expiresAt sql.NullTime) (string, error) {
	var id string
	if err := s.db.QueryRowContext(ctx, `
		INSERT INTO sessions (application_id, expires_at) VALUES ($1, $2) RETURNING id
	`, appID, expiresAt).Scan(&id); err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) CreateConsoleUser(ctx context.Context, user ConsoleUser) (ConsoleUser, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO console_users (name, email, password_hash, customer_id)
		VALUES ($1, LOWER($2), $3, $4)
		RETURNING id, created_timestamp
	`, nilIfEmpty(user.Name), user.Email, user.PasswordHash, nilIfEmpty(user.CustomerID)).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ConsoleUser{}, ErrConflict
		}
		return ConsoleUser{}, fmt.Errorf("insert console user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetConsoleUserByEmail(ctx context.Context, email string) (ConsoleUser, error) {
	var user ConsoleUser
	var name, customerID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, customer_id, verified, created_timestamp
		FROM console_users WHERE email = LOWER($1)
	`, email).Scan(&user.ID, &name, &user.Email, &user.PasswordHash, &customerID, &user.Verified, &user.CreatedAt)
	if err != nil {
		return ConsoleUser{}, err
	}
	user.Name = nullString(name)
	user.CustomerID = nullString(customerID)
	return user, nil
}

func (s *PostgresStore) UpdateConsoleUserPassword(ctx context.Context, userID, passwordHash string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE console_users SET password_hash = $2 WHERE id = $1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update console password: %w", err)
	}
	return requireAffected(result)
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
