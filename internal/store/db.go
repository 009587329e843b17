package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const schemaSearchPath = "cord,public"

func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", withSearchPath(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// withSearchPath adds search_path as a runtime parameter so unqualified
// table names resolve to the cord schema.
func withSearchPath(databaseURL string) string {
	if strings.Contains(databaseURL, "search_path") {
		return databaseURL
	}
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		parsed, err := url.Parse(databaseURL)
		if err != nil {
			return databaseURL
		}
		query := parsed.Query()
		query.Set("search_path", schemaSearchPath)
		parsed.RawQuery = query.Encode()
		return parsed.String()
	}
	return strings.TrimSpace(databaseURL + " search_path=" + schemaSearchPath)
}

var typeMap = pgtype.NewMap()

// textArray scans a Postgres text[] into dest.
func textArray(dest *[]string) sql.Scanner {
	return typeMap.SQLScanner(dest)
}

func marshalMetadata(value Metadata) (string, error) {
	if value == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(raw), nil
}

func unmarshalMetadata(raw []byte) Metadata {
	out := Metadata{}
	if len(raw) == 0 {
		return out
	}
	_ = json.Unmarshal(raw, &out)
	return out
}

func nullString(value sql.NullString) string {
	if value.Valid {
		return value.String
	}
	return ""
}

func nullTime(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}

func nilIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

// MaxPageSize is the largest page a list endpoint returns.
const MaxPageSize = 1000

// pageLimit clamps a request that asks for one row past the page so callers
// can tell whether another page exists.
func pageLimit(limit, fallback int) int {
	return clampLimit(limit, fallback, MaxPageSize+1)
}

func clampLimit(limit, fallback, max int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > max {
		return max
	}
	return limit
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var base64URL = base64.RawURLEncoding
