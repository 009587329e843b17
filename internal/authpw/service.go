// Package authpw provides email/password authentication for console users.
package authpw

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"cord/platform/internal/session"
	"cord/platform/internal/store"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidInput       = errors.New("email and password are required")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// UserStore defines the storage interface for auth
type UserStore interface {
	CreateConsoleUser(ctx context.Context, user store.ConsoleUser) (store.ConsoleUser, error)
	GetConsoleUserByEmail(ctx context.Context, email string) (store.ConsoleUser, error)
	UpdateConsoleUserPassword(ctx context.Context, userID, passwordHash string) error
}

// SessionStore keeps console logins alive between requests.
type SessionStore interface {
	SaveConsoleSession(ctx context.Context, tokenHash string, data session.ConsoleData, ttl time.Duration) error
	LookupConsoleSession(ctx context.Context, tokenHash string) (session.ConsoleData, error)
	RevokeConsoleSession(ctx context.Context, tokenHash string) error
}

type Service struct {
	store    UserStore
	sessions SessionStore
	ttl      time.Duration
}

func NewService(store UserStore, sessions SessionStore, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{store: store, sessions: sessions, ttl: ttl}
}

type SignUpRequest struct {
	Email      string
	Password   string
	Name       string
	CustomerID string
}

// SignUp creates a console account. The account is usable right away.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.ConsoleUser, error) {
	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return store.ConsoleUser{}, ErrInvalidInput
	}
	if len(req.Password) < 8 {
		return store.ConsoleUser{}, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return store.ConsoleUser{}, fmt.Errorf("hash password: %w", err)
	}
	user, err := s.store.CreateConsoleUser(ctx, store.ConsoleUser{
		Name:         strings.TrimSpace(req.Name),
		Email:        email,
		PasswordHash: string(hash),
		CustomerID:   req.CustomerID,
	})
	if errors.Is(err, store.ErrConflict) {
		return store.ConsoleUser{}, ErrEmailTaken
	}
	if err != nil {
		return store.ConsoleUser{}, fmt.Errorf("create console user: %w", err)
	}
	return user, nil
}

type SignInResponse struct {
	User      store.ConsoleUser
	Token     string
	ExpiresAt time.Time
}

// SignIn checks the password and opens a console session. Only the hash of
// the returned token is stored.
func (s *Service) SignIn(ctx context.Context, email, password string) (*SignInResponse, error) {
	user, err := s.authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}

	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}
	now := time.Now().UTC()
	data := session.ConsoleData{
		UserID:     user.ID,
		Email:      user.Email,
		CustomerID: user.CustomerID,
		CreatedAt:  now,
	}
	if err := s.sessions.SaveConsoleSession(ctx, HashToken(token), data, s.ttl); err != nil {
		return nil, fmt.Errorf("save console session: %w", err)
	}
	return &SignInResponse{User: user, Token: token, ExpiresAt: now.Add(s.ttl)}, nil
}

type ChangePasswordRequest struct {
	Email       string
	OldPassword string
	NewPassword string
}

func (s *Service) ChangePassword(ctx context.Context, req ChangePasswordRequest) error {
	if len(req.NewPassword) < 8 {
		return ErrWeakPassword
	}
	user, err := s.authenticate(ctx, req.Email, req.OldPassword)
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.UpdateConsoleUserPassword(ctx, user.ID, string(hash)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// Session resolves a bearer token issued by SignIn.
func (s *Service) Session(ctx context.Context, token string) (session.ConsoleData, error) {
	if token == "" {
		return session.ConsoleData{}, session.ErrSessionNotFound
	}
	return s.sessions.LookupConsoleSession(ctx, HashToken(token))
}

func (s *Service) SignOut(ctx context.Context, token string) error {
	return s.sessions.RevokeConsoleSession(ctx, HashToken(token))
}

func (s *Service) authenticate(ctx context.Context, email, password string) (store.ConsoleUser, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return store.ConsoleUser{}, ErrInvalidInput
	}
	user, err := s.store.GetConsoleUserByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ConsoleUser{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.ConsoleUser{}, fmt.Errorf("get console user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.ConsoleUser{}, ErrInvalidCredentials
	}
	return user, nil
}

func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
