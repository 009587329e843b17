package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueAndParseSessionToken(t *testing.T) {
	secret := []byte("secret")
	issued, claims, err := IssueSessionToken(secret, SessionClaims{
		Sub:   "user-1",
		AppID: "app-1",
		OrgID: "org-1",
		Exp:   time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueSessionToken() error = %v", err)
	}
	if claims.JTI == "" {
		t.Fatal("expected generated jti")
	}
	parsed, err := ParseSessionToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseSessionToken() error = %v", err)
	}
	if parsed.Sub != "user-1" || parsed.AppID != "app-1" || parsed.OrgID != "org-1" || parsed.JTI != claims.JTI {
		t.Fatalf("unexpected claims: %+v", parsed)
	}
}

func TestParseSessionTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, _, err := IssueSessionToken(secret, SessionClaims{
		Sub:   "user-1",
		AppID: "app-1",
		Exp:   time.Now().Add(-time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueSessionToken() error = %v", err)
	}
	if _, err := ParseSessionToken(secret, issued); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseSessionTokenRejectsWrongSecret(t *testing.T) {
	issued, _, err := IssueSessionToken([]byte("one"), SessionClaims{Sub: "u", AppID: "a", Exp: time.Now().Add(time.Hour).Unix()})
	if err != nil {
		t.Fatalf("IssueSessionToken() error = %v", err)
	}
	if _, err := ParseSessionToken([]byte("two"), issued); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestClientTokenRoundTrip(t *testing.T) {
	secret := []byte("app-secret")
	token, err := IssueClientToken("app-1", secret, ClientClaims{
		UserID:       "alice",
		GroupID:      "eng",
		UserDetails:  &UserDetails{Name: "Alice", Email: "alice@example.com", Metadata: map[string]any{"tier": "gold"}},
		GroupDetails: &GroupDetails{Name: "Engineering", Members: []string{"alice", "bob"}},
	}, time.Minute)
	if err != nil {
		t.Fatalf("IssueClientToken() error = %v", err)
	}

	appID, err := UnverifiedAppID(token)
	if err != nil || appID != "app-1" {
		t.Fatalf("UnverifiedAppID() = %q, %v", appID, err)
	}

	claims, err := ParseClientToken(secret, token)
	if err != nil {
		t.Fatalf("ParseClientToken() error = %v", err)
	}
	if claims.UserID != "alice" || claims.GroupID != "eng" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.UserDetails == nil || claims.UserDetails.Metadata["tier"] != "gold" {
		t.Fatalf("expected user details, got %+v", claims.UserDetails)
	}
	if claims.GroupDetails == nil || len(claims.GroupDetails.Members) != 2 {
		t.Fatalf("expected group details, got %+v", claims.GroupDetails)
	}
}

func TestParseClientTokenAcceptsLegacyOrganizationClaims(t *testing.T) {
	secret := []byte("app-secret")
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"app_id":          "app-1",
		"user_id":         "alice",
		"organization_id": "legacy-org",
		"exp":             time.Now().Add(time.Minute).Unix(),
	}).SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := ParseClientToken(secret, token)
	if err != nil {
		t.Fatalf("ParseClientToken() error = %v", err)
	}
	if claims.AppID != "app-1" || claims.GroupID != "legacy-org" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseClientTokenRequiresExpiryAndUser(t *testing.T) {
	secret := []byte("app-secret")
	cases := map[string]jwt.MapClaims{
		"no exp":       {"project_id": "app-1", "user_id": "alice"},
		"no user":      {"project_id": "app-1", "exp": time.Now().Add(time.Minute).Unix()},
		"no app":       {"user_id": "alice", "exp": time.Now().Add(time.Minute).Unix()},
		"nameless grp": {"project_id": "app-1", "user_id": "alice", "exp": time.Now().Add(time.Minute).Unix(), "group_details": map[string]any{"members": []string{"a"}}},
	}
	for name, claims := range cases {
		t.Run(name, func(t *testing.T) {
			token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(secret)
			if err != nil {
				t.Fatalf("sign: %v", err)
			}
			if _, err := ParseClientToken(secret, token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestParseServerTokenRejectsWrongAlgorithm(t *testing.T) {
	secret := []byte("app-secret")
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"app_id": "app-1"}).SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseServerToken(secret, token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	good, err := IssueServerToken("app-1", secret, time.Minute)
	if err != nil {
		t.Fatalf("IssueServerToken() error = %v", err)
	}
	claims, err := ParseServerToken(secret, good)
	if err != nil || claims.AppID != "app-1" {
		t.Fatalf("ParseServerToken() = %+v, %v", claims, err)
	}
}

func TestProjectToken(t *testing.T) {
	secret := []byte("customer-secret")
	token, err := IssueProjectToken("cust-1", secret, time.Minute)
	if err != nil {
		t.Fatalf("IssueProjectToken() error = %v", err)
	}
	customerID, err := UnverifiedCustomerID(token)
	if err != nil || customerID != "cust-1" {
		t.Fatalf("UnverifiedCustomerID() = %q, %v", customerID, err)
	}
	claims, err := ParseProjectToken(secret, token)
	if err != nil || claims.CustomerID != "cust-1" {
		t.Fatalf("ParseProjectToken() = %+v, %v", claims, err)
	}
}

func TestHashTokenIsStable(t *testing.T) {
	if HashToken("abc") != HashToken("abc") || len(HashToken("abc")) != 64 {
		t.Fatal("expected stable sha256 hex digest")
	}
}

func TestParseServerTokenRejectsClientAndMalformedTokens(t *testing.T) {
	secret := []byte("app-secret")
	clientToken, err := IssueClientToken("app-1", secret, ClientClaims{UserID: "end-user"}, time.Hour)
	if err != nil {
		t.Fatalf("IssueClientToken() error = %v", err)
	}
	if _, err := ParseServerToken(secret, clientToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("client token: expected ErrInvalidToken, got %v", err)
	}

	now := time.Now()
	cases := map[string]struct {
		claims jwt.MapClaims
		want   error
	}{
		"extra key":  {jwt.MapClaims{"project_id": "app-1", "iat": now.Unix(), "admin": true}, ErrInvalidToken},
		"no iat":     {jwt.MapClaims{"project_id": "app-1", "exp": now.Add(time.Hour).Unix()}, ErrInvalidToken},
		"future iat": {jwt.MapClaims{"project_id": "app-1", "iat": now.Add(time.Hour).Unix()}, ErrInvalidToken},
		"too old":    {jwt.MapClaims{"project_id": "app-1", "iat": now.Add(-MaxTokenAge - time.Minute).Unix(), "exp": now.Add(time.Hour).Unix()}, ErrExpiredToken},
		"no app":     {jwt.MapClaims{"iat": now.Unix()}, ErrInvalidToken},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, tc.claims).SignedString(secret)
			if err != nil {
				t.Fatalf("sign: %v", err)
			}
			if _, err := ParseServerToken(secret, token); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	legacy, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{"app_id": "app-1", "iat": now.Unix()}).SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if claims, err := ParseServerToken(secret, legacy); err != nil || claims.AppID != "app-1" {
		t.Fatalf("ParseServerToken(app_id) = %+v, %v", claims, err)
	}
}

func TestParseProjectTokenRejectsApplicationClaims(t *testing.T) {
	secret := []byte("customer-secret")
	now := time.Now().Unix()
	for _, key := range []string{"user_id", "app_id", "project_id", "org_id"} {
		t.Run(key, func(t *testing.T) {
			token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
				"customer_id": "cust-1",
				"iat":         now,
				key:           "x",
			}).SignedString(secret)
			if err != nil {
				t.Fatalf("sign: %v", err)
			}
			if _, err := ParseProjectToken(secret, token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}

	noIAT, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{"customer_id": "cust-1"}).SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseProjectToken(secret, noIAT); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken without iat, got %v", err)
	}
}
