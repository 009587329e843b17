package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// MaxTokenAge bounds how long after iat a server or project token is honoured,
// whatever its exp says.
const MaxTokenAge = 24 * time.Hour

var (
	serverTokenKeys       = map[string]bool{"app_id": true, "project_id": true, "iat": true, "exp": true}
	projectTokenForbidden = []string{"user_id", "org_id", "organization_id", "group_id", "app_id", "project_id"}
)

// UserDetails is the optional profile a client token carries so the user can
// be created or refreshed on first use.
type UserDetails struct {
	Email             string         `json:"email,omitempty"`
	Name              string         `json:"name,omitempty"`
	ShortName         string         `json:"short_name,omitempty"`
	ProfilePictureURL string         `json:"profile_picture_url,omitempty"`
	Status            string         `json:"status,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

type GroupDetails struct {
	Name     string         `json:"name"`
	Status   string         `json:"status,omitempty"`
	Members  []string       `json:"members,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type ServerClaims struct {
	AppID string
}

type ProjectClaims struct {
	CustomerID string
}

type ClientClaims struct {
	AppID        string
	UserID       string
	GroupID      string
	UserDetails  *UserDetails
	GroupDetails *GroupDetails
	ExpiresAt    time.Time
}

type SessionClaims struct {
	Sub   string
	AppID string
	OrgID string
	JTI   string
	Exp   int64
}

type appClaims struct {
	ProjectID string `json:"project_id,omitempty"`
	AppID     string `json:"app_id,omitempty"`
	jwt.RegisteredClaims
}

func (c appClaims) appID() string {
	if c.ProjectID != "" {
		return c.ProjectID
	}
	return c.AppID
}

type clientTokenClaims struct {
	appClaims
	UserID              string        `json:"user_id"`
	GroupID             string        `json:"group_id,omitempty"`
	OrganizationID      string        `json:"organization_id,omitempty"`
	UserDetails         *UserDetails  `json:"user_details,omitempty"`
	GroupDetails        *GroupDetails `json:"group_details,omitempty"`
	OrganizationDetails *GroupDetails `json:"organization_details,omitempty"`
}

type projectTokenClaims struct {
	CustomerID string `json:"customer_id"`
	jwt.RegisteredClaims
}

type sessionTokenClaims struct {
	AppID string `json:"app_id"`
	OrgID string `json:"group_id,omitempty"`
	jwt.RegisteredClaims
}

func parse(secret []byte, token string, claims jwt.Claims, method string, opts ...jwt.ParserOption) error {
	opts = append(opts, jwt.WithValidMethods([]string{method}))
	_, err := jwt.ParseWithClaims(strings.TrimSpace(token), claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	}, opts...)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return ErrExpiredToken
	}
	if err != nil {
		return ErrInvalidToken
	}
	return nil
}

// UnverifiedAppID reads the application ID before the signature is checked;
// the signing secret is per application so it must be looked up first.
func UnverifiedAppID(token string) (string, error) {
	var claims appClaims
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(token), &claims); err != nil {
		return "", ErrInvalidToken
	}
	if claims.appID() == "" {
		return "", ErrInvalidToken
	}
	return claims.appID(), nil
}

// UnverifiedCustomerID is the project-token counterpart of UnverifiedAppID.
func UnverifiedCustomerID(token string) (string, error) {
	var claims projectTokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(token), &claims); err != nil {
		return "", ErrInvalidToken
	}
	if claims.CustomerID == "" {
		return "", ErrInvalidToken
	}
	return claims.CustomerID, nil
}

// ParseServerToken accepts only app_id/project_id, iat and exp. Client tokens
// are signed with the same secret and must not pass as server credentials.
func ParseServerToken(secret []byte, token string) (ServerClaims, error) {
	claims, err := parseBounded(secret, token)
	if err != nil {
		return ServerClaims{}, err
	}
	for key := range claims {
		if !serverTokenKeys[key] {
			return ServerClaims{}, ErrInvalidToken
		}
	}
	appID := stringClaim(claims, "project_id")
	if appID == "" {
		appID = stringClaim(claims, "app_id")
	}
	if appID == "" {
		return ServerClaims{}, ErrInvalidToken
	}
	return ServerClaims{AppID: appID}, nil
}

// parseBounded verifies an HS512 token that must carry iat no older than
// MaxTokenAge.
func parseBounded(secret []byte, token string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if err := parse(secret, token, claims, "HS512", jwt.WithIssuedAt()); err != nil {
		return nil, err
	}
	issuedAt, err := claims.GetIssuedAt()
	if err != nil || issuedAt == nil {
		return nil, ErrInvalidToken
	}
	if time.Since(issuedAt.Time) > MaxTokenAge {
		return nil, ErrExpiredToken
	}
	return claims, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	value, _ := claims[key].(string)
	return value
}

func ParseClientToken(secret []byte, token string) (ClientClaims, error) {
	var claims clientTokenClaims
	if err := parse(secret, token, &claims, "HS512", jwt.WithExpirationRequired()); err != nil {
		return ClientClaims{}, err
	}
	if claims.appID() == "" || strings.TrimSpace(claims.UserID) == "" {
		return ClientClaims{}, ErrInvalidToken
	}
	out := ClientClaims{
		AppID:        claims.appID(),
		UserID:       claims.UserID,
		GroupID:      claims.GroupID,
		UserDetails:  claims.UserDetails,
		GroupDetails: claims.GroupDetails,
		ExpiresAt:    claims.ExpiresAt.Time,
	}
	if out.GroupID == "" {
		out.GroupID = claims.OrganizationID
	}
	if out.GroupDetails == nil {
		out.GroupDetails = claims.OrganizationDetails
	}
	if out.GroupDetails != nil && strings.TrimSpace(out.GroupDetails.Name) == "" {
		return ClientClaims{}, ErrInvalidToken
	}
	return out, nil
}

// ParseProjectToken accepts customer tokens that name no application or user.
func ParseProjectToken(secret []byte, token string) (ProjectClaims, error) {
	claims, err := parseBounded(secret, token)
	if err != nil {
		return ProjectClaims{}, err
	}
	for _, key := range projectTokenForbidden {
		if _, ok := claims[key]; ok {
			return ProjectClaims{}, ErrInvalidToken
		}
	}
	customerID := stringClaim(claims, "customer_id")
	if customerID == "" {
		return ProjectClaims{}, ErrInvalidToken
	}
	return ProjectClaims{CustomerID: customerID}, nil
}

// IssueServerToken signs a short-lived application token. Intended for local
// tooling; application backends sign their own.
func IssueServerToken(appID string, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := appClaims{
		ProjectID: appID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(secret)
}

func IssueClientToken(appID string, secret []byte, data ClientClaims, ttl time.Duration) (string, error) {
	if data.UserID == "" {
		return "", errors.New("missing user id")
	}
	if data.GroupDetails != nil && data.GroupDetails.Name == "" {
		return "", errors.New("missing required group field: name")
	}
	now := time.Now()
	claims := clientTokenClaims{
		appClaims: appClaims{
			ProjectID: appID,
			RegisteredClaims: jwt.RegisteredClaims{
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			},
		},
		UserID:       data.UserID,
		GroupID:      data.GroupID,
		UserDetails:  data.UserDetails,
		GroupDetails: data.GroupDetails,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(secret)
}

func IssueProjectToken(customerID string, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := projectTokenClaims{
		CustomerID: customerID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(secret)
}

// IssueSessionToken signs a client API session. A missing JTI is generated.
func IssueSessionToken(secret []byte, claims SessionClaims) (string, SessionClaims, error) {
	if claims.JTI == "" {
		claims.JTI = uuid.NewString()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionTokenClaims{
		AppID: claims.AppID,
		OrgID: claims.OrgID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.Sub,
			ID:        claims.JTI,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Unix(claims.Exp, 0)),
		},
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", SessionClaims{}, fmt.Errorf("sign session: %w", err)
	}
	return signed, claims, nil
}

func ParseSessionToken(secret []byte, token string) (SessionClaims, error) {
	var claims sessionTokenClaims
	if err := parse(secret, token, &claims, "HS256", jwt.WithExpirationRequired()); err != nil {
		return SessionClaims{}, err
	}
	if claims.Subject == "" || claims.ID == "" || claims.AppID == "" {
		return SessionClaims{}, ErrInvalidToken
	}
	return SessionClaims{
		Sub:   claims.Subject,
		AppID: claims.AppID,
		OrgID: claims.OrgID,
		JTI:   claims.ID,
		Exp:   claims.ExpiresAt.Unix(),
	}, nil
}

func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}
