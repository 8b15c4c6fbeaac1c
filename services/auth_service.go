package services

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RolePlayer   = "player"
)

// Principal is an authenticated caller.
type Principal struct {
	TenantID uint     `json:"tenant_id"`
	UserID   string   `json:"user_id"`
	Roles    []string `json:"roles"`
	ShopIDs  []uint   `json:"shop_ids,omitempty"` // empty: every shop of the tenant
}

func (p *Principal) HasRole(roles ...string) bool {
	for _, r := range roles {
		if slices.Contains(p.Roles, r) {
			return true
		}
	}
	return false
}

// Claims is the bearer token payload.
type Claims struct {
	TenantID uint     `json:"tenant_id"`
	Roles    []string `json:"roles"`
	ShopIDs  []uint   `json:"shop_ids,omitempty"`
	jwt.RegisteredClaims
}

// AuthService verifies HS256 bearer tokens issued by the hall's identity service.
type AuthService struct {
	secret []byte
}

func NewAuthService(secret string) *AuthService {
	return &AuthService{secret: []byte(secret)}
}

func (s *AuthService) Authenticate(token string) (*Principal, error) {
	if token == "" {
		return nil, fmt.Errorf("missing token: %w", ErrAuthenticationFailed)
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrAuthenticationFailed)
	}
	if claims.Subject == "" || claims.TenantID == 0 {
		return nil, fmt.Errorf("token lacks subject or tenant: %w", ErrAuthenticationFailed)
	}

	return &Principal{
		TenantID: claims.TenantID,
		UserID:   claims.Subject,
		Roles:    claims.Roles,
		ShopIDs:  claims.ShopIDs,
	}, nil
}

// IssueToken signs a token for p. The identity service normally does this;
// operators use it for service accounts and tests use it for fixtures.
func (s *AuthService) IssueToken(p Principal, ttl time.Duration) (string, error) {
	if p.UserID == "" || p.TenantID == 0 {
		return "", errors.New("principal needs a user and a tenant")
	}
	now := time.Now()
	claims := Claims{
		TenantID: p.TenantID,
		Roles:    p.Roles,
		ShopIDs:  p.ShopIDs,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}
