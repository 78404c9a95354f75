// Package auth issues and validates the HS256 bearer tokens that guard the
// admin API.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTypeAccess is the typ claim of access tokens.
const TokenTypeAccess = "access"

// Issuer and audience stamped on every token.
const (
	Issuer   = "discovery"
	Audience = "discovery-admin"
)

// Roles.
const (
	RoleAdmin = "admin"
	// RoleReviewer may read manipulation flags and record review decisions.
	RoleReviewer = "reviewer"
)

const (
	AccessTokenExpiry = 15 * time.Minute
	DefaultLeeway     = 30 * time.Second
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token has expired")
	ErrEmptyOperator = errors.New("operator id cannot be empty")
	ErrUnknownRole   = errors.New("unknown role")
)

// Claims are the claims of an operator access token.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
	Type string `json:"typ"`
}

// HasRole reports whether the claims grant role. Admins hold every role.
func (c *Claims) HasRole(role string) bool {
	return c.Role == role || c.Role == RoleAdmin
}

func knownRole(role string) bool {
	return role == RoleAdmin || role == RoleReviewer
}

// JWTService signs operator tokens with the current secret and accepts
// tokens signed by either the current or the previous secret, so a secret
// can be rotated without logging every operator out.
type JWTService struct {
	keys   [][]byte
	leeway time.Duration
	now    func() time.Time
}

// NewJWTService returns a service with a single signing secret.
func NewJWTService(secret string) *JWTService {
	return NewJWTServiceWithRotation(secret, "")
}

// NewJWTServiceWithRotation returns a service that signs with current and
// also accepts previous. An empty previous disables the fallback.
func NewJWTServiceWithRotation(current, previous string) *JWTService {
	keys := [][]byte{[]byte(current)}
	if previous != "" {
		keys = append(keys, []byte(previous))
	}
	return &JWTService{keys: keys, leeway: DefaultLeeway, now: time.Now}
}

// GenerateAccessToken issues a token for operatorID holding role. A
// non-positive ttl uses AccessTokenExpiry.
func (s *JWTService) GenerateAccessToken(operatorID, role string, ttl time.Duration) (string, error) {
	if operatorID == "" {
		return "", ErrEmptyOperator
	}
	if !knownRole(role) {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	if ttl <= 0 {
		ttl = AccessTokenExpiry
	}

	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
			Subject:   operatorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
		Type: TokenTypeAccess,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.keys[0])
}

// ValidateToken returns the claims of a well-formed, unexpired access token
// carrying a known role. Expiry is reported as ErrExpiredToken; every other
// failure is ErrInvalidToken.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	var first error
	for _, key := range s.keys {
		claims, err := s.parse(tokenString, key)
		if err == nil {
			return claims, nil
		}
		if first == nil {
			first = err
		}
	}
	if errors.Is(first, jwt.ErrTokenExpired) {
		return nil, ErrExpiredToken
	}
	return nil, ErrInvalidToken
}

func (s *JWTService) parse(tokenString string, key []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Type != TokenTypeAccess || !knownRole(claims.Role) {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
