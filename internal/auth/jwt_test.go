package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// 44-character base64 string, as produced by `openssl rand -base64 32`
const testSecret = "wJ6Qk8Qn1v9Qw1Zb2l8Qk9J3p6Qk8Qn1v9Qw1Zb2l8Qk="

func TestGenerateAccessToken(t *testing.T) {
	svc := NewJWTService(testSecret)

	tests := []struct {
		name    string
		userID  string
		role    string
		wantErr bool
	}{
		{"admin token", "ops-1", RoleAdmin, false},
		{"reviewer token", "mod-7", RoleReviewer, false},
		{"no role", "ops-2", "", true},
		{"unknown role", "ops-3", "superuser", true},
		{"empty operator", "", RoleAdmin, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := svc.GenerateAccessToken(tt.userID, tt.role, 0)
			if (err != nil) != tt.wantErr {
				t.Fatalf("GenerateAccessToken() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			claims, err := svc.ValidateToken(token)
			if err != nil {
				t.Fatalf("ValidateToken() error = %v", err)
			}
			if claims.Subject != tt.userID || claims.Role != tt.role || claims.Type != TokenTypeAccess || claims.Issuer != Issuer {
				t.Errorf("claims = %+v", claims)
			}
			if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != AccessTokenExpiry {
				t.Errorf("lifetime = %v, want %v", got, AccessTokenExpiry)
			}
		})
	}
}

func TestClaims_HasRole(t *testing.T) {
	tests := []struct {
		role, want string
		ok         bool
	}{
		{RoleAdmin, RoleAdmin, true},
		{RoleAdmin, RoleReviewer, true},
		{RoleReviewer, RoleReviewer, true},
		{RoleReviewer, RoleAdmin, false},
		{"", RoleReviewer, false},
	}
	for _, tt := range tests {
		c := &Claims{Role: tt.role}
		if got := c.HasRole(tt.want); got != tt.ok {
			t.Errorf("Claims{Role:%q}.HasRole(%q) = %v, want %v", tt.role, tt.want, got, tt.ok)
		}
	}
}

func TestValidateToken_Rejects(t *testing.T) {
	svc := NewJWTService(testSecret)
	valid, _ := svc.GenerateAccessToken("ops-1", RoleAdmin, time.Minute)

	expiredSvc := NewJWTService(testSecret)
	expiredSvc.now = func() time.Time { return time.Now().Add(-time.Hour) }
	expired, _ := expiredSvc.GenerateAccessToken("ops-1", RoleAdmin, time.Minute)

	otherSecret, _ := NewJWTService("some-other-secret").GenerateAccessToken("ops-1", RoleAdmin, time.Minute)

	parts := strings.Split(valid, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	sign := func(c Claims) string {
		tok, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(testSecret))
		return tok
	}
	registered := jwt.RegisteredClaims{
		Issuer:    Issuer,
		Audience:  jwt.ClaimStrings{Audience},
		Subject:   "ops-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	wrongType := sign(Claims{RegisteredClaims: registered, Role: RoleAdmin, Type: "refresh"})
	unknownRole := sign(Claims{RegisteredClaims: registered, Role: "superuser", Type: TokenTypeAccess})
	otherAudience := registered
	otherAudience.Audience = jwt.ClaimStrings{"someone-else"}
	wrongAudience := sign(Claims{RegisteredClaims: otherAudience, Role: RoleAdmin, Type: TokenTypeAccess})
	noExpiry := registered
	noExpiry.ExpiresAt = nil
	neverExpires := sign(Claims{RegisteredClaims: noExpiry, Role: RoleAdmin, Type: TokenTypeAccess})

	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Type: TokenTypeAccess}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"expired", expired, ErrExpiredToken},
		{"wrong secret", otherSecret, ErrInvalidToken},
		{"tampered", tampered, ErrInvalidToken},
		{"wrong token type", wrongType, ErrInvalidToken},
		{"unknown role", unknownRole, ErrInvalidToken},
		{"wrong audience", wrongAudience, ErrInvalidToken},
		{"no expiry", neverExpires, ErrInvalidToken},
		{"alg none", none, ErrInvalidToken},
		{"garbage", "not-a-token", ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.ValidateToken(tt.token); !errors.Is(err, tt.want) {
				t.Errorf("ValidateToken() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestKeyRotation(t *testing.T) {
	currentSecret := "current-secret-key-12345678"
	previousSecret := "previous-secret-key-87654321"

	oldToken, err := NewJWTService(previousSecret).GenerateAccessToken("ops-old", RoleAdmin, 0)
	if err != nil {
		t.Fatal(err)
	}

	rotating := NewJWTServiceWithRotation(currentSecret, previousSecret)
	claims, err := rotating.ValidateToken(oldToken)
	if err != nil {
		t.Fatalf("token signed with previous secret should validate during rotation: %v", err)
	}
	if claims.Subject != "ops-old" {
		t.Errorf("Subject = %v, want ops-old", claims.Subject)
	}

	newToken, _ := rotating.GenerateAccessToken("ops-new", RoleAdmin, 0)
	if _, err := NewJWTService(currentSecret).ValidateToken(newToken); err != nil {
		t.Errorf("new tokens should be signed with the current secret: %v", err)
	}

	if _, err := NewJWTService(currentSecret).ValidateToken(oldToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("old token after rotation completes: error = %v, want ErrInvalidToken", err)
	}
}
