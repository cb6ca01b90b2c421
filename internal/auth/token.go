package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// meridianClaims.Tenants is a pointer so an empty authorized set ("no
// tenants") survives the round trip distinct from an absent one ("all").
type meridianClaims struct {
	jwt.RegisteredClaims
	UserID       string    `json:"uid"`
	TenantID     string    `json:"tid,omitempty"`
	Role         string    `json:"role"`
	IsSuperAdmin bool      `json:"sa,omitempty"`
	Tenants      *[]string `json:"tenants,omitempty"`
	TokenType    string    `json:"type"`
}

// TokenService handles JWT creation and validation.
type TokenService struct {
	signingKey  []byte
	issuer      string
	expiryHours int
}

func NewTokenService(signingKey, issuer string, expiryHours int) *TokenService {
	return &TokenService{
		signingKey:  []byte(signingKey),
		issuer:      issuer,
		expiryHours: expiryHours,
	}
}

// CreateAccessToken signs an access token for p. The permission set is not
// embedded; it is resolved from the role on every request so role edits
// take effect without re-login.
func (s *TokenService) CreateAccessToken(p *Principal) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}

	now := time.Now()
	claims := meridianClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(s.expiryHours) * time.Hour)),
		},
		UserID:       p.UserID,
		TenantID:     p.TenantID,
		Role:         p.Role,
		IsSuperAdmin: p.IsSuperAdmin,
		TokenType:    "access",
	}
	if p.AuthorizedTenants != nil {
		tenants := slices.Clone(p.AuthorizedTenants)
		claims.Tenants = &tenants
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.signingKey)
}

// ValidateToken parses an access token into a principal without permissions.
func (s *TokenService) ValidateToken(tokenString string) (*Principal, error) {
	token, err := jwt.ParseWithClaims(tokenString, &meridianClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(s.issuer))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*meridianClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.TokenType != "access" {
		return nil, fmt.Errorf("%w: access token required", ErrTokenInvalid)
	}

	p := &Principal{
		UserID:       claims.UserID,
		TenantID:     claims.TenantID,
		Role:         claims.Role,
		IsSuperAdmin: claims.IsSuperAdmin,
	}
	if claims.Tenants != nil {
		p.AuthorizedTenants = *claims.Tenants
		if p.AuthorizedTenants == nil {
			p.AuthorizedTenants = []string{}
		}
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	return p, nil
}
