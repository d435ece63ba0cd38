package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Roles carried in tokens.
const (
	RoleKiosk = "kiosk"
	RoleAdmin = "admin"
)

const (
	useAccess  = "access"
	useRefresh = "refresh"
)

// TokenPair holds access and refresh tokens.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	AccessExp    time.Time
	RefreshExp   time.Time
}

// Claims represents JWT payload. ProjectID, when set, restricts a kiosk to
// one project.
type Claims struct {
	Subject   string `json:"sub"`
	Role      string `json:"role"`
	ProjectID string `json:"project_id,omitempty"`
	Use       string `json:"use"`
	jwt.RegisteredClaims
}

// Issue issues signed access and refresh tokens.
func Issue(subject, role, projectID, issuer, key string, accessTTL, refreshTTL time.Duration) (TokenPair, error) {
	if key == "" {
		return TokenPair{}, errors.New("signing key required")
	}
	now := time.Now()
	accessExp := now.Add(accessTTL)
	refreshExp := now.Add(refreshTTL)

	claims := func(use string, exp time.Time) Claims {
		return Claims{
			Subject:   subject,
			Role:      role,
			ProjectID: projectID,
			Use:       use,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    issuer,
				Subject:   subject,
				ExpiresAt: jwt.NewNumericDate(exp),
				IssuedAt:  jwt.NewNumericDate(now),
				ID:        uuid.NewString(),
			},
		}
	}

	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims(useAccess, accessExp)).SignedString([]byte(key))
	if err != nil {
		return TokenPair{}, err
	}

	refreshToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims(useRefresh, refreshExp)).SignedString([]byte(key))
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		AccessExp:    accessExp,
		RefreshExp:   refreshExp,
	}, nil
}

// Parse validates an access token and returns claims.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	return parse(tokenStr, key, issuer, useAccess)
}

// ParseRefresh validates a refresh token and returns claims.
func ParseRefresh(tokenStr, key, issuer string) (Claims, error) {
	return parse(tokenStr, key, issuer, useRefresh)
}

func parse(tokenStr, key, issuer, use string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if issuer != "" && claims.Issuer != issuer {
		return Claims{}, errors.New("issuer mismatch")
	}
	if claims.Use != use {
		return Claims{}, errors.New("wrong token type")
	}
	return *claims, nil
}
