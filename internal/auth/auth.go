// Package auth issues and verifies bearer JWTs for the HTTP API.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// contextKey is where the verified token is stored on the echo context.
const contextKey = "user"

var (
	ErrMissingToken  = errors.New("missing token")
	ErrInvalidClaims = errors.New("invalid token claims")
)

// Claims are the custom claims carried by access tokens. Subject holds the user ID.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// JWTMiddleware verifies HS256 bearer tokens on every request not matched by skipper.
func JWTMiddleware(secret string, skipper middleware.Skipper) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		Skipper:       skipper,
		SigningKey:    []byte(secret),
		SigningMethod: jwt.SigningMethodHS256.Name,
		ContextKey:    contextKey,
		NewClaimsFunc: func(echo.Context) jwt.Claims {
			return new(Claims)
		},
		ErrorHandler: func(_ echo.Context, err error) error {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token").SetInternal(err)
		},
	})
}

// GenerateToken signs an access token for the user valid for expiresIn.
func GenerateToken(userID int64, role, secret string, expiresIn time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(secret) == "" {
		return "", time.Time{}, errors.New("jwt secret is empty")
	}
	if expiresIn <= 0 {
		return "", time.Time{}, errors.New("jwt expiry must be positive")
	}
	now := time.Now().UTC()
	expiresAt := now.Add(expiresIn)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role: role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ClaimsFromContext returns the claims of the verified token on c.
func ClaimsFromContext(c echo.Context) (*Claims, error) {
	token, ok := c.Get(contextKey).(*jwt.Token)
	if !ok || token == nil {
		return nil, ErrMissingToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalidClaims
	}
	return claims, nil
}

// UserIDFromContext returns the authenticated user ID.
func UserIDFromContext(c echo.Context) (int64, error) {
	claims, err := ClaimsFromContext(c)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusUnauthorized, ErrInvalidClaims.Error())
	}
	return id, nil
}
