package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"feedbackhub-backend/internal/common"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
)

// JwtAuth issues and verifies HS256 access and refresh tokens.
type JwtAuth struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

var _ common.JWTIssuer = (*JwtAuth)(nil)

func NewJwtAuth(secret string, accessTTL, refreshTTL time.Duration) *JwtAuth {
	return &JwtAuth{
		Secret:     secret,
		AccessTTL:  accessTTL,
		RefreshTTL: refreshTTL,
	}
}

func (j *JwtAuth) sign(userID, purpose string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &common.JwtCustomClaims{
		UserID:  userID,
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(j.Secret))
}

func (j *JwtAuth) GenerateToken(userID string) (string, error) {
	return j.sign(userID, common.TokenPurposeAccess, j.AccessTTL)
}

func (j *JwtAuth) GenerateRefreshToken(userID string) (string, error) {
	return j.sign(userID, common.TokenPurposeRefresh, j.RefreshTTL)
}

func (j *JwtAuth) keyFunc(t *jwt.Token) (interface{}, error) {
	return []byte(j.Secret), nil
}

func (j *JwtAuth) ParseRefreshToken(raw string) (string, error) {
	claims := &common.JwtCustomClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, j.keyFunc, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("invalid refresh token: %w", err)
	}
	if claims.Purpose != common.TokenPurposeRefresh || claims.UserID == "" {
		return "", errors.New("invalid refresh token: wrong purpose")
	}
	return claims.UserID, nil
}

func (j *JwtAuth) Middleware() echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		SigningKey: []byte(j.Secret),
		NewClaimsFunc: func(c echo.Context) jwt.Claims {
			return new(common.JwtCustomClaims)
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return echo.NewHTTPError(http.StatusUnauthorized, errorBody{
				Message: "Missing or invalid token",
				Kind:    "NOT_AUTHENTICATED",
			})
		},
	})
}

// GetUserID returns the user id of a validated access token. Refresh tokens
// are rejected.
func (j *JwtAuth) GetUserID(c echo.Context) (string, error) {
	token, ok := c.Get("user").(*jwt.Token)
	if !ok {
		return "", errors.New("no token in context")
	}
	claims, ok := token.Claims.(*common.JwtCustomClaims)
	if !ok {
		return "", errors.New("unexpected claims type")
	}
	if claims.Purpose != common.TokenPurposeAccess {
		return "", errors.New("token is not an access token")
	}
	return claims.UserID, nil
}
