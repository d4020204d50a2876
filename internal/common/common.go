package common

import (
	"feedbackhub-backend/internal/cache"
	"feedbackhub-backend/internal/config"
	"feedbackhub-backend/internal/email"
	"feedbackhub-backend/internal/feedback"
	"feedbackhub-backend/internal/store"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Token purposes carried in the "purpose" claim.
const (
	TokenPurposeAccess  = "access"
	TokenPurposeRefresh = "refresh"
)

type JwtCustomClaims struct {
	UserID  string `json:"userId"`
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

type JWTIssuer interface {
	GenerateToken(userID string) (string, error)
	GenerateRefreshToken(userID string) (string, error)
	// ParseRefreshToken validates a refresh token and returns its user id.
	ParseRefreshToken(token string) (string, error)
	Middleware() echo.MiddlewareFunc
	GetUserID(c echo.Context) (string, error)
}

type ServerState struct {
	Echo        *echo.Echo
	Config      *config.Config
	DB          *gorm.DB
	Store       *store.GormStore
	Feedbacks   *feedback.Service
	JwtIssuer   JWTIssuer
	Redis       *redis.Client
	Cache       *cache.Cache
	EmailClient email.EmailClient
}
