package server

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"

	"feedbackhub-backend/internal/cache"
	"feedbackhub-backend/internal/common"
	"feedbackhub-backend/internal/config"
	"feedbackhub-backend/internal/email"
	"feedbackhub-backend/internal/feedback"
	"feedbackhub-backend/internal/handlers"
	"feedbackhub-backend/internal/models"
	"feedbackhub-backend/internal/store"

	"github.com/go-playground/validator"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	resend "github.com/resend/resend-go/v2"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// CustomValidator Source: https://echo.labstack.com/docs/request#validate-data
type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

type SentryLogger struct {
	echo.Logger
}

func (l *SentryLogger) Error(i ...interface{}) {
	if len(i) > 0 {
		if err, ok := i[0].(error); ok {
			handlers.CaptureError(err)
		} else {
			handlers.CaptureError(fmt.Errorf("%v", i...))
		}
	}
	l.Logger.Error(i...)
}

func (l *SentryLogger) Errorf(format string, args ...interface{}) {
	handlers.CaptureError(fmt.Errorf(format, args...))
	l.Logger.Errorf(format, args...)
}

type Server struct {
	common.ServerState
}

func New(cfg *config.Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}
	e.Logger = &SentryLogger{Logger: e.Logger}
	if cfg.Server.Debug {
		e.Logger.SetLevel(log.DEBUG)
	} else {
		e.Logger.SetLevel(log.INFO)
	}

	return &Server{
		common.ServerState{
			Echo:   e,
			Config: cfg,
		},
	}
}

func (s *Server) Initialize() error {
	if err := s.setupDatabase(); err != nil {
		return err
	}

	s.setupRedis()
	s.Cache = cache.New(s.Redis)

	s.JwtIssuer = handlers.NewJwtAuth(s.Config.Auth.JWTSecret, s.Config.Auth.TokenExpiresIn, s.Config.Auth.RefreshExpiresIn)

	s.setupEmailClient()

	// The gorm store backs every feedback collaborator.
	s.Store = store.NewGormStore(s.DB)
	s.Feedbacks = feedback.NewService(s.Store, s.Store, s.Store)

	s.setupRoutes()

	if err := s.runMigrations(); err != nil {
		return err
	}

	s.setupMetrics()

	// Keep last to avoid Recover middleware and panic if something goes wrong on init
	s.setupMiddleware()

	return nil
}

// OpenDatabase opens the database named by dsn. DSNs starting with "file:"
// use SQLite, anything else PostgreSQL.
func OpenDatabase(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, errors.New("DATABASE_DSN environment variable is required")
	}

	gormConfig := &gorm.Config{TranslateError: true, Logger: logger.Default.LogMode(logger.Silent)}
	if strings.HasPrefix(dsn, "file:") {
		return gorm.Open(sqlite.Open(dsn), gormConfig)
	}
	return gorm.Open(postgres.Open(dsn), gormConfig)
}

func (s *Server) setupDatabase() error {
	db, err := OpenDatabase(s.Config.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	s.DB = db
	return nil
}

func (s *Server) setupRedis() {
	url := s.Config.Database.RedisURI

	// Redis is optional: without it the dashboard is not cached and login is not rate limited.
	if url == "" {
		s.Echo.Logger.Warn("REDIS_URI not configured, Redis features will be disabled")
		s.Redis = nil
		return
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		s.Echo.Logger.Warnf("Failed to parse Redis URL: %v, Redis features will be disabled", err)
		s.Redis = nil
		return
	}

	s.Redis = redis.NewClient(opts)

	result := s.Redis.Ping(context.Background())
	if result.Err() != nil {
		s.Echo.Logger.Warnf("Redis connection failed: %v, Redis features will be disabled", result.Err())
		s.Redis = nil
		return
	}
}

func (s *Server) runMigrations() error {
	if err := models.AutoMigrate(s.DB); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (s *Server) setupMiddleware() {
	if len(s.Config.CORS.AllowOrigins) > 0 {
		s.Echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: s.Config.CORS.AllowOrigins,
		}))
	} else {
		s.Echo.Use(middleware.CORS())
	}
	s.Echo.Use(middleware.Recover())
	// Try to add prometheus middleware, but don't panic if already registered (e.g., in tests)
	defer func() {
		if r := recover(); r != nil {
			if err, ok := r.(error); ok && err.Error() == "duplicate metrics collector registration attempted" {
				s.Echo.Logger.Warn("Prometheus middleware already registered, skipping")
			} else {
				panic(r)
			}
		}
	}()
	s.Echo.Use(echoprometheus.NewMiddleware("feedbackhub"))
}

func (s *Server) setupMetrics() {
	if err := handlers.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		s.Echo.Logger.Warnf("Failed to register handler metrics: %v", err)
	}

	// Only register Redis metrics if Redis is available
	if s.Redis == nil {
		return
	}

	err := prometheus.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Subsystem: "redis",
			Name:      "connected_clients",
			Help:      "The number of clients currently connected to Redis",
		},
		func() float64 {
			ctx := context.Background()
			connectedClientsRaw := s.Redis.InfoMap(ctx).Item("Clients", "connected_clients")

			connectedClients, err := strconv.ParseFloat(connectedClientsRaw, 64)
			if err != nil {
				return math.NaN()
			}

			return connectedClients
		},
	))
	if err != nil {
		s.Echo.Logger.Warnf("Redis metrics not registered: %v", err)
	}
}

// appURL is the public base URL used in email links.
func (s *Server) appURL() string {
	if s.Config.Server.DeployDomain != "" {
		return "https://" + s.Config.Server.DeployDomain
	}
	return "http://" + s.Config.Server.Host + ":" + s.Config.Server.Port
}

func (s *Server) setupEmailClient() {
	apiKey := s.Config.Resend.APIKey
	if apiKey == "" {
		s.Echo.Logger.Warn("RESEND_API_KEY not configured, email notifications will be disabled")
		return
	}

	resendClient := resend.NewClient(apiKey)
	s.EmailClient = email.NewResendEmailClient(resendClient,
		s.Config.Resend.DefaultSender,
		s.appURL(),
		s.Echo.Logger)
}

func (s *Server) setupRoutes() {
	handlers.SetupSentry(s.Echo, s.Config)

	auth := handlers.NewAuthHandler(&s.ServerState)
	feedbacks := handlers.NewFeedbackHandler(&s.ServerState)
	users := handlers.NewUserHandler(&s.ServerState)
	teams := handlers.NewTeamHandler(&s.ServerState)
	competencies := handlers.NewCompetencyHandler(&s.ServerState)
	reports := handlers.NewReportHandler(&s.ServerState)
	audit := handlers.NewAuditHandler(&s.ServerState)

	// API routes group
	api := s.Echo.Group("/api")

	// Public API endpoints
	api.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})
	api.GET("/metrics", echoprometheus.NewHandler())

	limited := handlers.LoginRateLimit(s.Cache)
	api.POST("/auth/register", auth.Register, limited)
	api.POST("/auth/login", auth.Login, limited)
	api.POST("/auth/refresh", auth.Refresh, limited)

	// Protected API routes group
	protectedAPI := api.Group("", s.JwtIssuer.Middleware())

	protectedAPI.GET("/auth/profile", auth.Profile)
	protectedAPI.PUT("/auth/password", auth.ChangePassword)

	protectedAPI.GET("/feedbacks", feedbacks.List)
	protectedAPI.POST("/feedbacks", feedbacks.Create)
	protectedAPI.GET("/feedbacks/:id", feedbacks.Get)
	protectedAPI.PUT("/feedbacks/:id", feedbacks.Update)
	protectedAPI.DELETE("/feedbacks/:id", feedbacks.Delete)
	protectedAPI.POST("/feedbacks/:id/comments", feedbacks.AddComment)
	protectedAPI.PUT("/feedbacks/comments/:commentId", feedbacks.UpdateComment)
	protectedAPI.DELETE("/feedbacks/comments/:commentId", feedbacks.DeleteComment)

	protectedAPI.GET("/users", users.List)
	protectedAPI.POST("/users", users.Create)
	protectedAPI.GET("/users/:id", users.Get)
	protectedAPI.PUT("/users/:id", users.Update)
	protectedAPI.DELETE("/users/:id", users.Delete)

	protectedAPI.GET("/teams", teams.List)
	protectedAPI.POST("/teams", teams.Create)
	protectedAPI.GET("/teams/:id", teams.Get)
	protectedAPI.PUT("/teams/:id", teams.Update)
	protectedAPI.DELETE("/teams/:id", teams.Delete)
	protectedAPI.POST("/teams/:id/members", teams.AddMembers)
	protectedAPI.DELETE("/teams/:id/members", teams.RemoveMembers)

	protectedAPI.GET("/competencies", competencies.List)
	protectedAPI.POST("/competencies", competencies.Create)

	protectedAPI.GET("/audit-logs", audit.List)
	protectedAPI.GET("/reports/dashboard", reports.Dashboard)

	// Debug endpoints - only enabled when ENABLE_DEBUG_ENDPOINTS=true
	if s.Config.Server.Debug {
		api.GET("/jwt-debug", func(c echo.Context) error {
			user, err := models.GetUserByEmail(s.DB, c.QueryParam("email"))
			if err != nil {
				return echo.NewHTTPError(http.StatusNotFound, "User not found")
			}
			token, err := s.JwtIssuer.GenerateToken(user.ID)
			if err != nil {
				return c.String(http.StatusInternalServerError, "Failed to generate token")
			}
			return c.JSON(http.StatusOK, map[string]string{
				"email": user.Email,
				"token": token,
			})
		})
	}
}

func (s *Server) Start() error {
	serverURL := s.Config.Server.Host + ":" + s.Config.Server.Port

	if s.Config.Server.TLS.Enabled {
		if _, err := os.Stat(s.Config.Server.TLS.CertFile); os.IsNotExist(err) {
			s.Echo.Logger.Warn("TLS certificate file not found, falling back to HTTP")
			return s.Echo.Start(serverURL)
		}
		if _, err := os.Stat(s.Config.Server.TLS.KeyFile); os.IsNotExist(err) {
			s.Echo.Logger.Warn("TLS key file not found, falling back to HTTP")
			return s.Echo.Start(serverURL)
		}
		return s.Echo.StartTLS(serverURL, s.Config.Server.TLS.CertFile, s.Config.Server.TLS.KeyFile)
	}

	return s.Echo.Start(serverURL)
}

// Shutdown stops the HTTP server and releases the database and Redis connections.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.Echo.Shutdown(ctx)
	if s.Redis != nil {
		if cerr := s.Redis.Close(); cerr != nil {
			s.Echo.Logger.Warnf("Failed to close Redis: %v", cerr)
		}
	}
	if s.DB != nil {
		if sqlDB, derr := s.DB.DB(); derr == nil {
			sqlDB.Close()
		}
	}
	return err
}
