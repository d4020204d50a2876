package handlers

import (
	"errors"
	"net/http"

	"feedbackhub-backend/internal/common"
	"feedbackhub-backend/internal/models"
	"feedbackhub-backend/internal/utils"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

type AuthHandler struct {
	common.ServerState
}

type SignInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=6"`
}

type tokenResponse struct {
	Token        string       `json:"token"`
	RefreshToken string       `json:"refresh_token"`
	User         *models.User `json:"user"`
}

func NewAuthHandler(state *common.ServerState) *AuthHandler {
	return &AuthHandler{ServerState: *state}
}

func (h *AuthHandler) getAuthenticatedUserFromJWT(c echo.Context) (*models.User, error) {
	return getAuthenticatedUserFromJWTCommon(c, h.JwtIssuer, h.DB)
}

func (h *AuthHandler) issueTokens(c echo.Context, status int, u *models.User) error {
	token, err := h.JwtIssuer.GenerateToken(u.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to generate token")
	}
	refresh, err := h.JwtIssuer.GenerateRefreshToken(u.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to generate token")
	}
	return c.JSON(status, tokenResponse{Token: token, RefreshToken: refresh, User: u})
}

// Register creates a self-service account. It stays PENDING_ACTIVATION
// until an administrator activates it, so no token is returned.
func (h *AuthHandler) Register(c echo.Context) error {
	c.Logger().Info("Received registration request")

	type RegisterRequest struct {
		models.User
	}

	req := new(RegisterRequest)
	if err := c.Bind(req); err != nil {
		return badRequest(err.Error())
	}

	u := &req.User
	u.ID = ""
	u.Role = models.RoleUser
	u.Status = models.UserStatusPendingActivation
	u.Memberships = nil

	if err := c.Validate(u); err != nil {
		return badRequest(err.Error())
	}

	if err := utils.ValidateEmailAddress(u.Email); err != nil {
		return badRequest(err.Error())
	}

	result := h.DB.Create(u)
	if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
		return conflict("user with this email already exists")
	}
	if result.Error != nil {
		c.Logger().Errorf("Failed to create user: %v", result.Error)
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to create user")
	}

	if h.EmailClient != nil {
		h.EmailClient.SendWelcomeEmail(u)
	}

	recordAudit(c, h.DB, u.ID, models.AuditActionRegister, models.AuditResourceAuth, u.ID, u.Email)

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"user":    u,
		"message": "Account created, waiting for activation",
	})
}

func (h *AuthHandler) Login(c echo.Context) error {
	req := &SignInRequest{}

	if err := c.Bind(req); err != nil {
		return badRequest(err.Error())
	}

	if err := c.Validate(req); err != nil {
		return badRequest(err.Error())
	}

	u, err := models.GetUserByEmail(h.DB, req.Email)
	if errors.Is(err, models.ErrNotFound) {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid email or password")
	}
	if err != nil {
		return httpError(c, err)
	}

	if !u.CheckPassword(req.Password) {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid email or password")
	}

	if !u.IsActive() {
		return forbidden("Account is not active")
	}

	if err := u.TouchLastLogin(h.DB); err != nil {
		c.Logger().Warnf("Failed to update last login for %s: %v", u.ID, err)
	}

	recordAudit(c, h.DB, u.ID, models.AuditActionLogin, models.AuditResourceAuth, u.ID, "")

	return h.issueTokens(c, http.StatusOK, u)
}

// Refresh exchanges a refresh token for a new token pair.
func (h *AuthHandler) Refresh(c echo.Context) error {
	req := &RefreshRequest{}
	if err := c.Bind(req); err != nil {
		return badRequest(err.Error())
	}
	if err := c.Validate(req); err != nil {
		return badRequest(err.Error())
	}

	userID, err := h.JwtIssuer.ParseRefreshToken(req.RefreshToken)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid refresh token")
	}

	u, err := models.GetUserByID(h.DB, userID)
	if errors.Is(err, models.ErrNotFound) {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid refresh token")
	}
	if err != nil {
		return httpError(c, err)
	}
	if !u.IsActive() {
		return forbidden("Account is not active")
	}

	return h.issueTokens(c, http.StatusOK, u)
}

func (h *AuthHandler) Profile(c echo.Context) error {
	user, err := h.getAuthenticatedUserFromJWT(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, user)
}

func (h *AuthHandler) ChangePassword(c echo.Context) error {
	user, err := h.getAuthenticatedUserFromJWT(c)
	if err != nil {
		return err
	}

	req := &ChangePasswordRequest{}
	if err := c.Bind(req); err != nil {
		return badRequest(err.Error())
	}
	if err := c.Validate(req); err != nil {
		return badRequest(err.Error())
	}

	if !user.CheckPassword(req.CurrentPassword) {
		return badRequest("Current password is incorrect")
	}

	if err := user.SetPassword(req.NewPassword); err != nil {
		return httpError(c, err)
	}
	if err := h.DB.Model(user).Update("hashed_password", user.HashedPassword).Error; err != nil {
		c.Logger().Error("Failed to save to db:", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to update password")
	}

	recordAudit(c, h.DB, user.ID, models.AuditActionUpdate, models.AuditResourceAuth, user.ID, "password changed")

	return c.JSON(http.StatusOK, map[string]string{"message": "Password updated"})
}
