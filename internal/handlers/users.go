package handlers

import (
	"errors"
	"net/http"

	"feedbackhub-backend/internal/common"
	"feedbackhub-backend/internal/models"
	"feedbackhub-backend/internal/reports"
	"feedbackhub-backend/internal/utils"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

type UserHandler struct {
	common.ServerState
}

func NewUserHandler(state *common.ServerState) *UserHandler {
	return &UserHandler{ServerState: *state}
}

type UpdateUserRequest struct {
	Name       *string            `json:"name" validate:"omitempty,min=3"`
	Role       *models.Role       `json:"role" validate:"omitempty,oneof=ADMIN MANAGER USER HR TEAM_LEAD"`
	Status     *models.UserStatus `json:"status" validate:"omitempty,oneof=ACTIVE INACTIVE SUSPENDED PENDING_ACTIVATION"`
	Department *string            `json:"department" validate:"omitempty,oneof=TI RH FINANCEIRO MARKETING VENDAS OPERACOES DIRETORIA OUTRO"`
	Position   *string            `json:"position"`
	Phone      *string            `json:"phone"`
	AvatarURL  *string            `json:"avatar"`
}

func (h *UserHandler) getAuthenticatedUserFromJWT(c echo.Context) (*models.User, error) {
	return getAuthenticatedUserFromJWTCommon(c, h.JwtIssuer, h.DB)
}

func (h *UserHandler) invalidateReports(c echo.Context) {
	if err := h.Cache.Delete(c.Request().Context(), reports.DashboardCacheKey); err != nil {
		c.Logger().Warnf("Failed to invalidate dashboard cache: %v", err)
	}
}

func (h *UserHandler) List(c echo.Context) error {
	user, err := h.getAuthenticatedUserFromJWT(c)
	if err != nil {
		return err
	}
	if err := requireRole(user, models.RoleAdmin, models.RoleHR); err != nil {
		return err
	}

	page, limit := pageParams(c)
	users, total, err := models.ListUsers(h.DB.WithContext(c.Request().Context()), models.UserQuery{
		Search:     c.QueryParam("search"),
		Role:       c.QueryParam("role"),
		Department: c.QueryParam("department"),
		Status:     c.QueryParam("status"),
		Page:       page,
		Limit:      limit,
	})
	if err != nil {
		return httpError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"users":      users,
		"pagination": newPagination(total, page, limit),
	})
}

// Get returns a user. Anyone may read their own profile, otherwise ADMIN or HR is required.
func (h *UserHandler) Get(c echo.Context) error {
	user, err := h.getAuthenticatedUserFromJWT(c)
	if err != nil {
		return err
	}

	id := c.Param("id")
	if id != user.ID {
		if err := requireRole(user, models.RoleAdmin, models.RoleHR); err != nil {
			return err
		}
	}

	target, err := models.GetUserByID(h.DB.WithContext(c.Request().Context()), id)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, target)
}

func (h *UserHandler) Create(c echo.Context) error {
	user, err := h.getAuthenticatedUserFromJWT(c)
	if err != nil {
		return err
	}
	if err := requireRole(user, models.RoleAdmin); err != nil {
		return err
	}

	type CreateUserRequest struct {
		models.User
	}

	req := new(CreateUserRequest)
	if err := c.Bind(req); err != nil {
		return badRequest(err.Error())
	}

	u := &req.User
	u.ID = ""
	u.Memberships = nil
	if u.Status == "" {
		u.Status = models.UserStatusActive
	}

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
		return httpError(c, result.Error)
	}

	recordAudit(c, h.DB, user.ID, models.AuditActionCreate, models.AuditResourceUser, u.ID, u.Email)
	h.invalidateReports(c)

	return c.JSON(http.StatusCreated, u)
}

func (h *UserHandler) Update(c echo.Context) error {
	user, err := h.getAuthenticatedUserFromJWT(c)
	if err != nil {
		return err
	}
	if err := requireRole(user, models.RoleAdmin); err != nil {
		return err
	}

	req := &UpdateUserRequest{}
	if err := c.Bind(req); err != nil {
		return badRequest(err.Error())
	}
	if err := c.Validate(req); err != nil {
		return badRequest(err.Error())
	}

	id := c.Param("id")
	target, err := models.GetUserByID(h.DB.WithContext(c.Request().Context()), id)
	if err != nil {
		return httpError(c, err)
	}

	// Administrators cannot lock themselves out.
	if target.ID == user.ID && ((req.Role != nil && *req.Role != user.Role) || (req.Status != nil && *req.Status != user.Status)) {
		return badRequest("You cannot change your own role or status")
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Role != nil {
		updates["role"] = *req.Role
	}
	if req.Status != nil {
		updates["status"] = *req.Status
	}
	if req.Department != nil {
		updates["department"] = *req.Department
	}
	if req.Position != nil {
		updates["position"] = *req.Position
	}
	if req.Phone != nil {
		updates["phone"] = *req.Phone
	}
	if req.AvatarURL != nil {
		updates["avatar_url"] = *req.AvatarURL
	}

	if len(updates) > 0 {
		if err := h.DB.Model(target).Updates(updates).Error; err != nil {
			return httpError(c, err)
		}
	}

	updated, err := models.GetUserByID(h.DB.WithContext(c.Request().Context()), id)
	if err != nil {
		return httpError(c, err)
	}

	recordAudit(c, h.DB, user.ID, models.AuditActionUpdate, models.AuditResourceUser, id, "")
	h.invalidateReports(c)

	return c.JSON(http.StatusOK, updated)
}

// Delete removes a user. Users that still give, receive or manage anything
// are kept, since deleting them would orphan feedback history.
func (h *UserHandler) Delete(c echo.Context) error {
	user, err := h.getAuthenticatedUserFromJWT(c)
	if err != nil {
		return err
	}
	if err := requireRole(user, models.RoleAdmin); err != nil {
		return err
	}

	id := c.Param("id")
	if id == user.ID {
		return badRequest("You cannot delete your own account")
	}

	db := h.DB.WithContext(c.Request().Context())
	if _, err := models.GetUserByID(db, id); err != nil {
		return httpError(c, err)
	}

	var feedbacks int64
	if err := db.Model(&models.Feedback{}).Where("giver_id = ? OR receiver_id = ?", id, id).Count(&feedbacks).Error; err != nil {
		return httpError(c, err)
	}
	var comments int64
	if err := db.Model(&models.Comment{}).Where("user_id = ?", id).Count(&comments).Error; err != nil {
		return httpError(c, err)
	}
	if feedbacks > 0 || comments > 0 {
		return conflict("User has feedback activity and cannot be deleted, deactivate it instead")
	}

	var managed int64
	if err := db.Model(&models.Team{}).Where("manager_id = ?", id).Count(&managed).Error; err != nil {
		return httpError(c, err)
	}
	if managed > 0 {
		return conflict("User manages a team and cannot be deleted")
	}

	if err := models.DeleteUser(db, id); err != nil {
		return httpError(c, err)
	}

	recordAudit(c, h.DB, user.ID, models.AuditActionDelete, models.AuditResourceUser, id, "")
	h.invalidateReports(c)

	return c.NoContent(http.StatusNoContent)
}
