package handlers

import (
	"net/http"

	"feedbackhub-backend/internal/common"
	"feedbackhub-backend/internal/models"

	"github.com/labstack/echo/v4"
)

type AuditHandler struct {
	common.ServerState
}

func NewAuditHandler(state *common.ServerState) *AuditHandler {
	return &AuditHandler{ServerState: *state}
}

// List returns audit entries, newest first. Restricted to ADMIN and HR.
func (h *AuditHandler) List(c echo.Context) error {
	user, err := getAuthenticatedUserFromJWTCommon(c, h.JwtIssuer, h.DB)
	if err != nil {
		return err
	}
	if err := requireRole(user, models.RoleAdmin, models.RoleHR); err != nil {
		return err
	}

	page, limit := pageParams(c)
	logs, total, err := models.ListAuditLogs(h.DB.WithContext(c.Request().Context()), models.AuditQuery{
		Action:   c.QueryParam("action"),
		Resource: c.QueryParam("resource"),
		UserID:   queryParam(c, "user_id", "userId"),
		ViewerID: user.ID,
		Page:     page,
		Limit:    limit,
	})
	if err != nil {
		return httpError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"logs":       logs,
		"pagination": newPagination(total, page, limit),
	})
}
