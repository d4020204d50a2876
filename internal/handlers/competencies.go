package handlers

import (
	"errors"
	"net/http"

	"feedbackhub-backend/internal/common"
	"feedbackhub-backend/internal/models"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

type CompetencyHandler struct {
	common.ServerState
}

func NewCompetencyHandler(state *common.ServerState) *CompetencyHandler {
	return &CompetencyHandler{ServerState: *state}
}

func (h *CompetencyHandler) List(c echo.Context) error {
	if _, err := getAuthenticatedUserFromJWTCommon(c, h.JwtIssuer, h.DB); err != nil {
		return err
	}

	competencies, err := models.ListCompetencies(h.DB.WithContext(c.Request().Context()))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, competencies)
}

func (h *CompetencyHandler) Create(c echo.Context) error {
	user, err := getAuthenticatedUserFromJWTCommon(c, h.JwtIssuer, h.DB)
	if err != nil {
		return err
	}
	if err := requireRole(user, models.RoleAdmin, models.RoleHR); err != nil {
		return err
	}

	competency := &models.Competency{}
	if err := c.Bind(competency); err != nil {
		return badRequest(err.Error())
	}
	competency.ID = ""
	if err := c.Validate(competency); err != nil {
		return badRequest(err.Error())
	}

	result := h.DB.WithContext(c.Request().Context()).Create(competency)
	if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
		return conflict("competency with this name already exists")
	}
	if result.Error != nil {
		return httpError(c, result.Error)
	}

	recordAudit(c, h.DB, user.ID, models.AuditActionCreate, models.AuditResourceCompetency, competency.ID, competency.Name)

	return c.JSON(http.StatusCreated, competency)
}
