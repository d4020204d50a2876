package handlers

import (
	"net/http"

	"feedbackhub-backend/internal/common"
	"feedbackhub-backend/internal/models"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

type TeamHandler struct {
	common.ServerState
}

func NewTeamHandler(state *common.ServerState) *TeamHandler {
	return &TeamHandler{ServerState: *state}
}

type CreateTeamRequest struct {
	Name        string   `json:"name" validate:"required,min=2,max=100"`
	Description string   `json:"description" validate:"max=500"`
	Department  string   `json:"department" validate:"omitempty,oneof=TI RH FINANCEIRO MARKETING VENDAS OPERACOES DIRETORIA OUTRO"`
	ManagerID   string   `json:"manager_id"`
	MemberIDs   []string `json:"member_ids"`
}

type UpdateTeamRequest struct {
	Name        *string            `json:"name" validate:"omitempty,min=2,max=100"`
	Description *string            `json:"description" validate:"omitempty,max=500"`
	Department  *string            `json:"department" validate:"omitempty,oneof=TI RH FINANCEIRO MARKETING VENDAS OPERACOES DIRETORIA OUTRO"`
	Status      *models.TeamStatus `json:"status" validate:"omitempty,oneof=ACTIVE INACTIVE ARCHIVED"`
	ManagerID   *string            `json:"manager_id"`
	MemberIDs   []string           `json:"member_ids"`
}

type TeamMembersRequest struct {
	UserIDs []string `json:"user_ids" validate:"required,min=1"`
}

func (h *TeamHandler) getAuthenticatedUserFromJWT(c echo.Context) (*models.User, error) {
	return getAuthenticatedUserFromJWTCommon(c, h.JwtIssuer, h.DB)
}

// loadManaged loads the team and checks that user is an admin or its manager.
func (h *TeamHandler) loadManaged(c echo.Context, user *models.User) (*models.Team, error) {
	team, err := models.GetTeamByID(h.DB.WithContext(c.Request().Context()), c.Param("id"))
	if err != nil {
		return nil, httpError(c, err)
	}
	if user.Role != models.RoleAdmin && team.ManagerID != user.ID {
		return nil, forbidden("Only an administrator or the team manager can change this team")
	}
	return team, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// checkUsersExist fails with 404 if any id does not name a user.
func checkUsersExist(db *gorm.DB, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	var count int64
	if err := db.Model(&models.User{}).Where("id IN ?", ids).Count(&count).Error; err != nil {
		return err
	}
	if int(count) != len(ids) {
		return notFound("One or more users were not found")
	}
	return nil
}

// checkManager fails unless id names an active user.
func checkManager(c echo.Context, db *gorm.DB, id string) error {
	manager, err := models.GetUserByID(db, id)
	if err != nil {
		return httpError(c, err)
	}
	if !manager.IsActive() {
		return badRequest("Team manager must be an active user")
	}
	return nil
}

func (h *TeamHandler) List(c echo.Context) error {
	if _, err := h.getAuthenticatedUserFromJWT(c); err != nil {
		return err
	}

	page, limit := pageParams(c)
	teams, total, err := models.ListTeams(h.DB.WithContext(c.Request().Context()), models.TeamQuery{
		Search:     c.QueryParam("search"),
		Department: c.QueryParam("department"),
		Status:     c.QueryParam("status"),
		ManagerID:  queryParam(c, "manager_id", "managerId"),
		Page:       page,
		Limit:      limit,
	})
	if err != nil {
		return httpError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"teams":      teams,
		"pagination": newPagination(total, page, limit),
	})
}

func (h *TeamHandler) Get(c echo.Context) error {
	if _, err := h.getAuthenticatedUserFromJWT(c); err != nil {
		return err
	}

	team, err := models.GetTeamByID(h.DB.WithContext(c.Request().Context()), c.Param("id"))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, team)
}

// Create creates a team. Managers always manage the teams they create;
// administrators and HR may name another manager.
func (h *TeamHandler) Create(c echo.Context) error {
	user, err := h.getAuthenticatedUserFromJWT(c)
	if err != nil {
		return err
	}
	if err := requireRole(user, models.RoleAdmin, models.RoleHR, models.RoleManager); err != nil {
		return err
	}

	req := &CreateTeamRequest{}
	if err := c.Bind(req); err != nil {
		return badRequest(err.Error())
	}
	if err := c.Validate(req); err != nil {
		return badRequest(err.Error())
	}

	managerID := req.ManagerID
	if managerID == "" || user.Role == models.RoleManager {
		managerID = user.ID
	}

	db := h.DB.WithContext(c.Request().Context())
	if err := checkManager(c, db, managerID); err != nil {
		return err
	}
	members := uniqueIDs(req.MemberIDs)
	if err := checkUsersExist(db, members); err != nil {
		return err
	}

	team := &models.Team{
		Name:        req.Name,
		Description: req.Description,
		Department:  req.Department,
		Status:      models.TeamStatusActive,
		ManagerID:   managerID,
		CreatedByID: user.ID,
	}
	if err := models.CreateTeamWithMembers(db, team, members); err != nil {
		return httpError(c, err)
	}

	created, err := models.GetTeamByID(db, team.ID)
	if err != nil {
		return httpError(c, err)
	}

	recordAudit(c, h.DB, user.ID, models.AuditActionCreate, models.AuditResourceTeam, team.ID, team.Name)

	return c.JSON(http.StatusCreated, created)
}

func (h *TeamHandler) Update(c echo.Context) error {
	user, err := h.getAuthenticatedUserFromJWT(c)
	if err != nil {
		return err
	}
	team, err := h.loadManaged(c, user)
	if err != nil {
		return err
	}

	req := &UpdateTeamRequest{}
	if err := c.Bind(req); err != nil {
		return badRequest(err.Error())
	}
	if err := c.Validate(req); err != nil {
		return badRequest(err.Error())
	}

	db := h.DB.WithContext(c.Request().Context())
	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Department != nil {
		updates["department"] = *req.Department
	}
	if req.Status != nil {
		updates["status"] = *req.Status
	}

	managerID := team.ManagerID
	if req.ManagerID != nil && *req.ManagerID != team.ManagerID {
		if user.Role != models.RoleAdmin {
			return forbidden("Only an administrator can change the team manager")
		}
		if err := checkManager(c, db, *req.ManagerID); err != nil {
			return err
		}
		managerID = *req.ManagerID
		updates["manager_id"] = managerID
	}

	var members []string
	if req.MemberIDs != nil {
		members = uniqueIDs(req.MemberIDs)
		if err := checkUsersExist(db, members); err != nil {
			return err
		}
	} else if managerID != team.ManagerID {
		members = team.MemberIDs()
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if len(updates) > 0 {
			if err := tx.Model(&models.Team{}).Where("id = ?", team.ID).Updates(updates).Error; err != nil {
				return err
			}
		}
		if members != nil {
			return models.ReplaceTeamMembers(tx, team.ID, managerID, members)
		}
		return nil
	})
	if err != nil {
		return httpError(c, err)
	}

	updated, err := models.GetTeamByID(db, team.ID)
	if err != nil {
		return httpError(c, err)
	}

	recordAudit(c, h.DB, user.ID, models.AuditActionUpdate, models.AuditResourceTeam, team.ID, "")

	return c.JSON(http.StatusOK, updated)
}

func (h *TeamHandler) Delete(c echo.Context) error {
	user, err := h.getAuthenticatedUserFromJWT(c)
	if err != nil {
		return err
	}
	team, err := h.loadManaged(c, user)
	if err != nil {
		return err
	}

	if err := models.DeleteTeam(h.DB.WithContext(c.Request().Context()), team.ID); err != nil {
		return httpError(c, err)
	}

	recordAudit(c, h.DB, user.ID, models.AuditActionDelete, models.AuditResourceTeam, team.ID, team.Name)

	return c.NoContent(http.StatusNoContent)
}

func (h *TeamHandler) AddMembers(c echo.Context) error {
	user, err := h.getAuthenticatedUserFromJWT(c)
	if err != nil {
		return err
	}
	team, err := h.loadManaged(c, user)
	if err != nil {
		return err
	}

	req := &TeamMembersRequest{}
	if err := c.Bind(req); err != nil {
		return badRequest(err.Error())
	}
	if err := c.Validate(req); err != nil {
		return badRequest(err.Error())
	}

	db := h.DB.WithContext(c.Request().Context())
	ids := uniqueIDs(req.UserIDs)
	if err := checkUsersExist(db, ids); err != nil {
		return err
	}

	added, err := models.AddTeamMembers(db, team, ids)
	if err != nil {
		return httpError(c, err)
	}

	updated, err := models.GetTeamByID(db, team.ID)
	if err != nil {
		return httpError(c, err)
	}

	if added > 0 {
		recordAudit(c, h.DB, user.ID, models.AuditActionUpdate, models.AuditResourceTeam, team.ID, "members added")
	}

	return c.JSON(http.StatusOK, updated)
}

// RemoveMembers removes members from a team. The manager stays a member for
// as long as they manage the team.
func (h *TeamHandler) RemoveMembers(c echo.Context) error {
	user, err := h.getAuthenticatedUserFromJWT(c)
	if err != nil {
		return err
	}
	team, err := h.loadManaged(c, user)
	if err != nil {
		return err
	}

	req := &TeamMembersRequest{}
	if err := c.Bind(req); err != nil {
		return badRequest(err.Error())
	}
	if err := c.Validate(req); err != nil {
		return badRequest(err.Error())
	}

	ids := uniqueIDs(req.UserIDs)
	for _, id := range ids {
		if id == team.ManagerID {
			return badRequest("The team manager cannot be removed from the team")
		}
	}

	db := h.DB.WithContext(c.Request().Context())
	if err := models.RemoveTeamMembers(db, team.ID, ids); err != nil {
		return httpError(c, err)
	}

	updated, err := models.GetTeamByID(db, team.ID)
	if err != nil {
		return httpError(c, err)
	}

	recordAudit(c, h.DB, user.ID, models.AuditActionUpdate, models.AuditResourceTeam, team.ID, "members removed")

	return c.JSON(http.StatusOK, updated)
}
