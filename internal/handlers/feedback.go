package handlers

import (
	"io"
	"net/http"
	"strconv"

	"feedbackhub-backend/internal/common"
	"feedbackhub-backend/internal/feedback"
	"feedbackhub-backend/internal/models"
	"feedbackhub-backend/internal/policy"
	"feedbackhub-backend/internal/reports"

	"github.com/labstack/echo/v4"
)

// FeedbackHandler exposes the feedback service over HTTP. Every decision is
// taken by the service; the handler only translates requests and errors.
type FeedbackHandler struct {
	common.ServerState
}

func NewFeedbackHandler(state *common.ServerState) *FeedbackHandler {
	return &FeedbackHandler{ServerState: *state}
}

func (h *FeedbackHandler) actor(c echo.Context) (*models.User, policy.Actor, error) {
	user, err := getAuthenticatedUserFromJWTCommon(c, h.JwtIssuer, h.DB)
	if err != nil {
		return nil, policy.Actor{}, err
	}
	return user, policy.ActorFor(user), nil
}

// queryParam returns the first non-empty value among names, so both
// snake_case and camelCase spellings are accepted.
func queryParam(c echo.Context, names ...string) string {
	for _, n := range names {
		if v := c.QueryParam(n); v != "" {
			return v
		}
	}
	return ""
}

func (h *FeedbackHandler) invalidateReports(c echo.Context) {
	if err := h.Cache.Delete(c.Request().Context(), reports.DashboardCacheKey); err != nil {
		c.Logger().Warnf("Failed to invalidate dashboard cache: %v", err)
	}
}

// hideAnonymousGiver marks the giver's audit rows about an anonymous
// feedback, and about the extra resources, so audit readers cannot tell who
// gave it. It runs after every write because a feedback can turn anonymous on
// update.
func (h *FeedbackHandler) hideAnonymousGiver(c echo.Context, feedbackID string, extra ...string) {
	db := h.DB.WithContext(c.Request().Context())
	giverID, ids, err := models.AnonymousGiverResources(db, feedbackID)
	if err == nil {
		err = models.HideAuditActor(db, giverID, append(ids, extra...)...)
	}
	if err != nil {
		c.Logger().Warnf("Failed to hide anonymous giver in audit log (%s): %v", feedbackID, err)
	}
}

// commentFeedbackID returns the feedback a comment belongs to, or "" when the
// comment does not exist.
func (h *FeedbackHandler) commentFeedbackID(c echo.Context, commentID string) string {
	var ids []string
	h.DB.WithContext(c.Request().Context()).Model(&models.Comment{}).
		Where("id = ?", commentID).Limit(1).Pluck("feedback_id", &ids)
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

func (h *FeedbackHandler) List(c echo.Context) error {
	_, actor, err := h.actor(c)
	if err != nil {
		return err
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	q := feedback.Query{
		Type:       c.QueryParam("type"),
		Status:     c.QueryParam("status"),
		Priority:   c.QueryParam("priority"),
		GiverID:    queryParam(c, "giver_id", "giverId"),
		ReceiverID: queryParam(c, "receiver_id", "receiverId"),
		TeamID:     queryParam(c, "team_id", "teamId"),
		Search:     c.QueryParam("search"),
		SortBy:     queryParam(c, "sort_by", "sortBy"),
		SortOrder:  queryParam(c, "sort_order", "sortOrder"),
		Page:       page,
		Limit:      limit,
	}

	result, err := h.Feedbacks.List(c.Request().Context(), actor, q)
	observeDecision("list", err)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *FeedbackHandler) Get(c echo.Context) error {
	_, actor, err := h.actor(c)
	if err != nil {
		return err
	}

	view, err := h.Feedbacks.Get(c.Request().Context(), actor, c.Param("id"))
	observeDecision("view", err)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *FeedbackHandler) Create(c echo.Context) error {
	user, actor, err := h.actor(c)
	if err != nil {
		return err
	}

	var draft feedback.Draft
	if err := c.Bind(&draft); err != nil {
		return badRequest(err.Error())
	}

	view, err := h.Feedbacks.Create(c.Request().Context(), actor, draft)
	observeDecision("create", err)
	if err != nil {
		return httpError(c, err)
	}

	recordAudit(c, h.DB, user.ID, models.AuditActionCreate, models.AuditResourceFeedback, view.ID, view.Title)
	h.hideAnonymousGiver(c, view.ID)
	h.invalidateReports(c)
	h.notifyReceiver(view, user)

	return c.JSON(http.StatusCreated, view)
}

// notifyReceiver emails the receiver of a new feedback. The giver is named
// only when the feedback is not anonymous.
func (h *FeedbackHandler) notifyReceiver(view feedback.View, giver *models.User) {
	if h.EmailClient == nil || view.Receiver.Email == nil {
		return
	}
	giverName := giver.Name
	if view.IsAnonymous {
		giverName = feedback.AnonymousGiver.Name
	}
	receiver := &models.User{
		ID:    view.Receiver.ID,
		Name:  view.Receiver.Name,
		Email: *view.Receiver.Email,
	}
	h.EmailClient.SendFeedbackReceivedEmail(receiver, giverName, view.Title, view.ID)
}

// Update applies a partial update. The raw body is decoded by
// feedback.ParsePatch so an explicit null due date can be told apart from an
// absent one.
func (h *FeedbackHandler) Update(c echo.Context) error {
	user, actor, err := h.actor(c)
	if err != nil {
		return err
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return badRequest("Failed to read request body")
	}
	patch, err := feedback.ParsePatch(body)
	if err != nil {
		return httpError(c, err)
	}

	id := c.Param("id")
	view, err := h.Feedbacks.Update(c.Request().Context(), actor, id, patch)
	observeDecision("edit", err)
	if err != nil {
		return httpError(c, err)
	}

	recordAudit(c, h.DB, user.ID, models.AuditActionUpdate, models.AuditResourceFeedback, id, "")
	h.hideAnonymousGiver(c, id)
	h.invalidateReports(c)

	return c.JSON(http.StatusOK, view)
}

func (h *FeedbackHandler) Delete(c echo.Context) error {
	user, actor, err := h.actor(c)
	if err != nil {
		return err
	}

	id := c.Param("id")
	// Read before the feedback and its comments are gone.
	giverID, hidden, _ := models.AnonymousGiverResources(h.DB.WithContext(c.Request().Context()), id)

	err = h.Feedbacks.Delete(c.Request().Context(), actor, id)
	observeDecision("delete", err)
	if err != nil {
		return httpError(c, err)
	}

	recordAudit(c, h.DB, user.ID, models.AuditActionDelete, models.AuditResourceFeedback, id, "")
	if err := models.HideAuditActor(h.DB.WithContext(c.Request().Context()), giverID, hidden...); err != nil {
		c.Logger().Warnf("Failed to hide anonymous giver in audit log (%s): %v", id, err)
	}
	h.invalidateReports(c)

	return c.NoContent(http.StatusNoContent)
}

func (h *FeedbackHandler) AddComment(c echo.Context) error {
	user, actor, err := h.actor(c)
	if err != nil {
		return err
	}

	var draft feedback.CommentDraft
	if err := c.Bind(&draft); err != nil {
		return badRequest(err.Error())
	}

	feedbackID := c.Param("id")
	comment, err := h.Feedbacks.AddComment(c.Request().Context(), actor, feedbackID, draft)
	observeDecision("comment", err)
	if err != nil {
		return httpError(c, err)
	}

	recordAudit(c, h.DB, user.ID, models.AuditActionCreate, models.AuditResourceComment, comment.ID, feedbackID)
	h.hideAnonymousGiver(c, feedbackID)

	return c.JSON(http.StatusCreated, comment)
}

func (h *FeedbackHandler) UpdateComment(c echo.Context) error {
	user, actor, err := h.actor(c)
	if err != nil {
		return err
	}

	var draft feedback.CommentDraft
	if err := c.Bind(&draft); err != nil {
		return badRequest(err.Error())
	}

	commentID := c.Param("commentId")
	comment, err := h.Feedbacks.UpdateComment(c.Request().Context(), actor, commentID, draft)
	observeDecision("modify_comment", err)
	if err != nil {
		return httpError(c, err)
	}

	recordAudit(c, h.DB, user.ID, models.AuditActionUpdate, models.AuditResourceComment, commentID, "")
	h.hideAnonymousGiver(c, h.commentFeedbackID(c, commentID))

	return c.JSON(http.StatusOK, comment)
}

func (h *FeedbackHandler) DeleteComment(c echo.Context) error {
	user, actor, err := h.actor(c)
	if err != nil {
		return err
	}

	commentID := c.Param("commentId")
	feedbackID := h.commentFeedbackID(c, commentID)

	err = h.Feedbacks.DeleteComment(c.Request().Context(), actor, commentID)
	observeDecision("modify_comment", err)
	if err != nil {
		return httpError(c, err)
	}

	recordAudit(c, h.DB, user.ID, models.AuditActionDelete, models.AuditResourceComment, commentID, "")
	h.hideAnonymousGiver(c, feedbackID, commentID)

	return c.NoContent(http.StatusNoContent)
}
