package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"feedbackhub-backend/internal/common"
	"feedbackhub-backend/internal/models"
	"feedbackhub-backend/internal/policy"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
}

func statusForKind(kind policy.Kind) int {
	switch kind {
	case policy.KindNotAuthenticated:
		return http.StatusUnauthorized
	case policy.KindNotFound:
		return http.StatusNotFound
	case policy.KindPermissionDenied:
		return http.StatusForbidden
	case policy.KindInvalidState:
		return http.StatusConflict
	case policy.KindValidationFailed:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// httpError translates service errors into HTTP errors. Unknown errors are
// logged, which also reports them to Sentry, and hidden from the client.
func httpError(c echo.Context, err error) error {
	var pe *policy.Error
	if errors.As(err, &pe) {
		return echo.NewHTTPError(statusForKind(pe.Kind), errorBody{Message: pe.Message, Kind: string(pe.Kind)})
	}
	if errors.Is(err, models.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, errorBody{Message: err.Error(), Kind: string(policy.KindNotFound)})
	}
	c.Logger().Error(err)
	return echo.NewHTTPError(http.StatusInternalServerError, errorBody{Message: "Internal server error", Kind: "INTERNAL"})
}

func badRequest(msg string) error {
	return echo.NewHTTPError(http.StatusBadRequest, errorBody{Message: msg, Kind: string(policy.KindValidationFailed)})
}

func forbidden(msg string) error {
	return echo.NewHTTPError(http.StatusForbidden, errorBody{Message: msg, Kind: string(policy.KindPermissionDenied)})
}

func notFound(msg string) error {
	return echo.NewHTTPError(http.StatusNotFound, errorBody{Message: msg, Kind: string(policy.KindNotFound)})
}

func conflict(msg string) error {
	return echo.NewHTTPError(http.StatusConflict, errorBody{Message: msg, Kind: "CONFLICT"})
}

// getAuthenticatedUserFromJWTCommon resolves the bearer token to a user.
// Unknown users are unauthenticated; users that are not ACTIVE are forbidden.
func getAuthenticatedUserFromJWTCommon(c echo.Context, jwtIssuer common.JWTIssuer, db *gorm.DB) (*models.User, error) {
	userID, err := jwtIssuer.GetUserID(c)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, errorBody{Message: "Unauthorized", Kind: string(policy.KindNotAuthenticated)})
	}

	user, err := models.GetUserByID(db.WithContext(c.Request().Context()), userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, echo.NewHTTPError(http.StatusUnauthorized, errorBody{Message: "Unauthorized", Kind: string(policy.KindNotAuthenticated)})
		}
		return nil, httpError(c, err)
	}

	if !user.IsActive() {
		return nil, forbidden("Account is not active")
	}

	return user, nil
}

func requireRole(user *models.User, roles ...models.Role) error {
	if !user.HasRole(roles...) {
		return forbidden("Insufficient permissions")
	}
	return nil
}

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

// pageParams reads page and limit from the query string, applying defaults and the upper bound.
func pageParams(c echo.Context) (int, int) {
	page, err := strconv.Atoi(c.QueryParam("page"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return page, limit
}

type pagination struct {
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Pages int   `json:"pages"`
	Limit int   `json:"limit"`
}

func newPagination(total int64, page, limit int) pagination {
	return pagination{
		Total: total,
		Page:  page,
		Pages: int(math.Ceil(float64(total) / float64(limit))),
		Limit: limit,
	}
}

// recordAudit appends an audit row. Failures are logged and never reach the client.
func recordAudit(c echo.Context, db *gorm.DB, userID, action, resource, resourceID, details string) {
	err := models.RecordAudit(db.WithContext(c.Request().Context()), userID, action, resource, resourceID, details)
	if err != nil {
		c.Logger().Warnf("Failed to record audit log (%s %s %s): %v", action, resource, resourceID, err)
	}
}
