package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"feedbackhub-backend/internal/models"
	"feedbackhub-backend/internal/policy"

	"github.com/tidwall/gjson"
)

// UserDirectory resolves user ids. Missing users are reported with an error
// wrapping models.ErrNotFound.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// TeamDirectory resolves teams with their manager and members loaded.
type TeamDirectory interface {
	GetTeam(ctx context.Context, id string) (*models.Team, error)
	TeamsOf(ctx context.Context, userID string) (memberOf []string, manages []string, err error)
}

// Store persists feedbacks and their owned records. Every mutation that
// touches more than one row must be atomic.
type Store interface {
	FindFeedback(ctx context.Context, id string) (*models.Feedback, error)
	ListFeedbacks(ctx context.Context, filter ListFilter) ([]models.Feedback, int64, error)
	CreateFeedback(ctx context.Context, f *models.Feedback, entry *models.FeedbackHistory) error
	UpdateFeedback(ctx context.Context, id string, changes map[string]any, entries []models.FeedbackHistory, at time.Time) error
	DeleteFeedback(ctx context.Context, id string) error
	MissingCompetencies(ctx context.Context, ids []string) ([]string, error)

	FindComment(ctx context.Context, id string) (*models.Comment, error)
	CreateComment(ctx context.Context, c *models.Comment, at time.Time) error
	UpdateComment(ctx context.Context, c *models.Comment, content string, at time.Time) error
	DeleteComment(ctx context.Context, c *models.Comment, at time.Time) error
}

// Draft is the input of a feedback creation. Any status sent by the client
// is ignored.
type Draft struct {
	Type           models.FeedbackType `json:"type" validate:"required,oneof=PERFORMANCE BEHAVIOR PROJECT FEEDBACK_360"`
	ReceiverID     string              `json:"receiver_id" validate:"required"`
	TeamID         *string             `json:"team_id" validate:"omitempty,min=1"`
	Title          string              `json:"title" validate:"required,max=200"`
	Description    string              `json:"description" validate:"required,min=10,max=5000"`
	Rating         int                 `json:"rating" validate:"required,min=1,max=5"`
	Priority       models.Priority     `json:"priority" validate:"omitempty,oneof=LOW MEDIUM HIGH CRITICAL"`
	IsAnonymous    bool                `json:"is_anonymous"`
	IsConfidential bool                `json:"is_confidential"`
	DueDate        *time.Time          `json:"due_date"`
	Competencies   []CompetencyRating  `json:"competencies" validate:"omitempty,dive"`
}

type CompetencyRating struct {
	CompetencyID string `json:"competency_id" validate:"required"`
	Rating       int    `json:"rating" validate:"required,min=1,max=5"`
	Comments     string `json:"comments" validate:"max=1000"`
}

// Patch carries the fields of a partial update. A nil field is absent from
// the request. Identity fields (giver, receiver, team) have no place here and
// are dropped while decoding.
type Patch struct {
	Type           *models.FeedbackType   `json:"type" validate:"omitempty,oneof=PERFORMANCE BEHAVIOR PROJECT FEEDBACK_360"`
	Title          *string                `json:"title" validate:"omitempty,min=1,max=200"`
	Description    *string                `json:"description" validate:"omitempty,min=10,max=5000"`
	Rating         *int                   `json:"rating" validate:"omitempty,min=1,max=5"`
	Priority       *models.Priority       `json:"priority" validate:"omitempty,oneof=LOW MEDIUM HIGH CRITICAL"`
	Status         *models.FeedbackStatus `json:"status"`
	IsAnonymous    *bool                  `json:"is_anonymous"`
	IsConfidential *bool                  `json:"is_confidential"`
	DueDate        *time.Time             `json:"due_date"`

	// ClearDueDate is set when the request carried an explicit null due date.
	ClearDueDate bool `json:"-"`
}

// ParsePatch decodes a JSON update body.
func ParsePatch(body []byte) (Patch, error) {
	var p Patch
	if len(body) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(body, &p); err != nil {
		return p, policy.ValidationFailed("invalid request body: %v", err)
	}
	if due := gjson.GetBytes(body, "due_date"); due.Exists() && due.Type == gjson.Null {
		p.ClearDueDate = true
	}
	return p, nil
}

type CommentDraft struct {
	Content    string `json:"content" validate:"required,min=1,max=2000"`
	IsInternal bool   `json:"is_internal"`
}

// Query holds list filters, sorting and pagination as sent by the client.
type Query struct {
	Type       string
	Status     string
	Priority   string
	GiverID    string
	ReceiverID string
	TeamID     string
	Search     string
	SortBy     string
	SortOrder  string
	Page       int
	Limit      int
}

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// sortColumns maps accepted sort keys to ORDER BY expressions. Priority is
// ranked by severity rather than alphabetically.
var sortColumns = map[string]string{
	"rating":     "rating",
	"priority":   "CASE priority WHEN 'LOW' THEN 1 WHEN 'MEDIUM' THEN 2 WHEN 'HIGH' THEN 3 WHEN 'CRITICAL' THEN 4 END",
	"dueDate":    "due_date",
	"due_date":   "due_date",
	"createdAt":  "created_at",
	"created_at": "created_at",
}

// Normalize applies defaults and bounds.
func (q *Query) Normalize() error {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	if q.SortBy == "" {
		q.SortBy = "createdAt"
	}
	if _, ok := sortColumns[q.SortBy]; !ok {
		return policy.ValidationFailed("cannot sort by %q", q.SortBy)
	}
	switch q.SortOrder {
	case "":
		q.SortOrder = "desc"
	case "asc", "desc":
	default:
		return policy.ValidationFailed("sort order must be asc or desc")
	}
	return nil
}

// OrderClause returns the SQL ORDER BY expression for the normalized query.
func (q Query) OrderClause() string {
	return fmt.Sprintf("%s %s", sortColumns[q.SortBy], q.SortOrder)
}

// Scope restricts a listing to what the actor may view. All disables it.
type Scope struct {
	All      bool
	UserID   string
	Manages  []string
	MemberOf []string
}

// ListFilter is what the service hands to the store.
type ListFilter struct {
	Query
	Scope Scope
	// ExcludeAnonymous drops anonymous feedbacks, used when listing by another
	// user's giver id.
	ExcludeAnonymous bool
}

type Pagination struct {
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Pages int   `json:"pages"`
	Limit int   `json:"limit"`
}

type Page struct {
	Feedbacks  []View     `json:"feedbacks"`
	Pagination Pagination `json:"pagination"`
}
