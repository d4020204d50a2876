// Package feedback implements the feedback operations: reading, listing,
// creating, updating and deleting feedbacks and their comments. Every
// decision is delegated to the policy package; persistence goes through the
// Store, UserDirectory and TeamDirectory collaborators.
package feedback

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	"feedbackhub-backend/internal/models"
	"feedbackhub-backend/internal/policy"

	"github.com/go-playground/validator"
)

type Service struct {
	users    UserDirectory
	teams    TeamDirectory
	store    Store
	validate *validator.Validate
	now      func() time.Time
}

func NewService(users UserDirectory, teams TeamDirectory, store Store) *Service {
	return &Service{
		users:    users,
		teams:    teams,
		store:    store,
		validate: validator.New(),
		now:      time.Now,
	}
}

// WithClock replaces the time source used for updated_at stamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// notFound turns a store miss into a NotFound policy error and passes
// anything else through.
func notFound(err error, format string, args ...any) error {
	if errors.Is(err, models.ErrNotFound) {
		return policy.NotFound(format, args...)
	}
	return err
}

func (s *Service) validateStruct(v any) error {
	if err := s.validate.Struct(v); err != nil {
		return policy.ValidationFailed("%s", err.Error())
	}
	return nil
}

func (s *Service) load(ctx context.Context, id string) (*models.Feedback, error) {
	f, err := s.store.FindFeedback(ctx, id)
	if err != nil {
		return nil, notFound(err, "feedback %s not found", id)
	}
	return f, nil
}

// Get returns a single feedback if the actor may view it.
func (s *Service) Get(ctx context.Context, actor policy.Actor, id string) (View, error) {
	if actor.ID == "" {
		return View{}, policy.NotAuthenticated("authentication required")
	}
	f, err := s.load(ctx, id)
	if err != nil {
		return View{}, err
	}
	if err := policy.CheckView(f, actor); err != nil {
		return View{}, err
	}
	return Present(f, actor), nil
}

// List returns the page of feedbacks matching q that the actor may view.
func (s *Service) List(ctx context.Context, actor policy.Actor, q Query) (Page, error) {
	if actor.ID == "" {
		return Page{}, policy.NotAuthenticated("authentication required")
	}
	if err := q.Normalize(); err != nil {
		return Page{}, err
	}

	filter := ListFilter{
		Query:            q,
		ExcludeAnonymous: q.GiverID != "" && q.GiverID != actor.ID,
	}
	if actor.IsAdmin() {
		filter.Scope.All = true
	} else {
		memberOf, manages, err := s.teams.TeamsOf(ctx, actor.ID)
		if err != nil {
			return Page{}, err
		}
		filter.Scope = Scope{UserID: actor.ID, Manages: manages, MemberOf: memberOf}
	}

	rows, total, err := s.store.ListFeedbacks(ctx, filter)
	if err != nil {
		return Page{}, err
	}

	page := Page{
		Feedbacks: make([]View, 0, len(rows)),
		Pagination: Pagination{
			Total: total,
			Page:  q.Page,
			Pages: int(math.Ceil(float64(total) / float64(q.Limit))),
			Limit: q.Limit,
		},
	}
	for i := range rows {
		page.Feedbacks = append(page.Feedbacks, Present(&rows[i], actor))
	}
	return page, nil
}

// Create validates the draft, runs the existence and membership checks in
// order and stores the feedback as PENDING with its creation history entry.
func (s *Service) Create(ctx context.Context, actor policy.Actor, d Draft) (View, error) {
	if actor.ID == "" {
		return View{}, policy.NotAuthenticated("authentication required")
	}
	if err := s.validateStruct(d); err != nil {
		return View{}, err
	}

	if _, err := s.users.GetUser(ctx, d.ReceiverID); err != nil {
		return View{}, notFound(err, "receiver %s not found", d.ReceiverID)
	}

	if d.ReceiverID == actor.ID && d.Type != models.FeedbackType360 {
		return View{}, policy.ValidationFailed("you cannot give feedback to yourself unless it is a 360 feedback")
	}

	if d.TeamID != nil {
		team, err := s.teams.GetTeam(ctx, *d.TeamID)
		if err != nil {
			return View{}, notFound(err, "team %s not found", *d.TeamID)
		}
		if !actor.IsAdmin() && !team.HasMember(actor.ID) {
			return View{}, policy.PermissionDenied("you are not a member of this team")
		}
		if !team.HasMember(d.ReceiverID) {
			return View{}, policy.ValidationFailed("receiver is not a member of this team")
		}
	}

	if len(d.Competencies) > 0 {
		ids := make([]string, 0, len(d.Competencies))
		for _, c := range d.Competencies {
			ids = append(ids, c.CompetencyID)
		}
		missing, err := s.store.MissingCompetencies(ctx, ids)
		if err != nil {
			return View{}, err
		}
		if len(missing) > 0 {
			return View{}, policy.NotFound("competency %s not found", missing[0])
		}
	}

	priority := d.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}

	f := &models.Feedback{
		Type:           d.Type,
		GiverID:        actor.ID,
		ReceiverID:     d.ReceiverID,
		TeamID:         d.TeamID,
		Title:          d.Title,
		Description:    d.Description,
		Rating:         d.Rating,
		Priority:       priority,
		Status:         models.StatusPending,
		IsAnonymous:    d.IsAnonymous,
		IsConfidential: d.IsConfidential,
		DueDate:        d.DueDate,
	}
	for _, c := range d.Competencies {
		f.Competencies = append(f.Competencies, models.FeedbackCompetency{
			CompetencyID: c.CompetencyID,
			Rating:       c.Rating,
			Comments:     c.Comments,
		})
	}

	entry := &models.FeedbackHistory{
		UserID:       actor.ID,
		Action:       models.ActionFeedbackCreated,
		ChangedField: "status",
		NewValue:     ptr(string(models.StatusPending)),
	}
	if err := s.store.CreateFeedback(ctx, f, entry); err != nil {
		return View{}, err
	}

	created, err := s.load(ctx, f.ID)
	if err != nil {
		return View{}, err
	}
	return Present(created, actor), nil
}

// fieldChange is one column compared by Update.
type fieldChange struct {
	field  string
	column string
	old    *string
	new    *string
	value  any
}

// Update applies the fields present in p. One FEEDBACK_UPDATED history entry
// is written per changed field and updated_at is refreshed once per call.
func (s *Service) Update(ctx context.Context, actor policy.Actor, id string, p Patch) (View, error) {
	if actor.ID == "" {
		return View{}, policy.NotAuthenticated("authentication required")
	}
	f, err := s.load(ctx, id)
	if err != nil {
		return View{}, err
	}
	if err := policy.CheckEdit(f, actor); err != nil {
		return View{}, err
	}
	if err := s.validateStruct(p); err != nil {
		return View{}, err
	}

	var changes []fieldChange
	if p.Type != nil && *p.Type != f.Type {
		if *p.Type != models.FeedbackType360 && f.GiverID == f.ReceiverID {
			return View{}, policy.ValidationFailed("a self feedback must stay a 360 feedback")
		}
		changes = append(changes, fieldChange{"type", "type", ptr(string(f.Type)), ptr(string(*p.Type)), *p.Type})
	}
	if p.Title != nil && *p.Title != f.Title {
		changes = append(changes, fieldChange{"title", "title", ptr(f.Title), ptr(*p.Title), *p.Title})
	}
	if p.Description != nil && *p.Description != f.Description {
		changes = append(changes, fieldChange{"description", "description", ptr(f.Description), ptr(*p.Description), *p.Description})
	}
	if p.Rating != nil && *p.Rating != f.Rating {
		changes = append(changes, fieldChange{"rating", "rating", ptr(strconv.Itoa(f.Rating)), ptr(strconv.Itoa(*p.Rating)), *p.Rating})
	}
	if p.Priority != nil && *p.Priority != f.Priority {
		changes = append(changes, fieldChange{"priority", "priority", ptr(string(f.Priority)), ptr(string(*p.Priority)), *p.Priority})
	}
	if p.Status != nil && *p.Status != f.Status {
		if err := policy.CheckTransition(f.Status, *p.Status, actor); err != nil {
			return View{}, err
		}
		changes = append(changes, fieldChange{"status", "status", ptr(string(f.Status)), ptr(string(*p.Status)), *p.Status})
	}
	if p.IsAnonymous != nil && *p.IsAnonymous != f.IsAnonymous {
		changes = append(changes, fieldChange{"is_anonymous", "is_anonymous", ptr(strconv.FormatBool(f.IsAnonymous)), ptr(strconv.FormatBool(*p.IsAnonymous)), *p.IsAnonymous})
	}
	if p.IsConfidential != nil && *p.IsConfidential != f.IsConfidential {
		changes = append(changes, fieldChange{"is_confidential", "is_confidential", ptr(strconv.FormatBool(f.IsConfidential)), ptr(strconv.FormatBool(*p.IsConfidential)), *p.IsConfidential})
	}
	switch {
	case p.ClearDueDate && f.DueDate != nil:
		changes = append(changes, fieldChange{"due_date", "due_date", formatTime(f.DueDate), nil, nil})
	case p.DueDate != nil && (f.DueDate == nil || !p.DueDate.Equal(*f.DueDate)):
		changes = append(changes, fieldChange{"due_date", "due_date", formatTime(f.DueDate), formatTime(p.DueDate), *p.DueDate})
	}

	columns := make(map[string]any, len(changes))
	entries := make([]models.FeedbackHistory, 0, len(changes))
	for _, ch := range changes {
		columns[ch.column] = ch.value
		entries = append(entries, models.FeedbackHistory{
			FeedbackID:   f.ID,
			UserID:       actor.ID,
			Action:       models.ActionFeedbackUpdated,
			ChangedField: ch.field,
			OldValue:     ch.old,
			NewValue:     ch.new,
		})
	}

	if err := s.store.UpdateFeedback(ctx, f.ID, columns, entries, s.now()); err != nil {
		return View{}, notFound(err, "feedback %s not found", id)
	}

	updated, err := s.load(ctx, f.ID)
	if err != nil {
		return View{}, err
	}
	return Present(updated, actor), nil
}

// Delete removes the feedback with its comments, competency ratings and history.
func (s *Service) Delete(ctx context.Context, actor policy.Actor, id string) error {
	if actor.ID == "" {
		return policy.NotAuthenticated("authentication required")
	}
	f, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := policy.CheckDelete(f, actor); err != nil {
		return err
	}
	if err := s.store.DeleteFeedback(ctx, f.ID); err != nil {
		return notFound(err, "feedback %s not found", id)
	}
	return nil
}

func (s *Service) AddComment(ctx context.Context, actor policy.Actor, feedbackID string, d CommentDraft) (CommentView, error) {
	if actor.ID == "" {
		return CommentView{}, policy.NotAuthenticated("authentication required")
	}
	f, err := s.load(ctx, feedbackID)
	if err != nil {
		return CommentView{}, err
	}
	if err := policy.CheckComment(f, actor); err != nil {
		return CommentView{}, err
	}
	if err := s.validateStruct(d); err != nil {
		return CommentView{}, err
	}

	c := &models.Comment{
		FeedbackID: f.ID,
		UserID:     actor.ID,
		Content:    d.Content,
		IsInternal: d.IsInternal,
	}
	if err := s.store.CreateComment(ctx, c, s.now()); err != nil {
		return CommentView{}, err
	}
	return s.presentStoredComment(ctx, f, c.ID, actor)
}

// UpdateComment changes the content of a comment. Only its author or an
// administrator may do so.
func (s *Service) UpdateComment(ctx context.Context, actor policy.Actor, commentID string, d CommentDraft) (CommentView, error) {
	if actor.ID == "" {
		return CommentView{}, policy.NotAuthenticated("authentication required")
	}
	c, err := s.store.FindComment(ctx, commentID)
	if err != nil {
		return CommentView{}, notFound(err, "comment %s not found", commentID)
	}
	if err := policy.CheckModifyComment(c, actor); err != nil {
		return CommentView{}, err
	}
	if err := s.validateStruct(d); err != nil {
		return CommentView{}, err
	}
	f, err := s.load(ctx, c.FeedbackID)
	if err != nil {
		return CommentView{}, err
	}

	if err := s.store.UpdateComment(ctx, c, d.Content, s.now()); err != nil {
		return CommentView{}, notFound(err, "comment %s not found", commentID)
	}
	return s.presentStoredComment(ctx, f, c.ID, actor)
}

func (s *Service) DeleteComment(ctx context.Context, actor policy.Actor, commentID string) error {
	if actor.ID == "" {
		return policy.NotAuthenticated("authentication required")
	}
	c, err := s.store.FindComment(ctx, commentID)
	if err != nil {
		return notFound(err, "comment %s not found", commentID)
	}
	if err := policy.CheckModifyComment(c, actor); err != nil {
		return err
	}
	if err := s.store.DeleteComment(ctx, c, s.now()); err != nil {
		return notFound(err, "comment %s not found", commentID)
	}
	return nil
}

func (s *Service) presentStoredComment(ctx context.Context, f *models.Feedback, commentID string, actor policy.Actor) (CommentView, error) {
	stored, err := s.store.FindComment(ctx, commentID)
	if err != nil {
		return CommentView{}, notFound(err, "comment %s not found", commentID)
	}
	return PresentComment(f, stored, actor), nil
}

func ptr[T any](v T) *T {
	return &v
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	return ptr(t.UTC().Format(time.RFC3339))
}
