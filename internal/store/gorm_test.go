package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"feedbackhub-backend/internal/feedback"
	"feedbackhub-backend/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true, Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func createUser(t *testing.T, db *gorm.DB, name string, role models.Role) *models.User {
	t.Helper()
	u := &models.User{
		Name:   name,
		Email:  name + "@example.com",
		Role:   role,
		Status: models.UserStatusActive,
	}
	require.NoError(t, db.Create(u).Error)
	return u
}

type world struct {
	db       *gorm.DB
	store    *GormStore
	giver    *models.User
	receiver *models.User
	manager  *models.User
	member   *models.User
	outsider *models.User
	team     *models.Team
}

func newWorld(t *testing.T) *world {
	db := newTestDB(t)
	w := &world{
		db:       db,
		store:    NewGormStore(db),
		giver:    createUser(t, db, "giver", models.RoleUser),
		receiver: createUser(t, db, "receiver", models.RoleUser),
		manager:  createUser(t, db, "manager", models.RoleManager),
		member:   createUser(t, db, "member", models.RoleUser),
		outsider: createUser(t, db, "outsider", models.RoleUser),
	}
	w.team = &models.Team{Name: "Platform", ManagerID: w.manager.ID, CreatedByID: w.manager.ID}
	require.NoError(t, models.CreateTeamWithMembers(db, w.team, []string{w.giver.ID, w.receiver.ID, w.member.ID}))
	return w
}

func (w *world) createFeedback(t *testing.T, title string, rating int, mutate func(*models.Feedback)) *models.Feedback {
	t.Helper()
	teamID := w.team.ID
	f := &models.Feedback{
		Type:        models.FeedbackTypePerformance,
		GiverID:     w.giver.ID,
		ReceiverID:  w.receiver.ID,
		TeamID:      &teamID,
		Title:       title,
		Description: "a description long enough",
		Rating:      rating,
		Priority:    models.PriorityMedium,
		Status:      models.StatusPending,
	}
	if mutate != nil {
		mutate(f)
	}
	entry := &models.FeedbackHistory{UserID: f.GiverID, Action: models.ActionFeedbackCreated, ChangedField: "status"}
	require.NoError(t, w.store.CreateFeedback(context.Background(), f, entry))
	return f
}

func TestCreateAndFindFeedback(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	competency := &models.Competency{Name: "Communication"}
	require.NoError(t, w.db.Create(competency).Error)

	f := w.createFeedback(t, "Great sprint", 4, func(f *models.Feedback) {
		f.Competencies = []models.FeedbackCompetency{{CompetencyID: competency.ID, Rating: 5}}
	})

	found, err := w.store.FindFeedback(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "Great sprint", found.Title)
	require.NotNil(t, found.Giver)
	assert.Equal(t, w.giver.Name, found.Giver.Name)
	require.NotNil(t, found.Team)
	assert.True(t, found.Team.HasMember(w.member.ID))
	require.Len(t, found.Competencies, 1)
	assert.Equal(t, "Communication", found.Competencies[0].Competency.Name)
	require.Len(t, found.History, 1)
	assert.Equal(t, models.ActionFeedbackCreated, found.History[0].Action)

	_, err = w.store.FindFeedback(ctx, "missing")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestUpdateFeedbackWritesChangesAndHistory(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	f := w.createFeedback(t, "A", 3, nil)

	at := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	entries := []models.FeedbackHistory{
		{FeedbackID: f.ID, UserID: w.giver.ID, Action: models.ActionFeedbackUpdated, ChangedField: "title"},
	}
	require.NoError(t, w.store.UpdateFeedback(ctx, f.ID, map[string]any{"title": "B"}, entries, at))

	found, err := w.store.FindFeedback(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "B", found.Title)
	assert.True(t, at.Equal(found.UpdatedAt), "updated_at = %v", found.UpdatedAt)
	assert.Len(t, found.History, 2)

	err = w.store.UpdateFeedback(ctx, "missing", nil, nil, at)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestDeleteFeedbackRemovesOwnedRows(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	f := w.createFeedback(t, "To delete", 2, nil)
	require.NoError(t, w.store.CreateComment(ctx, &models.Comment{FeedbackID: f.ID, UserID: w.receiver.ID, Content: "hi"}, time.Now()))

	require.NoError(t, w.store.DeleteFeedback(ctx, f.ID))

	var comments, history int64
	w.db.Model(&models.Comment{}).Where("feedback_id = ?", f.ID).Count(&comments)
	w.db.Model(&models.FeedbackHistory{}).Where("feedback_id = ?", f.ID).Count(&history)
	assert.Zero(t, comments)
	assert.Zero(t, history)

	err := w.store.DeleteFeedback(ctx, f.ID)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func listIDs(t *testing.T, w *world, filter feedback.ListFilter) []string {
	t.Helper()
	require.NoError(t, filter.Query.Normalize())
	rows, total, err := w.store.ListFeedbacks(context.Background(), filter)
	require.NoError(t, err)
	assert.Equal(t, int64(len(rows)), total)
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.Title)
	}
	return ids
}

func TestListFeedbacksScope(t *testing.T) {
	w := newWorld(t)
	w.createFeedback(t, "open", 3, nil)
	w.createFeedback(t, "confidential", 3, func(f *models.Feedback) { f.IsConfidential = true })
	w.createFeedback(t, "private", 3, func(f *models.Feedback) { f.TeamID = nil })

	scopeFor := func(u *models.User) feedback.Scope {
		memberOf, manages, err := w.store.TeamsOf(context.Background(), u.ID)
		require.NoError(t, err)
		return feedback.Scope{UserID: u.ID, MemberOf: memberOf, Manages: manages}
	}

	assert.ElementsMatch(t, []string{"open", "confidential", "private"}, listIDs(t, w, feedback.ListFilter{Scope: feedback.Scope{All: true}}))
	assert.ElementsMatch(t, []string{"open", "confidential", "private"}, listIDs(t, w, feedback.ListFilter{Scope: scopeFor(w.receiver)}))
	assert.ElementsMatch(t, []string{"open", "confidential"}, listIDs(t, w, feedback.ListFilter{Scope: scopeFor(w.manager)}))
	assert.ElementsMatch(t, []string{"open"}, listIDs(t, w, feedback.ListFilter{Scope: scopeFor(w.member)}))
	assert.Empty(t, listIDs(t, w, feedback.ListFilter{Scope: scopeFor(w.outsider)}))
}

func TestListFeedbacksFilters(t *testing.T) {
	w := newWorld(t)
	w.createFeedback(t, "Quarterly review", 2, nil)
	w.createFeedback(t, "Hidden kudos", 5, func(f *models.Feedback) { f.IsAnonymous = true })
	w.createFeedback(t, "Urgent fix", 4, func(f *models.Feedback) { f.Priority = models.PriorityCritical })

	all := feedback.Scope{All: true}

	assert.Equal(t, []string{"Quarterly review"}, listIDs(t, w, feedback.ListFilter{Scope: all, Query: feedback.Query{Search: "QUARTER"}}))
	assert.Equal(t, []string{"Urgent fix"}, listIDs(t, w, feedback.ListFilter{Scope: all, Query: feedback.Query{Priority: "CRITICAL"}}))
	assert.Equal(t,
		[]string{"Quarterly review", "Urgent fix", "Hidden kudos"},
		listIDs(t, w, feedback.ListFilter{Scope: all, Query: feedback.Query{SortBy: "rating", SortOrder: "asc"}}),
	)
	assert.ElementsMatch(t,
		[]string{"Quarterly review", "Urgent fix"},
		listIDs(t, w, feedback.ListFilter{Scope: all, Query: feedback.Query{GiverID: w.giver.ID}, ExcludeAnonymous: true}),
	)
}

func TestListFeedbacksPagination(t *testing.T) {
	w := newWorld(t)
	for i := 1; i <= 5; i++ {
		w.createFeedback(t, fmt.Sprintf("fb-%d", i), i, nil)
	}

	q := feedback.Query{Page: 2, Limit: 2, SortBy: "rating", SortOrder: "asc"}
	require.NoError(t, q.Normalize())
	rows, total, err := w.store.ListFeedbacks(context.Background(), feedback.ListFilter{Query: q, Scope: feedback.Scope{All: true}})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, rows, 2)
	assert.Equal(t, "fb-3", rows[0].Title)
	assert.Equal(t, "fb-4", rows[1].Title)
}

func TestCommentMutationsTouchFeedback(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	f := w.createFeedback(t, "Commented", 3, nil)

	created := time.Date(2031, 5, 1, 0, 0, 0, 0, time.UTC)
	c := &models.Comment{FeedbackID: f.ID, UserID: w.receiver.ID, Content: "thanks"}
	require.NoError(t, w.store.CreateComment(ctx, c, created))

	found, err := w.store.FindFeedback(ctx, f.ID)
	require.NoError(t, err)
	assert.True(t, created.Equal(found.UpdatedAt))
	require.Len(t, found.Comments, 1)

	edited := created.Add(time.Hour)
	require.NoError(t, w.store.UpdateComment(ctx, c, "thanks a lot", edited))
	stored, err := w.store.FindComment(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "thanks a lot", stored.Content)
	require.NotNil(t, stored.User)
	assert.Equal(t, w.receiver.ID, stored.User.ID)

	deleted := edited.Add(time.Hour)
	require.NoError(t, w.store.DeleteComment(ctx, c, deleted))
	found, err = w.store.FindFeedback(ctx, f.ID)
	require.NoError(t, err)
	assert.True(t, deleted.Equal(found.UpdatedAt))
	assert.Empty(t, found.Comments)

	_, err = w.store.FindComment(ctx, c.ID)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestMissingCompetencies(t *testing.T) {
	w := newWorld(t)
	c := &models.Competency{Name: "Leadership"}
	require.NoError(t, w.db.Create(c).Error)

	missing, err := w.store.MissingCompetencies(context.Background(), []string{c.ID, "nope"})
	require.NoError(t, err)
	assert.Equal(t, []string{"nope"}, missing)
}
