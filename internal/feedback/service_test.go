package feedback_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"feedbackhub-backend/internal/feedback"
	"feedbackhub-backend/internal/models"
	"feedbackhub-backend/internal/policy"
	"feedbackhub-backend/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// countingStore records how often feedback rows are updated.
type countingStore struct {
	*store.GormStore
	updates int
}

func (c *countingStore) UpdateFeedback(ctx context.Context, id string, changes map[string]any, entries []models.FeedbackHistory, at time.Time) error {
	c.updates++
	return c.GormStore.UpdateFeedback(ctx, id, changes, entries, at)
}

type fixture struct {
	db         *gorm.DB
	store      *countingStore
	svc        *feedback.Service
	clock      time.Time
	admin      *models.User
	giver      *models.User
	receiver   *models.User
	manager    *models.User
	member     *models.User
	outsider   *models.User
	team       *models.Team
	competency *models.Competency
}

func newFixture(t *testing.T) *fixture {
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

	gs := store.NewGormStore(db)
	fx := &fixture{
		db:    db,
		store: &countingStore{GormStore: gs},
		clock: time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	fx.svc = feedback.NewService(gs, gs, fx.store).WithClock(func() time.Time { return fx.clock })

	user := func(name string, role models.Role) *models.User {
		u := &models.User{Name: name, Email: name + "@example.com", Role: role, Status: models.UserStatusActive}
		require.NoError(t, db.Create(u).Error)
		return u
	}
	fx.admin = user("admin", models.RoleAdmin)
	fx.giver = user("giver", models.RoleUser)
	fx.receiver = user("receiver", models.RoleUser)
	fx.manager = user("manager", models.RoleManager)
	fx.member = user("member", models.RoleUser)
	fx.outsider = user("outsider", models.RoleUser)

	fx.team = &models.Team{Name: "Core", ManagerID: fx.manager.ID}
	require.NoError(t, models.CreateTeamWithMembers(db, fx.team, []string{fx.giver.ID, fx.receiver.ID, fx.member.ID}))

	fx.competency = &models.Competency{Name: "Ownership"}
	require.NoError(t, db.Create(fx.competency).Error)
	return fx
}

func actor(u *models.User) policy.Actor {
	return policy.ActorFor(u)
}

func (fx *fixture) draft(mutate func(*feedback.Draft)) feedback.Draft {
	teamID := fx.team.ID
	d := feedback.Draft{
		Type:        models.FeedbackTypePerformance,
		ReceiverID:  fx.receiver.ID,
		TeamID:      &teamID,
		Title:       "Sprint review",
		Description: "Delivered the migration ahead of time.",
		Rating:      3,
	}
	if mutate != nil {
		mutate(&d)
	}
	return d
}

func (fx *fixture) create(t *testing.T, mutate func(*feedback.Draft)) feedback.View {
	t.Helper()
	v, err := fx.svc.Create(context.Background(), actor(fx.giver), fx.draft(mutate))
	require.NoError(t, err)
	return v
}

func (fx *fixture) setStatus(t *testing.T, id string, status models.FeedbackStatus) {
	t.Helper()
	require.NoError(t, fx.db.Model(&models.Feedback{}).Where("id = ?", id).Update("status", status).Error)
}

func (fx *fixture) updatedAt(t *testing.T, id string) time.Time {
	t.Helper()
	var f models.Feedback
	require.NoError(t, fx.db.Where("id = ?", id).First(&f).Error)
	return f.UpdatedAt
}

func TestCreateForcesPendingAndWritesHistory(t *testing.T) {
	fx := newFixture(t)

	v := fx.create(t, func(d *feedback.Draft) {
		d.Competencies = []feedback.CompetencyRating{{CompetencyID: fx.competency.ID, Rating: 4}}
	})

	assert.Equal(t, models.StatusPending, v.Status)
	assert.Equal(t, models.PriorityMedium, v.Priority)
	assert.Equal(t, fx.giver.ID, v.GiverID)
	require.Len(t, v.Competencies, 1)
	assert.Equal(t, "Ownership", v.Competencies[0].Name)
	require.Len(t, v.History, 1)
	h := v.History[0]
	assert.Equal(t, models.ActionFeedbackCreated, h.Action)
	assert.Equal(t, "status", h.ChangedField)
	assert.Nil(t, h.OldValue)
	require.NotNil(t, h.NewValue)
	assert.Equal(t, "PENDING", *h.NewValue)
}

func TestCreateValidationOrder(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	missingTeam := "missing-team"

	tests := []struct {
		name   string
		actor  *models.User
		mutate func(*feedback.Draft)
		want   policy.Kind
	}{
		{"invalid rating", fx.giver, func(d *feedback.Draft) { d.Rating = 9 }, policy.KindValidationFailed},
		{"missing receiver", fx.giver, func(d *feedback.Draft) { d.ReceiverID = "nobody" }, policy.KindNotFound},
		{"receiver checked before team", fx.giver, func(d *feedback.Draft) { d.ReceiverID = "nobody"; d.TeamID = &missingTeam }, policy.KindNotFound},
		{"self feedback", fx.giver, func(d *feedback.Draft) { d.ReceiverID = fx.giver.ID }, policy.KindValidationFailed},
		{"missing team", fx.giver, func(d *feedback.Draft) { d.TeamID = &missingTeam }, policy.KindNotFound},
		{"actor not in team", fx.outsider, nil, policy.KindPermissionDenied},
		{"receiver not in team", fx.giver, func(d *feedback.Draft) { d.ReceiverID = fx.outsider.ID }, policy.KindValidationFailed},
		{"missing competency", fx.giver, func(d *feedback.Draft) {
			d.Competencies = []feedback.CompetencyRating{{CompetencyID: "nope", Rating: 3}}
		}, policy.KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fx.svc.Create(ctx, actor(tt.actor), fx.draft(tt.mutate))
			require.Error(t, err)
			assert.Equal(t, tt.want, policy.KindOf(err))
		})
	}

	var count int64
	fx.db.Model(&models.Feedback{}).Count(&count)
	assert.Zero(t, count, "failed creations must not leave rows behind")
}

func TestCreateAdminOutsideTeam(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.svc.Create(context.Background(), actor(fx.admin), fx.draft(nil))
	assert.NoError(t, err)
}

func TestCreateSelfFeedbackOnlyFor360(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	self := func(d *feedback.Draft) { d.ReceiverID = fx.giver.ID }

	_, err := fx.svc.Create(ctx, actor(fx.giver), fx.draft(self))
	assert.Equal(t, policy.KindValidationFailed, policy.KindOf(err))

	v, err := fx.svc.Create(ctx, actor(fx.giver), fx.draft(func(d *feedback.Draft) {
		self(d)
		d.Type = models.FeedbackType360
	}))
	require.NoError(t, err)
	assert.Equal(t, fx.giver.ID, v.ReceiverID)
}

func TestGetVisibility(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	v := fx.create(t, func(d *feedback.Draft) { d.IsConfidential = true })

	for _, u := range []*models.User{fx.giver, fx.receiver, fx.manager, fx.admin} {
		_, err := fx.svc.Get(ctx, actor(u), v.ID)
		assert.NoError(t, err, u.Name)
	}

	_, err := fx.svc.Get(ctx, actor(fx.member), v.ID)
	assert.Equal(t, policy.KindPermissionDenied, policy.KindOf(err))

	_, err = fx.svc.Get(ctx, actor(fx.admin), "missing")
	assert.Equal(t, policy.KindNotFound, policy.KindOf(err))

	_, err = fx.svc.Get(ctx, policy.Actor{}, v.ID)
	assert.Equal(t, policy.KindNotAuthenticated, policy.KindOf(err))
}

func TestAnonymousGiverRedactedOnEveryReadPath(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	v := fx.create(t, func(d *feedback.Draft) { d.IsAnonymous = true })

	_, err := fx.svc.AddComment(ctx, actor(fx.giver), v.ID, feedback.CommentDraft{Content: "follow-up"})
	require.NoError(t, err)

	got, err := fx.svc.Get(ctx, actor(fx.receiver), v.ID)
	require.NoError(t, err)
	assert.Equal(t, feedback.AnonymousGiver, got.Giver)
	assert.Nil(t, got.Giver.Email)
	assert.Equal(t, feedback.AnonymousID, got.GiverID)
	require.Len(t, got.Comments, 1)
	assert.Equal(t, feedback.AnonymousGiver, got.Comments[0].User)
	for _, h := range got.History {
		assert.Equal(t, feedback.AnonymousID, h.UserID)
	}

	page, err := fx.svc.List(ctx, actor(fx.receiver), feedback.Query{})
	require.NoError(t, err)
	require.Len(t, page.Feedbacks, 1)
	assert.Equal(t, feedback.AnonymousGiver, page.Feedbacks[0].Giver)

	own, err := fx.svc.Get(ctx, actor(fx.giver), v.ID)
	require.NoError(t, err)
	assert.Equal(t, fx.giver.ID, own.Giver.ID)
	require.NotNil(t, own.Giver.Email)
}

func TestUpdateApprovedFeedback(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	v := fx.create(t, nil)
	fx.setStatus(t, v.ID, models.StatusApproved)

	title := "Edited"
	_, err := fx.svc.Update(ctx, actor(fx.giver), v.ID, feedback.Patch{Title: &title})
	assert.Equal(t, policy.KindInvalidState, policy.KindOf(err))

	got, err := fx.svc.Update(ctx, actor(fx.admin), v.ID, feedback.Patch{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "Edited", got.Title)
}

func TestUpdatePermissionBeforeState(t *testing.T) {
	fx := newFixture(t)
	v := fx.create(t, nil)
	fx.setStatus(t, v.ID, models.StatusApproved)

	title := "Edited"
	_, err := fx.svc.Update(context.Background(), actor(fx.receiver), v.ID, feedback.Patch{Title: &title})
	assert.Equal(t, policy.KindPermissionDenied, policy.KindOf(err))
}

func TestUpdateWritesOneEntryPerChangedField(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	v := fx.create(t, func(d *feedback.Draft) { d.Title = "A" })

	before := fx.store.updates
	fx.clock = fx.clock.Add(time.Hour)

	title := "B"
	rating := 4
	sameDescription := v.Description
	got, err := fx.svc.Update(ctx, actor(fx.giver), v.ID, feedback.Patch{
		Title:       &title,
		Rating:      &rating,
		Description: &sameDescription,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, fx.store.updates-before, "updated_at must be written exactly once")
	assert.True(t, fx.clock.Equal(got.UpdatedAt))

	var entries []models.FeedbackHistory
	require.NoError(t, fx.db.Where("feedback_id = ? AND action = ?", v.ID, models.ActionFeedbackUpdated).
		Order("changed_field ASC").Find(&entries).Error)
	require.Len(t, entries, 2)
	assert.Equal(t, "rating", entries[0].ChangedField)
	assert.Equal(t, "3", *entries[0].OldValue)
	assert.Equal(t, "4", *entries[0].NewValue)
	assert.Equal(t, "title", entries[1].ChangedField)
	assert.Equal(t, "A", *entries[1].OldValue)
	assert.Equal(t, "B", *entries[1].NewValue)
	for _, e := range entries {
		assert.Equal(t, fx.giver.ID, e.UserID)
	}
}

func TestUpdateWithoutChangesStillTouches(t *testing.T) {
	fx := newFixture(t)
	v := fx.create(t, nil)
	fx.clock = fx.clock.Add(2 * time.Hour)

	got, err := fx.svc.Update(context.Background(), actor(fx.giver), v.ID, feedback.Patch{})
	require.NoError(t, err)
	assert.True(t, fx.clock.Equal(got.UpdatedAt))
	assert.Len(t, got.History, 1)
}

func TestUpdateStripsIdentityFields(t *testing.T) {
	fx := newFixture(t)
	v := fx.create(t, nil)

	body := []byte(fmt.Sprintf(`{"giver_id":%q,"receiver_id":%q,"title":"Renamed"}`, fx.outsider.ID, fx.outsider.ID))
	p, err := feedback.ParsePatch(body)
	require.NoError(t, err)

	got, err := fx.svc.Update(context.Background(), actor(fx.giver), v.ID, p)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)
	assert.Equal(t, fx.giver.ID, got.GiverID)
	assert.Equal(t, fx.receiver.ID, got.ReceiverID)
}

func TestUpdateClearsDueDate(t *testing.T) {
	fx := newFixture(t)
	due := time.Date(2030, 12, 31, 0, 0, 0, 0, time.UTC)
	v := fx.create(t, func(d *feedback.Draft) { d.DueDate = &due })
	require.NotNil(t, v.DueDate)

	p, err := feedback.ParsePatch([]byte(`{"due_date":null}`))
	require.NoError(t, err)
	assert.True(t, p.ClearDueDate)

	got, err := fx.svc.Update(context.Background(), actor(fx.giver), v.ID, p)
	require.NoError(t, err)
	assert.Nil(t, got.DueDate)
}

func TestUpdateStatusTransitions(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	v := fx.create(t, nil)

	inReview := models.StatusInReview
	_, err := fx.svc.Update(ctx, actor(fx.manager), v.ID, feedback.Patch{Status: &inReview})
	require.NoError(t, err)

	draft := models.StatusDraft
	_, err = fx.svc.Update(ctx, actor(fx.manager), v.ID, feedback.Patch{Status: &draft})
	assert.Equal(t, policy.KindInvalidState, policy.KindOf(err))

	_, err = fx.svc.Update(ctx, actor(fx.admin), v.ID, feedback.Patch{Status: &draft})
	assert.NoError(t, err)

	bogus := models.FeedbackStatus("DONE")
	_, err = fx.svc.Update(ctx, actor(fx.admin), v.ID, feedback.Patch{Status: &bogus})
	assert.Equal(t, policy.KindValidationFailed, policy.KindOf(err))
}

func TestDeleteArchivedAsGiver(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	v := fx.create(t, nil)
	fx.setStatus(t, v.ID, models.StatusArchived)

	err := fx.svc.Delete(ctx, actor(fx.giver), v.ID)
	assert.Equal(t, policy.KindInvalidState, policy.KindOf(err))

	err = fx.svc.Delete(ctx, actor(fx.receiver), v.ID)
	assert.Equal(t, policy.KindPermissionDenied, policy.KindOf(err))

	require.NoError(t, fx.svc.Delete(ctx, actor(fx.admin), v.ID))
	_, err = fx.svc.Get(ctx, actor(fx.admin), v.ID)
	assert.Equal(t, policy.KindNotFound, policy.KindOf(err))
}

func TestDeleteApprovedRequiresAdmin(t *testing.T) {
	fx := newFixture(t)
	v := fx.create(t, nil)
	fx.setStatus(t, v.ID, models.StatusApproved)

	err := fx.svc.Delete(context.Background(), actor(fx.manager), v.ID)
	assert.Equal(t, policy.KindPermissionDenied, policy.KindOf(err))
}

func TestCommentOnConfidentialFeedback(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	v := fx.create(t, func(d *feedback.Draft) { d.IsConfidential = true })

	_, err := fx.svc.AddComment(ctx, actor(fx.member), v.ID, feedback.CommentDraft{Content: "me too"})
	assert.Equal(t, policy.KindPermissionDenied, policy.KindOf(err))

	fx.clock = fx.clock.Add(3 * time.Hour)
	c, err := fx.svc.AddComment(ctx, actor(fx.receiver), v.ID, feedback.CommentDraft{Content: "thanks"})
	require.NoError(t, err)
	assert.Equal(t, fx.receiver.ID, c.UserID)
	assert.True(t, fx.clock.Equal(fx.updatedAt(t, v.ID)))
}

func TestCommentEditAndDeleteByAuthorOnly(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	v := fx.create(t, nil)
	c, err := fx.svc.AddComment(ctx, actor(fx.member), v.ID, feedback.CommentDraft{Content: "first"})
	require.NoError(t, err)

	_, err = fx.svc.UpdateComment(ctx, actor(fx.giver), c.ID, feedback.CommentDraft{Content: "hijack"})
	assert.Equal(t, policy.KindPermissionDenied, policy.KindOf(err))

	fx.clock = fx.clock.Add(time.Hour)
	edited, err := fx.svc.UpdateComment(ctx, actor(fx.member), c.ID, feedback.CommentDraft{Content: "second"})
	require.NoError(t, err)
	assert.Equal(t, "second", edited.Content)
	assert.True(t, fx.clock.Equal(fx.updatedAt(t, v.ID)))

	err = fx.svc.DeleteComment(ctx, actor(fx.receiver), c.ID)
	assert.Equal(t, policy.KindPermissionDenied, policy.KindOf(err))

	fx.clock = fx.clock.Add(time.Hour)
	require.NoError(t, fx.svc.DeleteComment(ctx, actor(fx.admin), c.ID))
	assert.True(t, fx.clock.Equal(fx.updatedAt(t, v.ID)))

	err = fx.svc.DeleteComment(ctx, actor(fx.admin), c.ID)
	assert.Equal(t, policy.KindNotFound, policy.KindOf(err))
}

func TestInternalCommentsHiddenFromParticipants(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	v := fx.create(t, nil)
	_, err := fx.svc.AddComment(ctx, actor(fx.member), v.ID, feedback.CommentDraft{Content: "note", IsInternal: true})
	require.NoError(t, err)

	asReceiver, err := fx.svc.Get(ctx, actor(fx.receiver), v.ID)
	require.NoError(t, err)
	assert.Empty(t, asReceiver.Comments)

	asManager, err := fx.svc.Get(ctx, actor(fx.manager), v.ID)
	require.NoError(t, err)
	assert.Len(t, asManager.Comments, 1)
}

func TestListScopingAndAnonymousGiverFilter(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.create(t, nil)
	fx.create(t, func(d *feedback.Draft) { d.IsConfidential = true })
	fx.create(t, func(d *feedback.Draft) { d.IsAnonymous = true })

	count := func(u *models.User, q feedback.Query) int64 {
		page, err := fx.svc.List(ctx, actor(u), q)
		require.NoError(t, err)
		return page.Pagination.Total
	}

	assert.Equal(t, int64(3), count(fx.admin, feedback.Query{}))
	assert.Equal(t, int64(3), count(fx.manager, feedback.Query{}))
	assert.Equal(t, int64(2), count(fx.member, feedback.Query{}))
	assert.Equal(t, int64(0), count(fx.outsider, feedback.Query{}))

	assert.Equal(t, int64(2), count(fx.admin, feedback.Query{GiverID: fx.giver.ID}))
	assert.Equal(t, int64(3), count(fx.giver, feedback.Query{GiverID: fx.giver.ID}))

	page, err := fx.svc.List(ctx, actor(fx.admin), feedback.Query{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, feedback.Pagination{Total: 3, Page: 1, Pages: 2, Limit: 2}, page.Pagination)

	_, err = fx.svc.List(ctx, actor(fx.admin), feedback.Query{SortBy: "giver"})
	assert.Equal(t, policy.KindValidationFailed, policy.KindOf(err))
}
