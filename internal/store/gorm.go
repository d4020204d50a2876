// Package store implements the feedback collaborators on top of gorm.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"feedbackhub-backend/internal/feedback"
	"feedbackhub-backend/internal/models"

	"gorm.io/gorm"
)

// GormStore is the relational implementation of feedback.Store,
// feedback.UserDirectory and feedback.TeamDirectory.
type GormStore struct {
	db *gorm.DB
}

var (
	_ feedback.Store         = (*GormStore)(nil)
	_ feedback.UserDirectory = (*GormStore)(nil)
	_ feedback.TeamDirectory = (*GormStore)(nil)
)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	return models.GetUserByID(s.db.WithContext(ctx), id)
}

func (s *GormStore) GetTeam(ctx context.Context, id string) (*models.Team, error) {
	return models.GetTeamByID(s.db.WithContext(ctx), id)
}

func (s *GormStore) TeamsOf(ctx context.Context, userID string) ([]string, []string, error) {
	return models.UserTeamIDs(s.db.WithContext(ctx), userID)
}

// withRelations preloads everything a feedback response needs.
func withRelations(db *gorm.DB) *gorm.DB {
	return db.Preload("Giver").
		Preload("Receiver").
		Preload("Team").
		Preload("Team.Members").
		Preload("Competencies.Competency")
}

func (s *GormStore) FindFeedback(ctx context.Context, id string) (*models.Feedback, error) {
	var f models.Feedback
	result := withRelations(s.db.WithContext(ctx)).
		Preload("Comments", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Preload("Comments.User").
		Preload("History", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Where("id = ?", id).
		First(&f)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("feedback %s: %w", id, models.ErrNotFound)
		}
		return nil, result.Error
	}
	return &f, nil
}

// scope restricts tx to rows the scoped user may view. It mirrors
// policy.CanView for non-administrators.
func scope(tx *gorm.DB, sc feedback.Scope) *gorm.DB {
	if sc.All {
		return tx
	}
	cond := "giver_id = ? OR receiver_id = ?"
	args := []any{sc.UserID, sc.UserID}
	if len(sc.Manages) > 0 {
		cond += " OR team_id IN ?"
		args = append(args, sc.Manages)
	}
	if len(sc.MemberOf) > 0 {
		cond += " OR (team_id IN ? AND is_confidential = ?)"
		args = append(args, sc.MemberOf, false)
	}
	return tx.Where(cond, args...)
}

func (s *GormStore) ListFeedbacks(ctx context.Context, filter feedback.ListFilter) ([]models.Feedback, int64, error) {
	tx := scope(s.db.WithContext(ctx).Model(&models.Feedback{}), filter.Scope)

	q := filter.Query
	if q.Type != "" {
		tx = tx.Where("type = ?", q.Type)
	}
	if q.Status != "" {
		tx = tx.Where("status = ?", q.Status)
	}
	if q.Priority != "" {
		tx = tx.Where("priority = ?", q.Priority)
	}
	if q.GiverID != "" {
		tx = tx.Where("giver_id = ?", q.GiverID)
	}
	if filter.ExcludeAnonymous {
		tx = tx.Where("is_anonymous = ?", false)
	}
	if q.ReceiverID != "" {
		tx = tx.Where("receiver_id = ?", q.ReceiverID)
	}
	if q.TeamID != "" {
		tx = tx.Where("team_id = ?", q.TeamID)
	}
	if search := strings.TrimSpace(q.Search); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		tx = tx.Where("LOWER(title) LIKE ? OR LOWER(description) LIKE ?", like, like)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.Feedback
	err := withRelations(tx).
		Order(q.OrderClause()).
		Order("id DESC").
		Offset((q.Page - 1) * q.Limit).
		Limit(q.Limit).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// CreateFeedback writes the feedback, its competency ratings and the
// creation history entry in one transaction.
func (s *GormStore) CreateFeedback(ctx context.Context, f *models.Feedback, entry *models.FeedbackHistory) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		competencies := f.Competencies
		f.Competencies = nil
		if err := tx.Omit("Giver", "Receiver", "Team", "Comments", "History", "Competencies").Create(f).Error; err != nil {
			return fmt.Errorf("failed to create feedback: %w", err)
		}
		for i := range competencies {
			competencies[i].FeedbackID = f.ID
		}
		if len(competencies) > 0 {
			if err := tx.Omit("Competency").Create(&competencies).Error; err != nil {
				return fmt.Errorf("failed to create competency ratings: %w", err)
			}
		}
		f.Competencies = competencies

		entry.FeedbackID = f.ID
		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("failed to write history: %w", err)
		}
		return nil
	})
}

// UpdateFeedback applies changes, stamps updated_at with at and appends the
// history entries in one transaction.
func (s *GormStore) UpdateFeedback(ctx context.Context, id string, changes map[string]any, entries []models.FeedbackHistory, at time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		columns := make(map[string]any, len(changes)+1)
		for k, v := range changes {
			columns[k] = v
		}
		columns["updated_at"] = at

		result := tx.Model(&models.Feedback{}).Where("id = ?", id).Updates(columns)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("feedback %s: %w", id, models.ErrNotFound)
		}
		if len(entries) > 0 {
			if err := tx.Create(&entries).Error; err != nil {
				return fmt.Errorf("failed to write history: %w", err)
			}
		}
		return nil
	})
}

// DeleteFeedback removes the feedback and everything it owns.
func (s *GormStore) DeleteFeedback(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("feedback_id = ?", id).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("feedback_id = ?", id).Delete(&models.FeedbackHistory{}).Error; err != nil {
			return err
		}
		if err := tx.Where("feedback_id = ?", id).Delete(&models.FeedbackCompetency{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", id).Delete(&models.Feedback{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("feedback %s: %w", id, models.ErrNotFound)
		}
		return nil
	})
}

// MissingCompetencies returns the ids that have no competency row, in input order.
func (s *GormStore) MissingCompetencies(ctx context.Context, ids []string) ([]string, error) {
	var found []string
	if err := s.db.WithContext(ctx).Model(&models.Competency{}).Where("id IN ?", ids).Pluck("id", &found).Error; err != nil {
		return nil, err
	}
	present := make(map[string]bool, len(found))
	for _, id := range found {
		present[id] = true
	}
	var missing []string
	for _, id := range ids {
		if !present[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (s *GormStore) FindComment(ctx context.Context, id string) (*models.Comment, error) {
	var c models.Comment
	result := s.db.WithContext(ctx).Preload("User").Where("id = ?", id).First(&c)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("comment %s: %w", id, models.ErrNotFound)
		}
		return nil, result.Error
	}
	return &c, nil
}

func touchFeedback(tx *gorm.DB, feedbackID string, at time.Time) error {
	result := tx.Model(&models.Feedback{}).Where("id = ?", feedbackID).Update("updated_at", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("feedback %s: %w", feedbackID, models.ErrNotFound)
	}
	return nil
}

func (s *GormStore) CreateComment(ctx context.Context, c *models.Comment, at time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("User").Create(c).Error; err != nil {
			return fmt.Errorf("failed to create comment: %w", err)
		}
		return touchFeedback(tx, c.FeedbackID, at)
	})
}

func (s *GormStore) UpdateComment(ctx context.Context, c *models.Comment, content string, at time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Comment{}).Where("id = ?", c.ID).Updates(map[string]any{
			"content":    content,
			"updated_at": at,
		})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("comment %s: %w", c.ID, models.ErrNotFound)
		}
		return touchFeedback(tx, c.FeedbackID, at)
	})
}

func (s *GormStore) DeleteComment(ctx context.Context, c *models.Comment, at time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ?", c.ID).Delete(&models.Comment{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("comment %s: %w", c.ID, models.ErrNotFound)
		}
		return touchFeedback(tx, c.FeedbackID, at)
	})
}
