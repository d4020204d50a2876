package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Audit resources.
const (
	AuditResourceAuth       = "AUTH"
	AuditResourceUser       = "USER"
	AuditResourceTeam       = "TEAM"
	AuditResourceFeedback   = "FEEDBACK"
	AuditResourceComment    = "COMMENT"
	AuditResourceCompetency = "COMPETENCY"
)

// Audit actions.
const (
	AuditActionLogin    = "LOGIN"
	AuditActionRegister = "REGISTER"
	AuditActionCreate   = "CREATE"
	AuditActionUpdate   = "UPDATE"
	AuditActionDelete   = "DELETE"
)

// AuditLog is an append-only record of a successful mutation. Anonymous
// marks rows that would reveal the giver of an anonymous feedback.
type AuditLog struct {
	ID         string    `json:"id" gorm:"primaryKey"`
	UserID     string    `gorm:"index" json:"user_id"`
	Action     string    `gorm:"not null;index" json:"action"`
	Resource   string    `gorm:"not null;index" json:"resource"`
	ResourceID string    `json:"resource_id"`
	Details    string    `json:"details"`
	Anonymous  bool      `gorm:"not null;default:false;index" json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// AnonymousActor replaces the user id of anonymous rows.
const AnonymousActor = "anonymous"

func (a *AuditLog) BeforeCreate(tx *gorm.DB) (err error) {
	if a.ID != "" {
		return nil
	}
	uuidV7, err := uuid.NewV7()
	if err != nil {
		return err
	}
	a.ID = uuidV7.String()
	return nil
}

func RecordAudit(db *gorm.DB, userID, action, resource, resourceID, details string) error {
	return db.Create(&AuditLog{
		UserID:     userID,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		Details:    details,
	}).Error
}

// AnonymousGiverResources returns the giver of an anonymous feedback and the
// audit resource ids that can point back to them: the feedback itself and the
// giver's comments on it. giverID is empty when the feedback is not anonymous.
func AnonymousGiverResources(db *gorm.DB, feedbackID string) (giverID string, resourceIDs []string, err error) {
	var f Feedback
	err = db.Select("id", "giver_id", "is_anonymous").Where("id = ?", feedbackID).First(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil, fmt.Errorf("feedback %s: %w", feedbackID, ErrNotFound)
	}
	if err != nil || !f.IsAnonymous {
		return "", nil, err
	}

	var commentIDs []string
	if err := db.Model(&Comment{}).Where("feedback_id = ? AND user_id = ?", f.ID, f.GiverID).Pluck("id", &commentIDs).Error; err != nil {
		return "", nil, err
	}
	return f.GiverID, append([]string{f.ID}, commentIDs...), nil
}

// HideAuditActor marks the rows userID wrote about resourceIDs as anonymous.
func HideAuditActor(db *gorm.DB, userID string, resourceIDs ...string) error {
	if userID == "" || len(resourceIDs) == 0 {
		return nil
	}
	return db.Model(&AuditLog{}).
		Where("user_id = ? AND resource_id IN ?", userID, resourceIDs).
		Update("anonymous", true).Error
}

type AuditQuery struct {
	Action   string
	Resource string
	UserID   string
	// ViewerID is the reader. Anonymous rows keep their user id only for
	// the user who wrote them.
	ViewerID string
	Page     int
	Limit    int
}

// ListAuditLogs returns the newest entries first. Anonymous rows never match
// a filter on somebody else's user id, and their user id is replaced by
// AnonymousActor for everyone but their author.
func ListAuditLogs(db *gorm.DB, q AuditQuery) ([]AuditLog, int64, error) {
	tx := db.Model(&AuditLog{})
	if q.Action != "" {
		tx = tx.Where("action = ?", q.Action)
	}
	if q.Resource != "" {
		tx = tx.Where("resource = ?", q.Resource)
	}
	if q.UserID != "" {
		tx = tx.Where("user_id = ?", q.UserID)
		if q.UserID != q.ViewerID {
			tx = tx.Where("anonymous = ?", false)
		}
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var logs []AuditLog
	err := tx.Order("created_at DESC").
		Offset((q.Page - 1) * q.Limit).
		Limit(q.Limit).
		Find(&logs).Error
	if err != nil {
		return nil, 0, err
	}

	for i := range logs {
		if logs[i].Anonymous && logs[i].UserID != q.ViewerID {
			logs[i].UserID = AnonymousActor
		}
	}
	return logs, total, nil
}
