package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type FeedbackType string

const (
	FeedbackTypePerformance FeedbackType = "PERFORMANCE"
	FeedbackTypeBehavior    FeedbackType = "BEHAVIOR"
	FeedbackTypeProject     FeedbackType = "PROJECT"
	FeedbackType360         FeedbackType = "FEEDBACK_360"
)

type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

type FeedbackStatus string

const (
	StatusDraft    FeedbackStatus = "DRAFT"
	StatusPending  FeedbackStatus = "PENDING"
	StatusInReview FeedbackStatus = "IN_REVIEW"
	StatusApproved FeedbackStatus = "APPROVED"
	StatusRejected FeedbackStatus = "REJECTED"
	StatusArchived FeedbackStatus = "ARCHIVED"
)

// Rating bounds shared by feedback and competency ratings.
const (
	RatingMin = 1
	RatingMax = 5
)

// History action tags.
const (
	ActionFeedbackCreated = "FEEDBACK_CREATED"
	ActionFeedbackUpdated = "FEEDBACK_UPDATED"
)

// IsLocked reports whether content is frozen for everyone but administrators.
func (s FeedbackStatus) IsLocked() bool {
	return s == StatusApproved || s == StatusArchived
}

// Feedback is a single evaluation exchanged between a giver and a receiver.
// It owns its comments, competency ratings and history entries.
type Feedback struct {
	ID             string               `json:"id" gorm:"primaryKey"`
	Type           FeedbackType         `gorm:"not null" json:"type"`
	GiverID        string               `gorm:"not null;index" json:"giver_id"`
	Giver          *User                `json:"giver,omitempty" gorm:"foreignKey:GiverID"`
	ReceiverID     string               `gorm:"not null;index" json:"receiver_id"`
	Receiver       *User                `json:"receiver,omitempty" gorm:"foreignKey:ReceiverID"`
	TeamID         *string              `gorm:"index" json:"team_id"`
	Team           *Team                `json:"team,omitempty" gorm:"foreignKey:TeamID"`
	Title          string               `gorm:"not null" json:"title"`
	Description    string               `gorm:"not null" json:"description"`
	Rating         int                  `gorm:"not null" json:"rating"`
	Priority       Priority             `gorm:"not null;default:'MEDIUM'" json:"priority"`
	Status         FeedbackStatus       `gorm:"not null;index" json:"status"`
	IsAnonymous    bool                 `gorm:"default:false" json:"is_anonymous"`
	IsConfidential bool                 `gorm:"default:false" json:"is_confidential"`
	DueDate        *time.Time           `json:"due_date"`
	Competencies   []FeedbackCompetency `json:"competencies,omitempty" gorm:"foreignKey:FeedbackID"`
	Comments       []Comment            `json:"comments,omitempty" gorm:"foreignKey:FeedbackID"`
	History        []FeedbackHistory    `json:"history,omitempty" gorm:"foreignKey:FeedbackID"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

func (f *Feedback) BeforeCreate(tx *gorm.DB) (err error) {
	if f.ID != "" {
		return nil
	}
	uuidV7, err := uuid.NewV7()
	if err != nil {
		return err
	}
	f.ID = uuidV7.String()
	return nil
}

// Competency is a catalogue entry feedbacks can rate.
type Competency struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	Name        string    `gorm:"not null;unique" json:"name" validate:"required,min=2"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (c *Competency) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ID != "" {
		return nil
	}
	uuidV7, err := uuid.NewV7()
	if err != nil {
		return err
	}
	c.ID = uuidV7.String()
	return nil
}

// FeedbackCompetency is one rated competency inside a feedback.
type FeedbackCompetency struct {
	ID           string      `json:"id" gorm:"primaryKey"`
	FeedbackID   string      `gorm:"not null;index" json:"feedback_id"`
	CompetencyID string      `gorm:"not null" json:"competency_id"`
	Competency   *Competency `json:"competency,omitempty" gorm:"foreignKey:CompetencyID"`
	Rating       int         `gorm:"not null" json:"rating"`
	Comments     string      `json:"comments,omitempty"`
}

func (fc *FeedbackCompetency) BeforeCreate(tx *gorm.DB) (err error) {
	if fc.ID != "" {
		return nil
	}
	uuidV7, err := uuid.NewV7()
	if err != nil {
		return err
	}
	fc.ID = uuidV7.String()
	return nil
}

type Comment struct {
	ID         string    `json:"id" gorm:"primaryKey"`
	FeedbackID string    `gorm:"not null;index" json:"feedback_id"`
	UserID     string    `gorm:"not null" json:"user_id"`
	User       *User     `json:"user,omitempty" gorm:"foreignKey:UserID"`
	Content    string    `gorm:"not null" json:"content"`
	IsInternal bool      `gorm:"default:false" json:"is_internal"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (c *Comment) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ID != "" {
		return nil
	}
	uuidV7, err := uuid.NewV7()
	if err != nil {
		return err
	}
	c.ID = uuidV7.String()
	return nil
}

// FeedbackHistory is an append-only record of a single field change.
type FeedbackHistory struct {
	ID           string    `json:"id" gorm:"primaryKey"`
	FeedbackID   string    `gorm:"not null;index" json:"feedback_id"`
	UserID       string    `gorm:"not null" json:"user_id"`
	Action       string    `gorm:"not null" json:"action"`
	ChangedField string    `json:"changed_field"`
	OldValue     *string   `json:"old_value"`
	NewValue     *string   `json:"new_value"`
	CreatedAt    time.Time `json:"created_at"`
}

func (FeedbackHistory) TableName() string {
	return "feedback_history"
}

func (h *FeedbackHistory) BeforeCreate(tx *gorm.DB) (err error) {
	if h.ID != "" {
		return nil
	}
	uuidV7, err := uuid.NewV7()
	if err != nil {
		return err
	}
	h.ID = uuidV7.String()
	return nil
}

func GetCompetencyByID(db *gorm.DB, id string) (*Competency, error) {
	var competency Competency
	result := db.Where("id = ?", id).First(&competency)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("competency %s: %w", id, ErrNotFound)
		}
		return nil, result.Error
	}
	return &competency, nil
}

func ListCompetencies(db *gorm.DB) ([]Competency, error) {
	var competencies []Competency
	err := db.Order("name ASC").Find(&competencies).Error
	return competencies, err
}
