package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TeamMemberRole string

const (
	MemberRoleLeader     TeamMemberRole = "LEADER"
	MemberRoleMember     TeamMemberRole = "MEMBER"
	MemberRoleSpecialist TeamMemberRole = "SPECIALIST"
)

type TeamStatus string

const (
	TeamStatusActive   TeamStatus = "ACTIVE"
	TeamStatusInactive TeamStatus = "INACTIVE"
	TeamStatusArchived TeamStatus = "ARCHIVED"
)

type Team struct {
	ID          string       `json:"id" gorm:"primaryKey"`
	Name        string       `gorm:"not null" json:"name"`
	Description string       `json:"description"`
	Department  string       `json:"department"`
	Status      TeamStatus   `gorm:"not null;default:'ACTIVE'" json:"status"`
	ManagerID   string       `gorm:"not null;index" json:"manager_id"`
	Manager     *User        `json:"manager,omitempty" gorm:"foreignKey:ManagerID"`
	CreatedByID string       `json:"created_by_id"`
	Members     []TeamMember `json:"members,omitempty" gorm:"foreignKey:TeamID"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// TeamMember is the membership row between a team and a user.
type TeamMember struct {
	ID       string         `json:"id" gorm:"primaryKey"`
	TeamID   string         `gorm:"not null;uniqueIndex:idx_team_member" json:"team_id"`
	UserID   string         `gorm:"not null;uniqueIndex:idx_team_member" json:"user_id"`
	User     *User          `json:"user,omitempty" gorm:"foreignKey:UserID"`
	Role     TeamMemberRole `gorm:"not null;default:'MEMBER'" json:"role"`
	JoinedAt time.Time      `json:"joined_at"`
}

func (t *Team) BeforeCreate(tx *gorm.DB) (err error) {
	if t.ID != "" {
		return nil
	}
	uuidV7, err := uuid.NewV7()
	if err != nil {
		return err
	}
	t.ID = uuidV7.String()
	return nil
}

func (m *TeamMember) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		uuidV7, err := uuid.NewV7()
		if err != nil {
			return err
		}
		m.ID = uuidV7.String()
	}
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now()
	}
	return nil
}

// HasMember reports whether userID belongs to the loaded member list.
func (t *Team) HasMember(userID string) bool {
	for _, m := range t.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// MemberIDs returns the ids of the loaded members in join order.
func (t *Team) MemberIDs() []string {
	ids := make([]string, 0, len(t.Members))
	for _, m := range t.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}

// GetTeamByID loads the team with its manager and members.
func GetTeamByID(db *gorm.DB, id string) (*Team, error) {
	var team Team
	result := db.Preload("Manager").
		Preload("Members", func(db *gorm.DB) *gorm.DB { return db.Order("joined_at ASC") }).
		Preload("Members.User").
		Where("id = ?", id).
		First(&team)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("team %s: %w", id, ErrNotFound)
		}
		return nil, result.Error
	}
	return &team, nil
}

// CreateTeamWithMembers creates the team, adding the manager as LEADER and
// every other id as MEMBER.
func CreateTeamWithMembers(db *gorm.DB, team *Team, memberIDs []string) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Members", "Manager").Create(team).Error; err != nil {
			return fmt.Errorf("failed to create team: %w", err)
		}
		return replaceMembers(tx, team.ID, team.ManagerID, memberIDs)
	})
}

// ReplaceTeamMembers rebuilds the member list of a team.
func ReplaceTeamMembers(db *gorm.DB, teamID, managerID string, memberIDs []string) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("team_id = ?", teamID).Delete(&TeamMember{}).Error; err != nil {
			return err
		}
		return replaceMembers(tx, teamID, managerID, memberIDs)
	})
}

func replaceMembers(tx *gorm.DB, teamID, managerID string, memberIDs []string) error {
	members := []TeamMember{{TeamID: teamID, UserID: managerID, Role: MemberRoleLeader}}
	seen := map[string]bool{managerID: true}
	for _, id := range memberIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		members = append(members, TeamMember{TeamID: teamID, UserID: id, Role: MemberRoleMember})
	}
	if err := tx.Create(&members).Error; err != nil {
		return fmt.Errorf("failed to create team members: %w", err)
	}
	return nil
}

// AddTeamMembers adds ids that are not yet members and returns how many were added.
func AddTeamMembers(db *gorm.DB, team *Team, memberIDs []string) (int, error) {
	var fresh []TeamMember
	for _, id := range memberIDs {
		if team.HasMember(id) {
			continue
		}
		fresh = append(fresh, TeamMember{TeamID: team.ID, UserID: id, Role: MemberRoleMember})
	}
	if len(fresh) == 0 {
		return 0, nil
	}
	if err := db.Create(&fresh).Error; err != nil {
		return 0, err
	}
	return len(fresh), nil
}

func RemoveTeamMembers(db *gorm.DB, teamID string, memberIDs []string) error {
	return db.Where("team_id = ? AND user_id IN ?", teamID, memberIDs).Delete(&TeamMember{}).Error
}

// DeleteTeam detaches feedbacks from the team and removes it with its memberships.
func DeleteTeam(db *gorm.DB, id string) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Feedback{}).Where("team_id = ?", id).Update("team_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Where("team_id = ?", id).Delete(&TeamMember{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&Team{}).Error
	})
}

// TeamQuery holds the list filters for teams.
type TeamQuery struct {
	Search     string
	Department string
	Status     string
	ManagerID  string
	Page       int
	Limit      int
}

func ListTeams(db *gorm.DB, q TeamQuery) ([]Team, int64, error) {
	tx := db.Model(&Team{})
	if q.Search != "" {
		like := "%" + q.Search + "%"
		tx = tx.Where("LOWER(name) LIKE LOWER(?) OR LOWER(description) LIKE LOWER(?)", like, like)
	}
	if q.Department != "" {
		tx = tx.Where("department = ?", q.Department)
	}
	if q.Status != "" {
		tx = tx.Where("status = ?", q.Status)
	}
	if q.ManagerID != "" {
		tx = tx.Where("manager_id = ?", q.ManagerID)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var teams []Team
	err := tx.Preload("Manager").
		Preload("Members").
		Preload("Members.User").
		Order("created_at DESC").
		Offset((q.Page - 1) * q.Limit).
		Limit(q.Limit).
		Find(&teams).Error
	if err != nil {
		return nil, 0, err
	}
	return teams, total, nil
}

// UserTeamIDs returns the teams a user belongs to and the teams they manage.
func UserTeamIDs(db *gorm.DB, userID string) (memberOf []string, manages []string, err error) {
	if err = db.Model(&TeamMember{}).Where("user_id = ?", userID).Pluck("team_id", &memberOf).Error; err != nil {
		return nil, nil, err
	}
	if err = db.Model(&Team{}).Where("manager_id = ?", userID).Pluck("id", &manages).Error; err != nil {
		return nil, nil, err
	}
	return memberOf, manages, nil
}
