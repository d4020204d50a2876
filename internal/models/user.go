package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// ErrNotFound is returned (wrapped) by the lookup helpers when no row matches.
var ErrNotFound = errors.New("record not found")

type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleManager  Role = "MANAGER"
	RoleUser     Role = "USER"
	RoleHR       Role = "HR"
	RoleTeamLead Role = "TEAM_LEAD"
)

type UserStatus string

const (
	UserStatusActive            UserStatus = "ACTIVE"
	UserStatusInactive          UserStatus = "INACTIVE"
	UserStatusSuspended         UserStatus = "SUSPENDED"
	UserStatusPendingActivation UserStatus = "PENDING_ACTIVATION"
)

type User struct {
	ID             string       `json:"id" gorm:"primaryKey"` // uuid v7
	Name           string       `gorm:"not null" json:"name" validate:"required,min=3"`
	Email          string       `gorm:"not null;unique" json:"email" validate:"required,email"`
	Password       string       `gorm:"-" json:"password,omitempty" validate:"required,min=6"`
	HashedPassword string       `json:"-"`
	Role           Role         `gorm:"not null;default:'USER'" json:"role" validate:"omitempty,oneof=ADMIN MANAGER USER HR TEAM_LEAD"`
	Status         UserStatus   `gorm:"not null;default:'PENDING_ACTIVATION'" json:"status" validate:"omitempty,oneof=ACTIVE INACTIVE SUSPENDED PENDING_ACTIVATION"`
	Department     string       `json:"department" validate:"omitempty,oneof=TI RH FINANCEIRO MARKETING VENDAS OPERACOES DIRETORIA OUTRO"`
	Position       string       `json:"position"`
	Phone          string       `json:"phone,omitempty"`
	AvatarURL      string       `json:"avatar,omitempty"`
	LastLogin      *time.Time   `json:"last_login,omitempty"`
	Memberships    []TeamMember `json:"memberships,omitempty" gorm:"foreignKey:UserID"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == "" {
		// Using uuid v7 to be indexable with B-tree
		uuidV7, err := uuid.NewV7()
		if err != nil {
			return err
		}
		u.ID = uuidV7.String()
	}

	if u.Role == "" {
		u.Role = RoleUser
	}
	if u.Status == "" {
		u.Status = UserStatusPendingActivation
	}

	// Hash password if it's set
	if u.Password != "" {
		if err := u.SetPassword(u.Password); err != nil {
			return err
		}
	}

	return
}

// SetPassword hashes the plain text password and clears it.
func (u *User) SetPassword(password string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.HashedPassword = string(hashedPassword)
	u.Password = ""
	return nil
}

func (u *User) CheckPassword(password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(u.HashedPassword), []byte(password))
	return err == nil
}

func (u *User) IsActive() bool {
	return u.Status == UserStatusActive
}

// HasRole reports whether the user holds any of the given roles.
func (u *User) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if u.Role == r {
			return true
		}
	}
	return false
}

func GetUserByEmail(db *gorm.DB, email string) (*User, error) {
	var user User
	result := db.Where("email = ?", email).First(&user)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("user %s: %w", email, ErrNotFound)
		}
		return nil, result.Error
	}
	return &user, nil
}

func GetUserByID(db *gorm.DB, id string) (*User, error) {
	var user User
	result := db.Preload("Memberships").Where("id = ?", id).First(&user)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
		}
		return nil, result.Error
	}
	return &user, nil
}

// TouchLastLogin records a successful sign-in.
func (u *User) TouchLastLogin(db *gorm.DB) error {
	now := time.Now()
	u.LastLogin = &now
	return db.Model(u).Update("last_login", now).Error
}

// UserQuery holds the list filters for the user directory.
type UserQuery struct {
	Search     string
	Role       string
	Department string
	Status     string
	Page       int
	Limit      int
}

func ListUsers(db *gorm.DB, q UserQuery) ([]User, int64, error) {
	tx := db.Model(&User{})
	if q.Search != "" {
		like := "%" + q.Search + "%"
		tx = tx.Where("LOWER(name) LIKE LOWER(?) OR LOWER(email) LIKE LOWER(?) OR LOWER(position) LIKE LOWER(?)", like, like, like)
	}
	if q.Role != "" {
		tx = tx.Where("role = ?", q.Role)
	}
	if q.Department != "" {
		tx = tx.Where("department = ?", q.Department)
	}
	if q.Status != "" {
		tx = tx.Where("status = ?", q.Status)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var users []User
	err := tx.Order("created_at DESC").
		Offset((q.Page - 1) * q.Limit).
		Limit(q.Limit).
		Find(&users).Error
	if err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// DeleteUser removes the user together with their team memberships.
func DeleteUser(db *gorm.DB, id string) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", id).Delete(&TeamMember{}).Error; err != nil {
			return fmt.Errorf("failed to remove memberships: %w", err)
		}
		result := tx.Where("id = ?", id).Delete(&User{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("user %s: %w", id, ErrNotFound)
		}
		return nil
	})
}
