package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UserStatus represents the account status of a user
type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
	UserStatusBanned    UserStatus = "banned"
)

// Valid reports whether s is a known status
func (s UserStatus) Valid() bool {
	switch s {
	case UserStatusActive, UserStatusSuspended, UserStatusBanned:
		return true
	}
	return false
}

// User represents a user in the system. SponsorID is set once at registration
// and forms the referral tree.
type User struct {
	Base
	Email            string          `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Username         string          `gorm:"type:varchar(50);uniqueIndex;not null" json:"username"`
	FirstName        string          `gorm:"type:varchar(100)" json:"first_name"`
	LastName         string          `gorm:"type:varchar(100)" json:"last_name"`
	Avatar           string          `gorm:"type:varchar(500)" json:"avatar,omitempty"`
	PasswordHash     string          `gorm:"type:varchar(255);not null" json:"-"`
	SponsorID        *uuid.UUID      `gorm:"type:uuid;index" json:"sponsor_id"`
	Sponsor          *User           `gorm:"foreignKey:SponsorID" json:"-"`
	MembershipExpiry *time.Time      `json:"membership_expiry"`
	TotalEarnings    decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"total_earnings"`
	Status           UserStatus      `gorm:"type:varchar(20);not null;default:'active'" json:"status"`
	IsAdmin          bool            `gorm:"default:false" json:"is_admin"`
}

// HasActiveMembership reports whether the membership expiry is strictly after now
func (u *User) HasActiveMembership(now time.Time) bool {
	return u.MembershipExpiry != nil && u.MembershipExpiry.After(now)
}

// FullName returns the display name of the user
func (u *User) FullName() string {
	if u.FirstName == "" && u.LastName == "" {
		return u.Username
	}
	return u.FirstName + " " + u.LastName
}
