package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Currency represents an accepted stablecoin
type Currency string

const (
	CurrencyUSDT Currency = "USDT"
	CurrencyUSDC Currency = "USDC"
	CurrencyBUSD Currency = "BUSD"
)

// Valid reports whether c is an accepted currency
func (c Currency) Valid() bool {
	switch c {
	case CurrencyUSDT, CurrencyUSDC, CurrencyBUSD:
		return true
	}
	return false
}

// PaymentStatus represents the status of a payment
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
)

// Payment represents a membership purchase. TransactionHash is the
// idempotency key for the purchase.
type Payment struct {
	Base
	UserID                   uuid.UUID       `gorm:"type:uuid;index;not null" json:"user_id"`
	User                     User            `gorm:"foreignKey:UserID" json:"-"`
	Amount                   decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	Currency                 Currency        `gorm:"type:varchar(10);not null" json:"currency"`
	TransactionHash          string          `gorm:"type:varchar(200);uniqueIndex;not null" json:"transaction_hash"`
	Status                   PaymentStatus   `gorm:"type:varchar(20);not null" json:"status"`
	MembershipExtension      int             `gorm:"not null" json:"membership_extension"`
	CompletedAt              *time.Time      `json:"completed_at"`
	CommissionsDistributedAt *time.Time      `json:"commissions_distributed_at"`
	Commissions              []Commission    `gorm:"foreignKey:PaymentID" json:"commissions,omitempty"`
}

// CommissionStatus represents the status of a commission payout
type CommissionStatus string

const (
	CommissionStatusPending CommissionStatus = "pending"
	CommissionStatusPaid    CommissionStatus = "paid"
)

// Commission is a payout to a sponsor for one level of one payment
type Commission struct {
	Base
	FromUserID uuid.UUID        `gorm:"type:uuid;index;not null" json:"from_user_id"`
	FromUser   *User            `gorm:"foreignKey:FromUserID" json:"from_user,omitempty"`
	ToUserID   uuid.UUID        `gorm:"type:uuid;index;not null" json:"to_user_id"`
	ToUser     *User            `gorm:"foreignKey:ToUserID" json:"to_user,omitempty"`
	PaymentID  uuid.UUID        `gorm:"type:uuid;not null;uniqueIndex:idx_commissions_payment_level,priority:1" json:"payment_id"`
	Level      int              `gorm:"not null;uniqueIndex:idx_commissions_payment_level,priority:2" json:"level"`
	Amount     decimal.Decimal  `gorm:"type:decimal(20,2);not null" json:"amount"`
	Status     CommissionStatus `gorm:"type:varchar(20);not null" json:"status"`
}
