package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AnimationMode selects how a draw is revealed to the fan.
type AnimationMode string

const (
	AnimationWheel   AnimationMode = "WHEEL"
	AnimationBox     AnimationMode = "BOX"
	AnimationLoot    AnimationMode = "LOOT"
	AnimationMachine AnimationMode = "MACHINE"
)

// Valid reports whether m is one of the known animation modes.
func (m AnimationMode) Valid() bool {
	switch m {
	case AnimationWheel, AnimationBox, AnimationLoot, AnimationMachine:
		return true
	}
	return false
}

// Campaign is a creator's published loot box.
// TotalSpins and TotalRevenue are running counters maintained by the ledger.
type Campaign struct {
	ID              string          `gorm:"primaryKey;size:64" json:"id"`
	CreatorID       string          `gorm:"index;size:64;not null" json:"creatorId"`
	Title           string          `gorm:"size:128;not null" json:"title"`
	Slug            string          `gorm:"uniqueIndex;size:128;not null" json:"slug"`
	PricePerSpin    decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"pricePerSpin"`
	PlatformFeeRate decimal.Decimal `gorm:"type:decimal(5,4);not null" json:"platformFeeRate"`
	IsActive        bool            `gorm:"not null;default:false" json:"isActive"`
	Animation       AnimationMode   `gorm:"size:16;not null" json:"animation"`
	TotalSpins      int64           `gorm:"not null;default:0" json:"totalSpins"`
	TotalRevenue    decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"totalRevenue"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}
