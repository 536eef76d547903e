package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// RecordKind distinguishes the two kinds of ledger entries.
type RecordKind string

const (
	KindSpin           RecordKind = "SPIN"
	KindCreditPurchase RecordKind = "CREDIT_PURCHASE"
)

// DrawRecord is an append-only ledger entry. It is written once per
// successful purchase or draw and never updated afterwards.
type DrawRecord struct {
	ID          string                            `gorm:"primaryKey;size:36" json:"id"`
	CampaignID  string                            `gorm:"index;size:64;not null" json:"campaignId"`
	FanID       string                            `gorm:"index;size:64;not null" json:"fanId"`
	PrizeID     string                            `gorm:"size:64" json:"prizeId,omitempty"`
	PrizeName   string                            `gorm:"size:128" json:"prizeName"`
	Kind        RecordKind                        `gorm:"size:16;index;not null" json:"kind"`
	Quantity    int                               `gorm:"not null;default:0" json:"quantity"`
	AmountPaid  decimal.Decimal                   `gorm:"type:decimal(12,2);not null" json:"amountPaid"`
	PlatformFee decimal.Decimal                   `gorm:"type:decimal(12,2);not null" json:"platformFee"`
	CreatorNet  decimal.Decimal                   `gorm:"type:decimal(12,2);not null" json:"creatorNet"`
	Prize       datatypes.JSONType[PrizeSnapshot] `json:"prize"`
	CreatedAt   time.Time                         `gorm:"index" json:"createdAt"`
}

// CreditBalance is the prepaid draw count of one fan in one campaign.
type CreditBalance struct {
	FanID      string    `gorm:"primaryKey;size:64" json:"fanId"`
	CampaignID string    `gorm:"primaryKey;size:64" json:"campaignId"`
	Balance    int       `gorm:"not null;default:0;check:balance >= 0" json:"balance"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// FreeSpin is the one-shot entitlement granted by the slot machine bonus.
// The prize was already committed by the paid draw that granted it and is
// revealed from Prize when the free spin is played, whatever the catalog
// holds by then.
type FreeSpin struct {
	FanID      string                            `gorm:"primaryKey;size:64" json:"fanId"`
	CampaignID string                            `gorm:"primaryKey;size:64" json:"campaignId"`
	PrizeID    string                            `gorm:"size:64;not null" json:"prizeId"`
	RecordID   string                            `gorm:"size:36;not null" json:"recordId"`
	Prize      datatypes.JSONType[PrizeSnapshot] `json:"prize"`
	GrantedAt  time.Time                         `json:"grantedAt"`
}

// IdempotencyStatus tracks whether a keyed request has finished.
type IdempotencyStatus string

const (
	IdempotencyPending IdempotencyStatus = "PENDING"
	IdempotencyDone    IdempotencyStatus = "DONE"
)

// IdempotencyRecord remembers the outcome of a keyed request so a retried
// request returns the original response instead of executing twice.
type IdempotencyRecord struct {
	FanID      string `gorm:"primaryKey;size:64" json:"fanId"`
	Key        string `gorm:"primaryKey;column:idem_key;size:128" json:"key"`
	Operation  string `gorm:"size:32;not null" json:"operation"`
	CampaignID string `gorm:"size:64;not null" json:"campaignId"`
	// Fingerprint identifies the parameters the key was first used with.
	Fingerprint string            `gorm:"size:128" json:"fingerprint,omitempty"`
	Status      IdempotencyStatus `gorm:"size:16;not null" json:"status"`
	Response    datatypes.JSON    `json:"response,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}
