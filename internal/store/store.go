// Package store defines the persistence boundary of the loot box core.
//
// Every mutation of a credit balance or a prize stock is a single atomic
// conditional update. Implementations must never read a value and write it
// back in a separate step. Operations that lose a race report
// apperrors.ErrConcurrentModification so callers can retry them; terminal
// conditions (insufficient credit, exhausted stock) are reported with their
// own codes and leave state untouched.
package store

import (
	"context"

	"github.com/shopspring/decimal"

	"lootfan/internal/models"
)

// Store is the read side plus the transaction entry point.
type Store interface {
	// SaveCampaign creates or replaces a campaign together with its catalog.
	SaveCampaign(ctx context.Context, campaign *models.Campaign, prizes []models.Prize) error
	// SeedCampaign inserts the campaign and the prizes that are not stored
	// yet. Existing rows keep their stock and counters. created reports
	// whether the campaign itself was new.
	SeedCampaign(ctx context.Context, campaign *models.Campaign, prizes []models.Prize) (created bool, err error)
	// Campaign returns apperrors.ErrNotFound for unknown ids.
	Campaign(ctx context.Context, campaignID string) (*models.Campaign, error)
	// Prizes returns the catalog ordered by position.
	Prizes(ctx context.Context, campaignID string) ([]models.Prize, error)
	// Balance returns 0 when the fan never bought credits for the campaign.
	Balance(ctx context.Context, fanID, campaignID string) (int, error)
	// FreeSpin returns nil when no entitlement is outstanding.
	FreeSpin(ctx context.Context, fanID, campaignID string) (*models.FreeSpin, error)
	// Records returns the ledger of a campaign in append order.
	Records(ctx context.Context, campaignID string) ([]models.DrawRecord, error)

	// ReserveIdempotencyKey inserts a pending record for rec.FanID/rec.Key.
	// When the key already exists the stored record is returned with
	// reserved=false and nothing is written.
	ReserveIdempotencyKey(ctx context.Context, rec models.IdempotencyRecord) (existing *models.IdempotencyRecord, reserved bool, err error)
	// ReleaseIdempotencyKey drops a pending reservation after a failed request.
	ReleaseIdempotencyKey(ctx context.Context, fanID, key string) error

	// WithinTx runs fn atomically. If fn returns an error every change made
	// through tx is discarded.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of atomic mutations available inside a transaction.
type Tx interface {
	// AddCredits increments the balance by n, creating it if needed, and
	// returns the new balance.
	AddCredits(ctx context.Context, fanID, campaignID string, n int) (int, error)
	// Balance reads the balance as seen by the transaction.
	Balance(ctx context.Context, fanID, campaignID string) (int, error)
	// ConsumeCredit decrements the balance by one only if it is at least one.
	// It returns apperrors.ErrInsufficientCredit otherwise.
	ConsumeCredit(ctx context.Context, fanID, campaignID string) (int, error)
	// DecrementStock decrements a limited stock by one only if it is positive.
	// Unlimited stock is left untouched. It returns apperrors.ErrStockExhausted
	// when the stock is already zero.
	DecrementStock(ctx context.Context, prizeID string) (int, error)
	// AppendRecord writes an immutable ledger entry.
	AppendRecord(ctx context.Context, rec *models.DrawRecord) error
	// AddCampaignTotals increments the campaign counters.
	AddCampaignTotals(ctx context.Context, campaignID string, spins int64, revenue decimal.Decimal) error
	// GrantFreeSpin stores the entitlement only if none is outstanding.
	// It returns apperrors.ErrFreeSpinOutstanding otherwise.
	GrantFreeSpin(ctx context.Context, fs models.FreeSpin) error
	// TakeFreeSpin removes and returns the outstanding entitlement, or nil.
	TakeFreeSpin(ctx context.Context, fanID, campaignID string) (*models.FreeSpin, error)
	// CompleteIdempotencyKey marks a reservation done with its response.
	CompleteIdempotencyKey(ctx context.Context, fanID, key string, response []byte) error
}
