package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"lootfan/internal/apperrors"
	"lootfan/internal/models"
	"lootfan/internal/store"
)

const (
	opPurchase = "purchase"
	opDraw     = "draw"
)

// CreditLedger owns every mutation of credit balances.
type CreditLedger struct {
	store    store.Store
	payments PaymentProcessor
	retries  uint
}

// NewCreditLedger creates a ledger that retries lost races up to retries
// times in total.
func NewCreditLedger(st store.Store, payments PaymentProcessor, retries uint) *CreditLedger {
	if retries == 0 {
		retries = 1
	}
	return &CreditLedger{store: st, payments: payments, retries: retries}
}

// PurchaseRequest asks for quantity credits at unitPrice each.
type PurchaseRequest struct {
	FanID          string
	CampaignID     string
	Quantity       int
	UnitPrice      decimal.Decimal
	IdempotencyKey string
}

// PurchaseResult is returned by Purchase and cached for keyed retries.
type PurchaseResult struct {
	RecordID   string          `json:"recordId"`
	Balance    int             `json:"balance"`
	Quantity   int             `json:"quantity"`
	AmountPaid decimal.Decimal `json:"amountPaid"`
	Replayed   bool            `json:"replayed"`
}

// Purchase charges the fan first and only then credits the balance and
// appends the purchase record. A retried request with the same idempotency
// key returns the first result without charging again.
func (l *CreditLedger) Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	if req.FanID == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "fan id is required")
	}
	if req.Quantity <= 0 {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "credit quantity must be positive")
	}
	if !req.UnitPrice.IsPositive() {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "unit price must be positive")
	}
	campaign, err := activeCampaign(ctx, l.store, req.CampaignID)
	if err != nil {
		return nil, err
	}

	cached, replay, err := reserveKey(ctx, l.store, req.FanID, req.IdempotencyKey, opPurchase, req.CampaignID, req.fingerprint())
	if err != nil {
		return nil, err
	}
	if replay {
		var result PurchaseResult
		if err := json.Unmarshal(cached, &result); err != nil {
			return nil, fmt.Errorf("decode cached purchase: %w", err)
		}
		result.Replayed = true
		return &result, nil
	}

	amount := req.UnitPrice.Mul(decimal.NewFromInt(int64(req.Quantity))).Round(2)
	ref, err := l.payments.Charge(ctx, req.FanID, amount)
	if err != nil {
		releaseKey(ctx, l.store, req.FanID, req.IdempotencyKey)
		if apperrors.CodeOf(err) == apperrors.CodeUnknown && ctx.Err() == nil {
			err = apperrors.Wrap(apperrors.CodePaymentDeclined, "payment failed", err)
		}
		logger.Warningf("ledger: charge for fan %s on campaign %s failed: %v", req.FanID, req.CampaignID, err)
		return nil, err
	}

	fee, net := SplitFee(amount, campaign.PlatformFeeRate)
	result := &PurchaseResult{Quantity: req.Quantity, AmountPaid: amount}
	err = l.withRetry(ctx, func() error {
		return l.store.WithinTx(ctx, func(tx store.Tx) error {
			balance, err := tx.AddCredits(ctx, req.FanID, req.CampaignID, req.Quantity)
			if err != nil {
				return err
			}
			rec := &models.DrawRecord{
				ID:          uuid.NewString(),
				CampaignID:  req.CampaignID,
				FanID:       req.FanID,
				Kind:        models.KindCreditPurchase,
				Quantity:    req.Quantity,
				AmountPaid:  amount,
				PlatformFee: fee,
				CreatorNet:  net,
			}
			if err := tx.AppendRecord(ctx, rec); err != nil {
				return err
			}
			if err := tx.AddCampaignTotals(ctx, req.CampaignID, 0, amount); err != nil {
				return err
			}
			result.RecordID = rec.ID
			result.Balance = balance
			return completeKey(ctx, tx, req.FanID, req.IdempotencyKey, result)
		})
	})
	if err != nil {
		releaseKey(ctx, l.store, req.FanID, req.IdempotencyKey)
		logger.Errorf("ledger: commit of paid purchase %s for fan %s failed: %v", ref, req.FanID, err)
		l.refund(ctx, ref, amount)
		return nil, err
	}

	logger.Infof("ledger: fan %s bought %d credits on campaign %s for %s, balance %d",
		req.FanID, req.Quantity, req.CampaignID, amount.StringFixed(2), result.Balance)
	return result, nil
}

func (l *CreditLedger) refund(ctx context.Context, ref string, amount decimal.Decimal) {
	refunder, ok := l.payments.(Refunder)
	if !ok {
		logger.Errorf("ledger: processor cannot refund charge %s, manual refund of %s needed", ref, amount.StringFixed(2))
		return
	}
	// The request context may already be gone.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := refunder.Refund(ctx, ref, amount); err != nil {
		logger.Errorf("ledger: refund of charge %s failed: %v", ref, err)
		return
	}
	logger.Warningf("ledger: refunded charge %s after failed commit", ref)
}

// Consume spends one credit. It fails with apperrors.ErrInsufficientCredit
// when the balance is zero and leaves the balance untouched.
func (l *CreditLedger) Consume(ctx context.Context, fanID, campaignID string) (int, error) {
	var balance int
	err := l.withRetry(ctx, func() error {
		return l.store.WithinTx(ctx, func(tx store.Tx) error {
			var err error
			balance, err = tx.ConsumeCredit(ctx, fanID, campaignID)
			return err
		})
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// Balance returns the fan's credits, 0 when none were ever bought.
func (l *CreditLedger) Balance(ctx context.Context, fanID, campaignID string) (int, error) {
	return l.store.Balance(ctx, fanID, campaignID)
}

// HasFreeSpin reports whether a bonus free spin is waiting to be played.
func (l *CreditLedger) HasFreeSpin(ctx context.Context, fanID, campaignID string) (bool, error) {
	fs, err := l.store.FreeSpin(ctx, fanID, campaignID)
	if err != nil {
		return false, err
	}
	return fs != nil, nil
}

// withRetry re-runs op while it loses races. Any other error stops at once.
func (l *CreditLedger) withRetry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := op()
		if err != nil && !apperrors.Retryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(l.retries),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warningf("ledger: conflict, retrying in %s: %v", next, err)
		}),
	)
	return err
}

// SplitFee divides a payment into the platform fee and the creator's share,
// both rounded to cents.
func SplitFee(amount, feeRate decimal.Decimal) (fee, net decimal.Decimal) {
	fee = amount.Mul(feeRate).Round(2)
	return fee, amount.Sub(fee)
}

func activeCampaign(ctx context.Context, st store.Store, campaignID string) (*models.Campaign, error) {
	campaign, err := st.Campaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if !campaign.IsActive {
		return nil, apperrors.WithMetadata(apperrors.CodeCampaignInactive, "campaign is not active",
			map[string]string{"campaign_id": campaignID})
	}
	return campaign, nil
}

// fingerprint identifies the parameters a purchase key is bound to.
func (r PurchaseRequest) fingerprint() string {
	return fmt.Sprintf("quantity=%d;unit_price=%s", r.Quantity, r.UnitPrice.StringFixed(2))
}

// reserveKey claims an idempotency key. replay is true when the keyed
// request already finished and cached holds its response. A key may only be
// replayed by a request with the same operation, campaign and fingerprint.
func reserveKey(ctx context.Context, st store.Store, fanID, key, op, campaignID, fingerprint string) (cached []byte, replay bool, err error) {
	if key == "" {
		return nil, false, nil
	}
	existing, reserved, err := st.ReserveIdempotencyKey(ctx, models.IdempotencyRecord{
		FanID:       fanID,
		Key:         key,
		Operation:   op,
		CampaignID:  campaignID,
		Fingerprint: fingerprint,
	})
	if err != nil {
		return nil, false, err
	}
	if reserved {
		return nil, false, nil
	}
	if existing.Operation != op || existing.CampaignID != campaignID || existing.Fingerprint != fingerprint {
		return nil, false, apperrors.WithMetadata(apperrors.CodeInvalidArgument, "idempotency key reused for a different request",
			map[string]string{"key": key})
	}
	if existing.Status != models.IdempotencyDone {
		return nil, false, apperrors.WithMetadata(apperrors.CodeRequestInProgress, "request with this key is still running",
			map[string]string{"key": key})
	}
	return existing.Response, true, nil
}

func completeKey(ctx context.Context, tx store.Tx, fanID, key string, response any) error {
	if key == "" {
		return nil
	}
	body, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	return tx.CompleteIdempotencyKey(ctx, fanID, key, body)
}

func releaseKey(ctx context.Context, st store.Store, fanID, key string) {
	if key == "" {
		return
	}
	if err := st.ReleaseIdempotencyKey(context.WithoutCancel(ctx), fanID, key); err != nil {
		logger.Warningf("ledger: release idempotency key %s for fan %s: %v", key, fanID, err)
	}
}
