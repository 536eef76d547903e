package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"lootfan/internal/apperrors"
	"lootfan/internal/models"
	"lootfan/internal/store"
)

// Options tunes a LootboxService.
type Options struct {
	// BonusProbability is the chance that a slot machine draw takes the
	// bonus branch and grants a free spin.
	BonusProbability float64
	// ConflictRetries bounds the attempts made when a commit loses a race.
	ConflictRetries uint
}

// LootboxService is the entry point for the presentation layer. It combines
// the catalog, the draw engine and the credit ledger over one Store.
type LootboxService struct {
	store            store.Store
	engine           *DrawEngine
	ledger           *CreditLedger
	bonusProbability float64
}

// NewLootboxService wires the services over st.
func NewLootboxService(st store.Store, payments PaymentProcessor, rng RandomSource, opts Options) *LootboxService {
	return &LootboxService{
		store:            st,
		engine:           NewDrawEngine(rng),
		ledger:           NewCreditLedger(st, payments, opts.ConflictRetries),
		bonusProbability: opts.BonusProbability,
	}
}

// CampaignView is a campaign with its catalog and authoring status.
type CampaignView struct {
	Campaign     *models.Campaign `json:"campaign"`
	Prizes       []models.Prize   `json:"prizes"`
	Distribution Distribution     `json:"distribution"`
}

// GetCampaign returns the campaign and its catalog.
func (s *LootboxService) GetCampaign(ctx context.Context, campaignID string) (*CampaignView, error) {
	campaign, prizes, err := s.load(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	return &CampaignView{Campaign: campaign, Prizes: prizes, Distribution: CheckDistribution(prizes)}, nil
}

// GetWheelSlices returns the wheel layout for the current stock.
func (s *LootboxService) GetWheelSlices(ctx context.Context, campaignID string) ([]VisualSlice, error) {
	prizes, err := s.store.Prizes(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	return WheelSlices(prizes)
}

// GetPackages lists the credit bundles of a campaign.
func (s *LootboxService) GetPackages(ctx context.Context, campaignID string) ([]CreditPackage, error) {
	campaign, err := s.store.Campaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	return Packages(campaign.PricePerSpin), nil
}

// PurchaseCredits buys quantity credits at unitPrice each.
func (s *LootboxService) PurchaseCredits(ctx context.Context, fanID, campaignID string, quantity int, unitPrice decimal.Decimal, idempotencyKey string) (*PurchaseResult, error) {
	return s.ledger.Purchase(ctx, PurchaseRequest{
		FanID:          fanID,
		CampaignID:     campaignID,
		Quantity:       quantity,
		UnitPrice:      unitPrice,
		IdempotencyKey: idempotencyKey,
	})
}

// PurchasePackage buys one of the campaign's credit bundles, priced here.
func (s *LootboxService) PurchasePackage(ctx context.Context, fanID, campaignID string, quantity int, idempotencyKey string) (*PurchaseResult, error) {
	campaign, err := s.store.Campaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	unit, _, err := PackagePrice(campaign.PricePerSpin, quantity)
	if err != nil {
		return nil, err
	}
	return s.PurchaseCredits(ctx, fanID, campaignID, quantity, unit, idempotencyKey)
}

// DrawResult is the committed outcome of one draw.
type DrawResult struct {
	RecordID         string               `json:"recordId,omitempty"`
	CampaignID       string               `json:"campaignId"`
	Animation        models.AnimationMode `json:"animation"`
	Prize            models.PrizeSnapshot `json:"prize"`
	RemainingBalance int                  `json:"remainingBalance"`
	// Wheel is the layout the draw was made against, for wheel campaigns.
	Wheel []VisualSlice `json:"wheel,omitempty"`
	// BonusGranted means the slot machine took the bonus branch. Prize is
	// already committed and is revealed by the free spin.
	BonusGranted bool `json:"bonusGranted"`
	FreeSpinUsed bool `json:"freeSpinUsed"`
	Preview      bool `json:"preview"`
	Replayed     bool `json:"replayed"`
}

// Draw spends one credit, or the outstanding free spin, and commits the
// outcome in a single transaction. Retrying with the same idempotency key
// returns the original outcome.
func (s *LootboxService) Draw(ctx context.Context, fanID, campaignID, idempotencyKey string) (*DrawResult, error) {
	if fanID == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "fan id is required")
	}
	campaign, err := activeCampaign(ctx, s.store, campaignID)
	if err != nil {
		return nil, err
	}

	cached, replay, err := reserveKey(ctx, s.store, fanID, idempotencyKey, opDraw, campaignID, "")
	if err != nil {
		return nil, err
	}
	if replay {
		var result DrawResult
		if err := json.Unmarshal(cached, &result); err != nil {
			return nil, fmt.Errorf("decode cached draw: %w", err)
		}
		result.Replayed = true
		return &result, nil
	}

	var result *DrawResult
	err = s.ledger.withRetry(ctx, func() error {
		// Snapshot outside the transaction; the stock itself is guarded by
		// the conditional decrement.
		prizes, err := s.store.Prizes(ctx, campaignID)
		if err != nil {
			return err
		}
		return s.store.WithinTx(ctx, func(tx store.Tx) error {
			r, err := s.commitDraw(ctx, tx, campaign, prizes, fanID)
			if err != nil {
				return err
			}
			if err := completeKey(ctx, tx, fanID, idempotencyKey, r); err != nil {
				return err
			}
			result = r
			return nil
		})
	})
	if err != nil {
		releaseKey(ctx, s.store, fanID, idempotencyKey)
		logger.Warningf("draw: fan %s on campaign %s failed: %v", fanID, campaignID, err)
		return nil, err
	}

	logger.Infof("draw: fan %s won %s on campaign %s (bonus=%t free=%t balance=%d)",
		fanID, result.Prize.ID, campaignID, result.BonusGranted, result.FreeSpinUsed, result.RemainingBalance)
	return result, nil
}

func (s *LootboxService) commitDraw(ctx context.Context, tx store.Tx, campaign *models.Campaign, prizes []models.Prize, fanID string) (*DrawResult, error) {
	result := &DrawResult{CampaignID: campaign.ID, Animation: campaign.Animation}

	fs, err := tx.TakeFreeSpin(ctx, fanID, campaign.ID)
	if err != nil {
		return nil, err
	}
	if fs != nil {
		balance, err := tx.Balance(ctx, fanID, campaign.ID)
		if err != nil {
			return nil, err
		}
		result.RecordID = fs.RecordID
		result.Prize = freeSpinPrize(fs, prizes)
		result.RemainingBalance = balance
		result.FreeSpinUsed = true
		return result, nil
	}

	balance, err := tx.ConsumeCredit(ctx, fanID, campaign.ID)
	if err != nil {
		return nil, err
	}
	prize, err := s.engine.Draw(prizes)
	if err != nil {
		return nil, err
	}
	if _, err := tx.DecrementStock(ctx, prize.ID); err != nil {
		return nil, err
	}

	rec := &models.DrawRecord{
		ID:          uuid.NewString(),
		CampaignID:  campaign.ID,
		FanID:       fanID,
		PrizeID:     prize.ID,
		PrizeName:   prize.Name,
		Kind:        models.KindSpin,
		Quantity:    1,
		AmountPaid:  decimal.Zero,
		PlatformFee: decimal.Zero,
		CreatorNet:  decimal.Zero,
		Prize:       datatypes.NewJSONType(prize.Snapshot()),
	}
	if err := tx.AppendRecord(ctx, rec); err != nil {
		return nil, err
	}
	if err := tx.AddCampaignTotals(ctx, campaign.ID, 1, decimal.Zero); err != nil {
		return nil, err
	}

	result.RecordID = rec.ID
	result.Prize = prize.Snapshot()
	result.RemainingBalance = balance
	result.Wheel = wheelFor(campaign, prizes)

	if s.rollBonus(campaign) {
		err := tx.GrantFreeSpin(ctx, models.FreeSpin{
			FanID:      fanID,
			CampaignID: campaign.ID,
			PrizeID:    prize.ID,
			RecordID:   rec.ID,
			Prize:      datatypes.NewJSONType(prize.Snapshot()),
		})
		switch {
		case err == nil:
			result.BonusGranted = true
		case errors.Is(err, apperrors.ErrFreeSpinOutstanding):
			logger.Warningf("draw: free spin for fan %s already outstanding, playing direct win", fanID)
		default:
			return nil, err
		}
	}
	return result, nil
}

// freeSpinPrize returns the prize committed when the free spin was granted.
// Entitlements stored without a snapshot fall back to the catalog.
func freeSpinPrize(fs *models.FreeSpin, prizes []models.Prize) models.PrizeSnapshot {
	if snap := fs.Prize.Data(); snap.ID != "" {
		return snap
	}
	if prize, ok := findPrize(prizes, fs.PrizeID); ok {
		return prize.Snapshot()
	}
	return models.PrizeSnapshot{ID: fs.PrizeID}
}

// rollBonus flips the slot machine bonus coin.
func (s *LootboxService) rollBonus(campaign *models.Campaign) bool {
	return campaign.Animation == models.AnimationMachine && s.engine.Float64() < s.bonusProbability
}

// Preview performs a test-mode draw for the creator. Nothing is written.
func (s *LootboxService) Preview(ctx context.Context, campaignID string) (*DrawResult, error) {
	campaign, prizes, err := s.load(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	prize, err := s.engine.Draw(prizes)
	if err != nil {
		return nil, err
	}
	return &DrawResult{
		CampaignID:   campaign.ID,
		Animation:    campaign.Animation,
		Prize:        prize.Snapshot(),
		Wheel:        wheelFor(campaign, prizes),
		BonusGranted: s.rollBonus(campaign),
		Preview:      true,
	}, nil
}

// wheelFor lays out the wheel from the catalog snapshot taken before the
// stock was decremented, so a prize that just sold out still has its slice.
func wheelFor(campaign *models.Campaign, prizes []models.Prize) []VisualSlice {
	if campaign.Animation != models.AnimationWheel {
		return nil
	}
	slices, err := WheelSlices(prizes)
	if err != nil {
		return nil
	}
	return slices
}

// GetFinancialSnapshot projects the campaign's profitability.
func (s *LootboxService) GetFinancialSnapshot(ctx context.Context, campaignID string) (*FinancialSnapshot, error) {
	campaign, prizes, err := s.load(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	snap := ProjectFinancials(campaign, prizes)
	return &snap, nil
}

// GetRealizedPerformance aggregates the campaign ledger.
func (s *LootboxService) GetRealizedPerformance(ctx context.Context, campaignID string) (*RealizedPerformance, error) {
	_, prizes, err := s.load(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	records, err := s.store.Records(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	perf := AnalyzePerformance(campaignID, prizes, records)
	return &perf, nil
}

// Balance returns the fan's credits.
func (s *LootboxService) Balance(ctx context.Context, fanID, campaignID string) (int, error) {
	if _, err := s.store.Campaign(ctx, campaignID); err != nil {
		return 0, err
	}
	return s.ledger.Balance(ctx, fanID, campaignID)
}

// HasFreeSpin reports whether the fan has a bonus free spin waiting.
func (s *LootboxService) HasFreeSpin(ctx context.Context, fanID, campaignID string) (bool, error) {
	return s.ledger.HasFreeSpin(ctx, fanID, campaignID)
}

func (s *LootboxService) load(ctx context.Context, campaignID string) (*models.Campaign, []models.Prize, error) {
	campaign, err := s.store.Campaign(ctx, campaignID)
	if err != nil {
		return nil, nil, err
	}
	prizes, err := s.store.Prizes(ctx, campaignID)
	if err != nil {
		return nil, nil, err
	}
	return campaign, prizes, nil
}

func findPrize(prizes []models.Prize, id string) (models.Prize, bool) {
	for _, p := range prizes {
		if p.ID == id {
			return p, true
		}
	}
	return models.Prize{}, false
}
