package services

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"lootfan/internal/apperrors"
	"lootfan/internal/models"
)

func newTestService(t *testing.T, mode models.AnimationMode, prizes []models.Prize, rng RandomSource) *LootboxService {
	t.Helper()
	st := newTestStore(t, mode, prizes)
	return NewLootboxService(st, NewSimulatedProcessor(decimal.Zero), rng, Options{BonusProbability: 0.2, ConflictRetries: 3})
}

func TestLootboxService_Draw(t *testing.T) {
	ctx := context.Background()
	prizes := []models.Prize{
		{ID: "hoodie", Name: "Hoodie", Variant: models.VariantPhysical, Stock: 1, Probability: 50, CostPrice: decimal.NewFromInt(50)},
		{ID: "wallpaper", Name: "Wallpaper", Variant: models.VariantDigital, Stock: models.UnlimitedStock, Probability: 50},
	}
	// The first roll lands on the hoodie, the rest on the wallpaper.
	rng := &scriptedRNG{values: []float64{0.1, 0.9, 0.9, 0.9}}
	service := newTestService(t, models.AnimationWheel, prizes, rng)

	t.Run("Test draw without credit", func(t *testing.T) {
		if _, err := service.Draw(ctx, "fan-1", "camp-1", ""); !errors.Is(err, apperrors.ErrInsufficientCredit) {
			t.Fatalf("Expected ErrInsufficientCredit, but got %v", err)
		}
	})

	if _, err := service.PurchasePackage(ctx, "fan-1", "camp-1", 2, ""); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	t.Run("Test successful draw commits everything", func(t *testing.T) {
		result, err := service.Draw(ctx, "fan-1", "camp-1", "")
		if err != nil {
			t.Fatalf("Expected no error, but got %v", err)
		}
		if result.Prize.ID != "hoodie" || result.RemainingBalance != 1 {
			t.Errorf("Expected hoodie with 1 credit left, but got %s with %d", result.Prize.ID, result.RemainingBalance)
		}
		if result.BonusGranted {
			t.Error("Expected no bonus outside slot machine mode")
		}

		view, _ := service.GetCampaign(ctx, "camp-1")
		if view.Prizes[0].Stock != 0 {
			t.Errorf("Expected hoodie stock 0, but got %d", view.Prizes[0].Stock)
		}
		if view.Campaign.TotalSpins != 1 {
			t.Errorf("Expected 1 spin on the campaign, but got %d", view.Campaign.TotalSpins)
		}
	})

	t.Run("Test sold out prize is never drawn again", func(t *testing.T) {
		result, err := service.Draw(ctx, "fan-1", "camp-1", "")
		if err != nil {
			t.Fatalf("Expected no error, but got %v", err)
		}
		if result.Prize.ID != "wallpaper" {
			t.Errorf("Expected wallpaper, but got %s", result.Prize.ID)
		}
	})

	t.Run("Test realized performance", func(t *testing.T) {
		perf, err := service.GetRealizedPerformance(ctx, "camp-1")
		if err != nil {
			t.Fatalf("Expected no error, but got %v", err)
		}
		// Two credits at 5% off: 57.00 revenue, 5.70 fees, one hoodie at 50.
		if perf.TotalDraws != 2 || !perf.NetProfitRealized.Equal(decimal.RequireFromString("1.30")) {
			t.Errorf("Expected 2 draws and 1.30 net, but got %d and %s", perf.TotalDraws, perf.NetProfitRealized)
		}
	})
}

func TestLootboxService_SlotBonusFreeSpin(t *testing.T) {
	ctx := context.Background()
	// Each paid draw takes two rolls: the prize and the bonus coin.
	rng := &scriptedRNG{values: []float64{0.05, 0.0}}
	service := newTestService(t, models.AnimationMachine, testPrizes(), rng)
	if _, err := service.PurchaseCredits(ctx, "fan-1", "camp-1", 2, decimal.NewFromInt(30), ""); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	first, err := service.Draw(ctx, "fan-1", "camp-1", "")
	if err != nil {
		t.Fatalf("Expected no error, but got %v", err)
	}
	if !first.BonusGranted || first.Prize.ID != "signed-photo" {
		t.Fatalf("Expected a bonus on signed-photo, but got %+v", first)
	}
	if has, _ := service.HasFreeSpin(ctx, "fan-1", "camp-1"); !has {
		t.Fatal("Expected a free spin to be outstanding")
	}

	second, err := service.Draw(ctx, "fan-1", "camp-1", "")
	if err != nil {
		t.Fatalf("Expected no error, but got %v", err)
	}
	if !second.FreeSpinUsed || second.BonusGranted {
		t.Errorf("Expected a plain free spin, but got %+v", second)
	}
	if second.Prize.ID != first.Prize.ID || second.RecordID != first.RecordID {
		t.Errorf("Expected the stored prize %s to be revealed, but got %s", first.Prize.ID, second.Prize.ID)
	}
	if second.RemainingBalance != 1 {
		t.Errorf("Expected the free spin to leave 1 credit, but got %d", second.RemainingBalance)
	}
	if has, _ := service.HasFreeSpin(ctx, "fan-1", "camp-1"); has {
		t.Error("Expected the free spin to be consumed")
	}

	records, _ := service.store.Records(ctx, "camp-1")
	spins := 0
	for _, r := range records {
		if r.Kind == models.KindSpin {
			spins++
		}
	}
	if spins != 1 {
		t.Errorf("Expected the free spin to write no record, but got %d spin records", spins)
	}

	prizes, _ := service.store.Prizes(ctx, "camp-1")
	if prizes[0].Stock != 4 {
		t.Errorf("Expected one unit of stock taken, but got %d left", prizes[0].Stock)
	}
}

func TestLootboxService_FreeSpinSurvivesCatalogChange(t *testing.T) {
	ctx := context.Background()
	rng := &scriptedRNG{values: []float64{0.05, 0.0}}
	service := newTestService(t, models.AnimationMachine, testPrizes(), rng)
	if _, err := service.PurchaseCredits(ctx, "fan-1", "camp-1", 2, decimal.NewFromInt(30), ""); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	first, err := service.Draw(ctx, "fan-1", "camp-1", "")
	if err != nil || !first.BonusGranted {
		t.Fatalf("Expected a bonus draw, but got %+v (%v)", first, err)
	}

	// The creator drops the prize that was just won.
	if err := service.store.SaveCampaign(ctx, testCampaign(models.AnimationMachine), testPrizes()[1:]); err != nil {
		t.Fatalf("replace catalog: %v", err)
	}

	second, err := service.Draw(ctx, "fan-1", "camp-1", "")
	if err != nil {
		t.Fatalf("Expected the free spin to resolve, but got %v", err)
	}
	if !second.FreeSpinUsed || second.Prize.ID != "signed-photo" || second.Prize.Name != "Signed Photo" {
		t.Errorf("Expected the stored Signed Photo to be revealed, but got %+v", second.Prize)
	}

	third, err := service.Draw(ctx, "fan-1", "camp-1", "")
	if err != nil {
		t.Fatalf("Expected a paid draw after the free spin, but got %v", err)
	}
	if third.FreeSpinUsed || third.RemainingBalance != 0 {
		t.Errorf("Expected a paid draw leaving 0 credits, but got %+v", third)
	}
}

func TestLootboxService_FreeSpinsNeverStack(t *testing.T) {
	ctx := context.Background()
	// Every coin flip wins the bonus.
	rng := &scriptedRNG{values: []float64{0.5, 0.0}}
	service := newTestService(t, models.AnimationMachine, testPrizes(), rng)
	if _, err := service.PurchaseCredits(ctx, "fan-1", "camp-1", 6, decimal.NewFromInt(30), ""); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	for i := 0; i < 6; i++ {
		result, err := service.Draw(ctx, "fan-1", "camp-1", "")
		if err != nil {
			t.Fatalf("draw %d: %v", i, err)
		}
		// Draws alternate between granting and spending the entitlement.
		if wantBonus := i%2 == 0; result.BonusGranted != wantBonus || result.FreeSpinUsed == wantBonus {
			t.Fatalf("draw %d: expected bonus=%t, but got %+v", i, wantBonus, result)
		}
	}
	if bal, _ := service.Balance(ctx, "fan-1", "camp-1"); bal != 3 {
		t.Errorf("Expected 3 credits spent, but %d are left", bal)
	}
}

func TestLootboxService_IdempotentDraw(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t, models.AnimationBox, testPrizes(), NewSeededRNG(3))
	if _, err := service.PurchaseCredits(ctx, "fan-1", "camp-1", 3, decimal.NewFromInt(30), ""); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	first, err := service.Draw(ctx, "fan-1", "camp-1", "draw-1")
	if err != nil {
		t.Fatalf("Expected no error, but got %v", err)
	}
	retry, err := service.Draw(ctx, "fan-1", "camp-1", "draw-1")
	if err != nil {
		t.Fatalf("Expected replay to succeed, but got %v", err)
	}
	if !retry.Replayed || retry.RecordID != first.RecordID || retry.Prize.ID != first.Prize.ID {
		t.Errorf("Expected replay of %+v, but got %+v", first, retry)
	}
	if bal, _ := service.Balance(ctx, "fan-1", "camp-1"); bal != 2 {
		t.Errorf("Expected one credit consumed, but balance is %d", bal)
	}

	t.Run("failed keyed draw can be retried", func(t *testing.T) {
		if _, err := service.Draw(ctx, "fan-2", "camp-1", "draw-x"); !errors.Is(err, apperrors.ErrInsufficientCredit) {
			t.Fatalf("Expected ErrInsufficientCredit, but got %v", err)
		}
		if _, err := service.PurchaseCredits(ctx, "fan-2", "camp-1", 1, decimal.NewFromInt(30), ""); err != nil {
			t.Fatalf("purchase: %v", err)
		}
		if _, err := service.Draw(ctx, "fan-2", "camp-1", "draw-x"); err != nil {
			t.Errorf("Expected retry to succeed, but got %v", err)
		}
	})
}

func TestLootboxService_AllSoldOutLeavesCreditUntouched(t *testing.T) {
	ctx := context.Background()
	prizes := []models.Prize{{ID: "only", Name: "Only", Variant: models.VariantPhysical, Stock: 0, Probability: 100}}
	service := newTestService(t, models.AnimationLoot, prizes, nil)
	if _, err := service.PurchaseCredits(ctx, "fan-1", "camp-1", 1, decimal.NewFromInt(30), ""); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if _, err := service.Draw(ctx, "fan-1", "camp-1", ""); !errors.Is(err, apperrors.ErrNoEligiblePrizes) {
		t.Fatalf("Expected ErrNoEligiblePrizes, but got %v", err)
	}
	if bal, _ := service.Balance(ctx, "fan-1", "camp-1"); bal != 1 {
		t.Errorf("Expected the credit to be kept, but balance is %d", bal)
	}
}

func TestLootboxService_Preview(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t, models.AnimationMachine, testPrizes(), &scriptedRNG{values: []float64{0.05, 0.0}})

	result, err := service.Preview(ctx, "camp-1")
	if err != nil {
		t.Fatalf("Expected no error, but got %v", err)
	}
	if !result.Preview || result.Prize.ID != "signed-photo" || !result.BonusGranted {
		t.Errorf("Unexpected preview %+v", result)
	}
	prizes, _ := service.store.Prizes(ctx, "camp-1")
	if prizes[0].Stock != 5 {
		t.Errorf("Expected preview to leave stock at 5, but got %d", prizes[0].Stock)
	}
	if records, _ := service.store.Records(ctx, "camp-1"); len(records) != 0 {
		t.Errorf("Expected preview to write nothing, but got %d records", len(records))
	}
	if has, _ := service.HasFreeSpin(ctx, "creator-1", "camp-1"); has {
		t.Error("Expected preview not to grant a free spin")
	}
}

func TestLootboxService_Packages(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t, models.AnimationBox, testPrizes(), nil)

	packages, err := service.GetPackages(ctx, "camp-1")
	if err != nil {
		t.Fatalf("Expected no error, but got %v", err)
	}
	want := map[int]string{1: "30", 2: "57", 5: "135"}
	for _, p := range packages {
		if !p.Total.Equal(decimal.RequireFromString(want[p.Quantity])) {
			t.Errorf("package %d: expected total %s, but got %s", p.Quantity, want[p.Quantity], p.Total)
		}
	}

	if _, err := service.PurchasePackage(ctx, "fan-1", "camp-1", 3, ""); !errors.Is(err, apperrors.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for an unknown package, but got %v", err)
	}
	res, err := service.PurchasePackage(ctx, "fan-1", "camp-1", 5, "")
	if err != nil {
		t.Fatalf("Expected no error, but got %v", err)
	}
	if !res.AmountPaid.Equal(decimal.NewFromInt(135)) || res.Balance != 5 {
		t.Errorf("Expected 5 credits for 135, but got %d for %s", res.Balance, res.AmountPaid)
	}
}
