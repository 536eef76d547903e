package services

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"lootfan/internal/models"
	"lootfan/internal/store/memory"
)

// scriptedRNG replays a fixed sequence of values, cycling at the end.
type scriptedRNG struct {
	mu     sync.Mutex
	values []float64
	next   int
}

func (s *scriptedRNG) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.values[s.next%len(s.values)]
	s.next++
	return v
}

func testCampaign(mode models.AnimationMode) *models.Campaign {
	return &models.Campaign{
		ID:              "camp-1",
		CreatorID:       "creator-1",
		Title:           "Summer Drop",
		Slug:            "summer-drop",
		PricePerSpin:    decimal.NewFromInt(30),
		PlatformFeeRate: decimal.RequireFromString("0.10"),
		IsActive:        true,
		Animation:       mode,
	}
}

func testPrizes() []models.Prize {
	return []models.Prize{
		{ID: "signed-photo", Name: "Signed Photo", Variant: models.VariantPhysical, Stock: 5, Probability: 10, CostPrice: decimal.NewFromInt(20)},
		{ID: "wallpaper", Name: "Wallpaper Pack", Variant: models.VariantDigital, Stock: models.UnlimitedStock, Probability: 60},
		{ID: "secret-clip", Name: "Secret Clip", Variant: models.VariantSingleView, Stock: models.UnlimitedStock, Probability: 30},
	}
}

func newTestStore(t *testing.T, mode models.AnimationMode, prizes []models.Prize) *memory.Store {
	t.Helper()
	st := memory.New()
	if err := st.SaveCampaign(context.Background(), testCampaign(mode), prizes); err != nil {
		t.Fatalf("save campaign: %v", err)
	}
	return st
}
