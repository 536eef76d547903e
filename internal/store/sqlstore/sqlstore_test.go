package sqlstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"lootfan/internal/apperrors"
	"lootfan/internal/config"
	"lootfan/internal/models"
	"lootfan/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(config.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s := New(db)
	if err := s.AutoMigrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	campaign := &models.Campaign{
		ID:              "camp-1",
		CreatorID:       "creator-1",
		Title:           "Mystery Box",
		Slug:            "mystery-box",
		PricePerSpin:    decimal.NewFromInt(30),
		PlatformFeeRate: decimal.RequireFromString("0.10"),
		IsActive:        true,
		Animation:       models.AnimationMachine,
	}
	prizes := []models.Prize{
		{ID: "sticker", Name: "Sticker", Variant: models.VariantDigital, Stock: models.UnlimitedStock, Probability: 80},
		{ID: "hoodie", Name: "Hoodie", Variant: models.VariantPhysical, Stock: 2, Probability: 20, CostPrice: decimal.NewFromInt(50)},
	}
	if err := s.SaveCampaign(context.Background(), campaign, prizes); err != nil {
		t.Fatalf("save campaign: %v", err)
	}
	return s
}

func TestSQLStore_Catalog(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	prizes, err := s.Prizes(ctx, "camp-1")
	if err != nil {
		t.Fatalf("Expected no error, but got %v", err)
	}
	if len(prizes) != 2 || prizes[0].ID != "sticker" || prizes[1].ID != "hoodie" {
		t.Fatalf("Expected prizes in catalog order, but got %+v", prizes)
	}
	if !prizes[1].CostPrice.Equal(decimal.NewFromInt(50)) {
		t.Errorf("Expected hoodie cost 50, but got %s", prizes[1].CostPrice)
	}

	if _, err := s.Campaign(ctx, "missing"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, but got %v", err)
	}
}

func TestSQLStore_SeedKeepsLiveState(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	campaign := models.Campaign{
		ID:              "camp-2",
		CreatorID:       "creator-1",
		Title:           "Tour Drop",
		Slug:            "tour-drop",
		PricePerSpin:    decimal.NewFromInt(30),
		PlatformFeeRate: decimal.RequireFromString("0.10"),
		IsActive:        true,
		Animation:       models.AnimationBox,
	}
	prizes := []models.Prize{
		{ID: "keychain", Name: "Keychain", Variant: models.VariantPhysical, Stock: 1, Probability: 10, CostPrice: decimal.NewFromInt(5)},
		{ID: "poster", Name: "Poster", Variant: models.VariantDigital, Stock: models.UnlimitedStock, Probability: 90},
	}
	seedOnce := func(prizes []models.Prize) bool {
		c := campaign
		created, err := s.SeedCampaign(ctx, &c, prizes)
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
		return created
	}

	if !seedOnce(prizes) {
		t.Fatal("Expected the first seed to create the campaign")
	}
	err := s.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := tx.DecrementStock(ctx, "keychain"); err != nil {
			return err
		}
		return tx.AddCampaignTotals(ctx, "camp-2", 1, decimal.NewFromInt(30))
	})
	if err != nil {
		t.Fatalf("Expected no error, but got %v", err)
	}
	before, _ := s.Campaign(ctx, "camp-2")

	more := append(append([]models.Prize(nil), prizes...),
		models.Prize{ID: "pin", Name: "Pin", Variant: models.VariantDigital, Stock: models.UnlimitedStock, Probability: 5})
	if seedOnce(more) {
		t.Error("Expected the second seed to find the campaign")
	}

	after, err := s.Campaign(ctx, "camp-2")
	if err != nil {
		t.Fatalf("Expected no error, but got %v", err)
	}
	if after.TotalSpins != 1 || !after.TotalRevenue.Equal(decimal.NewFromInt(30)) {
		t.Errorf("Expected totals 1 / 30 to survive, but got %d / %s", after.TotalSpins, after.TotalRevenue)
	}
	if !after.CreatedAt.Equal(before.CreatedAt) {
		t.Errorf("Expected created_at %v to survive, but got %v", before.CreatedAt, after.CreatedAt)
	}

	got, _ := s.Prizes(ctx, "camp-2")
	stock := make(map[string]int, len(got))
	for _, p := range got {
		stock[p.ID] = p.Stock
	}
	if len(got) != 3 {
		t.Errorf("Expected the new prize to be added, but got %d prizes", len(got))
	}
	if stock["keychain"] != 0 {
		t.Errorf("Expected sold out keychain to stay at 0, but got %d", stock["keychain"])
	}
}

func TestSQLStore_CreditsAndStock(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := tx.AddCredits(ctx, "fan-1", "camp-1", 1); err != nil {
			return err
		}
		bal, err := tx.AddCredits(ctx, "fan-1", "camp-1", 2)
		if bal != 3 {
			t.Errorf("Expected balance 3 after two purchases, but got %d", bal)
		}
		return err
	})
	if err != nil {
		t.Fatalf("Expected no error, but got %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	consumed := 0
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithinTx(ctx, func(tx store.Tx) error {
				_, err := tx.ConsumeCredit(ctx, "fan-1", "camp-1")
				return err
			})
			if err == nil {
				mu.Lock()
				consumed++
				mu.Unlock()
			} else if !errors.Is(err, apperrors.ErrInsufficientCredit) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if consumed != 3 {
		t.Errorf("Expected exactly 3 credits consumed, but got %d", consumed)
	}
	if bal, _ := s.Balance(ctx, "fan-1", "camp-1"); bal != 0 {
		t.Errorf("Expected balance 0, but got %d", bal)
	}

	decrement := func(id string) (int, error) {
		var left int
		err := s.WithinTx(ctx, func(tx store.Tx) error {
			var err error
			left, err = tx.DecrementStock(ctx, id)
			return err
		})
		return left, err
	}
	for want := 1; want >= 0; want-- {
		if left, err := decrement("hoodie"); err != nil || left != want {
			t.Fatalf("Expected stock %d, but got %d (%v)", want, left, err)
		}
	}
	if _, err := decrement("hoodie"); !errors.Is(err, apperrors.ErrStockExhausted) {
		t.Errorf("Expected ErrStockExhausted, but got %v", err)
	}
	if left, err := decrement("sticker"); err != nil || left != models.UnlimitedStock {
		t.Errorf("Expected unlimited stock untouched, but got %d (%v)", left, err)
	}
	if _, err := decrement("ghost"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, but got %v", err)
	}
}

func TestSQLStore_DrawCommitIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := tx.AddCredits(ctx, "fan-1", "camp-1", 1); err != nil {
			return err
		}
		if _, err := tx.DecrementStock(ctx, "hoodie"); err != nil {
			return err
		}
		rec := &models.DrawRecord{
			ID: "rec-1", CampaignID: "camp-1", FanID: "fan-1", PrizeID: "hoodie", PrizeName: "Hoodie",
			Kind: models.KindSpin, AmountPaid: decimal.NewFromInt(30),
		}
		if err := tx.AppendRecord(ctx, rec); err != nil {
			return err
		}
		if err := tx.AddCampaignTotals(ctx, "camp-1", 1, decimal.NewFromInt(30)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, but got %v", err)
	}
	if recs, _ := s.Records(ctx, "camp-1"); len(recs) != 0 {
		t.Errorf("Expected no records, but got %d", len(recs))
	}
	prizes, _ := s.Prizes(ctx, "camp-1")
	if prizes[1].Stock != 2 {
		t.Errorf("Expected hoodie stock 2, but got %d", prizes[1].Stock)
	}
	c, _ := s.Campaign(ctx, "camp-1")
	if c.TotalSpins != 0 {
		t.Errorf("Expected no spins, but got %d", c.TotalSpins)
	}

	err = s.WithinTx(ctx, func(tx store.Tx) error {
		rec := &models.DrawRecord{
			ID: "rec-2", CampaignID: "camp-1", FanID: "fan-1", PrizeID: "hoodie", PrizeName: "Hoodie",
			Kind:  models.KindSpin,
			Prize: datatypes.NewJSONType(models.PrizeSnapshot{ID: "hoodie", Name: "Hoodie", Variant: models.VariantPhysical}),
		}
		if err := tx.AppendRecord(ctx, rec); err != nil {
			return err
		}
		return tx.AddCampaignTotals(ctx, "camp-1", 1, decimal.NewFromInt(30))
	})
	if err != nil {
		t.Fatalf("Expected no error, but got %v", err)
	}
	recs, _ := s.Records(ctx, "camp-1")
	if len(recs) != 1 || recs[0].Prize.Data().Name != "Hoodie" {
		t.Fatalf("Expected the hoodie record with its snapshot, but got %+v", recs)
	}
	c, _ = s.Campaign(ctx, "camp-1")
	if c.TotalSpins != 1 || !c.TotalRevenue.Equal(decimal.NewFromInt(30)) {
		t.Errorf("Expected 1 spin and 30 revenue, but got %d and %s", c.TotalSpins, c.TotalRevenue)
	}
}

func TestSQLStore_FreeSpinAndIdempotency(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	fs := models.FreeSpin{
		FanID: "fan-1", CampaignID: "camp-1", PrizeID: "hoodie", RecordID: "rec-1",
		Prize: datatypes.NewJSONType(models.PrizeSnapshot{ID: "hoodie", Name: "Hoodie", Variant: models.VariantPhysical}),
	}

	grant := func() error {
		return s.WithinTx(ctx, func(tx store.Tx) error { return tx.GrantFreeSpin(ctx, fs) })
	}
	if err := grant(); err != nil {
		t.Fatalf("Expected grant to succeed, but got %v", err)
	}
	if err := grant(); !errors.Is(err, apperrors.ErrFreeSpinOutstanding) {
		t.Fatalf("Expected ErrFreeSpinOutstanding, but got %v", err)
	}
	var taken *models.FreeSpin
	if err := s.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		taken, err = tx.TakeFreeSpin(ctx, "fan-1", "camp-1")
		return err
	}); err != nil || taken == nil || taken.RecordID != "rec-1" {
		t.Fatalf("Expected to take rec-1 free spin, got %+v (%v)", taken, err)
	}
	if snap := taken.Prize.Data(); snap.Name != "Hoodie" || snap.Variant != models.VariantPhysical {
		t.Errorf("Expected the stored Hoodie snapshot, but got %+v", snap)
	}
	if got, _ := s.FreeSpin(ctx, "fan-1", "camp-1"); got != nil {
		t.Errorf("Expected free spin to be consumed, but got %+v", got)
	}

	rec := models.IdempotencyRecord{FanID: "fan-1", Key: "k1", Operation: "draw", CampaignID: "camp-1"}
	if _, reserved, err := s.ReserveIdempotencyKey(ctx, rec); err != nil || !reserved {
		t.Fatalf("Expected reservation, got reserved=%v err=%v", reserved, err)
	}
	if existing, reserved, err := s.ReserveIdempotencyKey(ctx, rec); err != nil || reserved || existing.Status != models.IdempotencyPending {
		t.Fatalf("Expected pending duplicate, got %+v reserved=%v err=%v", existing, reserved, err)
	}
	if err := s.WithinTx(ctx, func(tx store.Tx) error {
		return tx.CompleteIdempotencyKey(ctx, "fan-1", "k1", []byte(`{"ok":true}`))
	}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	existing, _, _ := s.ReserveIdempotencyKey(ctx, rec)
	if existing.Status != models.IdempotencyDone || string(existing.Response) != `{"ok":true}` {
		t.Errorf("Unexpected stored record %+v", existing)
	}

	if err := s.ReleaseIdempotencyKey(ctx, "fan-1", "k1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, reserved, _ := s.ReserveIdempotencyKey(ctx, rec); reserved {
		t.Error("Expected a done key to survive release")
	}
}
