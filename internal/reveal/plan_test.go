package reveal

import (
	"math"
	"testing"

	"lootfan/internal/models"
	"lootfan/internal/services"
)

type fixedRNG float64

func (f fixedRNG) Float64() float64 { return float64(f) }

func TestBuildPlan_Wheel(t *testing.T) {
	wheel := []services.VisualSlice{
		{ID: "s0", PrizeID: "common", Percentage: 25},
		{ID: "s1", PrizeID: "rare", Percentage: 25},
		{ID: "s2", PrizeID: "common", Percentage: 50},
	}

	tests := []struct {
		name      string
		prizeID   string
		roll      float64
		wantSlice string
		wantDeg   float64
	}{
		{"single slice", "rare", 0, "s1", 1800 + 360 - 135},
		{"first of two slices", "common", 0.1, "s0", 1800 + 360 - 45},
		{"second of two slices", "common", 0.9, "s2", 1800 + 360 - 270},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := BuildPlan(models.AnimationWheel, Outcome{Prize: models.PrizeSnapshot{ID: tt.prizeID}}, wheel, fixedRNG(tt.roll))
			if err != nil {
				t.Fatalf("Expected no error, but got %v", err)
			}
			if plan.SliceID != tt.wantSlice {
				t.Errorf("Expected slice %s, but got %s", tt.wantSlice, plan.SliceID)
			}
			if math.Abs(plan.TargetRotation-tt.wantDeg) > 1e-9 {
				t.Errorf("Expected rotation %v, but got %v", tt.wantDeg, plan.TargetRotation)
			}
			if plan.Terminal != Settled || plan.Steps[0].State != Spinning || plan.Steps[0].DurationMs != 4000 {
				t.Errorf("Unexpected wheel timeline %+v", plan)
			}
		})
	}

	t.Run("prize missing from the wheel", func(t *testing.T) {
		_, err := BuildPlan(models.AnimationWheel, Outcome{Prize: models.PrizeSnapshot{ID: "ghost"}}, wheel, fixedRNG(0))
		if err == nil {
			t.Fatal("Expected an error, but got nil")
		}
	})
}

func TestBuildPlan_Machine(t *testing.T) {
	t.Run("direct win", func(t *testing.T) {
		plan, err := BuildPlan(models.AnimationMachine, Outcome{Prize: models.PrizeSnapshot{ID: "hoodie"}}, nil, nil)
		if err != nil {
			t.Fatalf("Expected no error, but got %v", err)
		}
		wantStops := []int64{3500, 4300, 5100}
		for i, stop := range plan.ReelStopsMs {
			if stop != wantStops[i] {
				t.Errorf("reel %d: expected stop at %dms, but got %d", i, wantStops[i], stop)
			}
			if plan.ReelSymbols[i] != "hoodie" {
				t.Errorf("reel %d: expected hoodie, but got %s", i, plan.ReelSymbols[i])
			}
		}
		if plan.Terminal != Settled {
			t.Errorf("Expected terminal %s, but got %s", Settled, plan.Terminal)
		}
	})

	t.Run("bonus branch", func(t *testing.T) {
		plan, err := BuildPlan(models.AnimationMachine, Outcome{Prize: models.PrizeSnapshot{ID: "hoodie"}, BonusGranted: true}, nil, nil)
		if err != nil {
			t.Fatalf("Expected no error, but got %v", err)
		}
		if plan.ReelSymbols[0] != "hoodie" || plan.ReelSymbols[1] != "hoodie" || plan.ReelSymbols[2] != BonusSymbol {
			t.Errorf("Expected two hoodies and a bonus, but got %v", plan.ReelSymbols)
		}
		if plan.Terminal != BonusPending {
			t.Errorf("Expected terminal %s, but got %s", BonusPending, plan.Terminal)
		}
	})
}

func TestTimeline(t *testing.T) {
	tests := []struct {
		mode  models.AnimationMode
		steps []State
		total int64
	}{
		{models.AnimationWheel, []State{Spinning}, 4000},
		{models.AnimationBox, []State{Shaking}, 3000},
		{models.AnimationLoot, []State{FaceDown, Flipping}, 2500},
		{models.AnimationMachine, []State{ReelsSpinning}, 6000},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			steps, err := Timeline(tt.mode)
			if err != nil {
				t.Fatalf("Expected no error, but got %v", err)
			}
			var total int64
			for i, s := range steps {
				if s.State != tt.steps[i] {
					t.Errorf("step %d: expected %s, but got %s", i, tt.steps[i], s.State)
				}
				total += s.DurationMs
			}
			if total != tt.total {
				t.Errorf("Expected %dms in total, but got %d", tt.total, total)
			}
		})
	}

	if _, err := Timeline("CONFETTI"); err == nil {
		t.Error("Expected an error for an unknown mode, but got nil")
	}
}
