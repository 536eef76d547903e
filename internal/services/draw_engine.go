package services

import (
	"lootfan/internal/models"
)

// DrawEngine performs weighted random selection over a catalog snapshot.
// It holds no state besides its random source and is safe for concurrent use.
type DrawEngine struct {
	rng RandomSource
}

// NewDrawEngine creates a DrawEngine. A nil source means DefaultRNG.
func NewDrawEngine(rng RandomSource) *DrawEngine {
	if rng == nil {
		rng = DefaultRNG()
	}
	return &DrawEngine{rng: rng}
}

// Draw picks one eligible prize with probability proportional to its weight.
func (e *DrawEngine) Draw(catalog []models.Prize) (models.Prize, error) {
	eligible := Eligible(catalog)
	total, err := TotalWeight(eligible)
	if err != nil {
		return models.Prize{}, err
	}

	r := e.rng.Float64() * total
	cumulative := 0.0
	for _, p := range eligible {
		cumulative += p.Probability
		if r <= cumulative && p.Probability > 0 {
			return p, nil
		}
	}
	// Floating point drift can leave r just above the final sum.
	for i := len(eligible) - 1; i >= 0; i-- {
		if eligible[i].Probability > 0 {
			return eligible[i], nil
		}
	}
	return eligible[len(eligible)-1], nil
}

// Float64 exposes the engine's random source for secondary rolls such as the
// slot bonus coin flip.
func (e *DrawEngine) Float64() float64 {
	return e.rng.Float64()
}
