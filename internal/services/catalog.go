package services

import (
	"fmt"
	"math"

	"lootfan/internal/apperrors"
	"lootfan/internal/models"
)

// dominantShare is the share of the total weight above which a prize is
// split into several wheel slices.
const (
	dominantShare  = 0.5
	dominantSlices = 3
	// distributionTolerance is how far from 100 an authored catalog may sum.
	distributionTolerance = 0.1
)

// Eligible returns the prizes that can still be drawn, in catalog order.
func Eligible(catalog []models.Prize) []models.Prize {
	eligible := make([]models.Prize, 0, len(catalog))
	for _, p := range catalog {
		if p.Eligible() {
			eligible = append(eligible, p)
		}
	}
	return eligible
}

// TotalWeight sums the probabilities of an eligible set.
func TotalWeight(eligible []models.Prize) (float64, error) {
	if len(eligible) == 0 {
		return 0, apperrors.New(apperrors.CodeNoEligiblePrizes, "every prize is sold out")
	}
	total := 0.0
	for _, p := range eligible {
		if p.Probability < 0 {
			return 0, apperrors.WithMetadata(apperrors.CodeInvalidProbabilityConfig, "negative probability",
				map[string]string{"prize_id": p.ID})
		}
		total += p.Probability
	}
	if total <= 0 {
		return 0, apperrors.New(apperrors.CodeInvalidProbabilityConfig, "catalog has zero total weight")
	}
	return total, nil
}

// DistributionStatus describes how an authored catalog relates to 100%.
type DistributionStatus string

const (
	DistributionValid DistributionStatus = "VALID"
	DistributionUnder DistributionStatus = "UNDER"
	DistributionOver  DistributionStatus = "OVER"
)

// Distribution is the result of CheckDistribution.
type Distribution struct {
	Total  float64            `json:"total"`
	Status DistributionStatus `json:"status"`
}

// CheckDistribution reports whether the configured probabilities of the
// whole catalog add up to 100. It is an authoring aid; draws only need a
// positive total.
func CheckDistribution(catalog []models.Prize) Distribution {
	total := 0.0
	for _, p := range catalog {
		total += p.Probability
	}
	switch {
	case math.Abs(total-100) <= distributionTolerance:
		return Distribution{Total: total, Status: DistributionValid}
	case total < 100:
		return Distribution{Total: total, Status: DistributionUnder}
	default:
		return Distribution{Total: total, Status: DistributionOver}
	}
}

// VisualSlice is one segment of the prize wheel.
type VisualSlice struct {
	ID         string  `json:"id"`
	PrizeID    string  `json:"prizeId"`
	PrizeName  string  `json:"prizeName"`
	PrizeImage string  `json:"prizeImage,omitempty"`
	Percentage float64 `json:"percentage"`
}

// WheelSlices lays out the wheel for the eligible prizes. A prize holding
// more than half of the total weight is cut into three equal slices that
// alternate with the other prizes. Only the picture changes; draw odds do not.
func WheelSlices(catalog []models.Prize) ([]VisualSlice, error) {
	eligible := Eligible(catalog)
	total, err := TotalWeight(eligible)
	if err != nil {
		return nil, err
	}

	dominant := -1
	for i, p := range eligible {
		if p.Probability/total > dominantShare {
			dominant = i
			break
		}
	}

	single := func(p models.Prize) VisualSlice {
		return VisualSlice{
			ID:         "slice-" + p.ID,
			PrizeID:    p.ID,
			PrizeName:  p.Name,
			PrizeImage: p.ImageURL,
			Percentage: p.Probability / total * 100,
		}
	}

	var slices []VisualSlice
	if dominant == -1 {
		slices = make([]VisualSlice, 0, len(eligible))
		for _, p := range eligible {
			slices = append(slices, single(p))
		}
	} else {
		dp := eligible[dominant]
		chunk := dp.Probability / total * 100 / dominantSlices
		domSlices := make([]VisualSlice, dominantSlices)
		for i := range domSlices {
			domSlices[i] = VisualSlice{
				ID:         fmt.Sprintf("slice-%s-chunk-%d", dp.ID, i),
				PrizeID:    dp.ID,
				PrizeName:  dp.Name,
				PrizeImage: dp.ImageURL,
				Percentage: chunk,
			}
		}
		others := make([]VisualSlice, 0, len(eligible)-1)
		for i, p := range eligible {
			if i != dominant {
				others = append(others, single(p))
			}
		}

		slices = make([]VisualSlice, 0, len(domSlices)+len(others))
		for d, o := 0, 0; d < len(domSlices) || o < len(others); {
			if d < len(domSlices) {
				slices = append(slices, domSlices[d])
				d++
			}
			if o < len(others) {
				slices = append(slices, others[o])
				o++
			}
		}
	}

	// Absorb floating point drift in the last slice so the wheel closes.
	sum := 0.0
	for _, s := range slices[:len(slices)-1] {
		sum += s.Percentage
	}
	slices[len(slices)-1].Percentage = 100 - sum
	return slices, nil
}
