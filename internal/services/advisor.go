package services

import (
	"sort"

	"github.com/shopspring/decimal"

	"lootfan/internal/models"
)

var hundred = decimal.NewFromInt(100)

// FinancialSnapshot is the expected-value health of a campaign's odds.
type FinancialSnapshot struct {
	CampaignID        string          `json:"campaignId"`
	PricePerSpin      decimal.Decimal `json:"pricePerSpin"`
	PlatformFeeRate   decimal.Decimal `json:"platformFeeRate"`
	NetRevenuePerSpin decimal.Decimal `json:"netRevenuePerSpin"`
	ExpectedCost      decimal.Decimal `json:"expectedCost"`
	ExpectedProfit    decimal.Decimal `json:"expectedProfit"`
	MarginPct         decimal.Decimal `json:"marginPct"`
	Healthy           bool            `json:"healthy"`
	Suggestion        *Suggestion     `json:"suggestion,omitempty"`
}

// Suggestion names the prize whose odds should come down and by how much.
type Suggestion struct {
	PrizeID               string  `json:"prizeId"`
	PrizeName             string  `json:"prizeName"`
	CurrentProbability    float64 `json:"currentProbability"`
	MaxAllowedProbability float64 `json:"maxAllowedProbability"`
	// Feasible is false when no probability for this prize makes the
	// campaign break even; the other costs alone exceed the net revenue.
	Feasible bool `json:"feasible"`
}

// ProjectFinancials computes the expected profit of one spin over the full
// configured catalog, regardless of current stock.
func ProjectFinancials(campaign *models.Campaign, catalog []models.Prize) FinancialSnapshot {
	net := campaign.PricePerSpin.Mul(decimal.NewFromInt(1).Sub(campaign.PlatformFeeRate))

	expected := decimal.Zero
	var top *models.Prize
	topContribution := decimal.Zero
	for i := range catalog {
		p := &catalog[i]
		contribution := p.UnitCost().Mul(decimal.NewFromFloat(p.Probability)).Div(hundred)
		expected = expected.Add(contribution)
		if contribution.GreaterThan(topContribution) {
			top, topContribution = p, contribution
		}
	}

	profit := net.Sub(expected)
	snap := FinancialSnapshot{
		CampaignID:        campaign.ID,
		PricePerSpin:      campaign.PricePerSpin,
		PlatformFeeRate:   campaign.PlatformFeeRate,
		NetRevenuePerSpin: net,
		ExpectedCost:      expected,
		ExpectedProfit:    profit,
		MarginPct:         decimal.Zero,
		Healthy:           profit.IsPositive(),
	}
	if campaign.PricePerSpin.IsPositive() {
		snap.MarginPct = profit.Div(campaign.PricePerSpin).Mul(hundred)
	}

	if !snap.Healthy && top != nil {
		others := expected.Sub(topContribution)
		maxProb := net.Sub(others).Div(top.UnitCost()).Mul(decimal.NewFromInt(1000)).Floor().Div(decimal.NewFromInt(10))
		snap.Suggestion = &Suggestion{
			PrizeID:               top.ID,
			PrizeName:             top.Name,
			CurrentProbability:    top.Probability,
			MaxAllowedProbability: maxProb.InexactFloat64(),
			Feasible:              !maxProb.IsNegative(),
		}
	}
	return snap
}

// PrizeStat is the realized outcome of one prize.
type PrizeStat struct {
	PrizeID      string              `json:"prizeId"`
	PrizeName    string              `json:"prizeName"`
	Variant      models.PrizeVariant `json:"variant"`
	Wins         int                 `json:"wins"`
	SharePct     float64             `json:"sharePct"`
	UnitCost     decimal.Decimal     `json:"unitCost"`
	RealizedCost decimal.Decimal     `json:"realizedCost"`
}

// RealizedPerformance is the campaign's actual result from its ledger.
type RealizedPerformance struct {
	CampaignID        string          `json:"campaignId"`
	TotalDraws        int             `json:"totalDraws"`
	TotalRevenue      decimal.Decimal `json:"totalRevenue"`
	TotalRealizedCost decimal.Decimal `json:"totalRealizedCost"`
	PlatformFees      decimal.Decimal `json:"platformFees"`
	NetProfitRealized decimal.Decimal `json:"netProfitRealized"`
	ROIMargin         decimal.Decimal `json:"roiMargin"`
	IsProfitable      bool            `json:"isProfitable"`
	PerPrize          []PrizeStat     `json:"perPrizeStats"`
}

// AnalyzePerformance aggregates the ledger of a campaign. Wins of prizes no
// longer in the catalog are costed from the snapshot stored with the record.
func AnalyzePerformance(campaignID string, catalog []models.Prize, records []models.DrawRecord) RealizedPerformance {
	stats := make(map[string]*PrizeStat, len(catalog))
	order := make([]string, 0, len(catalog))
	for _, p := range catalog {
		stats[p.ID] = &PrizeStat{PrizeID: p.ID, PrizeName: p.Name, Variant: p.Variant, UnitCost: p.UnitCost()}
		order = append(order, p.ID)
	}

	perf := RealizedPerformance{
		CampaignID:        campaignID,
		TotalRevenue:      decimal.Zero,
		TotalRealizedCost: decimal.Zero,
		PlatformFees:      decimal.Zero,
		ROIMargin:         decimal.Zero,
	}
	for _, rec := range records {
		switch rec.Kind {
		case models.KindCreditPurchase:
			perf.TotalRevenue = perf.TotalRevenue.Add(rec.AmountPaid)
			perf.PlatformFees = perf.PlatformFees.Add(rec.PlatformFee)
		case models.KindSpin:
			perf.TotalDraws++
			st, ok := stats[rec.PrizeID]
			if !ok {
				snap := rec.Prize.Data()
				st = &PrizeStat{PrizeID: rec.PrizeID, PrizeName: rec.PrizeName, Variant: snap.Variant, UnitCost: snap.CostPrice}
				stats[rec.PrizeID] = st
				order = append(order, rec.PrizeID)
			}
			st.Wins++
		}
	}

	perf.PerPrize = make([]PrizeStat, 0, len(order))
	for _, id := range order {
		st := stats[id]
		st.RealizedCost = st.UnitCost.Mul(decimal.NewFromInt(int64(st.Wins)))
		if perf.TotalDraws > 0 {
			st.SharePct = float64(st.Wins) / float64(perf.TotalDraws) * 100
		}
		perf.TotalRealizedCost = perf.TotalRealizedCost.Add(st.RealizedCost)
		perf.PerPrize = append(perf.PerPrize, *st)
	}
	sort.SliceStable(perf.PerPrize, func(i, j int) bool {
		return perf.PerPrize[i].Wins > perf.PerPrize[j].Wins
	})

	perf.NetProfitRealized = perf.TotalRevenue.Sub(perf.TotalRealizedCost).Sub(perf.PlatformFees)
	if perf.TotalRevenue.IsPositive() {
		perf.ROIMargin = perf.NetProfitRealized.Div(perf.TotalRevenue).Mul(hundred)
	}
	perf.IsProfitable = !perf.NetProfitRealized.IsNegative()
	return perf
}
