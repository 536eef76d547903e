package models

import "github.com/shopspring/decimal"

// PrizeVariant is the closed set of prize kinds a creator can offer.
// It drives both the presentation of the prize and the cost model.
type PrizeVariant string

const (
	VariantDigital    PrizeVariant = "DIGITAL"
	VariantPhysical   PrizeVariant = "PHYSICAL"
	VariantSingleView PrizeVariant = "SINGLE_VIEW" // content that can be opened exactly once
)

// Valid reports whether v is one of the known variants.
func (v PrizeVariant) Valid() bool {
	switch v {
	case VariantDigital, VariantPhysical, VariantSingleView:
		return true
	}
	return false
}

// UnlimitedStock marks a prize that is never sold out.
const UnlimitedStock = -1

// Prize is a single entry of a campaign catalog.
// Probability is a relative weight in the 0-100 range; the catalog does not
// have to sum to exactly 100 for a draw to succeed.
type Prize struct {
	ID             string          `gorm:"primaryKey;size:64" json:"id"`
	CampaignID     string          `gorm:"index;size:64;not null" json:"campaignId"`
	Position       int             `gorm:"not null;default:0" json:"position"`
	Name           string          `gorm:"size:128;not null" json:"name"`
	Variant        PrizeVariant    `gorm:"size:16;not null" json:"variant"`
	Description    string          `gorm:"size:512" json:"description"`
	Stock          int             `gorm:"not null" json:"stock"`
	Probability    float64         `gorm:"not null" json:"probability"`
	PerceivedValue decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"perceivedValue"`
	CostPrice      decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"costPrice"`
	ImageURL       string          `gorm:"size:512" json:"imageUrl"`
}

// Eligible reports whether the prize can still be drawn.
func (p Prize) Eligible() bool {
	return p.Stock != 0
}

// Unlimited reports whether the prize stock is never decremented.
func (p Prize) Unlimited() bool {
	return p.Stock == UnlimitedStock
}

// UnitCost is what one win of this prize costs the creator.
// Only physical prizes carry a cost; digital content is free to hand out.
func (p Prize) UnitCost() decimal.Decimal {
	switch p.Variant {
	case VariantPhysical:
		return p.CostPrice
	case VariantDigital, VariantSingleView:
		return decimal.Zero
	}
	return decimal.Zero
}

// Snapshot captures the prize as it was at the moment it was won.
func (p Prize) Snapshot() PrizeSnapshot {
	return PrizeSnapshot{
		ID:          p.ID,
		Name:        p.Name,
		Variant:     p.Variant,
		Description: p.Description,
		ImageURL:    p.ImageURL,
		CostPrice:   p.UnitCost(),
	}
}

// PrizeSnapshot is the immutable copy of a prize stored with a draw record.
type PrizeSnapshot struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Variant     PrizeVariant    `json:"variant"`
	Description string          `json:"description,omitempty"`
	ImageURL    string          `json:"imageUrl,omitempty"`
	CostPrice   decimal.Decimal `json:"costPrice"`
}
