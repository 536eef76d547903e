package services

import (
	"strconv"

	"github.com/shopspring/decimal"

	"lootfan/internal/apperrors"
)

// CreditPackage is one of the bundles a fan can buy.
type CreditPackage struct {
	Quantity    int             `json:"quantity"`
	DiscountPct int             `json:"discountPct"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Total       decimal.Decimal `json:"total"`
}

// packageDiscounts maps the offered quantities to their percentage discount.
var packageDiscounts = []struct {
	quantity, discount int
}{
	{1, 0},
	{2, 5},
	{5, 10},
}

// Packages lists the credit bundles for a campaign price.
func Packages(pricePerSpin decimal.Decimal) []CreditPackage {
	out := make([]CreditPackage, 0, len(packageDiscounts))
	for _, d := range packageDiscounts {
		unit, total := discounted(pricePerSpin, d.quantity, d.discount)
		out = append(out, CreditPackage{Quantity: d.quantity, DiscountPct: d.discount, UnitPrice: unit, Total: total})
	}
	return out
}

// PackagePrice returns the discounted unit price of a bundle of qty credits
// and the bundle total rounded to cents.
func PackagePrice(pricePerSpin decimal.Decimal, qty int) (unit, total decimal.Decimal, err error) {
	for _, d := range packageDiscounts {
		if d.quantity == qty {
			unit, total = discounted(pricePerSpin, d.quantity, d.discount)
			return unit, total, nil
		}
	}
	return decimal.Zero, decimal.Zero, apperrors.WithMetadata(apperrors.CodeInvalidArgument, "no credit package for this quantity",
		map[string]string{"quantity": strconv.Itoa(qty)})
}

func discounted(price decimal.Decimal, qty, discountPct int) (unit, total decimal.Decimal) {
	factor := decimal.NewFromInt(int64(100 - discountPct)).Div(decimal.NewFromInt(100))
	unit = price.Mul(factor)
	total = unit.Mul(decimal.NewFromInt(int64(qty))).Round(2)
	return unit, total
}
