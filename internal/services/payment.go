package services

import (
	"context"
	"sync"

	"github.com/google/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"lootfan/internal/apperrors"
)

// PaymentProcessor charges a fan. It returns a processor reference on
// success and an error wrapping apperrors.ErrPaymentDeclined on refusal.
type PaymentProcessor interface {
	Charge(ctx context.Context, fanID string, amount decimal.Decimal) (string, error)
}

// Refunder is implemented by processors that can reverse a charge.
type Refunder interface {
	Refund(ctx context.Context, reference string, amount decimal.Decimal) error
}

// SimulatedProcessor accepts every charge up to an optional limit.
type SimulatedProcessor struct {
	declineAbove decimal.Decimal

	mu       sync.Mutex
	charges  map[string]decimal.Decimal
	refunded map[string]bool
}

// NewSimulatedProcessor declines any charge above declineAbove. A zero
// limit accepts everything.
func NewSimulatedProcessor(declineAbove decimal.Decimal) *SimulatedProcessor {
	return &SimulatedProcessor{
		declineAbove: declineAbove,
		charges:      make(map[string]decimal.Decimal),
		refunded:     make(map[string]bool),
	}
}

func (p *SimulatedProcessor) Charge(ctx context.Context, fanID string, amount decimal.Decimal) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !amount.IsPositive() {
		return "", apperrors.New(apperrors.CodeInvalidArgument, "charge amount must be positive")
	}
	if p.declineAbove.IsPositive() && amount.GreaterThan(p.declineAbove) {
		return "", apperrors.WithMetadata(apperrors.CodePaymentDeclined, "payment declined",
			map[string]string{"fan_id": fanID})
	}
	ref := uuid.NewString()
	p.mu.Lock()
	p.charges[ref] = amount
	p.mu.Unlock()
	logger.Infof("payment: charged fan %s %s (ref %s)", fanID, amount.StringFixed(2), ref)
	return ref, nil
}

func (p *SimulatedProcessor) Refund(ctx context.Context, reference string, amount decimal.Decimal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	charged, ok := p.charges[reference]
	if !ok || p.refunded[reference] || !charged.Equal(amount) {
		return apperrors.WithMetadata(apperrors.CodeInvalidArgument, "unknown or already refunded charge",
			map[string]string{"reference": reference})
	}
	p.refunded[reference] = true
	logger.Infof("payment: refunded %s (ref %s)", amount.StringFixed(2), reference)
	return nil
}

// Refunded reports whether reference was refunded.
func (p *SimulatedProcessor) Refunded(reference string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refunded[reference]
}
