package services

import (
	"errors"
	"fmt"

	domain "github.com/raileats/api/internal/domain"
)

// ErrPricingInvalidInput signals item rows or adjustments that cannot be priced.
var ErrPricingInvalidInput = errors.New("pricing: invalid input")

// PricingEngine computes order amounts from immutable item snapshots. All
// money is in paise; the tax rate is in basis points so 500 means 5%.
type PricingEngine struct {
	taxRateBp      int64
	deliveryCharge int64
	currency       string
}

// NewPricingEngine constructs an engine with the platform tax rate and
// delivery charge.
func NewPricingEngine(taxRateBp, deliveryCharge int64, currency string) (*PricingEngine, error) {
	if taxRateBp < 0 {
		return nil, fmt.Errorf("%w: tax rate must not be negative", ErrPricingInvalidInput)
	}
	if deliveryCharge < 0 {
		return nil, fmt.Errorf("%w: delivery charge must not be negative", ErrPricingInvalidInput)
	}
	if currency == "" {
		currency = "INR"
	}
	return &PricingEngine{
		taxRateBp:      taxRateBp,
		deliveryCharge: deliveryCharge,
		currency:       currency,
	}, nil
}

// Currency returns the ISO currency code amounts are denominated in.
func (e *PricingEngine) Currency() string { return e.currency }

// TaxRateBp returns the configured tax rate in basis points.
func (e *PricingEngine) TaxRateBp() int64 { return e.taxRateBp }

// Compute derives the rolled-up amounts for the given item rows and discount.
// Item totals are recomputed from unit price and quantity; caller-supplied
// totals are never trusted.
func (e *PricingEngine) Compute(items []domain.OrderItem, discount int64) (domain.Amounts, error) {
	if len(items) == 0 {
		return domain.Amounts{}, fmt.Errorf("%w: at least one item is required", ErrPricingInvalidInput)
	}
	if discount < 0 {
		return domain.Amounts{}, fmt.Errorf("%w: discount must not be negative", ErrPricingInvalidInput)
	}

	var subtotal int64
	for i, item := range items {
		if item.Quantity < 1 {
			return domain.Amounts{}, fmt.Errorf("%w: item %d quantity must be at least 1", ErrPricingInvalidInput, i)
		}
		if item.UnitPrice < 0 {
			return domain.Amounts{}, fmt.Errorf("%w: item %d unit price must not be negative", ErrPricingInvalidInput, i)
		}
		subtotal += item.UnitPrice * int64(item.Quantity)
	}

	tax := roundHalfUpBp(subtotal, e.taxRateBp)
	total := subtotal + tax + e.deliveryCharge - discount
	if total < 0 {
		return domain.Amounts{}, fmt.Errorf("%w: discount exceeds order value", ErrPricingInvalidInput)
	}

	return domain.Amounts{
		Subtotal:       subtotal,
		Tax:            tax,
		DeliveryCharge: e.deliveryCharge,
		Discount:       discount,
		Total:          total,
	}, nil
}

// ItemTotal computes the row total for a snapshot line.
func ItemTotal(unitPrice int64, quantity int) int64 {
	return unitPrice * int64(quantity)
}

// roundHalfUpBp applies a basis-point rate with half-up rounding on the last
// paisa: (amount*bp + 5000) / 10000.
func roundHalfUpBp(amount, bp int64) int64 {
	return (amount*bp + 5000) / 10000
}
