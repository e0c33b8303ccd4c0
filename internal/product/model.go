package product

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

type Product struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	RegularPrice  decimal.Decimal `json:"regular_price"`
	Quantity      int             `json:"quantity"`
	ProductOffer  decimal.Decimal `json:"product_offer"`  // percent
	CategoryOffer decimal.Decimal `json:"category_offer"` // percent
	Status        string          `json:"status"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

const (
	StatusActive  = "active"
	StatusDisable = "disable"
)

// BestOffer is the larger of the product and category offer, clamped to [0,100].
func (p *Product) BestOffer() decimal.Decimal {
	offer := decimal.Max(p.ProductOffer, p.CategoryOffer)
	if offer.IsNegative() {
		return decimal.Zero
	}
	if offer.GreaterThan(hundred) {
		return hundred
	}
	return offer
}

// EffectivePrice is the unit price after the best offer, rounded to paise.
func (p *Product) EffectivePrice() decimal.Decimal {
	factor := hundred.Sub(p.BestOffer()).Div(hundred)
	return p.RegularPrice.Mul(factor).Round(2)
}
