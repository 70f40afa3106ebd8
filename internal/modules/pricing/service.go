// Package pricing computes fare estimates from route distance and duration.
package pricing

import (
	"math"

	"swiftride/internal/config"
	"swiftride/internal/types"
)

// Breakdown is the itemized fare shown to riders. Amounts are cents.
type Breakdown struct {
	Base          types.Money `json:"base"`
	Distance      types.Money `json:"distance"`
	Time          types.Money `json:"time"`
	Subtotal      types.Money `json:"subtotal"`
	PlatformFee   types.Money `json:"platform_fee"`
	Total         types.Money `json:"total"`
	CarbonSavedKg float64     `json:"carbon_saved_kg"`
}

// Estimator turns (distance, duration) into a fare breakdown. Pure
// computation; the rate card is fixed at construction.
type Estimator struct {
	rates config.PricingConfig
}

func NewEstimator(rates config.PricingConfig) *Estimator {
	return &Estimator{rates: rates}
}

// Estimate is monotone in both distance and duration, and the total never
// drops below the configured minimum.
func (e *Estimator) Estimate(distanceKm, durationMin float64) Breakdown {
	if distanceKm < 0 {
		distanceKm = 0
	}
	if durationMin < 0 {
		durationMin = 0
	}

	distCents := int64(math.Round(distanceKm * float64(e.rates.PerKmCents)))
	timeCents := int64(math.Round(durationMin * float64(e.rates.PerMinuteCents)))
	subtotal := e.rates.BaseCents + distCents + timeCents
	fee := int64(math.Round(float64(subtotal) * e.rates.PlatformFeePct / 100.0))
	total := subtotal + fee
	if total < e.rates.MinimumCents {
		total = e.rates.MinimumCents
	}

	cur := e.rates.Currency
	return Breakdown{
		Base:          types.Money{Amount: e.rates.BaseCents, Currency: cur},
		Distance:      types.Money{Amount: distCents, Currency: cur},
		Time:          types.Money{Amount: timeCents, Currency: cur},
		Subtotal:      types.Money{Amount: subtotal, Currency: cur},
		PlatformFee:   types.Money{Amount: fee, Currency: cur},
		Total:         types.Money{Amount: total, Currency: cur},
		CarbonSavedKg: roundTo2(distanceKm * e.rates.CarbonKgPerKm),
	}
}

func roundTo2(v float64) float64 {
	return math.Round(v*100) / 100
}
