// Package payments places and settles fare holds through Stripe. The ride
// lifecycle treats every call here as best effort; a payment failure is
// logged, never a reason to fail a match.
package payments

import (
	"context"
	"log/slog"
	"strings"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

type StripeGateway struct {
	logger *slog.Logger
}

// NewStripeGateway sets the package-level API key once; the stripe client is
// goroutine safe after that.
func NewStripeGateway(apiKey string, logger *slog.Logger) *StripeGateway {
	stripe.Key = apiKey
	return &StripeGateway{logger: logger}
}

// Hold authorizes the estimated fare without capturing it. The returned
// intent ID is stored on the ride and settled at completion or cancellation.
func (g *StripeGateway) Hold(ctx context.Context, amount int64, currency, customerRef string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Params:        stripe.Params{Context: ctx},
		Amount:        stripe.Int64(amount),
		Currency:      stripe.String(strings.ToLower(currency)),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		PaymentMethodTypes: stripe.StringSlice([]string{
			"card",
		}),
	}
	params.AddMetadata("rider_ref", customerRef)

	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	g.logger.Info("payment hold placed", "intent_id", pi.ID, "amount", amount, "currency", currency)
	return pi.ID, nil
}

// Capture settles a previously placed hold for its full amount.
func (g *StripeGateway) Capture(ctx context.Context, intentID string) error {
	params := &stripe.PaymentIntentCaptureParams{
		Params: stripe.Params{Context: ctx},
	}
	_, err := paymentintent.Capture(intentID, params)
	if err != nil {
		return err
	}
	g.logger.Info("payment captured", "intent_id", intentID)
	return nil
}

// Cancel voids a hold for a cancelled ride.
func (g *StripeGateway) Cancel(ctx context.Context, intentID string) error {
	params := &stripe.PaymentIntentCancelParams{
		Params: stripe.Params{Context: ctx},
	}
	_, err := paymentintent.Cancel(intentID, params)
	if err != nil {
		return err
	}
	g.logger.Info("payment hold released", "intent_id", intentID)
	return nil
}
