package payout

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/adkarma/adkarma/internal/money"
)

// StripeProvider submits transfers through Stripe payouts. The payout ID
// rides along as the idempotency key, so a crashed executor re-submitting
// the same payout cannot double-pay.
type StripeProvider struct {
	api *client.API
}

func NewStripeProvider(apiKey string) *StripeProvider {
	api := &client.API{}
	api.Init(apiKey, nil)
	return &StripeProvider{api: api}
}

func (s *StripeProvider) Submit(ctx context.Context, req TransferRequest) (string, error) {
	params := &stripe.PayoutParams{
		Params: stripe.Params{
			Context: ctx,
		},
		Amount:      stripe.Int64(money.Paise(req.Amount)),
		Currency:    stripe.String(string(stripe.CurrencyINR)),
		Destination: stripe.String(req.DestinationAccount),
		Description: stripe.String(req.Narration),
		Method:      stripe.String("standard"),
	}
	params.SetIdempotencyKey(req.ReferenceID)

	p, err := s.api.Payouts.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe payout: %w", err)
	}
	return p.ID, nil
}
