package lib

import (
	"context"
	"log"
	"math"
	"strings"
	"thruster/src/config"
	"thruster/src/types"

	"github.com/stripe/stripe-go/v82"
)

var stripeClient *stripe.Client

func GetStripeClient() *stripe.Client {
	if stripeClient != nil {
		return stripeClient
	}
	sc := stripe.NewClient(config.Get().StripeSecretKey)
	stripeClient = sc

	return sc
}

type CheckoutInput struct {
	TargetID    string
	TargetKind  types.TargetKind
	Description string
	Amount      float64
	Currency    string
	SuccessURL  string
	CancelURL   string
}

// CreateCheckoutSession opens a hosted checkout for a single order or booking.
// The target travels in both session and payment intent metadata so webhooks can
// resolve it from either object.
func CreateCheckoutSession(ctx context.Context, in CheckoutInput) (*stripe.CheckoutSession, error) {
	sc := GetStripeClient()
	metadata := map[string]string{
		"target_id":   in.TargetID,
		"target_kind": string(in.TargetKind),
	}
	piParams := &stripe.CheckoutSessionCreatePaymentIntentDataParams{}
	for k, v := range metadata {
		piParams.AddMetadata(k, v)
	}
	params := &stripe.CheckoutSessionCreateParams{
		SuccessURL:        stripe.String(in.SuccessURL),
		CancelURL:         stripe.String(in.CancelURL),
		UIMode:            stripe.String("hosted"),
		Mode:              stripe.String("payment"),
		ClientReferenceID: stripe.String(in.TargetID),
		PaymentIntentData: piParams,
		Metadata:          metadata,
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(in.Currency)),
					UnitAmount: stripe.Int64(int64(math.Round(in.Amount * 100))),
					ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
						Name: stripe.String(in.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.SetIdempotencyKey("checkout:" + in.TargetID)
	session, err := sc.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		log.Printf("CreateCheckoutSession failed: %s\n", err.Error())
		return nil, err
	}
	log.Printf("CheckoutSessionID: %s\n", session.ID)
	return session, nil
}
