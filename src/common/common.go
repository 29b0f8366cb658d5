package common

import (
	"context"
	"errors"
	"fmt"
	"log"
	awslib "thruster/src/lib/aws"
	"thruster/src/payments"
	"thruster/src/types"

	"github.com/tidwall/gjson"
)

type Confirmer interface {
	Confirm(ctx context.Context, ev payments.PaymentEvent) (payments.Result, error)
}

// PaymentEventsHandler consumes normalized payment events relayed through a queue.
// Malformed or invalid events are acknowledged and dropped; anything else is
// returned so the message is redelivered.
func PaymentEventsHandler(confirmer Confirmer) types.Handler {
	return func(ctx context.Context, payload string) error {
		if !gjson.Valid(payload) {
			log.Printf("PaymentEvents: dropping malformed message: %.64q\n", payload)
			return nil
		}
		r := gjson.Parse(payload)
		ev := payments.PaymentEvent{
			TargetID:     r.Get("target_id").String(),
			TargetKind:   types.TargetKind(r.Get("target_kind").String()),
			PaymentID:    r.Get("payment_id").String(),
			Provider:     types.PaymentProvider(r.Get("provider").String()),
			ProviderTxID: r.Get("provider_tx_id").String(),
			Outcome:      types.PaymentOutcome(r.Get("outcome").String()),
			Amount:       r.Get("amount").Float(),
			Currency:     r.Get("currency").String(),
		}
		if raw, ok := r.Get("raw").Value().(map[string]any); ok {
			ev.Raw = raw
		}
		res, err := confirmer.Confirm(ctx, ev)
		switch {
		case errors.Is(err, types.ErrValidation), errors.Is(err, types.ErrNotFound):
			log.Printf("PaymentEvents: dropping %s/%s: %s\n", ev.Provider, ev.ProviderTxID, err.Error())
			return nil
		case err != nil:
			return fmt.Errorf("confirm %s/%s: %w", ev.Provider, ev.ProviderTxID, err)
		}
		log.Printf("PaymentEvents: %s/%s recorded (duplicate=%v)\n", ev.Provider, ev.ProviderTxID, res.Duplicate)
		return nil
	}
}

// SQSConsumers starts the queue listeners. They stop when ctx is done.
func SQSConsumers(ctx context.Context, client awslib.SQSAPI, queue string, confirmer Confirmer) {
	if queue == "" || client == nil {
		log.Println("PaymentEvents: no queue configured")
		return
	}
	pe := awslib.NewSQSConsumer(queue, client, PaymentEventsHandler(confirmer))
	pe.Listen(ctx)
}
