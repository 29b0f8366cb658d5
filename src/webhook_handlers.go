package main

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"thruster/src/bookings"
	"thruster/src/lib/nowpayments"
	"thruster/src/middlewares"
	"thruster/src/payments"
	"thruster/src/types"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// confirmed acknowledges a provider delivery. Deliveries that can never apply
// are acknowledged so the provider stops retrying; storage failures are not.
func confirmed(ctx *gin.Context, tag string, res payments.Result, err error) {
	switch {
	case err == nil:
		ctx.JSON(http.StatusOK, gin.H{"received": true, "duplicate": res.Duplicate})
	case errors.Is(err, types.ErrInFlight):
		ctx.JSON(http.StatusConflict, gin.H{"error": "delivery already in progress"})
	case errors.Is(err, types.ErrValidation), errors.Is(err, types.ErrNotFound):
		log.Printf("[%s] delivery ignored: %s\n", tag, err.Error())
		ctx.JSON(http.StatusOK, gin.H{"received": true, "ignored": true})
	default:
		log.Printf("[%s] delivery failed: %s\n", tag, err.Error())
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "could not process delivery"})
	}
}

// checkoutEvent turns a checkout session event into a payment event. ok is
// false for events that carry no final outcome.
func checkoutEvent(event stripe.Event) (ev payments.PaymentEvent, ok bool, err error) {
	var outcome types.PaymentOutcome
	var cs stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
		return ev, false, err
	}
	switch event.Type {
	case "checkout.session.completed":
		if cs.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			return ev, false, nil
		}
		outcome = types.PAYMENT_SUCCEEDED
	case "checkout.session.async_payment_succeeded":
		outcome = types.PAYMENT_SUCCEEDED
	case "checkout.session.async_payment_failed", "checkout.session.expired":
		outcome = types.PAYMENT_FAILED
	default:
		return ev, false, nil
	}
	txID := cs.ID
	if cs.PaymentIntent != nil && cs.PaymentIntent.ID != "" {
		txID = cs.PaymentIntent.ID
	}
	ev = payments.PaymentEvent{
		TargetID:     cs.Metadata["target_id"],
		TargetKind:   types.TargetKind(cs.Metadata["target_kind"]),
		PaymentID:    cs.ID,
		Provider:     types.PROVIDER_STRIPE,
		ProviderTxID: txID,
		Outcome:      outcome,
		Amount:       float64(cs.AmountTotal) / 100,
		Currency:     strings.ToUpper(string(cs.Currency)),
		Raw: types.JSONB{
			"event_id":       event.ID,
			"event_type":     string(event.Type),
			"payment_status": string(cs.PaymentStatus),
		},
	}
	return ev, true, nil
}

func (s *Server) webhookHandlers(g *gin.RouterGroup) *gin.RouterGroup {
	g.
		POST("/webhook/stripe", func(ctx *gin.Context) {
			payload, err := io.ReadAll(ctx.Request.Body)
			if err != nil {
				log.Printf("Error reading request body: %s\n", err.Error())
				ctx.Status(http.StatusServiceUnavailable)
				return
			}
			event, err := webhook.ConstructEvent(payload, ctx.GetHeader("Stripe-Signature"), s.cfg.StripeWebhookSecret)
			if err != nil {
				log.Printf("Error verifying webhook signature: %s\n", err.Error())
				ctx.Status(http.StatusBadRequest)
				return
			}
			log.Printf("[StripeEvent] %s\n", event.Type)
			ev, ok, err := checkoutEvent(event)
			if err != nil {
				log.Printf("[Stripe] Error parsing CheckoutSession: %s\n", err.Error())
				ctx.Status(http.StatusBadRequest)
				return
			}
			if !ok {
				ctx.JSON(http.StatusOK, gin.H{"received": true})
				return
			}
			res, err := s.payments.Confirm(ctx, ev)
			confirmed(ctx, "Stripe", res, err)
		}).
		POST("/webhook/nowpayments", func(ctx *gin.Context) {
			payload, err := io.ReadAll(ctx.Request.Body)
			if err != nil {
				log.Printf("Error reading request body: %s\n", err.Error())
				ctx.Status(http.StatusServiceUnavailable)
				return
			}
			if err := nowpayments.VerifySignature(payload, ctx.GetHeader(nowpayments.SignatureHeader), s.cfg.NowPaymentsIPNSecret); err != nil {
				log.Printf("[NOWPayments] %s\n", err.Error())
				ctx.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
				return
			}
			n, err := nowpayments.ParseNotification(payload)
			if err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			outcome, ok := nowpayments.MapStatus(n.Status)
			if !ok {
				log.Printf("[NOWPayments] payment %s is %s, waiting for a final status\n", n.PaymentID, n.Status)
				ctx.JSON(http.StatusOK, gin.H{"received": true})
				return
			}
			res, err := s.payments.Confirm(ctx, payments.PaymentEvent{
				TargetID:     n.OrderID,
				TargetKind:   types.TARGET_ORDER,
				PaymentID:    n.PaymentID,
				Provider:     types.PROVIDER_NOWPAYMENTS,
				ProviderTxID: n.PaymentID,
				Outcome:      outcome,
				Amount:       n.PriceAmount,
				Currency:     n.PriceCurrency,
				Raw:          n.Raw,
			})
			confirmed(ctx, "NOWPayments", res, err)
		})

	g.POST("/webhook/reservations", middlewares.VerifyProviderSecret(s.cfg.ProviderSecret), func(ctx *gin.Context) {
		var body types.ProviderCallbackBody
		if err := ctx.ShouldBindJSON(&body); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		err := s.bookings.ApplyProviderResult(ctx, body.BookingID, bookings.ProviderResult{
			ExternalBookingID: body.ExternalBookingID,
			Confirmed:         body.Status == string(types.BOOKING_CONFIRMED),
			Reason:            body.Reason,
		})
		if err != nil {
			respondError(ctx, "Reservations", err)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"received": true})
	})
	return g
}
