package main

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"thruster/src/lib"
	"thruster/src/lib/nowpayments"
	"thruster/src/lib/ton"
	"thruster/src/models"
	"thruster/src/payments"
	"thruster/src/types"

	"github.com/gin-gonic/gin"
)

var errNotPayable = &types.ValidationError{Field: "status", Reason: "already paid or no longer payable"}

// payableOrder loads the caller's order and requires it to still await payment.
func (s *Server) payableOrder(ctx *gin.Context, id string) (*models.Order, error) {
	order, err := s.ownOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Status != types.ORDER_CREATED {
		return nil, errNotPayable
	}
	return order, nil
}

func (s *Server) paymentHandlers(g *gin.RouterGroup) *gin.RouterGroup {
	g.
		POST("/payments/nowpayments/invoice", func(ctx *gin.Context) {
			var body types.OrderPaymentRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			order, err := s.payableOrder(ctx, body.OrderID)
			if err != nil {
				respondError(ctx, "NOWPayments", err)
				return
			}
			inv, err := s.invoices.CreateInvoice(ctx, nowpayments.Invoice{
				PriceAmount:      order.TotalPrice,
				PriceCurrency:    strings.ToLower(order.Currency),
				OrderID:          order.ID,
				OrderDescription: fmt.Sprintf("Order %s", order.ID),
				IPNCallbackURL:   s.cfg.BaseURL + apiPrefix + "/webhook/nowpayments",
				SuccessURL:       fmt.Sprintf("%s/orders/%s", s.cfg.FrontendURL, order.ID),
				CancelURL:        fmt.Sprintf("%s/orders/%s?cancelled=true", s.cfg.FrontendURL, order.ID),
			})
			if err != nil {
				respondError(ctx, "NOWPayments", err)
				return
			}
			if err := s.orders.SetPaymentReference(ctx, order.ID, inv.ID, &inv.InvoiceURL); err != nil {
				if errors.Is(err, types.ErrConflict) {
					err = errNotPayable
				}
				respondError(ctx, "NOWPayments", err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"invoice_id": inv.ID, "invoice_url": inv.InvoiceURL})
		}).
		POST("/payments/stripe/checkout", func(ctx *gin.Context) {
			var body types.CheckoutRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			in := lib.CheckoutInput{}
			var setRef func(sessionID string) error
			if body.OrderID != "" {
				order, err := s.payableOrder(ctx, body.OrderID)
				if err != nil {
					respondError(ctx, "Stripe", err)
					return
				}
				in = lib.CheckoutInput{
					TargetID:    order.ID,
					TargetKind:  types.TARGET_ORDER,
					Description: fmt.Sprintf("Order %s", order.ID),
					Amount:      order.TotalPrice,
					Currency:    order.Currency,
					SuccessURL:  fmt.Sprintf("%s/orders/%s", s.cfg.FrontendURL, order.ID),
					CancelURL:   fmt.Sprintf("%s/orders/%s?cancelled=true", s.cfg.FrontendURL, order.ID),
				}
				setRef = func(sessionID string) error {
					return s.orders.SetPaymentReference(ctx, order.ID, sessionID, nil)
				}
			} else {
				booking, err := s.ownBooking(ctx, body.BookingID)
				if err != nil {
					respondError(ctx, "Stripe", err)
					return
				}
				if booking.Status != types.BOOKING_PENDING {
					respondError(ctx, "Stripe", errNotPayable)
					return
				}
				in = lib.CheckoutInput{
					TargetID:    booking.ID,
					TargetKind:  types.TARGET_BOOKING,
					Description: booking.HotelName,
					Amount:      booking.TotalPrice,
					Currency:    booking.Currency,
					SuccessURL:  fmt.Sprintf("%s/bookings/%s", s.cfg.FrontendURL, booking.ID),
					CancelURL:   fmt.Sprintf("%s/bookings/%s?cancelled=true", s.cfg.FrontendURL, booking.ID),
				}
				setRef = func(sessionID string) error {
					return s.bookingStore.SetPaymentReference(ctx, booking.ID, sessionID)
				}
			}
			session, err := s.checkout(ctx, in)
			if err != nil {
				respondError(ctx, "Stripe", err)
				return
			}
			if err := setRef(session.ID); err != nil {
				if errors.Is(err, types.ErrConflict) {
					err = errNotPayable
				}
				respondError(ctx, "Stripe", err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"session_id": session.ID, "url": session.URL})
		}).
		GET("/payments/ton/payload/:order_id", func(ctx *gin.Context) {
			var params struct {
				OrderID string `uri:"order_id" binding:"required,uuid"`
			}
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			order, err := s.payableOrder(ctx, params.OrderID)
			if err != nil {
				respondError(ctx, "TON", err)
				return
			}
			ctx.JSON(http.StatusOK, ton.NewPaymentPayload(s.cfg.TonReceiverWallet, order.ID, order.TotalPrice, s.now()))
		}).
		POST("/payments/ton/verify", func(ctx *gin.Context) {
			var body types.TonVerifyRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			order, err := s.ownOrder(ctx, body.OrderID)
			if err != nil {
				respondError(ctx, "TON", err)
				return
			}
			if order.Status != types.ORDER_CREATED && order.PaymentID != nil && *order.PaymentID == body.TxHash {
				ctx.JSON(http.StatusOK, gin.H{"status": order.Status, "duplicate": true})
				return
			}
			if order.Status != types.ORDER_CREATED {
				respondError(ctx, "TON", errNotPayable)
				return
			}
			proof, err := s.ton.VerifyPayment(ctx, body.TxHash, s.cfg.TonReceiverWallet, order.ID, ton.ToNano(order.TotalPrice))
			if err != nil {
				respondError(ctx, "TON", err)
				return
			}
			res, err := s.payments.Confirm(ctx, payments.PaymentEvent{
				TargetID:     order.ID,
				TargetKind:   types.TARGET_ORDER,
				PaymentID:    proof.TxHash,
				Provider:     types.PROVIDER_TON,
				ProviderTxID: proof.TxHash,
				Outcome:      types.PAYMENT_SUCCEEDED,
				Amount:       float64(proof.AmountNano) / ton.NanoPerTON,
				Currency:     "TON",
				Raw: types.JSONB{
					"receiver": proof.Receiver,
					"comment":  proof.Comment,
					"nano":     proof.AmountNano,
				},
			})
			if err != nil {
				respondError(ctx, "TON", err)
				return
			}
			log.Printf("[TON] order %s verified by %s\n", order.ID, proof.TxHash)
			ctx.JSON(http.StatusOK, gin.H{"status": types.ORDER_PAID, "duplicate": res.Duplicate})
		})
	return g
}
