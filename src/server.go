package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"thruster/src/bookings"
	"thruster/src/config"
	"thruster/src/lib"
	"thruster/src/lib/nowpayments"
	"thruster/src/lib/ton"
	"thruster/src/models"
	"thruster/src/payments"
	"thruster/src/repository"
	"thruster/src/types"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v82"
)

type OrderRepo interface {
	Create(ctx context.Context, order *models.Order) (string, error)
	Get(ctx context.Context, id string) (*models.Order, error)
	ListByBuyer(ctx context.Context, buyerID string) ([]models.Order, error)
	SetPaymentReference(ctx context.Context, id, paymentID string, invoiceURL *string) error
}

type NFTRepo interface {
	GetByOrderID(ctx context.Context, orderID string) (*models.NFTRecord, error)
	ListByWallet(ctx context.Context, wallet string) ([]models.NFTRecord, error)
}

type LedgerRepo interface {
	ListByTarget(ctx context.Context, targetID string) ([]models.PaymentLog, error)
	Authoritative(ctx context.Context, targetID string) (*models.PaymentLog, error)
}

type AttemptRepo interface {
	ListByOrder(ctx context.Context, orderID string) ([]models.MintAttempt, error)
}

type BookingRepo interface {
	Get(ctx context.Context, id string) (*models.Booking, error)
	ListByUser(ctx context.Context, userID string) ([]models.Booking, error)
	SetPaymentReference(ctx context.Context, id, paymentID string) error
}

type BookingService interface {
	Create(ctx context.Context, booking *models.Booking) (*models.Booking, error)
	Cancel(ctx context.Context, id, reason string) (*models.Booking, error)
	ApplyProviderResult(ctx context.Context, id string, res bookings.ProviderResult) error
}

type PaymentConfirmer interface {
	Confirm(ctx context.Context, ev payments.PaymentEvent) (payments.Result, error)
}

type MintQueue interface {
	Enqueue(orderID string) bool
}

type InvoiceCreator interface {
	CreateInvoice(ctx context.Context, inv nowpayments.Invoice) (*nowpayments.InvoiceResult, error)
}

type TonVerifier interface {
	VerifyPayment(ctx context.Context, txHash, receiver, orderID string, expectedNano int64) (*ton.PaymentProof, error)
}

type CheckoutFunc func(ctx context.Context, in lib.CheckoutInput) (*stripe.CheckoutSession, error)

type Pinger func(ctx context.Context) error

// Server holds the collaborators behind the HTTP routes.
type Server struct {
	cfg          *config.App
	orders       OrderRepo
	nfts         NFTRepo
	ledger       LedgerRepo
	attempts     AttemptRepo
	bookingStore BookingRepo
	bookings     BookingService
	payments     PaymentConfirmer
	mints        MintQueue
	invoices     InvoiceCreator
	checkout     CheckoutFunc
	ton          TonVerifier
	health       map[string]Pinger
	now          func() time.Time
}

// respondError maps domain errors to HTTP responses. Internal detail is only logged.
func respondError(ctx *gin.Context, tag string, err error) {
	var verr *types.ValidationError
	switch {
	case errors.Is(err, types.ErrNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.As(err, &verr):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
	case errors.Is(err, types.ErrValidation):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, types.ErrAlreadyMinted):
		ctx.JSON(http.StatusConflict, gin.H{"error": "reward already issued"})
	case errors.Is(err, types.ErrNotMintable):
		ctx.JSON(http.StatusConflict, gin.H{"error": "order is not ready for its reward"})
	case errors.Is(err, types.ErrPaymentRequired):
		ctx.JSON(http.StatusConflict, gin.H{"error": "payment has not been received"})
	case errors.Is(err, types.ErrInFlight):
		ctx.JSON(http.StatusConflict, gin.H{"error": "request already in progress"})
	default:
		log.Printf("[%s] %s\n", tag, err.Error())
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "something went wrong"})
	}
}

// ownOrder loads an order that belongs to the caller. Other buyers' orders read as not found.
func (s *Server) ownOrder(ctx *gin.Context, id string) (*models.Order, error) {
	order, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != ctx.GetString("uid") {
		return nil, types.ErrNotFound
	}
	return order, nil
}

func (s *Server) ownBooking(ctx *gin.Context, id string) (*models.Booking, error) {
	booking, err := s.bookingStore.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if booking.UserID != ctx.GetString("uid") {
		return nil, types.ErrNotFound
	}
	return booking, nil
}

func (s *Server) healthz(ctx *gin.Context) {
	c, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	status := gin.H{}
	healthy := true
	for name, ping := range s.health {
		if err := ping(c); err != nil {
			log.Printf("[Health] %s: %s\n", name, err.Error())
			status[name] = "down"
			healthy = false
			continue
		}
		status[name] = "ok"
	}
	if !healthy {
		ctx.JSON(http.StatusServiceUnavailable, status)
		return
	}
	ctx.JSON(http.StatusOK, status)
}

var _ OrderRepo = (*repository.Orders)(nil)
var _ BookingRepo = (*repository.Bookings)(nil)
var _ LedgerRepo = (*repository.PaymentLedger)(nil)
