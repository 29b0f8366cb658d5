package payments

import (
	"context"
	"errors"
	"fmt"
	"log"
	"thruster/src/lib"
	"thruster/src/models"
	"thruster/src/repository"
	"thruster/src/types"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// PaymentEvent is a normalized provider notification.
type PaymentEvent struct {
	TargetID     string                `json:"target_id"`
	TargetKind   types.TargetKind      `json:"target_kind"`
	PaymentID    string                `json:"payment_id"`
	Provider     types.PaymentProvider `json:"provider"`
	ProviderTxID string                `json:"provider_tx_id"`
	Outcome      types.PaymentOutcome  `json:"outcome"`
	Amount       float64               `json:"amount"`
	Currency     string                `json:"currency"`
	Raw          types.JSONB           `json:"raw,omitempty"`
}

type Result struct {
	Duplicate bool
	Entry     *models.PaymentLog
}

type Ledger interface {
	Record(ctx context.Context, entry *models.PaymentLog) (repository.RecordResult, error)
}

type OrderStore interface {
	Get(ctx context.Context, id string) (*models.Order, error)
	Transition(ctx context.Context, id string, expected, next types.OrderStatus, changes types.JSONB) (*models.Order, error)
}

type BookingSettler interface {
	Exists(ctx context.Context, id string) error
	Settle(ctx context.Context, bookingID string) error
}

type Enqueuer interface {
	Enqueue(orderID string) bool
}

const guardTTL = 2 * time.Minute

// Service turns provider notifications into ledger entries and their effects.
type Service struct {
	rdb      *redis.Client
	ledger   Ledger
	orders   OrderStore
	bookings BookingSettler
	mints    Enqueuer
	now      func() time.Time
	owner    func() string
}

func NewService(rdb *redis.Client, ledger Ledger, orders OrderStore, bookings BookingSettler, mints Enqueuer) *Service {
	return &Service{
		rdb:      rdb,
		ledger:   ledger,
		orders:   orders,
		bookings: bookings,
		mints:    mints,
		now:      func() time.Time { return time.Now().UTC() },
		owner:    uuid.NewString,
	}
}

func guardKey(ev PaymentEvent) string {
	return fmt.Sprintf("payments:%s:%s:%s", ev.Provider, ev.ProviderTxID, ev.Outcome)
}

func (ev PaymentEvent) validate() error {
	switch {
	case ev.TargetID == "":
		return &types.ValidationError{Field: "target_id", Reason: "required"}
	case ev.TargetKind != types.TARGET_ORDER && ev.TargetKind != types.TARGET_BOOKING:
		return &types.ValidationError{Field: "target_kind", Reason: "must be order or booking"}
	case ev.Provider == "" || ev.ProviderTxID == "":
		return &types.ValidationError{Field: "provider_tx_id", Reason: "required"}
	case ev.Outcome != types.PAYMENT_SUCCEEDED && ev.Outcome != types.PAYMENT_FAILED:
		return &types.ValidationError{Field: "outcome", Reason: "must be succeeded or failed"}
	}
	return nil
}

// Confirm records ev once per provider delivery. A succeeded order payment
// moves the order to paid and queues its mint; a succeeded booking payment
// settles the booking. Effects are re-applied on duplicates so a delivery that
// was recorded but not acted on heals on redelivery; each effect is idempotent.
func (s *Service) Confirm(ctx context.Context, ev PaymentEvent) (Result, error) {
	if err := ev.validate(); err != nil {
		return Result{}, err
	}
	if err := s.targetExists(ctx, ev); err != nil {
		return Result{}, err
	}

	key := guardKey(ev)
	owner := s.owner()
	held, err := lib.AcquireLease(ctx, s.rdb, key, owner, guardTTL)
	if err != nil {
		log.Printf("[Payments] guard unavailable for %s, relying on ledger: %s\n", key, err.Error())
	} else if !held {
		return Result{}, types.ErrInFlight
	} else {
		defer lib.ReleaseLease(context.WithoutCancel(ctx), s.rdb, key, owner)
	}

	rec, err := s.ledger.Record(ctx, &models.PaymentLog{
		PaymentID:    ev.PaymentID,
		TargetID:     ev.TargetID,
		TargetKind:   ev.TargetKind,
		Amount:       ev.Amount,
		Currency:     ev.Currency,
		Provider:     ev.Provider,
		ProviderTxID: ev.ProviderTxID,
		Outcome:      ev.Outcome,
		RawData:      ev.Raw,
	})
	if err != nil {
		return Result{}, err
	}
	result := Result{Duplicate: rec.Duplicate, Entry: rec.Entry}
	paymentsTotal.WithLabelValues(string(ev.Provider), string(ev.Outcome), fmt.Sprint(rec.Duplicate)).Inc()

	if ev.Outcome != types.PAYMENT_SUCCEEDED {
		log.Printf("[Payments] %s %s %s recorded as %s\n", ev.Provider, ev.TargetKind, ev.TargetID, ev.Outcome)
		return result, nil
	}
	switch ev.TargetKind {
	case types.TARGET_ORDER:
		if err := s.markPaid(ctx, ev); err != nil {
			return result, err
		}
	case types.TARGET_BOOKING:
		if err := s.bookings.Settle(ctx, ev.TargetID); err != nil {
			// payment is recorded; the booking sweep settles it later
			log.Printf("[Payments] booking %s not settled yet: %s\n", ev.TargetID, err.Error())
		}
	}
	return result, nil
}

func (s *Service) targetExists(ctx context.Context, ev PaymentEvent) error {
	if ev.TargetKind == types.TARGET_BOOKING {
		return s.bookings.Exists(ctx, ev.TargetID)
	}
	_, err := s.orders.Get(ctx, ev.TargetID)
	return err
}

func (s *Service) markPaid(ctx context.Context, ev PaymentEvent) error {
	_, err := s.orders.Transition(ctx, ev.TargetID, types.ORDER_CREATED, types.ORDER_PAID, types.JSONB{
		"payment_id": ev.PaymentID,
		"paid_at":    s.now(),
	})
	switch {
	case err == nil:
		log.Printf("[Payments] order %s paid via %s\n", ev.TargetID, ev.Provider)
	case errors.Is(err, types.ErrConflict):
		order, gerr := s.orders.Get(ctx, ev.TargetID)
		if gerr != nil {
			return gerr
		}
		if order.Status != types.ORDER_PAID {
			return nil
		}
	default:
		return err
	}
	if !s.mints.Enqueue(ev.TargetID) {
		log.Printf("[Payments] order %s paid, mint left for sweep\n", ev.TargetID)
	}
	return nil
}
