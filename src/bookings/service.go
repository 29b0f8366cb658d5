package bookings

import (
	"context"
	"errors"
	"fmt"
	"log"
	"thruster/src/lib"
	"thruster/src/lib/amadeus"
	"thruster/src/lib/mailer"
	"thruster/src/models"
	"thruster/src/types"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Store interface {
	Create(ctx context.Context, booking *models.Booking) (string, error)
	Get(ctx context.Context, id string) (*models.Booking, error)
	Transition(ctx context.Context, id string, expected, next types.BookingStatus, changes types.JSONB) (*models.Booking, error)
	ListSettleable(ctx context.Context, limit int) ([]models.Booking, error)
}

type PaymentStatus interface {
	LatestOutcome(ctx context.Context, targetID string) (types.PaymentOutcome, error)
}

type Reservations interface {
	Book(ctx context.Context, in amadeus.BookRequest) (string, error)
}

// ProviderResult is an asynchronous confirmation or cancellation from the reservation provider.
type ProviderResult struct {
	ExternalBookingID string
	Confirmed         bool
	Reason            string
}

const (
	settleLeaseTTL = 2 * time.Minute
	// the provider call has to finish well inside the lease
	bookTimeout = settleLeaseTTL / 2
	sweepBatch  = 50
)

type Service struct {
	rdb          *redis.Client
	store        Store
	payments     PaymentStatus
	reservations Reservations
	mail         mailer.Mailer
	owner        func() string
}

func NewService(rdb *redis.Client, store Store, payments PaymentStatus, reservations Reservations, mail mailer.Mailer) *Service {
	return &Service{
		rdb:          rdb,
		store:        store,
		payments:     payments,
		reservations: reservations,
		mail:         mail,
		owner:        uuid.NewString,
	}
}

func (s *Service) Create(ctx context.Context, booking *models.Booking) (*models.Booking, error) {
	if len(booking.Guests) == 0 {
		return nil, &types.ValidationError{Field: "guests", Reason: "at least one guest is required"}
	}
	if _, err := s.store.Create(ctx, booking); err != nil {
		return nil, err
	}
	bookingsTotal.WithLabelValues("created").Inc()
	return booking, nil
}

func (s *Service) Exists(ctx context.Context, id string) error {
	_, err := s.store.Get(ctx, id)
	return err
}

// withLease runs fn while holding the booking's settle lease. Settlement,
// cancellation and provider callbacks all take it, so a booking never changes
// state while its provider call is in flight.
func (s *Service) withLease(ctx context.Context, id string, fn func() error) error {
	key := fmt.Sprintf("bookings:%s:settle", id)
	owner := s.owner()
	held, err := lib.AcquireLease(ctx, s.rdb, key, owner, settleLeaseTTL)
	if err != nil {
		return fmt.Errorf("settle lease %s: %w", id, err)
	}
	if !held {
		return types.ErrInFlight
	}
	defer lib.ReleaseLease(context.WithoutCancel(ctx), s.rdb, key, owner)
	return fn()
}

// Settle books a paid pending booking with the provider. Transient provider
// errors leave it pending for the sweep.
func (s *Service) Settle(ctx context.Context, id string) error {
	return s.withLease(ctx, id, func() error {
		booking, err := s.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if booking.Status.Terminal() {
			return nil
		}
		if err := s.requirePayment(ctx, id); err != nil {
			return err
		}

		bctx, cancel := context.WithTimeout(ctx, bookTimeout)
		ref, err := s.reservations.Book(bctx, amadeus.BookRequest{
			OfferID:   booking.OfferID,
			Guests:    booking.Guests,
			ClientRef: booking.ID,
		})
		cancel()
		if err != nil {
			if amadeus.IsPermanent(err) {
				return s.cancel(ctx, booking.ID, "provider_rejected: "+err.Error())
			}
			bookingsTotal.WithLabelValues("deferred").Inc()
			return fmt.Errorf("settle booking %s: %w", id, err)
		}
		return s.confirm(ctx, booking.ID, ref)
	})
}

func (s *Service) requirePayment(ctx context.Context, id string) error {
	outcome, err := s.payments.LatestOutcome(ctx, id)
	if err != nil {
		return err
	}
	if outcome != types.PAYMENT_SUCCEEDED {
		return types.ErrPaymentRequired
	}
	return nil
}

func (s *Service) confirm(ctx context.Context, id, ref string) error {
	confirmed, err := s.store.Transition(ctx, id, types.BOOKING_PENDING, types.BOOKING_CONFIRMED, types.JSONB{
		"external_booking_id": ref,
	})
	if errors.Is(err, types.ErrConflict) {
		bookingsTotal.WithLabelValues("orphaned").Inc()
		log.Printf("[Bookings] %s left pending while booking, provider ref %s needs manual cancellation\n", id, ref)
		return nil
	}
	if err != nil {
		return err
	}
	bookingsTotal.WithLabelValues("confirmed").Inc()
	log.Printf("[Bookings] %s confirmed as %s\n", id, ref)
	if err := s.mail.SendBookingConfirmation(ctx, confirmed); err != nil {
		log.Printf("[Bookings] confirmation mail for %s failed: %s\n", id, err.Error())
	}
	return nil
}

func (s *Service) cancel(ctx context.Context, id, reason string) error {
	_, err := s.store.Transition(ctx, id, types.BOOKING_PENDING, types.BOOKING_CANCELLED, types.JSONB{
		"cancel_reason": reason,
	})
	if errors.Is(err, types.ErrConflict) {
		return nil
	}
	if err != nil {
		return err
	}
	bookingsTotal.WithLabelValues("cancelled").Inc()
	log.Printf("[Bookings] %s cancelled: %s\n", id, reason)
	return nil
}

// ApplyProviderResult applies a provider callback. Callbacks for bookings
// already in a final state are ignored.
func (s *Service) ApplyProviderResult(ctx context.Context, id string, res ProviderResult) error {
	if res.Confirmed && res.ExternalBookingID == "" {
		return &types.ValidationError{Field: "external_booking_id", Reason: "required to confirm"}
	}
	return s.withLease(ctx, id, func() error {
		booking, err := s.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if booking.Status.Terminal() {
			log.Printf("[Bookings] callback for %s ignored, already %s\n", id, booking.Status)
			return nil
		}
		if !res.Confirmed {
			reason := res.Reason
			if reason == "" {
				reason = "provider_cancelled"
			}
			return s.cancel(ctx, id, reason)
		}
		if err := s.requirePayment(ctx, id); err != nil {
			return err
		}
		return s.confirm(ctx, id, res.ExternalBookingID)
	})
}

// Cancel is a user or admin cancellation of a pending booking. It waits for no
// one: a booking being settled right now answers types.ErrInFlight.
func (s *Service) Cancel(ctx context.Context, id, reason string) (*models.Booking, error) {
	if reason == "" {
		reason = "cancelled_by_user"
	}
	var cancelled *models.Booking
	err := s.withLease(ctx, id, func() error {
		var err error
		cancelled, err = s.store.Transition(ctx, id, types.BOOKING_PENDING, types.BOOKING_CANCELLED, types.JSONB{
			"cancel_reason": reason,
		})
		if errors.Is(err, types.ErrConflict) {
			return &types.ValidationError{Field: "status", Reason: "only pending bookings can be cancelled"}
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	bookingsTotal.WithLabelValues("cancelled").Inc()
	return cancelled, nil
}

// Sweep retries settlement for paid bookings still pending.
func (s *Service) Sweep(ctx context.Context) {
	pending, err := s.store.ListSettleable(ctx, sweepBatch)
	if err != nil {
		log.Printf("[Bookings] Sweep could not list bookings: %s\n", err.Error())
		return
	}
	for _, b := range pending {
		if err := s.Settle(ctx, b.ID); err != nil && !errors.Is(err, types.ErrInFlight) {
			log.Printf("[Bookings] Sweep: %s\n", err.Error())
		}
	}
}

func (s *Service) SweepTask() {
	s.Sweep(context.Background())
}
