package repository

import (
	"context"
	"fmt"
	"thruster/src/models"
	"thruster/src/models/scopes"
	"thruster/src/types"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Bookings is the BookingStore. It follows the same compare-and-swap discipline as Orders.
type Bookings struct {
	db *gorm.DB
}

func NewBookings(db *gorm.DB) *Bookings {
	return &Bookings{db: db}
}

func (r *Bookings) Create(ctx context.Context, booking *models.Booking) (string, error) {
	if booking.ID == "" {
		booking.ID = uuid.NewString()
	}
	if booking.Currency == "" {
		booking.Currency = "USD"
	}
	booking.Status = types.BOOKING_PENDING
	booking.ExternalBookingID = nil
	if err := r.db.WithContext(ctx).Create(booking).Error; err != nil {
		return "", fmt.Errorf("create booking: %w", err)
	}
	return booking.ID, nil
}

func (r *Bookings) Get(ctx context.Context, id string) (*models.Booking, error) {
	var booking models.Booking
	err := r.db.WithContext(ctx).
		Scopes(scopes.WithID(id)).
		First(&booking).
		Error
	if isNotFound(err) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get booking %s: %w", id, err)
	}
	return &booking, nil
}

func (r *Bookings) Transition(ctx context.Context, id string, expected, next types.BookingStatus, changes types.JSONB) (*models.Booking, error) {
	if !expected.CanTransition(next) {
		return nil, fmt.Errorf("%w: %s -> %s", types.ErrInvalidEdge, expected, next)
	}
	if next == types.BOOKING_CONFIRMED {
		if ref, _ := changes["external_booking_id"].(string); ref == "" {
			return nil, &types.ValidationError{Field: "external_booking_id", Reason: "required to confirm"}
		}
	}
	updates := map[string]any{}
	for k, v := range changes {
		updates[k] = v
	}
	updates["status"] = next

	var booking models.Booking
	res := r.db.WithContext(ctx).
		Model(&booking).
		Clauses(clause.Returning{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("transition booking %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		var n int64
		if err := r.db.WithContext(ctx).Model(&models.Booking{}).Scopes(scopes.WithID(id)).Count(&n).Error; err != nil {
			return nil, fmt.Errorf("check booking %s: %w", id, err)
		}
		if n == 0 {
			return nil, types.ErrNotFound
		}
		return nil, types.ErrConflict
	}
	return &booking, nil
}

func (r *Bookings) SetPaymentReference(ctx context.Context, id, paymentID string) error {
	res := r.db.WithContext(ctx).
		Model(&models.Booking{}).
		Scopes(scopes.WithID(id), scopes.WithPendingStatus).
		Update("payment_id", paymentID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return types.ErrConflict
	}
	return nil
}

// ListSettleable returns pending bookings that already have a succeeded payment.
func (r *Bookings) ListSettleable(ctx context.Context, limit int) ([]models.Booking, error) {
	var bookings []models.Booking
	err := r.db.WithContext(ctx).
		Scopes(scopes.WithPendingStatus).
		Where("EXISTS (SELECT 1 FROM payment_logs p WHERE p.target_id = bookings.id AND p.outcome = ?)", types.PAYMENT_SUCCEEDED).
		Order("created_at asc").
		Limit(limit).
		Find(&bookings).
		Error
	if err != nil {
		return nil, fmt.Errorf("list settleable bookings: %w", err)
	}
	return bookings, nil
}

func (r *Bookings) ListByUser(ctx context.Context, userID string) ([]models.Booking, error) {
	var bookings []models.Booking
	err := r.db.WithContext(ctx).
		Where(&models.Booking{UserID: userID}).
		Order("created_at desc").
		Limit(100).
		Find(&bookings).
		Error
	return bookings, err
}
