package repository

import (
	"context"
	"errors"
	"fmt"
	"thruster/src/models"
	"thruster/src/models/scopes"
	"thruster/src/types"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Orders is the OrderStore. Status only changes through Transition.
type Orders struct {
	db *gorm.DB
}

func NewOrders(db *gorm.DB) *Orders {
	return &Orders{db: db}
}

func (r *Orders) Create(ctx context.Context, order *models.Order) (string, error) {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	order.Status = types.ORDER_CREATED
	order.NFTMinted = false
	order.FailureKind = types.FAILURE_NONE
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		return "", fmt.Errorf("create order: %w", err)
	}
	return order.ID, nil
}

func (r *Orders) Get(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Scopes(scopes.WithID(id)).
		First(&order).
		Error
	if isNotFound(err) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return &order, nil
}

// Transition moves the order from expected to next in one conditional update and
// returns the row as written. A stale expected status yields types.ErrConflict.
func (r *Orders) Transition(ctx context.Context, id string, expected, next types.OrderStatus, changes types.JSONB) (*models.Order, error) {
	if !expected.CanTransition(next) {
		return nil, fmt.Errorf("%w: %s -> %s", types.ErrInvalidEdge, expected, next)
	}
	if v, ok := changes["nft_minted"]; ok && v != true {
		return nil, fmt.Errorf("%w: nft_minted cannot be cleared", types.ErrInvalidEdge)
	}
	updates := map[string]any{}
	for k, v := range changes {
		updates[k] = v
	}
	updates["status"] = next

	var order models.Order
	res := r.db.WithContext(ctx).
		Model(&order).
		Clauses(clause.Returning{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("transition order %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, r.missOrConflict(ctx, id)
	}
	return &order, nil
}

// TransitionLease is Transition for a minting order held under lease. It only
// applies while the row still carries the lease's query id and start stamp, so
// a worker whose claim was recovered and re-taken cannot write over the new
// holder. next may be ORDER_MINTING to renew the lease.
func (r *Orders) TransitionLease(ctx context.Context, id string, lease types.MintLease, next types.OrderStatus, changes types.JSONB) (*models.Order, error) {
	if next != types.ORDER_MINTING && !types.ORDER_MINTING.CanTransition(next) {
		return nil, fmt.Errorf("%w: %s -> %s", types.ErrInvalidEdge, types.ORDER_MINTING, next)
	}
	if v, ok := changes["nft_minted"]; ok && v != true {
		return nil, fmt.Errorf("%w: nft_minted cannot be cleared", types.ErrInvalidEdge)
	}
	updates := map[string]any{}
	for k, v := range changes {
		updates[k] = v
	}
	updates["status"] = next

	var order models.Order
	res := r.db.WithContext(ctx).
		Model(&order).
		Clauses(clause.Returning{}).
		Where("id = ? AND status = ? AND mint_query_id = ? AND minting_started_at = ?", id, types.ORDER_MINTING, lease.QueryID, lease.StartedAt).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("transition leased order %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, r.missOrConflict(ctx, id)
	}
	return &order, nil
}

func (r *Orders) missOrConflict(ctx context.Context, id string) error {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.Order{}).Scopes(scopes.WithID(id)).Count(&n).Error; err != nil {
		return fmt.Errorf("check order %s: %w", id, err)
	}
	if n == 0 {
		return types.ErrNotFound
	}
	return types.ErrConflict
}

// SetPaymentReference stores the provider checkout reference while the order awaits payment.
func (r *Orders) SetPaymentReference(ctx context.Context, id, paymentID string, invoiceURL *string) error {
	updates := map[string]any{"payment_id": paymentID}
	if invoiceURL != nil {
		updates["invoice_url"] = *invoiceURL
	}
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", id, types.ORDER_CREATED).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("set payment reference %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return r.missOrConflict(ctx, id)
	}
	return nil
}

// SetMetadataURL caches the published metadata location. It never touches status.
func (r *Orders) SetMetadataURL(ctx context.Context, id, url string) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Scopes(scopes.WithID(id)).
		Update("metadata_url", url).
		Error
}

// ListMintable returns paid orders followed by failed orders whose retry is due.
func (r *Orders) ListMintable(ctx context.Context, now time.Time, limit int) ([]models.Order, error) {
	var paid []models.Order
	err := r.db.WithContext(ctx).
		Scopes(scopes.WithStatus(types.ORDER_PAID)).
		Order("paid_at asc").
		Limit(limit).
		Find(&paid).
		Error
	if err != nil {
		return nil, fmt.Errorf("list paid orders: %w", err)
	}
	if len(paid) >= limit {
		return paid, nil
	}
	var due []models.Order
	err = r.db.WithContext(ctx).
		Scopes(scopes.RetryDue(now)).
		Order("next_retry_at asc").
		Limit(limit - len(paid)).
		Find(&due).
		Error
	if err != nil {
		return nil, fmt.Errorf("list retry orders: %w", err)
	}
	return append(paid, due...), nil
}

// ListStaleMinting returns orders whose mint lease started before cutoff.
func (r *Orders) ListStaleMinting(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Scopes(scopes.WithStatus(types.ORDER_MINTING)).
		Where("minting_started_at < ?", cutoff).
		Limit(limit).
		Find(&orders).
		Error
	if err != nil {
		return nil, fmt.Errorf("list stale minting orders: %w", err)
	}
	return orders, nil
}

func (r *Orders) ListByBuyer(ctx context.Context, buyerID string) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where(&models.Order{BuyerID: buyerID}).
		Order("created_at desc").
		Limit(100).
		Find(&orders).
		Error
	return orders, err
}

// MintAttempts is the append-only audit of chain submissions.
type MintAttempts struct {
	db *gorm.DB
}

func NewMintAttempts(db *gorm.DB) *MintAttempts {
	return &MintAttempts{db: db}
}

func (r *MintAttempts) Append(ctx context.Context, attempt *models.MintAttempt) error {
	return r.db.WithContext(ctx).Create(attempt).Error
}

func (r *MintAttempts) ListByOrder(ctx context.Context, orderID string) ([]models.MintAttempt, error) {
	var attempts []models.MintAttempt
	err := r.db.WithContext(ctx).
		Where(&models.MintAttempt{OrderID: orderID}).
		Order("attempt asc").
		Find(&attempts).
		Error
	return attempts, err
}

// IsConflict reports a lost compare-and-swap.
func IsConflict(err error) bool {
	return errors.Is(err, types.ErrConflict)
}
