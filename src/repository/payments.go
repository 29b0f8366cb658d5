package repository

import (
	"context"
	"fmt"
	"slices"
	"thruster/src/models"
	"thruster/src/types"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RecordResult struct {
	Entry     *models.PaymentLog
	Duplicate bool
}

// PaymentLedger appends payment outcomes. It has no update or delete path.
type PaymentLedger struct {
	db *gorm.DB
}

func NewPaymentLedger(db *gorm.DB) *PaymentLedger {
	return &PaymentLedger{db: db}
}

// Record appends entry unless the same provider delivery was already recorded,
// in which case the result is marked Duplicate and no row is written.
func (l *PaymentLedger) Record(ctx context.Context, entry *models.PaymentLog) (RecordResult, error) {
	if err := validateEntry(entry); err != nil {
		return RecordResult{}, err
	}
	res := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_tx_id"}, {Name: "outcome"}},
			DoNothing: true,
		}).
		Create(entry)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return RecordResult{Duplicate: true}, nil
		}
		return RecordResult{}, fmt.Errorf("record payment %s/%s: %w", entry.Provider, entry.ProviderTxID, res.Error)
	}
	if res.RowsAffected == 0 {
		return RecordResult{Duplicate: true}, nil
	}
	return RecordResult{Entry: entry}, nil
}

func validateEntry(entry *models.PaymentLog) error {
	switch {
	case entry.TargetID == "":
		return &types.ValidationError{Field: "target_id", Reason: "required"}
	case entry.Provider == "":
		return &types.ValidationError{Field: "provider", Reason: "required"}
	case entry.ProviderTxID == "":
		return &types.ValidationError{Field: "provider_tx_id", Reason: "required"}
	case entry.Outcome != types.PAYMENT_SUCCEEDED && entry.Outcome != types.PAYMENT_FAILED:
		return &types.ValidationError{Field: "outcome", Reason: "must be succeeded or failed"}
	}
	return nil
}

// LatestOutcome reports succeeded whenever any succeeded entry exists, since a
// later failure cannot undo a completed payment.
func (l *PaymentLedger) LatestOutcome(ctx context.Context, targetID string) (types.PaymentOutcome, error) {
	var outcomes []types.PaymentOutcome
	err := l.db.WithContext(ctx).
		Model(&models.PaymentLog{}).
		Where("target_id = ?", targetID).
		Distinct().
		Pluck("outcome", &outcomes).
		Error
	if err != nil {
		return types.PAYMENT_NONE, fmt.Errorf("latest outcome %s: %w", targetID, err)
	}
	switch {
	case slices.Contains(outcomes, types.PAYMENT_SUCCEEDED):
		return types.PAYMENT_SUCCEEDED, nil
	case slices.Contains(outcomes, types.PAYMENT_FAILED):
		return types.PAYMENT_FAILED, nil
	}
	return types.PAYMENT_NONE, nil
}

// Authoritative returns the earliest succeeded entry for the target.
func (l *PaymentLedger) Authoritative(ctx context.Context, targetID string) (*models.PaymentLog, error) {
	var entry models.PaymentLog
	err := l.db.WithContext(ctx).
		Where("target_id = ? AND outcome = ?", targetID, types.PAYMENT_SUCCEEDED).
		Order("created_at asc, id asc").
		First(&entry).
		Error
	if isNotFound(err) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (l *PaymentLedger) ListByTarget(ctx context.Context, targetID string) ([]models.PaymentLog, error) {
	var entries []models.PaymentLog
	err := l.db.WithContext(ctx).
		Where("target_id = ?", targetID).
		Order("created_at asc, id asc").
		Find(&entries).
		Error
	return entries, err
}
