package repository

import (
	"context"
	"fmt"
	"thruster/src/lib/ton"
	"thruster/src/models"
	"thruster/src/types"

	"gorm.io/gorm"
)

// NFTRecords stores minted receipts. Records are immutable once written.
type NFTRecords struct {
	db *gorm.DB
}

func NewNFTRecords(db *gorm.DB) *NFTRecords {
	return &NFTRecords{db: db}
}

// Create inserts the record. Any unique index hit (order, tx hash or nft address)
// is reported as types.ErrAlreadyMinted.
func (r *NFTRecords) Create(ctx context.Context, record *models.NFTRecord) error {
	switch {
	case record.OrderID == "":
		return &types.ValidationError{Field: "order_id", Reason: "required"}
	case record.TxHash == "" || record.NFTAddress == "":
		return &types.ValidationError{Field: "tx_hash", Reason: "chain receipt incomplete"}
	case !ton.ValidateAddress(record.WalletAddress):
		return &types.ValidationError{Field: "wallet_address", Reason: "invalid TON address"}
	}
	err := r.db.WithContext(ctx).Create(record).Error
	if isUniqueViolation(err) {
		return types.ErrAlreadyMinted
	}
	if err != nil {
		return fmt.Errorf("create nft record for order %s: %w", record.OrderID, err)
	}
	return nil
}

func (r *NFTRecords) GetByOrderID(ctx context.Context, orderID string) (*models.NFTRecord, error) {
	var record models.NFTRecord
	err := r.db.WithContext(ctx).
		Where(&models.NFTRecord{OrderID: orderID}).
		First(&record).
		Error
	if isNotFound(err) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get nft record for order %s: %w", orderID, err)
	}
	return &record, nil
}

func (r *NFTRecords) ListByWallet(ctx context.Context, wallet string) ([]models.NFTRecord, error) {
	var records []models.NFTRecord
	err := r.db.WithContext(ctx).
		Where(&models.NFTRecord{WalletAddress: wallet}).
		Order("created_at desc").
		Find(&records).
		Error
	return records, err
}
