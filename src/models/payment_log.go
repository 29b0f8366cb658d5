package models

import (
	"thruster/src/types"
	"time"
)

// PaymentLog is an append-only ledger entry. Rows are never updated.
type PaymentLog struct {
	ID           uint                  `gorm:"primarykey" json:"id"`
	PaymentID    string                `gorm:"index" json:"payment_id"`
	TargetID     string                `gorm:"type:uuid;index;not null" json:"target_id"`
	TargetKind   types.TargetKind      `gorm:"not null" json:"target_kind"`
	Amount       float64               `gorm:"type:numeric(18,9)" json:"amount"`
	Currency     string                `json:"currency"`
	Provider     types.PaymentProvider `gorm:"uniqueIndex:idx_payment_logs_delivery;not null" json:"provider"`
	ProviderTxID string                `gorm:"uniqueIndex:idx_payment_logs_delivery;not null" json:"provider_tx_id"`
	Outcome      types.PaymentOutcome  `gorm:"uniqueIndex:idx_payment_logs_delivery;index;not null" json:"outcome"`
	RawData      types.JSONB           `gorm:"type:jsonb" json:"-"`
	CreatedAt    time.Time             `gorm:"autoCreateTime:nano" json:"created_at"`
}
