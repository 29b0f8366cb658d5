package models

import (
	"thruster/src/types"
	"time"
)

// MintAttempt is the audit trail of chain submissions for an order.
type MintAttempt struct {
	ID         uint              `gorm:"primarykey" json:"id"`
	OrderID    string            `gorm:"type:uuid;index;not null" json:"order_id"`
	Attempt    int               `json:"attempt"`
	QueryID    uint64            `json:"query_id"`
	Outcome    types.MintOutcome `json:"outcome"`
	TxHash     *string           `json:"tx_hash,omitempty"`
	Error      *string           `json:"error,omitempty"`
	DurationMs int64             `json:"duration_ms"`
	CreatedAt  time.Time         `gorm:"autoCreateTime:nano" json:"created_at"`
}
