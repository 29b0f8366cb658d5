package models

import (
	"thruster/src/types"
	"time"
)

type Order struct {
	ID            string              `gorm:"primarykey;type:uuid" json:"id"`
	BuyerID       string              `gorm:"index;not null" json:"buyer_id"`
	Items         types.OrderItems    `gorm:"type:jsonb" json:"items"`
	TotalPrice    float64             `gorm:"type:numeric(15,2);not null" json:"total_price"`
	Currency      string              `gorm:"size:3;not null" json:"currency"`
	PaymentMethod types.PaymentMethod `json:"payment_method"`
	PaymentID     *string             `gorm:"index" json:"payment_id,omitempty"`
	InvoiceURL    *string             `json:"invoice_url,omitempty"`
	WalletAddress string              `gorm:"not null" json:"wallet_address"`
	Status        types.OrderStatus   `gorm:"index;not null;default:'created'" json:"status"`
	NFTMinted     bool                `gorm:"not null;default:false" json:"nft_minted"`
	PaidAt        *time.Time          `json:"paid_at,omitempty"`

	MetadataURL      *string           `json:"-"`
	MintAttempts     int               `gorm:"not null;default:0" json:"-"`
	MintQueryID      *uint64           `json:"-"`
	MintingStartedAt *time.Time        `json:"-"`
	FailureKind      types.FailureKind `gorm:"index" json:"-"`
	FailureReason    *string           `json:"-"`
	NextRetryAt      *time.Time        `gorm:"index" json:"-"`

	types.Timestamps
}

// RetryDue reports whether a failed order may re-enter minting at now.
func (o *Order) RetryDue(now time.Time) bool {
	if o.Status != types.ORDER_MINT_FAILED || o.FailureKind != types.FAILURE_TRANSIENT {
		return false
	}
	return o.NextRetryAt == nil || !o.NextRetryAt.After(now)
}
