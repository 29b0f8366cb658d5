package models

import "thruster/src/types"

type NFTRecord struct {
	ID            uint   `gorm:"primarykey" json:"-"`
	OrderID       string `gorm:"type:uuid;uniqueIndex;not null" json:"order_id"`
	WalletAddress string `gorm:"index;not null" json:"wallet_address"`
	NFTAddress    string `gorm:"uniqueIndex;not null" json:"nft_address"`
	MetadataURL   string `gorm:"not null" json:"metadata_url"`
	TxHash        string `gorm:"uniqueIndex;not null" json:"tx_hash"`

	types.Timestamps
}

func (NFTRecord) TableName() string {
	return "nft_records"
}
