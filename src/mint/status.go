package mint

import (
	"thruster/src/models"
	"thruster/src/types"
)

const (
	BUYER_AWAITING_PAYMENT = "awaiting payment"
	BUYER_PAID             = "paid"
	BUYER_PROCESSING       = "processing reward"
	BUYER_ISSUED           = "reward issued"
	BUYER_FAILED           = "reward failed - contact support"
)

// BuyerStatus is the only status shown to buyers. Failure detail stays internal.
func BuyerStatus(o *models.Order) string {
	switch o.Status {
	case types.ORDER_CREATED:
		return BUYER_AWAITING_PAYMENT
	case types.ORDER_PAID:
		return BUYER_PAID
	case types.ORDER_MINTING:
		return BUYER_PROCESSING
	case types.ORDER_MINTED:
		return BUYER_ISSUED
	case types.ORDER_MINT_FAILED:
		if o.FailureKind == types.FAILURE_TRANSIENT {
			return BUYER_PROCESSING
		}
		return BUYER_FAILED
	}
	return BUYER_PROCESSING
}
