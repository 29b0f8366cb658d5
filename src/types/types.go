package types

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Timestamps struct {
	CreatedAt time.Time      `gorm:"autoCreateTime:nano" json:"created_at,omitempty"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime:nano" json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty,omitnil"`
}

type JSONB map[string]any

func (a JSONB) Value() (driver.Value, error) {
	valueString, err := json.Marshal(a)
	return string(valueString), err
}
func (a *JSONB) Scan(value any) error {
	b, err := scanBytes(value)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	return nil
}

func scanBytes(value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	return nil, errors.New("type assertion to []byte failed")
}

type Environment string

const (
	Local      Environment = "local"
	Test       Environment = "test"
	Production Environment = "production"
)

type OrderStatus string

const (
	ORDER_CREATED     OrderStatus = "created"
	ORDER_PAID        OrderStatus = "paid"
	ORDER_MINTING     OrderStatus = "minting"
	ORDER_MINTED      OrderStatus = "minted"
	ORDER_MINT_FAILED OrderStatus = "mint_failed"
)

var orderEdges = map[OrderStatus][]OrderStatus{
	ORDER_CREATED:     {ORDER_PAID},
	ORDER_PAID:        {ORDER_MINTING},
	ORDER_MINTING:     {ORDER_MINTED, ORDER_MINT_FAILED},
	ORDER_MINT_FAILED: {ORDER_MINTING},
}

// CanTransition reports whether from -> to is an edge of the order lifecycle.
func (from OrderStatus) CanTransition(to OrderStatus) bool {
	for _, s := range orderEdges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// MintLease identifies one claim on a minting order: the query id and the
// start stamp written when the claim was taken or last renewed.
type MintLease struct {
	QueryID   uint64
	StartedAt time.Time
}

// FailureKind qualifies an order sitting in mint_failed.
type FailureKind string

const (
	FAILURE_NONE      FailureKind = ""
	FAILURE_TRANSIENT FailureKind = "transient"
	FAILURE_PERMANENT FailureKind = "permanent"
	FAILURE_EXHAUSTED FailureKind = "exhausted"
)

type BookingStatus string

const (
	BOOKING_PENDING   BookingStatus = "pending"
	BOOKING_CONFIRMED BookingStatus = "confirmed"
	BOOKING_CANCELLED BookingStatus = "cancelled"
)

func (from BookingStatus) CanTransition(to BookingStatus) bool {
	return from == BOOKING_PENDING && (to == BOOKING_CONFIRMED || to == BOOKING_CANCELLED)
}

func (s BookingStatus) Terminal() bool {
	return s == BOOKING_CONFIRMED || s == BOOKING_CANCELLED
}

type PaymentOutcome string

const (
	PAYMENT_SUCCEEDED PaymentOutcome = "succeeded"
	PAYMENT_FAILED    PaymentOutcome = "failed"
	PAYMENT_NONE      PaymentOutcome = "none"
)

type PaymentProvider string

const (
	PROVIDER_NOWPAYMENTS PaymentProvider = "NOWPAYMENTS"
	PROVIDER_TON         PaymentProvider = "TON"
	PROVIDER_STRIPE      PaymentProvider = "STRIPE"
)

type PaymentMethod string

const (
	METHOD_NOWPAYMENTS PaymentMethod = "NOWPAYMENTS"
	METHOD_TON_NATIVE  PaymentMethod = "TON_NATIVE"
	METHOD_STRIPE      PaymentMethod = "STRIPE"
)

type TargetKind string

const (
	TARGET_ORDER   TargetKind = "order"
	TARGET_BOOKING TargetKind = "booking"
)

type MintOutcome string

const (
	MINT_OUTCOME_MINTED     MintOutcome = "minted"
	MINT_OUTCOME_RECONCILED MintOutcome = "reconciled"
	MINT_OUTCOME_TRANSIENT  MintOutcome = "transient"
	MINT_OUTCOME_PERMANENT  MintOutcome = "permanent"
	MINT_OUTCOME_EXHAUSTED  MintOutcome = "exhausted"
)

type Guest struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email" binding:"required,email"`
	Phone string `json:"phone,omitempty"`
}

type Guests []Guest

func (g Guests) Value() (driver.Value, error) {
	b, err := json.Marshal(g)
	return string(b), err
}
func (g *Guests) Scan(value any) error {
	b, err := scanBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, g)
}

type OrderItem struct {
	ProductID string  `json:"product_id" binding:"required"`
	Name      string  `json:"name" binding:"required"`
	Price     float64 `json:"price" binding:"gte=0"`
	Quantity  int     `json:"quantity" binding:"required,min=1"`
}

type OrderItems []OrderItem

func (o OrderItems) Value() (driver.Value, error) {
	b, err := json.Marshal(o)
	return string(b), err
}
func (o *OrderItems) Scan(value any) error {
	b, err := scanBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, o)
}

func (o OrderItems) Total() float64 {
	var total float64
	for _, item := range o {
		total += item.Price * float64(item.Quantity)
	}
	return total
}

type CreateOrderRequestBody struct {
	Items         []OrderItem   `json:"items" binding:"required,min=1,dive"`
	Currency      string        `json:"currency" binding:"required,len=3"`
	PaymentMethod PaymentMethod `json:"payment_method" binding:"required,oneof=NOWPAYMENTS TON_NATIVE STRIPE"`
	WalletAddress string        `json:"wallet_address" binding:"required,tonaddress"`
}

type CreateBookingRequestBody struct {
	HotelID      string  `json:"hotel_id" binding:"required"`
	OfferID      string  `json:"offer_id" binding:"required"`
	HotelName    string  `json:"hotel_name" binding:"required"`
	CheckInDate  string  `json:"check_in_date" binding:"required,datetime=2006-01-02"`
	CheckOutDate string  `json:"check_out_date" binding:"required,datetime=2006-01-02,gtdate=CheckInDate"`
	Adults       int     `json:"adults" binding:"required,min=1"`
	Guests       []Guest `json:"guests" binding:"required,min=1,dive"`
	TotalPrice   float64 `json:"total_price" binding:"required,gt=0"`
	Currency     string  `json:"currency" binding:"omitempty,len=3"`
}

type OrderPaymentRequestBody struct {
	OrderID string `json:"order_id" binding:"required,uuid"`
}

type CheckoutRequestBody struct {
	OrderID   string `json:"order_id" binding:"required_without=BookingID,omitempty,uuid"`
	BookingID string `json:"booking_id" binding:"required_without=OrderID,omitempty,uuid"`
}

type TonVerifyRequestBody struct {
	OrderID string `json:"order_id" binding:"required,uuid"`
	TxHash  string `json:"tx_hash" binding:"required"`
}

type CancelBookingRequestBody struct {
	Reason string `json:"reason,omitempty"`
}

type ProviderCallbackBody struct {
	BookingID         string `json:"booking_id" binding:"required,uuid"`
	ExternalBookingID string `json:"external_booking_id,omitempty"`
	Status            string `json:"status" binding:"required,oneof=confirmed cancelled"`
	Reason            string `json:"reason,omitempty"`
}

type SimpleRequestParams struct {
	ID string `uri:"id" binding:"required,uuid"`
}

type WalletQueryParams struct {
	Wallet string `form:"wallet" binding:"required,tonaddress"`
}

// Handler processes one queued message. A nil error acknowledges it.
type Handler func(ctx context.Context, payload string) error
