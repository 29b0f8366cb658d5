package models

import "thruster/src/types"

type Booking struct {
	ID                string              `gorm:"primarykey;type:uuid" json:"id"`
	UserID            string              `gorm:"index;not null" json:"user_id"`
	HotelID           string              `gorm:"not null" json:"hotel_id"`
	OfferID           string              `gorm:"not null" json:"offer_id"`
	HotelName         string              `json:"hotel_name"`
	CheckInDate       string              `gorm:"type:date" json:"check_in_date"`
	CheckOutDate      string              `gorm:"type:date" json:"check_out_date"`
	Adults            int                 `json:"adults"`
	Guests            types.Guests        `gorm:"type:jsonb" json:"guests"`
	TotalPrice        float64             `gorm:"type:numeric(15,2)" json:"total_price"`
	Currency          string              `gorm:"size:3;default:'USD'" json:"currency"`
	PaymentID         *string             `gorm:"index" json:"payment_id,omitempty"`
	Status            types.BookingStatus `gorm:"index;not null;default:'pending'" json:"status"`
	ExternalBookingID *string             `json:"external_booking_id,omitempty"`
	CancelReason      *string             `json:"cancel_reason,omitempty"`

	types.Timestamps
}

func (b *Booking) LeadGuest() *types.Guest {
	if len(b.Guests) == 0 {
		return nil
	}
	return &b.Guests[0]
}
