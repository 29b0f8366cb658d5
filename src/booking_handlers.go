package main

import (
	"log"
	"net/http"
	"strings"
	"thruster/src/models"
	"thruster/src/types"

	"github.com/gin-gonic/gin"
)

func (s *Server) bookingHandlers(g *gin.RouterGroup) *gin.RouterGroup {
	g.
		GET("/bookings", func(ctx *gin.Context) {
			bookings, err := s.bookingStore.ListByUser(ctx, ctx.GetString("uid"))
			if err != nil {
				respondError(ctx, "Bookings", err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"bookings": bookings})
		}).
		GET("/bookings/:id", func(ctx *gin.Context) {
			var params types.SimpleRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			booking, err := s.ownBooking(ctx, params.ID)
			if err != nil {
				respondError(ctx, "Bookings", err)
				return
			}
			ctx.JSON(http.StatusOK, booking)
		}).
		POST("/bookings", func(ctx *gin.Context) {
			var body types.CreateBookingRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			currency := strings.ToUpper(body.Currency)
			if currency == "" {
				currency = "USD"
			}
			booking, err := s.bookings.Create(ctx, &models.Booking{
				UserID:       ctx.GetString("uid"),
				HotelID:      body.HotelID,
				OfferID:      body.OfferID,
				HotelName:    body.HotelName,
				CheckInDate:  body.CheckInDate,
				CheckOutDate: body.CheckOutDate,
				Adults:       body.Adults,
				Guests:       types.Guests(body.Guests),
				TotalPrice:   body.TotalPrice,
				Currency:     currency,
			})
			if err != nil {
				respondError(ctx, "Bookings", err)
				return
			}
			log.Printf("[Bookings] created %s for %s\n", booking.ID, booking.UserID)
			ctx.JSON(http.StatusCreated, booking)
		}).
		POST("/bookings/:id/cancel", func(ctx *gin.Context) {
			var params types.SimpleRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			var body types.CancelBookingRequestBody
			if ctx.Request.ContentLength > 0 {
				if err := ctx.ShouldBindJSON(&body); err != nil {
					ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
					return
				}
			}
			if _, err := s.ownBooking(ctx, params.ID); err != nil {
				respondError(ctx, "Bookings", err)
				return
			}
			cancelled, err := s.bookings.Cancel(ctx, params.ID, body.Reason)
			if err != nil {
				respondError(ctx, "Bookings", err)
				return
			}
			ctx.JSON(http.StatusOK, cancelled)
		})
	return g
}
