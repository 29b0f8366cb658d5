package main

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"thruster/src/middlewares"
	"thruster/src/mint"
	"thruster/src/models"
	"thruster/src/types"

	"github.com/gin-gonic/gin"
)

// orderView is what buyers see. Mint internals are reduced to a buyer status.
type orderView struct {
	*models.Order
	BuyerStatus string            `json:"buyer_status"`
	NFT         *models.NFTRecord `json:"nft,omitempty"`
}

func (s *Server) orderHandlers(g *gin.RouterGroup) *gin.RouterGroup {
	g.
		POST("/orders", func(ctx *gin.Context) {
			var body types.CreateOrderRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			items := types.OrderItems(body.Items)
			order := &models.Order{
				BuyerID:       ctx.GetString("uid"),
				Items:         items,
				TotalPrice:    items.Total(),
				Currency:      strings.ToUpper(body.Currency),
				PaymentMethod: body.PaymentMethod,
				WalletAddress: body.WalletAddress,
			}
			if _, err := s.orders.Create(ctx, order); err != nil {
				respondError(ctx, "Orders", err)
				return
			}
			log.Printf("[Orders] created %s for %s\n", order.ID, order.BuyerID)
			ctx.JSON(http.StatusCreated, orderView{Order: order, BuyerStatus: mint.BuyerStatus(order)})
		}).
		GET("/orders", func(ctx *gin.Context) {
			orders, err := s.orders.ListByBuyer(ctx, ctx.GetString("uid"))
			if err != nil {
				respondError(ctx, "Orders", err)
				return
			}
			views := make([]orderView, 0, len(orders))
			for i := range orders {
				views = append(views, orderView{Order: &orders[i], BuyerStatus: mint.BuyerStatus(&orders[i])})
			}
			ctx.JSON(http.StatusOK, gin.H{"orders": views})
		}).
		GET("/orders/:id", func(ctx *gin.Context) {
			var params types.SimpleRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			order, err := s.ownOrder(ctx, params.ID)
			if err != nil {
				respondError(ctx, "Orders", err)
				return
			}
			view := orderView{Order: order, BuyerStatus: mint.BuyerStatus(order)}
			if order.NFTMinted {
				record, err := s.nfts.GetByOrderID(ctx, order.ID)
				if err != nil && !errors.Is(err, types.ErrNotFound) {
					respondError(ctx, "Orders", err)
					return
				}
				view.NFT = record
			}
			ctx.JSON(http.StatusOK, view)
		}).
		POST("/orders/:id/mint", func(ctx *gin.Context) {
			var params types.SimpleRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			order, err := s.ownOrder(ctx, params.ID)
			if err != nil {
				respondError(ctx, "Orders", err)
				return
			}
			switch {
			case order.NFTMinted || order.Status == types.ORDER_MINTED:
				respondError(ctx, "Orders", types.ErrAlreadyMinted)
				return
			case order.Status == types.ORDER_MINTING:
				ctx.JSON(http.StatusAccepted, gin.H{"status": mint.BuyerStatus(order)})
				return
			case order.Status != types.ORDER_PAID && !order.RetryDue(s.now()):
				respondError(ctx, "Orders", types.ErrNotMintable)
				return
			}
			queued := s.mints.Enqueue(order.ID)
			ctx.JSON(http.StatusAccepted, gin.H{"status": mint.BuyerStatus(order), "queued": queued})
		}).
		GET("/nfts", func(ctx *gin.Context) {
			var query types.WalletQueryParams
			if err := ctx.ShouldBindQuery(&query); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			records, err := s.nfts.ListByWallet(ctx, query.Wallet)
			if err != nil {
				respondError(ctx, "NFTs", err)
				return
			}
			uid := ctx.GetString("uid")
			owned := make([]models.NFTRecord, 0, len(records))
			for _, r := range records {
				order, err := s.orders.Get(ctx, r.OrderID)
				if err != nil || order.BuyerID != uid {
					continue
				}
				owned = append(owned, r)
			}
			ctx.JSON(http.StatusOK, gin.H{"nfts": owned})
		})
	return g
}

func (s *Server) adminHandlers(g *gin.RouterGroup) *gin.RouterGroup {
	admin := g.Group("/admin", middlewares.RequireRole(types.ROLE_ADMIN))
	admin.GET("/orders/:id", func(ctx *gin.Context) {
		var params types.SimpleRequestParams
		if err := ctx.ShouldBindUri(&params); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		order, err := s.orders.Get(ctx, params.ID)
		if err != nil {
			respondError(ctx, "Admin", err)
			return
		}
		ledger, err := s.ledger.ListByTarget(ctx, order.ID)
		if err != nil {
			respondError(ctx, "Admin", err)
			return
		}
		attempts, err := s.attempts.ListByOrder(ctx, order.ID)
		if err != nil {
			respondError(ctx, "Admin", err)
			return
		}
		authoritative, err := s.ledger.Authoritative(ctx, order.ID)
		if err != nil && !errors.Is(err, types.ErrNotFound) {
			respondError(ctx, "Admin", err)
			return
		}
		var record *models.NFTRecord
		if order.NFTMinted {
			record, _ = s.nfts.GetByOrderID(ctx, order.ID)
		}
		ctx.JSON(http.StatusOK, gin.H{
			"order":              order,
			"buyer_status":       mint.BuyerStatus(order),
			"failure_kind":       order.FailureKind,
			"failure_reason":     order.FailureReason,
			"mint_attempts":      order.MintAttempts,
			"mint_query_id":      order.MintQueryID,
			"metadata_url":       order.MetadataURL,
			"next_retry_at":      order.NextRetryAt,
			"minting_started_at": order.MintingStartedAt,
			"nft":                record,
			"payments":           ledger,
			"paid_by":            authoritative,
			"attempts":           attempts,
		})
	})
	return admin
}
