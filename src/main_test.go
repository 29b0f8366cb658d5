package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"thruster/src/bookings"
	"thruster/src/config"
	"thruster/src/lib"
	"thruster/src/lib/nowpayments"
	"thruster/src/lib/ton"
	"thruster/src/models"
	"thruster/src/payments"
	"thruster/src/types"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"github.com/tidwall/gjson"
)

const (
	secret        = "secret"
	ipnSecret     = "ipn-secret"
	webhookSecret = "whsec_test"
	buyerID       = "buyer-1"
)

var wallet = "EQ" + strings.Repeat("Ab3_", 11) + "xy"

type fakeOrders struct {
	mu     sync.Mutex
	orders map[string]*models.Order
	refs   map[string]string
}

func (f *fakeOrders) Create(ctx context.Context, o *models.Order) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o.ID = uuid.NewString()
	o.Status = types.ORDER_CREATED
	f.orders[o.ID] = o
	return o.ID, nil
}

func (f *fakeOrders) Get(ctx context.Context, id string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrders) ListByBuyer(ctx context.Context, buyer string) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		if o.BuyerID == buyer {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeOrders) SetPaymentReference(ctx context.Context, id, paymentID string, invoiceURL *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return types.ErrNotFound
	}
	if o.Status != types.ORDER_CREATED {
		return types.ErrConflict
	}
	f.refs[id] = paymentID
	return nil
}

func (f *fakeOrders) put(o *models.Order) *models.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	f.orders[o.ID] = o
	return o
}

type fakeNFTs struct {
	records []models.NFTRecord
}

func (f *fakeNFTs) GetByOrderID(ctx context.Context, orderID string) (*models.NFTRecord, error) {
	for i := range f.records {
		if f.records[i].OrderID == orderID {
			return &f.records[i], nil
		}
	}
	return nil, types.ErrNotFound
}

func (f *fakeNFTs) ListByWallet(ctx context.Context, w string) ([]models.NFTRecord, error) {
	var out []models.NFTRecord
	for _, r := range f.records {
		if r.WalletAddress == w {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeLedger struct{}

func (fakeLedger) ListByTarget(ctx context.Context, targetID string) ([]models.PaymentLog, error) {
	return []models.PaymentLog{{TargetID: targetID, Provider: types.PROVIDER_TON, ProviderTxID: "tx", Outcome: types.PAYMENT_SUCCEEDED}}, nil
}

func (fakeLedger) Authoritative(ctx context.Context, targetID string) (*models.PaymentLog, error) {
	return &models.PaymentLog{TargetID: targetID, Provider: types.PROVIDER_TON, ProviderTxID: "tx", Outcome: types.PAYMENT_SUCCEEDED}, nil
}

type fakeAttempts struct{}

func (fakeAttempts) ListByOrder(ctx context.Context, orderID string) ([]models.MintAttempt, error) {
	return []models.MintAttempt{{OrderID: orderID, Attempt: 1, Outcome: types.MINT_OUTCOME_TRANSIENT}}, nil
}

type fakeBookings struct {
	mu       sync.Mutex
	bookings map[string]*models.Booking
	results  map[string]bookings.ProviderResult
	applyErr error
}

func (f *fakeBookings) Get(ctx context.Context, id string) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (f *fakeBookings) ListByUser(ctx context.Context, userID string) ([]models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Booking
	for _, b := range f.bookings {
		if b.UserID == userID {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (f *fakeBookings) SetPaymentReference(ctx context.Context, id, paymentID string) error {
	return nil
}

func (f *fakeBookings) Create(ctx context.Context, b *models.Booking) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b.ID = uuid.NewString()
	b.Status = types.BOOKING_PENDING
	f.bookings[b.ID] = b
	return b, nil
}

func (f *fakeBookings) Cancel(ctx context.Context, id, reason string) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	if b.Status != types.BOOKING_PENDING {
		return nil, &types.ValidationError{Field: "status", Reason: "only pending bookings can be cancelled"}
	}
	b.Status = types.BOOKING_CANCELLED
	b.CancelReason = &reason
	cp := *b
	return &cp, nil
}

func (f *fakeBookings) ApplyProviderResult(ctx context.Context, id string, res bookings.ProviderResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return f.applyErr
	}
	f.results[id] = res
	return nil
}

type fakeConfirmer struct {
	mu     sync.Mutex
	err    error
	events []payments.PaymentEvent
}

func (f *fakeConfirmer) Confirm(ctx context.Context, ev payments.PaymentEvent) (payments.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return payments.Result{}, f.err
}

type fakeQueue struct {
	mu     sync.Mutex
	queued []string
}

func (f *fakeQueue) Enqueue(orderID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queued = append(f.queued, orderID)
	return true
}

type fakeInvoices struct {
	last nowpayments.Invoice
}

func (f *fakeInvoices) CreateInvoice(ctx context.Context, inv nowpayments.Invoice) (*nowpayments.InvoiceResult, error) {
	f.last = inv
	return &nowpayments.InvoiceResult{ID: "inv-1", InvoiceURL: "https://nowpayments.io/payment/?iid=inv-1"}, nil
}

type fakeTon struct {
	proof *ton.PaymentProof
	err   error
}

func (f *fakeTon) VerifyPayment(ctx context.Context, txHash, receiver, orderID string, expectedNano int64) (*ton.PaymentProof, error) {
	return f.proof, f.err
}

type TestSuite struct {
	suite.Suite
	server    *Server
	router    *gin.Engine
	orders    *fakeOrders
	nfts      *fakeNFTs
	bookings  *fakeBookings
	confirmer *fakeConfirmer
	queue     *fakeQueue
	invoices  *fakeInvoices
	ton       *fakeTon
	checkouts []lib.CheckoutInput
	Token     string
	now       time.Time
}

func generateJWT(sub, role string) (string, error) {
	tkn := jwt.NewWithClaims(jwt.SigningMethodHS256, &types.Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	return tkn.SignedString([]byte(secret))
}

func (s *TestSuite) SetupSuite() {
	gin.SetMode(gin.TestMode)
	registerValidations()
}

func (s *TestSuite) SetupTest() {
	cfg := &config.App{
		Env:                  "test",
		JWTSecret:            secret,
		BaseURL:              "https://api.thruster.test",
		FrontendURL:          "https://thruster.test",
		TonReceiverWallet:    wallet,
		NowPaymentsIPNSecret: ipnSecret,
		StripeWebhookSecret:  webhookSecret,
		ProviderSecret:       "provider-secret",
	}
	config.Set(cfg)

	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.orders = &fakeOrders{orders: map[string]*models.Order{}, refs: map[string]string{}}
	s.nfts = &fakeNFTs{}
	s.bookings = &fakeBookings{bookings: map[string]*models.Booking{}, results: map[string]bookings.ProviderResult{}}
	s.confirmer = &fakeConfirmer{}
	s.queue = &fakeQueue{}
	s.invoices = &fakeInvoices{}
	s.ton = &fakeTon{}
	s.checkouts = nil
	s.server = &Server{
		cfg:          cfg,
		orders:       s.orders,
		nfts:         s.nfts,
		ledger:       fakeLedger{},
		attempts:     fakeAttempts{},
		bookingStore: s.bookings,
		bookings:     s.bookings,
		payments:     s.confirmer,
		mints:        s.queue,
		invoices:     s.invoices,
		ton:          s.ton,
		checkout: func(ctx context.Context, in lib.CheckoutInput) (*stripe.CheckoutSession, error) {
			s.checkouts = append(s.checkouts, in)
			return &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/cs_test_1"}, nil
		},
		health: map[string]Pinger{
			"database": func(ctx context.Context) error { return nil },
		},
		now: func() time.Time { return s.now },
	}
	s.router = setupRouter(s.server)
	s.server.routes(s.router)

	token, err := generateJWT(buyerID, "")
	s.Require().NoError(err)
	s.Token = token
}

func (s *TestSuite) do(method, target, body string, headers ...string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.Token)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	s.router.ServeHTTP(w, req)
	return w
}

func (s *TestSuite) TestPingRoute() {
	w := s.do("GET", "/", "")
	assert.Equal(s.T(), 200, w.Code)
}

func (s *TestSuite) TestMaintenanceMode() {
	s.T().Setenv("MAINTENANCE_MODE", "true")

	router := setupRouter(s.server)
	router = maintenanceModeMiddleware(router)
	s.server.routes(router)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/v1/orders", nil)
	router.ServeHTTP(w, req)

	assert.Equal(s.T(), 503, w.Code)
}

func (s *TestSuite) TestHealthz() {
	w := s.do("GET", "/healthz", "")
	assert.Equal(s.T(), 200, w.Code)

	s.server.health["redis"] = func(ctx context.Context) error { return errors.New("dial tcp: refused") }
	w = s.do("GET", "/healthz", "")
	assert.Equal(s.T(), 503, w.Code)
	assert.Equal(s.T(), "down", gjson.Get(w.Body.String(), "redis").String())
}

func (s *TestSuite) TestUnauthorized() {
	s.Token = "garbage"
	w := s.do("GET", "/api/v1/orders", "")
	assert.Equal(s.T(), 401, w.Code)
}

func (s *TestSuite) TestCreateOrder() {
	s.Run("Should create an order with 201 status", func() {
		body := fmt.Sprintf(`{"items":[{"product_id":"p1","name":"Boots","price":10,"quantity":2}],"currency":"usd","payment_method":"TON_NATIVE","wallet_address":%q}`, wallet)
		w := s.do("POST", "/api/v1/orders", body)
		assert.Equal(s.T(), 201, w.Code)
		res := gjson.Parse(w.Body.String())
		assert.Equal(s.T(), "created", res.Get("status").String())
		assert.Equal(s.T(), "awaiting payment", res.Get("buyer_status").String())
		assert.Equal(s.T(), 20.0, res.Get("total_price").Float())
		assert.Equal(s.T(), "USD", res.Get("currency").String())
		assert.Equal(s.T(), buyerID, res.Get("buyer_id").String())
	})

	s.Run("Should reject a malformed wallet", func() {
		body := `{"items":[{"product_id":"p1","name":"Boots","price":10,"quantity":1}],"currency":"usd","payment_method":"TON_NATIVE","wallet_address":"not-a-wallet"}`
		w := s.do("POST", "/api/v1/orders", body)
		assert.Equal(s.T(), 400, w.Code)
		assert.NotEmpty(s.T(), gjson.Get(w.Body.String(), "error").String())
	})
}

func (s *TestSuite) TestGetOrder() {
	minted := s.orders.put(&models.Order{BuyerID: buyerID, Status: types.ORDER_MINTED, NFTMinted: true, WalletAddress: wallet})
	s.nfts.records = append(s.nfts.records, models.NFTRecord{OrderID: minted.ID, WalletAddress: wallet, NFTAddress: "EQnft", TxHash: "tx-1"})
	failing := s.orders.put(&models.Order{BuyerID: buyerID, Status: types.ORDER_MINT_FAILED, FailureKind: types.FAILURE_EXHAUSTED})
	reason := "exit_code=33"
	failing.FailureReason = &reason
	foreign := s.orders.put(&models.Order{BuyerID: "someone-else", Status: types.ORDER_PAID})

	w := s.do("GET", "/api/v1/orders/"+minted.ID, "")
	assert.Equal(s.T(), 200, w.Code)
	assert.Equal(s.T(), "reward issued", gjson.Get(w.Body.String(), "buyer_status").String())
	assert.Equal(s.T(), "EQnft", gjson.Get(w.Body.String(), "nft.nft_address").String())

	w = s.do("GET", "/api/v1/orders/"+failing.ID, "")
	assert.Equal(s.T(), 200, w.Code)
	assert.Equal(s.T(), "reward failed - contact support", gjson.Get(w.Body.String(), "buyer_status").String())
	assert.NotContains(s.T(), w.Body.String(), "exit_code")

	w = s.do("GET", "/api/v1/orders/"+foreign.ID, "")
	assert.Equal(s.T(), 404, w.Code)

	w = s.do("GET", "/api/v1/orders", "")
	assert.Equal(s.T(), 200, w.Code)
	assert.Len(s.T(), gjson.Get(w.Body.String(), "orders").Array(), 2)
}

func (s *TestSuite) TestRequestMint() {
	paid := s.orders.put(&models.Order{BuyerID: buyerID, Status: types.ORDER_PAID})
	minted := s.orders.put(&models.Order{BuyerID: buyerID, Status: types.ORDER_MINTED, NFTMinted: true})
	unpaid := s.orders.put(&models.Order{BuyerID: buyerID, Status: types.ORDER_CREATED})
	later := s.now.Add(time.Hour)
	waiting := s.orders.put(&models.Order{BuyerID: buyerID, Status: types.ORDER_MINT_FAILED, FailureKind: types.FAILURE_TRANSIENT, NextRetryAt: &later})

	w := s.do("POST", "/api/v1/orders/"+paid.ID+"/mint", "")
	assert.Equal(s.T(), 202, w.Code)
	assert.Equal(s.T(), []string{paid.ID}, s.queue.queued)

	w = s.do("POST", "/api/v1/orders/"+minted.ID+"/mint", "")
	assert.Equal(s.T(), 409, w.Code)
	assert.Equal(s.T(), "reward already issued", gjson.Get(w.Body.String(), "error").String())

	w = s.do("POST", "/api/v1/orders/"+unpaid.ID+"/mint", "")
	assert.Equal(s.T(), 409, w.Code)

	w = s.do("POST", "/api/v1/orders/"+waiting.ID+"/mint", "")
	assert.Equal(s.T(), 409, w.Code)
	assert.Len(s.T(), s.queue.queued, 1)
}

func (s *TestSuite) TestListNFTs() {
	mine := s.orders.put(&models.Order{BuyerID: buyerID, Status: types.ORDER_MINTED, NFTMinted: true})
	theirs := s.orders.put(&models.Order{BuyerID: "someone-else", Status: types.ORDER_MINTED, NFTMinted: true})
	s.nfts.records = []models.NFTRecord{
		{OrderID: mine.ID, WalletAddress: wallet, NFTAddress: "EQmine"},
		{OrderID: theirs.ID, WalletAddress: wallet, NFTAddress: "EQtheirs"},
	}

	w := s.do("GET", "/api/v1/nfts?wallet="+wallet, "")
	assert.Equal(s.T(), 200, w.Code)
	nfts := gjson.Get(w.Body.String(), "nfts").Array()
	assert.Len(s.T(), nfts, 1)
	assert.Equal(s.T(), "EQmine", nfts[0].Get("nft_address").String())

	w = s.do("GET", "/api/v1/nfts?wallet=bad", "")
	assert.Equal(s.T(), 400, w.Code)
}

func (s *TestSuite) TestAdminOrder() {
	o := s.orders.put(&models.Order{BuyerID: "someone-else", Status: types.ORDER_MINT_FAILED, FailureKind: types.FAILURE_TRANSIENT, MintAttempts: 2})

	w := s.do("GET", "/api/v1/admin/orders/"+o.ID, "")
	assert.Equal(s.T(), 403, w.Code)

	token, err := generateJWT("ops-1", types.ROLE_ADMIN)
	s.Require().NoError(err)
	s.Token = token
	w = s.do("GET", "/api/v1/admin/orders/"+o.ID, "")
	assert.Equal(s.T(), 200, w.Code)
	res := gjson.Parse(w.Body.String())
	assert.Equal(s.T(), "transient", res.Get("failure_kind").String())
	assert.Equal(s.T(), int64(2), res.Get("mint_attempts").Int())
	assert.Len(s.T(), res.Get("payments").Array(), 1)
	assert.Len(s.T(), res.Get("attempts").Array(), 1)
	assert.Equal(s.T(), "tx", res.Get("paid_by.provider_tx_id").String())
}

func (s *TestSuite) TestNowPaymentsInvoice() {
	o := s.orders.put(&models.Order{BuyerID: buyerID, Status: types.ORDER_CREATED, TotalPrice: 12.5, Currency: "USD"})

	w := s.do("POST", "/api/v1/payments/nowpayments/invoice", fmt.Sprintf(`{"order_id":%q}`, o.ID))
	assert.Equal(s.T(), 200, w.Code)
	assert.Equal(s.T(), "inv-1", gjson.Get(w.Body.String(), "invoice_id").String())
	assert.Equal(s.T(), "usd", s.invoices.last.PriceCurrency)
	assert.Equal(s.T(), "https://api.thruster.test/api/v1/webhook/nowpayments", s.invoices.last.IPNCallbackURL)
	assert.Equal(s.T(), "inv-1", s.orders.refs[o.ID])

	paid := s.orders.put(&models.Order{BuyerID: buyerID, Status: types.ORDER_PAID})
	w = s.do("POST", "/api/v1/payments/nowpayments/invoice", fmt.Sprintf(`{"order_id":%q}`, paid.ID))
	assert.Equal(s.T(), 400, w.Code)
}

func (s *TestSuite) TestStripeCheckout() {
	o := s.orders.put(&models.Order{BuyerID: buyerID, Status: types.ORDER_CREATED, TotalPrice: 30, Currency: "EUR"})
	b := &models.Booking{ID: uuid.NewString(), UserID: buyerID, Status: types.BOOKING_PENDING, HotelName: "Hotel Lux", TotalPrice: 200, Currency: "USD"}
	s.bookings.bookings[b.ID] = b

	w := s.do("POST", "/api/v1/payments/stripe/checkout", fmt.Sprintf(`{"order_id":%q}`, o.ID))
	assert.Equal(s.T(), 200, w.Code)
	assert.Equal(s.T(), "cs_test_1", gjson.Get(w.Body.String(), "session_id").String())

	w = s.do("POST", "/api/v1/payments/stripe/checkout", fmt.Sprintf(`{"booking_id":%q}`, b.ID))
	assert.Equal(s.T(), 200, w.Code)

	s.Require().Len(s.checkouts, 2)
	assert.Equal(s.T(), types.TARGET_ORDER, s.checkouts[0].TargetKind)
	assert.Equal(s.T(), types.TARGET_BOOKING, s.checkouts[1].TargetKind)
	assert.Equal(s.T(), 200.0, s.checkouts[1].Amount)

	w = s.do("POST", "/api/v1/payments/stripe/checkout", `{}`)
	assert.Equal(s.T(), 400, w.Code)
}

func (s *TestSuite) TestTonPayment() {
	o := s.orders.put(&models.Order{BuyerID: buyerID, Status: types.ORDER_CREATED, TotalPrice: 1.5})

	w := s.do("GET", "/api/v1/payments/ton/payload/"+o.ID, "")
	assert.Equal(s.T(), 200, w.Code)
	msg := gjson.Get(w.Body.String(), "messages.0")
	assert.Equal(s.T(), wallet, msg.Get("address").String())
	assert.Equal(s.T(), "1500000000", msg.Get("amount").String())
	assert.Equal(s.T(), "THRUSTER_ORDER_"+o.ID, msg.Get("comment").String())

	s.ton.proof = &ton.PaymentProof{TxHash: "txhash", Receiver: wallet, AmountNano: 1_500_000_000, Comment: "THRUSTER_ORDER_" + o.ID}
	w = s.do("POST", "/api/v1/payments/ton/verify", fmt.Sprintf(`{"order_id":%q,"tx_hash":"txhash"}`, o.ID))
	assert.Equal(s.T(), 200, w.Code)
	s.Require().Len(s.confirmer.events, 1)
	ev := s.confirmer.events[0]
	assert.Equal(s.T(), types.PROVIDER_TON, ev.Provider)
	assert.Equal(s.T(), "txhash", ev.ProviderTxID)
	assert.Equal(s.T(), 1.5, ev.Amount)

	s.ton.err = &types.ValidationError{Field: "tx_hash", Reason: "invalid receiver address"}
	w = s.do("POST", "/api/v1/payments/ton/verify", fmt.Sprintf(`{"order_id":%q,"tx_hash":"other"}`, o.ID))
	assert.Equal(s.T(), 400, w.Code)
	assert.Len(s.T(), s.confirmer.events, 1)
}

func (s *TestSuite) TestNowPaymentsWebhook() {
	orderID := uuid.NewString()
	body := fmt.Sprintf(`{"payment_id":5077125051,"payment_status":"finished","order_id":%q,"price_amount":12.5,"price_currency":"usd"}`, orderID)
	sig, err := nowpayments.Sign([]byte(body), ipnSecret)
	s.Require().NoError(err)

	s.Run("Should reject a bad signature", func() {
		w := s.do("POST", "/api/v1/webhook/nowpayments", body, nowpayments.SignatureHeader, "deadbeef")
		assert.Equal(s.T(), 401, w.Code)
		assert.Empty(s.T(), s.confirmer.events)
	})

	s.Run("Should confirm a finished payment", func() {
		w := s.do("POST", "/api/v1/webhook/nowpayments", body, nowpayments.SignatureHeader, sig)
		assert.Equal(s.T(), 200, w.Code)
		s.Require().Len(s.confirmer.events, 1)
		ev := s.confirmer.events[0]
		assert.Equal(s.T(), orderID, ev.TargetID)
		assert.Equal(s.T(), types.PAYMENT_SUCCEEDED, ev.Outcome)
		assert.Equal(s.T(), "5077125051", ev.ProviderTxID)
	})

	s.Run("Should ask for redelivery while in flight", func() {
		s.confirmer.err = types.ErrInFlight
		w := s.do("POST", "/api/v1/webhook/nowpayments", body, nowpayments.SignatureHeader, sig)
		assert.Equal(s.T(), 409, w.Code)
		s.confirmer.err = nil
	})

	s.Run("Should ignore intermediate statuses", func() {
		waiting := strings.Replace(body, "finished", "waiting", 1)
		wsig, _ := nowpayments.Sign([]byte(waiting), ipnSecret)
		before := len(s.confirmer.events)
		w := s.do("POST", "/api/v1/webhook/nowpayments", waiting, nowpayments.SignatureHeader, wsig)
		assert.Equal(s.T(), 200, w.Code)
		assert.Len(s.T(), s.confirmer.events, before)
	})
}

func stripeEvent(eventType, paymentStatus, targetID string) []byte {
	b, _ := json.Marshal(map[string]any{
		"id":          "evt_1",
		"object":      "event",
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"data": map[string]any{
			"object": map[string]any{
				"id":             "cs_test_1",
				"object":         "checkout.session",
				"payment_status": paymentStatus,
				"payment_intent": "pi_1",
				"amount_total":   1250,
				"currency":       "usd",
				"metadata": map[string]string{
					"target_id":   targetID,
					"target_kind": "order",
				},
			},
		},
	})
	return b
}

func (s *TestSuite) TestStripeWebhook() {
	orderID := uuid.NewString()
	sign := func(payload []byte) string {
		return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: webhookSecret}).Header
	}

	payload := stripeEvent("checkout.session.completed", "paid", orderID)
	w := s.do("POST", "/api/v1/webhook/stripe", string(payload), "Stripe-Signature", "t=1,v1=bad")
	assert.Equal(s.T(), 400, w.Code)

	w = s.do("POST", "/api/v1/webhook/stripe", string(payload), "Stripe-Signature", sign(payload))
	assert.Equal(s.T(), 200, w.Code)
	s.Require().Len(s.confirmer.events, 1)
	ev := s.confirmer.events[0]
	assert.Equal(s.T(), orderID, ev.TargetID)
	assert.Equal(s.T(), types.PROVIDER_STRIPE, ev.Provider)
	assert.Equal(s.T(), "pi_1", ev.ProviderTxID)
	assert.Equal(s.T(), 12.5, ev.Amount)
	assert.Equal(s.T(), types.PAYMENT_SUCCEEDED, ev.Outcome)

	unpaid := stripeEvent("checkout.session.completed", "unpaid", orderID)
	w = s.do("POST", "/api/v1/webhook/stripe", string(unpaid), "Stripe-Signature", sign(unpaid))
	assert.Equal(s.T(), 200, w.Code)
	assert.Len(s.T(), s.confirmer.events, 1)

	expired := stripeEvent("checkout.session.expired", "unpaid", orderID)
	w = s.do("POST", "/api/v1/webhook/stripe", string(expired), "Stripe-Signature", sign(expired))
	assert.Equal(s.T(), 200, w.Code)
	s.Require().Len(s.confirmer.events, 2)
	assert.Equal(s.T(), types.PAYMENT_FAILED, s.confirmer.events[1].Outcome)
}

func (s *TestSuite) TestReservationsWebhook() {
	bookingID := uuid.NewString()
	body := fmt.Sprintf(`{"booking_id":%q,"external_booking_id":"AMA-1","status":"confirmed"}`, bookingID)

	w := s.do("POST", "/api/v1/webhook/reservations", body)
	assert.Equal(s.T(), 401, w.Code)

	w = s.do("POST", "/api/v1/webhook/reservations", body, "x-provider-secret", "provider-secret")
	assert.Equal(s.T(), 200, w.Code)
	assert.Equal(s.T(), bookings.ProviderResult{ExternalBookingID: "AMA-1", Confirmed: true}, s.bookings.results[bookingID])

	s.bookings.applyErr = types.ErrPaymentRequired
	w = s.do("POST", "/api/v1/webhook/reservations", body, "x-provider-secret", "provider-secret")
	assert.Equal(s.T(), 409, w.Code)
}

func (s *TestSuite) TestBookings() {
	var id string
	s.Run("Should create a booking", func() {
		body := `{"hotel_id":"H1","offer_id":"OF1","hotel_name":"Hotel Lux","check_in_date":"2026-05-01","check_out_date":"2026-05-03","adults":2,"guests":[{"name":"Ana","email":"ana@example.com"}],"total_price":200}`
		w := s.do("POST", "/api/v1/bookings", body)
		assert.Equal(s.T(), 201, w.Code)
		res := gjson.Parse(w.Body.String())
		id = res.Get("id").String()
		assert.Equal(s.T(), "pending", res.Get("status").String())
		assert.Equal(s.T(), "USD", res.Get("currency").String())
	})

	s.Run("Should reject a check-out before check-in", func() {
		body := `{"hotel_id":"H1","offer_id":"OF1","hotel_name":"Hotel Lux","check_in_date":"2026-05-03","check_out_date":"2026-05-01","adults":2,"guests":[{"name":"Ana","email":"ana@example.com"}],"total_price":200}`
		w := s.do("POST", "/api/v1/bookings", body)
		assert.Equal(s.T(), 400, w.Code)
	})

	s.Run("Should list and cancel own bookings", func() {
		w := s.do("GET", "/api/v1/bookings", "")
		assert.Equal(s.T(), 200, w.Code)
		assert.Len(s.T(), gjson.Get(w.Body.String(), "bookings").Array(), 1)

		w = s.do("POST", "/api/v1/bookings/"+id+"/cancel", `{"reason":"plans changed"}`)
		assert.Equal(s.T(), 200, w.Code)
		assert.Equal(s.T(), "cancelled", gjson.Get(w.Body.String(), "status").String())

		w = s.do("POST", "/api/v1/bookings/"+id+"/cancel", "")
		assert.Equal(s.T(), 400, w.Code)
	})
}

func TestRunner(t *testing.T) {
	suite.Run(t, new(TestSuite))
}
