package bookings

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"thruster/src/lib"
	"thruster/src/lib/amadeus"
	"thruster/src/models"
	"thruster/src/types"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/suite"
)

type memStore struct {
	bookings map[string]*models.Booking
}

func (m *memStore) Create(ctx context.Context, b *models.Booking) (string, error) {
	b.ID = "new"
	b.Status = types.BOOKING_PENDING
	m.bookings[b.ID] = b
	return b.ID, nil
}

func (m *memStore) Get(ctx context.Context, id string) (*models.Booking, error) {
	b, ok := m.bookings[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *memStore) Transition(ctx context.Context, id string, expected, next types.BookingStatus, changes types.JSONB) (*models.Booking, error) {
	b, ok := m.bookings[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	if b.Status != expected {
		return nil, types.ErrConflict
	}
	b.Status = next
	if v, ok := changes["external_booking_id"].(string); ok {
		b.ExternalBookingID = &v
	}
	if v, ok := changes["cancel_reason"].(string); ok {
		b.CancelReason = &v
	}
	cp := *b
	return &cp, nil
}

func (m *memStore) ListSettleable(ctx context.Context, limit int) ([]models.Booking, error) {
	var out []models.Booking
	for _, b := range m.bookings {
		if b.Status == types.BOOKING_PENDING {
			out = append(out, *b)
		}
	}
	return out, nil
}

type fixedPayments map[string]types.PaymentOutcome

func (f fixedPayments) LatestOutcome(ctx context.Context, id string) (types.PaymentOutcome, error) {
	if o, ok := f[id]; ok {
		return o, nil
	}
	return types.PAYMENT_NONE, nil
}

type fakeProvider struct {
	calls  int
	ref    string
	err    error
	during func()
}

func (f *fakeProvider) Book(ctx context.Context, in amadeus.BookRequest) (string, error) {
	f.calls++
	if f.during != nil {
		f.during()
	}
	return f.ref, f.err
}

type fakeMailer struct {
	sent []string
	err  error
}

func (f *fakeMailer) SendBookingConfirmation(ctx context.Context, b *models.Booking) error {
	f.sent = append(f.sent, b.ID)
	return f.err
}

type BookingsTestSuite struct {
	suite.Suite
	mock     redismock.ClientMock
	store    *memStore
	payments fixedPayments
	provider *fakeProvider
	mail     *fakeMailer
	svc      *Service
}

func (s *BookingsTestSuite) SetupTest() {
	rdb, mock := redismock.NewClientMock()
	s.mock = mock
	guests := types.Guests{{Name: "Ada Lovelace", Email: "ada@example.com"}}
	s.store = &memStore{bookings: map[string]*models.Booking{
		"b1": {ID: "b1", OfferID: "OFFER1", Status: types.BOOKING_PENDING, Guests: guests},
		"b2": {ID: "b2", OfferID: "OFFER2", Status: types.BOOKING_PENDING, Guests: guests},
		"b3": {ID: "b3", OfferID: "OFFER3", Status: types.BOOKING_CONFIRMED, Guests: guests},
	}}
	s.payments = fixedPayments{"b1": types.PAYMENT_SUCCEEDED, "b3": types.PAYMENT_SUCCEEDED}
	s.provider = &fakeProvider{ref: "XD_1"}
	s.mail = &fakeMailer{}
	s.svc = NewService(rdb, s.store, s.payments, s.provider, s.mail)
	s.svc.owner = func() string { return "lease-1" }
}

func (s *BookingsTestSuite) TearDownTest() {
	s.NoError(s.mock.ExpectationsWereMet())
}

func (s *BookingsTestSuite) expectLease(id string) {
	key := "bookings:" + id + ":settle"
	s.mock.ExpectSetNX(key, "lease-1", settleLeaseTTL).SetVal(true)
	s.mock.ExpectEvalSha(lib.ReleaseLeaseScript.Hash(), []string{key}, "lease-1").SetVal(int64(1))
}

func (s *BookingsTestSuite) TestSettleConfirmsAndMails() {
	s.expectLease("b1")

	s.NoError(s.svc.Settle(context.Background(), "b1"))
	b := s.store.bookings["b1"]
	s.Equal(types.BOOKING_CONFIRMED, b.Status)
	s.Equal("XD_1", *b.ExternalBookingID)
	s.Equal([]string{"b1"}, s.mail.sent)
}

func (s *BookingsTestSuite) TestMailFailureKeepsConfirmation() {
	s.expectLease("b1")
	s.mail.err = errors.New("smtp down")

	s.NoError(s.svc.Settle(context.Background(), "b1"))
	s.Equal(types.BOOKING_CONFIRMED, s.store.bookings["b1"].Status)
}

func (s *BookingsTestSuite) TestSettleRequiresPayment() {
	s.expectLease("b2")

	s.ErrorIs(s.svc.Settle(context.Background(), "b2"), types.ErrPaymentRequired)
	s.Equal(0, s.provider.calls)
	s.Equal(types.BOOKING_PENDING, s.store.bookings["b2"].Status)
}

func (s *BookingsTestSuite) TestSettleTerminalIsNoop() {
	s.expectLease("b3")

	s.NoError(s.svc.Settle(context.Background(), "b3"))
	s.Equal(0, s.provider.calls)
}

func (s *BookingsTestSuite) TestSettleLeaseHeld() {
	s.mock.ExpectSetNX("bookings:b1:settle", "lease-1", settleLeaseTTL).SetVal(false)

	s.ErrorIs(s.svc.Settle(context.Background(), "b1"), types.ErrInFlight)
	s.Equal(0, s.provider.calls)
}

func (s *BookingsTestSuite) TestProviderRejectionCancels() {
	s.expectLease("b1")
	s.provider.err = &amadeus.APIError{Status: http.StatusBadRequest, Code: "3664", Detail: "ROOM OR RATE NOT AVAILABLE"}

	s.NoError(s.svc.Settle(context.Background(), "b1"))
	b := s.store.bookings["b1"]
	s.Equal(types.BOOKING_CANCELLED, b.Status)
	s.Contains(*b.CancelReason, "ROOM OR RATE NOT AVAILABLE")
}

func (s *BookingsTestSuite) TestProviderOutageStaysPending() {
	s.expectLease("b1")
	s.provider.err = &amadeus.APIError{Status: http.StatusServiceUnavailable}

	s.Error(s.svc.Settle(context.Background(), "b1"))
	s.Equal(types.BOOKING_PENDING, s.store.bookings["b1"].Status)
}

func (s *BookingsTestSuite) TestApplyProviderResult() {
	for _, id := range []string{"b2", "b1", "b1", "b2", "nope"} {
		s.expectLease(id)
	}
	s.ErrorIs(s.svc.ApplyProviderResult(context.Background(), "b2", ProviderResult{ExternalBookingID: "X", Confirmed: true}), types.ErrPaymentRequired)

	s.NoError(s.svc.ApplyProviderResult(context.Background(), "b1", ProviderResult{ExternalBookingID: "XD_9", Confirmed: true}))
	s.Equal("XD_9", *s.store.bookings["b1"].ExternalBookingID)

	s.NoError(s.svc.ApplyProviderResult(context.Background(), "b1", ProviderResult{Confirmed: false, Reason: "late"}))
	s.Equal(types.BOOKING_CONFIRMED, s.store.bookings["b1"].Status)

	s.NoError(s.svc.ApplyProviderResult(context.Background(), "b2", ProviderResult{Confirmed: false}))
	s.Equal(types.BOOKING_CANCELLED, s.store.bookings["b2"].Status)

	s.ErrorIs(s.svc.ApplyProviderResult(context.Background(), "nope", ProviderResult{}), types.ErrNotFound)
}

func (s *BookingsTestSuite) TestConfirmWithoutReferenceRejected() {
	err := s.svc.ApplyProviderResult(context.Background(), "b1", ProviderResult{Confirmed: true})
	s.ErrorIs(err, types.ErrValidation)
	s.Equal(types.BOOKING_PENDING, s.store.bookings["b1"].Status)
}

func (s *BookingsTestSuite) TestCancel() {
	s.expectLease("b2")
	s.expectLease("b3")
	b, err := s.svc.Cancel(context.Background(), "b2", "")
	s.NoError(err)
	s.Equal(types.BOOKING_CANCELLED, b.Status)
	s.Equal("cancelled_by_user", *b.CancelReason)

	_, err = s.svc.Cancel(context.Background(), "b3", "changed plans")
	s.ErrorIs(err, types.ErrValidation)
}

func (s *BookingsTestSuite) TestCancelWhileSettlingIsRefused() {
	key := "bookings:b1:settle"
	s.mock.ExpectSetNX(key, "lease-1", settleLeaseTTL).SetVal(true)
	s.mock.ExpectSetNX(key, "lease-1", settleLeaseTTL).SetVal(false)
	s.mock.ExpectSetNX(key, "lease-1", settleLeaseTTL).SetVal(false)
	s.mock.ExpectEvalSha(lib.ReleaseLeaseScript.Hash(), []string{key}, "lease-1").SetVal(int64(1))

	var cancelErr, callbackErr error
	s.provider.during = func() {
		_, cancelErr = s.svc.Cancel(context.Background(), "b1", "changed plans")
		callbackErr = s.svc.ApplyProviderResult(context.Background(), "b1", ProviderResult{Confirmed: false})
	}

	s.NoError(s.svc.Settle(context.Background(), "b1"))
	s.ErrorIs(cancelErr, types.ErrInFlight)
	s.ErrorIs(callbackErr, types.ErrInFlight)
	b := s.store.bookings["b1"]
	s.Equal(types.BOOKING_CONFIRMED, b.Status)
	s.Equal("XD_1", *b.ExternalBookingID)
	s.Nil(b.CancelReason)
	s.Equal([]string{"b1"}, s.mail.sent)
}

func (s *BookingsTestSuite) TestCreateRequiresGuest() {
	_, err := s.svc.Create(context.Background(), &models.Booking{OfferID: "OFFER4"})
	s.ErrorIs(err, types.ErrValidation)

	b, err := s.svc.Create(context.Background(), &models.Booking{OfferID: "OFFER4", Guests: types.Guests{{Name: "Ada", Email: "ada@example.com"}}})
	s.NoError(err)
	s.Equal(types.BOOKING_PENDING, b.Status)
}

func TestBookingsTestSuite(t *testing.T) {
	suite.Run(t, new(BookingsTestSuite))
}
