package mint

import (
	"context"
	"errors"
	"strings"
	"sync"
	"thruster/src/lib/ton"
	"thruster/src/models"
	"thruster/src/types"
	"time"
)

var testWallet = "EQ" + strings.Repeat("Ab3_", 11) + "xy"

type memOrders struct {
	mu     sync.Mutex
	orders map[string]*models.Order
}

func newMemOrders(orders ...*models.Order) *memOrders {
	m := &memOrders{orders: map[string]*models.Order{}}
	for _, o := range orders {
		m.orders[o.ID] = o
	}
	return m
}

func (m *memOrders) snapshot(id string) models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.orders[id]
}

func (m *memOrders) update(id string, fn func(o *models.Order)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.orders[id])
}

func (m *memOrders) Get(ctx context.Context, id string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memOrders) Transition(ctx context.Context, id string, expected, next types.OrderStatus, changes types.JSONB) (*models.Order, error) {
	if !expected.CanTransition(next) {
		return nil, types.ErrInvalidEdge
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	if o.Status != expected {
		return nil, types.ErrConflict
	}
	applyChanges(o, changes)
	o.Status = next
	cp := *o
	return &cp, nil
}

func (m *memOrders) TransitionLease(ctx context.Context, id string, lease types.MintLease, next types.OrderStatus, changes types.JSONB) (*models.Order, error) {
	if next != types.ORDER_MINTING && !types.ORDER_MINTING.CanTransition(next) {
		return nil, types.ErrInvalidEdge
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	if o.Status != types.ORDER_MINTING || o.MintQueryID == nil || *o.MintQueryID != lease.QueryID ||
		o.MintingStartedAt == nil || !o.MintingStartedAt.Equal(lease.StartedAt) {
		return nil, types.ErrConflict
	}
	applyChanges(o, changes)
	o.Status = next
	cp := *o
	return &cp, nil
}

func applyChanges(o *models.Order, changes types.JSONB) {
	for k, v := range changes {
		switch k {
		case "mint_attempts":
			o.MintAttempts = v.(int)
		case "mint_query_id":
			q := v.(uint64)
			o.MintQueryID = &q
		case "minting_started_at":
			t := v.(time.Time)
			o.MintingStartedAt = &t
		case "failure_kind":
			o.FailureKind = v.(types.FailureKind)
		case "failure_reason":
			if v == nil {
				o.FailureReason = nil
			} else {
				s := v.(string)
				o.FailureReason = &s
			}
		case "next_retry_at":
			if v == nil {
				o.NextRetryAt = nil
			} else {
				t := v.(time.Time)
				o.NextRetryAt = &t
			}
		case "nft_minted":
			o.NFTMinted = v.(bool)
		}
	}
}

func (m *memOrders) SetMetadataURL(ctx context.Context, id, url string) error {
	m.update(id, func(o *models.Order) { o.MetadataURL = &url })
	return nil
}

func (m *memOrders) ListMintable(ctx context.Context, now time.Time, limit int) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Order
	for _, o := range m.orders {
		if o.Status == types.ORDER_PAID || o.RetryDue(now) {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *memOrders) ListStaleMinting(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Order
	for _, o := range m.orders {
		if o.Status == types.ORDER_MINTING && o.MintingStartedAt != nil && o.MintingStartedAt.Before(cutoff) {
			out = append(out, *o)
		}
	}
	return out, nil
}

type memRecords struct {
	mu      sync.Mutex
	byOrder map[string]*models.NFTRecord
	getErr  error
}

func newMemRecords() *memRecords {
	return &memRecords{byOrder: map[string]*models.NFTRecord{}}
}

func (m *memRecords) Create(ctx context.Context, r *models.NFTRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byOrder[r.OrderID]; ok {
		return types.ErrAlreadyMinted
	}
	for _, existing := range m.byOrder {
		if existing.TxHash == r.TxHash || existing.NFTAddress == r.NFTAddress {
			return types.ErrAlreadyMinted
		}
	}
	cp := *r
	m.byOrder[r.OrderID] = &cp
	return nil
}

func (m *memRecords) GetByOrderID(ctx context.Context, orderID string) (*models.NFTRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	r, ok := m.byOrder[orderID]
	if !ok {
		return nil, types.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRecords) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byOrder)
}

type memAttempts struct {
	mu       sync.Mutex
	attempts []models.MintAttempt
}

func (m *memAttempts) Append(ctx context.Context, a *models.MintAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, *a)
	return nil
}

func (m *memAttempts) outcomes() []types.MintOutcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.MintOutcome
	for _, a := range m.attempts {
		out = append(out, a.Outcome)
	}
	return out
}

type fakeChain struct {
	mu      sync.Mutex
	submits []ton.MintRequest
	lookups []uint64

	submit func(ctx context.Context, req ton.MintRequest) (*ton.MintReceipt, error)
	lookup func(ctx context.Context, queryID uint64) (*ton.MintReceipt, error)
}

func (f *fakeChain) SubmitMint(ctx context.Context, req ton.MintRequest) (*ton.MintReceipt, error) {
	f.mu.Lock()
	f.submits = append(f.submits, req)
	f.mu.Unlock()
	if f.submit == nil {
		return &ton.MintReceipt{NFTAddress: "addr-" + req.Wallet[:6], TxHash: "tx-1"}, nil
	}
	return f.submit(ctx, req)
}

func (f *fakeChain) LookupMint(ctx context.Context, queryID uint64) (*ton.MintReceipt, error) {
	f.mu.Lock()
	f.lookups = append(f.lookups, queryID)
	f.mu.Unlock()
	if f.lookup == nil {
		return nil, nil
	}
	return f.lookup(ctx, queryID)
}

func (f *fakeChain) TransactionState(ctx context.Context, txHash string) (ton.TxState, error) {
	return ton.TX_NOT_FOUND, nil
}

func (f *fakeChain) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submits)
}

type staticMetadata struct {
	url string
	err error
}

func (s staticMetadata) Publish(ctx context.Context, order *models.Order) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.url + "/" + order.ID + ".json", nil
}

// heldMetadata blocks its first Publish until release is closed.
type heldMetadata struct {
	url     string
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newHeldMetadata(url string) *heldMetadata {
	return &heldMetadata{url: url, entered: make(chan struct{}), release: make(chan struct{})}
}

func (h *heldMetadata) Publish(ctx context.Context, order *models.Order) (string, error) {
	first := false
	h.once.Do(func() { first = true })
	if first {
		close(h.entered)
		select {
		case <-h.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return h.url + "/" + order.ID + ".json", nil
}

type recordingEvents struct {
	mu     sync.Mutex
	events []types.JSONB
}

func (r *recordingEvents) Publish(ctx context.Context, topic, key string, payload types.JSONB) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, payload)
	return nil
}

func (r *recordingEvents) count(name string) int {
	n := 0
	for _, got := range r.names() {
		if got == name {
			n++
		}
	}
	return n
}

func (r *recordingEvents) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e["type"].(string))
	}
	return out
}

var errTimeout = errors.New("i/o timeout")
