package mint

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"thruster/src/lib/ton"
	"thruster/src/models"
	"thruster/src/types"
	"time"
)

var errNoMetadataPublisher = errors.New("no metadata publisher configured")

type OrderStore interface {
	Get(ctx context.Context, id string) (*models.Order, error)
	Transition(ctx context.Context, id string, expected, next types.OrderStatus, changes types.JSONB) (*models.Order, error)
	TransitionLease(ctx context.Context, id string, lease types.MintLease, next types.OrderStatus, changes types.JSONB) (*models.Order, error)
	SetMetadataURL(ctx context.Context, id, url string) error
	ListMintable(ctx context.Context, now time.Time, limit int) ([]models.Order, error)
	ListStaleMinting(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
}

type RecordStore interface {
	Create(ctx context.Context, record *models.NFTRecord) error
	GetByOrderID(ctx context.Context, orderID string) (*models.NFTRecord, error)
}

type AttemptLog interface {
	Append(ctx context.Context, attempt *models.MintAttempt) error
}

type Options struct {
	Retry           RetryPolicy
	SubmitTimeout   time.Duration
	LookupTimeout   time.Duration
	MetadataTimeout time.Duration
	EventsTopic     string
}

const defaultMetadataTimeout = 30 * time.Second

// Coordinator drives a paid order through exactly one on-chain mint.
// Exclusivity comes from the order status compare-and-swap. Every write out of
// minting is conditioned on the claim's lease, and the lease is renewed right
// before the chain is asked to mint.
type Coordinator struct {
	orders   OrderStore
	records  RecordStore
	attempts AttemptLog
	chain    ton.MintClient
	metadata MetadataPublisher
	events   EventPublisher
	opts     Options

	now     func() time.Time
	queryID func() uint64
}

func NewCoordinator(orders OrderStore, records RecordStore, attempts AttemptLog, chain ton.MintClient, metadata MetadataPublisher, events EventPublisher, opts Options) *Coordinator {
	if events == nil {
		events = LogPublisher{}
	}
	if opts.MetadataTimeout <= 0 {
		opts.MetadataTimeout = defaultMetadataTimeout
	}
	return &Coordinator{
		orders:   orders,
		records:  records,
		attempts: attempts,
		chain:    chain,
		metadata: metadata,
		events:   events,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
		queryID:  func() uint64 { return rand.Uint64() >> 1 },
	}
}

// run is one claimed attempt.
type run struct {
	order   *models.Order
	attempt int
	queryID uint64
	started time.Time
	lease   *types.MintLease
	// a mint under queryID may have been accepted and could not be looked up
	unresolved bool
}

// stamp is a lease start time as the database stores it.
func stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// Mint attempts the order once. A lost claim returns an empty outcome and nil.
func (c *Coordinator) Mint(ctx context.Context, orderID string) (types.MintOutcome, error) {
	order, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return "", err
	}
	if order.NFTMinted || order.Status == types.ORDER_MINTED {
		return "", types.ErrAlreadyMinted
	}
	now := stamp(c.now())
	if order.Status != types.ORDER_PAID && !order.RetryDue(now) {
		return "", types.ErrNotMintable
	}

	prevQueryID := order.MintQueryID
	r := &run{attempt: order.MintAttempts + 1, queryID: c.queryID(), started: now}
	claimed, err := c.orders.Transition(ctx, orderID, order.Status, types.ORDER_MINTING, types.JSONB{
		"mint_attempts":      r.attempt,
		"mint_query_id":      r.queryID,
		"minting_started_at": now,
		"failure_kind":       types.FAILURE_NONE,
		"failure_reason":     nil,
		"next_retry_at":      nil,
	})
	if errors.Is(err, types.ErrConflict) {
		log.Printf("[Mint] order=%s claimed elsewhere, skipping\n", orderID)
		return "", nil
	}
	if err != nil {
		return "", err
	}
	r.order = claimed
	r.lease = &types.MintLease{QueryID: r.queryID, StartedAt: now}

	// writes after the claim must land even if the caller goes away
	wctx := context.WithoutCancel(ctx)

	if outcome, done := c.reconcile(wctx, r, prevQueryID); done {
		return outcome, nil
	}
	// an earlier attempt spent the budget and was only held open to resolve its query
	if c.opts.Retry.Exhausted(r.attempt - 1) {
		return c.fail(wctx, r, types.FAILURE_EXHAUSTED, "retries_exhausted", nil), nil
	}

	if !ton.ValidateAddress(claimed.WalletAddress) {
		return c.fail(wctx, r, types.FAILURE_PERMANENT, "invalid_wallet", nil), nil
	}

	mctx, cancel := context.WithTimeout(ctx, c.opts.MetadataTimeout)
	metadataURL, err := c.ensureMetadata(mctx, claimed)
	cancel()
	if err != nil {
		return c.fail(wctx, r, types.FAILURE_TRANSIENT, "metadata_unavailable", err), nil
	}
	if !ValidMetadataURL(metadataURL) {
		return c.fail(wctx, r, types.FAILURE_PERMANENT, "invalid_metadata_url", nil), nil
	}

	if err := c.renew(wctx, r); err != nil {
		if errors.Is(err, types.ErrConflict) {
			log.Printf("[Mint] order=%s lease for query %d lost before submit, abandoning\n", orderID, r.queryID)
			return "", nil
		}
		return "", err
	}
	return c.submit(ctx, wctx, r, metadataURL), nil
}

// renew re-asserts the claim and restarts its lease so that submit and lookup
// both fit inside it.
func (c *Coordinator) renew(ctx context.Context, r *run) error {
	now := stamp(c.now())
	if _, err := c.orders.TransitionLease(ctx, r.order.ID, *r.lease, types.ORDER_MINTING, types.JSONB{
		"minting_started_at": now,
	}); err != nil {
		return err
	}
	r.lease.StartedAt = now
	return nil
}

// release moves the claimed order out of minting. Orders without a lease
// stamp fall back to the plain status check.
func (c *Coordinator) release(ctx context.Context, r *run, next types.OrderStatus, changes types.JSONB) error {
	var err error
	if r.lease != nil {
		_, err = c.orders.TransitionLease(ctx, r.order.ID, *r.lease, next, changes)
	} else {
		_, err = c.orders.Transition(ctx, r.order.ID, types.ORDER_MINTING, next, changes)
	}
	return err
}

// reconcile finishes the order without submitting when an earlier attempt
// already landed. A failed lookup ends the attempt as transient so that a mint
// of unknown outcome is never submitted twice.
func (c *Coordinator) reconcile(ctx context.Context, r *run, prevQueryID *uint64) (types.MintOutcome, bool) {
	record, err := c.records.GetByOrderID(ctx, r.order.ID)
	if err == nil {
		return c.finalize(ctx, r, record, types.MINT_OUTCOME_RECONCILED), true
	}
	if !errors.Is(err, types.ErrNotFound) {
		return c.fail(ctx, r, types.FAILURE_TRANSIENT, "record_lookup_failed", err, keepQuery(prevQueryID)), true
	}
	if prevQueryID == nil {
		return "", false
	}
	receipt, err := c.lookup(ctx, *prevQueryID)
	if err != nil {
		r.unresolved = true
		return c.fail(ctx, r, types.FAILURE_TRANSIENT, "reconcile_lookup_failed", err, keepQuery(prevQueryID)), true
	}
	if receipt == nil {
		return "", false
	}
	log.Printf("[Mint] order=%s previous query %d landed as %s\n", r.order.ID, *prevQueryID, receipt.TxHash)
	metadataURL := ""
	if r.order.MetadataURL != nil {
		metadataURL = *r.order.MetadataURL
	}
	return c.complete(ctx, r, receipt, metadataURL, types.MINT_OUTCOME_RECONCILED), true
}

func keepQuery(id *uint64) types.JSONB {
	if id == nil {
		return nil
	}
	return types.JSONB{"mint_query_id": *id}
}

func (c *Coordinator) ensureMetadata(ctx context.Context, order *models.Order) (string, error) {
	if order.MetadataURL != nil && *order.MetadataURL != "" {
		return *order.MetadataURL, nil
	}
	if c.metadata == nil {
		return "", errNoMetadataPublisher
	}
	url, err := c.metadata.Publish(ctx, order)
	if err != nil {
		return "", err
	}
	if err := c.orders.SetMetadataURL(ctx, order.ID, url); err != nil {
		log.Printf("[Mint] order=%s could not cache metadata url: %s\n", order.ID, err.Error())
	}
	order.MetadataURL = &url
	return url, nil
}

func (c *Coordinator) submit(ctx, wctx context.Context, r *run, metadataURL string) types.MintOutcome {
	sctx, cancel := context.WithTimeout(ctx, c.opts.SubmitTimeout)
	receipt, err := c.chain.SubmitMint(sctx, ton.MintRequest{
		Wallet:      r.order.WalletAddress,
		MetadataURL: metadataURL,
		QueryID:     r.queryID,
	})
	cancel()

	switch {
	case err == nil:
		return c.complete(wctx, r, receipt, metadataURL, types.MINT_OUTCOME_MINTED)
	case errors.Is(err, ton.ErrOutcomeUnknown):
		log.Printf("[Mint] order=%s query=%d submit outcome unknown, looking up\n", r.order.ID, r.queryID)
		receipt, lerr := c.lookup(wctx, r.queryID)
		if lerr != nil {
			r.unresolved = true
			return c.fail(wctx, r, types.FAILURE_TRANSIENT, "outcome_unknown", lerr)
		}
		if receipt != nil {
			return c.complete(wctx, r, receipt, metadataURL, types.MINT_OUTCOME_MINTED)
		}
		return c.fail(wctx, r, types.FAILURE_TRANSIENT, "not_landed", err)
	case ton.IsPermanent(err):
		return c.fail(wctx, r, types.FAILURE_PERMANENT, "chain_rejected", err)
	}
	return c.fail(wctx, r, types.FAILURE_TRANSIENT, "chain_unavailable", err)
}

func (c *Coordinator) lookup(ctx context.Context, queryID uint64) (*ton.MintReceipt, error) {
	lctx, cancel := context.WithTimeout(ctx, c.opts.LookupTimeout)
	defer cancel()
	return c.chain.LookupMint(lctx, queryID)
}

// complete stores the receipt and finalizes. A unique index hit resolves to the
// record already stored for this order.
func (c *Coordinator) complete(ctx context.Context, r *run, receipt *ton.MintReceipt, metadataURL string, outcome types.MintOutcome) types.MintOutcome {
	record := &models.NFTRecord{
		OrderID:       r.order.ID,
		WalletAddress: r.order.WalletAddress,
		NFTAddress:    receipt.NFTAddress,
		MetadataURL:   metadataURL,
		TxHash:        receipt.TxHash,
	}
	err := c.records.Create(ctx, record)
	if errors.Is(err, types.ErrAlreadyMinted) {
		existing, gerr := c.records.GetByOrderID(ctx, r.order.ID)
		if errors.Is(gerr, types.ErrNotFound) {
			return c.fail(ctx, r, types.FAILURE_PERMANENT, "receipt_belongs_to_other_order", err)
		}
		if gerr != nil {
			return c.fail(ctx, r, types.FAILURE_TRANSIENT, "record_lookup_failed", gerr)
		}
		record = existing
		outcome = types.MINT_OUTCOME_RECONCILED
	} else if err != nil {
		return c.fail(ctx, r, types.FAILURE_TRANSIENT, "record_write_failed", err)
	}
	return c.finalize(ctx, r, record, outcome)
}

// finalize marks the order minted. Only the call whose write moves the order
// to minted audits and announces the mint.
func (c *Coordinator) finalize(ctx context.Context, r *run, record *models.NFTRecord, outcome types.MintOutcome) types.MintOutcome {
	err := c.release(ctx, r, types.ORDER_MINTED, types.JSONB{
		"nft_minted":     true,
		"failure_kind":   types.FAILURE_NONE,
		"failure_reason": nil,
		"next_retry_at":  nil,
	})
	if err != nil {
		// the record is written; whoever holds the order next reconciles it
		log.Printf("[Mint] order=%s minted as %s but status write failed: %s\n", r.order.ID, record.TxHash, err.Error())
		return settled(err, outcome)
	}
	c.audit(ctx, r, outcome, &record.TxHash, nil)
	c.emit(ctx, EVENT_MINTED, r.order.ID, types.JSONB{
		"order_id":       r.order.ID,
		"wallet_address": record.WalletAddress,
		"nft_address":    record.NFTAddress,
		"tx_hash":        record.TxHash,
		"metadata_url":   record.MetadataURL,
	})
	log.Printf("[Mint] order=%s attempt=%d %s nft=%s\n", r.order.ID, r.attempt, outcome, record.NFTAddress)
	return outcome
}

// fail ends the attempt in mint_failed. Transient failures become exhausted
// once the attempt budget is spent, unless a submitted mint is still
// unresolved; that one stays transient until a lookup settles it.
func (c *Coordinator) fail(ctx context.Context, r *run, kind types.FailureKind, reason string, cause error, extra ...types.JSONB) types.MintOutcome {
	if kind == types.FAILURE_TRANSIENT && c.opts.Retry.Exhausted(r.attempt) && !r.unresolved {
		kind = types.FAILURE_EXHAUSTED
	}
	detail := reason
	if cause != nil {
		detail = fmt.Sprintf("%s: %s", reason, cause.Error())
	}
	changes := types.JSONB{
		"failure_kind":   kind,
		"failure_reason": truncate(detail, 500),
		"next_retry_at":  nil,
	}
	if kind == types.FAILURE_TRANSIENT {
		changes["next_retry_at"] = c.now().Add(c.opts.Retry.RetryDelay(r.attempt))
	}
	for _, e := range extra {
		for k, v := range e {
			changes[k] = v
		}
	}
	outcome := outcomeFor(kind)
	if err := c.release(ctx, r, types.ORDER_MINT_FAILED, changes); err != nil {
		log.Printf("[Mint] order=%s could not record failure %s: %s\n", r.order.ID, reason, err.Error())
		return settled(err, outcome)
	}

	c.audit(ctx, r, outcome, nil, &detail)
	c.emit(ctx, EVENT_MINT_FAILED, r.order.ID, types.JSONB{
		"order_id":     r.order.ID,
		"failure_kind": kind,
		"attempt":      r.attempt,
	})
	log.Printf("[Mint] order=%s attempt=%d failed (%s): %s\n", r.order.ID, r.attempt, kind, detail)
	return outcome
}

// settled drops the outcome of a write that lost the order to another claim.
func settled(err error, outcome types.MintOutcome) types.MintOutcome {
	if errors.Is(err, types.ErrConflict) {
		return ""
	}
	return outcome
}

func outcomeFor(kind types.FailureKind) types.MintOutcome {
	switch kind {
	case types.FAILURE_PERMANENT:
		return types.MINT_OUTCOME_PERMANENT
	case types.FAILURE_EXHAUSTED:
		return types.MINT_OUTCOME_EXHAUSTED
	}
	return types.MINT_OUTCOME_TRANSIENT
}

func (c *Coordinator) audit(ctx context.Context, r *run, outcome types.MintOutcome, txHash, errMsg *string) {
	elapsed := c.now().Sub(r.started)
	attemptsTotal.WithLabelValues(string(outcome)).Inc()
	attemptDuration.Observe(elapsed.Seconds())
	err := c.attempts.Append(ctx, &models.MintAttempt{
		OrderID:    r.order.ID,
		Attempt:    r.attempt,
		QueryID:    r.queryID,
		Outcome:    outcome,
		TxHash:     txHash,
		Error:      errMsg,
		DurationMs: elapsed.Milliseconds(),
	})
	if err != nil {
		log.Printf("[Mint] order=%s could not append attempt %d: %s\n", r.order.ID, r.attempt, err.Error())
	}
}

func (c *Coordinator) emit(ctx context.Context, event, orderID string, payload types.JSONB) {
	payload["type"] = event
	payload["at"] = c.now().Format(time.RFC3339)
	if err := c.events.Publish(ctx, c.opts.EventsTopic, orderID, payload); err != nil {
		log.Printf("[Events] Failed to publish %s for %s: %s\n", event, orderID, err.Error())
	}
}

// Recover settles an order left in minting by a worker that never finished.
// The query id decides: a landed mint finalizes, anything else becomes a
// transient failure without spending an attempt. Its writes are conditioned
// on the stale lease, so a worker that renewed in the meantime keeps the order.
func (c *Coordinator) Recover(ctx context.Context, order *models.Order) types.MintOutcome {
	if order.Status != types.ORDER_MINTING {
		return ""
	}
	r := &run{order: order, attempt: order.MintAttempts, started: c.now()}
	if order.MintQueryID != nil {
		r.queryID = *order.MintQueryID
		if order.MintingStartedAt != nil {
			r.lease = &types.MintLease{QueryID: *order.MintQueryID, StartedAt: stamp(*order.MintingStartedAt)}
		}
	}
	if record, err := c.records.GetByOrderID(ctx, order.ID); err == nil {
		return c.finalize(ctx, r, record, types.MINT_OUTCOME_RECONCILED)
	}
	if order.MintQueryID != nil {
		receipt, err := c.lookup(ctx, *order.MintQueryID)
		if err == nil && receipt != nil {
			metadataURL := ""
			if order.MetadataURL != nil {
				metadataURL = *order.MetadataURL
			}
			return c.complete(ctx, r, receipt, metadataURL, types.MINT_OUTCOME_RECONCILED)
		}
		if err != nil {
			r.unresolved = true
			log.Printf("[Mint] order=%s recovery lookup failed: %s\n", order.ID, err.Error())
		}
	}
	return c.fail(ctx, r, types.FAILURE_TRANSIENT, "lease_expired", nil)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
