package mint

import (
	"context"
	"errors"
	"log"
	"sync"
	"thruster/src/models"
	"thruster/src/types"
	"time"
)

type Minter interface {
	Mint(ctx context.Context, orderID string) (types.MintOutcome, error)
	Recover(ctx context.Context, order *models.Order) types.MintOutcome
}

type PoolOptions struct {
	Workers      int
	QueueSize    int
	SweepBatch   int
	LeaseTimeout time.Duration
}

// Pool runs mints on a fixed set of workers fed by a bounded queue. An order
// already queued or running is not queued again.
type Pool struct {
	minter Minter
	orders OrderStore
	opts   PoolOptions

	queue    chan string
	mu       sync.Mutex
	inflight map[string]struct{}

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewPool(minter Minter, orders OrderStore, opts PoolOptions) *Pool {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 1
	}
	return &Pool{
		minter:   minter,
		orders:   orders,
		opts:     opts,
		queue:    make(chan string, opts.QueueSize),
		inflight: map[string]struct{}{},
	}
}

func (p *Pool) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go p.work(i)
	}
	log.Printf("[Mint] Started %d workers\n", p.opts.Workers)
}

// Stop cancels running attempts and waits for workers to exit. Queued orders
// stay paid or mint_failed and are picked up by the next sweep.
func (p *Pool) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.wg.Wait()
	log.Println("[Mint] Workers stopped")
}

// Enqueue never blocks. It returns false only when the queue is full.
func (p *Pool) Enqueue(orderID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.inflight[orderID]; ok {
		return true
	}
	select {
	case p.queue <- orderID:
		p.inflight[orderID] = struct{}{}
		queueDepth.Set(float64(len(p.queue)))
		return true
	default:
		enqueueRejected.Inc()
		log.Printf("[Mint] Queue full, order=%s left for sweep\n", orderID)
		return false
	}
}

func (p *Pool) done(orderID string) {
	p.mu.Lock()
	delete(p.inflight, orderID)
	p.mu.Unlock()
}

func (p *Pool) work(n int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case orderID := <-p.queue:
			queueDepth.Set(float64(len(p.queue)))
			p.process(orderID)
		}
	}
}

func (p *Pool) process(orderID string) {
	defer p.done(orderID)
	_, err := p.minter.Mint(p.ctx, orderID)
	switch {
	case err == nil:
	case errors.Is(err, types.ErrAlreadyMinted), errors.Is(err, types.ErrNotMintable):
	default:
		log.Printf("[Mint] order=%s: %s\n", orderID, err.Error())
	}
}

// Sweep queues due work and recovers orders whose mint lease expired.
func (p *Pool) Sweep(ctx context.Context) {
	now := time.Now().UTC()
	stale, err := p.orders.ListStaleMinting(ctx, now.Add(-p.opts.LeaseTimeout), p.opts.SweepBatch)
	if err != nil {
		log.Printf("[Mint] Sweep could not list stale orders: %s\n", err.Error())
	}
	for i := range stale {
		p.minter.Recover(ctx, &stale[i])
	}
	due, err := p.orders.ListMintable(ctx, now, p.opts.SweepBatch)
	if err != nil {
		log.Printf("[Mint] Sweep could not list mintable orders: %s\n", err.Error())
		return
	}
	queued := 0
	for _, o := range due {
		if !p.Enqueue(o.ID) {
			break
		}
		queued++
	}
	if queued > 0 || len(stale) > 0 {
		log.Printf("[Mint] Sweep queued=%d recovered=%d\n", queued, len(stale))
	}
}

// SweepTask is the scheduler entry point. It runs against the pool's context.
func (p *Pool) SweepTask() {
	ctx := p.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	p.Sweep(ctx)
}
