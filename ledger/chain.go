package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/karasz/sms"
	"github.com/karasz/sms/audit"
)

var (
	ErrInvalidRecord   = errors.New("record failed verification")
	ErrDuplicateRecord = errors.New("record id already submitted")
	ErrEmptyPool       = errors.New("no pending records to mine")
	ErrBrokenLink      = errors.New("block does not link to its predecessor")
	ErrBlockHash       = errors.New("block hash does not match its header")
	ErrMerkleRoot      = errors.New("merkle root does not match block records")
)

// Chain is an append-only sequence of blocks plus a pool of verified records
// waiting to be mined. Nothing enters the pool without passing verification.
type Chain struct {
	scheme  *sms.Scheme
	logger  *slog.Logger
	metrics *Metrics
	sink    JournalSink
	now     func() time.Time
	workers int

	mineMu  sync.Mutex
	mu      sync.RWMutex
	blocks  []*Block
	pool    []*Record
	records map[string]*Record
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

func WithLogger(l *slog.Logger) ChainOption { return func(c *Chain) { c.logger = l } }

func WithMetrics(m *Metrics) ChainOption { return func(c *Chain) { c.metrics = m } }

// WithAuditSink journals the sanitization history of every accepted record.
// A journal failure rejects the submission.
func WithAuditSink(j JournalSink) ChainOption { return func(c *Chain) { c.sink = j } }

// WithChainClock replaces time.Now for block timestamps.
func WithChainClock(now func() time.Time) ChainOption { return func(c *Chain) { c.now = now } }

// WithWorkers bounds the number of concurrent verifications during Mine and
// Validate. The default is GOMAXPROCS.
func WithWorkers(n int) ChainOption { return func(c *Chain) { c.workers = n } }

// NewChain returns a chain holding only the genesis block.
func NewChain(s *sms.Scheme, opts ...ChainOption) *Chain {
	c := &Chain{
		scheme:  s,
		logger:  slog.New(slog.DiscardHandler),
		now:     time.Now,
		workers: runtime.GOMAXPROCS(0),
		records: make(map[string]*Record),
	}
	for _, o := range opts {
		o(c)
	}
	c.blocks = []*Block{newBlock(s, 0, genesisPrevHash, nil, c.now())}
	return c
}

// Submit verifies rec and, when valid, freezes it and adds it to the pool.
// Records that are already frozen are rejected before anything is journaled.
func (c *Chain) Submit(rec *Record) error {
	c.mu.RLock()
	_, dup := c.records[rec.ID()]
	c.mu.RUnlock()
	if dup {
		c.metrics.incSubmission("duplicate")
		return fmt.Errorf("%w: %s", ErrDuplicateRecord, rec.ID())
	}
	if rec.State() == StateSubmitted {
		c.metrics.incSubmission("invalid")
		return fmt.Errorf("submit %s: %w", rec.ID(), ErrSubmitted)
	}
	if !c.verify(rec) {
		c.metrics.incSubmission("invalid")
		c.logger.Warn("rejected record", "record", rec.ID())
		return fmt.Errorf("%w: %s", ErrInvalidRecord, rec.ID())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.records[rec.ID()]; dup {
		c.metrics.incSubmission("duplicate")
		return fmt.Errorf("%w: %s", ErrDuplicateRecord, rec.ID())
	}
	var journalErr error
	err := rec.submit(func(log []SanitizationLogEntry) error {
		journalErr = c.journal(rec.ID(), log)
		return journalErr
	})
	switch {
	case journalErr != nil:
		c.metrics.incSubmission("journal_error")
		c.logger.Error("journal submission failed", "record", rec.ID(), "error", err)
		return fmt.Errorf("submit %s: %w", rec.ID(), err)
	case err != nil:
		c.metrics.incSubmission("invalid")
		return fmt.Errorf("submit %s: %w", rec.ID(), err)
	}
	c.records[rec.ID()] = rec
	c.pool = append(c.pool, rec)
	c.metrics.incSubmission("accepted")
	c.metrics.setPool(len(c.pool))
	c.logger.Info("record accepted", "record", rec.ID(), "pool", len(c.pool))
	return nil
}

func (c *Chain) journal(id string, log []SanitizationLogEntry) error {
	if c.sink == nil {
		return nil
	}
	for _, e := range log {
		if _, err := c.sink.Record(audit.Event{
			RecordID:    id,
			Operator:    e.OperatorID,
			Action:      e.Action,
			Time:        e.Timestamp,
			PrevPayload: e.PrevPayload,
			NewPayload:  e.NewPayload,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Chain) verify(rec *Record) bool {
	start := time.Now()
	ok := rec.IsValid(c.scheme)
	c.metrics.observeVerify(time.Since(start))
	return ok
}

// verifyAll checks records concurrently and fails on the first invalid one.
func (c *Chain) verifyAll(ctx context.Context, records []*Record) error {
	g, ctx := errgroup.WithContext(ctx)
	if c.workers > 0 {
		g.SetLimit(c.workers)
	}
	for _, rec := range records {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !c.verify(rec) {
				return fmt.Errorf("%w: %s", ErrInvalidRecord, rec.ID())
			}
			return nil
		})
	}
	return g.Wait()
}

// Mine re-verifies the current pool and seals it into a new block.
func (c *Chain) Mine(ctx context.Context) (*Block, error) {
	c.mineMu.Lock()
	defer c.mineMu.Unlock()
	c.mu.RLock()
	batch := append([]*Record(nil), c.pool...)
	c.mu.RUnlock()
	if len(batch) == 0 {
		return nil, ErrEmptyPool
	}
	if err := c.verifyAll(ctx, batch); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Records submitted while verifying stay for the next block.
	c.pool = append([]*Record(nil), c.pool[len(batch):]...)
	prev := c.blocks[len(c.blocks)-1]
	b := newBlock(c.scheme, prev.Index+1, prev.Hash, batch, c.now())
	c.blocks = append(c.blocks, b)
	c.metrics.incBlocks()
	c.metrics.setPool(len(c.pool))
	c.logger.Info("block mined", "index", b.Index, "records", len(batch), "hash", b.Hash)
	return b, nil
}

// Validate walks every block, checking hash links, header hashes, merkle
// roots and the validity of every record.
func (c *Chain) Validate(ctx context.Context) error {
	blocks := c.Blocks()
	var all []*Record
	for i, b := range blocks {
		if b.Hash != b.computeHash() {
			return fmt.Errorf("%w: block %d", ErrBlockHash, b.Index)
		}
		if i == 0 {
			if b.PreviousHash != genesisPrevHash {
				return fmt.Errorf("%w: genesis", ErrBrokenLink)
			}
		} else if b.PreviousHash != blocks[i-1].Hash {
			return fmt.Errorf("%w: block %d", ErrBrokenLink, b.Index)
		}
		if b.MerkleRoot != computeMerkleRoot(c.scheme, b.Records) {
			return fmt.Errorf("%w: block %d", ErrMerkleRoot, b.Index)
		}
		all = append(all, b.Records...)
	}
	return c.verifyAll(ctx, all)
}

// Blocks returns the blocks, genesis first.
func (c *Chain) Blocks() []*Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*Block(nil), c.blocks...)
}

// Pending returns the records waiting in the pool.
func (c *Chain) Pending() []*Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*Record(nil), c.pool...)
}

// Record looks up a submitted record, pooled or mined.
func (c *Chain) Record(id string) (*Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.records[id]
	return r, ok
}

func (c *Chain) Scheme() *sms.Scheme { return c.scheme }
