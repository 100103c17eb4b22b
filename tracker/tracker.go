// Package tracker traces the propagation of taint from a source address through the transactions of an ethereum
// network. A trace walks the tainted addresses one at a time, pages through each address history, propagates the taint
// to the counterparties of every transaction carrying value, and records its progress in a checkpoint so that an
// interrupted or failed trace resumes where it stopped.
package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/life0fun/ethtaint/lib/cache"
	"github.com/life0fun/ethtaint/lib/chain"
	"github.com/life0fun/ethtaint/lib/chain/types"
	"github.com/life0fun/ethtaint/lib/checkpoint"
	"github.com/life0fun/ethtaint/lib/metrics"
	"github.com/life0fun/ethtaint/lib/msg"
	"github.com/life0fun/ethtaint/lib/primitives"
	"github.com/life0fun/ethtaint/lib/store"
)

// DefaultPageSize is the number of transactions requested per page.
const DefaultPageSize = 50

// Options configures a Tracker. Agent is required. A nil Store keeps transactions in memory, a nil Cache gets a
// private one, a nil Paging is FirstPageOnly and an empty TraceDir is checkpoint.DefaultRoot.
type Options struct {
	Cache    *cache.Cache
	Agent    chain.Agent
	Store    store.DB
	Notifier msg.Notifier
	Metrics  *metrics.Metrics
	TraceDir string
	PageSize int
	Paging   PagingPolicy
}

// Tracker runs one trace at a time.
type Tracker struct {
	cache    *cache.Cache
	agent    chain.Agent
	db       store.DB
	notifier msg.Notifier
	metrics  *metrics.Metrics
	root     string
	pageSize int
	paging   PagingPolicy

	mu       sync.RWMutex
	state    State
	lastErr  error
	tr       *traversal
	stop     chan struct{} // closed to request cancellation
	stopping bool
	done     chan struct{} // closed once the trace loop returned
}

// New returns an idle Tracker.
func New(o Options) *Tracker {
	t := &Tracker{
		cache:    o.Cache,
		agent:    o.Agent,
		db:       o.Store,
		notifier: o.Notifier,
		metrics:  o.Metrics,
		root:     o.TraceDir,
		pageSize: o.PageSize,
		paging:   o.Paging,
		state:    Idle,
	}
	if t.cache == nil {
		t.cache = cache.New()
	}
	if t.db == nil {
		t.db = store.NewMemory()
	}
	if t.notifier == nil {
		t.notifier = msg.Notifiers{}
	}
	if t.root == "" {
		t.root = checkpoint.DefaultRoot
	}
	if t.pageSize <= 0 {
		t.pageSize = DefaultPageSize
	}
	if t.paging == nil {
		t.paging = FirstPageOnly
	}
	return t
}

// errCanceled stops the trace loop when CancelTrace was called.
var errCanceled = errors.New("trace canceled")

// TraceAddress traces the taint of sourceHex from startBlock until no tainted address is left to trace, the trace is
// canceled or it fails. It blocks for the whole run. A canceled trace returns nil after CancelTrace, or the context
// error when ctx is done. Calling TraceAddress again for the same source and start block resumes from the checkpoint.
func (t *Tracker) TraceAddress(ctx context.Context, sourceHex string, startBlock uint64) error {
	tr, done, err := t.begin(sourceHex, startBlock)
	if err != nil {
		return err
	}
	return t.execute(ctx, tr, done)
}

// Start is TraceAddress run in a new goroutine. Validation errors and ErrAlreadyTracing are returned at once; the
// outcome of the run is sent on the returned channel.
func (t *Tracker) Start(ctx context.Context, sourceHex string, startBlock uint64) (<-chan error, error) {
	tr, done, err := t.begin(sourceHex, startBlock)
	if err != nil {
		return nil, err
	}
	res := make(chan error, 1)
	go func() {
		res <- t.execute(ctx, tr, done)
	}()
	return res, nil
}

// begin moves the tracker to Tracing with a fresh traversal.
func (t *Tracker) begin(sourceHex string, startBlock uint64) (*traversal, chan struct{}, error) {
	hex, err := primitives.NormalizeHex(sourceHex)
	if err != nil {
		return nil, nil, opError(ErrInvalidAddress, "trace "+sourceHex, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Tracing {
		return nil, nil, ErrAlreadyTracing
	}
	source, err := t.cache.Address(hex)
	if err != nil {
		return nil, nil, opError(ErrInvalidAddress, "trace "+sourceHex, err)
	}
	tr := newTraversal(uuid.NewString(), source, startBlock, checkpoint.New(t.root, hex, startBlock))
	t.tr = tr
	t.state = Tracing
	t.lastErr = nil
	t.stop = make(chan struct{})
	t.stopping = false
	t.done = make(chan struct{})

	log.Info("trace started", "run", tr.id, "source", hex, "block", startBlock)
	if t.metrics != nil {
		t.metrics.Started()
	}
	return tr, t.done, nil
}

func (t *Tracker) execute(ctx context.Context, tr *traversal, done chan struct{}) (err error) {
	defer func() {
		t.finish(tr, err)
		close(done)
		if errors.Is(err, errCanceled) {
			err = nil
		}
	}()

	if err = t.load(tr); err != nil {
		return err
	}
	return t.run(ctx, tr)
}

// finish records the outcome of a run.
func (t *Tracker) finish(tr *traversal, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	outcome := metrics.Completed
	switch {
	case err == nil:
		t.state = Completed
	case errors.Is(err, errCanceled) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		t.state = Canceled
		outcome = metrics.Canceled
		if !errors.Is(err, errCanceled) {
			t.lastErr = err
		}
	default:
		t.state = Failed
		t.lastErr = err
		outcome = metrics.Failed
	}
	if t.metrics != nil {
		t.metrics.Finished(outcome)
	}
	log.Info("trace finished", "run", tr.id, "source", tr.source.Hex(), "state", t.state, "tainted", len(tr.order),
		"traced", len(tr.traced), "err", err)
}

// load replays the checkpoint of the run, or initializes it on a first run.
func (t *Tracker) load(tr *traversal) error {
	ok, err := tr.cp.Exists()
	if err != nil {
		return opError(ErrCheckpoint, "stat checkpoint", err)
	}
	if !ok {
		return opError(ErrCheckpoint, "initialize checkpoint", tr.cp.Initialize())
	}

	l, err := tr.cp.Replay()
	if err != nil {
		return opError(ErrCheckpoint, "replay checkpoint", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range l.Tainted {
		a, err := t.cache.Address(e.Address)
		if err != nil {
			return opError(ErrCheckpoint, "replay tainted "+e.Address, err)
		}
		tr.taint.AddRecipient(a)
		tr.addTainted(a.Hex(), e.Block)
	}
	for _, hex := range l.Traced {
		if !tr.isTainted(hex) {
			log.Warn("traced address missing from tainted log", "source", tr.source.Hex(), "address", hex)
			continue
		}
		tr.traced[hex] = struct{}{}
	}
	log.Info("checkpoint replayed", "source", tr.source.Hex(), "tainted", len(tr.order), "traced", len(tr.traced))
	return nil
}

// run traces frontier addresses until the fixpoint.
func (t *Tracker) run(ctx context.Context, tr *traversal) error {
	for {
		if err := t.canceled(ctx); err != nil {
			return err
		}
		t.mu.RLock()
		hex := tr.next()
		t.mu.RUnlock()
		if hex == "" {
			return nil
		}
		if err := t.traceAddress(ctx, tr, hex); err != nil {
			return err
		}
	}
}

// traceAddress pages through the history of one tainted address and marks it traced.
func (t *Tracker) traceAddress(ctx context.Context, tr *traversal, hex string) error {
	addr, err := t.cache.Address(hex)
	if err != nil {
		return err
	}
	since := tr.since[hex]
	log.Debug("tracing address", "source", tr.source.Hex(), "address", hex, "since", since)

	for page := 1; ; page++ {
		if err = t.canceled(ctx); err != nil {
			return err
		}
		txs, fetched, err := t.agent.ListAccountTransactions(ctx, hex,
			types.ListOptions{StartBlock: since, Page: page, PageSize: t.pageSize})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return opError(ErrChainAgent, "list transactions of "+hex, err)
		}
		t.emit(tr, msg.Event{Kind: msg.PAGE, Address: hex, Page: page, Count: len(txs)})

		for _, tx := range txs {
			if err = t.canceled(ctx); err != nil {
				return err
			}
			if err = t.propagate(tr, addr, tx); err != nil {
				return err
			}
			if err = t.db.StoreTransaction(ctx, tx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return opError(ErrStore, "store transaction "+tx.Hash(), err)
			}
			t.emit(tr, msg.Event{Kind: msg.PROCESSED, Address: hex, Block: tx.Block().Number(), Tx: msg.Trans(tx)})
		}

		if !t.paging.Continue(page, fetched, t.pageSize) {
			break
		}
	}

	// reopened from an earlier block while its own history was paged
	if tr.since[hex] < since {
		return nil
	}
	if err = tr.cp.AppendTraced(hex); err != nil {
		return opError(ErrCheckpoint, "append traced "+hex, err)
	}
	t.mu.Lock()
	tr.traced[hex] = struct{}{}
	t.mu.Unlock()
	t.emit(tr, msg.Event{Kind: msg.TRACED, Address: hex, Block: since})
	return nil
}

// canceled returns errCanceled after CancelTrace, or the context error once ctx is done.
func (t *Tracker) canceled(ctx context.Context) error {
	select {
	case <-t.stop:
		return errCanceled
	default:
	}
	return ctx.Err()
}

// CancelTrace asks the running trace to stop. The returned channel is closed once the trace loop stopped changing
// state; the checkpoint is left as is so the trace can be resumed. Without a running trace the channel is already
// closed.
func (t *Tracker) CancelTrace() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Tracing {
		c := make(chan struct{})
		close(c)
		return c
	}
	if !t.stopping {
		t.stopping = true
		close(t.stop)
		log.Info("trace cancel requested", "run", t.tr.id, "source", t.tr.source.Hex())
	}
	return t.done
}

// Status returns the state of the current or last run.
func (t *Tracker) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status()
}

func (t *Tracker) status() Status {
	s := Status{State: t.state}
	if t.tr != nil {
		s.Run = t.tr.id
		s.Source = t.tr.source.Hex()
		s.StartBlock = t.tr.start
	}
	if t.lastErr != nil {
		s.Err = t.lastErr.Error()
	}
	return s
}

// Snapshot returns a copy of the sets of the current or last run.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.tr == nil {
		return Snapshot{Status: t.status()}
	}
	s := t.tr.snapshot()
	s.Status = t.status()
	return s
}

// Err returns the error of the last failed or context canceled run.
func (t *Tracker) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastErr
}

func (t *Tracker) emit(tr *traversal, e msg.Event) {
	e.Run = tr.id
	e.Source = tr.source.Hex()
	e.StartBlock = tr.start
	e.TS = time.Now().UTC()
	t.notifier.Notify(e)
}
