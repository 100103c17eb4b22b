package tracker

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/life0fun/ethtaint/lib/cache"
	"github.com/life0fun/ethtaint/lib/chain"
	"github.com/life0fun/ethtaint/lib/chain/types"
	"github.com/life0fun/ethtaint/lib/checkpoint"
	"github.com/life0fun/ethtaint/lib/metrics"
	"github.com/life0fun/ethtaint/lib/msg"
	"github.com/life0fun/ethtaint/lib/primitives"
	"github.com/life0fun/ethtaint/lib/store"
)

var (
	addS = "0x" + strings.Repeat("1", 40)
	addA = "0x" + strings.Repeat("a", 40)
	addB = "0x" + strings.Repeat("b", 40)
	addC = "0x" + strings.Repeat("c", 40)
	addD = "0x" + strings.Repeat("d", 40)
	addX = "0x" + strings.Repeat("e", 40)
)

func hash(n int) string {
	return fmt.Sprintf("0x%064x", n)
}

// fakeChain serves the histories of a fixed set of transactions in ascending block order, from the requested start
// block, like an indexed provider would.
type fakeChain struct {
	c *cache.Cache

	mu    sync.Mutex
	txs   []*primitives.Transaction
	calls map[string]int
	err   error
}

func newFakeChain(c *cache.Cache) *fakeChain {
	return &fakeChain{c: c, calls: make(map[string]int)}
}

// add creates a transaction; an empty to is a contract creation.
func (f *fakeChain) add(t *testing.T, n int, from, to string, value int64, block uint64) *primitives.Transaction {
	t.Helper()
	src, err := f.c.Address(from)
	require.NoError(t, err)
	var dst *primitives.Address
	if to != "" {
		dst, err = f.c.Address(to)
		require.NoError(t, err)
	}
	amt, err := primitives.NewAmount(big.NewInt(value))
	require.NoError(t, err)
	tx, err := f.c.Transaction(hash(n), func() (*primitives.Transaction, error) {
		return primitives.NewTransaction(hash(n), src, dst, amt, f.c.Block(block))
	})
	require.NoError(t, err)
	f.txs = append(f.txs, tx)
	return tx
}

func (f *fakeChain) ListAccountTransactions(_ context.Context, address string, o types.ListOptions) (
	[]*primitives.Transaction, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[address]++
	if f.err != nil {
		return nil, 0, f.err
	}
	var h []*primitives.Transaction
	for _, tx := range f.txs {
		if tx.Block().Number() < o.StartBlock {
			continue
		}
		if tx.From().Hex() == address || (tx.To() != nil && tx.To().Hex() == address) {
			h = append(h, tx)
		}
	}
	sort.SliceStable(h, func(i, j int) bool { return h[i].Block().Before(h[j].Block()) })
	from := (o.Page - 1) * o.PageSize
	if from >= len(h) {
		return nil, 0, nil
	}
	to := from + o.PageSize
	if to > len(h) {
		to = len(h)
	}
	return h[from:to], to - from, nil
}

func (f *fakeChain) Close() {}

func (f *fakeChain) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// recorder keeps the events of a trace and runs an optional hook on each.
type recorder struct {
	mu     sync.Mutex
	events []msg.Event
	hook   func(msg.Event)
}

func (r *recorder) Notify(e msg.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	hook := r.hook
	r.mu.Unlock()
	if hook != nil {
		hook(e)
	}
}

func (r *recorder) kinds(k msg.Kind) []msg.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []msg.Event
	for _, e := range r.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

func read(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func checkpointFiles(t *testing.T, root, source string, start uint64) (tainted, traced string) {
	t.Helper()
	dir := checkpoint.New(root, source, start).Dir()
	return read(t, filepath.Join(dir, "tainted")), read(t, filepath.Join(dir, "traced"))
}

// checkInvariants verifies the sets of a terminated trace.
func checkInvariants(t *testing.T, s Snapshot) {
	t.Helper()
	tainted := map[string]bool{}
	for _, ta := range s.Tainted {
		tainted[ta.Address] = true
	}
	for _, hex := range s.Traced {
		assert.True(t, tainted[hex], "traced %s is not tainted", hex)
	}
	assert.NotContains(t, s.Recipients, s.Source)
	assert.Len(t, s.Recipients, len(s.Tainted)-1)
}

type env struct {
	c     *cache.Cache
	chain *fakeChain
	db    *store.Memory
	rec   *recorder
	root  string
}

func newEnv(t *testing.T) *env {
	c := cache.New()
	return &env{c: c, chain: newFakeChain(c), db: store.NewMemory(), rec: &recorder{}, root: t.TempDir()}
}

func (e *env) tracker(o Options) *Tracker {
	o.Cache = e.c
	if o.Agent == nil {
		o.Agent = e.chain
	}
	o.Store = e.db
	if o.Notifier == nil {
		o.Notifier = e.rec
	}
	o.TraceDir = e.root
	return New(o)
}

// basicGraph: S sends to A, A to B. B to C happens before B is tainted, S to D carries no value and S creates a
// contract.
func basicGraph(t *testing.T, f *fakeChain) {
	f.add(t, 1, addS, addA, 100, 5)
	f.add(t, 2, addA, addB, 50, 7)
	f.add(t, 3, addB, addC, 1, 3)
	f.add(t, 4, addS, addD, 0, 6)
	f.add(t, 5, addS, "", 10, 8)
}

func TestTraceAddress(t *testing.T) {
	e := newEnv(t)
	basicGraph(t, e.chain)
	m := metrics.New()
	tk := e.tracker(Options{Notifier: msg.Notifiers{e.rec, m}, Metrics: m})

	assert.Equal(t, Idle, tk.Status().State)
	require.NoError(t, tk.TraceAddress(context.Background(), strings.ToUpper(addS[2:]), 0))

	st := tk.Status()
	assert.Equal(t, Completed, st.State)
	assert.Equal(t, addS, st.Source)
	assert.NotEmpty(t, st.Run)
	assert.Empty(t, st.Err)

	tainted, traced := checkpointFiles(t, e.root, addS, 0)
	assert.Equal(t, addS+"|0\n"+addA+"|5\n"+addB+"|7\n", tainted)
	assert.Equal(t, addS+"\n"+addA+"\n"+addB+"\n", traced)

	s := tk.Snapshot()
	assert.Equal(t, []TaintedAddress{{addS, 0}, {addA, 5}, {addB, 7}}, s.Tainted)
	assert.Equal(t, []string{addS, addA, addB}, s.Traced)
	assert.Equal(t, []string{addA, addB}, s.Recipients)
	assert.Equal(t, []string{hash(1), hash(2)}, s.Transactions)
	checkInvariants(t, s)

	taints := e.rec.kinds(msg.TAINT)
	require.Len(t, taints, 2)
	assert.Equal(t, addA, taints[0].Address)
	assert.Equal(t, uint64(5), taints[0].Block)
	assert.Equal(t, hash(1), taints[0].Tx.Hash)
	assert.Equal(t, st.Run, taints[0].Run)
	assert.Equal(t, addS, taints[0].Source)
	assert.Len(t, e.rec.kinds(msg.PAGE), 3)
	assert.Len(t, e.rec.kinds(msg.PROCESSED), 6)
	assert.Len(t, e.rec.kinds(msg.TRACED), 3)
	assert.Empty(t, e.rec.kinds(msg.REOPEN))

	// every transaction seen is stored once, with both endpoints
	txs, addrs := e.db.Len()
	assert.Equal(t, 4, txs)
	assert.Equal(t, 4, addrs)
	r, err := e.db.LoadTransaction(context.Background(), hash(5))
	require.NoError(t, err)
	assert.Equal(t, "", r.To)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues(metrics.Completed)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Events.WithLabelValues(string(msg.TAINT))))
}

func TestNoValueNoTaint(t *testing.T) {
	e := newEnv(t)
	e.chain.add(t, 1, addS, addD, 0, 1)
	e.chain.add(t, 2, addS, "", 5, 2)
	tk := e.tracker(Options{})

	require.NoError(t, tk.TraceAddress(context.Background(), addS, 0))

	tainted, traced := checkpointFiles(t, e.root, addS, 0)
	assert.Equal(t, addS+"|0\n", tainted)
	assert.Equal(t, addS+"\n", traced)
	assert.Empty(t, e.rec.kinds(msg.TAINT))
	assert.Empty(t, tk.Snapshot().Transactions)
	assert.Len(t, e.rec.kinds(msg.PROCESSED), 2)
}

func TestIncomingTaintsSender(t *testing.T) {
	e := newEnv(t)
	e.chain.add(t, 1, addX, addS, 3, 4)
	tk := e.tracker(Options{})

	require.NoError(t, tk.TraceAddress(context.Background(), addS, 0))
	assert.Equal(t, []TaintedAddress{{addS, 0}, {addX, 4}}, tk.Snapshot().Tainted)
}

func TestReopen(t *testing.T) {
	e := newEnv(t)
	e.chain.add(t, 1, addA, addB, 1, 10)
	e.chain.add(t, 2, addA, addC, 1, 3)
	e.chain.add(t, 3, addC, addB, 1, 5)
	tk := e.tracker(Options{})

	require.NoError(t, tk.TraceAddress(context.Background(), addA, 0))

	tainted, traced := checkpointFiles(t, e.root, addA, 0)
	assert.Equal(t, addA+"|0\n"+addC+"|3\n"+addB+"|5\n", tainted)
	assert.Equal(t, addA+"\n"+addC+"\n"+addB+"\n", traced)

	reopens := e.rec.kinds(msg.REOPEN)
	require.Len(t, reopens, 1)
	assert.Equal(t, addB, reopens[0].Address)
	assert.Equal(t, uint64(5), reopens[0].Block)

	s := tk.Snapshot()
	assert.Equal(t, []TaintedAddress{{addA, 0}, {addC, 3}, {addB, 5}}, s.Tainted)
	checkInvariants(t, s)
	// B was paged once, from block 5
	assert.Equal(t, 1, e.chain.calls[addB])
}

// scriptedChain returns a fixed history per address, whatever the start block.
type scriptedChain struct {
	mu    sync.Mutex
	hist  map[string][]*primitives.Transaction
	calls map[string][]uint64
}

func (s *scriptedChain) ListAccountTransactions(_ context.Context, address string, o types.ListOptions) (
	[]*primitives.Transaction, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[address] = append(s.calls[address], o.StartBlock)
	if o.Page > 1 {
		return nil, 0, nil
	}
	return s.hist[address], len(s.hist[address]), nil
}

func (s *scriptedChain) Close() {}

func TestReopenTracedAddress(t *testing.T) {
	e := newEnv(t)
	sb := e.chain.add(t, 1, addS, addB, 1, 10)
	sa := e.chain.add(t, 2, addS, addA, 1, 12)
	ab := e.chain.add(t, 3, addA, addB, 1, 5)
	sc := &scriptedChain{calls: map[string][]uint64{}, hist: map[string][]*primitives.Transaction{
		addS: {sb, sa},
		addB: {sb},
		addA: {ab},
	}}
	tk := e.tracker(Options{Agent: sc})

	require.NoError(t, tk.TraceAddress(context.Background(), addS, 0))

	tainted, traced := checkpointFiles(t, e.root, addS, 0)
	assert.Equal(t, addS+"|0\n"+addA+"|12\n"+addB+"|5\n", tainted)
	assert.Equal(t, addS+"\n"+addA+"\n"+addB+"\n", traced)
	// B traced from 10, evicted, traced again from 5
	assert.Equal(t, []uint64{10, 5}, sc.calls[addB])
	checkInvariants(t, tk.Snapshot())
}

func TestReopenWhilePaging(t *testing.T) {
	e := newEnv(t)
	sb := e.chain.add(t, 1, addS, addB, 1, 10)
	bb := e.chain.add(t, 2, addB, addB, 1, 5)
	sc := &scriptedChain{calls: map[string][]uint64{}, hist: map[string][]*primitives.Transaction{
		addS: {sb},
		addB: {sb, bb},
	}}
	tk := e.tracker(Options{Agent: sc})

	require.NoError(t, tk.TraceAddress(context.Background(), addS, 0))

	// B moved to block 5 by its own history, then paged again from there
	assert.Equal(t, []uint64{10, 5}, sc.calls[addB])
	tainted, traced := checkpointFiles(t, e.root, addS, 0)
	assert.Equal(t, addS+"|0\n"+addB+"|5\n", tainted)
	assert.Equal(t, addS+"\n"+addB+"\n", traced)
	tracedB := 0
	for _, ev := range e.rec.kinds(msg.TRACED) {
		if ev.Address == addB {
			tracedB++
			assert.Equal(t, uint64(5), ev.Block)
		}
	}
	assert.Equal(t, 1, tracedB)
	require.Len(t, e.rec.kinds(msg.REOPEN), 1)
	s := tk.Snapshot()
	assert.Equal(t, []TaintedAddress{{addS, 0}, {addB, 5}}, s.Tainted)
	checkInvariants(t, s)
}

// pagedProvider serves fixed raw pages per address and records the pages requested.
type pagedProvider struct {
	mu    sync.Mutex
	pages map[string][][]types.Trans
	calls map[string][]int
}

func (p *pagedProvider) AccountTrans(_ context.Context, address string, o types.ListOptions) ([]types.Trans, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[address] = append(p.calls[address], o.Page)
	pages := p.pages[address]
	if o.Page > len(pages) {
		return nil, nil
	}
	return pages[o.Page-1], nil
}

func (p *pagedProvider) Close() {}

func TestTokenTransfersCountTowardsPages(t *testing.T) {
	e := newEnv(t)
	p := &pagedProvider{calls: map[string][]int{}, pages: map[string][][]types.Trans{
		addS: {
			{
				{Block: "1", Hash: hash(1), From: addS, To: addA, Value: "7", Token: addX},
				{Block: "2", Hash: hash(2), From: addS, To: addB, Value: "1"},
			},
			{
				{Block: "3", Hash: hash(3), From: addS, To: addC, Value: "1"},
			},
		},
	}}
	tk := e.tracker(Options{Agent: chain.New(p, e.c), PageSize: 2})

	require.NoError(t, tk.TraceAddress(context.Background(), addS, 0))

	assert.Equal(t, []int{1, 2}, p.calls[addS])
	s := tk.Snapshot()
	assert.Equal(t, []TaintedAddress{{addS, 0}, {addB, 2}, {addC, 3}}, s.Tainted)
	checkInvariants(t, s)
	_, ok := e.c.Transactions.Get(hash(1))
	assert.False(t, ok)
}

func TestRerunIsIdempotent(t *testing.T) {
	e := newEnv(t)
	basicGraph(t, e.chain)
	tk := e.tracker(Options{})

	require.NoError(t, tk.TraceAddress(context.Background(), addS, 0))
	tainted, traced := checkpointFiles(t, e.root, addS, 0)
	calls := e.chain.totalCalls()
	first := tk.Snapshot()

	e.rec.reset()
	require.NoError(t, tk.TraceAddress(context.Background(), addS, 0))
	assert.Equal(t, Completed, tk.Status().State)
	assert.Equal(t, calls, e.chain.totalCalls())
	assert.Empty(t, e.rec.kinds(msg.TAINT))

	tainted2, traced2 := checkpointFiles(t, e.root, addS, 0)
	assert.Equal(t, tainted, tainted2)
	assert.Equal(t, traced, traced2)
	second := tk.Snapshot()
	assert.Equal(t, first.Tainted, second.Tainted)
	assert.Equal(t, first.Traced, second.Traced)
	assert.Equal(t, first.Recipients, second.Recipients)
	assert.NotEqual(t, first.Run, second.Run)
}

// deepGraph: S -> A -> B -> C -> D, one block apart.
func deepGraph(t *testing.T, f *fakeChain) {
	f.add(t, 1, addS, addA, 1, 1)
	f.add(t, 2, addA, addB, 1, 2)
	f.add(t, 3, addB, addC, 1, 3)
	f.add(t, 4, addC, addD, 1, 4)
	f.add(t, 5, addA, addX, 1, 5)
}

func TestCancelAndResume(t *testing.T) {
	// reference run, uninterrupted
	ref := newEnv(t)
	deepGraph(t, ref.chain)
	rt := ref.tracker(Options{})
	require.NoError(t, rt.TraceAddress(context.Background(), addS, 0))
	want := rt.Snapshot()

	e := newEnv(t)
	deepGraph(t, e.chain)
	tk := e.tracker(Options{})
	var once sync.Once
	e.rec.hook = func(ev msg.Event) {
		if ev.Kind == msg.TRACED && ev.Address == addA {
			once.Do(func() { tk.CancelTrace() })
		}
	}

	require.NoError(t, tk.TraceAddress(context.Background(), addS, 0))
	assert.Equal(t, Canceled, tk.Status().State)
	assert.Empty(t, tk.Status().Err)

	// the checkpoint holds the progress made so far
	tainted, traced := checkpointFiles(t, e.root, addS, 0)
	assert.Equal(t, addS+"|0\n"+addA+"|1\n"+addB+"|2\n"+addX+"|5\n", tainted)
	assert.Equal(t, addS+"\n"+addA+"\n", traced)

	require.NoError(t, tk.TraceAddress(context.Background(), addS, 0))
	assert.Equal(t, Completed, tk.Status().State)
	got := tk.Snapshot()
	assert.Equal(t, want.Tainted, got.Tainted)
	assert.Equal(t, want.Traced, got.Traced)
	assert.Equal(t, want.Recipients, got.Recipients)
	checkInvariants(t, got)

	// resumed run did not page S or A again
	assert.Equal(t, 1, e.chain.calls[addS])
	assert.Equal(t, 1, e.chain.calls[addA])
}

func TestContextCancel(t *testing.T) {
	e := newEnv(t)
	deepGraph(t, e.chain)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.rec.hook = func(ev msg.Event) {
		if ev.Kind == msg.PAGE {
			cancel()
		}
	}
	tk := e.tracker(Options{})

	err := tk.TraceAddress(ctx, addS, 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Canceled, tk.Status().State)
	assert.ErrorIs(t, tk.Err(), context.Canceled)
	assert.Empty(t, e.rec.kinds(msg.PROCESSED))

	// resume with a live context
	e.rec.hook = nil
	require.NoError(t, tk.TraceAddress(context.Background(), addS, 0))
	assert.Len(t, tk.Snapshot().Traced, 6)
}

// blockingChain holds every call until released.
type blockingChain struct {
	*fakeChain
	entered chan struct{}
	release chan struct{}
}

func (b *blockingChain) ListAccountTransactions(ctx context.Context, address string, o types.ListOptions) (
	[]*primitives.Transaction, int, error) {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	<-b.release
	return b.fakeChain.ListAccountTransactions(ctx, address, o)
}

func TestCancelTraceFromOtherGoroutine(t *testing.T) {
	e := newEnv(t)
	deepGraph(t, e.chain)
	bc := &blockingChain{fakeChain: e.chain, entered: make(chan struct{}, 1), release: make(chan struct{})}
	tk := e.tracker(Options{Agent: bc})

	// nothing to cancel yet
	select {
	case <-tk.CancelTrace():
	default:
		t.Fatal("CancelTrace without a trace should return a closed channel")
	}

	res := make(chan error, 1)
	go func() { res <- tk.TraceAddress(context.Background(), addS, 0) }()
	<-bc.entered

	assert.Equal(t, Tracing, tk.Status().State)
	assert.Equal(t, ErrAlreadyTracing, tk.TraceAddress(context.Background(), addA, 0))

	ack := tk.CancelTrace()
	assert.Equal(t, ack, tk.CancelTrace())
	close(bc.release)

	select {
	case <-ack:
	case <-time.After(5 * time.Second):
		t.Fatal("cancel was not acknowledged")
	}
	assert.NoError(t, <-res)
	assert.Equal(t, Canceled, tk.Status().State)
	assert.Empty(t, e.rec.kinds(msg.TAINT))
	assert.Empty(t, e.rec.kinds(msg.TRACED))
}

func TestInvalidAddress(t *testing.T) {
	e := newEnv(t)
	tk := e.tracker(Options{})

	err := tk.TraceAddress(context.Background(), "0x12", 0)
	assert.True(t, errors.Is(err, ErrInvalidAddress))
	assert.True(t, errors.Is(err, primitives.ErrInvalidAddress))
	assert.Equal(t, Idle, tk.Status().State)
	assert.Equal(t, 0, e.chain.totalCalls())

	entries, err := os.ReadDir(e.root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestChainAgentFailure(t *testing.T) {
	e := newEnv(t)
	basicGraph(t, e.chain)
	cause := errors.New("rate limited")
	e.chain.err = cause
	tk := e.tracker(Options{})

	err := tk.TraceAddress(context.Background(), addS, 0)
	assert.True(t, errors.Is(err, ErrChainAgent))
	assert.Equal(t, cause, errors.Unwrap(err))
	st := tk.Status()
	assert.Equal(t, Failed, st.State)
	assert.Contains(t, st.Err, "rate limited")

	// retry resumes from the checkpoint
	e.chain.err = nil
	require.NoError(t, tk.TraceAddress(context.Background(), addS, 0))
	assert.Equal(t, Completed, tk.Status().State)
	assert.Len(t, tk.Snapshot().Traced, 3)
}

type failingStore struct{ store.Memory }

func (f *failingStore) StoreTransaction(context.Context, *primitives.Transaction) error {
	return errors.New("connection reset")
}

func TestStoreFailure(t *testing.T) {
	e := newEnv(t)
	basicGraph(t, e.chain)
	tk := New(Options{Cache: e.c, Agent: e.chain, Store: &failingStore{}, TraceDir: e.root})

	err := tk.TraceAddress(context.Background(), addS, 0)
	assert.True(t, errors.Is(err, ErrStore))
	assert.Equal(t, Failed, tk.Status().State)
}

func TestCheckpointFailure(t *testing.T) {
	e := newEnv(t)
	file := filepath.Join(e.root, "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	tk := New(Options{Cache: e.c, Agent: e.chain, TraceDir: file})

	err := tk.TraceAddress(context.Background(), addS, 0)
	assert.True(t, errors.Is(err, ErrCheckpoint))
	assert.Equal(t, Failed, tk.Status().State)
	assert.Equal(t, 0, e.chain.totalCalls())
}

func TestReplayIgnoresUnknownTraced(t *testing.T) {
	e := newEnv(t)
	basicGraph(t, e.chain)
	cp := checkpoint.New(e.root, addS, 0)
	require.NoError(t, cp.Initialize())
	require.NoError(t, cp.AppendTraced(addX))
	require.NoError(t, cp.AppendTainted(addA, 9))
	require.NoError(t, cp.AppendTainted(addA, 5))
	tk := e.tracker(Options{})

	require.NoError(t, tk.TraceAddress(context.Background(), addS, 0))
	s := tk.Snapshot()
	assert.NotContains(t, s.Traced, addX)
	assert.Equal(t, TaintedAddress{addA, 5}, s.Tainted[1])
	checkInvariants(t, s)
}

func TestPagingPolicies(t *testing.T) {
	assert.True(t, FirstPageOnly.Continue(1, 50, 50))
	assert.False(t, FirstPageOnly.Continue(2, 50, 50))
	assert.False(t, FirstPageOnly.Continue(1, 49, 50))
	assert.True(t, Exhaustive.Continue(7, 50, 50))
	assert.False(t, Exhaustive.Continue(1, 0, 50))
	assert.True(t, PagingFromConfig("exhaustive").Continue(3, 50, 50))
	assert.False(t, PagingFromConfig("first-page").Continue(2, 50, 50))
	assert.False(t, PagingFromConfig("").Continue(2, 50, 50))

	for _, tc := range []struct {
		name    string
		policy  PagingPolicy
		calls   int
		tainted int
	}{
		{"FirstPageOnly", FirstPageOnly, 2, 3},
		{"Exhaustive", Exhaustive, 4, 4},
	} {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t)
			e.chain.add(t, 1, addS, addA, 1, 1)
			e.chain.add(t, 2, addS, addB, 1, 2)
			e.chain.add(t, 3, addS, addC, 1, 3)
			tk := e.tracker(Options{PageSize: 1, Paging: tc.policy})

			require.NoError(t, tk.TraceAddress(context.Background(), addS, 0))
			assert.Equal(t, tc.calls, e.chain.calls[addS])
			assert.Len(t, tk.Snapshot().Tainted, tc.tainted)
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "completed", Completed.String())
	assert.Equal(t, "unknown", State(42).String())
	b, err := Failed.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "failed", string(b))
}

func TestStart(t *testing.T) {
	e := newEnv(t)
	basicGraph(t, e.chain)
	bc := &blockingChain{fakeChain: e.chain, entered: make(chan struct{}, 1), release: make(chan struct{})}
	tk := e.tracker(Options{Agent: bc})

	_, err := tk.Start(context.Background(), "nope", 0)
	assert.True(t, errors.Is(err, ErrInvalidAddress))

	res, err := tk.Start(context.Background(), addS, 0)
	require.NoError(t, err)
	<-bc.entered
	_, err = tk.Start(context.Background(), addS, 0)
	assert.Equal(t, ErrAlreadyTracing, err)

	close(bc.release)
	select {
	case err = <-res:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("trace did not finish")
	}
	assert.Equal(t, Completed, tk.Status().State)
	assert.Len(t, tk.Snapshot().Traced, 3)
}

func TestStateText(t *testing.T) {
	var s State
	require.NoError(t, s.UnmarshalText([]byte("canceled")))
	assert.Equal(t, Canceled, s)
	assert.Error(t, s.UnmarshalText([]byte("paused")))
}
