package primitives

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Taint is the contamination spreading from one source address. Two taints are the same taint when they share a
// source; the key separates tag sets of distinct trace runs over shared cached entities.
type Taint struct {
	key    string
	source *Address

	mu           sync.RWMutex
	recipients   map[string]*Address
	transactions map[string]*Transaction
}

// NewTaint creates a taint for source. It does not tag the source.
func NewTaint(source *Address) *Taint {
	return &Taint{
		key:          source.Hex() + "#" + uuid.NewString(),
		source:       source,
		recipients:   make(map[string]*Address),
		transactions: make(map[string]*Transaction),
	}
}

// Key identifies the tag this taint leaves on addresses and transactions.
func (t *Taint) Key() string {
	return t.key
}

// Source returns the taint source.
func (t *Taint) Source() *Address {
	return t.source
}

// Equal reports whether o tracks the same source.
func (t *Taint) Equal(o *Taint) bool {
	return o != nil && t.source.Hex() == o.source.Hex()
}

// AddRecipient records a as tainted and tags it. The source is never a recipient; adding it is a no-op.
func (t *Taint) AddRecipient(a *Address) {
	if a.Hex() == t.source.Hex() {
		return
	}
	t.mu.Lock()
	t.recipients[a.Hex()] = a
	t.mu.Unlock()
	a.AddTaint(t)
}

// HasRecipient reports whether a is a recipient.
func (t *Taint) HasRecipient(a *Address) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.recipients[a.Hex()]
	return ok
}

// HasAddress reports whether a is the source or a recipient.
func (t *Taint) HasAddress(a *Address) bool {
	return a.Hex() == t.source.Hex() || t.HasRecipient(a)
}

// Recipients returns the recipients sorted by hex.
func (t *Taint) Recipients() []*Address {
	t.mu.RLock()
	out := make([]*Address, 0, len(t.recipients))
	for _, a := range t.recipients {
		out = append(out, a)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Hex() < out[j].Hex() })
	return out
}

// Addresses returns the source followed by the recipients.
func (t *Taint) Addresses() []*Address {
	return append([]*Address{t.source}, t.Recipients()...)
}

// AddTransaction records tx as propagating and tags it.
func (t *Taint) AddTransaction(tx *Transaction) {
	t.mu.Lock()
	t.transactions[tx.Hash()] = tx
	tx.addTaint(t)
	t.mu.Unlock()
}

// HasTransaction reports whether tx propagated this taint.
func (t *Taint) HasTransaction(tx *Transaction) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.transactions[tx.Hash()]
	return ok
}

// Transactions returns the propagating transactions sorted by hash.
func (t *Taint) Transactions() []*Transaction {
	t.mu.RLock()
	out := make([]*Transaction, 0, len(t.transactions))
	for _, tx := range t.transactions {
		out = append(out, tx)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Hash() < out[j].Hash() })
	return out
}
