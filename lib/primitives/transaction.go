package primitives

import (
	"strings"
	"sync"
)

// Transaction is a value transfer identified by its hash. It references its endpoints and block without owning them,
// and records which taints already processed it.
type Transaction struct {
	hash   string
	from   *Address
	to     *Address // nil for contract creation
	amount Amount
	block  *Block

	mu     sync.Mutex
	taints map[string]struct{}
}

// NewTransaction builds a transaction. to may be nil.
func NewTransaction(hash string, from, to *Address, amount Amount, block *Block) (*Transaction, error) {
	hash = strings.ToLower(strings.TrimSpace(hash))
	switch {
	case hash == "":
		return nil, ErrNoHash
	case from == nil:
		return nil, ErrNoFrom
	case block == nil:
		return nil, ErrNoBlock
	}
	return &Transaction{hash: hash, from: from, to: to, amount: amount, block: block}, nil
}

func (tx *Transaction) Hash() string { return tx.hash }
func (tx *Transaction) From() *Address { return tx.from }
func (tx *Transaction) To() *Address { return tx.to }
func (tx *Transaction) Amount() Amount { return tx.amount }
func (tx *Transaction) Block() *Block { return tx.block }
func (tx *Transaction) String() string { return tx.hash }

// HasTaint reports whether t already propagated through tx.
func (tx *Transaction) HasTaint(t *Taint) bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	_, ok := tx.taints[t.Key()]
	return ok
}

// addTaint is only called by Taint.AddTransaction so both sides change together.
func (tx *Transaction) addTaint(t *Taint) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.taints == nil {
		tx.taints = make(map[string]struct{})
	}
	tx.taints[t.Key()] = struct{}{}
}
