// Package store defines the interface for database implementations of the tracer's transaction log.
package store

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/life0fun/ethtaint/lib/primitives"
)

// DB defines required methods for persisting transactions seen by a trace. StoreTransaction must be idempotent: it
// upserts the transaction and both of its endpoint addresses.
type DB interface {
	StoreTransaction(ctx context.Context, tx *primitives.Transaction) error
	LoadTransaction(ctx context.Context, hash string) (Tx, error)
	Close() error
}

// Errors returned
var (
	ErrDataNotFound = errors.New("data was not found in store")
)

// Tx contains the fields of a transaction saved to DB. To is empty for contract creations and Value is in wei.
type Tx struct {
	Hash  string `json:"hash" bson:"_id"`
	From  string `json:"from" bson:"from"`
	To    string `json:"to,omitempty" bson:"to,omitempty"`
	Value string `json:"value" bson:"value"`
	Block uint64 `json:"block" bson:"block"`
}

// FromTransaction flattens a transaction for storage.
func FromTransaction(tx *primitives.Transaction) Tx {
	r := Tx{
		Hash:  tx.Hash(),
		From:  tx.From().Hex(),
		Value: tx.Amount().String(),
		Block: tx.Block().Number(),
	}
	if tx.To() != nil {
		r.To = tx.To().Hex()
	}
	return r
}

// Memory keeps transactions in a map. It is used when no database is configured and in tests.
type Memory struct {
	mu        sync.RWMutex
	txs       map[string]Tx
	addresses map[string]struct{}
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{txs: make(map[string]Tx), addresses: make(map[string]struct{})}
}

// StoreTransaction implements DB.
func (m *Memory) StoreTransaction(ctx context.Context, tx *primitives.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r := FromTransaction(tx)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addresses[r.From] = struct{}{}
	if r.To != "" {
		m.addresses[r.To] = struct{}{}
	}
	if _, ok := m.txs[r.Hash]; !ok {
		m.txs[r.Hash] = r
	}
	return nil
}

// LoadTransaction implements DB.
func (m *Memory) LoadTransaction(_ context.Context, hash string) (Tx, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.txs[strings.ToLower(hash)]
	if !ok {
		return Tx{}, ErrDataNotFound
	}
	return r, nil
}

// Len returns the number of transactions and addresses stored.
func (m *Memory) Len() (txs, addresses int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.txs), len(m.addresses)
}

// Close implements DB.
func (m *Memory) Close() error { return nil }
