// Package primitives holds the entities a taint trace works on: addresses, amounts, blocks, transactions and taints.
//
// Cross references are kept as keyed collections. An Address or Transaction records the keys of the taints that tagged
// it, while a Taint owns its recipients and transactions keyed by hex or hash. Nothing points back from an address to a
// taint object, so the ownership graph stays acyclic.
package primitives

import (
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// Errors returned by constructors.
var (
	ErrInvalidAddress = errors.New("invalid ethereum address")
	ErrNoHash         = errors.New("transaction hash is empty")
	ErrNoFrom         = errors.New("transaction has no sender")
	ErrNoBlock        = errors.New("transaction has no block")
	ErrBadAmount      = errors.New("amount is not a non-negative integer")
)

// NormalizeHex validates s as an Ethereum address, with or without 0x prefix, and returns its canonical lowercase
// 0x-prefixed form.
func NormalizeHex(s string) (string, error) {
	if !common.IsHexAddress(s) {
		return "", errors.Wrapf(ErrInvalidAddress, "%q", s)
	}
	return strings.ToLower(common.HexToAddress(s).Hex()), nil
}

// Address is an account. Its identity is the canonical hex, so at most one instance per hex should live in a cache.
type Address struct {
	hex string

	mu     sync.Mutex
	taints map[string]struct{}
}

// NewAddress validates and normalizes hex.
func NewAddress(hex string) (*Address, error) {
	h, err := NormalizeHex(hex)
	if err != nil {
		return nil, err
	}
	return &Address{hex: h}, nil
}

// Hex returns the canonical lowercase hex.
func (a *Address) Hex() string {
	return a.hex
}

func (a *Address) String() string {
	return a.hex
}

// AddTaint tags the address with t.
func (a *Address) AddTaint(t *Taint) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.taints == nil {
		a.taints = make(map[string]struct{})
	}
	a.taints[t.Key()] = struct{}{}
}

// HasTaint reports whether t tagged the address.
func (a *Address) HasTaint(t *Taint) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.taints[t.Key()]
	return ok
}

// Taints returns the keys of the taints that tagged the address, sorted.
func (a *Address) Taints() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	keys := make([]string, 0, len(a.taints))
	for k := range a.taints {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
