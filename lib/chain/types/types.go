// Package types common chain agent types.
package types

import (
	"errors"
)

// Trans contains a simplified number of transaction fields as returned by a chain provider, before entity
// resolution. Numbers may be decimal or 0x-prefixed hex. An empty To is a contract creation.
type Trans struct {
	Block string `json:"block"`
	Hash  string `json:"hash"`
	From  string `json:"from"`
	To    string `json:"to"`
	Token string `json:"token,omitempty"` // ERC20 contract for token transfers
	Value string `json:"value"`
	Data  string `json:"data,omitempty"`
	Gas   string `json:"gas,omitempty"`
	Price uint64 `json:"price,omitempty"`
	TS    uint32 `json:"ts,omitempty"`
}

// Error codes.
var (
	ErrBlockDecode   = errors.New("unable to decode block data into Block type")
	ErrNoBlockNumber = errors.New("block data does not contain a block number")
	ErrNoBlock       = errors.New("block not available yet")
	ErrNoTrx         = errors.New("transaction not found")
	ErrNoTrxHash     = errors.New("malformed tx data in block, field 'hash' missing")
	ErrNoTrxInput    = errors.New("malformed tx data in block, field 'input' missing")
	ErrNoTrxValue    = errors.New("malformed tx data in block, field 'value' missing")
	ErrNoTrxFrom     = errors.New("malformed tx data in block, field 'from' missing")
	ErrTrxWrongLen   = errors.New("malformed tx data in block, field 'input' has wrong length for ERC20.Transfer")
	ErrProvider      = errors.New("chain provider returned an error")
	ErrUnknownChain  = errors.New("unknown chain agent type")
)

// ListOptions selects one page of an account's transaction history, sorted by ascending block, starting at
// StartBlock. Page is 1-based.
type ListOptions struct {
	StartBlock uint64
	Page       int
	PageSize   int
}
