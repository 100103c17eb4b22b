// Package node implements a chain provider that scans blocks from an ethereum node over JSON-RPC. Nodes do not index
// transactions by account, so an account history is built by reading up to a window of full blocks from the start
// block and keeping the transactions sent from or to the account.
package node

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
	"github.com/tarancss/ethcli"

	"github.com/life0fun/ethtaint/lib/chain/types"
)

// Ethereum ERC20 token methodID (keccak-256 of the function name and arguments)
const (
	ERC20transfer256     = "a9059cbb" // transfer(address,uint256)
	ERC20transferFrom256 = "23b872dd" // transferFrom(address,address,uint256)
	ERC20transfer        = "6cb927d8" // transfer(address,uint)
	ERC20transferFrom    = "a978501e" // transferFrom(address,address,uint)
)

// DefaultWindow is the number of blocks scanned per account when none is configured.
const DefaultWindow = 5000

// blockReader is the part of the ethcli client used here.
type blockReader interface {
	GetBlockByNumber(block uint64, full bool, response *map[string]interface{}) error
	End()
}

// Node scans blocks read from an ethereum node.
type Node struct {
	c      blockReader
	window uint64

	mu   sync.Mutex
	last scan // last account scanned, reused while paging through it
}

type scan struct {
	address string
	start   uint64
	txs     []types.Trans
}

// Init returns a connection to an ethereum node, using secret if necessary for authentication. window is the number
// of blocks scanned per account.
func Init(url, secret string, window uint64) (*Node, error) {
	c := ethcli.Init(url, secret)
	if c == nil {
		return nil, errors.Wrapf(types.ErrProvider, "cannot connect to ethereum node in %s", url)
	}
	return newNode(c, window), nil
}

func newNode(c blockReader, window uint64) *Node {
	if window == 0 {
		window = DefaultWindow
	}
	return &Node{c: c, window: window}
}

// Close ends a connection
func (n *Node) Close() {
	n.c.End()
}

// AccountTrans returns one page of the transactions sent from or to address found in the scan window starting at
// opts.StartBlock. The scan stops early at the head of the chain.
func (n *Node) AccountTrans(ctx context.Context, address string, opts types.ListOptions) ([]types.Trans, error) {
	address = strings.ToLower(address)

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.last.address != address || n.last.start != opts.StartBlock || n.last.txs == nil {
		txs, err := n.scan(ctx, address, opts.StartBlock)
		if err != nil {
			return nil, err
		}
		n.last = scan{address: address, start: opts.StartBlock, txs: txs}
	}

	from := (opts.Page - 1) * opts.PageSize
	if opts.Page < 1 || opts.PageSize <= 0 || from >= len(n.last.txs) {
		return nil, nil
	}
	to := from + opts.PageSize
	if to > len(n.last.txs) {
		to = len(n.last.txs)
	}
	return n.last.txs[from:to], nil
}

func (n *Node) scan(ctx context.Context, address string, start uint64) ([]types.Trans, error) {
	txs := []types.Trans{}
	for b := start; b < start+n.window; b++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var m map[string]interface{}
		err := n.c.GetBlockByNumber(b, true, &m)
		if err == ethcli.ErrNoBlock || (err == nil && m == nil) {
			log.Debug("reached head of chain", "block", b)
			break
		}
		if err != nil {
			return nil, errors.Wrapf(types.ErrProvider, "get block %d: %v", b, err)
		}
		all, err := DecodeTxs(m)
		if err != nil {
			return nil, errors.Wrapf(err, "block %d", b)
		}
		for i := range all {
			if strings.ToLower(all[i].From) == address || strings.ToLower(all[i].To) == address {
				txs = append(txs, all[i])
			}
		}
	}
	log.Debug("scanned blocks", "address", address, "from", start, "found", len(txs))
	return txs, nil
}

// DecodeTxs returns a slice of transactions from full block data. Contract creations have an empty To. ERC20 transfer
// and transferFrom calls are decoded to the token's sender, recipient and value, with Token set to the contract; when
// such a call also carries ether, the ether transfer to the contract is returned first under the same hash.
func DecodeTxs(t interface{}) (txs []types.Trans, err error) {
	m, ok := t.(map[string]interface{})
	if !ok {
		return nil, types.ErrBlockDecode
	}
	txList, ok := m["transactions"].([]interface{})
	if !ok {
		return nil, types.ErrNoTrx
	}

	txs = make([]types.Trans, 0, len(txList))
	for _, item := range txList {
		txObj, ok := item.(map[string]interface{})
		if !ok {
			return nil, errors.Wrapf(types.ErrBlockDecode, "transaction type %T", item)
		}
		var tx types.Trans
		if tx.Block, ok = txObj["blockNumber"].(string); !ok {
			return nil, types.ErrNoBlockNumber
		}
		if tx.Hash, ok = txObj["hash"].(string); !ok {
			return nil, types.ErrNoTrxHash
		}
		if tx.From, ok = txObj["from"].(string); !ok {
			return nil, types.ErrNoTrxFrom
		}
		if tx.Value, ok = txObj["value"].(string); !ok {
			return nil, types.ErrNoTrxValue
		}
		var input string
		if input, ok = txObj["input"].(string); !ok {
			return nil, types.ErrNoTrxInput
		}
		tx.Gas, _ = txObj["gas"].(string)
		if price, ok := txObj["gasPrice"].(string); ok {
			tx.Price, _ = strconv.ParseUint(price, 0, 64)
		}

		// a nil "to" is a contract creation
		if tx.To, ok = txObj["to"].(string); !ok {
			tx.Data = input
			txs = append(txs, tx)
			continue
		}

		if len(input) > 10 {
			switch input[2:10] {
			case ERC20transfer, ERC20transfer256, ERC20transferFrom, ERC20transferFrom256:
				// ether sent along with the call is a transfer of its own
				if hasValue(tx.Value) {
					eth := tx
					eth.Data = input
					txs = append(txs, eth)
				}
			}
			switch input[2:10] {
			case ERC20transfer, ERC20transfer256:
				if len(input) < 138 {
					return nil, types.ErrTrxWrongLen
				}
				tx.Token = tx.To
				// To comes in "input" after 24 padded 0s
				tx.To = "0x" + input[10+24:74]
				tx.Value = trimValue(input[74:138])
				txs = append(txs, tx)
				continue
			case ERC20transferFrom, ERC20transferFrom256:
				if len(input) < 202 {
					return nil, types.ErrTrxWrongLen
				}
				tx.Token = tx.To
				// From comes in "input" after 24 padded 0s, then To after 24 padded 0s
				tx.From = "0x" + input[10+24:74]
				tx.To = "0x" + input[74+24:138]
				tx.Value = trimValue(input[138:202])
				txs = append(txs, tx)
				continue
			}
		}
		// this is an ether transfer
		tx.Data = input
		txs = append(txs, tx)
	}
	return txs, nil
}

// hasValue reports whether a 0x hex value is not zero.
func hasValue(v string) bool {
	return strings.TrimLeft(strings.TrimPrefix(v, "0x"), "0") != ""
}

// trimValue returns a 0x hex value without left zeroes, keeping an even number of digits.
func trimValue(v string) string {
	j := 0
	for j < len(v) && v[j] == '0' {
		j++
	}
	if j%2 == 1 {
		j--
	}
	if j == len(v) {
		return "0x0"
	}
	return "0x" + v[j:]
}
