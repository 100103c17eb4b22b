package tracker

import (
	"github.com/ethereum/go-ethereum/log"

	"github.com/life0fun/ethtaint/lib/msg"
	"github.com/life0fun/ethtaint/lib/primitives"
)

// propagate applies the taint of tr to tx, seen while paging the history of addr. Transactions without a recipient or
// value, or already carrying the taint, change nothing. Otherwise the counterparty of addr becomes tainted from the
// transaction block, or has its taint moved to that block when it is earlier than the one recorded.
func (t *Tracker) propagate(tr *traversal, addr *primitives.Address, tx *primitives.Transaction) error {
	if tx.To() == nil || tx.Amount().IsZero() || tx.HasTaint(tr.taint) {
		return nil
	}
	tr.taint.AddTransaction(tx)

	target := tx.To()
	if target.Hex() == addr.Hex() {
		target = tx.From()
	}
	hex := target.Hex()
	block := tx.Block().Number()

	if since, ok := tr.since[hex]; ok {
		if block >= since {
			return nil
		}
		return t.reopen(tr, target, since, block, tx)
	}

	if err := tr.cp.AppendTainted(hex, block); err != nil {
		return opError(ErrCheckpoint, "append tainted "+hex, err)
	}
	t.mu.Lock()
	tr.taint.AddRecipient(target)
	tr.addTainted(hex, block)
	t.mu.Unlock()

	log.Debug("address tainted", "source", tr.source.Hex(), "address", hex, "block", block, "tx", tx.Hash())
	t.emit(tr, msg.Event{Kind: msg.TAINT, Address: hex, Block: block, Tx: msg.Trans(tx)})
	return nil
}

// reopen moves the taint of an already tainted address to an earlier block. The corrected line is appended before
// the stale one is deleted, so a crash in between replays to the smaller block. A traced address goes back to the
// frontier to be paged again from the new block.
func (t *Tracker) reopen(tr *traversal, target *primitives.Address, since, block uint64,
	tx *primitives.Transaction) error {
	hex := target.Hex()
	if err := tr.cp.AppendTainted(hex, block); err != nil {
		return opError(ErrCheckpoint, "append tainted "+hex, err)
	}
	if err := tr.cp.DeleteTaintedLine(hex, since); err != nil {
		return opError(ErrCheckpoint, "delete tainted "+hex, err)
	}
	traced := tr.isTraced(hex)
	if traced {
		if err := tr.cp.DeleteTracedLine(hex); err != nil {
			return opError(ErrCheckpoint, "delete traced "+hex, err)
		}
	}

	t.mu.Lock()
	tr.addTainted(hex, block)
	delete(tr.traced, hex)
	t.mu.Unlock()

	log.Info("trace reopened", "source", tr.source.Hex(), "address", hex, "from", since, "to", block,
		"traced", traced)
	t.emit(tr, msg.Event{Kind: msg.REOPEN, Address: hex, Block: block, Tx: msg.Trans(tx)})
	return nil
}
