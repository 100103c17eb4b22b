package tracker

import (
	"github.com/pkg/errors"

	"github.com/life0fun/ethtaint/lib/checkpoint"
	"github.com/life0fun/ethtaint/lib/primitives"
)

// State of a Tracker.
type State int

// A Tracker is Idle until its first trace. Completed, Canceled and Failed are resting states that admit a new trace.
const (
	Idle State = iota
	Tracing
	Completed
	Canceled
	Failed
)

var stateNames = [...]string{"idle", "tracing", "completed", "canceled", "failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText encodes the state name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	for i, n := range stateNames {
		if n == string(b) {
			*s = State(i)
			return nil
		}
	}
	return errors.Errorf("unknown state %q", b)
}

// traversal holds the sets of one trace run. The trace loop is its only writer and takes the Tracker write lock
// around mutations so Snapshot readers see consistent sets.
type traversal struct {
	id     string
	source *primitives.Address
	start  uint64
	taint  *primitives.Taint
	cp     *checkpoint.Store

	since  map[string]uint64   // taintedSinceBlock, its keys are the tainted set
	order  []string            // tainted addresses in insertion order
	traced map[string]struct{} // tracedAddrSet
}

func newTraversal(id string, source *primitives.Address, start uint64, cp *checkpoint.Store) *traversal {
	tr := &traversal{
		id:     id,
		source: source,
		start:  start,
		taint:  primitives.NewTaint(source),
		cp:     cp,
		since:  make(map[string]uint64),
		traced: make(map[string]struct{}),
	}
	source.AddTaint(tr.taint)
	tr.addTainted(source.Hex(), start)
	return tr
}

func (tr *traversal) isTainted(hex string) bool {
	_, ok := tr.since[hex]
	return ok
}

func (tr *traversal) isTraced(hex string) bool {
	_, ok := tr.traced[hex]
	return ok
}

// addTainted records hex as tainted since block. An already tainted address keeps the smaller block.
func (tr *traversal) addTainted(hex string, block uint64) {
	if old, ok := tr.since[hex]; ok {
		if block < old {
			tr.since[hex] = block
		}
		return
	}
	tr.since[hex] = block
	tr.order = append(tr.order, hex)
}

// next returns the first tainted address in insertion order that is not traced, or "" at the fixpoint.
func (tr *traversal) next() string {
	for _, hex := range tr.order {
		if !tr.isTraced(hex) {
			return hex
		}
	}
	return ""
}

// TaintedAddress is an address of the tainted set with the block its taint starts at.
type TaintedAddress struct {
	Address string `json:"address"`
	Since   uint64 `json:"since"`
}

// Status describes the current or last run.
type Status struct {
	Run        string `json:"run,omitempty"`
	State      State  `json:"state"`
	Source     string `json:"source,omitempty"`
	StartBlock uint64 `json:"startBlock"`
	Err        string `json:"error,omitempty"`
}

// Snapshot is a read-only copy of the traversal sets of the current or last run.
type Snapshot struct {
	Status
	Tainted      []TaintedAddress `json:"tainted"`
	Traced       []string         `json:"traced"`
	Recipients   []string         `json:"recipients"`
	Transactions []string         `json:"transactions"`
}

func (tr *traversal) snapshot() Snapshot {
	s := Snapshot{
		Tainted:      make([]TaintedAddress, 0, len(tr.order)),
		Traced:       make([]string, 0, len(tr.traced)),
		Recipients:   []string{},
		Transactions: []string{},
	}
	for _, hex := range tr.order {
		s.Tainted = append(s.Tainted, TaintedAddress{Address: hex, Since: tr.since[hex]})
		if tr.isTraced(hex) {
			s.Traced = append(s.Traced, hex)
		}
	}
	for _, a := range tr.taint.Recipients() {
		s.Recipients = append(s.Recipients, a.Hex())
	}
	for _, tx := range tr.taint.Transactions() {
		s.Transactions = append(s.Transactions, tx.Hash())
	}
	return s
}
