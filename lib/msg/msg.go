// Package msg defines the tracer events and the interface for different message brokers that carry them.
package msg

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/life0fun/ethtaint/lib/chain/types"
	"github.com/life0fun/ethtaint/lib/primitives"
)

// Kind names a tracer event.
type Kind string

// Events emitted during a trace.
const (
	TAINT     Kind = "taint"                // a new address was tainted
	PAGE      Kind = "page"                 // a page of an address history was fetched
	PROCESSED Kind = "processedTransaction" // a transaction went through propagation
	TRACED    Kind = "tracedAddress"        // an address history was fully paged
	REOPEN    Kind = "reopenTrace"          // a traced address was tainted from an earlier block
)

// Event is published for every step of a trace. Address is the address the event is about: the tainted or reopened
// target, the traced address, or the address being paged.
type Event struct {
	Run        string       `json:"run"`
	Kind       Kind         `json:"kind"`
	Source     string       `json:"source"`
	StartBlock uint64       `json:"startBlock"`
	Address    string       `json:"address,omitempty"`
	Page       int          `json:"page,omitempty"`
	Count      int          `json:"count,omitempty"`
	Block      uint64       `json:"block,omitempty"`
	Tx         *types.Trans `json:"tx,omitempty"`
	TS         time.Time    `json:"ts"`
}

// Trans converts a resolved transaction for an event payload.
func Trans(tx *primitives.Transaction) *types.Trans {
	t := &types.Trans{
		Block: tx.Block().String(),
		Hash:  tx.Hash(),
		From:  tx.From().Hex(),
		Value: tx.Amount().String(),
	}
	if tx.To() != nil {
		t.To = tx.To().Hex()
	}
	return t
}

// Notifier receives tracer events. Notify is called synchronously from the trace loop and must not block for long.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to a Notifier.
type NotifierFunc func(Event)

// Notify implements Notifier.
func (f NotifierFunc) Notify(e Event) { f(e) }

// Notifiers fans an event out to several notifiers in order.
type Notifiers []Notifier

// Notify implements Notifier.
func (ns Notifiers) Notify(e Event) {
	for _, n := range ns {
		if n != nil {
			n.Notify(e)
		}
	}
}

// MsgBroker publishes and consumes tracer events on a topic.
type MsgBroker interface {
	Setup(topic string) error
	Close() error

	SendEvents(topic string, evs []Event) error
	GetEvents(topic string, mut *sync.Mutex) (<-chan Event, <-chan error, error)
}

// Publisher is a Notifier that sends every event to a broker topic. Send errors are logged and counted; they do not
// stop a trace.
type Publisher struct {
	mb    MsgBroker
	topic string

	mu     sync.Mutex
	failed int
}

// NewPublisher returns a Notifier publishing to topic on mb.
func NewPublisher(mb MsgBroker, topic string) *Publisher {
	return &Publisher{mb: mb, topic: topic}
}

// Notify implements Notifier.
func (p *Publisher) Notify(e Event) {
	if err := p.mb.SendEvents(p.topic, []Event{e}); err != nil {
		p.mu.Lock()
		p.failed++
		p.mu.Unlock()
		log.Warn("error sending event to message broker", "topic", p.topic, "kind", e.Kind, "err", err)
	}
}

// Failed returns the number of events that could not be sent.
func (p *Publisher) Failed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failed
}
