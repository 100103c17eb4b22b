// Package amqp implements the message broker interface for AMQP compliant brokers (ie RabbitMQ)
package amqp

import (
	"encoding/json"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
	"github.com/streadway/amqp"

	"github.com/life0fun/ethtaint/lib/msg"
)

// Amqp implements a connection to a broker and a channel for reuse.
type Amqp struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	mu   sync.Mutex // guards ch
}

// New instantiates a new amqp broker.
func New(uri string) (*Amqp, error) {
	r := &Amqp{}
	var err error

	if r.conn, err = amqp.Dial(uri); err != nil {
		return nil, errors.Wrap(err, "amqp dial")
	}
	log.Info("connected to message broker", "type", "amqp")

	return r, nil
}

// RoutingKey returns the routing key of an event: <source>.<kind>.<address>. Consumers bind with patterns such as
// "<source>.#" or "*.taint.*".
func RoutingKey(e msg.Event) string {
	addr := e.Address
	if addr == "" {
		addr = "-"
	}
	return e.Source + "." + string(e.Kind) + "." + addr
}

// Setup declares the topic exchange events are published to.
func (r *Amqp) Setup(topic string) error {
	// obtain a one-use channel
	channel, err := r.conn.Channel()
	if err != nil {
		return errors.Wrap(err, "amqp channel")
	}
	defer channel.Close()
	return channel.ExchangeDeclare(topic, amqp.ExchangeTopic, true, false, false, false, nil)
}

// Close terminages gracefully the connection to the AMQP message broker
func (r *Amqp) Close() error {
	r.mu.Lock()
	if r.ch != nil {
		if err := r.ch.Close(); err != nil {
			log.Warn("error closing amqp channel", "err", err)
		}
		r.ch = nil
	}
	r.mu.Unlock()
	return r.conn.Close()
}

func (r *Amqp) channel() (*amqp.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ch == nil {
		ch, err := r.conn.Channel()
		if err != nil {
			return nil, errors.Wrap(err, "amqp channel")
		}
		r.ch = ch
	}
	return r.ch, nil
}

// SendEvents publishes events to the topic exchange.
func (r *Amqp) SendEvents(topic string, evs []msg.Event) error {
	ch, err := r.channel()
	if err != nil {
		return err
	}
	for _, e := range evs {
		// marshal to JSON
		jsonDoc, err := json.Marshal(e)
		if err != nil {
			return errors.Wrap(err, "marshal event")
		}
		// build body
		m := amqp.Publishing{
			Headers:     amqp.Table{"x-run": e.Run},
			Body:        jsonDoc,
			ContentType: "application/json",
			Timestamp:   e.TS,
		}
		// publish
		if err = ch.Publish(topic, RoutingKey(e), false, false, m); err != nil {
			return errors.Wrapf(err, "amqp publish %s", RoutingKey(e))
		}
	}
	return nil
}

// GetEvents consumes events from the topic exchange pushing them to the returned channel. mut is locked before each
// event is pushed and the consumer must Unlock it once the event has been dealt with, so the message is only
// acknowledged after processing.
func (r *Amqp) GetEvents(topic string, mut *sync.Mutex) (<-chan msg.Event, <-chan error, error) {
	ch, err := r.channel()
	if err != nil {
		return nil, nil, err
	}
	queue := topic + ".watch"
	// declare queue
	if _, err = ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, nil, errors.Wrap(err, "amqp queue declare")
	}
	// bind queue to exchange
	if err = ch.QueueBind(queue, "#", topic, false, nil); err != nil {
		return nil, nil, errors.Wrap(err, "amqp queue bind")
	}
	// create channel for receiving events
	msgs, err := ch.Consume(queue, "ethtaint-"+topic, false, false, false, false, nil)
	if err != nil {
		return nil, nil, errors.Wrap(err, "amqp consume")
	}
	// define channels to return
	evs := make(chan msg.Event)
	errs := make(chan error)
	// start routine to consume messages from broker
	go func() {
		defer close(evs)
		for m := range msgs {
			var e msg.Event
			if err := json.Unmarshal(m.Body, &e); err != nil {
				errs <- err
				_ = m.Nack(false, false)
				continue
			}
			mut.Lock()
			evs <- e
			mut.Lock() // wait for the consumer to finish processing the event
			mut.Unlock()
			_ = m.Ack(false)
		}
	}()
	return evs, errs, nil
}
