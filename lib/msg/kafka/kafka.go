// Package kafka implements the message broker interface for Kafka. Events are keyed by source address so all the
// events of one trace land in the same partition, in order.
package kafka

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/life0fun/ethtaint/lib/msg"
	"github.com/life0fun/ethtaint/lib/util"
)

// ErrNoBrokers is returned when the connection string lists no brokers.
var ErrNoBrokers = errors.New("no kafka brokers")

// Kafka publishes with a sync producer and consumes with a partition consumer.
type Kafka struct {
	sp          sarama.SyncProducer
	newConsumer func() (sarama.Consumer, error)

	mu        sync.Mutex
	consumers []sarama.Consumer
	pcs       []sarama.PartitionConsumer
}

// New connects a sync producer to the comma separated list of brokers.
func New(brokersCSV string) (*Kafka, error) {
	brokers := util.SplitCSV(brokersCSV)
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}

	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 10
	cfg.Producer.Retry.Backoff = 200 * time.Millisecond
	// SyncProducer must have Return.Successes=true
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Consumer.Return.Errors = true
	cfg.Version = sarama.V2_1_0_0

	sp, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "kafka producer")
	}
	log.Info("connected to message broker", "type", "kafka", "brokers", len(brokers))
	return newKafka(sp, func() (sarama.Consumer, error) { return sarama.NewConsumer(brokers, cfg) }), nil
}

func newKafka(sp sarama.SyncProducer, newConsumer func() (sarama.Consumer, error)) *Kafka {
	return &Kafka{sp: sp, newConsumer: newConsumer}
}

// Setup implements msg.MsgBroker. Topics are expected to exist or be auto created by the cluster.
func (k *Kafka) Setup(string) error { return nil }

// Close closes the producer and any consumer opened by GetEvents.
func (k *Kafka) Close() error {
	k.mu.Lock()
	for _, pc := range k.pcs {
		pc.AsyncClose()
	}
	k.pcs = nil
	for _, c := range k.consumers {
		if err := c.Close(); err != nil {
			log.Warn("error closing kafka consumer", "err", err)
		}
	}
	k.consumers = nil
	k.mu.Unlock()
	return k.sp.Close()
}

// SendEvents publishes events to topic, keyed by source address.
func (k *Kafka) SendEvents(topic string, evs []msg.Event) error {
	msgs := make([]*sarama.ProducerMessage, 0, len(evs))
	for _, e := range evs {
		b, err := json.Marshal(e)
		if err != nil {
			return errors.Wrap(err, "marshal event")
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic:   topic,
			Key:     sarama.StringEncoder(e.Source),
			Value:   sarama.ByteEncoder(b),
			Headers: []sarama.RecordHeader{{Key: []byte("kind"), Value: []byte(e.Kind)}},
		})
	}
	if err := k.sp.SendMessages(msgs); err != nil {
		return errors.Wrapf(err, "kafka send %d events", len(msgs))
	}
	return nil
}

// GetEvents consumes new events from every partition of topic. mut is locked before each event is pushed and the
// consumer must Unlock it once the event has been dealt with.
func (k *Kafka) GetEvents(topic string, mut *sync.Mutex) (<-chan msg.Event, <-chan error, error) {
	c, err := k.newConsumer()
	if err != nil {
		return nil, nil, errors.Wrap(err, "kafka consumer")
	}
	k.mu.Lock()
	k.consumers = append(k.consumers, c)
	k.mu.Unlock()

	partitions, err := c.Partitions(topic)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "kafka partitions %s", topic)
	}

	in := make(chan *sarama.ConsumerMessage)
	errs := make(chan error)
	var wg sync.WaitGroup
	for _, p := range partitions {
		pc, err := c.ConsumePartition(topic, p, sarama.OffsetNewest)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "kafka consume %s/%d", topic, p)
		}
		k.mu.Lock()
		k.pcs = append(k.pcs, pc)
		k.mu.Unlock()
		wg.Add(2)
		go func() {
			defer wg.Done()
			for m := range pc.Messages() {
				in <- m
			}
		}()
		go func() {
			defer wg.Done()
			for e := range pc.Errors() {
				errs <- e
			}
		}()
	}
	go func() {
		wg.Wait()
		close(in)
	}()

	evs := make(chan msg.Event)
	go func() {
		defer close(evs)
		for m := range in {
			var e msg.Event
			if err := json.Unmarshal(m.Value, &e); err != nil {
				errs <- err
				continue
			}
			mut.Lock()
			evs <- e
			mut.Lock() // wait for the consumer to finish processing the event
			mut.Unlock()
		}
	}()
	return evs, errs, nil
}
