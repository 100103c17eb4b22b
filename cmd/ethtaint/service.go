package main

import (
	"context"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/life0fun/ethtaint/lib/cache"
	"github.com/life0fun/ethtaint/lib/chain"
	"github.com/life0fun/ethtaint/lib/config"
	"github.com/life0fun/ethtaint/lib/metrics"
	"github.com/life0fun/ethtaint/lib/msg"
	"github.com/life0fun/ethtaint/lib/msg/amqp"
	"github.com/life0fun/ethtaint/lib/msg/kafka"
	"github.com/life0fun/ethtaint/lib/store"
	"github.com/life0fun/ethtaint/lib/store/db"
	"github.com/life0fun/ethtaint/tracker"
)

// Message broker types.
const (
	AMQP  = "amqp"
	KAFKA = "kafka"
)

// ErrUnknownBroker is returned for message broker types that are not implemented.
var ErrUnknownBroker = errors.New("unknown message broker type")

// service holds the connections a tracker runs with.
type service struct {
	conf    config.ServiceConfig
	db      store.DB
	mb      msg.MsgBroker
	agent   chain.Agent
	metrics *metrics.Metrics
	tracker *tracker.Tracker
}

func newService(conf config.ServiceConfig) (*service, error) {
	s := &service{conf: conf, metrics: metrics.New()}
	if err := s.open(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *service) open() (err error) {
	conf := s.conf

	// connect to database
	if s.db, err = db.New(conf.DBType, conf.DBConn); err != nil {
		return err
	}
	if conf.DBConn != "" {
		log.Info("connected to database", "type", conf.DBType)
	}

	// load message broker
	if s.mb, err = newBroker(conf.MbType, conf.MbConn); err != nil {
		return err
	}
	notifiers := msg.Notifiers{s.metrics}
	if s.mb != nil {
		if err = s.mb.Setup(conf.MbTopic); err != nil {
			return err
		}
		notifiers = append(notifiers, msg.NewPublisher(s.mb, conf.MbTopic))
	}

	c := cache.New()
	if s.agent, err = chain.Init(conf.Chain, c); err != nil {
		return err
	}

	s.tracker = tracker.New(tracker.Options{
		Cache:    c,
		Agent:    s.agent,
		Store:    s.db,
		Notifier: notifiers,
		Metrics:  s.metrics,
		TraceDir: conf.TraceDir,
		PageSize: conf.PageSize,
		Paging:   tracker.PagingFromConfig(conf.Paging),
	})
	return nil
}

// newBroker connects the configured broker. An empty connection string means no broker.
func newBroker(mbType, mbConn string) (msg.MsgBroker, error) {
	if mbConn == "" {
		return nil, nil
	}
	switch mbType {
	case AMQP:
		mb, err := amqp.New(mbConn)
		if err != nil {
			time.Sleep(10 * time.Second) // wait 10s for AMQP to be ready and try to reconnect
			if mb, err = amqp.New(mbConn); err != nil {
				return nil, err
			}
		}
		return mb, nil
	case KAFKA:
		mb, err := kafka.New(mbConn)
		if err != nil {
			return nil, err
		}
		return mb, nil
	}
	return nil, errors.Wrapf(ErrUnknownBroker, "%q", mbType)
}

// serveMetrics serves /metrics on the configured port until ctx is done. It returns at once without a port.
func (s *service) serveMetrics(ctx context.Context) error {
	if s.conf.MetricsPort == "" {
		return nil
	}
	h := http.NewServeMux()
	h.Handle("/metrics", s.metrics.Handler())
	srv := &http.Server{Addr: ":" + s.conf.MetricsPort, Handler: h, ReadTimeout: 15 * time.Second}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	log.Info("serving metrics", "port", s.conf.MetricsPort)

	select {
	case err := <-errc:
		return errors.Wrap(err, "metrics server")
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}

// Close releases the connections in reverse order of opening.
func (s *service) Close() {
	if s.agent != nil {
		s.agent.Close()
	}
	if s.mb != nil {
		if err := s.mb.Close(); err != nil {
			log.Warn("error closing message broker", "err", err)
		}
	}
	if err := db.Close(s.db); err != nil {
		log.Warn("error closing database", "type", s.conf.DBType, "err", err)
	}
}
