package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/life0fun/ethtaint/api"
)

// Version of the tracer.
const Version = "v0.1.0"

// NewCli returns the ethtaint command line application.
func NewCli() *cli.App {
	return &cli.App{
		Name:                 "ethtaint",
		Usage:                "trace the propagation of taint from an ethereum address",
		Version:              Version,
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			{
				Name:        "trace",
				Usage:       "trace an address to completion",
				Description: "Runs a trace from the source address and start block. SIGINT or SIGTERM cancel it; running it again resumes from the checkpoint.",
				Flags:       traceFlags,
				Action:      runTrace,
			},
			{
				Name:        "serve",
				Usage:       "serve the REST control API",
				Description: "Serves the REST API starting, following and canceling traces, and the metrics when a port is configured.",
				Flags:       serveFlags,
				Action:      runServe,
			},
			{
				Name:        "watch",
				Usage:       "print the events published by tracers",
				Description: "Consumes the message broker topic and prints every trace event as a JSON line.",
				Flags:       watchFlags,
				Action:      runWatch,
			},
			{
				Name:        "version",
				Description: "print version",
				Action: func(ctx *cli.Context) error {
					cli.ShowVersion(ctx)
					return nil
				},
			},
		},
	}
}

// setupLog installs a terminal handler at the level of the log-level flag.
func setupLog(ctx *cli.Context) error {
	lvl, err := log.LvlFromString(ctx.String(LogLevelFlag.Name))
	if err != nil {
		return err
	}
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, lvl, true)))
	return nil
}

// signals returns a channel receiving SIGINT and SIGTERM, and a function to stop the notifications.
func signals() (<-chan os.Signal, func()) {
	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
	return sigchan, func() { signal.Stop(sigchan) }
}

func runTrace(ctx *cli.Context) error {
	if err := setupLog(ctx); err != nil {
		return err
	}
	conf, err := loadConfig(ctx)
	if err != nil {
		log.Error("failed to load config", "err", err)
		return err
	}
	s, err := newService(conf)
	if err != nil {
		return err
	}
	defer s.Close()

	mctx, stopMetrics := context.WithCancel(ctx.Context)
	defer stopMetrics()
	go func() {
		if err := s.serveMetrics(mctx); err != nil {
			log.Warn("metrics server stopped", "err", err)
		}
	}()

	sigchan, stop := signals()
	defer stop()

	res, err := s.tracker.Start(ctx.Context, ctx.String(AddressFlag.Name), ctx.Uint64(BlockFlag.Name))
	if err != nil {
		return err
	}
	select {
	case err = <-res:
	case sig := <-sigchan:
		log.Info("signal received, canceling trace", "signal", sig)
		<-s.tracker.CancelTrace()
		err = <-res
	}
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(s.tracker.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(ctx.App.Writer, string(out))
	return err
}

func runServe(ctx *cli.Context) error {
	if err := setupLog(ctx); err != nil {
		return err
	}
	conf, err := loadConfig(ctx)
	if err != nil {
		log.Error("failed to load config", "err", err)
		return err
	}
	s, err := newService(conf)
	if err != nil {
		return err
	}
	defer s.Close()

	sctx, cancel := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// traces outlive gctx; shutdown stops them with CancelTrace
	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error {
		return api.New(context.Background(), s.tracker).ListenAndServe(gctx, conf.Endpoint, conf.Port)
	})
	g.Go(func() error {
		return s.serveMetrics(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		<-s.tracker.CancelTrace()
		return nil
	})
	err = g.Wait()
	log.Info("ethtaint stopped", "err", err)
	return err
}

func runWatch(ctx *cli.Context) error {
	if err := setupLog(ctx); err != nil {
		return err
	}
	conf, err := loadConfig(ctx)
	if err != nil {
		log.Error("failed to load config", "err", err)
		return err
	}
	mb, err := newBroker(conf.MbType, conf.MbConn)
	if err != nil {
		return err
	}
	if mb == nil {
		return cli.Exit("watch needs a message broker connection (--mbconn)", 1)
	}
	defer mb.Close()
	if err = mb.Setup(conf.MbTopic); err != nil {
		return err
	}

	mut := new(sync.Mutex)
	eveCh, errCh, err := mb.GetEvents(conf.MbTopic, mut)
	if err != nil {
		return err
	}
	sigchan, stop := signals()
	defer stop()

	enc := json.NewEncoder(ctx.App.Writer)
	for {
		select {
		case e, ok := <-eveCh:
			if !ok {
				return nil
			}
			err = enc.Encode(e)
			mut.Unlock()
			if err != nil {
				return err
			}
		case e := <-errCh:
			log.Warn("error receiving event", "topic", conf.MbTopic, "err", e)
		case <-sigchan:
			return nil
		}
	}
}
