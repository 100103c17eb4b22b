package main

import (
	"github.com/urfave/cli/v2"

	"github.com/life0fun/ethtaint/lib/config"
)

const envPrefix = "ETHTAINT_"

var (
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "JSON configuration file (see cmd/conf.json)",
	}
	LogLevelFlag = &cli.StringFlag{
		Name:    "log-level",
		Usage:   "log level: trace, debug, info, warn, error, crit",
		Value:   "info",
		EnvVars: []string{envPrefix + "LOG_LEVEL"},
	}
	AddressFlag = &cli.StringFlag{
		Name:     "address",
		Aliases:  []string{"a"},
		Usage:    "source address to trace",
		Required: true,
	}
	BlockFlag = &cli.Uint64Flag{
		Name:    "block",
		Aliases: []string{"b"},
		Usage:   "block the taint of the source starts at",
	}
	DBTypeFlag = &cli.StringFlag{
		Name:  "dbtype",
		Usage: "transaction store: postgresql, mongodb or memory",
	}
	DBConnFlag = &cli.StringFlag{
		Name:  "dbconn",
		Usage: "transaction store connection string; empty keeps transactions in memory",
	}
	MbTypeFlag = &cli.StringFlag{
		Name:  "mbtype",
		Usage: "message broker: amqp or kafka",
	}
	MbConnFlag = &cli.StringFlag{
		Name:  "mbconn",
		Usage: "message broker url (amqp) or comma separated brokers (kafka); empty disables events",
	}
	MbTopicFlag = &cli.StringFlag{
		Name:  "mbtopic",
		Usage: "message broker exchange or topic",
	}
	ChainTypeFlag = &cli.StringFlag{
		Name:  "chain",
		Usage: "chain agent: etherscan or node",
	}
	ChainURLFlag = &cli.StringFlag{
		Name:  "chain-url",
		Usage: "etherscan api or node json-rpc url",
	}
	ChainSecretFlag = &cli.StringFlag{
		Name:  "chain-secret",
		Usage: "etherscan api key or node secret",
	}
	TraceDirFlag = &cli.StringFlag{
		Name:  "tracedir",
		Usage: "checkpoint root directory",
	}
	PageSizeFlag = &cli.IntFlag{
		Name:  "pagesize",
		Usage: "transactions requested per page",
	}
	PagingFlag = &cli.StringFlag{
		Name:  "paging",
		Usage: "paging policy: " + config.PagingFirstPage + " or " + config.PagingExhaustive,
	}
	EndpointFlag = &cli.StringFlag{
		Name:  "endpoint",
		Usage: "REST API listen host",
	}
	PortFlag = &cli.StringFlag{
		Name:  "port",
		Usage: "REST API listen port",
	}
	MetricsPortFlag = &cli.StringFlag{
		Name:  "metricsport",
		Usage: "port serving /metrics; empty disables it",
	}
)

var serviceFlags = []cli.Flag{
	ConfigFlag, LogLevelFlag,
	DBTypeFlag, DBConnFlag,
	MbTypeFlag, MbConnFlag, MbTopicFlag,
	ChainTypeFlag, ChainURLFlag, ChainSecretFlag,
	TraceDirFlag, PageSizeFlag, PagingFlag,
	MetricsPortFlag,
}

var traceFlags = append([]cli.Flag{AddressFlag, BlockFlag}, serviceFlags...)

var serveFlags = append([]cli.Flag{EndpointFlag, PortFlag}, serviceFlags...)

var watchFlags = []cli.Flag{ConfigFlag, LogLevelFlag, MbTypeFlag, MbConnFlag, MbTopicFlag}

// loadConfig reads the configuration file and environment, then applies the flags set on the command line.
func loadConfig(ctx *cli.Context) (config.ServiceConfig, error) {
	conf, err := config.ExtractConfiguration(ctx.String(ConfigFlag.Name))
	if err != nil {
		return conf, err
	}
	setString := func(f *cli.StringFlag, dst *string) {
		if ctx.IsSet(f.Name) {
			*dst = ctx.String(f.Name)
		}
	}
	setString(DBTypeFlag, &conf.DBType)
	setString(DBConnFlag, &conf.DBConn)
	setString(MbTypeFlag, &conf.MbType)
	setString(MbConnFlag, &conf.MbConn)
	setString(MbTopicFlag, &conf.MbTopic)
	setString(ChainTypeFlag, &conf.Chain.Type)
	setString(ChainURLFlag, &conf.Chain.URL)
	setString(ChainSecretFlag, &conf.Chain.Secret)
	setString(TraceDirFlag, &conf.TraceDir)
	setString(PagingFlag, &conf.Paging)
	setString(EndpointFlag, &conf.Endpoint)
	setString(PortFlag, &conf.Port)
	setString(MetricsPortFlag, &conf.MetricsPort)
	if ctx.IsSet(PageSizeFlag.Name) {
		conf.PageSize = ctx.Int(PageSizeFlag.Name)
	}
	return conf, conf.Validate()
}
