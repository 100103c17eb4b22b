// Package config provides helper functionality to read the tracer configuration from JSON config files or OS ENV
// variables. The default configuration can be overriden first by:
//
// - a valid JSON config file (see cmd/conf.json for a sample) and then by
//
// - OS ENV variables: prefixed with ETHTAINT_ (ie. ETHTAINT_DBTYPE, ETHTAINT_DBCONN, ...). All OS ENV variables should
// be valid strings, except for ETHTAINT_CHAIN which should be a string with a valid JSON format and ETHTAINT_PAGESIZE
// which should be an integer. For example:
// # export ETHTAINT_CHAIN='{"type":"etherscan","url":"https://api.etherscan.io/api","secret":"MYKEY"}'
package config

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/life0fun/ethtaint/lib/util"
)

// Chain agent types.
const (
	ETHERSCAN = "etherscan"
	NODE      = "node"
)

// Paging policies.
const (
	PagingFirstPage  = "first-page"
	PagingExhaustive = "exhaustive"
)

// Default configuration variables
var (
	DBTypeDefault      = "postgresql"
	DBConnDefault      = "" // no store unless configured
	EndpointDefault    = ""
	PortDefault        = "3030"
	MetricsPortDefault = ""
	MbTypeDefault      = "amqp"
	MbConnDefault      = "" // no broker unless configured
	MbTopicDefault     = "ethtaint"
	ChainDefault       = ChainConfig{Type: ETHERSCAN, URL: "https://api.etherscan.io/api", Timeout: 30, ScanWindow: 5000}
	TraceDirDefault    = "trace"
	PageSizeDefault    = 50
	PagingDefault      = PagingFirstPage
)

// ChainConfig selects and configures the chain agent. URL is the Etherscan API endpoint or the node JSON-RPC url
// (ie. http://localhost:8545). Secret is the Etherscan API key or the node Basic Authentication secret. ScanWindow is
// the number of blocks the node agent scans per address.
type ChainConfig struct {
	Type       string `json:"type"`
	URL        string `json:"url"`
	Secret     string `json:"secret"`
	Timeout    int    `json:"timeout"` // seconds
	ScanWindow uint64 `json:"scanWindow"`
}

// ServiceConfig contains the fields required by the tracer: store type and connection, REST endpoint and port,
// metrics port, message broker type, url and topic, chain agent, checkpoint root and paging.
type ServiceConfig struct {
	DBType      string      `json:"dbtype"`
	DBConn      string      `json:"dbconn"`
	Endpoint    string      `json:"endpoint"`
	Port        string      `json:"port"`
	MetricsPort string      `json:"metricsport"`
	MbType      string      `json:"mbtype"`
	MbConn      string      `json:"mbconn"`
	MbTopic     string      `json:"mbtopic"`
	Chain       ChainConfig `json:"chain"`
	TraceDir    string      `json:"tracedir"`
	PageSize    int         `json:"pagesize"`
	Paging      string      `json:"paging"`
}

// Errors returned.
var (
	ErrPageSize = errors.New("page size must be positive")
	ErrPaging   = errors.New("unknown paging policy")
)

// Default returns the default configuration.
func Default() ServiceConfig {
	return ServiceConfig{
		DBType:      DBTypeDefault,
		DBConn:      DBConnDefault,
		Endpoint:    EndpointDefault,
		Port:        PortDefault,
		MetricsPort: MetricsPortDefault,
		MbType:      MbTypeDefault,
		MbConn:      MbConnDefault,
		MbTopic:     MbTopicDefault,
		Chain:       ChainDefault,
		TraceDir:    TraceDirDefault,
		PageSize:    PageSizeDefault,
		Paging:      PagingDefault,
	}
}

// ExtractConfiguration reads from the given JSON filename and returns the ServiceConfig or an error otherwise.
func ExtractConfiguration(filename string) (ServiceConfig, error) {
	conf := Default()
	// read from config file first
	if filename != "" {
		file, err := os.Open(filename)
		if err != nil {
			log.Error("configuration file not found", "file", filename)
			return conf, errors.Wrap(err, "open config")
		}
		defer file.Close()
		if err = json.NewDecoder(file).Decode(&conf); err != nil {
			return conf, errors.Wrapf(err, "decode config %s", filename)
		}
	}
	// then override config values with OS ENV variables
	var tmp string
	if tmp = os.Getenv("ETHTAINT_DBTYPE"); tmp != "" {
		conf.DBType = tmp
	}
	if tmp = os.Getenv("ETHTAINT_DBCONN"); tmp != "" {
		conf.DBConn = tmp
	}
	if tmp = os.Getenv("ETHTAINT_ENDPOINT"); tmp != "" {
		conf.Endpoint = tmp
	}
	if tmp = os.Getenv("ETHTAINT_PORT"); tmp != "" {
		conf.Port = tmp
	}
	if tmp = os.Getenv("ETHTAINT_METRICSPORT"); tmp != "" {
		conf.MetricsPort = tmp
	}
	if tmp = os.Getenv("ETHTAINT_MBTYPE"); tmp != "" {
		conf.MbType = tmp
	}
	if tmp = os.Getenv("ETHTAINT_MBCONN"); tmp != "" {
		conf.MbConn = tmp
	}
	if tmp = os.Getenv("ETHTAINT_MBTOPIC"); tmp != "" {
		conf.MbTopic = tmp
	}
	if tmp = os.Getenv("ETHTAINT_CHAIN"); tmp != "" {
		if err := json.Unmarshal([]byte(tmp), &conf.Chain); err != nil {
			log.Error("error reading chain from OS ENV ETHTAINT_CHAIN", "err", err)
			return conf, errors.Wrap(err, "decode ETHTAINT_CHAIN")
		}
	}
	if tmp = os.Getenv("ETHTAINT_TRACEDIR"); tmp != "" {
		conf.TraceDir = tmp
	}
	if tmp = os.Getenv("ETHTAINT_PAGESIZE"); tmp != "" {
		n, err := strconv.Atoi(tmp)
		if err != nil {
			return conf, errors.Wrap(err, "parse ETHTAINT_PAGESIZE")
		}
		conf.PageSize = n
	}
	if tmp = os.Getenv("ETHTAINT_PAGING"); tmp != "" {
		conf.Paging = tmp
	}
	return conf, conf.Validate()
}

// Validate checks the values the tracer cannot run without.
func (c ServiceConfig) Validate() error {
	if c.PageSize <= 0 {
		return errors.Wrapf(ErrPageSize, "%d", c.PageSize)
	}
	if !util.In([]string{PagingFirstPage, PagingExhaustive}, c.Paging) {
		return errors.Wrapf(ErrPaging, "%q", c.Paging)
	}
	return nil
}
