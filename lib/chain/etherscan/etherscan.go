// Package etherscan implements a chain provider over the Etherscan account API (module=account, action=txlist).
package etherscan

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/life0fun/ethtaint/lib/chain/types"
)

// endBlock is the upper bound Etherscan accepts for an open-ended query.
const endBlock = "99999999"

// noTransactions is the message Etherscan sends with status "0" for an empty history.
const noTransactions = "No transactions found"

// Etherscan reads account histories from an Etherscan-compatible API.
type Etherscan struct {
	base   string
	key    string
	client *http.Client
}

// response is the Etherscan envelope. Result is an array of transactions on success and a string on error.
type response struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type trx struct {
	BlockNumber string `json:"blockNumber"`
	TimeStamp   string `json:"timeStamp"`
	Hash        string `json:"hash"`
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	Gas         string `json:"gas"`
	GasPrice    string `json:"gasPrice"`
	Input       string `json:"input"`
}

// Init returns a provider for the API at base (ie. https://api.etherscan.io/api). Query parameters already in base,
// such as chainid, are kept on every request. timeout is in seconds; zero means no timeout.
func Init(base, key string, timeout int) *Etherscan {
	return &Etherscan{
		base:   base,
		key:    key,
		client: &http.Client{Timeout: time.Duration(timeout) * time.Second},
	}
}

// Close implements chain.Provider.
func (e *Etherscan) Close() {
	e.client.CloseIdleConnections()
}

// AccountTrans returns one page of normal transactions for address in ascending block order.
func (e *Etherscan) AccountTrans(ctx context.Context, address string, opts types.ListOptions) ([]types.Trans, error) {
	u, err := url.Parse(e.base)
	if err != nil {
		return nil, errors.Wrapf(err, "etherscan url %q", e.base)
	}
	q := u.Query()
	q.Set("module", "account")
	q.Set("action", "txlist")
	q.Set("address", address)
	q.Set("startblock", strconv.FormatUint(opts.StartBlock, 10))
	q.Set("endblock", endBlock)
	q.Set("page", strconv.Itoa(opts.Page))
	q.Set("offset", strconv.Itoa(opts.PageSize))
	q.Set("sort", "asc")
	if e.key != "" {
		q.Set("apikey", e.key)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "etherscan request")
	}
	res, err := e.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "etherscan get")
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(types.ErrProvider, "etherscan http status %d", res.StatusCode)
	}

	var r response
	if err = json.NewDecoder(res.Body).Decode(&r); err != nil {
		return nil, errors.Wrap(err, "etherscan decode")
	}
	if r.Status != "1" {
		if r.Message == noTransactions {
			return nil, nil
		}
		var detail string
		_ = json.Unmarshal(r.Result, &detail)
		log.Warn("etherscan error", "address", address, "message", r.Message, "result", detail)
		return nil, errors.Wrapf(types.ErrProvider, "etherscan: %s %s", r.Message, detail)
	}

	var list []trx
	if err = json.Unmarshal(r.Result, &list); err != nil {
		return nil, errors.Wrap(err, "etherscan decode result")
	}
	return decode(list), nil
}

func decode(list []trx) []types.Trans {
	txs := make([]types.Trans, len(list))
	for i, t := range list {
		txs[i] = types.Trans{
			Block: t.BlockNumber,
			Hash:  t.Hash,
			From:  t.From,
			To:    t.To,
			Value: t.Value,
			Data:  t.Input,
			Gas:   t.Gas,
		}
		txs[i].Price, _ = strconv.ParseUint(t.GasPrice, 10, 64)
		if ts, err := strconv.ParseUint(t.TimeStamp, 10, 32); err == nil {
			txs[i].TS = uint32(ts)
		}
	}
	return txs
}
