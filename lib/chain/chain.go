// Package chain defines the interface the tracker uses to read per-address transaction history from a blockchain
// data provider.
package chain

import (
	"context"
	"strconv"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/life0fun/ethtaint/lib/cache"
	"github.com/life0fun/ethtaint/lib/chain/etherscan"
	"github.com/life0fun/ethtaint/lib/chain/node"
	"github.com/life0fun/ethtaint/lib/chain/types"
	"github.com/life0fun/ethtaint/lib/config"
	"github.com/life0fun/ethtaint/lib/primitives"
)

// Provider returns raw transaction records for an account. Providers know nothing about entity identity.
type Provider interface {
	AccountTrans(ctx context.Context, address string, opts types.ListOptions) ([]types.Trans, error)
	Close()
}

// Agent returns one page of an account's transactions resolved into cached entities. An empty or nil slice is an
// empty page. fetched is the number of records the provider returned for the page, before records that carry no
// ether (token transfers) were dropped; paging decisions are made on it.
type Agent interface {
	ListAccountTransactions(ctx context.Context, address string, opts types.ListOptions) (
		txs []*primitives.Transaction, fetched int, err error)
	Close()
}

// agent resolves a Provider's records through an entity cache.
type agent struct {
	p Provider
	c *cache.Cache
}

// New returns an Agent reading from p and resolving entities in c.
func New(p Provider, c *cache.Cache) Agent {
	return &agent{p: p, c: c}
}

// Init builds the agent selected in the configuration.
func Init(cfg config.ChainConfig, c *cache.Cache) (Agent, error) {
	var p Provider
	var err error

	switch cfg.Type {
	case config.ETHERSCAN:
		p = etherscan.Init(cfg.URL, cfg.Secret, cfg.Timeout)
	case config.NODE:
		if p, err = node.Init(cfg.URL, cfg.Secret, cfg.ScanWindow); err != nil {
			return nil, err
		}
	default:
		return nil, errors.Wrapf(types.ErrUnknownChain, "%q", cfg.Type)
	}
	log.Info("chain agent ready", "type", cfg.Type, "url", cfg.URL)
	return New(p, c), nil
}

// ListAccountTransactions implements Agent.
func (a *agent) ListAccountTransactions(ctx context.Context, address string, opts types.ListOptions) (
	[]*primitives.Transaction, int, error) {
	trans, err := a.p.AccountTrans(ctx, address, opts)
	if err != nil {
		return nil, 0, err
	}
	txs, err := Resolve(a.c, trans)
	if err != nil {
		return nil, 0, err
	}
	return txs, len(trans), nil
}

// Close implements Agent.
func (a *agent) Close() {
	a.p.Close()
}

// Resolve maps provider records to cached Transactions, preserving order. Token transfers are skipped since taint is
// measured in wei. An existing cached transaction for a hash is returned as is.
func Resolve(c *cache.Cache, trans []types.Trans) ([]*primitives.Transaction, error) {
	txs := make([]*primitives.Transaction, 0, len(trans))
	for i := range trans {
		if trans[i].Token != "" {
			continue
		}
		tx, err := c.Transaction(trans[i].Hash, func() (*primitives.Transaction, error) {
			return build(c, &trans[i])
		})
		if err != nil {
			return nil, errors.Wrapf(err, "resolve tx %s", trans[i].Hash)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func build(c *cache.Cache, t *types.Trans) (*primitives.Transaction, error) {
	n, err := strconv.ParseUint(t.Block, 0, 64)
	if err != nil {
		return nil, errors.Wrap(types.ErrNoBlockNumber, t.Block)
	}
	from, err := c.Address(t.From)
	if err != nil {
		return nil, errors.Wrap(err, "from")
	}
	var to *primitives.Address
	if t.To != "" {
		if to, err = c.Address(t.To); err != nil {
			return nil, errors.Wrap(err, "to")
		}
	}
	amount, err := primitives.ParseAmount(t.Value)
	if err != nil {
		return nil, err
	}
	return primitives.NewTransaction(t.Hash, from, to, amount, c.Block(n))
}
