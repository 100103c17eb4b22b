// Package postgres implements the store interface for PostgreSQL.
package postgres

import (
	"context"
	"database/sql"

	"github.com/ethereum/go-ethereum/log"
	_ "github.com/lib/pq" //nolint:gci // load the postgres driver that is used by the system
	"github.com/pkg/errors"

	"github.com/life0fun/ethtaint/lib/primitives"
	"github.com/life0fun/ethtaint/lib/store"
)

// Schema creates the tables used by the store. Values are wei and may exceed 64 bits.
const Schema = `
CREATE TABLE IF NOT EXISTS addresses (
	hex VARCHAR(42) PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS transactions (
	hash      VARCHAR(66) PRIMARY KEY,
	from_addr VARCHAR(42) NOT NULL REFERENCES addresses (hex),
	to_addr   VARCHAR(42) REFERENCES addresses (hex),
	value     NUMERIC(78, 0) NOT NULL,
	block     BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS transactions_from_addr ON transactions (from_addr);
CREATE INDEX IF NOT EXISTS transactions_to_addr ON transactions (to_addr);
`

const (
	insertAddress = `INSERT INTO addresses (hex) VALUES ($1) ON CONFLICT (hex) DO NOTHING`
	insertTx      = `INSERT INTO transactions (hash, from_addr, to_addr, value, block) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (hash) DO NOTHING`
	selectTx = `SELECT hash, from_addr, COALESCE(to_addr, ''), value::text, block FROM transactions WHERE hash = $1`
)

// Postgres implements a connection to a PostgreSQL database.
type Postgres struct {
	db *sql.DB
}

// New returns a postgres client connection to the specified database in 'connection' and creates the schema.
func New(connection string) (*Postgres, error) {
	db, err := sql.Open("postgres", connection)
	if err != nil {
		return nil, errors.Wrap(err, "cannot connect to postgres DB")
	}
	p := &Postgres{db: db}
	if err = p.EnsureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

// EnsureSchema creates the tables if they do not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, Schema); err != nil {
		return errors.Wrap(err, "postgres schema")
	}
	log.Debug("postgres schema ready")
	return nil
}

// Close will close any database connection. Must be called at termination time.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// StoreTransaction upserts the transaction and its addresses in a single database transaction.
func (p *Postgres) StoreTransaction(ctx context.Context, tx *primitives.Transaction) (err error) {
	r := store.FromTransaction(tx)

	dbtx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "postgres begin")
	}
	defer func() {
		if err != nil {
			if rerr := dbtx.Rollback(); rerr != nil {
				log.Warn("postgres rollback", "hash", r.Hash, "err", rerr)
			}
		}
	}()

	if _, err = dbtx.ExecContext(ctx, insertAddress, r.From); err != nil {
		return errors.Wrapf(err, "postgres insert address %s", r.From)
	}
	var to sql.NullString
	if r.To != "" {
		to = sql.NullString{String: r.To, Valid: true}
		if _, err = dbtx.ExecContext(ctx, insertAddress, r.To); err != nil {
			return errors.Wrapf(err, "postgres insert address %s", r.To)
		}
	}
	if _, err = dbtx.ExecContext(ctx, insertTx, r.Hash, r.From, to, r.Value, int64(r.Block)); err != nil {
		return errors.Wrapf(err, "postgres insert tx %s", r.Hash)
	}
	if err = dbtx.Commit(); err != nil {
		return errors.Wrap(err, "postgres commit")
	}
	return nil
}

// LoadTransaction returns the stored transaction for hash.
func (p *Postgres) LoadTransaction(ctx context.Context, hash string) (r store.Tx, err error) {
	var block int64
	err = p.db.QueryRowContext(ctx, selectTx, hash).Scan(&r.Hash, &r.From, &r.To, &r.Value, &block)
	if errors.Is(err, sql.ErrNoRows) {
		return r, store.ErrDataNotFound
	}
	if err != nil {
		return r, errors.Wrapf(err, "postgres select tx %s", hash)
	}
	r.Block = uint64(block)
	return r, nil
}
