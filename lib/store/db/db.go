// Package db implements the opening and graceful closing of database connections.
package db

import (
	"github.com/pkg/errors"

	"github.com/life0fun/ethtaint/lib/store"
	"github.com/life0fun/ethtaint/lib/store/mongo"
	"github.com/life0fun/ethtaint/lib/store/postgres"
)

const (
	MONGODB  string = "mongodb"
	POSTGRES string = "postgresql"
	MEMORY   string = "memory"
)

// ErrUnknownDB is returned for database types that are not implemented.
var ErrUnknownDB = errors.New("unknown database type")

// New returns a new database connection according to the options (database type). An empty connection returns an
// in-memory store, so a trace can run without a database.
func New(options, connection string) (store.DB, error) {
	if connection == "" || options == MEMORY {
		return store.NewMemory(), nil
	}
	switch options {
	case MONGODB:
		m, err := mongo.New(connection)
		if err != nil {
			return nil, err
		}
		return m, nil
	case POSTGRES:
		p, err := postgres.New(connection)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, errors.Wrapf(ErrUnknownDB, "%q", options)
}

// Close gracefully closes the database connection.
func Close(dh store.DB) error {
	if dh == nil {
		return nil
	}
	return dh.Close()
}
