// Package mongo implements the store interface for MongoDB.
package mongo

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	mgo "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/life0fun/ethtaint/lib/primitives"
	"github.com/life0fun/ethtaint/lib/store"
)

// Database and collection names.
const (
	Database     = "ethtaint"
	Addresses    = "addresses"
	Transactions = "transactions"
)

// Mongo implements a connection to a MongoDB database.
type Mongo struct {
	c *mgo.Client
}

// New returns a Mongo client connection to the specified MongoDB database uri.
func New(uri string) (*Mongo, error) {
	// get a client
	c, err := mgo.NewClient(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot connect to mongo DB in %s", uri)
	}
	// connect client
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second) //nolint:gomnd // 5 seconds timeout
	defer cancel()

	if err = c.Connect(ctx); err != nil {
		return nil, errors.Wrap(err, "error connecting to mongo DB")
	}

	return &Mongo{c: c}, nil
}

// Close will close a database connection. Must be called at termination time.
func (m *Mongo) Close() error {
	return m.c.Disconnect(context.Background())
}

// StoreTransaction upserts both addresses and the transaction. Documents are keyed by hex and hash, and only written
// on insert, so repeated calls leave the collections unchanged.
func (m *Mongo) StoreTransaction(ctx context.Context, tx *primitives.Transaction) error {
	r := store.FromTransaction(tx)
	db := m.c.Database(Database)
	upsert := options.Update().SetUpsert(true)

	for _, addr := range []string{r.From, r.To} {
		if addr == "" {
			continue
		}
		if _, err := db.Collection(Addresses).UpdateOne(ctx,
			bson.M{"_id": addr},
			bson.M{"$setOnInsert": bson.M{"hex": addr}},
			upsert); err != nil {
			return errors.Wrapf(err, "mongo upsert address %s", addr)
		}
	}

	set := bson.D{
		{Key: "from", Value: r.From},
		{Key: "value", Value: r.Value},
		{Key: "block", Value: int64(r.Block)},
	}
	if r.To != "" {
		set = append(set, bson.E{Key: "to", Value: r.To})
	}
	if _, err := db.Collection(Transactions).UpdateOne(ctx,
		bson.M{"_id": r.Hash},
		bson.D{{Key: "$setOnInsert", Value: set}},
		upsert); err != nil {
		return errors.Wrapf(err, "mongo upsert tx %s", r.Hash)
	}
	return nil
}

// LoadTransaction returns the stored transaction for hash.
func (m *Mongo) LoadTransaction(ctx context.Context, hash string) (r store.Tx, err error) {
	var doc struct {
		Hash  string `bson:"_id"`
		From  string `bson:"from"`
		To    string `bson:"to,omitempty"`
		Value string `bson:"value"`
		Block int64  `bson:"block"`
	}
	res := m.c.Database(Database).Collection(Transactions).FindOne(ctx, bson.M{"_id": strings.ToLower(hash)})
	if err = res.Decode(&doc); errors.Is(err, mgo.ErrNoDocuments) {
		return r, store.ErrDataNotFound
	}
	if err != nil {
		return r, errors.Wrapf(err, "mongo find tx %s", hash)
	}
	return store.Tx{Hash: doc.Hash, From: doc.From, To: doc.To, Value: doc.Value, Block: uint64(doc.Block)}, nil
}

// Drop removes the tracer's database.
func (m *Mongo) Drop(ctx context.Context) error {
	return m.c.Database(Database).Drop(ctx)
}
