package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// Badger is a durable Cache backed by an embedded badger database. Entry
// TTLs are enforced by badger itself; expired keys disappear on read.
type Badger struct {
	db     *badger.DB
	logger *zap.Logger
}

// NewBadger opens (or creates) a badger database at dir.
func NewBadger(dir string, logger *zap.Logger) (*Badger, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger cache at %s: %w", dir, err)
	}
	return &Badger{db: db, logger: logger}, nil
}

// Get implements Cache.
func (c *Badger) Get(_ context.Context, key string) ([]byte, bool) {
	var value []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return value, true
}

// Set implements Cache. Write failures are logged, not surfaced; the cache
// is best-effort.
func (c *Badger) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	err := c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Delete implements Cache.
func (c *Badger) Delete(_ context.Context, key string) {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		c.logger.Warn("cache delete failed", zap.String("key", key), zap.Error(err))
	}
}

// Close flushes and closes the underlying database.
func (c *Badger) Close() error {
	return c.db.Close()
}
