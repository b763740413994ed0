package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

const entryPrefix = "ctx/"

// BadgerBackend persists entries in BadgerDB. Expiry uses Badger's native
// TTL; capacity eviction removes the oldest entries by CreatedAt.
type BadgerBackend struct {
	db         *badger.DB
	maxEntries int

	// evictMu serializes capacity checks so concurrent sets do not
	// over-evict.
	evictMu sync.Mutex
}

var _ Backend = (*BadgerBackend)(nil)

// badgerLogger routes Badger's logging into slog. Badger is chatty at
// info level, so everything below warning goes to debug.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(msg string, args ...any) {
	l.logger.Error(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Warningf(msg string, args ...any) {
	l.logger.Warn(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Infof(msg string, args ...any) {
	l.logger.Debug(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Debugf(msg string, args ...any) {
	l.logger.Debug(fmt.Sprintf(msg, args...))
}

// OpenBadger opens a Badger-backed cache in dir. An empty dir keeps the
// database in memory.
func OpenBadger(dir string, maxEntries int) (*BadgerBackend, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = badgerLogger{logger: slog.Default()}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger cache: %w", err)
	}
	return &BadgerBackend{db: db, maxEntries: maxEntries}, nil
}

func entryKey(key string) []byte {
	return []byte(entryPrefix + key)
}

// Get returns the entry for key.
func (b *BadgerBackend) Get(_ context.Context, key string) (*Entry, error) {
	var e Entry
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Set stores e with its TTL.
func (b *BadgerBackend) Set(ctx context.Context, e *Entry) (int, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return 0, fmt.Errorf("marshal cache entry: %w", err)
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		be := badger.NewEntry(entryKey(e.Key), data)
		if e.TTL > 0 {
			be = be.WithTTL(e.TTL)
		}
		return txn.SetEntry(be)
	})
	if err != nil {
		return 0, err
	}
	return b.evictOverflow(ctx)
}

// evictOverflow deletes the oldest entries beyond maxEntries.
func (b *BadgerBackend) evictOverflow(ctx context.Context) (int, error) {
	b.evictMu.Lock()
	defer b.evictMu.Unlock()

	if b.Len() <= b.maxEntries {
		return 0, nil
	}

	type aged struct {
		key     string
		created int64
	}
	var all []aged
	err := b.Scan(ctx, 0, func(e *Entry) bool {
		all = append(all, aged{key: e.Key, created: e.CreatedAt.UnixNano()})
		return true
	})
	if err != nil {
		return 0, err
	}

	overflow := len(all) - b.maxEntries
	if overflow <= 0 {
		return 0, nil
	}
	sort.Slice(all, func(i, j int) bool { return all[i].created < all[j].created })

	keys := make([]string, overflow)
	for i := range keys {
		keys[i] = all[i].key
	}
	if err := b.Delete(ctx, keys...); err != nil {
		return 0, err
	}
	return overflow, nil
}

// Delete removes keys.
func (b *BadgerBackend) Delete(_ context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(entryKey(k)); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// Scan visits up to limit live entries in key order.
func (b *BadgerBackend) Scan(ctx context.Context, limit int, fn func(*Entry) bool) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(entryPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		visited := 0
		for it.Rewind(); it.Valid(); it.Next() {
			if limit > 0 && visited >= limit {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			var e Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return fmt.Errorf("decode cache entry %s: %w", it.Item().Key(), err)
			}
			visited++
			if !fn(&e) {
				return nil
			}
		}
		return nil
	})
}

// Len counts live entries.
func (b *BadgerBackend) Len() int {
	n := 0
	_ = b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(entryPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n
}

// Clear drops every cache entry.
func (b *BadgerBackend) Clear(_ context.Context) error {
	return b.db.DropPrefix([]byte(entryPrefix))
}

// Close closes the database.
func (b *BadgerBackend) Close() error {
	return b.db.Close()
}
