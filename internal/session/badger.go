package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const keyPrefix = "session/"

// BadgerStore persists session context in a BadgerDB with per-entry TTL.
type BadgerStore struct {
	db  *badger.DB
	ttl time.Duration
	now func() time.Time
}

// BadgerOptions configures OpenBadger.
type BadgerOptions struct {
	// Path is the database directory. Empty opens an in-memory database.
	Path   string
	TTL    time.Duration
	Logger *slog.Logger
}

// OpenBadger opens or creates a session database.
func OpenBadger(o BadgerOptions) (*BadgerStore, error) {
	var opts badger.Options
	if o.Path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(o.Path, 0o750); err != nil {
			return nil, fmt.Errorf("session: create %s: %w", o.Path, err)
		}
		opts = badger.DefaultOptions(o.Path)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if o.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: o.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("session: open badger: %w", err)
	}
	ttl := o.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &BadgerStore{db: db, ttl: ttl, now: time.Now}, nil
}

func (b *BadgerStore) Get(ctx context.Context, id string) (*Context, bool, error) {
	if id == "" {
		return nil, false, ErrEmptyID
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var out Context
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("session: get %s: %w", id, err)
	}
	return &out, true, nil
}

func (b *BadgerStore) Put(ctx context.Context, id string, c Context) error {
	if id == "" {
		return ErrEmptyID
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.UpdatedAt = b.now().UTC()
	val, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("session: encode %s: %w", id, err)
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(keyPrefix+id), val).WithTTL(b.ttl))
	})
	if err != nil {
		return fmt.Errorf("session: put %s: %w", id, err)
	}
	return nil
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}

// badgerLogger routes badger's logging through slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
