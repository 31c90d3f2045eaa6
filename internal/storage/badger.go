package storage

import (
	"context"
	"errors"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/weeklyplan/weeklyplan/internal/logging"
)

// BadgerKV is a KV backed by BadgerDB v4.
type BadgerKV struct {
	db *badger.DB
}

// BadgerOptions configures the BadgerDB store.
type BadgerOptions struct {
	// Dir is the directory for BadgerDB data files. Required unless InMemory.
	Dir string

	// InMemory runs BadgerDB without disk persistence.
	InMemory bool

	Logger *logging.Logger
}

// NewBadgerKV opens a BadgerDB-backed store.
func NewBadgerKV(opts BadgerOptions) (*BadgerKV, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("storage: BadgerOptions.Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	log := opts.Logger
	if log == nil {
		log = logging.Default()
	}
	dbOpts = dbOpts.WithLogger(badgerLogger{log.WithField("component", "badger")})

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, err
	}
	return &BadgerKV{db: db}, nil
}

func (b *BadgerKV) Get(_ context.Context, key string) ([]byte, error) {
	var val []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return val, err
}

func (b *BadgerKV) Set(_ context.Context, key string, value []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

func (b *BadgerKV) Delete(_ context.Context, key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

func (b *BadgerKV) Close() error {
	return b.db.Close()
}

// badgerLogger routes badger's warnings and errors to our logger and drops the chatter.
type badgerLogger struct{ log *logging.Logger }

func (l badgerLogger) Errorf(f string, v ...interface{})   { l.log.Error(f, v...) }
func (l badgerLogger) Warningf(f string, v ...interface{}) { l.log.Warn(f, v...) }
func (badgerLogger) Infof(string, ...interface{})          {}
func (badgerLogger) Debugf(string, ...interface{})         {}
