// Package badgerstore keeps ledger records in an embedded BadgerDB.
//
// Key layout:
//
//	r/<address>        -> kind byte || record data
//	k/<kind>/<address> -> empty (kind index used by Scan)
//
// Badger's serializable snapshot isolation provides the compare-and-commit:
// a transaction whose read set was modified by a concurrent commit fails
// with badger.ErrConflict, surfaced as store.ErrConflict.
package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/ocx/agentrep/internal/address"
	"github.com/ocx/agentrep/internal/store"
)

var (
	recordPrefix = []byte("r/")
	kindPrefix   = []byte("k/")
)

// Config holds configuration for a BadgerDB-backed store.
type Config struct {
	// Path is the data directory. Ignored when InMemory is set.
	Path string

	// InMemory runs without disk persistence, for tests.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives badger's internal logging. Nil disables it.
	Logger *slog.Logger
}

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
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is a store.Store over BadgerDB.
type Store struct {
	db *badger.DB
}

// Open opens or creates the database described by cfg.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badgerstore: path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("badgerstore: create directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger.With("component", "badger")})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens a throwaway in-memory store.
func OpenInMemory() (*Store, error) {
	return Open(Config{InMemory: true})
}

func (s *Store) Update(ctx context.Context, fn func(tx store.Txn) error) error {
	err := s.db.Update(func(btx *badger.Txn) error {
		return fn(&txn{btx: btx})
	})
	return mapErr(err)
}

func (s *Store) View(ctx context.Context, fn func(tx store.Txn) error) error {
	err := s.db.View(func(btx *badger.Txn) error {
		return fn(&txn{btx: btx, readOnly: true})
	})
	return mapErr(err)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RunGC triggers one value-log garbage collection pass. Returns nil when
// there was nothing to rewrite.
func (s *Store) RunGC(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrConflict):
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	case errors.Is(err, badger.ErrDBClosed):
		return store.ErrClosed
	default:
		return err
	}
}

func recordKey(addr address.Address) []byte {
	k := make([]byte, 0, len(recordPrefix)+address.Length)
	k = append(k, recordPrefix...)
	return append(k, addr[:]...)
}

func kindKeyPrefix(kind store.Kind) []byte {
	k := make([]byte, 0, len(kindPrefix)+2)
	k = append(k, kindPrefix...)
	return append(k, byte(kind), '/')
}

func kindKey(kind store.Kind, addr address.Address) []byte {
	return append(kindKeyPrefix(kind), addr[:]...)
}

type txn struct {
	btx      *badger.Txn
	readOnly bool
}

func (t *txn) Get(_ context.Context, addr address.Address) (store.Record, error) {
	item, err := t.btx.Get(recordKey(addr))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return store.Record{}, store.ErrNotFound
	}
	if err != nil {
		return store.Record{}, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return store.Record{}, err
	}
	return store.DecodeRecord(raw)
}

func (t *txn) Create(ctx context.Context, addr address.Address, rec store.Record) error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	_, err := t.Get(ctx, addr)
	switch {
	case err == nil:
		return store.ErrExists
	case !errors.Is(err, store.ErrNotFound):
		return err
	}
	return t.write(addr, rec)
}

func (t *txn) Put(ctx context.Context, addr address.Address, rec store.Record) error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	prev, err := t.Get(ctx, addr)
	if err != nil {
		return err
	}
	if prev.Kind != rec.Kind {
		if err := t.btx.Delete(kindKey(prev.Kind, addr)); err != nil {
			return err
		}
	}
	return t.write(addr, rec)
}

func (t *txn) Delete(ctx context.Context, addr address.Address) error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	prev, err := t.Get(ctx, addr)
	if err != nil {
		return err
	}
	if err := t.btx.Delete(recordKey(addr)); err != nil {
		return err
	}
	return t.btx.Delete(kindKey(prev.Kind, addr))
}

func (t *txn) Scan(ctx context.Context, kind store.Kind, fn func(addr address.Address, rec store.Record) error) error {
	prefix := kindKeyPrefix(kind)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix

	it := t.btx.NewIterator(opts)
	var addrs []address.Address
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		a, err := address.BytesToAddress(it.Item().KeyCopy(nil)[len(prefix):])
		if err != nil {
			it.Close()
			return store.ErrCorrupt
		}
		addrs = append(addrs, a)
	}
	it.Close()

	for _, a := range addrs {
		rec, err := t.Get(ctx, a)
		if err != nil {
			return err
		}
		if err := fn(a, rec); err != nil {
			return err
		}
	}
	return nil
}

func (t *txn) write(addr address.Address, rec store.Record) error {
	if err := t.btx.Set(recordKey(addr), store.EncodeRecord(rec)); err != nil {
		return err
	}
	return t.btx.Set(kindKey(rec.Kind, addr), nil)
}

var _ store.Store = (*Store)(nil)
