// Package memory is an in-process record store: a map arena keyed by
// address with versioned entries and optimistic commit.
package memory

import (
	"context"
	"sync"

	"github.com/ocx/agentrep/internal/address"
	"github.com/ocx/agentrep/internal/store"
)

type entry struct {
	rec     store.Record
	version uint64
}

// Store keeps every record in memory. Each committed write stamps the entry
// with a fresh version from a monotonic counter, so a record that is deleted
// and recreated never looks unchanged to an older transaction.
type Store struct {
	mu      sync.RWMutex
	records map[address.Address]entry
	seq     uint64
	closed  bool
}

func New() *Store {
	return &Store{records: make(map[address.Address]entry)}
}

// reader records the version of every address it observes; 0 means absent.
type reader struct {
	s     *Store
	reads map[address.Address]uint64
}

func (r *reader) Load(_ context.Context, addr address.Address) (store.Record, bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if r.s.closed {
		return store.Record{}, false, store.ErrClosed
	}

	e, ok := r.s.records[addr]
	if _, seen := r.reads[addr]; !seen {
		r.reads[addr] = e.version
	}
	if !ok {
		return store.Record{}, false, nil
	}
	return e.rec.Clone(), true, nil
}

func (r *reader) LoadKind(_ context.Context, kind store.Kind, fn func(addr address.Address, rec store.Record) error) error {
	r.s.mu.RLock()
	matches := make(map[address.Address]store.Record)
	for addr, e := range r.s.records {
		if e.rec.Kind != kind {
			continue
		}
		if _, seen := r.reads[addr]; !seen {
			r.reads[addr] = e.version
		}
		matches[addr] = e.rec.Clone()
	}
	closed := r.s.closed
	r.s.mu.RUnlock()
	if closed {
		return store.ErrClosed
	}

	for addr, rec := range matches {
		if err := fn(addr, rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Update(ctx context.Context, fn func(tx store.Txn) error) error {
	r := &reader{s: s, reads: make(map[address.Address]uint64)}
	tx := store.NewBufferedTxn(r, false)
	if err := fn(tx); err != nil {
		return err
	}
	return s.commit(r.reads, tx.Writes())
}

func (s *Store) View(ctx context.Context, fn func(tx store.Txn) error) error {
	r := &reader{s: s, reads: make(map[address.Address]uint64)}
	return fn(store.NewBufferedTxn(r, true))
}

func (s *Store) commit(reads map[address.Address]uint64, writes []store.Write) error {
	if len(writes) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}

	for addr, seen := range reads {
		if s.records[addr].version != seen {
			return store.ErrConflict
		}
	}
	for _, w := range writes {
		if w.Delete {
			delete(s.records, w.Addr)
			continue
		}
		s.seq++
		s.records[w.Addr] = entry{rec: w.Record.Clone(), version: s.seq}
	}
	return nil
}

// Len reports how many records are live.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ store.Store = (*Store)(nil)
