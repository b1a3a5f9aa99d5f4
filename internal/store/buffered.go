package store

import (
	"bytes"
	"context"
	"sort"

	"github.com/ocx/agentrep/internal/address"
)

// Reader is the backend half of a BufferedTxn: it loads committed state and
// is responsible for remembering what it observed for conflict checks.
type Reader interface {
	Load(ctx context.Context, addr address.Address) (Record, bool, error)
	LoadKind(ctx context.Context, kind Kind, fn func(addr address.Address, rec Record) error) error
}

// Write is one staged mutation. For deletes Record holds the value being
// removed so backends can clean up kind indexes.
type Write struct {
	Addr   address.Address
	Record Record
	Delete bool
}

// BufferedTxn implements Txn over a Reader by staging writes in memory until
// the backend commits them. Backends without native read-your-writes
// (memory, redis, spanner) share it.
type BufferedTxn struct {
	r        Reader
	readOnly bool
	writes   map[address.Address]*Write
	order    []address.Address
}

func NewBufferedTxn(r Reader, readOnly bool) *BufferedTxn {
	return &BufferedTxn{
		r:        r,
		readOnly: readOnly,
		writes:   make(map[address.Address]*Write),
	}
}

func (t *BufferedTxn) Get(ctx context.Context, addr address.Address) (Record, error) {
	if w, ok := t.writes[addr]; ok {
		if w.Delete {
			return Record{}, ErrNotFound
		}
		return w.Record.Clone(), nil
	}
	rec, found, err := t.r.Load(ctx, addr)
	if err != nil {
		return Record{}, err
	}
	if !found {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (t *BufferedTxn) Create(ctx context.Context, addr address.Address, rec Record) error {
	if t.readOnly {
		return ErrReadOnly
	}
	_, err := t.Get(ctx, addr)
	switch {
	case err == nil:
		return ErrExists
	case err != ErrNotFound:
		return err
	}
	t.stage(&Write{Addr: addr, Record: rec.Clone()})
	return nil
}

func (t *BufferedTxn) Put(ctx context.Context, addr address.Address, rec Record) error {
	if t.readOnly {
		return ErrReadOnly
	}
	if _, err := t.Get(ctx, addr); err != nil {
		return err
	}
	t.stage(&Write{Addr: addr, Record: rec.Clone()})
	return nil
}

func (t *BufferedTxn) Delete(ctx context.Context, addr address.Address) error {
	if t.readOnly {
		return ErrReadOnly
	}
	prev, err := t.Get(ctx, addr)
	if err != nil {
		return err
	}
	t.stage(&Write{Addr: addr, Record: prev, Delete: true})
	return nil
}

func (t *BufferedTxn) Scan(ctx context.Context, kind Kind, fn func(addr address.Address, rec Record) error) error {
	merged := make(map[address.Address]Record)
	err := t.r.LoadKind(ctx, kind, func(addr address.Address, rec Record) error {
		merged[addr] = rec
		return nil
	})
	if err != nil {
		return err
	}
	for addr, w := range t.writes {
		if w.Delete || w.Record.Kind != kind {
			delete(merged, addr)
			continue
		}
		merged[addr] = w.Record.Clone()
	}

	addrs := make([]address.Address, 0, len(merged))
	for addr := range merged {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool {
		return bytes.Compare(addrs[i][:], addrs[j][:]) < 0
	})
	for _, addr := range addrs {
		if err := fn(addr, merged[addr]); err != nil {
			return err
		}
	}
	return nil
}

// Writes returns the staged mutations in first-touch order. A record created
// and deleted in the same transaction is reported as a delete.
func (t *BufferedTxn) Writes() []Write {
	out := make([]Write, 0, len(t.order))
	for _, addr := range t.order {
		out = append(out, *t.writes[addr])
	}
	return out
}

func (t *BufferedTxn) stage(w *Write) {
	if _, seen := t.writes[w.Addr]; !seen {
		t.order = append(t.order, w.Addr)
	}
	t.writes[w.Addr] = w
}
