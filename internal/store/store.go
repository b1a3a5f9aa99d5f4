// Package store defines the keyed record store behind the ledger.
//
// Records are opaque byte payloads tagged with a Kind and addressed by an
// address.Address. All access happens inside a transaction: either every
// write staged by an Update commits, or none does. Backends use optimistic
// concurrency; a transaction that observed an address which another
// transaction changed before commit fails with ErrConflict.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ocx/agentrep/internal/address"
)

var (
	ErrNotFound = errors.New("store: record not found")
	ErrExists   = errors.New("store: record already exists")
	ErrConflict = errors.New("store: transaction conflict")
	ErrReadOnly = errors.New("store: write in read-only transaction")
	ErrClosed   = errors.New("store: closed")
	ErrCorrupt  = errors.New("store: corrupt record encoding")
)

// Kind tags the type of a stored record so scans can select one family.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindConfig
	KindAgent
	KindTask
	KindVouch
	KindMint
	KindTokenAccount
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindAgent:
		return "agent"
	case KindTask:
		return "task"
	case KindVouch:
		return "vouch"
	case KindMint:
		return "mint"
	case KindTokenAccount:
		return "token_account"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Record is a stored value.
type Record struct {
	Kind Kind
	Data []byte
}

// Clone returns a deep copy so callers never alias backend memory.
func (r Record) Clone() Record {
	data := make([]byte, len(r.Data))
	copy(data, r.Data)
	return Record{Kind: r.Kind, Data: data}
}

// Txn is the view of the store inside one transaction. Reads observe the
// transaction's own staged writes.
type Txn interface {
	// Get returns ErrNotFound when nothing lives at addr.
	Get(ctx context.Context, addr address.Address) (Record, error)

	// Create stores rec at addr, failing with ErrExists if the address is taken.
	Create(ctx context.Context, addr address.Address, rec Record) error

	// Put replaces an existing record, failing with ErrNotFound if absent.
	Put(ctx context.Context, addr address.Address, rec Record) error

	// Delete closes the record at addr and frees the address.
	Delete(ctx context.Context, addr address.Address) error

	// Scan calls fn for every record of kind in address order.
	Scan(ctx context.Context, kind Kind, fn func(addr address.Address, rec Record) error) error
}

// Store runs transactions.
type Store interface {
	// Update runs fn in a read-write transaction and commits if fn returns
	// nil. Any error from fn discards every staged write.
	Update(ctx context.Context, fn func(tx Txn) error) error

	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(tx Txn) error) error

	Close() error
}

// EncodeRecord flattens a record into kind byte followed by data. Backends
// that keep a single value per key use this layout.
func EncodeRecord(rec Record) []byte {
	out := make([]byte, 1+len(rec.Data))
	out[0] = byte(rec.Kind)
	copy(out[1:], rec.Data)
	return out
}

// DecodeRecord reverses EncodeRecord.
func DecodeRecord(raw []byte) (Record, error) {
	if len(raw) == 0 {
		return Record{}, ErrCorrupt
	}
	data := make([]byte, len(raw)-1)
	copy(data, raw[1:])
	return Record{Kind: Kind(raw[0]), Data: data}, nil
}
