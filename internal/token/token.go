// Package token is the fungible-token ledger the reputation program mints
// into and escrows through.
//
// The program only depends on the Ledger interface. RecordLedger implements
// it on top of the same record store the program uses, so token movements
// commit or abort together with the rest of an operation.
package token

import (
	"context"
	"errors"
	"fmt"

	"github.com/ocx/agentrep/internal/address"
	"github.com/ocx/agentrep/internal/store"
)

var (
	ErrUnauthorized      = errors.New("token: capability does not hold the required authority")
	ErrInsufficientFunds = errors.New("token: insufficient funds")
	ErrOverflow          = errors.New("token: amount overflows balance")
	ErrMintNotFound      = errors.New("token: mint not found")
	ErrMintExists        = errors.New("token: mint already exists")
	ErrAccountNotFound   = errors.New("token: account not found")
)

// Ledger moves tokens. tx is the caller's open store transaction; an
// implementation that keeps state in the same store must stage its writes
// there so they share the caller's fate.
//
// Accounts owned by an authenticated identity and accounts owned by a
// program-derived address are kept apart even when the two addresses are
// equal: OpenAccount opens the program-owned one, Transfer credits it once
// open, and only a derived capability can spend from it.
type Ledger interface {
	OpenAccount(ctx context.Context, tx store.Txn, mint address.Address, owner Capability) error
	MintTo(ctx context.Context, tx store.Txn, mint, destination address.Address, amount uint64, auth Capability) error
	Transfer(ctx context.Context, tx store.Txn, mint, from, to address.Address, amount uint64, auth Capability) error
}

type capabilityKind uint8

const (
	capSigner capabilityKind = iota + 1
	capDerived
)

// Capability is the authority a ledger call runs with. A signer capability
// stands for an identity whose transaction was authenticated upstream. A
// derived capability names the seeds of a program-derived address; the
// ledger re-derives the address and only accepts it where that exact address
// is the required authority.
type Capability struct {
	kind   capabilityKind
	signer address.Address
	seeds  address.Seeds
}

// Signer returns a capability for an authenticated identity.
func Signer(id address.Address) Capability {
	return Capability{kind: capSigner, signer: id}
}

// Derived returns a capability for the address derived from seeds.
func Derived(seeds address.Seeds) Capability {
	return Capability{kind: capDerived, seeds: seeds}
}

// Authority resolves the address this capability acts as. The zero
// Capability resolves to nothing.
func (c Capability) Authority(d *address.Deriver) (address.Address, bool) {
	switch c.kind {
	case capSigner:
		return c.signer, true
	case capDerived:
		return c.seeds.Address(d), true
	default:
		return address.Address{}, false
	}
}

func (c Capability) String() string {
	switch c.kind {
	case capSigner:
		return "signer:" + c.signer.Short()
	case capDerived:
		return "derived:" + c.seeds.Namespace
	default:
		return "none"
	}
}

// authorize fails unless c resolves to exactly want.
func authorize(d *address.Deriver, c Capability, want address.Address) error {
	got, ok := c.Authority(d)
	if !ok || got != want {
		return fmt.Errorf("%w: %s is not %s", ErrUnauthorized, c, want.Short())
	}
	return nil
}

// FailingLedger rejects every call with Err.
type FailingLedger struct {
	Err error
}

func (f FailingLedger) OpenAccount(context.Context, store.Txn, address.Address, Capability) error {
	return f.Err
}

func (f FailingLedger) MintTo(context.Context, store.Txn, address.Address, address.Address, uint64, Capability) error {
	return f.Err
}

func (f FailingLedger) Transfer(context.Context, store.Txn, address.Address, address.Address, address.Address, uint64, Capability) error {
	return f.Err
}
