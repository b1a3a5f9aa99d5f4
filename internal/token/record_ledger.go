package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/bits"

	"github.com/ocx/agentrep/internal/address"
	"github.com/ocx/agentrep/internal/store"
	"github.com/ocx/agentrep/internal/wire"
)

// Mint is the state of one token type.
type Mint struct {
	Authority address.Address `json:"authority"`
	Supply    uint64          `json:"supply"`
}

// Account holds one owner's balance of one mint. Program accounts belong to
// a program-derived address and only move under a derived capability.
type Account struct {
	Mint    address.Address `json:"mint"`
	Owner   address.Address `json:"owner"`
	Amount  uint64          `json:"amount"`
	Program bool            `json:"program,omitempty"`
}

// RecordLedger keeps mints and accounts as records. A mint lives at its own
// address; the account for (mint, owner) lives at derive("token", mint, owner),
// created on first credit. A program account lives at
// derive("program_token", mint, owner) and is created by OpenAccount.
type RecordLedger struct {
	deriver *address.Deriver
	logger  *slog.Logger
}

func NewRecordLedger(d *address.Deriver, logger *slog.Logger) *RecordLedger {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordLedger{deriver: d, logger: logger}
}

// AccountAddress is where owner's balance of mint is stored.
func (l *RecordLedger) AccountAddress(mint, owner address.Address) address.Address {
	return l.deriver.Derive(address.NamespaceTokenAccount, mint[:], owner[:])
}

// ProgramAccountAddress is where a program-derived owner's balance of mint
// is stored.
func (l *RecordLedger) ProgramAccountAddress(mint, owner address.Address) address.Address {
	return l.deriver.Derive(address.NamespaceProgramTokens, mint[:], owner[:])
}

// OpenAccount opens the program account for the address owner derives to.
// Opening an open account is a no-op. Signer accounts open on first credit,
// so a signer capability is accepted without doing anything.
func (l *RecordLedger) OpenAccount(ctx context.Context, tx store.Txn, mint address.Address, owner Capability) error {
	if _, err := l.loadMint(ctx, tx, mint); err != nil {
		return err
	}
	if owner.kind != capDerived {
		return nil
	}
	holder := owner.seeds.Address(l.deriver)
	addr := l.ProgramAccountAddress(mint, holder)
	_, err := l.loadAccount(ctx, tx, addr)
	if !errors.Is(err, ErrAccountNotFound) {
		return err
	}
	l.logger.Debug("[TokenLedger] Opened program account", "mint", mint.Short(), "owner", holder.Short(), "seeds", owner.seeds.Namespace)
	return tx.Create(ctx, addr, encodeAccount(&Account{Mint: mint, Owner: holder, Program: true}))
}

// CreateMint registers a new mint whose supply can only be increased by
// authority.
func (l *RecordLedger) CreateMint(ctx context.Context, tx store.Txn, mint, authority address.Address) error {
	err := tx.Create(ctx, mint, encodeMint(&Mint{Authority: authority}))
	if errors.Is(err, store.ErrExists) {
		return ErrMintExists
	}
	return err
}

func (l *RecordLedger) MintTo(ctx context.Context, tx store.Txn, mint, destination address.Address, amount uint64, auth Capability) error {
	m, err := l.loadMint(ctx, tx, mint)
	if err != nil {
		return err
	}
	if err := authorize(l.deriver, auth, m.Authority); err != nil {
		return err
	}

	supply, carry := bits.Add64(m.Supply, amount, 0)
	if carry != 0 {
		return ErrOverflow
	}
	if err := l.credit(ctx, tx, l.AccountAddress(mint, destination), mint, destination, amount); err != nil {
		return err
	}
	m.Supply = supply
	if err := tx.Put(ctx, mint, encodeMint(m)); err != nil {
		return err
	}

	l.logger.Debug("[TokenLedger] Minted", "mint", mint.Short(), "to", destination.Short(), "amount", amount)
	return nil
}

func (l *RecordLedger) Transfer(ctx context.Context, tx store.Txn, mint, from, to address.Address, amount uint64, auth Capability) error {
	if _, err := l.loadMint(ctx, tx, mint); err != nil {
		return err
	}
	if err := authorize(l.deriver, auth, from); err != nil {
		return err
	}

	srcAddr := l.AccountAddress(mint, from)
	if auth.kind == capDerived {
		srcAddr = l.ProgramAccountAddress(mint, from)
	}
	src, err := l.loadAccount(ctx, tx, srcAddr)
	if errors.Is(err, ErrAccountNotFound) {
		if amount == 0 {
			return nil
		}
		return ErrInsufficientFunds
	}
	if err != nil {
		return err
	}
	if src.Amount < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, src.Amount, amount)
	}
	if from == to {
		return nil
	}

	src.Amount -= amount
	if err := tx.Put(ctx, srcAddr, encodeAccount(src)); err != nil {
		return err
	}
	dstAddr, err := l.destination(ctx, tx, mint, to)
	if err != nil {
		return err
	}
	if err := l.credit(ctx, tx, dstAddr, mint, to, amount); err != nil {
		return err
	}

	l.logger.Debug("[TokenLedger] Transferred", "mint", mint.Short(), "from", from.Short(), "to", to.Short(), "amount", amount)
	return nil
}

// Balance returns the signer account balance of owner, zero if it has no
// account.
func (l *RecordLedger) Balance(ctx context.Context, tx store.Txn, mint, owner address.Address) (uint64, error) {
	return l.balanceAt(ctx, tx, l.AccountAddress(mint, owner))
}

// ProgramBalance returns the program account balance of owner, zero if the
// account was never opened.
func (l *RecordLedger) ProgramBalance(ctx context.Context, tx store.Txn, mint, owner address.Address) (uint64, error) {
	return l.balanceAt(ctx, tx, l.ProgramAccountAddress(mint, owner))
}

func (l *RecordLedger) balanceAt(ctx context.Context, tx store.Txn, addr address.Address) (uint64, error) {
	acct, err := l.loadAccount(ctx, tx, addr)
	if errors.Is(err, ErrAccountNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return acct.Amount, nil
}

// Supply returns the total minted amount of mint.
func (l *RecordLedger) Supply(ctx context.Context, tx store.Txn, mint address.Address) (uint64, error) {
	m, err := l.loadMint(ctx, tx, mint)
	if err != nil {
		return 0, err
	}
	return m.Supply, nil
}

// destination picks the account a transfer to owner lands in: the program
// account when one is open, the signer account otherwise.
func (l *RecordLedger) destination(ctx context.Context, tx store.Txn, mint, owner address.Address) (address.Address, error) {
	addr := l.ProgramAccountAddress(mint, owner)
	_, err := l.loadAccount(ctx, tx, addr)
	switch {
	case err == nil:
		return addr, nil
	case errors.Is(err, ErrAccountNotFound):
		return l.AccountAddress(mint, owner), nil
	default:
		return address.Address{}, err
	}
}

func (l *RecordLedger) credit(ctx context.Context, tx store.Txn, addr, mint, owner address.Address, amount uint64) error {
	acct, err := l.loadAccount(ctx, tx, addr)
	if errors.Is(err, ErrAccountNotFound) {
		return tx.Create(ctx, addr, encodeAccount(&Account{Mint: mint, Owner: owner, Amount: amount}))
	}
	if err != nil {
		return err
	}
	sum, carry := bits.Add64(acct.Amount, amount, 0)
	if carry != 0 {
		return ErrOverflow
	}
	acct.Amount = sum
	return tx.Put(ctx, addr, encodeAccount(acct))
}

func (l *RecordLedger) loadMint(ctx context.Context, tx store.Txn, mint address.Address) (*Mint, error) {
	rec, err := tx.Get(ctx, mint)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrMintNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeMint(rec)
}

func (l *RecordLedger) loadAccount(ctx context.Context, tx store.Txn, addr address.Address) (*Account, error) {
	rec, err := tx.Get(ctx, addr)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeAccount(rec)
}

func encodeMint(m *Mint) store.Record {
	var e wire.Encoder
	e.Address(1, m.Authority)
	e.Uint(2, m.Supply)
	return store.Record{Kind: store.KindMint, Data: e.Bytes()}
}

func decodeMint(rec store.Record) (*Mint, error) {
	if rec.Kind != store.KindMint {
		return nil, fmt.Errorf("%w: want mint, have %s", store.ErrCorrupt, rec.Kind)
	}
	var m Mint
	err := wire.Decode(rec.Data, func(f wire.Field) (err error) {
		switch f.Num {
		case 1:
			m.Authority, err = f.Address()
		case 2:
			m.Supply, err = f.Uint()
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrCorrupt, err)
	}
	return &m, nil
}

func encodeAccount(a *Account) store.Record {
	var e wire.Encoder
	e.Address(1, a.Mint)
	e.Address(2, a.Owner)
	e.Uint(3, a.Amount)
	if a.Program {
		e.Bool(4, true)
	}
	return store.Record{Kind: store.KindTokenAccount, Data: e.Bytes()}
}

func decodeAccount(rec store.Record) (*Account, error) {
	if rec.Kind != store.KindTokenAccount {
		return nil, fmt.Errorf("%w: want token account, have %s", store.ErrCorrupt, rec.Kind)
	}
	var a Account
	err := wire.Decode(rec.Data, func(f wire.Field) (err error) {
		switch f.Num {
		case 1:
			a.Mint, err = f.Address()
		case 2:
			a.Owner, err = f.Address()
		case 3:
			a.Amount, err = f.Uint()
		case 4:
			a.Program, err = f.Bool()
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrCorrupt, err)
	}
	return &a, nil
}

var _ Ledger = (*RecordLedger)(nil)
