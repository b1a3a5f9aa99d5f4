// Package pgstore keeps ledger records in PostgreSQL.
//
// Every Update runs in a SERIALIZABLE transaction, so Postgres itself
// provides the compare-and-commit: a transaction that would violate
// serializability fails with SQLSTATE 40001, surfaced as store.ErrConflict.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/ocx/agentrep/internal/address"
	"github.com/ocx/agentrep/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS ledger_records (
	address BYTEA PRIMARY KEY,
	kind    SMALLINT NOT NULL,
	data    BYTEA NOT NULL
);
CREATE INDEX IF NOT EXISTS ledger_records_kind_idx ON ledger_records (kind, address);
`

// SQLSTATE codes we translate.
const (
	serializationFailure = "40001"
	deadlockDetected     = "40P01"
)

// Store is a store.Store over a *sql.DB opened with the "postgres" driver.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open connects with lib/pq and applies the schema.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	s := New(db, logger)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func New(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Migrate creates the records table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("pgstore: migrate: %w", err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, fn func(tx store.Txn) error) error {
	return s.run(ctx, false, fn)
}

func (s *Store) View(ctx context.Context, fn func(tx store.Txn) error) error {
	return s.run(ctx, true, fn)
}

func (s *Store) run(ctx context.Context, readOnly bool, fn func(tx store.Txn) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable, ReadOnly: readOnly})
	if err != nil {
		return mapErr(fmt.Errorf("pgstore: begin: %w", err))
	}

	if err := fn(&txn{tx: sqlTx, readOnly: readOnly}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Warn("[PGStore] Rollback failed", "error", rbErr)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return mapErr(err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func mapErr(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case serializationFailure, deadlockDetected:
			return fmt.Errorf("%w: %v", store.ErrConflict, err)
		}
	}
	return err
}

type txn struct {
	tx       *sql.Tx
	readOnly bool
}

func (t *txn) Get(ctx context.Context, addr address.Address) (store.Record, error) {
	var kind int16
	var data []byte
	err := t.tx.QueryRowContext(ctx,
		`SELECT kind, data FROM ledger_records WHERE address = $1`, addr[:]).Scan(&kind, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, store.ErrNotFound
	}
	if err != nil {
		return store.Record{}, mapErr(err)
	}
	return store.Record{Kind: store.Kind(kind), Data: data}, nil
}

// Create relies on ON CONFLICT so a taken address does not poison the
// surrounding transaction the way a unique violation would.
func (t *txn) Create(ctx context.Context, addr address.Address, rec store.Record) error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO ledger_records (address, kind, data) VALUES ($1, $2, $3) ON CONFLICT (address) DO NOTHING`,
		addr[:], int16(rec.Kind), rec.Data)
	if err != nil {
		return mapErr(err)
	}
	return expectOne(res, store.ErrExists)
}

func (t *txn) Put(ctx context.Context, addr address.Address, rec store.Record) error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE ledger_records SET kind = $2, data = $3 WHERE address = $1`,
		addr[:], int16(rec.Kind), rec.Data)
	if err != nil {
		return mapErr(err)
	}
	return expectOne(res, store.ErrNotFound)
}

func (t *txn) Delete(ctx context.Context, addr address.Address) error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	res, err := t.tx.ExecContext(ctx, `DELETE FROM ledger_records WHERE address = $1`, addr[:])
	if err != nil {
		return mapErr(err)
	}
	return expectOne(res, store.ErrNotFound)
}

func (t *txn) Scan(ctx context.Context, kind store.Kind, fn func(addr address.Address, rec store.Record) error) error {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT address, data FROM ledger_records WHERE kind = $1 ORDER BY address`, int16(kind))
	if err != nil {
		return mapErr(err)
	}

	type row struct {
		addr address.Address
		data []byte
	}
	var batch []row
	for rows.Next() {
		var raw, data []byte
		if err := rows.Scan(&raw, &data); err != nil {
			rows.Close()
			return err
		}
		a, err := address.BytesToAddress(raw)
		if err != nil {
			rows.Close()
			return store.ErrCorrupt
		}
		batch = append(batch, row{addr: a, data: data})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return mapErr(err)
	}
	rows.Close()

	// fn may issue statements on the same transaction, so the cursor is
	// drained before calling it.
	for _, r := range batch {
		if err := fn(r.addr, store.Record{Kind: kind, Data: r.data}); err != nil {
			return err
		}
	}
	return nil
}

func expectOne(res sql.Result, none error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return none
	}
	return nil
}

var _ store.Store = (*Store)(nil)
