// Package spannerstore keeps ledger records in Cloud Spanner. The database
// must already hold the tables in DDL.
//
// Reads inside ReadWriteTransaction take Spanner locks, so a concurrent
// writer aborts one side. The client retries aborted transactions itself by
// re-running the callback, which means the callback must stay free of side
// effects outside the transaction.
package spannerstore

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/spanner"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"

	"github.com/ocx/agentrep/internal/address"
	"github.com/ocx/agentrep/internal/store"
)

const table = "LedgerRecords"

// DDL creates the records table and its kind index.
var DDL = []string{
	`CREATE TABLE LedgerRecords (
		Address BYTES(32) NOT NULL,
		Kind    INT64 NOT NULL,
		Data    BYTES(MAX) NOT NULL,
	) PRIMARY KEY (Address)`,
	`CREATE INDEX LedgerRecordsByKind ON LedgerRecords(Kind, Address)`,
}

var columns = []string{"Address", "Kind", "Data"}

// Config identifies the Spanner database.
type Config struct {
	Project  string
	Instance string
	Database string
}

func (c Config) path() string {
	return fmt.Sprintf("projects/%s/instances/%s/databases/%s", c.Project, c.Instance, c.Database)
}

// Store is a store.Store over a Spanner client.
type Store struct {
	client *spanner.Client
	logger *slog.Logger
}

// Open creates a Spanner client for cfg.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Project == "" || cfg.Instance == "" || cfg.Database == "" {
		return nil, fmt.Errorf("spannerstore: project, instance and database are required")
	}
	client, err := spanner.NewClient(ctx, cfg.path())
	if err != nil {
		return nil, fmt.Errorf("spannerstore: create client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("[SpannerStore] Connected", "database", cfg.path())
	return &Store{client: client, logger: logger}, nil
}

func (s *Store) Update(ctx context.Context, fn func(tx store.Txn) error) error {
	_, err := s.client.ReadWriteTransaction(ctx, func(ctx context.Context, rwt *spanner.ReadWriteTransaction) error {
		btx := store.NewBufferedTxn(&reader{rt: rwt}, false)
		if err := fn(btx); err != nil {
			return err
		}
		writes := btx.Writes()
		if len(writes) == 0 {
			return nil
		}
		muts := make([]*spanner.Mutation, 0, len(writes))
		for _, w := range writes {
			if w.Delete {
				muts = append(muts, spanner.Delete(table, spanner.Key{w.Addr.Bytes()}))
				continue
			}
			muts = append(muts, spanner.InsertOrUpdate(table, columns,
				[]interface{}{w.Addr.Bytes(), int64(w.Record.Kind), w.Record.Data}))
		}
		return rwt.BufferWrite(muts)
	})
	if spanner.ErrCode(err) == codes.Aborted {
		s.logger.Debug("[SpannerStore] Transaction aborted after retries")
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	}
	return err
}

func (s *Store) View(ctx context.Context, fn func(tx store.Txn) error) error {
	ro := s.client.ReadOnlyTransaction()
	defer ro.Close()
	return fn(store.NewBufferedTxn(&reader{rt: ro}, true))
}

func (s *Store) Close() error {
	s.client.Close()
	return nil
}

// rowReader is the read surface shared by read-only and read-write
// transactions.
type rowReader interface {
	ReadRow(ctx context.Context, table string, key spanner.Key, columns []string) (*spanner.Row, error)
	Query(ctx context.Context, statement spanner.Statement) *spanner.RowIterator
}

type reader struct {
	rt rowReader
}

func (r *reader) Load(ctx context.Context, addr address.Address) (store.Record, bool, error) {
	row, err := r.rt.ReadRow(ctx, table, spanner.Key{addr.Bytes()}, []string{"Kind", "Data"})
	if spanner.ErrCode(err) == codes.NotFound {
		return store.Record{}, false, nil
	}
	if err != nil {
		return store.Record{}, false, err
	}
	var kind int64
	var data []byte
	if err := row.Columns(&kind, &data); err != nil {
		return store.Record{}, false, err
	}
	return store.Record{Kind: store.Kind(kind), Data: data}, true, nil
}

func (r *reader) LoadKind(ctx context.Context, kind store.Kind, fn func(addr address.Address, rec store.Record) error) error {
	stmt := spanner.Statement{
		SQL:    `SELECT Address, Data FROM LedgerRecords WHERE Kind = @kind ORDER BY Address`,
		Params: map[string]interface{}{"kind": int64(kind)},
	}
	iter := r.rt.Query(ctx, stmt)
	defer iter.Stop()

	for {
		row, err := iter.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return err
		}
		var raw, data []byte
		if err := row.Columns(&raw, &data); err != nil {
			return err
		}
		addr, err := address.BytesToAddress(raw)
		if err != nil {
			return store.ErrCorrupt
		}
		if err := fn(addr, store.Record{Kind: kind, Data: data}); err != nil {
			return err
		}
	}
}

var _ store.Store = (*Store)(nil)
