// Package redisstore keeps ledger records in Redis.
//
// Transactions use WATCH/MULTI: every key a transaction reads is watched,
// writes are staged and sent in one MULTI/EXEC block, and EXEC aborts if a
// watched key changed. go-redis reports that as redis.TxFailedErr, which is
// surfaced as store.ErrConflict.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ocx/agentrep/internal/address"
	"github.com/ocx/agentrep/internal/store"
)

// Config holds Redis connection settings.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string // namespaces every key, e.g. "agentrep:"
}

// Store is a store.Store over a Redis server.
type Store struct {
	rdb    *redis.Client
	prefix string
	logger *slog.Logger
}

// Open connects and pings the server.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redisstore: ping %s: %w", cfg.Addr, err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("[RedisStore] Connected", "addr", cfg.Addr, "db", cfg.DB)
	return New(rdb, cfg.KeyPrefix, logger), nil
}

// New wraps an existing client.
func New(rdb *redis.Client, keyPrefix string, logger *slog.Logger) *Store {
	if keyPrefix == "" {
		keyPrefix = "agentrep:"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{rdb: rdb, prefix: keyPrefix, logger: logger}
}

func (s *Store) recordKey(addr address.Address) string {
	return s.prefix + "rec:" + addr.String()
}

func (s *Store) kindKey(kind store.Kind) string {
	return fmt.Sprintf("%skind:%d", s.prefix, uint8(kind))
}

func (s *Store) Update(ctx context.Context, fn func(tx store.Txn) error) error {
	err := s.rdb.Watch(ctx, func(rtx *redis.Tx) error {
		r := &reader{s: s, cmd: rtx, watch: rtx}
		btx := store.NewBufferedTxn(r, false)
		if err := fn(btx); err != nil {
			return err
		}

		writes := btx.Writes()
		if len(writes) == 0 {
			return nil
		}
		_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, w := range writes {
				member := w.Addr.String()
				if w.Delete {
					pipe.Del(ctx, s.recordKey(w.Addr))
					pipe.SRem(ctx, s.kindKey(w.Record.Kind), member)
					continue
				}
				pipe.Set(ctx, s.recordKey(w.Addr), store.EncodeRecord(w.Record), 0)
				pipe.SAdd(ctx, s.kindKey(w.Record.Kind), member)
			}
			return nil
		})
		return err
	})
	if errors.Is(err, redis.TxFailedErr) {
		s.logger.Debug("[RedisStore] Watched key changed, transaction aborted")
		return store.ErrConflict
	}
	return err
}

func (s *Store) View(ctx context.Context, fn func(tx store.Txn) error) error {
	return fn(store.NewBufferedTxn(&reader{s: s, cmd: s.rdb}, true))
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

// reader loads committed values. During Update it watches every key before
// reading it so EXEC detects concurrent changes.
type reader struct {
	s     *Store
	cmd   getter
	watch *redis.Tx
}

// getter is the read surface shared by *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
}

func (r *reader) Load(ctx context.Context, addr address.Address) (store.Record, bool, error) {
	key := r.s.recordKey(addr)
	if r.watch != nil {
		if err := r.watch.Watch(ctx, key).Err(); err != nil {
			return store.Record{}, false, err
		}
	}
	raw, err := r.cmd.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return store.Record{}, false, nil
	}
	if err != nil {
		return store.Record{}, false, err
	}
	rec, err := store.DecodeRecord(raw)
	if err != nil {
		return store.Record{}, false, err
	}
	return rec, true, nil
}

func (r *reader) LoadKind(ctx context.Context, kind store.Kind, fn func(addr address.Address, rec store.Record) error) error {
	members, err := r.cmd.SMembers(ctx, r.s.kindKey(kind)).Result()
	if err != nil {
		return err
	}
	for _, m := range members {
		addr, err := address.ParseAddress(m)
		if err != nil {
			return store.ErrCorrupt
		}
		rec, found, err := r.Load(ctx, addr)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		if err := fn(addr, rec); err != nil {
			return err
		}
	}
	return nil
}

var _ store.Store = (*Store)(nil)
