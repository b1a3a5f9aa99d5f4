// Package storetest holds the behavior every store backend must share.
// Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/agentrep/internal/address"
	"github.com/ocx/agentrep/internal/store"
)

// Run exercises s. The store must start empty.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	t.Run("CreateGetPutDelete", func(t *testing.T) { testCRUD(t, open(t)) })
	t.Run("CreateTwiceFails", func(t *testing.T) { testCreateTwice(t, open(t)) })
	t.Run("ErrorDiscardsWrites", func(t *testing.T) { testAbort(t, open(t)) })
	t.Run("ReadYourWrites", func(t *testing.T) { testReadYourWrites(t, open(t)) })
	t.Run("ViewIsReadOnly", func(t *testing.T) { testViewReadOnly(t, open(t)) })
	t.Run("ScanByKind", func(t *testing.T) { testScan(t, open(t)) })
	t.Run("ConflictingCreate", func(t *testing.T) { testConflict(t, open(t)) })
}

func addr(b byte) address.Address {
	return address.Address{b, 0xfe, b}
}

func get(t *testing.T, s store.Store, a address.Address) (store.Record, error) {
	t.Helper()
	var rec store.Record
	err := s.View(context.Background(), func(tx store.Txn) error {
		var err error
		rec, err = tx.Get(context.Background(), a)
		return err
	})
	return rec, err
}

func testCRUD(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := addr(1)

	err := s.Update(ctx, func(tx store.Txn) error {
		return tx.Create(ctx, a, store.Record{Kind: store.KindAgent, Data: []byte("v1")})
	})
	require.NoError(t, err)

	rec, err := get(t, s, a)
	require.NoError(t, err)
	assert.Equal(t, store.KindAgent, rec.Kind)
	assert.Equal(t, []byte("v1"), rec.Data)

	err = s.Update(ctx, func(tx store.Txn) error {
		return tx.Put(ctx, a, store.Record{Kind: store.KindAgent, Data: []byte("v2")})
	})
	require.NoError(t, err)
	rec, err = get(t, s, a)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), rec.Data)

	err = s.Update(ctx, func(tx store.Txn) error { return tx.Delete(ctx, a) })
	require.NoError(t, err)
	_, err = get(t, s, a)
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = s.Update(ctx, func(tx store.Txn) error {
		return tx.Put(ctx, a, store.Record{Kind: store.KindAgent, Data: []byte("v3")})
	})
	assert.ErrorIs(t, err, store.ErrNotFound, "put on a missing record")

	err = s.Update(ctx, func(tx store.Txn) error {
		return tx.Create(ctx, a, store.Record{Kind: store.KindAgent, Data: []byte("again")})
	})
	require.NoError(t, err, "a deleted address can be reused")
}

func testCreateTwice(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := addr(2)
	create := func(tx store.Txn) error {
		return tx.Create(ctx, a, store.Record{Kind: store.KindTask, Data: []byte("x")})
	}
	require.NoError(t, s.Update(ctx, create))
	assert.ErrorIs(t, s.Update(ctx, create), store.ErrExists)
}

func testAbort(t *testing.T, s store.Store) {
	ctx := context.Background()
	boom := errors.New("boom")
	err := s.Update(ctx, func(tx store.Txn) error {
		if err := tx.Create(ctx, addr(3), store.Record{Kind: store.KindVouch, Data: []byte("a")}); err != nil {
			return err
		}
		if err := tx.Create(ctx, addr(4), store.Record{Kind: store.KindVouch, Data: []byte("b")}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = get(t, s, addr(3))
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = get(t, s, addr(4))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testReadYourWrites(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := addr(5)
	err := s.Update(ctx, func(tx store.Txn) error {
		if err := tx.Create(ctx, a, store.Record{Kind: store.KindAgent, Data: []byte("staged")}); err != nil {
			return err
		}
		rec, err := tx.Get(ctx, a)
		if err != nil {
			return err
		}
		assert.Equal(t, []byte("staged"), rec.Data)
		if err := tx.Delete(ctx, a); err != nil {
			return err
		}
		_, err = tx.Get(ctx, a)
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
	_, err = get(t, s, a)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testViewReadOnly(t *testing.T, s store.Store) {
	ctx := context.Background()
	err := s.View(ctx, func(tx store.Txn) error {
		return tx.Create(ctx, addr(6), store.Record{Kind: store.KindAgent, Data: []byte("x")})
	})
	assert.Error(t, err)
	_, err = get(t, s, addr(6))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testScan(t *testing.T, s store.Store) {
	ctx := context.Background()
	err := s.Update(ctx, func(tx store.Txn) error {
		for i := byte(10); i < 13; i++ {
			if err := tx.Create(ctx, addr(i), store.Record{Kind: store.KindAgent, Data: []byte{i}}); err != nil {
				return err
			}
		}
		return tx.Create(ctx, addr(20), store.Record{Kind: store.KindTask, Data: []byte{20}})
	})
	require.NoError(t, err)

	var seen []byte
	err = s.View(ctx, func(tx store.Txn) error {
		return tx.Scan(ctx, store.KindAgent, func(_ address.Address, rec store.Record) error {
			seen = append(seen, rec.Data[0])
			return nil
		})
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []byte{10, 11, 12}, seen)
}

// testConflict interleaves two transactions that both create the same
// address. Whichever commits second must not overwrite the first.
func testConflict(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := addr(30)

	err := s.Update(ctx, func(outer store.Txn) error {
		if _, err := outer.Get(ctx, a); !errors.Is(err, store.ErrNotFound) {
			return err
		}
		inner := s.Update(ctx, func(tx store.Txn) error {
			return tx.Create(ctx, a, store.Record{Kind: store.KindAgent, Data: []byte("inner")})
		})
		require.NoError(t, inner)
		return outer.Create(ctx, a, store.Record{Kind: store.KindAgent, Data: []byte("outer")})
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrExists),
		"expected conflict or exists, got %v", err)

	rec, err := get(t, s, a)
	require.NoError(t, err)
	assert.Equal(t, []byte("inner"), rec.Data)
}
