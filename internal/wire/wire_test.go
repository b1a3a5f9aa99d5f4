package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ocx/agentrep/internal/address"
)

func TestEncodeDecode(t *testing.T) {
	a := address.Address{9, 8, 7}
	var e Encoder
	e.Address(1, a)
	e.String(2, "alpha")
	e.Uint(3, 42)
	e.Int(4, -5)
	e.Bool(5, true)

	seen := map[protowire.Number]bool{}
	err := Decode(e.Bytes(), func(f Field) error {
		seen[f.Num] = true
		switch f.Num {
		case 1:
			got, err := f.Address()
			require.NoError(t, err)
			assert.Equal(t, a, got)
		case 2:
			s, err := f.String()
			require.NoError(t, err)
			assert.Equal(t, "alpha", s)
		case 3:
			v, err := f.Uint()
			require.NoError(t, err)
			assert.Equal(t, uint64(42), v)
		case 4:
			v, err := f.Int()
			require.NoError(t, err)
			assert.Equal(t, int64(-5), v)
		case 5:
			v, err := f.Bool()
			require.NoError(t, err)
			assert.True(t, v)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, seen, 5)
}

func TestZeroScalarsOmitted(t *testing.T) {
	var e Encoder
	e.Uint(1, 0)
	e.Int(2, 0)
	e.Bool(3, false)
	e.String(4, "")
	assert.Empty(t, e.Bytes())
}

func TestDeterministic(t *testing.T) {
	enc := func() []byte {
		var e Encoder
		e.Address(1, address.Address{1})
		e.Uint(2, 1000)
		return e.Bytes()
	}
	assert.Equal(t, enc(), enc())
}

func TestDecodeRejectsGarbage(t *testing.T) {
	err := Decode([]byte{0x0a, 0x20, 0x01}, func(Field) error { return nil })
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestWrongTypeIsMalformed(t *testing.T) {
	var e Encoder
	e.Uint(1, 7)
	err := Decode(e.Bytes(), func(f Field) error {
		_, err := f.Address()
		return err
	})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestUnknownWireTypesSkipped(t *testing.T) {
	b := protowire.AppendTag(nil, 9, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, 1)
	var e Encoder
	e.Uint(1, 3)
	b = append(b, e.Bytes()...)

	var got []protowire.Number
	require.NoError(t, Decode(b, func(f Field) error {
		got = append(got, f.Num)
		return nil
	}))
	assert.Equal(t, []protowire.Number{1}, got)
}
