// Package wire writes and reads the field encoding used for ledger records.
//
// Records are protobuf wire format written by hand: fields in ascending
// number order, zero-valued scalars omitted, addresses always present. The
// same record therefore always encodes to the same bytes. Unknown fields are
// skipped on decode so records can grow new fields.
package wire

import (
	"errors"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ocx/agentrep/internal/address"
)

// ErrMalformed is returned for any input that is not valid wire format or
// carries a field of the wrong type.
var ErrMalformed = errors.New("wire: malformed record")

// Encoder appends fields to a buffer.
type Encoder struct {
	b []byte
}

func (e *Encoder) Uint(num protowire.Number, v uint64) {
	if v == 0 {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.VarintType)
	e.b = protowire.AppendVarint(e.b, v)
}

// Int writes v as a two's-complement varint, like proto int64.
func (e *Encoder) Int(num protowire.Number, v int64) {
	e.Uint(num, uint64(v))
}

func (e *Encoder) Bool(num protowire.Number, v bool) {
	if v {
		e.Uint(num, 1)
	}
}

func (e *Encoder) String(num protowire.Number, s string) {
	if s == "" {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
	e.b = protowire.AppendString(e.b, s)
}

func (e *Encoder) Address(num protowire.Number, a address.Address) {
	e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
	e.b = protowire.AppendBytes(e.b, a[:])
}

func (e *Encoder) Bytes() []byte { return e.b }

// Field is one decoded field. Exactly one of Varint or Raw is meaningful,
// depending on Type.
type Field struct {
	Num    protowire.Number
	Type   protowire.Type
	Varint uint64
	Raw    []byte
}

func (f Field) Uint() (uint64, error) {
	if f.Type != protowire.VarintType {
		return 0, ErrMalformed
	}
	return f.Varint, nil
}

func (f Field) Int() (int64, error) {
	v, err := f.Uint()
	return int64(v), err
}

func (f Field) Bool() (bool, error) {
	v, err := f.Uint()
	return v != 0, err
}

func (f Field) String() (string, error) {
	if f.Type != protowire.BytesType {
		return "", ErrMalformed
	}
	return string(f.Raw), nil
}

func (f Field) Address() (address.Address, error) {
	if f.Type != protowire.BytesType {
		return address.Address{}, ErrMalformed
	}
	a, err := address.BytesToAddress(f.Raw)
	if err != nil {
		return address.Address{}, ErrMalformed
	}
	return a, nil
}

// Decode calls fn for every varint and length-delimited field in b.
// Fields of other wire types are skipped.
func Decode(b []byte, fn func(f Field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return ErrMalformed
		}
		b = b[n:]

		f := Field{Num: num, Type: typ}
		switch typ {
		case protowire.VarintType:
			f.Varint, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			f.Raw, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return ErrMalformed
			}
			b = b[n:]
			continue
		}
		if n < 0 {
			return ErrMalformed
		}
		b = b[n:]
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}
