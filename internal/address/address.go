// Package address implements deterministic record addressing.
//
// Every record the ledger keeps lives at an address computed from a
// namespace tag plus key material. The same inputs always produce the same
// address, so records are re-located by recomputing their address instead
// of following stored pointers.
package address

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// Length is the size of an Address in bytes.
const Length = 32

// Namespace tags used by the ledger. Changing any of these moves every
// record of that kind to a different address.
const (
	NamespaceConfig        = "config"
	NamespaceAgent         = "agent"
	NamespaceTask          = "task"
	NamespaceVouch         = "vouch"
	NamespaceEscrow        = "escrow"
	NamespaceMintAuthority = "mint_authority"
	NamespaceMint          = "mint"
	NamespaceTokenAccount  = "token"
	NamespaceProgramTokens = "program_token"
)

// DefaultProgramSeed seeds the program ID when none is configured.
const DefaultProgramSeed = "agentreputation_dao"

// Address identifies a record or an identity. Agent identities and derived
// record addresses share the same 32-byte space.
type Address [Length]byte

// Zero is the all-zero address.
var Zero Address

// BytesToAddress copies b into an Address. b must be exactly Length bytes.
func BytesToAddress(b []byte) (Address, error) {
	var a Address
	if len(b) != Length {
		return a, fmt.Errorf("address: expected %d bytes, got %d", Length, len(b))
	}
	copy(a[:], b)
	return a, nil
}

// ParseAddress decodes a hex address with or without a 0x prefix.
func ParseAddress(s string) (Address, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, fmt.Errorf("address: invalid hex %q: %w", s, err)
	}
	return BytesToAddress(raw)
}

// MustParse is ParseAddress for constants and tests.
func MustParse(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Bytes returns a copy of the address bytes.
func (a Address) Bytes() []byte {
	b := make([]byte, Length)
	copy(b, a[:])
	return b
}

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool { return a == Zero }

func (a Address) String() string { return hex.EncodeToString(a[:]) }

// Short is a log-friendly prefix of the address.
func (a Address) Short() string { return hex.EncodeToString(a[:4]) }

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Deriver computes addresses for a single program. Two derivers with
// different program IDs never produce overlapping addresses.
type Deriver struct {
	programID Address
}

// NewDeriver returns a deriver bound to programID.
func NewDeriver(programID Address) *Deriver {
	return &Deriver{programID: programID}
}

// NewDeriverFromSeed hashes seed into a program ID.
func NewDeriverFromSeed(seed string) *Deriver {
	return NewDeriver(ProgramIDFromSeed(seed))
}

// ProgramIDFromSeed returns the program ID derived from a human-readable seed.
func ProgramIDFromSeed(seed string) Address {
	var id Address
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(seed))
	h.Sum(id[:0])
	return id
}

// ProgramID returns the program this deriver is bound to.
func (d *Deriver) ProgramID() Address { return d.programID }

// Derive hashes the namespace and parts into an address. Each element is
// length-prefixed so ("ab","c") and ("a","bc") never collide.
func (d *Deriver) Derive(namespace string, parts ...[]byte) Address {
	h := sha3.NewLegacyKeccak256()
	var lenBuf [4]byte

	h.Write(d.programID[:])
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(namespace)))
	h.Write(lenBuf[:])
	h.Write([]byte(namespace))
	for _, p := range parts {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(p)))
		h.Write(lenBuf[:])
		h.Write(p)
	}

	var out Address
	h.Sum(out[:0])
	return out
}

func (d *Deriver) ConfigAddress() Address {
	return d.Derive(NamespaceConfig)
}

func (d *Deriver) AgentAddress(owner Address) Address {
	return d.Derive(NamespaceAgent, owner[:])
}

func (d *Deriver) TaskAddress(taskID string, agent Address) Address {
	return d.Derive(NamespaceTask, []byte(taskID), agent[:])
}

// VouchAddress is order-sensitive: (a, b) and (b, a) are different records.
func (d *Deriver) VouchAddress(voucher, target Address) Address {
	return d.Derive(NamespaceVouch, voucher[:], target[:])
}

func (d *Deriver) EscrowAddress(vouch Address) Address {
	return d.Derive(NamespaceEscrow, vouch[:])
}

func (d *Deriver) MintAuthorityAddress() Address {
	return d.Derive(NamespaceMintAuthority)
}

// Seeds is the input to Derive kept around so a derived address can later
// prove it was produced by this program (see token.Capability).
type Seeds struct {
	Namespace string
	Parts     [][]byte
}

// Address derives the address for these seeds under d.
func (s Seeds) Address(d *Deriver) Address {
	return d.Derive(s.Namespace, s.Parts...)
}

func EscrowSeeds(vouch Address) Seeds {
	return Seeds{Namespace: NamespaceEscrow, Parts: [][]byte{vouch.Bytes()}}
}

func MintAuthoritySeeds() Seeds {
	return Seeds{Namespace: NamespaceMintAuthority}
}
