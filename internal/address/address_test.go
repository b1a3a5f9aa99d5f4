package address

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveDeterministic(t *testing.T) {
	d := NewDeriverFromSeed(DefaultProgramSeed)
	owner := Address{1, 2, 3}

	a1 := d.AgentAddress(owner)
	a2 := NewDeriverFromSeed(DefaultProgramSeed).AgentAddress(owner)
	assert.Equal(t, a1, a2, "same inputs must give the same address")
	assert.False(t, a1.IsZero())
}

func TestDeriveSeparatesInputs(t *testing.T) {
	d := NewDeriverFromSeed(DefaultProgramSeed)
	a := Address{0xaa}
	b := Address{0xbb}

	assert.NotEqual(t, d.VouchAddress(a, b), d.VouchAddress(b, a), "vouch pairs are ordered")
	assert.NotEqual(t, d.AgentAddress(a), d.AgentAddress(b))
	assert.NotEqual(t, d.Derive("x", []byte("ab"), []byte("c")), d.Derive("x", []byte("a"), []byte("bc")))
	assert.NotEqual(t, d.Derive("agent", a[:]), d.Derive("task", a[:]))
	assert.NotEqual(t, d.TaskAddress("t-1", a), d.TaskAddress("t-2", a))
}

func TestDeriveProgramIsolation(t *testing.T) {
	owner := Address{7}
	d1 := NewDeriverFromSeed("program-one")
	d2 := NewDeriverFromSeed("program-two")
	assert.NotEqual(t, d1.AgentAddress(owner), d2.AgentAddress(owner))
}

func TestSeedsMatchDerive(t *testing.T) {
	d := NewDeriverFromSeed(DefaultProgramSeed)
	vouch := d.VouchAddress(Address{1}, Address{2})

	assert.Equal(t, d.EscrowAddress(vouch), EscrowSeeds(vouch).Address(d))
	assert.Equal(t, d.MintAuthorityAddress(), MintAuthoritySeeds().Address(d))
}

func TestParseAddress(t *testing.T) {
	d := NewDeriverFromSeed(DefaultProgramSeed)
	addr := d.ConfigAddress()

	parsed, err := ParseAddress(addr.String())
	require.NoError(t, err)
	assert.Equal(t, addr, parsed)

	parsed, err = ParseAddress("0x" + addr.String())
	require.NoError(t, err)
	assert.Equal(t, addr, parsed)

	_, err = ParseAddress("zz")
	assert.Error(t, err)
	_, err = ParseAddress("abcd")
	assert.Error(t, err)
}

func TestTextRoundTrip(t *testing.T) {
	want := Address{9, 9, 9}
	text, err := want.MarshalText()
	require.NoError(t, err)

	var got Address
	require.NoError(t, got.UnmarshalText(text))
	assert.Equal(t, want, got)
}
