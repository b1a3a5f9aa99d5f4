package reputation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/ocx/agentrep/internal/address"
	"github.com/ocx/agentrep/internal/events"
	"github.com/ocx/agentrep/internal/ledger"
	"github.com/ocx/agentrep/internal/store"
	"github.com/ocx/agentrep/internal/store/memory"
	"github.com/ocx/agentrep/internal/token"
)

const (
	testThreshold = 100
	testDecayRate = 1000 // 10% per day
	testLockup    = 7 * 24 * 60 * 60
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	t       *testing.T
	ctx     context.Context
	store   store.Store
	deriver *address.Deriver
	tokens  *token.RecordLedger
	program *Program
	clock   *fakeClock
	bus     *events.Bus
	audit   *ledger.Ledger
	metrics *Metrics
	mint    address.Address
}

type harnessOption func(*harnessSetup)

type harnessSetup struct {
	store      store.Store
	ledger     token.Ledger
	initialize bool
}

func withStore(s store.Store) harnessOption {
	return func(h *harnessSetup) { h.store = s }
}

func withLedger(l token.Ledger) harnessOption {
	return func(h *harnessSetup) { h.ledger = l }
}

func uninitialized() harnessOption {
	return func(h *harnessSetup) { h.initialize = false }
}

// newHarness builds a program over a memory store with a reputation mint
// and, unless told otherwise, an initialized protocol.
func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	setup := harnessSetup{store: memory.New(), initialize: true}
	for _, opt := range opts {
		opt(&setup)
	}

	d := address.NewDeriverFromSeed("reputation-test")
	h := &harness{
		t:       t,
		ctx:     context.Background(),
		store:   setup.store,
		deriver: d,
		tokens:  token.NewRecordLedger(d, nil),
		clock:   newFakeClock(),
		bus:     events.NewBus(64, nil),
		audit:   ledger.NewLedger(),
		metrics: NewMetrics(prometheus.NewRegistry()),
		mint:    d.Derive(address.NamespaceMint, []byte("reputation")),
	}
	l := setup.ledger
	if l == nil {
		l = h.tokens
	}
	h.program = NewProgram(h.store, l, d,
		WithClock(h.clock),
		WithEmitter(h.bus),
		WithAuditLog(h.audit),
		WithMetrics(h.metrics),
	)

	require.NoError(t, h.store.Update(h.ctx, func(tx store.Txn) error {
		return h.tokens.CreateMint(h.ctx, tx, h.mint, d.MintAuthorityAddress())
	}))
	if setup.initialize {
		_, err := h.program.Initialize(h.ctx, InitializeParams{
			Authority:                agentID(0xff),
			ReputationMint:           h.mint,
			MinReputationForVouching: testThreshold,
			DecayRatePerDay:          testDecayRate,
			VouchLockupPeriod:        testLockup,
		})
		require.NoError(t, err)
	}
	return h
}

func agentID(b byte) address.Address {
	var a address.Address
	for i := range a {
		a[i] = b
	}
	return a
}

func (h *harness) register(b byte) address.Address {
	h.t.Helper()
	id := agentID(b)
	_, err := h.program.Register(h.ctx, id, "agent")
	require.NoError(h.t, err)
	return id
}

// registerWithScore registers an agent and credits it score reputation.
func (h *harness) registerWithScore(b byte, score uint64) address.Address {
	h.t.Helper()
	id := h.register(b)
	if score > 0 {
		_, err := h.program.CompleteTask(h.ctx, id, "bootstrap", score)
		require.NoError(h.t, err)
	}
	return id
}

func (h *harness) profile(id address.Address) *AgentProfile {
	h.t.Helper()
	p, err := h.program.GetProfile(h.ctx, id)
	require.NoError(h.t, err)
	return p
}

func (h *harness) balance(owner address.Address) uint64 {
	h.t.Helper()
	var bal uint64
	require.NoError(h.t, h.store.View(h.ctx, func(tx store.Txn) error {
		var err error
		bal, err = h.tokens.Balance(h.ctx, tx, h.mint, owner)
		return err
	}))
	return bal
}

func (h *harness) escrowOf(voucher, target address.Address) address.Address {
	return h.deriver.EscrowAddress(h.deriver.VouchAddress(voucher, target))
}

// escrowBalance is what the vouch's escrow account holds.
func (h *harness) escrowBalance(voucher, target address.Address) uint64 {
	h.t.Helper()
	var bal uint64
	require.NoError(h.t, h.store.View(h.ctx, func(tx store.Txn) error {
		var err error
		bal, err = h.tokens.ProgramBalance(h.ctx, tx, h.mint, h.escrowOf(voucher, target))
		return err
	}))
	return bal
}

// nopLedger accepts every call without moving anything.
type nopLedger struct{}

func (nopLedger) OpenAccount(context.Context, store.Txn, address.Address, token.Capability) error {
	return nil
}

func (nopLedger) MintTo(context.Context, store.Txn, address.Address, address.Address, uint64, token.Capability) error {
	return nil
}

func (nopLedger) Transfer(context.Context, store.Txn, address.Address, address.Address, address.Address, uint64, token.Capability) error {
	return nil
}
