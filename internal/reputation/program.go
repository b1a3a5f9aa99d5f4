// Package reputation implements the agent reputation ledger: registration,
// task credit, escrowed vouching and time decay.
//
// Every mutating operation runs as one store transaction. Addresses are
// derived, records are loaded and checked, new state and the single token
// ledger call are staged in the same transaction, and the whole unit commits
// or nothing does. Audit entries, metrics, logs and events happen only after
// a successful commit.
package reputation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ocx/agentrep/internal/address"
	"github.com/ocx/agentrep/internal/events"
	"github.com/ocx/agentrep/internal/ledger"
	"github.com/ocx/agentrep/internal/store"
	"github.com/ocx/agentrep/internal/token"
)

// Clock supplies the ledger's notion of now. Only whole seconds are used.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// Program executes ledger operations against a record store and a token
// ledger. It holds no ledger state of its own and is safe for concurrent
// use; concurrent operations on the same records surface store.ErrConflict.
type Program struct {
	store   store.Store
	tokens  token.Ledger
	deriver *address.Deriver
	clock   Clock
	logger  *slog.Logger
	emitter events.Emitter
	audit   *ledger.Ledger
	metrics *Metrics
}

type Option func(*Program)

func WithClock(c Clock) Option { return func(p *Program) { p.clock = c } }

func WithLogger(l *slog.Logger) Option { return func(p *Program) { p.logger = l } }

// WithEmitter publishes an event for every committed transition.
func WithEmitter(e events.Emitter) Option { return func(p *Program) { p.emitter = e } }

// WithAuditLog appends every committed transition to l.
func WithAuditLog(l *ledger.Ledger) Option { return func(p *Program) { p.audit = l } }

func WithMetrics(m *Metrics) Option { return func(p *Program) { p.metrics = m } }

func NewProgram(s store.Store, tokens token.Ledger, d *address.Deriver, opts ...Option) *Program {
	p := &Program{
		store:   s,
		tokens:  tokens,
		deriver: d,
		clock:   ClockFunc(time.Now),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "reputation")
	return p
}

// Deriver returns the address deriver the program was built with.
func (p *Program) Deriver() *address.Deriver { return p.deriver }

// Now is the program clock's current time.
func (p *Program) Now() time.Time { return p.clock.Now() }

func (p *Program) now() int64 {
	return p.clock.Now().Unix()
}

// transition describes a committed state change for the post-commit hooks.
type transition struct {
	op        string
	eventType string
	subject   address.Address
	data      map[string]interface{}
}

// committed runs the side effects that must only follow a successful commit.
func (p *Program) committed(t transition) {
	if p.audit != nil {
		p.audit.Append(t.op, t.subject.String(), fmt.Sprint(t.data))
	}
	if p.emitter != nil {
		p.emitter.Emit(t.eventType, t.subject.String(), t.data)
	}
}

// update runs fn in a read-write transaction and records its outcome.
func (p *Program) update(ctx context.Context, op string, fn func(tx store.Txn) error) error {
	start := time.Now()
	err := p.store.Update(ctx, fn)
	p.metrics.observe(op, start, err)
	if err != nil {
		p.logger.Debug("[Program] Operation rejected", "op", op, "error", err)
	}
	return err
}

func (p *Program) view(ctx context.Context, fn func(tx store.Txn) error) error {
	return p.store.View(ctx, fn)
}
