// Package keeper drives reputation decay from outside the ledger.
//
// ApplyDecay measures from an agent's last activity and does not move that
// timestamp, so calling it again later decays the same idle days twice. The
// keeper therefore decays an agent at most once per activity epoch, after it
// has been idle for IdleDays.
package keeper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ocx/agentrep/internal/address"
	"github.com/ocx/agentrep/internal/reputation"
)

// Program is the part of the ledger the keeper drives.
type Program interface {
	ListAgents(ctx context.Context) ([]*reputation.AgentProfile, error)
	ApplyDecay(ctx context.Context, agent address.Address) (*reputation.DecayResult, error)
}

type Config struct {
	Interval time.Duration
	IdleDays int64
}

// SweepStats summarizes one sweep.
type SweepStats struct {
	Scanned     int
	Decayed     int
	Deactivated int
	Skipped     int
	Failed      int
}

// DecayKeeper periodically sweeps registered agents and decays the idle ones.
type DecayKeeper struct {
	mu      sync.Mutex
	program Program
	config  Config
	clock   reputation.Clock
	logger  *slog.Logger

	// decayed maps an agent to the last-activity timestamp it was decayed at.
	decayed map[address.Address]int64

	stopCh  chan struct{}
	doneCh  chan struct{}
	once    sync.Once
	started atomic.Bool
}

type Option func(*DecayKeeper)

func WithClock(c reputation.Clock) Option { return func(k *DecayKeeper) { k.clock = c } }

func WithLogger(l *slog.Logger) Option { return func(k *DecayKeeper) { k.logger = l } }

func New(p Program, cfg Config, opts ...Option) *DecayKeeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.IdleDays <= 0 {
		cfg.IdleDays = 1
	}
	k := &DecayKeeper{
		program: p,
		config:  cfg,
		clock:   reputation.ClockFunc(time.Now),
		logger:  slog.Default(),
		decayed: make(map[address.Address]int64),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(k)
	}
	k.logger = k.logger.With("component", "keeper")
	return k
}

// Start runs sweeps on the configured interval until Stop or ctx is done.
func (k *DecayKeeper) Start(ctx context.Context) {
	if k.started.Swap(true) {
		return
	}
	go k.run(ctx)
}

// Stop ends the loop and waits for an in-flight sweep to finish.
func (k *DecayKeeper) Stop() {
	k.once.Do(func() { close(k.stopCh) })
	if k.started.Load() {
		<-k.doneCh
	}
}

func (k *DecayKeeper) run(ctx context.Context) {
	defer close(k.doneCh)
	ticker := time.NewTicker(k.config.Interval)
	defer ticker.Stop()

	k.logger.Info("[Keeper] Started decay keeper", "interval", k.config.Interval, "idle_days", k.config.IdleDays)
	for {
		select {
		case <-ticker.C:
			if _, err := k.Sweep(ctx); err != nil {
				k.logger.Error("[Keeper] Sweep failed", "error", err)
			}
		case <-k.stopCh:
			k.logger.Info("[Keeper] Decay keeper stopped")
			return
		case <-ctx.Done():
			k.logger.Info("[Keeper] Decay keeper stopped", "reason", ctx.Err())
			return
		}
	}
}

// Sweep decays every active agent that has been idle for at least IdleDays
// and was not already decayed in its current activity epoch. Failures for
// one agent do not stop the sweep.
func (k *DecayKeeper) Sweep(ctx context.Context) (SweepStats, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	var stats SweepStats
	agents, err := k.program.ListAgents(ctx)
	if err != nil {
		return stats, err
	}
	now := k.clock.Now().Unix()

	for _, agent := range agents {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Scanned++

		if !agent.IsActive || agent.ReputationScore == 0 {
			stats.Skipped++
			continue
		}
		if at, ok := k.decayed[agent.Owner]; ok && at == agent.LastActivityTimestamp {
			stats.Skipped++
			continue
		}
		if reputation.DaysInactive(agent.LastActivityTimestamp, now) < k.config.IdleDays {
			stats.Skipped++
			continue
		}

		res, err := k.program.ApplyDecay(ctx, agent.Owner)
		switch {
		case errors.Is(err, reputation.ErrDecayCooldown):
			stats.Skipped++
			continue
		case err != nil:
			stats.Failed++
			k.logger.Warn("[Keeper] Decay failed", "agent", agent.Owner.Short(), "error", err)
			continue
		}

		k.decayed[agent.Owner] = agent.LastActivityTimestamp
		stats.Decayed++
		if res.Deactivated {
			stats.Deactivated++
		}
	}

	if stats.Decayed > 0 || stats.Failed > 0 {
		k.logger.Info("[Keeper] Sweep complete",
			"scanned", stats.Scanned,
			"decayed", stats.Decayed,
			"deactivated", stats.Deactivated,
			"failed", stats.Failed)
	}
	return stats, nil
}
