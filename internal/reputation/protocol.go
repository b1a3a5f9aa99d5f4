package reputation

import (
	"context"
	"errors"
	"fmt"

	"github.com/ocx/agentrep/internal/address"
	"github.com/ocx/agentrep/internal/events"
	"github.com/ocx/agentrep/internal/store"
)

// InitializeParams are the genesis settings of a deployment.
type InitializeParams struct {
	Authority                address.Address
	ReputationMint           address.Address
	MinReputationForVouching uint64
	DecayRatePerDay          uint64 // basis points
	VouchLockupPeriod        int64  // seconds
}

// Initialize writes the singleton ProtocolConfig. It succeeds exactly once
// per deployment.
func (p *Program) Initialize(ctx context.Context, params InitializeParams) (*ProtocolConfig, error) {
	if params.DecayRatePerDay > 10000 {
		return nil, errorf(ErrInvalidDecayRate, "%d", params.DecayRatePerDay)
	}
	if params.VouchLockupPeriod < 0 {
		return nil, errorf(ErrInvalidLockupPeriod, "%d", params.VouchLockupPeriod)
	}

	cfg := &ProtocolConfig{
		Authority:                params.Authority,
		ReputationMint:           params.ReputationMint,
		MinReputationForVouching: params.MinReputationForVouching,
		DecayRatePerDay:          params.DecayRatePerDay,
		VouchLockupPeriod:        params.VouchLockupPeriod,
	}
	addr := p.deriver.ConfigAddress()

	err := p.update(ctx, "initialize", func(tx store.Txn) error {
		err := tx.Create(ctx, addr, cfg.record())
		if errors.Is(err, store.ErrExists) {
			return ErrAlreadyInitialized
		}
		if err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("[Program] Protocol initialized",
		"authority", cfg.Authority.Short(),
		"mint", cfg.ReputationMint.Short(),
		"decay_rate_per_day", cfg.DecayRatePerDay,
		"lockup", cfg.VouchLockupPeriod)
	p.committed(transition{
		op:        "initialize",
		eventType: events.TypeProtocolInitialized,
		subject:   addr,
		data: map[string]interface{}{
			"authority":                   cfg.Authority.String(),
			"reputation_mint":             cfg.ReputationMint.String(),
			"min_reputation_for_vouching": cfg.MinReputationForVouching,
			"decay_rate_per_day":          cfg.DecayRatePerDay,
			"vouch_lockup_period":         cfg.VouchLockupPeriod,
		},
	})
	return cfg, nil
}
