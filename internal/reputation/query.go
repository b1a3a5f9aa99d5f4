package reputation

import (
	"context"
	"errors"
	"fmt"

	"github.com/ocx/agentrep/internal/address"
	"github.com/ocx/agentrep/internal/store"
)

// GetReputation returns the agent's current score.
func (p *Program) GetReputation(ctx context.Context, agent address.Address) (uint64, error) {
	profile, err := p.GetProfile(ctx, agent)
	if err != nil {
		return 0, err
	}
	return profile.ReputationScore, nil
}

func (p *Program) GetProfile(ctx context.Context, agent address.Address) (*AgentProfile, error) {
	var profile *AgentProfile
	err := p.view(ctx, func(tx store.Txn) error {
		var err error
		profile, err = loadProfile(ctx, tx, p.deriver.AgentAddress(agent))
		return err
	})
	return profile, err
}

func (p *Program) GetConfig(ctx context.Context) (*ProtocolConfig, error) {
	var cfg *ProtocolConfig
	err := p.view(ctx, func(tx store.Txn) error {
		var err error
		cfg, err = loadConfig(ctx, tx, p.deriver.ConfigAddress())
		return err
	})
	return cfg, err
}

// GetVouchRecord returns the open vouch from voucher on target.
func (p *Program) GetVouchRecord(ctx context.Context, voucher, target address.Address) (*VouchRecord, error) {
	var v *VouchRecord
	err := p.view(ctx, func(tx store.Txn) error {
		var err error
		v, err = loadVouch(ctx, tx, p.deriver.VouchAddress(voucher, target))
		return err
	})
	return v, err
}

// GetTaskRecord returns the record of taskID credited to agent. It fails
// with ErrTaskNotFound if the task was never credited.
func (p *Program) GetTaskRecord(ctx context.Context, agent address.Address, taskID string) (*TaskRecord, error) {
	var t *TaskRecord
	err := p.view(ctx, func(tx store.Txn) error {
		rec, err := tx.Get(ctx, p.deriver.TaskAddress(taskID, agent))
		if errors.Is(err, store.ErrNotFound) {
			return errorf(ErrTaskNotFound, "task %q for %s", taskID, agent.Short())
		}
		if err != nil {
			return fmt.Errorf("load task record: %w", err)
		}
		t, err = decodeTaskRecord(rec)
		return err
	})
	return t, err
}

// VouchBonus is CalculateVouchBonus over the agent's stored vouch counts.
func (p *Program) VouchBonus(ctx context.Context, agent address.Address) (int64, error) {
	profile, err := p.GetProfile(ctx, agent)
	if err != nil {
		return 0, err
	}
	return CalculateVouchBonus(profile.PositiveVouches, profile.NegativeVouches), nil
}

// SyncEscrowGauge sets the escrow gauge to the total staked in open
// positive vouches and returns that total.
func (p *Program) SyncEscrowGauge(ctx context.Context) (uint64, error) {
	var total uint64
	err := p.view(ctx, func(tx store.Txn) error {
		return tx.Scan(ctx, store.KindVouch, func(_ address.Address, rec store.Record) error {
			v, err := decodeVouchRecord(rec)
			if err != nil {
				return err
			}
			if v.IsPositive {
				total = saturatingAdd(total, v.Amount)
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	p.metrics.setEscrow(total)
	return total, nil
}

// ListAgents returns every registered profile in address order.
func (p *Program) ListAgents(ctx context.Context) ([]*AgentProfile, error) {
	var out []*AgentProfile
	err := p.view(ctx, func(tx store.Txn) error {
		return tx.Scan(ctx, store.KindAgent, func(_ address.Address, rec store.Record) error {
			profile, err := decodeAgentProfile(rec)
			if err != nil {
				return err
			}
			out = append(out, profile)
			return nil
		})
	})
	return out, err
}
