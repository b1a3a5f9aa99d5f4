package reputation

import (
	"context"
	"errors"
	"fmt"

	"github.com/ocx/agentrep/internal/address"
	"github.com/ocx/agentrep/internal/events"
	"github.com/ocx/agentrep/internal/store"
	"github.com/ocx/agentrep/internal/token"
)

// VouchPhase is where a vouch sits in its lifecycle.
type VouchPhase int

const (
	// VouchLocked: created, lockup still running.
	VouchLocked VouchPhase = iota + 1
	// VouchWithdrawable: lockup elapsed, record still open.
	VouchWithdrawable
	// VouchClosed: withdrawn, address reclaimed. Terminal.
	VouchClosed
)

func (s VouchPhase) String() string {
	switch s {
	case VouchLocked:
		return "locked"
	case VouchWithdrawable:
		return "withdrawable"
	case VouchClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// VouchState reports the phase of v at now. A nil record is closed.
func VouchState(v *VouchRecord, cfg *ProtocolConfig, now int64) VouchPhase {
	if v == nil {
		return VouchClosed
	}
	if saturatingSubInt64(now, v.CreatedAt) < cfg.VouchLockupPeriod {
		return VouchLocked
	}
	return VouchWithdrawable
}

// WithdrawableAt is the first unix second at which v may be withdrawn.
func WithdrawableAt(v *VouchRecord, cfg *ProtocolConfig) (int64, error) {
	at := v.CreatedAt + cfg.VouchLockupPeriod
	if cfg.VouchLockupPeriod > 0 && at < v.CreatedAt {
		return 0, ErrMathOverflow
	}
	return at, nil
}

// VouchFor stakes amount of the voucher's reputation tokens on target. The
// tokens move into an escrow account owned by the vouch's escrow address
// until WithdrawVouch returns them.
func (p *Program) VouchFor(ctx context.Context, voucher, target address.Address, amount uint64) (*VouchRecord, error) {
	return p.vouch(ctx, voucher, target, amount, true)
}

// VouchAgainst records a challenge of weight amount against target. Nothing
// is escrowed.
func (p *Program) VouchAgainst(ctx context.Context, voucher, target address.Address, amount uint64) (*VouchRecord, error) {
	return p.vouch(ctx, voucher, target, amount, false)
}

func (p *Program) vouch(ctx context.Context, voucher, target address.Address, amount uint64, positive bool) (*VouchRecord, error) {
	op, eventType := "vouch_against", events.TypeVouchChallenged
	if positive {
		op, eventType = "vouch_for", events.TypeVouchCreated
	}
	if voucher == target {
		return nil, ErrSelfVouchNotAllowed
	}

	now := p.now()
	voucherAddr := p.deriver.AgentAddress(voucher)
	targetAddr := p.deriver.AgentAddress(target)
	vouchAddr := p.deriver.VouchAddress(voucher, target)
	escrow := p.deriver.EscrowAddress(vouchAddr)

	var record *VouchRecord
	err := p.update(ctx, op, func(tx store.Txn) error {
		cfg, err := loadConfig(ctx, tx, p.deriver.ConfigAddress())
		if err != nil {
			return err
		}
		voucherProfile, err := loadProfile(ctx, tx, voucherAddr)
		if err != nil {
			return err
		}
		targetProfile, err := loadProfile(ctx, tx, targetAddr)
		if errors.Is(err, ErrAgentNotRegistered) {
			return errorf(ErrAgentNotRegistered, "target %s", target.Short())
		}
		if err != nil {
			return err
		}
		if voucherProfile.ReputationScore < cfg.MinReputationForVouching {
			return errorf(ErrInsufficientReputation, "have %d, need %d",
				voucherProfile.ReputationScore, cfg.MinReputationForVouching)
		}
		open, err := exists(ctx, tx, vouchAddr)
		if err != nil {
			return err
		}
		if open {
			return ErrVouchAlreadyExists
		}

		record = &VouchRecord{
			Voucher:    voucher,
			VouchedFor: target,
			Amount:     amount,
			IsPositive: positive,
			CreatedAt:  now,
		}
		if err := tx.Create(ctx, vouchAddr, record.record()); err != nil {
			if errors.Is(err, store.ErrExists) {
				return ErrVouchAlreadyExists
			}
			return fmt.Errorf("write vouch record: %w", err)
		}

		if !positive {
			targetProfile.NegativeVouches = saturatingAdd(targetProfile.NegativeVouches, 1)
			return putProfile(ctx, tx, targetAddr, targetProfile)
		}

		targetProfile.PositiveVouches = saturatingAdd(targetProfile.PositiveVouches, 1)
		voucherProfile.StakedAmount = saturatingAdd(voucherProfile.StakedAmount, amount)
		if err := putProfile(ctx, tx, targetAddr, targetProfile); err != nil {
			return err
		}
		if err := putProfile(ctx, tx, voucherAddr, voucherProfile); err != nil {
			return err
		}
		if err := p.tokens.OpenAccount(ctx, tx, cfg.ReputationMint, token.Derived(address.EscrowSeeds(vouchAddr))); err != nil {
			return fmt.Errorf("open escrow: %w", err)
		}
		if err := p.tokens.Transfer(ctx, tx, cfg.ReputationMint, voucher, escrow, amount, token.Signer(voucher)); err != nil {
			return fmt.Errorf("escrow stake: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if positive {
		p.metrics.lockEscrow(amount)
		p.logger.Info("[Program] Positive vouch", "voucher", voucher.Short(), "target", target.Short(), "staked", amount)
	} else {
		p.logger.Info("[Program] Negative vouch", "voucher", voucher.Short(), "target", target.Short(), "weight", amount)
	}
	p.committed(transition{
		op:        op,
		eventType: eventType,
		subject:   target,
		data: map[string]interface{}{
			"voucher":     voucher.String(),
			"vouched_for": target.String(),
			"amount":      amount,
			"is_positive": positive,
		},
	})
	return record, nil
}

// WithdrawVouch closes the voucher's vouch on target once the lockup has
// elapsed, returning escrowed tokens for a positive vouch. The closed record
// is returned.
func (p *Program) WithdrawVouch(ctx context.Context, voucher, target address.Address) (*VouchRecord, error) {
	now := p.now()
	voucherAddr := p.deriver.AgentAddress(voucher)
	vouchAddr := p.deriver.VouchAddress(voucher, target)
	escrow := p.deriver.EscrowAddress(vouchAddr)

	var record *VouchRecord
	err := p.update(ctx, "withdraw_vouch", func(tx store.Txn) error {
		cfg, err := loadConfig(ctx, tx, p.deriver.ConfigAddress())
		if err != nil {
			return err
		}
		record, err = loadVouch(ctx, tx, vouchAddr)
		if err != nil {
			return err
		}
		voucherProfile, err := loadProfile(ctx, tx, voucherAddr)
		if err != nil {
			return err
		}

		elapsed := saturatingSubInt64(now, record.CreatedAt)
		if elapsed < cfg.VouchLockupPeriod {
			return errorf(ErrLockupNotExpired, "%ds of %ds elapsed", elapsed, cfg.VouchLockupPeriod)
		}

		if record.IsPositive && record.Amount > 0 {
			auth := token.Derived(address.EscrowSeeds(vouchAddr))
			if err := p.tokens.Transfer(ctx, tx, cfg.ReputationMint, escrow, voucher, record.Amount, auth); err != nil {
				return fmt.Errorf("release escrow: %w", err)
			}
		}

		voucherProfile.StakedAmount = saturatingSub(voucherProfile.StakedAmount, record.Amount)
		if err := putProfile(ctx, tx, voucherAddr, voucherProfile); err != nil {
			return err
		}
		if err := tx.Delete(ctx, vouchAddr); err != nil {
			return fmt.Errorf("close vouch record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if record.IsPositive {
		p.metrics.releaseEscrow(record.Amount)
	}
	p.logger.Info("[Program] Vouch withdrawn", "voucher", voucher.Short(), "target", target.Short(), "amount", record.Amount, "positive", record.IsPositive)
	p.committed(transition{
		op:        "withdraw_vouch",
		eventType: events.TypeVouchWithdrawn,
		subject:   target,
		data: map[string]interface{}{
			"voucher":     voucher.String(),
			"vouched_for": target.String(),
			"amount":      record.Amount,
			"is_positive": record.IsPositive,
		},
	})
	return record, nil
}
