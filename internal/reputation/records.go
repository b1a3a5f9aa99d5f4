package reputation

import (
	"context"
	"errors"
	"fmt"

	"github.com/ocx/agentrep/internal/address"
	"github.com/ocx/agentrep/internal/store"
	"github.com/ocx/agentrep/internal/wire"
)

const (
	MaxNameLength   = 50
	MaxTaskIDLength = 100

	// InactiveThreshold is the score below which decay marks an agent inactive.
	InactiveThreshold = 10

	SecondsPerDay = 86400
)

// ProtocolConfig is the singleton written by Initialize.
type ProtocolConfig struct {
	Authority                address.Address `json:"authority"`
	ReputationMint           address.Address `json:"reputation_mint"`
	MinReputationForVouching uint64          `json:"min_reputation_for_vouching"`
	DecayRatePerDay          uint64          `json:"decay_rate_per_day"` // basis points, 10000 = 100%
	VouchLockupPeriod        int64           `json:"vouch_lockup_period"`
}

// AgentProfile is one registered agent. Profiles are never closed.
type AgentProfile struct {
	Owner                 address.Address `json:"owner"`
	Name                  string          `json:"name"`
	ReputationScore       uint64          `json:"reputation_score"`
	TotalTasksCompleted   uint64          `json:"total_tasks_completed"`
	LastActivityTimestamp int64           `json:"last_activity_timestamp"`
	IsActive              bool            `json:"is_active"`
	PositiveVouches       uint64          `json:"positive_vouches"`
	NegativeVouches       uint64          `json:"negative_vouches"`
	StakedAmount          uint64          `json:"staked_amount"`
}

// VouchRecord is an open stake from Voucher on VouchedFor. Positive vouches
// hold Amount in escrow; negative ones only record it as challenge weight.
type VouchRecord struct {
	Voucher    address.Address `json:"voucher"`
	VouchedFor address.Address `json:"vouched_for"`
	Amount     uint64          `json:"amount"`
	IsPositive bool            `json:"is_positive"`
	CreatedAt  int64           `json:"created_at"`
}

// TaskRecord is the permanent proof that a task was credited once.
type TaskRecord struct {
	Agent            address.Address `json:"agent"`
	TaskID           string          `json:"task_id"`
	ReputationEarned uint64          `json:"reputation_earned"`
	CompletedAt      int64           `json:"completed_at"`
}

func (c *ProtocolConfig) record() store.Record {
	var e wire.Encoder
	e.Address(1, c.Authority)
	e.Address(2, c.ReputationMint)
	e.Uint(3, c.MinReputationForVouching)
	e.Uint(4, c.DecayRatePerDay)
	e.Int(5, c.VouchLockupPeriod)
	return store.Record{Kind: store.KindConfig, Data: e.Bytes()}
}

func decodeProtocolConfig(rec store.Record) (*ProtocolConfig, error) {
	if err := expectKind(rec, store.KindConfig); err != nil {
		return nil, err
	}
	var c ProtocolConfig
	err := wire.Decode(rec.Data, func(f wire.Field) (err error) {
		switch f.Num {
		case 1:
			c.Authority, err = f.Address()
		case 2:
			c.ReputationMint, err = f.Address()
		case 3:
			c.MinReputationForVouching, err = f.Uint()
		case 4:
			c.DecayRatePerDay, err = f.Uint()
		case 5:
			c.VouchLockupPeriod, err = f.Int()
		}
		return err
	})
	if err != nil {
		return nil, errorf(ErrCorruptRecord, "protocol config: %v", err)
	}
	return &c, nil
}

func (p *AgentProfile) record() store.Record {
	var e wire.Encoder
	e.Address(1, p.Owner)
	e.String(2, p.Name)
	e.Uint(3, p.ReputationScore)
	e.Uint(4, p.TotalTasksCompleted)
	e.Int(5, p.LastActivityTimestamp)
	e.Bool(6, p.IsActive)
	e.Uint(7, p.PositiveVouches)
	e.Uint(8, p.NegativeVouches)
	e.Uint(9, p.StakedAmount)
	return store.Record{Kind: store.KindAgent, Data: e.Bytes()}
}

func decodeAgentProfile(rec store.Record) (*AgentProfile, error) {
	if err := expectKind(rec, store.KindAgent); err != nil {
		return nil, err
	}
	var p AgentProfile
	err := wire.Decode(rec.Data, func(f wire.Field) (err error) {
		switch f.Num {
		case 1:
			p.Owner, err = f.Address()
		case 2:
			p.Name, err = f.String()
		case 3:
			p.ReputationScore, err = f.Uint()
		case 4:
			p.TotalTasksCompleted, err = f.Uint()
		case 5:
			p.LastActivityTimestamp, err = f.Int()
		case 6:
			p.IsActive, err = f.Bool()
		case 7:
			p.PositiveVouches, err = f.Uint()
		case 8:
			p.NegativeVouches, err = f.Uint()
		case 9:
			p.StakedAmount, err = f.Uint()
		}
		return err
	})
	if err != nil {
		return nil, errorf(ErrCorruptRecord, "agent profile: %v", err)
	}
	return &p, nil
}

func (v *VouchRecord) record() store.Record {
	var e wire.Encoder
	e.Address(1, v.Voucher)
	e.Address(2, v.VouchedFor)
	e.Uint(3, v.Amount)
	e.Bool(4, v.IsPositive)
	e.Int(5, v.CreatedAt)
	return store.Record{Kind: store.KindVouch, Data: e.Bytes()}
}

func decodeVouchRecord(rec store.Record) (*VouchRecord, error) {
	if err := expectKind(rec, store.KindVouch); err != nil {
		return nil, err
	}
	var v VouchRecord
	err := wire.Decode(rec.Data, func(f wire.Field) (err error) {
		switch f.Num {
		case 1:
			v.Voucher, err = f.Address()
		case 2:
			v.VouchedFor, err = f.Address()
		case 3:
			v.Amount, err = f.Uint()
		case 4:
			v.IsPositive, err = f.Bool()
		case 5:
			v.CreatedAt, err = f.Int()
		}
		return err
	})
	if err != nil {
		return nil, errorf(ErrCorruptRecord, "vouch record: %v", err)
	}
	return &v, nil
}

func (t *TaskRecord) record() store.Record {
	var e wire.Encoder
	e.Address(1, t.Agent)
	e.String(2, t.TaskID)
	e.Uint(3, t.ReputationEarned)
	e.Int(4, t.CompletedAt)
	return store.Record{Kind: store.KindTask, Data: e.Bytes()}
}

func decodeTaskRecord(rec store.Record) (*TaskRecord, error) {
	if err := expectKind(rec, store.KindTask); err != nil {
		return nil, err
	}
	var t TaskRecord
	err := wire.Decode(rec.Data, func(f wire.Field) (err error) {
		switch f.Num {
		case 1:
			t.Agent, err = f.Address()
		case 2:
			t.TaskID, err = f.String()
		case 3:
			t.ReputationEarned, err = f.Uint()
		case 4:
			t.CompletedAt, err = f.Int()
		}
		return err
	})
	if err != nil {
		return nil, errorf(ErrCorruptRecord, "task record: %v", err)
	}
	return &t, nil
}

func expectKind(rec store.Record, want store.Kind) error {
	if rec.Kind != want {
		return errorf(ErrCorruptRecord, "want %s record, have %s", want, rec.Kind)
	}
	return nil
}

// Typed loads used inside transactions. Each maps store.ErrNotFound to the
// ledger error a caller should see for that record.

func loadConfig(ctx context.Context, tx store.Txn, addr address.Address) (*ProtocolConfig, error) {
	rec, err := tx.Get(ctx, addr)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return decodeProtocolConfig(rec)
}

func loadProfile(ctx context.Context, tx store.Txn, addr address.Address) (*AgentProfile, error) {
	rec, err := tx.Get(ctx, addr)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrAgentNotRegistered
	}
	if err != nil {
		return nil, fmt.Errorf("load agent profile: %w", err)
	}
	return decodeAgentProfile(rec)
}

func loadVouch(ctx context.Context, tx store.Txn, addr address.Address) (*VouchRecord, error) {
	rec, err := tx.Get(ctx, addr)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrVouchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load vouch record: %w", err)
	}
	return decodeVouchRecord(rec)
}

func putProfile(ctx context.Context, tx store.Txn, addr address.Address, p *AgentProfile) error {
	if err := tx.Put(ctx, addr, p.record()); err != nil {
		return fmt.Errorf("write agent profile: %w", err)
	}
	return nil
}

// exists reports whether any record lives at addr.
func exists(ctx context.Context, tx store.Txn, addr address.Address) (bool, error) {
	_, err := tx.Get(ctx, addr)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}
