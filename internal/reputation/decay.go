package reputation

import (
	"context"

	"github.com/ocx/agentrep/internal/address"
	"github.com/ocx/agentrep/internal/events"
	"github.com/ocx/agentrep/internal/store"
)

// DecayResult describes one applied decay.
type DecayResult struct {
	Agent        address.Address `json:"agent"`
	OldScore     uint64          `json:"old_score"`
	NewScore     uint64          `json:"new_score"`
	DaysInactive int64           `json:"days_inactive"`
	Deactivated  bool            `json:"deactivated"`
}

// ApplyDecay compounds the configured daily decay over every whole day
// since the agent's last activity. Anyone may call it. It fails with
// ErrDecayCooldown until a full day has passed. Decay does not count as
// activity, so repeated calls keep measuring from the same timestamp.
func (p *Program) ApplyDecay(ctx context.Context, agent address.Address) (*DecayResult, error) {
	now := p.now()
	agentAddr := p.deriver.AgentAddress(agent)

	var res *DecayResult
	err := p.update(ctx, "apply_decay", func(tx store.Txn) error {
		cfg, err := loadConfig(ctx, tx, p.deriver.ConfigAddress())
		if err != nil {
			return err
		}
		profile, err := loadProfile(ctx, tx, agentAddr)
		if err != nil {
			return err
		}

		days := DaysInactive(profile.LastActivityTimestamp, now)
		if days <= 0 {
			return ErrDecayCooldown
		}

		res = &DecayResult{Agent: agent, OldScore: profile.ReputationScore, DaysInactive: days}
		profile.ReputationScore = CalculateDecay(profile.ReputationScore, days, cfg.DecayRatePerDay)
		if profile.ReputationScore < InactiveThreshold && profile.IsActive {
			profile.IsActive = false
			res.Deactivated = true
		}
		res.NewScore = profile.ReputationScore
		return putProfile(ctx, tx, agentAddr, profile)
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("[Program] Decay applied",
		"agent", agent.Short(),
		"old", res.OldScore,
		"new", res.NewScore,
		"days_inactive", res.DaysInactive)
	p.committed(transition{
		op:        "apply_decay",
		eventType: events.TypeReputationDecayed,
		subject:   agent,
		data: map[string]interface{}{
			"agent":         agent.String(),
			"old_score":     res.OldScore,
			"new_score":     res.NewScore,
			"days_inactive": res.DaysInactive,
			"deactivated":   res.Deactivated,
		},
	})
	return res, nil
}
