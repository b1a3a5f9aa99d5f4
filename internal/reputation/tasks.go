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

// CompleteTask credits agent with amount reputation for taskID and mints the
// same amount of reputation tokens to it. A (taskID, agent) pair is credited
// at most once.
func (p *Program) CompleteTask(ctx context.Context, agent address.Address, taskID string, amount uint64) (*TaskRecord, error) {
	if len(taskID) > MaxTaskIDLength {
		return nil, errorf(ErrTaskIDTooLong, "%d bytes, max %d", len(taskID), MaxTaskIDLength)
	}
	if amount == 0 {
		return nil, ErrInvalidReputationAmount
	}

	now := p.now()
	agentAddr := p.deriver.AgentAddress(agent)
	taskAddr := p.deriver.TaskAddress(taskID, agent)
	mintAuth := token.Derived(address.MintAuthoritySeeds())

	var task *TaskRecord
	var profile *AgentProfile
	err := p.update(ctx, "complete_task", func(tx store.Txn) error {
		cfg, err := loadConfig(ctx, tx, p.deriver.ConfigAddress())
		if err != nil {
			return err
		}
		profile, err = loadProfile(ctx, tx, agentAddr)
		if err != nil {
			return err
		}
		if !profile.IsActive {
			return ErrAgentInactive
		}
		recorded, err := exists(ctx, tx, taskAddr)
		if err != nil {
			return err
		}
		if recorded {
			return ErrTaskAlreadyRecorded
		}

		profile.ReputationScore = saturatingAdd(profile.ReputationScore, amount)
		profile.TotalTasksCompleted = saturatingAdd(profile.TotalTasksCompleted, 1)
		profile.LastActivityTimestamp = now
		if err := putProfile(ctx, tx, agentAddr, profile); err != nil {
			return err
		}

		task = &TaskRecord{
			Agent:            agent,
			TaskID:           taskID,
			ReputationEarned: amount,
			CompletedAt:      now,
		}
		if err := tx.Create(ctx, taskAddr, task.record()); err != nil {
			if errors.Is(err, store.ErrExists) {
				return ErrTaskAlreadyRecorded
			}
			return fmt.Errorf("write task record: %w", err)
		}

		if err := p.tokens.MintTo(ctx, tx, cfg.ReputationMint, agent, amount, mintAuth); err != nil {
			return fmt.Errorf("mint reputation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if p.metrics != nil {
		p.metrics.ReputationMinted.Add(float64(amount))
	}
	p.logger.Info("[Program] Task completed",
		"agent", agent.Short(),
		"task_id", taskID,
		"earned", amount,
		"score", profile.ReputationScore)
	p.committed(transition{
		op:        "complete_task",
		eventType: events.TypeTaskCompleted,
		subject:   agent,
		data: map[string]interface{}{
			"agent":            agent.String(),
			"task_id":          taskID,
			"reputation":       amount,
			"reputation_score": profile.ReputationScore,
		},
	})
	return task, nil
}
