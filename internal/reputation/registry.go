package reputation

import (
	"context"
	"errors"
	"fmt"

	"github.com/ocx/agentrep/internal/address"
	"github.com/ocx/agentrep/internal/events"
	"github.com/ocx/agentrep/internal/store"
)

// Register creates the profile for owner. Registration does not require an
// initialized protocol.
func (p *Program) Register(ctx context.Context, owner address.Address, name string) (*AgentProfile, error) {
	if len(name) > MaxNameLength {
		return nil, errorf(ErrNameTooLong, "%d bytes, max %d", len(name), MaxNameLength)
	}

	profile := &AgentProfile{
		Owner:                 owner,
		Name:                  name,
		LastActivityTimestamp: p.now(),
		IsActive:              true,
	}
	addr := p.deriver.AgentAddress(owner)

	err := p.update(ctx, "register", func(tx store.Txn) error {
		err := tx.Create(ctx, addr, profile.record())
		if errors.Is(err, store.ErrExists) {
			return ErrAgentAlreadyRegistered
		}
		if err != nil {
			return fmt.Errorf("write agent profile: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("[Program] Agent registered", "owner", owner.Short(), "name", name)
	p.committed(transition{
		op:        "register",
		eventType: events.TypeAgentRegistered,
		subject:   owner,
		data: map[string]interface{}{
			"owner": owner.String(),
			"name":  name,
		},
	})
	return profile, nil
}
