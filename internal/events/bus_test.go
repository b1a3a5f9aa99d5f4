package events

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversByType(t *testing.T) {
	bus := NewBus(4, nil)
	tasks := bus.Subscribe(TypeTaskCompleted)
	all := bus.Subscribe()
	assert.Equal(t, 2, bus.SubscriberCount())

	bus.Emit(TypeAgentRegistered, "agent-1", map[string]interface{}{"name": "alpha"})
	bus.Emit(TypeTaskCompleted, "agent-1", map[string]interface{}{"task_id": "t1"})

	ev := <-tasks
	assert.Equal(t, TypeTaskCompleted, ev.Type)
	assert.Equal(t, "t1", ev.Data["task_id"])
	assert.Len(t, tasks, 0)

	assert.Equal(t, TypeAgentRegistered, (<-all).Type)
	assert.Equal(t, TypeTaskCompleted, (<-all).Type)
}

func TestBusDropsWhenFull(t *testing.T) {
	bus := NewBus(1, nil)
	ch := bus.Subscribe()
	bus.Emit(TypeReputationDecayed, "a", nil)
	bus.Emit(TypeReputationDecayed, "a", nil)

	assert.Len(t, ch, 1)
	assert.Equal(t, uint64(1), bus.Dropped())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(1, nil)
	ch := bus.Subscribe(TypeVouchCreated, TypeVouchWithdrawn)
	bus.Unsubscribe(ch)

	_, open := <-ch
	assert.False(t, open)
	assert.Zero(t, bus.SubscriberCount())
	bus.Emit(TypeVouchCreated, "a", nil)
}

func TestCloudEventEnvelope(t *testing.T) {
	ev := NewCloudEvent(TypeVouchCreated, "subject", map[string]interface{}{"amount": 5})
	_, err := uuid.Parse(ev.ID)
	require.NoError(t, err)

	raw, err := ev.JSON()
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "1.0", decoded["specversion"])
	assert.Equal(t, Source, decoded["source"])
	assert.Equal(t, "subject", decoded["subject"])
}

func TestMessageAttributes(t *testing.T) {
	ev := NewCloudEvent(TypeReputationDecayed, "agent", nil)
	attrs := messageAttributes(ev)
	assert.Equal(t, TypeReputationDecayed, attrs["ce-type"])
	assert.Equal(t, ev.ID, attrs["ce-id"])
	assert.Equal(t, "agent", attrs["ce-subject"])
}
