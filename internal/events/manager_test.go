package events

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_SubscribeAndUnsubscribe(t *testing.T) {
	bus := NewBus()
	var received []*Event

	unsubscribe := bus.Subscribe(RunStepChanged, func(e *Event) {
		received = append(received, e)
	})
	assert.Equal(t, 1, bus.SubscriberCount(RunStepChanged))

	bus.Emit(RunStepChanged, "saga", map[string]interface{}{"to": "connecting"})
	bus.Emit(RunCompleted, "saga", nil)
	require.Len(t, received, 1)
	assert.Equal(t, "saga", received[0].Module)
	assert.Equal(t, "connecting", received[0].Data["to"])

	unsubscribe()
	assert.Equal(t, 0, bus.SubscriberCount(RunStepChanged))

	bus.Emit(RunStepChanged, "saga", nil)
	assert.Len(t, received, 1)
}

func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus()
	count := 0
	unsubscribe := bus.SubscribeAll(AllTypes(), func(e *Event) { count++ })

	bus.Emit(RunCompleted, "saga", nil)
	bus.Emit(ContractEvent, "chain", nil)
	assert.Equal(t, 2, count)

	unsubscribe()
	bus.Emit(RunCompleted, "saga", nil)
	assert.Equal(t, 2, count)
}

func TestManager_EmitTyped(t *testing.T) {
	bus := NewBus()
	manager := NewManager(bus, zerolog.Nop())

	var got *Event
	bus.Subscribe(RunFailed, func(e *Event) { got = e })

	manager.EmitTyped(RunFailed, "saga", &RunFailedData{
		RunID:   "run-1",
		Step:    "requesting_inference",
		Kind:    "ProviderError",
		Message: "status 500",
	})

	require.NotNil(t, got)
	var data RunFailedData
	require.NoError(t, got.DecodeData(&data))
	assert.Equal(t, "run-1", data.RunID)
	assert.Equal(t, "requesting_inference", data.Step)
	assert.False(t, data.MayStillLand)
}

func TestManager_EmitError(t *testing.T) {
	bus := NewBus()
	manager := NewManager(bus, zerolog.Nop())

	var got *Event
	bus.Subscribe(ErrorOccurred, func(e *Event) { got = e })

	manager.EmitError("scheduler", errors.New("boom"), map[string]interface{}{"job": "reconcile"})

	require.NotNil(t, got)
	assert.Equal(t, "boom", got.Data["error"])
}
