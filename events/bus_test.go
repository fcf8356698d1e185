package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_DeliversInRegistrationOrder(t *testing.T) {
	bus := NewBus()

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		bus.Subscribe(TypeUserSpeech, func(_ *Event) {
			order = append(order, i)
		})
	}

	bus.Publish(TypeUserSpeech, UserSpeechData{Text: "hello", Completed: true})
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestBus_PublishIsSynchronous(t *testing.T) {
	bus := NewBus()

	var got []string
	bus.Subscribe(TypeToolCall, func(ev *Event) {
		data := ev.Data.(ToolCallData)
		got = append(got, data.Name)
	})

	bus.Publish(TypeToolCall, ToolCallData{Name: "first"})
	bus.Publish(TypeToolCall, ToolCallData{Name: "second"})

	// No synchronization needed: Publish returns only after delivery.
	assert.Equal(t, []string{"first", "second"}, got)
}

func TestBus_TypeFiltering(t *testing.T) {
	bus := NewBus()

	speech := 0
	status := 0
	bus.Subscribe(TypeUserSpeech, func(_ *Event) { speech++ })
	bus.Subscribe(TypeSessionStatus, func(_ *Event) { status++ })

	bus.Publish(TypeUserSpeech, UserSpeechData{Text: "hi"})
	bus.Publish(TypeUserSpeech, UserSpeechData{Text: "there"})
	bus.Publish(TypeSessionStatus, SessionStatusData{State: "streaming"})

	assert.Equal(t, 2, speech)
	assert.Equal(t, 1, status)
}

func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus()

	var types []Type
	bus.SubscribeAll(func(ev *Event) {
		types = append(types, ev.Type)
	})

	bus.Publish(TypeUserSpeech, UserSpeechData{Text: "hi"})
	bus.Publish(TypeGenerationStage, GenerationStageData{Stage: "image"})

	require.Len(t, types, 2)
	assert.Equal(t, TypeUserSpeech, types[0])
	assert.Equal(t, TypeGenerationStage, types[1])
}

func TestBus_PanickingListenerDoesNotBlockOthers(t *testing.T) {
	bus := NewBus()

	delivered := false
	bus.Subscribe(TypeUserSpeech, func(_ *Event) { panic("listener bug") })
	bus.Subscribe(TypeUserSpeech, func(_ *Event) { delivered = true })

	bus.Publish(TypeUserSpeech, UserSpeechData{Text: "hi"})
	assert.True(t, delivered)
}

func TestBus_EventCarriesTimestampAndData(t *testing.T) {
	bus := NewBus()

	var got *Event
	bus.Subscribe(TypeToolCall, func(ev *Event) { got = ev })

	bus.Publish(TypeToolCall, ToolCallData{
		Name:   "Snap3D",
		Args:   map[string]any{"prompt": "a red hat"},
		CallID: "call-1",
	})

	require.NotNil(t, got)
	assert.False(t, got.Timestamp.IsZero())
	data := got.Data.(ToolCallData)
	assert.Equal(t, "Snap3D", data.Name)
	assert.Equal(t, "a red hat", data.Args["prompt"])
}

func TestBus_Clear(t *testing.T) {
	bus := NewBus()

	count := 0
	bus.Subscribe(TypeUserSpeech, func(_ *Event) { count++ })
	bus.Clear()

	bus.Publish(TypeUserSpeech, UserSpeechData{Text: "hi"})
	assert.Zero(t, count)
}
