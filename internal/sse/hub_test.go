package sse

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubPublishesPerOperator(t *testing.T) {
	hub := NewHub()
	ops, unsubscribeOps := hub.Subscribe("ops@natu.es")
	defer unsubscribeOps()
	other, unsubscribeOther := hub.Subscribe("other@natu.es")
	defer unsubscribeOther()

	hub.Publish("ops@natu.es", Event{Name: "progress", Data: map[string]int{"position": 1}})

	select {
	case event := <-ops:
		assert.Equal(t, "progress", event.Name)
	default:
		t.Fatal("expected an event for ops@natu.es")
	}
	select {
	case event := <-other:
		t.Fatalf("unexpected event %v", event)
	default:
	}
}

func TestHubDropsWhenListenerIsFull(t *testing.T) {
	hub := NewHub()
	ch, unsubscribe := hub.Subscribe("ops@natu.es")
	defer unsubscribe()

	for i := 0; i < 100; i++ {
		hub.Publish("ops@natu.es", Event{Name: "progress", Data: i})
	}
	assert.Len(t, ch, cap(ch))
}

func TestHubUnsubscribe(t *testing.T) {
	hub := NewHub()
	ch, unsubscribe := hub.Subscribe("ops@natu.es")
	assert.Equal(t, 1, hub.Subscribers("ops@natu.es"))

	unsubscribe()
	unsubscribe()
	assert.Zero(t, hub.Subscribers("ops@natu.es"))
	_, open := <-ch
	assert.False(t, open)

	hub.Publish("ops@natu.es", Event{Name: "progress"})
}

func TestEventWriteTo(t *testing.T) {
	var buf bytes.Buffer
	_, err := Event{Name: "finished", Data: map[string]string{"state": "Completed"}}.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, "event: finished\ndata: {\"state\":\"Completed\"}\n\n", buf.String())
}
