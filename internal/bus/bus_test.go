package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesMatchingSignals(t *testing.T) {
	b := New()
	zones, cancel := b.Subscribe(func(sig Signal) bool { return sig.Category == "zone" })
	defer cancel()

	b.Send(Signal{HomeID: 1, Category: "zone", EntityID: "3"})
	b.Send(Signal{HomeID: 1, Category: "device", EntityID: "VA1"})

	sig := <-zones
	assert.Equal(t, Signal{HomeID: 1, Category: "zone", EntityID: "3"}, sig)

	select {
	case extra := <-zones:
		t.Fatalf("unexpected signal %+v", extra)
	default:
	}
}

func TestNilFilterReceivesEverything(t *testing.T) {
	b := New()
	all, cancel := b.Subscribe(nil)
	defer cancel()

	b.Send(Signal{HomeID: 1, Category: "zone"})
	b.Send(Signal{HomeID: 1, Category: "api_calls"})

	assert.Equal(t, "zone", (<-all).Category)
	assert.Equal(t, "api_calls", (<-all).Category)
}

func TestCancelClosesChannel(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe(nil)

	cancel()
	_, open := <-ch
	assert.False(t, open)

	// Sends after cancellation must not panic.
	b.Send(Signal{HomeID: 1, Category: "zone"})
	cancel()
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe(nil)
	defer cancel()

	for i := 0; i < 40; i++ {
		b.Send(Signal{HomeID: 1, Category: "zone"})
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
			continue
		default:
		}
		break
	}
	require.Equal(t, 16, received)
}
