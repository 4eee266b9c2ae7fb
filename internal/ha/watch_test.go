package ha

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type firedEvent struct {
	entityID string
	force    bool
}

func newTestWatcher(watched map[string]bool) (*Watcher, *[]firedEvent) {
	var fired []firedEvent
	w := NewWatcher(nil, func() map[string]bool { return watched }, func(entityID string, force bool) {
		fired = append(fired, firedEvent{entityID: entityID, force: force})
	})
	return w, &fired
}

func TestHandleEvent(t *testing.T) {
	watched := map[string]bool{"sensor.bedroom": true}

	tests := []struct {
		name    string
		payload string
		fired   []firedEvent
	}{
		{
			name:    "non-event message ignored",
			payload: `{"type": "result", "success": true}`,
			fired:   nil,
		},
		{
			name: "other event types ignored",
			payload: `{"type": "event", "event": {"event_type": "call_service",
				"data": {"entity_id": "sensor.bedroom"}}}`,
			fired: nil,
		},
		{
			name: "unwatched entity ignored",
			payload: `{"type": "event", "event": {"event_type": "state_changed",
				"data": {"entity_id": "sensor.kitchen",
					"new_state": {"state": "21.0"}, "old_state": {"state": "20.0"}}}}`,
			fired: nil,
		},
		{
			name: "missing new state ignored",
			payload: `{"type": "event", "event": {"event_type": "state_changed",
				"data": {"entity_id": "sensor.bedroom",
					"new_state": null, "old_state": {"state": "20.0"}}}}`,
			fired: nil,
		},
		{
			name: "unknown new state ignored",
			payload: `{"type": "event", "event": {"event_type": "state_changed",
				"data": {"entity_id": "sensor.bedroom",
					"new_state": {"state": "unknown"}, "old_state": {"state": "20.0"}}}}`,
			fired: nil,
		},
		{
			name: "unavailable new state ignored",
			payload: `{"type": "event", "event": {"event_type": "state_changed",
				"data": {"entity_id": "sensor.bedroom",
					"new_state": {"state": "unavailable"}, "old_state": {"state": "20.0"}}}}`,
			fired: nil,
		},
		{
			name: "usable transition fires without force",
			payload: `{"type": "event", "event": {"event_type": "state_changed",
				"data": {"entity_id": "sensor.bedroom",
					"new_state": {"state": "21.0"}, "old_state": {"state": "20.0"}}}}`,
			fired: []firedEvent{{entityID: "sensor.bedroom", force: false}},
		},
		{
			name: "missing old state forces",
			payload: `{"type": "event", "event": {"event_type": "state_changed",
				"data": {"entity_id": "sensor.bedroom",
					"new_state": {"state": "21.0"}}}}`,
			fired: []firedEvent{{entityID: "sensor.bedroom", force: true}},
		},
		{
			name: "unknown old state forces",
			payload: `{"type": "event", "event": {"event_type": "state_changed",
				"data": {"entity_id": "sensor.bedroom",
					"new_state": {"state": "21.0"}, "old_state": {"state": "unknown"}}}}`,
			fired: []firedEvent{{entityID: "sensor.bedroom", force: true}},
		},
		{
			name: "unavailable old state forces",
			payload: `{"type": "event", "event": {"event_type": "state_changed",
				"data": {"entity_id": "sensor.bedroom",
					"new_state": {"state": "21.0"}, "old_state": {"state": "unavailable"}}}}`,
			fired: []firedEvent{{entityID: "sensor.bedroom", force: true}},
		},
		{
			name:    "malformed payload ignored",
			payload: `not json`,
			fired:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, fired := newTestWatcher(watched)
			w.handleEvent([]byte(tt.payload))
			assert.Equal(t, tt.fired, *fired)
		})
	}
}

func TestHandleEventConsultsWatchedSetPerEvent(t *testing.T) {
	watched := map[string]bool{}
	w, fired := newTestWatcher(watched)

	payload := []byte(`{"type": "event", "event": {"event_type": "state_changed",
		"data": {"entity_id": "sensor.bedroom",
			"new_state": {"state": "21.0"}, "old_state": {"state": "20.0"}}}}`)

	w.handleEvent(payload)
	assert.Empty(t, *fired)

	// Linking the sensor at runtime takes effect without a reconnect.
	watched["sensor.bedroom"] = true
	w.handleEvent(payload)
	require.Len(t, *fired, 1)
	assert.Equal(t, firedEvent{entityID: "sensor.bedroom", force: false}, (*fired)[0])
}
