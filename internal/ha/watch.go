package ha

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const readDeadline = 120 * time.Second

// Watcher subscribes to state_changed events and fires the callback when a
// watched sensor transitions to a usable state. force is true when the old
// state was missing, unknown, or unavailable.
type Watcher struct {
	client  *Client
	watched func() map[string]bool
	onState func(entityID string, force bool)
}

// NewWatcher builds a watcher. watched is consulted per event so the linked
// sensor set can change at runtime without reconnecting.
func NewWatcher(client *Client, watched func() map[string]bool, onState func(entityID string, force bool)) *Watcher {
	return &Watcher{client: client, watched: watched, onState: onState}
}

// Run keeps a websocket session alive until the context is cancelled,
// reconnecting with capped backoff.
func (w *Watcher) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		err := w.runSession(ctx)
		if err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("Sensor state watcher disconnected")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 20*time.Second {
			backoff *= 2
		}
	}
}

func (w *Watcher) runSession(ctx context.Context) error {
	wsURL, err := w.client.WebsocketURL()
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	if !strings.Contains(string(msg), "auth_required") {
		return nil
	}

	if err := conn.WriteJSON(map[string]any{"type": "auth", "access_token": w.client.token}); err != nil {
		return err
	}
	_, msg, err = conn.ReadMessage()
	if err != nil {
		return err
	}
	if !strings.Contains(string(msg), "auth_ok") {
		return nil
	}

	subscribe := map[string]any{"id": 1, "type": "subscribe_events", "event_type": "state_changed"}
	if err := conn.WriteJSON(subscribe); err != nil {
		return err
	}

	for {
		if err := conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
			return err
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		w.handleEvent(msg)
	}
}

type stateChangedEvent struct {
	Type  string `json:"type"`
	Event struct {
		EventType string `json:"event_type"`
		Data      struct {
			EntityID string `json:"entity_id"`
			NewState *struct {
				State string `json:"state"`
			} `json:"new_state"`
			OldState *struct {
				State string `json:"state"`
			} `json:"old_state"`
		} `json:"data"`
	} `json:"event"`
}

func (w *Watcher) handleEvent(body []byte) {
	var event stateChangedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return
	}
	if event.Type != "event" || event.Event.EventType != "state_changed" {
		return
	}
	data := event.Event.Data
	if data.EntityID == "" || !w.watched()[data.EntityID] {
		return
	}
	if data.NewState == nil || unusable(data.NewState.State) {
		return
	}
	force := data.OldState == nil || unusable(data.OldState.State)
	w.onState(data.EntityID, force)
}

func unusable(state string) bool {
	return state == "unknown" || state == "unavailable"
}
