// Package ha reads reference-sensor states from a Home Assistant instance
// and watches for their changes over the websocket API.
package ha

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// cacheTTL bounds how stale a cached sensor reading may be. A full offset
// recalculation reads the same sensor once per mapped zone; the cache keeps
// that from turning into repeated registry calls.
const cacheTTL = 5 * time.Second

type cachedState struct {
	state   string
	ok      bool
	fetched time.Time
}

// Client reads entity states over the Home Assistant REST API.
type Client struct {
	baseURL string
	token   string
	rest    *resty.Client

	mu    sync.Mutex
	cache map[string]cachedState
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		rest:    resty.New().SetTimeout(10 * time.Second),
		cache:   make(map[string]cachedState),
	}
}

// State returns the raw state string of an entity. ok is false when the
// entity does not exist or the registry is unreachable; callers treat the
// "unknown"/"unavailable" states themselves.
func (c *Client) State(entityID string) (string, bool) {
	c.mu.Lock()
	if cached, hit := c.cache[entityID]; hit && time.Since(cached.fetched) < cacheTTL {
		c.mu.Unlock()
		return cached.state, cached.ok
	}
	c.mu.Unlock()

	state, ok := c.fetchState(entityID)
	c.mu.Lock()
	c.cache[entityID] = cachedState{state: state, ok: ok, fetched: time.Now()}
	c.mu.Unlock()
	return state, ok
}

func (c *Client) fetchState(entityID string) (string, bool) {
	resp, err := c.rest.R().
		SetAuthToken(c.token).
		Get(c.baseURL + "/api/states/" + url.PathEscape(entityID))
	if err != nil {
		log.Warn().Err(err).Str("entity", entityID).Msg("Could not read entity state")
		return "", false
	}
	if resp.StatusCode() == 404 {
		return "", false
	}
	if resp.IsError() {
		log.Warn().Int("status", resp.StatusCode()).Str("entity", entityID).Msg("Could not read entity state")
		return "", false
	}

	var body struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		log.Warn().Err(err).Str("entity", entityID).Msg("Unexpected entity state payload")
		return "", false
	}
	return body.State, true
}

// WebsocketURL derives the websocket endpoint from the REST base URL.
func (c *Client) WebsocketURL() (string, error) {
	u, err := url.Parse(c.baseURL + "/api/websocket")
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return u.String(), nil
}
