package tado

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const (
	apiBase          = "https://my.tado.com/api/v2"
	energyInsightsAPI = "https://energy-insights.tado.com/api"
	tokenURL         = "https://login.tado.com/oauth2/token"

	// Public client id of the device-authorization flow.
	oauthClientID = "1bb50063-6b0c-4d11-bd99-387f4a91cc46"
)

// Client talks to the Tado cloud API for a single home. The access token is
// read from a token file produced by the device-authorization flow and
// written back whenever the refresh rotates it.
type Client struct {
	rest   *resty.Client
	source oauth2.TokenSource

	tokenFile string

	mu        sync.Mutex
	lastToken string

	homeID int
}

// NewClient builds an authenticated client from a token file. A missing or
// unreadable token file is an authentication failure: the caller must
// reauthorize, retrying will not help.
func NewClient(tokenFile string) (*Client, error) {
	token, err := loadToken(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}

	conf := &oauth2.Config{
		ClientID: oauthClientID,
		Endpoint: oauth2.Endpoint{TokenURL: tokenURL},
	}
	source := oauth2.ReuseTokenSource(token, conf.TokenSource(context.Background(), token))

	c := &Client{
		rest:      resty.New().SetTimeout(30 * time.Second),
		source:    source,
		tokenFile: tokenFile,
		lastToken: token.AccessToken,
	}
	return c, nil
}

// UseHome scopes all home-level calls to the given home id. Set once during
// connector setup, after Me resolves the home.
func (c *Client) UseHome(homeID int) {
	c.homeID = homeID
}

func loadToken(path string) (*oauth2.Token, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading token file: %w", err)
	}
	var token oauth2.Token
	if err := json.Unmarshal(raw, &token); err != nil {
		return nil, fmt.Errorf("parsing token file: %w", err)
	}
	if token.RefreshToken == "" && token.AccessToken == "" {
		return nil, fmt.Errorf("token file %s holds no credentials", path)
	}
	return &token, nil
}

func (c *Client) saveToken(token *oauth2.Token) {
	raw, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("Could not serialize refreshed token")
		return
	}
	if err := os.WriteFile(c.tokenFile, raw, 0o600); err != nil {
		log.Error().Err(err).Str("path", c.tokenFile).Msg("Could not persist refreshed token")
	}
}

func (c *Client) bearer() (string, error) {
	token, err := c.source.Token()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuth, err)
	}
	c.mu.Lock()
	if token.AccessToken != c.lastToken {
		c.lastToken = token.AccessToken
		c.saveToken(token)
	}
	c.mu.Unlock()
	return token.AccessToken, nil
}

func (c *Client) do(method, url string, body any, out any) error {
	token, err := c.bearer()
	if err != nil {
		return err
	}
	req := c.rest.R().SetAuthToken(token)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, url)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if err := classifyStatus(resp.StatusCode(), resp.String()); err != nil {
		return err
	}
	if out != nil && len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("%w: decoding %s: %v", ErrPermanent, url, err)
		}
	}
	return nil
}

func (c *Client) homeURL(suffix string) string {
	return fmt.Sprintf("%s/homes/%d%s", apiBase, c.homeID, suffix)
}

func (c *Client) Me() (any, error) {
	var out any
	if err := c.do("GET", apiBase+"/me", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Zones() ([]any, error) {
	var out []any
	if err := c.do("GET", c.homeURL("/zones"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Zone(zoneID int) (map[string]any, error) {
	var out map[string]any
	if err := c.do("GET", c.homeURL(fmt.Sprintf("/zones/%d/details", zoneID)), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ZoneState(zoneID int) (map[string]any, error) {
	var out map[string]any
	if err := c.do("GET", c.homeURL(fmt.Sprintf("/zones/%d/state", zoneID)), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Capabilities(zoneID int) (map[string]any, error) {
	var out map[string]any
	if err := c.do("GET", c.homeURL(fmt.Sprintf("/zones/%d/capabilities", zoneID)), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Devices() ([]any, error) {
	var out []any
	if err := c.do("GET", c.homeURL("/devices"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) MobileDevices() ([]any, error) {
	var out []any
	if err := c.do("GET", c.homeURL("/mobileDevices"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Weather() (map[string]any, error) {
	var out map[string]any
	if err := c.do("GET", c.homeURL("/weather"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) HomeState() (map[string]any, error) {
	var out map[string]any
	if err := c.do("GET", c.homeURL("/state"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) TempOffset(deviceID string) (map[string]any, error) {
	var out map[string]any
	url := fmt.Sprintf("%s/devices/%s/temperatureOffset", apiBase, deviceID)
	if err := c.do("GET", url, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SetTempOffset(deviceID string, offset float64) error {
	url := fmt.Sprintf("%s/devices/%s/temperatureOffset", apiBase, deviceID)
	return c.do("PUT", url, map[string]float64{"celsius": offset}, nil)
}

func (c *Client) SetZoneOverlay(zoneID int, overlay Overlay) error {
	setting := map[string]any{
		"type":  overlay.DeviceType,
		"power": overlay.Power,
	}
	if overlay.Temperature != nil {
		setting["temperature"] = map[string]float64{"celsius": *overlay.Temperature}
	}
	if overlay.HVACMode != "" {
		setting["mode"] = overlay.HVACMode
	}
	if overlay.FanSpeed != "" {
		setting["fanSpeed"] = overlay.FanSpeed
	}
	if overlay.FanLevel != "" {
		setting["fanLevel"] = overlay.FanLevel
	}
	if overlay.Swing != "" {
		setting["swing"] = overlay.Swing
	}
	if overlay.VerticalSwing != "" {
		setting["verticalSwing"] = overlay.VerticalSwing
	}
	if overlay.HorizontalSwing != "" {
		setting["horizontalSwing"] = overlay.HorizontalSwing
	}

	termination := map[string]any{"typeSkillBasedApp": overlay.TerminationMode}
	if overlay.DurationSeconds > 0 {
		termination["durationInSeconds"] = overlay.DurationSeconds
	}

	body := map[string]any{"setting": setting, "termination": termination}
	return c.do("PUT", c.homeURL(fmt.Sprintf("/zones/%d/overlay", zoneID)), body, nil)
}

func (c *Client) ResetZoneOverlay(zoneID int) error {
	return c.do("DELETE", c.homeURL(fmt.Sprintf("/zones/%d/overlay", zoneID)), nil, nil)
}

func (c *Client) SetPresence(presence string) error {
	if presence == "AUTO" {
		return c.do("DELETE", c.homeURL("/presenceLock"), nil, nil)
	}
	body := map[string]string{"homePresence": presence}
	return c.do("PUT", c.homeURL("/presenceLock"), body, nil)
}

func (c *Client) SetEIQMeterReading(date string, reading int) (map[string]any, error) {
	var out map[string]any
	url := fmt.Sprintf("%s/homes/%d/meterReadings", energyInsightsAPI, c.homeID)
	body := map[string]any{"date": date, "reading": reading}
	if err := c.do("POST", url, body, &out); err != nil {
		return nil, err
	}
	return out, nil
}
