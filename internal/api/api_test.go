package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ha-addons/tado-bridge/internal/bus"
	"github.com/ha-addons/tado-bridge/internal/connector"
	"github.com/ha-addons/tado-bridge/internal/store"
	"github.com/ha-addons/tado-bridge/internal/tado"
)

type stubAPI struct{ presence string }

func (s *stubAPI) Me() (any, error) {
	return map[string]any{"homes": []any{
		map[string]any{"id": float64(1), "name": "Demo Home"},
	}}, nil
}

func (s *stubAPI) Zones() ([]any, error) {
	return []any{map[string]any{"id": float64(1), "name": "Bedroom", "type": "HEATING"}}, nil
}

func (s *stubAPI) Zone(zoneID int) (map[string]any, error) {
	return map[string]any{"id": float64(zoneID)}, nil
}

func (s *stubAPI) ZoneState(int) (map[string]any, error) {
	return map[string]any{
		"setting": map[string]any{"power": "ON", "type": "HEATING", "temperature": map[string]any{"celsius": 21.0}},
		"sensorDataPoints": map[string]any{
			"insideTemperature": map[string]any{"celsius": 20.0},
		},
		"link": map[string]any{"state": "ONLINE"},
	}, nil
}

func (s *stubAPI) Capabilities(int) (map[string]any, error) {
	return map[string]any{"type": "HEATING"}, nil
}

func (s *stubAPI) Devices() ([]any, error) {
	return []any{map[string]any{"type": "VA02", "serialNo": "VA1", "shortSerialNo": "VA1"}}, nil
}

func (s *stubAPI) MobileDevices() ([]any, error)      { return nil, nil }
func (s *stubAPI) Weather() (map[string]any, error)   { return map[string]any{}, nil }
func (s *stubAPI) HomeState() (map[string]any, error) { return map[string]any{}, nil }

func (s *stubAPI) TempOffset(string) (map[string]any, error) {
	return map[string]any{"celsius": 0.0}, nil
}

func (s *stubAPI) SetTempOffset(string, float64) error        { return nil }
func (s *stubAPI) SetZoneOverlay(int, tado.Overlay) error     { return nil }
func (s *stubAPI) ResetZoneOverlay(int) error                 { return nil }
func (s *stubAPI) SetPresence(presence string) error          { s.presence = presence; return nil }
func (s *stubAPI) SetEIQMeterReading(string, int) (map[string]any, error) {
	return map[string]any{"status": "ok"}, nil
}

type noSensors struct{}

func (noSensors) State(string) (string, bool) { return "", false }

func newTestServer(t *testing.T) (*Server, *connector.Connector) {
	t.Helper()
	conn := connector.New(connector.Config{
		TokenFile: "token.json",
		Fallback:  "TADO_MODE",
	}, func(string) (tado.API, error) {
		return &stubAPI{}, nil
	}, bus.New(), noSensors{})
	require.NoError(t, conn.Setup())
	conn.Update()

	options, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { options.Close() })

	reg := prometheus.NewRegistry()
	return NewServer(conn, options, reg), conn
}

func doRequest(t *testing.T, server *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doRequest(t, server, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetZones(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doRequest(t, server, http.MethodGet, "/api/zones", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var zones []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &zones))
	require.Len(t, zones, 1)
	assert.Equal(t, "Bedroom", zones[0]["name"])
	assert.Contains(t, zones[0], "data")
}

func TestGetZone(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodGet, "/api/zones/1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, server, http.MethodGet, "/api/zones/99", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, server, http.MethodGet, "/api/zones/bedroom", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetState(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doRequest(t, server, http.MethodGet, "/api/state", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var state map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Contains(t, state, "home")
	assert.Contains(t, state, "api_calls_today")
}

func TestSetOverlay(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodPost, "/api/zones/1/overlay", `{"temperature": 22.0}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = doRequest(t, server, http.MethodPost, "/api/zones/1/overlay", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, server, http.MethodDelete, "/api/zones/1/overlay", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestSetPresence(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodPost, "/api/presence", `{"presence": "AWAY"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = doRequest(t, server, http.MethodPost, "/api/presence", `{"presence": "ELSEWHERE"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOptionsRoundTrip(t *testing.T) {
	server, conn := newTestServer(t)

	rec := doRequest(t, server, http.MethodGet, "/api/options", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := `{"scan_interval_seconds": 120, "zone_sensor_map": {"1": "sensor.bedroom"}}`
	rec = doRequest(t, server, http.MethodPut, "/api/options", body)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 120, conn.ScanIntervalSeconds())
	assert.Equal(t, map[string][]string{"1": {"sensor.bedroom"}}, conn.Offsets().ZoneSensorMap())

	rec = doRequest(t, server, http.MethodGet, "/api/options", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var opts store.Options
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &opts))
	assert.Equal(t, 120, opts.ScanIntervalSeconds)
}

func TestMeterReading(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodPost, "/api/meter-readings", `{"reading": 12345}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doRequest(t, server, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
