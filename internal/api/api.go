// Package api is the HTTP surface platform glue talks to: read-only
// snapshots of the reconciled state, imperative control operations, and
// runtime option updates.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/ha-addons/tado-bridge/internal/config"
	"github.com/ha-addons/tado-bridge/internal/connector"
	"github.com/ha-addons/tado-bridge/internal/store"
)

type Server struct {
	conn    *connector.Connector
	options *store.Store
	reg     *prometheus.Registry
}

func NewServer(conn *connector.Connector, options *store.Store, reg *prometheus.Registry) *Server {
	return &Server{conn: conn, options: options, reg: reg}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method("GET", "/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Get("/zones", s.handleZones)
		r.Get("/zones/{zoneID}", s.handleZone)
		r.Get("/zones/{zoneID}/capabilities", s.handleZoneCapabilities)
		r.Post("/zones/{zoneID}/overlay", s.handleSetOverlay)
		r.Delete("/zones/{zoneID}/overlay", s.handleResetOverlay)
		r.Post("/zones/{zoneID}/off", s.handleZoneOff)
		r.Post("/presence", s.handlePresence)
		r.Get("/devices", s.handleDevices)
		r.Get("/mobile-devices", s.handleMobileDevices)
		r.Put("/devices/{deviceID}/offset", s.handleSetOffset)
		r.Post("/meter-readings", s.handleMeterReading)
		r.Get("/options", s.handleGetOptions)
		r.Put("/options", s.handlePutOptions)
	})
	return r
}

func (s *Server) Start(addr string) error {
	log.Info().Str("address", addr).Msg("Starting REST API server")
	return http.ListenAndServe(addr, s.Router())
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			log.Error().Err(err).Msg("Failed to encode response")
		}
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	home := s.conn.Home()
	writeJSON(w, http.StatusOK, map[string]any{
		"home":            home,
		"api_calls_today": s.conn.APICallCount(),
		"api_call_date":   s.conn.APICallDate(),
		"scan_interval":   s.conn.ScanIntervalSeconds(),
		"weather":         s.conn.Weather(),
		"geofence":        s.conn.Geofence(),
	})
}

func (s *Server) handleZones(w http.ResponseWriter, _ *http.Request) {
	zones := s.conn.Zones()
	out := make([]map[string]any, 0, len(zones))
	for _, zone := range zones {
		entry := map[string]any{
			"id":   zone.ID,
			"name": zone.Name,
			"type": zone.Type,
		}
		if data, ok := s.conn.ZoneData(zone.ID); ok {
			entry["data"] = data
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) zoneID(w http.ResponseWriter, r *http.Request) (int, bool) {
	zoneID, err := strconv.Atoi(chi.URLParam(r, "zoneID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid zone id")
		return 0, false
	}
	return zoneID, true
}

func (s *Server) handleZone(w http.ResponseWriter, r *http.Request) {
	zoneID, ok := s.zoneID(w, r)
	if !ok {
		return
	}
	for _, zone := range s.conn.Zones() {
		if zone.ID != zoneID {
			continue
		}
		entry := map[string]any{
			"id":      zone.ID,
			"name":    zone.Name,
			"type":    zone.Type,
			"devices": zone.Devices,
		}
		if data, ok := s.conn.ZoneData(zone.ID); ok {
			entry["data"] = data
		}
		writeJSON(w, http.StatusOK, entry)
		return
	}
	writeError(w, http.StatusNotFound, "unknown zone")
}

func (s *Server) handleZoneCapabilities(w http.ResponseWriter, r *http.Request) {
	zoneID, ok := s.zoneID(w, r)
	if !ok {
		return
	}
	caps, err := s.conn.GetCapabilities(zoneID)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, caps)
}

type overlayRequest struct {
	TerminationMode string   `json:"termination_mode"`
	Temperature     *float64 `json:"temperature"`
	DurationSeconds int      `json:"duration_seconds"`
	DeviceType      string   `json:"device_type"`
	Mode            string   `json:"mode"`
	FanSpeed        string   `json:"fan_speed"`
	Swing           string   `json:"swing"`
	FanLevel        string   `json:"fan_level"`
	VerticalSwing   string   `json:"vertical_swing"`
	HorizontalSwing string   `json:"horizontal_swing"`
}

// Overlay and offset writes are reconciled by the forced re-poll even when
// the remote rejects them, so these endpoints answer 202.
func (s *Server) handleSetOverlay(w http.ResponseWriter, r *http.Request) {
	zoneID, ok := s.zoneID(w, r)
	if !ok {
		return
	}
	var req overlayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TerminationMode == "" {
		req.TerminationMode = s.conn.Fallback()
	}

	s.conn.SetZoneOverlay(connector.OverlayRequest{
		ZoneID:          zoneID,
		TerminationMode: req.TerminationMode,
		Temperature:     req.Temperature,
		DurationSeconds: req.DurationSeconds,
		DeviceType:      req.DeviceType,
		HVACMode:        req.Mode,
		FanSpeed:        req.FanSpeed,
		Swing:           req.Swing,
		FanLevel:        req.FanLevel,
		VerticalSwing:   req.VerticalSwing,
		HorizontalSwing: req.HorizontalSwing,
	})
	writeJSON(w, http.StatusAccepted, nil)
}

func (s *Server) handleResetOverlay(w http.ResponseWriter, r *http.Request) {
	zoneID, ok := s.zoneID(w, r)
	if !ok {
		return
	}
	s.conn.ResetZoneOverlay(zoneID)
	writeJSON(w, http.StatusAccepted, nil)
}

func (s *Server) handleZoneOff(w http.ResponseWriter, r *http.Request) {
	zoneID, ok := s.zoneID(w, r)
	if !ok {
		return
	}
	var req struct {
		TerminationMode string `json:"termination_mode"`
		DeviceType      string `json:"device_type"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.TerminationMode == "" {
		req.TerminationMode = s.conn.Fallback()
	}
	s.conn.SetZoneOff(zoneID, req.TerminationMode, req.DeviceType)
	writeJSON(w, http.StatusAccepted, nil)
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Presence string `json:"presence"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.conn.SetPresence(req.Presence); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, nil)
}

func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": s.conn.Devices(),
		"data":    s.conn.DeviceData(),
	})
}

func (s *Server) handleMobileDevices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.conn.MobileDeviceData())
}

func (s *Server) handleSetOffset(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	var req struct {
		Offset    float64 `json:"offset"`
		DeviceKey string  `json:"device_key"`
		NoRefresh bool    `json:"no_refresh"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.conn.SetTemperatureOffset(deviceID, req.Offset, req.DeviceKey, !req.NoRefresh); err != nil {
		// Absorbed: the next device poll reconciles local state.
		log.Error().Err(err).Str("device", deviceID).Msg("Offset write failed")
	}
	writeJSON(w, http.StatusAccepted, nil)
}

func (s *Server) handleMeterReading(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reading int `json:"reading"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	response, err := s.conn.SetMeterReading(req.Reading)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleGetOptions(w http.ResponseWriter, _ *http.Request) {
	opts, err := s.options.LoadOptions()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if opts == nil {
		opts = &store.Options{}
	}
	writeJSON(w, http.StatusOK, opts)
}

type optionsRequest struct {
	DeviceIDOverrides   map[string]string  `json:"device_id_overrides"`
	DeviceOffsets       map[string]float64 `json:"device_offsets"`
	DeviceZoneMap       map[string]string  `json:"device_zone_map"`
	ZoneSensorMap       map[string]any     `json:"zone_sensor_map"`
	ScanIntervalSeconds int                `json:"scan_interval_seconds"`
}

func (s *Server) handlePutOptions(w http.ResponseWriter, r *http.Request) {
	var req optionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	zoneSensorMap := config.NormalizeZoneSensorMap(req.ZoneSensorMap)
	opts := &store.Options{
		DeviceIDOverrides:   req.DeviceIDOverrides,
		DeviceOffsets:       req.DeviceOffsets,
		DeviceZoneMap:       req.DeviceZoneMap,
		ZoneSensorMap:       zoneSensorMap,
		ScanIntervalSeconds: req.ScanIntervalSeconds,
	}
	if err := s.options.SaveOptions(opts); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.conn.UpdateRuntimeOptions(connector.Options{
		DeviceIDOverrides:   req.DeviceIDOverrides,
		DeviceOffsets:       req.DeviceOffsets,
		DeviceZoneMap:       req.DeviceZoneMap,
		ZoneSensorMap:       zoneSensorMap,
		ScanIntervalSeconds: req.ScanIntervalSeconds,
	})

	if len(zoneSensorMap) > 0 {
		log.Info().Msg("Zone sensor map updated; triggering auto offset recalculation")
		go s.conn.Offsets().RecomputeAll()
	}
	writeJSON(w, http.StatusOK, opts)
}
