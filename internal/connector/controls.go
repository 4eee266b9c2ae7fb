package connector

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/ha-addons/tado-bridge/internal/model"
	"github.com/ha-addons/tado-bridge/internal/tado"
)

// OverlayRequest describes a manual zone override. Zero-valued fields are
// omitted from the remote write.
type OverlayRequest struct {
	ZoneID          int
	TerminationMode string
	Temperature     *float64
	DurationSeconds int
	DeviceType      string
	HVACMode        string
	FanSpeed        string
	Swing           string
	FanLevel        string
	VerticalSwing   string
	HorizontalSwing string
}

// SetZoneOverlay writes a manual override and re-polls the zone. A rejected
// write is logged and absorbed; the re-poll reconciles local state.
func (c *Connector) SetZoneOverlay(req OverlayRequest) {
	client := c.session()
	if client == nil {
		log.Error().Msg("Cannot set zone overlay: client session not established")
		return
	}
	if req.DeviceType == "" {
		req.DeviceType = model.TypeHeating
	}

	log.Debug().
		Int("zone", req.ZoneID).
		Str("overlay_mode", req.TerminationMode).
		Interface("temperature", req.Temperature).
		Int("duration", req.DurationSeconds).
		Str("type", req.DeviceType).
		Str("mode", req.HVACMode).
		Str("fan_speed", req.FanSpeed).
		Str("swing", req.Swing).
		Str("fan_level", req.FanLevel).
		Str("vertical_swing", req.VerticalSwing).
		Str("horizontal_swing", req.HorizontalSwing).
		Msg("Setting zone overlay")

	c.track(1)
	err := client.SetZoneOverlay(req.ZoneID, tado.Overlay{
		TerminationMode: req.TerminationMode,
		DurationSeconds: req.DurationSeconds,
		DeviceType:      req.DeviceType,
		Power:           "ON",
		Temperature:     req.Temperature,
		HVACMode:        req.HVACMode,
		FanSpeed:        req.FanSpeed,
		Swing:           req.Swing,
		FanLevel:        req.FanLevel,
		VerticalSwing:   req.VerticalSwing,
		HorizontalSwing: req.HorizontalSwing,
	})
	if err != nil {
		log.Error().Err(err).Int("zone", req.ZoneID).Msg("Could not set zone overlay")
	}

	c.UpdateZone(req.ZoneID)
}

// SetZoneOff writes a power-off override for the zone.
func (c *Connector) SetZoneOff(zoneID int, overlayMode, deviceType string) {
	client := c.session()
	if client == nil {
		log.Error().Msg("Cannot set zone off: client session not established")
		return
	}
	if deviceType == "" {
		deviceType = model.TypeHeating
	}

	c.track(1)
	err := client.SetZoneOverlay(zoneID, tado.Overlay{
		TerminationMode: overlayMode,
		DeviceType:      deviceType,
		Power:           "OFF",
	})
	if err != nil {
		log.Error().Err(err).Int("zone", zoneID).Msg("Could not set zone overlay")
	}

	c.UpdateZone(zoneID)
}

// ResetZoneOverlay returns the zone to its scheduled operation.
func (c *Connector) ResetZoneOverlay(zoneID int) {
	client := c.session()
	if client == nil {
		log.Error().Msg("Cannot reset zone overlay: client session not established")
		return
	}

	c.track(1)
	if err := client.ResetZoneOverlay(zoneID); err != nil {
		log.Error().Err(err).Int("zone", zoneID).Msg("Could not reset zone overlay")
	}

	c.UpdateZone(zoneID)
}

// SetPresence switches home/away/auto. Geofencing affects every zone, so a
// full zone and home re-poll follows.
func (c *Connector) SetPresence(presence string) error {
	client := c.session()
	if client == nil {
		return fmt.Errorf("client session not established")
	}
	switch presence {
	case model.PresenceHome, model.PresenceAway, model.PresenceAuto:
	default:
		return fmt.Errorf("invalid presence %q", presence)
	}

	c.track(1)
	if err := client.SetPresence(presence); err != nil {
		log.Error().Err(err).Str("presence", presence).Msg("Could not set presence")
	}

	c.UpdateZones()
	c.UpdateHome()
	return nil
}

// SetTemperatureOffset delegates the write to the offset engine. Unless
// suppressed, a full device refresh follows.
func (c *Connector) SetTemperatureOffset(deviceID string, value float64, deviceKey string, updateDevices bool) error {
	return c.engine.Set(deviceID, value, deviceKey, updateDevices)
}

// SetMeterReading submits an energy-meter reading dated today. Unlike
// overlay and offset writes, a failure here is surfaced to the caller.
func (c *Connector) SetMeterReading(reading int) (map[string]any, error) {
	client := c.session()
	if client == nil {
		return nil, fmt.Errorf("client session not established")
	}

	c.track(1)
	response, err := client.SetEIQMeterReading(c.today(), reading)
	if err != nil {
		return nil, fmt.Errorf("could not set meter reading: %w", err)
	}
	return response, nil
}

// GetCapabilities returns the control capabilities of a zone. X-line homes
// report a fixed heating capability without a remote call.
func (c *Connector) GetCapabilities(zoneID int) (map[string]any, error) {
	if c.Home().IsX {
		return map[string]any{"type": model.TypeHeating}, nil
	}
	client := c.session()
	if client == nil {
		return nil, fmt.Errorf("client session not established")
	}
	c.track(1)
	return client.Capabilities(zoneID)
}
