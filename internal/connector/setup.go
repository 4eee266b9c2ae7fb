package connector

import (
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/ha-addons/tado-bridge/internal/device"
	"github.com/ha-addons/tado-bridge/internal/model"
	"github.com/ha-addons/tado-bridge/internal/tado"
)

// Setup authenticates, resolves the single home, and captures the zone and
// device listings. Authentication failures and malformed home data are
// fatal; transient remote failures surface as-is so the caller can retry
// later. Zone and device fetches never run when home resolution fails.
func (c *Connector) Setup() error {
	client, err := c.factory(c.tokenFile)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize API client; token may be invalid, reauthorize the bridge")
		return err
	}

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()

	c.track(1)
	me, err := client.Me()
	if err != nil {
		return fmt.Errorf("fetching account info: %w", err)
	}
	home, err := extractHomeInfo(me)
	if err != nil {
		return err
	}

	if scoper, ok := client.(HomeScoper); ok {
		scoper.UseHome(home.ID)
	}

	c.mu.Lock()
	c.home = home
	c.norm.IsX = home.IsX
	c.mu.Unlock()

	c.track(1)
	rawZones, err := client.Zones()
	if err != nil {
		return fmt.Errorf("fetching zones: %w", err)
	}

	zones := make([]model.Zone, 0, len(rawZones))
	zonesByID := make(map[int]map[string]any, len(rawZones))
	for _, raw := range rawZones {
		info := device.ToMap(raw)
		zoneID, err := extractZoneID(info)
		if err != nil {
			log.Warn().Err(err).Msg("Skipping zone with unusable id")
			continue
		}
		name := device.StringField(info, "name", "roomName", "room_name")
		if name == "" {
			name = strconv.Itoa(zoneID)
		}
		zoneType := device.StringField(info, "type")
		if zoneType == "" {
			zoneType = model.TypeHeating
		}

		var zoneDevices []map[string]any
		if rawDevices, ok := info["devices"].([]any); ok {
			zoneDevices = make([]map[string]any, 0, len(rawDevices))
			for index, rawDevice := range rawDevices {
				zoneDevices = append(zoneDevices, c.norm.Normalize(rawDevice, index))
			}
		}

		zonesByID[zoneID] = info
		zones = append(zones, model.Zone{
			ID:      zoneID,
			Name:    name,
			Type:    zoneType,
			Devices: zoneDevices,
		})
	}

	c.track(1)
	rawDevices, err := client.Devices()
	if err != nil {
		return fmt.Errorf("fetching devices: %w", err)
	}
	devices := make([]map[string]any, 0, len(rawDevices))
	for index, raw := range rawDevices {
		devices = append(devices, c.norm.Normalize(raw, index))
	}

	c.mu.Lock()
	c.zones = zones
	c.zonesByID = zonesByID
	c.devices = devices
	c.mu.Unlock()

	log.Info().
		Int("home_id", home.ID).
		Str("home_name", home.Name).
		Bool("is_x", home.IsX).
		Int("zones", len(zones)).
		Int("devices", len(devices)).
		Msg("Connector setup complete")

	c.engine.ApplyStatic()
	return nil
}

// extractHomeInfo resolves exactly one home from the account payload,
// tolerating list, mapping, and singular shapes. Zero homes or a home
// without id/name is a fatal setup error.
func extractHomeInfo(me any) (model.Home, error) {
	var homes []any
	switch v := me.(type) {
	case []any:
		homes = v
	case map[string]any:
		switch h := v["homes"].(type) {
		case []any:
			homes = h
		case map[string]any:
			homes = []any{h}
		default:
			if h, ok := v["home"].(map[string]any); ok {
				homes = []any{h}
			}
		}
	}
	if len(homes) == 0 {
		return model.Home{}, fmt.Errorf("%w: no homes returned", tado.ErrPermanent)
	}

	info := device.ToMap(homes[0])
	idField := device.StringField(info, "id")
	name := device.StringField(info, "name")
	if idField == "" || name == "" {
		return model.Home{}, fmt.Errorf("%w: invalid home data returned", tado.ErrPermanent)
	}
	homeID, err := strconv.Atoi(idField)
	if err != nil {
		return model.Home{}, fmt.Errorf("%w: invalid home id %q", tado.ErrPermanent, idField)
	}

	generation := device.StringField(info, "generation")
	return model.Home{
		ID:         homeID,
		Name:       name,
		Generation: generation,
		IsX:        generation == model.GenerationLineX,
	}, nil
}

func extractZoneID(info map[string]any) (int, error) {
	idField := device.StringField(info, "id", "roomId", "room_id")
	if idField == "" {
		return 0, fmt.Errorf("zone record has no id")
	}
	zoneID, err := strconv.Atoi(idField)
	if err != nil {
		return 0, fmt.Errorf("unparseable zone id %q", idField)
	}
	return zoneID, nil
}
