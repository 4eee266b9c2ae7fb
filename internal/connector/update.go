package connector

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ha-addons/tado-bridge/internal/config"
	"github.com/ha-addons/tado-bridge/internal/device"
	"github.com/ha-addons/tado-bridge/internal/model"
)

const unchangedLogInterval = 5 * time.Minute

// Update runs one full poll cycle. Each step absorbs its own transient
// failures: a failing step is logged and skipped, previously stored data is
// retained, and the remaining steps still run.
func (c *Connector) Update() {
	offsetCalls := c.UpdateDevices()
	c.UpdateMobileDevices()
	zoneInfoCalls, zoneStateCalls := c.UpdateZones()
	c.UpdateHome()
	c.logPollSummary(offsetCalls, zoneInfoCalls, zoneStateCalls)
}

// UpdateDevices re-fetches the device listing. Legacy-generation devices
// with the inside-temperature-measurement capability additionally get their
// remote temperature-offset record, counted separately. Returns the number
// of offset fetches performed.
func (c *Connector) UpdateDevices() int {
	offsetCalls := 0
	client := c.session()
	if client == nil {
		return offsetCalls
	}

	c.track(1)
	rawDevices, err := client.Devices()
	if err != nil {
		log.Error().Err(err).Msg("Unable to connect to Tado while updating devices")
		return offsetCalls
	}
	if len(rawDevices) == 0 {
		log.Debug().Int("home_id", c.Home().ID).Msg("No linked devices found")
		return offsetCalls
	}

	isX := c.Home().IsX
	devices := make([]map[string]any, 0, len(rawDevices))
	for index, raw := range rawDevices {
		info := c.norm.Normalize(raw, index)
		devices = append(devices, info)

		var deviceID string
		if isX {
			deviceID = device.StringField(info, "serialNumber")
		} else {
			deviceID = device.StringField(info, "shortSerialNo")
		}
		if deviceID == "" {
			log.Debug().Str("device_key", c.norm.Key(info, index)).Msg("Skipping device without id")
			continue
		}

		if !isX && hasCapability(info, model.InsideTemperatureMeasurement) {
			c.track(1)
			tempOffset, err := client.TempOffset(deviceID)
			if err != nil {
				log.Error().Err(err).Str("device", deviceID).Msg("Unable to connect to Tado while updating device")
				return offsetCalls
			}
			info[model.TempOffsetField] = tempOffset
			offsetCalls++
		}

		c.mu.Lock()
		c.deviceData[deviceID] = info
		c.mu.Unlock()
		c.send(model.CategoryDevice, deviceID)
	}

	c.mu.Lock()
	c.devices = devices
	c.mu.Unlock()
	return offsetCalls
}

func hasCapability(info map[string]any, capability string) bool {
	caps, ok := nested(info, "characteristics", "capabilities").([]any)
	if !ok {
		return false
	}
	for _, candidate := range caps {
		if candidate == capability {
			return true
		}
	}
	return false
}

// UpdateMobileDevices re-fetches the mobile device listing and emits one
// batch change notification.
func (c *Connector) UpdateMobileDevices() {
	client := c.session()
	if client == nil {
		return
	}

	c.track(1)
	rawDevices, err := client.MobileDevices()
	if err != nil {
		log.Error().Err(err).Msg("Unable to connect to Tado while updating mobile devices")
		return
	}
	if len(rawDevices) == 0 {
		log.Debug().Int("home_id", c.Home().ID).Msg("No linked mobile devices found")
		return
	}

	for _, raw := range rawDevices {
		info := device.ToMap(raw)
		deviceID := device.StringField(info, "id")
		if deviceID == "" {
			continue
		}
		c.mu.Lock()
		c.mobileDeviceData[deviceID] = info
		c.mu.Unlock()
	}
	c.send(model.CategoryMobileDevice, "")
}

// UpdateZones re-polls every known zone. Returns the zone-info and
// zone-state call counts for poll accounting.
func (c *Connector) UpdateZones() (int, int) {
	c.mu.RLock()
	zoneIDs := make([]int, 0, len(c.zonesByID))
	for zoneID := range c.zonesByID {
		zoneIDs = append(zoneIDs, zoneID)
	}
	c.mu.RUnlock()
	sort.Ints(zoneIDs)

	zoneInfoCalls, zoneStateCalls := 0, 0
	for _, zoneID := range zoneIDs {
		infoCalls, stateCalls := c.UpdateZone(zoneID)
		zoneInfoCalls += infoCalls
		zoneStateCalls += stateCalls
	}
	return zoneInfoCalls, zoneStateCalls
}

// UpdateZone refreshes one zone: zone info when not cached, then zone
// state, adapted into the canonical runtime view.
func (c *Connector) UpdateZone(zoneID int) (int, int) {
	zoneInfoCalls, zoneStateCalls := 0, 0
	client := c.session()
	if client == nil {
		return zoneInfoCalls, zoneStateCalls
	}

	c.mu.RLock()
	zone := c.zonesByID[zoneID]
	c.mu.RUnlock()

	if zone == nil {
		c.track(1)
		fetched, err := client.Zone(zoneID)
		zoneInfoCalls++
		if err != nil {
			log.Error().Err(err).Int("zone", zoneID).Msg("Unable to connect to Tado while updating zone")
			return zoneInfoCalls, zoneStateCalls
		}
		zone = fetched
		c.mu.Lock()
		c.zonesByID[zoneID] = zone
		c.mu.Unlock()
	}

	c.track(1)
	state, err := client.ZoneState(zoneID)
	zoneStateCalls++
	if err != nil {
		log.Error().Err(err).Int("zone", zoneID).Msg("Unable to connect to Tado while updating zone")
		return zoneInfoCalls, zoneStateCalls
	}

	data := AdaptZoneState(state)
	c.mu.Lock()
	c.zoneData[zoneID] = data
	c.mu.Unlock()

	c.logZoneChange(zoneID, data)
	c.send(model.CategoryZone, fmt.Sprintf("%d", zoneID))
	return zoneInfoCalls, zoneStateCalls
}

// UpdateHome fetches weather and geofence data and emits one home-level
// change notification.
func (c *Connector) UpdateHome() {
	client := c.session()
	if client == nil {
		return
	}

	c.track(1)
	weather, err := client.Weather()
	if err != nil {
		log.Error().Err(err).Msg("Unable to connect to Tado while updating weather and geofence data")
		return
	}
	c.track(1)
	geofence, err := client.HomeState()
	if err != nil {
		log.Error().Err(err).Msg("Unable to connect to Tado while updating weather and geofence data")
		return
	}

	c.mu.Lock()
	c.weather = weather
	c.geofence = geofence
	c.mu.Unlock()
	c.send(model.CategoryHome, "data")
}

// zoneSnapshot is the comparable content hash used to rate-limit
// "unchanged" poll logging.
type zoneSnapshot struct {
	currentTemp     float64
	hasCurrentTemp  bool
	humidity        float64
	hasHumidity     bool
	targetTemp      float64
	hasTargetTemp   bool
	heatingPower    float64
	hasHeatingPower bool
	hvacMode        string
	hvacAction      string
	openWindow      bool
	overlayActive   bool
}

func snapshotOf(data model.ZoneData) zoneSnapshot {
	snap := zoneSnapshot{
		hvacMode:      data.HVACMode,
		hvacAction:    data.HVACAction,
		openWindow:    data.OpenWindow,
		overlayActive: data.OverlayActive,
	}
	if data.CurrentTemp != nil {
		snap.currentTemp, snap.hasCurrentTemp = *data.CurrentTemp, true
	}
	if data.CurrentHumidity != nil {
		snap.humidity, snap.hasHumidity = *data.CurrentHumidity, true
	}
	if data.TargetTemp != nil {
		snap.targetTemp, snap.hasTargetTemp = *data.TargetTemp, true
	}
	if data.HeatingPowerPercentage != nil {
		snap.heatingPower, snap.hasHeatingPower = *data.HeatingPowerPercentage, true
	}
	return snap
}

// logZoneChange logs "changed" immediately but rate-limits "unchanged" to
// once per five minutes per zone.
func (c *Connector) logZoneChange(zoneID int, data model.ZoneData) {
	snapshot := snapshotOf(data)

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if previous, ok := c.zoneLastSnapshot[zoneID]; !ok || snapshot != previous {
		c.zoneLastSnapshot[zoneID] = snapshot
		c.zoneLastSnapshotLog[zoneID] = now
		log.Debug().Int("zone", zoneID).Msg("Zone changed")
		return
	}
	if last, ok := c.zoneLastSnapshotLog[zoneID]; !ok || now.Sub(last) >= unchangedLogInterval {
		log.Debug().Int("zone", zoneID).Msg("Zone unchanged")
		c.zoneLastSnapshotLog[zoneID] = now
	}
}

// logPollSummary logs one line per distinct poll shape; identical
// consecutive summaries are suppressed.
func (c *Connector) logPollSummary(offsetCalls, zoneInfoCalls, zoneStateCalls int) {
	totalRequests := 1 + 1 + 2 + zoneInfoCalls + zoneStateCalls + offsetCalls
	apiCallsToday := c.APICallCount()

	c.mu.Lock()
	defer c.mu.Unlock()
	summary := fmt.Sprintf(
		"scan_interval=%ds mobile_interval=%ds zones=%d devices=%d mobile_devices=%d requests_per_poll=%d api_calls_today=%d (device=1 mobile=1 home=2 zone_info=%d zone_state=%d temp_offset=%d)",
		c.scanIntervalSeconds,
		config.MobileScanIntervalSeconds,
		len(c.zonesByID),
		len(c.devices),
		len(c.mobileDeviceData),
		totalRequests,
		apiCallsToday,
		zoneInfoCalls,
		zoneStateCalls,
		offsetCalls,
	)
	if summary != c.lastPollSummary {
		log.Info().Msg("Polling summary: " + summary)
		c.lastPollSummary = summary
	}
}
