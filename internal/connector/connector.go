// Package connector owns the authenticated session to the climate cloud
// API, reconciles remote state into the in-memory model, and publishes
// change notifications.
package connector

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ha-addons/tado-bridge/internal/bus"
	"github.com/ha-addons/tado-bridge/internal/device"
	"github.com/ha-addons/tado-bridge/internal/model"
	"github.com/ha-addons/tado-bridge/internal/offset"
	"github.com/ha-addons/tado-bridge/internal/tado"
)

// ClientFactory builds an authenticated API client from a token file.
type ClientFactory func(tokenFile string) (tado.API, error)

// HomeScoper is implemented by clients whose home-level calls need the home
// id resolved during setup.
type HomeScoper interface {
	UseHome(homeID int)
}

// Config carries the connector's slice of the bridge configuration.
type Config struct {
	TokenFile string
	Fallback  string

	ScanIntervalSeconds int

	DeviceIDOverrides     map[string]string
	DeviceTypeIDOverrides map[string]string
	DeviceOffsets         map[string]float64
	DeviceTypeOffsets     map[string]float64
	DeviceZoneMap         map[string]string
	ZoneSensorMap         map[string][]string
	LinkablePrefixes      []string
}

// Connector reconciles one home. It is driven by an external scheduler, one
// invocation at a time per timer; the internal mutex serializes the state
// shared between the full poll and the offset recalculation timer.
type Connector struct {
	factory    ClientFactory
	dispatcher bus.Dispatcher
	norm       *device.Normalizer
	engine     *offset.Engine

	tokenFile string
	fallback  string

	now func() time.Time

	mu     sync.RWMutex
	client tado.API
	home   model.Home

	scanIntervalSeconds int

	zones     []model.Zone
	zonesByID map[int]map[string]any
	devices   []map[string]any

	deviceData       map[string]map[string]any
	mobileDeviceData map[string]map[string]any
	weather          map[string]any
	geofence         map[string]any
	zoneData         map[int]model.ZoneData

	apiCallDate  string
	apiCallCount int

	zoneLastSnapshot    map[int]zoneSnapshot
	zoneLastSnapshotLog map[int]time.Time
	lastPollSummary     string
}

// New wires a connector and its offset engine. sensors reads external
// reference-sensor states for the auto-adjust loop.
func New(cfg Config, factory ClientFactory, dispatcher bus.Dispatcher, sensors offset.Sensors) *Connector {
	c := &Connector{
		factory:    factory,
		dispatcher: dispatcher,
		tokenFile:  cfg.TokenFile,
		fallback:   cfg.Fallback,
		now:        time.Now,

		scanIntervalSeconds: cfg.ScanIntervalSeconds,

		zonesByID:        make(map[int]map[string]any),
		deviceData:       make(map[string]map[string]any),
		mobileDeviceData: make(map[string]map[string]any),
		zoneData:         make(map[int]model.ZoneData),

		zoneLastSnapshot:    make(map[int]zoneSnapshot),
		zoneLastSnapshotLog: make(map[int]time.Time),
	}
	c.apiCallDate = c.today()

	c.norm = &device.Normalizer{
		IDOverrides:     cfg.DeviceIDOverrides,
		TypeIDOverrides: cfg.DeviceTypeIDOverrides,
	}
	c.engine = offset.NewEngine(c.norm, (*trackedWriter)(c), sensors, c, offset.Config{
		DeviceOffsets:     cfg.DeviceOffsets,
		DeviceTypeOffsets: cfg.DeviceTypeOffsets,
		DeviceZoneMap:     cfg.DeviceZoneMap,
		ZoneSensorMap:     cfg.ZoneSensorMap,
		LinkablePrefixes:  cfg.LinkablePrefixes,
	})
	c.engine.OnSet = func(deviceID string) {
		c.send(model.CategoryDevice, deviceID)
	}
	c.engine.Refresh = func() { c.UpdateDevices() }
	return c
}

// Offsets exposes the offset engine to the scheduler and the sensor
// watcher.
func (c *Connector) Offsets() *offset.Engine { return c.engine }

// Fallback returns the configured fallback overlay mode.
func (c *Connector) Fallback() string { return c.fallback }

// trackedWriter routes the engine's remote writes through API-call
// accounting.
type trackedWriter Connector

func (w *trackedWriter) SetTempOffset(deviceID string, value float64) error {
	c := (*Connector)(w)
	client := c.session()
	if client == nil {
		return fmt.Errorf("client session not established")
	}
	c.track(1)
	return client.SetTempOffset(deviceID, value)
}

func (c *Connector) session() tado.API {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}

func (c *Connector) send(category, entityID string) {
	c.mu.RLock()
	homeID := c.home.ID
	c.mu.RUnlock()
	if homeID == 0 {
		return
	}
	c.dispatcher.Send(bus.Signal{HomeID: homeID, Category: category, EntityID: entityID})
}

func (c *Connector) today() string {
	return c.now().Format("2006-01-02")
}

// track increments the API-call counter for the current local calendar
// date, resetting it the first time the observed date differs.
func (c *Connector) track(count int) {
	c.mu.Lock()
	today := c.today()
	if today != c.apiCallDate {
		log.Info().
			Str("date", today).
			Int("previous_count", c.apiCallCount).
			Msg("API call counter reset")
		c.apiCallDate = today
		c.apiCallCount = 0
	}
	c.apiCallCount += count
	c.mu.Unlock()

	c.send(model.CategoryAPICalls, "")
}

// APICallCount returns today's cumulative outbound call count.
func (c *Connector) APICallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if today := c.today(); today != c.apiCallDate {
		log.Info().
			Str("date", today).
			Int("previous_count", c.apiCallCount).
			Msg("API call counter reset")
		c.apiCallDate = today
		c.apiCallCount = 0
	}
	return c.apiCallCount
}

// APICallDate returns the local calendar date the counter is scoped to.
func (c *Connector) APICallDate() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if today := c.today(); today != c.apiCallDate {
		c.apiCallDate = today
		c.apiCallCount = 0
	}
	return c.apiCallDate
}

// Home returns the installation identity resolved at setup.
func (c *Connector) Home() model.Home {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.home
}

// Zones returns the zone listing captured at setup.
func (c *Connector) Zones() []model.Zone {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Zone, len(c.zones))
	copy(out, c.zones)
	return out
}

// Devices returns the normalized device listing from the most recent poll.
func (c *Connector) Devices() []map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]map[string]any, len(c.devices))
	copy(out, c.devices)
	return out
}

// ZoneCurrentTemp reports the current temperature of a zone, when known.
func (c *Connector) ZoneCurrentTemp(zoneID int) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := c.zoneData[zoneID]
	if !ok || data.CurrentTemp == nil {
		return 0, false
	}
	return *data.CurrentTemp, true
}

// ZoneData returns the runtime view of a zone from the most recent poll.
func (c *Connector) ZoneData(zoneID int) (model.ZoneData, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := c.zoneData[zoneID]
	return data, ok
}

// DeviceData returns the per-device data mapping from the most recent poll.
func (c *Connector) DeviceData() map[string]map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]map[string]any, len(c.deviceData))
	for id, info := range c.deviceData {
		out[id] = info
	}
	return out
}

// MobileDeviceData returns the per-mobile-device data mapping.
func (c *Connector) MobileDeviceData() map[string]map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]map[string]any, len(c.mobileDeviceData))
	for id, info := range c.mobileDeviceData {
		out[id] = info
	}
	return out
}

// Weather returns the last fetched weather record.
func (c *Connector) Weather() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.weather
}

// Geofence returns the last fetched home presence state.
func (c *Connector) Geofence() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.geofence
}

// Options carries the runtime-mutable option maps.
type Options struct {
	DeviceIDOverrides   map[string]string
	DeviceOffsets       map[string]float64
	DeviceZoneMap       map[string]string
	ZoneSensorMap       map[string][]string
	ScanIntervalSeconds int
}

// UpdateRuntimeOptions swaps the override/offset/zone maps and the scan
// interval without re-running setup.
func (c *Connector) UpdateRuntimeOptions(opts Options) {
	c.mu.Lock()
	if opts.DeviceIDOverrides != nil {
		c.norm.IDOverrides = opts.DeviceIDOverrides
	}
	if opts.ScanIntervalSeconds > 0 {
		c.scanIntervalSeconds = opts.ScanIntervalSeconds
	}
	c.mu.Unlock()

	c.engine.UpdateMaps(opts.DeviceOffsets, opts.DeviceZoneMap, opts.ZoneSensorMap)
}

// ScanIntervalSeconds returns the active full-poll interval.
func (c *Connector) ScanIntervalSeconds() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.scanIntervalSeconds
}
