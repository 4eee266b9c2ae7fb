// Package offset tracks per-device temperature-offset state and implements
// the auto-adjustment feedback loop driven by external reference sensors.
package offset

import (
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ha-addons/tado-bridge/internal/device"
)

// Hysteresis threshold and clamp bounds are tuning heuristics of the control
// loop; changing them changes behavior observably.
const (
	hysteresis  = 0.1
	minOffset   = -10.0
	maxOffset   = 10.0
	noChangeLog = 5 * time.Minute
)

// Writer issues the remote temperature-offset write.
type Writer interface {
	SetTempOffset(deviceID string, offset float64) error
}

// Sensors reads external reference-sensor states. ok is false when the
// sensor is missing; unavailable/unknown states are returned verbatim.
type Sensors interface {
	State(entityID string) (state string, ok bool)
}

// Snapshot exposes the connector state the feedback loop reads.
type Snapshot interface {
	Devices() []map[string]any
	ZoneCurrentTemp(zoneID int) (float64, bool)
}

// Engine resolves offsets through three layers: runtime current values,
// statically configured per-device offsets, and per-device-type offsets
// (exact type, then "*" wildcard). Legacy bare keys are accepted as fallback
// lookups.
type Engine struct {
	norm     *device.Normalizer
	writer   Writer
	sensors  Sensors
	snapshot Snapshot

	// OnSet is invoked after a successful remote write, with the device id.
	OnSet func(deviceID string)
	// Refresh triggers a full device re-poll after a propagating write.
	Refresh func()

	mu            sync.Mutex
	static        map[string]float64
	typeStatic    map[string]float64
	current       map[string]float64
	deviceZoneMap map[string]string
	zoneSensorMap map[string][]string
	prefixes      []string
	applied       bool
	lastNoChange  map[int]time.Time

	now func() time.Time
}

type Config struct {
	DeviceOffsets     map[string]float64
	DeviceTypeOffsets map[string]float64
	DeviceZoneMap     map[string]string
	ZoneSensorMap     map[string][]string
	LinkablePrefixes  []string
}

func NewEngine(norm *device.Normalizer, writer Writer, sensors Sensors, snapshot Snapshot, cfg Config) *Engine {
	current := make(map[string]float64, len(cfg.DeviceOffsets))
	for key, value := range cfg.DeviceOffsets {
		current[key] = value
	}
	return &Engine{
		norm:          norm,
		writer:        writer,
		sensors:       sensors,
		snapshot:      snapshot,
		static:        copyFloats(cfg.DeviceOffsets),
		typeStatic:    copyFloats(cfg.DeviceTypeOffsets),
		current:       current,
		deviceZoneMap: copyStrings(cfg.DeviceZoneMap),
		zoneSensorMap: copySensorMap(cfg.ZoneSensorMap),
		prefixes:      cfg.LinkablePrefixes,
		lastNoChange:  make(map[int]time.Time),
		now:           time.Now,
	}
}

// UpdateMaps swaps the runtime option maps without disturbing current
// offsets or the one-shot static application flag.
func (e *Engine) UpdateMaps(offsets map[string]float64, zoneMap map[string]string, sensorMap map[string][]string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if offsets != nil {
		e.static = copyFloats(offsets)
	}
	if zoneMap != nil {
		e.deviceZoneMap = copyStrings(zoneMap)
	}
	if sensorMap != nil {
		e.zoneSensorMap = copySensorMap(sensorMap)
	}
}

// ZoneSensorMap returns a copy of the active zone-sensor map.
func (e *Engine) ZoneSensorMap() map[string][]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return copySensorMap(e.zoneSensorMap)
}

// Linkable reports whether a normalized device type participates in offset
// control.
func (e *Engine) Linkable(deviceType string) bool {
	if deviceType == "" {
		return false
	}
	for _, prefix := range e.prefixes {
		if strings.HasPrefix(deviceType, prefix) {
			return true
		}
	}
	return false
}

// Get resolves the offset for a device: current value by full key, then by
// the legacy bare suffix, then by any raw identifier match.
func (e *Engine) Get(info map[string]any, deviceKey string) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.getLocked(info, deviceKey)
}

func (e *Engine) getLocked(info map[string]any, deviceKey string) (float64, bool) {
	if deviceKey == "" {
		deviceKey = e.norm.Key(info, -1)
	}
	if value, ok := e.current[deviceKey]; ok {
		return value, true
	}
	if _, legacy, found := strings.Cut(deviceKey, ":"); found && legacy != "" {
		if value, ok := e.current[legacy]; ok {
			return value, true
		}
	}
	if id := device.ID(info); id != "" {
		if value, ok := e.current[id]; ok {
			return value, true
		}
	}
	return 0, false
}

func (e *Engine) setCurrentLocked(deviceKey string, value float64) {
	e.current[deviceKey] = value
	if _, legacy, found := strings.Cut(deviceKey, ":"); found && legacy != "" {
		e.current[legacy] = value
	}
}

// Set issues the remote offset write and records the current layer for both
// the full key and its legacy alias. When propagate is true a full device
// refresh follows so local state stays authoritative.
func (e *Engine) Set(deviceID string, value float64, deviceKey string, propagate bool) error {
	if deviceID == "" {
		log.Error().Msg("Missing device id for temperature offset")
		return nil
	}
	if err := e.writer.SetTempOffset(deviceID, value); err != nil {
		log.Error().Err(err).Str("device", deviceID).Msg("Could not set temperature offset")
		return err
	}

	e.mu.Lock()
	if deviceKey == "" {
		deviceKey = e.lookupKeyForIDLocked(deviceID)
	}
	if deviceKey != "" {
		e.setCurrentLocked(deviceKey, value)
	} else {
		e.current[deviceID] = value
	}
	e.mu.Unlock()

	if e.OnSet != nil {
		e.OnSet(deviceID)
	}
	if propagate && e.Refresh != nil {
		e.Refresh()
	}
	return nil
}

func (e *Engine) lookupKeyForIDLocked(deviceID string) string {
	for index, info := range e.snapshot.Devices() {
		if candidate := device.ID(info); candidate != "" && candidate == deviceID {
			return e.norm.Key(info, index)
		}
	}
	return ""
}

// ApplyStatic pushes the statically configured offsets to every known
// device. Runs exactly once per connector lifetime.
func (e *Engine) ApplyStatic() {
	e.mu.Lock()
	if e.applied || (len(e.static) == 0 && len(e.typeStatic) == 0) {
		e.mu.Unlock()
		return
	}
	e.applied = true
	e.mu.Unlock()

	for index, info := range e.snapshot.Devices() {
		deviceKey := e.norm.Key(info, index)
		value, ok := e.staticFor(info, deviceKey)
		if !ok {
			continue
		}
		deviceID := device.ID(info)
		if deviceID == "" {
			log.Warn().Str("device_key", deviceKey).Msg("Missing device id for static offset")
			continue
		}
		if err := e.writer.SetTempOffset(deviceID, value); err != nil {
			log.Error().Err(err).Str("device", deviceID).Msg("Could not apply static temperature offset")
			continue
		}
		e.mu.Lock()
		e.setCurrentLocked(deviceKey, value)
		e.mu.Unlock()
		log.Debug().
			Float64("offset", value).
			Str("device", deviceID).
			Str("device_key", deviceKey).
			Msg("Applied static temperature offset")
	}
}

func (e *Engine) staticFor(info map[string]any, deviceKey string) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if value, ok := e.static[deviceKey]; ok {
		return value, true
	}
	if _, legacy, found := strings.Cut(deviceKey, ":"); found && legacy != "" {
		if value, ok := e.static[legacy]; ok {
			return value, true
		}
	}
	if deviceType := e.norm.Type(info); deviceType != "" {
		if value, ok := e.typeStatic[deviceType]; ok {
			return value, true
		}
	}
	value, ok := e.typeStatic["*"]
	return value, ok
}

func (e *Engine) mappedZoneLocked(deviceKey string) (string, bool) {
	if zone, ok := e.deviceZoneMap[deviceKey]; ok {
		return zone, true
	}
	if _, legacy, found := strings.Cut(deviceKey, ":"); found && legacy != "" {
		if zone, ok := e.deviceZoneMap[legacy]; ok {
			return zone, true
		}
	}
	return "", false
}

// RecomputeZone runs one iteration of the feedback loop for a zone: the
// reference temperature is the minimum of the mapped sensors, the target is
// reference minus the zone's offset-free reading, clamped to [-10, 10] and
// rounded to one decimal. Devices already within the hysteresis band are
// left untouched.
func (e *Engine) RecomputeZone(zoneID int) {
	e.mu.Lock()
	if len(e.deviceZoneMap) == 0 || len(e.zoneSensorMap) == 0 {
		e.mu.Unlock()
		return
	}
	zoneKey := strconv.Itoa(zoneID)
	sensorIDs := append([]string(nil), e.zoneSensorMap[zoneKey]...)
	e.mu.Unlock()
	if len(sensorIDs) == 0 {
		return
	}

	var sensorTemps []float64
	for _, sensorID := range sensorIDs {
		state, ok := e.sensors.State(sensorID)
		if !ok || state == "unknown" || state == "unavailable" {
			log.Warn().Str("sensor", sensorID).Int("zone", zoneID).Msg("Sensor unavailable, discarding")
			continue
		}
		value, err := strconv.ParseFloat(state, 64)
		if err != nil {
			log.Warn().Str("sensor", sensorID).Str("state", state).Msg("Invalid sensor value")
			continue
		}
		sensorTemps = append(sensorTemps, value)
	}
	if len(sensorTemps) == 0 {
		log.Warn().
			Int("zone", zoneID).
			Strs("sensors", sensorIDs).
			Msg("No valid sensor temperature for zone")
		return
	}
	// Minimum is the conservative choice: one warm sensor must not suppress
	// heating for the whole zone.
	sensorTemp := sensorTemps[0]
	for _, value := range sensorTemps[1:] {
		sensorTemp = math.Min(sensorTemp, value)
	}

	currentTemp, ok := e.snapshot.ZoneCurrentTemp(zoneID)
	if !ok {
		return
	}

	type target struct {
		info      map[string]any
		deviceID  string
		deviceKey string
	}
	var currentOffsets []float64
	var candidates []target

	e.mu.Lock()
	for index, info := range e.snapshot.Devices() {
		deviceKey := e.norm.Key(info, index)
		deviceType := e.norm.Type(info)
		if !e.Linkable(deviceType) {
			continue
		}
		mappedZone, ok := e.mappedZoneLocked(deviceKey)
		if !ok || mappedZone != zoneKey {
			continue
		}
		if value, ok := e.getLocked(info, deviceKey); ok {
			currentOffsets = append(currentOffsets, value)
		}
		deviceID := device.ID(info)
		if deviceID == "" {
			deviceID = e.norm.IDOverride(info, deviceKey)
		}
		candidates = append(candidates, target{info: info, deviceID: deviceID, deviceKey: deviceKey})
	}
	e.mu.Unlock()

	avgOffset := 0.0
	if len(currentOffsets) > 0 {
		for _, value := range currentOffsets {
			avgOffset += value
		}
		avgOffset /= float64(len(currentOffsets))
	}
	rawTemp := currentTemp - avgOffset
	targetOffset := sensorTemp - rawTemp
	targetOffset = math.Max(minOffset, math.Min(maxOffset, targetOffset))
	// Hysteresis compares against the exact target; rounding first would
	// push a borderline 0.05 delta over the threshold.
	written := math.Round(targetOffset*10) / 10

	var updated []string
	for _, candidate := range candidates {
		if candidate.deviceID == "" {
			log.Warn().Str("device_key", candidate.deviceKey).Msg("Missing device id for auto offset")
			continue
		}
		e.mu.Lock()
		last, hasLast := e.getLocked(candidate.info, candidate.deviceKey)
		e.mu.Unlock()
		if hasLast && math.Abs(last-targetOffset) < hysteresis {
			continue
		}
		if err := e.Set(candidate.deviceID, written, candidate.deviceKey, false); err != nil {
			continue
		}
		updated = append(updated, candidate.deviceKey)
	}

	if len(updated) > 0 {
		log.Debug().
			Int("zone", zoneID).
			Float64("sensor", sensorTemp).
			Float64("zone_temp", currentTemp).
			Float64("raw", rawTemp).
			Float64("avg_offset", avgOffset).
			Float64("target", written).
			Strs("devices", updated).
			Msg("Auto offset applied")
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	if last, ok := e.lastNoChange[zoneID]; !ok || now.Sub(last) >= noChangeLog {
		log.Debug().Int("zone", zoneID).Msg("Auto offset: no changes for zone")
		e.lastNoChange[zoneID] = now
	}
}

// RecomputeForSensor fans out to every zone whose sensor set contains the
// sensor.
func (e *Engine) RecomputeForSensor(sensorID string, force bool) {
	e.mu.Lock()
	var zones []string
	for zoneKey, sensors := range e.zoneSensorMap {
		for _, candidate := range sensors {
			if candidate == sensorID {
				zones = append(zones, zoneKey)
				break
			}
		}
	}
	e.mu.Unlock()

	for _, zoneKey := range zones {
		zoneID, err := strconv.Atoi(zoneKey)
		if err != nil {
			log.Warn().Str("zone", zoneKey).Msg("Invalid zone id in zone sensor map")
			continue
		}
		log.Debug().Str("sensor", sensorID).Int("zone", zoneID).Bool("force", force).
			Msg("Recomputing offsets after sensor update")
		e.RecomputeZone(zoneID)
	}
}

// RecomputeAll iterates every zone present in the sensor map.
func (e *Engine) RecomputeAll() {
	e.mu.Lock()
	zones := make([]string, 0, len(e.zoneSensorMap))
	for zoneKey := range e.zoneSensorMap {
		zones = append(zones, zoneKey)
	}
	e.mu.Unlock()

	for _, zoneKey := range zones {
		zoneID, err := strconv.Atoi(zoneKey)
		if err != nil {
			log.Warn().Str("zone", zoneKey).Msg("Invalid zone id in zone sensor map")
			continue
		}
		e.RecomputeZone(zoneID)
	}
}

func copyFloats(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func copyStrings(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func copySensorMap(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for key, value := range in {
		out[key] = append([]string(nil), value...)
	}
	return out
}
