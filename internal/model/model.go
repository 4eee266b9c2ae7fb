package model

// Zone setting types as reported by the remote API.
const (
	TypeHeating         = "HEATING"
	TypeHotWater        = "HOT_WATER"
	TypeAirConditioning = "AIR_CONDITIONING"
)

// HVAC modes derived from zone state.
const (
	ModeOff           = "OFF"
	ModeSmartSchedule = "SMART_SCHEDULE"
	ModeHeat          = "HEAT"
	ModeCool          = "COOL"
	ModeDry           = "DRY"
	ModeFan           = "FAN"
	ModeAuto          = "AUTO"
)

// HVAC actions derived from activity data points.
const (
	ActionOff     = "OFF"
	ActionHeating = "HEATING"
	ActionCooling = "COOLING"
	ActionDrying  = "DRYING"
	ActionFan     = "FAN"
	ActionIdle    = "IDLE"
)

// Overlay termination modes. OverlayTadoDefault follows the configured
// fallback, OverlayTadoMode holds until the next schedule change.
const (
	OverlayTadoDefault = "TADO_DEFAULT"
	OverlayTadoMode    = "TADO_MODE"
	OverlayManual      = "MANUAL"
	OverlayTimer       = "TIMER"
)

// Presence settings.
const (
	PresenceHome = "HOME"
	PresenceAway = "AWAY"
	PresenceAuto = "AUTO"
)

// InsideTemperatureMeasurement is the device capability that marks a device
// as having a fetchable temperature-offset record (legacy generation only).
const InsideTemperatureMeasurement = "INSIDE_TEMPERATURE_MEASUREMENT"

// GenerationLineX marks homes on the newer API family.
const GenerationLineX = "LINE_X"

// Data categories used for change notifications and snapshot access.
const (
	CategoryZone         = "zone"
	CategoryDevice       = "device"
	CategoryMobileDevice = "mobile_device"
	CategoryWeather      = "weather"
	CategoryGeofence     = "geofence"
	CategoryHome         = "home"
	CategoryAPICalls     = "api_calls"
)

// DeviceKeyField is the synthetic key attached to every normalized device.
const DeviceKeyField = "device_key"

// TempOffsetField holds the fetched temperature-offset sub-record on a
// normalized device.
const TempOffsetField = "temp_offset"

// Home identifies the single installation served by a connector. Immutable
// after setup.
type Home struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Generation string `json:"generation,omitempty"`
	IsX        bool   `json:"is_x"`
}

// Zone is a controllable climate area. Identity is stable across polls;
// name/type/devices are refreshed on re-setup only.
type Zone struct {
	ID      int              `json:"id"`
	Name    string           `json:"name"`
	Type    string           `json:"type"`
	Devices []map[string]any `json:"devices"`
}

// ZoneData is a read-only view over a point-in-time zone state snapshot.
// It is recomputed wholesale on every zone poll and never partially mutated.
type ZoneData struct {
	CurrentTemp              *float64 `json:"current_temp"`
	CurrentTempTimestamp     string   `json:"current_temp_timestamp,omitempty"`
	CurrentHumidity          *float64 `json:"current_humidity"`
	CurrentHumidityTimestamp string   `json:"current_humidity_timestamp,omitempty"`
	TargetTemp               *float64 `json:"target_temp"`

	HVACMode   string `json:"hvac_mode"`
	HVACAction string `json:"hvac_action"`

	FanSpeed            string `json:"fan_speed,omitempty"`
	FanLevel            string `json:"fan_level,omitempty"`
	SwingMode           string `json:"swing_mode,omitempty"`
	VerticalSwingMode   string `json:"vertical_swing_mode,omitempty"`
	HorizontalSwingMode string `json:"horizontal_swing_mode,omitempty"`

	HeatingPowerPercentage *float64 `json:"heating_power_percentage"`
	HeatingPowerTimestamp  string   `json:"heating_power_timestamp,omitempty"`
	ACPower                string   `json:"ac_power,omitempty"`
	ACPowerTimestamp       string   `json:"ac_power_timestamp,omitempty"`

	TadoMode  string `json:"tado_mode,omitempty"`
	Power     string `json:"power,omitempty"`
	Available bool   `json:"available"`

	OverlayActive               bool     `json:"overlay_active"`
	OverlayTerminationType      string   `json:"overlay_termination_type,omitempty"`
	OverlayTerminationRemaining *float64 `json:"overlay_termination_remaining,omitempty"`

	OpenWindow          bool     `json:"open_window"`
	OpenWindowRemaining *float64 `json:"open_window_remaining,omitempty"`
	Preparation         bool     `json:"preparation"`
}
