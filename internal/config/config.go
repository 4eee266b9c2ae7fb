package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultScanIntervalSeconds         = 300
	DefaultOffsetRecalcIntervalSeconds = 3600
	DefaultOffsetRefreshIntervalSeconds = 3600

	// Mobile device polling is fixed and cheap; it is not configurable.
	MobileScanIntervalSeconds = 30
)

// DefaultLinkablePrefixes lists the device-type prefixes eligible for offset
// control and zone assignment. This is a capability allowlist, not a remote
// API concept.
var DefaultLinkablePrefixes = []string{"VA", "SU", "RU"}

type Config struct {
	ConfigFile string
	LogLevel   zerolog.Level

	TokenFile string `json:"token_file"`
	Fallback  string `json:"fallback"`

	// Legacy key, minutes. Migrated into ScanIntervalSeconds at load time.
	ScanIntervalMinutes int `json:"scan_interval"`

	ScanIntervalSeconds               int `json:"scan_interval_seconds"`
	OffsetRecalcIntervalSeconds       int `json:"offset_recalc_interval_seconds"`
	TempOffsetRefreshIntervalSeconds  int `json:"temp_offset_refresh_interval_seconds"`
	HomeWeatherRefreshIntervalSeconds int `json:"home_weather_refresh_interval_seconds"`

	DeviceIDOverrides map[string]string  `json:"device_id_overrides"`
	DeviceOffsets     map[string]float64 `json:"device_offsets"`
	DeviceZoneMap     map[string]string  `json:"device_zone_map"`

	// "TYPE=value" entry lists, comma/semicolon/newline separated.
	DeviceTypeIDOverridesRaw string `json:"device_type_id_overrides"`
	DeviceTypeOffsetsRaw     string `json:"device_type_offsets"`

	// Zone id -> sensor entity id(s). Values may be a string, a separator
	// list, or a JSON array; collapsed to at most one sensor per zone.
	ZoneSensorMapRaw map[string]any `json:"zone_sensor_map"`

	// Legacy single-value keys, migrated to wildcard per-type entries.
	LegacyDeviceIDOverride  string   `json:"device_id_override"`
	LegacyTemperatureOffset *float64 `json:"temperature_offset"`

	LinkableDevicePrefixes []string `json:"linkable_device_prefixes"`

	HomeAssistantURL   string `json:"home_assistant_url"`
	HomeAssistantToken string `json:"home_assistant_token"`

	ListenAddr string `json:"listen_addr"`
	DBPath     string `json:"db_path"`

	EnableDatadog bool     `json:"enable_datadog"`
	DDAgentAddr   string   `json:"dd_agent_addr"`
	DDNamespace   string   `json:"dd_namespace"`
	DDTags        []string `json:"dd_tags"`

	// Canonical forms produced by migrate(). Read these, not the raw fields.
	DeviceTypeIDOverrides map[string]string   `json:"-"`
	DeviceTypeOffsets     map[string]float64  `json:"-"`
	ZoneSensorMap         map[string][]string `json:"-"`
}

func Load() *Config {
	cfg := &Config{}
	var logLevel string

	flag.StringVar(&cfg.ConfigFile, "config-file", "config.json", "Path to bridge config file")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	cfg.LogLevel = parseLogLevel(logLevel)

	file, err := os.Open(cfg.ConfigFile)
	if err != nil {
		panic("Failed to load config file: " + err.Error())
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		panic("Failed to parse config file: " + err.Error())
	}

	cfg.Migrate()
	cfg.validate()
	return cfg
}

func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Migrate folds the overlapping legacy configuration keys into their
// canonical internal representation. It runs exactly once at load time;
// nothing downstream branches on the legacy keys again.
func (cfg *Config) Migrate() {
	if cfg.ScanIntervalSeconds == 0 && cfg.ScanIntervalMinutes > 0 {
		cfg.ScanIntervalSeconds = cfg.ScanIntervalMinutes * 60
	}
	if cfg.ScanIntervalSeconds < 1 {
		cfg.ScanIntervalSeconds = DefaultScanIntervalSeconds
	}
	if cfg.OffsetRecalcIntervalSeconds < 1 {
		cfg.OffsetRecalcIntervalSeconds = DefaultOffsetRecalcIntervalSeconds
	}
	if cfg.TempOffsetRefreshIntervalSeconds < 1 {
		cfg.TempOffsetRefreshIntervalSeconds = DefaultOffsetRefreshIntervalSeconds
	}
	if cfg.HomeWeatherRefreshIntervalSeconds < 1 {
		cfg.HomeWeatherRefreshIntervalSeconds = cfg.ScanIntervalSeconds
	}

	cfg.DeviceTypeIDOverrides = ParseTypeMap(cfg.DeviceTypeIDOverridesRaw)
	cfg.DeviceTypeOffsets = ParseTypeOffsets(cfg.DeviceTypeOffsetsRaw)

	if cfg.LegacyDeviceIDOverride != "" && len(cfg.DeviceTypeIDOverrides) == 0 {
		cfg.DeviceTypeIDOverrides = map[string]string{"*": cfg.LegacyDeviceIDOverride}
		log.Warn().Msg("Using legacy device_id_override for all device types; migrate to device_type_id_overrides")
	}
	if cfg.LegacyTemperatureOffset != nil && len(cfg.DeviceTypeOffsets) == 0 {
		cfg.DeviceTypeOffsets = map[string]float64{"*": *cfg.LegacyTemperatureOffset}
		log.Warn().Msg("Using legacy temperature_offset for all device types; migrate to device_type_offsets")
	}

	cfg.ZoneSensorMap = NormalizeZoneSensorMap(cfg.ZoneSensorMapRaw)

	if len(cfg.LinkableDevicePrefixes) == 0 {
		cfg.LinkableDevicePrefixes = DefaultLinkablePrefixes
	}

	if cfg.Fallback == "" {
		cfg.Fallback = "TADO_DEFAULT"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8099"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "data/tado-bridge.db"
	}
	if cfg.HomeAssistantToken == "" {
		cfg.HomeAssistantToken = os.Getenv("SUPERVISOR_TOKEN")
	}
	if cfg.HomeAssistantURL == "" {
		cfg.HomeAssistantURL = "http://supervisor/core"
	}
}

func (cfg *Config) validate() {
	var missing []string
	if cfg.TokenFile == "" {
		missing = append(missing, "token_file")
	}
	if len(missing) > 0 {
		panic("Missing required config fields: " + strings.Join(missing, ", "))
	}
}

var entrySeparators = regexp.MustCompile(`[,\n;]+`)

// ParseTypeMap parses "TYPE=value" entry lists. Malformed entries are logged
// and dropped, never propagated.
func ParseTypeMap(raw string) map[string]string {
	result := make(map[string]string)
	if raw == "" {
		return result
	}
	for _, entry := range entrySeparators.Split(raw, -1) {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, value, found := strings.Cut(entry, "=")
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if !found || key == "" || value == "" {
			log.Warn().Str("entry", entry).Msg("Invalid device type mapping entry")
			continue
		}
		result[strings.ToUpper(key)] = value
	}
	return result
}

// ParseTypeOffsets parses "TYPE=float" entry lists.
func ParseTypeOffsets(raw string) map[string]float64 {
	result := make(map[string]float64)
	if raw == "" {
		return result
	}
	for _, entry := range entrySeparators.Split(raw, -1) {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, value, found := strings.Cut(entry, "=")
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if !found || key == "" || value == "" {
			log.Warn().Str("entry", entry).Msg("Invalid device type offset entry")
			continue
		}
		offset, err := strconv.ParseFloat(value, 64)
		if err != nil {
			log.Warn().Str("type", key).Str("value", value).Msg("Invalid offset value")
			continue
		}
		result[strings.ToUpper(key)] = offset
	}
	return result
}

// NormalizeZoneSensors turns a raw sensor-map value (string, separator list,
// or array) into a deduplicated list, keeping only the most recently linked
// sensor. Multi-sensor linking is disabled.
func NormalizeZoneSensors(value any) []string {
	var values []any
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		if v == "" {
			return nil
		}
		for _, part := range entrySeparators.Split(v, -1) {
			values = append(values, part)
		}
	case []string:
		for _, part := range v {
			values = append(values, part)
		}
	case []any:
		values = v
	default:
		values = []any{v}
	}

	var result []string
	seen := make(map[string]bool)
	for _, item := range values {
		if item == nil {
			continue
		}
		s := strings.TrimSpace(fmt.Sprintf("%v", item))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		result = append(result, s)
	}
	if len(result) == 0 {
		return nil
	}
	return []string{result[len(result)-1]}
}

// NormalizeZoneSensorMap validates a raw zone-sensor map down to at most one
// sensor per zone.
func NormalizeZoneSensorMap(raw map[string]any) map[string][]string {
	result := make(map[string][]string)
	for key, value := range raw {
		if key == "" {
			continue
		}
		sensors := NormalizeZoneSensors(value)
		if len(sensors) > 0 {
			result[key] = sensors
		}
	}
	return result
}
