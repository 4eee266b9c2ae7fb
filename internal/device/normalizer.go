// Package device normalizes heterogeneous remote device records into a
// canonical mapping form and derives the stable device key that offset and
// override state is tracked under.
package device

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/ha-addons/tado-bridge/internal/model"
)

// Mapper is implemented by typed records that can convert themselves to the
// canonical mapping form.
type Mapper interface {
	ToMap() map[string]any
}

// ToMap resolves the mapping-vs-object variant once. Downstream code never
// branches on record shape again.
func ToMap(v any) map[string]any {
	switch r := v.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return r
	case Mapper:
		return r.ToMap()
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}

// StringField returns the first non-empty of the named fields, rendered as a
// string. Numeric identifiers keep their integral form.
func StringField(info map[string]any, keys ...string) string {
	for _, key := range keys {
		value, ok := info[key]
		if !ok || value == nil {
			continue
		}
		switch v := value.(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case int:
			return strconv.Itoa(v)
		case bool:
			// booleans are never identifiers
		default:
			return fmt.Sprintf("%v", v)
		}
	}
	return ""
}

// ID returns the device identifier used for remote offset calls, trying the
// serial-like fields in priority order.
func ID(info map[string]any) string {
	return StringField(info, "serialNumber", "serialNo", "shortSerialNo", "id")
}

// Normalizer derives canonical device mappings, resolving configured
// identifier overrides for devices that lack a vendor serial.
type Normalizer struct {
	IDOverrides     map[string]string
	TypeIDOverrides map[string]string
	IsX             bool
}

// Type derives the device type from the first present of the known type
// fields, uppercased. Empty when the record has no type information.
func (n *Normalizer) Type(info map[string]any) string {
	t := StringField(info, "type", "deviceType", "model", "productType")
	if t == "" {
		return ""
	}
	return strings.ToUpper(t)
}

// Key returns a stable synthetic key for the device: the existing key if
// present, else TYPE:serial, TYPE:id, TYPE:name, TYPE:#index, bare TYPE, in
// that order. The key must be reconstructible from normalized device data
// alone; overrides and offsets persist across reload cycles keyed by it.
// Pass index < 0 when the record's position is unknown.
func (n *Normalizer) Key(info map[string]any, index int) string {
	if existing, ok := info[model.DeviceKeyField].(string); ok && existing != "" {
		return existing
	}
	deviceType := n.Type(info)
	if deviceType == "" {
		deviceType = "UNKNOWN"
	}
	if serial := StringField(info, "serialNumber", "serialNo", "shortSerialNo"); serial != "" {
		return deviceType + ":" + serial
	}
	if id := StringField(info, "id", "deviceId"); id != "" {
		return deviceType + ":" + id
	}
	if name := StringField(info, "name", "deviceName", "roomName"); name != "" {
		return deviceType + ":" + name
	}
	if index >= 0 {
		return fmt.Sprintf("%s:#%d", deviceType, index+1)
	}
	return deviceType
}

// IDOverride resolves a configured identifier for the device: exact device
// key, then the legacy bare key, then the exact type override, then the "*"
// wildcard.
func (n *Normalizer) IDOverride(info map[string]any, deviceKey string) string {
	if deviceKey == "" {
		deviceKey = n.Key(info, -1)
	}
	if override, ok := n.IDOverrides[deviceKey]; ok {
		return override
	}
	if _, legacy, found := strings.Cut(deviceKey, ":"); found && legacy != "" {
		if override, ok := n.IDOverrides[legacy]; ok {
			return override
		}
	}
	if deviceType := n.Type(info); deviceType != "" {
		if override, ok := n.TypeIDOverrides[deviceType]; ok {
			return override
		}
	}
	return n.TypeIDOverrides["*"]
}

// Normalize converts a raw device record into its canonical mapping,
// attaching the device key and, when the record carries no serial-like
// identifier, synthesizing one from the override table so the device can
// still participate in offset calls.
func (n *Normalizer) Normalize(raw any, index int) map[string]any {
	info := ToMap(raw)
	info["is_x"] = n.IsX
	deviceKey := n.Key(info, index)
	info[model.DeviceKeyField] = deviceKey

	hasSerial := StringField(info, "serialNumber", "serialNo", "shortSerialNo") != ""
	if !hasSerial {
		if override := n.IDOverride(info, deviceKey); override != "" {
			info["serialNumber"] = override
			setDefault(info, "serialNo", override)
			setDefault(info, "shortSerialNo", override)
			setDefault(info, "id", override)
			log.Debug().
				Str("device_key", deviceKey).
				Str("override", override).
				Msg("Applied device id override")
		}
	}
	return info
}

func setDefault(info map[string]any, key, value string) {
	if existing, ok := info[key]; !ok || existing == nil || existing == "" {
		info[key] = value
	}
}
