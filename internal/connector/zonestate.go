package connector

import (
	"github.com/ha-addons/tado-bridge/internal/model"
)

// nested walks a decoded JSON mapping. Returns nil when any step is missing
// or not a mapping.
func nested(data map[string]any, keys ...string) any {
	var current any = data
	for _, key := range keys {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = m[key]
		if !ok {
			return nil
		}
	}
	return current
}

func floatAt(data map[string]any, keys ...string) *float64 {
	switch v := nested(data, keys...).(type) {
	case float64:
		return &v
	case int:
		f := float64(v)
		return &f
	}
	return nil
}

func stringAt(data map[string]any, keys ...string) string {
	if s, ok := nested(data, keys...).(string); ok {
		return s
	}
	return ""
}

func deriveHVACMode(state map[string]any) string {
	power := stringAt(state, "setting", "power")
	mode := stringAt(state, "setting", "mode")
	zoneType := stringAt(state, "setting", "type")

	if power == "OFF" {
		return model.ModeOff
	}
	if _, hasOverlay := state["overlay"]; !hasOverlay || state["overlay"] == nil {
		return model.ModeSmartSchedule
	}
	if mode != "" {
		return mode
	}
	switch zoneType {
	case model.TypeHeating, model.TypeHotWater:
		return model.ModeHeat
	case model.TypeAirConditioning:
		return model.ModeCool
	}
	return model.ModeHeat
}

func deriveHVACAction(state map[string]any) string {
	power := stringAt(state, "setting", "power")
	mode := stringAt(state, "setting", "mode")

	if power == "OFF" {
		return model.ActionOff
	}
	if heatingPower := floatAt(state, "activityDataPoints", "heatingPower", "percentage"); heatingPower != nil && *heatingPower > 0 {
		return model.ActionHeating
	}
	if stringAt(state, "activityDataPoints", "acPower", "value") == "ON" {
		switch mode {
		case model.ModeCool:
			return model.ActionCooling
		case model.ModeDry:
			return model.ActionDrying
		case model.ModeFan:
			return model.ActionFan
		}
		return model.ActionCooling
	}
	return model.ActionIdle
}

func deriveAvailable(state map[string]any) bool {
	linkState := nested(state, "link", "state")
	if linkState == nil {
		linkState = nested(state, "connection", "state")
	}
	switch v := linkState.(type) {
	case bool:
		return v
	case string:
		return v == "ONLINE" || v == "CONNECTED"
	}
	return false
}

// AdaptZoneState turns a raw zone-state mapping into the immutable
// zone-runtime view. Recomputed fully on every zone poll.
func AdaptZoneState(state map[string]any) model.ZoneData {
	_, hasOpenWindow := state["openWindow"]
	openWindow := hasOpenWindow && state["openWindow"] != nil
	if !openWindow {
		if detected, ok := state["openWindowDetected"].(bool); ok {
			openWindow = detected
		}
	}

	preparation := false
	if prep, ok := state["preparation"]; ok && prep != nil {
		if b, isBool := prep.(bool); !isBool || b {
			preparation = true
		}
	}

	return model.ZoneData{
		CurrentTemp:              floatAt(state, "sensorDataPoints", "insideTemperature", "celsius"),
		CurrentTempTimestamp:     stringAt(state, "sensorDataPoints", "insideTemperature", "timestamp"),
		CurrentHumidity:          floatAt(state, "sensorDataPoints", "humidity", "percentage"),
		CurrentHumidityTimestamp: stringAt(state, "sensorDataPoints", "humidity", "timestamp"),
		TargetTemp:               floatAt(state, "setting", "temperature", "celsius"),

		HVACMode:   deriveHVACMode(state),
		HVACAction: deriveHVACAction(state),

		FanSpeed:            stringAt(state, "setting", "fanSpeed"),
		FanLevel:            stringAt(state, "setting", "fanLevel"),
		SwingMode:           stringAt(state, "setting", "swing"),
		VerticalSwingMode:   stringAt(state, "setting", "verticalSwing"),
		HorizontalSwingMode: stringAt(state, "setting", "horizontalSwing"),

		HeatingPowerPercentage: floatAt(state, "activityDataPoints", "heatingPower", "percentage"),
		HeatingPowerTimestamp:  stringAt(state, "activityDataPoints", "heatingPower", "timestamp"),
		ACPower:                stringAt(state, "activityDataPoints", "acPower", "value"),
		ACPowerTimestamp:       stringAt(state, "activityDataPoints", "acPower", "timestamp"),

		TadoMode:  stringAt(state, "tadoMode"),
		Power:     stringAt(state, "setting", "power"),
		Available: deriveAvailable(state),

		OverlayActive:               state["overlay"] != nil,
		OverlayTerminationType:      stringAt(state, "overlay", "termination", "type"),
		OverlayTerminationRemaining: floatAt(state, "overlay", "termination", "remainingTimeInSeconds"),

		OpenWindow:          openWindow,
		OpenWindowRemaining: floatAt(state, "openWindow", "remainingTimeInSeconds"),
		Preparation:         preparation,
	}
}
