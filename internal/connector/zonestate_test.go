package connector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ha-addons/tado-bridge/internal/model"
)

func TestDeriveHVACMode(t *testing.T) {
	tests := []struct {
		name     string
		state    map[string]any
		expected string
	}{
		{
			name:     "power off",
			state:    map[string]any{"setting": map[string]any{"power": "OFF"}},
			expected: model.ModeOff,
		},
		{
			name:     "no overlay means schedule",
			state:    map[string]any{"setting": map[string]any{"power": "ON", "type": "HEATING"}},
			expected: model.ModeSmartSchedule,
		},
		{
			name: "nil overlay means schedule",
			state: map[string]any{
				"setting": map[string]any{"power": "ON"},
				"overlay": nil,
			},
			expected: model.ModeSmartSchedule,
		},
		{
			name: "explicit mode wins",
			state: map[string]any{
				"setting": map[string]any{"power": "ON", "mode": "DRY"},
				"overlay": map[string]any{},
			},
			expected: model.ModeDry,
		},
		{
			name: "heating overlay",
			state: map[string]any{
				"setting": map[string]any{"power": "ON", "type": "HEATING"},
				"overlay": map[string]any{},
			},
			expected: model.ModeHeat,
		},
		{
			name: "hot water overlay",
			state: map[string]any{
				"setting": map[string]any{"power": "ON", "type": "HOT_WATER"},
				"overlay": map[string]any{},
			},
			expected: model.ModeHeat,
		},
		{
			name: "air conditioning overlay",
			state: map[string]any{
				"setting": map[string]any{"power": "ON", "type": "AIR_CONDITIONING"},
				"overlay": map[string]any{},
			},
			expected: model.ModeCool,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, AdaptZoneState(tt.state).HVACMode)
		})
	}
}

func TestDeriveHVACAction(t *testing.T) {
	tests := []struct {
		name     string
		state    map[string]any
		expected string
	}{
		{
			name:     "power off",
			state:    map[string]any{"setting": map[string]any{"power": "OFF"}},
			expected: model.ActionOff,
		},
		{
			name: "heating power active",
			state: map[string]any{
				"setting": map[string]any{"power": "ON"},
				"activityDataPoints": map[string]any{
					"heatingPower": map[string]any{"percentage": 47.0},
				},
			},
			expected: model.ActionHeating,
		},
		{
			name: "zero heating power is idle",
			state: map[string]any{
				"setting": map[string]any{"power": "ON"},
				"activityDataPoints": map[string]any{
					"heatingPower": map[string]any{"percentage": 0.0},
				},
			},
			expected: model.ActionIdle,
		},
		{
			name: "ac cooling",
			state: map[string]any{
				"setting": map[string]any{"power": "ON", "mode": "COOL"},
				"activityDataPoints": map[string]any{
					"acPower": map[string]any{"value": "ON"},
				},
			},
			expected: model.ActionCooling,
		},
		{
			name: "ac drying",
			state: map[string]any{
				"setting": map[string]any{"power": "ON", "mode": "DRY"},
				"activityDataPoints": map[string]any{
					"acPower": map[string]any{"value": "ON"},
				},
			},
			expected: model.ActionDrying,
		},
		{
			name: "ac fan only",
			state: map[string]any{
				"setting": map[string]any{"power": "ON", "mode": "FAN"},
				"activityDataPoints": map[string]any{
					"acPower": map[string]any{"value": "ON"},
				},
			},
			expected: model.ActionFan,
		},
		{
			name: "ac without mode defaults to cooling",
			state: map[string]any{
				"setting": map[string]any{"power": "ON"},
				"activityDataPoints": map[string]any{
					"acPower": map[string]any{"value": "ON"},
				},
			},
			expected: model.ActionCooling,
		},
		{
			name:     "no activity is idle",
			state:    map[string]any{"setting": map[string]any{"power": "ON"}},
			expected: model.ActionIdle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, AdaptZoneState(tt.state).HVACAction)
		})
	}
}

func TestDeriveAvailable(t *testing.T) {
	tests := []struct {
		name     string
		state    map[string]any
		expected bool
	}{
		{"link online", map[string]any{"link": map[string]any{"state": "ONLINE"}}, true},
		{"link offline", map[string]any{"link": map[string]any{"state": "OFFLINE"}}, false},
		{"connection connected", map[string]any{"connection": map[string]any{"state": "CONNECTED"}}, true},
		{"boolean state", map[string]any{"link": map[string]any{"state": true}}, true},
		{"missing", map[string]any{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, AdaptZoneState(tt.state).Available)
		})
	}
}

func TestAdaptZoneState(t *testing.T) {
	state := map[string]any{
		"tadoMode": "HOME",
		"setting": map[string]any{
			"power":       "ON",
			"type":        "HEATING",
			"temperature": map[string]any{"celsius": 21.5},
		},
		"sensorDataPoints": map[string]any{
			"insideTemperature": map[string]any{"celsius": 20.3, "timestamp": "2026-03-01T10:00:00Z"},
			"humidity":          map[string]any{"percentage": 47.0},
		},
		"activityDataPoints": map[string]any{
			"heatingPower": map[string]any{"percentage": 80.0},
		},
		"overlay": map[string]any{
			"termination": map[string]any{
				"type":                   "TIMER",
				"remainingTimeInSeconds": 600.0,
			},
		},
		"link": map[string]any{"state": "ONLINE"},
	}

	data := AdaptZoneState(state)

	require.NotNil(t, data.CurrentTemp)
	assert.Equal(t, 20.3, *data.CurrentTemp)
	assert.Equal(t, "2026-03-01T10:00:00Z", data.CurrentTempTimestamp)
	require.NotNil(t, data.CurrentHumidity)
	assert.Equal(t, 47.0, *data.CurrentHumidity)
	require.NotNil(t, data.TargetTemp)
	assert.Equal(t, 21.5, *data.TargetTemp)
	require.NotNil(t, data.HeatingPowerPercentage)
	assert.Equal(t, 80.0, *data.HeatingPowerPercentage)

	assert.Equal(t, model.ActionHeating, data.HVACAction)
	assert.True(t, data.Available)
	assert.True(t, data.OverlayActive)
	assert.Equal(t, "TIMER", data.OverlayTerminationType)
	require.NotNil(t, data.OverlayTerminationRemaining)
	assert.Equal(t, 600.0, *data.OverlayTerminationRemaining)
	assert.False(t, data.OpenWindow)
	assert.False(t, data.Preparation)
}

func TestAdaptZoneStateOpenWindow(t *testing.T) {
	t.Run("open window record", func(t *testing.T) {
		data := AdaptZoneState(map[string]any{
			"setting": map[string]any{"power": "ON"},
			"openWindow": map[string]any{
				"remainingTimeInSeconds": 890.0,
			},
		})
		assert.True(t, data.OpenWindow)
		require.NotNil(t, data.OpenWindowRemaining)
		assert.Equal(t, 890.0, *data.OpenWindowRemaining)
	})

	t.Run("detected flag only", func(t *testing.T) {
		data := AdaptZoneState(map[string]any{
			"setting":            map[string]any{"power": "ON"},
			"openWindowDetected": true,
		})
		assert.True(t, data.OpenWindow)
		assert.Nil(t, data.OpenWindowRemaining)
	})

	t.Run("nil open window record", func(t *testing.T) {
		data := AdaptZoneState(map[string]any{
			"setting":    map[string]any{"power": "ON"},
			"openWindow": nil,
		})
		assert.False(t, data.OpenWindow)
	})
}

func TestAdaptZoneStatePreparation(t *testing.T) {
	t.Run("preparation record", func(t *testing.T) {
		data := AdaptZoneState(map[string]any{
			"setting":     map[string]any{"power": "ON"},
			"preparation": map[string]any{"tadoMode": "HOME"},
		})
		assert.True(t, data.Preparation)
	})

	t.Run("false boolean", func(t *testing.T) {
		data := AdaptZoneState(map[string]any{
			"setting":     map[string]any{"power": "ON"},
			"preparation": false,
		})
		assert.False(t, data.Preparation)
	})
}
