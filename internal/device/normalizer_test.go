package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringField(t *testing.T) {
	tests := []struct {
		name     string
		info     map[string]any
		keys     []string
		expected string
	}{
		{
			name:     "first non-empty wins",
			info:     map[string]any{"a": "", "b": "VA1234"},
			keys:     []string{"a", "b"},
			expected: "VA1234",
		},
		{
			name:     "numeric id keeps integral form",
			info:     map[string]any{"id": float64(123456)},
			keys:     []string{"id"},
			expected: "123456",
		},
		{
			name:     "boolean is never an identifier",
			info:     map[string]any{"id": true},
			keys:     []string{"id"},
			expected: "",
		},
		{
			name:     "nil value skipped",
			info:     map[string]any{"a": nil, "b": "x"},
			keys:     []string{"a", "b"},
			expected: "x",
		},
		{
			name:     "missing keys",
			info:     map[string]any{},
			keys:     []string{"a", "b"},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, StringField(tt.info, tt.keys...))
		})
	}
}

func TestToMap(t *testing.T) {
	t.Run("mapping passthrough", func(t *testing.T) {
		in := map[string]any{"id": "x"}
		assert.Equal(t, in, ToMap(in))
	})

	t.Run("typed record round-trips through JSON", func(t *testing.T) {
		type record struct {
			SerialNo string `json:"serialNo"`
		}
		out := ToMap(record{SerialNo: "VA0001"})
		assert.Equal(t, "VA0001", out["serialNo"])
	})

	t.Run("nil yields empty mapping", func(t *testing.T) {
		assert.Empty(t, ToMap(nil))
	})
}

func TestNormalizerKey(t *testing.T) {
	norm := &Normalizer{}

	tests := []struct {
		name     string
		info     map[string]any
		index    int
		expected string
	}{
		{
			name:     "existing key wins",
			info:     map[string]any{"device_key": "VA:OLD", "serialNo": "VA999", "type": "VA02"},
			index:    0,
			expected: "VA:OLD",
		},
		{
			name:     "serial preferred",
			info:     map[string]any{"type": "VA02", "serialNo": "VA1234", "id": "7", "name": "Bedroom"},
			index:    0,
			expected: "VA02:VA1234",
		},
		{
			name:     "id when no serial",
			info:     map[string]any{"type": "VA02", "id": "7", "name": "Bedroom"},
			index:    0,
			expected: "VA02:7",
		},
		{
			name:     "name when no serial or id",
			info:     map[string]any{"type": "VA02", "name": "Bedroom"},
			index:    0,
			expected: "VA02:Bedroom",
		},
		{
			name:     "positional fallback is one-based",
			info:     map[string]any{"type": "VA02"},
			index:    2,
			expected: "VA02:#3",
		},
		{
			name:     "bare type when position unknown",
			info:     map[string]any{"type": "VA02"},
			index:    -1,
			expected: "VA02",
		},
		{
			name:     "unknown type placeholder",
			info:     map[string]any{"name": "Bedroom"},
			index:    0,
			expected: "UNKNOWN:Bedroom",
		},
		{
			name:     "type is uppercased",
			info:     map[string]any{"deviceType": "va02", "serialNo": "VA1"},
			index:    0,
			expected: "VA02:VA1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, norm.Key(tt.info, tt.index))
		})
	}
}

func TestNormalizerKeyDeterministic(t *testing.T) {
	norm := &Normalizer{}
	info := map[string]any{"type": "SU02", "serialNo": "SU777"}
	first := norm.Key(info, 0)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, norm.Key(info, 0))
	}
}

func TestNormalizerIDOverride(t *testing.T) {
	norm := &Normalizer{
		IDOverrides: map[string]string{
			"VA02:Bedroom": "EXACT",
			"Hallway":      "LEGACY",
		},
		TypeIDOverrides: map[string]string{
			"SU02": "TYPEWIDE",
			"*":    "WILDCARD",
		},
	}

	tests := []struct {
		name     string
		info     map[string]any
		key      string
		expected string
	}{
		{"exact key", map[string]any{"type": "VA02"}, "VA02:Bedroom", "EXACT"},
		{"legacy bare suffix", map[string]any{"type": "VA02"}, "VA02:Hallway", "LEGACY"},
		{"type-wide", map[string]any{"type": "SU02"}, "SU02:Kitchen", "TYPEWIDE"},
		{"wildcard", map[string]any{"type": "RU02"}, "RU02:Office", "WILDCARD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, norm.IDOverride(tt.info, tt.key))
		})
	}
}

func TestNormalizeSynthesizesSerialFromOverride(t *testing.T) {
	norm := &Normalizer{TypeIDOverrides: map[string]string{"*": "RU5555"}}

	info := norm.Normalize(map[string]any{"type": "RU02", "name": "Office"}, 0)
	require.Equal(t, "RU02:Office", info["device_key"])
	assert.Equal(t, "RU5555", info["serialNumber"])
	assert.Equal(t, "RU5555", info["serialNo"])
	assert.Equal(t, "RU5555", info["shortSerialNo"])
	assert.Equal(t, "RU5555", info["id"])
	assert.Equal(t, false, info["is_x"])
}

func TestNormalizeKeepsExistingSerial(t *testing.T) {
	norm := &Normalizer{TypeIDOverrides: map[string]string{"*": "OVERRIDE"}}

	info := norm.Normalize(map[string]any{"type": "VA02", "serialNo": "VA1234"}, 0)
	assert.Equal(t, "VA1234", info["serialNo"])
	_, hasSynthesized := info["serialNumber"]
	assert.False(t, hasSynthesized)
	assert.Equal(t, "VA1234", ID(info))
}
