package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoadOptionsEmpty(t *testing.T) {
	s := openTestStore(t)

	opts, err := s.LoadOptions()
	require.NoError(t, err)
	assert.Nil(t, opts)
}

func TestSaveAndLoadOptions(t *testing.T) {
	s := openTestStore(t)

	saved := &Options{
		DeviceIDOverrides:   map[string]string{"VA02:Bedroom": "VA1234"},
		DeviceOffsets:       map[string]float64{"VA02:VA1": -1.5},
		DeviceZoneMap:       map[string]string{"VA02:VA1": "1"},
		ZoneSensorMap:       map[string][]string{"1": {"sensor.bedroom"}},
		ScanIntervalSeconds: 120,
	}
	require.NoError(t, s.SaveOptions(saved))

	loaded, err := s.LoadOptions()
	require.NoError(t, err)
	assert.Equal(t, saved, loaded)
}

func TestSaveOptionsOverwrites(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveOptions(&Options{ScanIntervalSeconds: 60}))
	require.NoError(t, s.SaveOptions(&Options{ScanIntervalSeconds: 300}))

	loaded, err := s.LoadOptions()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 300, loaded.ScanIntervalSeconds)
}
