package tado

// API is the remote contract the connector consumes. Read operations return
// decoded JSON (mappings or lists of mappings); shape differences between
// API generations are resolved at the normalization boundary, not here.
type API interface {
	Me() (any, error)
	Zones() ([]any, error)
	Zone(zoneID int) (map[string]any, error)
	ZoneState(zoneID int) (map[string]any, error)
	Capabilities(zoneID int) (map[string]any, error)
	Devices() ([]any, error)
	MobileDevices() ([]any, error)
	Weather() (map[string]any, error)
	HomeState() (map[string]any, error)

	TempOffset(deviceID string) (map[string]any, error)
	SetTempOffset(deviceID string, offset float64) error

	SetZoneOverlay(zoneID int, overlay Overlay) error
	ResetZoneOverlay(zoneID int) error
	SetPresence(presence string) error
	SetEIQMeterReading(date string, reading int) (map[string]any, error)
}

// Overlay describes a manual zone override write.
type Overlay struct {
	TerminationMode string
	DurationSeconds int
	DeviceType      string
	Power           string
	Temperature     *float64
	HVACMode        string
	FanSpeed        string
	Swing           string
	FanLevel        string
	VerticalSwing   string
	HorizontalSwing string
}
