package models

import "time"

// NetworkClass is the coarse connectivity class.
type NetworkClass string

const (
	NetworkOffline  NetworkClass = "offline"
	NetworkCellular NetworkClass = "cellular"
	NetworkWifi     NetworkClass = "wifi"
)

// ThermalState mirrors the platform thermal pressure levels.
type ThermalState string

const (
	ThermalNominal  ThermalState = "nominal"
	ThermalFair     ThermalState = "fair"
	ThermalSerious  ThermalState = "serious"
	ThermalCritical ThermalState = "critical"
)

// DeviceContext is an ephemeral snapshot of device and user signals,
// read fresh for every scheduling decision. Never persisted.
type DeviceContext struct {
	BatteryLevel float64      `json:"battery_level"` // 0.0 - 1.0
	Charging     bool         `json:"charging"`
	Thermal      ThermalState `json:"thermal"`
	LowPowerMode bool         `json:"low_power_mode"`

	Network        NetworkClass `json:"network"`
	NetworkQuality float64      `json:"network_quality"` // 0.0 - 1.0

	// ActivityLevel is the current user activity estimate.
	ActivityLevel float64 `json:"activity_level"` // 0.0 - 1.0

	// Editing is true while the user actively edits a chart.
	Editing    bool      `json:"editing"`
	LastEditAt time.Time `json:"last_edit_at,omitzero"`

	// PerformanceMode is the live-session flag. Sync must never run while
	// it is set.
	PerformanceMode bool `json:"performance_mode"`

	CapturedAt time.Time `json:"captured_at"`
}
