package model

import (
	"sync"
	"time"
)

// GPSFixType enumerates the quality of a GPS fix.
type GPSFixType int

const (
	GPSFixNone GPSFixType = iota
	GPSFixUnknown
	GPSFix2D
	GPSFix3D
	GPSFixDGPS
	GPSFixRTKFloat
	GPSFixRTKFixed
)

// Position is a geodetic position. Altitudes are in millimetres above
// mean sea level (AMSL) and above ground level (AGL).
type Position struct {
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	AMSL float64 `json:"amsl"`
	AGL  float64 `json:"agl"`
}

// GPSFix describes the state of the positioning subsystem of a UAV.
type GPSFix struct {
	Type               GPSFixType `json:"type"`
	NumSatellites      *int       `json:"numSatellites,omitempty"`
	HorizontalAccuracy *float64   `json:"horizontalAccuracy,omitempty"`
	VerticalAccuracy   *float64   `json:"verticalAccuracy,omitempty"`
}

// Battery holds battery telemetry. Voltage is expressed in tenths of
// volts so integer wire payloads stay lossless.
type Battery struct {
	VoltageDecivolts int  `json:"voltage"`
	Percentage       *int `json:"percentage,omitempty"`
}

// UAVStatusInfo is the status frame of one UAV as reported to clients
// in UAV-INF notifications.
type UAVStatusInfo struct {
	ID          string    `json:"id"`
	TimestampMs int64     `json:"timestamp"`
	Position    Position  `json:"position"`
	VelocityNED []float64 `json:"velocity,omitempty"`
	// HeadingDecidegrees is the heading in tenths of degrees.
	HeadingDecidegrees int     `json:"heading"`
	Mode               string  `json:"mode,omitempty"`
	GPSFix             GPSFix  `json:"gps"`
	Battery            Battery `json:"battery"`
	LightRGB565        uint16  `json:"light,omitempty"`
	Errors             []int   `json:"errors,omitempty"`
	Debug              []byte  `json:"debug,omitempty"`
}

// UAV is a tracked unmanned aerial vehicle. Status updates come from the
// driver responsible for the vehicle; reads come from message handlers.
type UAV struct {
	id     string
	driver string

	mu     sync.RWMutex
	status UAVStatusInfo
}

// NewUAV creates a UAV owned by the named driver.
func NewUAV(id, driver string) *UAV {
	return &UAV{
		id:     id,
		driver: driver,
		status: UAVStatusInfo{ID: id},
	}
}

// ObjectID implements Object.
func (u *UAV) ObjectID() string { return u.id }

// ObjectType implements Object.
func (u *UAV) ObjectType() ObjectType { return ObjectTypeUAV }

// DriverName returns the name of the driver owning the UAV.
func (u *UAV) DriverName() string { return u.driver }

// Status returns a copy of the current status frame.
func (u *UAV) Status() UAVStatusInfo {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.status
}

// UpdateStatus applies a mutation to the status frame and stamps it with
// the current time.
func (u *UAV) UpdateStatus(update func(*UAVStatusInfo)) {
	u.mu.Lock()
	defer u.mu.Unlock()
	update(&u.status)
	u.status.ID = u.id
	u.status.TimestampMs = time.Now().UnixMilli()
}
