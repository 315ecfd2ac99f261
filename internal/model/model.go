package model

import "time"

// Device attribute keys shared between the enrollment handler and the
// frequency controller.
const (
	AttrEtoll           = "_etoll"
	AttrInEtollGeofence = "_inEtollGeofence"
	AttrIMEI            = "_imei"

	AttrIgnitionOnFrequency  = "_ignitionOnSendFrequency"
	AttrIgnitionOffFrequency = "_ignitionOffSendFrequency"
)

// Position attribute keys.
const (
	KeyIgnition   = "ignition"
	KeySatellites = "satellites"
)

// Motion event types produced by the motion detector.
const (
	EventDeviceMoving  = "deviceMoving"
	EventDeviceStopped = "deviceStopped"
)

// EtollPosition error statuses.
const (
	StatusWarning      = "warning"
	StatusInvalidJSON  = "invalidJson"
	StatusInvalidFrame = "invalidFrame"
)

// PendingPackageID marks an enrolled position that has not been assigned
// to a submission package yet. Ledger ids start at 2 so the sentinel can
// never collide with a real package (see store schema init).
const PendingPackageID = 1

// Position is a single telemetry fix. Immutable once ingested.
type Position struct {
	ID         int64          `json:"id"`
	DeviceID   int64          `json:"deviceId"`
	Protocol   string         `json:"protocol"`
	FixTime    time.Time      `json:"fixTime"`
	ServerTime time.Time      `json:"serverTime"`
	Latitude   float64        `json:"latitude"`
	Longitude  float64        `json:"longitude"`
	Speed      float64        `json:"speed"`  // knots
	Course     float64        `json:"course"` // degrees
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Device is a tracked asset. Attributes are mutated concurrently by the
// enrollment handler and the frequency controller; updates must merge
// per key, never replace the whole map.
type Device struct {
	ID         int64             `json:"id"`
	UniqueID   string            `json:"uniqueId"`
	Name       string            `json:"name"`
	Model      string            `json:"model"`
	Phone      string            `json:"phone,omitempty"`
	Status     string            `json:"status,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// MotionEvent tags a position as the start or stop of a journey.
type MotionEvent struct {
	ID         int64  `json:"id"`
	DeviceID   int64  `json:"deviceId"`
	PositionID int64  `json:"positionId"`
	Type       string `json:"type"`
}

// EtollPosition is a position queued for toll submission.
type EtollPosition struct {
	ID          int64  `json:"id"`
	PositionID  int64  `json:"positionId"`
	PackageID   int64  `json:"packageId"`
	ErrorStatus string `json:"errorStatus,omitempty"`
	Message     string `json:"message,omitempty"`
}

// Pending reports whether the row is still waiting for a submission pass.
func (p EtollPosition) Pending() bool {
	return p.PackageID == PendingPackageID
}

// EtollPackage is one submission attempt, recorded regardless of outcome.
type EtollPackage struct {
	ID         int64     `json:"id"`
	CreateDate time.Time `json:"createDate"`
	UpdateDate time.Time `json:"updateDate"`
	Message    string    `json:"message,omitempty"`
}

// Geofence is a named polygon owned by a sibling subsystem. Only fences
// whose name starts with "_etoll" participate in toll enrollment.
type Geofence struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Area string `json:"area"` // POLYGON ((lat lon, lat lon, ...))
}
