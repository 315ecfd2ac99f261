package etoll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"fleetwatch/tracking-server/internal/model"
	"fleetwatch/tracking-server/internal/store"
)

// Wire event types expected by the toll operator.
const (
	EventLocation     = "LOCATION"
	EventStartJourney = "STARTJOURNEY"
	EventEndJourney   = "ENDJOURNEY"
)

const (
	knotsToMetersPerSecond = 0.5144
	defaultSatellites      = 12
	maxMessageLength       = 300
)

// Record is the wire projection of a position fix. Field constraints
// mirror the operator's frame schema; records violating them are marked
// invalid and withheld from the outbound frame.
type Record struct {
	DataID           string  `json:"dataId" validate:"required"`
	EventType        string  `json:"eventType" validate:"required,oneof=LOCATION STARTJOURNEY ENDJOURNEY"`
	FixTimeEpoch     int64   `json:"fixTimeEpoch" validate:"required"` // microseconds
	GpsHeading       float64 `json:"gpsHeading" validate:"min=0,max=360"`
	GpsSpeed         float64 `json:"gpsSpeed" validate:"min=0,max=56"` // m/s
	Latitude         float64 `json:"latitude" validate:"min=-90,max=90"`
	Longitude        float64 `json:"longitude" validate:"min=-180,max=180"`
	SatellitesForFix int     `json:"satellitesForFix" validate:"min=0,max=32"`
	SerialNumber     string  `json:"serialNumber" validate:"required,max=64"`
}

// Transcoder converts persisted positions into wire records and checks
// them against the declarative field constraints.
type Transcoder struct {
	store    *store.Store
	validate *validator.Validate
	logger   *slog.Logger
}

// NewTranscoder builds a transcoder backed by the given store.
func NewTranscoder(st *store.Store, logger *slog.Logger) *Transcoder {
	return &Transcoder{
		store:    st,
		validate: validator.New(),
		logger:   logger,
	}
}

// Transcode projects a position onto the wire record. The device is
// loaded from the store rather than the cache so the serial number
// reflects the authoritative row.
func (t *Transcoder) Transcode(ctx context.Context, position model.Position) (Record, error) {
	device, err := t.store.DeviceByID(ctx, position.DeviceID)
	if err != nil {
		return Record{}, fmt.Errorf("load device %d: %w", position.DeviceID, err)
	}

	serial := device.UniqueID
	if imei, ok := device.Attributes[model.AttrIMEI]; ok {
		serial = imei
	}

	return Record{
		DataID:           strconv.FormatInt(position.ID, 10),
		EventType:        t.eventType(ctx, position),
		FixTimeEpoch:     position.FixTime.UnixMilli() * 1000,
		GpsHeading:       clamp(round2(position.Course), 0.0, 360.0),
		GpsSpeed:         clamp(round2(position.Speed*knotsToMetersPerSecond), 0.0, 56.0),
		Latitude:         clamp(round9(position.Latitude), -90.0, 90.0),
		Longitude:        clamp(round9(position.Longitude), -180.0, 180.0),
		SatellitesForFix: satellites(position.Attributes),
		SerialNumber:     serial,
	}, nil
}

// Validate runs the field constraints and returns a diagnostic string of
// concatenated "path=value constraint" pairs, or "" for a valid record.
// The diagnostic is already truncated to the persisted message limit.
func (t *Transcoder) Validate(record Record) string {
	err := t.validate.Struct(record)
	if err == nil {
		return ""
	}

	var violations validator.ValidationErrors
	if !errors.As(err, &violations) {
		return truncate(err.Error(), maxMessageLength)
	}

	var b strings.Builder
	for _, violation := range violations {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		constraint := violation.Tag()
		if violation.Param() != "" {
			constraint += "=" + violation.Param()
		}
		fmt.Fprintf(&b, "%s=%v violates %s", violation.Field(), violation.Value(), constraint)
	}
	return truncate(b.String(), maxMessageLength)
}

// eventType derives the wire event from the adjacent motion event, if
// any. Store errors degrade to a plain location fix.
func (t *Transcoder) eventType(ctx context.Context, position model.Position) string {
	event, err := t.store.MotionEventTypeForPosition(ctx, position.DeviceID, position.ID)
	if err != nil {
		t.logger.Warn("motion event lookup failed", "positionId", position.ID, "error", err)
		return EventLocation
	}

	switch event {
	case model.EventDeviceMoving:
		return EventStartJourney
	case model.EventDeviceStopped:
		return EventEndJourney
	default:
		return EventLocation
	}
}

func satellites(attributes map[string]any) int {
	switch v := attributes[model.KeySatellites].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultSatellites
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round9(v float64) float64 {
	return math.Round(v*1e9) / 1e9
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
