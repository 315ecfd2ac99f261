package frequency

import (
	"context"
	"log/slog"
	"strconv"

	"fleetwatch/tracking-server/internal/cache"
	"fleetwatch/tracking-server/internal/model"
)

// Command asks a device to change its reporting cadence. Stop tells the
// device to fall back to its built-in schedule.
type Command struct {
	OnSeconds  int  `json:"onSeconds"`
	OffSeconds int  `json:"offSeconds"`
	Stop       bool `json:"stop,omitempty"`
}

// CommandSender delivers a cadence command to a device. The MQTT intake
// client implements it.
type CommandSender interface {
	SendCommand(ctx context.Context, device model.Device, command Command) error
}

// Cadence presets in seconds. Toll reporting requires the tightest one
// whenever the enrollment handler has marked the device in a toll zone.
const (
	tollSeconds      = 5
	highwaySeconds   = 30
	ignitionSeconds  = 15
	idleNightSeconds = 150
	idleDuskSeconds  = 75
	idleDaySeconds   = 60

	highwaySpeedKnots = 54
	maxFixLagSeconds  = 10
)

// Controller adjusts per-device reporting frequency from each live fix.
// Toll-zone state is read from the in-geofence device attribute written
// by the enrollment handler, which runs earlier in the handler chain.
// The controller only reacts to fresh fixes so a backlog replay cannot
// thrash the device configuration.
type Controller struct {
	cache  *cache.Cache
	sender CommandSender
	logger *slog.Logger
}

// NewController builds the frequency controller.
func NewController(c *cache.Cache, sender CommandSender, logger *slog.Logger) *Controller {
	return &Controller{cache: c, sender: sender, logger: logger}
}

// HandlePosition recomputes the wanted cadence for the device that
// produced the fix and pushes a command when it changed. Failures are
// logged and swallowed, the ingest path must not stall.
func (c *Controller) HandlePosition(ctx context.Context, position model.Position) {
	lag := position.ServerTime.Sub(position.FixTime)
	if lag.Seconds() >= maxFixLagSeconds || lag < 0 {
		return
	}

	device, ok := c.cache.Device(position.DeviceID)
	if !ok {
		return
	}

	currentOn := attributeSeconds(device, model.AttrIgnitionOnFrequency)
	currentOff := attributeSeconds(device, model.AttrIgnitionOffFrequency)

	if _, inZone := device.Attributes[model.AttrInEtollGeofence]; inZone {
		c.apply(ctx, device, currentOn, currentOff, tollSeconds, tollSeconds)
		return
	}

	if currentOn == tollSeconds && currentOff == tollSeconds {
		// Marker cleared: hand cadence control back to the device.
		if err := c.sender.SendCommand(ctx, device, Command{Stop: true}); err != nil {
			c.logger.Warn("cannot send cadence stop", "deviceId", device.ID, "error", err)
			return
		}
		if err := c.cache.RemoveDeviceAttribute(ctx, device.ID, model.AttrIgnitionOnFrequency); err != nil {
			c.logger.Warn("cannot clear cadence attribute", "deviceId", device.ID, "error", err)
		}
		if err := c.cache.RemoveDeviceAttribute(ctx, device.ID, model.AttrIgnitionOffFrequency); err != nil {
			c.logger.Warn("cannot clear cadence attribute", "deviceId", device.ID, "error", err)
		}
		return
	}

	on, off := c.cruiseCadence(position)
	c.apply(ctx, device, currentOn, currentOff, on, off)
}

// cruiseCadence picks the cadence outside toll zones: fast when the
// vehicle is on a highway or the ignition is on, sparse when it idles.
func (c *Controller) cruiseCadence(position model.Position) (on, off int) {
	if position.Speed > highwaySpeedKnots {
		return highwaySeconds, highwaySeconds
	}
	if ignition, ok := position.Attributes[model.KeyIgnition].(bool); ok && ignition {
		return ignitionSeconds, ignitionSeconds
	}
	switch hour := position.FixTime.Hour(); {
	case hour < 6:
		return idleNightSeconds, idleNightSeconds
	case hour >= 20:
		return idleDuskSeconds, idleDuskSeconds
	default:
		return idleDaySeconds, idleDaySeconds
	}
}

func (c *Controller) apply(ctx context.Context, device model.Device, currentOn, currentOff, on, off int) {
	if currentOn == on && currentOff == off {
		return
	}

	command := Command{OnSeconds: on, OffSeconds: off}
	if err := c.sender.SendCommand(ctx, device, command); err != nil {
		c.logger.Warn("cannot send cadence command", "deviceId", device.ID, "error", err)
		return
	}

	updates := map[string]string{
		model.AttrIgnitionOnFrequency:  strconv.Itoa(on),
		model.AttrIgnitionOffFrequency: strconv.Itoa(off),
	}
	if err := c.cache.SetDeviceAttributes(ctx, device.ID, updates); err != nil {
		c.logger.Warn("cannot record cadence attributes", "deviceId", device.ID, "error", err)
		return
	}
	c.logger.Info("cadence updated", "deviceId", device.ID, "onSeconds", on, "offSeconds", off)
}

func attributeSeconds(device model.Device, key string) int {
	value, ok := device.Attributes[key]
	if !ok {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return seconds
}
