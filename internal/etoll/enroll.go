package etoll

import (
	"context"
	"log/slog"

	"fleetwatch/tracking-server/internal/cache"
	"fleetwatch/tracking-server/internal/geo"
	"fleetwatch/tracking-server/internal/metrics"
	"fleetwatch/tracking-server/internal/model"
	"fleetwatch/tracking-server/internal/store"
)

// Enroller decides, per ingested position, whether the device's last
// known fix lies inside a toll geofence and should be queued for
// submission. It runs on the ingest path and must never block it: every
// failure is logged and swallowed.
type Enroller struct {
	store   *store.Store
	cache   *cache.Cache
	zones   *geo.PolygonSet // nil when the geofence gate is disabled
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewEnroller constructs the enrollment handler. Pass a nil polygon set
// to leave the subsystem dormant.
func NewEnroller(st *store.Store, c *cache.Cache, zones *geo.PolygonSet, m *metrics.Metrics, logger *slog.Logger) *Enroller {
	return &Enroller{store: st, cache: c, zones: zones, metrics: m, logger: logger}
}

// HandlePosition applies the enrollment contract to one ingested fix.
func (e *Enroller) HandlePosition(ctx context.Context, position model.Position) {
	device, ok := e.cache.Device(position.DeviceID)
	if !ok {
		return
	}
	if _, optedIn := device.Attributes[model.AttrEtoll]; !optedIn {
		return
	}

	last, ok := e.cache.LastPosition(position.DeviceID)
	if !ok {
		last = position
	}

	if e.zones.Contains(last.Latitude, last.Longitude) {
		row := model.EtollPosition{
			PositionID: last.ID,
			PackageID:  model.PendingPackageID,
		}
		if _, err := e.store.InsertEtollPosition(ctx, row); err != nil {
			e.logger.Warn("failed to enroll position", "deviceId", device.ID, "positionId", last.ID, "error", err)
			return
		}
		e.metrics.PositionsEnrolled.Inc()

		if err := e.cache.SetDeviceAttribute(ctx, device.ID, model.AttrInEtollGeofence, "true"); err != nil {
			e.logger.Warn("failed to mark device in geofence", "deviceId", device.ID, "error", err)
		}
	} else if _, marked := device.Attributes[model.AttrInEtollGeofence]; marked {
		if err := e.cache.RemoveDeviceAttribute(ctx, device.ID, model.AttrInEtollGeofence); err != nil {
			e.logger.Warn("failed to clear geofence marker", "deviceId", device.ID, "error", err)
		}
	}
}
