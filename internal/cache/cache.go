package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"fleetwatch/tracking-server/internal/model"
	"fleetwatch/tracking-server/internal/store"
)

// Cache keeps the working set of devices and their last known positions
// in memory. Device attribute updates are merged per key under the cache
// lock and written through to the store, so two writers touching
// different keys never clobber each other.
type Cache struct {
	store  *store.Store
	logger *slog.Logger

	mu        sync.RWMutex
	devices   map[int64]model.Device
	byUnique  map[string]int64
	positions map[int64]model.Position
}

// New constructs an empty cache backed by the given store.
func New(st *store.Store, logger *slog.Logger) *Cache {
	return &Cache{
		store:     st,
		logger:    logger,
		devices:   make(map[int64]model.Device),
		byUnique:  make(map[string]int64),
		positions: make(map[int64]model.Position),
	}
}

// Warm loads all devices from the store.
func (c *Cache) Warm(ctx context.Context) error {
	devices, err := c.store.Devices(ctx)
	if err != nil {
		return fmt.Errorf("warm device cache: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, device := range devices {
		c.devices[device.ID] = device
		c.byUnique[device.UniqueID] = device.ID
	}
	c.logger.Info("device cache warmed", "devices", len(devices))
	return nil
}

// Device returns a copy of the cached device.
func (c *Cache) Device(id int64) (model.Device, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	device, ok := c.devices[id]
	if !ok {
		return model.Device{}, false
	}
	return cloneDevice(device), true
}

// DeviceByUniqueID resolves a device by its wire identifier.
func (c *Cache) DeviceByUniqueID(uniqueID string) (model.Device, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byUnique[uniqueID]
	if !ok {
		return model.Device{}, false
	}
	return cloneDevice(c.devices[id]), true
}

// PutDevice inserts or replaces a cached device.
func (c *Cache) PutDevice(device model.Device) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.devices[device.ID] = cloneDevice(device)
	c.byUnique[device.UniqueID] = device.ID
}

// UpdatePosition records the last known fix for a device.
func (c *Cache) UpdatePosition(position model.Position) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.positions[position.DeviceID] = position
}

// LastPosition returns the last known fix for a device.
func (c *Cache) LastPosition(deviceID int64) (model.Position, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	position, ok := c.positions[deviceID]
	return position, ok
}

// SetDeviceAttribute merges a single attribute into the device and
// writes the merged map through to the store.
func (c *Cache) SetDeviceAttribute(ctx context.Context, deviceID int64, key, value string) error {
	return c.mutateAttributes(ctx, deviceID, func(attributes map[string]string) {
		attributes[key] = value
	})
}

// SetDeviceAttributes merges several attributes in one write-through.
func (c *Cache) SetDeviceAttributes(ctx context.Context, deviceID int64, updates map[string]string) error {
	return c.mutateAttributes(ctx, deviceID, func(attributes map[string]string) {
		for key, value := range updates {
			attributes[key] = value
		}
	})
}

// RemoveDeviceAttribute deletes a single attribute and writes through.
func (c *Cache) RemoveDeviceAttribute(ctx context.Context, deviceID int64, key string) error {
	return c.mutateAttributes(ctx, deviceID, func(attributes map[string]string) {
		delete(attributes, key)
	})
}

func (c *Cache) mutateAttributes(ctx context.Context, deviceID int64, mutate func(map[string]string)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	device, ok := c.devices[deviceID]
	if !ok {
		return fmt.Errorf("device %d not cached", deviceID)
	}

	merged := make(map[string]string, len(device.Attributes)+1)
	for key, value := range device.Attributes {
		merged[key] = value
	}
	mutate(merged)

	if err := c.store.UpdateDeviceAttributes(ctx, deviceID, merged); err != nil {
		return err
	}

	device.Attributes = merged
	c.devices[deviceID] = device
	return nil
}

func cloneDevice(device model.Device) model.Device {
	clone := device
	clone.Attributes = make(map[string]string, len(device.Attributes))
	for key, value := range device.Attributes {
		clone.Attributes[key] = value
	}
	return clone
}
