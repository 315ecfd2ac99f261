package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fleetwatch/tracking-server/internal/model"
)

// InsertDevice persists a device and returns its id.
func (s *Store) InsertDevice(ctx context.Context, d model.Device) (int64, error) {
	if s.db == nil {
		return 0, fmt.Errorf("store not initialized")
	}

	attrs, err := encodeAttributes(d.Attributes)
	if err != nil {
		return 0, fmt.Errorf("encode device attributes: %w", err)
	}

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO devices (unique_id, name, model, phone, status, attributes) VALUES (?, ?, ?, ?, ?, ?);`,
		d.UniqueID, d.Name, d.Model, d.Phone, d.Status, attrs,
	)
	if err != nil {
		return 0, fmt.Errorf("insert device: %w", err)
	}
	return res.LastInsertId()
}

// DeviceByID loads a single device.
func (s *Store) DeviceByID(ctx context.Context, id int64) (model.Device, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, unique_id, name, model, phone, status, attributes FROM devices WHERE id = ?;`,
		id,
	)
	return scanDevice(row)
}

// Devices returns all registered devices.
func (s *Store) Devices(ctx context.Context) ([]model.Device, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, unique_id, name, model, phone, status, attributes FROM devices ORDER BY id;`)
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer rows.Close()

	var devices []model.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate devices: %w", err)
	}
	return devices, nil
}

// UpdateDeviceAttributes replaces the stored attribute map of a device.
// Callers are expected to pass a map merged against the current state;
// the cache layer guarantees per-key merging under its own lock.
func (s *Store) UpdateDeviceAttributes(ctx context.Context, id int64, attributes map[string]string) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	attrs, err := encodeAttributes(attributes)
	if err != nil {
		return fmt.Errorf("encode device attributes: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE devices SET attributes = ? WHERE id = ?;`, attrs, id); err != nil {
		return fmt.Errorf("update device attributes: %w", err)
	}
	return nil
}

// InsertPosition persists a telemetry fix and returns its id.
func (s *Store) InsertPosition(ctx context.Context, p model.Position) (int64, error) {
	if s.db == nil {
		return 0, fmt.Errorf("store not initialized")
	}

	serverTime := p.ServerTime
	if serverTime.IsZero() {
		serverTime = time.Now().UTC()
	}

	attrs, err := json.Marshal(positionAttributes(p.Attributes))
	if err != nil {
		return 0, fmt.Errorf("encode position attributes: %w", err)
	}

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO positions (device_id, protocol, fix_time, server_time, latitude, longitude, speed, course, attributes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		p.DeviceID,
		p.Protocol,
		formatTime(p.FixTime),
		formatTime(serverTime),
		p.Latitude,
		p.Longitude,
		p.Speed,
		p.Course,
		string(attrs),
	)
	if err != nil {
		return 0, fmt.Errorf("insert position: %w", err)
	}
	return res.LastInsertId()
}

// PositionByID loads the authoritative copy of a fix.
func (s *Store) PositionByID(ctx context.Context, id int64) (model.Position, error) {
	var (
		p             model.Position
		fixTimeStr    string
		serverTimeStr string
		attrsRaw      string
	)

	err := s.db.QueryRowContext(
		ctx,
		`SELECT id, device_id, protocol, fix_time, server_time, latitude, longitude, speed, course, attributes
		 FROM positions WHERE id = ?;`,
		id,
	).Scan(&p.ID, &p.DeviceID, &p.Protocol, &fixTimeStr, &serverTimeStr,
		&p.Latitude, &p.Longitude, &p.Speed, &p.Course, &attrsRaw)
	if err != nil {
		return model.Position{}, fmt.Errorf("get position %d: %w", id, err)
	}

	p.FixTime = parseTime(fixTimeStr)
	p.ServerTime = parseTime(serverTimeStr)
	if err := json.Unmarshal([]byte(attrsRaw), &p.Attributes); err != nil {
		return model.Position{}, fmt.Errorf("decode position attributes: %w", err)
	}
	return p, nil
}

// InsertMotionEvent persists a derived journey start/stop event.
func (s *Store) InsertMotionEvent(ctx context.Context, e model.MotionEvent) (int64, error) {
	if s.db == nil {
		return 0, fmt.Errorf("store not initialized")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO motion_events (device_id, position_id, type) VALUES (?, ?, ?);`,
		e.DeviceID, e.PositionID, e.Type)
	if err != nil {
		return 0, fmt.Errorf("insert motion event: %w", err)
	}
	return res.LastInsertId()
}

// MotionEventTypeForPosition returns the first moving/stopped event
// recorded for the given fix, or the empty string when there is none.
func (s *Store) MotionEventTypeForPosition(ctx context.Context, deviceID, positionID int64) (string, error) {
	var eventType string
	err := s.db.QueryRowContext(
		ctx,
		`SELECT type FROM motion_events
		 WHERE device_id = ? AND position_id = ? AND type IN (?, ?)
		 ORDER BY id LIMIT 1;`,
		deviceID, positionID, model.EventDeviceStopped, model.EventDeviceMoving,
	).Scan(&eventType)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query motion event: %w", err)
	}
	return eventType, nil
}

// InsertGeofence persists a named polygon.
func (s *Store) InsertGeofence(ctx context.Context, g model.Geofence) (int64, error) {
	if s.db == nil {
		return 0, fmt.Errorf("store not initialized")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO geofences (name, area) VALUES (?, ?);`, g.Name, g.Area)
	if err != nil {
		return 0, fmt.Errorf("insert geofence: %w", err)
	}
	return res.LastInsertId()
}

// Geofences returns every stored geofence.
func (s *Store) Geofences(ctx context.Context) ([]model.Geofence, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, name, area FROM geofences ORDER BY id;`)
	if err != nil {
		return nil, fmt.Errorf("query geofences: %w", err)
	}
	defer rows.Close()

	var fences []model.Geofence
	for rows.Next() {
		var g model.Geofence
		if err := rows.Scan(&g.ID, &g.Name, &g.Area); err != nil {
			return nil, fmt.Errorf("scan geofence: %w", err)
		}
		fences = append(fences, g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate geofences: %w", err)
	}
	return fences, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (model.Device, error) {
	var (
		d        model.Device
		attrsRaw string
	)
	if err := row.Scan(&d.ID, &d.UniqueID, &d.Name, &d.Model, &d.Phone, &d.Status, &attrsRaw); err != nil {
		return model.Device{}, fmt.Errorf("scan device: %w", err)
	}
	if err := json.Unmarshal([]byte(attrsRaw), &d.Attributes); err != nil {
		return model.Device{}, fmt.Errorf("decode device attributes: %w", err)
	}
	return d, nil
}

func encodeAttributes(attributes map[string]string) (string, error) {
	if attributes == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(attributes)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func positionAttributes(attributes map[string]any) map[string]any {
	if attributes == nil {
		return map[string]any{}
	}
	return attributes
}
