package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"fleetwatch/tracking-server/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "tracker.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.InitSchema(context.Background()); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return s
}

func TestDeviceRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.InsertDevice(ctx, model.Device{
		UniqueID:   "864893030001234",
		Name:       "truck-7",
		Attributes: map[string]string{"_etoll": "true"},
	})
	if err != nil {
		t.Fatalf("insert device: %v", err)
	}

	device, err := s.DeviceByID(ctx, id)
	if err != nil {
		t.Fatalf("get device: %v", err)
	}
	if device.UniqueID != "864893030001234" || device.Attributes["_etoll"] != "true" {
		t.Errorf("unexpected device: %+v", device)
	}

	if err := s.UpdateDeviceAttributes(ctx, id, map[string]string{"_etoll": "true", "_imei": "123"}); err != nil {
		t.Fatalf("update attributes: %v", err)
	}
	device, err = s.DeviceByID(ctx, id)
	if err != nil {
		t.Fatalf("reload device: %v", err)
	}
	if device.Attributes["_imei"] != "123" {
		t.Errorf("attribute update lost: %+v", device.Attributes)
	}
}

func TestPositionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fixTime := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	id, err := s.InsertPosition(ctx, model.Position{
		DeviceID:  1,
		Protocol:  "teltonika",
		FixTime:   fixTime,
		Latitude:  52.138791,
		Longitude: 18.618390,
		Speed:     27.5,
		Course:    181.3,
		Attributes: map[string]any{
			"ignition":   true,
			"satellites": 9.0,
		},
	})
	if err != nil {
		t.Fatalf("insert position: %v", err)
	}

	position, err := s.PositionByID(ctx, id)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if !position.FixTime.Equal(fixTime) {
		t.Errorf("fix time = %v, want %v", position.FixTime, fixTime)
	}
	if position.Latitude != 52.138791 || position.Speed != 27.5 {
		t.Errorf("unexpected position: %+v", position)
	}
	if sats, ok := position.Attributes["satellites"].(float64); !ok || sats != 9 {
		t.Errorf("satellites attribute = %v", position.Attributes["satellites"])
	}
}

func TestMotionEventTypeForPosition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	eventType, err := s.MotionEventTypeForPosition(ctx, 1, 10)
	if err != nil {
		t.Fatalf("lookup without events: %v", err)
	}
	if eventType != "" {
		t.Errorf("expected empty type, got %q", eventType)
	}

	if _, err := s.InsertMotionEvent(ctx, model.MotionEvent{DeviceID: 1, PositionID: 10, Type: model.EventDeviceMoving}); err != nil {
		t.Fatalf("insert event: %v", err)
	}
	if _, err := s.InsertMotionEvent(ctx, model.MotionEvent{DeviceID: 1, PositionID: 10, Type: model.EventDeviceStopped}); err != nil {
		t.Fatalf("insert second event: %v", err)
	}

	eventType, err = s.MotionEventTypeForPosition(ctx, 1, 10)
	if err != nil {
		t.Fatalf("lookup with events: %v", err)
	}
	// The earliest event for a fix wins.
	if eventType != model.EventDeviceMoving {
		t.Errorf("event type = %q, want %q", eventType, model.EventDeviceMoving)
	}
}

func TestPendingEtollPositionsOrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 5; i++ {
		id, err := s.InsertEtollPosition(ctx, model.EtollPosition{
			PositionID: int64(100 + i),
			PackageID:  model.PendingPackageID,
		})
		if err != nil {
			t.Fatalf("insert etoll position: %v", err)
		}
		ids = append(ids, id)
	}

	pending, err := s.PendingEtollPositions(ctx, 3)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("limit ignored: got %d rows", len(pending))
	}
	for i, row := range pending {
		if row.ID != ids[i] {
			t.Errorf("row %d id = %d, want %d (oldest first)", i, row.ID, ids[i])
		}
		if !row.Pending() {
			t.Errorf("row %d not pending: %+v", i, row)
		}
	}

	// Advancing a row removes it from the pending set.
	first := pending[0]
	first.PackageID = 2
	if err := s.UpdateEtollPosition(ctx, first); err != nil {
		t.Fatalf("update: %v", err)
	}
	pending, err = s.PendingEtollPositions(ctx, 10)
	if err != nil {
		t.Fatalf("pending after update: %v", err)
	}
	if len(pending) != 4 || pending[0].ID != ids[1] {
		t.Errorf("pending set after advance wrong: %+v", pending)
	}
}

func TestEtollPackageIDsStartAboveSentinel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.InsertEtollPackage(ctx, model.EtollPackage{Message: "first"})
	if err != nil {
		t.Fatalf("insert package: %v", err)
	}
	if first <= model.PendingPackageID {
		t.Fatalf("package id %d collides with pending sentinel", first)
	}

	second, err := s.InsertEtollPackage(ctx, model.EtollPackage{Message: "second"})
	if err != nil {
		t.Fatalf("insert second package: %v", err)
	}
	if second <= first {
		t.Errorf("package ids not monotonic: %d then %d", first, second)
	}

	// Re-running schema init must not disturb existing ids.
	if err := s.InitSchema(ctx); err != nil {
		t.Fatalf("re-init schema: %v", err)
	}
	third, err := s.InsertEtollPackage(ctx, model.EtollPackage{})
	if err != nil {
		t.Fatalf("insert third package: %v", err)
	}
	if third <= second {
		t.Errorf("package ids not monotonic after re-init: %d then %d", second, third)
	}
}

func TestRecentEtollPackagesExcludesSentinel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.InsertEtollPackage(ctx, model.EtollPackage{Message: "batch"})
	if err != nil {
		t.Fatalf("insert package: %v", err)
	}
	if err := s.UpdateEtollPackage(ctx, id, time.Now().UTC(), "done"); err != nil {
		t.Fatalf("update package: %v", err)
	}

	packages, err := s.RecentEtollPackages(ctx, 10)
	if err != nil {
		t.Fatalf("recent packages: %v", err)
	}
	if len(packages) != 1 {
		t.Fatalf("expected only the real package, got %d", len(packages))
	}
	if packages[0].ID != id || packages[0].Message != "done" {
		t.Errorf("unexpected package: %+v", packages[0])
	}
	if packages[0].UpdateDate.Before(packages[0].CreateDate) {
		t.Errorf("update date %v before create date %v", packages[0].UpdateDate, packages[0].CreateDate)
	}
}
