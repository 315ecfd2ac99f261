package etoll

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"fleetwatch/tracking-server/internal/metrics"
	"fleetwatch/tracking-server/internal/model"
	"fleetwatch/tracking-server/internal/store"
)

type fakeSender struct {
	outcome Outcome
	frames  [][]byte
}

func (f *fakeSender) Submit(_ context.Context, frame []byte) Outcome {
	f.frames = append(f.frames, frame)
	return f.outcome
}

func newTestWorker(t *testing.T, s *store.Store, sender frameSender, m *metrics.Metrics) *Worker {
	t.Helper()
	transcoder := NewTranscoder(s, discardLogger())
	return NewWorker(s, transcoder, sender, m, discardLogger(), 100, time.Minute)
}

func enroll(t *testing.T, s *store.Store, positionID int64) int64 {
	t.Helper()
	id, err := s.InsertEtollPosition(context.Background(), model.EtollPosition{
		PositionID: positionID,
		PackageID:  model.PendingPackageID,
	})
	if err != nil {
		t.Fatalf("enroll position: %v", err)
	}
	return id
}

func inCountryPosition(deviceID int64) model.Position {
	return model.Position{
		DeviceID: deviceID,
		FixTime:  time.Now().UTC(),
		Latitude: 52.138791, Longitude: 18.618390,
		Speed: 27.5, Course: 181.3,
	}
}

func TestRunCycleSuccess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := metrics.New()

	deviceID := seedDevice(t, s, model.Device{UniqueID: "864893030001234"})
	position := seedPosition(t, s, inCountryPosition(deviceID))
	rowID := enroll(t, s, position.ID)

	sender := &fakeSender{outcome: Outcome{Kind: OutcomeSuccess}}
	worker := newTestWorker(t, s, sender, m)
	worker.RunCycle(ctx)

	if len(sender.frames) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(sender.frames))
	}
	var records []Record
	if err := json.Unmarshal(sender.frames[0], &records); err != nil {
		t.Fatalf("frame not a json array: %v", err)
	}
	if len(records) != 1 || records[0].SerialNumber != "864893030001234" {
		t.Fatalf("unexpected frame contents: %+v", records)
	}

	row, err := s.EtollPositionByID(ctx, rowID)
	if err != nil {
		t.Fatalf("reload row: %v", err)
	}
	if row.Pending() {
		t.Error("row still pending after successful submission")
	}
	if row.PackageID <= model.PendingPackageID {
		t.Errorf("package id %d not above sentinel", row.PackageID)
	}
	if row.ErrorStatus != "" || row.Message != "" {
		t.Errorf("successful row carries error state: %+v", row)
	}

	pkg, err := s.EtollPackageByID(ctx, row.PackageID)
	if err != nil {
		t.Fatalf("ledger row missing: %v", err)
	}
	if pkg.Message != "" {
		t.Errorf("success ledger message = %q", pkg.Message)
	}

	if got := testutil.ToFloat64(m.Batches.WithLabelValues("success")); got != 1 {
		t.Errorf("success batch counter = %v", got)
	}
}

func TestRunCycleServerUnavailableKeepsRowsPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := metrics.New()

	deviceID := seedDevice(t, s, model.Device{UniqueID: "dev-1"})
	position := seedPosition(t, s, inCountryPosition(deviceID))
	rowID := enroll(t, s, position.ID)

	sender := &fakeSender{outcome: Outcome{Kind: OutcomeServerUnavailable, Message: "503 Service Unavailable"}}
	worker := newTestWorker(t, s, sender, m)
	worker.RunCycle(ctx)

	row, err := s.EtollPositionByID(ctx, rowID)
	if err != nil {
		t.Fatalf("reload row: %v", err)
	}
	if !row.Pending() {
		t.Error("row advanced despite unavailable server")
	}

	// The attempt is still recorded in the ledger.
	packages, err := s.RecentEtollPackages(ctx, 10)
	if err != nil {
		t.Fatalf("recent packages: %v", err)
	}
	if len(packages) != 1 || packages[0].Message != "503 Service Unavailable" {
		t.Errorf("ledger after failed attempt: %+v", packages)
	}

	// Next cycle retries the same row.
	sender.outcome = Outcome{Kind: OutcomeSuccess}
	worker.RunCycle(ctx)
	row, err = s.EtollPositionByID(ctx, rowID)
	if err != nil {
		t.Fatalf("reload row: %v", err)
	}
	if row.Pending() {
		t.Error("row not advanced on retry")
	}
}

func TestRunCycleFrameInvalidMarksRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := metrics.New()

	deviceID := seedDevice(t, s, model.Device{UniqueID: "dev-1"})
	position := seedPosition(t, s, inCountryPosition(deviceID))
	rowID := enroll(t, s, position.ID)

	sender := &fakeSender{outcome: Outcome{Kind: OutcomeFrameInvalid, Message: "415 unsupported"}}
	worker := newTestWorker(t, s, sender, m)
	worker.RunCycle(ctx)

	row, err := s.EtollPositionByID(ctx, rowID)
	if err != nil {
		t.Fatalf("reload row: %v", err)
	}
	if row.Pending() {
		t.Error("frame-invalid row must still be attached to its package")
	}
	if row.ErrorStatus != model.StatusInvalidFrame {
		t.Errorf("errorStatus = %q, want %q", row.ErrorStatus, model.StatusInvalidFrame)
	}

	pkg, err := s.EtollPackageByID(ctx, row.PackageID)
	if err != nil {
		t.Fatalf("ledger row missing: %v", err)
	}
	if pkg.Message != "415 unsupported" {
		t.Errorf("ledger message = %q", pkg.Message)
	}
}

func TestRunCycleInvalidRecordStaysPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := metrics.New()

	// Unique id beyond the 64-character serial limit makes the record fail
	// field validation while a sibling device submits normally.
	badDevice := seedDevice(t, s, model.Device{
		UniqueID: "86489303000123486489303000123486489303000123486489303000123412345",
	})
	goodDevice := seedDevice(t, s, model.Device{UniqueID: "dev-good"})

	badPosition := seedPosition(t, s, inCountryPosition(badDevice))
	goodPosition := seedPosition(t, s, inCountryPosition(goodDevice))
	badRowID := enroll(t, s, badPosition.ID)
	goodRowID := enroll(t, s, goodPosition.ID)

	sender := &fakeSender{outcome: Outcome{Kind: OutcomeSuccess}}
	worker := newTestWorker(t, s, sender, m)
	worker.RunCycle(ctx)

	var frame []Record
	if err := json.Unmarshal(sender.frames[0], &frame); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if len(frame) != 1 || frame[0].SerialNumber != "dev-good" {
		t.Fatalf("invalid record leaked into the frame: %+v", frame)
	}

	badRow, err := s.EtollPositionByID(ctx, badRowID)
	if err != nil {
		t.Fatalf("reload bad row: %v", err)
	}
	if !badRow.Pending() {
		t.Error("invalid row must stay pending for the next cycle")
	}
	if badRow.ErrorStatus != model.StatusInvalidJSON {
		t.Errorf("errorStatus = %q, want %q", badRow.ErrorStatus, model.StatusInvalidJSON)
	}
	if badRow.Message == "" {
		t.Error("invalid row carries no diagnostic")
	}

	goodRow, err := s.EtollPositionByID(ctx, goodRowID)
	if err != nil {
		t.Fatalf("reload good row: %v", err)
	}
	if goodRow.Pending() {
		t.Error("valid sibling row not advanced")
	}

	if got := testutil.ToFloat64(m.RecordsInvalid); got != 1 {
		t.Errorf("invalid record counter = %v", got)
	}
}

func TestRunCycleOutOfCountrySkippedButAdvanced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := metrics.New()

	deviceID := seedDevice(t, s, model.Device{UniqueID: "dev-1"})
	abroad := seedPosition(t, s, model.Position{
		DeviceID: deviceID,
		FixTime:  time.Now().UTC(),
		Latitude: 48.0, Longitude: 20.0,
	})
	rowID := enroll(t, s, abroad.ID)

	sender := &fakeSender{outcome: Outcome{Kind: OutcomeServerUnavailable, Message: "should not be called"}}
	worker := newTestWorker(t, s, sender, m)
	worker.RunCycle(ctx)

	if len(sender.frames) != 0 {
		t.Fatal("empty frame was still submitted")
	}

	row, err := s.EtollPositionByID(ctx, rowID)
	if err != nil {
		t.Fatalf("reload row: %v", err)
	}
	if row.Pending() {
		t.Error("out-of-country row must be advanced, not retried forever")
	}
	if row.ErrorStatus != "" {
		t.Errorf("out-of-country row carries error status %q", row.ErrorStatus)
	}
}

func TestRunCycleNothingPending(t *testing.T) {
	s := newTestStore(t)
	m := metrics.New()

	sender := &fakeSender{outcome: Outcome{Kind: OutcomeSuccess}}
	worker := newTestWorker(t, s, sender, m)
	worker.RunCycle(context.Background())

	if len(sender.frames) != 0 {
		t.Error("submission attempted with nothing pending")
	}
	packages, err := s.RecentEtollPackages(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent packages: %v", err)
	}
	if len(packages) != 0 {
		t.Errorf("ledger written for an idle cycle: %+v", packages)
	}
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	s := newTestStore(t)
	m := metrics.New()

	worker := newTestWorker(t, s, &fakeSender{outcome: Outcome{Kind: OutcomeSuccess}}, m)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v on cancellation", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
