package etoll

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"fleetwatch/tracking-server/internal/geo"
	"fleetwatch/tracking-server/internal/metrics"
	"fleetwatch/tracking-server/internal/model"
	"fleetwatch/tracking-server/internal/store"
)

// frameSender abstracts the Submitter so worker tests can run against
// plain httptest servers.
type frameSender interface {
	Submit(ctx context.Context, frame []byte) Outcome
}

// Worker is the single long-lived batcher. On a fixed cadence it drains
// pending enrolled positions, transcodes and validates them, submits the
// frame, and reconciles the outcome onto the rows and the ledger.
type Worker struct {
	store      *store.Store
	transcoder *Transcoder
	submitter  frameSender
	metrics    *metrics.Metrics
	logger     *slog.Logger
	batchSize  int
	period     time.Duration
}

// NewWorker wires the batcher. batchSize caps the rows per cycle and
// period is the sleep between cycles.
func NewWorker(st *store.Store, transcoder *Transcoder, submitter frameSender,
	m *metrics.Metrics, logger *slog.Logger, batchSize int, period time.Duration) *Worker {
	return &Worker{
		store:      st,
		transcoder: transcoder,
		submitter:  submitter,
		metrics:    m,
		logger:     logger,
		batchSize:  batchSize,
		period:     period,
	}
}

// Run loops until the context is cancelled. Errors inside a cycle are
// logged, never propagated; the sleep is the only suspension point
// besides store and network I/O.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("submission worker started", "batchSize", w.batchSize, "period", w.period)
	for {
		w.RunCycle(ctx)
		select {
		case <-ctx.Done():
			w.logger.Info("submission worker stopped")
			return nil
		case <-time.After(w.period):
		}
	}
}

// RunCycle performs one fetch/submit/reconcile pass.
func (w *Worker) RunCycle(ctx context.Context) {
	pending, err := w.store.PendingEtollPositions(ctx, w.batchSize)
	if err != nil {
		w.logger.Error("fetch pending positions", "error", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	records, invalid := w.prepare(ctx, pending)

	outcome := Outcome{Kind: OutcomeSuccess}
	if len(records) > 0 {
		frame, err := json.Marshal(records)
		if err != nil {
			w.logger.Error("encode submission frame", "error", err)
			return
		}
		outcome = w.submitter.Submit(ctx, frame)
	} else {
		// Nothing to transmit, but reconciliation still runs so the
		// cycle is visible in the ledger.
		w.logger.Info("empty frame, skipping submission", "pending", len(pending))
	}

	w.reconcile(ctx, pending, invalid, outcome)
}

// prepare transcodes and validates every fetched row. Rows failing
// validation are marked invalidJson immediately and kept pending so the
// next cycle re-validates them; their ids are returned so reconciliation
// leaves them alone. Rows outside the toll country produce no record but
// stay in the fetched set and are attached to the package as usual.
func (w *Worker) prepare(ctx context.Context, pending []model.EtollPosition) ([]Record, map[int64]bool) {
	invalid := make(map[int64]bool)
	records := make([]Record, 0, len(pending))

	for _, row := range pending {
		position, err := w.store.PositionByID(ctx, row.PositionID)
		if err != nil {
			w.logger.Warn("cannot load position for enrolled row", "id", row.ID, "positionId", row.PositionID, "error", err)
			continue
		}

		if !geo.InTollCountry(position.Latitude, position.Longitude) {
			continue
		}

		record, err := w.transcoder.Transcode(ctx, position)
		if err != nil {
			w.logger.Warn("transcode failed", "id", row.ID, "error", err)
			continue
		}

		if message := w.transcoder.Validate(record); message != "" {
			invalid[row.ID] = true
			w.metrics.RecordsInvalid.Inc()

			update := row
			update.PackageID = model.PendingPackageID
			update.ErrorStatus = model.StatusInvalidJSON
			update.Message = message
			if err := w.store.UpdateEtollPosition(ctx, update); err != nil {
				w.logger.Warn("cannot mark invalid record", "id", row.ID, "error", err)
			}
			continue
		}

		records = append(records, record)
	}

	return records, invalid
}

// reconcile writes the ledger row and advances the fetched rows
// according to the outcome. On server-unavailable no packageId moves,
// so the whole batch is retried next cycle.
func (w *Worker) reconcile(ctx context.Context, pending []model.EtollPosition, invalid map[int64]bool, outcome Outcome) {
	message := truncate(outcome.Message, maxMessageLength)

	packageID, err := w.store.InsertEtollPackage(ctx, model.EtollPackage{
		CreateDate: time.Now().UTC(),
		Message:    message,
	})
	if err != nil {
		w.logger.Error("cannot record submission package", "error", err)
		return
	}

	if outcome.Kind != OutcomeServerUnavailable {
		for _, row := range pending {
			if invalid[row.ID] {
				continue
			}
			update := row
			update.PackageID = packageID
			update.ErrorStatus = ""
			update.Message = ""
			if outcome.Kind == OutcomeFrameInvalid {
				update.ErrorStatus = model.StatusInvalidFrame
			}
			if err := w.store.UpdateEtollPosition(ctx, update); err != nil {
				w.logger.Warn("cannot update enrolled row", "id", row.ID, "error", err)
			}
		}
	}

	if err := w.store.UpdateEtollPackage(ctx, packageID, time.Now().UTC(), message); err != nil {
		w.logger.Error("cannot finalize submission package", "packageId", packageID, "error", err)
	}

	w.metrics.Batches.WithLabelValues(outcome.Kind.String()).Inc()
	w.logger.Info("submission cycle finished",
		"packageId", packageID,
		"outcome", outcome.Kind.String(),
		"fetched", len(pending),
		"invalid", len(invalid))
}
