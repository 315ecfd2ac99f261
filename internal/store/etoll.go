package store

import (
	"context"
	"fmt"
	"time"

	"fleetwatch/tracking-server/internal/model"
)

// InsertEtollPosition enqueues a position for toll submission.
func (s *Store) InsertEtollPosition(ctx context.Context, p model.EtollPosition) (int64, error) {
	if s.db == nil {
		return 0, fmt.Errorf("store not initialized")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO etoll_positions (position_id, package_id, error_status, message) VALUES (?, ?, ?, ?);`,
		p.PositionID, p.PackageID, p.ErrorStatus, p.Message)
	if err != nil {
		return 0, fmt.Errorf("insert etoll position: %w", err)
	}
	return res.LastInsertId()
}

// PendingEtollPositions returns up to limit rows still carrying the
// pending sentinel, oldest first.
func (s *Store) PendingEtollPositions(ctx context.Context, limit int) ([]model.EtollPosition, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, position_id, package_id, error_status, message
		 FROM etoll_positions
		 WHERE package_id = ?
		 ORDER BY id
		 LIMIT ?;`,
		model.PendingPackageID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending etoll positions: %w", err)
	}
	defer rows.Close()

	return collectEtollPositions(rows)
}

// EtollPositionByID loads a single enrolled row.
func (s *Store) EtollPositionByID(ctx context.Context, id int64) (model.EtollPosition, error) {
	var p model.EtollPosition
	err := s.db.QueryRowContext(ctx,
		`SELECT id, position_id, package_id, error_status, message FROM etoll_positions WHERE id = ?;`,
		id,
	).Scan(&p.ID, &p.PositionID, &p.PackageID, &p.ErrorStatus, &p.Message)
	if err != nil {
		return model.EtollPosition{}, fmt.Errorf("get etoll position %d: %w", id, err)
	}
	return p, nil
}

// UpdateEtollPosition writes back the lifecycle fields of an enrolled row.
func (s *Store) UpdateEtollPosition(ctx context.Context, p model.EtollPosition) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE etoll_positions SET package_id = ?, error_status = ?, message = ? WHERE id = ?;`,
		p.PackageID, p.ErrorStatus, p.Message, p.ID); err != nil {
		return fmt.Errorf("update etoll position %d: %w", p.ID, err)
	}
	return nil
}

// RecentEtollPositions returns the newest enrolled rows for the admin API.
func (s *Store) RecentEtollPositions(ctx context.Context, limit int) ([]model.EtollPosition, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, position_id, package_id, error_status, message
		 FROM etoll_positions ORDER BY id DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("query etoll positions: %w", err)
	}
	defer rows.Close()

	return collectEtollPositions(rows)
}

// InsertEtollPackage records a submission attempt in the ledger and
// returns the assigned package id. Ids start at 2; id 1 is reserved.
func (s *Store) InsertEtollPackage(ctx context.Context, p model.EtollPackage) (int64, error) {
	if s.db == nil {
		return 0, fmt.Errorf("store not initialized")
	}

	createDate := p.CreateDate
	if createDate.IsZero() {
		createDate = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO etoll_packages (create_date, update_date, message) VALUES (?, ?, ?);`,
		formatTime(createDate), formatTime(createDate), p.Message)
	if err != nil {
		return 0, fmt.Errorf("insert etoll package: %w", err)
	}
	return res.LastInsertId()
}

// UpdateEtollPackage finalizes a ledger row after reconciliation.
func (s *Store) UpdateEtollPackage(ctx context.Context, id int64, updateDate time.Time, message string) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE etoll_packages SET update_date = ?, message = ? WHERE id = ?;`,
		formatTime(updateDate), message, id); err != nil {
		return fmt.Errorf("update etoll package %d: %w", id, err)
	}
	return nil
}

// EtollPackageByID loads a single ledger row.
func (s *Store) EtollPackageByID(ctx context.Context, id int64) (model.EtollPackage, error) {
	var (
		p             model.EtollPackage
		createDateStr string
		updateDateStr string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, create_date, update_date, message FROM etoll_packages WHERE id = ?;`,
		id,
	).Scan(&p.ID, &createDateStr, &updateDateStr, &p.Message)
	if err != nil {
		return model.EtollPackage{}, fmt.Errorf("get etoll package %d: %w", id, err)
	}
	p.CreateDate = parseTime(createDateStr)
	p.UpdateDate = parseTime(updateDateStr)
	return p, nil
}

// RecentEtollPackages returns the newest ledger rows, excluding the
// reserved sentinel row.
func (s *Store) RecentEtollPackages(ctx context.Context, limit int) ([]model.EtollPackage, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, create_date, update_date, message
		 FROM etoll_packages WHERE id > 1 ORDER BY id DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("query etoll packages: %w", err)
	}
	defer rows.Close()

	var packages []model.EtollPackage
	for rows.Next() {
		var (
			p             model.EtollPackage
			createDateStr string
			updateDateStr string
		)
		if err := rows.Scan(&p.ID, &createDateStr, &updateDateStr, &p.Message); err != nil {
			return nil, fmt.Errorf("scan etoll package: %w", err)
		}
		p.CreateDate = parseTime(createDateStr)
		p.UpdateDate = parseTime(updateDateStr)
		packages = append(packages, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate etoll packages: %w", err)
	}
	return packages, nil
}

type sqlRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func collectEtollPositions(rows sqlRows) ([]model.EtollPosition, error) {
	var positions []model.EtollPosition
	for rows.Next() {
		var p model.EtollPosition
		if err := rows.Scan(&p.ID, &p.PositionID, &p.PackageID, &p.ErrorStatus, &p.Message); err != nil {
			return nil, fmt.Errorf("scan etoll position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate etoll positions: %w", err)
	}
	return positions, nil
}
