package store

import (
	"database/sql"
	"time"

	"github.com/ayusman/shuttlespeed/internal/analysis"
	"github.com/ayusman/shuttlespeed/internal/detector"
)

// FrameRepository stores the per-frame records of analyses.
type FrameRepository struct {
	db *sql.DB
}

// Frames returns the frame record repository for this store.
func (s *Store) Frames() *FrameRepository {
	return &FrameRepository{db: s.db}
}

// Save replaces all records of an analysis in a single transaction.
// It also updates the frame count on the analysis.
func (r *FrameRepository) Save(analysisID string, records []analysis.FrameRecord) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.Exec(`UPDATE analyses SET frame_count = ?, updated_at = ? WHERE id = ?`,
		len(records), time.Now(), analysisID)
	if err != nil {
		return err
	}
	if err := requireAffected(result); err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM frame_records WHERE analysis_id = ?`, analysisID); err != nil {
		return err
	}

	stmt, err := tx.Prepare(
		`INSERT INTO frame_records (analysis_id, frame_index, timestamp,
		 box_x, box_y, box_w, box_h, speed_kmh, point_x, point_y)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		var bx, by, bw, bh, px, py sql.NullFloat64
		if rec.Box != nil {
			bx = sql.NullFloat64{Float64: rec.Box.X, Valid: true}
			by = sql.NullFloat64{Float64: rec.Box.Y, Valid: true}
			bw = sql.NullFloat64{Float64: rec.Box.W, Valid: true}
			bh = sql.NullFloat64{Float64: rec.Box.H, Valid: true}
		}
		if rec.Point != nil {
			px = sql.NullFloat64{Float64: rec.Point.X, Valid: true}
			py = sql.NullFloat64{Float64: rec.Point.Y, Valid: true}
		}

		if _, err := stmt.Exec(analysisID, rec.Index, rec.Timestamp,
			bx, by, bw, bh, nullFloat(rec.SpeedKmh), px, py); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetByAnalysisID retrieves the records of an analysis in frame order.
func (r *FrameRepository) GetByAnalysisID(analysisID string) ([]analysis.FrameRecord, error) {
	rows, err := r.db.Query(
		`SELECT frame_index, timestamp, box_x, box_y, box_w, box_h, speed_kmh, point_x, point_y
		 FROM frame_records
		 WHERE analysis_id = ?
		 ORDER BY frame_index`,
		analysisID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []analysis.FrameRecord
	for rows.Next() {
		var rec analysis.FrameRecord
		var bx, by, bw, bh, speed, px, py sql.NullFloat64

		if err := rows.Scan(&rec.Index, &rec.Timestamp, &bx, &by, &bw, &bh, &speed, &px, &py); err != nil {
			return nil, err
		}

		if bx.Valid && by.Valid && bw.Valid && bh.Valid {
			rec.Box = &detector.Rect{X: bx.Float64, Y: by.Float64, W: bw.Float64, H: bh.Float64}
		}
		if px.Valid && py.Valid {
			rec.Point = &detector.Point{X: px.Float64, Y: py.Float64}
		}
		rec.SpeedKmh = floatPtr(speed)

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}
