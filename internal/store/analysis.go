package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// Status is the lifecycle state of an analysis run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Done reports whether the run has stopped.
func (s Status) Done() bool {
	return s != StatusRunning
}

// Analysis is one processed clip.
type Analysis struct {
	ID             string    `json:"id"`
	Source         string    `json:"source"`
	Status         Status    `json:"status"`
	FPS            float64   `json:"fps"`
	Width          int       `json:"width"`
	Height         int       `json:"height"`
	MetersPerPixel float64   `json:"meters_per_pixel"`
	FrameCount     int       `json:"frame_count"`
	PeakSpeedKmh   *float64  `json:"peak_speed_kmh,omitempty"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// AnalysisRepository provides CRUD operations for analyses.
type AnalysisRepository struct {
	db *sql.DB
}

// Analyses returns the analysis repository for this store.
func (s *Store) Analyses() *AnalysisRepository {
	return &AnalysisRepository{db: s.db}
}

const analysisColumns = `id, source, status, fps, width, height, meters_per_pixel,
	frame_count, peak_speed_kmh, error, created_at, updated_at`

// Create inserts a new analysis. An empty ID is filled with a new UUID.
func (r *AnalysisRepository) Create(a *Analysis) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Status == "" {
		a.Status = StatusRunning
	}
	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now

	_, err := r.db.Exec(
		`INSERT INTO analyses (`+analysisColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Source, string(a.Status), a.FPS, a.Width, a.Height, a.MetersPerPixel,
		a.FrameCount, nullFloat(a.PeakSpeedKmh), a.Error, a.CreatedAt, a.UpdatedAt,
	)
	return err
}

// GetByID retrieves an analysis by its ID.
func (r *AnalysisRepository) GetByID(id string) (*Analysis, error) {
	row := r.db.QueryRow(`SELECT `+analysisColumns+` FROM analyses WHERE id = ?`, id)

	a, err := scanAnalysis(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

// List retrieves all analyses, newest first.
func (r *AnalysisRepository) List() ([]*Analysis, error) {
	rows, err := r.db.Query(`SELECT ` + analysisColumns + ` FROM analyses ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var analyses []*Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		analyses = append(analyses, a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return analyses, nil
}

// Update writes every mutable field of an existing analysis.
func (r *AnalysisRepository) Update(a *Analysis) error {
	a.UpdatedAt = time.Now()

	result, err := r.db.Exec(
		`UPDATE analyses SET source = ?, status = ?, fps = ?, width = ?, height = ?,
		 meters_per_pixel = ?, frame_count = ?, peak_speed_kmh = ?, error = ?, updated_at = ?
		 WHERE id = ?`,
		a.Source, string(a.Status), a.FPS, a.Width, a.Height, a.MetersPerPixel,
		a.FrameCount, nullFloat(a.PeakSpeedKmh), a.Error, a.UpdatedAt, a.ID,
	)
	if err != nil {
		return err
	}

	return requireAffected(result)
}

// Delete removes an analysis and its frame records.
func (r *AnalysisRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM analyses WHERE id = ?`, id)
	if err != nil {
		return err
	}

	return requireAffected(result)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(s scanner) (*Analysis, error) {
	a := &Analysis{}
	var status string
	var peak sql.NullFloat64

	err := s.Scan(&a.ID, &a.Source, &status, &a.FPS, &a.Width, &a.Height, &a.MetersPerPixel,
		&a.FrameCount, &peak, &a.Error, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}

	a.Status = Status(status)
	a.PeakSpeedKmh = floatPtr(peak)
	return a, nil
}

func requireAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
